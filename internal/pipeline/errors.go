package pipeline

import "errors"

var (
	// ErrInvalidArgument 表示调用方传入了非法参数（如分块窗口配置错误），不应重试。
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUpstreamUnavailable 表示向量库或 Embedding 服务调用失败，当前文档的更新被放弃，下次运行时整体重试。
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrAuthenticationExpired 表示内网身份提供方拒绝了会话 Cookie，批处理应立即停止。
	ErrAuthenticationExpired = errors.New("authentication expired")
)
