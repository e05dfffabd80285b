package service

import (
	"context"
	"errors"
	"fmt"
	"intranet-assistant-go/internal/model"
	"intranet-assistant-go/internal/pipeline"
	"intranet-assistant-go/pkg/intranet"
)

// SitemapSource 提供会话校验与 sitemap 读取。会话失效时返回的错误包装 pipeline.ErrAuthenticationExpired。
type SitemapSource interface {
	ValidateSession(ctx context.Context) error
	Sitemap(ctx context.Context) ([]intranet.SitemapEntry, error)
}

// IntranetSource 把 intranet.Client 适配为 pipeline.DocumentSource 与 SitemapSource，
// 并把会话失效统一转换为 pipeline.ErrAuthenticationExpired。
type IntranetSource struct {
	client *intranet.Client
}

// NewIntranetSource 创建一个新的 IntranetSource 实例。
func NewIntranetSource(client *intranet.Client) *IntranetSource {
	return &IntranetSource{client: client}
}

// Fetch 实现 pipeline.DocumentSource。
func (s *IntranetSource) Fetch(ctx context.Context, url string) ([]model.Document, error) {
	docs, err := s.client.Fetch(ctx, url)
	return docs, translateSessionError(err)
}

// ValidateSession 校验会话 Cookie 是否仍然有效。
func (s *IntranetSource) ValidateSession(ctx context.Context) error {
	return translateSessionError(s.client.ValidateSession(ctx))
}

// Sitemap 读取 sitemap。
func (s *IntranetSource) Sitemap(ctx context.Context) ([]intranet.SitemapEntry, error) {
	entries, err := s.client.Sitemap(ctx)
	return entries, translateSessionError(err)
}

func translateSessionError(err error) error {
	if err != nil && errors.Is(err, intranet.ErrSessionExpired) {
		return fmt.Errorf("%w: %w", pipeline.ErrAuthenticationExpired, err)
	}
	return err
}
