// Package healthcheck 向 healthchecks.io 风格的监控地址发送心跳。
package healthcheck

import (
	"context"
	"fmt"
	"intranet-assistant-go/pkg/log"
	"net/http"
	"strings"
	"time"
)

// Pinger 上报定时任务的成功或失败。URL 为空时所有调用都是空操作。
type Pinger struct {
	url    string
	client *http.Client
}

// NewPinger 创建一个新的 Pinger 实例。
func NewPinger(url string) *Pinger {
	return &Pinger{
		url:    strings.TrimRight(url, "/"),
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Success 上报一次成功运行。
func (p *Pinger) Success(ctx context.Context) error {
	if p.url == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return err
	}
	return p.do(req)
}

// Fail 上报一次失败运行，message 作为请求体供监控端展示。
func (p *Pinger) Fail(ctx context.Context, message string) error {
	if p.url == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url+"/fail", strings.NewReader(message))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	return p.do(req)
}

func (p *Pinger) do(req *http.Request) error {
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("healthcheck ping failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("healthcheck ping returned status %d", resp.StatusCode)
	}
	log.Infof("[Healthcheck] 已上报 %s", req.URL.Path)
	return nil
}
