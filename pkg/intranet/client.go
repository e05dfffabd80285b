// Package intranet 抓取内网页面及其链接的文件，并检测会话 Cookie 是否已失效。
package intranet

import (
	"context"
	"errors"
	"fmt"
	"intranet-assistant-go/internal/config"
	"intranet-assistant-go/pkg/log"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ErrSessionExpired 表示请求被重定向到身份提供方 (IdP) 的登录页，会话 Cookie 已失效。
var ErrSessionExpired = errors.New("intranet session expired")

// maxBodyBytes 限制单个页面或文件的下载大小。
const maxBodyBytes = 64 << 20

// Extractor 从 PDF/DOCX 等文件中提取纯文本。
type Extractor interface {
	ExtractText(ctx context.Context, r io.Reader, fileName, contentType string) (string, error)
}

// Archiver 保存抓取到的文件原件。
type Archiver interface {
	Put(ctx context.Context, objectName string, data []byte, contentType, sourceURL string) error
}

// Client 是带会话 Cookie 的内网客户端。
type Client struct {
	cfg        config.IntranetConfig
	base       *url.URL
	fileLink   *regexp.Regexp
	httpClient *http.Client
	extractor  Extractor
	archive    Archiver
	limiter    *rate.Limiter
}

// NewClient 创建内网客户端。archive 可以为 nil，此时不保存文件原件。
func NewClient(cfg config.IntranetConfig, extractor Extractor, archive Archiver) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("无效的 intranet.base_url '%s'", cfg.BaseURL)
	}
	pattern := cfg.FileLinkPattern
	if pattern == "" {
		pattern = `(^/alla-dokument/|\.pdf$)`
	}
	fileLink, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("无效的 intranet.file_link_pattern: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Client{
		cfg:        cfg,
		base:       base,
		fileLink:   fileLink,
		httpClient: &http.Client{Timeout: timeout},
		extractor:  extractor,
		archive:    archive,
		limiter:    rate.NewLimiter(limit, 1),
	}, nil
}

// response 是已读入内存的 HTTP 响应。
type response struct {
	finalURL    *url.URL
	status      int
	contentType string
	body        []byte
}

// get 请求 rawURL。只有发往内网主机的请求才附带会话 Cookie。
// 所有请求共享 intranet.requests_per_second 的速率限制。
func (c *Client) get(ctx context.Context, rawURL string) (*response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if req.URL.Host == c.base.Host && c.cfg.CookieName != "" {
		req.AddCookie(&http.Cookie{Name: c.cfg.CookieName, Value: c.cfg.CookieValue})
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("读取 %s 响应失败: %w", rawURL, err)
	}
	r := &response{
		finalURL:    resp.Request.URL,
		status:      resp.StatusCode,
		contentType: strings.ToLower(resp.Header.Get("Content-Type")),
		body:        body,
	}
	if c.redirectedToIdP(r) {
		return nil, fmt.Errorf("%w: 请求 %s 被重定向到登录页", ErrSessionExpired, rawURL)
	}
	return r, nil
}

// redirectedToIdP 检测 HTTP 重定向到 IdP，或页面中内嵌的 SAML 登录表单。
func (c *Client) redirectedToIdP(r *response) bool {
	idp := c.cfg.IdPHost
	if idp == "" {
		return false
	}
	if strings.Contains(r.finalURL.Host, idp) {
		return true
	}
	body := string(r.body)
	return strings.Contains(body, idp) && strings.Contains(body, "SAMLRequest")
}

// ValidateSession 请求校验地址（默认为 sitemap），确认 Cookie 仍然有效。
func (c *Client) ValidateSession(ctx context.Context) error {
	target := c.cfg.ValidateURL
	if target == "" {
		target = c.cfg.SitemapURL
	}
	log.Info("[Intranet] 开始校验会话 Cookie")
	r, err := c.get(ctx, target)
	if err != nil {
		if errors.Is(err, ErrSessionExpired) {
			log.Errorf("[Intranet] 会话 Cookie 已失效: %v", err)
		}
		return err
	}
	if r.status != http.StatusOK {
		return fmt.Errorf("校验会话返回状态码 %d", r.status)
	}
	if target == c.cfg.SitemapURL && !looksLikeXML(r.body) {
		// 登录页或错误页不会是 XML
		return fmt.Errorf("%w: sitemap 响应不是 XML", ErrSessionExpired)
	}
	log.Info("[Intranet] 会话 Cookie 有效")
	return nil
}

func looksLikeXML(body []byte) bool {
	head := string(body)
	if len(head) > 100 {
		head = head[:100]
	}
	return strings.Contains(head, "<?xml") || strings.Contains(head, "<urlset")
}

// resolve 把页面中的链接解析为绝对 URL。
func (c *Client) resolve(pageURL *url.URL, href string) (*url.URL, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return nil, err
	}
	return pageURL.ResolveReference(ref), nil
}

// isFileLink 判断链接是否指向需要索引的文件。
func (c *Client) isFileLink(href string, abs *url.URL) bool {
	if c.fileLink.MatchString(strings.TrimSpace(href)) {
		return true
	}
	return abs.Host == c.base.Host && c.fileLink.MatchString(abs.Path)
}

// fileURL 返回文件的下载地址：文档库中的链接需要追加 "/file"。
func (c *Client) fileURL(abs *url.URL) string {
	prefix := c.cfg.FileLinkPrefix
	if prefix != "" && abs.Host == c.base.Host && strings.HasPrefix(abs.Path, prefix) && !strings.HasSuffix(abs.Path, "/file") {
		u := *abs
		u.Path = strings.TrimRight(u.Path, "/") + "/file"
		u.RawPath = ""
		return u.String()
	}
	return abs.String()
}
