package intranet

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"intranet-assistant-go/pkg/log"
	"net/http"
	"strings"
	"time"
)

// LastModLayout 是 sitemap 中 lastmod 的格式。
const LastModLayout = "2006-01-02T15:04:05Z"

// SitemapEntry 是 sitemap 中的一个 URL。LastMod 为 nil 表示未提供或无法解析。
type SitemapEntry struct {
	Loc     string
	LastMod *time.Time
}

type urlset struct {
	URLs []struct {
		Loc     string `xml:"loc"`
		LastMod string `xml:"lastmod"`
	} `xml:"url"`
}

// Sitemap 读取并解析内网 sitemap。
func (c *Client) Sitemap(ctx context.Context) ([]SitemapEntry, error) {
	r, err := c.get(ctx, c.cfg.SitemapURL)
	if err != nil {
		return nil, err
	}
	if r.status != http.StatusOK {
		return nil, fmt.Errorf("读取 sitemap 返回状态码 %d", r.status)
	}
	return ParseSitemap(r.body)
}

// ParseSitemap 解析 sitemap XML。重复的 loc 只保留第一次出现。
func ParseSitemap(body []byte) ([]SitemapEntry, error) {
	var set urlset
	if err := xml.NewDecoder(bytes.NewReader(body)).Decode(&set); err != nil {
		return nil, fmt.Errorf("解析 sitemap 失败: %w", err)
	}
	seen := make(map[string]bool, len(set.URLs))
	entries := make([]SitemapEntry, 0, len(set.URLs))
	for _, u := range set.URLs {
		loc := strings.TrimSpace(u.Loc)
		if loc == "" || seen[loc] {
			continue
		}
		seen[loc] = true
		entry := SitemapEntry{Loc: loc}
		if lm := strings.TrimSpace(u.LastMod); lm != "" {
			t, err := time.Parse(LastModLayout, lm)
			if err != nil {
				log.Warnf("[Intranet] lastmod 格式错误 '%s', URL: %s", lm, loc)
			} else {
				entry.LastMod = &t
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
