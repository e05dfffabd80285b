package intranet

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"intranet-assistant-go/internal/model"
	"intranet-assistant-go/pkg/log"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// 页面中与正文无关的元素。
var (
	unwantedTags = map[atom.Atom]bool{
		atom.Header: true, atom.Footer: true, atom.Nav: true, atom.Aside: true,
		atom.Script: true, atom.Style: true, atom.Noscript: true, atom.Iframe: true,
	}
	unwantedClasses = []string{"tm-header", "tm-header-mobile", "tm-footer", "tm-sidebar", "uk-nav", "cookie", "search", "sidebarmenu"}
	unwantedIDs     = map[string]bool{"tm-header": true, "tm-footer": true, "tm-sidebar": true, "cookie": true, "assistant": true}
)

// 文件中用作填空线或目录引导线的连续标点。
var fillerRun = regexp.MustCompile(`[\.\-_]{3,}`)

// errFileGone 表示链接的文件已不存在 (404/410)。
var errFileGone = errors.New("linked file is gone")

// Fetch 抓取页面及其链接的文件。第一个文档总是页面本身。
// 只有已不存在或类型不支持的文件会被跳过；其他抓取或提取失败都使整个页面失败，
// 否则该文件在库中的记录会被当作孤儿删除。
func (c *Client) Fetch(ctx context.Context, pageURL string) ([]model.Document, error) {
	r, err := c.get(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	if r.status != http.StatusOK {
		return nil, fmt.Errorf("请求 %s 返回状态码 %d", pageURL, r.status)
	}
	root, err := html.Parse(bytes.NewReader(r.body))
	if err != nil {
		return nil, fmt.Errorf("解析页面 %s 失败: %w", pageURL, err)
	}

	page := parsePage(root)
	docs := []model.Document{{URL: pageURL, Title: page.title, RawText: page.text}}
	log.Infof("[Intranet] 页面抓取完成, URL: %s, 标题: %s, 链接文件: %d", pageURL, page.title, len(page.links))

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	for _, l := range page.links {
		abs, err := c.resolve(base, l.href)
		if err != nil || (abs.Scheme != "http" && abs.Scheme != "https") {
			continue
		}
		abs.Fragment = ""
		if !c.isFileLink(l.href, abs) {
			continue
		}
		fileURL := c.fileURL(abs)
		if seen[fileURL] || fileURL == pageURL {
			continue
		}
		seen[fileURL] = true

		text, err := c.fetchFile(ctx, fileURL, pageURL)
		if err != nil {
			if errors.Is(err, errFileGone) {
				log.Warnf("[Intranet] 链接的文件已不存在, 跳过, URL: %s, Error: %v", fileURL, err)
				continue
			}
			if errors.Is(err, ErrSessionExpired) || ctx.Err() != nil {
				return nil, err
			}
			return nil, fmt.Errorf("抓取文件 %s 失败: %w", fileURL, err)
		}
		if text == "" {
			continue
		}
		title := l.text
		if title == "" {
			title = "No title"
		}
		docs = append(docs, model.Document{URL: fileURL, Title: title, RawText: text, SourceURL: pageURL})
	}
	return docs, nil
}

// fetchFile 下载文件并用 Tika 提取文本。不支持的类型返回空字符串。
func (c *Client) fetchFile(ctx context.Context, fileURL, sourceURL string) (string, error) {
	r, err := c.get(ctx, fileURL)
	if err != nil {
		return "", err
	}
	switch r.status {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusGone:
		return "", fmt.Errorf("%w: 状态码 %d", errFileGone, r.status)
	default:
		return "", fmt.Errorf("状态码 %d", r.status)
	}
	if !extractable(r.contentType) {
		log.Infof("[Intranet] 跳过不支持的文件类型 '%s', URL: %s", r.contentType, fileURL)
		return "", nil
	}

	name := fileName(fileURL, r.contentType)
	if c.archive != nil {
		sum := md5.Sum([]byte(fileURL))
		objectName := "files/" + hex.EncodeToString(sum[:]) + "/" + name
		if err := c.archive.Put(ctx, objectName, r.body, r.contentType, sourceURL); err != nil {
			log.Warnf("[Intranet] 保存文件原件失败, URL: %s, Error: %v", fileURL, err)
		}
	}

	contentType := r.contentType
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	text, err := c.extractor.ExtractText(ctx, bytes.NewReader(r.body), name, contentType)
	if err != nil {
		return "", fmt.Errorf("提取文本失败: %w", err)
	}
	return cleanFileText(text), nil
}

func extractable(contentType string) bool {
	return strings.Contains(contentType, "pdf") ||
		strings.Contains(contentType, "application/vnd.openxmlformats-officedocument.wordprocessingml.document") ||
		strings.Contains(contentType, "application/msword") ||
		strings.Contains(contentType, "application/octet-stream")
}

func fileName(fileURL, contentType string) string {
	u, err := url.Parse(fileURL)
	name := ""
	if err == nil {
		p := strings.TrimSuffix(u.Path, "/file")
		name = path.Base(p)
	}
	if name == "" || name == "." || name == "/" {
		name = "file"
	}
	if path.Ext(name) == "" && strings.Contains(contentType, "pdf") {
		name += ".pdf"
	}
	return name
}

// cleanFileText 去除填空线并合并空白。
func cleanFileText(text string) string {
	text = fillerRun.ReplaceAllString(text, "")
	return strings.Join(strings.Fields(text), " ")
}

type link struct {
	href string
	text string
}

type parsedPage struct {
	title string
	text  string
	links []link
}

// parsePage 提取标题、正文与全部链接。正文取 div#tm-main，其次 div.tm-page，最后 body。
func parsePage(root *html.Node) parsedPage {
	var p parsedPage
	p.title = "No title found"
	if t := findFirst(root, func(n *html.Node) bool { return n.DataAtom == atom.Title }); t != nil {
		if s := strings.TrimSpace(textOf(t)); s != "" {
			p.title = s
		}
	}

	// 链接在删除导航等元素之前收集
	walk(root, func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			if href, ok := attr(n, "href"); ok && href != "" {
				p.links = append(p.links, link{href: href, text: strings.Join(strings.Fields(textOf(n)), " ")})
			}
		}
	})

	content := findFirst(root, func(n *html.Node) bool {
		id, _ := attr(n, "id")
		return n.DataAtom == atom.Div && id == "tm-main"
	})
	if content == nil {
		content = findFirst(root, func(n *html.Node) bool { return n.DataAtom == atom.Div && hasClass(n, "tm-page") })
	}
	if content == nil {
		content = findFirst(root, func(n *html.Node) bool { return n.DataAtom == atom.Body })
	}
	if content == nil {
		return p
	}

	removeMatching(content, unwanted)
	var parts []string
	walk(content, func(n *html.Node) {
		if n.Type == html.TextNode {
			if s := strings.TrimSpace(n.Data); s != "" {
				parts = append(parts, s)
			}
		}
	})
	p.text = strings.Join(parts, " ")
	return p
}

func unwanted(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if unwantedTags[n.DataAtom] {
		return true
	}
	id, _ := attr(n, "id")
	if unwantedIDs[id] {
		return true
	}
	if n.DataAtom == atom.Div && strings.Contains(strings.ToLower(id), "cookie") {
		return true
	}
	class, _ := attr(n, "class")
	for _, c := range unwantedClasses {
		if strings.Contains(class, c) {
			return true
		}
	}
	return false
}

func removeMatching(n *html.Node, match func(*html.Node) bool) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if match(c) {
			n.RemoveChild(c)
		} else {
			removeMatching(c, match)
		}
		c = next
	}
}

func walk(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, match); found != nil {
			return found
		}
	}
	return nil
}

func textOf(n *html.Node) string {
	var b strings.Builder
	walk(n, func(c *html.Node) {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	})
	return b.String()
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func hasClass(n *html.Node, class string) bool {
	v, _ := attr(n, "class")
	for _, c := range strings.Fields(v) {
		if c == class {
			return true
		}
	}
	return false
}
