// Package cms 是聊天记录 CMS (Directus) 的 REST 客户端。
package cms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"intranet-assistant-go/internal/config"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrChatNotFound 表示 CMS 中不存在指定的 chat_id。
var ErrChatNotFound = errors.New("chat not found")

// Client 读写 Directus 中的聊天与消息集合。
type Client struct {
	baseURL    string
	token      string
	chats      string
	messages   string
	httpClient *http.Client
}

// NewClient 创建一个新的 CMS 客户端实例。
func NewClient(cfg config.CMSConfig) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.AccessToken,
		chats:      cfg.ChatCollection,
		messages:   cfg.MessageCollection,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Message 是保存到消息集合的一问一答。
type Message struct {
	ChatID   string `json:"chat_id"`
	Prompt   string `json:"prompt"`
	Response string `json:"response"`
}

type chatItem struct {
	// ChatID 在 Directus 中可以是整数或字符串主键
	ChatID  interface{} `json:"chat_id"`
	CostUSD *float64    `json:"cost_usd"`
}

// CreateChat 创建一个新的聊天并返回 CMS 分配的 chat_id。
func (c *Client) CreateChat(ctx context.Context) (string, error) {
	var out struct {
		Data chatItem `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, c.itemsURL(c.chats, "", nil), struct{}{}, &out); err != nil {
		return "", fmt.Errorf("创建聊天失败: %w", err)
	}
	if out.Data.ChatID == nil || fmt.Sprint(out.Data.ChatID) == "" {
		return "", errors.New("创建聊天失败: 响应中没有 chat_id")
	}
	return fmt.Sprint(out.Data.ChatID), nil
}

// SaveMessage 保存一条消息。
func (c *Client) SaveMessage(ctx context.Context, msg Message) error {
	if err := c.do(ctx, http.MethodPost, c.itemsURL(c.messages, "", nil), msg, nil); err != nil {
		return fmt.Errorf("保存消息失败: %w", err)
	}
	return nil
}

// GetChatCost 返回聊天累计的成本（美元），未设置时为 0。
func (c *Client) GetChatCost(ctx context.Context, chatID string) (float64, error) {
	q := url.Values{}
	q.Set("filter[chat_id][_eq]", chatID)
	q.Set("fields", "cost_usd")
	var out struct {
		Data []chatItem `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, c.itemsURL(c.chats, "", q), nil, &out); err != nil {
		return 0, fmt.Errorf("读取聊天成本失败: %w", err)
	}
	if len(out.Data) == 0 {
		return 0, ErrChatNotFound
	}
	if out.Data[0].CostUSD == nil {
		return 0, nil
	}
	return *out.Data[0].CostUSD, nil
}

// UpdateChatCost 覆盖聊天的累计成本。
func (c *Client) UpdateChatCost(ctx context.Context, chatID string, costUSD float64) error {
	body := map[string]float64{"cost_usd": costUSD}
	if err := c.do(ctx, http.MethodPatch, c.itemsURL(c.chats, chatID, nil), body, nil); err != nil {
		return fmt.Errorf("更新聊天成本失败: %w", err)
	}
	return nil
}

func (c *Client) itemsURL(collection, id string, q url.Values) string {
	u := c.baseURL + "/items/" + url.PathEscape(collection)
	if id != "" {
		u += "/" + url.PathEscape(id)
	}
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func (c *Client) do(ctx context.Context, method, endpoint string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("directus 返回 %s: %s", resp.Status, string(b))
	}
	if out == nil {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	return dec.Decode(out)
}
