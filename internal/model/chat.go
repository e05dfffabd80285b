package model

// ChatMessage 是对话历史中的一条消息。
type ChatMessage struct {
	Role    string `json:"role"` // "user" 或 "assistant"
	Content string `json:"content"`
}

// ChatRequest 是 /generate 接口的请求体。
type ChatRequest struct {
	UserInput   string        `json:"user_input"`
	UserHistory []ChatMessage `json:"user_history"`
	ChatID      string        `json:"chat_id"`
}

// SearchHit 是一次检索命中的分块。
type SearchHit struct {
	ID      string  `json:"id"`
	Content string  `json:"chunk"`
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Score   float64 `json:"score"`
	// Keyword 为 true 表示该命中来自关键词匹配而不是向量相似度。
	Keyword bool `json:"keyword"`
}
