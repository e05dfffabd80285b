// Package cost 用 tiktoken 统计 token 数量，并按模型价格计算调用成本（美元）。
package cost

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// 未知模型使用的编码。
const fallbackEncoding = "cl100k_base"

func init() {
	// 使用内置的 BPE 文件，避免运行时下载
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// Price 是每 1000 个 token 的美元价格。
type Price struct {
	Input  float64
	Output float64
}

// 已知模型的价格。未知模型按 0 计费并在 Known 中返回 false。
var prices = map[string]Price{
	"text-embedding-3-large": {Input: 0.00013},
	"text-embedding-3-small": {Input: 0.00002},
	"gpt-4o":                 {Input: 0.0025, Output: 0.01},
	"gpt-4o-mini":            {Input: 0.00015, Output: 0.0006},
}

// Model 为一组 Embedding 与聊天模型计算成本。
type Model struct {
	embedding    Price
	chat         Price
	embeddingEnc *tiktoken.Tiktoken
	chatEnc      *tiktoken.Tiktoken
}

// New 根据模型名称创建成本模型并加载两个模型的分词编码。
func New(embeddingModel, chatModel string) (*Model, error) {
	embeddingEnc, err := encodingFor(embeddingModel)
	if err != nil {
		return nil, err
	}
	chatEnc, err := encodingFor(chatModel)
	if err != nil {
		return nil, err
	}
	return &Model{
		embedding:    lookup(embeddingModel),
		chat:         lookup(chatModel),
		embeddingEnc: embeddingEnc,
		chatEnc:      chatEnc,
	}, nil
}

func encodingFor(model string) (*tiktoken.Tiktoken, error) {
	if enc, err := tiktoken.EncodingForModel(model); err == nil {
		return enc, nil
	}
	enc, err := tiktoken.GetEncoding(fallbackEncoding)
	if err != nil {
		return nil, fmt.Errorf("加载分词编码 %s 失败: %w", fallbackEncoding, err)
	}
	return enc, nil
}

func lookup(model string) Price {
	if p, ok := prices[model]; ok {
		return p
	}
	// 兼容带日期后缀的模型名，如 gpt-4o-2024-08-06
	best := ""
	for name := range prices {
		if strings.HasPrefix(model, name+"-") && len(name) > len(best) {
			best = name
		}
	}
	return prices[best]
}

// Known 报告模型是否有已知价格。
func Known(model string) bool {
	return lookup(model) != Price{}
}

// TokenCount 返回 Embedding 模型编码下文本的 token 总数。
func (m *Model) TokenCount(texts ...string) int {
	return count(m.embeddingEnc, texts)
}

// ChatTokenCount 返回聊天模型编码下文本的 token 总数。
func (m *Model) ChatTokenCount(texts ...string) int {
	return count(m.chatEnc, texts)
}

func count(enc *tiktoken.Tiktoken, texts []string) int {
	total := 0
	for _, t := range texts {
		if t == "" {
			continue
		}
		total += len(enc.Encode(t, nil, nil))
	}
	return total
}

// EmbeddingCost 返回 tokens 个输入 token 的向量化成本。
func (m *Model) EmbeddingCost(tokens int) float64 {
	return float64(tokens) / 1000 * m.embedding.Input
}

// ChatCost 返回一次对话的输入与输出成本之和。
func (m *Model) ChatCost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1000*m.chat.Input + float64(outputTokens)/1000*m.chat.Output
}
