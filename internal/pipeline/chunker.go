// Package pipeline 定义了内容增量同步的核心流程：分块、指纹、差异计划与写入。
package pipeline

import (
	"fmt"
	"intranet-assistant-go/internal/model"
)

// SplitText 将文本按固定窗口与重叠切分。窗口以字符 (rune) 计。
// 下一块的起点为上一块终点减去 overlap，当某一块的终点到达文本末尾时立即停止。
func SplitText(text string, windowSize, overlap int) ([]string, error) {
	if windowSize <= 0 {
		return nil, fmt.Errorf("%w: windowSize 必须为正数, 实际为 %d", ErrInvalidArgument, windowSize)
	}
	if overlap < 0 || overlap >= windowSize {
		return nil, fmt.Errorf("%w: overlap 必须位于 [0, %d) 区间, 实际为 %d", ErrInvalidArgument, windowSize, overlap)
	}
	if text == "" {
		return nil, fmt.Errorf("%w: 文本为空", ErrInvalidArgument)
	}

	runes := []rune(text)
	var chunks []string
	start := 0
	for {
		end := start + windowSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
		start = end - overlap
	}
	return chunks, nil
}

// ChunkDocument 切分文档并为每个分块计算指纹。
func ChunkDocument(doc model.Document, windowSize, overlap int) ([]model.Chunk, error) {
	texts, err := SplitText(doc.RawText, windowSize, overlap)
	if err != nil {
		return nil, fmt.Errorf("切分文档 %s 失败: %w", doc.URL, err)
	}
	chunks := make([]model.Chunk, 0, len(texts))
	for i, text := range texts {
		chunks = append(chunks, model.Chunk{
			Text:        text,
			Ordinal:     i,
			Total:       len(texts),
			ParentURL:   doc.URL,
			SourceURL:   doc.SourceURL,
			Title:       doc.Title,
			Fingerprint: Fingerprint(text),
		})
	}
	return chunks, nil
}
