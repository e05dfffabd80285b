// Package model 包含了应用的数据模型定义。
package model

// Document 是一次抓取得到的内容单元：页面本身，或页面上链接到的文件。
// 它不会被直接持久化，只持久化由它切分出的分块。
type Document struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	RawText string `json:"rawText"`
	// SourceURL 仅在文档是从其他页面的链接中发现的文件时设置，指向该页面。
	SourceURL string `json:"sourceUrl,omitempty"`
}

// Chunk 是 Document 文本中连续的一段，作为向量化与检索的基本单位。
type Chunk struct {
	Text        string `json:"text"`
	Ordinal     int    `json:"ordinal"`
	Total       int    `json:"total"`
	ParentURL   string `json:"parentUrl"`
	SourceURL   string `json:"sourceUrl,omitempty"`
	Title       string `json:"title"`
	Fingerprint string `json:"fingerprint"`
}

// Info 返回 "Chunk i of n" 形式的位置描述，写入记录的 metadata.chunk_info。
func (c Chunk) Info() string {
	return chunkInfo(c.Ordinal, c.Total)
}
