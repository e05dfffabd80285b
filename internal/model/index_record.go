package model

import (
	"fmt"

	"github.com/google/uuid"
)

// IndexRecord 代表向量库中的一条记录。ID 即分块指纹，内容变化时只能删除后重新插入。
type IndexRecord struct {
	ID      string        `json:"id"`
	Vector  []float32     `json:"vector,omitempty"`
	Payload RecordPayload `json:"payload"`
}

// RecordPayload 是记录的负载部分，与 Elasticsearch 中 _source 的 content/metadata 对应。
type RecordPayload struct {
	Content  string         `json:"content"`
	Metadata RecordMetadata `json:"metadata"`
}

// RecordMetadata 存储记录的来源信息与最后写入时间。
type RecordMetadata struct {
	URL        string `json:"url"`
	SourceURL  string `json:"source_url,omitempty"`
	Title      string `json:"title"`
	ChunkInfo  string `json:"chunk_info,omitempty"`
	UpdateDate string `json:"update_date"`
}

// OwnerURL 返回记录的所属 URL。
func (r IndexRecord) OwnerURL() string {
	return r.Payload.Metadata.URL
}

// EsDocument 是 IndexRecord 在 Elasticsearch 中的 _source 结构。
type EsDocument struct {
	Fingerprint string         `json:"fingerprint"`
	Content     string         `json:"content"`
	Metadata    RecordMetadata `json:"metadata"`
	Vector      []float32      `json:"vector,omitempty"`
}

// ToEsDocument 将 IndexRecord 转换为 Elasticsearch 文档。
func (r IndexRecord) ToEsDocument() EsDocument {
	return EsDocument{
		Fingerprint: r.ID,
		Content:     r.Payload.Content,
		Metadata:    r.Payload.Metadata,
		Vector:      r.Vector,
	}
}

// ToRecord 将 Elasticsearch 文档还原为 IndexRecord。
func (d EsDocument) ToRecord() IndexRecord {
	return IndexRecord{
		ID:     d.Fingerprint,
		Vector: d.Vector,
		Payload: RecordPayload{
			Content:  d.Content,
			Metadata: d.Metadata,
		},
	}
}

func chunkInfo(ordinal, total int) string {
	return fmt.Sprintf("Chunk %d of %d", ordinal+1, total)
}

// RecordKey 返回记录在向量库中的存储键：以指纹为命名空间、所属 URL 为名称的 UUID。
// 相同文本出现在两个 URL 下时得到两个不同的键，两份来源都会被保留。
func RecordKey(fingerprint, ownerURL string) string {
	ns, err := uuid.Parse(fingerprint)
	if err != nil {
		ns = uuid.NewMD5(uuid.Nil, []byte(fingerprint))
	}
	return uuid.NewMD5(ns, []byte(ownerURL)).String()
}

// Key 返回记录的存储键。
func (r IndexRecord) Key() string {
	return RecordKey(r.ID, r.OwnerURL())
}
