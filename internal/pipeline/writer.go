package pipeline

import (
	"context"
	"errors"
	"fmt"
	"intranet-assistant-go/internal/model"
	"intranet-assistant-go/pkg/log"
	"time"
)

// RecordStore 是向量库中按 URL 读写记录的最小接口。
type RecordStore interface {
	// FindByOwner 返回所属 URL 为 primaryURL、source_url 为 primaryURL，
	// 或所属 URL 在 fileURLs 中的全部记录。
	FindByOwner(ctx context.Context, primaryURL string, fileURLs []string) ([]model.IndexRecord, error)
	// Replace 在一次批量请求中删除 stale 并写入 records。
	Replace(ctx context.Context, stale []model.IndexRecord, records []model.IndexRecord) error
}

// Embedder 将一批文本转换为向量，并返回服务端统计的 token 数（未知时为 0）。
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, int, error)
}

// CostModel 是 token 计数与计费的外部协作者。
type CostModel interface {
	TokenCount(texts ...string) int
	EmbeddingCost(tokens int) float64
}

// WriterConfig 配置 IndexWriter 的批大小、批间隔与时间戳时区。
type WriterConfig struct {
	BatchSize  int
	BatchDelay time.Duration
	Location   *time.Location
}

// WriteResult 汇总一次写入的结果。
type WriteResult struct {
	Inserted int
	Retained int
	Deleted  int
	Tokens   int
	CostUSD  float64
}

// IndexWriter 执行同步计划：向量化新分块，并在一次批量请求中删除过期记录、写入新记录。
type IndexWriter struct {
	store     RecordStore
	embedder  Embedder
	costModel CostModel
	cfg       WriterConfig
	now       func() time.Time
}

// NewIndexWriter 创建一个新的 IndexWriter 实例。
func NewIndexWriter(store RecordStore, embedder Embedder, costModel CostModel, cfg WriterConfig) *IndexWriter {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &IndexWriter{
		store:     store,
		embedder:  embedder,
		costModel: costModel,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Apply 执行计划并返回累计的向量化成本。
// 任一批次向量化失败都会放弃整个文档的更新，此时向量库没有任何改动。
func (w *IndexWriter) Apply(ctx context.Context, plan SyncPlan) (WriteResult, error) {
	var result WriteResult
	if plan.NoUpdate() {
		return result, nil
	}

	// 1. 分批向量化
	log.Infof("[IndexWriter] 开始向量化, URL: %s, 新分块: %d, 批大小: %d", plan.PrimaryURL, len(plan.ToInsert), w.cfg.BatchSize)
	vectors, tokens, err := w.embedAll(ctx, plan.ToInsert)
	if err != nil {
		return result, err
	}
	result.Tokens = tokens
	result.CostUSD = w.costModel.EmbeddingCost(tokens)

	// 2. 组装记录：新分块与被保留的分块使用同一个写入时间
	updateDate := model.LocalTime(w.now().In(w.cfg.Location).Truncate(time.Second)).String()
	records := make([]model.IndexRecord, 0, len(plan.ToInsert)+len(plan.ToRetain))
	for i, c := range plan.ToInsert {
		records = append(records, buildRecord(c, vectors[i], updateDate))
	}
	for _, rc := range plan.ToRetain {
		records = append(records, buildRecord(rc.Chunk, rc.Vector, updateDate))
	}

	// 3. 删除与写入合并为一次批量请求
	log.Infof("[IndexWriter] 写入向量库, URL: %s, 删除: %d, 写入: %d (其中保留 %d)", plan.PrimaryURL, len(plan.Stale), len(records), len(plan.ToRetain))
	if err := w.store.Replace(ctx, plan.Stale, records); err != nil {
		return result, fmt.Errorf("%w: 写入向量库失败: %w", ErrUpstreamUnavailable, err)
	}

	result.Inserted = len(plan.ToInsert)
	result.Retained = len(plan.ToRetain)
	result.Deleted = len(plan.Stale)
	return result, nil
}

// embedAll 按批调用 Embedding 服务。上一批返回后等待 BatchDelay 再发送下一批，最后一批之后不等待。
func (w *IndexWriter) embedAll(ctx context.Context, chunks []model.Chunk) ([][]float32, int, error) {
	vectors := make([][]float32, 0, len(chunks))
	totalTokens := 0
	for start := 0; start < len(chunks); start += w.cfg.BatchSize {
		end := start + w.cfg.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		if start > 0 {
			if err := w.pause(ctx); err != nil {
				return nil, 0, fmt.Errorf("等待向量化批次被中断: %w", err)
			}
		} else if err := ctx.Err(); err != nil {
			return nil, 0, err
		}

		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Text)
		}
		batchVectors, tokens, err := w.embedder.Embed(ctx, texts)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, 0, err
			}
			log.Errorf("[IndexWriter] 第 %d-%d 个分块向量化失败: %v", start+1, end, err)
			return nil, 0, fmt.Errorf("%w: 向量化失败: %w", ErrUpstreamUnavailable, err)
		}
		if len(batchVectors) != len(texts) {
			return nil, 0, fmt.Errorf("%w: 向量数量 %d 与文本数量 %d 不一致", ErrUpstreamUnavailable, len(batchVectors), len(texts))
		}
		if tokens <= 0 {
			tokens = w.costModel.TokenCount(texts...)
		}
		totalTokens += tokens
		vectors = append(vectors, batchVectors...)
		log.Infof("[IndexWriter] 第 %d-%d 个分块向量化完成, tokens: %d", start+1, end, tokens)
	}
	return vectors, totalTokens, nil
}

func (w *IndexWriter) pause(ctx context.Context) error {
	if w.cfg.BatchDelay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(w.cfg.BatchDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func buildRecord(c model.Chunk, vector []float32, updateDate string) model.IndexRecord {
	return model.IndexRecord{
		ID:     c.Fingerprint,
		Vector: vector,
		Payload: model.RecordPayload{
			Content: c.Text,
			Metadata: model.RecordMetadata{
				URL:        c.ParentURL,
				SourceURL:  c.SourceURL,
				Title:      c.Title,
				ChunkInfo:  c.Info(),
				UpdateDate: updateDate,
			},
		},
	}
}
