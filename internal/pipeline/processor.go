package pipeline

import (
	"context"
	"errors"
	"fmt"
	"intranet-assistant-go/internal/model"
	"intranet-assistant-go/pkg/log"
	"strings"
)

// DocumentSource 抓取一个页面及其链接的文件。第一个返回的文档总是页面本身。
// 会话失效时返回的错误须包装 ErrAuthenticationExpired。
type DocumentSource interface {
	Fetch(ctx context.Context, url string) ([]model.Document, error)
}

// SyncRunRecorder 持久化每一次同步运行的结果。
type SyncRunRecorder interface {
	Create(ctx context.Context, run *model.SyncRun) error
}

// ProcessorConfig 存储分块参数与成本换算系数。
type ProcessorConfig struct {
	ChunkSize    int
	ChunkOverlap int
	SEKPerUSD    float64
}

// Result 是一次 URL 同步的结果。
type Result struct {
	URL      string  `json:"url"`
	Status   string  `json:"status"`
	Inserted int     `json:"inserted"`
	Retained int     `json:"retained"`
	Deleted  int     `json:"deleted"`
	Tokens   int     `json:"tokens"`
	CostUSD  float64 `json:"costUsd"`
	CostSEK  float64 `json:"costSek"`
}

// Processor 封装了单个 URL 从抓取到写入向量库的完整流程。
type Processor struct {
	source   DocumentSource
	store    RecordStore
	writer   *IndexWriter
	recorder SyncRunRecorder
	cfg      ProcessorConfig
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(source DocumentSource, store RecordStore, writer *IndexWriter, recorder SyncRunRecorder, cfg ProcessorConfig) *Processor {
	return &Processor{
		source:   source,
		store:    store,
		writer:   writer,
		recorder: recorder,
		cfg:      cfg,
	}
}

// UpdateURL 抓取 url 及其链接文件，与库中记录比对后只对变化的部分进行向量化与写入。
// 每次调用都会记录一条 SyncRun，无论成功与否。
func (p *Processor) UpdateURL(ctx context.Context, url, trigger string) (*Result, error) {
	log.Infof("[Processor] 开始同步, URL: %s, 触发来源: %s", url, trigger)
	result, err := p.updateURL(ctx, url)
	p.record(ctx, url, trigger, result, err)
	if err != nil {
		log.Errorf("[Processor] 同步失败, URL: %s, Error: %v", url, err)
		return nil, err
	}
	log.Infof("[Processor] 同步完成, URL: %s, 状态: %s, 新增: %d, 保留: %d, 删除: %d, 成本: %.4f SEK",
		url, result.Status, result.Inserted, result.Retained, result.Deleted, result.CostSEK)
	return result, nil
}

func (p *Processor) updateURL(ctx context.Context, url string) (*Result, error) {
	result := &Result{URL: url}

	// 1. 抓取页面与链接文件
	docs, err := p.source.Fetch(ctx, url)
	if err != nil {
		if errors.Is(err, ErrAuthenticationExpired) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return result, err
		}
		return result, fmt.Errorf("%w: 抓取 %s 失败: %w", ErrUpstreamUnavailable, url, err)
	}
	log.Infof("[Processor] 步骤1: 抓取完成, 共 %d 个文档 (含页面本身)", len(docs))

	// 2. 分块与指纹
	var chunks []model.Chunk
	var fileURLs []string
	for _, doc := range docs {
		if doc.URL != url {
			fileURLs = append(fileURLs, doc.URL)
		}
		if strings.TrimSpace(doc.RawText) == "" {
			log.Warnf("[Processor] 文档 '%s' 没有可索引的文本, 跳过", doc.URL)
			continue
		}
		docChunks, err := ChunkDocument(doc, p.cfg.ChunkSize, p.cfg.ChunkOverlap)
		if err != nil {
			return result, err
		}
		chunks = append(chunks, docChunks...)
	}
	if len(chunks) == 0 {
		// 页面临时返回空内容时不能把库中记录当作孤儿清空
		return result, fmt.Errorf("%w: %s 没有产出任何分块", ErrUpstreamUnavailable, url)
	}
	log.Infof("[Processor] 步骤2: 分块完成, 共 %d 个分块", len(chunks))

	// 3. 读取库中现有记录并计算同步计划
	existing, err := p.store.FindByOwner(ctx, url, fileURLs)
	if err != nil {
		return result, fmt.Errorf("%w: 读取现有记录失败: %w", ErrUpstreamUnavailable, err)
	}
	plan := PlanSync(url, chunks, existing)
	log.Infof("[Processor] 步骤3: 现有记录 %d 条, 待新增 %d, 待保留 %d, 待删除 %d, 孤儿 URL %d 个",
		len(existing), len(plan.ToInsert), len(plan.ToRetain), len(plan.Stale), len(plan.Orphaned))

	// 4. 没有新分块时只删除过期记录
	if plan.NoUpdate() {
		result.Status = model.SyncStatusUnchanged
		if len(plan.Stale) > 0 {
			if err := p.store.Replace(ctx, plan.Stale, nil); err != nil {
				return result, fmt.Errorf("%w: 删除过期记录失败: %w", ErrUpstreamUnavailable, err)
			}
			result.Deleted = len(plan.Stale)
			log.Infof("[Processor] 没有新分块, 已删除过期记录 %d 条, 孤儿 URL: %v", len(plan.Stale), plan.Orphaned)
		}
		return result, nil
	}

	// 5. 写入
	written, err := p.writer.Apply(ctx, plan)
	if err != nil {
		return result, err
	}
	result.Status = model.SyncStatusUpdated
	result.Inserted = written.Inserted
	result.Retained = written.Retained
	result.Deleted = written.Deleted
	result.Tokens = written.Tokens
	result.CostUSD = written.CostUSD
	result.CostSEK = written.CostUSD * p.cfg.SEKPerUSD
	return result, nil
}

func (p *Processor) record(ctx context.Context, url, trigger string, result *Result, runErr error) {
	if p.recorder == nil {
		return
	}
	run := &model.SyncRun{URL: url, Trigger: trigger}
	switch {
	case runErr == nil:
		run.Status = result.Status
		run.Inserted = result.Inserted
		run.Retained = result.Retained
		run.Deleted = result.Deleted
		run.CostSEK = result.CostSEK
	case errors.Is(runErr, ErrAuthenticationExpired):
		run.Status = model.SyncStatusAuthExpired
		run.Error = runErr.Error()
	default:
		run.Status = model.SyncStatusFailed
		run.Error = runErr.Error()
	}
	// 请求被取消时仍要写台账
	if err := p.recorder.Create(context.WithoutCancel(ctx), run); err != nil {
		log.Warnf("[Processor] 记录同步台账失败, URL: %s, Error: %v", url, err)
	}
}
