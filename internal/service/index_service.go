package service

import (
	"context"
	"errors"
	"fmt"
	"intranet-assistant-go/internal/model"
	"intranet-assistant-go/internal/pipeline"
	"intranet-assistant-go/internal/repository"
	"intranet-assistant-go/pkg/log"
	"intranet-assistant-go/pkg/tasks"
	"sort"
	"strings"
	"time"
)

var (
	// ErrQueueDisabled 表示未配置 Kafka，无法异步处理更新。
	ErrQueueDisabled = errors.New("async update queue is disabled")
	// ErrLedgerDisabled 表示未配置 MySQL，没有同步台账可查。
	ErrLedgerDisabled = errors.New("sync ledger is disabled")
	// ErrPruneThresholdExceeded 表示待清理的 URL 超过阈值，需要人工确认后使用 force 重试。
	ErrPruneThresholdExceeded = errors.New("too many urls missing from sitemap")
)

// URLProcessor 同步处理单个 URL。
type URLProcessor interface {
	UpdateURL(ctx context.Context, url, trigger string) (*pipeline.Result, error)
}

// TaskQueue 投递异步 URL 更新任务。
type TaskQueue interface {
	Enqueue(ctx context.Context, task tasks.URLUpdateTask) error
}

// HealthPinger 上报清理任务的运行结果。
type HealthPinger interface {
	Success(ctx context.Context) error
	Fail(ctx context.Context, message string) error
}

// RefreshPlan 是 sitemap 与向量库比对后的待同步 URL 分类。
type RefreshPlan struct {
	New       []string `json:"new"`
	Stale     []string `json:"stale"`
	NoLastMod []string `json:"noLastMod"`
}

// BatchResult 汇总一次批量同步。
type BatchResult struct {
	Updated   int      `json:"updated"`
	Unchanged int      `json:"unchanged"`
	Failed    []string `json:"failed"`
	CostSEK   float64  `json:"costSek"`
}

// PruneResult 汇总一次清理。
type PruneResult struct {
	Missing []string `json:"missing"`
	Deleted int      `json:"deleted"`
}

// IndexServiceConfig 存储同步与清理相关的参数。
type IndexServiceConfig struct {
	ExcludedPaths  []string
	PruneThreshold int
	Location       *time.Location
}

// IndexService 定义了向量索引维护的业务接口。
type IndexService interface {
	UpdateURL(ctx context.Context, url, trigger string) (*pipeline.Result, error)
	EnqueueUpdate(ctx context.Context, url, trigger string) error
	Process(ctx context.Context, task tasks.URLUpdateTask) error
	RemoveURL(ctx context.Context, url string) (int, error)
	ValidateSession(ctx context.Context) error
	PlanRefresh(ctx context.Context) (*RefreshPlan, error)
	RunBatch(ctx context.Context, urls []string, trigger string) (*BatchResult, error)
	Prune(ctx context.Context, force bool) (*PruneResult, error)
	RecentRuns(ctx context.Context, url string, limit int) ([]model.SyncRun, error)
}

type indexService struct {
	processor   URLProcessor
	vectorRepo  repository.VectorRepository
	syncRunRepo repository.SyncRunRepository
	source      SitemapSource
	queue       TaskQueue
	pinger      HealthPinger
	cfg         IndexServiceConfig
}

// NewIndexService 创建一个新的 IndexService 实例。queue 可以为 nil。
func NewIndexService(processor URLProcessor, vectorRepo repository.VectorRepository, syncRunRepo repository.SyncRunRepository,
	source SitemapSource, queue TaskQueue, pinger HealthPinger, cfg IndexServiceConfig) IndexService {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &indexService{
		processor:   processor,
		vectorRepo:  vectorRepo,
		syncRunRepo: syncRunRepo,
		source:      source,
		queue:       queue,
		pinger:      pinger,
		cfg:         cfg,
	}
}

func (s *indexService) UpdateURL(ctx context.Context, url, trigger string) (*pipeline.Result, error) {
	return s.processor.UpdateURL(ctx, url, trigger)
}

// EnqueueUpdate 将 URL 更新投递到 Kafka，由消费者顺序处理。
func (s *indexService) EnqueueUpdate(ctx context.Context, url, trigger string) error {
	if s.queue == nil {
		return ErrQueueDisabled
	}
	task := tasks.URLUpdateTask{URL: url, Trigger: trigger, RequestedAt: time.Now().Unix()}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("failed to enqueue update for %s: %w", url, err)
	}
	log.Infof("[IndexService] 已投递更新任务, URL: %s", url)
	return nil
}

// Process 实现 kafka.TaskProcessor。
func (s *indexService) Process(ctx context.Context, task tasks.URLUpdateTask) error {
	trigger := task.Trigger
	if trigger == "" {
		trigger = model.TriggerKafka
	}
	_, err := s.processor.UpdateURL(ctx, task.URL, trigger)
	return err
}

// RemoveURL 删除 url 本身以及以它为来源的文件的全部记录。
func (s *indexService) RemoveURL(ctx context.Context, url string) (int, error) {
	deleted, err := s.vectorRepo.DeleteByURLs(ctx, []string{url})
	if err != nil {
		return 0, fmt.Errorf("%w: %w", pipeline.ErrUpstreamUnavailable, err)
	}
	log.Infof("[IndexService] 已删除 %s 的记录 %d 条", url, deleted)
	return deleted, nil
}

func (s *indexService) ValidateSession(ctx context.Context) error {
	return s.source.ValidateSession(ctx)
}

func (s *indexService) excluded(loc string) bool {
	for _, p := range s.cfg.ExcludedPaths {
		if p != "" && strings.Contains(loc, p) {
			return true
		}
	}
	return false
}

// PlanRefresh 读取 sitemap 并按向量库中的最后写入时间把 URL 分为新增、过期与无 lastmod 三类。
func (s *indexService) PlanRefresh(ctx context.Context) (*RefreshPlan, error) {
	if err := s.source.ValidateSession(ctx); err != nil {
		return nil, err
	}
	entries, err := s.source.Sitemap(ctx)
	if err != nil {
		return nil, err
	}
	stored, err := s.vectorRepo.OwnerUpdateDates(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", pipeline.ErrUpstreamUnavailable, err)
	}

	plan := &RefreshPlan{}
	for _, e := range entries {
		if s.excluded(e.Loc) {
			continue
		}
		if e.LastMod == nil {
			plan.NoLastMod = append(plan.NoLastMod, e.Loc)
			continue
		}
		updateDate, ok := stored[e.Loc]
		if !ok {
			plan.New = append(plan.New, e.Loc)
			continue
		}
		written, err := model.ParseUpdateDate(updateDate, s.cfg.Location)
		if err != nil {
			log.Warnf("[IndexService] 无法解析 %s 的 update_date '%s', 视为过期", e.Loc, updateDate)
			plan.Stale = append(plan.Stale, e.Loc)
			continue
		}
		if e.LastMod.After(written) {
			plan.Stale = append(plan.Stale, e.Loc)
		}
	}
	log.Infof("[IndexService] sitemap 共 %d 个 URL, 新增: %d, 过期: %d, 无 lastmod: %d",
		len(entries), len(plan.New), len(plan.Stale), len(plan.NoLastMod))
	return plan, nil
}

// RunBatch 逐个同步 urls。单个 URL 的上游错误只记录并继续，会话失效或取消时立即停止。
func (s *indexService) RunBatch(ctx context.Context, urls []string, trigger string) (*BatchResult, error) {
	result := &BatchResult{}
	for i, url := range urls {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		log.Infof("[IndexService] 批量同步 %d / %d: %s", i+1, len(urls), url)
		res, err := s.processor.UpdateURL(ctx, url, trigger)
		if err != nil {
			if errors.Is(err, pipeline.ErrAuthenticationExpired) || ctx.Err() != nil {
				return result, err
			}
			result.Failed = append(result.Failed, url)
			continue
		}
		if res.Status == model.SyncStatusUpdated {
			result.Updated++
		} else {
			result.Unchanged++
		}
		result.CostSEK += res.CostSEK
	}
	log.Infof("[IndexService] 批量同步完成, 更新: %d, 未变化: %d, 失败: %d, 成本: %.4f SEK",
		result.Updated, result.Unchanged, len(result.Failed), result.CostSEK)
	return result, nil
}

// Prune 删除向量库中存在但已不在 sitemap 中的页面。超过阈值且未 force 时拒绝执行并上报失败。
func (s *indexService) Prune(ctx context.Context, force bool) (*PruneResult, error) {
	if err := s.source.ValidateSession(ctx); err != nil {
		return nil, err
	}
	primary, err := s.vectorRepo.ListPrimaryURLs(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", pipeline.ErrUpstreamUnavailable, err)
	}
	entries, err := s.source.Sitemap(ctx)
	if err != nil {
		return nil, err
	}
	inSitemap := make(map[string]bool, len(entries))
	for _, e := range entries {
		inSitemap[e.Loc] = true
	}

	result := &PruneResult{}
	for _, u := range primary {
		if !inSitemap[u] {
			result.Missing = append(result.Missing, u)
		}
	}
	sort.Strings(result.Missing)
	log.Infof("[IndexService] 向量库页面 %d 个, sitemap %d 个, 缺失 %d 个", len(primary), len(entries), len(result.Missing))

	if len(result.Missing) > s.cfg.PruneThreshold && !force {
		msg := fmt.Sprintf("URL difference amount = %d, handle manually", len(result.Missing))
		if err := s.pinger.Fail(ctx, msg); err != nil {
			log.Warnf("[IndexService] 上报失败心跳出错: %v", err)
		}
		return result, fmt.Errorf("%w: %d > %d", ErrPruneThresholdExceeded, len(result.Missing), s.cfg.PruneThreshold)
	}

	if len(result.Missing) > 0 {
		deleted, err := s.vectorRepo.DeleteByURLs(ctx, result.Missing)
		if err != nil {
			return result, fmt.Errorf("%w: %w", pipeline.ErrUpstreamUnavailable, err)
		}
		result.Deleted = deleted
		log.Infof("[IndexService] 已清理 %d 个 URL, 删除记录 %d 条", len(result.Missing), deleted)
	}
	if err := s.pinger.Success(ctx); err != nil {
		log.Warnf("[IndexService] 上报成功心跳出错: %v", err)
	}
	return result, nil
}

func (s *indexService) RecentRuns(ctx context.Context, url string, limit int) ([]model.SyncRun, error) {
	if s.syncRunRepo == nil {
		return nil, ErrLedgerDisabled
	}
	return s.syncRunRepo.ListRecent(ctx, url, limit)
}
