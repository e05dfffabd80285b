package service

import (
	"context"
	"fmt"
	"intranet-assistant-go/internal/model"
	"intranet-assistant-go/internal/pipeline"
	"intranet-assistant-go/internal/repository"
	"intranet-assistant-go/pkg/embedding"
	"intranet-assistant-go/pkg/log"
)

// SearchService 定义了检索操作的接口。
type SearchService interface {
	// Search 返回与 question 相关的分块，以及向量化 question 消耗的 token 数（未知时为 0）。
	Search(ctx context.Context, question string, keywords []string) ([]model.SearchHit, int, error)
}

type searchService struct {
	embeddingClient embedding.Client
	vectorRepo      repository.VectorRepository
	topK            int
	keywordLimit    int
}

// NewSearchService 创建一个新的 SearchService 实例。
func NewSearchService(embeddingClient embedding.Client, vectorRepo repository.VectorRepository, topK, keywordLimit int) SearchService {
	if topK <= 0 {
		topK = 5
	}
	if keywordLimit <= 0 {
		keywordLimit = 3
	}
	return &searchService{
		embeddingClient: embeddingClient,
		vectorRepo:      vectorRepo,
		topK:            topK,
		keywordLimit:    keywordLimit,
	}
}

// Search 执行向量检索，有关键词时再做关键词匹配。关键词命中排在前面，结果最多 topK 条。
func (s *searchService) Search(ctx context.Context, question string, keywords []string) ([]model.SearchHit, int, error) {
	// 1. 向量化问题
	vectors, tokens, err := s.embeddingClient.Embed(ctx, []string{question})
	if err != nil {
		return nil, 0, fmt.Errorf("%w: 问题向量化失败: %w", pipeline.ErrUpstreamUnavailable, err)
	}
	if len(vectors) != 1 {
		return nil, 0, fmt.Errorf("%w: 向量数量异常: %d", pipeline.ErrUpstreamUnavailable, len(vectors))
	}

	// 2. kNN 检索
	vectorHits, err := s.vectorRepo.KNNSearch(ctx, vectors[0], s.topK)
	if err != nil {
		return nil, tokens, fmt.Errorf("%w: 向量检索失败: %w", pipeline.ErrUpstreamUnavailable, err)
	}
	if len(keywords) == 0 {
		log.Infof("[SearchService] 向量检索命中 %d 条", len(vectorHits))
		return vectorHits, tokens, nil
	}

	// 3. 关键词检索并合并
	keywordHits, err := s.vectorRepo.KeywordSearch(ctx, keywords, s.keywordLimit)
	if err != nil {
		return nil, tokens, fmt.Errorf("%w: 关键词检索失败: %w", pipeline.ErrUpstreamUnavailable, err)
	}
	merged := mergeHits(keywordHits, vectorHits, s.topK)
	log.Infof("[SearchService] 关键词命中 %d 条, 向量命中 %d 条, 合并后 %d 条", len(keywordHits), len(vectorHits), len(merged))
	return merged, tokens, nil
}

func mergeHits(keywordHits, vectorHits []model.SearchHit, limit int) []model.SearchHit {
	seen := make(map[string]bool, len(keywordHits))
	merged := make([]model.SearchHit, 0, limit)
	for _, h := range keywordHits {
		seen[h.ID] = true
		merged = append(merged, h)
	}
	for _, h := range vectorHits {
		if len(merged) >= limit {
			break
		}
		if !seen[h.ID] {
			seen[h.ID] = true
			merged = append(merged, h)
		}
	}
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}
