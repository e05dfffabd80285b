package service

import (
	"context"
	"errors"
	"intranet-assistant-go/internal/model"
	"intranet-assistant-go/internal/pipeline"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hit(id string, keyword bool) model.SearchHit {
	return model.SearchHit{ID: id, Content: "text " + id, URL: "https://intra/" + id, Keyword: keyword}
}

func ids(hits []model.SearchHit) []string {
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.ID)
	}
	return out
}

func TestSearch_VectorOnlyWithoutKeywords(t *testing.T) {
	repo := &fakeVectorRepo{knnHits: []model.SearchHit{hit("v1", false), hit("v2", false)}}
	emb := &fakeEmbedding{tokens: 7}
	svc := NewSearchService(emb, repo, 5, 3)

	hits, tokens, err := svc.Search(context.Background(), "Hur söker jag semester?", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"v1", "v2"}, ids(hits))
	assert.Equal(t, 7, tokens)
	assert.Zero(t, repo.keywordCalls)
	assert.Equal(t, []string{"Hur söker jag semester?"}, emb.texts)
}

func TestSearch_KeywordHitsFirstAndDeduplicated(t *testing.T) {
	repo := &fakeVectorRepo{
		knnHits: []model.SearchHit{
			hit("v1", false), hit("k1", false), hit("v2", false), hit("v3", false), hit("v4", false),
		},
		keywordHits: []model.SearchHit{hit("k1", true), hit("k2", true)},
	}
	svc := NewSearchService(&fakeEmbedding{}, repo, 5, 3)

	hits, _, err := svc.Search(context.Background(), "Vem är Hampus Nilsson?", []string{"Hampus Nilsson"})
	require.NoError(t, err)
	assert.Equal(t, []string{"k1", "k2", "v1", "v2", "v3"}, ids(hits))
	assert.True(t, hits[0].Keyword)
}

func TestSearch_EmbeddingFailure(t *testing.T) {
	svc := NewSearchService(&fakeEmbedding{err: errors.New("429")}, &fakeVectorRepo{}, 5, 3)
	_, _, err := svc.Search(context.Background(), "q", nil)
	assert.ErrorIs(t, err, pipeline.ErrUpstreamUnavailable)
}

func TestMergeHits_CapsAtLimit(t *testing.T) {
	merged := mergeHits(
		[]model.SearchHit{hit("k1", true), hit("k2", true), hit("k3", true)},
		[]model.SearchHit{hit("v1", false)},
		2,
	)
	assert.Equal(t, []string{"k1", "k2"}, ids(merged))
}
