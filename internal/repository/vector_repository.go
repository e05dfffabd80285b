// Package repository 提供了数据访问层的实现。
package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"intranet-assistant-go/internal/model"
	"intranet-assistant-go/pkg/log"
	"io"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

const (
	findPageSize  = 500
	bulkBatchSize = 500
	aggPageSize   = 1000
)

// VectorRepository 定义了对 Elasticsearch 向量索引的操作接口。
type VectorRepository interface {
	// FindByOwner 返回所属 URL 为 primaryURL、source_url 为 primaryURL，
	// 或所属 URL 在 fileURLs 中的全部记录（含向量）。
	FindByOwner(ctx context.Context, primaryURL string, fileURLs []string) ([]model.IndexRecord, error)
	// Replace 先写入 records，再删除 stale。
	Replace(ctx context.Context, stale []model.IndexRecord, records []model.IndexRecord) error
	// DeleteByURLs 删除 url 或 source_url 属于 urls 的全部记录，返回删除数量。
	DeleteByURLs(ctx context.Context, urls []string) (int, error)
	// OwnerUpdateDates 返回每个所属 URL 最近一次写入的 update_date。
	OwnerUpdateDates(ctx context.Context) (map[string]string, error)
	// ListPrimaryURLs 返回不是链接文件（没有 source_url）的所属 URL。
	ListPrimaryURLs(ctx context.Context) ([]string, error)
	// KNNSearch 返回与 vector 最相似的 k 条记录。
	KNNSearch(ctx context.Context, vector []float32, k int) ([]model.SearchHit, error)
	// KeywordSearch 返回 content 匹配任一关键词的记录。
	KeywordSearch(ctx context.Context, keywords []string, size int) ([]model.SearchHit, error)
}

type esVectorRepository struct {
	client    *elasticsearch.Client
	indexName string
}

// NewVectorRepository 创建一个新的 VectorRepository 实例。
func NewVectorRepository(client *elasticsearch.Client, indexName string) VectorRepository {
	return &esVectorRepository{client: client, indexName: indexName}
}

type esHit struct {
	ID     string           `json:"_id"`
	Score  float64          `json:"_score"`
	Source model.EsDocument `json:"_source"`
	Sort   []interface{}    `json:"sort"`
}

type esSearchResponse struct {
	Hits struct {
		Hits []esHit `json:"hits"`
	} `json:"hits"`
	Aggregations map[string]json.RawMessage `json:"aggregations"`
}

// search 执行一次查询并解析响应。
func (r *esVectorRepository) search(ctx context.Context, query map[string]interface{}) (*esSearchResponse, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}
	res, err := r.client.Search(
		r.client.Search.WithContext(ctx),
		r.client.Search.WithIndex(r.indexName),
		r.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()
	if err := responseError(res); err != nil {
		return nil, err
	}

	var out esSearchResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}
	return &out, nil
}

func responseError(res *esapi.Response) error {
	if !res.IsError() {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
	log.Errorf("[VectorRepository] Elasticsearch 返回错误, status: %s, body: %s", res.Status(), string(body))
	return fmt.Errorf("elasticsearch returned an error: %s", res.Status())
}

// ownerScopeQuery 匹配主页面、由它写入的文件，以及本次链接的文件（可能由其他页面写入）。
func ownerScopeQuery(primaryURL string, fileURLs []string) map[string]interface{} {
	should := []map[string]interface{}{
		{"term": map[string]interface{}{"metadata.url": primaryURL}},
		{"term": map[string]interface{}{"metadata.source_url": primaryURL}},
	}
	if len(fileURLs) > 0 {
		should = append(should, map[string]interface{}{"terms": map[string]interface{}{"metadata.url": fileURLs}})
	}
	return map[string]interface{}{
		"bool": map[string]interface{}{
			"should":               should,
			"minimum_should_match": 1,
		},
	}
}

func (r *esVectorRepository) FindByOwner(ctx context.Context, primaryURL string, fileURLs []string) ([]model.IndexRecord, error) {
	var records []model.IndexRecord
	var after []interface{}
	for {
		query := map[string]interface{}{
			"query": ownerScopeQuery(primaryURL, fileURLs),
			"size":  findPageSize,
			"sort": []map[string]interface{}{
				{"metadata.url": "asc"},
				{"fingerprint": "asc"},
			},
		}
		if after != nil {
			query["search_after"] = after
		}
		out, err := r.search(ctx, query)
		if err != nil {
			return nil, err
		}
		for _, h := range out.Hits.Hits {
			records = append(records, h.Source.ToRecord())
		}
		if len(out.Hits.Hits) < findPageSize {
			break
		}
		after = out.Hits.Hits[len(out.Hits.Hits)-1].Sort
	}
	log.Infof("[VectorRepository] 读取 %s 范围内的记录 %d 条", primaryURL, len(records))
	return records, nil
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

func (r *esVectorRepository) Replace(ctx context.Context, stale []model.IndexRecord, records []model.IndexRecord) error {
	var ops [][]byte
	for _, rec := range records {
		meta := fmt.Sprintf(`{"index":{"_index":%q,"_id":%q}}`, r.indexName, rec.Key())
		source, err := json.Marshal(rec.ToEsDocument())
		if err != nil {
			return fmt.Errorf("failed to encode record %s: %w", rec.Key(), err)
		}
		ops = append(ops, []byte(meta+"\n"+string(source)+"\n"))
	}
	// 先写后删，保证查询期间 URL 不会出现零记录的窗口
	for _, rec := range stale {
		ops = append(ops, []byte(fmt.Sprintf(`{"delete":{"_index":%q,"_id":%q}}`+"\n", r.indexName, rec.Key())))
	}

	for start := 0; start < len(ops); start += bulkBatchSize {
		end := start + bulkBatchSize
		if end > len(ops) {
			end = len(ops)
		}
		if err := r.bulk(ctx, bytes.Join(ops[start:end], nil)); err != nil {
			return err
		}
	}
	return nil
}

func (r *esVectorRepository) bulk(ctx context.Context, body []byte) error {
	res, err := r.client.Bulk(
		bytes.NewReader(body),
		r.client.Bulk.WithContext(ctx),
		r.client.Bulk.WithRefresh("wait_for"),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch bulk failed: %w", err)
	}
	defer res.Body.Close()
	if err := responseError(res); err != nil {
		return err
	}

	var out bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return fmt.Errorf("failed to decode bulk response: %w", err)
	}
	if !out.Errors {
		return nil
	}
	var failures []string
	for _, item := range out.Items {
		for op, result := range item {
			if op == "delete" && result.Status == http.StatusNotFound {
				continue
			}
			if result.Status > 299 {
				reason := ""
				if result.Error != nil {
					reason = result.Error.Type + ": " + result.Error.Reason
				}
				failures = append(failures, fmt.Sprintf("%s %s (%d) %s", op, result.ID, result.Status, reason))
			}
		}
	}
	if len(failures) == 0 {
		return nil
	}
	log.Errorf("[VectorRepository] 批量写入有 %d 项失败: %s", len(failures), strings.Join(failures, "; "))
	return fmt.Errorf("bulk request had %d failed items, first: %s", len(failures), failures[0])
}

func (r *esVectorRepository) DeleteByURLs(ctx context.Context, urls []string) (int, error) {
	if len(urls) == 0 {
		return 0, nil
	}
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"should": []map[string]interface{}{
					{"terms": map[string]interface{}{"metadata.url": urls}},
					{"terms": map[string]interface{}{"metadata.source_url": urls}},
				},
				"minimum_should_match": 1,
			},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return 0, err
	}
	res, err := r.client.DeleteByQuery(
		[]string{r.indexName},
		&buf,
		r.client.DeleteByQuery.WithContext(ctx),
		r.client.DeleteByQuery.WithRefresh(true),
		r.client.DeleteByQuery.WithConflicts("proceed"),
	)
	if err != nil {
		return 0, fmt.Errorf("elasticsearch delete_by_query failed: %w", err)
	}
	defer res.Body.Close()
	if err := responseError(res); err != nil {
		return 0, err
	}
	var out struct {
		Deleted int `json:"deleted"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("failed to decode delete_by_query response: %w", err)
	}
	return out.Deleted, nil
}

type compositeAgg struct {
	AfterKey map[string]interface{} `json:"after_key"`
	Buckets  []struct {
		Key    map[string]string `json:"key"`
		Latest struct {
			Buckets []struct {
				Key string `json:"key"`
			} `json:"buckets"`
		} `json:"latest"`
	} `json:"buckets"`
}

// ownerURLs 以 composite 聚合分页遍历所属 URL，并附带每个 URL 最新的 update_date。
func (r *esVectorRepository) ownerURLs(ctx context.Context, filter map[string]interface{}) (map[string]string, error) {
	result := make(map[string]string)
	var after map[string]interface{}
	for {
		composite := map[string]interface{}{
			"size": aggPageSize,
			"sources": []map[string]interface{}{
				{"url": map[string]interface{}{"terms": map[string]interface{}{"field": "metadata.url"}}},
			},
		}
		if after != nil {
			composite["after"] = after
		}
		query := map[string]interface{}{
			"size":  0,
			"query": filter,
			"aggs": map[string]interface{}{
				"owners": map[string]interface{}{
					"composite": composite,
					"aggs": map[string]interface{}{
						"latest": map[string]interface{}{
							"terms": map[string]interface{}{
								"field": "metadata.update_date",
								"size":  1,
								"order": map[string]string{"_key": "desc"},
							},
						},
					},
				},
			},
		}
		out, err := r.search(ctx, query)
		if err != nil {
			return nil, err
		}
		var agg compositeAgg
		if raw, ok := out.Aggregations["owners"]; ok {
			if err := json.Unmarshal(raw, &agg); err != nil {
				return nil, fmt.Errorf("failed to decode composite aggregation: %w", err)
			}
		}
		for _, b := range agg.Buckets {
			latest := ""
			if len(b.Latest.Buckets) > 0 {
				latest = b.Latest.Buckets[0].Key
			}
			result[b.Key["url"]] = latest
		}
		if len(agg.Buckets) < aggPageSize || agg.AfterKey == nil {
			break
		}
		after = agg.AfterKey
	}
	return result, nil
}

func (r *esVectorRepository) OwnerUpdateDates(ctx context.Context) (map[string]string, error) {
	return r.ownerURLs(ctx, map[string]interface{}{"match_all": map[string]interface{}{}})
}

func (r *esVectorRepository) ListPrimaryURLs(ctx context.Context) ([]string, error) {
	owners, err := r.ownerURLs(ctx, map[string]interface{}{
		"bool": map[string]interface{}{
			"must_not": map[string]interface{}{
				"exists": map[string]interface{}{"field": "metadata.source_url"},
			},
		},
	})
	if err != nil {
		return nil, err
	}
	urls := make([]string, 0, len(owners))
	for u := range owners {
		urls = append(urls, u)
	}
	return urls, nil
}

func toSearchHits(hits []esHit, keyword bool) []model.SearchHit {
	out := make([]model.SearchHit, 0, len(hits))
	for _, h := range hits {
		out = append(out, model.SearchHit{
			ID:      h.ID,
			Content: h.Source.Content,
			Title:   h.Source.Metadata.Title,
			URL:     h.Source.Metadata.URL,
			Score:   h.Score,
			Keyword: keyword,
		})
	}
	return out
}

func (r *esVectorRepository) KNNSearch(ctx context.Context, vector []float32, k int) ([]model.SearchHit, error) {
	numCandidates := k * 10
	if numCandidates < 100 {
		numCandidates = 100
	}
	out, err := r.search(ctx, map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   vector,
			"k":              k,
			"num_candidates": numCandidates,
		},
		"size":    k,
		"_source": map[string]interface{}{"excludes": []string{"vector"}},
	})
	if err != nil {
		return nil, err
	}
	return toSearchHits(out.Hits.Hits, false), nil
}

func (r *esVectorRepository) KeywordSearch(ctx context.Context, keywords []string, size int) ([]model.SearchHit, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	should := make([]map[string]interface{}, 0, len(keywords))
	for _, kw := range keywords {
		should = append(should, map[string]interface{}{
			"match": map[string]interface{}{"content": kw},
		})
	}
	out, err := r.search(ctx, map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"should":               should,
				"minimum_should_match": 1,
			},
		},
		"size":    size,
		"_source": map[string]interface{}{"excludes": []string{"vector"}},
	})
	if err != nil {
		return nil, err
	}
	return toSearchHits(out.Hits.Hits, true), nil
}
