package repository

import (
	"bufio"
	"context"
	"encoding/json"
	"intranet-assistant-go/internal/model"
	"intranet-assistant-go/pkg/log"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	log.InitNop()
	os.Exit(m.Run())
}

// fakeES 记录收到的请求，并按路径返回预设的响应。
type fakeES struct {
	mu        sync.Mutex
	requests  []recordedRequest
	responses map[string][]string
}

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Body   string
}

func (f *fakeES) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Body: string(body)})
	var resp string
	if queue := f.responses[r.URL.Path]; len(queue) > 0 {
		resp = queue[0]
		if len(queue) > 1 {
			f.responses[r.URL.Path] = queue[1:]
		}
	}
	f.mu.Unlock()

	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	if resp == "" {
		resp = `{}`
	}
	_, _ = w.Write([]byte(resp))
}

func newTestRepo(t *testing.T, responses map[string][]string) (VectorRepository, *fakeES) {
	t.Helper()
	fake := &fakeES{responses: responses}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return NewVectorRepository(client, "intranet_rag"), fake
}

func record(fp, owner, source, text string) model.IndexRecord {
	return model.IndexRecord{
		ID:     fp,
		Vector: []float32{0.1, 0.2},
		Payload: model.RecordPayload{
			Content: text,
			Metadata: model.RecordMetadata{
				URL:        owner,
				SourceURL:  source,
				Title:      "Semester",
				ChunkInfo:  "Chunk 1 of 1",
				UpdateDate: "2024-05-17T09:30:15",
			},
		},
	}
}

func TestFindByOwner_QueriesUrlAndSourceUrl(t *testing.T) {
	repo, fake := newTestRepo(t, map[string][]string{
		"/intranet_rag/_search": {`{"hits":{"hits":[
			{"_id":"k1","_source":{"fingerprint":"fp1","content":"a","metadata":{"url":"https://intra/p","title":"P","update_date":"2024-05-17T09:30:15"},"vector":[1,2]},"sort":["https://intra/p","fp1"]},
			{"_id":"k2","_source":{"fingerprint":"fp2","content":"b","metadata":{"url":"https://intra/f","source_url":"https://intra/p","title":"F","update_date":"2024-05-17T09:30:15"},"vector":[3]},"sort":["https://intra/f","fp2"]}
		]}}`},
	})

	records, err := repo.FindByOwner(context.Background(), "https://intra/p", nil)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "fp1", records[0].ID)
	assert.Equal(t, []float32{1, 2}, records[0].Vector)
	assert.Equal(t, "https://intra/p", records[1].Payload.Metadata.SourceURL)

	require.Len(t, fake.requests, 1)
	body := fake.requests[0].Body
	assert.Contains(t, body, `"metadata.url":"https://intra/p"`)
	assert.Contains(t, body, `"metadata.source_url":"https://intra/p"`)
	assert.NotContains(t, body, "search_after")
	assert.NotContains(t, body, `"terms"`)
}

func TestFindByOwner_IncludesLinkedFiles(t *testing.T) {
	repo, fake := newTestRepo(t, map[string][]string{
		"/intranet_rag/_search": {`{"hits":{"hits":[
			{"_id":"k1","_source":{"fingerprint":"fp1","content":"a","metadata":{"url":"https://intra/f","source_url":"https://intra/other","title":"F","update_date":"2024-05-17T09:30:15"},"vector":[1]},"sort":["https://intra/f","fp1"]}
		]}}`},
	})

	records, err := repo.FindByOwner(context.Background(), "https://intra/p", []string{"https://intra/f"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "https://intra/other", records[0].Payload.Metadata.SourceURL)

	require.Len(t, fake.requests, 1)
	assert.Contains(t, fake.requests[0].Body, `"terms":{"metadata.url":["https://intra/f"]}`)
}

func TestReplace_IndexesBeforeDeleting(t *testing.T) {
	repo, fake := newTestRepo(t, map[string][]string{
		"/_bulk": {`{"errors":false,"items":[]}`},
	})
	fresh := record("fp-new", "https://intra/p", "", "ny text")
	stale := record("fp-old", "https://intra/p", "", "gammal text")

	err := repo.Replace(context.Background(), []model.IndexRecord{stale}, []model.IndexRecord{fresh})
	require.NoError(t, err)

	require.Len(t, fake.requests, 1)
	req := fake.requests[0]
	assert.Contains(t, req.Query, "refresh=wait_for")

	var actions []string
	scanner := bufio.NewScanner(strings.NewReader(req.Body))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, `{"index"`):
			actions = append(actions, "index")
			assert.Contains(t, line, fresh.Key())
		case strings.HasPrefix(line, `{"delete"`):
			actions = append(actions, "delete")
			assert.Contains(t, line, stale.Key())
		default:
			var doc model.EsDocument
			require.NoError(t, json.Unmarshal([]byte(line), &doc))
			assert.Equal(t, "fp-new", doc.Fingerprint)
		}
	}
	assert.Equal(t, []string{"index", "delete"}, actions)
}

func TestReplace_IgnoresMissingDeletes(t *testing.T) {
	repo, _ := newTestRepo(t, map[string][]string{
		"/_bulk": {`{"errors":true,"items":[{"delete":{"_id":"x","status":404}}]}`},
	})
	err := repo.Replace(context.Background(), []model.IndexRecord{record("fp", "https://intra/p", "", "t")}, nil)
	assert.NoError(t, err)
}

func TestReplace_ReportsFailedItems(t *testing.T) {
	repo, _ := newTestRepo(t, map[string][]string{
		"/_bulk": {`{"errors":true,"items":[{"index":{"_id":"x","status":400,"error":{"type":"mapper_parsing_exception","reason":"bad vector"}}}]}`},
	})
	err := repo.Replace(context.Background(), nil, []model.IndexRecord{record("fp", "https://intra/p", "", "t")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mapper_parsing_exception")
}

func TestReplace_NothingToDo(t *testing.T) {
	repo, fake := newTestRepo(t, nil)
	require.NoError(t, repo.Replace(context.Background(), nil, nil))
	assert.Empty(t, fake.requests)
}

func TestDeleteByURLs(t *testing.T) {
	repo, fake := newTestRepo(t, map[string][]string{
		"/intranet_rag/_delete_by_query": {`{"deleted":7}`},
	})
	n, err := repo.DeleteByURLs(context.Background(), []string{"https://intra/p"})
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	require.Len(t, fake.requests, 1)
	assert.Contains(t, fake.requests[0].Body, `"metadata.source_url":["https://intra/p"]`)

	n, err = repo.DeleteByURLs(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, fake.requests, 1)
}

func TestOwnerUpdateDates(t *testing.T) {
	repo, _ := newTestRepo(t, map[string][]string{
		"/intranet_rag/_search": {`{"hits":{"hits":[]},"aggregations":{"owners":{
			"after_key":{"url":"https://intra/b"},
			"buckets":[
				{"key":{"url":"https://intra/a"},"latest":{"buckets":[{"key":"2024-05-17T09:30:15"}]}},
				{"key":{"url":"https://intra/b"},"latest":{"buckets":[]}}
			]}}}`},
	})
	dates, err := repo.OwnerUpdateDates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"https://intra/a": "2024-05-17T09:30:15",
		"https://intra/b": "",
	}, dates)
}

func TestListPrimaryURLs_ExcludesLinkedFiles(t *testing.T) {
	repo, fake := newTestRepo(t, map[string][]string{
		"/intranet_rag/_search": {`{"hits":{"hits":[]},"aggregations":{"owners":{"buckets":[
			{"key":{"url":"https://intra/a"},"latest":{"buckets":[]}}]}}}`},
	})
	urls, err := repo.ListPrimaryURLs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"https://intra/a"}, urls)
	assert.Contains(t, fake.requests[0].Body, `"must_not"`)
}

func TestSearchHits(t *testing.T) {
	resp := `{"hits":{"hits":[{"_id":"k1","_score":0.9,"_source":{"fingerprint":"fp1","content":"Semesterregler","metadata":{"url":"https://intra/p","title":"Semester"}}}]}}`
	repo, fake := newTestRepo(t, map[string][]string{
		"/intranet_rag/_search": {resp, resp},
	})

	hits, err := repo.KNNSearch(context.Background(), []float32{0.1}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "k1", hits[0].ID)
	assert.False(t, hits[0].Keyword)
	assert.Contains(t, fake.requests[0].Body, `"num_candidates":100`)

	hits, err = repo.KeywordSearch(context.Background(), []string{"semester"}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.True(t, hits[0].Keyword)
	assert.Equal(t, "Semesterregler", hits[0].Content)

	hits, err = repo.KeywordSearch(context.Background(), nil, 3)
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.Len(t, fake.requests, 2)
}

func TestSearch_ErrorStatus(t *testing.T) {
	fake := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"unavailable"}`))
	})
	srv := httptest.NewServer(fake)
	defer srv.Close()
	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}, MaxRetries: 0, DisableRetry: true})
	require.NoError(t, err)
	repo := NewVectorRepository(client, "intranet_rag")

	_, err = repo.FindByOwner(context.Background(), "https://intra/p", nil)
	assert.Error(t, err)
}
