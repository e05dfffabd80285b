package service

import (
	"context"
	"intranet-assistant-go/internal/model"
	"intranet-assistant-go/internal/pipeline"
	"intranet-assistant-go/pkg/cms"
	"intranet-assistant-go/pkg/intranet"
	"intranet-assistant-go/pkg/llm"
	"intranet-assistant-go/pkg/log"
	"intranet-assistant-go/pkg/tasks"
	"os"
	"strings"
	"testing"
	"time"
)

func TestMain(m *testing.M) {
	log.InitNop()
	os.Exit(m.Run())
}

type fakeVectorRepo struct {
	updateDates  map[string]string
	primaryURLs  []string
	deletedCalls [][]string
	deleteCount  int
	deleteErr    error
	knnHits      []model.SearchHit
	keywordHits  []model.SearchHit
	keywordCalls int
}

func (f *fakeVectorRepo) FindByOwner(ctx context.Context, primaryURL string, fileURLs []string) ([]model.IndexRecord, error) {
	return nil, nil
}

func (f *fakeVectorRepo) Replace(ctx context.Context, stale []model.IndexRecord, records []model.IndexRecord) error {
	return nil
}

func (f *fakeVectorRepo) DeleteByURLs(ctx context.Context, urls []string) (int, error) {
	f.deletedCalls = append(f.deletedCalls, urls)
	return f.deleteCount, f.deleteErr
}

func (f *fakeVectorRepo) OwnerUpdateDates(ctx context.Context) (map[string]string, error) {
	return f.updateDates, nil
}

func (f *fakeVectorRepo) ListPrimaryURLs(ctx context.Context) ([]string, error) {
	return f.primaryURLs, nil
}

func (f *fakeVectorRepo) KNNSearch(ctx context.Context, vector []float32, k int) ([]model.SearchHit, error) {
	return f.knnHits, nil
}

func (f *fakeVectorRepo) KeywordSearch(ctx context.Context, keywords []string, size int) ([]model.SearchHit, error) {
	f.keywordCalls++
	if len(f.keywordHits) > size {
		return f.keywordHits[:size], nil
	}
	return f.keywordHits, nil
}

type fakeSyncRunRepo struct {
	runs []model.SyncRun
}

func (f *fakeSyncRunRepo) Create(ctx context.Context, run *model.SyncRun) error {
	f.runs = append(f.runs, *run)
	return nil
}

func (f *fakeSyncRunRepo) ListRecent(ctx context.Context, url string, limit int) ([]model.SyncRun, error) {
	return f.runs, nil
}

type fakeSitemap struct {
	entries     []intranet.SitemapEntry
	validateErr error
}

func (f *fakeSitemap) ValidateSession(ctx context.Context) error { return f.validateErr }

func (f *fakeSitemap) Sitemap(ctx context.Context) ([]intranet.SitemapEntry, error) {
	return f.entries, nil
}

// fakeProcessor 按 URL 返回预设的结果或错误。
type fakeProcessor struct {
	results map[string]*pipeline.Result
	errs    map[string]error
	calls   []string
}

func (f *fakeProcessor) UpdateURL(ctx context.Context, url, trigger string) (*pipeline.Result, error) {
	f.calls = append(f.calls, url+"|"+trigger)
	if err := f.errs[url]; err != nil {
		return nil, err
	}
	if r, ok := f.results[url]; ok {
		return r, nil
	}
	return &pipeline.Result{URL: url, Status: model.SyncStatusUnchanged}, nil
}

type fakeQueue struct {
	tasks []tasks.URLUpdateTask
}

func (f *fakeQueue) Enqueue(ctx context.Context, task tasks.URLUpdateTask) error {
	f.tasks = append(f.tasks, task)
	return nil
}

type fakePinger struct {
	successes int
	failures  []string
}

func (f *fakePinger) Success(ctx context.Context) error {
	f.successes++
	return nil
}

func (f *fakePinger) Fail(ctx context.Context, message string) error {
	f.failures = append(f.failures, message)
	return nil
}

type fakeEmbedding struct {
	tokens int
	err    error
	texts  []string
}

func (f *fakeEmbedding) Embed(ctx context.Context, texts []string) ([][]float32, int, error) {
	f.texts = append(f.texts, texts...)
	if f.err != nil {
		return nil, 0, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1}
	}
	return out, f.tokens, nil
}

// fakeLLM 返回固定的改写结果，并把 chunks 逐个写入流。
type fakeLLM struct {
	rewrite       string
	chunks        []string
	streamErr     error
	completeCalls [][]llm.Message
	streamCalls   [][]llm.Message
}

func (f *fakeLLM) Complete(ctx context.Context, messages []llm.Message, gen *llm.GenerationParams) (string, llm.Usage, error) {
	f.completeCalls = append(f.completeCalls, messages)
	return f.rewrite, llm.Usage{PromptTokens: 100, CompletionTokens: 10}, nil
}

func (f *fakeLLM) StreamChatMessages(ctx context.Context, messages []llm.Message, gen *llm.GenerationParams, writer llm.MessageWriter) (llm.Usage, error) {
	f.streamCalls = append(f.streamCalls, messages)
	if f.streamErr != nil {
		return llm.Usage{}, f.streamErr
	}
	for _, c := range f.chunks {
		if err := writer.WriteMessage(1, []byte(c)); err != nil {
			return llm.Usage{}, err
		}
	}
	return llm.Usage{PromptTokens: 1000, CompletionTokens: 100}, nil
}

type fakeChatStore struct {
	newID      string
	createErr  error
	created    int
	messages   []cms.Message
	storedCost float64
	updated    map[string]float64
}

func (f *fakeChatStore) CreateChat(ctx context.Context) (string, error) {
	f.created++
	return f.newID, f.createErr
}

func (f *fakeChatStore) SaveMessage(ctx context.Context, msg cms.Message) error {
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeChatStore) GetChatCost(ctx context.Context, chatID string) (float64, error) {
	return f.storedCost, nil
}

func (f *fakeChatStore) UpdateChatCost(ctx context.Context, chatID string, costUSD float64) error {
	if f.updated == nil {
		f.updated = make(map[string]float64)
	}
	f.updated[chatID] = costUSD
	return nil
}

// streamRecorder 记录写入流的所有分块。
type streamRecorder struct {
	frames []string
}

func (r *streamRecorder) WriteMessage(messageType int, data []byte) error {
	r.frames = append(r.frames, string(data))
	return nil
}

func (r *streamRecorder) String() string {
	return strings.Join(r.frames, "")
}

func mustTime(t *testing.T, s string) *time.Time {
	t.Helper()
	v, err := time.Parse(intranet.LastModLayout, s)
	if err != nil {
		t.Fatalf("bad time %q: %v", s, err)
	}
	return &v
}
