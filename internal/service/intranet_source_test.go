package service

import (
	"context"
	"errors"
	"fmt"
	"intranet-assistant-go/internal/config"
	"intranet-assistant-go/internal/model"
	"intranet-assistant-go/internal/pipeline"
	"intranet-assistant-go/pkg/cost"
	"intranet-assistant-go/pkg/intranet"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslateSessionError(t *testing.T) {
	err := translateSessionError(fmt.Errorf("fetch: %w", intranet.ErrSessionExpired))
	assert.ErrorIs(t, err, pipeline.ErrAuthenticationExpired)
	assert.ErrorIs(t, err, intranet.ErrSessionExpired)

	other := errors.New("timeout")
	assert.Equal(t, other, translateSessionError(other))
	assert.NoError(t, translateSessionError(nil))
}

type echoExtractor struct{}

func (echoExtractor) ExtractText(_ context.Context, r io.Reader, _, _ string) (string, error) {
	b, err := io.ReadAll(r)
	return string(b), err
}

// recordingStore 保存记录并统计 Replace 调用次数。
type recordingStore struct {
	records      []model.IndexRecord
	replaceCalls int
}

func (s *recordingStore) FindByOwner(context.Context, string, []string) ([]model.IndexRecord, error) {
	return s.records, nil
}

func (s *recordingStore) Replace(context.Context, []model.IndexRecord, []model.IndexRecord) error {
	s.replaceCalls++
	return nil
}

func TestProcessorKeepsFileRecordsWhenFileIsTemporarilyUnavailable(t *testing.T) {
	fileStatus := http.StatusServiceUnavailable
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/personal/semester":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(`<html><body><h1>Semester</h1><a href="/alla-dokument/1-x">Blankett</a></body></html>`))
		case "/alla-dokument/1-x/file":
			w.Header().Set("Content-Type", "application/pdf")
			w.WriteHeader(fileStatus)
			_, _ = w.Write([]byte("Blankettext"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client, err := intranet.NewClient(config.IntranetConfig{
		BaseURL:        server.URL,
		FileLinkPrefix: "/alla-dokument/",
		Timeout:        5 * time.Second,
	}, echoExtractor{}, nil)
	require.NoError(t, err)

	pageURL := server.URL + "/personal/semester"
	fileURL := server.URL + "/alla-dokument/1-x/file"
	store := &recordingStore{records: []model.IndexRecord{
		{ID: pipeline.Fingerprint("Semester Blankett"), Payload: model.RecordPayload{Content: "Semester Blankett", Metadata: model.RecordMetadata{URL: pageURL}}},
		{ID: pipeline.Fingerprint("Blankettext"), Payload: model.RecordPayload{Content: "Blankettext", Metadata: model.RecordMetadata{URL: fileURL, SourceURL: pageURL}}},
	}}
	costModel, err := cost.New("text-embedding-3-large", "gpt-4o")
	require.NoError(t, err)
	writer := pipeline.NewIndexWriter(store, &fakeEmbedding{}, costModel, pipeline.WriterConfig{Location: cet})
	proc := pipeline.NewProcessor(NewIntranetSource(client), store, writer, nil, pipeline.ProcessorConfig{ChunkSize: 4000, ChunkOverlap: 300})

	_, err = proc.UpdateURL(context.Background(), pageURL, model.TriggerSitemap)
	require.ErrorIs(t, err, pipeline.ErrUpstreamUnavailable)
	assert.Zero(t, store.replaceCalls)

	// 文件恢复后内容未变化，不需要任何写入
	fileStatus = http.StatusOK
	result, err := proc.UpdateURL(context.Background(), pageURL, model.TriggerSitemap)
	require.NoError(t, err)
	assert.Equal(t, model.SyncStatusUnchanged, result.Status)
	assert.Zero(t, store.replaceCalls)
}
