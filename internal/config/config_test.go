package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
elasticsearch:
  addresses: "http://es:9200"
intranet:
  excluded_paths: ["/search", "/logout"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://es:9200", cfg.Elasticsearch.Addresses)
	assert.Equal(t, "intranet_rag", cfg.Elasticsearch.IndexName)
	assert.Equal(t, 4000, cfg.Indexing.ChunkSize)
	assert.Equal(t, 300, cfg.Indexing.ChunkOverlap)
	assert.Equal(t, "Europe/Stockholm", cfg.Indexing.TimeZone)
	assert.Equal(t, 2*time.Second, cfg.Embedding.BatchDelay)
	assert.Equal(t, 10*time.Second, cfg.Intranet.Timeout)
	assert.Equal(t, 5.0, cfg.Intranet.RequestsPerSecond)
	assert.Equal(t, []string{"/search", "/logout"}, cfg.Intranet.ExcludedPaths)
	assert.Equal(t, 50, cfg.Maintenance.PruneThreshold)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
embedding:
  api_key: "from-file"
`)
	t.Setenv("INTRANET_EMBEDDING_API_KEY", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Embedding.APIKey)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestPromptStore(t *testing.T) {
	store := NewPromptStore(LLMPromptConfig{Answer: "a"})
	assert.Equal(t, "a", store.Get().Answer)
	store.Set(LLMPromptConfig{Answer: "b", QueryRewrite: "q"})
	assert.Equal(t, LLMPromptConfig{Answer: "b", QueryRewrite: "q"}, store.Get())
}
