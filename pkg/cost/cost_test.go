package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newModel(t *testing.T, embeddingModel, chatModel string) *Model {
	t.Helper()
	m, err := New(embeddingModel, chatModel)
	require.NoError(t, err)
	return m
}

func TestTokenCount(t *testing.T) {
	m := newModel(t, "text-embedding-3-large", "gpt-4o")
	assert.Equal(t, 0, m.TokenCount(""))
	// cl100k_base 下 "hello world" 为 2 个 token
	assert.Equal(t, 2, m.TokenCount("hello world"))
	assert.Equal(t, 4, m.TokenCount("hello world", "hello world"))
	assert.Greater(t, m.TokenCount("Hur söker jag semester i Personec?"), 5)
}

func TestChatTokenCountUsesChatEncoding(t *testing.T) {
	m := newModel(t, "text-embedding-3-large", "gpt-4o")
	assert.Equal(t, 0, m.ChatTokenCount())
	assert.Equal(t, 2, m.ChatTokenCount("hello world"))
}

func TestUnknownModelFallsBackToDefaultEncoding(t *testing.T) {
	m := newModel(t, "local-embedder", "local-llama")
	assert.Equal(t, 2, m.TokenCount("hello world"))
	assert.Zero(t, m.EmbeddingCost(1000))
}

func TestEmbeddingCost(t *testing.T) {
	m := newModel(t, "text-embedding-3-large", "gpt-4o")
	assert.InDelta(t, 0.00013, m.EmbeddingCost(1000), 1e-12)
	assert.InDelta(t, 0.13, m.EmbeddingCost(1_000_000), 1e-9)
}

func TestChatCost(t *testing.T) {
	m := newModel(t, "text-embedding-3-large", "gpt-4o-2024-08-06")
	assert.InDelta(t, 0.0025+0.01, m.ChatCost(1000, 1000), 1e-12)

	mini := newModel(t, "text-embedding-3-small", "gpt-4o-mini")
	assert.InDelta(t, 0.0006, mini.ChatCost(0, 1000), 1e-12)
}

func TestKnown(t *testing.T) {
	assert.False(t, Known("local-llama"))
	assert.True(t, Known("gpt-4o"))
}
