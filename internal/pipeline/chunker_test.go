package pipeline

import (
	"strings"
	"testing"

	"intranet-assistant-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitTextReconstructsOriginal(t *testing.T) {
	text := strings.Repeat("Kommunens intranät: ärende 0123456789. ", 300)
	runes := []rune(text)
	require.Greater(t, len(runes), 4000)

	chunks, err := SplitText(text, 4000, 300)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	var rebuilt strings.Builder
	for i, c := range chunks {
		cr := []rune(c)
		assert.LessOrEqual(t, len(cr), 4000)
		assert.NotEmpty(t, c)
		if i == 0 {
			rebuilt.WriteString(c)
			continue
		}
		rebuilt.WriteString(string(cr[300:]))
	}
	assert.Equal(t, text, rebuilt.String())
}

func TestSplitTextBoundaries(t *testing.T) {
	runes := make([]rune, 4300)
	for i := range runes {
		runes[i] = rune('a' + i%26)
	}
	text := string(runes)

	chunks, err := SplitText(text, 4000, 300)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, string(runes[0:4000]), chunks[0])
	assert.Equal(t, string(runes[3700:4300]), chunks[1])
}

func TestSplitTextStopsWhenEndReached(t *testing.T) {
	// 第二块恰好到达末尾时不能再多出一块只含重叠部分的分块
	text := strings.Repeat("x", 7)
	chunks, err := SplitText(text, 4, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"xxxx", "xxxx"}, chunks)
}

func TestSplitTextShortText(t *testing.T) {
	chunks, err := SplitText("kort text", 4000, 300)
	require.NoError(t, err)
	assert.Equal(t, []string{"kort text"}, chunks)

	exact := strings.Repeat("å", 10)
	chunks, err = SplitText(exact, 10, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{exact}, chunks)
}

func TestSplitTextCountsRunes(t *testing.T) {
	chunks, err := SplitText("åäöåäö", 4, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"åäöå", "öåäö"}, chunks)
}

func TestSplitTextInvalidArguments(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		window  int
		overlap int
	}{
		{"zero window", "abc", 0, 0},
		{"negative window", "abc", -1, 0},
		{"overlap equals window", "abc", 3, 3},
		{"overlap exceeds window", "abc", 3, 5},
		{"negative overlap", "abc", 3, -1},
		{"empty text", "", 3, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SplitText(tt.text, tt.window, tt.overlap)
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
}

func TestChunkDocument(t *testing.T) {
	doc := model.Document{
		URL:       "https://intranet.example.se/alla-dokument/42/file",
		Title:     "Policy",
		RawText:   "0123456789",
		SourceURL: "https://intranet.example.se/policy",
	}
	chunks, err := ChunkDocument(doc, 6, 2)
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	for i, c := range chunks {
		assert.Equal(t, i, c.Ordinal)
		assert.Equal(t, 2, c.Total)
		assert.Equal(t, doc.URL, c.ParentURL)
		assert.Equal(t, doc.SourceURL, c.SourceURL)
		assert.Equal(t, doc.Title, c.Title)
		assert.Equal(t, Fingerprint(c.Text), c.Fingerprint)
	}
	assert.Equal(t, "012345", chunks[0].Text)
	assert.Equal(t, "456789", chunks[1].Text)
	assert.Equal(t, "Chunk 2 of 2", chunks[1].Info())
}

func TestChunkDocumentEmptyText(t *testing.T) {
	_, err := ChunkDocument(model.Document{URL: "https://intranet.example.se/tom"}, 10, 2)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
