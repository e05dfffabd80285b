package cms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"intranet-assistant-go/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string) *Client {
	return NewClient(config.CMSConfig{
		BaseURL:           url,
		AccessToken:       "tok",
		ChatCollection:    "intranet_chat",
		MessageCollection: "intranet_messages",
	})
}

func TestCreateChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/items/intranet_chat", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"data":{"chat_id":4711}}`))
	}))
	defer server.Close()

	id, err := newTestClient(server.URL).CreateChat(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "4711", id)
}

func TestSaveMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/items/intranet_messages", r.URL.Path)
		var msg Message
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		assert.Equal(t, Message{ChatID: "7", Prompt: "fråga", Response: "svar"}, msg)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	err := newTestClient(server.URL).SaveMessage(context.Background(), Message{ChatID: "7", Prompt: "fråga", Response: "svar"})
	require.NoError(t, err)
}

func TestChatCost(t *testing.T) {
	var patched map[string]float64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			assert.Equal(t, "7", r.URL.Query().Get("filter[chat_id][_eq]"))
			assert.Equal(t, "cost_usd", r.URL.Query().Get("fields"))
			_, _ = w.Write([]byte(`{"data":[{"cost_usd":0.5}]}`))
		case http.MethodPatch:
			assert.Equal(t, "/items/intranet_chat/7", r.URL.Path)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&patched))
			_, _ = w.Write([]byte(`{"data":{}}`))
		}
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	cost, err := c.GetChatCost(context.Background(), "7")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, cost, 1e-9)

	require.NoError(t, c.UpdateChatCost(context.Background(), "7", 0.75))
	assert.InDelta(t, 0.75, patched["cost_usd"], 1e-9)
}

func TestGetChatCostMissing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"cost_usd":null}]}`))
	}))
	defer server.Close()

	cost, err := newTestClient(server.URL).GetChatCost(context.Background(), "1")
	require.NoError(t, err)
	assert.Zero(t, cost)
}

func TestErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).CreateChat(context.Background())
	assert.Error(t, err)
}
