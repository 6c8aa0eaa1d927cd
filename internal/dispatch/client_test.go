package dispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/recall/pkg/models"
)

func testChunks() []models.Chunk {
	return []models.Chunk{
		{Timestamp: 1700000000000, Type: models.ChunkTerminalInput, Content: "claude fix the test", SessionID: "term-1"},
		{Timestamp: 1700000000500, Type: models.ChunkClaudeOutput, Content: "done", SessionID: "term-1"},
	}
}

func TestClient_SendDeliversBatch(t *testing.T) {
	var got models.CaptureBatch
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(models.CaptureResponse{
			Success:            true,
			Processed:          len(got.Chunks),
			CurrentSession:     "session-1",
			TotalConversations: 7,
		})
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL).Send(context.Background(), testChunks())
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, 2, resp.Processed)
	assert.Equal(t, "session-1", resp.CurrentSession)
	require.Len(t, got.Chunks, 2)
	assert.Equal(t, "claude fix the test", got.Chunks[0].Content)
}

func TestClient_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "db locked", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Send(context.Background(), testChunks())
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestClient_ClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "malformed batch", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Send(context.Background(), testChunks())
	require.Error(t, err)
	assert.False(t, IsTransient(err), "a 4xx means retrying the same bytes cannot succeed")
}

func TestClient_NetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	_, err := NewClient(srv.URL).Send(context.Background(), testChunks())
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestClient_MalformedResponseIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Send(context.Background(), testChunks())
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}
