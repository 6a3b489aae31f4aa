package embedding

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOllamaServer(t *testing.T, handler func(req ollamaEmbedRequest) (int, any)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		var req ollamaEmbedRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		status, body := handler(req)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaEmbedder_EmbedBatch(t *testing.T) {
	srv := newOllamaServer(t, func(req ollamaEmbedRequest) (int, any) {
		assert.Equal(t, "test-model", req.Model)
		v := float32(len(req.Prompt))
		return http.StatusOK, ollamaEmbedResponse{Embedding: []float32{v, 1, 0}}
	})

	e, err := NewOllamaEmbedder(srv.URL+"/", "test-model", 3, time.Second)
	require.NoError(t, err)
	defer e.Close()

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "abc"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{1, 1, 0}, vecs[0])
	assert.Equal(t, []float32{3, 1, 0}, vecs[1])
	assert.Equal(t, 3, e.Dimensions())
}

func TestOllamaEmbedder_DimensionMismatch(t *testing.T) {
	srv := newOllamaServer(t, func(ollamaEmbedRequest) (int, any) {
		return http.StatusOK, ollamaEmbedResponse{Embedding: []float32{1, 2}}
	})
	e, err := NewOllamaEmbedder(srv.URL, "m", 3, time.Second)
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrEncodingFailure)
}

func TestOllamaEmbedder_ServerErrorFailsWholeBatch(t *testing.T) {
	var calls atomic.Int32
	srv := newOllamaServer(t, func(req ollamaEmbedRequest) (int, any) {
		if calls.Add(1) == 2 {
			return http.StatusInternalServerError, map[string]string{"error": "model not loaded"}
		}
		return http.StatusOK, ollamaEmbedResponse{Embedding: []float32{1, 2, 3}}
	})
	e, err := NewOllamaEmbedder(srv.URL, "m", 3, time.Second)
	require.NoError(t, err)

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	assert.ErrorIs(t, err, ErrEncodingFailure)
	assert.Contains(t, err.Error(), "model not loaded")
	assert.Nil(t, vecs)
}

func TestOllamaEmbedder_RejectsBlankWithoutCalling(t *testing.T) {
	var calls atomic.Int32
	srv := newOllamaServer(t, func(ollamaEmbedRequest) (int, any) {
		calls.Add(1)
		return http.StatusOK, ollamaEmbedResponse{Embedding: []float32{1}}
	})
	e, err := NewOllamaEmbedder(srv.URL, "m", 1, time.Second)
	require.NoError(t, err)

	_, err = e.EmbedBatch(context.Background(), []string{"fine", ""})
	assert.ErrorIs(t, err, ErrEncodingFailure)
	assert.Zero(t, calls.Load())
}

func TestNewOllamaEmbedder_Defaults(t *testing.T) {
	e, err := NewOllamaEmbedder("", "", 768, 0)
	require.NoError(t, err)
	assert.Equal(t, defaultOllamaURL, e.baseURL)
	assert.Equal(t, defaultOllamaModel, e.model)

	_, err = NewOllamaEmbedder("", "", 0, 0)
	assert.Error(t, err)
}
