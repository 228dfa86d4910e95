package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kbsearch/internal/models"
)

func TestLocalBackend_Embed(t *testing.T) {
	var got localRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(localResponse{Embedding: []float32{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	b := NewLocalBackend(srv.URL, "mini", 0, 2)
	assert.Equal(t, "local:mini", b.ID())
	assert.Equal(t, 0, b.Dimensions())

	vec, err := b.Embed(context.Background(), "abcdefghijkl")
	require.NoError(t, err)
	assert.Len(t, vec, 3)
	assert.Equal(t, 3, b.Dimensions())
	assert.Equal(t, "mini", got.Model)
	assert.Equal(t, "abcdefgh", got.Text, "input should be cut to 2 tokens * 4 chars")
}

func TestLocalBackend_IDCarriesDimensions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(localResponse{Embedding: []float32{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	small := NewLocalBackend(srv.URL, "mini", 3, 0)
	large := NewLocalBackend(srv.URL, "mini", 768, 0)
	assert.Equal(t, "local:mini-3", small.ID())
	assert.Equal(t, "local:mini-768", large.ID())
	assert.NotEqual(t, small.ID(), large.ID(), "same model at another length is another vector space")
	assert.Equal(t, 768, large.Dimensions())

	_, err := small.Embed(context.Background(), "x")
	require.NoError(t, err)

	_, err = large.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.False(t, IsTransient(err))
	assert.Contains(t, err.Error(), "returned 3 dimensions, want 768")
}

func TestLocalBackend_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewLocalBackend(srv.URL, "m", 0, 0).Embed(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrTransientBackend))
}

func TestLocalBackend_BadRequestIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad model", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewLocalBackend(srv.URL, "m", 0, 0).Embed(context.Background(), "x")
	require.Error(t, err)
	assert.False(t, IsTransient(err))
	assert.Contains(t, err.Error(), "bad model")
}

func TestLocalBackend_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewLocalBackend(url, "m", 0, 0).Embed(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func newEmbeddingsServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"upstream","type":"server_error"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"object":"list","data":[{"object":"embedding","embedding":[0.5,0.5,0.5,0.5],"index":0}],"model":"m","usage":{"prompt_tokens":1,"total_tokens":1}}`))
	}))
}

func TestRemoteBackend_Embed(t *testing.T) {
	srv := newEmbeddingsServer(t, http.StatusOK)
	defer srv.Close()

	b := NewRemoteBackend(RemoteConfig{APIKey: "k", BaseURL: srv.URL, Model: "m", RequestsPerSecond: 100, Burst: 10})
	assert.Equal(t, "remote:m", b.ID())
	vec, err := b.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.5, 0.5, 0.5}, vec)
	assert.Equal(t, 4, b.Dimensions())
}

func TestRemoteBackend_IDCarriesDimensions(t *testing.T) {
	srv := newEmbeddingsServer(t, http.StatusOK)
	defer srv.Close()

	b := NewRemoteBackend(RemoteConfig{APIKey: "k", BaseURL: srv.URL, Model: "m", Dimensions: 4})
	assert.Equal(t, "remote:m-4", b.ID())
	_, err := b.Embed(context.Background(), "hello")
	require.NoError(t, err)

	wide := NewRemoteBackend(RemoteConfig{APIKey: "k", BaseURL: srv.URL, Model: "m", Dimensions: 8})
	assert.Equal(t, "remote:m-8", wide.ID())
	_, err = wide.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.False(t, IsTransient(err))
}

func TestRemoteBackend_ServerErrorIsTransient(t *testing.T) {
	srv := newEmbeddingsServer(t, http.StatusInternalServerError)
	defer srv.Close()

	b := NewRemoteBackend(RemoteConfig{APIKey: "k", BaseURL: srv.URL, Model: "m"})
	_, err := b.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestRemoteBackend_UnauthorizedIsPermanent(t *testing.T) {
	srv := newEmbeddingsServer(t, http.StatusUnauthorized)
	defer srv.Close()

	b := NewRemoteBackend(RemoteConfig{APIKey: "k", BaseURL: srv.URL, Model: "m"})
	_, err := b.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.False(t, IsTransient(err))
}
