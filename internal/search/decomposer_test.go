package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeuristicDecomposer(t *testing.T) {
	tests := []struct {
		name  string
		query string
		limit int
		want  []string
	}{
		{"conjunction", "refund policy and shipping times", 4, []string{"refund policy", "shipping times"}},
		{"multiword conjunction", "pricing as well as discounts", 4, []string{"pricing", "discounts"}},
		{"word boundary", "brand guidelines", 4, []string{"brand guidelines"}},
		{"two questions", "What is BM25? How does fusion work?", 4, []string{"What is BM25?", "How does fusion work?"}},
		{"single question", "What is BM25?", 4, []string{"What is BM25?"}},
		{"duplicates", "fox and cats and Fox", 4, []string{"fox", "cats"}},
		{"bounded", "a1 and b2 and c3 and d4", 3, []string{"a1", "b2", "c3 d4"}},
		{"plain", "  fox  ", 4, []string{"fox"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := HeuristicDecomposer{}.Decompose(context.Background(), tt.query, tt.limit)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBound(t *testing.T) {
	assert.Equal(t, []string{"a b c"}, bound([]string{"a", "b", "c"}, 1))
	assert.Equal(t, []string{"a", "b"}, bound([]string{"a", "b"}, 0))
}

func chatServer(t *testing.T, status int, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"unavailable","type":"server_error"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLLMDecomposer(t *testing.T) {
	srv := chatServer(t, http.StatusOK, "1. refund policy\n- shipping times\n\n")
	d := NewLLMDecomposer("key", srv.URL, "test-model", nil)

	got, err := d.Decompose(context.Background(), "what about refunds and delivery", 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"refund policy", "shipping times"}, got)
}

func TestLLMDecomposer_FallsBackToHeuristic(t *testing.T) {
	srv := chatServer(t, http.StatusInternalServerError, "")
	d := NewLLMDecomposer("key", srv.URL, "test-model", nil)

	got, err := d.Decompose(context.Background(), "refunds and delivery", 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"refunds", "delivery"}, got)
}

func TestLLMDecomposer_EmptyAnswer(t *testing.T) {
	srv := chatServer(t, http.StatusOK, "  \n ")
	d := NewLLMDecomposer("key", srv.URL, "test-model", nil)

	got, err := d.Decompose(context.Background(), "fox", 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"fox"}, got)
}
