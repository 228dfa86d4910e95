package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/hyperjump/kbsearch/pkg/utils"
)

// LocalBackend calls an embedding service on the local network.
// Request: POST {"text": ..., "model": ...}; response: {"embedding": [...]}.
type LocalBackend struct {
	url            string
	model          string
	wantDims       int
	maxInputTokens int
	client         *http.Client
	dimensions     atomic.Int64
}

type localRequest struct {
	Text  string `json:"text"`
	Model string `json:"model"`
}

type localResponse struct {
	Embedding []float32 `json:"embedding"`
}

// NewLocalBackend creates a backend for the service at url. When dimensions is
// positive, vectors of any other length are rejected. Input longer than
// maxInputTokens (estimated at 4 chars per token) is truncated before sending.
func NewLocalBackend(url, model string, dimensions, maxInputTokens int) *LocalBackend {
	l := &LocalBackend{
		url:            url,
		model:          model,
		wantDims:       dimensions,
		maxInputTokens: maxInputTokens,
		client:         &http.Client{},
	}
	l.dimensions.Store(int64(dimensions))
	return l
}

// ID returns "local:<model>-<dimensions>", or "local:<model>" when the
// length was not configured.
func (l *LocalBackend) ID() string {
	return backendID("local", l.model, l.wantDims)
}

// Dimensions returns the configured length, or the length of the last vector
// the service returned.
func (l *LocalBackend) Dimensions() int {
	return int(l.dimensions.Load())
}

// Embed sends text to the service. Network errors, 429 and 5xx are transient.
func (l *LocalBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	if l.maxInputTokens > 0 {
		text = utils.TruncateToTokens(text, l.maxInputTokens)
	}
	body, err := json.Marshal(localRequest{Text: text, Model: l.model})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, transient("local embedding request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, transient("local embedding service returned %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("local embedding service returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out localResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("local embedding service returned an empty vector")
	}
	if l.wantDims > 0 && len(out.Embedding) != l.wantDims {
		return nil, fmt.Errorf("local embedding service returned %d dimensions, want %d", len(out.Embedding), l.wantDims)
	}
	utils.NormalizeL2(out.Embedding)
	l.dimensions.Store(int64(len(out.Embedding)))
	return out.Embedding, nil
}
