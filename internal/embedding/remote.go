package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/hyperjump/kbsearch/pkg/utils"
)

// RemoteConfig holds settings for an OpenAI-compatible embedding API.
type RemoteConfig struct {
	APIKey            string
	BaseURL           string
	Model             string
	Dimensions        int
	RequestsPerSecond float64
	Burst             int
}

// RemoteBackend embeds text through an OpenAI-compatible API, rate limited client-side.
type RemoteBackend struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	limiter    *rate.Limiter
	wantDims   int
	dimensions atomic.Int64
}

// NewRemoteBackend creates a remote backend.
func NewRemoteBackend(cfg RemoteConfig) *RemoteBackend {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	r := &RemoteBackend{
		client:   openai.NewClientWithConfig(clientCfg),
		model:    openai.EmbeddingModel(cfg.Model),
		limiter:  rate.NewLimiter(limit, burst),
		wantDims: cfg.Dimensions,
	}
	r.dimensions.Store(int64(cfg.Dimensions))
	return r
}

// ID returns "remote:<model>-<dimensions>", or "remote:<model>" when the
// length was not configured.
func (r *RemoteBackend) ID() string {
	return backendID("remote", string(r.model), r.wantDims)
}

// Dimensions returns the configured or last observed vector length.
func (r *RemoteBackend) Dimensions() int {
	return int(r.dimensions.Load())
}

// Embed requests one embedding.
func (r *RemoteBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	req := openai.EmbeddingRequest{
		Input:          []string{text},
		Model:          r.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	if r.wantDims > 0 && r.model != openai.AdaEmbeddingV2 {
		req.Dimensions = r.wantDims
	}
	resp, err := r.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, classifyAPIError(err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding response")
	}
	vec := resp.Data[0].Embedding
	if r.wantDims > 0 && len(vec) != r.wantDims {
		return nil, fmt.Errorf("embedding API returned %d dimensions, want %d", len(vec), r.wantDims)
	}
	utils.NormalizeL2(vec)
	r.dimensions.Store(int64(len(vec)))
	return vec, nil
}

// classifyAPIError marks rate limiting, server errors and transport failures as transient.
func classifyAPIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if isRetryableStatus(apiErr.HTTPStatusCode) {
			return transient("embedding API error %d: %s", apiErr.HTTPStatusCode, apiErr.Message)
		}
		return fmt.Errorf("embedding API error %d: %s", apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if isRetryableStatus(reqErr.HTTPStatusCode) {
			return transient("embedding API error %d", reqErr.HTTPStatusCode)
		}
		return fmt.Errorf("embedding API error %d: %s", reqErr.HTTPStatusCode, string(reqErr.Body))
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return transient("embedding request failed: %v", err)
}

// backendID names a vector space. Two backends share an ID only when their
// vectors are comparable.
func backendID(kind, model string, dims int) string {
	if dims <= 0 {
		return kind + ":" + model
	}
	return fmt.Sprintf("%s:%s-%d", kind, model, dims)
}

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
