package embedding

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kbsearch/internal/config"
	"github.com/hyperjump/kbsearch/internal/metrics"
	"github.com/hyperjump/kbsearch/pkg/utils"
)

// Generator embeds text with the first backend in priority order that answers.
// Each backend gets maxRetries attempts with doubling delay; when they are used up the
// next backend is tried. The last tier is always a FallbackBackend, so Embed only
// fails when ctx is done.
type Generator struct {
	backends    []Backend
	maxRetries  int
	baseDelay   time.Duration
	callTimeout time.Duration
	cache       *EmbeddingCache
	store       Store
	logger      *zap.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(g *Generator) {
		g.logger = logger
	}
}

// WithRetry sets the attempt count per backend and the first backoff delay.
func WithRetry(maxRetries int, baseDelay time.Duration) Option {
	return func(g *Generator) {
		g.maxRetries = maxRetries
		g.baseDelay = baseDelay
	}
}

// WithCallTimeout bounds each backend call.
func WithCallTimeout(d time.Duration) Option {
	return func(g *Generator) {
		g.callTimeout = d
	}
}

// WithCache enables the in-process LRU.
func WithCache(c *EmbeddingCache) Option {
	return func(g *Generator) {
		g.cache = c
	}
}

// WithStore enables a shared cache behind the LRU.
func WithStore(s Store) Option {
	return func(g *Generator) {
		g.store = s
	}
}

// NewGenerator builds a chain over backends. A FallbackBackend is appended when the
// list does not end with one.
func NewGenerator(backends []Backend, opts ...Option) *Generator {
	g := &Generator{
		backends:    append([]Backend(nil), backends...),
		maxRetries:  3,
		baseDelay:   200 * time.Millisecond,
		callTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.maxRetries < 1 {
		g.maxRetries = 1
	}
	if len(g.backends) == 0 {
		g.backends = append(g.backends, NewFallbackBackend(0))
	} else if _, ok := g.backends[len(g.backends)-1].(*FallbackBackend); !ok {
		g.backends = append(g.backends, NewFallbackBackend(0))
	}
	return g
}

// NewGeneratorFromConfig builds the chain named by cfg.EmbeddingBackendPriority.
// Local is skipped without a URL and remote without an API key.
func NewGeneratorFromConfig(cfg *config.Config, logger *zap.Logger) (*Generator, error) {
	ec := cfg.Embedding
	var backends []Backend
	for _, name := range cfg.EmbeddingBackendPriority {
		switch name {
		case config.BackendLocal:
			if ec.Local.URL != "" {
				backends = append(backends, NewLocalBackend(ec.Local.URL, ec.Local.Model, ec.Local.Dimensions, ec.MaxInputTokens))
			}
		case config.BackendRemote:
			if ec.Remote.APIKey != "" {
				backends = append(backends, NewRemoteBackend(RemoteConfig{
					APIKey:            ec.Remote.APIKey,
					BaseURL:           ec.Remote.BaseURL,
					Model:             ec.Remote.Model,
					Dimensions:        ec.Remote.Dimensions,
					RequestsPerSecond: ec.Remote.RequestsPerSecond,
					Burst:             ec.Remote.Burst,
				}))
			}
		case config.BackendFallback:
			backends = append(backends, NewFallbackBackend(ec.Fallback.Dimensions))
		default:
			return nil, fmt.Errorf("unknown embedding backend %q", name)
		}
	}
	if len(backends) == 0 || !isFallback(backends[len(backends)-1]) {
		backends = append(backends, NewFallbackBackend(ec.Fallback.Dimensions))
	}

	opts := []Option{
		WithLogger(logger),
		WithRetry(ec.MaxRetries, ec.RetryBaseDelay),
		WithCallTimeout(ec.CallTimeout),
	}
	if ec.CacheSize > 0 {
		opts = append(opts, WithCache(NewEmbeddingCache(ec.CacheSize)))
	}
	if len(ec.Redis.Addrs) > 0 {
		store, err := NewRedisStore(RedisConfig{
			Addrs:    ec.Redis.Addrs,
			Username: ec.Redis.Username,
			Password: ec.Redis.Password,
			DB:       ec.Redis.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create embedding cache store: %w", err)
		}
		opts = append(opts, WithStore(store))
	}
	return NewGenerator(backends, opts...), nil
}

func isFallback(b Backend) bool {
	_, ok := b.(*FallbackBackend)
	return ok
}

// Backends returns the chain in priority order.
func (g *Generator) Backends() []Backend {
	return append([]Backend(nil), g.backends...)
}

// Embed returns the vector from the highest-priority backend that succeeds.
func (g *Generator) Embed(ctx context.Context, text string) (Vector, error) {
	var lastErr error
	for i, b := range g.backends {
		vec, err := g.embedCached(ctx, b, text)
		if err == nil {
			return Vector{Values: vec, BackendID: b.ID()}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Vector{}, ctxErr
		}
		lastErr = err
		g.fallThrough(g.backends, i, err)
	}
	return Vector{}, fmt.Errorf("all embedding backends failed: %w", lastErr)
}

// EmbedFor embeds with the backend that has the given ID, so a query lands in the same
// vector space as the collection it searches. When that backend fails its error is
// returned; a vector from another backend could not be compared against the collection.
// Only when no backend has the ID does the normal chain answer.
func (g *Generator) EmbedFor(ctx context.Context, backendID, text string) (Vector, error) {
	for _, b := range g.backends {
		if b.ID() != backendID {
			continue
		}
		vec, err := g.embedCached(ctx, b, text)
		if err == nil {
			return Vector{Values: vec, BackendID: b.ID()}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Vector{}, ctxErr
		}
		if g.logger != nil {
			g.logger.Warn("Collection embedding backend failed",
				zap.String("backend", backendID), zap.Error(err))
		}
		return Vector{}, fmt.Errorf("embedding backend %s: %w", backendID, err)
	}
	return g.Embed(ctx, text)
}

// EmbedBatch embeds every text with a single backend so a document never mixes vector
// spaces. A backend that fails on any text is abandoned for the whole batch.
func (g *Generator) EmbedBatch(ctx context.Context, texts []string) ([][]float32, string, error) {
	return g.embedBatch(ctx, g.backends, texts)
}

// EmbedBatchFor is EmbedBatch with the backend named by backendID tried first, so new
// chunks of an established collection stay in its vector space while that backend works.
func (g *Generator) EmbedBatchFor(ctx context.Context, backendID string, texts []string) ([][]float32, string, error) {
	if backendID == "" {
		return g.EmbedBatch(ctx, texts)
	}
	ordered := make([]Backend, 0, len(g.backends))
	for _, b := range g.backends {
		if b.ID() == backendID {
			ordered = append(ordered, b)
		}
	}
	for _, b := range g.backends {
		if b.ID() != backendID {
			ordered = append(ordered, b)
		}
	}
	return g.embedBatch(ctx, ordered, texts)
}

func (g *Generator) embedBatch(ctx context.Context, chain []Backend, texts []string) ([][]float32, string, error) {
	var lastErr error
next:
	for i, b := range chain {
		out := make([][]float32, len(texts))
		for j, text := range texts {
			vec, err := g.embedCached(ctx, b, text)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, "", ctxErr
				}
				lastErr = err
				g.fallThrough(chain, i, err)
				continue next
			}
			out[j] = vec
		}
		return out, b.ID(), nil
	}
	return nil, "", fmt.Errorf("all embedding backends failed: %w", lastErr)
}

func (g *Generator) fallThrough(chain []Backend, i int, err error) {
	b := chain[i]
	metrics.EmbeddingFallthroughTotal.WithLabelValues(b.ID()).Inc()
	if g.logger != nil && i+1 < len(chain) {
		g.logger.Warn("Embedding backend unavailable, trying next tier",
			zap.String("backend", b.ID()),
			zap.String("next", chain[i+1].ID()),
			zap.Error(err))
	}
}

func (g *Generator) embedCached(ctx context.Context, b Backend, text string) ([]float32, error) {
	key := cacheKey(b.ID(), text)
	if g.cache != nil {
		if vec, ok := g.cache.Get(key); ok {
			metrics.EmbeddingCacheTotal.WithLabelValues("memory", "hit").Inc()
			return vec, nil
		}
		metrics.EmbeddingCacheTotal.WithLabelValues("memory", "miss").Inc()
	}
	if g.store != nil {
		if vec, ok := g.fromStore(ctx, key); ok {
			if g.cache != nil {
				g.cache.Set(key, vec)
			}
			return vec, nil
		}
	}

	vec, err := g.embedWithRetry(ctx, b, text)
	if err != nil {
		return nil, err
	}
	if g.cache != nil {
		g.cache.Set(key, vec)
	}
	if g.store != nil {
		if err := g.store.Set(ctx, key, utils.EncodeVector(vec)); err != nil && g.logger != nil {
			g.logger.Warn("Failed to cache embedding", zap.String("key", key), zap.Error(err))
		}
	}
	return vec, nil
}

func (g *Generator) fromStore(ctx context.Context, key string) ([]float32, bool) {
	data, err := g.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) && g.logger != nil {
			g.logger.Warn("Failed to read cached embedding", zap.String("key", key), zap.Error(err))
		}
		metrics.EmbeddingCacheTotal.WithLabelValues("redis", "miss").Inc()
		return nil, false
	}
	vec, err := utils.DecodeVector(data)
	if err != nil || len(vec) == 0 {
		metrics.EmbeddingCacheTotal.WithLabelValues("redis", "miss").Inc()
		return nil, false
	}
	metrics.EmbeddingCacheTotal.WithLabelValues("redis", "hit").Inc()
	return vec, true
}

// embedWithRetry calls b up to maxRetries times. Only transient errors are retried.
func (g *Generator) embedWithRetry(ctx context.Context, b Backend, text string) ([]float32, error) {
	delay := g.baseDelay
	var lastErr error
	for attempt := 0; attempt < g.maxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
			delay *= 2
		}

		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if g.callTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, g.callTimeout)
		}
		start := time.Now()
		vec, err := b.Embed(callCtx, text)
		cancel()
		metrics.EmbeddingRequestDuration.WithLabelValues(b.ID()).Observe(time.Since(start).Seconds())

		if err == nil {
			metrics.EmbeddingRequestsTotal.WithLabelValues(b.ID(), "success").Inc()
			return vec, nil
		}
		metrics.EmbeddingRequestsTotal.WithLabelValues(b.ID(), "error").Inc()
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !IsTransient(err) {
			break
		}
		if g.logger != nil {
			g.logger.Debug("Embedding attempt failed",
				zap.String("backend", b.ID()),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
		}
	}
	return nil, lastErr
}

// Close releases the shared cache connection, if any.
func (g *Generator) Close() error {
	if c, ok := g.store.(interface{ Close() }); ok {
		c.Close()
	}
	if c, ok := g.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
