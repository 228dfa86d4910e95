// Package search runs hybrid BM25 and vector retrieval over a collection and fuses
// the rankings.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kbsearch/internal/collection"
	"github.com/hyperjump/kbsearch/internal/config"
	"github.com/hyperjump/kbsearch/internal/embedding"
	"github.com/hyperjump/kbsearch/internal/metrics"
	"github.com/hyperjump/kbsearch/internal/models"
)

// QueryEmbedder embeds a query, preferring the backend a collection was built with.
type QueryEmbedder interface {
	EmbedFor(ctx context.Context, backendID, text string) (embedding.Vector, error)
}

// Engine runs hybrid (lexical + vector) search against registry collections.
type Engine struct {
	registry   *collection.Registry
	embedder   QueryEmbedder
	decomposer Decomposer
	config     config.HybridConfig
	logger     *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for degraded searches.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithDecomposer replaces the heuristic query decomposer.
func WithDecomposer(d Decomposer) Option {
	return func(e *Engine) { e.decomposer = d }
}

// NewEngine creates a search engine with the given dependencies.
func NewEngine(registry *collection.Registry, embedder QueryEmbedder, cfg config.HybridConfig, opts ...Option) *Engine {
	e := &Engine{
		registry:   registry,
		embedder:   embedder,
		decomposer: HeuristicDecomposer{},
		config:     cfg,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

// params is a request's options resolved against configuration.
type params struct {
	alpha, beta float64
	candidates  int
	threshold   float64
	decompose   bool
	rerank      bool
}

func (e *Engine) resolve(o models.SearchOptions) (params, error) {
	p := params{
		alpha:      e.config.Alpha,
		beta:       e.config.Beta,
		candidates: e.config.CandidatesPerMethod,
		threshold:  e.config.SimilarityThreshold,
		decompose:  e.config.DecomposeQueries,
		rerank:     o.Rerank,
	}
	if o.Alpha != nil {
		p.alpha = *o.Alpha
	}
	if o.Beta != nil {
		p.beta = *o.Beta
	}
	if o.CandidatesPerMethod > 0 {
		p.candidates = o.CandidatesPerMethod
	}
	if o.SimilarityThreshold != nil {
		p.threshold = *o.SimilarityThreshold
	}
	if o.Decompose != nil {
		p.decompose = *o.Decompose
	}
	p.alpha, p.beta = NormalizeWeights(p.alpha, p.beta)
	if p.alpha == 0 && p.beta == 0 {
		return p, fmt.Errorf("%w: alpha and beta cannot both be 0", models.ErrInvalidOptions)
	}
	if p.candidates <= 0 {
		p.candidates = 30
	}
	return p, nil
}

// methodLists is the outcome of both retrieval methods for one sub-query.
type methodLists struct {
	vectorIDs  []string
	lexicalIDs []string
	vectorErr  error
	lexicalErr error
}

// Search answers req against the collection {bot}_{kb}. A missing or not yet
// searchable collection yields an empty result. One failing method degrades the
// search; only when every method that ran failed for every sub-query is an error
// returned.
func (e *Engine) Search(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error) {
	start := time.Now()
	if err := req.Validate(e.config.DefaultTopK, e.config.MaxTopK); err != nil {
		return nil, err
	}
	p, err := e.resolve(req.Options)
	if err != nil {
		return nil, err
	}

	resp := &models.SearchResponse{
		Collection: models.CollectionName(req.BotID, req.KBName),
		Query:      req.Query,
		SubQueries: []string{req.Query},
		Results:    []*models.SearchResult{},
	}
	col, ok := e.registry.Get(req.BotID, req.KBName)
	if !ok || !col.Searchable() {
		resp.QueryTime = time.Since(start).Milliseconds()
		metrics.SearchDuration.WithLabelValues("empty").Observe(time.Since(start).Seconds())
		return resp, nil
	}

	if p.decompose {
		resp.SubQueries = e.decompose(ctx, req.Query)
	}

	perSub := make([][]*FusedResult, 0, len(resp.SubQueries))
	degraded := make(map[string]bool)
	var failures []error
	for _, sub := range resp.SubQueries {
		lists := e.retrieve(ctx, col, sub, p)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if lists.vectorErr != nil {
			e.degrade(degraded, "vector", sub, lists.vectorErr)
		}
		if lists.lexicalErr != nil {
			e.degrade(degraded, "lexical", sub, lists.lexicalErr)
		}
		vecOK := p.alpha > 0 && lists.vectorErr == nil
		lexOK := p.beta > 0 && lists.lexicalErr == nil
		if !vecOK && !lexOK {
			failures = append(failures, fmt.Errorf("sub-query %q: %w", sub, errors.Join(lists.vectorErr, lists.lexicalErr)))
			continue
		}
		fused := FuseRRF(lists.vectorIDs, lists.lexicalIDs, p.alpha, p.beta, e.rrfK())
		if e.config.NormalizeScores {
			NormalizeScores(fused)
		}
		for _, r := range fused {
			r.SubQuery = sub
		}
		perSub = append(perSub, fused)
	}
	if len(perSub) == 0 {
		metrics.SearchDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return nil, fmt.Errorf("%w: %w", models.ErrAllMethodsFailed, errors.Join(failures...))
	}
	for method := range degraded {
		resp.Degraded = append(resp.Degraded, method)
	}
	sort.Strings(resp.Degraded)

	merged := Cutoff(MergeSubQueries(perSub...), p.threshold, req.TopK)
	resp.Results = e.materialize(col, merged, req.Query, len(resp.SubQueries) > 1)
	if p.rerank {
		rerank(resp.Results, req.Query, col)
	}

	outcome := "ok"
	if len(resp.Degraded) > 0 {
		outcome = "degraded"
	}
	metrics.SearchDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	resp.QueryTime = time.Since(start).Milliseconds()
	return resp, nil
}

func (e *Engine) rrfK() int {
	if e.config.RRFK > 0 {
		return e.config.RRFK
	}
	return 60
}

func (e *Engine) decompose(ctx context.Context, query string) []string {
	limit := e.config.MaxSubQueries
	if limit <= 0 {
		limit = 4
	}
	subs, err := e.decomposer.Decompose(ctx, query, limit)
	if err != nil || len(subs) == 0 {
		if err != nil {
			e.logger.Warn("Query decomposition failed", zap.Error(err))
		}
		return []string{query}
	}
	return bound(subs, limit)
}

func (e *Engine) degrade(seen map[string]bool, method, sub string, err error) {
	if !seen[method] {
		seen[method] = true
		metrics.SearchDegradedTotal.WithLabelValues(method).Inc()
	}
	e.logger.Warn("Retrieval method failed, using the other",
		zap.String("failed_method", method),
		zap.String("sub_query", sub),
		zap.Error(err))
}

// retrieve runs the enabled methods concurrently for one sub-query.
func (e *Engine) retrieve(ctx context.Context, col *collection.Collection, query string, p params) methodLists {
	var (
		out methodLists
		wg  sync.WaitGroup
	)
	if p.beta > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results, err := col.SearchLexical(ctx, query, p.candidates)
			if err != nil {
				out.lexicalErr = fmt.Errorf("lexical search failed: %w", err)
				return
			}
			for _, r := range results {
				out.lexicalIDs = append(out.lexicalIDs, r.ID)
			}
		}()
	}
	if p.alpha > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			backendID := col.BackendID()
			if backendID == "" {
				return
			}
			vec, err := e.embedder.EmbedFor(ctx, backendID, query)
			if err != nil {
				out.vectorErr = fmt.Errorf("embedding failed: %w", err)
				return
			}
			results, err := col.SearchVectors(ctx, vec.BackendID, vec.Values, p.candidates)
			if err != nil {
				out.vectorErr = fmt.Errorf("vector search failed: %w", err)
				return
			}
			for _, r := range results {
				out.vectorIDs = append(out.vectorIDs, r.ID)
			}
		}()
	}
	wg.Wait()
	return out
}

// materialize attaches payload data to fused results. Chunks removed since retrieval
// are dropped.
func (e *Engine) materialize(col *collection.Collection, fused []*FusedResult, query string, withSubQuery bool) []*models.SearchResult {
	results := make([]*models.SearchResult, 0, len(fused))
	for _, f := range fused {
		payload, ok := col.Chunk(f.ChunkID)
		if !ok {
			continue
		}
		snippetQuery := query
		r := &models.SearchResult{
			ChunkID:            f.ChunkID,
			DocumentID:         payload.DocumentID,
			SourceURI:          payload.SourceURI,
			Score:              f.Score,
			ContributingMethod: f.Method,
			VectorRank:         f.VectorRank,
			LexicalRank:        f.LexicalRank,
		}
		if withSubQuery {
			r.SubQuery = f.SubQuery
			snippetQuery = f.SubQuery
		}
		r.Snippet = Snippet(payload.Text, snippetQuery, SnippetLength)
		results = append(results, r)
	}
	return results
}

// rerank blends each score with the fraction of query terms present in the chunk:
// score*0.7 + overlap*0.3, then reorders.
func rerank(results []*models.SearchResult, query string, col *collection.Collection) {
	for _, r := range results {
		payload, _ := col.Chunk(r.ChunkID)
		r.Score = r.Score*0.7 + termOverlap(payload.Text, query)*0.3
	}
	sortResults(results)
}

func sortResults(results []*models.SearchResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
}
