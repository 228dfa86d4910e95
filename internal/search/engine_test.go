package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kbsearch/internal/collection"
	"github.com/hyperjump/kbsearch/internal/config"
	"github.com/hyperjump/kbsearch/internal/docid"
	"github.com/hyperjump/kbsearch/internal/embedding"
	"github.com/hyperjump/kbsearch/internal/indexer"
	"github.com/hyperjump/kbsearch/internal/keyword"
	"github.com/hyperjump/kbsearch/internal/models"
	"github.com/hyperjump/kbsearch/internal/storage"
)

func testHybridConfig() config.HybridConfig {
	return config.HybridConfig{
		Alpha:               0.7,
		Beta:                0.3,
		CandidatesPerMethod: 30,
		MaxSubQueries:       4,
		RRFK:                60,
		DefaultTopK:         10,
		MaxTopK:             100,
	}
}

type fixture struct {
	registry    *collection.Registry
	coordinator *indexer.Coordinator
	generator   *embedding.Generator
}

func newFixture(t testing.TB, chunkSize, overlap int) *fixture {
	t.Helper()
	analyzer, err := keyword.NewAnalyzer(true)
	require.NoError(t, err)
	reg := collection.NewRegistry(func() *keyword.BM25Index {
		return keyword.NewBM25Index(analyzer, 1.2, 0.75)
	})
	store, err := storage.NewSQLiteStorage(storage.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	gen := embedding.NewGenerator([]embedding.Backend{embedding.NewFallbackBackend(64)})
	return &fixture{
		registry:    reg,
		coordinator: indexer.NewCoordinator(reg, store, gen, nil, chunkSize, overlap),
		generator:   gen,
	}
}

func (f *fixture) ingest(t testing.TB, sourceURI, text string) {
	t.Helper()
	report := f.coordinator.IngestText(context.Background(), "bot", "kb", sourceURI, "", text)
	require.Empty(t, report.Errors)
}

func (f *fixture) engine(cfg config.HybridConfig, opts ...Option) *Engine {
	return NewEngine(f.registry, f.generator, cfg, opts...)
}

func request(query string, topK int) *models.SearchRequest {
	return &models.SearchRequest{BotID: "bot", KBName: "kb", Query: query, TopK: topK}
}

func ptr[T any](v T) *T { return &v }

func TestEngine_FoxScenario(t *testing.T) {
	f := newFixture(t, 6, 2)
	f.ingest(t, "doc1", "The quick brown fox. The fox jumps.")

	resp, err := f.engine(testHybridConfig()).Search(context.Background(), request("fox", 1))
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)

	r := resp.Results[0]
	assert.Equal(t, docid.DocumentID("bot", "kb", "doc1"), r.DocumentID)
	assert.Equal(t, models.MethodBoth, r.ContributingMethod)
	assert.Equal(t, "doc1", r.SourceURI)
	assert.Contains(t, r.Snippet, "fox")
	assert.Equal(t, "bot_kb", resp.Collection)
	assert.Equal(t, []string{"fox"}, resp.SubQueries)
	assert.Empty(t, resp.Degraded)
}

func TestEngine_MissingCollectionIsEmpty(t *testing.T) {
	f := newFixture(t, 50, 10)
	resp, err := f.engine(testHybridConfig()).Search(context.Background(), request("anything", 5))
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestEngine_Validation(t *testing.T) {
	f := newFixture(t, 50, 10)
	e := f.engine(testHybridConfig())

	_, err := e.Search(context.Background(), request("   ", 5))
	assert.ErrorIs(t, err, models.ErrEmptyQuery)

	req := request("fox", 5)
	req.Options.Alpha = ptr(0.0)
	req.Options.Beta = ptr(0.0)
	_, err = e.Search(context.Background(), req)
	assert.ErrorIs(t, err, models.ErrInvalidOptions)
}

func TestEngine_TopKBounds(t *testing.T) {
	f := newFixture(t, 50, 10)
	f.ingest(t, "a", "Cats sleep all day.")
	f.ingest(t, "b", "Dogs bark at night.")
	f.ingest(t, "c", "Birds sing in the morning.")

	cfg := testHybridConfig()
	cfg.MaxTopK = 2
	resp, err := f.engine(cfg).Search(context.Background(), request("cats", 0))
	require.NoError(t, err)
	assert.Len(t, resp.Results, 2)
	for i := 1; i < len(resp.Results); i++ {
		assert.GreaterOrEqual(t, resp.Results[i-1].Score, resp.Results[i].Score)
	}
}

func TestEngine_LexicalOnlyWithThreshold(t *testing.T) {
	f := newFixture(t, 50, 10)
	f.ingest(t, "a", "fox fox fox.")
	f.ingest(t, "b", "The fox met two cats.")
	f.ingest(t, "c", "Cats sleep.")

	cfg := testHybridConfig()
	cfg.NormalizeScores = true
	e := f.engine(cfg)

	req := request("fox", 10)
	req.Options.Alpha = ptr(0.0)
	req.Options.Beta = ptr(1.0)
	resp, err := e.Search(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "a", resp.Results[0].SourceURI)
	assert.InDelta(t, 1.0, resp.Results[0].Score, 1e-9)
	assert.Equal(t, models.MethodLexical, resp.Results[0].ContributingMethod)

	req = request("fox", 10)
	req.Options.Alpha = ptr(0.0)
	req.Options.SimilarityThreshold = ptr(0.99)
	resp, err = e.Search(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "a", resp.Results[0].SourceURI)
}

type failingEmbedder struct{}

func (failingEmbedder) EmbedFor(context.Context, string, string) (embedding.Vector, error) {
	return embedding.Vector{}, errors.New("backend down")
}

type foreignEmbedder struct{}

func (foreignEmbedder) EmbedFor(context.Context, string, string) (embedding.Vector, error) {
	return embedding.Vector{Values: []float32{1, 0}, BackendID: "remote:other"}, nil
}

func TestEngine_DegradesToLexical(t *testing.T) {
	f := newFixture(t, 50, 10)
	f.ingest(t, "a", "The fox jumps.")
	f.ingest(t, "b", "Cats sleep.")

	for name, emb := range map[string]QueryEmbedder{"failing": failingEmbedder{}, "foreign": foreignEmbedder{}} {
		t.Run(name, func(t *testing.T) {
			e := NewEngine(f.registry, emb, testHybridConfig())
			resp, err := e.Search(context.Background(), request("fox", 5))
			require.NoError(t, err)
			assert.Equal(t, []string{"vector"}, resp.Degraded)
			require.Len(t, resp.Results, 1)
			assert.Equal(t, models.MethodLexical, resp.Results[0].ContributingMethod)
		})
	}
}

func TestEngine_AllMethodsFailed(t *testing.T) {
	f := newFixture(t, 50, 10)
	f.ingest(t, "a", "The fox jumps.")

	e := NewEngine(f.registry, failingEmbedder{}, testHybridConfig())
	req := request("fox", 5)
	req.Options.Beta = ptr(0.0)
	_, err := e.Search(context.Background(), req)
	assert.ErrorIs(t, err, models.ErrAllMethodsFailed)
}

func TestEngine_Decomposition(t *testing.T) {
	f := newFixture(t, 50, 10)
	f.ingest(t, "refunds.txt", "Refunds are processed within five days.")
	f.ingest(t, "shipping.txt", "Shipping takes two weeks overseas.")

	req := request("refunds and shipping", 10)
	req.Options.Decompose = ptr(true)
	resp, err := f.engine(testHybridConfig()).Search(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"refunds", "shipping"}, resp.SubQueries)
	require.Len(t, resp.Results, 2)

	bySource := map[string]*models.SearchResult{}
	for _, r := range resp.Results {
		bySource[r.SourceURI] = r
	}
	assert.Equal(t, "refunds", bySource["refunds.txt"].SubQuery)
	assert.Equal(t, "shipping", bySource["shipping.txt"].SubQuery)
	assert.Equal(t, models.MethodBoth, bySource["refunds.txt"].ContributingMethod)
	assert.Contains(t, bySource["refunds.txt"].Snippet, "Refunds")
}

type brokenDecomposer struct{}

func (brokenDecomposer) Decompose(context.Context, string, int) ([]string, error) {
	return nil, errors.New("model unavailable")
}

func TestEngine_DecomposerFailureUsesIdentity(t *testing.T) {
	f := newFixture(t, 50, 10)
	f.ingest(t, "a", "The fox jumps.")

	cfg := testHybridConfig()
	cfg.DecomposeQueries = true
	resp, err := f.engine(cfg, WithDecomposer(brokenDecomposer{})).
		Search(context.Background(), request("fox and cats", 5))
	require.NoError(t, err)
	assert.Equal(t, []string{"fox and cats"}, resp.SubQueries)
	assert.NotEmpty(t, resp.Results)
}

func TestEngine_Rerank(t *testing.T) {
	f := newFixture(t, 50, 10)
	f.ingest(t, "a", "fox fox fox.")
	f.ingest(t, "b", "The fox met two cats.")
	f.ingest(t, "c", "Cats sleep.")
	e := f.engine(testHybridConfig())

	plain, err := e.Search(context.Background(), request("fox", 10))
	require.NoError(t, err)
	req := request("fox", 10)
	req.Options.Rerank = true
	reranked, err := e.Search(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, reranked.Results, len(plain.Results))

	base := map[string]float64{}
	for _, r := range plain.Results {
		base[r.ChunkID] = r.Score
	}
	for i, r := range reranked.Results {
		overlap := 0.0
		if r.SourceURI != "c" {
			overlap = 1
		}
		assert.InDelta(t, base[r.ChunkID]*0.7+overlap*0.3, r.Score, 1e-9)
		if i > 0 {
			assert.GreaterOrEqual(t, reranked.Results[i-1].Score, r.Score)
		}
	}
	assert.NotEqual(t, "c", reranked.Results[0].SourceURI)
}

func TestEngine_DeletedDocumentNotReturned(t *testing.T) {
	f := newFixture(t, 6, 2)
	f.ingest(t, "doc1", "The quick brown fox. The fox jumps.")
	f.ingest(t, "doc2", "A fox naps.")

	report := f.coordinator.IngestBatch(context.Background(), []models.DocumentEvent{{
		Kind: models.EventRemoved, BotID: "bot", KBName: "kb", SourceURI: "doc1",
	}})
	require.Equal(t, 2, report.ChunksRemoved)

	resp, err := f.engine(testHybridConfig()).Search(context.Background(), request("fox", 10))
	require.NoError(t, err)
	removed := docid.DocumentID("bot", "kb", "doc1")
	for _, r := range resp.Results {
		assert.NotEqual(t, removed, r.DocumentID)
	}
	assert.NotEmpty(t, resp.Results)
}
