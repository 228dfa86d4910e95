package collection

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/kbsearch/internal/keyword"
	"github.com/hyperjump/kbsearch/internal/models"
)

// Registry maps collection names to collections, creating them on first use.
type Registry struct {
	mu          sync.Mutex
	collections map[string]*Collection
	newLexical  func() *keyword.BM25Index
	logger      *zap.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates an empty registry. newLexical builds the BM25 partition for each
// new collection.
func NewRegistry(newLexical func() *keyword.BM25Index, opts ...Option) *Registry {
	r := &Registry{
		collections: make(map[string]*Collection),
		newLexical:  newLexical,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the collection for (bot, kb) if it exists.
func (r *Registry) Get(botID, kbName string) (*Collection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.collections[models.CollectionName(botID, kbName)]
	return c, ok
}

// GetOrCreate returns the collection for (bot, kb), creating it in NotExists state.
func (r *Registry) GetOrCreate(botID, kbName string) *Collection {
	name := models.CollectionName(botID, kbName)
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.collections[name]; ok {
		return c
	}
	c := newCollection(botID, kbName, r.newLexical())
	r.collections[name] = c
	if r.logger != nil {
		r.logger.Debug("Registered collection", zap.String("collection", name))
	}
	return c
}

// Remove forgets a collection. Holders of the old pointer see it as Gone.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.collections, name)
}

// List returns all collections ordered by name.
func (r *Registry) List() []*Collection {
	r.mu.Lock()
	out := make([]*Collection, 0, len(r.collections))
	for _, c := range r.collections {
		out = append(out, c)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Statistics aggregates every collection's snapshot.
func (r *Registry) Statistics() models.KBStatistics {
	var st models.KBStatistics
	for _, c := range r.List() {
		cs := c.Stats()
		if cs.Status == models.StatusGone {
			continue
		}
		st.TotalCollections++
		st.TotalDocuments += cs.DocumentCount
		st.TotalChunks += cs.ChunkCount
		st.Collections = append(st.Collections, &cs)
	}
	return st
}
