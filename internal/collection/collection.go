// Package collection owns the per-{bot, kb} vector and BM25 partitions, their lifecycle
// state, and the lock that serializes mutating jobs.
package collection

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hyperjump/kbsearch/internal/keyword"
	"github.com/hyperjump/kbsearch/internal/models"
	"github.com/hyperjump/kbsearch/internal/vector"
)

// Collection is one knowledge base's searchable state. Searches read concurrently;
// writes happen only through a Job, and at most one Job runs at a time.
type Collection struct {
	name   string
	botID  string
	kbName string

	job sync.Mutex // held for the lifetime of a Job

	mu            sync.RWMutex
	status        models.CollectionStatus
	vectors       *vector.MemoryIndex
	lexical       *keyword.BM25Index
	documents     map[string]*docEntry
	chunkCount    int
	lastIndexedAt time.Time
}

type docEntry struct {
	doc      *models.Document
	chunkIDs []string
}

func newCollection(botID, kbName string, lexical *keyword.BM25Index) *Collection {
	name := models.CollectionName(botID, kbName)
	return &Collection{
		name:      name,
		botID:     botID,
		kbName:    kbName,
		status:    models.StatusNotExists,
		vectors:   vector.NewMemoryIndex(name),
		lexical:   lexical,
		documents: make(map[string]*docEntry),
	}
}

// Name returns "{bot}_{kb}".
func (c *Collection) Name() string { return c.name }

// BotID returns the owning bot.
func (c *Collection) BotID() string { return c.botID }

// KBName returns the knowledge base name.
func (c *Collection) KBName() string { return c.kbName }

// Status returns the current lifecycle state.
func (c *Collection) Status() models.CollectionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Searchable reports whether searches should run. A reindexing collection serves
// its previous partitions.
func (c *Collection) Searchable() bool {
	switch c.Status() {
	case models.StatusReady, models.StatusReindexing:
		return true
	}
	return false
}

// BackendID returns the embedding backend the vector partition was built with.
func (c *Collection) BackendID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vectors.BackendID()
}

// SearchVectors runs a cosine top-k over the current vector partition.
func (c *Collection) SearchVectors(ctx context.Context, backendID string, query []float32, k int) ([]*vector.VectorResult, error) {
	c.mu.RLock()
	idx := c.vectors
	c.mu.RUnlock()
	return idx.Search(ctx, backendID, query, k)
}

// SearchLexical runs BM25 over the current lexical partition.
func (c *Collection) SearchLexical(ctx context.Context, query string, k int) ([]*keyword.KeywordResult, error) {
	c.mu.RLock()
	idx := c.lexical
	c.mu.RUnlock()
	return idx.Search(ctx, query, k)
}

// Chunk returns the stored payload for a chunk id.
func (c *Collection) Chunk(id string) (vector.Payload, bool) {
	c.mu.RLock()
	idx := c.vectors
	c.mu.RUnlock()
	return idx.Payload(id)
}

// Document returns the tracked document and its chunk count.
func (c *Collection) Document(documentID string) (*models.Document, int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.documents[documentID]
	if !ok {
		return nil, 0, false
	}
	return e.doc, len(e.chunkIDs), true
}

// DocumentBySource finds a tracked document by its source URI.
func (c *Collection) DocumentBySource(sourceURI string) (*models.Document, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.documents {
		if e.doc.SourceURI == sourceURI {
			return e.doc, true
		}
	}
	return nil, false
}

// Documents returns the tracked documents ordered by source URI.
func (c *Collection) Documents() []*models.Document {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*models.Document, 0, len(c.documents))
	for _, e := range c.documents {
		out = append(out, e.doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceURI < out[j].SourceURI })
	return out
}

// Stats takes a point-in-time snapshot.
func (c *Collection) Stats() models.CollectionStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	lex := c.lexical.Stats()
	return models.CollectionStats{
		Name:           c.name,
		DocumentCount:  len(c.documents),
		ChunkCount:     c.chunkCount,
		Status:         c.status,
		BackendID:      c.vectors.BackendID(),
		Dimensions:     c.vectors.Dimensions(),
		UniqueTerms:    lex.UniqueTerms,
		AvgChunkLength: lex.AvgDocLength,
		LastIndexedAt:  c.lastIndexedAt,
	}
}

// BeginIngest starts an ingestion job. A new collection moves to Creating for the
// duration; a Ready one stays Ready so searches keep running.
func (c *Collection) BeginIngest() (*Job, error) {
	return c.begin(func(cur models.CollectionStatus) (models.CollectionStatus, bool) {
		switch cur {
		case models.StatusNotExists, models.StatusCreating:
			return models.StatusCreating, true
		case models.StatusReady:
			return models.StatusReady, true
		}
		return cur, false
	})
}

// BeginReindex starts a reindex job on a Ready collection.
func (c *Collection) BeginReindex() (*Job, error) {
	return c.begin(func(cur models.CollectionStatus) (models.CollectionStatus, bool) {
		if cur == models.StatusReady {
			return models.StatusReindexing, true
		}
		return cur, false
	})
}

// BeginDelete starts a delete job.
func (c *Collection) BeginDelete() (*Job, error) {
	return c.begin(func(cur models.CollectionStatus) (models.CollectionStatus, bool) {
		switch cur {
		case models.StatusNotExists, models.StatusCreating, models.StatusReady:
			return models.StatusDeleting, true
		}
		return cur, false
	})
}

func (c *Collection) begin(transition func(models.CollectionStatus) (models.CollectionStatus, bool)) (*Job, error) {
	if !c.job.TryLock() {
		return nil, &models.BusyError{Collection: c.name, Status: c.Status()}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == models.StatusGone {
		c.job.Unlock()
		return nil, fmt.Errorf("collection %s: %w", c.name, models.ErrNotFound)
	}
	next, ok := transition(c.status)
	if !ok {
		c.job.Unlock()
		return nil, &models.BusyError{Collection: c.name, Status: c.status}
	}
	j := &Job{c: c, prev: c.status}
	c.status = next
	return j, nil
}
