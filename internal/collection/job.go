package collection

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperjump/kbsearch/internal/models"
	"github.com/hyperjump/kbsearch/internal/vector"
)

// Job is the exclusive right to mutate a collection. Every Job must be finished.
type Job struct {
	c    *Collection
	prev models.CollectionStatus
	done bool
}

// Collection returns the collection the job mutates.
func (j *Job) Collection() *Collection { return j.c }

// IndexDocument writes a document's embedded chunks into both partitions and drops
// chunks of the previous version that are no longer produced. A vector mismatch
// leaves the collection unchanged. It returns the number of superseded chunks removed.
func (j *Job) IndexDocument(ctx context.Context, doc *models.Document, chunks []*models.TextChunk, backendID string) (int, error) {
	c := j.c
	points := make([]vector.Point, len(chunks))
	newIDs := make(map[string]bool, len(chunks))
	for i, ch := range chunks {
		points[i] = vector.Point{
			ID:     ch.ID,
			Vector: ch.Embedding,
			Payload: vector.Payload{
				DocumentID:    doc.ID,
				SourceURI:     doc.SourceURI,
				SequenceIndex: ch.SequenceIndex,
				Text:          ch.Text,
			},
		}
		newIDs[ch.ID] = true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.vectors.Upsert(ctx, backendID, points); err != nil {
		return 0, err
	}
	for _, ch := range chunks {
		if err := c.lexical.Add(ctx, ch.ID, ch.Text); err != nil {
			return 0, fmt.Errorf("failed to index chunk %s: %w", ch.ID, err)
		}
	}

	var stale []string
	if old, ok := c.documents[doc.ID]; ok {
		for _, id := range old.chunkIDs {
			if !newIDs[id] {
				stale = append(stale, id)
			}
		}
		c.chunkCount -= len(old.chunkIDs)
	}
	if len(stale) > 0 {
		_ = c.vectors.Remove(ctx, stale)
		_ = c.lexical.Remove(ctx, stale)
	}

	ids := make([]string, len(chunks))
	for i, ch := range chunks {
		ids[i] = ch.ID
	}
	c.documents[doc.ID] = &docEntry{doc: doc, chunkIDs: ids}
	c.chunkCount += len(ids)
	c.lastIndexedAt = time.Now()
	return len(stale), nil
}

// RemoveDocument deletes every chunk of documentID from both partitions.
func (j *Job) RemoveDocument(ctx context.Context, documentID string) (int, bool) {
	c := j.c
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.documents[documentID]
	if !ok {
		return 0, false
	}
	_, _ = c.vectors.DeleteByDocument(ctx, documentID)
	_ = c.lexical.Remove(ctx, e.chunkIDs)
	delete(c.documents, documentID)
	c.chunkCount -= len(e.chunkIDs)
	c.lastIndexedAt = time.Now()
	return len(e.chunkIDs), true
}

// SwapVectors atomically replaces the vector partition, used at the end of a reindex.
func (j *Job) SwapVectors(idx *vector.MemoryIndex) {
	j.c.mu.Lock()
	defer j.c.mu.Unlock()
	j.c.vectors = idx
	j.c.lastIndexedAt = time.Now()
}

// Clear drops both partitions and every tracked document.
func (j *Job) Clear() {
	c := j.c
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vectors = vector.NewMemoryIndex(c.name)
	c.lexical = c.lexical.Empty()
	c.documents = make(map[string]*docEntry)
	c.chunkCount = 0
}

// Finish sets the final state and releases the lock. Finishing twice is a no-op.
func (j *Job) Finish(status models.CollectionStatus) {
	if j.done {
		return
	}
	j.done = true
	j.c.mu.Lock()
	j.c.status = status
	j.c.mu.Unlock()
	j.c.job.Unlock()
}

// Abort restores the state the collection had before the job, unless the job
// created it and indexed something, in which case it becomes Ready.
func (j *Job) Abort() {
	if j.done {
		return
	}
	status := j.prev
	if status == models.StatusNotExists && j.c.Stats().ChunkCount > 0 {
		status = models.StatusReady
	}
	j.Finish(status)
}
