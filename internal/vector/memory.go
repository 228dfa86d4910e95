package vector

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hyperjump/kbsearch/internal/models"
)

// MemoryIndex is an in-memory vector partition using brute-force cosine search.
// The first write establishes the backend and dimensionality; later writes that
// disagree are rejected with a *models.MismatchError and change nothing.
type MemoryIndex struct {
	collection string
	backendID  string
	dimensions int
	points     map[string]*entry
	byDocument map[string]map[string]struct{}
	mu         sync.RWMutex
}

type entry struct {
	vector  []float32
	norm    float64
	payload Payload
}

// NewMemoryIndex creates an empty partition for the named collection.
func NewMemoryIndex(collection string) *MemoryIndex {
	return &MemoryIndex{
		collection: collection,
		points:     make(map[string]*entry),
		byDocument: make(map[string]map[string]struct{}),
	}
}

// Upsert writes points keyed by ID, replacing any existing vector and payload.
func (m *MemoryIndex) Upsert(ctx context.Context, backendID string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	wantBackend, wantDims := m.backendID, m.dimensions
	if wantBackend == "" {
		wantBackend, wantDims = backendID, len(points[0].Vector)
	}
	for _, p := range points {
		if backendID != wantBackend || len(p.Vector) != wantDims {
			return &models.MismatchError{
				Collection:  m.collection,
				WantBackend: wantBackend,
				GotBackend:  backendID,
				WantDims:    wantDims,
				GotDims:     len(p.Vector),
			}
		}
		if p.ID == "" {
			return fmt.Errorf("point id is required")
		}
	}
	if wantDims == 0 {
		return fmt.Errorf("vector dimension must be positive")
	}
	m.backendID, m.dimensions = wantBackend, wantDims

	for _, p := range points {
		if old, ok := m.points[p.ID]; ok {
			m.unlinkLocked(p.ID, old.payload.DocumentID)
		}
		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		m.points[p.ID] = &entry{vector: vec, norm: L2Norm(vec), payload: p.Payload}
		ids, ok := m.byDocument[p.Payload.DocumentID]
		if !ok {
			ids = make(map[string]struct{})
			m.byDocument[p.Payload.DocumentID] = ids
		}
		ids[p.ID] = struct{}{}
	}
	return nil
}

// Search returns the top-k points by cosine similarity, ties broken by ID.
// An empty partition returns no results; a query from another backend is a mismatch.
func (m *MemoryIndex) Search(ctx context.Context, backendID string, query []float32, k int) ([]*VectorResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 || len(m.points) == 0 {
		return nil, nil
	}
	if backendID != m.backendID || len(query) != m.dimensions {
		return nil, &models.MismatchError{
			Collection:  m.collection,
			WantBackend: m.backendID,
			GotBackend:  backendID,
			WantDims:    m.dimensions,
			GotDims:     len(query),
		}
	}
	qnorm := L2Norm(query)
	results := make([]*VectorResult, 0, len(m.points))
	for id, e := range m.points {
		var score float64
		if qnorm > 0 && e.norm > 0 {
			score = InnerProduct(query, e.vector) / (qnorm * e.norm)
		}
		results = append(results, &VectorResult{ID: id, Score: score, Payload: e.payload})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

// DeleteByDocument removes every point of documentID and returns how many were removed.
func (m *MemoryIndex) DeleteByDocument(ctx context.Context, documentID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.byDocument[documentID]
	for id := range ids {
		delete(m.points, id)
	}
	delete(m.byDocument, documentID)
	return len(ids), nil
}

// Remove deletes points by ID.
func (m *MemoryIndex) Remove(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if e, ok := m.points[id]; ok {
			m.unlinkLocked(id, e.payload.DocumentID)
			delete(m.points, id)
		}
	}
	return nil
}

func (m *MemoryIndex) unlinkLocked(id, documentID string) {
	if ids, ok := m.byDocument[documentID]; ok {
		delete(ids, id)
		if len(ids) == 0 {
			delete(m.byDocument, documentID)
		}
	}
}

// Payload returns the payload stored with id.
func (m *MemoryIndex) Payload(id string) (Payload, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.points[id]
	if !ok {
		return Payload{}, false
	}
	return e.payload, true
}

// Has reports whether a point with id exists.
func (m *MemoryIndex) Has(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.points[id]
	return ok
}

// BackendID returns the established backend, or "" before the first write.
func (m *MemoryIndex) BackendID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.backendID
}

// Dimensions returns the established dimensionality, or 0 before the first write.
func (m *MemoryIndex) Dimensions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dimensions
}

// Size returns the number of points.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.points)
}

// Close is a no-op for MemoryIndex.
func (m *MemoryIndex) Close() error {
	return nil
}
