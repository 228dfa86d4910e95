// Package vector provides the per-collection vector partition and similarity search.
package vector

import "context"

// VectorIndex stores one collection's vectors. All vectors share one backend and dimensionality.
type VectorIndex interface {
	Upsert(ctx context.Context, backendID string, points []Point) error
	Search(ctx context.Context, backendID string, query []float32, k int) ([]*VectorResult, error)
	DeleteByDocument(ctx context.Context, documentID string) (int, error)
	Remove(ctx context.Context, ids []string) error
	BackendID() string
	Dimensions() int
	Size() int
	Close() error
}

// Payload is stored alongside each vector and returned with search hits.
type Payload struct {
	DocumentID    string
	SourceURI     string
	SequenceIndex int
	Text          string
}

// Point is a vector keyed by chunk ID.
type Point struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// VectorResult is a single vector search hit (ID is the chunk ID).
type VectorResult struct {
	ID      string
	Score   float64 // cosine similarity in [-1, 1]
	Payload Payload
}
