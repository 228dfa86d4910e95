// Package keyword provides the per-collection BM25 lexical index.
package keyword

import "context"

// KeywordIndex defines lexical indexing and search over chunk text.
type KeywordIndex interface {
	Add(ctx context.Context, id, text string) error
	Remove(ctx context.Context, ids []string) error
	Search(ctx context.Context, query string, limit int) ([]*KeywordResult, error)
	Stats() IndexStats
}

// KeywordResult is a single keyword search hit (ID is the chunk ID).
type KeywordResult struct {
	ID    string
	Score float64
}

// IndexStats summarizes the corpus.
type IndexStats struct {
	DocCount     int
	UniqueTerms  int
	AvgDocLength float64
}
