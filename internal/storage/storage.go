// Package storage persists document metadata and chunk rows so collections can be
// rebuilt after a restart.
package storage

import (
	"context"

	"github.com/hyperjump/kbsearch/internal/models"
)

// CollectionRef identifies a collection known to storage.
type CollectionRef struct {
	Name   string
	BotID  string
	KBName string
}

// Storage defines document and chunk persistence operations.
type Storage interface {
	// Document operations
	SaveDocument(ctx context.Context, doc *models.Document, chunks []*models.TextChunk) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	DeleteDocument(ctx context.Context, id string) error
	ListDocuments(ctx context.Context, collection string) ([]*models.Document, error)

	// Chunk operations
	GetChunksByDocumentID(ctx context.Context, docID string) ([]*models.TextChunk, error)
	ListChunks(ctx context.Context, collection string) ([]*models.TextChunk, error)
	UpdateEmbeddings(ctx context.Context, chunks []*models.TextChunk) error

	// Collections
	ListCollections(ctx context.Context) ([]CollectionRef, error)
	DeleteCollection(ctx context.Context, collection string) error

	// Stats
	CountDocuments(ctx context.Context) (int64, error)
	CountChunks(ctx context.Context) (int64, error)

	Close() error
}
