package models

import (
	"fmt"
	"time"
)

// CollectionStatus is the lifecycle state of a collection.
type CollectionStatus string

const (
	StatusNotExists  CollectionStatus = "not_exists"
	StatusCreating   CollectionStatus = "creating"
	StatusReady      CollectionStatus = "ready"
	StatusReindexing CollectionStatus = "reindexing"
	StatusDeleting   CollectionStatus = "deleting"
	StatusGone       CollectionStatus = "gone"
)

// CollectionName returns the namespace for one bot's knowledge base.
func CollectionName(botName, kbName string) string {
	return fmt.Sprintf("%s_%s", botName, kbName)
}

// CollectionStats is a point-in-time snapshot of a collection.
type CollectionStats struct {
	Name           string           `json:"name"`
	DocumentCount  int              `json:"document_count"`
	ChunkCount     int              `json:"chunk_count"`
	Status         CollectionStatus `json:"status"`
	BackendID      string           `json:"backend_id,omitempty"`
	Dimensions     int              `json:"dimensions,omitempty"`
	UniqueTerms    int              `json:"unique_terms"`
	AvgChunkLength float64          `json:"avg_chunk_length"`
	LastIndexedAt  time.Time        `json:"last_indexed_at,omitempty"`
}

// KBStatistics aggregates stats across all known collections.
type KBStatistics struct {
	TotalCollections int                `json:"total_collections"`
	TotalDocuments   int                `json:"total_documents"`
	TotalChunks      int                `json:"total_chunks"`
	StorageBytes     int64              `json:"storage_bytes"`
	Collections      []*CollectionStats `json:"collections"`
}
