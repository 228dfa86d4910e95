// Package models defines core data structures for knowledge-base documents, chunks, and search results.
package models

import "time"

// Document is a source document belonging to one bot's knowledge base.
// Identity is (BotID, KBName, SourceURI); ID is derived from it.
type Document struct {
	ID          string    `json:"document_id"`
	BotID       string    `json:"bot_id"`
	KBName      string    `json:"kb_name"`
	SourceURI   string    `json:"source_uri"`
	Format      string    `json:"format"`
	ContentHash string    `json:"content_hash"`
	IngestedAt  time.Time `json:"ingested_at"`
}

// CharSpan is a half-open [Start, End) byte range into the cleaned document text.
type CharSpan struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// TextChunk is a bounded text unit derived from a document. Chunks are transient:
// after indexing only the stored payload (text and metadata) survives.
type TextChunk struct {
	ID            string    `json:"chunk_id"`
	DocumentID    string    `json:"document_id"`
	SequenceIndex int       `json:"sequence_index"`
	Text          string    `json:"text"`
	Span          CharSpan  `json:"char_span"`
	TokenEstimate int       `json:"token_estimate"`
	Embedding     []float32 `json:"-"`
	BackendID     string    `json:"backend_id,omitempty"`
}

// EventKind distinguishes document change notifications.
type EventKind int

const (
	// EventChanged means the document was created or modified.
	EventChanged EventKind = iota
	// EventRemoved means the document no longer exists at its source.
	EventRemoved
)

func (k EventKind) String() string {
	switch k {
	case EventChanged:
		return "changed"
	case EventRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// DocumentEvent is a discrete change notification pushed by a watcher or crawler.
// For EventChanged, ContentHash may be empty, in which case it is computed from the
// extracted bytes. Content, when set, is used instead of reading SourceURI.
type DocumentEvent struct {
	Kind        EventKind
	BotID       string
	KBName      string
	SourceURI   string
	ContentHash string
	Format      string
	Content     []byte
}
