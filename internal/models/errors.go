package models

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigurationMismatch means a vector does not match the collection's backend or dimensionality.
	// It is never retried.
	ErrConfigurationMismatch = errors.New("configuration mismatch")
	// ErrTransientBackend marks network or timeout failures talking to an embedding or vector service.
	ErrTransientBackend = errors.New("transient backend error")
	// ErrExtractionFailure means a document could not be turned into plain text.
	ErrExtractionFailure = errors.New("extraction failure")
	// ErrCollectionBusy means another mutating job holds the collection.
	ErrCollectionBusy = errors.New("collection busy")
	// ErrNotFound means the collection or document does not exist.
	ErrNotFound = errors.New("not found")
	// ErrEmptyQuery is returned for blank search text.
	ErrEmptyQuery = errors.New("query cannot be empty")
	// ErrInvalidOptions is returned for out-of-range search options.
	ErrInvalidOptions = errors.New("invalid search options")
	// ErrAllMethodsFailed means both retrieval methods failed for every sub-query.
	ErrAllMethodsFailed = errors.New("all retrieval methods failed")
)

// MismatchError describes a rejected vector write.
type MismatchError struct {
	Collection  string
	WantBackend string
	GotBackend  string
	WantDims    int
	GotDims     int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("collection %s: established %s/%d, got %s/%d",
		e.Collection, e.WantBackend, e.WantDims, e.GotBackend, e.GotDims)
}

func (e *MismatchError) Unwrap() error { return ErrConfigurationMismatch }

// ExtractionError wraps a format-specific extractor failure for one source.
type ExtractionError struct {
	SourceURI string
	Err       error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.SourceURI, e.Err)
}

func (e *ExtractionError) Unwrap() []error { return []error{ErrExtractionFailure, e.Err} }

// BusyError names the collection and the state that blocked a mutation.
type BusyError struct {
	Collection string
	Status     CollectionStatus
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("collection %s is %s", e.Collection, e.Status)
}

func (e *BusyError) Unwrap() error { return ErrCollectionBusy }
