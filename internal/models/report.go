package models

import "time"

// IndexingError records why one document could not be indexed.
type IndexingError struct {
	SourceURI string `json:"source_uri"`
	Reason    string `json:"reason"`
}

// IndexingReport summarizes one ingestion run. It is a result only, never index state.
type IndexingReport struct {
	RunID              string          `json:"run_id"`
	Collection         string          `json:"collection,omitempty"`
	DocumentsProcessed int             `json:"documents_processed"`
	DocumentsSkipped   int             `json:"documents_skipped"`
	DocumentsFailed    int             `json:"documents_failed"`
	ChunksIndexed      int             `json:"chunks_indexed"`
	ChunksRemoved      int             `json:"chunks_removed"`
	Errors             []IndexingError `json:"errors"`
	Cancelled          bool            `json:"cancelled,omitempty"`
	StartedAt          time.Time       `json:"started_at"`
	FinishedAt         time.Time       `json:"finished_at"`
}

// AddError records a per-document failure.
func (r *IndexingReport) AddError(sourceURI string, err error) {
	r.DocumentsFailed++
	r.Errors = append(r.Errors, IndexingError{SourceURI: sourceURI, Reason: err.Error()})
}

// WarningPrefix starts the reason of an error entry that did not fail its document.
const WarningPrefix = "warning:"

// AddWarning records a problem with a document that was still indexed. The
// document is not counted as failed.
func (r *IndexingReport) AddWarning(sourceURI string, err error) {
	r.Errors = append(r.Errors, IndexingError{SourceURI: sourceURI, Reason: WarningPrefix + " " + err.Error()})
}

// Merge folds other into r. RunID and StartedAt of r are kept.
func (r *IndexingReport) Merge(other *IndexingReport) {
	if other == nil {
		return
	}
	r.DocumentsProcessed += other.DocumentsProcessed
	r.DocumentsSkipped += other.DocumentsSkipped
	r.DocumentsFailed += other.DocumentsFailed
	r.ChunksIndexed += other.ChunksIndexed
	r.ChunksRemoved += other.ChunksRemoved
	r.Errors = append(r.Errors, other.Errors...)
	r.Cancelled = r.Cancelled || other.Cancelled
	if other.FinishedAt.After(r.FinishedAt) {
		r.FinishedAt = other.FinishedAt
	}
}
