package models

import (
	"fmt"
	"strings"
)

// SearchOptions carries per-request overrides. Nil pointer fields fall back to configuration.
type SearchOptions struct {
	Alpha               *float64 `json:"alpha,omitempty"`
	Beta                *float64 `json:"beta,omitempty"`
	CandidatesPerMethod int      `json:"candidates_per_method,omitempty"`
	SimilarityThreshold *float64 `json:"similarity_threshold,omitempty"`
	Decompose           *bool    `json:"decompose,omitempty"`
	Rerank              bool     `json:"rerank,omitempty"`
}

// SearchRequest is the search interface exposed to the API layer.
type SearchRequest struct {
	BotID   string        `json:"bot_id"`
	KBName  string        `json:"kb_name"`
	Query   string        `json:"query"`
	TopK    int           `json:"top_k,omitempty"`
	Options SearchOptions `json:"options"`
}

// Validate trims the query, applies the default top_k, and checks option ranges.
func (r *SearchRequest) Validate(defaultTopK, maxTopK int) error {
	r.Query = strings.TrimSpace(r.Query)
	if r.Query == "" {
		return ErrEmptyQuery
	}
	if r.BotID == "" || r.KBName == "" {
		return fmt.Errorf("%w: bot_id and kb_name are required", ErrInvalidOptions)
	}
	if r.TopK <= 0 {
		r.TopK = defaultTopK
	}
	if maxTopK > 0 && r.TopK > maxTopK {
		r.TopK = maxTopK
	}
	o := r.Options
	if o.Alpha != nil && *o.Alpha < 0 {
		return fmt.Errorf("%w: alpha must be >= 0", ErrInvalidOptions)
	}
	if o.Beta != nil && *o.Beta < 0 {
		return fmt.Errorf("%w: beta must be >= 0", ErrInvalidOptions)
	}
	if o.CandidatesPerMethod < 0 {
		return fmt.Errorf("%w: candidates_per_method must be >= 0", ErrInvalidOptions)
	}
	return nil
}
