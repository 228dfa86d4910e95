package config

import (
	"errors"
	"fmt"
)

// Validate checks option ranges after defaults have been applied.
func (c *Config) Validate() error {
	var errs []error
	if c.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("chunk_size must be positive"))
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		errs = append(errs, fmt.Errorf("chunk_overlap must be in [0, chunk_size)"))
	}
	if c.BM25.K1 <= 0 {
		errs = append(errs, fmt.Errorf("bm25.k1 must be positive"))
	}
	if c.BM25.B < 0 || c.BM25.B > 1 {
		errs = append(errs, fmt.Errorf("bm25.b must be in [0, 1]"))
	}
	if c.Hybrid.Alpha < 0 || c.Hybrid.Beta < 0 {
		errs = append(errs, fmt.Errorf("hybrid.alpha and hybrid.beta must be >= 0"))
	}
	if c.Hybrid.Alpha == 0 && c.Hybrid.Beta == 0 {
		errs = append(errs, fmt.Errorf("hybrid.alpha and hybrid.beta cannot both be 0"))
	}
	if c.Hybrid.CandidatesPerMethod <= 0 {
		errs = append(errs, fmt.Errorf("hybrid.candidates_per_method must be positive"))
	}
	if c.Embedding.Local.Dimensions < 0 || c.Embedding.Remote.Dimensions < 0 || c.Embedding.Fallback.Dimensions < 0 {
		errs = append(errs, fmt.Errorf("embedding dimensions must be >= 0"))
	}
	seen := make(map[string]bool)
	for _, name := range c.EmbeddingBackendPriority {
		switch name {
		case BackendLocal, BackendRemote, BackendFallback:
		default:
			errs = append(errs, fmt.Errorf("unknown embedding backend %q", name))
		}
		if seen[name] {
			errs = append(errs, fmt.Errorf("embedding backend %q listed twice", name))
		}
		seen[name] = true
	}
	for i, r := range c.Watch.Roots {
		if r.Path == "" || r.Bot == "" || r.KB == "" {
			errs = append(errs, fmt.Errorf("watch.roots[%d] needs path, bot and kb", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
