// Package embedding turns text into vectors through a priority chain of backends
// (local service, remote API, deterministic fallback) with retries and caching.
package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperjump/kbsearch/internal/models"
)

// Backend is one embedding tier.
type Backend interface {
	// ID identifies the model and vector space. Vectors with different IDs are never mixed.
	ID() string
	// Dimensions reports the vector length, or 0 if the backend has not answered yet.
	Dimensions() int
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Vector is an embedding tagged with the backend that produced it.
type Vector struct {
	Values    []float32
	BackendID string
}

// Dimensions returns len(Values).
func (v Vector) Dimensions() int {
	return len(v.Values)
}

// transient marks err as retryable.
func transient(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), models.ErrTransientBackend)
}

// IsTransient reports whether err should be retried on the same backend.
func IsTransient(err error) bool {
	return errors.Is(err, models.ErrTransientBackend) || errors.Is(err, context.DeadlineExceeded)
}
