package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
)

const (
	shingleSize    = 10
	bitsPerShingle = 64
)

// FallbackBackend produces deterministic, non-semantic unit vectors from hashed word shingles.
// It never fails and keeps indexing moving when no real backend is reachable.
type FallbackBackend struct {
	dimensions int
}

// NewFallbackBackend creates a fallback backend. dimensions <= 0 defaults to 384.
func NewFallbackBackend(dimensions int) *FallbackBackend {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &FallbackBackend{dimensions: dimensions}
}

// ID returns "fallback-hash-<dims>".
func (f *FallbackBackend) ID() string {
	return fmt.Sprintf("fallback-hash-%d", f.dimensions)
}

// Dimensions returns the configured vector length.
func (f *FallbackBackend) Dimensions() int {
	return f.dimensions
}

// Embed hashes each shingle with 64-bit FNV-1a and adds +1/-1 per hash bit at
// (shingle*64 + bit) mod dims, then L2-normalizes.
func (f *FallbackBackend) Embed(_ context.Context, text string) ([]float32, error) {
	acc := make([]float64, f.dimensions)
	for i, shingle := range shingles(strings.ToLower(text)) {
		h := fnv.New64a()
		h.Write([]byte(shingle))
		sum := h.Sum64()
		for j := 0; j < bitsPerShingle; j++ {
			idx := (i*bitsPerShingle + j) % f.dimensions
			if sum&(1<<uint(j)) != 0 {
				acc[idx]++
			} else {
				acc[idx]--
			}
		}
	}

	var norm float64
	for _, v := range acc {
		norm += v * v
	}
	out := make([]float32, f.dimensions)
	if norm == 0 {
		out[0] = 1
		return out, nil
	}
	norm = math.Sqrt(norm)
	for i, v := range acc {
		out[i] = float32(v / norm)
	}
	return out, nil
}

// shingles splits text into consecutive non-overlapping groups of shingleSize words.
func shingles(text string) []string {
	words := strings.Fields(text)
	var out []string
	for start := 0; start < len(words); start += shingleSize {
		end := start + shingleSize
		if end > len(words) {
			end = len(words)
		}
		out = append(out, strings.Join(words[start:end], " "))
	}
	return out
}
