// Package mock provides a deterministic embedder for tests: identical text
// always yields the identical unit vector, so exact re-embedding scores at
// full similarity without a real model.
package mock

import (
	"context"
	"hash/fnv"
	"math"
)

// Embedder generates hash-seeded pseudo-random unit vectors.
type Embedder struct {
	dims int
}

// New creates a mock embedder of the given dimensionality.
func New(dims int) *Embedder {
	return &Embedder{dims: dims}
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	embedding := make([]float32, e.dims)
	for i := range embedding {
		// Linear congruential step per component.
		seed = seed*6364136223846793005 + 1442695040888963407
		embedding[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return normalize(embedding), nil
}

func (e *Embedder) Dimensions() int {
	return e.dims
}

func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = float32(math.Sqrt(float64(norm)))
	for i, v := range vec {
		vec[i] = v / norm
	}
	return vec
}
