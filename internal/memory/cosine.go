package memory

import (
	"errors"
	"fmt"
	"math"
)

// ErrDimensionMismatch is returned when two embeddings (or an embedding
// and the store's configured dimensionality) disagree. Mismatched vectors
// are a hard error, never silently skipped.
var ErrDimensionMismatch = errors.New("memory: embedding dimension mismatch")

// Cosine returns the cosine similarity of two equal-length vectors, in
// [-1, 1]. A zero-norm vector yields similarity 0.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}
