// Package embed computes fixed-dimension vector embeddings for ticket
// text. Vectors from the same provider/model/dimension are comparable;
// callers must not mix vectors across configurations.
package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math"
)

// ErrUnavailable is returned when the provider cannot serve embeddings.
// Read paths treat it as degraded mode, not a failure.
var ErrUnavailable = errors.New("embedding provider unavailable")

// Provider computes embeddings for a batch of texts. Implementations
// return one unit-normalized vector per input, in input order.
type Provider interface {
	Model() string
	Dim() int
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// TextHash identifies the exact text a cached vector was computed from,
// so stale vectors are recomputed only when the normalized text changes.
func TextHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:8])
}

// NormalizeVector scales v to unit length in place. Zero vectors are
// left untouched.
func NormalizeVector(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
}

// Dot returns the dot product of two vectors, which equals cosine
// similarity for unit-normalized input. Mismatched lengths score 0.
func Dot(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}
