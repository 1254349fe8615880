// Package embedding defines the face embedding type together with the
// quality gates and similarity scoring applied before matching.
package embedding

import "math"

// Embedding is a fixed-length face embedding produced by an extractor.
// The vector is immutable once created; callers that need to modify it
// must work on a copy.
type Embedding struct {
	Vector  []float32 `json:"vector"`
	Quality float64   `json:"quality,omitempty"`
}

// Dim returns the dimensionality of the embedding.
func (e Embedding) Dim() int {
	return len(e.Vector)
}

// Magnitude returns the L2 norm of the embedding vector.
func (e Embedding) Magnitude() float64 {
	var sum float64
	for _, v := range e.Vector {
		f := float64(v)
		sum += f * f
	}
	return math.Sqrt(sum)
}

// Clone returns a deep copy of the embedding.
func (e Embedding) Clone() Embedding {
	vec := make([]float32, len(e.Vector))
	copy(vec, e.Vector)
	return Embedding{Vector: vec, Quality: e.Quality}
}

// Normalize returns a unit-length copy of the embedding. A zero or
// degenerate vector is returned unchanged; the validator rejects it later.
func Normalize(e Embedding) Embedding {
	mag := e.Magnitude()
	if mag == 0 || math.IsNaN(mag) || math.IsInf(mag, 0) {
		return e.Clone()
	}

	out := make([]float32, len(e.Vector))
	for i, v := range e.Vector {
		out[i] = float32(float64(v) / mag)
	}
	return Embedding{Vector: out, Quality: e.Quality}
}

// QualityScore derives a 0-100 quality score from the raw (pre-normalization)
// vector magnitude.
func QualityScore(e Embedding) float64 {
	return math.Min(100, math.Round(e.Magnitude()*100))
}
