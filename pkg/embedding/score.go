package embedding

import "math"

// Score returns the cosine similarity between a and b, clamped to [0, 1].
// Mismatched or empty lengths score 0 rather than erroring; degraded inputs
// are filtered upstream by the validator. Negative cosine, which can appear
// as numerical noise on near-orthogonal vectors, is floored to 0.
func Score(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		va := float64(a[i])
		vb := float64(b[i])
		dot += va * vb
		normA += va * va
		normB += vb * vb
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	s := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	switch {
	case math.IsNaN(s), s < 0:
		return 0
	case s > 1:
		return 1
	}
	return s
}
