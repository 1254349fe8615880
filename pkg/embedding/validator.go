package embedding

import (
	"errors"
	"fmt"
	"math"
)

// Reason codes carried by InvalidEmbeddingError. Callers branch on these
// to choose a remedy (re-capture vs. reconfiguration).
const (
	ReasonEmpty             = "empty"
	ReasonCorrupted         = "corrupted"
	ReasonLowQuality        = "low_quality"
	ReasonDimensionMismatch = "dimension_mismatch"
)

// InvalidEmbeddingError reports why an embedding was rejected.
type InvalidEmbeddingError struct {
	Reason string
	Detail string
}

func (e *InvalidEmbeddingError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("invalid embedding: %s", e.Reason)
	}
	return fmt.Sprintf("invalid embedding: %s (%s)", e.Reason, e.Detail)
}

// IsInvalid reports whether err is an embedding validation failure.
func IsInvalid(err error) bool {
	var ie *InvalidEmbeddingError
	return errors.As(err, &ie)
}

// InvalidReason returns the reason code of a validation failure, or ""
// if err is not one.
func InvalidReason(err error) string {
	var ie *InvalidEmbeddingError
	if errors.As(err, &ie) {
		return ie.Reason
	}
	return ""
}

// Validator rejects degenerate embeddings before they enter matching.
// The same gate runs on captured candidates and on enrollment references.
type Validator struct {
	// Dimensions is the deployment-wide embedding dimensionality.
	Dimensions int
	// MinMagnitude is the L2 norm floor below which a vector is
	// considered a featureless detection.
	MinMagnitude float64
}

// NewValidator creates a validator for the given dimensionality and
// magnitude floor.
func NewValidator(dimensions int, minMagnitude float64) Validator {
	return Validator{Dimensions: dimensions, MinMagnitude: minMagnitude}
}

// Validate returns nil if the embedding may enter matching, or an
// *InvalidEmbeddingError with a reason code. Checks run in a fixed order:
// emptiness, finiteness, magnitude floor, dimensionality.
func (v Validator) Validate(e Embedding) error {
	if len(e.Vector) == 0 {
		return &InvalidEmbeddingError{Reason: ReasonEmpty}
	}

	for i, c := range e.Vector {
		f := float64(c)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return &InvalidEmbeddingError{
				Reason: ReasonCorrupted,
				Detail: fmt.Sprintf("non-finite component at index %d", i),
			}
		}
	}

	if mag := e.Magnitude(); mag < v.MinMagnitude {
		return &InvalidEmbeddingError{
			Reason: ReasonLowQuality,
			Detail: fmt.Sprintf("magnitude %.4f below floor %.4f", mag, v.MinMagnitude),
		}
	}

	if v.Dimensions > 0 && len(e.Vector) != v.Dimensions {
		return &InvalidEmbeddingError{
			Reason: ReasonDimensionMismatch,
			Detail: fmt.Sprintf("got %d components, want %d", len(e.Vector), v.Dimensions),
		}
	}

	return nil
}
