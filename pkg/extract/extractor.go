// Package extract turns captured images into face embeddings. It uses
// dlib via go-face for detection and descriptor extraction.
package extract

import (
	"context"
	"errors"

	"github.com/facetrack/facetrack/pkg/embedding"
)

// ErrNoFaceDetected is returned when no face is found in the image.
// Recoverable by retrying capture.
var ErrNoFaceDetected = errors.New("no face detected")

// ErrMultipleFaces is returned when more than one face is detected and the
// caller asked for exactly one.
var ErrMultipleFaces = errors.New("multiple faces detected")

// ErrModelNotLoaded is returned when extraction runs before LoadModels.
var ErrModelNotLoaded = errors.New("extraction models not loaded")

// ErrExtractionFailed wraps engine failures that are not face-count issues.
var ErrExtractionFailed = errors.New("embedding extraction failed")

// Extractor produces a face embedding from raw image bytes. It must be
// idempotent for the same input and retain no caller-visible state
// between calls.
type Extractor interface {
	Extract(ctx context.Context, image []byte) (embedding.Embedding, error)
}

// SingleExtractor additionally rejects images containing more than one
// face. Enrollment photos must hold exactly one.
type SingleExtractor interface {
	Extractor
	ExtractSingle(ctx context.Context, image []byte) (embedding.Embedding, error)
}

// Retryable reports whether an extraction failure may resolve with a
// fresh frame.
func Retryable(err error) bool {
	return errors.Is(err, ErrNoFaceDetected) || embedding.IsInvalid(err)
}
