package extract

import (
	"context"
	"fmt"
	"sync"

	"github.com/Kagami/go-face"
	"github.com/facetrack/facetrack/pkg/embedding"
	"github.com/facetrack/facetrack/pkg/logging"
)

// Descriptors from the dlib resnet model are 128-dimensional.
const DlibDimensions = 128

// FaceEngine abstracts the go-face recognizer for testing.
type FaceEngine interface {
	Recognize(imgData []byte) ([]face.Face, error)
	Close()
}

// EngineFactory creates a FaceEngine from a model directory.
type EngineFactory func(modelPath string) (FaceEngine, error)

func dlibFactory(modelPath string) (FaceEngine, error) {
	rec, err := face.NewRecognizer(modelPath)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// DlibExtractor implements Extractor using dlib face descriptors.
// Model loading is an explicit, one-shot initialization step; the loaded
// handle is passed by reference into sessions rather than hidden in a
// package global.
type DlibExtractor struct {
	mu        sync.RWMutex
	engine    FaceEngine
	modelPath string
	loaded    bool
	factory   EngineFactory
}

// NewDlibExtractor creates an extractor. LoadModels must be called before
// the first Extract.
func NewDlibExtractor() *DlibExtractor {
	return &DlibExtractor{factory: dlibFactory}
}

// LoadModels loads the dlib models from modelPath. The directory must
// contain shape_predictor_5_face_landmarks.dat and
// dlib_face_recognition_resnet_model_v1.dat. Loading twice is a no-op.
func (x *DlibExtractor) LoadModels(modelPath string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.loaded {
		return nil
	}

	logging.Infof("Loading face extraction models from: %s", modelPath)
	engine, err := x.factory(modelPath)
	if err != nil {
		return fmt.Errorf("failed to load models: %w", err)
	}

	x.engine = engine
	x.modelPath = modelPath
	x.loaded = true
	logging.Info("Face extraction models loaded")
	return nil
}

// IsLoaded reports whether models are loaded.
func (x *DlibExtractor) IsLoaded() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.loaded
}

// Close releases the underlying engine.
func (x *DlibExtractor) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.engine != nil {
		x.engine.Close()
		x.engine = nil
	}
	x.loaded = false
	return nil
}

// Extract detects the dominant face in the image and returns its
// normalized embedding. With no face it returns ErrNoFaceDetected.
func (x *DlibExtractor) Extract(ctx context.Context, image []byte) (embedding.Embedding, error) {
	return x.extract(ctx, image, false)
}

// ExtractSingle behaves like Extract but rejects images containing more
// than one face, for enrollment captures.
func (x *DlibExtractor) ExtractSingle(ctx context.Context, image []byte) (embedding.Embedding, error) {
	return x.extract(ctx, image, true)
}

func (x *DlibExtractor) extract(ctx context.Context, image []byte, single bool) (embedding.Embedding, error) {
	if err := ctx.Err(); err != nil {
		return embedding.Embedding{}, err
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	if !x.loaded {
		return embedding.Embedding{}, ErrModelNotLoaded
	}

	faces, err := x.engine.Recognize(image)
	if err != nil {
		return embedding.Embedding{}, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	if len(faces) == 0 {
		return embedding.Embedding{}, ErrNoFaceDetected
	}
	if single && len(faces) > 1 {
		return embedding.Embedding{}, ErrMultipleFaces
	}

	best := dominantFace(faces)
	vec := make([]float32, len(best.Descriptor))
	copy(vec, best.Descriptor[:])

	raw := embedding.Embedding{Vector: vec}
	emb := embedding.Normalize(raw)
	emb.Quality = embedding.QualityScore(raw)

	logging.Debugf("Extracted embedding from %d face(s), quality %.0f", len(faces), emb.Quality)
	return emb, nil
}

// dominantFace picks the face with the largest bounding box. go-face does
// not expose a detection confidence, so area stands in for prominence.
func dominantFace(faces []face.Face) face.Face {
	best := faces[0]
	bestArea := best.Rectangle.Dx() * best.Rectangle.Dy()
	for _, f := range faces[1:] {
		if a := f.Rectangle.Dx() * f.Rectangle.Dy(); a > bestArea {
			best = f
			bestArea = a
		}
	}
	return best
}
