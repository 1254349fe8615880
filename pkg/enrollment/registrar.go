package enrollment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/facetrack/facetrack/pkg/embedding"
	"github.com/facetrack/facetrack/pkg/logging"
	"github.com/facetrack/facetrack/pkg/metrics"
	"github.com/sirupsen/logrus"
)

// Registrar validates enrollment candidates before admitting them into the
// enrolled set. It serializes the existence check and the upsert so that two
// concurrent requests for the same key cannot both pass the duplicate gate.
type Registrar struct {
	store     Store
	validator embedding.Validator

	mu  sync.Mutex
	now func() time.Time
	log *logrus.Entry
}

// NewRegistrar creates a registrar backed by the given store and validator.
func NewRegistrar(store Store, validator embedding.Validator) *Registrar {
	return &Registrar{
		store:     store,
		validator: validator,
		now:       time.Now,
		log:       logging.Component("registrar"),
	}
}

// CreatePending registers an identity without a reference embedding. The
// identity will not participate in matching until Register supplies one.
func (r *Registrar) CreatePending(ctx context.Context, key, displayName string) (*Identity, error) {
	key = NormalizeKey(key)
	if key == "" {
		return nil, fmt.Errorf("identity key must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, err := r.store.Get(ctx, key); err == nil && existing != nil {
		return nil, ErrDuplicateIdentity
	} else if err != nil && !errors.Is(err, ErrIdentityNotFound) {
		return nil, fmt.Errorf("checking identity %q: %w", key, err)
	}

	id := Identity{Key: key, DisplayName: displayName}
	if err := r.store.Upsert(ctx, id); err != nil {
		return nil, fmt.Errorf("creating identity %q: %w", key, err)
	}

	r.log.Infof("Created pending identity: %s", key)
	return &id, nil
}

// Register admits a reference embedding for an identity. A request for a key
// that already holds an embedding is rejected with ErrDuplicateIdentity
// unless reenroll is set, in which case the stored embedding is replaced
// atomically (latest wins, never appended).
func (r *Registrar) Register(ctx context.Context, key, displayName string, emb embedding.Embedding, reenroll bool) (*Identity, error) {
	key = NormalizeKey(key)
	if key == "" {
		return nil, fmt.Errorf("identity key must not be empty")
	}

	if err := r.validator.Validate(emb); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.store.Get(ctx, key)
	switch {
	case errors.Is(err, ErrIdentityNotFound):
		existing = nil
	case err != nil:
		return nil, fmt.Errorf("checking identity %q: %w", key, err)
	}

	if existing != nil && existing.HasEmbedding() && !reenroll {
		return nil, ErrDuplicateIdentity
	}

	id := Identity{
		Key:         key,
		DisplayName: displayName,
		Embedding:   emb.Clone(),
		EnrolledAt:  r.now(),
		Quality:     emb.Quality,
	}
	if id.DisplayName == "" && existing != nil {
		id.DisplayName = existing.DisplayName
	}
	if id.Quality == 0 {
		id.Quality = embedding.QualityScore(emb)
	}

	if err := r.store.Upsert(ctx, id); err != nil {
		return nil, fmt.Errorf("enrolling identity %q: %w", key, err)
	}

	metrics.Enrollments.Inc()
	if existing != nil && existing.HasEmbedding() {
		r.log.Infof("Re-enrolled identity %s (quality %.0f)", key, id.Quality)
	} else {
		r.log.Infof("Enrolled identity %s (quality %.0f)", key, id.Quality)
	}
	return &id, nil
}
