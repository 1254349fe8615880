// Package enrollment manages the set of enrolled identities and the rules
// for admitting new reference embeddings into it.
package enrollment

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/facetrack/facetrack/pkg/embedding"
)

// ErrDuplicateIdentity is returned when a non-reenrollment request targets
// an identity that already has a reference embedding.
var ErrDuplicateIdentity = errors.New("identity already enrolled")

// ErrIdentityNotFound is returned when the identity key is unknown.
var ErrIdentityNotFound = errors.New("identity not found")

// Identity is a uniquely-keyed enrolled person. An identity either has no
// reference embedding yet (pending) or exactly one; re-enrollment replaces
// it, never appends.
type Identity struct {
	Key         string              `json:"key"`
	DisplayName string              `json:"display_name"`
	Embedding   embedding.Embedding `json:"embedding"`
	EnrolledAt  time.Time           `json:"enrolled_at"`
	Quality     float64             `json:"quality,omitempty"`
}

// HasEmbedding reports whether the identity holds a reference embedding.
func (id Identity) HasEmbedding() bool {
	return len(id.Embedding.Vector) > 0
}

// NormalizeKey canonicalizes an identity key. Keys are typically email
// addresses; comparison is case-insensitive.
func NormalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// Store is the persistence boundary for identities. Implementations must
// make Upsert atomic: a concurrent reader sees either the old or the new
// reference embedding, never a partial update.
type Store interface {
	// Get returns the identity for key, or ErrIdentityNotFound.
	Get(ctx context.Context, key string) (*Identity, error)
	// Upsert inserts or replaces the identity atomically.
	Upsert(ctx context.Context, id Identity) error
	// List returns all identities, enrolled or pending.
	List(ctx context.Context) ([]Identity, error)
	// ListEnrolled returns the identities holding a reference embedding,
	// as an immutable snapshot for one matching pass.
	ListEnrolled(ctx context.Context) ([]Identity, error)
	// Delete removes the identity and cascades to its attendance events.
	Delete(ctx context.Context, key string) error
}
