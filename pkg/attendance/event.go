// Package attendance decides entry/exit transitions and produces the
// time-stamped events that record them.
package attendance

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Transition is the type of an attendance event.
type Transition string

const (
	// TransitionEntry marks the start of a presence interval.
	TransitionEntry Transition = "entry"
	// TransitionExit marks the end of a presence interval.
	TransitionExit Transition = "exit"
)

// Event is one recorded attendance transition. Events are append-only:
// never mutated or deleted except by an identity cascade delete.
type Event struct {
	ID          string     `json:"id"`
	IdentityKey string     `json:"identity_key"`
	Type        Transition `json:"type"`
	Timestamp   time.Time  `json:"timestamp"`
	Confidence  float64    `json:"confidence"`
	CaptureRef  string     `json:"capture_ref,omitempty"`
}

// EventLog is the persistence boundary for attendance events. LatestFor
// must be consistent with append order for a given identity.
type EventLog interface {
	// Append records an event. The caller owns ordering guarantees;
	// see session for the per-identity locking that protects the
	// read-decide-append sequence.
	Append(ctx context.Context, ev Event) error
	// LatestFor returns the most recent event for an identity, or nil
	// if none exists.
	LatestFor(ctx context.Context, identityKey string) (*Event, error)
	// ListByDateRange returns events in [start, end], ascending by
	// timestamp.
	ListByDateRange(ctx context.Context, start, end time.Time) ([]Event, error)
}

// NewEventID returns a unique identifier for an event.
func NewEventID() string {
	return uuid.NewString()
}
