package attendance

import (
	"time"

	"github.com/facetrack/facetrack/pkg/logging"
	"github.com/sirupsen/logrus"
)

// DefaultReentryWindow bounds how long an entry stays "open". After the
// window expires the next event is forced back to entry, treating the stale
// session as abandoned.
const DefaultReentryWindow = 4 * time.Hour

// StateMachine decides the next transition for an identity from its most
// recent event. It never writes to storage; it returns a value and the
// caller performs a single atomic append.
type StateMachine struct {
	reentryWindow time.Duration
	now           func() time.Time
	log           *logrus.Entry
}

// NewStateMachine creates a state machine with the given re-entry window.
// A non-positive window falls back to DefaultReentryWindow.
func NewStateMachine(reentryWindow time.Duration) *StateMachine {
	if reentryWindow <= 0 {
		reentryWindow = DefaultReentryWindow
	}
	return &StateMachine{
		reentryWindow: reentryWindow,
		now:           time.Now,
		log:           logging.Component("attendance"),
	}
}

// NextTransition returns the transition that should follow last. A nil last
// event means entry. A prior entry within the re-entry window pairs with an
// exit; anything else restarts with a fresh entry.
func (m *StateMachine) NextTransition(last *Event) Transition {
	if last == nil {
		return TransitionEntry
	}

	if last.Type == TransitionEntry {
		elapsed := m.now().Sub(last.Timestamp)
		if elapsed < m.reentryWindow {
			return TransitionExit
		}
		m.log.Debugf("Stale entry for %s (%.1fh old), resetting to entry",
			last.IdentityKey, elapsed.Hours())
	}
	return TransitionEntry
}

// NextEvent builds the event value for the transition that follows last.
// The result is ready for append.
func (m *StateMachine) NextEvent(identityKey string, last *Event, confidence float64, captureRef string) Event {
	return Event{
		ID:          NewEventID(),
		IdentityKey: identityKey,
		Type:        m.NextTransition(last),
		Timestamp:   m.now(),
		Confidence:  confidence,
		CaptureRef:  captureRef,
	}
}
