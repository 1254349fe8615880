// Package session sequences one recognition attempt end to end:
// capture, validation, matching, transition decision, and the single
// atomic append that records it.
package session

// State is the lifecycle of a recognition session. One owner (the
// Recognizer) advances it; there are no independent readiness flags.
type State int

const (
	// StateIdle means no session is in flight.
	StateIdle State = iota
	// StateCapturing means a frame is being obtained and extracted.
	StateCapturing
	// StateValidating means the candidate embedding is under quality checks.
	StateValidating
	// StateMatching means the candidate is being scored against the
	// enrolled set.
	StateMatching
	// StateDeciding means the attendance transition is being determined.
	StateDeciding
	// StatePersisting means the event append is in progress.
	StatePersisting
	// StateDone means the session reached a terminal successful outcome.
	StateDone
	// StateFailed means the session reached a terminal failure.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateValidating:
		return "validating"
	case StateMatching:
		return "matching"
	case StateDeciding:
		return "deciding"
	case StatePersisting:
		return "persisting"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
