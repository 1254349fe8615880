package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/facetrack/facetrack/pkg/attendance"
	"github.com/facetrack/facetrack/pkg/embedding"
	"github.com/facetrack/facetrack/pkg/enrollment"
	"github.com/facetrack/facetrack/pkg/extract"
	"github.com/facetrack/facetrack/pkg/logging"
	"github.com/facetrack/facetrack/pkg/match"
	"github.com/facetrack/facetrack/pkg/metrics"
	"github.com/facetrack/facetrack/pkg/store"
	"github.com/sirupsen/logrus"
)

// ErrSessionBusy is returned when a second recognition is started on a
// session that has not resolved yet. Sessions are single-flight.
var ErrSessionBusy = errors.New("recognition session already in progress")

// NotRecognizedError is the terminal outcome of a session whose decision
// stayed at tier none after all retries.
type NotRecognizedError struct {
	Result match.Result
}

func (e *NotRecognizedError) Error() string {
	if e.Result.Reason != "" {
		return fmt.Sprintf("not recognized: %s", e.Result.Reason)
	}
	return "not recognized"
}

// FrameSource supplies captured frames. Retries pull a fresh frame so the
// capture subsystem can provide a better image.
type FrameSource func(ctx context.Context) ([]byte, error)

// StaticFrame adapts a single captured image to a FrameSource. Every
// attempt re-extracts from the same bytes.
func StaticFrame(image []byte) FrameSource {
	return func(ctx context.Context) ([]byte, error) {
		return image, nil
	}
}

// Outcome is the terminal result of one recognition session.
type Outcome struct {
	Result   match.Result
	Event    *attendance.Event
	Duration time.Duration
}

// Recognizer sequences Validator, decision engine, state machine and the
// event append for one recognition attempt at a time.
type Recognizer struct {
	extractor  extract.Extractor
	validator  embedding.Validator
	engine     *match.Engine
	machine    *attendance.StateMachine
	identities enrollment.Store
	events     attendance.EventLog

	storeRetries int
	storeBackoff time.Duration

	busy  atomic.Bool
	state atomic.Int32

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex

	log *logrus.Entry
}

// Config wires a Recognizer.
type Config struct {
	Extractor  extract.Extractor
	Validator  embedding.Validator
	Engine     *match.Engine
	Machine    *attendance.StateMachine
	Identities enrollment.Store
	Events     attendance.EventLog

	// StoreRetries bounds append retries on a retryable store failure.
	StoreRetries int
	// StoreBackoff spaces those retries.
	StoreBackoff time.Duration
}

// NewRecognizer creates a session façade from cfg.
func NewRecognizer(cfg Config) *Recognizer {
	if cfg.StoreRetries < 0 {
		cfg.StoreRetries = 0
	}
	if cfg.StoreBackoff <= 0 {
		cfg.StoreBackoff = 500 * time.Millisecond
	}
	return &Recognizer{
		extractor:    cfg.Extractor,
		validator:    cfg.Validator,
		engine:       cfg.Engine,
		machine:      cfg.Machine,
		identities:   cfg.Identities,
		events:       cfg.Events,
		storeRetries: cfg.StoreRetries,
		storeBackoff: cfg.StoreBackoff,
		locks:        make(map[string]*sync.Mutex),
		log:          logging.Component("session"),
	}
}

// State returns the current lifecycle state.
func (r *Recognizer) State() State {
	return State(r.state.Load())
}

func (r *Recognizer) setState(s State) {
	r.state.Store(int32(s))
}

// identityLock returns the mutex guarding the read-decide-append sequence
// for one identity. Two concurrent recognitions of the same person must
// not both read "no prior event".
func (r *Recognizer) identityLock(key string) *sync.Mutex {
	r.lockMu.Lock()
	defer r.lockMu.Unlock()

	mu, ok := r.locks[key]
	if !ok {
		mu = &sync.Mutex{}
		r.locks[key] = mu
	}
	return mu
}

// RecognizeImage runs one session against a single captured image.
func (r *Recognizer) RecognizeImage(ctx context.Context, image []byte) (*Outcome, error) {
	return r.Recognize(ctx, StaticFrame(image))
}

// Recognize runs one recognition session: extract and validate a candidate
// from frames, decide a match with bounded retries, and on a decisive tier
// log the attendance transition. A none-tier decision terminates with
// *NotRecognizedError and writes nothing. Cancellation before the append
// discards all intermediate state.
func (r *Recognizer) Recognize(ctx context.Context, frames FrameSource) (*Outcome, error) {
	if !r.busy.CompareAndSwap(false, true) {
		return nil, ErrSessionBusy
	}
	defer r.busy.Store(false)

	start := time.Now()
	outcome, err := r.run(ctx, frames)
	if err != nil {
		r.setState(StateFailed)
	} else {
		r.setState(StateDone)
	}
	if outcome != nil {
		outcome.Duration = time.Since(start)
		metrics.RecognitionDuration.Observe(outcome.Duration.Seconds())
	}
	return outcome, err
}

func (r *Recognizer) run(ctx context.Context, frames FrameSource) (*Outcome, error) {
	source := func(ctx context.Context) (embedding.Embedding, error) {
		r.setState(StateCapturing)
		image, err := frames(ctx)
		if err != nil {
			return embedding.Embedding{}, fmt.Errorf("capturing frame: %w", err)
		}

		candidate, err := r.extractor.Extract(ctx, image)
		if err != nil {
			return embedding.Embedding{}, err
		}

		r.setState(StateValidating)
		if err := r.validator.Validate(candidate); err != nil {
			return embedding.Embedding{}, err
		}
		return candidate, nil
	}

	// A fresh snapshot per attempt; the enrolled set is never cached
	// across decision calls.
	snapshot := func(ctx context.Context) ([]enrollment.Identity, error) {
		r.setState(StateMatching)
		return r.identities.ListEnrolled(ctx)
	}

	result, err := r.engine.DecideWithRetry(ctx, source, snapshot)
	if err != nil {
		metrics.Recognitions.WithLabelValues(match.TierNone.String()).Inc()
		return &Outcome{Result: result}, err
	}

	metrics.Recognitions.WithLabelValues(result.Tier.String()).Inc()
	if !result.Matched() {
		r.log.Infof("Not recognized after %d attempt(s): %s (best score %.4f)",
			result.Attempts, result.Reason, result.Score)
		return &Outcome{Result: result}, &NotRecognizedError{Result: result}
	}

	key := result.Identity.Key

	// Hold the per-identity lock across read-decide-append so the
	// entry/exit alternation cannot be violated by a concurrent session.
	mu := r.identityLock(key)
	mu.Lock()
	defer mu.Unlock()

	r.setState(StateDeciding)
	last, err := r.latestWithRetry(ctx, key)
	if err != nil {
		return &Outcome{Result: result}, fmt.Errorf("reading last event for %s: %w", key, err)
	}

	ev := r.machine.NextEvent(key, last, result.Score, "")

	if err := ctx.Err(); err != nil {
		// Cancelled before the append: discard everything.
		return &Outcome{Result: result}, err
	}

	r.setState(StatePersisting)
	if err := r.appendWithRetry(ctx, ev); err != nil {
		return &Outcome{Result: result}, fmt.Errorf("recording %s for %s: %w", ev.Type, key, err)
	}

	metrics.Events.WithLabelValues(string(ev.Type)).Inc()
	r.log.WithFields(logrus.Fields{
		"identity": key,
		"type":     ev.Type,
		"score":    fmt.Sprintf("%.4f", result.Score),
		"tier":     result.Tier.String(),
	}).Info("Attendance recorded")

	return &Outcome{Result: result, Event: &ev}, nil
}

func (r *Recognizer) latestWithRetry(ctx context.Context, key string) (*attendance.Event, error) {
	var last *attendance.Event
	err := r.withStoreRetry(ctx, func() error {
		var err error
		last, err = r.events.LatestFor(ctx, key)
		return err
	})
	return last, err
}

func (r *Recognizer) appendWithRetry(ctx context.Context, ev attendance.Event) error {
	return r.withStoreRetry(ctx, func() error {
		return r.events.Append(ctx, ev)
	})
}

// withStoreRetry retries retryable store failures with a fixed backoff.
// This is the only layer that retries I/O; decision code stays pure.
func (r *Recognizer) withStoreRetry(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 0; attempt <= r.storeRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if attempt > 0 {
			t := time.NewTimer(r.storeBackoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}

		lastErr = op()
		if lastErr == nil || !store.IsUnavailable(lastErr) {
			return lastErr
		}
		r.log.Warnf("Store attempt %d/%d failed: %v", attempt+1, r.storeRetries+1, lastErr)
	}
	return lastErr
}
