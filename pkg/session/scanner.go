package session

import (
	"context"
	"errors"
	"time"

	"github.com/facetrack/facetrack/pkg/logging"
)

// DefaultScanInterval paces the auto-scan loop.
const DefaultScanInterval = 3 * time.Second

// Scanner repeatedly runs recognition sessions against a frame source,
// spaced by an interval. One session runs at a time; a tick that arrives
// while a session is in flight is skipped, so two sessions never race on
// the same capture device.
type Scanner struct {
	recognizer *Recognizer
	frames     FrameSource
	interval   time.Duration

	// OnOutcome, when set, receives each terminal outcome. err carries
	// *NotRecognizedError for none-tier sessions.
	OnOutcome func(outcome *Outcome, err error)
}

// NewScanner creates an auto-scan loop over recognizer.
func NewScanner(recognizer *Recognizer, frames FrameSource, interval time.Duration) *Scanner {
	if interval <= 0 {
		interval = DefaultScanInterval
	}
	return &Scanner{
		recognizer: recognizer,
		frames:     frames,
		interval:   interval,
	}
}

// Run scans until ctx is cancelled. Recognition runs synchronously inside
// the loop, so the loop itself is the suspension that keeps sessions from
// overlapping.
func (s *Scanner) Run(ctx context.Context) error {
	log := logging.Component("scanner")
	log.Infof("Auto-scan started (interval %s)", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Auto-scan stopped")
			return ctx.Err()
		case <-ticker.C:
		}

		outcome, err := s.recognizer.Recognize(ctx, s.frames)
		if errors.Is(err, ErrSessionBusy) {
			continue
		}
		if s.OnOutcome != nil {
			s.OnOutcome(outcome, err)
		}
	}
}
