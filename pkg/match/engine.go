package match

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/facetrack/facetrack/pkg/embedding"
	"github.com/facetrack/facetrack/pkg/enrollment"
	"github.com/facetrack/facetrack/pkg/logging"
	"github.com/sirupsen/logrus"
)

// Result is the outcome of one decision. It is ephemeral: produced and
// consumed within a single recognition attempt, never persisted.
type Result struct {
	// Identity is the best-scoring enrolled identity, nil when the
	// enrolled set was empty.
	Identity *enrollment.Identity
	// Score is the top similarity in [0, 1].
	Score float64
	// Margin is the lead of the top score over the runner-up. With a
	// single enrolled identity the runner-up scores 0.
	Margin float64
	// Tier classifies the outcome.
	Tier Tier
	// Reason carries a code for none-tier outcomes.
	Reason string
	// Attempts counts decision passes, including retries.
	Attempts int
}

// Matched reports whether the result is decisive enough to act on.
func (r Result) Matched() bool {
	return r.Tier != TierNone && r.Identity != nil
}

// CandidateSource produces a freshly extracted, validated candidate
// embedding. Retries call it again to obtain a better frame.
type CandidateSource func(ctx context.Context) (embedding.Embedding, error)

// SnapshotSource returns the enrolled set as read for one decision pass.
// It is called per attempt so re-enrollments become visible between
// retries, but never mid-pass.
type SnapshotSource func(ctx context.Context) ([]enrollment.Identity, error)

// Engine ranks a candidate against the enrolled set and classifies the
// outcome using absolute and margin thresholds.
type Engine struct {
	policy    ThresholdPolicy
	retryable func(error) bool
	sleep     func(ctx context.Context, d time.Duration) error
	log       *logrus.Entry
}

// Option configures an Engine.
type Option func(*Engine)

// WithRetryableCheck overrides the predicate deciding whether a candidate
// extraction failure is quality-related and therefore worth a retry. The
// default retries on embedding validation failures only.
func WithRetryableCheck(fn func(error) bool) Option {
	return func(e *Engine) {
		if fn != nil {
			e.retryable = fn
		}
	}
}

// NewEngine creates a decision engine with the given policy.
func NewEngine(policy ThresholdPolicy, opts ...Option) *Engine {
	e := &Engine{
		policy:    policy,
		retryable: embedding.IsInvalid,
		sleep:     sleepCtx,
		log:       logging.Component("match"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the engine's threshold policy.
func (e *Engine) Policy() ThresholdPolicy {
	return e.policy
}

// Decide scores candidate against every enrolled identity with a reference
// embedding and classifies the outcome. Pure: no I/O, no retries.
func (e *Engine) Decide(candidate embedding.Embedding, enrolled []enrollment.Identity) Result {
	type scored struct {
		identity *enrollment.Identity
		score    float64
	}

	ranked := make([]scored, 0, len(enrolled))
	for i := range enrolled {
		if !enrolled[i].HasEmbedding() {
			continue
		}
		s := embedding.Score(candidate.Vector, enrolled[i].Embedding.Vector)
		ranked = append(ranked, scored{identity: &enrolled[i], score: s})
	}

	if len(ranked) == 0 {
		return Result{Tier: TierNone, Reason: ReasonNoEnrolledIdentities, Attempts: 1}
	}

	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	top1 := ranked[0]
	var top2 float64
	if len(ranked) > 1 {
		top2 = ranked[1].score
	}
	margin := top1.score - top2

	res := Result{
		Identity: top1.identity,
		Score:    top1.score,
		Margin:   margin,
		Attempts: 1,
	}

	switch {
	case top1.score >= e.policy.HighThreshold && margin >= e.policy.HighMargin:
		res.Tier = TierHigh
	case top1.score >= e.policy.BaseThreshold && margin >= e.policy.BaseMargin:
		res.Tier = TierMedium
	case top1.score >= e.policy.BaseThreshold:
		res.Tier = TierNone
		res.Reason = ReasonAmbiguousMargin
	default:
		res.Tier = TierNone
		res.Reason = ReasonBelowThreshold
	}

	e.log.Debugf("Decision: tier=%s score=%.4f margin=%.4f candidates=%d",
		res.Tier, res.Score, res.Margin, len(ranked))
	return res
}

// DecideWithRetry runs Decide against candidates pulled from source,
// retrying up to policy.MaxRetries extra attempts when the candidate could
// not be produced for a quality-related reason. Retries are spaced by the
// policy backoff and honor ctx. On exhaustion the best none-tier result
// seen is returned as the terminal answer; a non-nil error means no
// decision pass completed at all.
func (e *Engine) DecideWithRetry(ctx context.Context, source CandidateSource, snapshot SnapshotSource) (Result, error) {
	var (
		best     Result
		decided  bool
		lastErr  error
		attempts int
	)

	maxAttempts := e.policy.MaxRetries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		if err := ctx.Err(); err != nil {
			return best, err
		}

		candidate, err := source(ctx)
		if err != nil {
			lastErr = err
			if !e.retryable(err) || attempt == maxAttempts {
				break
			}
			e.log.Debugf("Attempt %d/%d failed (%v), backing off", attempt, maxAttempts, err)
			if err := e.sleep(ctx, e.policy.RetryBackoff); err != nil {
				return best, err
			}
			continue
		}

		enrolled, err := snapshot(ctx)
		if err != nil {
			return best, fmt.Errorf("reading enrolled set: %w", err)
		}

		res := e.Decide(candidate, enrolled)
		res.Attempts = attempt
		decided = true
		if res.Tier != TierNone {
			return res, nil
		}
		if res.Score >= best.Score || best.Attempts == 0 {
			best = res
		}
		// A ranked no-match means no match exists; only quality
		// failures earn another frame.
		break
	}

	best.Attempts = attempts
	if !decided {
		return best, lastErr
	}
	return best, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
