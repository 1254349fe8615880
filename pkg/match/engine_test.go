package match

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/facetrack/facetrack/pkg/embedding"
	"github.com/facetrack/facetrack/pkg/enrollment"
)

func testPolicy() ThresholdPolicy {
	return ThresholdPolicy{
		BaseThreshold: 0.60,
		HighThreshold: 0.72,
		BaseMargin:    0.05,
		HighMargin:    0.10,
		MaxRetries:    2,
		RetryBackoff:  time.Millisecond,
	}
}

// withSimilarity returns a unit vector whose cosine similarity to the unit
// candidate {1, 0} is exactly sim.
func withSimilarity(sim float64) []float32 {
	return []float32{float32(sim), float32(math.Sqrt(1 - sim*sim))}
}

func enrolled(key string, sim float64) enrollment.Identity {
	return enrollment.Identity{
		Key:       key,
		Embedding: embedding.Embedding{Vector: withSimilarity(sim)},
	}
}

var candidate = embedding.Embedding{Vector: []float32{1, 0}}

func TestDecideTiers(t *testing.T) {
	tests := []struct {
		name     string
		enrolled []enrollment.Identity
		wantTier Tier
		wantKey  string
		reason   string
	}{
		{
			name:     "HighSingleCandidate",
			enrolled: []enrollment.Identity{enrolled("alice", 0.90)},
			wantTier: TierHigh,
			wantKey:  "alice",
		},
		{
			name: "HighWithDecisiveMargin",
			enrolled: []enrollment.Identity{
				enrolled("alice", 0.85),
				enrolled("bob", 0.55),
			},
			wantTier: TierHigh,
			wantKey:  "alice",
		},
		{
			name: "MediumAboveBase",
			enrolled: []enrollment.Identity{
				enrolled("alice", 0.65),
				enrolled("bob", 0.40),
			},
			wantTier: TierMedium,
			wantKey:  "alice",
		},
		{
			name: "AmbiguousMargin",
			enrolled: []enrollment.Identity{
				enrolled("alice", 0.65),
				enrolled("bob", 0.62),
			},
			wantTier: TierNone,
			reason:   ReasonAmbiguousMargin,
		},
		{
			name:     "BelowThreshold",
			enrolled: []enrollment.Identity{enrolled("alice", 0.40)},
			wantTier: TierNone,
			reason:   ReasonBelowThreshold,
		},
		{
			name:     "EmptyEnrolledSet",
			enrolled: nil,
			wantTier: TierNone,
			reason:   ReasonNoEnrolledIdentities,
		},
		{
			name: "PendingIdentitiesIgnored",
			enrolled: []enrollment.Identity{
				{Key: "pending"},
			},
			wantTier: TierNone,
			reason:   ReasonNoEnrolledIdentities,
		},
		{
			name: "HighScoreAmbiguousMarginDemoted",
			enrolled: []enrollment.Identity{
				enrolled("alice", 0.90),
				enrolled("bob", 0.88),
			},
			wantTier: TierNone,
			reason:   ReasonAmbiguousMargin,
		},
	}

	engine := NewEngine(testPolicy())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := engine.Decide(candidate, tt.enrolled)
			if res.Tier != tt.wantTier {
				t.Fatalf("expected tier %s, got %s (score %.4f margin %.4f)",
					tt.wantTier, res.Tier, res.Score, res.Margin)
			}
			if tt.wantKey != "" {
				if res.Identity == nil || res.Identity.Key != tt.wantKey {
					t.Errorf("expected identity %s, got %v", tt.wantKey, res.Identity)
				}
			}
			if tt.reason != "" && res.Reason != tt.reason {
				t.Errorf("expected reason %q, got %q", tt.reason, res.Reason)
			}
		})
	}
}

func TestDecideSingleEnrolledMargin(t *testing.T) {
	// With one enrolled identity the runner-up score is zero, so the margin
	// equals the top score.
	engine := NewEngine(testPolicy())
	res := engine.Decide(candidate, []enrollment.Identity{enrolled("alice", 0.65)})
	if math.Abs(res.Margin-res.Score) > 1e-6 {
		t.Errorf("expected margin == score, got margin %.4f score %.4f", res.Margin, res.Score)
	}
	if res.Tier != TierMedium {
		t.Errorf("expected medium, got %s", res.Tier)
	}
}

func TestDecideWithRetryRecoversFromQualityFailure(t *testing.T) {
	calls := 0
	source := func(ctx context.Context) (embedding.Embedding, error) {
		calls++
		if calls == 1 {
			return embedding.Embedding{}, &embedding.InvalidEmbeddingError{Reason: embedding.ReasonLowQuality}
		}
		return candidate, nil
	}
	snapshot := func(ctx context.Context) ([]enrollment.Identity, error) {
		return []enrollment.Identity{enrolled("alice", 0.90)}, nil
	}

	engine := NewEngine(testPolicy())
	res, err := engine.DecideWithRetry(context.Background(), source, snapshot)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Tier != TierHigh {
		t.Errorf("expected high, got %s", res.Tier)
	}
	if res.Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", res.Attempts)
	}
}

func TestDecideWithRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	source := func(ctx context.Context) (embedding.Embedding, error) {
		calls++
		return embedding.Embedding{}, &embedding.InvalidEmbeddingError{Reason: embedding.ReasonEmpty}
	}
	snapshot := func(ctx context.Context) ([]enrollment.Identity, error) {
		t.Fatal("snapshot should not be read when no candidate was produced")
		return nil, nil
	}

	engine := NewEngine(testPolicy())
	_, err := engine.DecideWithRetry(context.Background(), source, snapshot)
	if !embedding.IsInvalid(err) {
		t.Fatalf("expected the final validation failure, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts (1 + 2 retries), got %d", calls)
	}
}

func TestDecideWithRetryDoesNotRetryUnrelatedErrors(t *testing.T) {
	boom := errors.New("camera unplugged")
	calls := 0
	source := func(ctx context.Context) (embedding.Embedding, error) {
		calls++
		return embedding.Embedding{}, boom
	}
	snapshot := func(ctx context.Context) ([]enrollment.Identity, error) {
		return nil, nil
	}

	engine := NewEngine(testPolicy())
	_, err := engine.DecideWithRetry(context.Background(), source, snapshot)
	if !errors.Is(err, boom) {
		t.Fatalf("expected source error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 attempt, got %d", calls)
	}
}

func TestDecideWithRetryNoMatchIsTerminal(t *testing.T) {
	// A completed ranking that finds nobody must not burn retries.
	calls := 0
	source := func(ctx context.Context) (embedding.Embedding, error) {
		calls++
		return candidate, nil
	}
	snapshot := func(ctx context.Context) ([]enrollment.Identity, error) {
		return []enrollment.Identity{enrolled("alice", 0.30)}, nil
	}

	engine := NewEngine(testPolicy())
	res, err := engine.DecideWithRetry(context.Background(), source, snapshot)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Tier != TierNone || res.Reason != ReasonBelowThreshold {
		t.Errorf("expected below_threshold none, got %s/%s", res.Tier, res.Reason)
	}
	if calls != 1 {
		t.Errorf("expected 1 attempt, got %d", calls)
	}
}

func TestDecideWithRetryCustomRetryableCheck(t *testing.T) {
	transient := errors.New("no face detected")
	calls := 0
	source := func(ctx context.Context) (embedding.Embedding, error) {
		calls++
		if calls < 3 {
			return embedding.Embedding{}, transient
		}
		return candidate, nil
	}
	snapshot := func(ctx context.Context) ([]enrollment.Identity, error) {
		return []enrollment.Identity{enrolled("alice", 0.90)}, nil
	}

	engine := NewEngine(testPolicy(), WithRetryableCheck(func(err error) bool {
		return errors.Is(err, transient)
	}))
	res, err := engine.DecideWithRetry(context.Background(), source, snapshot)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", res.Attempts)
	}
}

func TestDecideWithRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	source := func(ctx context.Context) (embedding.Embedding, error) {
		cancel()
		return embedding.Embedding{}, &embedding.InvalidEmbeddingError{Reason: embedding.ReasonLowQuality}
	}
	snapshot := func(ctx context.Context) ([]enrollment.Identity, error) {
		return nil, nil
	}

	engine := NewEngine(testPolicy())
	_, err := engine.DecideWithRetry(ctx, source, snapshot)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
