// Package match scores candidate embeddings against the enrolled set and
// classifies the outcome into a confidence tier.
package match

import "time"

// Reason codes for a none-tier result. Callers must be able to distinguish
// "nobody is enrolled" from "this candidate matches nobody".
const (
	ReasonNoEnrolledIdentities = "no_enrolled_identities"
	ReasonBelowThreshold       = "below_threshold"
	ReasonAmbiguousMargin      = "ambiguous_margin"
)

// Tier classifies a match outcome.
type Tier int

const (
	// TierNone means no confident match was found.
	TierNone Tier = iota
	// TierMedium means the top score cleared the base threshold with an
	// adequate margin over the runner-up.
	TierMedium
	// TierHigh means the top score cleared the high threshold with a
	// decisive margin.
	TierHigh
)

func (t Tier) String() string {
	switch t {
	case TierMedium:
		return "medium"
	case TierHigh:
		return "high"
	default:
		return "none"
	}
}

// ThresholdPolicy holds the tunable confidence and retry parameters.
// Nothing here is hard-coded inside the engine; deployments override these
// through configuration.
type ThresholdPolicy struct {
	// BaseThreshold is the minimum top score for a medium match.
	BaseThreshold float64
	// HighThreshold is the minimum top score for a high match.
	HighThreshold float64
	// BaseMargin is the minimum lead over the runner-up for medium.
	BaseMargin float64
	// HighMargin is the minimum lead over the runner-up for high.
	HighMargin float64
	// MaxRetries bounds extra attempts against freshly extracted
	// candidates after a quality-related failure.
	MaxRetries int
	// RetryBackoff spaces retries so capture can obtain a better frame.
	RetryBackoff time.Duration
}

// DefaultPolicy returns the default threshold policy.
func DefaultPolicy() ThresholdPolicy {
	return ThresholdPolicy{
		BaseThreshold: 0.60,
		HighThreshold: 0.72,
		BaseMargin:    0.05,
		HighMargin:    0.10,
		MaxRetries:    2,
		RetryBackoff:  800 * time.Millisecond,
	}
}
