package freshness

import "time"

// Status is the staleness verdict for one asset.
type Status string

const (
	StatusFresh   Status = "FRESH"
	StatusWarn    Status = "WARN"
	StatusFail    Status = "FAIL"
	StatusUnknown Status = "UNKNOWN"
)

// Subject is anything with a resolved policy and a last materialization time.
type Subject interface {
	FreshnessPolicy() *Policy
	LastMaterializedAt() (time.Time, bool)
}

// Evaluate judges a single subject at now. A subject that never materialized,
// or that has no resolved policy, is UNKNOWN.
func Evaluate(s Subject, now time.Time) Status {
	policy := s.FreshnessPolicy()
	if policy == nil {
		return StatusUnknown
	}
	last, ok := s.LastMaterializedAt()
	if !ok {
		return StatusUnknown
	}
	return EvaluateAge(now.Sub(last), *policy)
}

// EvaluateAge maps an age onto the policy windows. Boundaries are inclusive.
func EvaluateAge(age time.Duration, policy Policy) Status {
	switch {
	case age >= policy.Fail:
		return StatusFail
	case age >= policy.Warn:
		return StatusWarn
	default:
		return StatusFresh
	}
}

// Worse reports whether a is a worse verdict than b.
func Worse(a, b Status) bool {
	return rank(a) > rank(b)
}

func rank(s Status) int {
	switch s {
	case StatusFresh:
		return 0
	case StatusUnknown:
		return 1
	case StatusWarn:
		return 2
	case StatusFail:
		return 3
	}
	return 1
}
