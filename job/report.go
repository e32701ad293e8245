package job

import (
	"time"

	"github.com/teranos/strata/asset"
	"github.com/teranos/strata/check"
)

// Outcome is the overall status of a job run.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeWarning Outcome = "WARNING"
	OutcomeFailure Outcome = "FAILURE"
)

// Materialization records one successfully built asset.
type Materialization struct {
	AssetKey       string
	Delegated      bool
	MaterializedAt time.Time
	Metadata       asset.Metadata
}

// AssetFailure records an asset that failed or was skipped.
type AssetFailure struct {
	AssetKey string
	Err      error
	Skipped  bool
}

// Report aggregates one run.
type Report struct {
	RunID         string
	Job           string
	StartedAt     time.Time
	CompletedAt   time.Time
	Materialized  []Materialization
	Failed        []AssetFailure
	Checks        []check.Result
	WorstSeverity check.Severity
	Outcome       Outcome
}

// Finalize computes the worst severity and the outcome.
func (r *Report) Finalize() {
	r.WorstSeverity = check.Worst(r.Checks)
	switch {
	case len(r.Failed) > 0 || r.WorstSeverity == check.SeverityError:
		r.Outcome = OutcomeFailure
	case r.WorstSeverity == check.SeverityWarn:
		r.Outcome = OutcomeWarning
	default:
		r.Outcome = OutcomeSuccess
	}
}

// Duration of the run.
func (r *Report) Duration() time.Duration { return r.CompletedAt.Sub(r.StartedAt) }

// MaterializedKeys lists built assets in build order.
func (r *Report) MaterializedKeys() []string {
	out := make([]string, len(r.Materialized))
	for i, m := range r.Materialized {
		out[i] = m.AssetKey
	}
	return out
}
