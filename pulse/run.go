// Package pulse is the trigger-evaluation runtime: a ticker that evaluates
// running schedules and sensors, a SQLite run ledger that deduplicates run
// requests by (job, run key), and a worker pool that executes queued runs.
package pulse

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is a run's position in the queue lifecycle.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one accepted run request.
type Run struct {
	ID          string            `json:"id"`
	Job         string            `json:"job"`
	RunKey      string            `json:"run_key"`
	Trigger     string            `json:"trigger,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
	Status      RunStatus         `json:"status"`
	Outcome     string            `json:"outcome,omitempty"`
	Error       string            `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	DurationMs  *int64            `json:"duration_ms,omitempty"`
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// ManualRunKey is the run key for an operator-launched run. Each manual run is
// distinct, so the key embeds the run ID.
func ManualRunKey(runID string) string {
	return "manual:" + runID
}

// Finished reports whether the run reached a terminal state.
func (r *Run) Finished() bool {
	return r.Status == RunStatusCompleted || r.Status == RunStatusFailed
}

// Fixed-width so stored timestamps sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) { return time.Parse(timeLayout, s) }
