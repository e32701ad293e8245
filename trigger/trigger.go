// Package trigger defines the two ways a job gets run: cron schedules and
// condition-evaluating sensors. Both produce at most one RunRequest per
// evaluation tick; the pulse runtime decides when ticks happen and
// deduplicates requests by run key.
package trigger

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/teranos/strata/errors"
)

// Status is operator-controlled. A STOPPED trigger is never evaluated.
type Status string

const (
	StatusRunning Status = "RUNNING"
	StatusStopped Status = "STOPPED"
)

// ParseStatus accepts RUNNING or STOPPED in any case.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToUpper(strings.TrimSpace(s))) {
	case StatusRunning:
		return StatusRunning, nil
	case StatusStopped:
		return StatusStopped, nil
	}
	return "", errors.NewInvalidRequestError("unknown trigger status %q", s)
}

// Kind distinguishes schedules from sensors.
type Kind string

const (
	KindSchedule Kind = "schedule"
	KindSensor   Kind = "sensor"
)

// RunRequest asks the runtime to run Job. Two requests with the same Job and
// RunKey are the same logical run.
type RunRequest struct {
	Job    string
	RunKey string
	Tags   map[string]string

	// ScheduledAt is the logical instant the request belongs to.
	ScheduledAt time.Time
}

// Evaluation is the result of one tick: exactly one of Request or SkipReason.
type Evaluation struct {
	Request    *RunRequest
	SkipReason string
}

// Fire wraps a run request.
func Fire(req RunRequest) Evaluation { return Evaluation{Request: &req} }

// Skip reports that no run is requested.
func Skip(reason string) Evaluation { return Evaluation{SkipReason: reason} }

// Fired reports whether the evaluation requested a run.
func (e Evaluation) Fired() bool { return e.Request != nil }

// Tick is the input to one evaluation.
type Tick struct {
	Now time.Time

	// Watermark is the end of the previous evaluation window. Zero means the
	// trigger has not been evaluated before.
	Watermark time.Time
}

// Trigger is a schedule or a sensor targeting one job.
type Trigger interface {
	Name() string
	Job() string
	Kind() Kind
	DefaultStatus() Status
	Describe() string
	Evaluate(ctx context.Context, tick Tick) (Evaluation, error)
}

// Set holds the defined triggers.
type Set struct {
	triggers map[string]Trigger
}

// NewSet returns an empty trigger set.
func NewSet() *Set {
	return &Set{triggers: make(map[string]Trigger)}
}

// Add defines a trigger. Names are unique across schedules and sensors.
func (s *Set) Add(t Trigger) error {
	if _, ok := s.triggers[t.Name()]; ok {
		return errors.Wrapf(errors.ErrDuplicateKey, "trigger %q already defined", t.Name())
	}
	s.triggers[t.Name()] = t
	return nil
}

// Get looks up a trigger by name.
func (s *Set) Get(name string) (Trigger, error) {
	t, ok := s.triggers[name]
	if !ok {
		return nil, errors.NewNotFoundError("trigger %s", name)
	}
	return t, nil
}

// All returns triggers sorted by name.
func (s *Set) All() []Trigger {
	out := make([]Trigger, 0, len(s.triggers))
	for _, t := range s.triggers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Validate checks that every trigger targets a known job.
func (s *Set) Validate(hasJob func(string) bool) error {
	for _, t := range s.All() {
		if !hasJob(t.Job()) {
			return errors.Wrapf(errors.ErrUnknownKey, "trigger %q targets unknown job %q", t.Name(), t.Job())
		}
	}
	return nil
}
