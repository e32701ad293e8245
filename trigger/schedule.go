package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/teranos/strata/errors"
)

// Schedule fires its job on a standard five-field cron expression.
type Schedule struct {
	name          string
	job           string
	expr          string
	location      *time.Location
	defaultStatus Status
	description   string
	sched         cron.Schedule
}

// ScheduleOption configures a Schedule.
type ScheduleOption func(*Schedule)

// InLocation evaluates the cron expression in loc instead of UTC.
func InLocation(loc *time.Location) ScheduleOption {
	return func(s *Schedule) { s.location = loc }
}

// WithStatus sets the status the schedule starts in.
func WithStatus(st Status) ScheduleOption {
	return func(s *Schedule) { s.defaultStatus = st }
}

// WithDescription sets an operator-facing description.
func WithDescription(d string) ScheduleOption {
	return func(s *Schedule) { s.description = d }
}

// NewSchedule parses expr. Schedules default to RUNNING in UTC.
func NewSchedule(name, job, expr string, opts ...ScheduleOption) (*Schedule, error) {
	s := &Schedule{
		name:          name,
		job:           job,
		expr:          expr,
		location:      time.UTC,
		defaultStatus: StatusRunning,
	}
	for _, opt := range opts {
		opt(s)
	}
	parsed, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, errors.WithHint(
			errors.Wrapf(err, "schedule %q: invalid cron expression %q", name, expr),
			"use five fields: minute hour day-of-month month day-of-week",
		)
	}
	s.sched = parsed
	return s, nil
}

// MustSchedule is NewSchedule for static definitions.
func MustSchedule(name, job, expr string, opts ...ScheduleOption) *Schedule {
	s, err := NewSchedule(name, job, expr, opts...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Schedule) Name() string          { return s.name }
func (s *Schedule) Job() string           { return s.job }
func (s *Schedule) Kind() Kind            { return KindSchedule }
func (s *Schedule) DefaultStatus() Status { return s.defaultStatus }
func (s *Schedule) Expression() string    { return s.expr }

func (s *Schedule) Describe() string {
	if s.description != "" {
		return fmt.Sprintf("%s (%s)", s.description, s.expr)
	}
	return s.expr
}

// Next returns the first tick strictly after t.
func (s *Schedule) Next(t time.Time) time.Time {
	return s.sched.Next(t.In(s.location))
}

// FiresAt reports whether t is exactly a scheduled tick.
func (s *Schedule) FiresAt(t time.Time) bool {
	return s.sched.Next(t.In(s.location).Add(-time.Second)).Equal(t)
}

// LatestDue returns the most recent tick in (from, to]. The search window
// doubles backwards from to before falling back to the whole range.
func (s *Schedule) LatestDue(from, to time.Time) (time.Time, bool) {
	span := to.Sub(from)
	if span <= 0 {
		return time.Time{}, false
	}
	for lookback := time.Minute; lookback > 0 && lookback < span; lookback *= 2 {
		if due, ok := s.scan(to.Add(-lookback), to); ok {
			return due, true
		}
	}
	return s.scan(from, to)
}

func (s *Schedule) scan(from, to time.Time) (time.Time, bool) {
	var last time.Time
	found := false
	// cron returns the zero time when nothing matches within five years
	for next := s.Next(from); !next.IsZero() && !next.After(to); next = s.Next(next) {
		last, found = next, true
	}
	return last, found
}

// RunKey identifies the logical run for a scheduled tick.
func (s *Schedule) RunKey(tick time.Time) string {
	return fmt.Sprintf("%s:%s", s.name, tick.UTC().Format(time.RFC3339))
}

// Evaluate fires for the latest tick in (watermark, now]. Older missed ticks
// in the same window are collapsed into that one request.
func (s *Schedule) Evaluate(_ context.Context, tick Tick) (Evaluation, error) {
	from := tick.Watermark
	if from.IsZero() {
		from = tick.Now.Add(-time.Minute)
	}
	if !tick.Now.After(from) {
		return Skip("no time elapsed since last evaluation"), nil
	}

	due, ok := s.LatestDue(from, tick.Now)
	if !ok {
		return Skip(fmt.Sprintf("next tick at %s", s.Next(tick.Now).UTC().Format(time.RFC3339))), nil
	}
	return Fire(RunRequest{
		Job:         s.job,
		RunKey:      s.RunKey(due),
		Tags:        map[string]string{"schedule": s.name, "scheduled_at": due.UTC().Format(time.RFC3339)},
		ScheduledAt: due.UTC(),
	}), nil
}
