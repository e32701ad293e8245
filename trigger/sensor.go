package trigger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/teranos/strata/errors"
)

// SensorFunc decides whether to request a run at now.
type SensorFunc func(ctx context.Context, now time.Time) (Evaluation, error)

// Sensor fires its job when its evaluation function says so. Sensors default
// to STOPPED.
type Sensor struct {
	name          string
	job           string
	description   string
	defaultStatus Status
	eval          SensorFunc
}

// NewSensor defines a sensor.
func NewSensor(name, job, description string, eval SensorFunc) *Sensor {
	return &Sensor{
		name:          name,
		job:           job,
		description:   description,
		defaultStatus: StatusStopped,
		eval:          eval,
	}
}

func (s *Sensor) Name() string          { return s.name }
func (s *Sensor) Job() string           { return s.job }
func (s *Sensor) Kind() Kind            { return KindSensor }
func (s *Sensor) DefaultStatus() Status { return s.defaultStatus }
func (s *Sensor) Describe() string      { return s.description }

// Evaluate runs the sensor function. Requests without a job target the
// sensor's job; a request without a run key is rejected.
func (s *Sensor) Evaluate(ctx context.Context, tick Tick) (Evaluation, error) {
	ev, err := s.eval(ctx, tick.Now)
	if err != nil {
		return Evaluation{}, errors.Wrapf(err, "sensor %s", s.name)
	}
	if ev.Request == nil {
		return ev, nil
	}
	if ev.Request.RunKey == "" {
		return Evaluation{}, errors.Newf("sensor %s: run request without run key", s.name)
	}
	if ev.Request.Job == "" {
		ev.Request.Job = s.job
	}
	return ev, nil
}

// HourWindow fires once per hour while the local hour is within
// [Start, End], both inclusive.
type HourWindow struct {
	Start    int
	End      int
	Location *time.Location

	// KeyPrefix starts every run key; the hour is appended as YYYY-MM-DD-HH.
	KeyPrefix string
	Note      string
}

// Validate checks the hour range.
func (w HourWindow) Validate() error {
	if w.Start < 0 || w.End > 23 || w.Start > w.End {
		return errors.NewInvalidRequestError("hour window %d..%d must satisfy 0 <= start <= end <= 23", w.Start, w.End)
	}
	return nil
}

// RunKey is stable within one local hour.
func (w HourWindow) RunKey(now time.Time) string {
	return fmt.Sprintf("%s_%s", w.KeyPrefix, w.local(now).Format("2006-01-02-15"))
}

func (w HourWindow) local(now time.Time) time.Time {
	if w.Location == nil {
		return now
	}
	return now.In(w.Location)
}

// Func returns the window as a sensor function.
func (w HourWindow) Func() SensorFunc {
	return func(_ context.Context, now time.Time) (Evaluation, error) {
		hour := w.local(now).Hour()
		if hour < w.Start || hour > w.End {
			return Skip(fmt.Sprintf("condition not met (hour: %d)", hour)), nil
		}
		tags := map[string]string{
			"trigger": w.KeyPrefix,
			"hour":    strconv.Itoa(hour),
		}
		if w.Note != "" {
			tags["note"] = w.Note
		}
		return Fire(RunRequest{
			RunKey:      w.RunKey(now),
			Tags:        tags,
			ScheduledAt: now.Truncate(time.Hour).UTC(),
		}), nil
	}
}

// NewHourWindowSensor builds a sensor that fires during w.
func NewHourWindowSensor(name, job, description string, w HourWindow) (*Sensor, error) {
	if err := w.Validate(); err != nil {
		return nil, errors.Wrapf(err, "sensor %s", name)
	}
	return NewSensor(name, job, description, w.Func()), nil
}
