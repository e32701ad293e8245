package trigger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/strata/errors"
)

func at(day, hour, minute int) time.Time {
	return time.Date(2026, time.March, day, hour, minute, 0, 0, time.UTC)
}

func TestNewScheduleRejectsBadCron(t *testing.T) {
	_, err := NewSchedule("bad", "job", "every day at six")
	require.Error(t, err)
	assert.NotEmpty(t, errors.GetAllHints(err))
}

func TestScheduleFiresAt(t *testing.T) {
	daily := MustSchedule("daily", "job", "0 6 * * *")
	assert.True(t, daily.FiresAt(at(2, 6, 0)))
	assert.False(t, daily.FiresAt(at(2, 6, 1)))
	assert.False(t, daily.FiresAt(at(2, 7, 0)))

	// 2026-03-02 is a Monday
	weekly := MustSchedule("weekly", "job", "0 8 * * 1")
	assert.True(t, weekly.FiresAt(at(2, 8, 0)))
	assert.False(t, weekly.FiresAt(at(3, 8, 0)))
}

func TestScheduleEvaluate(t *testing.T) {
	hourly := MustSchedule("hourly_metrics_schedule", "hourly_metrics_job", "0 * * * *")
	ctx := context.Background()

	t.Run("fires for tick inside window", func(t *testing.T) {
		ev, err := hourly.Evaluate(ctx, Tick{Now: at(2, 10, 0), Watermark: at(2, 9, 59)})
		require.NoError(t, err)
		require.True(t, ev.Fired())
		assert.Equal(t, "hourly_metrics_job", ev.Request.Job)
		assert.Equal(t, "hourly_metrics_schedule:2026-03-02T10:00:00Z", ev.Request.RunKey)
		assert.Equal(t, at(2, 10, 0), ev.Request.ScheduledAt)
	})

	t.Run("window start is exclusive", func(t *testing.T) {
		ev, err := hourly.Evaluate(ctx, Tick{Now: at(2, 10, 30), Watermark: at(2, 10, 0)})
		require.NoError(t, err)
		assert.False(t, ev.Fired())
		assert.NotEmpty(t, ev.SkipReason)
	})

	t.Run("redelivered tick yields the same run key", func(t *testing.T) {
		a, err := hourly.Evaluate(ctx, Tick{Now: at(2, 10, 0), Watermark: at(2, 9, 59)})
		require.NoError(t, err)
		b, err := hourly.Evaluate(ctx, Tick{Now: at(2, 10, 0), Watermark: at(2, 9, 30)})
		require.NoError(t, err)
		assert.Equal(t, a.Request.RunKey, b.Request.RunKey)
	})

	t.Run("missed ticks collapse to the latest", func(t *testing.T) {
		ev, err := hourly.Evaluate(ctx, Tick{Now: at(2, 13, 20), Watermark: at(2, 9, 30)})
		require.NoError(t, err)
		require.True(t, ev.Fired())
		assert.Equal(t, "hourly_metrics_schedule:2026-03-02T13:00:00Z", ev.Request.RunKey)
	})

	t.Run("no watermark looks back one minute", func(t *testing.T) {
		ev, err := hourly.Evaluate(ctx, Tick{Now: at(2, 10, 0)})
		require.NoError(t, err)
		assert.True(t, ev.Fired())

		ev, err = hourly.Evaluate(ctx, Tick{Now: at(2, 10, 5)})
		require.NoError(t, err)
		assert.False(t, ev.Fired())
	})
}

func TestScheduleLongOutage(t *testing.T) {
	now := time.Date(2026, 4, 1, 6, 0, 0, 0, time.UTC)

	t.Run("every minute after 100 days", func(t *testing.T) {
		s := MustSchedule("every_minute", "job", "* * * * *")
		ev, err := s.Evaluate(context.Background(), Tick{Now: now, Watermark: now.AddDate(0, 0, -100)})
		require.NoError(t, err)
		require.True(t, ev.Fired())
		assert.Equal(t, "every_minute:2026-04-01T06:00:00Z", ev.Request.RunKey)
	})

	t.Run("yearly after three years", func(t *testing.T) {
		s := MustSchedule("yearly", "job", "0 0 1 1 *")
		due, ok := s.LatestDue(now.AddDate(-3, 0, 0), now)
		require.True(t, ok)
		assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), due)
	})

	t.Run("sparse ticks earlier in the window", func(t *testing.T) {
		s := MustSchedule("mornings", "job", "* 0-2 * * *")
		due, ok := s.LatestDue(now.AddDate(0, 0, -30), now)
		require.True(t, ok)
		assert.Equal(t, time.Date(2026, 4, 1, 2, 59, 0, 0, time.UTC), due)
	})

	t.Run("expression that never matches", func(t *testing.T) {
		s := MustSchedule("never", "job", "0 0 30 2 *")
		_, ok := s.LatestDue(now.AddDate(-1, 0, 0), now)
		assert.False(t, ok)
	})
}

func TestScheduleInLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	s := MustSchedule("local", "job", "0 6 * * *", InLocation(loc))
	assert.True(t, s.FiresAt(at(2, 4, 0)))
	assert.Equal(t, "local:2026-03-02T04:00:00Z", s.RunKey(at(2, 4, 0).In(loc)))
}

func TestScheduleDefaults(t *testing.T) {
	s := MustSchedule("daily", "job", "0 6 * * *", WithDescription("Daily refresh"))
	assert.Equal(t, StatusRunning, s.DefaultStatus())
	assert.Equal(t, KindSchedule, s.Kind())
	assert.Equal(t, "Daily refresh (0 6 * * *)", s.Describe())

	stopped := MustSchedule("s", "job", "0 6 * * *", WithStatus(StatusStopped))
	assert.Equal(t, StatusStopped, stopped.DefaultStatus())
}

func businessHours(t *testing.T) *Sensor {
	t.Helper()
	s, err := NewHourWindowSensor("demo_conditional_sensor", "hourly_metrics_job", "business hours", HourWindow{
		Start:     9,
		End:       18,
		Location:  time.UTC,
		KeyPrefix: "demo_conditional",
		Note:      "conditional trigger",
	})
	require.NoError(t, err)
	return s
}

func TestHourWindowSensor(t *testing.T) {
	s := businessHours(t)
	ctx := context.Background()
	assert.Equal(t, StatusStopped, s.DefaultStatus())
	assert.Equal(t, KindSensor, s.Kind())

	t.Run("same hour same run key", func(t *testing.T) {
		a, err := s.Evaluate(ctx, Tick{Now: at(2, 10, 5)})
		require.NoError(t, err)
		b, err := s.Evaluate(ctx, Tick{Now: at(2, 10, 55)})
		require.NoError(t, err)
		require.True(t, a.Fired())
		assert.Equal(t, "demo_conditional_2026-03-02-10", a.Request.RunKey)
		assert.Equal(t, a.Request.RunKey, b.Request.RunKey)
		assert.Equal(t, "hourly_metrics_job", a.Request.Job)
		assert.Equal(t, map[string]string{"trigger": "demo_conditional", "hour": "10", "note": "conditional trigger"}, a.Request.Tags)
	})

	t.Run("different hours differ", func(t *testing.T) {
		a, err := s.Evaluate(ctx, Tick{Now: at(2, 10, 0)})
		require.NoError(t, err)
		b, err := s.Evaluate(ctx, Tick{Now: at(2, 11, 0)})
		require.NoError(t, err)
		assert.NotEqual(t, a.Request.RunKey, b.Request.RunKey)
	})

	t.Run("boundaries are inclusive", func(t *testing.T) {
		for _, h := range []int{9, 18} {
			ev, err := s.Evaluate(ctx, Tick{Now: at(2, h, 30)})
			require.NoError(t, err)
			assert.True(t, ev.Fired(), "hour %d", h)
		}
	})

	t.Run("outside window skips", func(t *testing.T) {
		for _, h := range []int{0, 8, 19, 23} {
			ev, err := s.Evaluate(ctx, Tick{Now: at(2, h, 0)})
			require.NoError(t, err)
			assert.False(t, ev.Fired())
		}
		ev, _ := s.Evaluate(ctx, Tick{Now: at(2, 19, 0)})
		assert.Equal(t, "condition not met (hour: 19)", ev.SkipReason)
	})
}

func TestHourWindowValidate(t *testing.T) {
	assert.Error(t, HourWindow{Start: 18, End: 9}.Validate())
	assert.Error(t, HourWindow{Start: -1, End: 9}.Validate())
	assert.Error(t, HourWindow{Start: 0, End: 24}.Validate())
	assert.NoError(t, HourWindow{Start: 0, End: 23}.Validate())
}

func TestSensorRejectsMissingRunKey(t *testing.T) {
	s := NewSensor("bad", "job", "", func(context.Context, time.Time) (Evaluation, error) {
		return Fire(RunRequest{}), nil
	})
	_, err := s.Evaluate(context.Background(), Tick{Now: at(2, 10, 0)})
	assert.Error(t, err)
}

func TestSensorWrapsError(t *testing.T) {
	s := NewSensor("flaky", "job", "", func(context.Context, time.Time) (Evaluation, error) {
		return Evaluation{}, errors.New("upstream api down")
	})
	_, err := s.Evaluate(context.Background(), Tick{Now: at(2, 10, 0)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sensor flaky")
}

func TestSet(t *testing.T) {
	s := NewSet()
	require.NoError(t, s.Add(MustSchedule("b", "job_b", "0 * * * *")))
	require.NoError(t, s.Add(businessHours(t)))

	err := s.Add(MustSchedule("b", "job_b", "0 6 * * *"))
	assert.True(t, errors.Is(err, errors.ErrDuplicateKey))

	names := []string{}
	for _, tr := range s.All() {
		names = append(names, tr.Name())
	}
	assert.Equal(t, []string{"b", "demo_conditional_sensor"}, names)

	_, err = s.Get("nope")
	assert.True(t, errors.IsNotFoundError(err))

	known := map[string]bool{"job_b": true, "hourly_metrics_job": true}
	assert.NoError(t, s.Validate(func(j string) bool { return known[j] }))
	delete(known, "job_b")
	assert.True(t, errors.Is(s.Validate(func(j string) bool { return known[j] }), errors.ErrUnknownKey))
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("running")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, st)

	_, err = ParseStatus("paused")
	assert.Error(t, err)
}
