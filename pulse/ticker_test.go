package pulse

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/strata/errors"
	strtest "github.com/teranos/strata/internal/testing"
	"github.com/teranos/strata/trigger"
)

func newDemoSensor(t *testing.T) *trigger.Sensor {
	t.Helper()
	s, err := trigger.NewHourWindowSensor("demo_conditional_sensor", "daily_job", "Fires during working hours",
		trigger.HourWindow{Start: 9, End: 17, KeyPrefix: "demo_conditional"})
	require.NoError(t, err)
	return s
}

type tickerFixture struct {
	conn   *sql.DB
	ticker *Ticker
	states *TriggerStore
	store  *Store
}

func newTickerFixture(t *testing.T, triggers ...trigger.Trigger) tickerFixture {
	t.Helper()
	conn := strtest.CreateTestDB(t)
	set := trigger.NewSet()
	for _, tr := range triggers {
		require.NoError(t, set.Add(tr))
	}
	store := NewStore(conn)
	states := NewTriggerStore(conn)
	q, err := NewQueue(store, 16, fixedNow(), nil)
	require.NoError(t, err)
	ticker := NewTicker(context.Background(), set, states, q, TickerConfig{Interval: time.Minute}, fixedNow(), nil)
	return tickerFixture{conn: conn, ticker: ticker, states: states, store: store}
}

func at(h, m, s int) time.Time { return time.Date(2026, 3, 2, h, m, s, 0, time.UTC) }

func TestTicker_ScheduleFiresOncePerTick(t *testing.T) {
	ctx := context.Background()
	sched := trigger.MustSchedule("daily_schedule", "daily_job", "0 6 * * *")
	f := newTickerFixture(t, sched, newDemoSensor(t))

	// The sensor defaults to STOPPED and is not evaluated.
	recs := f.ticker.Tick(ctx, at(6, 0, 30))
	require.Len(t, recs, 1)
	assert.Equal(t, TickFired, recs[0].Outcome)
	assert.Equal(t, "daily_schedule:2026-03-02T06:00:00Z", recs[0].RunKey)

	recs = f.ticker.Tick(ctx, at(6, 1, 30))
	require.Len(t, recs, 1)
	assert.Equal(t, TickSkipped, recs[0].Outcome)
	assert.Contains(t, recs[0].Reason, "next tick at")

	// Rewinding the watermark re-offers the same tick; the ledger drops it.
	require.NoError(t, f.states.AdvanceWatermark(ctx, "daily_schedule", trigger.StatusRunning, at(5, 59, 0)))
	recs = f.ticker.Tick(ctx, at(6, 0, 45))
	require.Len(t, recs, 1)
	assert.Equal(t, TickDuplicate, recs[0].Outcome)

	runs, err := f.store.ListRuns(ctx, nil, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "daily_schedule", runs[0].Trigger)
	assert.Equal(t, "2026-03-02T06:00:00Z", runs[0].Tags["scheduled_at"])

	ticks, err := f.states.Ticks(ctx, "daily_schedule", 10)
	require.NoError(t, err)
	assert.Len(t, ticks, 3)

	stats := f.ticker.GetStats()
	assert.EqualValues(t, 3, stats["ticks_since_start"])
}

func TestTicker_MissedTicksCollapse(t *testing.T) {
	ctx := context.Background()
	sched := trigger.MustSchedule("hourly", "daily_job", "0 * * * *")
	f := newTickerFixture(t, sched)

	require.NoError(t, f.states.SetStatus(ctx, "hourly", trigger.StatusRunning, at(1, 30, 0)))
	recs := f.ticker.Tick(ctx, at(5, 10, 0))
	require.Len(t, recs, 1)
	assert.Equal(t, TickFired, recs[0].Outcome)
	assert.Equal(t, "hourly:2026-03-02T05:00:00Z", recs[0].RunKey)

	runs, err := f.store.ListRuns(ctx, nil, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestTicker_SensorWindow(t *testing.T) {
	ctx := context.Background()
	f := newTickerFixture(t, newDemoSensor(t))
	require.NoError(t, f.states.SetStatus(ctx, "demo_conditional_sensor", trigger.StatusRunning, at(6, 0, 0)))

	recs := f.ticker.Tick(ctx, at(6, 5, 0))
	require.Len(t, recs, 1)
	assert.Equal(t, TickSkipped, recs[0].Outcome)
	assert.Equal(t, "condition not met (hour: 6)", recs[0].Reason)

	recs = f.ticker.Tick(ctx, at(10, 0, 0))
	require.Len(t, recs, 1)
	assert.Equal(t, TickFired, recs[0].Outcome)
	assert.Equal(t, "demo_conditional_2026-03-02-10", recs[0].RunKey)

	recs = f.ticker.Tick(ctx, at(10, 30, 0))
	require.Len(t, recs, 1)
	assert.Equal(t, TickDuplicate, recs[0].Outcome)

	recs = f.ticker.Tick(ctx, at(11, 0, 0))
	require.Len(t, recs, 1)
	assert.Equal(t, TickFired, recs[0].Outcome)
}

func TestTicker_FailingTriggerIsIsolated(t *testing.T) {
	ctx := context.Background()
	failing := trigger.NewSensor("a_failing", "daily_job", "", func(context.Context, time.Time) (trigger.Evaluation, error) {
		return trigger.Evaluation{}, errors.New("warehouse unreachable")
	})
	panicking := trigger.NewSensor("b_panicking", "daily_job", "", func(context.Context, time.Time) (trigger.Evaluation, error) {
		panic("nil map")
	})
	sched := trigger.MustSchedule("daily_schedule", "daily_job", "0 6 * * *")
	f := newTickerFixture(t, failing, panicking, sched)
	require.NoError(t, f.states.SetStatus(ctx, "a_failing", trigger.StatusRunning, at(5, 0, 0)))
	require.NoError(t, f.states.SetStatus(ctx, "b_panicking", trigger.StatusRunning, at(5, 0, 0)))

	recs := f.ticker.Tick(ctx, at(6, 0, 30))
	require.Len(t, recs, 3)
	assert.Equal(t, TickError, recs[0].Outcome)
	assert.Contains(t, recs[0].Reason, "warehouse unreachable")
	assert.Equal(t, TickError, recs[1].Outcome)
	assert.Contains(t, recs[1].Reason, "panic: nil map")
	assert.Equal(t, TickFired, recs[2].Outcome)

	// The failed trigger's watermark did not move.
	st, _, err := f.states.State(ctx, "a_failing")
	require.NoError(t, err)
	assert.True(t, st.Watermark.Equal(at(5, 0, 0)))
}

func TestTicker_FailedSubmitKeepsWatermark(t *testing.T) {
	ctx := context.Background()
	sched := trigger.MustSchedule("daily_schedule", "daily_job", "0 6 * * *")
	f := newTickerFixture(t, sched)
	require.NoError(t, f.states.SetStatus(ctx, "daily_schedule", trigger.StatusRunning, at(5, 59, 0)))

	// Take the runs table away so the ledger rejects the insert.
	_, err := f.conn.Exec("ALTER TABLE runs RENAME TO runs_offline")
	require.NoError(t, err)

	recs := f.ticker.Tick(ctx, at(6, 0, 30))
	require.Len(t, recs, 1)
	assert.Equal(t, TickError, recs[0].Outcome)
	assert.Contains(t, recs[0].Reason, "submit run request")
	assert.Equal(t, "daily_schedule:2026-03-02T06:00:00Z", recs[0].RunKey)

	st, _, err := f.states.State(ctx, "daily_schedule")
	require.NoError(t, err)
	assert.True(t, st.Watermark.Equal(at(5, 59, 0)))

	_, err = f.conn.Exec("ALTER TABLE runs_offline RENAME TO runs")
	require.NoError(t, err)

	recs = f.ticker.Tick(ctx, at(6, 1, 30))
	require.Len(t, recs, 1)
	assert.Equal(t, TickFired, recs[0].Outcome)
	assert.Equal(t, "daily_schedule:2026-03-02T06:00:00Z", recs[0].RunKey)

	st, _, err = f.states.State(ctx, "daily_schedule")
	require.NoError(t, err)
	assert.True(t, st.Watermark.Equal(at(6, 1, 30)))

	runs, err := f.store.ListRuns(ctx, nil, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestTicker_EvaluateStoppedTrigger(t *testing.T) {
	ctx := context.Background()
	sensor := newDemoSensor(t)
	f := newTickerFixture(t, sensor)

	rec := f.ticker.Evaluate(ctx, sensor, at(12, 0, 0))
	assert.Equal(t, TickFired, rec.Outcome)

	status, err := f.states.EffectiveStatus(ctx, sensor)
	require.NoError(t, err)
	assert.Equal(t, trigger.StatusStopped, status)
}

func TestTicker_StartStop(t *testing.T) {
	sched := trigger.MustSchedule("daily_schedule", "daily_job", "0 6 * * *")
	f := newTickerFixture(t, sched)

	f.ticker.Start()
	f.ticker.Stop()

	// The loop ticks once on start.
	assert.EqualValues(t, 1, f.ticker.GetStats()["ticks_since_start"])
}

func TestTicker_SetTriggersKeepsWatermarks(t *testing.T) {
	ctx := context.Background()
	sched := trigger.MustSchedule("daily_schedule", "daily_job", "0 6 * * *")
	f := newTickerFixture(t, sched)

	recs := f.ticker.Tick(ctx, at(6, 0, 30))
	require.Len(t, recs, 1)
	assert.Equal(t, TickFired, recs[0].Outcome)

	reloaded := trigger.NewSet()
	require.NoError(t, reloaded.Add(trigger.MustSchedule("daily_schedule", "daily_job", "0 6 * * *")))
	require.NoError(t, reloaded.Add(trigger.MustSchedule("hourly_schedule", "daily_job", "0 * * * *")))
	f.ticker.SetTriggers(reloaded)

	recs = f.ticker.Tick(ctx, at(7, 0, 30))
	require.Len(t, recs, 2)
	byName := map[string]TickRecord{}
	for _, r := range recs {
		byName[r.Trigger] = r
	}
	assert.Equal(t, TickSkipped, byName["daily_schedule"].Outcome)
	assert.Equal(t, TickFired, byName["hourly_schedule"].Outcome)
}
