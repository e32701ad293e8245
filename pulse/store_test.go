package pulse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/strata/asset"
	"github.com/teranos/strata/check"
	"github.com/teranos/strata/errors"
	strtest "github.com/teranos/strata/internal/testing"
	"github.com/teranos/strata/job"
)

var t0 = time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)

func queuedRun(id, jobName, runKey string, at time.Time) *Run {
	return &Run{ID: id, Job: jobName, RunKey: runKey, Status: RunStatusQueued, CreatedAt: at}
}

func TestStore_CreateAndGetRun(t *testing.T) {
	ctx := context.Background()
	store := NewStore(strtest.CreateTestDB(t))

	run := queuedRun("r1", "daily_job", "daily_schedule:2026-03-02T06:00:00Z", t0)
	run.Trigger = "daily_schedule"
	run.Tags = map[string]string{"schedule": "daily_schedule"}
	require.NoError(t, store.CreateRun(ctx, run))

	got, err := store.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "daily_job", got.Job)
	assert.Equal(t, "daily_schedule", got.Trigger)
	assert.Equal(t, RunStatusQueued, got.Status)
	assert.Equal(t, map[string]string{"schedule": "daily_schedule"}, got.Tags)
	assert.True(t, got.CreatedAt.Equal(t0))
	assert.Nil(t, got.StartedAt)
	assert.False(t, got.Finished())

	_, err = store.GetRun(ctx, "missing")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestStore_DuplicateRunKey(t *testing.T) {
	ctx := context.Background()
	store := NewStore(strtest.CreateTestDB(t))

	require.NoError(t, store.CreateRun(ctx, queuedRun("r1", "daily_job", "k", t0)))
	err := store.CreateRun(ctx, queuedRun("r2", "daily_job", "k", t0))
	assert.True(t, errors.Is(err, ErrDuplicateRun))

	// Same key, different job is a different logical run.
	require.NoError(t, store.CreateRun(ctx, queuedRun("r3", "weekly_job", "k", t0)))

	ok, err := store.HasRun(ctx, "daily_job", "k")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.HasRun(ctx, "daily_job", "other")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_ClaimAndFinish(t *testing.T) {
	ctx := context.Background()
	store := NewStore(strtest.CreateTestDB(t))

	require.NoError(t, store.CreateRun(ctx, queuedRun("older", "j", "a", t0)))
	require.NoError(t, store.CreateRun(ctx, queuedRun("newer", "j", "b", t0.Add(time.Second))))

	run, err := store.ClaimNext(ctx, t0.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, "older", run.ID)
	assert.Equal(t, RunStatusRunning, run.Status)
	require.NotNil(t, run.StartedAt)

	require.NoError(t, store.FinishRun(ctx, "older", RunStatusCompleted, "SUCCESS", nil, t0.Add(time.Minute+1500*time.Millisecond)))
	done, err := store.GetRun(ctx, "older")
	require.NoError(t, err)
	assert.True(t, done.Finished())
	assert.Equal(t, "SUCCESS", done.Outcome)
	require.NotNil(t, done.DurationMs)
	assert.InDelta(t, 1500, *done.DurationMs, 2)

	run, err = store.ClaimNext(ctx, t0.Add(2*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, "newer", run.ID)
	require.NoError(t, store.FinishRun(ctx, "newer", RunStatusFailed, "FAILURE", errors.New("boom"), t0.Add(3*time.Minute)))

	run, err = store.ClaimNext(ctx, t0.Add(4*time.Minute))
	require.NoError(t, err)
	assert.Nil(t, run)

	failed := RunStatusFailed
	runs, err := store.ListRuns(ctx, &failed, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "boom", runs[0].Error)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, QueueStats{Completed: 1, Failed: 1}, *stats)

	err = store.FinishRun(ctx, "missing", RunStatusCompleted, "", nil, t0)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestStore_RequeueOrphaned(t *testing.T) {
	ctx := context.Background()
	store := NewStore(strtest.CreateTestDB(t))

	require.NoError(t, store.CreateRun(ctx, queuedRun("r1", "j", "a", t0)))
	_, err := store.ClaimNext(ctx, t0)
	require.NoError(t, err)

	n, err := store.RequeueOrphaned(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	run, err := store.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, RunStatusQueued, run.Status)
	assert.Nil(t, run.StartedAt)
}

func TestStore_MaterializationsAndChecks(t *testing.T) {
	ctx := context.Background()
	store := NewStore(strtest.CreateTestDB(t))
	require.NoError(t, store.CreateRun(ctx, queuedRun("r1", "j", "a", t0)))
	require.NoError(t, store.CreateRun(ctx, queuedRun("r2", "j", "b", t0)))

	require.NoError(t, store.RecordMaterialization(ctx, "r1", job.Materialization{
		AssetKey:       "business_kpis",
		MaterializedAt: t0,
		Metadata:       asset.Metadata{"total_revenue": asset.Float(100)},
	}))
	require.NoError(t, store.RecordMaterialization(ctx, "r2", job.Materialization{
		AssetKey:       "business_kpis",
		MaterializedAt: t0.Add(time.Hour),
		Metadata:       asset.Metadata{"total_revenue": asset.Float(250.5)},
	}))
	require.NoError(t, store.RecordMaterialization(ctx, "r2", job.Materialization{
		AssetKey:       "stg_orders",
		Delegated:      true,
		MaterializedAt: t0.Add(30 * time.Minute),
	}))

	md, ok, err := store.LatestMetadata(ctx, "business_kpis")
	require.NoError(t, err)
	require.True(t, ok)
	totalRevenue, _ := md.Number("total_revenue")
	assert.Equal(t, 250.5, totalRevenue)

	_, ok, err = store.LatestMetadata(ctx, "monthly_trends")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.RecordCheckResult(ctx, "r2", check.Result{
		CheckKey:    "business_kpis_validation",
		AssetKey:    "business_kpis",
		Passed:      false,
		Severity:    check.SeverityWarn,
		Description: "Issues found: revenue low",
		EvaluatedAt: t0.Add(time.Hour),
	}))
	records, err := store.CheckResults(ctx, "r2")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "WARN", records[0].Severity)
	assert.False(t, records[0].Passed)

	reg := asset.NewRegistry()
	err = reg.Register(asset.Spec{Key: "stg_orders", Delegated: true})
	require.NoError(t, err)
	err = reg.Register(asset.Spec{Key: "business_kpis", Upstream: []string{"stg_orders"}})
	require.NoError(t, err)

	n, err := store.RestoreMaterializations(ctx, reg)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	node, _ := reg.Node("business_kpis")
	at, ok := node.LastMaterializedAt()
	require.True(t, ok)
	assert.True(t, at.Equal(t0.Add(time.Hour)))
}

func TestTriggerStore_StatusAndWatermark(t *testing.T) {
	ctx := context.Background()
	store := NewTriggerStore(strtest.CreateTestDB(t))
	sensor := newDemoSensor(t)

	status, err := store.EffectiveStatus(ctx, sensor)
	require.NoError(t, err)
	assert.Equal(t, sensor.DefaultStatus(), status)

	require.NoError(t, store.SetStatus(ctx, sensor.Name(), "RUNNING", t0))
	st, ok, err := store.State(ctx, sensor.Name())
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, st.Watermark.Equal(t0))

	require.NoError(t, store.AdvanceWatermark(ctx, sensor.Name(), "RUNNING", t0.Add(time.Hour)))
	st, _, err = store.State(ctx, sensor.Name())
	require.NoError(t, err)
	assert.True(t, st.Watermark.Equal(t0.Add(time.Hour)))
	assert.EqualValues(t, "RUNNING", st.Status)

	require.NoError(t, store.SetStatus(ctx, sensor.Name(), "STOPPED", t0.Add(2*time.Hour)))
	st, _, err = store.State(ctx, sensor.Name())
	require.NoError(t, err)
	assert.True(t, st.Watermark.IsZero())

	require.NoError(t, store.RecordTick(ctx, TickRecord{Trigger: sensor.Name(), TickAt: t0, Outcome: TickSkipped, Reason: "condition not met (hour: 6)"}))
	require.NoError(t, store.RecordTick(ctx, TickRecord{Trigger: sensor.Name(), TickAt: t0.Add(time.Hour), Outcome: TickFired, RunKey: "k"}))
	ticks, err := store.Ticks(ctx, sensor.Name(), 10)
	require.NoError(t, err)
	require.Len(t, ticks, 2)
	assert.Equal(t, TickFired, ticks[0].Outcome)
	assert.Equal(t, "condition not met (hour: 6)", ticks[1].Reason)
}
