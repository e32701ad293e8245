package asset

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/strata/errors"
	"github.com/teranos/strata/freshness"
)

func mustRegister(t *testing.T, r *Registry, specs ...Spec) {
	t.Helper()
	for _, s := range specs {
		require.NoError(t, r.Register(s))
	}
}

func abcRegistry(t *testing.T) *Registry {
	r := NewRegistry()
	mustRegister(t, r,
		Spec{Key: "a", Group: "g1"},
		Spec{Key: "b", Group: "g1", Upstream: []string{"a"}},
		Spec{Key: "c", Group: "g2", Upstream: []string{"b"}},
	)
	return r
}

func TestRegisterDuplicateKey(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, Spec{Key: "orders", Group: "g"})

	err := r.Register(Spec{Key: "orders", Group: "other"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDuplicateKey))
	assert.Equal(t, 1, r.Len())
}

func TestRegisterRejectsEmptyKey(t *testing.T) {
	err := NewRegistry().Register(Spec{Key: "  "})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestRegisterRejectsInvalidPolicy(t *testing.T) {
	err := NewRegistry().Register(Spec{Key: "a", Freshness: &freshness.Policy{Warn: 2 * time.Hour, Fail: time.Hour}})
	assert.True(t, errors.Is(err, errors.ErrInvalidPolicy))
}

func TestRegisterCheck(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterCheck("orders_valid", "orders"))
	mustRegister(t, r, Spec{Key: "orders"})

	n, ok := r.Node("orders")
	require.True(t, ok)
	assert.Equal(t, []string{"orders_valid"}, n.Checks())

	target, ok := r.CheckTarget("orders_valid")
	assert.True(t, ok)
	assert.Equal(t, "orders", target)

	err := r.RegisterCheck("orders_valid", "orders")
	assert.True(t, errors.Is(err, errors.ErrDuplicateKey))
}

func TestBuildGraphTopologicalOrder(t *testing.T) {
	g, err := abcRegistry(t).BuildGraph()
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, g.TopologicalOrder())
	assert.Equal(t, []string{"a"}, g.Upstream("b"))
	assert.Equal(t, []string{"c"}, g.Downstream("b"))
	assert.Equal(t, []string{"a"}, g.Roots())
}

func TestTopologicalOrderPrefersRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r,
		Spec{Key: "summary", Upstream: []string{"orders", "customers"}},
		Spec{Key: "orders"},
		Spec{Key: "customers"},
		Spec{Key: "trends", Upstream: []string{"orders"}},
	)
	g, err := r.BuildGraph()
	require.NoError(t, err)

	order := g.TopologicalOrder()
	assert.Equal(t, []string{"orders", "customers", "summary", "trends"}, order)

	pos := make(map[string]int)
	for i, k := range order {
		pos[k] = i
	}
	for _, k := range r.Keys() {
		for _, up := range g.Upstream(k) {
			assert.Less(t, pos[up], pos[k], "%s must precede %s", up, k)
		}
	}

	assert.Equal(t, []string{"orders", "trends"}, g.Sort([]string{"trends", "orders"}))
}

func TestBuildGraphDanglingDependency(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r,
		Spec{Key: "a"},
		Spec{Key: "b", Upstream: []string{"z"}},
	)

	_, err := r.BuildGraph()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDanglingDependency))

	var dangling *DanglingDependencyError
	require.True(t, errors.As(err, &dangling))
	assert.Equal(t, "b", dangling.Asset)
	assert.Equal(t, "z", dangling.Missing)
}

func TestBuildGraphCycle(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r,
		Spec{Key: "a", Group: "g1", Upstream: []string{"c"}},
		Spec{Key: "b", Group: "g1", Upstream: []string{"a"}},
		Spec{Key: "c", Group: "g2", Upstream: []string{"b"}},
	)

	_, err := r.BuildGraph()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCycle))

	var cycle *CycleError
	require.True(t, errors.As(err, &cycle))
	assert.Equal(t, []string{"a", "c", "b", "a"}, cycle.Path)
	assert.Equal(t, "dependency cycle: a -> c -> b -> a", cycle.Error())
}

func TestBuildGraphSelfLoop(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, Spec{Key: "a", Upstream: []string{"a"}})

	_, err := r.BuildGraph()
	var cycle *CycleError
	require.True(t, errors.As(err, &cycle))
	assert.Equal(t, []string{"a", "a"}, cycle.Path)
}

func TestBuildGraphCheckOnUnknownAsset(t *testing.T) {
	r := abcRegistry(t)
	require.NoError(t, r.RegisterCheck("ghost_check", "ghost"))

	_, err := r.BuildGraph()
	assert.True(t, errors.Is(err, errors.ErrUnknownKey))
}

func TestDuplicateUpstreamCollapses(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r,
		Spec{Key: "a"},
		Spec{Key: "b", Upstream: []string{"a", "a"}},
	)
	g, err := r.BuildGraph()
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, g.Upstream("b"))
	assert.Equal(t, []string{"b"}, g.Downstream("a"))
}

func TestGroups(t *testing.T) {
	r := abcRegistry(t)
	assert.Equal(t, []string{"g1", "g2"}, r.Groups())
	assert.Equal(t, []string{"a", "b"}, r.KeysInGroup("g1"))
	assert.True(t, r.HasGroup("g2"))
	assert.False(t, r.HasGroup("g3"))
}

func TestWithDefaultFreshness(t *testing.T) {
	explicit := freshness.MustPolicy(time.Hour, 2*time.Hour)
	def := freshness.MustPolicy(24*time.Hour, 48*time.Hour)

	r := NewRegistry()
	mustRegister(t, r,
		Spec{Key: "pinned", Freshness: &explicit},
		Spec{Key: "plain"},
	)

	t.Run("explicit policy is kept", func(t *testing.T) {
		merged, err := r.WithDefaultFreshness(def, false)
		require.NoError(t, err)

		pinned, _ := merged.Node("pinned")
		plain, _ := merged.Node("plain")
		assert.Equal(t, explicit, *pinned.FreshnessPolicy())
		assert.Equal(t, def, *plain.FreshnessPolicy())

		// source snapshot unchanged
		orig, _ := r.Node("plain")
		assert.Nil(t, orig.FreshnessPolicy())
	})

	t.Run("overwrite replaces explicit policy", func(t *testing.T) {
		merged, err := r.WithDefaultFreshness(def, true)
		require.NoError(t, err)
		pinned, _ := merged.Node("pinned")
		assert.Equal(t, def, *pinned.FreshnessPolicy())
	})

	t.Run("idempotent", func(t *testing.T) {
		once, err := r.WithDefaultFreshness(def, false)
		require.NoError(t, err)
		twice, err := once.WithDefaultFreshness(def, false)
		require.NoError(t, err)
		for _, k := range r.Keys() {
			a, _ := once.Node(k)
			b, _ := twice.Node(k)
			assert.Equal(t, a.Spec(), b.Spec())
		}
	})

	t.Run("invalid default", func(t *testing.T) {
		_, err := r.WithDefaultFreshness(freshness.Policy{Warn: 3 * time.Hour, Fail: time.Hour}, false)
		assert.True(t, errors.Is(err, errors.ErrInvalidPolicy))
	})
}

func TestMaterializationSharedAcrossSnapshots(t *testing.T) {
	r := abcRegistry(t)
	merged, err := r.WithDefaultFreshness(freshness.MustPolicy(time.Hour, 2*time.Hour), false)
	require.NoError(t, err)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	n, _ := merged.Node("b")
	n.MarkMaterialized(at)
	n.MarkMaterialized(at.Add(-time.Hour))

	orig, _ := r.Node("b")
	got, ok := orig.LastMaterializedAt()
	require.True(t, ok)
	assert.True(t, got.Equal(at))

	a, _ := r.Node("a")
	_, ok = a.LastMaterializedAt()
	assert.False(t, ok)
}

func TestFreshnessThroughRegistry(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, Spec{Key: "a"})
	merged, err := r.WithDefaultFreshness(freshness.MustPolicy(24*time.Hour, 48*time.Hour), false)
	require.NoError(t, err)

	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	n, _ := merged.Node("a")
	assert.Equal(t, freshness.StatusUnknown, freshness.Evaluate(n, now))

	n.MarkMaterialized(now.Add(-25 * time.Hour))
	assert.Equal(t, freshness.StatusWarn, freshness.Evaluate(n, now))
}

func TestMetadataJSON(t *testing.T) {
	md := Metadata{
		"total_customers": Int(42),
		"avg_order_value": Round2(153.456),
		"preview":         Markdown("| a |\n|---|"),
	}
	b, err := json.Marshal(md)
	require.NoError(t, err)

	var back Metadata
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, md, back)

	v, ok := back.Number("avg_order_value")
	assert.True(t, ok)
	assert.Equal(t, 153.46, v)
	assert.Equal(t, []string{"avg_order_value", "preview", "total_customers"}, back.Keys())

	_, ok = back.Number("preview")
	assert.False(t, ok)
}
