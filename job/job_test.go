package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/strata/asset"
	"github.com/teranos/strata/errors"
	"github.com/teranos/strata/selection"
)

func testGraph(t *testing.T) *asset.Graph {
	t.Helper()
	r := asset.NewRegistry()
	for _, s := range []asset.Spec{
		{Key: "kpis", Group: "bi", Upstream: []string{"orders", "customers"}},
		{Key: "orders", Group: "staging"},
		{Key: "customers", Group: "staging"},
	} {
		require.NoError(t, r.Register(s))
	}
	require.NoError(t, r.RegisterCheck("kpis_check", "kpis"))
	g, err := r.BuildGraph()
	require.NoError(t, err)
	return g
}

func TestResolveOrdersAssets(t *testing.T) {
	j := Job{Name: "all", Selection: selection.ByGroup("bi", "staging")}
	plan, err := j.Resolve(testGraph(t))
	require.NoError(t, err)
	assert.Equal(t, "all", plan.Job)
	assert.Equal(t, []string{"orders", "customers", "kpis"}, plan.Assets)
	assert.Empty(t, plan.Checks)
}

func TestResolveChecksOnly(t *testing.T) {
	j := Job{Name: "quality", Selection: selection.ChecksFor("kpis")}
	plan, err := j.Resolve(testGraph(t))
	require.NoError(t, err)
	assert.Empty(t, plan.Assets)
	assert.Equal(t, []string{"kpis_check"}, plan.Checks)
}

func TestSet(t *testing.T) {
	s := NewSet()
	require.NoError(t, s.Add(Job{Name: "b", Selection: selection.ByKeys("kpis")}))
	require.NoError(t, s.Add(Job{Name: "a", Selection: selection.ByGroup("staging")}))

	err := s.Add(Job{Name: "a", Selection: selection.ByGroup("bi")})
	assert.True(t, errors.Is(err, errors.ErrDuplicateKey))
	assert.Error(t, s.Add(Job{Name: "nosel"}))

	assert.Equal(t, []string{"a", "b"}, s.Names())

	_, err = s.Get("missing")
	assert.True(t, errors.IsNotFoundError(err))

	require.NoError(t, s.Validate(testGraph(t)))

	require.NoError(t, s.Add(Job{Name: "broken", Selection: selection.ByGroup("nope")}))
	err = s.Validate(testGraph(t))
	assert.True(t, errors.Is(err, errors.ErrUnknownKey))
}
