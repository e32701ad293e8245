package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/strata/asset"
	"github.com/teranos/strata/check"
	"github.com/teranos/strata/errors"
)

var checkNow = time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)

func expectCounts(mock sqlmock.Sqlmock, queries []string, values ...int64) {
	for i, q := range queries {
		mock.ExpectQuery(q).WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(values[i]))
	}
}

type staticMetadata struct {
	md  asset.Metadata
	ok  bool
	err error
}

func (s staticMetadata) LatestMetadata(context.Context, string) (asset.Metadata, bool, error) {
	return s.md, s.ok, s.err
}

func TestCustomerMetricsQuality(t *testing.T) {
	queries := []string{nullCustomerKeysQuery, invalidBalancesQuery, segmentErrorsQuery}
	tests := []struct {
		name     string
		counts   []int64
		passed   bool
		severity check.Severity
		desc     string
	}{
		{"clean", []int64{0, 0, 0}, true, check.SeverityNone, "All customer metrics quality checks passed"},
		{"few issues warn", []int64{1, 2, 6}, false, check.SeverityWarn, "Quality issues found: 1 null keys, 2 invalid balances, 6 logic errors"},
		{"ten issues error", []int64{0, 4, 6}, false, check.SeverityError, "Quality issues found: 0 null keys, 4 invalid balances, 6 logic errors"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, mock := newWarehouse(t)
			expectCounts(mock, queries, tt.counts...)

			out, err := customerMetricsQuality(context.Background(), check.Env{Warehouse: w})
			require.NoError(t, err)
			assert.Equal(t, tt.passed, out.Passed)
			assert.Equal(t, tt.severity, out.Severity)
			assert.Equal(t, tt.desc, out.Description)
			assert.Equal(t, asset.Int(tt.counts[2]), out.Metadata["logic_errors"])
		})
	}
}

func TestOrderAnalyticsQuality(t *testing.T) {
	queries := []string{invalidTotalsQuery, ordersWithoutItemsQuery, invalidDiscountsQuery}

	t.Run("clean", func(t *testing.T) {
		w, mock := newWarehouse(t)
		expectCounts(mock, queries, 0, 0, 0)
		out, err := orderAnalyticsQuality(context.Background(), check.Env{Warehouse: w})
		require.NoError(t, err)
		assert.True(t, out.Passed)
		assert.Equal(t, "Order analytics check: 0 invalid totals, 0 orders without items, 0 invalid discounts", out.Description)
	})

	t.Run("any issue is an error", func(t *testing.T) {
		w, mock := newWarehouse(t)
		expectCounts(mock, queries, 0, 1, 0)
		out, err := orderAnalyticsQuality(context.Background(), check.Env{Warehouse: w})
		require.NoError(t, err)
		assert.False(t, out.Passed)
		assert.Equal(t, check.SeverityError, out.Severity)
	})

	t.Run("query failure surfaces", func(t *testing.T) {
		w, mock := newWarehouse(t)
		mock.ExpectQuery(invalidTotalsQuery).WillReturnError(errors.New("permission denied"))
		_, err := orderAnalyticsQuality(context.Background(), check.Env{Warehouse: w})
		require.Error(t, err)
	})
}

func TestDailySalesCompleteness(t *testing.T) {
	tests := []struct {
		name       string
		latest     any
		zeroDays   int64
		negative   int64
		passed     bool
		severity   check.Severity
		daysBehind int64
	}{
		{"fresh and valid", "2026-03-08", 0, 0, true, check.SeverityNone, 2},
		{"boundary three days", time.Date(2026, 3, 7, 23, 0, 0, 0, time.UTC), 0, 0, true, check.SeverityNone, 3},
		{"stale warns", "2026-03-01", 0, 0, false, check.SeverityWarn, 9},
		{"negative metrics error", "2026-03-09", 0, 2, false, check.SeverityError, 1},
		{"too many zero days error", "2026-03-09", 30, 0, false, check.SeverityError, 1},
		{"no dated rows", nil, 0, 0, false, check.SeverityWarn, 999},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, mock := newWarehouse(t)
			mock.ExpectQuery(latestSalesDateQuery).WillReturnRows(sqlmock.NewRows([]string{"d"}).AddRow(tt.latest))
			expectCounts(mock, []string{zeroRevenueDaysQuery, negativeMetricsQuery}, tt.zeroDays, tt.negative)

			env := check.Env{Warehouse: w, Now: func() time.Time { return checkNow }}
			out, err := dailySalesCompleteness(context.Background(), env)
			require.NoError(t, err)
			assert.Equal(t, tt.passed, out.Passed)
			assert.Equal(t, tt.severity, out.Severity)
			assert.Equal(t, asset.Int(tt.daysBehind), out.Metadata["days_behind"])
			assert.Contains(t, out.Description, "days behind")
		})
	}
}

func TestDaysBetween(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*60*60)
	cases := []struct {
		name     string
		from, to time.Time
		want     int64
	}{
		{"same day", checkNow, checkNow.Add(10 * time.Hour), 0},
		{"late evening to early morning", time.Date(2026, 3, 9, 23, 59, 0, 0, time.UTC), time.Date(2026, 3, 10, 0, 1, 0, 0, time.UTC), 1},
		{"across month end", time.Date(2026, 2, 27, 12, 0, 0, 0, time.UTC), checkNow, 11},
		{"zoned input uses UTC date", time.Date(2026, 3, 9, 22, 0, 0, 0, loc), checkNow, 0},
		{"future max date", checkNow.AddDate(0, 0, 2), checkNow, -2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, daysBetween(tc.from, tc.to))
		})
	}
}

func TestBusinessKPIsValidation(t *testing.T) {
	good := asset.Metadata{
		"total_revenue":        asset.Float(1000),
		"total_customers":      asset.Int(100),
		"avg_order_value":      asset.Float(25),
		"high_value_customers": asset.Int(10),
		"active_customers":     asset.Int(80),
		"churn_rate_percent":   asset.Float(5),
	}
	with := func(name string, v asset.MetadataValue) asset.Metadata {
		md := make(asset.Metadata, len(good))
		for k, val := range good {
			md[k] = val
		}
		md[name] = v
		return md
	}

	tests := []struct {
		name   string
		source staticMetadata
		passed bool
		desc   string
	}{
		{"consistent", staticMetadata{md: good, ok: true}, true, "KPI validation: 0 issues found: All checks passed"},
		{"no customers", staticMetadata{md: with("total_customers", asset.Int(0)), ok: true}, false,
			"KPI validation: 2 issues found: No customers found, High value customers exceed total customers"},
		{"churn out of range", staticMetadata{md: with("churn_rate_percent", asset.Float(120)), ok: true}, false,
			"KPI validation: 1 issues found: Churn rate 120.00% outside 0-100"},
		{"negative revenue", staticMetadata{md: with("total_revenue", asset.Float(-1)), ok: true}, false,
			"KPI validation: 1 issues found: Negative total revenue"},
		{"never materialized", staticMetadata{}, false, "KPI validation: no materialization to validate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := businessKPIsValidation(context.Background(), check.Env{Metadata: tt.source})
			require.NoError(t, err)
			assert.Equal(t, tt.passed, out.Passed)
			assert.Equal(t, tt.desc, out.Description)
			if !tt.passed {
				assert.Equal(t, check.SeverityError, out.Severity)
			}
		})
	}

	t.Run("store failure", func(t *testing.T) {
		_, err := businessKPIsValidation(context.Background(), check.Env{Metadata: staticMetadata{err: errors.New("database is locked")}})
		require.Error(t, err)
	})
}

func TestChecksThroughRunner(t *testing.T) {
	w, mock := newWarehouse(t)
	mock.ExpectQuery(nullCustomerKeysQuery).WillReturnError(errors.New("warehouse unreachable"))

	runner := check.NewRunner(check.Env{Warehouse: w, Now: func() time.Time { return checkNow }}, nil)
	res := runner.Run(context.Background(), Checks()[0])

	assert.False(t, res.Passed)
	assert.Equal(t, check.SeverityError, res.Severity)
	assert.Equal(t, CustomerMetrics, res.AssetKey)
	assert.Equal(t, checkNow, res.EvaluatedAt)
}
