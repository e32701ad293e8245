// Package catalog defines the TPC-H analytics pipeline: transformation models
// built by the external transform tool, the KPI and trend assets computed
// in-process, their quality checks, and the jobs and triggers that run them.
package catalog

import (
	_ "embed"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/strata/asset"
	"github.com/teranos/strata/definitions"
	"github.com/teranos/strata/errors"
	"github.com/teranos/strata/freshness"
	"github.com/teranos/strata/job"
	"github.com/teranos/strata/selection"
	"github.com/teranos/strata/transform"
)

// Asset keys.
const (
	StgCustomers      = "stg_customers"
	StgOrders         = "stg_orders"
	StgLineitem       = "stg_lineitem"
	CustomerMetrics   = "customer_metrics"
	OrderAnalytics    = "order_analytics"
	DailySalesSummary = "daily_sales_summary"
	BusinessKPIs      = "business_kpis"
	MonthlyTrends     = "monthly_trends"
)

// Groups.
const (
	GroupTransform     = "tpch_analytics"
	GroupBusinessIntel = "business_intelligence"
)

//go:embed manifest.yml
var defaultManifest []byte

// DefaultManifest returns the built-in transform manifest.
func DefaultManifest() (*transform.Manifest, error) {
	return transform.ParseManifest(defaultManifest)
}

// Options tune the catalog.
type Options struct {
	// Manifest replaces the built-in transform manifest when set
	Manifest *transform.Manifest

	// BusinessHoursStart and BusinessHoursEnd bound the demo sensor's
	// window, both inclusive.
	BusinessHoursStart int
	BusinessHoursEnd   int
	Location           *time.Location

	Logger *zap.SugaredLogger
}

// DefaultOptions returns a 09:00 to 18:59 UTC sensor window.
func DefaultOptions() Options {
	return Options{BusinessHoursStart: 9, BusinessHoursEnd: 18, Location: time.UTC}
}

// DefaultFreshness is applied to every asset without its own policy.
func DefaultFreshness() freshness.Policy {
	return freshness.MustPolicy(24*time.Hour, 48*time.Hour)
}

// Definitions returns the full catalog as an unvalidated bundle.
func Definitions(opts Options) (*definitions.Definitions, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	m := opts.Manifest
	if m == nil {
		var err error
		if m, err = DefaultManifest(); err != nil {
			return nil, errors.Wrap(err, "built-in manifest")
		}
	}
	models, err := m.Specs()
	if err != nil {
		return nil, err
	}

	triggers, err := Triggers(opts)
	if err != nil {
		return nil, err
	}

	d := definitions.New()
	d.Assets = append(models, computedAssets()...)
	d.Compute[BusinessKPIs] = businessKPIs(log)
	d.Compute[MonthlyTrends] = monthlyTrends(log)
	d.Checks = Checks()
	d.Jobs = Jobs()
	d.Triggers = triggers
	return d, nil
}

func computedAssets() []asset.Spec {
	kpiPolicy := freshness.MustPolicy(2*time.Hour, 4*time.Hour)
	return []asset.Spec{
		{
			Key:         BusinessKPIs,
			Group:       GroupBusinessIntel,
			Upstream:    []string{CustomerMetrics, OrderAnalytics, DailySalesSummary},
			Freshness:   &kpiPolicy,
			Description: "Business KPIs calculated from the transformation marts",
			Kinds:       []string{"go", "snowflake"},
		},
		{
			Key:         MonthlyTrends,
			Group:       GroupBusinessIntel,
			Upstream:    []string{DailySalesSummary},
			Description: "Monthly trend analysis for executive reporting",
			Kinds:       []string{"go", "snowflake"},
		},
	}
}

// Job names.
const (
	TransformJob   = "dbt_models_job"
	DailyJob       = "daily_analytics_job"
	HourlyJob      = "hourly_metrics_job"
	DataQualityJob = "data_quality_job"
)

// Jobs returns the catalog's jobs.
func Jobs() []job.Job {
	return []job.Job{
		{
			Name:        TransformJob,
			Description: "Runs all staging and mart models (data transformations only)",
			Selection:   selection.ByGroup(GroupTransform),
		},
		{
			Name:        DailyJob,
			Description: "Daily business analytics pipeline including transformation models and KPI calculations",
			Selection:   selection.ByGroup(GroupTransform, GroupBusinessIntel),
		},
		{
			Name:        HourlyJob,
			Description: "Hourly refresh of key business metrics and trends",
			Selection:   selection.ByKeys(BusinessKPIs, MonthlyTrends),
		},
		{
			Name:        DataQualityJob,
			Description: "Data quality validation; runs checks only, no asset materialization",
			Selection:   selection.ChecksFor(CustomerMetrics, OrderAnalytics, DailySalesSummary, BusinessKPIs),
		},
	}
}
