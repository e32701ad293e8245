package catalog

import (
	"context"

	"go.uber.org/zap"

	"github.com/teranos/strata/asset"
	"github.com/teranos/strata/job"
	"github.com/teranos/strata/logger"
	"github.com/teranos/strata/warehouse"
)

type kpi struct {
	name  string
	query string
	kind  asset.MetadataKind
	round bool
}

const churnRateQuery = `SELECT
    COUNT(CASE WHEN customer_status = 'Churned' THEN 1 END) * 100.0 /
    NULLIF(COUNT(CASE WHEN customer_status IN ('Active', 'At Risk', 'Churned') THEN 1 END), 0)
FROM customer_metrics`

var kpis = []kpi{
	{
		name:  "total_revenue",
		query: "SELECT SUM(total_revenue) FROM daily_sales_summary",
		kind:  asset.MetadataFloat,
	},
	{
		name:  "total_customers",
		query: "SELECT COUNT(DISTINCT customer_key) FROM customer_metrics",
		kind:  asset.MetadataInt,
	},
	{
		name:  "avg_order_value",
		query: "SELECT AVG(total_revenue / NULLIF(orders_count, 0)) FROM daily_sales_summary",
		kind:  asset.MetadataFloat,
		round: true,
	},
	{
		name:  "high_value_customers",
		query: "SELECT COUNT(DISTINCT customer_key) FROM customer_metrics WHERE customer_value_segment = 'High Value'",
		kind:  asset.MetadataInt,
	},
	{
		name:  "active_customers",
		query: "SELECT COUNT(DISTINCT customer_key) FROM customer_metrics WHERE customer_status = 'Active'",
		kind:  asset.MetadataInt,
	},
	{
		name:  "churn_rate_percent",
		query: churnRateQuery,
		kind:  asset.MetadataFloat,
		round: true,
	},
}

// businessKPIs runs each KPI query independently. A failing query is logged
// and its KPI reported as zero; the asset itself never fails.
func businessKPIs(log *zap.SugaredLogger) job.ComputeFunc {
	return func(ctx context.Context, q warehouse.Querier) (asset.Metadata, error) {
		md := make(asset.Metadata, len(kpis))
		for _, k := range kpis {
			v, err := warehouse.QueryFloat(ctx, q, k.query)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				logger.FromContext(ctx, log).Warnw("KPI query failed, reporting zero",
					logger.FieldAsset, BusinessKPIs,
					"kpi", k.name,
					logger.FieldError, err)
				v = 0
			}
			switch {
			case k.kind == asset.MetadataInt:
				md[k.name] = asset.Int(int64(v))
			case k.round:
				md[k.name] = asset.Round2(v)
			default:
				md[k.name] = asset.Float(v)
			}
		}
		return md, nil
	}
}
