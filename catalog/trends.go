package catalog

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/strata/asset"
	"github.com/teranos/strata/errors"
	"github.com/teranos/strata/job"
	"github.com/teranos/strata/logger"
	"github.com/teranos/strata/warehouse"
)

const monthlyTrendsQuery = `SELECT
    order_year,
    order_month,
    SUM(total_revenue) AS monthly_revenue,
    SUM(orders_count) AS monthly_orders,
    SUM(unique_customers) AS monthly_customers,
    AVG(avg_order_value) AS avg_order_value
FROM daily_sales_summary
GROUP BY order_year, order_month
ORDER BY order_year, order_month`

const previewMonths = 5

type month struct {
	year, month   int64
	revenue       float64
	orders        float64
	customers     float64
	avgOrderValue float64

	// growth is undefined for the first month and after a zero month
	revenueGrowth, ordersGrowth *float64
}

func monthlyTrends(log *zap.SugaredLogger) job.ComputeFunc {
	return func(ctx context.Context, q warehouse.Querier) (asset.Metadata, error) {
		rows, err := q.Query(ctx, monthlyTrendsQuery)
		if err != nil {
			return nil, err
		}
		months, err := scanMonths(rows)
		if err != nil {
			return nil, errors.Wrap(err, MonthlyTrends)
		}
		if len(months) == 0 {
			logger.FromContext(ctx, log).Infow("No monthly sales rows", logger.FieldAsset, MonthlyTrends)
			return asset.Metadata{}, nil
		}
		return trendMetadata(months), nil
	}
}

func scanMonths(rows []warehouse.Row) ([]month, error) {
	out := make([]month, 0, len(rows))
	for i, row := range rows {
		if len(row) < 6 {
			return nil, errors.Newf("row %d has %d columns, want 6", i, len(row))
		}
		var m month
		var err error
		if m.year, err = warehouse.ToInt(row[0]); err != nil {
			return nil, errors.Wrapf(err, "row %d order_year", i)
		}
		if m.month, err = warehouse.ToInt(row[1]); err != nil {
			return nil, errors.Wrapf(err, "row %d order_month", i)
		}
		floats := []*float64{&m.revenue, &m.orders, &m.customers, &m.avgOrderValue}
		for j, dst := range floats {
			if *dst, err = warehouse.ToFloat(row[j+2]); err != nil {
				return nil, errors.Wrapf(err, "row %d column %d", i, j+2)
			}
		}
		if i > 0 {
			prev := out[i-1]
			m.revenueGrowth = pctChange(prev.revenue, m.revenue)
			m.ordersGrowth = pctChange(prev.orders, m.orders)
		}
		out = append(out, m)
	}
	return out, nil
}

func pctChange(prev, cur float64) *float64 {
	if prev == 0 {
		return nil
	}
	g := (cur - prev) / prev * 100
	return &g
}

func trendMetadata(months []month) asset.Metadata {
	var total, highest, growthSum float64
	var growthN int
	for i, m := range months {
		total += m.revenue
		if i == 0 || m.revenue > highest {
			highest = m.revenue
		}
		if m.revenueGrowth != nil {
			growthSum += *m.revenueGrowth
			growthN++
		}
	}

	md := asset.Metadata{
		"num_months":          asset.Int(int64(len(months))),
		"avg_monthly_revenue": asset.Round2(total / float64(len(months))),
		"max_monthly_revenue": asset.Round2(highest),
		"preview":             asset.Markdown(previewTable(months)),
	}
	if growthN > 0 {
		md["avg_revenue_growth"] = asset.Round2(growthSum / float64(growthN))
	}
	return md
}

func previewTable(months []month) string {
	if len(months) > previewMonths {
		months = months[:previewMonths]
	}
	var b strings.Builder
	b.WriteString("| year | month | revenue | orders | customers | avg_order_value | revenue_growth | orders_growth |\n")
	b.WriteString("|-----:|------:|--------:|-------:|----------:|----------------:|---------------:|--------------:|\n")
	for _, m := range months {
		fmt.Fprintf(&b, "| %d | %d | %.2f | %.0f | %.0f | %.2f | %s | %s |\n",
			m.year, m.month, m.revenue, m.orders, m.customers, m.avgOrderValue,
			growthCell(m.revenueGrowth), growthCell(m.ordersGrowth))
	}
	return b.String()
}

func growthCell(g *float64) string {
	if g == nil {
		return ""
	}
	return fmt.Sprintf("%.2f", *g)
}
