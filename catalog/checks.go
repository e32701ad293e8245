package catalog

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/teranos/strata/asset"
	"github.com/teranos/strata/check"
	"github.com/teranos/strata/errors"
	"github.com/teranos/strata/warehouse"
)

// Check keys.
const (
	CustomerMetricsCheck = "customer_metrics_quality_check"
	OrderAnalyticsCheck  = "order_analytics_quality_check"
	DailySalesCheck      = "daily_sales_completeness_check"
	BusinessKPIsCheck    = "business_kpis_validation_check"
)

const (
	nullCustomerKeysQuery = "SELECT COUNT(*) FROM customer_metrics WHERE customer_key IS NULL"
	invalidBalancesQuery  = "SELECT COUNT(*) FROM customer_metrics WHERE total_spent > 0 AND account_balance < 0"
	segmentErrorsQuery    = "SELECT COUNT(*) FROM customer_metrics" +
		" WHERE (customer_value_segment = 'High Value' AND total_spent <= 500000)" +
		" OR (customer_value_segment = 'Medium Value' AND (total_spent <= 100000 OR total_spent > 500000))" +
		" OR (customer_value_segment = 'Low Value' AND (total_spent <= 0 OR total_spent > 100000))"

	invalidTotalsQuery      = "SELECT COUNT(*) FROM order_analytics WHERE order_total <= 0"
	ordersWithoutItemsQuery = "SELECT COUNT(*) FROM order_analytics WHERE line_item_count = 0 OR line_item_count IS NULL"
	invalidDiscountsQuery   = "SELECT COUNT(*) FROM order_analytics WHERE discount_percentage < 0 OR discount_percentage > 1"

	latestSalesDateQuery = "SELECT MAX(order_date) FROM daily_sales_summary"
	zeroRevenueDaysQuery = "SELECT COUNT(*) FROM daily_sales_summary WHERE total_revenue = 0 OR total_revenue IS NULL"
	negativeMetricsQuery = "SELECT COUNT(*) FROM daily_sales_summary" +
		" WHERE total_revenue < 0 OR orders_count < 0 OR unique_customers < 0"
)

// Thresholds.
const (
	customerIssuesErrorAt = 10
	maxDaysBehind         = 3
	maxZeroRevenueDays    = 30

	// unknownDaysBehind stands in when the summary has no dated rows
	unknownDaysBehind = 999
)

// Checks returns the catalog's quality checks.
func Checks() []check.Spec {
	return []check.Spec{
		{
			Key:         CustomerMetricsCheck,
			Asset:       CustomerMetrics,
			Description: "Validates customer metrics data quality",
			Eval:        customerMetricsQuality,
		},
		{
			Key:         OrderAnalyticsCheck,
			Asset:       OrderAnalytics,
			Description: "Validates order analytics data quality",
			Eval:        orderAnalyticsQuality,
		},
		{
			Key:         DailySalesCheck,
			Asset:       DailySalesSummary,
			Description: "Validates daily sales summary completeness",
			Eval:        dailySalesCompleteness,
		},
		{
			Key:         BusinessKPIsCheck,
			Asset:       BusinessKPIs,
			Description: "Validates business KPI calculations",
			Eval:        businessKPIsValidation,
		},
	}
}

// counts runs each query in order and returns the first column of each.
func counts(ctx context.Context, q warehouse.Querier, queries ...string) ([]int64, error) {
	if q == nil {
		return nil, errors.New("no warehouse configured")
	}
	out := make([]int64, len(queries))
	for i, query := range queries {
		n, err := warehouse.QueryInt(ctx, q, query)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func customerMetricsQuality(ctx context.Context, env check.Env) (check.Outcome, error) {
	n, err := counts(ctx, env.Warehouse, nullCustomerKeysQuery, invalidBalancesQuery, segmentErrorsQuery)
	if err != nil {
		return check.Outcome{}, err
	}
	nullKeys, balances, logic := n[0], n[1], n[2]
	md := asset.Metadata{
		"null_keys":        asset.Int(nullKeys),
		"invalid_balances": asset.Int(balances),
		"logic_errors":     asset.Int(logic),
	}
	total := nullKeys + balances + logic
	if total == 0 {
		return check.Outcome{Passed: true, Description: "All customer metrics quality checks passed", Metadata: md}, nil
	}
	desc := fmt.Sprintf("Quality issues found: %d null keys, %d invalid balances, %d logic errors",
		nullKeys, balances, logic)
	return check.Outcome{
		Severity:    check.Escalate(total, customerIssuesErrorAt),
		Description: desc,
		Metadata:    md,
	}, nil
}

func orderAnalyticsQuality(ctx context.Context, env check.Env) (check.Outcome, error) {
	n, err := counts(ctx, env.Warehouse, invalidTotalsQuery, ordersWithoutItemsQuery, invalidDiscountsQuery)
	if err != nil {
		return check.Outcome{}, err
	}
	totals, noItems, discounts := n[0], n[1], n[2]
	issues := totals + noItems + discounts
	desc := fmt.Sprintf("Order analytics check: %d invalid totals, %d orders without items, %d invalid discounts",
		totals, noItems, discounts)
	return check.Outcome{
		Passed:      issues == 0,
		Severity:    check.Escalate(issues, 1),
		Description: desc,
		Metadata: asset.Metadata{
			"invalid_totals":       asset.Int(totals),
			"orders_without_items": asset.Int(noItems),
			"invalid_discounts":    asset.Int(discounts),
		},
	}, nil
}

func dailySalesCompleteness(ctx context.Context, env check.Env) (check.Outcome, error) {
	if env.Warehouse == nil {
		return check.Outcome{}, errors.New("no warehouse configured")
	}
	rows, err := env.Warehouse.Query(ctx, latestSalesDateQuery)
	if err != nil {
		return check.Outcome{}, err
	}
	latest, ok, err := warehouse.ToTime(warehouse.First(rows))
	if err != nil {
		return check.Outcome{}, errors.Wrap(err, "latest order_date")
	}
	now := time.Now
	if env.Now != nil {
		now = env.Now
	}
	daysBehind := int64(unknownDaysBehind)
	if ok {
		daysBehind = daysBetween(latest, now())
	}

	n, err := counts(ctx, env.Warehouse, zeroRevenueDaysQuery, negativeMetricsQuery)
	if err != nil {
		return check.Outcome{}, err
	}
	zeroDays, negative := n[0], n[1]

	fresh := daysBehind <= maxDaysBehind
	valid := zeroDays < maxZeroRevenueDays && negative == 0
	desc := fmt.Sprintf("Data freshness: %d days behind, %d zero-revenue days, %d negative metrics",
		daysBehind, zeroDays, negative)
	out := check.Outcome{
		Passed:      fresh && valid,
		Description: desc,
		Metadata: asset.Metadata{
			"days_behind":       asset.Int(daysBehind),
			"zero_revenue_days": asset.Int(zeroDays),
			"negative_metrics":  asset.Int(negative),
		},
	}
	switch {
	case !valid:
		out.Severity = check.SeverityError
	case !fresh:
		out.Severity = check.SeverityWarn
	}
	return out, nil
}

// daysBetween counts calendar days from the UTC date of from to that of to.
func daysBetween(from, to time.Time) int64 {
	date := func(t time.Time) time.Time {
		y, m, d := t.UTC().Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}
	return int64(math.Round(date(to).Sub(date(from)).Hours() / 24))
}

// businessKPIsValidation checks the values recorded by the latest
// business_kpis materialization for internal consistency.
func businessKPIsValidation(ctx context.Context, env check.Env) (check.Outcome, error) {
	if env.Metadata == nil {
		return check.Outcome{}, errors.New("no materialization store configured")
	}
	md, ok, err := env.Metadata.LatestMetadata(ctx, BusinessKPIs)
	if err != nil {
		return check.Outcome{}, err
	}
	if !ok {
		return check.Outcome{
			Severity:    check.SeverityError,
			Description: "KPI validation: no materialization to validate",
		}, nil
	}

	var issues []string
	total, _ := md.Number("total_customers")
	highValue, _ := md.Number("high_value_customers")
	if total == 0 {
		issues = append(issues, "No customers found")
	}
	if highValue > total {
		issues = append(issues, "High value customers exceed total customers")
	}
	if churn, ok := md.Number("churn_rate_percent"); ok && (churn < 0 || churn > 100) {
		issues = append(issues, fmt.Sprintf("Churn rate %.2f%% outside 0-100", churn))
	}
	if aov, ok := md.Number("avg_order_value"); ok && aov < 0 {
		issues = append(issues, "Negative average order value")
	}
	if revenue, ok := md.Number("total_revenue"); ok && revenue < 0 {
		issues = append(issues, "Negative total revenue")
	}

	summary := "All checks passed"
	if len(issues) > 0 {
		summary = strings.Join(issues, ", ")
	}
	out := check.Outcome{
		Passed:      len(issues) == 0,
		Description: fmt.Sprintf("KPI validation: %d issues found: %s", len(issues), summary),
	}
	if !out.Passed {
		out.Severity = check.SeverityError
	}
	return out, nil
}
