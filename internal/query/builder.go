package query

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/miradorstack/mirador-analytics/internal/models"
	"github.com/miradorstack/mirador-analytics/internal/repo"
	"github.com/miradorstack/mirador-analytics/internal/utils"
)

// Statement kinds, used for logging and by test fakes.
const (
	KindTimeSeries    = "timeseries"
	KindRollup        = "rollup"
	KindAggregation   = "aggregation"
	KindLatest        = "realtime_latest"
	KindPrevious      = "realtime_previous"
	KindAnomalyWindow = "anomaly_window"
)

const (
	rawTable          = "metrics_data"
	rollupHourlyTable = "metrics_rollup_hourly"
	rollupDailyTable  = "metrics_rollup_daily"
)

// Builder renders optimized queries into parameterised Postgres statements.
// Every field name reaching a statement has passed SanitizeField.
type Builder struct{}

// NewBuilder returns a statement builder.
func NewBuilder() *Builder { return &Builder{} }

type args struct {
	values []any
}

func (a *args) add(v any) string {
	a.values = append(a.values, v)
	return fmt.Sprintf("$%d", len(a.values))
}

// TimeSeries builds the bucketed statement for q, choosing the rollup or raw path.
func (b *Builder) TimeSeries(q models.OptimizedQuery) (repo.Statement, error) {
	if q.UsesRollup {
		return b.rollup(q)
	}
	return b.raw(q)
}

func (b *Builder) raw(q models.OptimizedQuery) (repo.Statement, error) {
	bucket, err := bucketExpr(q.Granularity, "timestamp")
	if err != nil {
		return repo.Statement{}, err
	}
	agg, err := aggregateExpr(q.Aggregation)
	if err != nil {
		return repo.Statement{}, err
	}

	var a args
	where, err := b.rawWhere(&a, q.QueryDescriptor)
	if err != nil {
		return repo.Statement{}, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "/* index: %s */ ", q.IndexHint)
	fmt.Fprintf(&sb, "SELECT %s AS bucket, %s AS value, count(*) AS samples FROM %s", bucket, agg, rawTable)
	fmt.Fprintf(&sb, " WHERE %s GROUP BY bucket ORDER BY bucket ASC", strings.Join(where, " AND "))
	return repo.Statement{Kind: KindTimeSeries, Text: sb.String(), Args: a.values}, nil
}

func (b *Builder) rollup(q models.OptimizedQuery) (repo.Statement, error) {
	value, err := rollupExpr(q.Aggregation)
	if err != nil {
		return repo.Statement{}, err
	}
	table, unit := rollupHourlyTable, "hour"
	if q.Granularity == models.Granularity1d {
		table, unit = rollupDailyTable, "day"
	}

	// The leading partial bucket is kept, matching the raw path's floored buckets.
	var a args
	where := []string{
		"metric_name = " + a.add(q.Metric),
		fmt.Sprintf("bucket >= date_trunc('%s', %s::timestamptz)", unit, a.add(q.TimeRange.Start.UTC())),
		"bucket <= " + a.add(q.TimeRange.End.UTC()),
	}
	if tenant := q.TenantID; tenant != "" {
		where = append(where, "tenant_id = "+a.add(tenant))
	}
	for _, f := range q.Filters {
		if _, ok := rollupFilterFields[f.Field]; !ok {
			return repo.Statement{}, utils.InvalidQuery("build", fmt.Sprintf("field %q is not available on rollups", f.Field))
		}
		pred, err := predicate(&a, f)
		if err != nil {
			return repo.Statement{}, err
		}
		where = append(where, pred)
	}

	text := fmt.Sprintf(
		"SELECT bucket, %s AS value, sum(metric_count) AS samples FROM %s WHERE %s GROUP BY bucket ORDER BY bucket ASC",
		value, table, strings.Join(where, " AND "),
	)
	return repo.Statement{Kind: KindRollup, Text: text, Args: a.values}, nil
}

// Aggregation builds a single-window statement, one row per group-by tuple.
func (b *Builder) Aggregation(q models.OptimizedQuery) (repo.Statement, error) {
	agg, err := aggregateExpr(q.Aggregation)
	if err != nil {
		return repo.Statement{}, err
	}

	var a args
	where, err := b.rawWhere(&a, q.QueryDescriptor)
	if err != nil {
		return repo.Statement{}, err
	}

	cols := make([]string, 0, len(q.GroupBy)+2)
	groups := make([]string, 0, len(q.GroupBy))
	for i, field := range q.GroupBy {
		if _, err := SanitizeField(field); err != nil {
			return repo.Statement{}, err
		}
		cols = append(cols, fmt.Sprintf("%s AS g%d", field, i))
		groups = append(groups, fmt.Sprintf("%d", i+1))
	}
	cols = append(cols, agg+" AS value", "count(*) AS samples")

	var sb strings.Builder
	fmt.Fprintf(&sb, "/* index: %s */ ", q.IndexHint)
	fmt.Fprintf(&sb, "SELECT %s FROM %s WHERE %s", strings.Join(cols, ", "), rawTable, strings.Join(where, " AND "))
	if len(groups) > 0 {
		list := strings.Join(groups, ", ")
		fmt.Fprintf(&sb, " GROUP BY %s ORDER BY %s", list, list)
	}
	return repo.Statement{Kind: KindAggregation, Text: sb.String(), Args: a.values}, nil
}

func (b *Builder) rawWhere(a *args, d models.QueryDescriptor) ([]string, error) {
	where := []string{
		"metric_name = " + a.add(d.Metric),
		"timestamp >= " + a.add(d.TimeRange.Start.UTC()),
		"timestamp <= " + a.add(d.TimeRange.End.UTC()),
	}
	if d.TenantID != "" {
		where = append(where, "tenant_id = "+a.add(d.TenantID))
	}
	for _, f := range d.Filters {
		pred, err := predicate(a, f)
		if err != nil {
			return nil, err
		}
		where = append(where, pred)
	}
	return where, nil
}

// Latest selects the most recent point of each named metric.
func (b *Builder) Latest(metrics []string) repo.Statement {
	var a args
	text := fmt.Sprintf(
		"SELECT DISTINCT ON (metric_name) metric_name, metric_value::float8, timestamp, dimensions->>'unit' FROM %s WHERE metric_name = ANY(%s) ORDER BY metric_name, timestamp DESC",
		rawTable, a.add(metrics),
	)
	return repo.Statement{Kind: KindLatest, Text: text, Args: a.values}
}

// Previous selects the newest point of metric strictly before ts.
func (b *Builder) Previous(metric string, ts time.Time) repo.Statement {
	var a args
	text := fmt.Sprintf(
		"SELECT metric_value::float8, timestamp FROM %s WHERE metric_name = %s AND timestamp < %s ORDER BY timestamp DESC LIMIT 1",
		rawTable, a.add(metric), a.add(ts.UTC()),
	)
	return repo.Statement{Kind: KindPrevious, Text: text, Args: a.values}
}

// AnomalyWindow selects every point in the window ordered by metric then time.
func (b *Builder) AnomalyWindow(r models.TimeRange, tenantID string) repo.Statement {
	var a args
	where := []string{
		"timestamp >= " + a.add(r.Start.UTC()),
		"timestamp <= " + a.add(r.End.UTC()),
	}
	if tenantID != "" {
		where = append(where, "tenant_id = "+a.add(tenantID))
	}
	text := fmt.Sprintf(
		"SELECT metric_name, metric_value::float8, timestamp FROM %s WHERE %s ORDER BY metric_name, timestamp",
		rawTable, strings.Join(where, " AND "),
	)
	return repo.Statement{Kind: KindAnomalyWindow, Text: text, Args: a.values}
}

// bucketExpr floors column to the granularity. Five-minute buckets align to :00.
func bucketExpr(g models.Granularity, column string) (string, error) {
	switch g {
	case models.Granularity1m:
		return fmt.Sprintf("date_trunc('minute', %s)", column), nil
	case models.Granularity5m:
		return fmt.Sprintf("date_trunc('hour', %[1]s) + floor(extract(minute FROM %[1]s) / 5) * interval '5 minutes'", column), nil
	case models.Granularity1h:
		return fmt.Sprintf("date_trunc('hour', %s)", column), nil
	case models.Granularity1d:
		return fmt.Sprintf("date_trunc('day', %s)", column), nil
	}
	return "", utils.InvalidQuery("build", fmt.Sprintf("unsupported granularity %q", g))
}

func aggregateExpr(a models.Aggregation) (string, error) {
	if p, ok := a.Percentile(); ok {
		return fmt.Sprintf("percentile_disc(%.2f) WITHIN GROUP (ORDER BY metric_value)::float8", p), nil
	}
	switch a {
	case models.AggregationSum:
		return "sum(metric_value)::float8", nil
	case models.AggregationAvg:
		return "avg(metric_value)::float8", nil
	case models.AggregationCount:
		return "count(metric_value)::float8", nil
	case models.AggregationMin:
		return "min(metric_value)::float8", nil
	case models.AggregationMax:
		return "max(metric_value)::float8", nil
	}
	return "", utils.InvalidQuery("build", fmt.Sprintf("unsupported aggregation %q", a))
}

// rollupExpr merges the precomputed columns of every rollup row sharing a bucket.
// Percentiles take the largest partition value, which is exact for a single partition.
func rollupExpr(a models.Aggregation) (string, error) {
	switch a {
	case models.AggregationSum:
		return "sum(sum_value)::float8", nil
	case models.AggregationAvg:
		return "(sum(sum_value) / NULLIF(sum(metric_count), 0))::float8", nil
	case models.AggregationCount:
		return "sum(metric_count)::float8", nil
	case models.AggregationP95:
		return "max(p95_value)::float8", nil
	case models.AggregationP99:
		return "max(p99_value)::float8", nil
	}
	return "", utils.InvalidQuery("build", fmt.Sprintf("aggregation %q has no rollup column", a))
}

var comparisons = map[models.Operator]string{
	models.OperatorEq:  "=",
	models.OperatorNe:  "<>",
	models.OperatorGt:  ">",
	models.OperatorGte: ">=",
	models.OperatorLt:  "<",
	models.OperatorLte: "<=",
}

func predicate(a *args, f models.FilterCondition) (string, error) {
	field, err := SanitizeField(f.Field)
	if err != nil {
		return "", err
	}

	switch {
	case field == "dimensions" || IsJSONPath(field):
		return jsonPredicate(a, field, f)
	case IsTextPath(field):
		return textPredicate(a, field, f)
	}

	switch f.Operator {
	case models.OperatorIn:
		return fmt.Sprintf("%s = ANY(%s)", field, a.add(listValue(f.Value))), nil
	case models.OperatorNotIn:
		return fmt.Sprintf("%s <> ALL(%s)", field, a.add(listValue(f.Value))), nil
	case models.OperatorContains:
		switch field {
		case "tenant_id", "workspace_id", "metric_type":
			return fmt.Sprintf("%s ILIKE %s", field, a.add("%"+fmt.Sprint(f.Value)+"%")), nil
		}
		return "", utils.InvalidQuery("build", fmt.Sprintf("contains is not supported on %s", field))
	}
	cmp, ok := comparisons[f.Operator]
	if !ok {
		return "", utils.InvalidQuery("build", fmt.Sprintf("unsupported operator %q", f.Operator))
	}
	return fmt.Sprintf("%s %s %s", field, cmp, a.add(f.Value)), nil
}

func textPredicate(a *args, field string, f models.FilterCondition) (string, error) {
	switch f.Operator {
	case models.OperatorIn:
		return fmt.Sprintf("%s = ANY(%s)", field, a.add(stringList(f.Value))), nil
	case models.OperatorNotIn:
		return fmt.Sprintf("%s <> ALL(%s)", field, a.add(stringList(f.Value))), nil
	case models.OperatorContains:
		return fmt.Sprintf("%s ILIKE %s", field, a.add("%"+fmt.Sprint(f.Value)+"%")), nil
	case models.OperatorEq, models.OperatorNe:
		return fmt.Sprintf("%s %s %s", field, comparisons[f.Operator], a.add(fmt.Sprint(f.Value))), nil
	}
	cmp, ok := comparisons[f.Operator]
	if !ok {
		return "", utils.InvalidQuery("build", fmt.Sprintf("unsupported operator %q", f.Operator))
	}
	// Ordering comparisons on a text path compare numerically.
	return fmt.Sprintf("(%s)::float8 %s %s", field, cmp, a.add(f.Value)), nil
}

func jsonPredicate(a *args, field string, f models.FilterCondition) (string, error) {
	raw, err := json.Marshal(f.Value)
	if err != nil {
		return "", utils.InvalidQuery("build", fmt.Sprintf("filter value for %s is not JSON encodable", field))
	}
	switch f.Operator {
	case models.OperatorContains:
		return fmt.Sprintf("%s @> %s::jsonb", field, a.add(string(raw))), nil
	case models.OperatorEq, models.OperatorNe:
		return fmt.Sprintf("%s %s %s::jsonb", field, comparisons[f.Operator], a.add(string(raw))), nil
	}
	return "", utils.InvalidQuery("build", fmt.Sprintf("operator %q is not supported on %s", f.Operator, field))
}

func listValue(v any) any {
	items, ok := v.([]any)
	if !ok {
		return v
	}
	strs := make([]string, 0, len(items))
	nums := make([]float64, 0, len(items))
	for _, item := range items {
		switch x := item.(type) {
		case string:
			strs = append(strs, x)
		case float64:
			nums = append(nums, x)
		case int:
			nums = append(nums, float64(x))
		case int64:
			nums = append(nums, float64(x))
		}
	}
	if len(nums) == len(items) {
		return nums
	}
	if len(strs) == len(items) {
		return strs
	}
	return stringList(v)
}

func stringList(v any) []string {
	switch x := v.(type) {
	case []string:
		return x
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			out = append(out, fmt.Sprint(item))
		}
		return out
	}
	return []string{fmt.Sprint(v)}
}
