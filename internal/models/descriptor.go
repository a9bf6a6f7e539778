package models

import "time"

// Aggregation names the reducer applied to metric values.
type Aggregation string

const (
	AggregationSum   Aggregation = "sum"
	AggregationAvg   Aggregation = "avg"
	AggregationCount Aggregation = "count"
	AggregationMin   Aggregation = "min"
	AggregationMax   Aggregation = "max"
	AggregationP50   Aggregation = "p50"
	AggregationP95   Aggregation = "p95"
	AggregationP99   Aggregation = "p99"
)

// Valid reports whether a is a supported aggregation.
func (a Aggregation) Valid() bool {
	switch a {
	case AggregationSum, AggregationAvg, AggregationCount, AggregationMin, AggregationMax,
		AggregationP50, AggregationP95, AggregationP99:
		return true
	}
	return false
}

// Percentile returns the percentile fraction for p50/p95/p99 and false otherwise.
func (a Aggregation) Percentile() (float64, bool) {
	switch a {
	case AggregationP50:
		return 0.50, true
	case AggregationP95:
		return 0.95, true
	case AggregationP99:
		return 0.99, true
	}
	return 0, false
}

// Granularity is the bucket width of a time-series query.
type Granularity string

const (
	Granularity1m Granularity = "1m"
	Granularity5m Granularity = "5m"
	Granularity1h Granularity = "1h"
	Granularity1d Granularity = "1d"
)

// Valid reports whether g is a supported bucket width.
func (g Granularity) Valid() bool {
	switch g {
	case Granularity1m, Granularity5m, Granularity1h, Granularity1d:
		return true
	}
	return false
}

// Duration returns the bucket width.
func (g Granularity) Duration() time.Duration {
	switch g {
	case Granularity1m:
		return time.Minute
	case Granularity5m:
		return 5 * time.Minute
	case Granularity1h:
		return time.Hour
	case Granularity1d:
		return 24 * time.Hour
	}
	return 0
}

// Operator is a filter comparison.
type Operator string

const (
	OperatorEq       Operator = "eq"
	OperatorNe       Operator = "ne"
	OperatorGt       Operator = "gt"
	OperatorGte      Operator = "gte"
	OperatorLt       Operator = "lt"
	OperatorLte      Operator = "lte"
	OperatorIn       Operator = "in"
	OperatorNotIn    Operator = "not_in"
	OperatorContains Operator = "contains"
)

// Valid reports whether o is a supported operator.
func (o Operator) Valid() bool {
	switch o {
	case OperatorEq, OperatorNe, OperatorGt, OperatorGte, OperatorLt, OperatorLte,
		OperatorIn, OperatorNotIn, OperatorContains:
		return true
	}
	return false
}

// TimeRange bounds the signal window for analysis.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Span returns End-Start.
func (r TimeRange) Span() time.Duration {
	return r.End.Sub(r.Start)
}

// IsZero reports whether neither bound is set.
func (r TimeRange) IsZero() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

// FilterCondition restricts the rows a query reads. Field must pass the sanitizer.
type FilterCondition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

// QueryDescriptor is a caller's time-series or aggregation request.
type QueryDescriptor struct {
	Metric      string            `json:"metric"`
	Aggregation Aggregation       `json:"aggregation"`
	TimeRange   TimeRange         `json:"time_range"`
	Granularity Granularity       `json:"granularity,omitempty"`
	Filters     []FilterCondition `json:"filters,omitempty"`
	GroupBy     []string          `json:"group_by,omitempty"`
	TenantID    string            `json:"tenant_id,omitempty"`
}

// Tenant returns the tenant scope from TenantID or an eq filter on tenant_id.
func (d QueryDescriptor) Tenant() string {
	if d.TenantID != "" {
		return d.TenantID
	}
	for _, f := range d.Filters {
		if f.Field == "tenant_id" && f.Operator == OperatorEq {
			if s, ok := f.Value.(string); ok {
				return s
			}
		}
	}
	return ""
}

// OptimizedQuery is a descriptor annotated with the optimizer's decisions.
type OptimizedQuery struct {
	QueryDescriptor
	IndexHint       string `json:"index_hint"`
	EstimatedRows   int64  `json:"estimated_rows"`
	UsesRollup      bool   `json:"uses_rollup"`
	ShouldCache     bool   `json:"should_cache"`
	CacheKey        string `json:"cache_key,omitempty"`
	CacheTTLSeconds int    `json:"cache_ttl_seconds,omitempty"`
}
