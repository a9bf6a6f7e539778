package query

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/miradorstack/mirador-analytics/internal/config"
	"github.com/miradorstack/mirador-analytics/internal/models"
	"github.com/miradorstack/mirador-analytics/internal/utils"
)

// Index names on the raw metrics table.
const (
	IndexMetricTimeRecent = "idx_metrics_data_metric_time_recent"
	IndexTenantTime       = "idx_metrics_data_tenant_time"
	IndexMetricTime       = "idx_metrics_data_metric_time"
)

// Fields present on the rollup tables; filters on anything else force the raw path.
var rollupFilterFields = map[string]struct{}{
	"tenant_id":    {},
	"workspace_id": {},
	"metric_type":  {},
}

// Optimizer picks an index, a rollup strategy and cache eligibility for descriptors.
type Optimizer struct {
	opts  config.OptimizerConfig
	cache config.CacheConfig
}

// NewOptimizer builds an optimizer from configuration.
func NewOptimizer(opts config.OptimizerConfig, cache config.CacheConfig) *Optimizer {
	return &Optimizer{opts: opts, cache: cache}
}

// Validate checks the descriptor shape. Field names are checked separately by the sanitizer.
func Validate(d models.QueryDescriptor) error {
	const op = "validate"
	if strings.TrimSpace(d.Metric) == "" {
		return utils.InvalidQuery(op, "metric is required")
	}
	if d.Aggregation != "" && !d.Aggregation.Valid() {
		return utils.InvalidQuery(op, fmt.Sprintf("unsupported aggregation %q", d.Aggregation))
	}
	if d.Granularity != "" && !d.Granularity.Valid() {
		return utils.InvalidQuery(op, fmt.Sprintf("unsupported granularity %q", d.Granularity))
	}
	if !d.TimeRange.End.After(d.TimeRange.Start) {
		return utils.InvalidQuery(op, "time range end must be after start")
	}
	for _, f := range d.Filters {
		if !f.Operator.Valid() {
			return utils.InvalidQuery(op, fmt.Sprintf("unsupported operator %q", f.Operator))
		}
	}
	return nil
}

// DefaultGranularity picks a bucket width that keeps point counts reasonable for span.
func DefaultGranularity(span time.Duration) models.Granularity {
	switch {
	case span <= time.Hour:
		return models.Granularity1m
	case span <= 6*time.Hour:
		return models.Granularity5m
	case span <= 7*24*time.Hour:
		return models.Granularity1h
	default:
		return models.Granularity1d
	}
}

// Optimize annotates a time-series descriptor. The aggregation defaults to avg and the
// granularity to DefaultGranularity of the span. The rollup path is taken when the span
// exceeds RollupMinSpan, the aggregation has a rollup column, and every filter is on a
// rollup column (tenant_id, workspace_id, metric_type). Rollup tables carry no dimensions,
// so a dimension filter keeps the query on raw points.
func (o *Optimizer) Optimize(d models.QueryDescriptor) (models.OptimizedQuery, error) {
	if err := Validate(d); err != nil {
		return models.OptimizedQuery{}, err
	}
	if d.Aggregation == "" {
		d.Aggregation = models.AggregationAvg
	}
	if d.Granularity == "" {
		d.Granularity = DefaultGranularity(d.TimeRange.Span())
	}

	q := o.annotate(d)
	q.UsesRollup = o.rollupEligible(d)
	q.CacheKey = CacheKey("ts", q)
	return q, nil
}

// OptimizeAggregation annotates an aggregation-only descriptor. Aggregations always
// scan raw points since group-by dimensions are not present in the rollups.
func (o *Optimizer) OptimizeAggregation(d models.QueryDescriptor) (models.OptimizedQuery, error) {
	if err := Validate(d); err != nil {
		return models.OptimizedQuery{}, err
	}
	if d.Aggregation == "" {
		return models.OptimizedQuery{}, utils.InvalidQuery("validate", "aggregation is required")
	}
	d.Granularity = ""

	q := o.annotate(d)
	q.CacheKey = CacheKey("agg", q)
	return q, nil
}

func (o *Optimizer) annotate(d models.QueryDescriptor) models.OptimizedQuery {
	span := d.TimeRange.Span()
	q := models.OptimizedQuery{
		QueryDescriptor: d,
		IndexHint:       o.indexHint(d),
		EstimatedRows:   o.EstimateRows(d.Metric, span),
	}
	if ttl, ok := o.CacheTTL(span); ok {
		q.ShouldCache = true
		q.CacheTTLSeconds = int(ttl / time.Second)
	}
	return q
}

// EstimateRows returns ceil(hours * rate) where rate depends on the metric class.
func (o *Optimizer) EstimateRows(metric string, span time.Duration) int64 {
	if span <= 0 {
		return 0
	}
	rate := o.rowRate(metric)
	return int64(math.Ceil(span.Hours() * float64(rate)))
}

func (o *Optimizer) rowRate(metric string) int64 {
	class := metric
	if i := strings.IndexAny(metric, "._"); i > 0 {
		class = metric[:i]
	}
	if rate, ok := o.opts.RowRates[strings.ToLower(class)]; ok && rate > 0 {
		return rate
	}
	return o.opts.DefaultRowRate
}

func (o *Optimizer) indexHint(d models.QueryDescriptor) string {
	if d.TimeRange.Span() < o.opts.FineIndexMaxSpan {
		return IndexMetricTimeRecent
	}
	if d.Tenant() != "" {
		return IndexTenantTime
	}
	return IndexMetricTime
}

// RollupAggregation reports whether a has a precomputed rollup column.
func RollupAggregation(a models.Aggregation) bool {
	switch a {
	case models.AggregationSum, models.AggregationAvg, models.AggregationCount,
		models.AggregationP95, models.AggregationP99:
		return true
	}
	return false
}

// rollupEligible requires span, aggregation and filters to all be servable from rollups.
func (o *Optimizer) rollupEligible(d models.QueryDescriptor) bool {
	if d.TimeRange.Span() <= o.opts.RollupMinSpan || !RollupAggregation(d.Aggregation) {
		return false
	}
	for _, f := range d.Filters {
		if _, ok := rollupFilterFields[f.Field]; !ok {
			return false
		}
	}
	return true
}

// CacheTTL returns the tiered TTL for span, or false when the span is too short to cache.
func (o *Optimizer) CacheTTL(span time.Duration) (time.Duration, bool) {
	if !o.cache.Enabled || span <= o.cache.MinCacheableSpan {
		return 0, false
	}
	switch {
	case span > o.cache.LongTTLSpan:
		return o.cache.LongTTL, true
	case span > o.cache.MediumTTLSpan:
		return o.cache.MediumTTL, true
	default:
		return o.cache.ShortTTL, true
	}
}

type keyFilter struct {
	Field    string          `json:"f"`
	Operator models.Operator `json:"o"`
	Value    json.RawMessage `json:"v"`
}

type keyPayload struct {
	Kind        string      `json:"k"`
	Metric      string      `json:"m"`
	Aggregation string      `json:"a"`
	Start       int64       `json:"s"`
	End         int64       `json:"e"`
	Granularity string      `json:"g"`
	Tenant      string      `json:"t"`
	Rollup      bool        `json:"r"`
	Filters     []keyFilter `json:"fl"`
	GroupBy     []string    `json:"gb"`
}

// CacheKey derives a deterministic key from the normalised query. Filter and
// group-by order do not affect the key.
func CacheKey(kind string, q models.OptimizedQuery) string {
	payload := keyPayload{
		Kind:        kind,
		Metric:      q.Metric,
		Aggregation: string(q.Aggregation),
		Start:       q.TimeRange.Start.UTC().UnixNano(),
		End:         q.TimeRange.End.UTC().UnixNano(),
		Granularity: string(q.Granularity),
		Tenant:      q.TenantID,
		Rollup:      q.UsesRollup,
	}
	for _, f := range q.Filters {
		raw, err := json.Marshal(f.Value)
		if err != nil {
			raw = []byte(fmt.Sprintf("%q", fmt.Sprint(f.Value)))
		}
		payload.Filters = append(payload.Filters, keyFilter{Field: f.Field, Operator: f.Operator, Value: raw})
	}
	sort.Slice(payload.Filters, func(i, j int) bool {
		a, b := payload.Filters[i], payload.Filters[j]
		if a.Field != b.Field {
			return a.Field < b.Field
		}
		if a.Operator != b.Operator {
			return a.Operator < b.Operator
		}
		return string(a.Value) < string(b.Value)
	})
	payload.GroupBy = append(payload.GroupBy, q.GroupBy...)
	sort.Strings(payload.GroupBy)

	data, _ := json.Marshal(payload)
	sum := md5.Sum(data)
	return fmt.Sprintf("analytics:%s:%s", kind, hex.EncodeToString(sum[:]))
}
