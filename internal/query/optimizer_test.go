package query

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-analytics/internal/config"
	"github.com/miradorstack/mirador-analytics/internal/models"
	"github.com/miradorstack/mirador-analytics/internal/utils"
)

var base = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func newTestOptimizer() *Optimizer {
	cfg := config.Default()
	return NewOptimizer(cfg.Optimizer, cfg.Cache)
}

func descriptor(span time.Duration, agg models.Aggregation) models.QueryDescriptor {
	return models.QueryDescriptor{
		Metric:      "system.cpu",
		Aggregation: agg,
		TimeRange:   models.TimeRange{Start: base, End: base.Add(span)},
	}
}

func TestCacheTiering(t *testing.T) {
	o := newTestOptimizer()
	cases := []struct {
		span        time.Duration
		shouldCache bool
		ttl         int
	}{
		{10 * time.Minute, false, 0},
		{15 * time.Minute, false, 0},
		{2 * time.Hour, true, 60},
		{4 * time.Hour, true, 60},
		{10 * time.Hour, true, 300},
		{24 * time.Hour, true, 300},
		{48 * time.Hour, true, 600},
	}
	for _, tc := range cases {
		q, err := o.Optimize(descriptor(tc.span, models.AggregationAvg))
		require.NoError(t, err)
		assert.Equal(t, tc.shouldCache, q.ShouldCache, "span %s", tc.span)
		assert.Equal(t, tc.ttl, q.CacheTTLSeconds, "span %s", tc.span)
	}
}

func TestCacheDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Cache.Enabled = false
	o := NewOptimizer(cfg.Optimizer, cfg.Cache)
	q, err := o.Optimize(descriptor(48*time.Hour, models.AggregationAvg))
	require.NoError(t, err)
	assert.False(t, q.ShouldCache)
}

func TestRollupSelection(t *testing.T) {
	o := newTestOptimizer()
	for _, agg := range []models.Aggregation{
		models.AggregationSum, models.AggregationAvg, models.AggregationCount,
		models.AggregationP95, models.AggregationP99,
	} {
		q, err := o.Optimize(descriptor(5*time.Hour, agg))
		require.NoError(t, err)
		assert.True(t, q.UsesRollup, "%s over 5h should use rollup", agg)

		q, err = o.Optimize(descriptor(4*time.Hour, agg))
		require.NoError(t, err)
		assert.False(t, q.UsesRollup, "%s over exactly 4h should scan raw", agg)
	}

	for _, agg := range []models.Aggregation{models.AggregationMin, models.AggregationMax, models.AggregationP50} {
		for _, span := range []time.Duration{time.Hour, 5 * time.Hour, 30 * 24 * time.Hour} {
			q, err := o.Optimize(descriptor(span, agg))
			require.NoError(t, err)
			assert.False(t, q.UsesRollup, "%s over %s must not use rollup", agg, span)
		}
	}
}

func TestRollupSkippedForRawOnlyFilters(t *testing.T) {
	o := newTestOptimizer()
	d := descriptor(48*time.Hour, models.AggregationSum)
	d.Filters = []models.FilterCondition{{Field: "workspace_id", Operator: models.OperatorEq, Value: "w1"}}
	q, err := o.Optimize(d)
	require.NoError(t, err)
	assert.True(t, q.UsesRollup)

	d.Filters = append(d.Filters, models.FilterCondition{Field: "dimensions->>'host'", Operator: models.OperatorEq, Value: "a"})
	q, err = o.Optimize(d)
	require.NoError(t, err)
	assert.False(t, q.UsesRollup)
}

func TestIndexHint(t *testing.T) {
	o := newTestOptimizer()

	q, err := o.Optimize(descriptor(30*time.Minute, models.AggregationAvg))
	require.NoError(t, err)
	assert.Equal(t, IndexMetricTimeRecent, q.IndexHint)

	d := descriptor(2*time.Hour, models.AggregationAvg)
	q, err = o.Optimize(d)
	require.NoError(t, err)
	assert.Equal(t, IndexMetricTime, q.IndexHint)

	d.TenantID = "t1"
	q, err = o.Optimize(d)
	require.NoError(t, err)
	assert.Equal(t, IndexTenantTime, q.IndexHint)

	d.TenantID = ""
	d.Filters = []models.FilterCondition{{Field: "tenant_id", Operator: models.OperatorEq, Value: "t2"}}
	q, err = o.Optimize(d)
	require.NoError(t, err)
	assert.Equal(t, IndexTenantTime, q.IndexHint)
}

func TestEstimateRows(t *testing.T) {
	o := newTestOptimizer()
	assert.Equal(t, int64(7200), o.EstimateRows("system.cpu", 2*time.Hour))
	assert.Equal(t, int64(360), o.EstimateRows("app_latency", 30*time.Minute))
	assert.Equal(t, int64(60), o.EstimateRows("business.revenue", time.Hour))
	assert.Equal(t, int64(540), o.EstimateRows("custom", 90*time.Minute))
	assert.Equal(t, int64(0), o.EstimateRows("custom", 0))
}

func TestDefaults(t *testing.T) {
	o := newTestOptimizer()
	d := descriptor(3*time.Hour, "")
	q, err := o.Optimize(d)
	require.NoError(t, err)
	assert.Equal(t, models.AggregationAvg, q.Aggregation)
	assert.Equal(t, models.Granularity5m, q.Granularity)

	assert.Equal(t, models.Granularity1m, DefaultGranularity(time.Hour))
	assert.Equal(t, models.Granularity5m, DefaultGranularity(6*time.Hour))
	assert.Equal(t, models.Granularity1h, DefaultGranularity(7*24*time.Hour))
	assert.Equal(t, models.Granularity1d, DefaultGranularity(8*24*time.Hour))
}

func TestValidateRejectsBadDescriptors(t *testing.T) {
	o := newTestOptimizer()
	bad := []models.QueryDescriptor{
		{Aggregation: models.AggregationAvg, TimeRange: models.TimeRange{Start: base, End: base.Add(time.Hour)}},
		{Metric: "m", Aggregation: "median", TimeRange: models.TimeRange{Start: base, End: base.Add(time.Hour)}},
		{Metric: "m", Granularity: "2m", TimeRange: models.TimeRange{Start: base, End: base.Add(time.Hour)}},
		{Metric: "m", TimeRange: models.TimeRange{Start: base, End: base}},
		{Metric: "m", TimeRange: models.TimeRange{Start: base, End: base.Add(time.Hour)},
			Filters: []models.FilterCondition{{Field: "tenant_id", Operator: "like", Value: "x"}}},
	}
	for i, d := range bad {
		_, err := o.Optimize(d)
		require.Error(t, err, "case %d", i)
		assert.True(t, errors.Is(err, utils.ErrInvalidQuery), "case %d: %v", i, err)
	}

	_, err := o.OptimizeAggregation(descriptor(time.Hour, ""))
	assert.ErrorIs(t, err, utils.ErrInvalidQuery)
}

func TestCacheKeyDeterministic(t *testing.T) {
	o := newTestOptimizer()
	d1 := descriptor(2*time.Hour, models.AggregationAvg)
	d1.Filters = []models.FilterCondition{
		{Field: "tenant_id", Operator: models.OperatorEq, Value: "t1"},
		{Field: "dimensions->>'region'", Operator: models.OperatorIn, Value: []any{"eu", "us"}},
	}
	d2 := d1
	d2.Filters = []models.FilterCondition{d1.Filters[1], d1.Filters[0]}

	q1, err := o.Optimize(d1)
	require.NoError(t, err)
	q2, err := o.Optimize(d2)
	require.NoError(t, err)
	assert.Equal(t, q1.CacheKey, q2.CacheKey)
	assert.Regexp(t, `^analytics:ts:[0-9a-f]{32}$`, q1.CacheKey)

	d3 := d1
	d3.Metric = "system.mem"
	q3, err := o.Optimize(d3)
	require.NoError(t, err)
	assert.NotEqual(t, q1.CacheKey, q3.CacheKey)

	agg, err := o.OptimizeAggregation(d1)
	require.NoError(t, err)
	assert.NotEqual(t, q1.CacheKey, agg.CacheKey)
	assert.False(t, agg.UsesRollup)
}
