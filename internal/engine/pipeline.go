package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-analytics/internal/cache"
	"github.com/miradorstack/mirador-analytics/internal/metrics"
	"github.com/miradorstack/mirador-analytics/internal/models"
	"github.com/miradorstack/mirador-analytics/internal/query"
)

// Pipeline runs descriptor queries: sanitize, optimize, consult the cache, build, execute.
type Pipeline struct {
	logger    *slog.Logger
	optimizer *query.Optimizer
	builder   *query.Builder
	executor  *query.Executor
	cache     cache.Provider
	now       func() time.Time
}

// NewPipeline constructs a query pipeline. A nil cache disables caching.
func NewPipeline(logger *slog.Logger, optimizer *query.Optimizer, builder *query.Builder, executor *query.Executor, provider cache.Provider) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if builder == nil {
		builder = query.NewBuilder()
	}
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	return &Pipeline{
		logger:    logger,
		optimizer: optimizer,
		builder:   builder,
		executor:  executor,
		cache:     provider,
		now:       time.Now,
	}
}

// TimeSeries returns the bucketed series for d. Points are strictly ascending.
func (p *Pipeline) TimeSeries(ctx context.Context, d models.QueryDescriptor) (models.TimeSeriesResult, error) {
	if err := sanitizeDescriptor(d); err != nil {
		return models.TimeSeriesResult{}, err
	}
	q, err := p.optimizer.Optimize(d)
	if err != nil {
		return models.TimeSeriesResult{}, err
	}

	var result models.TimeSeriesResult
	if p.lookup(ctx, q, &result) {
		return result, nil
	}

	stmt, err := p.builder.TimeSeries(q)
	if err != nil {
		return models.TimeSeriesResult{}, err
	}
	p.logger.Debug("executing time series",
		slog.String("metric", q.Metric),
		slog.Bool("rollup", q.UsesRollup),
		slog.String("index", q.IndexHint),
		slog.Int64("estimated_rows", q.EstimatedRows),
	)
	result, err = p.executor.TimeSeries(ctx, q, stmt)
	if err != nil {
		return models.TimeSeriesResult{}, err
	}

	p.store(ctx, q, result)
	return result, nil
}

// Aggregation returns one value, or one value per group-by tuple. Without a time
// range the last hour is used and the result is not cached.
func (p *Pipeline) Aggregation(ctx context.Context, d models.QueryDescriptor) ([]models.AggregationResult, error) {
	if err := sanitizeDescriptor(d); err != nil {
		return nil, err
	}
	defaulted := d.TimeRange.IsZero()
	if defaulted {
		end := p.now().UTC()
		d.TimeRange = models.TimeRange{Start: end.Add(-time.Hour), End: end}
	}
	q, err := p.optimizer.OptimizeAggregation(d)
	if err != nil {
		return nil, err
	}
	if defaulted {
		q.ShouldCache = false
	}

	var result []models.AggregationResult
	if p.lookup(ctx, q, &result) {
		return result, nil
	}

	stmt, err := p.builder.Aggregation(q)
	if err != nil {
		return nil, err
	}
	result, err = p.executor.Aggregation(ctx, q, stmt)
	if err != nil {
		return nil, err
	}

	p.store(ctx, q, result)
	return result, nil
}

func sanitizeDescriptor(d models.QueryDescriptor) error {
	for _, f := range d.Filters {
		if _, err := query.SanitizeField(f.Field); err != nil {
			return err
		}
	}
	for _, field := range d.GroupBy {
		if _, err := query.SanitizeField(field); err != nil {
			return err
		}
	}
	return nil
}

// lookup decodes a cached value into out. Cache errors are logged and read as a miss.
func (p *Pipeline) lookup(ctx context.Context, q models.OptimizedQuery, out any) bool {
	if !q.ShouldCache {
		return false
	}
	data, err := p.cache.Get(ctx, q.CacheKey)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			p.logger.Warn("cache get failed", slog.String("key", q.CacheKey), slog.Any("error", err))
		}
		metrics.ObserveCacheLookup(false)
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		p.logger.Warn("cache entry undecodable", slog.String("key", q.CacheKey), slog.Any("error", err))
		metrics.ObserveCacheLookup(false)
		return false
	}
	metrics.ObserveCacheLookup(true)
	p.logger.Debug("cache hit", slog.String("key", q.CacheKey))
	return true
}

func (p *Pipeline) store(ctx context.Context, q models.OptimizedQuery, value any) {
	if !q.ShouldCache {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		p.logger.Warn("cache encode failed", slog.String("key", q.CacheKey), slog.Any("error", err))
		return
	}
	ttl := time.Duration(q.CacheTTLSeconds) * time.Second
	if err := p.cache.Set(ctx, q.CacheKey, data, ttl); err != nil {
		p.logger.Warn("cache set failed", slog.String("key", q.CacheKey), slog.Any("error", err))
	}
}
