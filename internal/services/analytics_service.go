package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-analytics/internal/metrics"
	"github.com/miradorstack/mirador-analytics/internal/models"
	"github.com/miradorstack/mirador-analytics/internal/utils"
)

// Operation names used for metrics and latency tracking.
const (
	OpQueryTimeSeries      = "query_timeseries"
	OpQueryAggregation     = "query_aggregation"
	OpQueryRealtime        = "query_realtime"
	OpDetectAnomalies      = "detect_anomalies"
	OpAlertHealth          = "alert_health"
	OpAlertTrends          = "alert_trends"
	OpSystemAlertStats     = "system_alert_stats"
	OpUserAlertStats       = "user_alert_stats"
	latencyReportEvery     = 20
	latencyWindowPerOpSize = 1024
)

// QueryRunner executes descriptor queries.
type QueryRunner interface {
	TimeSeries(ctx context.Context, d models.QueryDescriptor) (models.TimeSeriesResult, error)
	Aggregation(ctx context.Context, d models.QueryDescriptor) ([]models.AggregationResult, error)
}

// RealtimeSource resolves latest values and trends.
type RealtimeSource interface {
	Realtime(ctx context.Context, names []string) ([]models.RealtimeMetricValue, error)
}

// AnomalySource detects anomalies over a window.
type AnomalySource interface {
	Detect(ctx context.Context, r models.TimeRange, tenantID string) ([]models.Anomaly, error)
}

// AlertSource derives alert health, trends and rollups.
type AlertSource interface {
	Health(ctx context.Context, alertID string) (models.AlertHealthReport, error)
	Trends(ctx context.Context, alertID string, r models.TimeRange, g models.TrendGranularity) (models.AlertTrends, error)
	SystemStats(ctx context.Context, r models.TimeRange) (models.AlertStatsRollup, error)
	UserStats(ctx context.Context, userID string, r models.TimeRange) (models.AlertStatsRollup, error)
}

// AnalyticsService is the programmatic API of the analytics engine. Errors carry
// utils.AppError kinds so a transport can tell bad input from backend failures.
type AnalyticsService struct {
	logger    *slog.Logger
	queries   QueryRunner
	realtime  RealtimeSource
	anomalies AnomalySource
	alerts    AlertSource
	latencies *utils.LatencyTracker
}

// NewAnalyticsService constructs the analytics service facade.
func NewAnalyticsService(logger *slog.Logger, queries QueryRunner, realtime RealtimeSource, anomalies AnomalySource, alerts AlertSource) *AnalyticsService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalyticsService{
		logger:    logger,
		queries:   queries,
		realtime:  realtime,
		anomalies: anomalies,
		alerts:    alerts,
		latencies: utils.NewLatencyTracker(latencyWindowPerOpSize),
	}
}

// QueryTimeSeries returns the bucketed series of metric. An empty granularity is
// chosen from the span; tenant scope is expressed as an eq filter on tenant_id.
func (s *AnalyticsService) QueryTimeSeries(ctx context.Context, metric string, r models.TimeRange, g models.Granularity, filters ...models.FilterCondition) (models.TimeSeriesResult, error) {
	if s.queries == nil {
		return models.TimeSeriesResult{}, notConfigured(OpQueryTimeSeries)
	}
	start := time.Now()
	res, err := s.queries.TimeSeries(ctx, models.QueryDescriptor{
		Metric:      metric,
		TimeRange:   r,
		Granularity: g,
		Filters:     filters,
	})
	s.observe(OpQueryTimeSeries, start, err)
	return res, err
}

// QueryAggregation reduces metric over the last hour, one value per group-by tuple.
func (s *AnalyticsService) QueryAggregation(ctx context.Context, metric string, agg models.Aggregation, groupBy []string, filters ...models.FilterCondition) ([]models.AggregationResult, error) {
	return s.QueryAggregationInRange(ctx, metric, agg, models.TimeRange{}, groupBy, filters...)
}

// QueryAggregationInRange is QueryAggregation over a caller-supplied window.
func (s *AnalyticsService) QueryAggregationInRange(ctx context.Context, metric string, agg models.Aggregation, r models.TimeRange, groupBy []string, filters ...models.FilterCondition) ([]models.AggregationResult, error) {
	if s.queries == nil {
		return nil, notConfigured(OpQueryAggregation)
	}
	start := time.Now()
	res, err := s.queries.Aggregation(ctx, models.QueryDescriptor{
		Metric:      metric,
		Aggregation: agg,
		TimeRange:   r,
		Filters:     filters,
		GroupBy:     groupBy,
	})
	s.observe(OpQueryAggregation, start, err)
	return res, err
}

// QueryRealtimeMetrics returns the latest value and trend of each named metric.
func (s *AnalyticsService) QueryRealtimeMetrics(ctx context.Context, names []string) ([]models.RealtimeMetricValue, error) {
	if s.realtime == nil {
		return nil, notConfigured(OpQueryRealtime)
	}
	start := time.Now()
	res, err := s.realtime.Realtime(ctx, names)
	s.observe(OpQueryRealtime, start, err)
	return res, err
}

// DetectAnomalies scores every metric in r, optionally for one tenant.
func (s *AnalyticsService) DetectAnomalies(ctx context.Context, r models.TimeRange, tenantID string) ([]models.Anomaly, error) {
	if s.anomalies == nil {
		return nil, notConfigured(OpDetectAnomalies)
	}
	start := time.Now()
	res, err := s.anomalies.Detect(ctx, r, tenantID)
	s.observe(OpDetectAnomalies, start, err)
	return res, err
}

// GetAlertHealth scores one alert over the configured lookback.
func (s *AnalyticsService) GetAlertHealth(ctx context.Context, alertID string) (models.AlertHealthReport, error) {
	if s.alerts == nil {
		return models.AlertHealthReport{}, notConfigured(OpAlertHealth)
	}
	start := time.Now()
	res, err := s.alerts.Health(ctx, alertID)
	s.observe(OpAlertHealth, start, err)
	return res, err
}

// GetAlertTrends returns per-period execution and notification series for one alert.
func (s *AnalyticsService) GetAlertTrends(ctx context.Context, alertID string, r models.TimeRange, g models.TrendGranularity) (models.AlertTrends, error) {
	if s.alerts == nil {
		return models.AlertTrends{}, notConfigured(OpAlertTrends)
	}
	start := time.Now()
	res, err := s.alerts.Trends(ctx, alertID, r, g)
	s.observe(OpAlertTrends, start, err)
	return res, err
}

// GetSystemAlertStats summarises all alert activity in r.
func (s *AnalyticsService) GetSystemAlertStats(ctx context.Context, r models.TimeRange) (models.AlertStatsRollup, error) {
	if s.alerts == nil {
		return models.AlertStatsRollup{}, notConfigured(OpSystemAlertStats)
	}
	start := time.Now()
	res, err := s.alerts.SystemStats(ctx, r)
	s.observe(OpSystemAlertStats, start, err)
	return res, err
}

// GetUserAlertStats summarises the alert activity of one user in r.
func (s *AnalyticsService) GetUserAlertStats(ctx context.Context, userID string, r models.TimeRange) (models.AlertStatsRollup, error) {
	if s.alerts == nil {
		return models.AlertStatsRollup{}, notConfigured(OpUserAlertStats)
	}
	start := time.Now()
	res, err := s.alerts.UserStats(ctx, userID, r)
	s.observe(OpUserAlertStats, start, err)
	return res, err
}

// LatencyP95 returns the current p95 latency of op.
func (s *AnalyticsService) LatencyP95(op string) time.Duration {
	if s.latencies == nil {
		return 0
	}
	return s.latencies.Percentile(op, 95)
}

func (s *AnalyticsService) observe(op string, start time.Time, err error) {
	duration := time.Since(start)
	if err != nil {
		metrics.ObserveQuery(op, duration, metrics.OutcomeError)
		level := slog.LevelError
		if utils.IsBadInput(err) {
			level = slog.LevelWarn
		}
		s.logger.Log(context.Background(), level, "analytics operation failed", slog.String("op", op), slog.Any("error", err))
		return
	}
	metrics.ObserveQuery(op, duration, metrics.OutcomeSuccess)
	if count := s.latencies.Observe(op, duration); count >= latencyReportEvery && count%latencyReportEvery == 0 {
		p95 := s.latencies.Percentile(op, 95)
		s.logger.Info("operation latency", slog.String("op", op), slog.Duration("p95", p95), slog.Int("samples", count))
	}
}

func notConfigured(op string) error {
	return utils.NewAppError(op, "component not configured", nil)
}
