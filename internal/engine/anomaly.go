package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-analytics/internal/extractors"
	"github.com/miradorstack/mirador-analytics/internal/metrics"
	"github.com/miradorstack/mirador-analytics/internal/models"
	"github.com/miradorstack/mirador-analytics/internal/query"
	"github.com/miradorstack/mirador-analytics/internal/utils"
)

// AnomalyDetector reads a window of raw points and scores them with the metric extractor.
// It reads the store directly and never consults the result cache.
type AnomalyDetector struct {
	logger    *slog.Logger
	builder   *query.Builder
	executor  *query.Executor
	extractor *extractors.MetricExtractor
	now       func() time.Time
}

// NewAnomalyDetector constructs a detector.
func NewAnomalyDetector(logger *slog.Logger, builder *query.Builder, executor *query.Executor, extractor *extractors.MetricExtractor) *AnomalyDetector {
	if logger == nil {
		logger = slog.Default()
	}
	if builder == nil {
		builder = query.NewBuilder()
	}
	return &AnomalyDetector{logger: logger, builder: builder, executor: executor, extractor: extractor, now: time.Now}
}

// Detect returns anomalies within r, optionally scoped to a tenant. A failing store
// read is logged and yields an empty list.
func (d *AnomalyDetector) Detect(ctx context.Context, r models.TimeRange, tenantID string) ([]models.Anomaly, error) {
	if !r.End.After(r.Start) {
		return nil, utils.InvalidQuery("detect_anomalies", "time range end must be after start")
	}

	points, err := d.executor.Points(ctx, d.builder.AnomalyWindow(r, tenantID))
	if err != nil {
		d.logger.Warn("anomaly window read failed", slog.String("tenant_id", tenantID), slog.Any("error", err))
		return []models.Anomaly{}, nil
	}

	anomalies := d.extractor.Detect(points)
	if anomalies == nil {
		anomalies = []models.Anomaly{}
	}
	for _, a := range anomalies {
		metrics.ObserveAnomaly(string(a.Severity))
	}
	return anomalies, nil
}

// Run scans the trailing window every interval until ctx is cancelled.
func (d *AnomalyDetector) Run(ctx context.Context, interval, window time.Duration) {
	if interval <= 0 || window <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.scan(ctx, window)
		}
	}
}

func (d *AnomalyDetector) scan(ctx context.Context, window time.Duration) {
	end := d.now().UTC()
	anomalies, err := d.Detect(ctx, models.TimeRange{Start: end.Add(-window), End: end}, "")
	if err != nil {
		d.logger.Warn("anomaly scan failed", slog.Any("error", err))
		return
	}
	if len(anomalies) == 0 {
		d.logger.Debug("anomaly scan clean", slog.Duration("window", window))
		return
	}

	bySeverity := make(map[models.Severity]int)
	for _, a := range anomalies {
		bySeverity[a.Severity]++
	}
	d.logger.Info("anomaly scan",
		slog.Int("total", len(anomalies)),
		slog.Int("high", bySeverity[models.SeverityHigh]),
		slog.Int("medium", bySeverity[models.SeverityMedium]),
		slog.Int("low", bySeverity[models.SeverityLow]),
		slog.String("top_metric", anomalies[0].Metric),
	)
}
