package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/miradorstack/mirador-analytics/internal/models"
	"github.com/miradorstack/mirador-analytics/internal/utils"
)

type queryRunnerStub struct {
	lastDescriptor models.QueryDescriptor
	err            error
}

func (q *queryRunnerStub) TimeSeries(_ context.Context, d models.QueryDescriptor) (models.TimeSeriesResult, error) {
	q.lastDescriptor = d
	if q.err != nil {
		return models.TimeSeriesResult{}, q.err
	}
	return models.TimeSeriesResult{Name: d.Metric}, nil
}

func (q *queryRunnerStub) Aggregation(_ context.Context, d models.QueryDescriptor) ([]models.AggregationResult, error) {
	q.lastDescriptor = d
	if q.err != nil {
		return nil, q.err
	}
	return []models.AggregationResult{{Metric: d.Metric, AggregationType: d.Aggregation}}, nil
}

type alertSourceStub struct {
	healthCalls int
}

func (a *alertSourceStub) Health(_ context.Context, alertID string) (models.AlertHealthReport, error) {
	a.healthCalls++
	return models.AlertHealthReport{AlertID: alertID, HealthScore: 100, OverallHealth: models.HealthExcellent}, nil
}

func (a *alertSourceStub) Trends(_ context.Context, alertID string, _ models.TimeRange, g models.TrendGranularity) (models.AlertTrends, error) {
	return models.AlertTrends{AlertID: alertID, Granularity: g}, nil
}

func (a *alertSourceStub) SystemStats(_ context.Context, r models.TimeRange) (models.AlertStatsRollup, error) {
	return models.AlertStatsRollup{TimeRange: r}, nil
}

func (a *alertSourceStub) UserStats(_ context.Context, userID string, r models.TimeRange) (models.AlertStatsRollup, error) {
	return models.AlertStatsRollup{UserID: userID, TimeRange: r}, nil
}

func TestQueryTimeSeriesBuildsDescriptor(t *testing.T) {
	runner := &queryRunnerStub{}
	service := NewAnalyticsService(nil, runner, nil, nil, nil)
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	window := models.TimeRange{Start: start, End: start.Add(time.Hour)}
	tenant := models.FilterCondition{Field: "tenant_id", Operator: models.OperatorEq, Value: "t1"}

	res, err := service.QueryTimeSeries(context.Background(), "cpu", window, models.Granularity5m, tenant)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Name != "cpu" {
		t.Fatalf("unexpected result %+v", res)
	}
	d := runner.lastDescriptor
	if d.Metric != "cpu" || d.Granularity != models.Granularity5m || len(d.Filters) != 1 || d.Tenant() != "t1" {
		t.Fatalf("unexpected descriptor %+v", d)
	}
}

func TestQueryAggregationDefaultsWindow(t *testing.T) {
	runner := &queryRunnerStub{}
	service := NewAnalyticsService(nil, runner, nil, nil, nil)

	res, err := service.QueryAggregation(context.Background(), "requests", models.AggregationP95, []string{"workspace_id"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res) != 1 || res[0].AggregationType != models.AggregationP95 {
		t.Fatalf("unexpected result %+v", res)
	}
	if !runner.lastDescriptor.TimeRange.IsZero() {
		t.Fatalf("window defaulting belongs to the pipeline, got %+v", runner.lastDescriptor.TimeRange)
	}
}

func TestServicePropagatesTypedErrors(t *testing.T) {
	runner := &queryRunnerStub{err: utils.InvalidField("sanitize", "password")}
	service := NewAnalyticsService(nil, runner, nil, nil, nil)

	_, err := service.QueryTimeSeries(context.Background(), "cpu", models.TimeRange{}, "")
	if !errors.Is(err, utils.ErrInvalidField) {
		t.Fatalf("expected invalid field to pass through, got %v", err)
	}
}

func TestServiceNotConfigured(t *testing.T) {
	service := NewAnalyticsService(nil, nil, nil, nil, nil)
	if _, err := service.QueryRealtimeMetrics(context.Background(), []string{"cpu"}); err == nil {
		t.Fatalf("expected error when realtime source missing")
	}
	if _, err := service.DetectAnomalies(context.Background(), models.TimeRange{}, ""); err == nil {
		t.Fatalf("expected error when anomaly source missing")
	}
	if _, err := service.GetAlertHealth(context.Background(), "a"); err == nil {
		t.Fatalf("expected error when alert source missing")
	}
}

func TestServiceTracksLatency(t *testing.T) {
	alerts := &alertSourceStub{}
	service := NewAnalyticsService(nil, nil, nil, nil, alerts)
	for i := 0; i < 25; i++ {
		if _, err := service.GetAlertHealth(context.Background(), "alert-1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if alerts.healthCalls != 25 {
		t.Fatalf("expected 25 calls, got %d", alerts.healthCalls)
	}
	if service.latencies.Count(OpAlertHealth) != 25 {
		t.Fatalf("expected 25 latency samples, got %d", service.latencies.Count(OpAlertHealth))
	}
	if service.LatencyP95(OpQueryTimeSeries) != 0 {
		t.Fatalf("untouched operations should report zero latency")
	}
}

func TestAlertRollupsDelegate(t *testing.T) {
	alerts := &alertSourceStub{}
	service := NewAnalyticsService(nil, nil, nil, nil, alerts)
	window := models.TimeRange{Start: time.Unix(0, 0), End: time.Unix(3600, 0)}

	trends, err := service.GetAlertTrends(context.Background(), "alert-1", window, models.TrendWeek)
	if err != nil || trends.Granularity != models.TrendWeek {
		t.Fatalf("unexpected trends %+v (%v)", trends, err)
	}
	system, err := service.GetSystemAlertStats(context.Background(), window)
	if err != nil || system.UserID != "" {
		t.Fatalf("unexpected system stats %+v (%v)", system, err)
	}
	user, err := service.GetUserAlertStats(context.Background(), "u1", window)
	if err != nil || user.UserID != "u1" {
		t.Fatalf("unexpected user stats %+v (%v)", user, err)
	}
}
