package engine

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-analytics/internal/models"
	"github.com/miradorstack/mirador-analytics/internal/query"
	"github.com/miradorstack/mirador-analytics/internal/utils"
)

// AlertAnalytics derives health reports, trends and rollups from alert history.
type AlertAnalytics struct {
	logger   *slog.Logger
	builder  *query.Builder
	executor *query.Executor
	rules    *RuleEngine
	window   time.Duration
	now      func() time.Time
}

// NewAlertAnalytics constructs the alert analytics engine. window is the health lookback.
func NewAlertAnalytics(logger *slog.Logger, builder *query.Builder, executor *query.Executor, rules *RuleEngine, window time.Duration) *AlertAnalytics {
	if logger == nil {
		logger = slog.Default()
	}
	if builder == nil {
		builder = query.NewBuilder()
	}
	if rules == nil {
		rules = &RuleEngine{rules: DefaultRules(), logger: logger}
	}
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}
	return &AlertAnalytics{
		logger:   logger,
		builder:  builder,
		executor: executor,
		rules:    rules,
		window:   window,
		now:      time.Now,
	}
}

// Health scores one alert over the trailing window. Execution statistics are required;
// notification statistics are best effort.
func (a *AlertAnalytics) Health(ctx context.Context, alertID string) (models.AlertHealthReport, error) {
	const op = "alert_health"
	if strings.TrimSpace(alertID) == "" {
		return models.AlertHealthReport{}, utils.InvalidQuery(op, "alert id is required")
	}

	end := a.now().UTC()
	scope := query.AlertScope{AlertID: alertID, TimeRange: models.TimeRange{Start: end.Add(-a.window), End: end}}

	var stats models.AlertStats
	if err := a.executor.ExecutionStats(ctx, a.builder.ExecutionStats(scope), &stats); err != nil {
		return models.AlertHealthReport{}, err
	}
	if err := a.executor.NotificationStats(ctx, a.builder.NotificationStats(scope), &stats); err != nil {
		a.logger.Warn("notification stats unavailable", slog.String("alert_id", alertID), slog.Any("error", err))
		stats.TotalNotifications, stats.SuccessfulNotifications, stats.RetriedNotifications = 0, 0, 0
	}
	stats.AvgExecutionTimeMs = utils.Round2(stats.AvgExecutionTimeMs)

	report := models.AlertHealthReport{
		AlertID:         alertID,
		Stats:           stats,
		Recommendations: []models.Recommendation{},
		OverallHealth:   models.HealthExcellent,
		HealthScore:     100,
		GeneratedAt:     end,
	}
	if stats.TotalExecutions == 0 {
		return report, nil
	}

	report.HealthScore, report.Recommendations = a.rules.Score(stats)
	report.OverallHealth = Band(report.HealthScore)
	return report, nil
}

// Trends returns per-period execution and notification series for one alert.
// Each series degrades to empty on failure.
func (a *AlertAnalytics) Trends(ctx context.Context, alertID string, r models.TimeRange, g models.TrendGranularity) (models.AlertTrends, error) {
	const op = "alert_trends"
	if strings.TrimSpace(alertID) == "" {
		return models.AlertTrends{}, utils.InvalidQuery(op, "alert id is required")
	}
	if !g.Valid() {
		return models.AlertTrends{}, utils.InvalidQuery(op, "granularity must be one of hour, day, week, month")
	}
	if !r.End.After(r.Start) {
		return models.AlertTrends{}, utils.InvalidQuery(op, "time range end must be after start")
	}

	scope := query.AlertScope{AlertID: alertID, TimeRange: r}
	execStmt, err := a.builder.ExecutionTrend(scope, g)
	if err != nil {
		return models.AlertTrends{}, err
	}
	notifStmt, err := a.builder.NotificationTrend(scope, g)
	if err != nil {
		return models.AlertTrends{}, err
	}

	trends := models.AlertTrends{
		AlertID:            alertID,
		Granularity:        g,
		ExecutionTrends:    []models.ExecutionTrendPoint{},
		NotificationTrends: []models.NotificationTrendPoint{},
	}

	var eg errgroup.Group
	eg.Go(func() error {
		points, err := a.executor.ExecutionTrend(ctx, execStmt)
		if err != nil {
			a.logger.Warn("execution trend unavailable", slog.String("alert_id", alertID), slog.Any("error", err))
			return nil
		}
		trends.ExecutionTrends = points
		return nil
	})
	eg.Go(func() error {
		points, err := a.executor.NotificationTrend(ctx, notifStmt)
		if err != nil {
			a.logger.Warn("notification trend unavailable", slog.String("alert_id", alertID), slog.Any("error", err))
			return nil
		}
		trends.NotificationTrends = points
		return nil
	})
	_ = eg.Wait()
	return trends, nil
}

// SystemStats summarises every alert in r.
func (a *AlertAnalytics) SystemStats(ctx context.Context, r models.TimeRange) (models.AlertStatsRollup, error) {
	return a.rollup(ctx, "system_alert_stats", query.AlertScope{TimeRange: r})
}

// UserStats summarises the alerts owned by userID in r.
func (a *AlertAnalytics) UserStats(ctx context.Context, userID string, r models.TimeRange) (models.AlertStatsRollup, error) {
	if strings.TrimSpace(userID) == "" {
		return models.AlertStatsRollup{}, utils.InvalidQuery("user_alert_stats", "user id is required")
	}
	return a.rollup(ctx, "user_alert_stats", query.AlertScope{UserID: userID, TimeRange: r})
}

func (a *AlertAnalytics) rollup(ctx context.Context, op string, scope query.AlertScope) (models.AlertStatsRollup, error) {
	if !scope.TimeRange.End.After(scope.TimeRange.Start) {
		return models.AlertStatsRollup{}, utils.InvalidQuery(op, "time range end must be after start")
	}
	daily, err := a.builder.PeriodCounts(scope, models.TrendDay)
	if err != nil {
		return models.AlertStatsRollup{}, err
	}
	monthly, err := a.builder.PeriodCounts(scope, models.TrendMonth)
	if err != nil {
		return models.AlertStatsRollup{}, err
	}

	out := models.AlertStatsRollup{
		UserID:       scope.UserID,
		TimeRange:    scope.TimeRange,
		ChannelUsage: []models.ChannelUsage{},
		Daily:        []models.PeriodCount{},
		Monthly:      []models.PeriodCount{},
	}
	var execStats, notifStats models.AlertStats

	degrade := func(part string, err error) error {
		a.logger.Warn("alert rollup part unavailable",
			slog.String("op", op),
			slog.String("part", part),
			slog.String("user_id", scope.UserID),
			slog.Any("error", err),
		)
		return nil
	}

	var eg errgroup.Group
	eg.Go(func() error {
		total, active, err := a.executor.AlertCounts(ctx, a.builder.AlertCounts(scope.UserID))
		if err != nil {
			return degrade("alert_counts", err)
		}
		out.TotalAlerts, out.ActiveAlerts = total, active
		return nil
	})
	eg.Go(func() error {
		if err := a.executor.ExecutionStats(ctx, a.builder.ExecutionStats(scope), &execStats); err != nil {
			execStats = models.AlertStats{}
			return degrade("execution_stats", err)
		}
		return nil
	})
	eg.Go(func() error {
		if err := a.executor.NotificationStats(ctx, a.builder.NotificationStats(scope), &notifStats); err != nil {
			notifStats = models.AlertStats{}
			return degrade("notification_stats", err)
		}
		return nil
	})
	eg.Go(func() error {
		usage, err := a.executor.ChannelUsage(ctx, a.builder.ChannelUsage(scope))
		if err != nil {
			return degrade("channel_usage", err)
		}
		out.ChannelUsage = usage
		return nil
	})
	eg.Go(func() error {
		points, err := a.executor.PeriodCounts(ctx, daily)
		if err != nil {
			return degrade("daily", err)
		}
		out.Daily = points
		return nil
	})
	eg.Go(func() error {
		points, err := a.executor.PeriodCounts(ctx, monthly)
		if err != nil {
			return degrade("monthly", err)
		}
		out.Monthly = points
		return nil
	})
	_ = eg.Wait()

	out.Stats = models.AlertStats{
		TotalExecutions:         execStats.TotalExecutions,
		SuccessfulExecutions:    execStats.SuccessfulExecutions,
		FailedExecutions:        execStats.FailedExecutions,
		AvgExecutionTimeMs:      utils.Round2(execStats.AvgExecutionTimeMs),
		TotalNotifications:      notifStats.TotalNotifications,
		SuccessfulNotifications: notifStats.SuccessfulNotifications,
		RetriedNotifications:    notifStats.RetriedNotifications,
	}
	return out, nil
}
