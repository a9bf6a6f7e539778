package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/miradorstack/mirador-analytics/internal/models"
	"github.com/miradorstack/mirador-analytics/internal/repo"
	"github.com/miradorstack/mirador-analytics/internal/utils"
)

// Alert statement kinds.
const (
	KindExecutionStats    = "alert_execution_stats"
	KindNotificationStats = "alert_notification_stats"
	KindExecutionTrend    = "alert_execution_trend"
	KindNotificationTrend = "alert_notification_trend"
	KindChannelUsage      = "alert_channel_usage"
	KindPeriodCounts      = "alert_period_counts"
	KindAlertCounts       = "alert_counts"
)

const (
	executionsTable    = "alert_executions"
	notificationsTable = "alert_notifications"
	definitionsTable   = "alert_definitions"

	successStatus   = "status = 'success'"
	failedStatus    = "status IN ('failed', 'error', 'timeout')"
	deliveredStatus = "status IN ('sent', 'delivered')"
)

// AlertScope restricts alert statements to one alert, one user's alerts, or everything.
type AlertScope struct {
	AlertID   string
	UserID    string
	TimeRange models.TimeRange
}

func (s AlertScope) where(a *args, timeColumn string) string {
	clauses := []string{
		fmt.Sprintf("%s >= %s", timeColumn, a.add(s.TimeRange.Start.UTC())),
		fmt.Sprintf("%s <= %s", timeColumn, a.add(s.TimeRange.End.UTC())),
	}
	switch {
	case s.AlertID != "":
		clauses = append(clauses, "alert_id = "+a.add(s.AlertID))
	case s.UserID != "":
		clauses = append(clauses, fmt.Sprintf("alert_id IN (SELECT id FROM %s WHERE user_id = %s)", definitionsTable, a.add(s.UserID)))
	}
	return strings.Join(clauses, " AND ")
}

// shared renders the scope once per time column so both halves of a union share placeholders.
func (s AlertScope) shared(timeColumns ...string) (map[string]string, []any) {
	var a args
	start := a.add(s.TimeRange.Start.UTC())
	end := a.add(s.TimeRange.End.UTC())
	var extra string
	switch {
	case s.AlertID != "":
		extra = " AND alert_id = " + a.add(s.AlertID)
	case s.UserID != "":
		extra = fmt.Sprintf(" AND alert_id IN (SELECT id FROM %s WHERE user_id = %s)", definitionsTable, a.add(s.UserID))
	}
	out := make(map[string]string, len(timeColumns))
	for _, col := range timeColumns {
		out[col] = fmt.Sprintf("%s >= %s AND %s <= %s%s", col, start, col, end, extra)
	}
	return out, a.values
}

func periodExpr(g models.TrendGranularity, column string) (string, error) {
	if !g.Valid() {
		return "", utils.InvalidQuery("build", fmt.Sprintf("unsupported trend granularity %q", g))
	}
	return fmt.Sprintf("date_trunc('%s', %s)", g, column), nil
}

// ExecutionStats counts executions and averages their duration. Row: (total, successful, failed, avg_ms).
func (b *Builder) ExecutionStats(scope AlertScope) repo.Statement {
	var a args
	where := scope.where(&a, "executed_at")
	text := fmt.Sprintf(
		"SELECT count(*), count(*) FILTER (WHERE %s), count(*) FILTER (WHERE %s), COALESCE(avg(execution_time_ms), 0)::float8 FROM %s WHERE %s",
		successStatus, failedStatus, executionsTable, where,
	)
	return repo.Statement{Kind: KindExecutionStats, Text: text, Args: a.values}
}

// NotificationStats counts notifications. Row: (total, delivered, retried).
func (b *Builder) NotificationStats(scope AlertScope) repo.Statement {
	var a args
	where := scope.where(&a, "created_at")
	text := fmt.Sprintf(
		"SELECT count(*), count(*) FILTER (WHERE %s), count(*) FILTER (WHERE retry_count > 0) FROM %s WHERE %s",
		deliveredStatus, notificationsTable, where,
	)
	return repo.Statement{Kind: KindNotificationStats, Text: text, Args: a.values}
}

// ExecutionTrend buckets executions per period. Rows: (period, total, successful, failed, avg_ms).
func (b *Builder) ExecutionTrend(scope AlertScope, g models.TrendGranularity) (repo.Statement, error) {
	period, err := periodExpr(g, "executed_at")
	if err != nil {
		return repo.Statement{}, err
	}
	var a args
	where := scope.where(&a, "executed_at")
	text := fmt.Sprintf(
		"SELECT %s AS period, count(*), count(*) FILTER (WHERE %s), count(*) FILTER (WHERE %s), COALESCE(avg(execution_time_ms), 0)::float8 FROM %s WHERE %s GROUP BY period ORDER BY period ASC",
		period, successStatus, failedStatus, executionsTable, where,
	)
	return repo.Statement{Kind: KindExecutionTrend, Text: text, Args: a.values}, nil
}

// NotificationTrend buckets notifications per period. Rows: (period, total, delivered, retried).
func (b *Builder) NotificationTrend(scope AlertScope, g models.TrendGranularity) (repo.Statement, error) {
	period, err := periodExpr(g, "created_at")
	if err != nil {
		return repo.Statement{}, err
	}
	var a args
	where := scope.where(&a, "created_at")
	text := fmt.Sprintf(
		"SELECT %s AS period, count(*), count(*) FILTER (WHERE %s), count(*) FILTER (WHERE retry_count > 0) FROM %s WHERE %s GROUP BY period ORDER BY period ASC",
		period, deliveredStatus, notificationsTable, where,
	)
	return repo.Statement{Kind: KindNotificationTrend, Text: text, Args: a.values}, nil
}

// ChannelUsage counts notifications per channel, busiest first. Rows: (channel, count).
func (b *Builder) ChannelUsage(scope AlertScope) repo.Statement {
	var a args
	where := scope.where(&a, "created_at")
	text := fmt.Sprintf(
		"SELECT channel, count(*) AS sent FROM %s WHERE %s GROUP BY channel ORDER BY sent DESC, channel ASC",
		notificationsTable, where,
	)
	return repo.Statement{Kind: KindChannelUsage, Text: text, Args: a.values}
}

// PeriodCounts merges execution and notification counts per period. Rows: (period, executions, notifications).
func (b *Builder) PeriodCounts(scope AlertScope, g models.TrendGranularity) (repo.Statement, error) {
	execPeriod, err := periodExpr(g, "executed_at")
	if err != nil {
		return repo.Statement{}, err
	}
	notifPeriod, _ := periodExpr(g, "created_at")
	where, values := scope.shared("executed_at", "created_at")
	text := fmt.Sprintf(
		"SELECT period, sum(executions)::bigint, sum(notifications)::bigint FROM ("+
			"SELECT %s AS period, count(*) AS executions, 0 AS notifications FROM %s WHERE %s GROUP BY 1 "+
			"UNION ALL "+
			"SELECT %s AS period, 0 AS executions, count(*) AS notifications FROM %s WHERE %s GROUP BY 1"+
			") counts GROUP BY period ORDER BY period ASC",
		execPeriod, executionsTable, where["executed_at"],
		notifPeriod, notificationsTable, where["created_at"],
	)
	return repo.Statement{Kind: KindPeriodCounts, Text: text, Args: values}, nil
}

// AlertCounts counts alert definitions, optionally for one user. Row: (total, active).
func (b *Builder) AlertCounts(userID string) repo.Statement {
	var a args
	text := fmt.Sprintf("SELECT count(*), count(*) FILTER (WHERE is_active) FROM %s", definitionsTable)
	if userID != "" {
		text += " WHERE user_id = " + a.add(userID)
	}
	return repo.Statement{Kind: KindAlertCounts, Text: text, Args: a.values}
}

// ExecutionStats maps the execution statistics row into stats.
func (e *Executor) ExecutionStats(ctx context.Context, stmt repo.Statement, stats *models.AlertStats) error {
	const op = "execute_execution_stats"
	vals, err := e.single(ctx, op, stmt, 4)
	if err != nil {
		return err
	}
	stats.TotalExecutions = int64(vals[0])
	stats.SuccessfulExecutions = int64(vals[1])
	stats.FailedExecutions = int64(vals[2])
	stats.AvgExecutionTimeMs = vals[3]
	return nil
}

// NotificationStats maps the notification statistics row into stats.
func (e *Executor) NotificationStats(ctx context.Context, stmt repo.Statement, stats *models.AlertStats) error {
	const op = "execute_notification_stats"
	vals, err := e.single(ctx, op, stmt, 3)
	if err != nil {
		return err
	}
	stats.TotalNotifications = int64(vals[0])
	stats.SuccessfulNotifications = int64(vals[1])
	stats.RetriedNotifications = int64(vals[2])
	return nil
}

// AlertCounts returns (total, active) alert definitions.
func (e *Executor) AlertCounts(ctx context.Context, stmt repo.Statement) (int64, int64, error) {
	vals, err := e.single(ctx, "execute_alert_counts", stmt, 2)
	if err != nil {
		return 0, 0, err
	}
	return int64(vals[0]), int64(vals[1]), nil
}

// single reads the first row as width numeric columns. No row reads as zeros.
func (e *Executor) single(ctx context.Context, op string, stmt repo.Statement, width int) ([]float64, error) {
	rows, err := e.run(ctx, op, stmt)
	if err != nil {
		return nil, err
	}
	vals := make([]float64, width)
	if len(rows) == 0 {
		return vals, nil
	}
	if len(rows[0]) < width {
		return nil, utils.MalformedResult(op, fmt.Sprintf("row has %d columns, want %d", len(rows[0]), width))
	}
	for i := 0; i < width; i++ {
		v, err := toFloat(rows[0][i])
		if err != nil {
			return nil, utils.MalformedResult(op, fmt.Sprintf("column %d: %v", i, err))
		}
		vals[i] = v
	}
	return vals, nil
}

// periodRows maps rows shaped (period, n1..nk) ordered by period.
func (e *Executor) periodRows(ctx context.Context, op string, stmt repo.Statement, width int, fn func(period time.Time, vals []float64)) error {
	rows, err := e.run(ctx, op, stmt)
	if err != nil {
		return err
	}
	for i, row := range rows {
		if len(row) < width+1 {
			return utils.MalformedResult(op, fmt.Sprintf("row %d has %d columns, want %d", i, len(row), width+1))
		}
		ts, err := toTime(row[0])
		if err != nil {
			return utils.MalformedResult(op, fmt.Sprintf("row %d period: %v", i, err))
		}
		vals := make([]float64, width)
		for c := 0; c < width; c++ {
			v, err := toFloat(row[c+1])
			if err != nil {
				return utils.MalformedResult(op, fmt.Sprintf("row %d column %d: %v", i, c+1, err))
			}
			vals[c] = v
		}
		fn(ts, vals)
	}
	return nil
}

// ExecutionTrend maps execution trend rows.
func (e *Executor) ExecutionTrend(ctx context.Context, stmt repo.Statement) ([]models.ExecutionTrendPoint, error) {
	out := make([]models.ExecutionTrendPoint, 0)
	err := e.periodRows(ctx, "execute_execution_trend", stmt, 4, func(p time.Time, v []float64) {
		total, ok := int64(v[0]), int64(v[1])
		out = append(out, models.ExecutionTrendPoint{
			Period:             p,
			Total:              total,
			Successful:         ok,
			Failed:             int64(v[2]),
			SuccessRate:        utils.Round2(rate(ok, total)),
			AvgExecutionTimeMs: utils.Round2(v[3]),
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// NotificationTrend maps notification trend rows.
func (e *Executor) NotificationTrend(ctx context.Context, stmt repo.Statement) ([]models.NotificationTrendPoint, error) {
	out := make([]models.NotificationTrendPoint, 0)
	err := e.periodRows(ctx, "execute_notification_trend", stmt, 3, func(p time.Time, v []float64) {
		total, delivered := int64(v[0]), int64(v[1])
		out = append(out, models.NotificationTrendPoint{
			Period:       p,
			Total:        total,
			Delivered:    delivered,
			Failed:       total - delivered,
			Retried:      int64(v[2]),
			DeliveryRate: utils.Round2(rate(delivered, total)),
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PeriodCounts maps merged period count rows.
func (e *Executor) PeriodCounts(ctx context.Context, stmt repo.Statement) ([]models.PeriodCount, error) {
	out := make([]models.PeriodCount, 0)
	err := e.periodRows(ctx, "execute_period_counts", stmt, 2, func(p time.Time, v []float64) {
		out = append(out, models.PeriodCount{Period: p, Executions: int64(v[0]), Notifications: int64(v[1])})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ChannelUsage maps channel usage rows.
func (e *Executor) ChannelUsage(ctx context.Context, stmt repo.Statement) ([]models.ChannelUsage, error) {
	const op = "execute_channel_usage"
	rows, err := e.run(ctx, op, stmt)
	if err != nil {
		return nil, err
	}
	out := make([]models.ChannelUsage, 0, len(rows))
	for i, row := range rows {
		if len(row) < 2 {
			return nil, utils.MalformedResult(op, fmt.Sprintf("row %d has %d columns, want 2", i, len(row)))
		}
		n, err := toFloat(row[1])
		if err != nil {
			return nil, utils.MalformedResult(op, fmt.Sprintf("row %d count: %v", i, err))
		}
		channel := "unknown"
		if row[0] != nil {
			channel = fmt.Sprint(row[0])
		}
		out = append(out, models.ChannelUsage{Channel: channel, Count: int64(n)})
	}
	return out, nil
}

func rate(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}
