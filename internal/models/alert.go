package models

import "time"

// RecommendationType groups recommendations by concern.
type RecommendationType string

const (
	RecommendationPerformance RecommendationType = "performance"
	RecommendationReliability RecommendationType = "reliability"
	RecommendationCost        RecommendationType = "cost"
	RecommendationEngagement  RecommendationType = "engagement"
)

// Priority orders recommendations.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Recommendation is a remediation hint attached to a health report.
type Recommendation struct {
	Type           RecommendationType `json:"type" yaml:"type"`
	Priority       Priority           `json:"priority" yaml:"priority"`
	Title          string             `json:"title" yaml:"title"`
	Description    string             `json:"description" yaml:"description"`
	Impact         string             `json:"impact" yaml:"impact"`
	ActionRequired bool               `json:"action_required" yaml:"actionRequired"`
}

// OverallHealth buckets a health score.
type OverallHealth string

const (
	HealthExcellent OverallHealth = "excellent"
	HealthGood      OverallHealth = "good"
	HealthFair      OverallHealth = "fair"
	HealthPoor      OverallHealth = "poor"
)

// AlertStats are execution and notification counters for one window.
type AlertStats struct {
	TotalExecutions         int64   `json:"total_executions"`
	SuccessfulExecutions    int64   `json:"successful_executions"`
	FailedExecutions        int64   `json:"failed_executions"`
	AvgExecutionTimeMs      float64 `json:"avg_execution_time_ms"`
	TotalNotifications      int64   `json:"total_notifications"`
	SuccessfulNotifications int64   `json:"successful_notifications"`
	RetriedNotifications    int64   `json:"retried_notifications"`
}

// FailureRate is failed/total executions in percent.
func (s AlertStats) FailureRate() float64 {
	return percent(s.FailedExecutions, s.TotalExecutions)
}

// SuccessRate is successful/total executions in percent.
func (s AlertStats) SuccessRate() float64 {
	return percent(s.SuccessfulExecutions, s.TotalExecutions)
}

// DeliveryRate is successful/total notifications in percent; 100 when nothing was sent.
func (s AlertStats) DeliveryRate() float64 {
	if s.TotalNotifications == 0 {
		return 100
	}
	return percent(s.SuccessfulNotifications, s.TotalNotifications)
}

// RetryRate is retried/total notifications in percent.
func (s AlertStats) RetryRate() float64 {
	return percent(s.RetriedNotifications, s.TotalNotifications)
}

func percent(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

// AlertHealthReport is the scored health of one alert definition.
type AlertHealthReport struct {
	AlertID         string           `json:"alert_id"`
	Stats           AlertStats       `json:"stats"`
	Recommendations []Recommendation `json:"recommendations"`
	OverallHealth   OverallHealth    `json:"overall_health"`
	HealthScore     int              `json:"health_score"`
	GeneratedAt     time.Time        `json:"generated_at"`
}

// TrendGranularity is the period width of alert trend series.
type TrendGranularity string

const (
	TrendHour  TrendGranularity = "hour"
	TrendDay   TrendGranularity = "day"
	TrendWeek  TrendGranularity = "week"
	TrendMonth TrendGranularity = "month"
)

// Valid reports whether g is a supported trend period.
func (g TrendGranularity) Valid() bool {
	switch g {
	case TrendHour, TrendDay, TrendWeek, TrendMonth:
		return true
	}
	return false
}

// ExecutionTrendPoint aggregates executions of one period.
type ExecutionTrendPoint struct {
	Period             time.Time `json:"period"`
	Total              int64     `json:"total"`
	Successful         int64     `json:"successful"`
	Failed             int64     `json:"failed"`
	SuccessRate        float64   `json:"success_rate"`
	AvgExecutionTimeMs float64   `json:"avg_execution_time_ms"`
}

// NotificationTrendPoint aggregates notifications of one period.
type NotificationTrendPoint struct {
	Period       time.Time `json:"period"`
	Total        int64     `json:"total"`
	Delivered    int64     `json:"delivered"`
	Failed       int64     `json:"failed"`
	Retried      int64     `json:"retried"`
	DeliveryRate float64   `json:"delivery_rate"`
}

// AlertTrends are per-period series for one alert.
type AlertTrends struct {
	AlertID            string                   `json:"alert_id"`
	Granularity        TrendGranularity         `json:"granularity"`
	ExecutionTrends    []ExecutionTrendPoint    `json:"execution_trends"`
	NotificationTrends []NotificationTrendPoint `json:"notification_trends"`
}

// ChannelUsage counts notifications per delivery channel.
type ChannelUsage struct {
	Channel string `json:"channel"`
	Count   int64  `json:"count"`
}

// PeriodCount buckets executions and notifications.
type PeriodCount struct {
	Period        time.Time `json:"period"`
	Executions    int64     `json:"executions"`
	Notifications int64     `json:"notifications"`
}

// AlertStatsRollup summarises alert activity system-wide or for one user.
type AlertStatsRollup struct {
	UserID       string         `json:"user_id,omitempty"`
	TimeRange    TimeRange      `json:"time_range"`
	TotalAlerts  int64          `json:"total_alerts"`
	ActiveAlerts int64          `json:"active_alerts"`
	Stats        AlertStats     `json:"stats"`
	ChannelUsage []ChannelUsage `json:"channel_usage"`
	Daily        []PeriodCount  `json:"daily"`
	Monthly      []PeriodCount  `json:"monthly"`
}
