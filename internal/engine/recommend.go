package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-analytics/internal/models"
)

// Statistic names a rule may test.
const (
	StatAvgExecutionTimeMs = "avg_execution_time_ms"
	StatFailureRate        = "failure_rate"
	StatDeliveryRate       = "delivery_rate"
	StatRetryRate          = "retry_rate"
	StatTotalExecutions    = "total_executions"
	StatTotalNotifications = "total_notifications"
)

// RuleEngine scores alert statistics against a table of penalty rules.
type RuleEngine struct {
	rules  []Rule
	logger *slog.Logger
}

// Rule subtracts Penalty from the health score and emits Recommendation when Match holds.
type Rule struct {
	ID             string                `yaml:"id"`
	Match          RuleMatch             `yaml:"match"`
	Penalty        int                   `yaml:"penalty"`
	Recommendation models.Recommendation `yaml:"recommendation"`
}

// RuleMatch compares one statistic against a threshold.
type RuleMatch struct {
	Stat      string  `yaml:"stat"`
	Operator  string  `yaml:"operator"`
	Threshold float64 `yaml:"threshold"`
}

// RuleConfigFile is the YAML root structure.
type RuleConfigFile struct {
	Rules []Rule `yaml:"rules"`
}

// DefaultRules is the built-in penalty table.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:      "slow-execution",
			Match:   RuleMatch{Stat: StatAvgExecutionTimeMs, Operator: "gt", Threshold: 30000},
			Penalty: 20,
			Recommendation: models.Recommendation{
				Type:           models.RecommendationPerformance,
				Priority:       models.PriorityHigh,
				Title:          "Optimize alert query",
				Description:    "Average execution time exceeds 30 seconds. Narrow the query window or add indexes on filtered fields.",
				Impact:         "Faster evaluation and fewer missed evaluation cycles",
				ActionRequired: true,
			},
		},
		{
			ID:      "high-failure-rate",
			Match:   RuleMatch{Stat: StatFailureRate, Operator: "gt", Threshold: 10},
			Penalty: 30,
			Recommendation: models.Recommendation{
				Type:           models.RecommendationReliability,
				Priority:       models.PriorityHigh,
				Title:          "Investigate execution failures",
				Description:    "More than 10% of executions failed. Check the alert query and the data source availability.",
				Impact:         "Alerts fire reliably when conditions are met",
				ActionRequired: true,
			},
		},
		{
			ID:      "low-delivery-rate",
			Match:   RuleMatch{Stat: StatDeliveryRate, Operator: "lt", Threshold: 90},
			Penalty: 15,
			Recommendation: models.Recommendation{
				Type:           models.RecommendationReliability,
				Priority:       models.PriorityMedium,
				Title:          "Check notification channels",
				Description:    "Fewer than 90% of notifications were delivered. Verify channel configuration and credentials.",
				Impact:         "Recipients receive the alerts that fire",
				ActionRequired: true,
			},
		},
		{
			ID:      "high-retry-rate",
			Match:   RuleMatch{Stat: StatRetryRate, Operator: "gt", Threshold: 20},
			Penalty: 10,
			Recommendation: models.Recommendation{
				Type:           models.RecommendationReliability,
				Priority:       models.PriorityMedium,
				Title:          "Review channel reliability",
				Description:    "More than 20% of notifications needed a retry. Consider a backup channel.",
				Impact:         "Lower notification latency",
				ActionRequired: false,
			},
		},
		{
			ID:      "high-frequency",
			Match:   RuleMatch{Stat: StatTotalExecutions, Operator: "gt", Threshold: 1000},
			Penalty: 5,
			Recommendation: models.Recommendation{
				Type:           models.RecommendationCost,
				Priority:       models.PriorityLow,
				Title:          "Review evaluation frequency",
				Description:    "The alert ran more than 1000 times in the window. A longer interval may be sufficient.",
				Impact:         "Reduced query load and cost",
				ActionRequired: false,
			},
		},
		{
			ID:      "engagement-tracking",
			Match:   RuleMatch{Stat: StatTotalNotifications, Operator: "gt", Threshold: 0},
			Penalty: 0,
			Recommendation: models.Recommendation{
				Type:           models.RecommendationEngagement,
				Priority:       models.PriorityLow,
				Title:          "Add engagement tracking",
				Description:    "Track acknowledgements to learn which notifications lead to action.",
				Impact:         "Better insight into alert usefulness",
				ActionRequired: false,
			},
		},
	}
}

// NewRuleEngine loads rules from path. An empty or missing path yields the default table.
func NewRuleEngine(path string, logger *slog.Logger) (*RuleEngine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return &RuleEngine{rules: DefaultRules(), logger: logger}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("health rules file not found, using defaults", slog.String("path", path))
			return &RuleEngine{rules: DefaultRules(), logger: logger}, nil
		}
		return nil, err
	}
	var cfg RuleConfigFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse health rules: %w", err)
	}
	for _, rule := range cfg.Rules {
		if err := rule.validate(); err != nil {
			return nil, err
		}
	}
	return &RuleEngine{rules: cfg.Rules, logger: logger}, nil
}

func (r Rule) validate() error {
	if _, ok := statValue(models.AlertStats{}, r.Match.Stat); !ok {
		return fmt.Errorf("rule %s: unknown stat %q", r.ID, r.Match.Stat)
	}
	if _, ok := compare(0, r.Match.Operator, 0); !ok {
		return fmt.Errorf("rule %s: unknown operator %q", r.ID, r.Match.Operator)
	}
	if r.Penalty < 0 {
		return fmt.Errorf("rule %s: penalty must not be negative", r.ID)
	}
	return nil
}

// Score applies every matching rule to stats and returns the clamped score and recommendations.
func (e *RuleEngine) Score(stats models.AlertStats) (int, []models.Recommendation) {
	score := 100
	recs := make([]models.Recommendation, 0)
	for _, rule := range e.rules {
		value, _ := statValue(stats, rule.Match.Stat)
		if hit, _ := compare(value, rule.Match.Operator, rule.Match.Threshold); !hit {
			continue
		}
		score -= rule.Penalty
		recs = append(recs, rule.Recommendation)
		e.logger.Debug("health rule matched", slog.String("rule", rule.ID), slog.Float64("value", value))
	}
	return clampScore(score), recs
}

// Band maps a health score to an overall rating.
func Band(score int) models.OverallHealth {
	switch {
	case score >= 90:
		return models.HealthExcellent
	case score >= 70:
		return models.HealthGood
	case score >= 50:
		return models.HealthFair
	default:
		return models.HealthPoor
	}
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func statValue(stats models.AlertStats, stat string) (float64, bool) {
	switch stat {
	case StatAvgExecutionTimeMs:
		return stats.AvgExecutionTimeMs, true
	case StatFailureRate:
		return stats.FailureRate(), true
	case StatDeliveryRate:
		return stats.DeliveryRate(), true
	case StatRetryRate:
		return stats.RetryRate(), true
	case StatTotalExecutions:
		return float64(stats.TotalExecutions), true
	case StatTotalNotifications:
		return float64(stats.TotalNotifications), true
	}
	return 0, false
}

func compare(value float64, operator string, threshold float64) (bool, bool) {
	switch operator {
	case "gt":
		return value > threshold, true
	case "gte":
		return value >= threshold, true
	case "lt":
		return value < threshold, true
	case "lte":
		return value <= threshold, true
	}
	return false, false
}
