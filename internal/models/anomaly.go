package models

import "time"

// Severity captures impact levels.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Anomaly is a point whose z-score exceeded the flag threshold.
type Anomaly struct {
	ID            string    `json:"id"`
	Metric        string    `json:"metric"`
	DetectedAt    time.Time `json:"detected_at"`
	Severity      Severity  `json:"severity"`
	ExpectedValue float64   `json:"expected_value"`
	ActualValue   float64   `json:"actual_value"`
	Confidence    float64   `json:"confidence"`
	ZScore        float64   `json:"z_score"`
}
