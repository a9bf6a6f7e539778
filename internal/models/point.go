package models

import "time"

// MetricPoint is a raw sample read from the metrics store.
type MetricPoint struct {
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
	Unit      string    `json:"unit,omitempty"`
}
