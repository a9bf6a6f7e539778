package models

import "time"

// Execution paths reported in point metadata.
const (
	PathRaw    = "raw"
	PathRollup = "rollup"
)

// PointMetadata describes how a bucket was produced.
type PointMetadata struct {
	Path    string `json:"path"`
	Samples int64  `json:"samples"`
}

// DataPoint is one bucket of a time series.
type DataPoint struct {
	Timestamp time.Time     `json:"timestamp"`
	Value     float64       `json:"value"`
	Metadata  PointMetadata `json:"metadata"`
}

// TimeSeriesResult holds buckets strictly ascending by timestamp.
type TimeSeriesResult struct {
	Name      string      `json:"name"`
	Points    []DataPoint `json:"points"`
	Unit      string      `json:"unit,omitempty"`
	ColorHint string      `json:"color_hint"`
}

// AggregationResult is one scalar, optionally for one group. Group values are
// rendered as text keyed by the group-by field.
type AggregationResult struct {
	Metric          string            `json:"metric"`
	AggregationType Aggregation       `json:"aggregation_type"`
	Value           float64           `json:"value"`
	Timestamp       time.Time         `json:"timestamp"`
	Dimensions      map[string]string `json:"dimensions,omitempty"`
}

// Trend classifies movement against the previous value.
type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)

// RealtimeMetricValue is the latest value of a metric with its change vs. the preceding point.
type RealtimeMetricValue struct {
	Name      string    `json:"name"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
	ChangePct float64   `json:"change_pct"`
	Trend     Trend     `json:"trend"`
	Unit      string    `json:"unit,omitempty"`
}
