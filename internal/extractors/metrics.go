package extractors

import (
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-analytics/internal/config"
	"github.com/miradorstack/mirador-analytics/internal/models"
)

// Thresholds configures z-score flagging and severity tiers.
// Flag and Medium are distinct on purpose; do not collapse them.
type Thresholds struct {
	Flag       float64
	Medium     float64
	High       float64
	MinSamples int
	MaxResults int
}

// ThresholdsFromConfig maps anomaly configuration into detector thresholds.
func ThresholdsFromConfig(cfg config.AnomalyConfig) Thresholds {
	return Thresholds{
		Flag:       cfg.FlagThreshold,
		Medium:     cfg.MediumThreshold,
		High:       cfg.HighThreshold,
		MinSamples: cfg.MinSamples,
		MaxResults: cfg.MaxResults,
	}
}

// Severity tiers a z-score. A score exactly on a tier boundary takes the higher tier.
func (t Thresholds) Severity(z float64) models.Severity {
	switch {
	case z >= t.High:
		return models.SeverityHigh
	case z >= t.Medium:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// Baseline is the population mean and standard deviation of one metric's window.
type Baseline struct {
	Mean    float64
	StdDev  float64
	Samples int
}

// ComputeBaseline returns the population statistics of values.
func ComputeBaseline(values []float64) Baseline {
	if len(values) == 0 {
		return Baseline{}
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		variance += math.Pow(v-mean, 2)
	}
	variance /= float64(len(values))

	return Baseline{Mean: mean, StdDev: math.Sqrt(variance), Samples: len(values)}
}

// MetricExtractor detects point anomalies per metric using z-scores over a window.
type MetricExtractor struct {
	thresholds Thresholds
	newID      func() string
}

// NewMetricExtractor creates a metrics anomaly detector.
func NewMetricExtractor(thresholds Thresholds) *MetricExtractor {
	return &MetricExtractor{
		thresholds: thresholds,
		newID:      func() string { return uuid.New().String() },
	}
}

// Evaluate scores one point against a baseline. ok is false when the point is not anomalous.
func (e *MetricExtractor) Evaluate(p models.MetricPoint, b Baseline) (models.Anomaly, bool) {
	if b.StdDev == 0 || math.IsNaN(b.StdDev) {
		return models.Anomaly{}, false
	}
	z := math.Abs(p.Value-b.Mean) / b.StdDev
	if z <= e.thresholds.Flag {
		return models.Anomaly{}, false
	}
	return models.Anomaly{
		ID:            e.newID(),
		Metric:        p.Metric,
		DetectedAt:    p.Timestamp,
		Severity:      e.thresholds.Severity(z),
		ExpectedValue: b.Mean,
		ActualValue:   p.Value,
		Confidence:    math.Min(z/3, 1),
		ZScore:        z,
	}, true
}

// Detect groups points by metric, skips metrics below the minimum sample size and
// returns anomalies ordered by descending z-score, capped at MaxResults.
func (e *MetricExtractor) Detect(points []models.MetricPoint) []models.Anomaly {
	if len(points) == 0 {
		return nil
	}

	series := make(map[string][]models.MetricPoint)
	for _, p := range points {
		series[p.Metric] = append(series[p.Metric], p)
	}
	names := make([]string, 0, len(series))
	for name := range series {
		names = append(names, name)
	}
	sort.Strings(names)

	anomalies := make([]models.Anomaly, 0)
	for _, name := range names {
		samples := series[name]
		if len(samples) < e.thresholds.MinSamples {
			continue
		}
		values := make([]float64, len(samples))
		for i, p := range samples {
			values[i] = p.Value
		}
		baseline := ComputeBaseline(values)
		for _, p := range samples {
			if a, ok := e.Evaluate(p, baseline); ok {
				anomalies = append(anomalies, a)
			}
		}
	}

	sort.SliceStable(anomalies, func(i, j int) bool {
		return anomalies[i].ZScore > anomalies[j].ZScore
	})
	if limit := e.thresholds.MaxResults; limit > 0 && len(anomalies) > limit {
		anomalies = anomalies[:limit]
	}
	return anomalies
}
