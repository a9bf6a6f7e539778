package extractors

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/miradorstack/mirador-analytics/internal/config"
	"github.com/miradorstack/mirador-analytics/internal/models"
)

func newTestExtractor() *MetricExtractor {
	return NewMetricExtractor(ThresholdsFromConfig(config.Default().Anomaly))
}

func series(metric string, values ...float64) []models.MetricPoint {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.MetricPoint, 0, len(values))
	for i, v := range values {
		out = append(out, models.MetricPoint{Metric: metric, Value: v, Timestamp: start.Add(time.Duration(i) * time.Minute)})
	}
	return out
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestEvaluateThresholds(t *testing.T) {
	extractor := newTestExtractor()
	baseline := Baseline{Mean: 100, StdDev: 10, Samples: 30}

	cases := []struct {
		value    float64
		flagged  bool
		severity models.Severity
		z        float64
	}{
		{135, true, models.SeverityHigh, 3.5},
		{128, true, models.SeverityMedium, 2.8},
		{126, true, models.SeverityLow, 2.6},
		{74, true, models.SeverityLow, 2.6},
		{125, false, "", 2.5},
		{120, false, "", 2.0},
	}
	for _, tc := range cases {
		point := models.MetricPoint{Metric: "latency", Value: tc.value}
		anomaly, ok := extractor.Evaluate(point, baseline)
		if ok != tc.flagged {
			t.Fatalf("value %v: flagged=%v, want %v", tc.value, ok, tc.flagged)
		}
		if !ok {
			continue
		}
		if anomaly.Severity != tc.severity {
			t.Fatalf("value %v: severity %s, want %s", tc.value, anomaly.Severity, tc.severity)
		}
		if math.Abs(anomaly.ZScore-tc.z) > 1e-9 {
			t.Fatalf("value %v: z %v, want %v", tc.value, anomaly.ZScore, tc.z)
		}
		if anomaly.ExpectedValue != 100 || anomaly.ActualValue != tc.value {
			t.Fatalf("value %v: unexpected expected/actual %+v", tc.value, anomaly)
		}
		if anomaly.Confidence < 0 || anomaly.Confidence > 1 {
			t.Fatalf("confidence out of range: %v", anomaly.Confidence)
		}
		if anomaly.ID == "" {
			t.Fatalf("anomaly must carry an id")
		}
	}
}

func TestEvaluateConstantSeries(t *testing.T) {
	extractor := newTestExtractor()
	if _, ok := extractor.Evaluate(models.MetricPoint{Value: 500}, Baseline{Mean: 100, StdDev: 0, Samples: 30}); ok {
		t.Fatalf("zero stddev must be treated as non-anomalous")
	}
}

func TestDetectSpike(t *testing.T) {
	extractor := newTestExtractor()
	values := append(repeat(100, 29), 200)
	anomalies := extractor.Detect(series("cpu", values...))
	if len(anomalies) != 1 {
		t.Fatalf("expected exactly one anomaly, got %d", len(anomalies))
	}
	a := anomalies[0]
	if a.ActualValue != 200 || a.Severity != models.SeverityHigh {
		t.Fatalf("unexpected anomaly %+v", a)
	}
	if a.Confidence != 1 {
		t.Fatalf("confidence should saturate at 1, got %v", a.Confidence)
	}
	if !a.DetectedAt.Equal(time.Date(2024, 3, 1, 0, 29, 0, 0, time.UTC)) {
		t.Fatalf("detectedAt should be the point timestamp, got %v", a.DetectedAt)
	}
}

func TestDetectSkipsSmallSamples(t *testing.T) {
	extractor := newTestExtractor()
	values := append(repeat(100, 19), 10_000)
	if anomalies := extractor.Detect(series("small", values...)); len(anomalies) != 0 {
		t.Fatalf("metrics with 20 samples must never be evaluated, got %d anomalies", len(anomalies))
	}
}

func TestDetectOrdersAndCaps(t *testing.T) {
	thresholds := ThresholdsFromConfig(config.Default().Anomaly)
	thresholds.MaxResults = 3
	extractor := NewMetricExtractor(thresholds)

	var points []models.MetricPoint
	for i := 0; i < 5; i++ {
		values := append(repeat(100, 39), 100+float64(100*(i+1)))
		points = append(points, series(fmt.Sprintf("m%d", i), values...)...)
	}
	anomalies := extractor.Detect(points)
	if len(anomalies) != 3 {
		t.Fatalf("expected results capped at 3, got %d", len(anomalies))
	}
	for i := 1; i < len(anomalies); i++ {
		if anomalies[i].ZScore > anomalies[i-1].ZScore {
			t.Fatalf("anomalies must be ordered by descending z-score")
		}
	}
}

func TestComputeBaseline(t *testing.T) {
	b := ComputeBaseline([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	if b.Mean != 5 || b.StdDev != 2 || b.Samples != 8 {
		t.Fatalf("unexpected baseline %+v", b)
	}
	if ComputeBaseline(nil).Samples != 0 {
		t.Fatalf("empty baseline should have no samples")
	}
}
