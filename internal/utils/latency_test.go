package utils

import (
	"testing"
	"time"
)

func TestLatencyTrackerPercentile(t *testing.T) {
	tracker := NewLatencyTracker(10)
	durations := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond, 40 * time.Millisecond, 50 * time.Millisecond}
	for _, d := range durations {
		tracker.Observe("timeseries", d)
	}

	if tracker.Count("timeseries") != len(durations) {
		t.Fatalf("expected count %d, got %d", len(durations), tracker.Count("timeseries"))
	}
	if tracker.Count("aggregation") != 0 {
		t.Fatalf("expected operations to be tracked independently")
	}

	p95 := tracker.Percentile("timeseries", 95)
	if p95 != 50*time.Millisecond {
		t.Fatalf("expected p95 50ms, got %v", p95)
	}
	if p50 := tracker.Percentile("timeseries", 50); p50 != 30*time.Millisecond {
		t.Fatalf("expected p50 30ms, got %v", p50)
	}
}

func TestLatencyTrackerBoundedSize(t *testing.T) {
	tracker := NewLatencyTracker(3)
	var count int
	for i := 0; i < 10; i++ {
		count = tracker.Observe("op", time.Duration(i)*time.Millisecond)
	}
	if count != 10 {
		t.Fatalf("expected total observations 10, got %d", count)
	}
	if tracker.Count("op") != 3 {
		t.Fatalf("expected tracker size 3, got %d", tracker.Count("op"))
	}
	if lowest := tracker.Percentile("op", 0); lowest != 7*time.Millisecond {
		t.Fatalf("expected oldest samples dropped, min=%v", lowest)
	}
}

func TestNearestRank(t *testing.T) {
	cases := []struct {
		n    int
		p    float64
		want int
	}{
		{n: 100, p: 95, want: 94},
		{n: 100, p: 99, want: 98},
		{n: 10, p: 50, want: 4},
		{n: 1, p: 99, want: 0},
		{n: 0, p: 50, want: 0},
	}
	for _, tc := range cases {
		if got := NearestRank(tc.n, tc.p); got != tc.want {
			t.Fatalf("NearestRank(%d, %v) = %d, want %d", tc.n, tc.p, got, tc.want)
		}
	}
}
