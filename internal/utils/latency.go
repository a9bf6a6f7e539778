package utils

import (
	"math"
	"sort"
	"sync"
	"time"
)

// LatencyTracker keeps a bounded window of recent durations per operation.
type LatencyTracker struct {
	mu      sync.RWMutex
	samples map[string][]time.Duration
	totals  map[string]int
	maxSize int
}

// NewLatencyTracker creates a tracker storing up to maxSize samples per operation.
func NewLatencyTracker(maxSize int) *LatencyTracker {
	if maxSize <= 0 {
		maxSize = 512
	}
	return &LatencyTracker{
		samples: make(map[string][]time.Duration),
		totals:  make(map[string]int),
		maxSize: maxSize,
	}
}

// Observe records a new duration for op and returns how many durations op has seen in total.
func (l *LatencyTracker) Observe(op string, d time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	window := append(l.samples[op], d)
	if len(window) > l.maxSize {
		window = window[len(window)-l.maxSize:]
	}
	l.samples[op] = window
	l.totals[op]++
	return l.totals[op]
}

// Percentile returns the nearest-rank percentile (0-100) for op. Returns zero if no samples.
func (l *LatencyTracker) Percentile(op string, p float64) time.Duration {
	l.mu.RLock()
	sorted := append([]time.Duration(nil), l.samples[op]...)
	l.mu.RUnlock()

	if len(sorted) == 0 {
		return 0
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[NearestRank(len(sorted), p)]
}

// Count returns the number of samples retained for op.
func (l *LatencyTracker) Count(op string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.samples[op])
}

// NearestRank returns the index into an ascending sample of size n holding the
// value below which p percent of observations fall.
func NearestRank(n int, p float64) int {
	if n <= 0 {
		return 0
	}
	if p <= 0 {
		return 0
	}
	if p >= 100 {
		return n - 1
	}
	rank := int(math.Ceil(p / 100 * float64(n)))
	if rank < 1 {
		rank = 1
	}
	return rank - 1
}
