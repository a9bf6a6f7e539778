package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels operations that returned a result.
	OutcomeSuccess = "success"
	// OutcomeError labels operations that failed (bad input or store issues).
	OutcomeError = "error"

	CacheHit  = "hit"
	CacheMiss = "miss"
)

var (
	queriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_analytics",
			Name:      "queries_total",
			Help:      "Total number of analytics operations handled, partitioned by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	queryDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mirador_analytics",
			Name:      "query_seconds",
			Help:      "Analytics operation latency in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	cacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_analytics",
			Name:      "cache_requests_total",
			Help:      "Result cache lookups, partitioned by hit or miss.",
		},
		[]string{"result"},
	)

	cacheEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirador_analytics",
			Name:      "cache_evictions_total",
			Help:      "Expired cache entries removed.",
		},
	)

	cacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mirador_analytics",
			Name:      "cache_entries",
			Help:      "Current number of entries held by the result cache.",
		},
	)

	anomaliesDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_analytics",
			Name:      "anomalies_detected_total",
			Help:      "Anomalies reported by detection runs, partitioned by severity.",
		},
		[]string{"severity"},
	)
)

// Register attaches analytics collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		queriesTotal,
		queryDurationSeconds,
		cacheRequestsTotal,
		cacheEvictionsTotal,
		cacheEntries,
		anomaliesDetectedTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveQuery records an operation duration and outcome label.
func ObserveQuery(operation string, duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	queriesTotal.WithLabelValues(operation, label).Inc()
	if duration < 0 {
		duration = 0
	}
	queryDurationSeconds.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveCacheLookup counts a cache hit or miss.
func ObserveCacheLookup(hit bool) {
	if hit {
		cacheRequestsTotal.WithLabelValues(CacheHit).Inc()
		return
	}
	cacheRequestsTotal.WithLabelValues(CacheMiss).Inc()
}

// ObserveCacheEviction adds n removed entries.
func ObserveCacheEviction(n int) {
	if n > 0 {
		cacheEvictionsTotal.Add(float64(n))
	}
}

// SetCacheEntries publishes the current cache size.
func SetCacheEntries(n int) {
	cacheEntries.Set(float64(n))
}

// ObserveAnomaly counts one detected anomaly.
func ObserveAnomaly(severity string) {
	anomaliesDetectedTotal.WithLabelValues(severity).Inc()
}
