package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterTwiceIsTolerated(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register should be tolerated: %v", err)
	}
}

func TestObserveQueryNormalisesOutcome(t *testing.T) {
	before := testutil.ToFloat64(queriesTotal.WithLabelValues("metrics_test_op", OutcomeSuccess))
	ObserveQuery("metrics_test_op", time.Millisecond, "unexpected")
	after := testutil.ToFloat64(queriesTotal.WithLabelValues("metrics_test_op", OutcomeSuccess))
	if after-before != 1 {
		t.Fatalf("expected unknown outcome to count as success, delta=%v", after-before)
	}
}

func TestObserveCacheLookup(t *testing.T) {
	hits := testutil.ToFloat64(cacheRequestsTotal.WithLabelValues(CacheHit))
	misses := testutil.ToFloat64(cacheRequestsTotal.WithLabelValues(CacheMiss))
	ObserveCacheLookup(true)
	ObserveCacheLookup(false)
	ObserveCacheLookup(false)
	if got := testutil.ToFloat64(cacheRequestsTotal.WithLabelValues(CacheHit)) - hits; got != 1 {
		t.Fatalf("expected one hit, got %v", got)
	}
	if got := testutil.ToFloat64(cacheRequestsTotal.WithLabelValues(CacheMiss)) - misses; got != 2 {
		t.Fatalf("expected two misses, got %v", got)
	}
}
