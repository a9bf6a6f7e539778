package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/miradorstack/mirador-analytics/internal/metrics"
)

// MemoryProvider is a process-local TTL cache. Entries are dropped lazily on Get
// and eagerly by a sweep goroutine started with Start.
type MemoryProvider struct {
	mu      sync.Mutex
	entries map[string]entry
	closed  bool

	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	stop chan struct{}
	done chan struct{}
}

type entry struct {
	value    []byte
	storedAt time.Time
	ttl      time.Duration
}

func (e entry) expired(now time.Time) bool {
	return now.After(e.storedAt.Add(e.ttl))
}

// NewMemoryProvider creates an empty cache swept every interval once started.
func NewMemoryProvider(interval time.Duration, logger *slog.Logger) *MemoryProvider {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryProvider{
		entries:  make(map[string]entry),
		interval: interval,
		now:      time.Now,
		logger:   logger,
	}
}

// Get returns the stored bytes, or ErrCacheMiss when absent or expired.
func (p *MemoryProvider) Get(_ context.Context, key string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrClosed
	}
	e, ok := p.entries[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	if e.expired(p.now()) {
		delete(p.entries, key)
		metrics.ObserveCacheEviction(1)
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), e.value...), nil
}

// Set stores value under key, overwriting any previous entry.
func (p *MemoryProvider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	p.entries[key] = entry{
		value:    append([]byte(nil), value...),
		storedAt: p.now(),
		ttl:      ttl,
	}
	metrics.SetCacheEntries(len(p.entries))
	return nil
}

// Del removes a key from the cache.
func (p *MemoryProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, key)
	metrics.SetCacheEntries(len(p.entries))
	return nil
}

// Len returns the number of stored entries, expired ones included until swept.
func (p *MemoryProvider) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Sweep deletes every expired entry and returns how many were removed.
func (p *MemoryProvider) Sweep() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	removed := 0
	for key, e := range p.entries {
		if e.expired(now) {
			delete(p.entries, key)
			removed++
		}
	}
	metrics.ObserveCacheEviction(removed)
	metrics.SetCacheEntries(len(p.entries))
	return removed
}

// Start launches the sweep goroutine. Calling Start twice is a no-op.
func (p *MemoryProvider) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil || p.closed {
		return
	}
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	go p.sweepLoop(p.stop, p.done)
}

func (p *MemoryProvider) sweepLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if removed := p.Sweep(); removed > 0 {
				p.logger.Debug("cache sweep", slog.Int("removed", removed), slog.Int("remaining", p.Len()))
			}
		}
	}
}

// Close stops the sweep goroutine and drops all entries.
func (p *MemoryProvider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	stop, done := p.stop, p.done
	p.entries = make(map[string]entry)
	p.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	metrics.SetCacheEntries(0)
	return nil
}
