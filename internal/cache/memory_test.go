package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestProvider(clock *fakeClock) *MemoryProvider {
	p := NewMemoryProvider(time.Minute, nil)
	p.now = clock.Now
	return p
}

func TestMemoryProviderGetSet(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	p := newTestProvider(clock)
	ctx := context.Background()

	if _, err := p.Get(ctx, "missing"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss, got %v", err)
	}

	if err := p.Set(ctx, "k", []byte("v1"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := p.Set(ctx, "k", []byte("v2"), time.Minute); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err := p.Get(ctx, "k")
	if err != nil || string(got) != "v2" {
		t.Fatalf("expected v2, got %q (%v)", got, err)
	}
}

func TestMemoryProviderExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	p := newTestProvider(clock)
	ctx := context.Background()

	_ = p.Set(ctx, "k", []byte("v"), 60*time.Second)

	clock.Advance(60 * time.Second)
	if _, err := p.Get(ctx, "k"); err != nil {
		t.Fatalf("entry must survive until now > storedAt+ttl: %v", err)
	}

	clock.Advance(time.Second)
	if _, err := p.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected expired entry to miss, got %v", err)
	}
	if p.Len() != 0 {
		t.Fatalf("expected expired entry deleted on get")
	}
}

func TestMemoryProviderSweep(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	p := newTestProvider(clock)
	ctx := context.Background()

	_ = p.Set(ctx, "short", []byte("a"), time.Minute)
	_ = p.Set(ctx, "long", []byte("b"), 10*time.Minute)

	clock.Advance(2 * time.Minute)
	if removed := p.Sweep(); removed != 1 {
		t.Fatalf("expected one entry removed, got %d", removed)
	}
	if p.Len() != 1 {
		t.Fatalf("expected one entry remaining, got %d", p.Len())
	}
}

func TestMemoryProviderBackgroundSweep(t *testing.T) {
	p := NewMemoryProvider(10*time.Millisecond, nil)
	_ = p.Set(context.Background(), "k", []byte("v"), time.Millisecond)
	p.Start()
	defer p.Close()

	deadline := time.Now().Add(time.Second)
	for p.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("background sweep did not remove expired entry")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMemoryProviderConcurrentAccess(t *testing.T) {
	p := NewMemoryProvider(time.Millisecond, nil)
	p.Start()
	defer p.Close()

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := fmt.Sprintf("k%d", j%10)
				_ = p.Set(ctx, key, []byte{byte(i)}, time.Second)
				_, _ = p.Get(ctx, key)
			}
		}(i)
	}
	wg.Wait()
	if p.Len() != 10 {
		t.Fatalf("expected 10 keys, got %d", p.Len())
	}
}

func TestMemoryProviderClose(t *testing.T) {
	p := NewMemoryProvider(time.Minute, nil)
	p.Start()
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, err := p.Get(context.Background(), "k"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
}

func TestNoopProvider(t *testing.T) {
	var p Provider = NoopProvider{}
	_ = p.Set(context.Background(), "k", []byte("v"), time.Minute)
	if _, err := p.Get(context.Background(), "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("noop provider must always miss")
	}
}
