package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/miradorstack/mirador-analytics/internal/cache"
	"github.com/miradorstack/mirador-analytics/internal/config"
	"github.com/miradorstack/mirador-analytics/internal/query"
	"github.com/miradorstack/mirador-analytics/internal/repo"
)

var base = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

// fakeStore answers statements by kind and records every execution.
type fakeStore struct {
	mu       sync.Mutex
	rows     map[string][]repo.Row
	errs     map[string]error
	handlers map[string]func(repo.Statement) ([]repo.Row, error)
	executed []repo.Statement
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rows:     make(map[string][]repo.Row),
		errs:     make(map[string]error),
		handlers: make(map[string]func(repo.Statement) ([]repo.Row, error)),
	}
}

func (f *fakeStore) Execute(_ context.Context, stmt repo.Statement) ([]repo.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, stmt)
	if h, ok := f.handlers[stmt.Kind]; ok {
		return h(stmt)
	}
	if err, ok := f.errs[stmt.Kind]; ok {
		return nil, err
	}
	return f.rows[stmt.Kind], nil
}

func (f *fakeStore) count(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, stmt := range f.executed {
		if stmt.Kind == kind {
			n++
		}
	}
	return n
}

func (f *fakeStore) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.executed)
}

func (f *fakeStore) last(kind string) repo.Statement {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.executed) - 1; i >= 0; i-- {
		if f.executed[i].Kind == kind {
			return f.executed[i]
		}
	}
	return repo.Statement{}
}

type failingCache struct{}

var errCacheDown = errors.New("cache unavailable")

func (failingCache) Get(context.Context, string) ([]byte, error) {
	return nil, errCacheDown
}

func (failingCache) Set(context.Context, string, []byte, time.Duration) error {
	return errCacheDown
}

func (failingCache) Del(context.Context, string) error { return errCacheDown }

func (failingCache) Close() error { return nil }

func newTestPipeline(store repo.Store, provider cache.Provider) *Pipeline {
	cfg := config.Default()
	return NewPipeline(nil,
		query.NewOptimizer(cfg.Optimizer, cfg.Cache),
		query.NewBuilder(),
		query.NewExecutor(store, nil),
		provider,
	)
}
