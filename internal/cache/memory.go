package cache

import (
	"context"
	"time"

	"github.com/maypok86/otter/v2"
	"github.com/maypok86/otter/v2/stats"
)

// Memory is an in-memory cache implementation using otter.
type Memory[T any] struct {
	cache   *otter.Cache[string, T]
	counter *stats.Counter
}

// NewMemory creates an in-memory cache bounded by maxSize. A zero ttl keeps
// entries until they are evicted for size or invalidated.
func NewMemory[T any](ttl time.Duration, maxSize int) (*Memory[T], error) {
	counter := stats.NewCounter()
	opts := &otter.Options[string, T]{
		MaximumSize:   maxSize,
		StatsRecorder: counter,
	}
	if ttl > 0 {
		opts.ExpiryCalculator = otter.ExpiryCreating[string, T](ttl)
	}

	cache, err := otter.New(opts)
	if err != nil {
		return nil, err
	}

	return &Memory[T]{
		cache:   cache,
		counter: counter,
	}, nil
}

func (m *Memory[T]) Get(ctx context.Context, key string) (T, bool, error) {
	entry, ok := m.cache.GetEntry(key)
	if !ok {
		var zero T
		return zero, false, nil
	}

	return entry.Value, true, nil
}

func (m *Memory[T]) Set(ctx context.Context, key string, value T) error {
	m.cache.Set(key, value)
	return nil
}

func (m *Memory[T]) Invalidate(ctx context.Context, key string) error {
	m.cache.Invalidate(key)
	return nil
}

// Close drops every entry. The cache must not be used afterwards.
func (m *Memory[T]) Close() error {
	m.cache.InvalidateAll()
	return nil
}
