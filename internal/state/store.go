package state

import (
	"context"
	"sync"

	"github.com/chinmina/console-sync/internal/cache"
	"github.com/rs/zerolog/log"
)

// Store is the process-wide slot store. Values live in the cache backend;
// the store adds change notification so readers can react to writes.
type Store struct {
	backend cache.Cache[any]

	mu       sync.Mutex
	watchers map[string]chan struct{}
}

func NewStore(backend cache.Cache[any]) *Store {
	return &Store{
		backend:  backend,
		watchers: make(map[string]chan struct{}),
	}
}

// Set overwrites the slot and wakes everyone watching it.
func (s *Store) Set(ctx context.Context, key string, value any) {
	if err := s.backend.Set(ctx, key, value); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("slot", key).Msg("cache write failed")
	}

	s.mu.Lock()
	ch, ok := s.watchers[key]
	if ok {
		delete(s.watchers, key)
	}
	s.mu.Unlock()

	if ok {
		close(ch)
	}
}

// Get reads the slot once.
func (s *Store) Get(ctx context.Context, key string) (any, bool) {
	v, found, err := s.backend.Get(ctx, key)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("slot", key).Msg("cache read failed")
		return nil, false
	}
	return v, found
}

// Watch returns a channel that is closed by the next write to the slot.
// Callers read the slot after calling Watch so no write can be missed.
func (s *Store) Watch(key string) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.watchers[key]
	if !ok {
		ch = make(chan struct{})
		s.watchers[key] = ch
	}
	return ch
}

func (s *Store) Close() error {
	return s.backend.Close()
}
