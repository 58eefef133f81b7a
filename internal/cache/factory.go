package cache

import (
	"context"
	"fmt"

	"github.com/chinmina/console-sync/internal/config"
	"github.com/rs/zerolog/log"
)

// NewFromConfig creates the cache backend selected by the configuration,
// wrapped with metrics instrumentation.
//
// Only "memory" is supported: cache slots describe a single console session
// and are never shared between processes.
func NewFromConfig[T any](ctx context.Context, cacheConfig config.CacheConfig) (Cache[T], error) {
	switch cacheConfig.Type {
	case "memory":
		log.Ctx(ctx).Info().
			Str("cache_type", "memory").
			Int("max_size", cacheConfig.MaxSize).
			Dur("ttl", cacheConfig.TTL).
			Msg("initializing in-memory cache")

		memory, err := NewMemory[T](cacheConfig.TTL, cacheConfig.MaxSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create memory cache: %w", err)
		}

		return NewInstrumented(memory, "memory"), nil

	default:
		return nil, fmt.Errorf("invalid cache type %q: must be \"memory\"", cacheConfig.Type)
	}
}
