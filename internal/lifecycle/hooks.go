// Package lifecycle collects the teardown steps of a command run.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

type hook struct {
	name string
	fn   func(context.Context) error
}

// Hooks runs teardown steps in reverse registration order, the way deferred
// calls would: bindings registered after the store is opened are closed
// before it. Every hook runs even if an earlier one fails.
type Hooks struct {
	mu    sync.Mutex
	hooks []hook
}

// AddContext registers a hook that receives the teardown context. Nil hooks
// are ignored with a warning.
func (h *Hooks) AddContext(name string, fn func(context.Context) error) {
	if fn == nil {
		log.Warn().Str("hook", name).Msg("ignoring nil teardown hook")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks = append(h.hooks, hook{name: name, fn: fn})
}

func (h *Hooks) Add(name string, fn func() error) {
	if fn == nil {
		log.Warn().Str("hook", name).Msg("ignoring nil teardown hook")
		return
	}
	h.AddContext(name, func(context.Context) error { return fn() })
}

// AddClose registers anything with a Close method, such as a mounted binding.
func (h *Hooks) AddClose(name string, closer interface{ Close() }) {
	if closer == nil {
		log.Warn().Str("hook", name).Msg("ignoring nil teardown hook")
		return
	}
	h.AddContext(name, func(context.Context) error {
		closer.Close()
		return nil
	})
}

// Execute runs and forgets every registered hook. A panicking hook is
// reported as that hook's error.
func (h *Hooks) Execute(ctx context.Context) error {
	h.mu.Lock()
	hooks := h.hooks
	h.hooks = nil
	h.mu.Unlock()

	l := log.Ctx(ctx)
	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		hk := hooks[i]
		hookLog := l.With().Str("hook", hk.name).Logger()

		if err := run(ctx, hk); err != nil {
			hookLog.Warn().Err(err).Msg("teardown failed")
			errs = append(errs, fmt.Errorf("%s: %w", hk.name, err))
			continue
		}
		hookLog.Debug().Msg("teardown complete")
	}

	return errors.Join(errs...)
}

func run(ctx context.Context, hk hook) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return hk.fn(ctx)
}
