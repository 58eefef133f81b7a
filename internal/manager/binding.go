package manager

import (
	"context"
	"sync"

	"github.com/chinmina/console-sync/internal/query"
	"github.com/chinmina/console-sync/internal/remotedata"
	"github.com/chinmina/console-sync/internal/scheduler"
	"github.com/rs/zerolog/log"
)

// Binding is one consumer's view of a query. It remembers the URL and the
// slot of the last render: rendering again with inputs that give the same
// URL and slot does nothing, a change in either starts a new fetch (and, for
// continuous managers, moves the poller to the new identity).
type Binding[Q query.Query, D any] struct {
	m   *QueryManager[Q, D]
	ctx context.Context

	mu       sync.Mutex
	q        Q
	env      string
	url      string
	slot     string
	rendered bool
	taskKey  string
	closed   bool
}

// Render feeds the binding its current inputs. For managers that aren't
// environment-scoped the environment is ignored.
func (b *Binding[Q, D]) Render(q Q, env string) {
	if !b.m.scoped {
		env = ""
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	url := b.m.url(q, env)
	slot := b.m.slotKey(q, env)
	b.q, b.env = q, env
	if b.rendered && url == b.url && slot == b.slot {
		return
	}
	b.rendered = true
	b.url = url
	b.slot = slot

	b.prepare(q, env)

	if b.m.continuous {
		b.schedule(q, env, url)
	}

	go b.load(q, env, url)
}

// load is the fetch started by a render. When the binding's context ends
// before the response lands, the Loading written for it is withdrawn so the
// slot doesn't wait on a fetch that will never write.
func (b *Binding[Q, D]) load(q Q, env string, url string) {
	b.fetchAndStore(b.ctx, q, env, url)
	if b.ctx.Err() == nil {
		return
	}

	ctx := context.WithoutCancel(b.ctx)
	if b.m.slots.get(ctx, q, env).IsLoading() {
		b.m.slots.set(ctx, remotedata.NotAsked[D](), q, env)
	}
}

// prepare applies the refresh strategy before a fetch starts.
func (b *Binding[Q, D]) prepare(q Q, env string) {
	if b.m.strategy == query.StrategyMerge && !b.m.slots.get(b.ctx, q, env).IsNotAsked() {
		return
	}
	b.m.slots.set(b.ctx, remotedata.Loading[D](), q, env)
}

// schedule moves the binding's poller to the current identity. Called with
// the lock held so registration and Close can't interleave.
func (b *Binding[Q, D]) schedule(q Q, env string, url string) {
	key := b.m.taskKey(q, env)
	if b.taskKey != "" && b.taskKey != key {
		b.m.pollers.release(b.taskKey, b)
	}
	b.taskKey = key

	// the poller writes into the slot it was registered for, whatever the
	// binding renders later
	ctx := b.ctx
	b.m.pollers.claim(key, b, scheduler.NewTask(
		func(tickCtx context.Context) (remotedata.RemoteData[D], error) {
			return b.m.fetcher.run(tickCtx, url, env), nil
		},
		func(entry remotedata.RemoteData[D]) {
			b.m.slots.set(ctx, entry, q, env)
		},
	))
}

// fetchAndStore runs one fetch and writes the result, unless the binding
// moved to another environment while the request was in flight.
func (b *Binding[Q, D]) fetchAndStore(ctx context.Context, q Q, env string, url string) remotedata.RemoteData[D] {
	entry := b.m.fetcher.run(ctx, url, env)

	if ctx.Err() != nil {
		// the consumer went away; a cancellation is not a result worth showing
		return entry
	}

	if b.m.scoped && !b.onEnvironment(env) {
		log.Ctx(ctx).Debug().
			Str("kind", string(b.m.kind)).
			Str("env", env).
			Msg("discarding response for previous environment")
		return entry
	}

	b.m.slots.set(ctx, entry, q, env)
	return entry
}

func (b *Binding[Q, D]) onEnvironment(env string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.env == env
}

// Refetch issues one request for the most recently rendered URL and returns
// the resulting entry. It does not move the slot to Loading first.
func (b *Binding[Q, D]) Refetch(ctx context.Context) remotedata.RemoteData[D] {
	b.mu.Lock()
	q, env, url, rendered := b.q, b.env, b.url, b.rendered
	b.mu.Unlock()

	if !rendered {
		return remotedata.NotAsked[D]()
	}
	return b.fetchAndStore(ctx, q, env, url)
}

// Refresh is Refetch for callers that only need the side effect.
func (b *Binding[Q, D]) Refresh(ctx context.Context) {
	b.Refetch(ctx)
}

// Entry reads the slot for the binding's current inputs.
func (b *Binding[Q, D]) Entry() remotedata.RemoteData[D] {
	entry, _ := b.Watch()
	return entry
}

// Watch reads the slot and returns a channel closed on its next change.
func (b *Binding[Q, D]) Watch() (remotedata.RemoteData[D], <-chan struct{}) {
	b.mu.Lock()
	q, env := b.q, b.env
	b.mu.Unlock()

	return b.m.slots.hooked(b.ctx, q, env)
}

// URL is the URL computed by the last render.
func (b *Binding[Q, D]) URL() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.url
}

// Close unmounts the binding. A continuous binding gives up its poller
// exactly once; the task is unregistered when no other binding shares it.
// Requests already issued may still complete and write.
func (b *Binding[Q, D]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	if b.taskKey != "" {
		b.m.pollers.release(b.taskKey, b)
		b.taskKey = ""
	}
}
