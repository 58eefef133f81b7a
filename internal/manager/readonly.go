package manager

import (
	"context"
	"errors"
	"sync"

	"github.com/chinmina/console-sync/internal/query"
	"github.com/chinmina/console-sync/internal/remotedata"
	"github.com/chinmina/console-sync/internal/state"
)

// ReadOnlySpec describes a derived view over another kind's
// environment-scoped slot. Q is the read-only query, S the query whose slot
// is read, D its data, and R the projected value.
type ReadOnlySpec[Q query.Query, S query.Query, D any, R any] struct {
	Kind    query.Kind
	Source  func(q Q) S
	Project func(d D) R
}

// ReadOnlyWithEnv exposes a projection of a cache slot that some other
// manager populates. It never fetches and never schedules anything.
type ReadOnlyWithEnv[Q query.Query, R any] struct {
	claim
	read func(ctx context.Context, q Q, env string) (remotedata.RemoteData[R], <-chan struct{})
}

func NewReadOnlyWithEnv[Q query.Query, S query.Query, D any, R any](spec ReadOnlySpec[Q, S, D, R], store *state.Store) (*ReadOnlyWithEnv[Q, R], error) {
	if spec.Kind == "" || spec.Source == nil || spec.Project == nil {
		return nil, errors.New("read-only spec requires a kind, a source and a projection")
	}
	if store == nil {
		return nil, errors.New("read-only manager requires a store")
	}

	source := state.NewHelperWithEnv[S, D](store)

	return &ReadOnlyWithEnv[Q, R]{
		claim: claim{kind: spec.Kind, mode: query.ModeReadOnly},
		read: func(ctx context.Context, q Q, env string) (remotedata.RemoteData[R], <-chan struct{}) {
			entry, changed := source.GetHooked(ctx, spec.Source(q), env)
			return remotedata.Map(entry, spec.Project), changed
		},
	}, nil
}

// Use mounts a read-only binding.
func (m *ReadOnlyWithEnv[Q, R]) Use(ctx context.Context, q Q, env string) *ReadOnlyBinding[Q, R] {
	return &ReadOnlyBinding[Q, R]{m: m, ctx: ctx, q: q, env: env}
}

// ReadOnlyBinding is a consumer's view of a read-only query.
type ReadOnlyBinding[Q query.Query, R any] struct {
	m   *ReadOnlyWithEnv[Q, R]
	ctx context.Context

	mu  sync.Mutex
	q   Q
	env string
}

func (b *ReadOnlyBinding[Q, R]) Render(q Q, env string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.q, b.env = q, env
}

func (b *ReadOnlyBinding[Q, R]) Entry() remotedata.RemoteData[R] {
	entry, _ := b.Watch()
	return entry
}

func (b *ReadOnlyBinding[Q, R]) Watch() (remotedata.RemoteData[R], <-chan struct{}) {
	b.mu.Lock()
	q, env := b.q, b.env
	b.mu.Unlock()
	return b.m.read(b.ctx, q, env)
}

// Close exists for symmetry with Binding; there is nothing to tear down.
func (b *ReadOnlyBinding[Q, R]) Close() {}
