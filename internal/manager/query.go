package manager

import (
	"context"
	"errors"

	"github.com/chinmina/console-sync/internal/query"
	"github.com/chinmina/console-sync/internal/remotedata"
	"github.com/chinmina/console-sync/internal/state"
)

// QueryManager fetches one query kind into the cache. The four variants
// differ in whether slots are partitioned by environment and whether a
// mounted binding keeps polling through the scheduler.
type QueryManager[Q query.Query, D any] struct {
	claim
	url        func(Q, string) string
	strategy   query.Strategy
	scoped     bool
	continuous bool
	fetcher    fetcher[Q, D]
	slots      slots[Q, D]
	pollers    *pollers
	deps       Deps
}

// NewOneTime fetches once per URL change into a global slot.
func NewOneTime[Q query.Query, D any](spec Spec[Q, D], deps Deps) (*QueryManager[Q, D], error) {
	return newQueryManager(spec, deps, query.ModeOneTime, false)
}

// NewOneTimeWithEnv is NewOneTime with environment-scoped slots.
func NewOneTimeWithEnv[Q query.Query, D any](spec Spec[Q, D], deps Deps) (*QueryManager[Q, D], error) {
	return newQueryManager(spec, deps, query.ModeOneTime, true)
}

// NewContinuous fetches on URL change and keeps the slot fresh through the
// scheduler for as long as the binding is open.
func NewContinuous[Q query.Query, D any](spec Spec[Q, D], deps Deps) (*QueryManager[Q, D], error) {
	return newQueryManager(spec, deps, query.ModeContinuous, false)
}

// NewContinuousWithEnv is NewContinuous with environment-scoped slots.
func NewContinuousWithEnv[Q query.Query, D any](spec Spec[Q, D], deps Deps) (*QueryManager[Q, D], error) {
	return newQueryManager(spec, deps, query.ModeContinuous, true)
}

func newQueryManager[Q query.Query, D any](spec Spec[Q, D], deps Deps, mode query.Mode, scoped bool) (*QueryManager[Q, D], error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	if deps.Fetcher == nil || deps.Store == nil {
		return nil, errors.New("query manager requires a fetcher and a store")
	}
	continuous := mode == query.ModeContinuous
	if continuous && deps.Scheduler == nil {
		return nil, errors.New("continuous query manager requires a scheduler")
	}

	strategy := spec.Strategy
	if strategy == "" {
		strategy = query.StrategyReload
	}

	m := &QueryManager[Q, D]{
		claim:      claim{kind: spec.Kind, mode: mode},
		url:        spec.URL,
		strategy:   strategy,
		scoped:     scoped,
		continuous: continuous,
		fetcher:    newFetcher(spec, scoped, deps.Fetcher),
		slots:      newSlots[Q, D](deps.Store, scoped),
		deps:       deps,
	}
	if continuous {
		m.pollers = newPollers(deps.Scheduler)
	}
	return m, nil
}

// EnvScoped reports whether slots are partitioned by environment.
func (m *QueryManager[Q, D]) EnvScoped() bool {
	return m.scoped
}

// Use mounts a binding and renders it once. The context bounds the
// binding's own fetches; closing the binding is what stops polling.
func (m *QueryManager[Q, D]) Use(ctx context.Context, q Q, env string) *Binding[Q, D] {
	b := &Binding[Q, D]{m: m, ctx: ctx}
	b.Render(q, env)
	return b
}

// Get reads the slot for q without mounting anything.
func (m *QueryManager[Q, D]) Get(ctx context.Context, q Q, env string) remotedata.RemoteData[D] {
	if !m.scoped {
		env = ""
	}
	return m.slots.get(ctx, q, env)
}

// slotKey is the identity of the slot q and env address.
func (m *QueryManager[Q, D]) slotKey(q Q, env string) string {
	if m.scoped {
		return query.EnvKey(q, env)
	}
	return query.Key(q)
}

func (m *QueryManager[Q, D]) taskKey(q Q, env string) string {
	namespace := string(m.kind) + "/" + string(m.mode)
	if m.scoped {
		return query.EnvTaskKey(namespace, q, env)
	}
	return query.TaskKey(namespace, q)
}

// slots hides whether a manager's slots are global or environment-scoped.
type slots[Q query.Query, D any] struct {
	global *state.Helper[Q, D]
	scoped *state.HelperWithEnv[Q, D]
}

func newSlots[Q query.Query, D any](store *state.Store, scoped bool) slots[Q, D] {
	if scoped {
		return slots[Q, D]{scoped: state.NewHelperWithEnv[Q, D](store)}
	}
	return slots[Q, D]{global: state.NewHelper[Q, D](store)}
}

func (s slots[Q, D]) set(ctx context.Context, entry remotedata.RemoteData[D], q Q, env string) {
	if s.scoped != nil {
		s.scoped.Set(ctx, entry, q, env)
		return
	}
	s.global.Set(ctx, entry, q)
}

func (s slots[Q, D]) get(ctx context.Context, q Q, env string) remotedata.RemoteData[D] {
	if s.scoped != nil {
		return s.scoped.GetOnce(ctx, q, env)
	}
	return s.global.GetOnce(ctx, q)
}

func (s slots[Q, D]) hooked(ctx context.Context, q Q, env string) (remotedata.RemoteData[D], <-chan struct{}) {
	if s.scoped != nil {
		return s.scoped.GetHooked(ctx, q, env)
	}
	return s.global.GetHooked(ctx, q)
}
