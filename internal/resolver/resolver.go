// Package resolver routes a (kind, mode) request to the one manager that
// claims it.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/chinmina/console-sync/internal/manager"
	"github.com/chinmina/console-sync/internal/query"
)

var ErrNoMatch = errors.New("no manager matches")

// AmbiguousError indicates two managers claim the same kind and mode.
type AmbiguousError struct {
	Kind query.Kind
	Mode query.Mode
}

func (e AmbiguousError) Error() string {
	return fmt.Sprintf("more than one manager claims %s in mode %s", e.Kind, e.Mode)
}

// NoMatchError indicates no manager claims the requested kind and mode.
type NoMatchError struct {
	Kind query.Kind
	Mode query.Mode
}

func (e NoMatchError) Error() string {
	return fmt.Sprintf("no manager claims %s in mode %s", e.Kind, e.Mode)
}

func (e NoMatchError) Is(target error) bool {
	return target == ErrNoMatch
}

// TypeError indicates the manager registered for a kind has different query
// or data types than the caller asked for.
type TypeError struct {
	Kind query.Kind
	Mode query.Mode
	Want string
	Got  string
}

func (e TypeError) Error() string {
	return fmt.Sprintf("manager for %s in mode %s is %s, not %s", e.Kind, e.Mode, e.Got, e.Want)
}

type Resolver struct {
	managers []manager.Manager
}

// New checks that no two managers claim the same (kind, mode) pair.
func New(managers ...manager.Manager) (*Resolver, error) {
	seen := make(map[[2]string]bool, len(managers))
	for _, m := range managers {
		if m == nil {
			return nil, errors.New("resolver given a nil manager")
		}
		claim := [2]string{string(m.Kind()), string(m.Mode())}
		if seen[claim] {
			return nil, AmbiguousError{Kind: m.Kind(), Mode: m.Mode()}
		}
		seen[claim] = true
	}

	return &Resolver{managers: managers}, nil
}

// Resolve returns the single manager claiming kind and mode.
func (r *Resolver) Resolve(kind query.Kind, mode query.Mode) (manager.Manager, error) {
	for _, m := range r.managers {
		if m.Matches(kind, mode) {
			return m, nil
		}
	}
	return nil, NoMatchError{Kind: kind, Mode: mode}
}

// Managers lists every registered manager in registration order.
func (r *Resolver) Managers() []manager.Manager {
	return append([]manager.Manager(nil), r.managers...)
}

func resolveAs[M manager.Manager](r *Resolver, kind query.Kind, mode query.Mode) (M, error) {
	var zero M
	m, err := r.Resolve(kind, mode)
	if err != nil {
		return zero, err
	}
	typed, ok := m.(M)
	if !ok {
		return zero, TypeError{Kind: kind, Mode: mode, Want: fmt.Sprintf("%T", zero), Got: fmt.Sprintf("%T", m)}
	}
	return typed, nil
}

// UseOneTime mounts a binding on the one-time manager for q's kind.
func UseOneTime[Q query.Query, D any](ctx context.Context, r *Resolver, q Q, env string) (*manager.Binding[Q, D], error) {
	m, err := resolveAs[*manager.QueryManager[Q, D]](r, q.Kind(), query.ModeOneTime)
	if err != nil {
		return nil, err
	}
	return m.Use(ctx, q, env), nil
}

// UseContinuous mounts a polling binding. Close it to stop polling.
func UseContinuous[Q query.Query, D any](ctx context.Context, r *Resolver, q Q, env string) (*manager.Binding[Q, D], error) {
	m, err := resolveAs[*manager.QueryManager[Q, D]](r, q.Kind(), query.ModeContinuous)
	if err != nil {
		return nil, err
	}
	return m.Use(ctx, q, env), nil
}

func UseReadOnly[Q query.Query, R any](ctx context.Context, r *Resolver, q Q, env string) (*manager.ReadOnlyBinding[Q, R], error) {
	m, err := resolveAs[*manager.ReadOnlyWithEnv[Q, R]](r, q.Kind(), query.ModeReadOnly)
	if err != nil {
		return nil, err
	}
	return m.Use(ctx, q, env), nil
}

// Trigger sends a command through its manager, then refreshes refresh.
func Trigger[C query.Query, B any, R any](ctx context.Context, r *Resolver, c C, env string, input B, refresh ...manager.Refresher) (R, error) {
	m, err := resolveAs[*manager.CommandManager[C, B, R]](r, c.Kind(), query.ModeCommand)
	if err != nil {
		var zero R
		return zero, err
	}
	return m.Trigger(ctx, c, env, input, refresh...)
}
