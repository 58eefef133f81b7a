package state

import (
	"context"

	"github.com/chinmina/console-sync/internal/query"
	"github.com/chinmina/console-sync/internal/remotedata"
)

// Helper reads and writes the globally scoped slots of one query type.
type Helper[Q query.Query, D any] struct {
	store *Store
}

func NewHelper[Q query.Query, D any](store *Store) *Helper[Q, D] {
	return &Helper[Q, D]{store: store}
}

func (h *Helper[Q, D]) Key(q Q) string {
	return query.Key(q)
}

func (h *Helper[Q, D]) Set(ctx context.Context, entry remotedata.RemoteData[D], q Q) {
	h.store.Set(ctx, h.Key(q), entry)
}

// GetOnce is a plain, non-reactive read.
func (h *Helper[Q, D]) GetOnce(ctx context.Context, q Q) remotedata.RemoteData[D] {
	return read[D](ctx, h.store, h.Key(q))
}

// GetHooked reads the slot and returns a channel closed on its next change.
func (h *Helper[Q, D]) GetHooked(ctx context.Context, q Q) (remotedata.RemoteData[D], <-chan struct{}) {
	key := h.Key(q)
	changed := h.store.Watch(key)
	return read[D](ctx, h.store, key), changed
}

// HelperWithEnv reads and writes slots partitioned by environment. Slots of
// different environments never alias, whatever the query parameters are.
type HelperWithEnv[Q query.Query, D any] struct {
	store *Store
}

func NewHelperWithEnv[Q query.Query, D any](store *Store) *HelperWithEnv[Q, D] {
	return &HelperWithEnv[Q, D]{store: store}
}

func (h *HelperWithEnv[Q, D]) Key(q Q, env string) string {
	return query.EnvKey(q, env)
}

func (h *HelperWithEnv[Q, D]) Set(ctx context.Context, entry remotedata.RemoteData[D], q Q, env string) {
	h.store.Set(ctx, h.Key(q, env), entry)
}

func (h *HelperWithEnv[Q, D]) GetOnce(ctx context.Context, q Q, env string) remotedata.RemoteData[D] {
	return read[D](ctx, h.store, h.Key(q, env))
}

func (h *HelperWithEnv[Q, D]) GetHooked(ctx context.Context, q Q, env string) (remotedata.RemoteData[D], <-chan struct{}) {
	key := h.Key(q, env)
	changed := h.store.Watch(key)
	return read[D](ctx, h.store, key), changed
}

// read treats a missing or foreign slot as NotAsked.
func read[D any](ctx context.Context, store *Store, key string) remotedata.RemoteData[D] {
	v, found := store.Get(ctx, key)
	if !found {
		return remotedata.NotAsked[D]()
	}
	entry, ok := v.(remotedata.RemoteData[D])
	if !ok {
		return remotedata.NotAsked[D]()
	}
	return entry
}
