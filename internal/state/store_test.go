package state_test

import (
	"context"
	"testing"

	"github.com/chinmina/console-sync/internal/cache"
	"github.com/chinmina/console-sync/internal/query"
	"github.com/chinmina/console-sync/internal/remotedata"
	"github.com/chinmina/console-sync/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type itemQuery struct {
	ID string `json:"id"`
}

func (itemQuery) Kind() query.Kind { return "GetItem" }

func newStore(t *testing.T) *state.Store {
	t.Helper()
	backend, err := cache.NewMemory[any](0, 100)
	require.NoError(t, err)
	return state.NewStore(backend)
}

func TestHelper_MissingSlotIsNotAsked(t *testing.T) {
	h := state.NewHelper[itemQuery, string](newStore(t))

	assert.True(t, h.GetOnce(context.Background(), itemQuery{ID: "1"}).IsNotAsked())
}

func TestHelper_SetAndGetOnce(t *testing.T) {
	ctx := context.Background()
	h := state.NewHelper[itemQuery, string](newStore(t))

	h.Set(ctx, remotedata.Success("one"), itemQuery{ID: "1"})

	assert.Equal(t, remotedata.Success("one"), h.GetOnce(ctx, itemQuery{ID: "1"}))
	assert.True(t, h.GetOnce(ctx, itemQuery{ID: "2"}).IsNotAsked())
}

func TestHelper_ForeignTypeIsNotAsked(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	strings := state.NewHelper[itemQuery, string](store)
	ints := state.NewHelper[itemQuery, int](store)

	strings.Set(ctx, remotedata.Success("one"), itemQuery{ID: "1"})

	assert.True(t, ints.GetOnce(ctx, itemQuery{ID: "1"}).IsNotAsked())
}

func TestHelper_GetHookedSignalsNextWrite(t *testing.T) {
	ctx := context.Background()
	h := state.NewHelper[itemQuery, string](newStore(t))
	q := itemQuery{ID: "1"}

	entry, changed := h.GetHooked(ctx, q)
	assert.True(t, entry.IsNotAsked())

	select {
	case <-changed:
		t.Fatal("watch fired before any write")
	default:
	}

	h.Set(ctx, remotedata.Loading[string](), q)

	select {
	case <-changed:
	default:
		t.Fatal("watch did not fire after write")
	}

	entry, changed = h.GetHooked(ctx, q)
	assert.True(t, entry.IsLoading())

	// writes to other slots don't wake this watcher
	h.Set(ctx, remotedata.Success("two"), itemQuery{ID: "2"})
	select {
	case <-changed:
		t.Fatal("watch fired for another slot")
	default:
	}
}

func TestHelperWithEnv_SlotsArePartitioned(t *testing.T) {
	ctx := context.Background()
	h := state.NewHelperWithEnv[itemQuery, string](newStore(t))
	q := itemQuery{ID: "1"}

	h.Set(ctx, remotedata.Success("a"), q, "env-a")

	assert.Equal(t, remotedata.Success("a"), h.GetOnce(ctx, q, "env-a"))
	assert.True(t, h.GetOnce(ctx, q, "env-b").IsNotAsked())

	entry, changed := h.GetHooked(ctx, q, "env-b")
	assert.True(t, entry.IsNotAsked())

	h.Set(ctx, remotedata.Success("a2"), q, "env-a")
	select {
	case <-changed:
		t.Fatal("env-b watcher woken by env-a write")
	default:
	}
}

func TestHelper_GlobalAndEnvSlotsDoNotAlias(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	global := state.NewHelper[itemQuery, string](store)
	scoped := state.NewHelperWithEnv[itemQuery, string](store)
	q := itemQuery{ID: "1"}

	global.Set(ctx, remotedata.Success("global"), q)

	assert.True(t, scoped.GetOnce(ctx, q, "").IsNotAsked())
}
