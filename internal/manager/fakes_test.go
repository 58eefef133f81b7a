package manager_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/chinmina/console-sync/internal/query"
	"github.com/chinmina/console-sync/internal/scheduler"
	"github.com/chinmina/console-sync/internal/state"
)

type itemQuery struct {
	ID string `json:"id"`
	// Rev changes the URL without changing identity.
	Rev int `json:"-"`
}

func (itemQuery) Kind() query.Kind { return "GetItem" }

func itemURL(q itemQuery, _ string) string {
	return fmt.Sprintf("/api/items/%s?rev=%d", q.ID, q.Rev)
}

// item echoes the request that produced it.
type item struct {
	URL string `json:"url"`
	Env string `json:"env"`
}

type call struct {
	URL string
	Env string
}

// fakeFetcher answers every request with an item describing the request.
// Requests for a gated environment block until the gate is released.
type fakeFetcher struct {
	mu    sync.Mutex
	calls []call
	fail  map[string]error
	gates map[string]chan struct{}
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		fail:  map[string]error{},
		gates: map[string]chan struct{}{},
	}
}

func (f *fakeFetcher) gate(env string) func() {
	ch := make(chan struct{})
	f.mu.Lock()
	f.gates[env] = ch
	f.mu.Unlock()
	return func() { close(ch) }
}

func (f *fakeFetcher) failURL(url string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[url] = err
}

func (f *fakeFetcher) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func (f *fakeFetcher) Get(ctx context.Context, url string, env string) (json.RawMessage, error) {
	return f.respond(ctx, url, env)
}

func (f *fakeFetcher) GetWithoutEnvironment(ctx context.Context, url string) (json.RawMessage, error) {
	return f.respond(ctx, url, "")
}

func (f *fakeFetcher) respond(ctx context.Context, url string, env string) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{URL: url, Env: env})
	gate := f.gates[env]
	err := f.fail[url]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(item{URL: url, Env: env})
}

// pagedQuery addresses a slot by every field, but a page cursor replaces
// the rest of the URL.
type pagedQuery struct {
	Sort   string `json:"sort"`
	Cursor string `json:"cursor"`
}

func (pagedQuery) Kind() query.Kind { return "GetPage" }

func pagedURL(q pagedQuery, _ string) string {
	if q.Cursor != "" {
		return "/api/pages?" + q.Cursor
	}
	return "/api/pages?sort=" + q.Sort
}

// recordingRegistry records every registry call in order and keeps the
// tasks so tests can run them.
type recordingRegistry struct {
	mu    sync.Mutex
	calls []string
	tasks map[string]scheduler.Task
}

func newRecordingRegistry() *recordingRegistry {
	return &recordingRegistry{tasks: map[string]scheduler.Task{}}
}

func (r *recordingRegistry) Register(key string, task scheduler.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "register "+key)
	r.tasks[key] = task
}

func (r *recordingRegistry) Unregister(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "unregister "+key)
	delete(r.tasks, key)
}

func (r *recordingRegistry) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// run invokes the task registered under key, as a tick would.
func (r *recordingRegistry) run(ctx context.Context, key string) bool {
	r.mu.Lock()
	task, ok := r.tasks[key]
	r.mu.Unlock()
	if !ok {
		return false
	}
	result, err := task.Effect(ctx)
	if err == nil {
		task.Update(result)
	}
	return true
}

// mapCache keeps slots in a plain map so tests can run inside a synctest
// bubble.
type mapCache struct {
	mu    sync.Mutex
	items map[string]any
}

func (m *mapCache) Get(_ context.Context, key string) (any, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items[key]
	return v, ok, nil
}

func (m *mapCache) Set(_ context.Context, key string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = value
	return nil
}

func (m *mapCache) Invalidate(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *mapCache) Close() error { return nil }

func newStore(t *testing.T) *state.Store {
	t.Helper()
	return state.NewStore(&mapCache{items: map[string]any{}})
}

// sender records commands.
type sender struct {
	mu       sync.Mutex
	requests []sent
	err      error
	reply    json.RawMessage
}

type sent struct {
	Method string
	URL    string
	Env    string
	Body   any
}

func (s *sender) Send(_ context.Context, method string, url string, env string, body any) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, sent{Method: method, URL: url, Env: env, Body: body})
	if s.err != nil {
		return nil, s.err
	}
	return s.reply, nil
}

type refresher struct {
	order *[]string
	name  string
}

func (r refresher) Refresh(context.Context) {
	*r.order = append(*r.order, r.name)
}
