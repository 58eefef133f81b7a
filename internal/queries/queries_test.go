package queries_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/chinmina/console-sync/internal/cache"
	"github.com/chinmina/console-sync/internal/config"
	"github.com/chinmina/console-sync/internal/manager"
	"github.com/chinmina/console-sync/internal/queries"
	"github.com/chinmina/console-sync/internal/query"
	"github.com/chinmina/console-sync/internal/remotedata"
	"github.com/chinmina/console-sync/internal/resolver"
	"github.com/chinmina/console-sync/internal/scheduler"
	"github.com/chinmina/console-sync/internal/state"
	"github.com/chinmina/console-sync/internal/testhelpers"
	"github.com/chinmina/console-sync/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	api       *testhelpers.MockOrchestratorServer
	scheduler *scheduler.Scheduler
	resolver  *resolver.Resolver
}

func setup(t *testing.T) fixture {
	t.Helper()

	api := testhelpers.SetupMockOrchestratorServer(t)
	t.Cleanup(api.Close)

	client, err := transport.New(config.APIConfig{
		BaseURL:      api.URL(),
		TenantHeader: api.TenantHeader,
		Token:        "secret",
		Timeout:      5 * time.Second,
	}, nil)
	require.NoError(t, err)

	backend, err := cache.NewMemory[any](0, 1000)
	require.NoError(t, err)
	store := state.NewStore(backend)
	t.Cleanup(func() { _ = store.Close() })

	sched := scheduler.New(time.Hour)
	r, err := queries.New(manager.Deps{Fetcher: client, Store: store, Scheduler: sched}, client)
	require.NoError(t, err)

	return fixture{api: api, scheduler: sched, resolver: r}
}

// settle waits until the watched entry leaves NotAsked and Loading.
func settle[D any](t *testing.T, watch func() (remotedata.RemoteData[D], <-chan struct{})) remotedata.RemoteData[D] {
	t.Helper()

	deadline := time.After(5 * time.Second)
	for {
		entry, changed := watch()
		if !entry.IsNotAsked() && !entry.IsLoading() {
			return entry
		}
		select {
		case <-changed:
		case <-deadline:
			t.Fatalf("entry did not settle, last state %s", entry.Tag())
		}
	}
}

func TestNew_EveryManagerResolves(t *testing.T) {
	f := setup(t)

	for _, claim := range []struct {
		kind query.Kind
		mode query.Mode
	}{
		{queries.KindServerStatus, query.ModeContinuous},
		{queries.KindServerStatus, query.ModeOneTime},
		{queries.KindEnvironments, query.ModeOneTime},
		{queries.KindResources, query.ModeContinuous},
		{queries.KindResources, query.ModeOneTime},
		{queries.KindResourceDetails, query.ModeOneTime},
		{queries.KindResourceDetails, query.ModeContinuous},
		{queries.KindResourceSummary, query.ModeReadOnly},
		{queries.KindDeploy, query.ModeCommand},
		{queries.KindDeleteEnvironment, query.ModeCommand},
	} {
		_, err := f.resolver.Resolve(claim.kind, claim.mode)
		assert.NoError(t, err, "%s/%s", claim.kind, claim.mode)
	}
}

func TestGetServerStatus(t *testing.T) {
	f := setup(t)

	b, err := resolver.UseOneTime[queries.GetServerStatus, queries.ServerStatus](context.Background(), f.resolver, queries.GetServerStatus{}, "env-1")
	require.NoError(t, err)

	status, ok := settle(t, b.Watch).Value()
	require.True(t, ok)
	assert.Equal(t, "8.0.0", status.Version)

	requests := f.api.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, "/api/v1/serverstatus", requests[0].Path)
	assert.Empty(t, requests[0].Tenant)
	assert.Equal(t, "Bearer secret", requests[0].Auth)
}

func TestGetEnvironments(t *testing.T) {
	f := setup(t)

	b, err := resolver.UseOneTime[queries.GetEnvironments, []queries.Environment](context.Background(), f.resolver, queries.GetEnvironments{Details: true}, "")
	require.NoError(t, err)

	envs, ok := settle(t, b.Watch).Value()
	require.True(t, ok)
	require.Len(t, envs, 1)
	assert.Equal(t, "dev", envs[0].Name)
	assert.Equal(t, "details=true", f.api.Requests()[0].Query)
}

func TestGetResources_ScopedToEnvironment(t *testing.T) {
	f := setup(t)
	q := queries.GetResources{
		PageSize: 20,
		Filter:   query.Filter{"status": {"failed", "deployed"}},
		Sort:     &query.Sort{Name: "resource_type", Order: query.Desc},
	}

	b, err := resolver.UseOneTime[queries.GetResources, queries.ResourceList](context.Background(), f.resolver, q, "env-1")
	require.NoError(t, err)

	assert.Equal(t, "/api/v2/resource?deploy_summary=true&filter.status=deployed&filter.status=failed&limit=20&sort=resource_type.desc", b.URL())

	list, ok := settle(t, b.Watch).Value()
	require.True(t, ok)
	assert.Len(t, list.Data, 2)
	assert.Equal(t, 2, list.Metadata.Total)
	assert.Equal(t, "env-1", f.api.Requests()[0].Tenant)
}

func TestGetResources_PageCursorReplacesParameters(t *testing.T) {
	f := setup(t)
	q := queries.GetResources{
		PageSize:    20,
		CurrentPage: query.PageCursor("/api/v2/resource?limit=20&start=abc"),
	}

	b, err := resolver.UseOneTime[queries.GetResources, queries.ResourceList](context.Background(), f.resolver, q, "env-1")
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, "/api/v2/resource?limit=20&start=abc", b.URL())
}

func TestGetResourceSummary_ProjectsResourcesSlot(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	q := queries.GetResources{PageSize: 20}

	summary, err := resolver.UseReadOnly[queries.GetResourceSummary, *queries.DeploySummary](ctx, f.resolver, queries.GetResourceSummary{Resources: q}, "env-1")
	require.NoError(t, err)
	assert.True(t, summary.Entry().IsNotAsked())

	b, err := resolver.UseContinuous[queries.GetResources, queries.ResourceList](ctx, f.resolver, q, "env-1")
	require.NoError(t, err)
	defer b.Close()

	got, ok := settle(t, summary.Watch).Value()
	require.True(t, ok)
	assert.Equal(t, &queries.DeploySummary{Total: 2, ByState: map[string]int{"deployed": 1, "failed": 1}}, got)
	assert.Equal(t, 1, f.api.RequestCount())
}

func TestGetResources_ContinuousPollsOnTick(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	b, err := resolver.UseContinuous[queries.GetResources, queries.ResourceList](ctx, f.resolver, queries.GetResources{}, "env-1")
	require.NoError(t, err)
	settle(t, b.Watch)
	require.Len(t, f.scheduler.Keys(), 1)

	f.api.Update(func(m *testhelpers.MockOrchestratorServer) {
		m.Resources["env-1"] = m.Resources["env-1"][:1]
	})

	_, changed := b.Watch()
	f.scheduler.Tick(ctx)

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("poll did not update the slot")
	}
	list, ok := b.Entry().Value()
	require.True(t, ok)
	assert.Len(t, list.Data, 1)

	b.Close()
	assert.Empty(t, f.scheduler.Keys())
}

func TestGetResourceDetails_NotFound(t *testing.T) {
	f := setup(t)

	b, err := resolver.UseOneTime[queries.GetResourceDetails, queries.ResourceDetails](context.Background(), f.resolver, queries.GetResourceDetails{ID: "std::File[agent1,path=/tmp/missing]"}, "env-1")
	require.NoError(t, err)

	msg, failed := settle(t, b.Watch).Failed()
	require.True(t, failed)
	assert.Contains(t, msg, "resource not found")
}

func TestGetResourceDetails_EscapesID(t *testing.T) {
	f := setup(t)

	b, err := resolver.UseOneTime[queries.GetResourceDetails, queries.ResourceDetails](context.Background(), f.resolver, queries.GetResourceDetails{ID: "std::File[agent1,path=/tmp/a]"}, "env-1")
	require.NoError(t, err)

	details, ok := settle(t, b.Watch).Value()
	require.True(t, ok)
	assert.Equal(t, "agent1", details.Agent)
}

func TestDeploy_RefreshesResources(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	b, err := resolver.UseOneTime[queries.GetResources, queries.ResourceList](ctx, f.resolver, queries.GetResources{}, "env-1")
	require.NoError(t, err)
	settle(t, b.Watch)

	_, err = resolver.Trigger[queries.Deploy, queries.DeployInput, struct{}](ctx, f.resolver, queries.Deploy{}, "env-1", queries.DeployInput{Agents: []string{"agent1"}}, b)
	require.NoError(t, err)

	requests := f.api.Requests()
	require.Len(t, requests, 3)

	deploy := requests[1]
	assert.Equal(t, http.MethodPost, deploy.Method)
	assert.Equal(t, "/api/v1/deploy", deploy.Path)
	assert.Equal(t, "env-1", deploy.Tenant)

	var body queries.DeployInput
	require.NoError(t, json.Unmarshal(deploy.Body, &body))
	assert.Equal(t, queries.DeployInput{Trigger: queries.IncrementalDeploy, Agents: []string{"agent1"}}, body)

	assert.Equal(t, "/api/v2/resource", requests[2].Path)
}

func TestDeploy_FailureIsReturned(t *testing.T) {
	f := setup(t)
	f.api.Update(func(m *testhelpers.MockOrchestratorServer) {
		m.StatusCode = http.StatusConflict
	})

	_, err := resolver.Trigger[queries.Deploy, queries.DeployInput, struct{}](context.Background(), f.resolver, queries.Deploy{}, "env-1", queries.DeployInput{})

	assert.True(t, transport.IsStatus(err, http.StatusConflict))
}

func TestDeleteEnvironment_IsGlobal(t *testing.T) {
	f := setup(t)

	_, err := resolver.Trigger[queries.DeleteEnvironment, struct{}, struct{}](context.Background(), f.resolver, queries.DeleteEnvironment{ID: "env-1"}, "env-1", struct{}{})
	require.NoError(t, err)

	requests := f.api.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, http.MethodDelete, requests[0].Method)
	assert.Equal(t, "/api/v2/environment/env-1", requests[0].Path)
	assert.Empty(t, requests[0].Tenant)
}
