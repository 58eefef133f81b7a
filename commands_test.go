package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/chinmina/console-sync/internal/config"
	"github.com/chinmina/console-sync/internal/remotedata"
	"github.com/chinmina/console-sync/internal/testhelpers"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(api *testhelpers.MockOrchestratorServer) config.Config {
	return config.Config{
		API: config.APIConfig{
			BaseURL:      api.URL(),
			TenantHeader: api.TenantHeader,
			Timeout:      5 * time.Second,
		},
		Cache: config.CacheConfig{
			Type:    "memory",
			MaxSize: 1000,
		},
		Scheduler: config.SchedulerConfig{
			Interval: 10 * time.Millisecond,
		},
	}
}

// runCLI executes the command line against the mock API and tears down
// afterwards, as main does.
func runCLI(t *testing.T, api *testhelpers.MockOrchestratorServer, args ...string) (string, error) {
	t.Helper()
	color.NoColor = true

	var out bytes.Buffer
	cmd, finish := newRootCommand(&out, func(context.Context) (config.Config, error) {
		return testConfig(api), nil
	})
	cmd.SetArgs(args)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := cmd.ExecuteContext(ctx)
	require.NoError(t, finish())

	return out.String(), err
}

func setupAPI(t *testing.T) *testhelpers.MockOrchestratorServer {
	t.Helper()
	api := testhelpers.SetupMockOrchestratorServer(t)
	t.Cleanup(api.Close)
	return api
}

func TestGetStatus(t *testing.T) {
	api := setupAPI(t)

	out, err := runCLI(t, api, "get", "status")
	require.NoError(t, err)

	assert.Contains(t, out, "Success\n")
	assert.Contains(t, out, "version: 8.0.0")
}

func TestGetEnvironments_JSON(t *testing.T) {
	api := setupAPI(t)

	out, err := runCLI(t, api, "get", "environments", "--details", "-o", "json")
	require.NoError(t, err)

	assert.Contains(t, out, `"name": "dev"`)
	assert.Equal(t, "details=true", api.Requests()[0].Query)
}

func TestGetResources_Flags(t *testing.T) {
	api := setupAPI(t)

	out, err := runCLI(t, api, "get", "resources", "--env", "env-1",
		"--limit", "5", "--filter", "status=failed", "--filter", "status=deployed", "--sort", "resource_type.desc")
	require.NoError(t, err)

	assert.Contains(t, out, "std::File[agent1,path=/tmp/b]")

	requests := api.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, "env-1", requests[0].Tenant)
	assert.Equal(t, "deploy_summary=true&filter.status=deployed&filter.status=failed&limit=5&sort=resource_type.desc", requests[0].Query)
}

func TestGetResources_RequiresEnvironment(t *testing.T) {
	api := setupAPI(t)

	_, err := runCLI(t, api, "get", "resources")

	assert.ErrorContains(t, err, "--env is required")
	assert.Zero(t, api.RequestCount())
}

func TestGetResources_InvalidSort(t *testing.T) {
	api := setupAPI(t)

	_, err := runCLI(t, api, "get", "resources", "--env", "env-1", "--sort", "resource_type")

	assert.ErrorContains(t, err, "invalid sort")
}

func TestGetResource_NotFoundPrintsFailure(t *testing.T) {
	api := setupAPI(t)

	out, err := runCLI(t, api, "get", "resource", "missing", "--env", "env-1")
	require.NoError(t, err)

	assert.Contains(t, out, "Failed: ")
	assert.Contains(t, out, "resource not found")
}

func TestWatchResources_StopsPollingOnExit(t *testing.T) {
	api := setupAPI(t)

	out, err := runCLI(t, api, "watch", "resources", "--env", "env-1", "--ticks", "3")
	require.NoError(t, err)

	assert.Contains(t, out, "Success\n")

	// teardown unregistered the poller and stopped the scheduler
	settled := api.RequestCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, api.RequestCount())
}

func TestSummary(t *testing.T) {
	api := setupAPI(t)

	out, err := runCLI(t, api, "summary", "--env", "env-1", "--ticks", "3")
	require.NoError(t, err)

	assert.Contains(t, out, "total: 2")
}

func TestDeploy(t *testing.T) {
	api := setupAPI(t)

	out, err := runCLI(t, api, "deploy", "--env", "env-1", "--full", "--agent", "agent1")
	require.NoError(t, err)

	assert.Equal(t, "deploy requested (push_full_deploy)\n", out)

	requests := api.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, http.MethodPost, requests[0].Method)

	var body map[string]any
	require.NoError(t, json.Unmarshal(requests[0].Body, &body))
	assert.Equal(t, "push_full_deploy", body["agent_trigger_method"])
	assert.Equal(t, []any{"agent1"}, body["agents"])
}

func TestDeploy_Failure(t *testing.T) {
	api := setupAPI(t)
	api.Update(func(m *testhelpers.MockOrchestratorServer) {
		m.StatusCode = http.StatusServiceUnavailable
	})

	_, err := runCLI(t, api, "deploy", "--env", "env-1")

	assert.ErrorContains(t, err, "deploy failed")
}

func TestDeleteEnvironment(t *testing.T) {
	api := setupAPI(t)

	out, err := runCLI(t, api, "delete-environment", "env-1")
	require.NoError(t, err)

	assert.Equal(t, "environment env-1 deleted\n", out)
	assert.Equal(t, http.MethodDelete, api.Requests()[0].Method)
}

func TestUnsupportedOutput(t *testing.T) {
	api := setupAPI(t)

	_, err := runCLI(t, api, "get", "status", "-o", "xml")

	assert.ErrorContains(t, err, `unsupported output format "xml"`)
	assert.Zero(t, api.RequestCount())
}

func TestPrinterLabel(t *testing.T) {
	color.NoColor = true
	p, err := newPrinter(&bytes.Buffer{}, "yaml")
	require.NoError(t, err)

	assert.Equal(t, "Not Asked", p.label(remotedata.TagNotAsked))
	assert.Equal(t, "Loading", p.label(remotedata.TagLoading))
	assert.Equal(t, "Success", p.label(remotedata.TagSuccess))
	assert.Equal(t, "Failed", p.label(remotedata.TagFailed))
}
