// Package queries defines the orchestrator API's query and command kinds and
// wires a manager for every (kind, mode) the console consumes.
package queries

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/chinmina/console-sync/internal/audit"
	"github.com/chinmina/console-sync/internal/manager"
	"github.com/chinmina/console-sync/internal/query"
	"github.com/chinmina/console-sync/internal/resolver"
	"github.com/chinmina/console-sync/internal/transport"
	"github.com/rs/zerolog/log"
)

const (
	KindServerStatus      query.Kind = "GetServerStatus"
	KindEnvironments      query.Kind = "GetEnvironments"
	KindResources         query.Kind = "GetResources"
	KindResourceDetails   query.Kind = "GetResourceDetails"
	KindResourceSummary   query.Kind = "GetResourceSummary"
	KindDeploy            query.Kind = "Deploy"
	KindDeleteEnvironment query.Kind = "DeleteEnvironment"
)

type GetServerStatus struct{}

func (GetServerStatus) Kind() query.Kind { return KindServerStatus }

type GetEnvironments struct {
	Details bool `json:"details" url:"details"`
}

func (GetEnvironments) Kind() query.Kind { return KindEnvironments }

// GetResources lists the resources of the active environment, one page at a
// time.
type GetResources struct {
	PageSize    query.PageSize    `json:"pageSize"`
	Filter      query.Filter      `json:"filter,omitempty"`
	Sort        *query.Sort       `json:"sort,omitempty"`
	CurrentPage query.CurrentPage `json:"currentPage,omitempty"`
}

func (GetResources) Kind() query.Kind { return KindResources }

type resourceParams struct {
	Limit         int    `url:"limit,omitempty"`
	Sort          string `url:"sort,omitempty"`
	DeploySummary bool   `url:"deploy_summary"`
}

func (q GetResources) url() string {
	values := encode(resourceParams{
		Limit:         int(q.PageSize),
		Sort:          query.SortParam(q.Sort),
		DeploySummary: true,
	})
	query.FilterParams(values, q.Filter)
	return query.Join("/api/v2/resource", values, q.CurrentPage)
}

type GetResourceDetails struct {
	ID string `json:"id"`
}

func (GetResourceDetails) Kind() query.Kind { return KindResourceDetails }

// GetResourceSummary reads the deploy summary delivered alongside a
// GetResources page. It never fetches on its own.
type GetResourceSummary struct {
	Resources GetResources `json:"resources"`
}

func (GetResourceSummary) Kind() query.Kind { return KindResourceSummary }

type Deploy struct{}

func (Deploy) Kind() query.Kind { return KindDeploy }

type DeleteEnvironment struct {
	ID string `json:"id"`
}

func (DeleteEnvironment) Kind() query.Kind { return KindDeleteEnvironment }

func encode(params any) url.Values {
	values, err := query.EncodeParams(params)
	if err != nil {
		log.Error().Err(err).Msg("query parameters could not be encoded")
		return url.Values{}
	}
	return values
}

func serverStatusSpec() manager.Spec[GetServerStatus, ServerStatus] {
	return manager.Spec[GetServerStatus, ServerStatus]{
		Kind:  KindServerStatus,
		URL:   func(GetServerStatus, string) string { return "/api/v1/serverstatus" },
		Parse: manager.DecodeData[ServerStatus],
	}
}

func environmentsSpec() manager.Spec[GetEnvironments, []Environment] {
	return manager.Spec[GetEnvironments, []Environment]{
		Kind: KindEnvironments,
		URL: func(q GetEnvironments, _ string) string {
			return query.Join("/api/v2/environment", encode(q), "")
		},
		Parse: manager.DecodeData[[]Environment],
	}
}

func resourcesSpec() manager.Spec[GetResources, ResourceList] {
	return manager.Spec[GetResources, ResourceList]{
		Kind: KindResources,
		URL:  func(q GetResources, _ string) string { return q.url() },
		// the previous page stays visible while a poll is in flight
		Strategy: query.StrategyMerge,
	}
}

func resourceDetailsSpec() manager.Spec[GetResourceDetails, ResourceDetails] {
	return manager.Spec[GetResourceDetails, ResourceDetails]{
		Kind: KindResourceDetails,
		URL: func(q GetResourceDetails, _ string) string {
			return "/api/v2/resource/" + url.PathEscape(q.ID)
		},
		Parse: manager.DecodeData[ResourceDetails],
	}
}

func resourceSummarySpec() manager.ReadOnlySpec[GetResourceSummary, GetResources, ResourceList, *DeploySummary] {
	return manager.ReadOnlySpec[GetResourceSummary, GetResources, ResourceList, *DeploySummary]{
		Kind:    KindResourceSummary,
		Source:  func(q GetResourceSummary) GetResources { return q.Resources },
		Project: func(list ResourceList) *DeploySummary { return list.Metadata.DeploySummary },
	}
}

func deploySpec() manager.CommandSpec[Deploy, DeployInput, struct{}] {
	return manager.CommandSpec[Deploy, DeployInput, struct{}]{
		Kind:   KindDeploy,
		Method: http.MethodPost,
		URL:    func(Deploy, string) string { return "/api/v1/deploy" },
		Body: func(_ Deploy, input DeployInput) any {
			if input.Trigger == "" {
				input.Trigger = IncrementalDeploy
			}
			return input
		},
		Describe: func(_ Deploy, input DeployInput, entry *audit.Entry) {
			entry.Agents = input.Agents
		},
	}
}

func deleteEnvironmentSpec() manager.CommandSpec[DeleteEnvironment, struct{}, struct{}] {
	return manager.CommandSpec[DeleteEnvironment, struct{}, struct{}]{
		Kind:   KindDeleteEnvironment,
		Method: http.MethodDelete,
		URL: func(c DeleteEnvironment, _ string) string {
			return "/api/v2/environment/" + url.PathEscape(c.ID)
		},
	}
}

// New builds every manager and returns the resolver over them. Continuous
// managers register their pollers with deps.Scheduler.
func New(deps manager.Deps, sender transport.Sender) (*resolver.Resolver, error) {
	var errs []error
	keep := func(m manager.Manager, err error) manager.Manager {
		errs = append(errs, err)
		return m
	}

	managers := []manager.Manager{
		keep(manager.NewContinuous(serverStatusSpec(), deps)),
		keep(manager.NewOneTime(serverStatusSpec(), deps)),
		keep(manager.NewOneTime(environmentsSpec(), deps)),
		keep(manager.NewContinuousWithEnv(resourcesSpec(), deps)),
		keep(manager.NewOneTimeWithEnv(resourcesSpec(), deps)),
		keep(manager.NewOneTimeWithEnv(resourceDetailsSpec(), deps)),
		keep(manager.NewContinuousWithEnv(resourceDetailsSpec(), deps)),
		keep(manager.NewReadOnlyWithEnv(resourceSummarySpec(), deps.Store)),
		keep(manager.NewCommandWithEnv(deploySpec(), sender)),
		keep(manager.NewCommand(deleteEnvironmentSpec(), sender)),
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	return resolver.New(managers...)
}
