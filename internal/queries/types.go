package queries

import (
	"time"

	"github.com/chinmina/console-sync/internal/query"
)

type ServerStatus struct {
	Product    string      `json:"product"`
	Edition    string      `json:"edition"`
	Version    string      `json:"version"`
	License    any         `json:"license,omitempty"`
	Extensions []Extension `json:"extensions"`
	Slices     []Slice     `json:"slices"`
	Features   []Feature   `json:"features"`
}

type Extension struct {
	Name    string `json:"name"`
	Package string `json:"package"`
	Version string `json:"version"`
}

type Slice struct {
	Name   string         `json:"name"`
	Status map[string]any `json:"status"`
}

type Feature struct {
	Slice string `json:"slice"`
	Name  string `json:"name"`
	Value any    `json:"value"`
}

type Environment struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	ProjectID   string         `json:"project_id"`
	RepoURL     string         `json:"repo_url"`
	RepoBranch  string         `json:"repo_branch"`
	Description string         `json:"description,omitempty"`
	Halted      bool           `json:"halted"`
	Settings    map[string]any `json:"settings,omitempty"`
}

// ResourceIDDetails is the parsed form of a resource id such as
// std::File[agent1,path=/tmp/x].
type ResourceIDDetails struct {
	ResourceType    string `json:"resource_type"`
	Agent           string `json:"agent"`
	Attribute       string `json:"attribute"`
	ResourceIDValue string `json:"resource_id_value"`
}

type Resource struct {
	ResourceID     string            `json:"resource_id"`
	IDDetails      ResourceIDDetails `json:"id_details"`
	RequiresLength int               `json:"requires_length"`
	Status         string            `json:"status"`
}

// DeploySummary counts the resources of an environment by deploy state.
type DeploySummary struct {
	Total   int            `json:"total"`
	ByState map[string]int `json:"by_state"`
}

type ResourceMetadata struct {
	query.Metadata
	DeploySummary *DeploySummary `json:"deploy_summary,omitempty"`
}

// ResourceList is one page of resources.
type ResourceList struct {
	Data     []Resource       `json:"data"`
	Links    query.Links      `json:"links"`
	Metadata ResourceMetadata `json:"metadata"`
}

type ResourceDetails struct {
	ResourceID            string            `json:"resource_id"`
	ResourceType          string            `json:"resource_type"`
	Agent                 string            `json:"agent"`
	IDAttribute           string            `json:"id_attribute"`
	IDAttributeValue      string            `json:"id_attribute_value"`
	LastDeploy            *time.Time        `json:"last_deploy,omitempty"`
	FirstGeneratedTime    *time.Time        `json:"first_generated_time,omitempty"`
	FirstGeneratedVersion int               `json:"first_generated_version"`
	Attributes            map[string]any    `json:"attributes"`
	Status                string            `json:"status"`
	RequiresStatus        map[string]string `json:"requires_status"`
}

// AgentTrigger selects how agents redeploy.
type AgentTrigger string

const (
	IncrementalDeploy AgentTrigger = "push_incremental_deploy"
	FullDeploy        AgentTrigger = "push_full_deploy"
)

// DeployInput is the body of a deploy command. No agents means every agent.
type DeployInput struct {
	Trigger AgentTrigger `json:"agent_trigger_method"`
	Agents  []string     `json:"agents,omitempty"`
}
