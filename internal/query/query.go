// Package query defines how a logical data request is identified: its kind,
// the access mode it is consumed with, and the keys derived from it for cache
// slots and scheduler tasks.
package query

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates queries. It selects both the manager and the URL
// template.
type Kind string

// Query is a logical data request. Implementations are plain structs whose
// exported fields are the parameters used to build the request URL.
type Query interface {
	Kind() Kind
}

// Mode is the access pattern a consumer asks for.
type Mode string

const (
	ModeOneTime    Mode = "OneTime"
	ModeContinuous Mode = "Continuous"
	ModeReadOnly   Mode = "ReadOnly"
	ModeCommand    Mode = "Command"
)

// Strategy decides what a slot shows while a new fetch for it is in flight.
type Strategy string

const (
	// StrategyReload always shows Loading while fetching.
	StrategyReload Strategy = "RELOAD"
	// StrategyMerge keeps the previous Success or Failed entry visible until
	// the new result arrives. Only a NotAsked slot is moved to Loading.
	StrategyMerge Strategy = "MERGE"
)

// Key is the identity of a query: its kind and every parameter. Two queries
// with equal keys address the same cache slot.
func Key(q Query) string {
	return string(q.Kind()) + ":" + canonical(q)
}

// EnvKey is the identity of an environment-scoped query.
func EnvKey(q Query, env string) string {
	return Key(q) + "@" + env
}

// TaskKey is the scheduler key for the continuous poller of a query. The
// namespace keeps pollers of different managers apart even when their
// queries are equal.
func TaskKey(namespace string, q Query) string {
	return namespace + "/" + Key(q)
}

// EnvTaskKey is TaskKey for an environment-scoped poller.
func EnvTaskKey(namespace string, q Query, env string) string {
	return namespace + "/" + EnvKey(q, env)
}

// canonical renders the query parameters deterministically. encoding/json
// sorts map keys and keeps struct field order, which is all that's needed.
func canonical(q Query) string {
	b, err := json.Marshal(q)
	if err != nil {
		// queries are plain data; a value that can't be marshalled is
		// identified by its Go representation instead
		return fmt.Sprintf("%#v", q)
	}
	return string(b)
}
