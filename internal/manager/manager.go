// Package manager turns queries into cache writes.
//
// Each manager claims one (kind, mode) pair. Consumers get a Binding from a
// manager: rendering the binding with a query (and environment) fetches the
// data when the URL derived from them changes, and closing it tears down any
// polling it started.
package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/chinmina/console-sync/internal/query"
	"github.com/chinmina/console-sync/internal/remotedata"
	"github.com/chinmina/console-sync/internal/scheduler"
	"github.com/chinmina/console-sync/internal/state"
	"github.com/chinmina/console-sync/internal/transport"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/chinmina/console-sync/internal/manager"

// Manager is the part of every manager the resolver matches on.
type Manager interface {
	Kind() query.Kind
	Mode() query.Mode
	Matches(kind query.Kind, mode query.Mode) bool
}

type claim struct {
	kind query.Kind
	mode query.Mode
}

func (c claim) Kind() query.Kind { return c.kind }
func (c claim) Mode() query.Mode { return c.mode }

func (c claim) Matches(kind query.Kind, mode query.Mode) bool {
	return kind == c.kind && mode == c.mode
}

// Spec describes how a query kind maps to a request and a value.
type Spec[Q query.Query, D any] struct {
	Kind query.Kind

	// URL builds the request URL. env is empty for managers that are not
	// environment-scoped.
	URL func(q Q, env string) string

	// Parse converts the response body. Defaults to decoding JSON into D.
	Parse func(body json.RawMessage) (D, error)

	// Strategy defaults to StrategyReload.
	Strategy query.Strategy
}

func (s Spec[Q, D]) validate() error {
	if s.Kind == "" {
		return errors.New("manager spec requires a kind")
	}
	if s.URL == nil {
		return fmt.Errorf("manager spec for %s requires a URL function", s.Kind)
	}
	switch s.Strategy {
	case "", query.StrategyReload, query.StrategyMerge:
		return nil
	default:
		return fmt.Errorf("manager spec for %s has unknown strategy %q", s.Kind, s.Strategy)
	}
}

// DecodeJSON is the default Parse: the body is decoded into D as-is.
func DecodeJSON[D any](body json.RawMessage) (D, error) {
	var d D
	if len(body) == 0 {
		return d, errors.New("empty response body")
	}
	if err := json.Unmarshal(body, &d); err != nil {
		return d, fmt.Errorf("decoding response: %w", err)
	}
	return d, nil
}

// DecodeData decodes the common {"data": ...} envelope.
func DecodeData[D any](body json.RawMessage) (D, error) {
	envelope, err := DecodeJSON[struct {
		Data D `json:"data"`
	}](body)
	return envelope.Data, err
}

// Deps are the collaborators shared by query managers.
type Deps struct {
	Fetcher   transport.Fetcher
	Store     *state.Store
	Scheduler scheduler.Registry
}

// fetcher performs a request for one query kind and converts the outcome to
// an entry. Transport failures become Failed entries; nothing is returned as
// an error.
type fetcher[Q query.Query, D any] struct {
	kind     query.Kind
	scoped   bool
	fetch    transport.Fetcher
	parse    func(json.RawMessage) (D, error)
	outcomes metric.Int64Counter
}

func newFetcher[Q query.Query, D any](spec Spec[Q, D], scoped bool, f transport.Fetcher) fetcher[Q, D] {
	parse := spec.Parse
	if parse == nil {
		parse = DecodeJSON[D]
	}
	return fetcher[Q, D]{
		kind:     spec.Kind,
		scoped:   scoped,
		fetch:    f,
		parse:    parse,
		outcomes: fetchOutcomes(),
	}
}

func (f fetcher[Q, D]) run(ctx context.Context, url string, env string) remotedata.RemoteData[D] {
	tracer := otel.Tracer(instrumentationName)
	ctx, span := tracer.Start(ctx, "query_fetch")
	span.SetAttributes(
		attribute.String("query.kind", string(f.kind)),
		attribute.Bool("query.env_scoped", f.scoped),
	)
	defer span.End()

	var body json.RawMessage
	var err error
	if f.scoped {
		body, err = f.fetch.Get(ctx, url, env)
	} else {
		body, err = f.fetch.GetWithoutEnvironment(ctx, url)
	}

	var entry remotedata.RemoteData[D]
	if err == nil {
		var d D
		d, err = f.parse(body)
		entry = remotedata.FromResult(d, err)
	} else {
		entry = remotedata.Failed[D](err.Error())
	}

	status := "success"
	if err != nil {
		status = "failed"
		span.RecordError(err)
		span.SetStatus(codes.Error, "query fetch failed")
		log.Ctx(ctx).Info().Err(err).Str("kind", string(f.kind)).Str("url", url).Msg("query fetch failed")
	}
	if f.outcomes != nil {
		f.outcomes.Add(ctx, 1, metric.WithAttributes(
			attribute.String("query.kind", string(f.kind)),
			attribute.String("query.status", status),
		))
	}

	return entry
}

var (
	outcomesOnce    sync.Once
	outcomesCounter metric.Int64Counter
)

func fetchOutcomes() metric.Int64Counter {
	outcomesOnce.Do(func() {
		var err error
		outcomesCounter, err = otel.Meter(instrumentationName).Int64Counter(
			"query.fetches",
			metric.WithDescription("Query fetches by kind and outcome"),
		)
		if err != nil {
			otel.Handle(err)
		}
	})
	return outcomesCounter
}
