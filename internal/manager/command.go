package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/chinmina/console-sync/internal/audit"
	"github.com/chinmina/console-sync/internal/query"
	"github.com/chinmina/console-sync/internal/transport"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// CommandSpec describes a non-GET request. C is the command, B the input
// supplied when triggering it, and R the parsed response.
type CommandSpec[C query.Query, B any, R any] struct {
	Kind   query.Kind
	Method string

	// URL builds the request URL. env is empty for global commands.
	URL func(c C, env string) string

	// Body builds the request payload. Nil sends no body.
	Body func(c C, input B) any

	// Parse converts the response body. Defaults to ignoring it.
	Parse func(body json.RawMessage) (R, error)

	// Describe adds command-specific fields to the audit entry. Optional.
	Describe func(c C, input B, entry *audit.Entry)
}

// Refresher is anything that can be refreshed after a command succeeds,
// typically an open Binding showing data the command changed.
type Refresher interface {
	Refresh(ctx context.Context)
}

// CommandManager sends one command kind. Failures are returned, never
// written into the cache.
type CommandManager[C query.Query, B any, R any] struct {
	claim
	spec   CommandSpec[C, B, R]
	scoped bool
	sender transport.Sender
}

// NewCommand sends commands without a tenant header.
func NewCommand[C query.Query, B any, R any](spec CommandSpec[C, B, R], sender transport.Sender) (*CommandManager[C, B, R], error) {
	return newCommandManager(spec, sender, false)
}

// NewCommandWithEnv sends commands scoped to the active environment.
func NewCommandWithEnv[C query.Query, B any, R any](spec CommandSpec[C, B, R], sender transport.Sender) (*CommandManager[C, B, R], error) {
	return newCommandManager(spec, sender, true)
}

func newCommandManager[C query.Query, B any, R any](spec CommandSpec[C, B, R], sender transport.Sender, scoped bool) (*CommandManager[C, B, R], error) {
	if spec.Kind == "" || spec.URL == nil {
		return nil, errors.New("command spec requires a kind and a URL function")
	}
	switch spec.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return nil, fmt.Errorf("command %s has unsupported method %q", spec.Kind, spec.Method)
	}
	if sender == nil {
		return nil, errors.New("command manager requires a sender")
	}

	return &CommandManager[C, B, R]{
		claim:  claim{kind: spec.Kind, mode: query.ModeCommand},
		spec:   spec,
		scoped: scoped,
		sender: sender,
	}, nil
}

// Trigger sends the command. When it succeeds every refresher is refreshed
// in order before Trigger returns.
func (m *CommandManager[C, B, R]) Trigger(ctx context.Context, c C, env string, input B, refresh ...Refresher) (R, error) {
	var zero R
	if !m.scoped {
		env = ""
	} else if env == "" {
		return zero, fmt.Errorf("command %s requires an environment", m.kind)
	}

	ctx, entry := audit.Context(ctx)
	defer entry.Begin(ctx)()

	url := m.spec.URL(c, env)
	entry.Kind = string(m.kind)
	entry.Method = m.spec.Method
	entry.Path = url
	entry.Environment = env
	if m.spec.Describe != nil {
		m.spec.Describe(c, input, entry)
	}

	tracer := otel.Tracer(instrumentationName)
	ctx, span := tracer.Start(ctx, "command_trigger")
	span.SetAttributes(
		attribute.String("command.kind", string(m.kind)),
		attribute.String("command.method", m.spec.Method),
	)
	defer span.End()

	var body any
	if m.spec.Body != nil {
		body = m.spec.Body(c, input)
	}

	resp, err := m.sender.Send(ctx, m.spec.Method, url, env, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "command failed")
		log.Ctx(ctx).Info().Err(err).Str("kind", string(m.kind)).Msg("command failed")
		entry.Error = err.Error()
		var httpErr *transport.HTTPError
		if errors.As(err, &httpErr) {
			entry.Status = httpErr.Status
		}
		return zero, err
	}

	result := zero
	if m.spec.Parse != nil {
		result, err = m.spec.Parse(resp)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "command response invalid")
			entry.Error = err.Error()
			return zero, fmt.Errorf("command %s: %w", m.kind, err)
		}
	}

	for _, r := range refresh {
		r.Refresh(ctx)
	}
	entry.Refreshed = len(refresh)

	span.SetStatus(codes.Ok, "command sent")
	return result, nil
}
