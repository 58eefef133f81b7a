// Package audit records one structured log entry for every command sent to
// the orchestrator.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Level is above Warn so audit entries survive the CLI's quiet default.
const Level = zerolog.Level(20)

type key struct{}

// Entry is the audit record of a single command.
type Entry struct {
	Kind        string
	Method      string
	Path        string
	Environment string
	Agents      []string
	Status      int
	Refreshed   int
	Error       string
	Duration    time.Duration
}

func (e *Entry) MarshalZerologObject(event *zerolog.Event) {
	if e.Kind != "" {
		event.Str("kind", e.Kind)
	}

	var request OptionalEvent
	request.
		Str("method", e.Method).
		Str("path", e.Path).
		Int("status", e.Status)
	request.Set(event, "request")

	var command OptionalEvent
	command.
		Str("environment", e.Environment).
		Strs("agents", e.Agents).
		Int("refreshed", e.Refreshed)
	command.Set(event, "command")

	if e.Error != "" {
		event.Str("error", e.Error)
	}
	if e.Duration > 0 {
		event.Dur("duration", e.Duration)
	}
}

// Log returns the entry attached to ctx, or a detached entry when there is
// none, so callers can always write to the result.
func Log(ctx context.Context) *Entry {
	if e, ok := ctx.Value(key{}).(*Entry); ok {
		return e
	}
	return &Entry{}
}

// Context attaches a new entry to ctx. An entry already present is shadowed,
// so nested commands are recorded separately.
func Context(ctx context.Context) (context.Context, *Entry) {
	e := &Entry{}
	return context.WithValue(ctx, key{}, e), e
}

// Begin starts timing the entry. The returned func writes it, and must be
// deferred: a panic is recorded in the entry before being re-raised.
func (e *Entry) Begin(ctx context.Context) func() {
	start := time.Now()

	return func() {
		e.Duration = time.Since(start)

		if r := recover(); r != nil {
			if e.Error != "" {
				e.Error += "; "
			}
			e.Error += fmt.Sprintf("panic: %v", r)
			e.write(ctx)
			panic(r)
		}

		e.write(ctx)
	}
}

func (e *Entry) write(ctx context.Context) {
	log.Ctx(ctx).WithLevel(Level).EmbedObject(e).Msg("audit_event")
}
