// Package scheduler runs named recurring tasks on one shared timer.
package scheduler

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/chinmina/console-sync/internal/scheduler"

// Task is one recurring unit of work. Effect is invoked on every tick, and
// its result is handed to Update. Effect should report transport failures as
// part of its result: a returned error only gets logged.
type Task struct {
	Effect func(ctx context.Context) (any, error)
	Update func(result any)
}

// NewTask adapts typed callbacks to a Task.
func NewTask[R any](effect func(ctx context.Context) (R, error), update func(R)) Task {
	return Task{
		Effect: func(ctx context.Context) (any, error) {
			return effect(ctx)
		},
		Update: func(result any) {
			update(result.(R))
		},
	}
}

// Registry is the part of the scheduler that managers depend on.
type Registry interface {
	// Register inserts the task under key, replacing any task already there.
	Register(key string, task Task)
	// Unregister removes the task under key. Absent keys are ignored.
	Unregister(key string)
}

// Scheduler keeps at most one task per key and invokes every registered task
// once per tick. A key whose previous invocation hasn't finished its Update
// is skipped, so Effect never runs twice at once for the same key.
type Scheduler struct {
	interval time.Duration

	mu    sync.Mutex
	tasks map[string]Task
	busy  map[string]bool

	inflight sync.WaitGroup
	metrics  schedulerMetrics
}

var _ Registry = (*Scheduler)(nil)

func New(interval time.Duration) *Scheduler {
	return &Scheduler{
		interval: interval,
		tasks:    make(map[string]Task),
		busy:     make(map[string]bool),
		metrics:  newSchedulerMetrics(),
	}
}

func (s *Scheduler) Register(key string, task Task) {
	s.mu.Lock()
	_, replaced := s.tasks[key]
	s.tasks[key] = task
	s.mu.Unlock()

	if !replaced {
		s.metrics.registered(1)
	}
	log.Debug().Str("task", key).Bool("replaced", replaced).Msg("task registered")
}

func (s *Scheduler) Unregister(key string) {
	s.mu.Lock()
	_, found := s.tasks[key]
	delete(s.tasks, key)
	s.mu.Unlock()

	if found {
		s.metrics.registered(-1)
		log.Debug().Str("task", key).Msg("task unregistered")
	}
}

// Keys lists the registered task keys in sorted order.
func (s *Scheduler) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.tasks))
	for k := range s.tasks {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Run ticks until the context is cancelled, then waits for invocations that
// are still in flight.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.interval).Msg("scheduler started")

	for {
		select {
		case <-ticker.C:
			s.Tick(ctx)
		case <-ctx.Done():
			s.inflight.Wait()
			log.Info().Msg("scheduler shutting down gracefully")
			return
		}
	}
}

// Tick starts one invocation for every registered task that isn't already
// running. It does not wait for them to complete.
func (s *Scheduler) Tick(ctx context.Context) {
	s.mu.Lock()
	due := make(map[string]Task, len(s.tasks))
	for key, task := range s.tasks {
		if s.busy[key] {
			s.metrics.invoked(ctx, "skipped")
			log.Debug().Str("task", key).Msg("previous invocation still running, skipping tick")
			continue
		}
		s.busy[key] = true
		due[key] = task
	}
	s.mu.Unlock()

	for key, task := range due {
		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			s.invoke(ctx, key, task)
		}()
	}
}

// invoke runs a single task invocation with tracing. Panics are recovered so
// one broken task can't stop the others.
func (s *Scheduler) invoke(ctx context.Context, key string, task Task) {
	tracer := otel.Tracer(instrumentationName)
	ctx, span := tracer.Start(ctx, "scheduler_task")
	span.SetAttributes(attribute.String("scheduler.task", key))
	defer span.End()

	defer func() {
		s.mu.Lock()
		delete(s.busy, key)
		s.mu.Unlock()
	}()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic during scheduled task: %v", r)
			span.RecordError(err)
			span.SetStatus(codes.Error, "task panicked")
			s.metrics.invoked(ctx, "panic")
			log.Warn().Str("task", key).Interface("panic", r).Msg("scheduled task panicked, recovered")
		}
	}()

	result, err := task.Effect(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "task effect failed")
		s.metrics.invoked(ctx, "error")
		log.Warn().Str("task", key).Err(err).Msg("scheduled task failed, continuing")
		return
	}

	task.Update(result)
	s.metrics.invoked(ctx, "success")
	span.SetStatus(codes.Ok, "task completed")
}

type schedulerMetrics struct {
	invocations metric.Int64Counter
	tasks       metric.Int64UpDownCounter
}

func newSchedulerMetrics() schedulerMetrics {
	meter := otel.Meter(instrumentationName)

	var m schedulerMetrics
	var err error
	m.invocations, err = meter.Int64Counter(
		"scheduler.task.invocations",
		metric.WithDescription("Scheduled task invocations by outcome"),
	)
	if err != nil {
		otel.Handle(err)
	}

	m.tasks, err = meter.Int64UpDownCounter(
		"scheduler.tasks.registered",
		metric.WithDescription("Tasks currently registered with the scheduler"),
	)
	if err != nil {
		otel.Handle(err)
	}

	return m
}

func (m schedulerMetrics) invoked(ctx context.Context, status string) {
	if m.invocations == nil {
		return
	}
	m.invocations.Add(ctx, 1, metric.WithAttributes(attribute.String("scheduler.status", status)))
}

func (m schedulerMetrics) registered(delta int64) {
	if m.tasks == nil {
		return
	}
	m.tasks.Add(context.Background(), delta)
}
