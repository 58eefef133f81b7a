package cache

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	metricsOnce     sync.Once
	cacheOperations metric.Int64Counter
	cacheDuration   metric.Float64Histogram
)

func initMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter("github.com/chinmina/console-sync/internal/cache")

		var err error
		cacheOperations, err = meter.Int64Counter(
			"cache.operations",
			metric.WithDescription("Total cache slot operations"),
		)
		if err != nil {
			otel.Handle(err)
		}

		cacheDuration, err = meter.Float64Histogram(
			"cache.operation.duration",
			metric.WithDescription("Cache slot operation duration"),
			metric.WithUnit("s"),
		)
		if err != nil {
			otel.Handle(err)
		}
	})
}

// Instrumented wraps a Cache with metrics instrumentation.
type Instrumented[T any] struct {
	wrapped   Cache[T]
	cacheType string
}

// NewInstrumented creates an instrumented cache wrapper.
func NewInstrumented[T any](cache Cache[T], cacheType string) *Instrumented[T] {
	initMetrics()
	return &Instrumented[T]{
		wrapped:   cache,
		cacheType: cacheType,
	}
}

func (i *Instrumented[T]) Get(ctx context.Context, key string) (T, bool, error) {
	start := time.Now()
	value, found, err := i.wrapped.Get(ctx, key)

	status := "miss"
	switch {
	case err != nil:
		status = "error"
	case found:
		status = "hit"
	}
	i.record(ctx, "get", status, time.Since(start))

	return value, found, err
}

func (i *Instrumented[T]) Set(ctx context.Context, key string, value T) error {
	start := time.Now()
	err := i.wrapped.Set(ctx, key, value)
	i.record(ctx, "set", errorStatus(err), time.Since(start))

	return err
}

func (i *Instrumented[T]) Invalidate(ctx context.Context, key string) error {
	start := time.Now()
	err := i.wrapped.Invalidate(ctx, key)
	i.record(ctx, "invalidate", errorStatus(err), time.Since(start))

	return err
}

func (i *Instrumented[T]) Close() error {
	return i.wrapped.Close()
}

func (i *Instrumented[T]) record(ctx context.Context, operation, status string, duration time.Duration) {
	typeAttr := attribute.String("cache.type", i.cacheType)
	opAttr := attribute.String("cache.operation", operation)

	if cacheOperations != nil {
		cacheOperations.Add(ctx, 1, metric.WithAttributes(typeAttr, opAttr, attribute.String("cache.status", status)))
	}
	if cacheDuration != nil {
		cacheDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(typeAttr, opAttr))
	}

	// only annotate spans that are actually recording: slot reads happen on
	// every render and would otherwise churn attributes on the parent span
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetAttributes(
			typeAttr,
			attribute.String("cache."+operation+".status", status),
		)
	}
}

func errorStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
