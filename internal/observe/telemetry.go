// Package observe configures OpenTelemetry for the process: tracer and
// meter providers, the SDK's own logging, and HTTP client instrumentation.
package observe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptrace"
	"time"

	"github.com/chinmina/console-sync/internal/config"
	"github.com/go-logr/logr"
	"github.com/go-logr/zerologr"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/httptrace/otelhttptrace"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ShutdownFunc flushes and stops every provider Configure installed.
type ShutdownFunc func(context.Context) error

// Configure installs the global tracer and meter providers. When telemetry
// is disabled the globals are left as no-ops.
func Configure(ctx context.Context, cfg config.ObserveConfig) (ShutdownFunc, error) {
	var shutdownFuncs []func(context.Context) error

	shutdown := func(ctx context.Context) error {
		var err error
		for _, fn := range shutdownFuncs {
			err = errors.Join(err, fn(ctx))
		}
		shutdownFuncs = nil
		return err
	}

	if !cfg.Enabled {
		log.Info().Msg("telemetry: disabled")
		return shutdown, nil
	}

	configureSDKLogging(cfg.SDKLogLevel)

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	traceExporter, err := newTraceExporter(ctx, cfg.Type)
	if err != nil {
		return nil, err
	}
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExporter,
			sdktrace.WithBatchTimeout(time.Duration(cfg.TraceBatchTimeoutSeconds)*time.Second),
		),
	)
	shutdownFuncs = append(shutdownFuncs, tracerProvider.Shutdown)
	otel.SetTracerProvider(tracerProvider)

	if cfg.MetricsEnabled {
		metricExporter, err := newMetricExporter(ctx, cfg.Type)
		if err != nil {
			return nil, errors.Join(err, shutdown(ctx))
		}
		meterProvider := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter,
				sdkmetric.WithInterval(time.Duration(cfg.MetricReadIntervalSeconds)*time.Second),
			)),
		)
		shutdownFuncs = append(shutdownFuncs, meterProvider.Shutdown)
		otel.SetMeterProvider(meterProvider)
	}

	log.Info().
		Str("type", cfg.Type).
		Bool("metrics", cfg.MetricsEnabled).
		Msg("telemetry: configured")

	return shutdown, nil
}

func newTraceExporter(ctx context.Context, exporterType string) (sdktrace.SpanExporter, error) {
	switch exporterType {
	case "grpc":
		// endpoint and headers come from the standard OTEL_EXPORTER_OTLP_* variables
		return otlptracegrpc.New(ctx)
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		return nil, fmt.Errorf("unsupported telemetry type %q", exporterType)
	}
}

func newMetricExporter(ctx context.Context, exporterType string) (sdkmetric.Exporter, error) {
	switch exporterType {
	case "grpc":
		return otlpmetricgrpc.New(ctx)
	case "stdout":
		return stdoutmetric.New()
	default:
		return nil, fmt.Errorf("unsupported telemetry type %q", exporterType)
	}
}

// configureSDKLogging routes the SDK's internal logging and error reports
// through zerolog.
func configureSDKLogging(level string) {
	sdkLog := log.With().Str("component", "otel").Logger()
	if lvl, err := zerolog.ParseLevel(level); err == nil {
		sdkLog = sdkLog.Level(lvl)
	}

	var logger logr.Logger = zerologr.New(&sdkLog)
	otel.SetLogger(logger)

	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		sdkLog.Warn().Err(err).Msg("telemetry error")
	}))
}

// HTTPTransport instruments outgoing requests with client spans and,
// optionally, connection-level trace events.
func HTTPTransport(wrapped http.RoundTripper, cfg config.ObserveConfig) http.RoundTripper {
	if !cfg.Enabled || !cfg.HTTPTransportEnabled {
		return wrapped
	}

	opts := []otelhttp.Option{
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	}
	if cfg.HTTPConnectionTraceEnabled {
		opts = append(opts, otelhttp.WithClientTrace(func(ctx context.Context) *httptrace.ClientTrace {
			return otelhttptrace.NewClientTrace(ctx)
		}))
	}

	return otelhttp.NewTransport(wrapped, opts...)
}
