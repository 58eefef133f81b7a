package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	API       APIConfig
	Cache     CacheConfig
	Observe   ObserveConfig
	Scheduler SchedulerConfig
}

// APIConfig configures the transport used to reach the orchestrator API.
type APIConfig struct {
	BaseURL string `env:"API_BASE_URL, required"`

	// TenantHeader carries the active environment on environment-scoped
	// requests.
	TenantHeader string `env:"API_TENANT_HEADER, default=X-Inmanta-tid"`

	// Token is passed through as a bearer token when set.
	Token string `env:"API_TOKEN"`

	Timeout time.Duration `env:"API_TIMEOUT, default=30s"`

	// RateLimit is the number of requests per second allowed against the API.
	// Zero disables throttling.
	RateLimit float64 `env:"API_RATE_LIMIT, default=0"`
	RateBurst int     `env:"API_RATE_BURST, default=10"`

	MaxIdleConns    int `env:"API_MAX_IDLE_CONNS, default=100"`
	MaxConnsPerHost int `env:"API_MAX_CONNS_PER_HOST, default=20"`
}

// SchedulerConfig controls the shared polling timer.
type SchedulerConfig struct {
	Interval time.Duration `env:"SCHEDULER_INTERVAL, default=5s"`
}

// CacheConfig specifies the backend holding cache slots.
type CacheConfig struct {
	// Type selects the cache implementation. Only "memory" is supported.
	Type string `env:"CACHE_TYPE, default=memory"`

	// MaxSize bounds the number of slots held.
	MaxSize int `env:"CACHE_MAX_SIZE, default=100000"`

	// TTL expires slots after creation. Zero keeps slots for the session.
	TTL time.Duration `env:"CACHE_TTL, default=0s"`
}

type ObserveConfig struct {
	SDKLogLevel                string `env:"OBSERVE_OTEL_LOG_LEVEL, default=info"`
	Enabled                    bool   `env:"OBSERVE_ENABLED, default=false"`
	MetricsEnabled             bool   `env:"OBSERVE_METRICS_ENABLED, default=true"`
	Type                       string `env:"OBSERVE_TYPE, default=grpc"`
	ServiceName                string `env:"OBSERVE_SERVICE_NAME, default=console-sync"`
	TraceBatchTimeoutSeconds   int    `env:"OBSERVE_TRACE_BATCH_TIMEOUT_SECS, default=20"`
	MetricReadIntervalSeconds  int    `env:"OBSERVE_METRIC_READ_INTERVAL_SECS, default=60"`
	HTTPTransportEnabled       bool   `env:"OBSERVE_HTTP_TRANSPORT_ENABLED, default=true"`
	HTTPConnectionTraceEnabled bool   `env:"OBSERVE_CONNECTION_TRACE_ENABLED, default=true"`
}

func Load(ctx context.Context) (Config, error) {
	return load(ctx, nil) // load from OS environment
}

func load(ctx context.Context, lookup envconfig.Lookuper) (Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup, // nil defaults to OS environment
	})
	if err != nil {
		return cfg, err
	}

	if err := cfg.API.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid API configuration: %w", err)
	}

	if err := cfg.Cache.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid cache configuration: %w", err)
	}

	if err := cfg.Scheduler.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid scheduler configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the API base URL is absolute and limits are sane.
func (c *APIConfig) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("API_BASE_URL could not be parsed: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("API_BASE_URL must be an absolute URL: %s", c.BaseURL)
	}

	if c.TenantHeader == "" {
		return errors.New("API_TENANT_HEADER must not be empty")
	}

	if c.RateLimit < 0 {
		return errors.New("API_RATE_LIMIT must not be negative")
	}

	if c.RateLimit > 0 && c.RateBurst < 1 {
		return errors.New("API_RATE_BURST must be at least 1 when API_RATE_LIMIT is set")
	}

	return nil
}

// Validate checks that the cache configuration is valid.
func (c *CacheConfig) Validate() error {
	if c.Type != "memory" {
		return fmt.Errorf("CACHE_TYPE must be \"memory\", got %q", c.Type)
	}

	if c.MaxSize <= 0 {
		return errors.New("CACHE_MAX_SIZE must be positive")
	}

	if c.TTL < 0 {
		return errors.New("CACHE_TTL must not be negative")
	}

	return nil
}

func (c *SchedulerConfig) Validate() error {
	if c.Interval <= 0 {
		return errors.New("SCHEDULER_INTERVAL must be positive")
	}
	return nil
}
