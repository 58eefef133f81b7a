// Package transport performs the HTTP calls behind every query and command.
//
// The active environment is sent as a tenant header on environment-scoped
// requests; it is never part of the URL.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chinmina/console-sync/internal/config"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// maxResponseBytes bounds the size of a response body that will be read.
const maxResponseBytes = 32 << 20 // 32 MB

// Fetcher is the read side of the transport used by query managers.
type Fetcher interface {
	Get(ctx context.Context, url string, env string) (json.RawMessage, error)
	GetWithoutEnvironment(ctx context.Context, url string) (json.RawMessage, error)
}

// Sender is the write side of the transport used by command managers. An
// empty env sends the request without a tenant header.
type Sender interface {
	Send(ctx context.Context, method string, url string, env string, body any) (json.RawMessage, error)
}

// HTTPError is returned for responses outside the 2xx range.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed with status %d", e.Status)
	}
	return fmt.Sprintf("request failed with status %d: %s", e.Status, e.Message)
}

// Client talks to the orchestrator API.
type Client struct {
	baseURL      *url.URL
	httpClient   *http.Client
	tenantHeader string
	token        string
	limiter      *rate.Limiter
	timeout      time.Duration

	// concurrent identical GETs share one request
	flight singleflight.Group
}

var (
	_ Fetcher = (*Client)(nil)
	_ Sender  = (*Client)(nil)
)

// New creates a client for the configured API. A nil transport uses
// http.DefaultTransport.
func New(cfg config.APIConfig, transport http.RoundTripper) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("could not parse API base URL: %w", err)
	}
	if transport == nil {
		transport = http.DefaultTransport
	}

	c := &Client{
		baseURL: base,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		tenantHeader: cfg.TenantHeader,
		token:        cfg.Token,
		timeout:      cfg.Timeout,
	}

	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}

	return c, nil
}

// Get fetches an environment-scoped resource.
func (c *Client) Get(ctx context.Context, url string, env string) (json.RawMessage, error) {
	return c.get(ctx, url, env)
}

// GetWithoutEnvironment fetches a resource that isn't scoped to an
// environment.
func (c *Client) GetWithoutEnvironment(ctx context.Context, url string) (json.RawMessage, error) {
	return c.get(ctx, url, "")
}

func (c *Client) Post(ctx context.Context, url string, env string, body any) (json.RawMessage, error) {
	return c.Send(ctx, http.MethodPost, url, env, body)
}

func (c *Client) Put(ctx context.Context, url string, env string, body any) (json.RawMessage, error) {
	return c.Send(ctx, http.MethodPut, url, env, body)
}

func (c *Client) Delete(ctx context.Context, url string, env string) (json.RawMessage, error) {
	return c.Send(ctx, http.MethodDelete, url, env, nil)
}

func (c *Client) get(ctx context.Context, url string, env string) (json.RawMessage, error) {
	key := env + "\x00" + url

	// The shared request outlives any one caller: it is bounded by the client
	// timeout, and each caller stops waiting when its own context ends.
	results := c.flight.DoChan(key, func() (any, error) {
		shared, cancel := c.detach(ctx)
		defer cancel()
		return c.do(shared, http.MethodGet, url, env, nil)
	})

	select {
	case res := <-results:
		if res.Shared {
			log.Ctx(ctx).Debug().Str("url", url).Msg("joined in-flight request")
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(json.RawMessage), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("GET %s abandoned: %w", url, ctx.Err())
	}
}

// detach keeps ctx's values but not its cancellation, bounding the result by
// the client timeout instead.
func (c *Client) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	shared := context.WithoutCancel(ctx)
	if c.timeout > 0 {
		return context.WithTimeout(shared, c.timeout)
	}
	return context.WithCancel(shared)
}

// Send performs a non-GET request. A nil body sends no request body.
func (c *Client) Send(ctx context.Context, method string, url string, env string, body any) (json.RawMessage, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding %s request body: %w", method, err)
		}
	}

	return c.do(ctx, method, url, env, payload)
}

func (c *Client) do(ctx context.Context, method string, target string, env string, payload []byte) (json.RawMessage, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	ref, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid request URL %q: %w", target, err)
	}
	u := c.baseURL.ResolveReference(ref)

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", requestID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if env != "" {
		req.Header.Set(c.tenantHeader, env)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	l := log.Ctx(ctx).With().
		Str("method", method).
		Str("url", u.Path).
		Str("request_id", requestID).
		Logger()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		l.Debug().Err(err).Msg("request failed")
		return nil, fmt.Errorf("%s %s failed: %w", method, u.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		l.Debug().Int("status", resp.StatusCode).Msg("request rejected")
		return nil, &HTTPError{
			Status:  resp.StatusCode,
			Message: errorMessage(data),
		}
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	return json.RawMessage(data), nil
}

// errorMessage pulls the message out of the API error envelope, falling back
// to the raw body text.
func errorMessage(data []byte) string {
	var envelope struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Message != "" {
		return envelope.Message
	}
	return strings.TrimSpace(string(data))
}

// IsStatus reports whether err is an HTTPError with the given status.
func IsStatus(err error, status int) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.Status == status
}
