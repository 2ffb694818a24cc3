// Package client is the ERP portal's API access layer. Every HTTP call made
// by the portal goes through Client.Do, which attaches credentials and
// tenant headers, stamps idempotency keys on mutating requests, recovers
// from an expired access token with a single shared refresh and
// normalizes failures into APIError and NetworkError.
package client

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/erp/portal/internal/config"
	"github.com/erp/portal/internal/session"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const tracerName = "github.com/erp/portal/internal/client"

// Config configures a Client
type Config struct {
	// BaseURL is the absolute API root including the version prefix,
	// e.g. http://localhost:8080/api/v1
	BaseURL        string
	Timeout        time.Duration
	UserAgent      string
	TLSSkipVerify  bool
	RateLimitRPS   float64
	RateLimitBurst int
}

// ConfigFromAPI resolves the base URL and copies transport settings
func ConfigFromAPI(api config.APIConfig) (Config, error) {
	resolved, err := config.ResolveBaseURL(api)
	if err != nil {
		return Config{}, err
	}
	return Config{
		BaseURL:        resolved.URL,
		Timeout:        api.Timeout,
		UserAgent:      api.UserAgent,
		TLSSkipVerify:  api.TLSSkipVerify,
		RateLimitRPS:   api.RateLimitRPS,
		RateLimitBurst: api.RateLimitBurst,
	}, nil
}

// Observer receives per-attempt and refresh measurements
type Observer interface {
	ObserveAttempt(method, path string, status int, duration time.Duration)
	ObserveRefresh(outcome string, duration time.Duration)
	ObserveReplay(path string)
}

// Refresh outcomes reported to the Observer
const (
	RefreshSucceeded = "succeeded"
	RefreshFailed    = "failed"
	// RefreshShared is a 401 recovered by a refresh another caller already made
	RefreshShared = "shared"
)

// Client dispatches requests against the ERP API
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	userAgent  string

	sessions *session.Manager
	logger   *zap.Logger
	tracer   trace.Tracer
	observer Observer
	limiter  *rate.Limiter

	flight singleflight.Group
}

// Option customizes a Client
type Option func(*Client)

// WithSessions attaches the session manager used for credentials and refresh
func WithSessions(m *session.Manager) Option {
	return func(c *Client) { c.sessions = m }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithObserver sets the metrics observer
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// WithTracerProvider sets the tracer provider used for per-attempt spans
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		if tp != nil {
			c.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithLimiter sets a client-side rate limiter
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// New creates a Client
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base URL is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", cfg.BaseURL)
	}
	base.Path = strings.TrimSuffix(base.Path, "/")

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "erpctl/1.0"
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.TLSSkipVerify, //nolint:gosec // opt-in for local development
		},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	c := &Client{
		httpClient: &http.Client{Transport: transport, Timeout: cfg.Timeout},
		baseURL:    base,
		userAgent:  cfg.UserAgent,
		logger:     zap.NewNop(),
		tracer:     otel.Tracer(tracerName),
	}
	if cfg.RateLimitRPS > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the resolved API root
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Sessions returns the attached session manager, which may be nil
func (c *Client) Sessions() *session.Manager {
	return c.sessions
}

// Request describes one logical API call
type Request struct {
	Method string
	// Path is relative to the API root, e.g. /dealers
	Path  string
	Query url.Values
	// Body is JSON-encoded unless it is []byte, string, io.Reader or url.Values
	Body any
	// Headers are set after the defaults. An Idempotency-Key given here
	// is treated like IdempotencyKey.
	Headers map[string]string
	// IdempotencyKey, when set, is reused on every attempt instead of a
	// fresh key per attempt. It wins over one given in Headers.
	IdempotencyKey string
	// Session overrides the managed session for header construction.
	// A 401 on such a request is returned without refreshing.
	Session *session.Session
}

// Response is a successful (2xx) HTTP response
type Response struct {
	StatusCode     int
	Header         http.Header
	Body           []byte
	Duration       time.Duration
	IdempotencyKey string
	// Replayed is true when the response came from the retry after a refresh
	Replayed bool
}

// Do sends req. Non-2xx responses are returned as *APIError, transport
// failures as *NetworkError. A 401 on a protected path triggers one
// shared token refresh and, if it succeeds, exactly one replay.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	p, err := c.prepare(req)
	if err != nil {
		return nil, err
	}

	resp, usedToken, err := c.attempt(ctx, p, false)
	if err == nil || !c.canRecover(p, err) {
		return resp, err
	}

	if err := c.recoverSession(ctx, usedToken); err != nil {
		return nil, err
	}
	if c.observer != nil {
		c.observer.ObserveReplay(p.path)
	}
	resp, _, err = c.attempt(ctx, p, true)
	return resp, err
}

// Get sends a GET request
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query})
}

// Post sends a POST request
func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: body})
}

// Put sends a PUT request
func (c *Client) Put(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPut, Path: path, Body: body})
}

// Patch sends a PATCH request
func (c *Client) Patch(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPatch, Path: path, Body: body})
}

// Delete sends a DELETE request
func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodDelete, Path: path})
}

// Decode sends req and decodes the raw JSON body into T.
// An empty body yields the zero value.
func Decode[T any](ctx context.Context, c *Client, req Request) (T, error) {
	var out T
	resp, err := c.Do(ctx, req)
	if err != nil {
		return out, err
	}
	if isEmptyJSON(resp.Body) {
		return out, nil
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return out, fmt.Errorf("decoding %s %s: %w", req.Method, req.Path, err)
	}
	return out, nil
}

// Call sends req, unwraps the response envelope and decodes the data into T
func Call[T any](ctx context.Context, c *Client, req Request) (T, error) {
	var out T
	resp, err := c.Do(ctx, req)
	if err != nil {
		return out, err
	}
	return UnwrapInto[T](resp.Body)
}
