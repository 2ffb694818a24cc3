// Package metrics exports API client measurements to Prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/erp/portal/internal/client"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metric names, without namespace
const (
	MetricRequestsTotal          = "requests_total"
	MetricRequestDurationSeconds = "request_duration_seconds"
	MetricRefreshesTotal         = "token_refreshes_total"
	MetricRefreshDurationSeconds = "token_refresh_duration_seconds"
	MetricReplaysTotal           = "replays_total"
)

// Config holds configuration for the exporter
type Config struct {
	// Addr is the listen address for the metrics endpoint, e.g. ":9464".
	// ":0" picks a free port.
	Addr string
	// Path is the URL path of the endpoint.
	// Default: /metrics
	Path string
	// Namespace prefixes every metric.
	// Default: erp_client
	Namespace string
	// HistogramBuckets for request duration.
	// Default: prometheus.DefBuckets
	HistogramBuckets []float64
}

// Exporter collects client measurements and serves them over HTTP.
// It implements client.Observer.
//
// Thread Safety: Safe for concurrent use by multiple goroutines.
type Exporter struct {
	mu sync.RWMutex

	config   Config
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	refreshesTotal  *prometheus.CounterVec
	refreshDuration prometheus.Histogram
	replaysTotal    *prometheus.CounterVec

	server    *http.Server
	ln        net.Listener
	running   bool
	lastError error
}

var _ client.Observer = (*Exporter)(nil)

// NewExporter creates an exporter with its own registry
func NewExporter(config Config) *Exporter {
	if config.Path == "" {
		config.Path = "/metrics"
	}
	if config.Namespace == "" {
		config.Namespace = "erp_client"
	}
	if len(config.HistogramBuckets) == 0 {
		config.HistogramBuckets = prometheus.DefBuckets
	}

	e := &Exporter{
		config:   config,
		registry: prometheus.NewRegistry(),
	}
	e.initMetrics()
	return e
}

func (e *Exporter) initMetrics() {
	ns := e.config.Namespace

	e.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      MetricRequestsTotal,
			Help:      "HTTP attempts made by the API client, including replays.",
		},
		[]string{"method", "route", "status"},
	)
	e.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Name:      MetricRequestDurationSeconds,
			Help:      "Duration of HTTP attempts in seconds.",
			Buckets:   e.config.HistogramBuckets,
		},
		[]string{"method", "route"},
	)
	e.refreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      MetricRefreshesTotal,
			Help:      "Token refresh outcomes (succeeded, failed, shared).",
		},
		[]string{"outcome"},
	)
	e.refreshDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: ns,
			Name:      MetricRefreshDurationSeconds,
			Help:      "Duration of token refresh exchanges in seconds.",
			Buckets:   e.config.HistogramBuckets,
		},
	)
	e.replaysTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      MetricReplaysTotal,
			Help:      "Requests replayed after a successful token refresh.",
		},
		[]string{"route"},
	)

	e.registry.MustRegister(
		e.requestsTotal,
		e.requestDuration,
		e.refreshesTotal,
		e.refreshDuration,
		e.replaysTotal,
	)
}

// ObserveAttempt records one HTTP attempt. Status 0 means the request
// never got a response.
func (e *Exporter) ObserveAttempt(method, path string, status int, duration time.Duration) {
	route := NormalizeRoute(path)
	statusLabel := "network_error"
	if status > 0 {
		statusLabel = strconv.Itoa(status)
	}
	e.requestsTotal.WithLabelValues(method, route, statusLabel).Inc()
	e.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRefresh records a refresh outcome. Shared outcomes carry no
// exchange of their own and are not timed.
func (e *Exporter) ObserveRefresh(outcome string, duration time.Duration) {
	e.refreshesTotal.WithLabelValues(outcome).Inc()
	if duration > 0 {
		e.refreshDuration.Observe(duration.Seconds())
	}
}

// ObserveReplay records a replay after refresh
func (e *Exporter) ObserveReplay(path string) {
	e.replaysTotal.WithLabelValues(NormalizeRoute(path)).Inc()
}

var (
	uuidSegment  = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	digitSegment = regexp.MustCompile(`^[0-9]+$`)
)

// NormalizeRoute replaces id-like path segments with ":id" to keep label
// cardinality bounded
func NormalizeRoute(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if uuidSegment.MatchString(seg) || digitSegment.MatchString(seg) {
			segments[i] = ":id"
		}
	}
	return strings.Join(segments, "/")
}

// Handler serves the registry in the Prometheus exposition format
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Start starts the HTTP server for the metrics endpoint
func (e *Exporter) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return nil
	}
	if e.config.Addr == "" {
		return errors.New("metrics: listen address is required")
	}

	ln, err := net.Listen("tcp", e.config.Addr)
	if err != nil {
		return fmt.Errorf("starting metrics exporter: %w", err)
	}
	e.ln = ln

	mux := http.NewServeMux()
	mux.Handle(e.config.Path, e.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	e.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := e.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.mu.Lock()
			e.lastError = err
			e.mu.Unlock()
		}
	}()

	e.running = true
	return nil
}

// Stop shuts the HTTP server down
func (e *Exporter) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return nil
	}
	e.running = false
	if e.server != nil {
		return e.server.Shutdown(ctx)
	}
	return nil
}

// Addr returns the bound address once started, else the configured one
func (e *Exporter) Addr() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.ln != nil {
		return e.ln.Addr().String()
	}
	return e.config.Addr
}

// Path returns the configured endpoint path
func (e *Exporter) Path() string {
	return e.config.Path
}

// IsRunning returns whether the exporter is serving
func (e *Exporter) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// LastError returns the last error from the HTTP server, if any
func (e *Exporter) LastError() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastError
}

// Registry returns the Prometheus registry
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}
