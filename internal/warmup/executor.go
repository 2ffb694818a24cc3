// Package warmup fetches a configured set of endpoints right after sign-in
// so the first screens load from a warm server-side cache. Failures are
// recorded, never returned.
package warmup

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/erp/portal/internal/client"
	"github.com/erp/portal/internal/config"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultPaths are fetched when none are configured
var DefaultPaths = []string{"/auth/me", "/dealers", "/accounting/accounts"}

// Progress reports completion after each fetch
type Progress struct {
	Path      string
	Completed int
	Total     int
	Failed    int
	Elapsed   time.Duration
}

// ProgressCallback is called once per finished path, possibly concurrently
type ProgressCallback func(Progress)

// Result is the outcome of a warm-up run
type Result struct {
	// Outcomes holds one entry per path, in configured order
	Outcomes []client.BestEffort
	Duration time.Duration
}

// Failed returns the number of paths that could not be fetched
func (r Result) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if !o.OK() {
			n++
		}
	}
	return n
}

// Executor runs the warm-up fetches
type Executor struct {
	client     *client.Client
	config     config.WarmupConfig
	logger     *zap.Logger
	onProgress ProgressCallback

	nowFunc func() time.Time
}

// Option customizes an Executor
type Option func(*Executor)

// WithProgress registers a progress callback
func WithProgress(cb ProgressCallback) Option {
	return func(e *Executor) { e.onProgress = cb }
}

// NewExecutor creates a warm-up executor. Zero concurrency means 4 and
// an empty path list means DefaultPaths.
func NewExecutor(c *client.Client, cfg config.WarmupConfig, logger *zap.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.Paths) == 0 {
		cfg.Paths = DefaultPaths
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	e := &Executor{
		client:  c,
		config:  cfg,
		logger:  logger.Named("warmup"),
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run fetches every configured path with bounded concurrency. It never
// fails; per-path errors are in the result. A disabled executor returns
// an empty result.
func (e *Executor) Run(ctx context.Context) Result {
	if !e.config.Enabled {
		return Result{}
	}
	start := e.nowFunc()
	if e.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()
	}

	paths := e.config.Paths
	outcomes := make([]client.BestEffort, len(paths))
	var completed, failed atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.Concurrency)
	for i, path := range paths {
		g.Go(func() error {
			_, err := e.client.Do(gctx, client.Request{Method: http.MethodGet, Path: path})
			outcomes[i] = client.BestEffort{Op: "warmup " + path, Err: err}
			outcomes[i].Log(e.logger)

			done := completed.Add(1)
			if err != nil {
				failed.Add(1)
			}
			if e.onProgress != nil {
				e.onProgress(Progress{
					Path:      path,
					Completed: int(done),
					Total:     len(paths),
					Failed:    int(failed.Load()),
					Elapsed:   e.nowFunc().Sub(start),
				})
			}
			return nil
		})
	}
	_ = g.Wait()

	result := Result{Outcomes: outcomes, Duration: e.nowFunc().Sub(start)}
	e.logger.Info("warmup complete",
		zap.Int("paths", len(paths)),
		zap.Int("failed", result.Failed()),
		zap.Duration("duration", result.Duration),
	)
	return result
}
