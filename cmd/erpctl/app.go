package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/erp/portal/internal/auth"
	"github.com/erp/portal/internal/client"
	"github.com/erp/portal/internal/config"
	"github.com/erp/portal/internal/event"
	applog "github.com/erp/portal/internal/logger"
	"github.com/erp/portal/internal/metrics"
	"github.com/erp/portal/internal/portal"
	"github.com/erp/portal/internal/session"
	"github.com/erp/portal/internal/storage"
	"github.com/erp/portal/internal/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// app is the wired object graph behind one erpctl invocation
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	kv       storage.KV
	bus      *event.Bus
	sessions *session.Manager
	client   *client.Client
	auth     *auth.Service
	portal   *portal.Service
	exporter *metrics.Exporter
	tracer   *telemetry.TracerProvider

	stdin  *bufio.Reader
	stdout io.Writer
	stderr io.Writer
}

func newApp(ctx context.Context, opts *globalOptions, stdin io.Reader, stdout, stderr io.Writer) (*app, error) {
	cfg, err := config.LoadFile(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.baseURL != "" {
		cfg.API.BaseURL = opts.baseURL
		cfg.API.DevProxy = false
		cfg.API.RuntimeConfig = ""
	}
	if opts.storageBackend != "" {
		cfg.Storage.Backend = opts.storageBackend
	}
	if opts.prometheusAddr != "" {
		cfg.Metrics.Addr = opts.prometheusAddr
	}
	if opts.verbose {
		cfg.Log.Level = "debug"
	}

	log, err := applog.New(&applog.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	a := &app{
		cfg:    cfg,
		logger: log,
		stdin:  bufio.NewReader(stdin),
		stdout: stdout,
		stderr: stderr,
	}
	if err := a.wire(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	kv, err := openStorage(a.cfg.Storage)
	if err != nil {
		return err
	}
	a.kv = kv

	a.bus = event.NewBus(a.logger)
	a.bus.Subscribe(a.onAuthExpired, event.TypeAuthExpired)
	a.sessions = session.NewManager(session.NewStore(kv), a.bus, a.logger.Named("session"))

	a.tracer, err = telemetry.NewTracerProvider(ctx, a.cfg.Telemetry, a.logger, telemetry.WithServiceVersion(version))
	if err != nil {
		return err
	}

	clientCfg, err := client.ConfigFromAPI(a.cfg.API)
	if err != nil {
		return fmt.Errorf("resolving API base URL: %w", err)
	}
	clientOpts := []client.Option{
		client.WithSessions(a.sessions),
		client.WithLogger(a.logger),
		client.WithTracerProvider(a.tracer.Provider()),
	}
	if a.cfg.Metrics.Addr != "" {
		a.exporter = metrics.NewExporter(metrics.Config{Addr: a.cfg.Metrics.Addr, Path: a.cfg.Metrics.Path})
		if err := a.exporter.Start(); err != nil {
			return err
		}
		a.logger.Info("metrics endpoint started", zap.String("addr", a.exporter.Addr()))
		clientOpts = append(clientOpts, client.WithObserver(a.exporter))
	}

	a.client, err = client.New(clientCfg, clientOpts...)
	if err != nil {
		return err
	}
	a.auth = auth.NewService(a.client, session.NewEnrollments(kv, a.cfg.Storage.MFAPendingTTL), a.bus, a.logger)
	a.portal = portal.New(a.client, a.logger)
	return nil
}

func openStorage(cfg config.StorageConfig) (storage.KV, error) {
	switch cfg.Backend {
	case "memory":
		return storage.NewMemoryKV(), nil
	case "redis":
		kv, err := storage.NewRedisKV(storage.RedisConfig{
			Host:      cfg.Redis.Host,
			Port:      cfg.Redis.Port,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, err
		}
		return kv, nil
	default:
		kv, err := storage.NewFileKV(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return kv, nil
	}
}

// onAuthExpired plays the router: a session lost to a failed refresh
// sends the user back to the sign-in step
func (a *app) onAuthExpired(_ context.Context, e event.Event) error {
	expired, ok := e.(event.AuthExpired)
	if !ok || expired.Reason == event.ReasonLogout {
		return nil
	}
	fmt.Fprintf(a.stderr, "%s Run 'erpctl login' to continue.\n", client.SessionExpiredMessage)
	return nil
}

// commandContext tags every request of this invocation with one request id
func (a *app) commandContext(ctx context.Context) context.Context {
	ctx, log := applog.WithRequestID(ctx, a.logger, uuid.NewString())
	sess, err := a.sessions.Load(ctx)
	if err != nil {
		log.Debug("session unavailable", zap.Error(err))
	}
	if sess != nil && sess.CompanyCode != "" {
		ctx, _ = applog.WithCompanyCode(ctx, log, sess.CompanyCode)
	}
	return ctx
}

// report prints err the way a user should see it and returns the exit code
func (a *app) report(err error) int {
	switch {
	case errors.Is(err, flag.ErrHelp):
		return 0
	case errors.Is(err, errUsage):
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return 2
	case errors.Is(err, auth.ErrMFARequired):
		fmt.Fprintln(a.stderr, "A verification code is required. Re-run with -mfa-code or -recovery-code.")
		return 1
	case errors.Is(err, client.ErrAuthExpired):
		// the AuthExpired subscriber already told the user
		return 1
	case errors.Is(err, auth.ErrInvalidInput), errors.Is(err, portal.ErrInvalidInput), errors.Is(err, portal.ErrUnbalanced):
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return 1
	}

	var apiErr *client.APIError
	var netErr *client.NetworkError
	if errors.As(err, &apiErr) || errors.As(err, &netErr) {
		a.logger.Debug("command failed", zap.Error(err))
		fmt.Fprintf(a.stderr, "Error: %s\n", client.UserMessage(err))
		return 1
	}
	fmt.Fprintf(a.stderr, "Error: %v\n", err)
	return 1
}

// prompt reads one line from stdin after printing label to stderr
func (a *app) prompt(label string) (string, error) {
	fmt.Fprintf(a.stderr, "%s: ", label)
	line, err := a.stdin.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", fmt.Errorf("reading %s: %w", strings.ToLower(label), err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if a.exporter != nil {
		if err := a.exporter.Stop(ctx); err != nil {
			a.logger.Warn("failed to stop metrics endpoint", zap.Error(err))
		}
	}
	if a.tracer != nil {
		_ = a.tracer.Shutdown(ctx)
	}
	if a.kv != nil {
		if err := a.kv.Close(); err != nil {
			a.logger.Warn("failed to close storage", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
