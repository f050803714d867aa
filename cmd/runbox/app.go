package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/michaelbrown/runbox/internal/config"
	"github.com/michaelbrown/runbox/internal/execution"
	"github.com/michaelbrown/runbox/internal/gate"
	"github.com/michaelbrown/runbox/internal/observability"
	"github.com/michaelbrown/runbox/internal/runner"
	"github.com/michaelbrown/runbox/internal/sandbox"
	"github.com/michaelbrown/runbox/internal/session"
	"github.com/michaelbrown/runbox/internal/storage"
	"github.com/michaelbrown/runbox/internal/storage/sqlite"
)

// app holds every long-lived component a command may need.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *observability.Metrics
	tracing  *observability.TracerSetup
	sessions *session.Store
	pool     *execution.Pool
	history  storage.Store
	runner   *runner.Runner
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	return observability.NewLogger(cfg.Log.Level, cfg.Log.Format)
}

func newGate(cfg *config.Config) *gate.Gate {
	return gate.New(gate.Config{
		Interpreter:      cfg.Execution.Interpreter,
		ForbiddenModules: cfg.Gate.ForbiddenModules,
		ForbiddenCalls:   cfg.Gate.ForbiddenCalls,
		Timeout:          cfg.Gate.Timeout,
	})
}

func newSessionStore(cfg *config.Config, logger *slog.Logger) (*session.Store, error) {
	store, err := session.NewStore(cfg.Sessions.Root, logger)
	if err != nil {
		return nil, fmt.Errorf("opening session root: %w", err)
	}
	return store, nil
}

// openHistory returns nil when history is disabled.
func openHistory(cfg *config.Config) (storage.Store, error) {
	if cfg.Storage.DBPath == "" {
		return nil, nil
	}
	store, err := sqlite.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	return store, nil
}

// buildApp wires the full execution pipeline from configuration.
func buildApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg)

	a := &app{cfg: cfg, logger: logger}
	if cfg.Metrics.Enabled {
		a.metrics = observability.NewMetrics()
	}

	a.tracing, err = observability.NewTracerSetup(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("setting up tracing: %w", err)
	}

	a.sessions, err = newSessionStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	a.history, err = openHistory(cfg)
	if err != nil {
		return nil, err
	}

	sb := sandbox.NewProcessSandbox(sandbox.Policy{
		Interpreter:    cfg.Execution.Interpreter,
		Timeout:        cfg.Execution.EngineTimeout,
		MaxOutputBytes: cfg.Execution.MaxOutputBytes,
	}, logger)
	a.pool = execution.NewPool(sb, execution.Config{
		Size:         cfg.Execution.PoolSize,
		OuterTimeout: cfg.Execution.OuterTimeout,
	}, a.metrics, logger)
	policy := sb.Policy()
	logger.Debug("execution engine ready",
		slog.String("interpreter", policy.Interpreter),
		slog.Duration("engine_timeout", policy.Timeout),
		slog.Int("pool_size", a.pool.Size()),
		slog.Duration("outer_timeout", cfg.Execution.OuterTimeout),
	)

	opts := []runner.Option{
		runner.WithMetrics(a.metrics),
		runner.WithTracer(a.tracing.Tracer()),
		runner.WithLogger(logger),
	}
	if a.history != nil {
		opts = append(opts, runner.WithHistory(a.history))
	}
	a.runner = runner.New(newGate(cfg), a.sessions, a.pool, opts...)

	return a, nil
}

// newJanitor builds the background session sweeper, reporting to metrics.
func (a *app) newJanitor() (*session.Janitor, error) {
	j, err := session.NewJanitor(a.sessions, session.JanitorConfig{
		TTL:          a.cfg.Sessions.TTL,
		Interval:     a.cfg.Sessions.SweepInterval,
		RetryBackoff: a.cfg.Sessions.SweepRetryBackoff,
		Schedule:     a.cfg.Sessions.SweepSchedule,
	}, a.logger)
	if err != nil {
		return nil, err
	}
	j.OnSweep = a.metrics.ObserveSweep
	return j, nil
}

// Close waits briefly for abandoned workers, then releases resources.
func (a *app) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	if err := a.pool.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing storage: %w", err))
		}
	}
	if err := a.tracing.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flushing traces: %w", err))
	}
	return errors.Join(errs...)
}
