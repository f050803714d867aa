// Package runner composes the safety gate, session store and worker pool
// into the operations every transport exposes.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/michaelbrown/runbox/internal/execution"
	"github.com/michaelbrown/runbox/internal/gate"
	"github.com/michaelbrown/runbox/internal/observability"
	"github.com/michaelbrown/runbox/internal/sandbox"
	"github.com/michaelbrown/runbox/internal/session"
	"github.com/michaelbrown/runbox/internal/storage"
)

const historyTimeout = 2 * time.Second

// Vetter is satisfied by *gate.Gate.
type Vetter interface {
	Vet(ctx context.Context, code string) (gate.Verdict, error)
}

// Executor is satisfied by *execution.Pool.
type Executor interface {
	Submit(ctx context.Context, opts sandbox.ExecOpts) execution.Result
}

// Request is one snippet to run. An empty SessionID creates a new session.
type Request struct {
	Code      string
	SessionID string
}

// Result is the outcome of Execute.
type Result struct {
	SessionID string
	Stdout    string
	Stderr    string
	Outcome   execution.Outcome
	Duration  time.Duration
}

// Failed reports whether the snippet produced any error output.
func (r *Result) Failed() bool {
	return r.Stderr != ""
}

// Runner runs snippets end to end.
type Runner struct {
	gate     Vetter
	sessions *session.Store
	pool     Executor
	history  storage.Store
	metrics  *observability.Metrics
	tracer   trace.Tracer
	logger   *slog.Logger
}

// Option configures optional Runner collaborators.
type Option func(*Runner)

// WithHistory records every finished execution in store.
func WithHistory(store storage.Store) Option {
	return func(r *Runner) { r.history = store }
}

// WithMetrics updates m on every operation.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithTracer wraps each execution in a span.
func WithTracer(t trace.Tracer) Option {
	return func(r *Runner) {
		if t != nil {
			r.tracer = t
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a Runner.
func New(g Vetter, sessions *session.Store, pool Executor, opts ...Option) *Runner {
	r := &Runner{
		gate:     g,
		sessions: sessions,
		pool:     pool,
		tracer:   noop.NewTracerProvider().Tracer("runbox"),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Execute vets req.Code, resolves or creates its session and runs it on the
// pool. Gate rejections come back as *gate.Rejection and unknown sessions
// wrap session.ErrSessionNotFound; both happen before anything runs. Any
// other error is an internal failure.
func (r *Runner) Execute(ctx context.Context, req Request) (*Result, error) {
	ctx, span := r.tracer.Start(ctx, "runner.Execute")
	defer span.End()

	verdict, err := r.Vet(ctx, req.Code)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "safety check failed")
		return nil, fmt.Errorf("safety check: %w", err)
	}
	if !verdict.Allowed {
		span.SetAttributes(
			attribute.String("runbox.outcome", string(execution.OutcomeSecurityRejected)),
			attribute.String("runbox.gate.kind", string(verdict.Kind)),
		)
		r.countExecution(execution.OutcomeSecurityRejected, 0)
		r.record(ctx, req.Code, req.SessionID, execution.Result{Outcome: execution.OutcomeSecurityRejected})
		r.logger.Info("snippet rejected",
			slog.String("reason", verdict.Reason()),
			slog.String("session_id", req.SessionID),
		)
		return nil, verdict.Err()
	}

	sessionID, workdir, err := r.resolveSession(req.SessionID)
	if err != nil {
		if !errors.Is(err, session.ErrSessionNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "session unavailable")
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("runbox.session_id", sessionID))

	if err := r.sessions.Touch(sessionID); err != nil {
		r.logger.Warn("refreshing session ttl", slog.String("session_id", sessionID), slog.Any("error", err))
	}

	res := r.pool.Submit(ctx, sandbox.ExecOpts{Code: req.Code, Workdir: workdir})

	span.SetAttributes(attribute.String("runbox.outcome", string(res.Outcome)))
	if res.Outcome == execution.OutcomeInternalFailure {
		span.SetStatus(codes.Error, res.Stderr)
	}
	r.countExecution(res.Outcome, res.Duration)
	r.record(ctx, req.Code, sessionID, res)

	r.logger.Debug("execution finished",
		slog.String("session_id", sessionID),
		slog.String("outcome", string(res.Outcome)),
		slog.Duration("duration", res.Duration),
	)

	return &Result{
		SessionID: sessionID,
		Stdout:    res.Stdout,
		Stderr:    res.Stderr,
		Outcome:   res.Outcome,
		Duration:  res.Duration,
	}, nil
}

// Vet runs the safety gate alone.
func (r *Runner) Vet(ctx context.Context, code string) (gate.Verdict, error) {
	verdict, err := r.gate.Vet(ctx, code)
	if r.metrics != nil {
		result := "allowed"
		switch {
		case err != nil:
			result = "error"
		case !verdict.Allowed:
			result = "rejected"
		}
		r.metrics.GateChecksTotal.WithLabelValues(result).Inc()
	}
	return verdict, err
}

// NewSession creates an empty session directory.
func (r *Runner) NewSession(ctx context.Context) (string, error) {
	id, err := r.sessions.Create()
	if err != nil {
		return "", err
	}
	if r.metrics != nil {
		r.metrics.SessionsCreatedTotal.Inc()
	}
	r.logger.Info("session created", slog.String("session_id", id))
	return id, nil
}

// DeleteSession removes a session. Unknown ids are not an error.
func (r *Runner) DeleteSession(ctx context.Context, id string) error {
	if err := r.sessions.Delete(id); err != nil {
		return err
	}
	if r.metrics != nil {
		r.metrics.SessionsDeletedTotal.Inc()
	}
	r.logger.Info("session deleted", slog.String("session_id", id))
	return nil
}

// Sessions lists the live sessions.
func (r *Runner) Sessions(ctx context.Context) ([]session.Info, error) {
	return r.sessions.List()
}

func (r *Runner) resolveSession(id string) (sessionID, workdir string, err error) {
	if id == "" {
		id, err = r.NewSession(context.Background())
		if err != nil {
			return "", "", fmt.Errorf("creating session: %w", err)
		}
	}
	workdir, err = r.sessions.Resolve(id)
	if err != nil {
		return "", "", err
	}
	return id, workdir, nil
}

func (r *Runner) countExecution(outcome execution.Outcome, d time.Duration) {
	if r.metrics == nil {
		return
	}
	r.metrics.ExecutionsTotal.WithLabelValues(string(outcome)).Inc()
	if outcome != execution.OutcomeSecurityRejected {
		r.metrics.ExecutionDuration.WithLabelValues(string(outcome)).Observe(d.Seconds())
	}
}

// record writes a history row. Failures are logged and otherwise ignored.
func (r *Runner) record(ctx context.Context, code, sessionID string, res execution.Result) {
	if r.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyTimeout)
	defer cancel()

	rec := &storage.ExecutionRecord{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		Outcome:     string(res.Outcome),
		Code:        code,
		StdoutBytes: len(res.Stdout),
		StderrBytes: len(res.Stderr),
		DurationMs:  res.Duration.Milliseconds(),
	}
	if err := r.history.RecordExecution(ctx, rec); err != nil {
		r.logger.Warn("recording execution history", slog.String("session_id", sessionID), slog.Any("error", err))
	}
}
