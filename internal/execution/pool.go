package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/michaelbrown/runbox/internal/observability"
	"github.com/michaelbrown/runbox/internal/sandbox"
)

const (
	defaultSize         = 10
	defaultOuterTimeout = time.Second
)

// Config sizes the pool.
type Config struct {
	Size int
	// OuterTimeout bounds how long Submit waits, queueing included.
	// Zero waits for completion.
	OuterTimeout time.Duration
}

// DefaultConfig returns 10 slots and a one second outer timeout.
func DefaultConfig() Config {
	return Config{Size: defaultSize, OuterTimeout: defaultOuterTimeout}
}

// Pool runs executions on at most Size concurrent workers. Submissions
// beyond that wait for a free slot; nothing is shed.
type Pool struct {
	sandbox      sandbox.Sandbox
	slots        *semaphore.Weighted
	size         int
	outerTimeout time.Duration
	metrics      *observability.Metrics
	logger       *slog.Logger

	wg sync.WaitGroup
}

// NewPool creates a Pool. metrics may be nil.
func NewPool(sb sandbox.Sandbox, cfg Config, metrics *observability.Metrics, logger *slog.Logger) *Pool {
	size := cfg.Size
	if size <= 0 {
		size = defaultSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		sandbox:      sb,
		slots:        semaphore.NewWeighted(int64(size)),
		size:         size,
		outerTimeout: cfg.OuterTimeout,
		metrics:      metrics,
		logger:       logger,
	}
}

// Size returns the number of worker slots.
func (p *Pool) Size() int {
	return p.size
}

// Submit hands opts to a worker and waits for the result, the outer
// timeout, or ctx. On timeout it returns immediately with OutcomeTimedOut;
// the worker's context is cancelled, which kills the child process or drops
// the task if it is still queued, but Submit does not wait for that.
func (p *Pool) Submit(ctx context.Context, opts sandbox.ExecOpts) Result {
	start := time.Now()
	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan Result, 1)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		done <- p.work(taskCtx, opts)
	}()

	var timeout <-chan time.Time
	if p.outerTimeout > 0 {
		timer := time.NewTimer(p.outerTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case res := <-done:
		res.Duration = time.Since(start)
		return res
	case <-timeout:
		p.logger.Warn("execution exceeded outer timeout",
			slog.Duration("timeout", p.outerTimeout),
			slog.String("workdir", opts.Workdir),
		)
		return Result{Stderr: TimeoutMessage, Outcome: OutcomeTimedOut, Duration: time.Since(start)}
	case <-ctx.Done():
		return Result{
			Stderr:   "error: " + ctx.Err().Error(),
			Outcome:  OutcomeInternalFailure,
			Duration: time.Since(start),
		}
	}
}

// work runs on its own goroutine. Its result is discarded when Submit has
// already returned.
func (p *Pool) work(ctx context.Context, opts sandbox.ExecOpts) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("execution worker panicked", slog.Any("panic", r))
			res = Result{Stderr: fmt.Sprintf("error: %v", r), Outcome: OutcomeInternalFailure}
		}
	}()

	p.trackQueued(1)
	err := p.slots.Acquire(ctx, 1)
	p.trackQueued(-1)
	if err != nil {
		return Result{Stderr: "error: " + err.Error(), Outcome: OutcomeInternalFailure}
	}
	defer p.slots.Release(1)

	p.trackInFlight(1)
	defer p.trackInFlight(-1)

	out, err := p.sandbox.Exec(ctx, opts)
	if err != nil {
		return Result{Stderr: "error: " + err.Error(), Outcome: OutcomeInternalFailure}
	}
	return Classify(out)
}

// Close waits for workers still running after their callers gave up.
func (p *Pool) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for execution workers: %w", ctx.Err())
	}
}

func (p *Pool) trackQueued(delta float64) {
	if p.metrics != nil {
		p.metrics.PoolQueued.Add(delta)
	}
}

func (p *Pool) trackInFlight(delta float64) {
	if p.metrics != nil {
		p.metrics.PoolInFlight.Add(delta)
	}
}
