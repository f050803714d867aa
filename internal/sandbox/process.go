package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"time"
)

// waitDelay bounds how long Wait blocks on output pipes held open by
// grandchildren after the interpreter itself is gone.
const waitDelay = 2 * time.Second

// ProcessSandbox runs snippets as plain child processes of the host.
//
// The child inherits the host environment, filesystem and privileges. It
// runs in its own process group so that cancellation kills everything it
// spawned.
type ProcessSandbox struct {
	policy Policy
	logger *slog.Logger
}

// NewProcessSandbox creates a sandbox with the given policy.
func NewProcessSandbox(policy Policy, logger *slog.Logger) *ProcessSandbox {
	if policy.Interpreter == "" {
		policy.Interpreter = DefaultPolicy().Interpreter
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessSandbox{policy: policy, logger: logger}
}

// Policy returns the sandbox policy.
func (s *ProcessSandbox) Policy() Policy {
	return s.policy
}

func (s *ProcessSandbox) Exec(ctx context.Context, opts ExecOpts) (*ExecResult, error) {
	if opts.Workdir == "" {
		return nil, errors.New("working directory is required")
	}

	runCtx := ctx
	if s.policy.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.policy.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, s.policy.Interpreter, "-c", opts.Code)
	cmd.Dir = opts.Workdir
	cmd.WaitDelay = waitDelay
	killProcessGroup(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = s.capture(&stdout)
	cmd.Stderr = s.capture(&stderr)

	s.logger.Debug("sandbox executing",
		slog.String("interpreter", s.policy.Interpreter),
		slog.String("dir", cmd.Dir),
		slog.Int("code_bytes", len(opts.Code)),
		slog.Duration("timeout", s.policy.Timeout),
	)

	start := time.Now()
	runErr := cmd.Run()
	res := &ExecResult{Duration: time.Since(start)}

	if runErr == nil {
		res.Stdout = stdout.String()
		res.Stderr = stderr.String()
		s.logCompleted(res)
		return res, nil
	}

	res.ExitCode = -1
	switch {
	case ctx.Err() != nil:
		res.Failed = true
		res.Stderr = "error: execution cancelled: " + ctx.Err().Error()
		s.logger.Debug("sandbox execution cancelled", slog.Duration("duration", res.Duration))
	case runCtx.Err() != nil:
		res.TimedOut = true
		res.Stderr = fmt.Sprintf("error: execution timed out after %s", s.policy.Timeout)
		s.logger.Warn("sandbox execution timed out",
			slog.Duration("timeout", s.policy.Timeout),
			slog.Duration("duration", res.Duration),
		)
	default:
		// A non-zero exit is a result, not a failure: the snippet raised.
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) && exitErr.Exited() {
			res.ExitCode = exitErr.ExitCode()
			res.Stdout = stdout.String()
			res.Stderr = stderr.String()
			s.logCompleted(res)
			return res, nil
		}
		res.Failed = true
		res.Stderr = "error: " + runErr.Error()
		s.logger.Warn("sandbox execution failed", slog.String("error", runErr.Error()))
	}
	return res, nil
}

func (s *ProcessSandbox) logCompleted(res *ExecResult) {
	s.logger.Debug("sandbox execution completed",
		slog.Int("exit_code", res.ExitCode),
		slog.Duration("duration", res.Duration),
		slog.Int("stdout_bytes", len(res.Stdout)),
		slog.Int("stderr_bytes", len(res.Stderr)),
	)
}

func (s *ProcessSandbox) capture(buf *bytes.Buffer) io.Writer {
	if s.policy.MaxOutputBytes <= 0 {
		return buf
	}
	return &limitedWriter{w: buf, remaining: s.policy.MaxOutputBytes}
}

// limitedWriter stops writing after a byte limit. Excess data is discarded
// without error so the child never sees a broken pipe.
type limitedWriter struct {
	w         io.Writer
	remaining int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if lw.remaining <= 0 {
		return n, nil
	}
	if len(p) > lw.remaining {
		p = p[:lw.remaining]
	}
	written, err := lw.w.Write(p)
	lw.remaining -= written
	if err != nil {
		return written, err
	}
	return n, nil
}
