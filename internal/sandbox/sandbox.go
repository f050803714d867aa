package sandbox

import (
	"context"
	"time"
)

// ExecOpts describes one snippet execution.
type ExecOpts struct {
	Code    string // Source passed inline to the interpreter
	Workdir string // Process working directory; required
}

// ExecResult is the output of an execution. Exactly one is produced per
// call, after the child process has exited or been killed.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration

	// TimedOut is set when the engine deadline killed the process.
	TimedOut bool
	// Failed is set when the process could not be run to completion
	// (spawn failure, killed externally, cancelled). Stderr then holds
	// a synthesized message and Stdout is empty.
	Failed bool
}

// Sandbox runs code as a child process.
type Sandbox interface {
	Exec(ctx context.Context, opts ExecOpts) (*ExecResult, error)
}
