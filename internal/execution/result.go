// Package execution dispatches snippets to a bounded worker pool and
// arbitrates the outer timeout against completion.
package execution

import (
	"time"

	"github.com/michaelbrown/runbox/internal/sandbox"
)

// Outcome classifies a finished request.
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeRuntimeError     Outcome = "runtime_error"
	OutcomeTimedOut         Outcome = "timed_out"
	OutcomeSecurityRejected Outcome = "security_rejected"
	OutcomeInternalFailure  Outcome = "internal_failure"
)

// TimeoutMessage is the stderr of every timed-out execution.
const TimeoutMessage = "execution time exceeded"

// Result is what a caller receives for one submission.
type Result struct {
	Stdout   string
	Stderr   string
	Outcome  Outcome
	Duration time.Duration
}

// Classify maps an engine result onto an outcome. A snippet that wrote
// anything to stderr is a runtime error, whatever its exit code.
func Classify(r *sandbox.ExecResult) Result {
	switch {
	case r.TimedOut:
		return Result{Stderr: TimeoutMessage, Outcome: OutcomeTimedOut}
	case r.Failed:
		return Result{Stderr: r.Stderr, Outcome: OutcomeInternalFailure}
	case r.Stderr != "":
		return Result{Stdout: r.Stdout, Stderr: r.Stderr, Outcome: OutcomeRuntimeError}
	default:
		return Result{Stdout: r.Stdout, Outcome: OutcomeSuccess}
	}
}
