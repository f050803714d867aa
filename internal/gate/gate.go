// Package gate statically vets Python snippets before they are executed.
//
// The check is a shallow denylist over the snippet's syntax tree: imports of
// forbidden modules and direct calls of forbidden builtins are rejected.
// Indirect access (getattr, __import__, attribute calls) is not detected.
// This is not a sandbox.
package gate

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

//go:embed checker.py
var checkerSource string

// Kind classifies a rejected snippet.
type Kind string

const (
	KindInvalidSyntax   Kind = "invalid_syntax"
	KindForbiddenModule Kind = "forbidden_module"
	KindForbiddenCall   Kind = "forbidden_call"
)

// DefaultForbiddenModules are modules a snippet may not import.
var DefaultForbiddenModules = []string{
	"importlib",
	"os",
	"sys",
	"subprocess",
	"socket",
	"threading",
	"multiprocessing",
	"pickle",
	"marshal",
	"shelve",
	"sqlite3",
	"ctypes",
	"cffi",
}

// DefaultForbiddenCalls are builtins a snippet may not call by bare name.
var DefaultForbiddenCalls = []string{"exec", "eval", "open"}

const defaultTimeout = 5 * time.Second

// Config controls the gate.
type Config struct {
	Interpreter      string
	ForbiddenModules []string
	ForbiddenCalls   []string
	Timeout          time.Duration
}

// Verdict is the outcome of vetting one snippet.
type Verdict struct {
	Allowed bool
	Kind    Kind
	Symbol  string
}

// Reason is the human-readable rejection reason. Empty when allowed.
func (v Verdict) Reason() string {
	switch v.Kind {
	case KindInvalidSyntax:
		return "invalid Python syntax"
	case KindForbiddenModule:
		return "forbidden module: " + v.Symbol
	case KindForbiddenCall:
		return "forbidden keyword: " + v.Symbol
	}
	return ""
}

// Err returns nil for an allowed verdict and a *Rejection otherwise.
func (v Verdict) Err() error {
	if v.Allowed {
		return nil
	}
	return &Rejection{Kind: v.Kind, Symbol: v.Symbol}
}

// Rejection is the error form of a negative verdict.
type Rejection struct {
	Kind   Kind
	Symbol string
}

func (r *Rejection) Error() string {
	return Verdict{Kind: r.Kind, Symbol: r.Symbol}.Reason()
}

// IsRejection reports whether err carries a gate rejection.
func IsRejection(err error) bool {
	var rej *Rejection
	return errors.As(err, &rej)
}

// Gate parses snippets with the interpreter that will later run them.
type Gate struct {
	interpreter string
	modulesJSON string
	callsJSON   string
	timeout     time.Duration
}

// New creates a Gate. Empty denylists fall back to the defaults.
func New(cfg Config) *Gate {
	interpreter := cfg.Interpreter
	if interpreter == "" {
		interpreter = "python3"
	}
	modules := cfg.ForbiddenModules
	if len(modules) == 0 {
		modules = DefaultForbiddenModules
	}
	calls := cfg.ForbiddenCalls
	if len(calls) == 0 {
		calls = DefaultForbiddenCalls
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	m, _ := json.Marshal(modules)
	c, _ := json.Marshal(calls)
	return &Gate{
		interpreter: interpreter,
		modulesJSON: string(m),
		callsJSON:   string(c),
		timeout:     timeout,
	}
}

type checkerOutput struct {
	Kind   Kind   `json:"kind"`
	Symbol string `json:"symbol"`
}

// Vet parses code and walks its syntax tree. The snippet is only parsed,
// never executed. A non-nil error means the gate itself could not run; the
// snippet must then be treated as not vetted.
func (g *Gate) Vet(ctx context.Context, code string) (Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	// -I: isolated mode, no user site-packages or PYTHON* env vars.
	cmd := exec.CommandContext(ctx, g.interpreter, "-I", "-c", checkerSource, g.modulesJSON, g.callsJSON)
	cmd.Stdin = strings.NewReader(code)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Verdict{}, fmt.Errorf("safety check timed out after %s: %w", g.timeout, ctx.Err())
		}
		return Verdict{}, fmt.Errorf("running safety checker: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var out checkerOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return Verdict{}, fmt.Errorf("decoding safety checker output %q: %w", stdout.String(), err)
	}

	switch out.Kind {
	case "":
		return Verdict{Allowed: true}, nil
	case KindInvalidSyntax, KindForbiddenModule, KindForbiddenCall:
		return Verdict{Kind: out.Kind, Symbol: out.Symbol}, nil
	default:
		return Verdict{}, fmt.Errorf("unknown verdict kind %q", out.Kind)
	}
}
