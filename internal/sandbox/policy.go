package sandbox

import "time"

// Policy defines how snippets are executed.
type Policy struct {
	Interpreter    string        // Interpreter binary, invoked as <interpreter> -c <code>
	Timeout        time.Duration // Engine-level limit; 0 disables it
	MaxOutputBytes int           // Cap per captured stream; 0 means unlimited
}

// DefaultPolicy returns the defaults for code execution.
func DefaultPolicy() Policy {
	return Policy{
		Interpreter: "python3",
		Timeout:     30 * time.Second,
	}
}
