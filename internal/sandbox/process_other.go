//go:build !unix

package sandbox

import "os/exec"

// killProcessGroup is a no-op: cancellation kills only the interpreter.
func killProcessGroup(cmd *exec.Cmd) {}
