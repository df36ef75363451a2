// Package exec provides command execution for collaborator tools and the
// branch manager.
package exec

import (
	"context"
	"time"
)

// DefaultTimeout bounds a command when the caller does not set one.
const DefaultTimeout = 60 * time.Second

// ExecOpts configures a single command execution.
type ExecOpts struct {
	WorkDir string
	Env     []string
	Timeout time.Duration
}

// ExecResult captures the outcome of a command execution.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Executor runs commands. A non-zero exit code is reported through
// ExecResult, not through the error return; the error is reserved for
// failures to run at all.
type Executor interface {
	Run(ctx context.Context, cmd []string, opts ExecOpts) (ExecResult, error)
	Name() string
}
