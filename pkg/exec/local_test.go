package exec

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestLocalExecEcho(t *testing.T) {
	e := NewLocalExec()
	result, err := e.Run(context.Background(), []string{"echo", "hello"}, ExecOpts{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("expected exit 0, got %d", result.ExitCode)
	}
	if strings.TrimSpace(result.Stdout) != "hello" {
		t.Errorf("expected stdout 'hello', got %q", result.Stdout)
	}
}

func TestLocalExecNonZeroExit(t *testing.T) {
	e := NewLocalExec()
	result, err := e.Run(context.Background(), []string{"sh", "-c", "exit 3"}, ExecOpts{})
	if err != nil {
		t.Fatalf("non-zero exit should not be an error: %v", err)
	}
	if result.ExitCode != 3 {
		t.Errorf("expected exit 3, got %d", result.ExitCode)
	}
}

func TestLocalExecEmptyCommand(t *testing.T) {
	e := NewLocalExec()
	if _, err := e.Run(context.Background(), nil, ExecOpts{}); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestLocalExecWorkDir(t *testing.T) {
	e := NewLocalExec()
	dir := t.TempDir()
	result, err := e.Run(context.Background(), []string{"pwd"}, ExecOpts{WorkDir: dir})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !strings.Contains(result.Stdout, dir) {
		t.Errorf("expected pwd to contain %q, got %q", dir, result.Stdout)
	}
}

func TestLocalExecMissingWorkDir(t *testing.T) {
	e := NewLocalExec()
	if _, err := e.Run(context.Background(), []string{"pwd"}, ExecOpts{WorkDir: "/does/not/exist"}); err == nil {
		t.Fatal("expected error for missing workdir")
	}
}

func TestLocalExecTimeout(t *testing.T) {
	e := NewLocalExec()
	result, err := e.Run(context.Background(), []string{"sleep", "5"}, ExecOpts{Timeout: 100 * time.Millisecond})
	if err != nil {
		// Killed by the context; surfaced either way is acceptable as long as
		// it does not hang.
		return
	}
	if result.ExitCode == 0 {
		t.Error("expected non-zero exit for timed-out command")
	}
}
