// Package supervisor launches and reaps investigator subprocesses. Spawn
// returns as soon as the process is running; completion is observed later
// through the log trail and report files, never via a return value.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"hound/pkg/logx"
	"hound/pkg/metrics"
	"hound/pkg/session"
	"hound/pkg/trail"
)

const (
	// DefaultDeadline bounds one investigator's total runtime.
	DefaultDeadline = 5 * time.Minute
	// DefaultGrace is how long a SIGTERMed investigator gets before SIGKILL.
	DefaultGrace = 10 * time.Second
	// Actor is the supervisor's log name within a session.
	Actor = "supervisor"
)

// SpawnRequest describes one investigator to launch.
type SpawnRequest struct {
	SessionID  string
	Hypothesis string
	Branch     string
	RepoPath   string
}

// Supervisor spawns investigator subprocesses of the hound binary itself.
type Supervisor struct {
	store    *trail.Store
	registry *session.Registry
	binary   string
	extra    []string // extra flags every investigator gets (config path etc.)
	deadline time.Duration
	grace    time.Duration
	logger   *logx.Logger
	wg       sync.WaitGroup
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithDeadline overrides the per-instance deadline.
func WithDeadline(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.deadline = d
		}
	}
}

// WithGrace overrides the termination grace window.
func WithGrace(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.grace = d
		}
	}
}

// WithBinary overrides which executable is spawned. Tests point this at a
// stub; production uses the running binary.
func WithBinary(path string) Option {
	return func(s *Supervisor) { s.binary = path }
}

// WithExtraArgs appends flags to every spawned investigator.
func WithExtraArgs(args ...string) Option {
	return func(s *Supervisor) { s.extra = args }
}

// New creates a supervisor. By default investigators run the current
// executable in investigate mode.
func New(store *trail.Store, registry *session.Registry, opts ...Option) (*Supervisor, error) {
	binary, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve own executable: %w", err)
	}
	s := &Supervisor{
		store:    store,
		registry: registry,
		binary:   binary,
		deadline: DefaultDeadline,
		grace:    DefaultGrace,
		logger:   logx.NewLogger("supervisor"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Spawn launches one investigator subprocess, tracks its pid, records the
// spawn event, arms the deadline reaper, and returns the instance id
// immediately. Explicit session cancellation triggers the same graceful-
// then-forceful shutdown as the deadline; natural session completion does
// not, so a closed session's investigators run on until they exit or time
// out.
func (s *Supervisor) Spawn(ctx context.Context, req SpawnRequest) (string, error) {
	instanceID := uuid.NewString()
	deadline := time.Now().Add(s.deadline)

	args := []string{
		"-mode", "investigate",
		"-session", req.SessionID,
		"-instance", instanceID,
		"-hypothesis", req.Hypothesis,
		"-branch", req.Branch,
		"-repo", req.RepoPath,
		"-data-dir", s.store.DataDir(),
	}
	args = append(args, s.extra...)

	cmd := exec.Command(s.binary, args...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	// Own process group so signals do not leak to the server.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("failed to start investigator: %w", err)
	}

	pid := cmd.Process.Pid
	s.registry.Track(req.SessionID, pid)
	metrics.RecordSpawn()

	entry := trail.SpawnEntry(instanceID, req.Hypothesis, req.Branch, pid, deadline)
	if err := s.store.Append(req.SessionID, Actor, entry); err != nil {
		s.logger.Error("failed to record spawn of %s: %v", instanceID, err)
	}
	s.logger.Info("spawned investigator %s (pid %d) on branch %s", instanceID, pid, req.Branch)

	// Captured before the registry entry can disappear; the channel outlives
	// the entry.
	cancelSig := s.registry.CancelSignal(req.SessionID)

	s.wg.Add(1)
	go s.reap(cancelSig, req.SessionID, instanceID, cmd)

	return instanceID, nil
}

// Wait blocks until every spawned investigator has been reaped.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// reap waits for natural exit, the deadline, or explicit session
// cancellation, then records exactly one termination and untracks the pid
// exactly once. cancelSig is the registry's cancel-only signal; a session
// closed on natural completion never fires it.
func (s *Supervisor) reap(cancelSig <-chan struct{}, sessionID, instanceID string, cmd *exec.Cmd) {
	defer s.wg.Done()

	pid := cmd.Process.Pid
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(s.deadline)
	defer timer.Stop()

	var reason string
	var exitCode int

	select {
	case err := <-done:
		reason = trail.ReasonExit
		exitCode = exitCodeOf(cmd, err)
	case <-timer.C:
		reason = trail.ReasonTimeout
		exitCode = s.terminate(cmd, done)
		s.logger.Warn("investigator %s (pid %d) terminated by timeout", instanceID, pid)
	case <-cancelSig:
		reason = trail.ReasonCancelled
		exitCode = s.terminate(cmd, done)
	}

	s.registry.Untrack(sessionID, pid)
	metrics.RecordTermination(reason)

	if err := s.store.Append(sessionID, Actor, trail.TerminatedEntry(instanceID, reason, exitCode)); err != nil {
		s.logger.Error("failed to record termination of %s: %v", instanceID, err)
	}
}

// terminate sends SIGTERM, waits out the grace window, then SIGKILLs.
func (s *Supervisor) terminate(cmd *exec.Cmd, done chan error) int {
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Already dead; collect it.
		return exitCodeOf(cmd, <-done)
	}

	select {
	case err := <-done:
		return exitCodeOf(cmd, err)
	case <-time.After(s.grace):
		_ = cmd.Process.Kill()
		return exitCodeOf(cmd, <-done)
	}
}

func exitCodeOf(cmd *exec.Cmd, err error) int {
	if err == nil {
		return 0
	}
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	return -1
}
