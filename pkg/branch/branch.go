// Package branch manages investigator branch isolation. Only the coordinator
// holds a Manager; every investigator works on a branch it was handed and
// never allocates one itself.
package branch

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"hound/pkg/exec"
)

// Manager allocates branch names per session and materializes them in a
// repository. Counters are strictly increasing within a session and are never
// reused, cancelled instances included.
type Manager struct {
	mu       sync.Mutex
	counters map[string]int
	executor exec.Executor
}

// NewManager creates a branch manager backed by the given executor.
func NewManager(executor exec.Executor) *Manager {
	return &Manager{
		counters: make(map[string]int),
		executor: executor,
	}
}

// Allocate returns the next branch name for the session.
func (m *Manager) Allocate(sessionID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[sessionID]++
	return fmt.Sprintf("debug-%s-%d", sessionID, m.counters[sessionID])
}

// Materialize creates and checks out the branch in repoPath. Every
// investigator assumes an exclusive checkout, so any failure here is loud.
func (m *Manager) Materialize(ctx context.Context, branchName, repoPath string) error {
	result, err := m.executor.Run(ctx, []string{"git", "checkout", "-b", branchName}, exec.ExecOpts{
		WorkDir: repoPath,
	})
	if err != nil {
		return fmt.Errorf("failed to run git checkout -b %s: %w", branchName, err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("git checkout -b %s failed (exit %d): %s",
			branchName, result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return nil
}
