// Package session tracks live sessions: one cancellation context and one set
// of tracked subprocess pids per session. The registry is purely in-memory;
// a session's log trail outlives its registry entry.
package session

import (
	"context"
	"sync"
	"syscall"

	"hound/pkg/logx"
)

// Registry holds cancellation tokens and tracked process sets. It is an
// explicit value owned by the server or CLI and handed to whoever needs it.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*entry
	logger   *logx.Logger
}

type entry struct {
	ctx       context.Context
	cancel    context.CancelFunc
	cancelled chan struct{}
	pids      map[int]bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*entry),
		logger:   logx.NewLogger("session"),
	}
}

// Open creates a registry entry with a fresh cancellation token and an empty
// tracked-process set. The returned context is cancelled by Cancel or by
// cancelling parent.
func (r *Registry) Open(parent context.Context, sessionID string) context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[sessionID]; ok {
		return existing.ctx
	}

	ctx, cancel := context.WithCancel(parent)
	r.sessions[sessionID] = &entry{
		ctx:       ctx,
		cancel:    cancel,
		cancelled: make(chan struct{}),
		pids:      make(map[int]bool),
	}
	return ctx
}

// CancelSignal returns a channel closed only by Cancel. Close never fires it,
// so holders can tell explicit cancellation from natural completion. Unknown
// sessions get a nil channel, which never fires.
func (r *Registry) CancelSignal(sessionID string) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[sessionID]; ok {
		return e.cancelled
	}
	return nil
}

// Cancel signals the session's token, sends SIGTERM to every tracked pid,
// clears the set, and removes the entry. Unknown ids are a no-op; signaling
// an already-dead pid is ignored. Historical logs and reports are untouched.
func (r *Registry) Cancel(sessionID string) {
	r.mu.Lock()
	e, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	close(e.cancelled)
	e.cancel()
	for pid := range e.pids {
		if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
			r.logger.Debug("signal to pid %d ignored: %v", pid, err)
		}
	}
	r.logger.Info("cancelled session %s (%d tracked processes signaled)", sessionID, len(e.pids))
}

// Close removes the entry on natural completion without signaling tracked
// processes: the cancel signal stays silent and still-running subprocesses
// keep going until they exit or hit their own deadline. The context is
// released so nothing leaks.
func (r *Registry) Close(sessionID string) {
	r.mu.Lock()
	e, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()

	if ok {
		e.cancel()
	}
}

// Track adds a pid to the session's tracked set. Tracking against an unknown
// session is ignored; the subprocess was spawned into a session already gone.
func (r *Registry) Track(sessionID string, pid int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[sessionID]; ok {
		e.pids[pid] = true
	}
}

// Untrack removes a pid after confirmed termination.
func (r *Registry) Untrack(sessionID string, pid int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[sessionID]; ok {
		delete(e.pids, pid)
	}
}

// TrackedPids returns a snapshot of the session's tracked pids.
func (r *Registry) TrackedPids(sessionID string) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	pids := make([]int, 0, len(e.pids))
	for pid := range e.pids {
		pids = append(pids, pid)
	}
	return pids
}

// Active reports whether the session has a live registry entry.
func (r *Registry) Active(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[sessionID]
	return ok
}
