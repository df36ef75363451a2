// Package status reconstructs a session's state from its log trail. A pulse
// is a pure function of the files on disk: there is no live cache, repeated
// calls are idempotent, and a restarted reader loses nothing.
package status

import (
	"os"
	"time"

	"hound/pkg/trail"
)

// Session statuses derived from the trail.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
	StatusFailed     = "failed"
)

// Investigator states within a pulse.
const (
	InvestigatorRunning    = "running"
	InvestigatorReported   = "reported"
	InvestigatorUnreported = "terminated/unreported"
)

// Investigator summarizes one evidenced investigator instance.
type Investigator struct {
	InstanceID string `json:"instance_id"`
	Hypothesis string `json:"hypothesis"`
	Branch     string `json:"branch"`
	State      string `json:"state"`
	Confirmed  *bool  `json:"confirmed,omitempty"`
	Summary    string `json:"summary,omitempty"`
}

// Pulse is the computed status summary for one session.
type Pulse struct {
	SessionID     string         `json:"session_id"`
	Status        string         `json:"status"`
	Stage         string         `json:"stage"`
	Solution      string         `json:"solution,omitempty"`
	Investigators []Investigator `json:"investigators"`
	Degraded      []string       `json:"degraded,omitempty"`
}

// Reconstructor derives pulses from a trail store.
type Reconstructor struct {
	store *trail.Store
}

// NewReconstructor creates a reconstructor over the given store.
func NewReconstructor(store *trail.Store) *Reconstructor {
	return &Reconstructor{store: store}
}

// Pulse computes the best-effort status for a session. Partial failures
// (missing or corrupt files) degrade individual fields and are noted in
// Degraded; they never fail the whole call.
func (r *Reconstructor) Pulse(sessionID string) Pulse {
	return r.pulseAt(sessionID, time.Now().UTC())
}

// pulseAt is the testable core: "now" decides whether an unterminated
// investigator without a report is still inside its deadline.
func (r *Reconstructor) pulseAt(sessionID string, now time.Time) Pulse {
	p := Pulse{
		SessionID:     sessionID,
		Status:        StatusInProgress,
		Stage:         trail.StageRunning,
		Investigators: []Investigator{},
	}

	coordEntries, err := r.store.ReadLog(sessionID, trail.CoordinatorActor)
	if err != nil {
		p.Degraded = append(p.Degraded, "coordinator log unreadable")
	}

	// Latest stage and solution win; the log is causally ordered.
	for i := range coordEntries {
		e := &coordEntries[i]
		switch e.EventName() {
		case trail.EventStage:
			if stage := e.DataString("stage"); stage != "" {
				p.Stage = stage
			}
		case trail.EventSolution:
			p.Solution = e.Message
		}
	}

	type evidence struct {
		hypothesis string
		branch     string
		deadline   time.Time
		terminated bool
	}
	seen := map[string]*evidence{}
	var order []string

	actors, err := r.store.ListActors(sessionID)
	if err != nil {
		p.Degraded = append(p.Degraded, "log directory unreadable")
	}
	for _, actor := range actors {
		entries, err := r.store.ReadLog(sessionID, actor)
		if err != nil {
			p.Degraded = append(p.Degraded, "log for "+actor+" unreadable")
			continue
		}
		for i := range entries {
			e := &entries[i]
			id := e.DataString("instance_id")
			if id == "" {
				continue
			}
			ev := seen[id]
			if ev == nil {
				ev = &evidence{}
				seen[id] = ev
				order = append(order, id)
			}
			switch e.EventName() {
			case trail.EventSpawn:
				ev.hypothesis = e.DataString("hypothesis")
				ev.branch = e.DataString("branch")
				if t, err := time.Parse(time.RFC3339, e.DataString("deadline")); err == nil {
					ev.deadline = t
				}
			case trail.EventTerminated:
				ev.terminated = true
			}
		}
	}

	for _, id := range order {
		ev := seen[id]
		inv := Investigator{
			InstanceID: id,
			Hypothesis: ev.hypothesis,
			Branch:     ev.branch,
		}
		report, err := r.store.ReadReport(sessionID, id)
		switch {
		case err == nil:
			inv.State = InvestigatorReported
			inv.Confirmed = report.Confirmed
			inv.Summary = report.Investigation
		case os.IsNotExist(err):
			if !ev.terminated && !ev.deadline.IsZero() && now.Before(ev.deadline) {
				inv.State = InvestigatorRunning
			} else {
				inv.State = InvestigatorUnreported
			}
		default:
			inv.State = InvestigatorUnreported
			p.Degraded = append(p.Degraded, "report for "+id+" unreadable")
		}
		p.Investigators = append(p.Investigators, inv)
	}

	// Terminal coordinator entries beat a recorded solution, which beats
	// anything still running.
	switch p.Stage {
	case trail.StageFailed:
		p.Status = StatusFailed
	case trail.StageCancelled:
		p.Status = StatusCancelled
	case trail.StageDone:
		if p.Solution != "" {
			p.Status = StatusCompleted
		}
	}

	return p
}
