package trail

import "time"

// Structured event names carried in Entry.Data["event"]. These are the only
// markers the status reconstructor understands; everything else in a log is
// narrative.
const (
	EventStage      = "stage"      // coordinator stage transition
	EventSolution   = "solution"   // accepted solution
	EventSpawn      = "spawn"      // investigator subprocess launched
	EventTerminated = "terminated" // investigator confirmed dead
)

// Coordinator stages recorded with EventStage.
const (
	StageRunning       = "RUNNING"
	StageAwaitingModel = "AWAITING_MODEL"
	StageActing        = "ACTING"
	StageDone          = "DONE"
	StageCancelled     = "CANCELLED"
	StageFailed        = "FAILED"
)

// Termination reasons recorded with EventTerminated.
const (
	ReasonExit      = "exit"
	ReasonTimeout   = "timeout"
	ReasonCancelled = "cancelled"
)

// StageEntry builds a coordinator stage-transition entry.
func StageEntry(stage, message string) Entry {
	return Entry{
		Level:   LevelInfo,
		Message: message,
		Data:    map[string]any{"event": EventStage, "stage": stage},
	}
}

// SolutionEntry builds the entry persisting an accepted solution.
func SolutionEntry(solution string, confidence int) Entry {
	return Entry{
		Level:   LevelInfo,
		Message: solution,
		Data:    map[string]any{"event": EventSolution, "confidence": confidence},
	}
}

// SpawnEntry builds the structured record of an investigator launch.
func SpawnEntry(instanceID, hypothesis, branch string, pid int, deadline time.Time) Entry {
	return Entry{
		Level:   LevelInfo,
		Message: "spawned investigator " + instanceID,
		Data: map[string]any{
			"event":       EventSpawn,
			"instance_id": instanceID,
			"hypothesis":  hypothesis,
			"branch":      branch,
			"pid":         pid,
			"deadline":    deadline.UTC().Format(time.RFC3339),
		},
	}
}

// TerminatedEntry builds the structured record of a confirmed termination.
func TerminatedEntry(instanceID, reason string, exitCode int) Entry {
	return Entry{
		Level:   LevelInfo,
		Message: "investigator " + instanceID + " terminated by " + reason,
		Data: map[string]any{
			"event":       EventTerminated,
			"instance_id": instanceID,
			"reason":      reason,
			"exit_code":   exitCode,
		},
	}
}

// EventName extracts the structured event name from an entry, or "".
func (e *Entry) EventName() string {
	if e.Data == nil {
		return ""
	}
	name, _ := e.Data["event"].(string)
	return name
}

// DataString returns a string field from Entry.Data, or "".
func (e *Entry) DataString(key string) string {
	if e.Data == nil {
		return ""
	}
	s, _ := e.Data[key].(string)
	return s
}
