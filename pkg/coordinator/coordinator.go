// Package coordinator drives a debugging session: it converses with the
// model, executes tools, spawns investigators for hypotheses, and accepts a
// solution once the model is confident enough. Exactly one coordinator runs
// per session.
package coordinator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"hound/pkg/branch"
	"hound/pkg/contextmgr"
	"hound/pkg/llm"
	"hound/pkg/llm/llmerrors"
	"hound/pkg/logx"
	"hound/pkg/metrics"
	"hound/pkg/notes"
	"hound/pkg/supervisor"
	"hound/pkg/tagparse"
	"hound/pkg/tools"
	"hound/pkg/trail"
)

const (
	// DefaultMaxRuntime bounds one session's coordinator loop.
	DefaultMaxRuntime = 60 * time.Minute
	// DefaultConfidenceThreshold is the minimum self-reported confidence for
	// a solution to be accepted.
	DefaultConfidenceThreshold = 96
	// DefaultIdleDelay paces turns in which the model issued no directive.
	DefaultIdleDelay = 2 * time.Second
)

// Problem is what the client asked hound to debug.
type Problem struct {
	Error    string
	RepoPath string
	Context  string
	Language string
	FilePath string
}

// Config wires one coordinator. Client must already be retry-wrapped.
type Config struct {
	SessionID  string
	Problem    Problem
	Client     llm.Client
	Store      *trail.Store
	Branches   *branch.Manager
	Supervisor *supervisor.Supervisor
	Tools      *tools.Registry
	Notes      *notes.Store // optional; appends are best-effort

	MaxRuntime          time.Duration
	ConfidenceThreshold int
	TokenBudget         int
	IdleDelay           time.Duration
}

// Coordinator runs the session loop.
type Coordinator struct {
	cfg         Config
	history     *contextmgr.Manager
	logger      *logx.Logger
	seenObs     int
	seenReports map[string]bool
}

// New validates the wiring and creates a coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.SessionID == "" {
		return nil, fmt.Errorf("coordinator: session id is required")
	}
	if cfg.Client == nil || cfg.Store == nil || cfg.Branches == nil || cfg.Supervisor == nil || cfg.Tools == nil {
		return nil, fmt.Errorf("coordinator: client, store, branches, supervisor and tools are all required")
	}
	if cfg.MaxRuntime <= 0 {
		cfg.MaxRuntime = DefaultMaxRuntime
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if cfg.IdleDelay <= 0 {
		cfg.IdleDelay = DefaultIdleDelay
	}

	return &Coordinator{
		cfg:         cfg,
		history:     contextmgr.NewManager(systemPrompt(cfg.Tools), cfg.TokenBudget),
		logger:      logx.NewLogger("coordinator"),
		seenReports: make(map[string]bool),
	}, nil
}

// Run executes the loop until a terminal stage is reached. ctx is the
// session's cancellation token; cancellation is honored at turn boundaries.
func (c *Coordinator) Run(ctx context.Context) error {
	c.stage(trail.StageRunning, "session started: "+c.cfg.Problem.Error)
	c.history.AddUser(c.problemStatement())
	deadline := time.Now().Add(c.cfg.MaxRuntime)

	for {
		if err := ctx.Err(); err != nil {
			c.stage(trail.StageCancelled, "session cancelled")
			return nil
		}
		if time.Now().After(deadline) {
			c.stage(trail.StageFailed, "max runtime exceeded")
			return fmt.Errorf("coordinator: max runtime exceeded")
		}

		c.absorbObservations()
		c.absorbReports()

		c.stage(trail.StageAwaitingModel, "awaiting model")
		start := time.Now()
		resp, err := c.cfg.Client.Complete(ctx, llm.NewRequest(c.history.Messages()))
		metrics.RecordLLMRequest(c.cfg.Client.ModelName(), "coordinator", time.Since(start), errType(err))
		if err != nil {
			c.stage(trail.StageFailed, "model request failed: "+err.Error())
			return fmt.Errorf("coordinator: model request failed: %w", err)
		}
		c.history.AddAssistant(resp.Content)

		blocks, skipped := tagparse.Parse(resp.Content)
		if skipped > 0 {
			c.append(trail.Entry{Level: trail.LevelWarn, Message: fmt.Sprintf("skipped %d malformed tags", skipped)})
		}

		c.stage(trail.StageActing, "acting on model reply")
		done, err := c.act(ctx, blocks)
		if err != nil {
			c.stage(trail.StageFailed, err.Error())
			return err
		}
		if done {
			return nil
		}

		if len(blocks) == 0 {
			// Nothing actionable; nudge and pace the loop.
			c.history.AddUser("No directives found in your reply. Use the tool, hypothesis or solution tags to make progress.")
			select {
			case <-ctx.Done():
			case <-time.After(c.cfg.IdleDelay):
			}
		}
	}
}

// act applies the precedence rules to one reply's blocks. It returns true
// when the session reached DONE.
func (c *Coordinator) act(ctx context.Context, blocks []tagparse.Block) (bool, error) {
	toolCalls := tagparse.ToolCalls(blocks)
	hypotheses := tagparse.Hypotheses(blocks)
	solution, hasSolution := tagparse.FirstSolution(blocks)

	// Tool calls win the turn. Co-occurring hypotheses are discarded, not
	// queued; the model must re-emit them when the tool results are in.
	if len(toolCalls) > 0 {
		if len(hypotheses) > 0 {
			c.append(trail.Entry{
				Message: fmt.Sprintf("discarded %d hypotheses co-occurring with tool calls", len(hypotheses)),
			})
		}
		for i := range toolCalls {
			c.runTool(ctx, &toolCalls[i])
		}
		return false, nil
	}

	if len(hypotheses) > 0 {
		for i := range hypotheses {
			c.spawnInvestigator(ctx, hypotheses[i].Text)
		}
		return false, nil
	}

	if hasSolution {
		if solution.Confidence >= c.cfg.ConfidenceThreshold {
			c.append(trail.SolutionEntry(solution.Text, solution.Confidence))
			c.stage(trail.StageDone, "solution accepted")
			c.note(notes.KindSolution, solution.Text)
			return true, nil
		}
		c.append(trail.Entry{
			Message: fmt.Sprintf("solution below confidence threshold (%d < %d), treated as ordinary output", solution.Confidence, c.cfg.ConfidenceThreshold),
		})
		c.history.AddUser(fmt.Sprintf(
			"Your solution's confidence %d is below the acceptance threshold of %d. Keep investigating, or restate the solution once you are more certain.",
			solution.Confidence, c.cfg.ConfidenceThreshold))
	}

	return false, nil
}

// runTool executes one tool call and feeds the result (or the failure) back
// into the conversation. Tool failures never end the session.
func (c *Coordinator) runTool(ctx context.Context, call *tagparse.Block) {
	out, err := c.cfg.Tools.Execute(ctx, call.ToolName, call.Args)
	if err != nil {
		c.append(trail.Entry{Level: trail.LevelWarn, Message: fmt.Sprintf("tool %s failed: %v", call.ToolName, err)})
		c.history.AddToolResult(call.ToolName, "error: "+err.Error())
		return
	}
	c.append(trail.Entry{Message: "executed tool " + call.ToolName})
	c.history.AddToolResult(call.ToolName, out)
}

// spawnInvestigator allocates a branch, materializes it, and launches one
// investigator for the hypothesis.
func (c *Coordinator) spawnInvestigator(ctx context.Context, hypothesis string) {
	branchName := c.cfg.Branches.Allocate(c.cfg.SessionID)
	if err := c.cfg.Branches.Materialize(ctx, branchName, c.cfg.Problem.RepoPath); err != nil {
		c.append(trail.Entry{Level: trail.LevelError, Message: fmt.Sprintf("failed to materialize branch %s: %v", branchName, err)})
		c.history.AddUser(fmt.Sprintf("Could not create branch for hypothesis %q: %v", hypothesis, err))
		return
	}

	instanceID, err := c.cfg.Supervisor.Spawn(ctx, supervisor.SpawnRequest{
		SessionID:  c.cfg.SessionID,
		Hypothesis: hypothesis,
		Branch:     branchName,
		RepoPath:   c.cfg.Problem.RepoPath,
	})
	if err != nil {
		c.append(trail.Entry{Level: trail.LevelError, Message: fmt.Sprintf("failed to spawn investigator: %v", err)})
		c.history.AddUser(fmt.Sprintf("Could not spawn an investigator for hypothesis %q: %v", hypothesis, err))
		return
	}

	c.note(notes.KindHypothesis, hypothesis)
	c.history.AddUser(fmt.Sprintf("Investigator %s is testing hypothesis %q on branch %s. Its report will arrive in a later turn.",
		instanceID, hypothesis, branchName))
}

// absorbObservations feeds observations that arrived since the last turn into
// the conversation, in arrival order.
func (c *Coordinator) absorbObservations() {
	obs, err := c.cfg.Store.ReadObservations(c.cfg.SessionID)
	if err != nil {
		c.logger.Warn("failed to read observations: %v", err)
		return
	}
	for ; c.seenObs < len(obs); c.seenObs++ {
		o := obs[c.seenObs]
		c.history.AddUser(fmt.Sprintf("Observation from %s: %s", o.Author, o.Text))
	}
}

// absorbReports feeds newly arrived investigator reports into the
// conversation.
func (c *Coordinator) absorbReports() {
	ids, err := c.cfg.Store.ListReports(c.cfg.SessionID)
	if err != nil {
		c.logger.Warn("failed to list reports: %v", err)
		return
	}
	for _, id := range ids {
		if c.seenReports[id] {
			continue
		}
		report, err := c.cfg.Store.ReadReport(c.cfg.SessionID, id)
		if err != nil {
			c.logger.Warn("failed to read report %s: %v", id, err)
			continue
		}
		c.seenReports[id] = true

		verdict := "inconclusive"
		if report.Confirmed != nil {
			if *report.Confirmed {
				verdict = "confirmed"
			} else {
				verdict = "refuted"
			}
		}
		c.append(trail.Entry{Message: fmt.Sprintf("report from investigator %s: hypothesis %s", id, verdict)})
		c.history.AddUser(fmt.Sprintf(
			"Investigator %s reported on hypothesis %q: %s (confidence %.0f).\nInvestigation: %s\nChanges: %s",
			id, report.Hypothesis, verdict, report.Confidence, report.Investigation, report.Changes))
		c.note(notes.KindProgress, fmt.Sprintf("hypothesis %q %s", report.Hypothesis, verdict))
	}
}

func (c *Coordinator) stage(stage, message string) {
	c.append(trail.StageEntry(stage, message))
}

func (c *Coordinator) append(entry trail.Entry) {
	if err := c.cfg.Store.Append(c.cfg.SessionID, trail.CoordinatorActor, entry); err != nil {
		c.logger.Error("failed to append log entry: %v", err)
	}
}

// note records a durable note without ever failing the turn.
func (c *Coordinator) note(kind, text string) {
	if c.cfg.Notes == nil {
		return
	}
	go func() {
		if err := c.cfg.Notes.Add(c.cfg.SessionID, kind, text); err != nil {
			c.logger.Debug("failed to record note: %v", err)
		}
	}()
}

func (c *Coordinator) problemStatement() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Debug this error:\n%s\n\nRepository: %s\n", c.cfg.Problem.Error, c.cfg.Problem.RepoPath)
	if c.cfg.Problem.Language != "" {
		fmt.Fprintf(&b, "Language: %s\n", c.cfg.Problem.Language)
	}
	if c.cfg.Problem.FilePath != "" {
		fmt.Fprintf(&b, "Suspect file: %s\n", c.cfg.Problem.FilePath)
	}
	if c.cfg.Problem.Context != "" {
		fmt.Fprintf(&b, "Additional context:\n%s\n", c.cfg.Problem.Context)
	}
	return b.String()
}

func systemPrompt(registry *tools.Registry) string {
	return `You are the coordinator of a debugging session. Work in small steps.

Respond using these tags, and only these tags, to act:
- <tool name="NAME">{"arg": "value"}</tool> to run a tool. Available tools: ` + strings.Join(registry.Names(), ", ") + `
- <hypothesis>one plausible root cause</hypothesis> to dispatch an investigator that will test it on an isolated branch
- <solution confidence="NN">the verified fix</solution> when you are confident; confidence is 0-100

Rules: if you emit tool calls, hypotheses in the same reply are ignored.
Emit each hypothesis only when you are ready for it to be tested. Investigator
reports arrive as messages in later turns.`
}

func errType(err error) string {
	if err == nil {
		return ""
	}
	return llmerrors.TypeOf(err).String()
}
