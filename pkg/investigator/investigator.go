// Package investigator implements the short-lived subprocess that tests a
// single hypothesis on its own branch and leaves exactly one report behind.
package investigator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"hound/pkg/contextmgr"
	"hound/pkg/llm"
	"hound/pkg/llm/llmerrors"
	"hound/pkg/logx"
	"hound/pkg/metrics"
	"hound/pkg/tagparse"
	"hound/pkg/tools"
	"hound/pkg/trail"
)

const (
	// DefaultMaxIdleTurns bounds consecutive replies with no directives
	// before the investigation is abandoned without a report.
	DefaultMaxIdleTurns = 3

	// DefaultIdleDelay paces the loop after an empty reply.
	DefaultIdleDelay = 2 * time.Second
)

// Config carries everything one investigation needs. All fields except
// TokenBudget, MaxIdleTurns and IdleDelay are required.
type Config struct {
	SessionID  string
	InstanceID string
	Hypothesis string
	Branch     string
	RepoPath   string

	Client llm.Client
	Store  *trail.Store
	Tools  *tools.Registry

	TokenBudget  int
	MaxIdleTurns int
	IdleDelay    time.Duration
}

// Investigator drives the model until it produces a report or gives up.
type Investigator struct {
	cfg     Config
	history *contextmgr.Manager
	logger  *logx.Logger
}

func New(cfg Config) (*Investigator, error) {
	switch {
	case cfg.SessionID == "":
		return nil, fmt.Errorf("investigator: session id is required")
	case cfg.InstanceID == "":
		return nil, fmt.Errorf("investigator: instance id is required")
	case cfg.Hypothesis == "":
		return nil, fmt.Errorf("investigator: hypothesis is required")
	case cfg.Client == nil:
		return nil, fmt.Errorf("investigator: llm client is required")
	case cfg.Store == nil:
		return nil, fmt.Errorf("investigator: trail store is required")
	case cfg.Tools == nil:
		return nil, fmt.Errorf("investigator: tool registry is required")
	}
	if cfg.MaxIdleTurns <= 0 {
		cfg.MaxIdleTurns = DefaultMaxIdleTurns
	}
	if cfg.IdleDelay <= 0 {
		cfg.IdleDelay = DefaultIdleDelay
	}
	return &Investigator{
		cfg:     cfg,
		history: contextmgr.NewManager(systemPrompt(cfg), cfg.TokenBudget),
		logger:  logx.NewLogger("investigator"),
	}, nil
}

// Run executes the loop until a report is written, the context is cancelled,
// or the idle budget is exhausted. A non-nil error means the investigation
// ended without a report.
func (v *Investigator) Run(ctx context.Context) error {
	v.append(trail.Entry{Message: fmt.Sprintf("investigating hypothesis %q on branch %s", v.cfg.Hypothesis, v.cfg.Branch)})
	v.history.AddUser(v.assignment())

	idle := 0
	for {
		if ctx.Err() != nil {
			v.append(trail.Entry{Level: trail.LevelWarn, Message: "investigation cancelled before reporting"})
			return nil
		}

		start := time.Now()
		resp, err := v.cfg.Client.Complete(ctx, llm.NewRequest(v.history.Messages()))
		metrics.RecordLLMRequest(v.cfg.Client.ModelName(), "investigator", time.Since(start), errType(err))
		if err != nil {
			v.append(trail.Entry{Level: trail.LevelError, Message: "model request failed: " + err.Error()})
			return fmt.Errorf("investigator: model request failed: %w", err)
		}
		v.history.AddAssistant(resp.Content)

		blocks, skipped := tagparse.Parse(resp.Content)
		if skipped > 0 {
			v.append(trail.Entry{Level: trail.LevelWarn, Message: fmt.Sprintf("skipped %d malformed tags", skipped)})
		}

		toolCalls := tagparse.ToolCalls(blocks)
		if len(toolCalls) > 0 {
			idle = 0
			for i := range toolCalls {
				v.runTool(ctx, &toolCalls[i])
			}
			continue
		}

		if report, ok := tagparse.FirstReport(blocks); ok {
			return v.finish(&report)
		}

		idle++
		if idle >= v.cfg.MaxIdleTurns {
			v.append(trail.Entry{Level: trail.LevelError, Message: fmt.Sprintf("no report after %d idle turns, giving up", idle)})
			return fmt.Errorf("investigator: no report after %d idle turns", idle)
		}
		v.history.AddUser("No directives found in your reply. Run tools to test the hypothesis, or emit your <report> when the verdict is in.")
		select {
		case <-ctx.Done():
		case <-time.After(v.cfg.IdleDelay):
		}
	}
}

// finish decodes the report block and persists it exactly once.
func (v *Investigator) finish(block *tagparse.Block) error {
	var report trail.Report
	if err := json.Unmarshal(block.RawJSON, &report); err != nil {
		v.append(trail.Entry{Level: trail.LevelError, Message: "undecodable report payload: " + err.Error()})
		return fmt.Errorf("investigator: undecodable report payload: %w", err)
	}
	if report.Hypothesis == "" {
		report.Hypothesis = v.cfg.Hypothesis
	}

	err := v.cfg.Store.WriteReportOnce(v.cfg.SessionID, v.cfg.InstanceID, report)
	if errors.Is(err, trail.ErrReportExists) {
		v.append(trail.Entry{Level: trail.LevelWarn, Message: "report already written, keeping the first one"})
		return nil
	}
	if err != nil {
		v.append(trail.Entry{Level: trail.LevelError, Message: "failed to write report: " + err.Error()})
		return fmt.Errorf("investigator: failed to write report: %w", err)
	}
	v.append(trail.Entry{Message: "report written"})
	return nil
}

// runTool executes one tool call and feeds the result back. Policy violations
// are reported to the model like any other failure; the loop continues.
func (v *Investigator) runTool(ctx context.Context, call *tagparse.Block) {
	out, err := v.cfg.Tools.Execute(ctx, call.ToolName, call.Args)
	if err != nil {
		level := trail.LevelWarn
		if errors.Is(err, tools.ErrPolicy) {
			level = trail.LevelError
		}
		v.append(trail.Entry{Level: level, Message: fmt.Sprintf("tool %s failed: %v", call.ToolName, err)})
		v.history.AddToolResult(call.ToolName, "error: "+err.Error())
		return
	}
	v.append(trail.Entry{Message: "executed tool " + call.ToolName})
	v.history.AddToolResult(call.ToolName, out)
}

func (v *Investigator) append(entry trail.Entry) {
	if err := v.cfg.Store.Append(v.cfg.SessionID, v.cfg.InstanceID, entry); err != nil {
		v.logger.Error("failed to append log entry: %v", err)
	}
}

func (v *Investigator) assignment() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hypothesis to test:\n%s\n\nRepository: %s\nYour branch: %s\n",
		v.cfg.Hypothesis, v.cfg.RepoPath, v.cfg.Branch)
	b.WriteString("\nYou are already checked out on your branch. Make any changes there.")
	return b.String()
}

func systemPrompt(cfg Config) string {
	return `You are an investigator testing one debugging hypothesis on an isolated git branch.

Respond using these tags to act:
- <tool name="NAME">{"arg": "value"}</tool> to run a tool. Available tools: ` + strings.Join(cfg.Tools.Names(), ", ") + `
- <report>{"hypothesis": "...", "confirmed": true|false|null, "investigation": "what you did and found", "changes": "summary of edits, if any", "confidence": 0-100}</report> exactly once, when the verdict is in

Rules: work only on your assigned branch; you may not create branches.
Your report ends the investigation. Keep it factual.`
}

func errType(err error) string {
	if err == nil {
		return ""
	}
	return llmerrors.TypeOf(err).String()
}
