package tools

import (
	"context"
	"fmt"
	"strings"

	"hound/pkg/exec"
)

type gitTool struct {
	executor exec.Executor
	workDir  string
	role     Role
}

func (t *gitTool) Name() string { return "git" }

func (t *gitTool) Description() string {
	return `Run a git operation. Args: {"op": "status|diff|log|add|commit|create_branch", ...}. ` +
		`commit takes "message"; create_branch takes "branch" and is coordinator-only.`
}

func (t *gitTool) Exec(ctx context.Context, args map[string]any) (string, error) {
	op, err := stringArg(args, "op")
	if err != nil {
		return "", err
	}

	var cmd []string
	switch op {
	case "status":
		cmd = []string{"git", "status", "--short"}
	case "diff":
		cmd = []string{"git", "diff"}
	case "log":
		cmd = []string{"git", "log", "--oneline", "-20"}
	case "add":
		cmd = []string{"git", "add", "-A"}
	case "commit":
		message, err := stringArg(args, "message")
		if err != nil {
			return "", err
		}
		cmd = []string{"git", "commit", "-m", message}
	case "create_branch":
		// Branch allocation belongs to the coordinator alone. An investigator
		// asking for one gets a correction, not a crash.
		if t.role == RoleInvestigator {
			return "", fmt.Errorf("%w: investigators may not create branches; work on your assigned branch", ErrPolicy)
		}
		branch, err := stringArg(args, "branch")
		if err != nil {
			return "", err
		}
		cmd = []string{"git", "checkout", "-b", branch}
	default:
		return "", fmt.Errorf("unsupported git op: %s", op)
	}

	result, err := t.executor.Run(ctx, cmd, exec.ExecOpts{WorkDir: t.workDir})
	if err != nil {
		return "", fmt.Errorf("git %s failed: %w", op, err)
	}
	if result.ExitCode != 0 {
		return "", fmt.Errorf("git %s failed (exit %d): %s", op, result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	out := strings.TrimSpace(result.Stdout)
	if out == "" {
		out = "ok"
	}
	return out, nil
}
