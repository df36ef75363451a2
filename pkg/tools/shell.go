package tools

import (
	"context"
	"fmt"
	"strings"

	"hound/pkg/exec"
)

type shellTool struct {
	executor exec.Executor
	workDir  string
}

func (t *shellTool) Name() string { return "shell" }

func (t *shellTool) Description() string {
	return `Run a shell command in the repository. Args: {"cmd": "go test ./..."}`
}

func (t *shellTool) Exec(ctx context.Context, args map[string]any) (string, error) {
	cmd, err := stringArg(args, "cmd")
	if err != nil {
		return "", err
	}

	result, err := t.executor.Run(ctx, []string{"sh", "-c", cmd}, exec.ExecOpts{WorkDir: t.workDir})
	if err != nil {
		return "", fmt.Errorf("shell execution failed: %w", err)
	}
	return formatExecResult(result), nil
}

func formatExecResult(result exec.ExecResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "exit code: %d\n", result.ExitCode)
	if out := strings.TrimSpace(result.Stdout); out != "" {
		b.WriteString("stdout:\n")
		b.WriteString(out)
		b.WriteString("\n")
	}
	if errOut := strings.TrimSpace(result.Stderr); errOut != "" {
		b.WriteString("stderr:\n")
		b.WriteString(errOut)
		b.WriteString("\n")
	}
	return b.String()
}
