package tools

import (
	"context"
	"fmt"
	"strings"

	"hound/pkg/exec"
)

type searchTool struct {
	executor exec.Executor
	workDir  string
}

func (t *searchTool) Name() string { return "search" }

func (t *searchTool) Description() string {
	return `Search file contents with a regex. Args: {"pattern": "func main", "path": "."} (path optional)`
}

func (t *searchTool) Exec(ctx context.Context, args map[string]any) (string, error) {
	pattern, err := stringArg(args, "pattern")
	if err != nil {
		return "", err
	}
	path, _ := args["path"].(string)
	if path == "" {
		path = "."
	}

	result, err := t.executor.Run(ctx, []string{"grep", "-rn", "--include=*", "-e", pattern, path}, exec.ExecOpts{
		WorkDir: t.workDir,
	})
	if err != nil {
		return "", fmt.Errorf("search failed: %w", err)
	}
	// grep exits 1 on no matches; that is an answer, not a failure.
	if result.ExitCode > 1 {
		return "", fmt.Errorf("search failed (exit %d): %s", result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	out := strings.TrimSpace(result.Stdout)
	if out == "" {
		return "no matches", nil
	}
	return out, nil
}
