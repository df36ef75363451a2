// Package tools provides the collaborator tools a loop can invoke: shell,
// file access, search, and git. A registry is built per role so policy
// differences (investigators must not create branches) are decided at
// construction time, not scattered through call sites.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"hound/pkg/exec"
)

// Role identifies which loop is invoking tools.
type Role int

const (
	// RoleCoordinator is the session's single orchestrating loop.
	RoleCoordinator Role = iota
	// RoleInvestigator is a hypothesis-testing subprocess.
	RoleInvestigator
)

// ErrPolicy marks an operation the invoking role is not allowed to perform.
// It is fed back to the model as corrective context, never fatal.
var ErrPolicy = errors.New("policy violation")

// DefaultToolTimeout bounds any single tool invocation.
const DefaultToolTimeout = 60 * time.Second

// Tool executes one named capability against the repository.
type Tool interface {
	Name() string
	Description() string
	Exec(ctx context.Context, args map[string]any) (string, error)
}

// Registry holds the tools available to one loop.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry builds the tool set for a role working in repoPath.
func NewRegistry(role Role, executor exec.Executor, repoPath string) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	r.add(&shellTool{executor: executor, workDir: repoPath})
	r.add(&readFileTool{root: repoPath})
	r.add(&writeFileTool{root: repoPath})
	r.add(&listFilesTool{root: repoPath})
	r.add(&searchTool{executor: executor, workDir: repoPath})
	r.add(&gitTool{executor: executor, workDir: repoPath, role: role})
	return r
}

func (r *Registry) add(t Tool) {
	r.tools[t.Name()] = t
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Execute runs a named tool. Unknown tools and tool failures come back as
// errors for the caller to feed into the conversation.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	t, ok := r.tools[name]
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", name)
	}
	ctx, cancel := context.WithTimeout(ctx, DefaultToolTimeout)
	defer cancel()
	return t.Exec(ctx, args)
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// stringArg extracts a required string argument.
func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("argument %q must be a non-empty string", key)
	}
	return s, nil
}
