package coordinator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"hound/pkg/branch"
	"hound/pkg/exec"
	"hound/pkg/llm"
	"hound/pkg/llm/llmerrors"
	"hound/pkg/session"
	"hound/pkg/status"
	"hound/pkg/supervisor"
	"hound/pkg/tools"
	"hound/pkg/trail"
)

type fixture struct {
	store    *trail.Store
	registry *session.Registry
	repo     string
	cfg      Config
}

// newFixture wires a coordinator against a real git repo, a stub investigator
// binary, and a scripted model.
func newFixture(t *testing.T, client llm.Client) *fixture {
	t.Helper()

	store, err := trail.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	repo := t.TempDir()
	local := exec.NewLocalExec()
	for _, cmd := range [][]string{
		{"git", "init", "-q"},
		{"git", "-c", "user.email=t@t", "-c", "user.name=t", "commit", "-q", "--allow-empty", "-m", "init"},
	} {
		result, err := local.Run(context.Background(), cmd, exec.ExecOpts{WorkDir: repo})
		if err != nil || result.ExitCode != 0 {
			t.Fatalf("git setup %v failed: %v %s", cmd, err, result.Stderr)
		}
	}

	stub := filepath.Join(t.TempDir(), "stub.sh")
	if err := os.WriteFile(stub, []byte("#!/bin/sh\nexit 0\n"), 0755); err != nil {
		t.Fatalf("failed to write stub: %v", err)
	}

	registry := session.NewRegistry()
	sup, err := supervisor.New(store, registry, supervisor.WithBinary(stub))
	if err != nil {
		t.Fatalf("failed to create supervisor: %v", err)
	}

	return &fixture{
		store:    store,
		registry: registry,
		repo:     repo,
		cfg: Config{
			SessionID:  "s1",
			Problem:    Problem{Error: "NullPointerException at line 42", RepoPath: repo},
			Client:     client,
			Store:      store,
			Branches:   branch.NewManager(local),
			Supervisor: sup,
			Tools:      tools.NewRegistry(tools.RoleCoordinator, local, repo),
			IdleDelay:  10 * time.Millisecond,
		},
	}
}

func (f *fixture) run(t *testing.T) error {
	t.Helper()
	c, err := New(f.cfg)
	if err != nil {
		t.Fatalf("failed to create coordinator: %v", err)
	}
	ctx := f.registry.Open(context.Background(), "s1")
	return c.Run(ctx)
}

func (f *fixture) pulse() status.Pulse {
	return status.NewReconstructor(f.store).Pulse("s1")
}

func TestSolutionAccepted(t *testing.T) {
	client := llm.NewMockClient(
		llm.MockReply{Content: `<solution confidence="97">flush the cache on write</solution>`},
	)
	f := newFixture(t, client)

	if err := f.run(t); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	p := f.pulse()
	if p.Status != status.StatusCompleted {
		t.Errorf("expected completed, got %s", p.Status)
	}
	if p.Solution != "flush the cache on write" {
		t.Errorf("unexpected solution: %q", p.Solution)
	}
}

func TestSolutionBelowThresholdRejected(t *testing.T) {
	client := llm.NewMockClient(
		llm.MockReply{Content: `<solution confidence="80">maybe restart it</solution>`},
		llm.MockReply{Content: `<solution confidence="96">verified: restart clears the leaked handle</solution>`},
	)
	f := newFixture(t, client)

	if err := f.run(t); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if client.CallCount() != 2 {
		t.Errorf("expected a second turn after rejection, got %d calls", client.CallCount())
	}
	if p := f.pulse(); p.Solution != "verified: restart clears the leaked handle" {
		t.Errorf("expected the second solution persisted, got %q", p.Solution)
	}
}

func TestToolCallsWinOverHypotheses(t *testing.T) {
	client := llm.NewMockClient(
		llm.MockReply{Content: `<tool name="shell">{"cmd": "echo checking"}</tool>
<hypothesis>the config is stale</hypothesis>`},
		llm.MockReply{Content: `<solution confidence="97">done</solution>`},
	)
	f := newFixture(t, client)

	if err := f.run(t); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	// The co-occurring hypothesis must not have spawned an investigator.
	supLog, err := f.store.ReadLog("s1", supervisor.Actor)
	if err != nil {
		t.Fatal(err)
	}
	for i := range supLog {
		if supLog[i].EventName() == trail.EventSpawn {
			t.Fatal("hypothesis co-occurring with a tool call must be discarded, not spawned")
		}
	}

	// The tool result was fed back into the second model call.
	calls := client.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 model calls, got %d", len(calls))
	}
	var sawResult bool
	for _, msg := range calls[1].Messages {
		if strings.Contains(msg.Content, "checking") {
			sawResult = true
		}
	}
	if !sawResult {
		t.Error("tool output missing from the next turn's history")
	}
}

func TestHypothesisSpawnsInvestigator(t *testing.T) {
	client := llm.NewMockClient(
		llm.MockReply{Content: `<hypothesis>the cache key omits the tenant id</hypothesis>`},
		llm.MockReply{Content: `<solution confidence="98">scope the cache key by tenant</solution>`},
	)
	f := newFixture(t, client)

	if err := f.run(t); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	supLog, err := f.store.ReadLog("s1", supervisor.Actor)
	if err != nil {
		t.Fatal(err)
	}
	var spawn *trail.Entry
	for i := range supLog {
		if supLog[i].EventName() == trail.EventSpawn {
			spawn = &supLog[i]
		}
	}
	if spawn == nil {
		t.Fatal("expected a spawn event for the hypothesis")
	}
	if spawn.DataString("branch") != "debug-s1-1" {
		t.Errorf("expected branch debug-s1-1, got %s", spawn.DataString("branch"))
	}
	if spawn.DataString("hypothesis") != "the cache key omits the tenant id" {
		t.Errorf("spawn event carries wrong hypothesis: %s", spawn.DataString("hypothesis"))
	}
}

func TestCancellationAtTurnBoundary(t *testing.T) {
	client := llm.NewMockClient(
		llm.MockReply{Content: "no directives here"},
	)
	f := newFixture(t, client)

	c, err := New(f.cfg)
	if err != nil {
		t.Fatal(err)
	}
	ctx := f.registry.Open(context.Background(), "s1")
	f.registry.Cancel("s1")

	if err := c.Run(ctx); err != nil {
		t.Fatalf("cancelled run should return nil, got: %v", err)
	}
	if p := f.pulse(); p.Status != status.StatusCancelled {
		t.Errorf("expected cancelled, got %s", p.Status)
	}
}

func TestModelFailureEndsSessionFailed(t *testing.T) {
	client := llm.NewMockClient(
		llm.MockReply{Err: llmerrors.NewError(llmerrors.ErrorTypeAuth, "bad key")},
	)
	f := newFixture(t, client)

	if err := f.run(t); err == nil {
		t.Fatal("expected error when the model fails")
	}
	if p := f.pulse(); p.Status != status.StatusFailed {
		t.Errorf("expected failed, got %s", p.Status)
	}
}

func TestObservationsReachTheModel(t *testing.T) {
	client := llm.NewMockClient(
		llm.MockReply{Content: `<solution confidence="97">done</solution>`},
	)
	f := newFixture(t, client)
	if err := f.store.AppendObservation("s1", "agent-7", "it only fails on arm64"); err != nil {
		t.Fatal(err)
	}

	if err := f.run(t); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	calls := client.Calls()
	var saw bool
	for _, msg := range calls[0].Messages {
		if strings.Contains(msg.Content, "arm64") {
			saw = true
		}
	}
	if !saw {
		t.Error("observation missing from the model's first turn")
	}
}

func TestReportFedBackToModel(t *testing.T) {
	client := llm.NewMockClient(
		llm.MockReply{Content: `<solution confidence="97">done</solution>`},
	)
	f := newFixture(t, client)
	confirmed := true
	if err := f.store.WriteReportOnce("s1", "inst-9", trail.Report{
		Hypothesis:    "lock ordering",
		Confirmed:     &confirmed,
		Investigation: "deadlock reproduced between Get and Close",
		Confidence:    92,
	}); err != nil {
		t.Fatal(err)
	}

	if err := f.run(t); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	var saw bool
	for _, msg := range client.Calls()[0].Messages {
		if strings.Contains(msg.Content, "lock ordering") && strings.Contains(msg.Content, "confirmed") {
			saw = true
		}
	}
	if !saw {
		t.Error("report content missing from the model's history")
	}
}

func TestMaxRuntimeFails(t *testing.T) {
	client := llm.NewMockClient(
		llm.MockReply{Content: "still thinking"},
	)
	f := newFixture(t, client)
	f.cfg.MaxRuntime = time.Millisecond

	// The first turn yields no directives, so the idle delay carries the
	// clock past the deadline before the second turn starts.
	if err := f.run(t); err == nil {
		t.Fatal("expected error after max runtime")
	}
	if p := f.pulse(); p.Status != status.StatusFailed {
		t.Errorf("expected failed, got %s", p.Status)
	}
}
