package investigator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"hound/pkg/exec"
	"hound/pkg/llm"
	"hound/pkg/tools"
	"hound/pkg/trail"
)

func newInvestigator(t *testing.T, client llm.Client) (*Investigator, *trail.Store) {
	t.Helper()
	store, err := trail.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	inv, err := New(Config{
		SessionID:  "s1",
		InstanceID: "inst-1",
		Hypothesis: "the retry loop never backs off",
		Branch:     "debug-s1-1",
		RepoPath:   t.TempDir(),
		Client:     client,
		Store:      store,
		Tools:      tools.NewRegistry(tools.RoleInvestigator, exec.NewLocalExec(), t.TempDir()),
		IdleDelay:  10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("failed to create investigator: %v", err)
	}
	return inv, store
}

func TestReportEndsInvestigation(t *testing.T) {
	client := llm.NewMockClient(
		llm.MockReply{Content: `<report>{"hypothesis": "the retry loop never backs off", "confirmed": true, "investigation": "added a counter, saw 400 calls in 1s", "confidence": 91}</report>`},
	)
	inv, store := newInvestigator(t, client)

	if err := inv.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if client.CallCount() != 1 {
		t.Errorf("report should end the loop, got %d calls", client.CallCount())
	}

	report, err := store.ReadReport("s1", "inst-1")
	if err != nil {
		t.Fatalf("failed to read report: %v", err)
	}
	if report.Confirmed == nil || !*report.Confirmed {
		t.Errorf("expected confirmed verdict, got %v", report.Confirmed)
	}
	if report.Confidence != 91 {
		t.Errorf("expected confidence 91, got %v", report.Confidence)
	}
}

func TestToolResultsFeedTheNextTurn(t *testing.T) {
	client := llm.NewMockClient(
		llm.MockReply{Content: `<tool name="shell">{"cmd": "echo backoff-missing"}</tool>`},
		llm.MockReply{Content: `<report>{"confirmed": false, "investigation": "backoff is present", "confidence": 88}</report>`},
	)
	inv, _ := newInvestigator(t, client)

	if err := inv.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	var saw bool
	for _, msg := range client.Calls()[1].Messages {
		if strings.Contains(msg.Content, "backoff-missing") {
			saw = true
		}
	}
	if !saw {
		t.Error("tool output missing from the next turn's history")
	}
}

func TestReportHypothesisDefaultsToAssignment(t *testing.T) {
	client := llm.NewMockClient(
		llm.MockReply{Content: `<report>{"confirmed": false, "investigation": "nothing to see", "confidence": 70}</report>`},
	)
	inv, store := newInvestigator(t, client)

	if err := inv.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	report, err := store.ReadReport("s1", "inst-1")
	if err != nil {
		t.Fatal(err)
	}
	if report.Hypothesis != "the retry loop never backs off" {
		t.Errorf("expected the assigned hypothesis backfilled, got %q", report.Hypothesis)
	}
}

func TestBranchCreationRefusedButLoopContinues(t *testing.T) {
	client := llm.NewMockClient(
		llm.MockReply{Content: `<tool name="git">{"op": "create_branch", "branch": "sneaky"}</tool>`},
		llm.MockReply{Content: `<report>{"confirmed": null, "investigation": "stayed on the assigned branch", "confidence": 50}</report>`},
	)
	inv, store := newInvestigator(t, client)

	if err := inv.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	// The refusal is fed back to the model as a tool error.
	var saw bool
	for _, msg := range client.Calls()[1].Messages {
		if strings.Contains(msg.Content, "may not create branches") {
			saw = true
		}
	}
	if !saw {
		t.Error("policy refusal missing from the next turn's history")
	}

	// And the violation is visible in the instance log.
	entries, err := store.ReadLog("s1", "inst-1")
	if err != nil {
		t.Fatal(err)
	}
	var logged bool
	for _, e := range entries {
		if e.Level == trail.LevelError && strings.Contains(e.Message, "policy violation") {
			logged = true
		}
	}
	if !logged {
		t.Error("expected a policy violation entry in the instance log")
	}
}

func TestIdleTurnsExhaustedWithoutReport(t *testing.T) {
	client := llm.NewMockClient(
		llm.MockReply{Content: "I will think about it."},
	)
	inv, store := newInvestigator(t, client)

	err := inv.Run(context.Background())
	if err == nil {
		t.Fatal("expected error after exhausting idle turns")
	}
	if client.CallCount() != DefaultMaxIdleTurns {
		t.Errorf("expected %d turns, got %d", DefaultMaxIdleTurns, client.CallCount())
	}
	if _, err := store.ReadReport("s1", "inst-1"); err == nil {
		t.Error("giving up must not leave a report behind")
	}
}

func TestSecondReportKeepsTheFirst(t *testing.T) {
	client := llm.NewMockClient(
		llm.MockReply{Content: `<report>{"confirmed": true, "investigation": "late duplicate", "confidence": 60}</report>`},
	)
	inv, store := newInvestigator(t, client)
	confirmed := false
	if err := store.WriteReportOnce("s1", "inst-1", trail.Report{
		Hypothesis:    "the retry loop never backs off",
		Confirmed:     &confirmed,
		Investigation: "original",
		Confidence:    80,
	}); err != nil {
		t.Fatal(err)
	}

	if err := inv.Run(context.Background()); err != nil {
		t.Fatalf("duplicate report should not fail the run: %v", err)
	}
	report, err := store.ReadReport("s1", "inst-1")
	if err != nil {
		t.Fatal(err)
	}
	if report.Investigation != "original" {
		t.Errorf("first report must survive, got %q", report.Investigation)
	}
}

func TestCancellationExitsCleanly(t *testing.T) {
	client := llm.NewMockClient(
		llm.MockReply{Content: "unused"},
	)
	inv, store := newInvestigator(t, client)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := inv.Run(ctx); err != nil {
		t.Fatalf("cancelled run should return nil, got %v", err)
	}
	if client.CallCount() != 0 {
		t.Errorf("no model call expected after cancellation, got %d", client.CallCount())
	}
	if _, err := store.ReadReport("s1", "inst-1"); err == nil {
		t.Error("cancellation must not leave a report behind")
	}
}

func TestModelFailurePropagates(t *testing.T) {
	wantErr := errors.New("boom")
	client := llm.NewMockClient(llm.MockReply{Err: wantErr})
	inv, _ := newInvestigator(t, client)

	err := inv.Run(context.Background())
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected the model error wrapped, got %v", err)
	}
}
