package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"hound/pkg/coordinator"
	"hound/pkg/session"
	"hound/pkg/status"
	"hound/pkg/trail"
)

// recordingRunner captures launched sessions instead of running a coordinator.
type recordingRunner struct {
	mu       sync.Mutex
	launched []coordinator.Problem
	block    bool
}

func (r *recordingRunner) Run(ctx context.Context, sessionID string, problem coordinator.Problem) error {
	r.mu.Lock()
	r.launched = append(r.launched, problem)
	r.mu.Unlock()
	if r.block {
		<-ctx.Done()
	}
	return nil
}

func (r *recordingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.launched)
}

func newTestServer(t *testing.T) (*httptest.Server, *trail.Store, *session.Registry, *recordingRunner) {
	t.Helper()
	store, err := trail.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	registry := session.NewRegistry()
	runner := &recordingRunner{}

	mux := http.NewServeMux()
	NewServer(store, registry, runner).RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, store, registry, runner
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func createSession(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	resp := postJSON(t, ts.URL+"/api/sessions", CreateSessionRequest{
		Error:    "segfault in parser",
		RepoPath: "/tmp/repo",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var body map[string]string
	decodeBody(t, resp, &body)
	if body["session_id"] == "" {
		t.Fatal("expected a session_id in the response")
	}
	return body["session_id"]
}

func TestCreateSessionLaunchesRunner(t *testing.T) {
	ts, _, _, runner := newTestServer(t)
	id := createSession(t, ts)

	deadline := time.Now().Add(time.Second)
	for runner.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if runner.count() != 1 {
		t.Fatalf("expected the runner launched once, got %d", runner.count())
	}
	runner.mu.Lock()
	problem := runner.launched[0]
	runner.mu.Unlock()
	if problem.Error != "segfault in parser" || problem.RepoPath != "/tmp/repo" {
		t.Errorf("runner got wrong problem: %+v", problem)
	}
	if id == "" {
		t.Error("empty session id")
	}
}

func TestCreateSessionRejectsBadPayload(t *testing.T) {
	ts, _, _, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/sessions", CreateSessionRequest{Error: "missing repo"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for missing repo_path, got %d", resp.StatusCode)
	}

	resp, err := http.Post(ts.URL+"/api/sessions", "application/json", bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid JSON, got %d", resp.StatusCode)
	}
}

func TestPulseReflectsTrail(t *testing.T) {
	ts, store, _, _ := newTestServer(t)
	if err := store.Append("s1", trail.CoordinatorActor, trail.StageEntry(trail.StageRunning, "started")); err != nil {
		t.Fatal(err)
	}
	if err := store.Append("s1", trail.CoordinatorActor, trail.SolutionEntry("clear the cache", 97)); err != nil {
		t.Fatal(err)
	}
	if err := store.Append("s1", trail.CoordinatorActor, trail.StageEntry(trail.StageDone, "done")); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(ts.URL + "/api/sessions/s1/pulse")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var p status.Pulse
	decodeBody(t, resp, &p)
	if p.Status != status.StatusCompleted {
		t.Errorf("expected completed, got %s", p.Status)
	}
	if p.Solution != "clear the cache" {
		t.Errorf("unexpected solution: %q", p.Solution)
	}
}

func TestPulseOfUnknownSessionIsBestEffort(t *testing.T) {
	ts, _, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/sessions/never-created/pulse")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pulse is best-effort and must answer, got %d", resp.StatusCode)
	}
	var p status.Pulse
	decodeBody(t, resp, &p)
	if p.Status != status.StatusInProgress {
		t.Errorf("expected in_progress for an empty trail, got %s", p.Status)
	}
}

func TestCancelStopsTheSession(t *testing.T) {
	ts, _, registry, runner := newTestServer(t)
	runner.block = true
	id := createSession(t, ts)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/sessions/"+id, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(time.Second)
	for registry.Active(id) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if registry.Active(id) {
		t.Error("session still registered after cancel")
	}

	// The blocked runner exits once its context is cancelled, so a repeated
	// cancel still gets the same acknowledgement.
	resp2, err := http.DefaultClient.Do(req.Clone(context.Background()))
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Errorf("cancel must be idempotent, got %d", resp2.StatusCode)
	}
}

func TestCancelUnknownSessionIsAcknowledged(t *testing.T) {
	ts, _, _, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/sessions/ghost", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("unknown session cancel is a no-op ack, got %d", resp.StatusCode)
	}
}

func TestObservationIsRecorded(t *testing.T) {
	ts, store, _, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/sessions/s1/observations", ObservationRequest{
		Observation: "the failure clears after a pod restart",
		AgentID:     "oncall-bot",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	obs, err := store.ReadObservations("s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(obs) != 1 || obs[0].Author != "oncall-bot" {
		t.Fatalf("unexpected observations: %+v", obs)
	}
}

func TestMethodRouting(t *testing.T) {
	ts, _, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/sessions")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET on the collection should be 405, got %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/api/sessions/s1/unknown")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown sub-resource should be 404, got %d", resp.StatusCode)
	}
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	ts, _, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz should be 200, got %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics should be 200, got %d", resp.StatusCode)
	}
}
