// Package server exposes the debugging engine over HTTP: session creation,
// pulse queries, cancellation and observation intake.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hound/pkg/coordinator"
	"hound/pkg/logx"
	"hound/pkg/session"
	"hound/pkg/status"
	"hound/pkg/trail"
)

// Runner starts one coordinator session. The server launches it in the
// background and the trail is the only channel for progress.
type Runner interface {
	Run(ctx context.Context, sessionID string, problem coordinator.Problem) error
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, sessionID string, problem coordinator.Problem) error

func (f RunnerFunc) Run(ctx context.Context, sessionID string, problem coordinator.Problem) error {
	return f(ctx, sessionID, problem)
}

// Server handles the HTTP API.
type Server struct {
	store    *trail.Store
	registry *session.Registry
	pulse    *status.Reconstructor
	runner   Runner
	logger   *logx.Logger
}

// NewServer creates the HTTP API server.
func NewServer(store *trail.Store, registry *session.Registry, runner Runner) *Server {
	return &Server{
		store:    store,
		registry: registry,
		pulse:    status.NewReconstructor(store),
		runner:   runner,
		logger:   logx.NewLogger("server"),
	}
}

// CreateSessionRequest is the POST /api/sessions payload.
type CreateSessionRequest struct {
	Error    string `json:"error"`
	RepoPath string `json:"repo_path"`
	Context  string `json:"context,omitempty"`
	Language string `json:"language,omitempty"`
	FilePath string `json:"file_path,omitempty"`
}

// ObservationRequest is the POST observations payload.
type ObservationRequest struct {
	Observation string `json:"observation"`
	AgentID     string `json:"agent_id,omitempty"`
}

// RegisterRoutes sets up HTTP routes for the API.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/sessions/", s.handleSession)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}
	if req.Error == "" || req.RepoPath == "" {
		http.Error(w, "error and repo_path are required", http.StatusBadRequest)
		return
	}

	sessionID := uuid.NewString()
	ctx := s.registry.Open(context.Background(), sessionID)
	problem := coordinator.Problem{
		Error:    req.Error,
		RepoPath: req.RepoPath,
		Context:  req.Context,
		Language: req.Language,
		FilePath: req.FilePath,
	}

	go func() {
		defer s.registry.Close(sessionID)
		if err := s.runner.Run(ctx, sessionID, problem); err != nil {
			s.logger.Error("session %s ended with error: %v", sessionID, err)
		}
	}()

	s.logger.Info("session %s created for repo %s", sessionID, req.RepoPath)
	s.writeJSON(w, http.StatusCreated, map[string]string{"session_id": sessionID})
}

// handleSession routes /api/sessions/{id} and its sub-resources.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	sessionID, sub, _ := strings.Cut(rest, "/")
	if sessionID == "" {
		http.NotFound(w, r)
		return
	}

	switch {
	case sub == "" && r.Method == http.MethodDelete:
		s.handleCancel(w, sessionID)
	case sub == "pulse" && r.Method == http.MethodGet:
		s.writeJSON(w, http.StatusOK, s.pulse.Pulse(sessionID))
	case sub == "observations" && r.Method == http.MethodPost:
		s.handleObservation(w, r, sessionID)
	default:
		http.NotFound(w, r)
	}
}

// handleCancel acknowledges cancellation whether or not the session is known.
// Repeats and stale ids get the same answer.
func (s *Server) handleCancel(w http.ResponseWriter, sessionID string) {
	s.registry.Cancel(sessionID)
	s.writeJSON(w, http.StatusOK, map[string]string{"session_id": sessionID, "status": "cancelled"})
}

func (s *Server) handleObservation(w http.ResponseWriter, r *http.Request, sessionID string) {
	var req ObservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}
	if req.Observation == "" {
		http.Error(w, "observation is required", http.StatusBadRequest)
		return
	}
	author := req.AgentID
	if author == "" {
		author = "external"
	}

	if err := s.store.AppendObservation(sessionID, author, req.Observation); err != nil {
		s.logger.Error("failed to record observation for %s: %v", sessionID, err)
		http.Error(w, "Failed to record observation", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"session_id": sessionID, "status": "recorded"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response: %v", err)
	}
}

// Start runs the HTTP server on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	// Parent is cancelled; shutdown needs a fresh context.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
