// Package trail provides the append-only log and report store. Every durable
// fact about a session lives here as JSONL log entries, write-once report
// files, and observation streams; session status is reconstructed from these
// files and nowhere else.
package trail

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Log levels for entries.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// CoordinatorActor is the actor name of the session's coordinator log.
const CoordinatorActor = "coordinator"

// Entry is one immutable line in an actor's log.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Actor     string         `json:"actor"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

// Report is an investigator's final write-once conclusion. Confirmed is nil
// when the investigation ended without a verdict.
type Report struct {
	Hypothesis    string  `json:"hypothesis"`
	Confirmed     *bool   `json:"confirmed"`
	Investigation string  `json:"investigation"`
	Changes       string  `json:"changes"`
	Confidence    float64 `json:"confidence"`
}

// Observation is one line of external input waiting for the coordinator.
type Observation struct {
	Timestamp time.Time `json:"timestamp"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
}

// ErrReportExists is returned when a second report write is attempted for the
// same instance.
var ErrReportExists = errors.New("report already written")

// Store resolves session-relative paths under a data directory and performs
// the only mutations the system allows: appends and write-once creates.
type Store struct {
	dataDir string
}

// NewStore creates a store rooted at dataDir, creating it if needed.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &Store{dataDir: dataDir}, nil
}

// DataDir returns the store's root directory.
func (s *Store) DataDir() string {
	return s.dataDir
}

// SessionDir returns the directory holding one session's durable state.
func (s *Store) SessionDir(sessionID string) string {
	return filepath.Join(s.dataDir, "sessions", sessionID)
}

// LogPath returns the JSONL log path for one actor in a session.
func (s *Store) LogPath(sessionID, actor string) string {
	return filepath.Join(s.SessionDir(sessionID), "logs", actor+".jsonl")
}

// ReportPath returns the report file path for one investigator instance.
func (s *Store) ReportPath(sessionID, instanceID string) string {
	return filepath.Join(s.SessionDir(sessionID), "reports", instanceID+".json")
}

// ObservationPath returns the observation stream path for one author.
func (s *Store) ObservationPath(sessionID, author string) string {
	return filepath.Join(s.SessionDir(sessionID), "observations", author+".jsonl")
}

// SessionExists reports whether any durable state exists for the session.
func (s *Store) SessionExists(sessionID string) bool {
	info, err := os.Stat(s.SessionDir(sessionID))
	return err == nil && info.IsDir()
}

// Append writes one entry to an actor's log. The file is opened O_APPEND and
// synced before returning; this is the only way log files change.
func (s *Store) Append(sessionID, actor string, entry Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.Actor == "" {
		entry.Actor = actor
	}
	if entry.Level == "" {
		entry.Level = LevelInfo
	}
	return appendJSONL(s.LogPath(sessionID, actor), entry)
}

// ReadLog returns an actor's entries in write order. A truncated final line
// (interrupted append) is dropped rather than failing the read. A missing
// file yields an empty slice.
func (s *Store) ReadLog(sessionID, actor string) ([]Entry, error) {
	var entries []Entry
	err := readJSONL(s.LogPath(sessionID, actor), func(line []byte) {
		var e Entry
		if json.Unmarshal(line, &e) == nil {
			entries = append(entries, e)
		}
	})
	return entries, err
}

// ListActors returns the actors that have a log file in the session.
func (s *Store) ListActors(sessionID string) ([]string, error) {
	dir := filepath.Join(s.SessionDir(sessionID), "logs")
	names, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list log directory: %w", err)
	}
	var actors []string
	for _, n := range names {
		if name, ok := strings.CutSuffix(n.Name(), ".jsonl"); ok {
			actors = append(actors, name)
		}
	}
	return actors, nil
}

// WriteReportOnce persists an investigator report. The file is created with
// O_EXCL: a second write for the same instance returns ErrReportExists and
// leaves the original intact.
func (s *Store) WriteReportOnce(sessionID, instanceID string, report Report) error {
	path := s.ReportPath(sessionID, instanceID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create reports directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w: %s", ErrReportExists, instanceID)
		}
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer file.Close()

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize report: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync report: %w", err)
	}
	return nil
}

// ReadReport loads one instance's report. os.IsNotExist distinguishes a
// missing report from a corrupt one.
func (s *Store) ReadReport(sessionID, instanceID string) (Report, error) {
	data, err := os.ReadFile(s.ReportPath(sessionID, instanceID))
	if err != nil {
		return Report{}, err
	}
	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return Report{}, fmt.Errorf("failed to parse report %s: %w", instanceID, err)
	}
	return report, nil
}

// ListReports returns the instance ids that have written a report.
func (s *Store) ListReports(sessionID string) ([]string, error) {
	dir := filepath.Join(s.SessionDir(sessionID), "reports")
	names, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list reports directory: %w", err)
	}
	var ids []string
	for _, n := range names {
		if id, ok := strings.CutSuffix(n.Name(), ".json"); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// AppendObservation records external input for the coordinator to pick up on
// its next turn.
func (s *Store) AppendObservation(sessionID, author, text string) error {
	obs := Observation{
		Timestamp: time.Now().UTC(),
		Author:    author,
		Text:      text,
	}
	return appendJSONL(s.ObservationPath(sessionID, author), obs)
}

// ReadObservations returns every observation in the session across all
// authors, in arrival order.
func (s *Store) ReadObservations(sessionID string) ([]Observation, error) {
	dir := filepath.Join(s.SessionDir(sessionID), "observations")
	names, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list observations directory: %w", err)
	}

	var all []Observation
	for _, n := range names {
		if !strings.HasSuffix(n.Name(), ".jsonl") {
			continue
		}
		err := readJSONL(filepath.Join(dir, n.Name()), func(line []byte) {
			var o Observation
			if json.Unmarshal(line, &o) == nil {
				all = append(all, o)
			}
		})
		if err != nil {
			return nil, err
		}
	}

	// Arrival order across authors.
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp.Before(all[j].Timestamp)
	})
	return all, nil
}

func appendJSONL(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to serialize entry: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	defer file.Close()

	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync log file: %w", err)
	}
	return nil
}

// readJSONL calls fn for each complete line. A final line without a trailing
// newline is ignored: an append that was cut off mid-write never corrupts a
// read.
func readJSONL(path string, fn func(line []byte)) error {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			// No trailing newline means a torn final write; drop it.
			return nil
		}
		line = []byte(strings.TrimSpace(string(line)))
		if len(line) > 0 {
			fn(line)
		}
	}
}
