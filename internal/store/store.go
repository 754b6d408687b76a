package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mpataki/foundry/internal/models"
)

const (
	runtimeFile  = "runtime.json"
	eventsFile   = "events.jsonl"
	proposalFile = "proposal.json"
)

// Store persists per-session state under <root>/<session-id>/:
// a runtime snapshot (atomic write), an append-only event log, and
// the proposal. An optional Registry mirrors summary rows to sqlite.
type Store struct {
	root     string
	registry *Registry

	mu sync.Mutex // serializes physical event appends
}

func New(root string, registry *Registry) *Store {
	return &Store{root: root, registry: registry}
}

func (s *Store) sessionDir(sessionID string) string {
	return filepath.Join(s.root, sessionID)
}

func (s *Store) ensureSessionDir(sessionID string) (string, error) {
	dir := s.sessionDir(sessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

// LoadRuntime reads the session's runtime snapshot, creating a fresh
// one with the default pipeline if none exists yet.
func (s *Store) LoadRuntime(sessionID string) (*models.RuntimeState, error) {
	path := filepath.Join(s.sessionDir(sessionID), runtimeFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		runtime := models.NewRuntimeState(sessionID, models.DefaultPipeline())
		if err := s.SaveRuntime(sessionID, runtime); err != nil {
			return nil, err
		}
		return runtime, nil
	}
	if err != nil {
		return nil, err
	}

	var runtime models.RuntimeState
	if err := json.Unmarshal(data, &runtime); err != nil {
		return nil, fmt.Errorf("corrupt runtime state for %s: %w", sessionID, err)
	}
	return &runtime, nil
}

// SaveRuntime writes the snapshot atomically: marshal to a temp file
// in the same directory, then rename over the old snapshot. A crash
// mid-write leaves the previous snapshot intact.
func (s *Store) SaveRuntime(sessionID string, runtime *models.RuntimeState) error {
	dir, err := s.ensureSessionDir(sessionID)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(runtime, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, runtimeFile+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, runtimeFile)); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if s.registry != nil {
		if err := s.registry.Upsert(runtime); err != nil {
			return fmt.Errorf("update session registry: %w", err)
		}
	}
	return nil
}

// AppendEvent appends one event to the session's log. Producers may be
// concurrent; the physical write is serialized.
func (s *Store) AppendEvent(sessionID string, event models.TimelineEvent) error {
	dir, err := s.ensureSessionDir(sessionID)
	if err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(filepath.Join(dir, eventsFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return nil
}

// LoadEvents reads the full event log in append order.
func (s *Store) LoadEvents(sessionID string) ([]models.TimelineEvent, error) {
	f, err := os.Open(filepath.Join(s.sessionDir(sessionID), eventsFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var events []models.TimelineEvent
	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		var event models.TimelineEvent
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			// Skip torn tail lines from a crash mid-append.
			continue
		}
		events = append(events, event)
	}
	return events, scanner.Err()
}

// RecentEvents returns the last n events in append order.
func (s *Store) RecentEvents(sessionID string, n int) ([]models.TimelineEvent, error) {
	events, err := s.LoadEvents(sessionID)
	if err != nil {
		return nil, err
	}
	if len(events) > n {
		events = events[len(events)-n:]
	}
	return events, nil
}

// LoadProposal reads the session's proposal, or nil if none was saved.
func (s *Store) LoadProposal(sessionID string) (*models.Proposal, error) {
	data, err := os.ReadFile(filepath.Join(s.sessionDir(sessionID), proposalFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var proposal models.Proposal
	if err := json.Unmarshal(data, &proposal); err != nil {
		return nil, fmt.Errorf("corrupt proposal for %s: %w", sessionID, err)
	}
	return &proposal, nil
}

func (s *Store) SaveProposal(sessionID string, proposal *models.Proposal) error {
	dir, err := s.ensureSessionDir(sessionID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(proposal, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, proposalFile), data, 0644); err != nil {
		return err
	}
	if s.registry != nil {
		return s.registry.SetAppName(sessionID, proposal.AppName)
	}
	return nil
}

// DeleteSession removes the session directory and its registry row.
func (s *Store) DeleteSession(sessionID string) error {
	if err := os.RemoveAll(s.sessionDir(sessionID)); err != nil {
		return err
	}
	if s.registry != nil {
		return s.registry.Delete(sessionID)
	}
	return nil
}
