package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/deckcritic/api/internal/model"
)

// stateTTL is how long an inactive upload survives before the store treats
// it as abandoned. Signed URLs and server job rows are long gone after a
// day, so resuming would restart from scratch anyway.
const stateTTL = 24 * time.Hour

var ErrStateNotFound = errors.New("upload state not found")

// StateStore persists per-job upload state as one JSON file per job, so an
// interrupted submission survives a process restart.
type StateStore struct {
	dir string
	now func() time.Time
}

// NewStateStore creates a store rooted at dir, creating it when missing.
func NewStateStore(dir string) (*StateStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &StateStore{dir: dir, now: time.Now}, nil
}

// Save writes the state for its job, stamping LastTouchedAt.
func (s *StateStore) Save(state *model.PersistedUploadState) error {
	state.LastTouchedAt = s.now()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal upload state: %w", err)
	}

	// Write-then-rename, so a crash mid-write never leaves a torn file.
	path := s.path(state.JobID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write upload state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to commit upload state: %w", err)
	}
	return nil
}

// Get loads one job's state. Returns ErrStateNotFound when no file exists or
// the state has expired; expired files are removed on the way out.
func (s *StateStore) Get(jobID string) (*model.PersistedUploadState, error) {
	data, err := os.ReadFile(s.path(jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrStateNotFound
		}
		return nil, fmt.Errorf("failed to read upload state: %w", err)
	}

	var state model.PersistedUploadState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse upload state: %w", err)
	}

	if s.expired(&state) {
		_ = s.Remove(jobID)
		return nil, ErrStateNotFound
	}
	return &state, nil
}

// Update loads, mutates and saves in one call.
func (s *StateStore) Update(jobID string, mutate func(*model.PersistedUploadState)) error {
	state, err := s.Get(jobID)
	if err != nil {
		return err
	}
	mutate(state)
	return s.Save(state)
}

// Remove deletes one job's state file. Removing a missing file is not an
// error.
func (s *StateStore) Remove(jobID string) error {
	err := os.Remove(s.path(jobID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove upload state: %w", err)
	}
	return nil
}

// ListActive returns every non-expired, non-terminal state in the store.
// Expired and terminal files are purged as they are encountered.
func (s *StateStore) ListActive() ([]*model.PersistedUploadState, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list state directory: %w", err)
	}

	var active []*model.PersistedUploadState
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		jobID := strings.TrimSuffix(entry.Name(), ".json")

		state, err := s.Get(jobID)
		if err != nil {
			continue
		}
		if state.Stage.IsTerminal() {
			_ = s.Remove(jobID)
			continue
		}
		active = append(active, state)
	}
	return active, nil
}

func (s *StateStore) expired(state *model.PersistedUploadState) bool {
	return s.now().Sub(state.LastTouchedAt) > stateTTL
}

func (s *StateStore) path(jobID string) string {
	return filepath.Join(s.dir, jobID+".json")
}
