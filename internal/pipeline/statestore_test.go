package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/deckcritic/api/internal/model"
)

func newTestStore(t *testing.T) *StateStore {
	t.Helper()
	store, err := NewStateStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create state store: %v", err)
	}
	return store
}

func testState(jobID string) *model.PersistedUploadState {
	return &model.PersistedUploadState{
		JobID:          jobID,
		OwnerID:        "user-1",
		SourceFileName: "deck.pdf",
		SourceFilePath: "/tmp/deck.pdf",
		SourceFileSize: 1024,
		PageCount:      5,
		Stage:          model.StageExtracting,
	}
}

func TestStateStoreSaveAndGet(t *testing.T) {
	store := newTestStore(t)

	state := testState("job-1")
	if err := store.Save(state); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := store.Get("job-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.JobID != "job-1" || got.OwnerID != "user-1" || got.PageCount != 5 || got.Stage != model.StageExtracting {
		t.Errorf("roundtrip mismatch: %+v", got)
	}
	if got.LastTouchedAt.IsZero() {
		t.Error("expected LastTouchedAt to be stamped on save")
	}
}

func TestStateStoreGetMissing(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Get("nope"); !errors.Is(err, ErrStateNotFound) {
		t.Errorf("expected ErrStateNotFound, got %v", err)
	}
}

func TestStateStoreUpdate(t *testing.T) {
	store := newTestStore(t)

	if err := store.Save(testState("job-1")); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	err := store.Update("job-1", func(s *model.PersistedUploadState) {
		s.Stage = model.StageUploading
		s.UploadedPageCount = 3
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}

	got, err := store.Get("job-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Stage != model.StageUploading || got.UploadedPageCount != 3 {
		t.Errorf("update not persisted: %+v", got)
	}
}

func TestStateStoreExpiry(t *testing.T) {
	store := newTestStore(t)

	if err := store.Save(testState("job-1")); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	// Shift the clock past the TTL.
	store.now = func() time.Time { return time.Now().Add(stateTTL + time.Minute) }

	if _, err := store.Get("job-1"); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("expected expired state to be gone, got %v", err)
	}

	// The expired file is purged, so a fresh clock still finds nothing.
	store.now = time.Now
	if _, err := store.Get("job-1"); !errors.Is(err, ErrStateNotFound) {
		t.Errorf("expected expired state file to be removed, got %v", err)
	}
}

func TestStateStoreListActive(t *testing.T) {
	store := newTestStore(t)

	active := testState("job-active")
	if err := store.Save(active); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	done := testState("job-done")
	done.Stage = model.StageCompleted
	if err := store.Save(done); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	states, err := store.ListActive()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(states) != 1 {
		t.Fatalf("expected 1 active state, got %d", len(states))
	}
	if states[0].JobID != "job-active" {
		t.Errorf("expected job-active, got %s", states[0].JobID)
	}

	// Listing purged the terminal entry.
	if _, err := store.Get("job-done"); !errors.Is(err, ErrStateNotFound) {
		t.Errorf("expected terminal state to be purged, got %v", err)
	}
}

func TestStateStoreRemoveIdempotent(t *testing.T) {
	store := newTestStore(t)

	if err := store.Save(testState("job-1")); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := store.Remove("job-1"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if err := store.Remove("job-1"); err != nil {
		t.Errorf("second remove should be a no-op, got %v", err)
	}
}
