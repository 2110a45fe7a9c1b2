package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/deckcritic/api/internal/apiclient"
	"github.com/deckcritic/api/internal/model"
)

// Reconciler picks up submissions that a previous run left mid-flight and
// carries them to a terminal state.
type Reconciler struct {
	api          *apiclient.Client
	orchestrator *Orchestrator
	store        *StateStore
}

func NewReconciler(api *apiclient.Client, orchestrator *Orchestrator, store *StateStore) *Reconciler {
	return &Reconciler{
		api:          api,
		orchestrator: orchestrator,
		store:        store,
	}
}

// ResumeAll resumes every active persisted submission. A failure on one job
// does not stop the others; failures are logged and the count returned.
func (r *Reconciler) ResumeAll(ctx context.Context, progress Progress) (resumed, failed int) {
	states, err := r.store.ListActive()
	if err != nil {
		log.Printf("Warning: could not list persisted submissions: %v", err)
		return 0, 0
	}

	for _, state := range states {
		if err := r.orchestrator.Resume(ctx, state, progress); err != nil {
			log.Printf("Warning: could not resume job %s: %v", state.JobID, err)
			failed++
			continue
		}
		resumed++
	}
	return resumed, failed
}

// PollUntilDone polls the job status until it reaches a terminal state or
// maxWait elapses. Progress updates land in the state store between polls so
// a crash mid-poll still shows the latest known page count on the next run.
func (r *Reconciler) PollUntilDone(ctx context.Context, jobID string, interval, maxWait time.Duration) (*model.JobStatusResponse, error) {
	deadline := time.Now().Add(maxWait)
	attempt := 0

	for time.Now().Before(deadline) {
		attempt++

		status, err := r.api.GetStatus(ctx, jobID)
		if err != nil {
			if apiclient.IsNotFound(err) {
				_ = r.store.Remove(jobID)
				return nil, fmt.Errorf("job %s no longer exists on the server", jobID)
			}
			// Transient; keep polling until the deadline.
			log.Printf("Warning: status poll %d for job %s failed: %v", attempt, jobID, err)
		} else {
			r.recordProgress(jobID, status)

			switch status.Status {
			case model.JobStatusCompleted:
				_ = r.store.Remove(jobID)
				return status, nil
			case model.JobStatusFailed:
				_ = r.store.Remove(jobID)
				return status, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}

	return nil, fmt.Errorf("job %s did not finish within %s", jobID, maxWait)
}

func (r *Reconciler) recordProgress(jobID string, status *model.JobStatusResponse) {
	err := r.store.Update(jobID, func(s *model.PersistedUploadState) {
		s.AnalyzedPageCount = status.Progress
		if status.Status == model.JobStatusProcessing {
			s.Stage = model.StageAnalyzing
		}
	})
	if err != nil && err != ErrStateNotFound {
		log.Printf("Warning: could not persist poll progress for job %s: %v", jobID, err)
	}
}
