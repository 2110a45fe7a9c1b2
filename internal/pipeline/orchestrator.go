package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/deckcritic/api/internal/apiclient"
	"github.com/deckcritic/api/internal/model"
)

const (
	// dispatchTimeoutFloor bounds how long the dispatch call may take. The
	// server answers as soon as the task is queued, but a congested queue
	// plus the balance pre-check can be slow, and giving up too early
	// orphans a job that might still start.
	dispatchTimeoutFloor  = 10 * time.Minute
	dispatchBudgetPerPage = 15 * time.Second
)

// Progress receives pipeline events for display. Nil callbacks are skipped.
type Progress struct {
	OnStage   func(stage model.UploadStage)
	OnExtract func(page, total int)
	OnUpload  func(page, total int)
}

// Orchestrator drives one deck submission end to end: register the job,
// render pages, upload assets, dispatch analysis. Every checkpoint lands in
// the state store so Resume can pick up mid-flight.
type Orchestrator struct {
	api       *apiclient.Client
	extractor *Extractor
	uploader  *Uploader
	store     *StateStore
}

func NewOrchestrator(api *apiclient.Client, extractor *Extractor, uploader *Uploader, store *StateStore) *Orchestrator {
	return &Orchestrator{
		api:       api,
		extractor: extractor,
		uploader:  uploader,
		store:     store,
	}
}

// Submit starts a fresh submission for the deck at pdfPath and returns the
// job ID once analysis is dispatched.
func (o *Orchestrator) Submit(ctx context.Context, pdfPath string, fileSize int64, progress Progress) (string, error) {
	pageCount, err := o.extractor.PageCount(pdfPath)
	if err != nil {
		return "", err
	}

	created, err := o.api.CreateJob(ctx, &model.CreateJobRequest{
		FileName:  filepath.Base(pdfPath),
		FileSize:  fileSize,
		PageCount: pageCount,
	})
	if err != nil {
		return "", fmt.Errorf("failed to register job: %w", err)
	}

	state := &model.PersistedUploadState{
		JobID:          created.JobID,
		OwnerID:        created.OwnerID,
		SourceFileName: filepath.Base(pdfPath),
		SourceFilePath: pdfPath,
		SourceFileSize: fileSize,
		PageCount:      pageCount,
		Stage:          model.StageExtracting,
	}
	if err := o.store.Save(state); err != nil {
		return "", err
	}

	if err := o.run(ctx, state, progress); err != nil {
		return created.JobID, err
	}
	return created.JobID, nil
}

// Resume continues a previously interrupted submission. Pages are
// re-rendered from the source file; the uploader skips any page already in
// the bucket, so only the missing tail is re-transferred.
func (o *Orchestrator) Resume(ctx context.Context, state *model.PersistedUploadState, progress Progress) error {
	status, err := o.api.GetStatus(ctx, state.JobID)
	if err != nil {
		if apiclient.IsNotFound(err) {
			// Server forgot the job; nothing left to resume.
			_ = o.store.Remove(state.JobID)
			return fmt.Errorf("job %s no longer exists on the server", state.JobID)
		}
		return fmt.Errorf("failed to check job status: %w", err)
	}

	switch status.Status {
	case model.JobStatusCompleted, model.JobStatusFailed:
		_ = o.store.Remove(state.JobID)
		return fmt.Errorf("job %s already finished with status %s", state.JobID, status.Status)
	case model.JobStatusProcessing:
		// Dispatch already succeeded, only the local state lagged behind.
		return o.store.Update(state.JobID, func(s *model.PersistedUploadState) {
			s.Stage = model.StageAnalyzing
		})
	}

	return o.run(ctx, state, progress)
}

// run performs extract, upload and dispatch for a registered job.
func (o *Orchestrator) run(ctx context.Context, state *model.PersistedUploadState, progress Progress) error {
	notifyStage(progress, model.StageExtracting)
	pages, err := o.extractor.Extract(ctx, state.SourceFilePath, progress.OnExtract)
	if err != nil {
		return fmt.Errorf("extraction failed: %w", err)
	}
	if len(pages) != state.PageCount {
		return fmt.Errorf("page count changed: registered %d, extracted %d", state.PageCount, len(pages))
	}

	notifyStage(progress, model.StageUploading)
	urls, err := o.uploader.UploadPages(ctx, state.JobID, pages, progress.OnUpload)
	if err != nil {
		return err
	}

	notifyStage(progress, model.StageAnalyzing)
	if err := o.dispatch(ctx, state, urls); err != nil {
		return err
	}

	return o.store.Update(state.JobID, func(s *model.PersistedUploadState) {
		s.Stage = model.StageAnalyzing
		s.UploadedPageURLs = urls
		s.UploadedPageCount = len(urls)
	})
}

// dispatch sends the analysis request with a deadline scaled to the page
// count. An insufficient balance leaves the job pending so the user can top
// up and resume; a transport failure marks the job failed server-side
// because nothing will ever pick it up.
func (o *Orchestrator) dispatch(ctx context.Context, state *model.PersistedUploadState, urls []string) error {
	timeout := dispatchTimeoutFloor
	if scaled := time.Duration(state.PageCount) * dispatchBudgetPerPage; scaled > timeout {
		timeout = scaled
	}
	dispatchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := o.api.Dispatch(dispatchCtx, &model.DispatchRequest{
		JobID:         state.JobID,
		FileName:      state.SourceFileName,
		FileSize:      state.SourceFileSize,
		PageAssetURLs: urls,
	})
	if err == nil {
		return nil
	}

	var insufficient *apiclient.InsufficientCreditsError
	if errors.As(err, &insufficient) {
		return insufficient
	}
	var apiErr *apiclient.APIError
	if errors.As(err, &apiErr) {
		// The server saw the request and rejected it; the job row already
		// reflects whatever the server decided.
		return fmt.Errorf("dispatch rejected: %w", apiErr)
	}

	// Transport failure or timeout. The request may have never arrived, so
	// tell the server to close out the job rather than leave it pending
	// forever.
	failCtx, cancelFail := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelFail()
	if failErr := o.api.FailJob(failCtx, state.JobID, fmt.Sprintf("dispatch failed: %v", err)); failErr != nil {
		log.Printf("Warning: could not mark job %s failed after dispatch error: %v", state.JobID, failErr)
	}
	if updateErr := o.store.Update(state.JobID, func(s *model.PersistedUploadState) {
		s.Stage = model.StageFailed
	}); updateErr != nil && updateErr != ErrStateNotFound {
		log.Printf("Warning: could not persist failed stage for job %s: %v", state.JobID, updateErr)
	}
	return fmt.Errorf("dispatch failed: %w", err)
}

func notifyStage(progress Progress, stage model.UploadStage) {
	if progress.OnStage != nil {
		progress.OnStage(stage)
	}
}
