package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/deckcritic/api/internal/client"
	"github.com/deckcritic/api/internal/model"
	"github.com/deckcritic/api/internal/service"
	"github.com/deckcritic/api/internal/websocket"
)

// AnalysisWorker processes dispatched deck analysis jobs. Pages are analyzed
// one at a time with a fixed delay between calls to stay under the vision
// provider's rate limit; parallel fan-out would trade occasional bursty
// rejections for little real latency win on decks this small.
type AnalysisWorker struct {
	jobService     *service.JobService
	creditService  *service.CreditService
	vision         client.VisionAnalyzer
	hub            *websocket.Hub
	pageDelay      time.Duration
	creditsPerPage int
}

// NewAnalysisWorker creates a new analysis worker
func NewAnalysisWorker(jobService *service.JobService, creditService *service.CreditService, vision client.VisionAnalyzer, hub *websocket.Hub, pageDelay time.Duration, creditsPerPage int) *AnalysisWorker {
	return &AnalysisWorker{
		jobService:     jobService,
		creditService:  creditService,
		vision:         vision,
		hub:            hub,
		pageDelay:      pageDelay,
		creditsPerPage: creditsPerPage,
	}
}

// ProcessTask handles one analysis task. Job-fatal errors mark the row failed
// and return nil so asynq never retries a terminal job; only infrastructure
// errors propagate for retry.
func (w *AnalysisWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload model.AnalysisJobPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}

	jobID := payload.JobID
	log.Printf("Starting analysis job: %s (%d pages)", jobID, len(payload.PageAssetURLs))

	job, err := w.jobService.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	if job.Status.IsTerminal() {
		log.Printf("Job %s already %s, skipping", jobID, job.Status)
		return nil
	}

	if err := w.jobService.StartProcessing(ctx, jobID); err != nil {
		if errors.Is(err, service.ErrJobTerminal) {
			return nil
		}
		return fmt.Errorf("failed to start job %s: %w", jobID, err)
	}

	totalPages := len(payload.PageAssetURLs)
	pages := make([]model.PageFeedback, 0, totalPages)
	feedbackTexts := make([]string, 0, totalPages)

	for i, assetURL := range payload.PageAssetURLs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		pageNum := i + 1
		w.updateProgress(ctx, jobID, i, fmt.Sprintf("Analyzing page %d of %d...", pageNum, totalPages))

		feedback, err := w.analyzePage(ctx, assetURL, pageNum, totalPages)
		if err != nil {
			// One bad page must not sink the whole deck; record an empty
			// row and carry on.
			log.Printf("Job %s: page %d analysis failed: %v", jobID, pageNum, err)
			pages = append(pages, model.PageFeedback{PageNumber: pageNum, Empty: true})
			feedbackTexts = append(feedbackTexts, "")
		} else {
			pages = append(pages, model.PageFeedback{PageNumber: pageNum, Feedback: feedback})
			feedbackTexts = append(feedbackTexts, feedback)
		}

		w.updateProgress(ctx, jobID, pageNum, fmt.Sprintf("Analyzed page %d of %d", pageNum, totalPages))

		if pageNum < totalPages && w.pageDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.pageDelay):
			}
		}
	}

	w.updateProgress(ctx, jobID, totalPages, "Finalizing evaluation...")

	result, err := w.aggregate(ctx, jobID, pages, feedbackTexts)
	if err != nil {
		w.failJob(ctx, jobID, fmt.Sprintf("Overall evaluation failed: %v", err))
		return nil
	}

	if err := w.jobService.CompleteJob(ctx, jobID, result); err != nil {
		if errors.Is(err, service.ErrJobTerminal) {
			return nil
		}
		return fmt.Errorf("failed to complete job %s: %w", jobID, err)
	}

	// Settle the ledger only after the result is durably stored. A failed
	// job never charges the user.
	cost := totalPages * w.creditsPerPage
	_, err = w.creditService.Deduct(ctx, payload.OwnerID, cost,
		fmt.Sprintf("Deck analysis of %s (%d pages)", payload.FileName, totalPages),
		map[string]string{"jobId": jobID})
	if err != nil {
		// The work is done and the result stored; a settlement failure is an
		// accounting problem, not a job failure.
		log.Printf("Job %s: credit settlement failed for owner %s: %v", jobID, payload.OwnerID, err)
	}

	w.hub.BroadcastComplete(jobID, result)
	log.Printf("Analysis job %s completed", jobID)
	return nil
}

// analyzePage invokes the vision capability for one page, falling back to
// deterministic mock feedback when no provider is configured (development
// and tests).
func (w *AnalysisWorker) analyzePage(ctx context.Context, assetURL string, pageNum, totalPages int) (string, error) {
	if w.vision == nil || !w.vision.IsConfigured() {
		return fmt.Sprintf("Slide %d of %d: mock review — clear layout, headline could be sharper.", pageNum, totalPages), nil
	}
	return w.vision.AnalyzePage(ctx, assetURL, pageNum, totalPages)
}

// aggregate runs the overall pass and normalizes the provider's answer into
// an AnalysisResult.
func (w *AnalysisWorker) aggregate(ctx context.Context, jobID string, pages []model.PageFeedback, feedbackTexts []string) (*model.AnalysisResult, error) {
	result := &model.AnalysisResult{
		JobID:     jobID,
		Pages:     pages,
		CreatedAt: time.Now(),
	}

	if w.vision == nil || !w.vision.IsConfigured() {
		result.Summary = fmt.Sprintf("Mock evaluation across %d slides.", len(pages))
		result.Score = 72
		result.Strengths = []string{"Consistent narrative"}
		result.Weaknesses = []string{"Financials slide lacks detail"}
		return result, nil
	}

	raw, err := w.vision.Aggregate(ctx, feedbackTexts)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Summary    string   `json:"summary"`
		Score      int      `json:"score"`
		Strengths  []string `json:"strengths"`
		Weaknesses []string `json:"weaknesses"`
	}
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		// Providers occasionally answer in prose; keep it as the summary
		// rather than failing a finished deck.
		result.Summary = raw
		return result, nil
	}

	result.Summary = parsed.Summary
	result.Score = parsed.Score
	result.Strengths = parsed.Strengths
	result.Weaknesses = parsed.Weaknesses
	return result, nil
}

func (w *AnalysisWorker) updateProgress(ctx context.Context, jobID string, analyzedPages int, step string) {
	if err := w.jobService.UpdateProgress(ctx, jobID, analyzedPages, step); err != nil {
		log.Printf("Failed to update progress: %v", err)
	}
	w.hub.BroadcastProgress(jobID, analyzedPages, model.JobStatusProcessing, step)
}

func (w *AnalysisWorker) failJob(ctx context.Context, jobID, msg string) {
	if err := w.jobService.FailJob(ctx, jobID, msg); err != nil {
		log.Printf("Failed to mark job %s failed: %v", jobID, err)
	}
	w.hub.BroadcastError(jobID, "JOB_FAILED", msg)
	log.Printf("Analysis job %s failed: %s", jobID, msg)
}
