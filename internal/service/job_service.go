package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/deckcritic/api/internal/model"
)

const (
	TaskTypeAnalysis = "analysis:process"

	// Completed jobs stay retrievable for a week; clients poll and fetch
	// results well within that.
	jobRetention = 7 * 24 * time.Hour
)

var (
	ErrJobNotFound     = errors.New("job not found")
	ErrJobNotCompleted = errors.New("job not completed")
	ErrJobNotPending   = errors.New("job not pending")
	ErrJobTerminal     = errors.New("job already in a terminal status")
	ErrNotJobOwner     = errors.New("job belongs to another user")
	ErrPageCountMismatch = errors.New("page asset count does not match job page count")
)

// JobService manages analysis job records and dispatches background tasks.
// The job row in Redis is the single source of truth for submission state.
type JobService struct {
	redis       *redis.Client
	asynqClient *asynq.Client
}

func NewJobService(redisClient *redis.Client, asynqClient *asynq.Client) *JobService {
	return &JobService{
		redis:       redisClient,
		asynqClient: asynqClient,
	}
}

// CreateJob inserts a new pending job row.
func (s *JobService) CreateJob(ctx context.Context, ownerID string, req *model.CreateJobRequest) (*model.CreateJobResponse, error) {
	job := &model.Job{
		ID:             uuid.New().String(),
		OwnerID:        ownerID,
		SourceFileName: req.FileName,
		SourceFileSize: req.FileSize,
		PageCount:      req.PageCount,
		Status:         model.JobStatusPending,
		CreatedAt:      time.Now(),
	}

	if err := s.saveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	return &model.CreateJobResponse{
		JobID:     job.ID,
		OwnerID:   job.OwnerID,
		Status:    job.Status,
		CreatedAt: job.CreatedAt,
	}, nil
}

// Dispatch enqueues the background analysis task for a pending job. The
// credit balance was already checked by the handler; no credits are deducted
// here; settlement happens in the worker after durable success.
func (s *JobService) Dispatch(ctx context.Context, ownerID string, req *model.DispatchRequest) (*model.DispatchResponse, error) {
	job, err := s.getOwnedJob(ctx, ownerID, req.JobID)
	if err != nil {
		return nil, err
	}

	if job.Status != model.JobStatusPending {
		return nil, ErrJobNotPending
	}
	if len(req.PageAssetURLs) != job.PageCount {
		return nil, ErrPageCountMismatch
	}

	payload := &model.AnalysisJobPayload{
		JobID:         job.ID,
		OwnerID:       job.OwnerID,
		FileName:      req.FileName,
		FileSize:      req.FileSize,
		PageAssetURLs: req.PageAssetURLs,
	}

	task, err := newAnalysisTask(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	_, err = s.asynqClient.Enqueue(task,
		asynq.Queue("analysis"),
		asynq.MaxRetry(2),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		// Nothing server-side will ever pick this job up; fail it now so the
		// failure is observable through polling.
		failMsg := fmt.Sprintf("Failed to queue analysis: %v", err)
		_ = s.FailJob(ctx, job.ID, failMsg)
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	return &model.DispatchResponse{
		JobID:           job.ID,
		Status:          job.Status,
		RequiredCredits: job.PageCount,
	}, nil
}

// GetStatus returns the current status of a job owned by ownerID.
func (s *JobService) GetStatus(ctx context.Context, ownerID, jobID string) (*model.JobStatusResponse, error) {
	job, err := s.getOwnedJob(ctx, ownerID, jobID)
	if err != nil {
		return nil, err
	}

	return &model.JobStatusResponse{
		ID:          job.ID,
		Status:      job.Status,
		Progress:    job.Progress,
		CurrentStep: job.CurrentStep,
		PageCount:   job.PageCount,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}, nil
}

// GetResult returns the stored analysis result of a completed job.
func (s *JobService) GetResult(ctx context.Context, ownerID, jobID string) (*model.AnalysisResult, error) {
	job, err := s.getOwnedJob(ctx, ownerID, jobID)
	if err != nil {
		return nil, err
	}

	if job.Status != model.JobStatusCompleted {
		return nil, ErrJobNotCompleted
	}

	var result model.AnalysisResult
	if err := json.Unmarshal(job.Result, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}

	return &result, nil
}

// FailFromDispatch is the orchestrator's transport-failure path: the client
// marks a job it could not dispatch. Only a still-pending job can be failed
// this way; once the worker owns the job the client's view is stale.
func (s *JobService) FailFromDispatch(ctx context.Context, ownerID, jobID, errMsg string) error {
	job, err := s.getOwnedJob(ctx, ownerID, jobID)
	if err != nil {
		return err
	}

	if job.Status != model.JobStatusPending {
		if job.Status.IsTerminal() {
			return ErrJobTerminal
		}
		return ErrJobNotPending
	}

	return s.transition(ctx, job, model.JobStatusFailed, func(j *model.Job) {
		j.Error = &errMsg
		now := time.Now()
		j.CompletedAt = &now
	})
}

// StartProcessing moves a job to processing (called by the worker). A job
// already processing is left as is: an interrupted task is re-enqueued by the
// queue, and the retry must be able to re-run the pages instead of wedging on
// an invalid transition.
func (s *JobService) StartProcessing(ctx context.Context, jobID string) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}

	if job.Status == model.JobStatusProcessing {
		return nil
	}

	return s.transition(ctx, job, model.JobStatusProcessing, func(j *model.Job) {
		now := time.Now()
		j.StartedAt = &now
	})
}

// UpdateProgress records the number of pages analyzed so far (called by the worker).
func (s *JobService) UpdateProgress(ctx context.Context, jobID string, analyzedPages int, step string) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return ErrJobTerminal
	}

	job.Progress = analyzedPages
	job.CurrentStep = step

	return s.saveJob(ctx, job)
}

// CompleteJob stores the result and marks the job completed (called by the worker).
func (s *JobService) CompleteJob(ctx context.Context, jobID string, result *model.AnalysisResult) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}

	resultBytes, err := json.Marshal(result)
	if err != nil {
		return err
	}

	return s.transition(ctx, job, model.JobStatusCompleted, func(j *model.Job) {
		j.Progress = j.PageCount
		j.CurrentStep = ""
		j.Result = resultBytes
		now := time.Now()
		j.CompletedAt = &now
	})
}

// FailJob marks a job failed with a human-readable message (called by the
// worker, or by Dispatch when enqueueing fails).
func (s *JobService) FailJob(ctx context.Context, jobID string, errMsg string) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}

	return s.transition(ctx, job, model.JobStatusFailed, func(j *model.Job) {
		j.Error = &errMsg
		now := time.Now()
		j.CompletedAt = &now
	})
}

// GetJob returns the raw job row (worker-facing, no ownership filter).
func (s *JobService) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	return s.getJob(ctx, jobID)
}

// Helper methods

// transition applies a status change, rejecting anything the state machine
// does not allow. Terminal states are never overwritten.
func (s *JobService) transition(ctx context.Context, job *model.Job, next model.JobStatus, mutate func(*model.Job)) error {
	if !job.Status.CanTransitionTo(next) {
		if job.Status.IsTerminal() {
			return ErrJobTerminal
		}
		return fmt.Errorf("invalid transition %s -> %s", job.Status, next)
	}

	job.Status = next
	if mutate != nil {
		mutate(job)
	}
	return s.saveJob(ctx, job)
}

func (s *JobService) getOwnedJob(ctx context.Context, ownerID, jobID string) (*model.Job, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != ownerID {
		return nil, ErrNotJobOwner
	}
	return job, nil
}

type storedJob struct {
	model.Job
	Result []byte `json:"result,omitempty"`
}

func (s *JobService) saveJob(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(storedJob{Job: *job, Result: job.Result})
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, fmt.Sprintf("job:%s", job.ID), data, jobRetention).Err()
}

func (s *JobService) getJob(ctx context.Context, jobID string) (*model.Job, error) {
	data, err := s.redis.Get(ctx, fmt.Sprintf("job:%s", jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	var stored storedJob
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, err
	}

	job := stored.Job
	job.Result = stored.Result
	return &job, nil
}

func newAnalysisTask(payload *model.AnalysisJobPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeAnalysis, data), nil
}
