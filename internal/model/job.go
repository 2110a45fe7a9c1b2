package model

import "time"

// Job represents one deck analysis tracked on the server. The job row is the
// source of truth for submission state; clients only keep resume hints.
type Job struct {
	ID             string     `json:"id"`
	OwnerID        string     `json:"ownerId"`
	SourceFileName string     `json:"sourceFileName"`
	SourceFileSize int64      `json:"sourceFileSize"`
	PageCount      int        `json:"pageCount"`
	Status         JobStatus  `json:"status"`
	Progress       int        `json:"progress"` // pages analyzed so far
	CurrentStep    string     `json:"currentStep,omitempty"`
	Error          *string    `json:"error,omitempty"`
	Result         []byte     `json:"-"` // AnalysisResult as JSON
	CreatedAt      time.Time  `json:"createdAt"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

// AnalysisJobPayload contains the data for a dispatched analysis task.
type AnalysisJobPayload struct {
	JobID         string   `json:"jobId"`
	OwnerID       string   `json:"ownerId"`
	FileName      string   `json:"fileName"`
	FileSize      int64    `json:"fileSize"`
	PageAssetURLs []string `json:"pageAssetUrls"`
}

// CreateJobRequest is the body for POST /api/analysis/jobs
type CreateJobRequest struct {
	FileName  string `json:"fileName" validate:"required,max=255"`
	FileSize  int64  `json:"fileSize" validate:"required,gt=0"`
	PageCount int    `json:"pageCount" validate:"required,gt=0,lte=50"`
}

// CreateJobResponse is the response for POST /api/analysis/jobs
type CreateJobResponse struct {
	JobID     string    `json:"jobId"`
	OwnerID   string    `json:"ownerId"`
	Status    JobStatus `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// DispatchRequest is the body for POST /api/analysis/dispatch
type DispatchRequest struct {
	JobID         string   `json:"jobId" validate:"required,uuid4"`
	FileName      string   `json:"fileName" validate:"required"`
	FileSize      int64    `json:"fileSize" validate:"required,gt=0"`
	PageAssetURLs []string `json:"pageAssetUrls" validate:"required,min=1,max=50,dive,url"`
}

// DispatchResponse is the response for POST /api/analysis/dispatch
type DispatchResponse struct {
	JobID           string    `json:"jobId"`
	Status          JobStatus `json:"status"`
	RequiredCredits int       `json:"requiredCredits"`
}

// FailJobRequest is the body for POST /api/analysis/fail/:jobId. Used by the
// submitting side when the dispatch call itself failed and nothing server-side
// will ever touch the job again.
type FailJobRequest struct {
	Error string `json:"error" validate:"required,max=1000"`
}

// JobStatusResponse is the response for GET /api/analysis/status/:jobId
type JobStatusResponse struct {
	ID          string     `json:"id"`
	Status      JobStatus  `json:"status"`
	Progress    int        `json:"progress"`
	CurrentStep string     `json:"currentStep,omitempty"`
	PageCount   int        `json:"pageCount"`
	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}
