package model

// Job status
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether a job in this status can never transition again.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransitionTo enforces the job state machine: pending -> processing,
// pending -> failed (dispatch transport failure), processing -> completed,
// processing -> failed. Terminal states are absorbing.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusProcessing || next == JobStatusFailed
	case JobStatusProcessing:
		return next == JobStatusCompleted || next == JobStatusFailed
	}
	return false
}

// Credit transaction types
type TransactionType string

const (
	TransactionPurchase            TransactionType = "purchase"
	TransactionRefund              TransactionType = "refund"
	TransactionSubscriptionRenewal TransactionType = "subscription_renewal"
	TransactionAnalysisCharge      TransactionType = "analysis_charge"
)

var ValidTransactionTypes = []TransactionType{
	TransactionPurchase, TransactionRefund,
	TransactionSubscriptionRenewal, TransactionAnalysisCharge,
}

// Client-side submission stages, persisted between runs so an interrupted
// submission can resume from its last checkpoint.
type UploadStage string

const (
	StageExtracting UploadStage = "extracting"
	StageUploading  UploadStage = "uploading"
	StageAnalyzing  UploadStage = "analyzing"
	StageFinalizing UploadStage = "finalizing"
	StageCompleted  UploadStage = "completed"
	StageFailed     UploadStage = "failed"
)

// IsTerminal reports whether a persisted submission in this stage is done
// and eligible for cleanup.
func (s UploadStage) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed
}
