package model

import "time"

// PageImage is one rasterized page of a source document, produced by the
// extractor. Pages are 1-indexed.
type PageImage struct {
	PageNumber int    `json:"pageNumber"`
	Data       []byte `json:"-"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}

// PageAsset is one uploaded page object, immutable once written. The signed
// URL is time-bounded; a resumed submission mints a fresh one when the stored
// URL has expired.
type PageAsset struct {
	JobID       string `json:"jobId"`
	PageNumber  int    `json:"pageNumber"`
	StoragePath string `json:"storagePath"`
	SignedURL   string `json:"signedUrl"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
}

// PageFeedback is the normalized result row for one page. Empty is set when
// the external analysis failed for that page and the job carried on without it.
type PageFeedback struct {
	PageNumber int    `json:"pageNumber"`
	Feedback   string `json:"feedback"`
	Empty      bool   `json:"empty,omitempty"`
}

// AnalysisResult is the full evaluation of a deck: per-page rows plus the
// aggregate pass over all page content.
type AnalysisResult struct {
	JobID      string         `json:"jobId"`
	Pages      []PageFeedback `json:"pages"`
	Summary    string         `json:"summary"`
	Score      int            `json:"score"` // 1-100
	Strengths  []string       `json:"strengths,omitempty"`
	Weaknesses []string       `json:"weaknesses,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// PersistedUploadState is the client-local durable record of one in-flight
// submission. It survives process restarts and is strictly a resume hint:
// whenever it disagrees with the server's job row, the server wins.
type PersistedUploadState struct {
	JobID             string      `json:"jobId"`
	OwnerID           string      `json:"ownerId"`
	SourceFileName    string      `json:"sourceFileName"`
	SourceFilePath    string      `json:"sourceFilePath"`
	SourceFileSize    int64       `json:"sourceFileSize"`
	PageCount         int         `json:"pageCount"`
	UploadedPageURLs  []string    `json:"uploadedPageUrls"`
	UploadedPageCount int         `json:"uploadedPageCount"`
	AnalyzedPageCount int         `json:"analyzedPageCount"`
	Stage             UploadStage `json:"status"`
	LastTouchedAt     time.Time   `json:"lastTouchedAt"`
}
