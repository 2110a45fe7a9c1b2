package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/deckcritic/api/internal/client"
	"github.com/deckcritic/api/internal/model"
)

const (
	defaultOfflineWait   = 5 * time.Minute
	defaultRetryInterval = 5 * time.Second
)

// UploadError identifies the page whose upload could not be completed.
type UploadError struct {
	PageNumber int
	Err        error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload failed for page %d: %v", e.PageNumber, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// Uploader pushes rendered pages to object storage and mints the signed URLs
// the dispatch payload carries. Uploads are keyed deterministically per job
// and page, so a resumed submission skips pages already in the bucket.
type Uploader struct {
	storage         client.StorageClient
	store           *StateStore
	signedURLExpiry time.Duration

	// A transient storage failure retries until offlineWait is exhausted.
	// Shortened in tests.
	offlineWait   time.Duration
	retryInterval time.Duration
}

func NewUploader(storage client.StorageClient, store *StateStore, signedURLExpiry time.Duration) *Uploader {
	return &Uploader{
		storage:         storage,
		store:           store,
		signedURLExpiry: signedURLExpiry,
		offlineWait:     defaultOfflineWait,
		retryInterval:   defaultRetryInterval,
	}
}

// pageKey is the storage key for one page asset. The convention is shared
// with nothing else; changing it orphans in-flight resumes.
func pageKey(jobID string, pageNumber int) string {
	return fmt.Sprintf("decks/%s/page_%d.jpg", jobID, pageNumber)
}

func pagePrefix(jobID string) string {
	return fmt.Sprintf("decks/%s/", jobID)
}

// UploadPages uploads every page not already present in the bucket and
// returns fresh signed URLs for all of them, in page order. State is saved
// after each page so an interrupt loses at most one upload. The progress
// callback, when non-nil, is invoked after each page is accounted for,
// skipped or uploaded.
func (u *Uploader) UploadPages(ctx context.Context, jobID string, pages []model.PageImage, progress func(done, total int)) ([]string, error) {
	existing, err := u.storage.ListKeys(ctx, pagePrefix(jobID))
	if err != nil {
		return nil, fmt.Errorf("failed to list existing page assets: %w", err)
	}
	present := make(map[string]bool, len(existing))
	for _, key := range existing {
		present[key] = true
	}

	urls := make([]string, 0, len(pages))
	uploaded := 0

	for i, page := range pages {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		key := pageKey(jobID, page.PageNumber)
		if !present[key] {
			if err := u.uploadWithRetry(ctx, key, page.Data); err != nil {
				return nil, &UploadError{PageNumber: page.PageNumber, Err: err}
			}
		}
		uploaded++

		// Signed URLs are minted fresh even for skipped pages; URLs from
		// a previous run may have expired while the client was offline.
		url, err := u.storage.GetSignedURL(ctx, key, u.signedURLExpiry)
		if err != nil {
			return nil, &UploadError{PageNumber: page.PageNumber, Err: fmt.Errorf("failed to sign URL: %w", err)}
		}
		urls = append(urls, url)

		if u.store != nil {
			uploadedSoFar := make([]string, len(urls))
			copy(uploadedSoFar, urls)
			err := u.store.Update(jobID, func(state *model.PersistedUploadState) {
				state.Stage = model.StageUploading
				state.UploadedPageURLs = uploadedSoFar
				state.UploadedPageCount = uploaded
			})
			if err != nil && err != ErrStateNotFound {
				return nil, fmt.Errorf("failed to persist upload state: %w", err)
			}
		}

		if progress != nil {
			progress(i+1, len(pages))
		}
	}

	return urls, nil
}

// uploadWithRetry retries a failed upload until the offline window closes.
// The upload attempt itself is the connectivity probe.
func (u *Uploader) uploadWithRetry(ctx context.Context, key string, data []byte) error {
	deadline := time.Now().Add(u.offlineWait)

	var lastErr error
	for {
		_, lastErr = u.storage.Upload(ctx, key, bytes.NewReader(data), "image/jpeg")
		if lastErr == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("gave up after %s: %w", u.offlineWait, lastErr)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(u.retryInterval):
		}
	}
}
