package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/deckcritic/api/internal/model"
	"github.com/deckcritic/api/pkg/response"
)

// APIError is a non-2xx reply with a decoded error envelope.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// InsufficientCreditsError is the decoded 402 reply from dispatch or deduct.
// It is separated from APIError so callers can surface the balance gap
// without re-parsing details.
type InsufficientCreditsError struct {
	CurrentBalance  int
	RequiredCredits int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: have %d, need %d", e.CurrentBalance, e.RequiredCredits)
}

// IsNotFound reports whether err is an API reply with status 404.
func IsNotFound(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.StatusCode == http.StatusNotFound
}

// Client talks to the DeckCritic API. All methods send the bearer credential
// from the token source and retry exactly once on 401 after invalidating it.
type Client struct {
	baseURL    string
	tokens     *TokenSource
	httpClient *http.Client
}

func NewClient(baseURL string, tokens *TokenSource) *Client {
	// No client-level timeout: the dispatch deadline is scaled to the page
	// count by the caller, and a fixed cap here would override it. Every
	// method takes a context; that is where deadlines belong.
	return &Client{
		baseURL:    baseURL,
		tokens:     tokens,
		httpClient: &http.Client{},
	}
}

// CreateJob registers a new analysis job before any assets are uploaded.
func (c *Client) CreateJob(ctx context.Context, req *model.CreateJobRequest) (*model.CreateJobResponse, error) {
	var resp model.CreateJobResponse
	if err := c.do(ctx, http.MethodPost, "/api/analysis/jobs", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Dispatch hands the uploaded page assets to the server for analysis. The
// server answers as soon as the task is queued; callers should use a context
// with a generous deadline because the balance pre-check and enqueue happen
// inline.
func (c *Client) Dispatch(ctx context.Context, req *model.DispatchRequest) (*model.DispatchResponse, error) {
	var resp model.DispatchResponse
	if err := c.do(ctx, http.MethodPost, "/api/analysis/dispatch", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetStatus fetches the current job row.
func (c *Client) GetStatus(ctx context.Context, jobID string) (*model.JobStatusResponse, error) {
	var resp model.JobStatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/analysis/status/"+url.PathEscape(jobID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetResult fetches the finished analysis. Fails with 400 until the job
// completes.
func (c *Client) GetResult(ctx context.Context, jobID string) (*model.AnalysisResult, error) {
	var resp model.AnalysisResult
	if err := c.do(ctx, http.MethodGet, "/api/analysis/result/"+url.PathEscape(jobID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FailJob marks a still-pending job failed. Used when the dispatch request
// itself could not be delivered, so no worker will ever pick the job up.
func (c *Client) FailJob(ctx context.Context, jobID, reason string) error {
	req := &model.FailJobRequest{Error: reason}
	return c.do(ctx, http.MethodPost, "/api/analysis/fail/"+url.PathEscape(jobID), req, nil)
}

// GetBalance fetches the caller's credit account.
func (c *Client) GetBalance(ctx context.Context) (*model.CreditAccount, error) {
	var resp model.CreditAccount
	if err := c.do(ctx, http.MethodGet, "/api/credits/balance", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetHistory fetches a page of the transaction log, newest first.
func (c *Client) GetHistory(ctx context.Context, limit, offset int) ([]model.CreditTransaction, error) {
	path := fmt.Sprintf("/api/credits/history?limit=%d&offset=%d", limit, offset)
	var resp []model.CreditTransaction
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// AddCredits grants credits to the caller's account.
func (c *Client) AddCredits(ctx context.Context, req *model.AddRequest) (*model.BalanceMutationResponse, error) {
	var resp model.BalanceMutationResponse
	if err := c.do(ctx, http.MethodPost, "/api/credits/add", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// do sends one authenticated request, decoding the reply into out when it is
// non-nil. A 401 invalidates the cached credential and retries once.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	status, err := c.send(ctx, method, path, body, out)
	if err == nil {
		return nil
	}
	if status != http.StatusUnauthorized || c.tokens == nil {
		return err
	}
	c.tokens.Invalidate()
	_, err = c.send(ctx, method, path, body, out)
	return err
}

func (c *Client) send(ctx context.Context, method, path string, body, out interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return 0, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, decodeError(resp.StatusCode, data)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func decodeError(status int, data []byte) error {
	var envelope response.ErrorResponse
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.Error.Code == "" {
		return &APIError{StatusCode: status, Code: "UNKNOWN", Message: string(data)}
	}

	if status == http.StatusPaymentRequired {
		if details, ok := envelope.Error.Details.(map[string]interface{}); ok {
			return &InsufficientCreditsError{
				CurrentBalance:  intDetail(details, "currentBalance"),
				RequiredCredits: intDetail(details, "requiredCredits"),
			}
		}
	}

	return &APIError{
		StatusCode: status,
		Code:       envelope.Error.Code,
		Message:    envelope.Error.Message,
	}
}

func intDetail(details map[string]interface{}, key string) int {
	switch v := details[key].(type) {
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}
