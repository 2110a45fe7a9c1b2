package e2e

import (
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func createJobBody(pageCount int) string {
	return fmt.Sprintf(`{"fileName": "deck.pdf", "fileSize": 204800, "pageCount": %d}`, pageCount)
}

func dispatchBody(jobID string, pageCount int) string {
	urls := make([]string, 0, pageCount)
	for i := 1; i <= pageCount; i++ {
		urls = append(urls, fmt.Sprintf(`"https://assets.example.com/decks/%s/page_%d.jpg"`, jobID, i))
	}
	return fmt.Sprintf(`{
		"jobId": "%s",
		"fileName": "deck.pdf",
		"fileSize": 204800,
		"pageAssetUrls": [%s]
	}`, jobID, strings.Join(urls, ","))
}

// createJob registers a job and returns its ID.
func createJob(t *testing.T, ta *testApp, userID string, pageCount int) string {
	t.Helper()
	resp, err := doAuthRequest(t, ta.app, userID, http.MethodPost, "/api/analysis/jobs", createJobBody(pageCount))
	if err != nil {
		t.Fatalf("create job request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusCreated)
	result := parseJSON(t, resp)
	jobID, _ := result["jobId"].(string)
	if jobID == "" {
		t.Fatal("expected jobId in create response")
	}
	return jobID
}

// grantCredits tops up a user via the API.
func grantCredits(t *testing.T, ta *testApp, userID string, amount int) {
	t.Helper()
	body := fmt.Sprintf(`{"amount": %d, "transactionType": "purchase", "description": "test top-up"}`, amount)
	resp, err := doAuthRequest(t, ta.app, userID, http.MethodPost, "/api/credits/add", body)
	if err != nil {
		t.Fatalf("add credits request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	readBody(t, resp)
}

func TestHealth(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodGet, "/health", "", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	if result["status"] != "ok" {
		t.Errorf("expected status ok, got %v", result["status"])
	}
}

func TestCreateJob_Success(t *testing.T) {
	ta := setupApp(t)
	user := newTestUser()

	resp, err := doAuthRequest(t, ta.app, user, http.MethodPost, "/api/analysis/jobs", createJobBody(5))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusCreated)

	result := parseJSON(t, resp)
	if result["jobId"] == nil || result["jobId"] == "" {
		t.Error("expected 'jobId' in response")
	}
	if result["ownerId"] != user {
		t.Errorf("expected ownerId %s, got %v", user, result["ownerId"])
	}
	if result["status"] != "pending" {
		t.Errorf("expected status 'pending', got %v", result["status"])
	}
}

func TestCreateJob_NoAuth(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodPost, "/api/analysis/jobs", createJobBody(5), nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusUnauthorized)
}

func TestCreateJob_InvalidBody(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, newTestUser(), http.MethodPost, "/api/analysis/jobs", `{"fileName": "deck.pdf"}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestCreateJob_TooManyPages(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, newTestUser(), http.MethodPost, "/api/analysis/jobs", createJobBody(51))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestDispatch_InsufficientCredits(t *testing.T) {
	ta := setupApp(t)
	user := newTestUser()

	jobID := createJob(t, ta, user, 3)

	resp, err := doAuthRequest(t, ta.app, user, http.MethodPost, "/api/analysis/dispatch", dispatchBody(jobID, 3))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusPaymentRequired)

	result := parseJSON(t, resp)
	errObj := result["error"].(map[string]interface{})
	if errObj["code"] != "PAYMENT_REQUIRED" {
		t.Errorf("expected error code PAYMENT_REQUIRED, got %v", errObj["code"])
	}
	details := errObj["details"].(map[string]interface{})
	if details["requiredCredits"] != float64(3) {
		t.Errorf("expected requiredCredits 3, got %v", details["requiredCredits"])
	}
	if details["currentBalance"] != float64(0) {
		t.Errorf("expected currentBalance 0, got %v", details["currentBalance"])
	}
}

func TestDispatch_Success(t *testing.T) {
	ta := setupApp(t)
	user := newTestUser()

	grantCredits(t, ta, user, 10)
	jobID := createJob(t, ta, user, 3)

	resp, err := doAuthRequest(t, ta.app, user, http.MethodPost, "/api/analysis/dispatch", dispatchBody(jobID, 3))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)

	result := parseJSON(t, resp)
	if result["jobId"] != jobID {
		t.Errorf("expected jobId %s, got %v", jobID, result["jobId"])
	}
	if result["requiredCredits"] != float64(3) {
		t.Errorf("expected requiredCredits 3, got %v", result["requiredCredits"])
	}

	// Dispatching never charges up front; the worker settles after success.
	resp, err = doAuthRequest(t, ta.app, user, http.MethodGet, "/api/credits/balance", "")
	if err != nil {
		t.Fatalf("balance request failed: %v", err)
	}
	balance := parseJSON(t, resp)
	if balance["creditsBalance"] != float64(10) {
		t.Errorf("expected balance still 10 after dispatch, got %v", balance["creditsBalance"])
	}
}

func TestDispatch_AlreadyDispatched(t *testing.T) {
	ta := setupApp(t)
	user := newTestUser()

	grantCredits(t, ta, user, 10)
	jobID := createJob(t, ta, user, 2)

	resp, err := doAuthRequest(t, ta.app, user, http.MethodPost, "/api/analysis/dispatch", dispatchBody(jobID, 2))
	if err != nil {
		t.Fatalf("first dispatch failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)
	readBody(t, resp)

	resp, err = doAuthRequest(t, ta.app, user, http.MethodPost, "/api/analysis/dispatch", dispatchBody(jobID, 2))
	if err != nil {
		t.Fatalf("second dispatch failed: %v", err)
	}
	assertStatus(t, resp, http.StatusConflict)
}

func TestDispatch_PageCountMismatch(t *testing.T) {
	ta := setupApp(t)
	user := newTestUser()

	grantCredits(t, ta, user, 10)
	jobID := createJob(t, ta, user, 5)

	resp, err := doAuthRequest(t, ta.app, user, http.MethodPost, "/api/analysis/dispatch", dispatchBody(jobID, 3))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestDispatch_UnknownJob(t *testing.T) {
	ta := setupApp(t)
	user := newTestUser()

	grantCredits(t, ta, user, 10)
	fakeJobID := uuid.New().String()

	resp, err := doAuthRequest(t, ta.app, user, http.MethodPost, "/api/analysis/dispatch", dispatchBody(fakeJobID, 2))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNotFound)
}

func TestStatus_Success(t *testing.T) {
	ta := setupApp(t)
	user := newTestUser()

	jobID := createJob(t, ta, user, 4)

	resp, err := doAuthRequest(t, ta.app, user, http.MethodGet, "/api/analysis/status/"+jobID, "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	if result["id"] != jobID {
		t.Errorf("expected id %s, got %v", jobID, result["id"])
	}
	if result["status"] != "pending" {
		t.Errorf("expected status pending, got %v", result["status"])
	}
	if result["pageCount"] != float64(4) {
		t.Errorf("expected pageCount 4, got %v", result["pageCount"])
	}
}

func TestStatus_NotFound(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, newTestUser(), http.MethodGet, "/api/analysis/status/"+uuid.New().String(), "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNotFound)

	result := parseJSON(t, resp)
	errObj := result["error"].(map[string]interface{})
	if errObj["code"] != "NOT_FOUND" {
		t.Errorf("expected error code NOT_FOUND, got %v", errObj["code"])
	}
}

// Jobs are scoped to their owner; another user's job looks like it does not
// exist.
func TestStatus_OtherUsersJob(t *testing.T) {
	ta := setupApp(t)

	jobID := createJob(t, ta, newTestUser(), 3)

	resp, err := doAuthRequest(t, ta.app, newTestUser(), http.MethodGet, "/api/analysis/status/"+jobID, "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNotFound)
}

func TestFailJob_Success(t *testing.T) {
	ta := setupApp(t)
	user := newTestUser()

	jobID := createJob(t, ta, user, 3)

	resp, err := doAuthRequest(t, ta.app, user, http.MethodPost, "/api/analysis/fail/"+jobID,
		`{"error": "dispatch failed: connection refused"}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNoContent)

	resp, err = doAuthRequest(t, ta.app, user, http.MethodGet, "/api/analysis/status/"+jobID, "")
	if err != nil {
		t.Fatalf("status request failed: %v", err)
	}
	result := parseJSON(t, resp)
	if result["status"] != "failed" {
		t.Errorf("expected status failed, got %v", result["status"])
	}
	if result["error"] == nil {
		t.Error("expected failure reason in status")
	}
}

// Failing a job is only valid while it is still pending; a second attempt
// hits a terminal row.
func TestFailJob_AlreadyTerminal(t *testing.T) {
	ta := setupApp(t)
	user := newTestUser()

	jobID := createJob(t, ta, user, 3)

	resp, err := doAuthRequest(t, ta.app, user, http.MethodPost, "/api/analysis/fail/"+jobID, `{"error": "first"}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNoContent)

	resp, err = doAuthRequest(t, ta.app, user, http.MethodPost, "/api/analysis/fail/"+jobID, `{"error": "second"}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusConflict)
}

func TestResult_NotCompleted(t *testing.T) {
	ta := setupApp(t)
	user := newTestUser()

	jobID := createJob(t, ta, user, 3)

	resp, err := doAuthRequest(t, ta.app, user, http.MethodGet, "/api/analysis/result/"+jobID, "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusBadRequest)
}
