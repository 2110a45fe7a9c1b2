package e2e

import (
	"net/http"
	"testing"
)

func TestBalance_EmptyAccount(t *testing.T) {
	ta := setupApp(t)
	user := newTestUser()

	resp, err := doAuthRequest(t, ta.app, user, http.MethodGet, "/api/credits/balance", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	if result["ownerId"] != user {
		t.Errorf("expected ownerId %s, got %v", user, result["ownerId"])
	}
	if result["creditsBalance"] != float64(0) {
		t.Errorf("expected zero balance, got %v", result["creditsBalance"])
	}
}

func TestAddCredits_PurchaseGoesToPurchasedPool(t *testing.T) {
	ta := setupApp(t)
	user := newTestUser()

	body := `{"amount": 25, "transactionType": "purchase", "description": "starter pack"}`
	resp, err := doAuthRequest(t, ta.app, user, http.MethodPost, "/api/credits/add", body)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	if result["success"] != true {
		t.Errorf("expected success true, got %v", result["success"])
	}
	if result["newBalance"] != float64(25) {
		t.Errorf("expected newBalance 25, got %v", result["newBalance"])
	}

	resp, err = doAuthRequest(t, ta.app, user, http.MethodGet, "/api/credits/balance", "")
	if err != nil {
		t.Fatalf("balance request failed: %v", err)
	}
	balance := parseJSON(t, resp)
	if balance["purchasedCredits"] != float64(25) {
		t.Errorf("expected purchasedCredits 25, got %v", balance["purchasedCredits"])
	}
	if balance["subscriptionCredits"] != float64(0) {
		t.Errorf("expected subscriptionCredits 0, got %v", balance["subscriptionCredits"])
	}
}

func TestAddCredits_RenewalGoesToSubscriptionPool(t *testing.T) {
	ta := setupApp(t)
	user := newTestUser()

	body := `{"amount": 30, "transactionType": "subscription_renewal", "description": "monthly renewal"}`
	resp, err := doAuthRequest(t, ta.app, user, http.MethodPost, "/api/credits/add", body)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	readBody(t, resp)

	resp, err = doAuthRequest(t, ta.app, user, http.MethodGet, "/api/credits/balance", "")
	if err != nil {
		t.Fatalf("balance request failed: %v", err)
	}
	balance := parseJSON(t, resp)
	if balance["subscriptionCredits"] != float64(30) {
		t.Errorf("expected subscriptionCredits 30, got %v", balance["subscriptionCredits"])
	}
}

func TestAddCredits_InvalidType(t *testing.T) {
	ta := setupApp(t)

	body := `{"amount": 5, "transactionType": "analysis_charge", "description": "nope"}`
	resp, err := doAuthRequest(t, ta.app, newTestUser(), http.MethodPost, "/api/credits/add", body)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusBadRequest)
}

// Deductions drain subscription credits before touching purchased ones.
func TestDeduct_SubscriptionFirst(t *testing.T) {
	ta := setupApp(t)
	user := newTestUser()

	for _, body := range []string{
		`{"amount": 3, "transactionType": "subscription_renewal", "description": "renewal"}`,
		`{"amount": 10, "transactionType": "purchase", "description": "top-up"}`,
	} {
		resp, err := doAuthRequest(t, ta.app, user, http.MethodPost, "/api/credits/add", body)
		if err != nil {
			t.Fatalf("add request failed: %v", err)
		}
		assertStatus(t, resp, http.StatusOK)
		readBody(t, resp)
	}

	resp, err := doAuthRequest(t, ta.app, user, http.MethodPost, "/api/credits/deduct",
		`{"amount": 5, "description": "deck analysis"}`)
	if err != nil {
		t.Fatalf("deduct request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	if result["newBalance"] != float64(8) {
		t.Errorf("expected newBalance 8, got %v", result["newBalance"])
	}

	resp, err = doAuthRequest(t, ta.app, user, http.MethodGet, "/api/credits/balance", "")
	if err != nil {
		t.Fatalf("balance request failed: %v", err)
	}
	balance := parseJSON(t, resp)
	if balance["subscriptionCredits"] != float64(0) {
		t.Errorf("expected subscription pool drained, got %v", balance["subscriptionCredits"])
	}
	if balance["purchasedCredits"] != float64(8) {
		t.Errorf("expected purchasedCredits 8, got %v", balance["purchasedCredits"])
	}
}

func TestDeduct_Insufficient(t *testing.T) {
	ta := setupApp(t)
	user := newTestUser()

	grantCredits(t, ta, user, 2)

	resp, err := doAuthRequest(t, ta.app, user, http.MethodPost, "/api/credits/deduct",
		`{"amount": 5, "description": "deck analysis"}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusPaymentRequired)

	result := parseJSON(t, resp)
	errObj := result["error"].(map[string]interface{})
	details := errObj["details"].(map[string]interface{})
	if details["currentBalance"] != float64(2) {
		t.Errorf("expected currentBalance 2, got %v", details["currentBalance"])
	}

	// A refused deduction must not partially drain the account.
	resp, err = doAuthRequest(t, ta.app, user, http.MethodGet, "/api/credits/balance", "")
	if err != nil {
		t.Fatalf("balance request failed: %v", err)
	}
	balance := parseJSON(t, resp)
	if balance["creditsBalance"] != float64(2) {
		t.Errorf("expected balance unchanged at 2, got %v", balance["creditsBalance"])
	}
}

func TestHistory_NewestFirst(t *testing.T) {
	ta := setupApp(t)
	user := newTestUser()

	grantCredits(t, ta, user, 10)
	resp, err := doAuthRequest(t, ta.app, user, http.MethodPost, "/api/credits/deduct",
		`{"amount": 4, "description": "deck analysis"}`)
	if err != nil {
		t.Fatalf("deduct request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	readBody(t, resp)

	resp, err = doAuthRequest(t, ta.app, user, http.MethodGet, "/api/credits/history", "")
	if err != nil {
		t.Fatalf("history request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	rows := parseJSONArray(t, resp)
	if len(rows) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(rows))
	}

	newest := rows[0].(map[string]interface{})
	if newest["amount"] != float64(-4) {
		t.Errorf("expected newest amount -4, got %v", newest["amount"])
	}
	if newest["balanceAfter"] != float64(6) {
		t.Errorf("expected balanceAfter 6, got %v", newest["balanceAfter"])
	}

	oldest := rows[1].(map[string]interface{})
	if oldest["amount"] != float64(10) {
		t.Errorf("expected oldest amount 10, got %v", oldest["amount"])
	}
}

func TestHistory_Pagination(t *testing.T) {
	ta := setupApp(t)
	user := newTestUser()

	for i := 0; i < 5; i++ {
		grantCredits(t, ta, user, i+1)
	}

	resp, err := doAuthRequest(t, ta.app, user, http.MethodGet, "/api/credits/history?limit=2&offset=1", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	rows := parseJSONArray(t, resp)
	if len(rows) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(rows))
	}
	// Newest first: grants were 1..5, so offset 1 starts at amount 4.
	first := rows[0].(map[string]interface{})
	if first["amount"] != float64(4) {
		t.Errorf("expected amount 4 at offset 1, got %v", first["amount"])
	}
}
