package e2e

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/deckcritic/api/internal/auth"
	"github.com/deckcritic/api/internal/handler"
	"github.com/deckcritic/api/internal/middleware"
	"github.com/deckcritic/api/internal/service"
	ws "github.com/deckcritic/api/internal/websocket"
)

const (
	testJWTSecret      = "test-secret-for-e2e"
	testMaxPages       = 50
	testCreditsPerPage = 1
)

// testApp holds all components needed for testing
type testApp struct {
	app           *fiber.App
	redis         *redis.Client
	jobService    *service.JobService
	creditService *service.CreditService
	hub           *ws.Hub
}

// setupApp creates a Fiber app identical to main.go but with the vision
// client unconfigured, so analysis falls back to mock feedback.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	// Redis (localhost — must be running)
	redisClient := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // use DB 15 for tests to avoid collision
	})

	// Asynq client
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr: "localhost:6379",
		DB:   15,
	})
	t.Cleanup(func() { asynqClient.Close() })

	validate := validator.New()

	hub := ws.NewHub()
	go hub.Run()

	// Services
	jobService := service.NewJobService(redisClient, asynqClient)
	creditService := service.NewCreditService(redisClient)

	// Handlers
	analysisHandler := handler.NewAnalysisHandler(jobService, creditService, validate, testMaxPages, testCreditsPerPage)
	creditsHandler := handler.NewCreditsHandler(creditService, validate)
	authHandler := handler.NewAuthHandler(nil, testJWTSecret)

	// Auth middleware — legacy HMAC only
	authMiddleware := middleware.NewLegacyAuthMiddleware(testJWTSecret)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	app := fiber.New(fiber.Config{
		BodyLimit: 10 * 1024 * 1024,
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"vision": false,
				"r2":     false,
				"redis":  redisClient.Ping(c.Context()).Err() == nil,
				"auth":   true,
			},
		})
	})
	app.Get("/auth/verify", authHandler.Verify)

	// API routes (authenticated)
	api := app.Group("/api", authMiddleware.Authenticate())

	// Use very high rate limits so tests don't get blocked
	analysis := api.Group("/analysis")
	analysis.Post("/jobs", rateLimiter.AnalysisLimit(10000), analysisHandler.CreateJob)
	analysis.Post("/dispatch", rateLimiter.AnalysisLimit(10000), analysisHandler.Dispatch)
	analysis.Get("/status/:jobId", analysisHandler.Status)
	analysis.Get("/result/:jobId", analysisHandler.Result)
	analysis.Post("/fail/:jobId", analysisHandler.Fail)

	credits := api.Group("/credits", rateLimiter.CreditsLimit(10000))
	credits.Get("/balance", creditsHandler.Balance)
	credits.Get("/history", creditsHandler.History)
	credits.Post("/deduct", creditsHandler.Deduct)
	credits.Post("/add", creditsHandler.Add)

	return &testApp{
		app:           app,
		redis:         redisClient,
		jobService:    jobService,
		creditService: creditService,
		hub:           hub,
	}
}

// newTestUser returns a unique user ID so credit tests don't share a ledger.
func newTestUser() string {
	return "test-user-" + uuid.New().String()
}

// tokenFor creates a legacy HMAC JWT token for the given user.
func tokenFor(t *testing.T, userID string) string {
	t.Helper()
	claims := auth.LegacyClaims{
		UserID: userID,
		Email:  "test@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer: "deckcritic-api",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return signed
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs a request authenticated as the given user.
func doAuthRequest(t *testing.T, app *fiber.App, userID, method, path, body string) (*http.Response, error) {
	t.Helper()
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + tokenFor(t, userID),
	})
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// parseJSONArray parses response body into a slice.
func parseJSONArray(t *testing.T, resp *http.Response) []interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result []interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON array: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
