package apiclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// refreshThreshold is how close to expiry a credential may get before it is
// refreshed proactively. A request sent with a nearly-expired token could
// race the expiry mid-flight on a slow dispatch call.
const refreshThreshold = 2 * time.Minute

// RefreshFunc exchanges the current credential for a fresh one.
type RefreshFunc func(ctx context.Context) (string, error)

// TokenSource is the single credential provider for the submitting side.
// Every call site asks it for a valid token instead of re-implementing the
// expiry check.
type TokenSource struct {
	mu      sync.Mutex
	token   string
	expires time.Time
	refresh RefreshFunc
}

// NewTokenSource creates a token source seeded with an initial token, which
// may be empty when a refresh func is provided.
func NewTokenSource(initial string, refresh RefreshFunc) *TokenSource {
	ts := &TokenSource{refresh: refresh}
	if initial != "" {
		ts.token = initial
		ts.expires = tokenExpiry(initial)
	}
	return ts
}

// Token returns a credential valid for at least the refresh threshold,
// refreshing first when the current one is missing or about to expire.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.token != "" && (ts.expires.IsZero() || time.Until(ts.expires) > refreshThreshold) {
		return ts.token, nil
	}

	if ts.refresh == nil {
		if ts.token == "" {
			return "", fmt.Errorf("no credential available and no refresh configured")
		}
		// Expiring but not refreshable; let the server reject it if it must.
		return ts.token, nil
	}

	token, err := ts.refresh(ctx)
	if err != nil {
		return "", fmt.Errorf("credential refresh failed: %w", err)
	}

	ts.token = token
	ts.expires = tokenExpiry(token)
	return ts.token, nil
}

// Invalidate drops the cached credential so the next Token call refreshes.
// Called after an unexpected 401.
func (ts *TokenSource) Invalidate() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.token = ""
	ts.expires = time.Time{}
}

// tokenExpiry reads the exp claim without verifying the signature; the
// client only needs the timestamp, validation is the server's job.
func tokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
