package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"
)

// State is the session's position in the OAuth2 lifecycle.
type State int

const (
	// StateUnauthenticated means no tokens are held.
	StateUnauthenticated State = iota

	// StatePendingAuthorization means an authorization URL was issued and a
	// code is awaited.
	StatePendingAuthorization

	// StateAuthenticated means tokens are held. The access token may still
	// need a refresh before use.
	StateAuthenticated

	// StateRefreshing means a refresh call is in flight.
	StateRefreshing

	// StateExpired means the tokens can no longer be refreshed.
	StateExpired

	// StateFailed means the last authorization attempt failed.
	StateFailed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StatePendingAuthorization:
		return "pending_authorization"
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshing:
		return "refreshing"
	case StateExpired:
		return "expired"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status is a token-free snapshot of the session for display.
type Status struct {
	State           string    `json:"state"`
	UserID          string    `json:"user_id,omitempty"`
	Scope           string    `json:"scope,omitempty"`
	ExpiresAt       time.Time `json:"expires_at,omitempty"`
	HasAccessToken  bool      `json:"has_access_token"`
	HasRefreshToken bool      `json:"has_refresh_token"`

	// Error is the last failure, if the session is failed or expired.
	Error string `json:"error,omitempty"`

	// StoreError is the last failed token store write, if any.
	StoreError string `json:"store_error,omitempty"`
}

// stateBytes encodes to 43 base64url characters.
const stateBytes = 32

// generateState returns a random value for the OAuth state parameter.
func generateState() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
