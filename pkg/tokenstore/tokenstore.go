// Package tokenstore persists the session's token state across process
// restarts. The session owns the in-memory state and writes through to a
// Store on every change; a Store never interprets the tokens it holds.
package tokenstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrNotFound is returned by Load when no prior session has been saved.
// It signals a fresh start, not a failure.
var ErrNotFound = errors.New("token state not found")

// TokenState is the persisted OAuth token state of one session.
type TokenState struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scope        string    `json:"scope"`
	UserID       string    `json:"user_id"`
}

// Valid reports whether the access token is usable for at least margin past now.
func (t TokenState) Valid(margin time.Duration, now time.Time) bool {
	if t.AccessToken == "" {
		return false
	}
	return now.Add(margin).Before(t.ExpiresAt)
}

// HasRefreshToken reports whether a refresh can be attempted.
func (t TokenState) HasRefreshToken() bool {
	return t.RefreshToken != ""
}

// IsZero reports whether the state holds no tokens at all.
func (t TokenState) IsZero() bool {
	return t.AccessToken == "" && t.RefreshToken == ""
}

// Equal compares two states, treating timestamps as instants.
func (t TokenState) Equal(other TokenState) bool {
	return t.AccessToken == other.AccessToken &&
		t.RefreshToken == other.RefreshToken &&
		t.ExpiresAt.Equal(other.ExpiresAt) &&
		t.Scope == other.Scope &&
		t.UserID == other.UserID
}

type tokenStateJSON struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	ExpiresAt    json.RawMessage `json:"expires_at,omitempty"`
	Scope        string          `json:"scope"`
	UserID       string          `json:"user_id"`
}

// MarshalJSON writes expires_at as an RFC 3339 timestamp in UTC.
func (t TokenState) MarshalJSON() ([]byte, error) {
	out := tokenStateJSON{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		Scope:        t.Scope,
		UserID:       t.UserID,
	}
	if !t.ExpiresAt.IsZero() {
		out.ExpiresAt = json.RawMessage(strconv.Quote(t.ExpiresAt.UTC().Format(time.RFC3339Nano)))
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts expires_at as an RFC 3339 string or as epoch seconds.
func (t *TokenState) UnmarshalJSON(data []byte) error {
	var in tokenStateJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	expiresAt, err := parseExpiresAt(in.ExpiresAt)
	if err != nil {
		return err
	}

	*t = TokenState{
		AccessToken:  in.AccessToken,
		RefreshToken: in.RefreshToken,
		ExpiresAt:    expiresAt,
		Scope:        in.Scope,
		UserID:       in.UserID,
	}
	return nil
}

func parseExpiresAt(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, fmt.Errorf("invalid expires_at: %w", err)
		}
		if s == "" {
			return time.Time{}, nil
		}
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts, nil
		}
		// Numeric strings are epoch seconds.
		secs, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid expires_at %q: expected RFC 3339 or epoch seconds", s)
		}
		return epoch(secs), nil
	}

	var secs float64
	if err := json.Unmarshal(raw, &secs); err != nil {
		return time.Time{}, fmt.Errorf("invalid expires_at: %w", err)
	}
	if secs == 0 {
		return time.Time{}, nil
	}
	return epoch(secs), nil
}

func epoch(secs float64) time.Time {
	whole := int64(secs)
	frac := int64((secs - float64(whole)) * float64(time.Second))
	return time.Unix(whole, frac).UTC()
}

// Store persists and retrieves token state.
//
// Save must be atomic: a failure part way through must leave either the old
// or the new state readable, never a mix.
type Store interface {
	Load(ctx context.Context) (TokenState, error)
	Save(ctx context.Context, state TokenState) error
	Clear(ctx context.Context) error
}
