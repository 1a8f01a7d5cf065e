package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"tsapi/pkg/apierror"
	"tsapi/pkg/credentials"
	"tsapi/pkg/logging"
	"tsapi/pkg/tokenstore"
)

const refreshKey = "refresh"

// Session is the OAuth2 state machine for one user.
type Session struct {
	cfg    Config
	source credentials.Source
	store  tokenstore.Store
	client *http.Client

	mu      sync.RWMutex
	state   State
	token   tokenstore.TokenState
	pending string // state parameter of the outstanding authorization
	lastErr error

	// exchanging is set while an authorization code is being redeemed.
	exchanging bool

	// storeErr is the last failed write to the token store, cleared by the
	// next successful one.
	storeErr error

	// generation changes on Logout and BeginAuthorization so an in-flight
	// refresh or code exchange cannot resurrect a discarded session.
	generation uint64

	refreshGroup singleflight.Group
}

// NewSession creates a session and restores any previously persisted token
// state from store.
func NewSession(ctx context.Context, cfg Config, source credentials.Source, store tokenstore.Store) (*Session, error) {
	if source == nil {
		return nil, errors.New("credential source is required")
	}
	if store == nil {
		return nil, errors.New("token store is required")
	}

	cfg = cfg.withDefaults()
	s := &Session{
		cfg:    cfg,
		source: source,
		store:  store,
		client: wrapHTTPClient(cfg.HTTPClient, cfg.Recorder),
		state:  StateUnauthenticated,
	}

	tok, err := store.Load(ctx)
	switch {
	case errors.Is(err, tokenstore.ErrNotFound):
		logging.Debug("Auth", "No persisted session found, starting unauthenticated")
	case err != nil:
		logging.Warn("Auth", "Failed to load persisted session, starting unauthenticated: %v", err)
	case tok.AccessToken == "" && tok.RefreshToken == "":
		logging.Debug("Auth", "Persisted session holds no tokens, starting unauthenticated")
	case !tok.HasRefreshToken() && !tok.Valid(cfg.SafetyMargin, cfg.Now()):
		s.token = tok
		s.state = StateExpired
		logging.Info("Auth", "Persisted session expired and has no refresh token")
	default:
		s.token = tok
		s.state = StateAuthenticated
		logging.Debug("Auth", "Restored persisted session (expires_at=%s, refreshable=%t)",
			tok.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"), tok.HasRefreshToken())
	}

	return s, nil
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Token returns a copy of the current token state.
func (s *Session) Token() tokenstore.TokenState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// AccessToken returns the current access token.
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token.AccessToken
}

// Status returns a token-free snapshot of the session.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{
		State:           s.state.String(),
		UserID:          s.token.UserID,
		Scope:           s.token.Scope,
		ExpiresAt:       s.token.ExpiresAt,
		HasAccessToken:  s.token.AccessToken != "",
		HasRefreshToken: s.token.HasRefreshToken(),
	}
	if s.lastErr != nil && (s.state == StateFailed || s.state == StateExpired) {
		st.Error = s.lastErr.Error()
	}
	if s.storeErr != nil {
		st.StoreError = s.storeErr.Error()
	}
	return st
}

// setStateLocked must be called with s.mu held for writing.
func (s *Session) setStateLocked(next State, cause error) {
	if s.state != next {
		logging.Debug("Auth", "Session state %s -> %s", s.state, next)
	}
	s.state = next
	s.lastErr = cause
}

func (s *Session) oauthConfig(creds credentials.Credentials) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     creds.ClientKey,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  creds.CallbackDomain,
		Scopes:       s.cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  s.cfg.Endpoints.AuthURL,
			TokenURL: s.cfg.Endpoints.TokenURL,
			// Credentials travel in the form body so each token call is
			// exactly one HTTP exchange.
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func (s *Session) httpContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, s.client)
}

// BeginAuthorization starts the authorization code flow and returns the URL
// the user must visit. It is rejected while the session is authenticated.
func (s *Session) BeginAuthorization(ctx context.Context) (string, error) {
	if st := s.State(); st == StateAuthenticated || st == StateRefreshing {
		return "", apierror.New(apierror.KindAuthorizationSetup, apierror.StepAuthorize,
			fmt.Errorf("session is already %s; log out first", st))
	}

	creds, err := s.source.Credentials(ctx)
	if err != nil {
		return "", apierror.New(apierror.KindAuthorizationSetup, apierror.StepCredentials, err)
	}
	if err := creds.Validate(); err != nil {
		return "", apierror.New(apierror.KindAuthorizationSetup, apierror.StepCredentials, err)
	}
	if _, err := url.Parse(s.cfg.Endpoints.AuthURL); err != nil {
		return "", apierror.New(apierror.KindAuthorizationSetup, apierror.StepAuthorize,
			fmt.Errorf("invalid authorization endpoint: %w", err))
	}

	state, err := generateState()
	if err != nil {
		return "", apierror.New(apierror.KindAuthorizationSetup, apierror.StepAuthorize, err)
	}

	authURL := s.oauthConfig(creds).AuthCodeURL(state,
		oauth2.SetAuthURLParam("audience", s.cfg.Endpoints.Audience))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateAuthenticated || s.state == StateRefreshing {
		return "", apierror.New(apierror.KindAuthorizationSetup, apierror.StepAuthorize,
			fmt.Errorf("session became %s during setup", s.state))
	}
	s.pending = state
	s.exchanging = false
	s.generation++
	s.setStateLocked(StatePendingAuthorization, nil)

	logging.Info("Auth", "Authorization started for client %s", creds.ClientKey)
	return authURL, nil
}

// CompleteAuthorization finishes the flow from the URL the provider
// redirected the browser to. The state parameter must match the one issued
// by BeginAuthorization.
func (s *Session) CompleteAuthorization(ctx context.Context, redirectURL string) error {
	u, err := url.Parse(strings.TrimSpace(redirectURL))
	if err != nil {
		return apierror.New(apierror.KindTokenExchangeFailed, apierror.StepExchange,
			fmt.Errorf("invalid redirect URL: %w", err))
	}
	q := u.Query()

	s.mu.Lock()
	if s.state != StatePendingAuthorization {
		st := s.state
		s.mu.Unlock()
		return apierror.New(apierror.KindTokenExchangeFailed, apierror.StepExchange,
			fmt.Errorf("no authorization in progress (session is %s)", st))
	}
	expected := s.pending

	if e := q.Get("error"); e != "" {
		cause := fmt.Errorf("provider returned %s", e)
		if desc := q.Get("error_description"); desc != "" {
			cause = fmt.Errorf("provider returned %s: %s", e, desc)
		}
		s.setStateLocked(StateFailed, cause)
		s.mu.Unlock()
		return apierror.New(apierror.KindTokenExchangeFailed, apierror.StepAuthorize, cause)
	}
	if q.Get("state") != expected {
		cause := errors.New("state parameter mismatch")
		s.setStateLocked(StateFailed, cause)
		s.mu.Unlock()
		return apierror.New(apierror.KindTokenExchangeFailed, apierror.StepAuthorize, cause)
	}
	s.mu.Unlock()

	code := q.Get("code")
	if code == "" {
		return apierror.New(apierror.KindTokenExchangeFailed, apierror.StepExchange,
			errors.New("redirect URL carries no authorization code"))
	}
	return s.ExchangeCode(ctx, code)
}

// ExchangeCode trades an authorization code for tokens and persists them.
// Any failure other than a timeout leaves the session Failed. Only one
// exchange runs per authorization, and a Logout or a new authorization
// issued meanwhile discards its result.
func (s *Session) ExchangeCode(ctx context.Context, code string) error {
	s.mu.Lock()
	if s.state != StatePendingAuthorization {
		st := s.state
		s.mu.Unlock()
		return apierror.New(apierror.KindTokenExchangeFailed, apierror.StepExchange,
			fmt.Errorf("no authorization in progress (session is %s)", st))
	}
	if s.exchanging {
		s.mu.Unlock()
		return apierror.New(apierror.KindTokenExchangeFailed, apierror.StepExchange,
			errors.New("authorization code exchange already in progress"))
	}
	s.exchanging = true
	gen := s.generation
	s.mu.Unlock()

	creds, err := s.source.Credentials(ctx)
	if err != nil {
		s.fail(gen, err)
		return apierror.New(apierror.KindCredentialsUnavailable, apierror.StepCredentials, err)
	}

	tok, err := s.oauthConfig(creds).Exchange(s.httpContext(ctx), code)
	if err != nil {
		// A timeout is transient: the code may still be redeemable.
		if apierror.IsTimeout(err) {
			s.mu.Lock()
			if s.generation == gen {
				s.exchanging = false
			}
			s.mu.Unlock()
			return apierror.New(apierror.KindTimeout, apierror.StepExchange, err)
		}
		s.fail(gen, err)
		return apierror.WithStatus(apierror.KindTokenExchangeFailed, apierror.StepExchange, retrieveStatus(err), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return apierror.New(apierror.KindTokenExchangeFailed, apierror.StepExchange,
			errors.New("authorization was cancelled during the code exchange"))
	}
	s.exchanging = false
	s.token = s.tokenState(tok, tokenstore.TokenState{})
	s.pending = ""
	s.setStateLocked(StateAuthenticated, nil)
	s.persistLocked(ctx)

	logging.Info("Auth", "Authorization code exchanged, session authenticated")
	return nil
}

// fail marks the exchange started at gen as failed, unless the session
// moved on since.
func (s *Session) fail(gen uint64, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return
	}
	s.pending = ""
	s.exchanging = false
	s.setStateLocked(StateFailed, cause)
}

// persistLocked writes the token state through to the store. The caller
// holds s.mu for writing. A failed save keeps the in-memory state and is
// reported by Status until a later write succeeds.
func (s *Session) persistLocked(ctx context.Context) {
	if err := s.store.Save(context.WithoutCancel(ctx), s.token); err != nil {
		logging.Error("Auth", err, "Failed to persist token state")
		s.storeErr = err
		return
	}
	s.storeErr = nil
}

// tokenState converts a token endpoint response, filling gaps from prev.
func (s *Session) tokenState(tok *oauth2.Token, prev tokenstore.TokenState) tokenstore.TokenState {
	st := tokenstore.TokenState{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
		Scope:        prev.Scope,
		UserID:       prev.UserID,
	}
	if st.ExpiresAt.IsZero() {
		st.ExpiresAt = s.cfg.Now().Add(s.cfg.TokenLifetime)
	}
	if st.RefreshToken == "" {
		st.RefreshToken = prev.RefreshToken
	}
	if scope, ok := tok.Extra("scope").(string); ok && scope != "" {
		st.Scope = scope
	}
	if st.Scope == "" {
		st.Scope = s.cfg.scope()
	}
	if s.cfg.UserID != "" {
		st.UserID = s.cfg.UserID
	}
	return st
}

// Logout discards the tokens and clears the store.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	s.token = tokenstore.TokenState{}
	s.pending = ""
	s.exchanging = false
	s.setStateLocked(StateUnauthenticated, nil)

	if err := s.store.Clear(context.WithoutCancel(ctx)); err != nil {
		s.storeErr = err
		return fmt.Errorf("failed to clear token store: %w", err)
	}
	s.storeErr = nil
	logging.Info("Auth", "Session logged out")
	return nil
}

func retrieveStatus(err error) int {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) && rErr.Response != nil {
		return rErr.Response.StatusCode
	}
	return 0
}
