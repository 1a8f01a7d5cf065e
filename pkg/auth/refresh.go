package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"

	"tsapi/pkg/apierror"
	"tsapi/pkg/logging"
)

// refreshMode selects when a refresh may be skipped.
type refreshMode struct {
	// force refreshes even when the current token is valid.
	force bool

	// rejected is an access token the API refused. The refresh is skipped
	// when the current token is valid and differs from it.
	rejected string
}

// ErrNotAuthenticated is wrapped by ReauthorizationRequired errors raised
// because no usable session exists.
var ErrNotAuthenticated = errors.New("not authenticated")

// EnsureValid makes sure the access token is usable beyond the safety
// margin, refreshing it if needed. It performs no I/O while the token is
// valid.
func (s *Session) EnsureValid(ctx context.Context) error {
	s.mu.RLock()
	state, tok := s.state, s.token
	s.mu.RUnlock()

	switch state {
	case StateAuthenticated:
		if tok.Valid(s.cfg.SafetyMargin, s.cfg.Now()) {
			return nil
		}
	case StateRefreshing:
		// Join the refresh in flight.
	default:
		return apierror.New(apierror.KindReauthorizationRequired, apierror.StepValidate,
			fmt.Errorf("%w: session is %s", ErrNotAuthenticated, state))
	}

	return s.refresh(ctx, refreshMode{})
}

// Refresh refreshes the access token regardless of its expiry.
func (s *Session) Refresh(ctx context.Context) error {
	return s.refresh(ctx, refreshMode{force: true})
}

// RefreshIfCurrent refreshes unless the rejected access token has already
// been replaced by a valid one, so callers that hit the same 401 trigger one
// refresh between them.
func (s *Session) RefreshIfCurrent(ctx context.Context, rejected string) error {
	return s.refresh(ctx, refreshMode{rejected: rejected})
}

func (s *Session) refresh(ctx context.Context, mode refreshMode) error {
	ch := s.refreshGroup.DoChan(refreshKey, func() (interface{}, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.RefreshTimeout)
		defer cancel()
		return nil, s.doRefresh(rctx, mode)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return apierror.New(apierror.KindTimeout, apierror.StepRefresh, ctx.Err())
	}
}

// doRefresh runs at most once at a time per session.
func (s *Session) doRefresh(ctx context.Context, mode refreshMode) error {
	s.mu.Lock()
	prev, tok, gen := s.state, s.token, s.generation

	if prev != StateAuthenticated {
		s.mu.Unlock()
		return apierror.New(apierror.KindReauthorizationRequired, apierror.StepRefresh,
			fmt.Errorf("%w: session is %s", ErrNotAuthenticated, prev))
	}
	if !mode.force && tok.Valid(s.cfg.SafetyMargin, s.cfg.Now()) &&
		(mode.rejected == "" || mode.rejected != tok.AccessToken) {
		s.mu.Unlock()
		return nil
	}
	if !tok.HasRefreshToken() {
		cause := errors.New("no refresh token available")
		s.setStateLocked(StateExpired, cause)
		s.mu.Unlock()
		return apierror.New(apierror.KindReauthorizationRequired, apierror.StepRefresh, cause)
	}
	s.setStateLocked(StateRefreshing, nil)
	s.mu.Unlock()

	creds, err := s.source.Credentials(ctx)
	if err != nil {
		s.restore(gen, prev)
		return apierror.New(apierror.KindCredentialsUnavailable, apierror.StepCredentials, err)
	}

	// An expired token forces the token source to hit the endpoint.
	src := s.oauthConfig(creds).TokenSource(s.httpContext(ctx), &oauth2.Token{RefreshToken: tok.RefreshToken})
	fresh, err := src.Token()
	if err != nil {
		return s.refreshFailed(gen, prev, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return apierror.New(apierror.KindReauthorizationRequired, apierror.StepRefresh,
			fmt.Errorf("%w: session was logged out during refresh", ErrNotAuthenticated))
	}
	s.token = s.tokenState(fresh, tok)
	s.setStateLocked(StateAuthenticated, nil)
	s.persistLocked(ctx)

	logging.Debug("Auth", "Access token refreshed (expires_at=%s)", s.token.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"))
	return nil
}

// restore puts the session back into prev after a transient failure, unless
// it was logged out in the meantime.
func (s *Session) restore(gen uint64, prev State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation == gen {
		s.setStateLocked(prev, nil)
	}
}

// refreshFailed classifies a token endpoint failure. A 4xx rejection means
// the refresh token is no longer usable; anything else is transient and the
// previous state is kept.
func (s *Session) refreshFailed(gen uint64, prev State, err error) error {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		status := retrieveStatus(err)
		switch {
		case status == http.StatusTooManyRequests:
			s.restore(gen, prev)
			return apierror.WithStatus(apierror.KindRateLimited, apierror.StepRefresh, status, err)
		case status >= 500:
			s.restore(gen, prev)
			return apierror.WithStatus(apierror.KindTransport, apierror.StepRefresh, status, err)
		case status >= 400:
			s.mu.Lock()
			if s.generation == gen {
				s.setStateLocked(StateExpired, err)
			}
			s.mu.Unlock()
			logging.Warn("Auth", "Refresh token rejected (status %d), reauthorization required", status)
			return apierror.WithStatus(apierror.KindReauthorizationRequired, apierror.StepRefresh, status, err)
		}
		s.restore(gen, prev)
		return apierror.WithStatus(apierror.KindMalformedResponse, apierror.StepRefresh, status, err)
	}

	s.restore(gen, prev)

	if apierror.IsTimeout(err) {
		return apierror.New(apierror.KindTimeout, apierror.StepRefresh, err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return apierror.New(apierror.KindTransport, apierror.StepRefresh, err)
	}
	// Decode failures and responses without an access token.
	return apierror.New(apierror.KindMalformedResponse, apierror.StepRefresh, err)
}
