// Package apierror defines the error taxonomy shared by the session and the
// dispatcher. Every failure that crosses the library boundary is an *Error
// carrying exactly one Kind.
package apierror

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind classifies a failure by how the caller is expected to recover.
type Kind int

const (
	KindUnknown Kind = iota

	// KindCredentialsUnavailable means the credential source could not supply credentials.
	KindCredentialsUnavailable

	// KindAuthorizationSetup means the authorization request could not be built.
	KindAuthorizationSetup

	// KindTokenExchangeFailed means the authorization code was rejected or the exchange failed.
	KindTokenExchangeFailed

	// KindReauthorizationRequired means the session cannot be recovered without a new login.
	KindReauthorizationRequired

	// KindTransport covers connection, DNS and 5xx failures.
	KindTransport

	// KindRateLimited means the API throttled the request.
	KindRateLimited

	// KindTimeout means a call exceeded its deadline or was cancelled.
	KindTimeout

	// KindMalformedResponse means a response body did not match the expected shape.
	KindMalformedResponse

	// KindRequestRejected covers non-retryable 4xx responses other than 401 and 429.
	KindRequestRejected
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindCredentialsUnavailable:
		return "credentials_unavailable"
	case KindAuthorizationSetup:
		return "authorization_setup_error"
	case KindTokenExchangeFailed:
		return "token_exchange_failed"
	case KindReauthorizationRequired:
		return "reauthorization_required"
	case KindTransport:
		return "transport_error"
	case KindRateLimited:
		return "rate_limited"
	case KindTimeout:
		return "timeout"
	case KindMalformedResponse:
		return "malformed_response"
	case KindRequestRejected:
		return "request_rejected"
	default:
		return "unknown"
	}
}

// Transient reports whether the kind may succeed when retried unchanged.
func (k Kind) Transient() bool {
	return k == KindTransport || k == KindRateLimited || k == KindTimeout
}

// Step names the stage of the flow that failed, so operators can tell a
// broken secret file from an expired browser login.
type Step string

const (
	StepCredentials Step = "credential supply"
	StepAuthorize   Step = "authorization"
	StepExchange    Step = "code exchange"
	StepRefresh     Step = "token refresh"
	StepValidate    Step = "token validation"
	StepDispatch    Step = "request dispatch"
)

// Error is the single error type returned across the library boundary.
type Error struct {
	Kind Kind
	Step Step

	// Status is the HTTP status code when the failure came from a response.
	Status int

	Err error
}

// New creates an Error of the given kind for a step.
func New(kind Kind, step Step, err error) *Error {
	return &Error{Kind: kind, Step: step, Err: err}
}

// WithStatus creates an Error that carries an HTTP status code.
func WithStatus(kind Kind, step Step, status int, err error) *Error {
	return &Error{Kind: kind, Step: step, Status: status, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Step != "" {
		b.WriteString(string(e.Step))
		b.WriteString(" failed: ")
	}
	b.WriteString(e.Kind.String())
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind, so errors.Is(err, &Error{Kind: k}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Step == "" || t.Step == e.Step)
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// FromTransport classifies an error returned by an HTTP round trip.
// Deadline and cancellation errors become KindTimeout; anything else is
// KindTransport.
func FromTransport(step Step, err error) *Error {
	if IsTimeout(err) {
		return New(KindTimeout, step, err)
	}
	return New(KindTransport, step, err)
}

// IsTimeout reports whether err is a deadline, cancellation or network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
