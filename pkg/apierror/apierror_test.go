package apierror

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestError_MessageNamesStep(t *testing.T) {
	err := New(KindCredentialsUnavailable, StepRefresh, errors.New("file missing"))
	assert.Equal(t, "token refresh failed: credentials_unavailable: file missing", err.Error())

	withStatus := WithStatus(KindRequestRejected, StepDispatch, 404, nil)
	assert.Equal(t, "request dispatch failed: request_rejected (status 404)", withStatus.Error())
}

func TestKindOf_ThroughWrapping(t *testing.T) {
	base := New(KindRateLimited, StepDispatch, nil)
	wrapped := fmt.Errorf("get accounts: %w", base)

	assert.Equal(t, KindRateLimited, KindOf(wrapped))
	assert.True(t, IsKind(wrapped, KindRateLimited))
	assert.False(t, IsKind(nil, KindRateLimited))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
}

func TestError_Is(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", New(KindTimeout, StepDispatch, context.DeadlineExceeded))

	assert.True(t, errors.Is(err, &Error{Kind: KindTimeout}))
	assert.True(t, errors.Is(err, &Error{Kind: KindTimeout, Step: StepDispatch}))
	assert.False(t, errors.Is(err, &Error{Kind: KindTimeout, Step: StepRefresh}))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestFromTransport(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"cancelled", context.Canceled, KindTimeout},
		{"net timeout", &url.Error{Op: "Get", URL: "http://x", Err: timeoutError{}}, KindTimeout},
		{"connection refused", &url.Error{Op: "Get", URL: "http://x", Err: errors.New("connection refused")}, KindTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FromTransport(StepDispatch, tt.err).Kind)
		})
	}
}

func TestKind_Transient(t *testing.T) {
	assert.True(t, KindTransport.Transient())
	assert.True(t, KindRateLimited.Transient())
	assert.True(t, KindTimeout.Transient())
	assert.False(t, KindReauthorizationRequired.Transient())
	assert.False(t, KindMalformedResponse.Transient())
}
