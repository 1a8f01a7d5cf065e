package cmd

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tsapi/pkg/apierror"
)

func TestSetVersion(t *testing.T) {
	original := rootCmd.Version
	defer func() { rootCmd.Version = original }()

	SetVersion("1.2.3-test")
	assert.Equal(t, "1.2.3-test", rootCmd.Version)
	assert.Equal(t, "1.2.3-test", GetVersion())
}

func TestRootCommand(t *testing.T) {
	root := newRootCmd()
	assert.Equal(t, "tsapi", root.Use)
	assert.NotEmpty(t, root.Short)
	assert.NotEmpty(t, root.Long)
	assert.True(t, root.SilenceUsage)

	for _, name := range []string{"config-path", "user-id", "live", "log-level"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(name), "missing flag --%s", name)
	}
}

func TestSubcommands(t *testing.T) {
	root := newRootCmd()

	found := map[string]bool{}
	for _, c := range root.Commands() {
		found[c.Name()] = true
	}
	for _, name := range []string{"auth", "get", "version"} {
		assert.True(t, found[name], "expected subcommand %s", name)
	}

	for _, path := range [][]string{
		{"auth", "login"},
		{"auth", "status"},
		{"auth", "refresh"},
		{"auth", "logout"},
		{"get", "accounts"},
		{"get", "balances"},
		{"get", "positions"},
	} {
		c, _, err := root.Find(path)
		require.NoError(t, err)
		assert.Equal(t, path[len(path)-1], c.Name())
	}
}

func TestRootCommandHelp(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "tsapi")
	assert.Contains(t, out, "OAuth2 session")
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitCodeSuccess},
		{"plain", errors.New("boom"), ExitCodeError},
		{"reauthorization", apierror.New(apierror.KindReauthorizationRequired, apierror.StepValidate, nil), ExitCodeAuthRequired},
		{"wrapped reauthorization", fmt.Errorf("get: %w", apierror.New(apierror.KindReauthorizationRequired, apierror.StepDispatch, nil)), ExitCodeAuthRequired},
		{"credentials", apierror.New(apierror.KindCredentialsUnavailable, apierror.StepCredentials, nil), ExitCodeAuthFailed},
		{"setup", apierror.New(apierror.KindAuthorizationSetup, apierror.StepAuthorize, nil), ExitCodeAuthFailed},
		{"exchange", apierror.New(apierror.KindTokenExchangeFailed, apierror.StepExchange, nil), ExitCodeAuthFailed},
		{"transport", apierror.New(apierror.KindTransport, apierror.StepDispatch, nil), ExitCodeError},
		{"rate limited", apierror.New(apierror.KindRateLimited, apierror.StepDispatch, nil), ExitCodeError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, getExitCode(tt.err))
		})
	}
}

func TestFormatExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, "unknown", formatExpiry(time.Time{}, now))
	assert.Contains(t, formatExpiry(now.Add(90*time.Second), now), "(in 1m30s)")
	assert.Contains(t, formatExpiry(now.Add(-time.Minute), now), "(1m0s ago)")
}
