package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

func TestCredentials_Validate(t *testing.T) {
	tests := []struct {
		name    string
		creds   Credentials
		wantErr string
	}{
		{
			name:  "valid",
			creds: Credentials{ClientKey: "K", ClientSecret: "S", CallbackDomain: "http://localhost:3000"},
		},
		{
			name:    "missing fields",
			creds:   Credentials{ClientKey: "K"},
			wantErr: "missing required fields: client_secret, call_back_domain",
		},
		{
			name:    "relative callback",
			creds:   Credentials{ClientKey: "K", ClientSecret: "S", CallbackDomain: "localhost"},
			wantErr: "not an absolute URL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.creds.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrUnavailable))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCredentials_StringRedactsSecret(t *testing.T) {
	creds := Credentials{ClientKey: "K", ClientSecret: "super-secret", CallbackDomain: "http://localhost"}
	assert.NotContains(t, creds.String(), "super-secret")
	assert.NotContains(t, fmt.Sprintf("%v %#v", creds, creds), "super-secret")
}

func TestStatic(t *testing.T) {
	creds := Credentials{ClientKey: "K", ClientSecret: "S", CallbackDomain: "http://localhost:3000"}
	got, err := Static(creds).Credentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, creds, got)

	_, err = Static(Credentials{}).Credentials(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.json")

	t.Run("missing file", func(t *testing.T) {
		_, err := NewFileSource(path).Credentials(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnavailable)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("invalid json", func(t *testing.T) {
		writeFile(t, path, "{not json")
		_, err := NewFileSource(path).Credentials(context.Background())
		assert.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("missing field", func(t *testing.T) {
		writeFile(t, path, `{"client_key":"K","client_secret":"S"}`)
		_, err := NewFileSource(path).Credentials(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "call_back_domain")
	})

	t.Run("valid file is cached until invalidated", func(t *testing.T) {
		writeFile(t, path, `{"client_key":"K","client_secret":"S","call_back_domain":"http://localhost:3000"}`)
		src := NewFileSource(path)

		creds, err := src.Credentials(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "K", creds.ClientKey)

		writeFile(t, path, `{"client_key":"K2","client_secret":"S2","call_back_domain":"http://localhost:3000"}`)
		creds, err = src.Credentials(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "K", creds.ClientKey, "expected cached value")

		src.Invalidate()
		creds, err = src.Credentials(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "K2", creds.ClientKey)
	})
}

func TestFileSource_WatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.json")
	writeFile(t, path, `{"client_key":"K1","client_secret":"S","call_back_domain":"http://localhost:3000"}`)

	src := NewFileSource(path)
	_, err := src.Credentials(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, `{"client_key":"K2","client_secret":"S","call_back_domain":"http://localhost:3000"}`)

	assert.Eventually(t, func() bool {
		creds, err := src.Credentials(context.Background())
		return err == nil && creds.ClientKey == "K2"
	}, 3*time.Second, 50*time.Millisecond)
}

func TestEnvSource(t *testing.T) {
	t.Run("process environment", func(t *testing.T) {
		t.Setenv("TSX_CLIENT_KEY", "K")
		t.Setenv("TSX_CLIENT_SECRET", "S")
		t.Setenv("TSX_CALLBACK_DOMAIN", "http://localhost:3000")

		creds, err := NewEnvSource("TSX_").Credentials(context.Background())
		require.NoError(t, err)
		assert.Equal(t, Credentials{ClientKey: "K", ClientSecret: "S", CallbackDomain: "http://localhost:3000"}, creds)
	})

	t.Run("dotenv file with env override", func(t *testing.T) {
		dir := t.TempDir()
		envFile := filepath.Join(dir, ".env")
		writeFile(t, envFile, "TSY_CLIENT_KEY=file-key\nTSY_CLIENT_SECRET=file-secret\nTSY_CALLBACK_DOMAIN=http://localhost:3000\n")
		t.Setenv("TSY_CLIENT_KEY", "env-key")

		creds, err := NewEnvSource("TSY_", envFile).Credentials(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "env-key", creds.ClientKey)
		assert.Equal(t, "file-secret", creds.ClientSecret)
	})

	t.Run("missing values", func(t *testing.T) {
		_, err := NewEnvSource("TSZ_NOT_SET_").Credentials(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("missing dotenv file", func(t *testing.T) {
		_, err := NewEnvSource("TSW_", filepath.Join(t.TempDir(), "nope.env")).Credentials(context.Background())
		assert.ErrorIs(t, err, ErrUnavailable)
	})
}

func TestSourceFunc(t *testing.T) {
	calls := 0
	src := SourceFunc(func(context.Context) (Credentials, error) {
		calls++
		return Credentials{ClientKey: "vault"}, nil
	})

	creds, err := src.Credentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "vault", creds.ClientKey)
	assert.Equal(t, 1, calls)
}
