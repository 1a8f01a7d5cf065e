package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"tsapi/pkg/tokenstore"
)

// testEnv is a config directory wired to fake token and API servers.
type testEnv struct {
	dir            string
	callbackDomain string

	tokenServer *httptest.Server
	apiServer   *httptest.Server

	mu       sync.Mutex
	grants   []string
	requests []*http.Request
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{dir: t.TempDir()}

	env.tokenServer = httptest.NewServer(http.HandlerFunc(env.handleToken))
	t.Cleanup(env.tokenServer.Close)
	env.apiServer = httptest.NewServer(http.HandlerFunc(env.handleAPI))
	t.Cleanup(env.apiServer.Close)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	env.callbackDomain = fmt.Sprintf("http://localhost:%d", l.Addr().(*net.TCPAddr).Port)
	require.NoError(t, l.Close())

	env.writeConfig(t, "")
	env.writeCredentials(t, env.callbackDomain)
	return env
}

func (e *testEnv) writeConfig(t *testing.T, extra string) {
	t.Helper()
	cfg := fmt.Sprintf(`tradingMode: paper
auth:
  authUrl: %s/authorize
  tokenUrl: %s/oauth/token
dispatch:
  baseUrl: %s/v3
  backoffMin: 1ms
  backoffMax: 2ms
%s`, e.tokenServer.URL, e.tokenServer.URL, e.apiServer.URL, extra)
	require.NoError(t, os.WriteFile(filepath.Join(e.dir, "config.yaml"), []byte(cfg), 0600))
}

func (e *testEnv) writeCredentials(t *testing.T, callbackDomain string) {
	t.Helper()
	creds := fmt.Sprintf(`{"client_key":"key-1","client_secret":"secret-1","call_back_domain":%q}`, callbackDomain)
	require.NoError(t, os.WriteFile(filepath.Join(e.dir, "credentials.json"), []byte(creds), 0600))
}

func (e *testEnv) tokenPath() string {
	return filepath.Join(e.dir, "tokens", "default.json")
}

// seedToken stores a session that expires after lifetime.
func (e *testEnv) seedToken(t *testing.T, access, refresh string, lifetime time.Duration) {
	t.Helper()
	store, err := tokenstore.NewFileStore(e.tokenPath())
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), tokenstore.TokenState{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    time.Now().Add(lifetime),
	}))
}

func (e *testEnv) storedToken(t *testing.T) tokenstore.TokenState {
	t.Helper()
	store, err := tokenstore.NewFileStore(e.tokenPath())
	require.NoError(t, err)
	state, err := store.Load(context.Background())
	require.NoError(t, err)
	return state
}

func (e *testEnv) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/oauth/token" || r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	grant := r.PostForm.Get("grant_type")
	e.mu.Lock()
	e.grants = append(e.grants, grant)
	e.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case grant == "authorization_code" && r.PostForm.Get("code") == "good-code":
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "at-1",
			"refresh_token": "rt-1",
			"token_type":    "Bearer",
			"expires_in":    1200,
			"scope":         "openid ReadAccount",
		})
	case grant == "refresh_token" && r.PostForm.Get("refresh_token") == "rt-1":
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "at-2",
			"token_type":   "Bearer",
			"expires_in":   1200,
		})
	default:
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}
}

func (e *testEnv) handleAPI(w http.ResponseWriter, r *http.Request) {
	e.mu.Lock()
	e.requests = append(e.requests, r.Clone(context.Background()))
	e.mu.Unlock()

	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer at-") {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == "/v3/brokerage/accounts":
		_, _ = w.Write([]byte(`{"Accounts":[{"AccountID":"11111111","AccountType":"Margin"}]}`))
	case strings.HasSuffix(r.URL.Path, "/balances"):
		_, _ = w.Write([]byte(`{"Balances":[{"AccountID":"11111111","CashBalance":"1000"}]}`))
	case strings.HasSuffix(r.URL.Path, "/positions"):
		_, _ = w.Write([]byte(`{"Positions":[]}`))
	default:
		http.NotFound(w, r)
	}
}

func (e *testEnv) grantTypes() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.grants...)
}

func (e *testEnv) apiRequests() []*http.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*http.Request(nil), e.requests...)
}

// run executes a fresh command tree against the environment's config dir.
func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return execute(t, append([]string{"--config-path", e.dir}, args...)...)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(""))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	if errOut.Len() > 0 {
		t.Logf("stderr: %s", errOut.String())
	}
	return out.String(), err
}

// stubBrowser replaces openBrowser with fn for the duration of the test.
func stubBrowser(t *testing.T, fn func(string) error) {
	t.Helper()
	orig := openBrowser
	openBrowser = fn
	t.Cleanup(func() { openBrowser = orig })
}

// stubPrompt replaces the redirect URL prompt for the duration of the test.
func stubPrompt(t *testing.T, fn func() (string, error)) {
	t.Helper()
	orig := promptRedirectURL
	promptRedirectURL = func(*cobra.Command) (string, error) { return fn() }
	t.Cleanup(func() { promptRedirectURL = orig })
}
