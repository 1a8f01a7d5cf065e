package config

import (
	"path/filepath"

	"tsapi/pkg/auth"
	"tsapi/pkg/credentials"
	"tsapi/pkg/dispatch"
)

const (
	// DefaultCredentialsFile is the credential file name inside the config directory.
	DefaultCredentialsFile = "credentials.json"

	// DefaultTokenDir holds one token file per user.
	DefaultTokenDir = "tokens"

	// DefaultAuditDir holds the daily audit logs.
	DefaultAuditDir = "logs"

	// DefaultUser names the token file when no user id is configured.
	DefaultUser = "default"
)

// Default returns the configuration used when config.yaml is absent.
func Default() Config {
	return Config{
		TradingMode: "paper",
		Credentials: CredentialsConfig{
			Source:    CredentialSourceFile,
			Path:      DefaultCredentialsFile,
			EnvPrefix: credentials.DefaultEnvPrefix,
		},
		TokenStore: TokenStoreConfig{
			Backend: TokenBackendFile,
			Table:   "tsapi_tokens",
		},
		Audit: AuditConfig{
			Dir: DefaultAuditDir,
		},
		Auth: AuthConfig{
			AuthURL:        auth.DefaultAuthURL,
			TokenURL:       auth.DefaultTokenURL,
			Audience:       auth.DefaultAudience,
			Scopes:         append([]string(nil), auth.DefaultScopes...),
			SafetyMargin:   auth.DefaultSafetyMargin,
			RefreshTimeout: auth.DefaultRefreshTimeout,
		},
		Dispatch: DispatchConfig{
			MaxAttempts: dispatch.DefaultMaxAttempts,
			Timeout:     dispatch.DefaultAttemptTimeout,
			BackoffMin:  dispatch.DefaultBackoffMin,
			BackoffMax:  dispatch.DefaultBackoffMax,
			Concurrency: dispatch.DefaultConcurrency,
		},
	}
}

// defaultTokenPath is relative to the config directory.
func defaultTokenPath(userID string) string {
	if userID == "" {
		userID = DefaultUser
	}
	return filepath.Join(DefaultTokenDir, userID+".json")
}
