package config

import "time"

// Credential source kinds.
const (
	CredentialSourceFile = "file"
	CredentialSourceEnv  = "env"
)

// Token store backends.
const (
	TokenBackendFile     = "file"
	TokenBackendPostgres = "postgres"
	TokenBackendMemory   = "memory"
)

// Config is the top-level configuration structure for tsapi.
type Config struct {
	TradingMode string `yaml:"tradingMode"`
	UserID      string `yaml:"userId,omitempty"`

	Credentials CredentialsConfig `yaml:"credentials"`
	TokenStore  TokenStoreConfig  `yaml:"tokenStore"`
	Audit       AuditConfig       `yaml:"audit"`
	Auth        AuthConfig        `yaml:"auth"`
	Dispatch    DispatchConfig    `yaml:"dispatch"`

	// Dir is the directory the configuration was loaded from.
	Dir string `yaml:"-"`
}

// CredentialsConfig selects where application credentials come from.
type CredentialsConfig struct {
	Source    string   `yaml:"source"`              // file or env (default: file)
	Path      string   `yaml:"path,omitempty"`      // JSON credential file (default: credentials.json)
	EnvPrefix string   `yaml:"envPrefix,omitempty"` // Environment variable prefix (default: TS_)
	EnvFiles  []string `yaml:"envFiles,omitempty"`  // dotenv files read before the environment
	Watch     bool     `yaml:"watch,omitempty"`     // Reload the credential file when it changes
}

// TokenStoreConfig selects where sessions are persisted.
type TokenStoreConfig struct {
	Backend string `yaml:"backend"`         // file, postgres or memory (default: file)
	Path    string `yaml:"path,omitempty"`  // Token file, file backend (default: tokens/<user>.json)
	DSN     string `yaml:"dsn,omitempty"`   // Connection string, postgres backend
	Table   string `yaml:"table,omitempty"` // Table name, postgres backend (default: tsapi_tokens)
}

// AuditConfig configures the daily CSV audit log.
type AuditConfig struct {
	Dir      string `yaml:"dir,omitempty"` // Log directory (default: logs)
	Disabled bool   `yaml:"disabled,omitempty"`
}

// AuthConfig overrides OAuth settings.
type AuthConfig struct {
	AuthURL        string        `yaml:"authUrl,omitempty"`
	TokenURL       string        `yaml:"tokenUrl,omitempty"`
	Audience       string        `yaml:"audience,omitempty"`
	Scopes         []string      `yaml:"scopes,omitempty"`
	SafetyMargin   time.Duration `yaml:"safetyMargin,omitempty"`
	RefreshTimeout time.Duration `yaml:"refreshTimeout,omitempty"`
}

// DispatchConfig tunes API request retries.
type DispatchConfig struct {
	BaseURL     string        `yaml:"baseUrl,omitempty"` // API root override (default: per trading mode)
	MaxAttempts int           `yaml:"maxAttempts,omitempty"`
	Timeout     time.Duration `yaml:"timeout,omitempty"`
	BackoffMin  time.Duration `yaml:"backoffMin,omitempty"`
	BackoffMax  time.Duration `yaml:"backoffMax,omitempty"`
	Concurrency int           `yaml:"concurrency,omitempty"`
}
