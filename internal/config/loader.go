package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"tsapi/pkg/logging"
)

const (
	userConfigDir  = ".config/tsapi"
	configFileName = "config.yaml"
)

// osUserHomeDir is swapped in tests.
var osUserHomeDir = os.UserHomeDir

// DefaultConfigPath returns ~/.config/tsapi.
func DefaultConfigPath() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir), nil
}

// Load reads config.yaml from configDir over the defaults. A missing file is
// not an error. Unknown keys are rejected so typos don't silently fall back
// to defaults.
func Load(configDir string) (Config, error) {
	cfg := Default()
	cfg.Dir = configDir

	path := filepath.Join(configDir, configFileName)
	// #nosec G304 -- path is the user's own configuration directory
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Debug("ConfigLoader", "No config.yaml found at %s, using defaults", path)
			return cfg, nil
		}
		return Config{}, fmt.Errorf("error reading config from %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("error loading config from %s: %w", path, err)
	}
	cfg.Dir = configDir
	cfg.TokenStore.DSN = os.ExpandEnv(cfg.TokenStore.DSN)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}

	logging.Debug("ConfigLoader", "Loaded configuration from %s", path)
	return cfg, nil
}

// resolve makes p absolute relative to the config directory.
func (c Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Dir, p)
}

// CredentialsPath returns the absolute credential file path.
func (c Config) CredentialsPath() string {
	p := c.Credentials.Path
	if p == "" {
		p = DefaultCredentialsFile
	}
	return c.resolve(p)
}

// EnvFiles returns the dotenv files with relative paths resolved.
func (c Config) EnvFiles() []string {
	files := make([]string, 0, len(c.Credentials.EnvFiles))
	for _, f := range c.Credentials.EnvFiles {
		files = append(files, c.resolve(f))
	}
	return files
}

// TokenPath returns the token file for the configured user.
func (c Config) TokenPath() string {
	if c.TokenStore.Path != "" {
		return c.resolve(c.TokenStore.Path)
	}
	return c.resolve(defaultTokenPath(c.UserID))
}

// AuditDir returns the absolute audit log directory.
func (c Config) AuditDir() string {
	d := c.Audit.Dir
	if d == "" {
		d = DefaultAuditDir
	}
	return c.resolve(d)
}

// StoreKey identifies the session row in shared backends.
func (c Config) StoreKey() string {
	if c.UserID == "" {
		return DefaultUser
	}
	return c.UserID
}
