package credentials

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// DefaultEnvPrefix is the prefix for the credential environment variables.
const DefaultEnvPrefix = "TS_"

// EnvSource reads credentials from <prefix>CLIENT_KEY, <prefix>CLIENT_SECRET
// and <prefix>CALLBACK_DOMAIN. Values may also come from dotenv files; the
// process environment wins over file values.
type EnvSource struct {
	prefix string
	files  []string
	lookup func(string) (string, bool)
}

// NewEnvSource creates an environment-backed source. An empty prefix selects
// DefaultEnvPrefix. Dotenv files are read on every call and never modify the
// process environment.
func NewEnvSource(prefix string, dotenvFiles ...string) *EnvSource {
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	return &EnvSource{
		prefix: prefix,
		files:  dotenvFiles,
		lookup: os.LookupEnv,
	}
}

// Credentials assembles credentials from the environment.
func (s *EnvSource) Credentials(ctx context.Context) (Credentials, error) {
	if err := ctx.Err(); err != nil {
		return Credentials{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	fileValues := map[string]string{}
	if len(s.files) > 0 {
		values, err := godotenv.Read(s.files...)
		if err != nil {
			return Credentials{}, fmt.Errorf("%w: failed to read dotenv files: %w", ErrUnavailable, err)
		}
		fileValues = values
	}

	get := func(name string) string {
		key := s.prefix + name
		if v, ok := s.lookup(key); ok && v != "" {
			return v
		}
		return fileValues[key]
	}

	creds := Credentials{
		ClientKey:      get("CLIENT_KEY"),
		ClientSecret:   get("CLIENT_SECRET"),
		CallbackDomain: get("CALLBACK_DOMAIN"),
	}
	if err := creds.Validate(); err != nil {
		return Credentials{}, fmt.Errorf("environment (%s*): %w", s.prefix, err)
	}
	return creds, nil
}
