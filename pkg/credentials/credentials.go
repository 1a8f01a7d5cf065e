// Package credentials supplies the application's OAuth client credentials to
// the session without tying it to a storage mechanism.
//
// The session only depends on the Source interface. FileSource, EnvSource
// and Static cover the common cases; embedding applications can provide
// their own implementation (a vault client, a keychain) through SourceFunc.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrUnavailable is wrapped by every error a Source returns when it cannot
// produce credentials.
var ErrUnavailable = errors.New("credentials unavailable")

// Credentials are the immutable application credentials registered with the
// brokerage.
type Credentials struct {
	ClientKey      string `json:"client_key"`
	ClientSecret   string `json:"client_secret"`
	CallbackDomain string `json:"call_back_domain"`
}

// Validate checks that all fields are present and that the callback domain is
// an absolute URL.
func (c Credentials) Validate() error {
	var missing []string
	if c.ClientKey == "" {
		missing = append(missing, "client_key")
	}
	if c.ClientSecret == "" {
		missing = append(missing, "client_secret")
	}
	if c.CallbackDomain == "" {
		missing = append(missing, "call_back_domain")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required fields: %s", ErrUnavailable, strings.Join(missing, ", "))
	}

	u, err := url.Parse(c.CallbackDomain)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: call_back_domain %q is not an absolute URL", ErrUnavailable, c.CallbackDomain)
	}
	return nil
}

// String hides the client secret.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{ClientKey: %s, ClientSecret: [REDACTED], CallbackDomain: %s}", c.ClientKey, c.CallbackDomain)
}

// GoString hides the client secret from %#v.
func (c Credentials) GoString() string {
	return c.String()
}

// Source supplies credentials on demand.
type Source interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context) (Credentials, error)

// Credentials calls f(ctx).
func (f SourceFunc) Credentials(ctx context.Context) (Credentials, error) {
	return f(ctx)
}

// Static returns a Source that always yields creds. Invalid credentials
// surface as ErrUnavailable on every call.
func Static(creds Credentials) Source {
	return SourceFunc(func(context.Context) (Credentials, error) {
		if err := creds.Validate(); err != nil {
			return Credentials{}, err
		}
		return creds, nil
	})
}
