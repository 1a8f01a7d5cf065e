package auth

import (
	"net/http"
	"strings"
	"time"

	"tsapi/pkg/audit"
)

const (
	// DefaultAuthURL is the brokerage's authorization endpoint.
	DefaultAuthURL = "https://signin.tradestation.com/authorize"

	// DefaultTokenURL is the brokerage's token endpoint.
	DefaultTokenURL = "https://signin.tradestation.com/oauth/token"

	// DefaultAudience is the audience requested for API access tokens.
	DefaultAudience = "https://api.tradestation.com"

	// DefaultSafetyMargin is how long before expiry an access token is
	// treated as expired.
	DefaultSafetyMargin = 60 * time.Second

	// DefaultTokenLifetime applies when the token endpoint omits expires_in.
	DefaultTokenLifetime = 3600 * time.Second

	// DefaultRefreshTimeout bounds a single token endpoint call.
	DefaultRefreshTimeout = 30 * time.Second

	// TokenEndpointPeer is the peer name used in audit records for token
	// endpoint calls.
	TokenEndpointPeer = "token-endpoint"
)

// DefaultScopes are requested when Config.Scopes is empty.
var DefaultScopes = []string{
	"openid",
	"offline_access",
	"profile",
	"MarketData",
	"ReadAccount",
	"Trade",
	"Matrix",
	"OptionSpreads",
}

// Endpoints are the OAuth2 endpoints of the identity provider.
type Endpoints struct {
	AuthURL  string
	TokenURL string
	Audience string
}

// DefaultEndpoints returns the brokerage's production endpoints.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		AuthURL:  DefaultAuthURL,
		TokenURL: DefaultTokenURL,
		Audience: DefaultAudience,
	}
}

// Config configures a Session. Zero values select the defaults.
type Config struct {
	Endpoints Endpoints
	Scopes    []string

	// UserID is stamped on the persisted token state.
	UserID string

	SafetyMargin   time.Duration
	TokenLifetime  time.Duration
	RefreshTimeout time.Duration

	// HTTPClient performs token endpoint calls. Its transport is wrapped to
	// audit every exchange.
	HTTPClient *http.Client

	// Recorder receives one callee out/in pair per token endpoint call.
	Recorder audit.Recorder

	// Now overrides the clock, for tests.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	def := DefaultEndpoints()
	if c.Endpoints.AuthURL == "" {
		c.Endpoints.AuthURL = def.AuthURL
	}
	if c.Endpoints.TokenURL == "" {
		c.Endpoints.TokenURL = def.TokenURL
	}
	if c.Endpoints.Audience == "" {
		c.Endpoints.Audience = def.Audience
	}
	if len(c.Scopes) == 0 {
		c.Scopes = append([]string(nil), DefaultScopes...)
	}
	if c.SafetyMargin <= 0 {
		c.SafetyMargin = DefaultSafetyMargin
	}
	if c.TokenLifetime <= 0 {
		c.TokenLifetime = DefaultTokenLifetime
	}
	if c.RefreshTimeout <= 0 {
		c.RefreshTimeout = DefaultRefreshTimeout
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	if c.Recorder == nil {
		c.Recorder = audit.Discard
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

func (c Config) scope() string {
	return strings.Join(c.Scopes, " ")
}
