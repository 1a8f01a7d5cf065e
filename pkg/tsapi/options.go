package tsapi

import (
	"fmt"
	"strings"

	"tsapi/pkg/audit"
	"tsapi/pkg/auth"
	"tsapi/pkg/credentials"
	"tsapi/pkg/dispatch"
	"tsapi/pkg/tokenstore"
)

const (
	// PaperBaseURL is the simulated trading API.
	PaperBaseURL = "https://sim-api.tradestation.com/v3"

	// LiveBaseURL is the live trading API.
	LiveBaseURL = "https://api.tradestation.com/v3"
)

// TradingMode selects the simulated or the live API.
type TradingMode int

const (
	// Paper trades against the simulator. It is the default.
	Paper TradingMode = iota

	// Live trades real money.
	Live
)

// String returns the string representation of the trading mode.
func (m TradingMode) String() string {
	switch m {
	case Paper:
		return "paper"
	case Live:
		return "live"
	default:
		return fmt.Sprintf("TradingMode(%d)", int(m))
	}
}

// BaseURL returns the API root for the mode.
func (m TradingMode) BaseURL() string {
	if m == Live {
		return LiveBaseURL
	}
	return PaperBaseURL
}

// ParseTradingMode parses "paper" or "live", case-insensitively.
func ParseTradingMode(s string) (TradingMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "paper", "sim", "simulation":
		return Paper, nil
	case "live":
		return Live, nil
	default:
		return Paper, fmt.Errorf("unknown trading mode %q: expected paper or live", s)
	}
}

// Options configures a Client. Credentials and Store are required; all
// other fields have defaults.
type Options struct {
	TradingMode TradingMode

	// UserID is stamped on persisted tokens.
	UserID string

	Credentials credentials.Source
	Store       tokenstore.Store

	// Recorder receives the audit trail. Defaults to audit.Discard.
	Recorder audit.Recorder

	// Auth overrides session settings such as endpoints and the safety
	// margin. Its UserID and Recorder are taken from Options.
	Auth auth.Config

	// Dispatch overrides retry and timeout settings. An empty BaseURL
	// selects the trading mode's API root.
	Dispatch dispatch.Config
}
