// Package auth implements the OAuth2 session for the brokerage API.
//
// A Session drives the authorization code flow, exchanges codes for tokens
// and refreshes them. It owns the in-memory token state and writes it
// through to an injected tokenstore.Store; application credentials come from
// an injected credentials.Source on every token endpoint call, so rotated
// secrets are picked up without a restart.
//
// # State machine
//
//	Unauthenticated -> PendingAuthorization -> Authenticated <-> Refreshing
//	Authenticated -> Expired   (refresh impossible or rejected)
//	any           -> Failed    (exchange failed)
//	any           -> Unauthenticated (Logout)
//
// # Refresh
//
// EnsureValid is called before every API request. While the access token is
// valid beyond the safety margin it returns immediately without I/O.
// Otherwise concurrent callers share a single refresh call: the refresh runs
// detached from any one caller's context, so a caller that gives up never
// aborts or half-applies the refresh the others are waiting on.
package auth
