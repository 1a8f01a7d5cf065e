// Package dispatch sends authenticated requests to the brokerage API.
//
// Every call goes through the same steps: make sure the session holds a
// usable access token, attach it, perform the exchange with bounded retries
// for transient failures, and, when the API answers 401 despite a freshly
// validated token, refresh once and retry once. Every outcome is one
// apierror.Kind; no other error type leaves the dispatcher.
//
// Send blocks the calling goroutine. SendAsync and SendAll run the same
// logic on background goroutines and share the session, so refreshes stay
// single-flight across both.
package dispatch
