// Package logging provides the subsystem-tagged logger used across tsapi.
//
// It is a thin layer over log/slog: Init installs a text or JSON handler as
// the slog default, and the Debug/Info/Warn/Error helpers attach a
// "subsystem" attribute so output can be filtered by component.
//
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//	logging.Info("Session", "Loaded token for user %s", userID)
//	logging.Error("TokenStore", err, "Failed to persist token")
//
// Token and secret values must never be passed to these helpers; log the
// event and its outcome instead.
package logging
