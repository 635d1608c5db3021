// Package logging provides the process-wide structured logger for warden.
//
// It is a small layer over log/slog that tags every entry with a subsystem
// name, so output from the auth state adapter, the OIDC client and the CLI
// can be told apart:
//
//	logging.Init(logging.LevelInfo, logging.FormatText, os.Stderr)
//
//	logging.Info("AuthState", "state changed to %t", loggedIn)
//	logging.Error("Interceptor", err, "token refresh failed")
//
// Init also installs the logger as slog's default, so packages that log with
// slog key/value pairs share the same handler and level.
//
// Token values must never be passed to the logger.
package logging
