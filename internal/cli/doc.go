// Package cli holds the user-facing pieces of the warden command line:
// typed errors that carry actionable guidance and map to exit codes, and
// output helpers (session table, spinner, duration formatting).
//
// Authentication errors:
//   - AuthRequiredError: no session exists, the user must log in
//   - AuthExpiredError: the session can no longer be refreshed
//   - AuthFailedError: the login flow itself failed
//
// All three implement Is so errors.Is matches them through wrapping.
// ConnectionError classifies transport failures (TLS, DNS, timeout,
// network) for clearer messages.
package cli
