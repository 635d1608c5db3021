package interceptor

import (
	"errors"
	"fmt"
)

// ErrBodyNotReplayable marks a 401 that could not be retried because the
// request body cannot be sent twice.
var ErrBodyNotReplayable = errors.New("request body cannot be replayed")

// UnauthorizedError is returned when a request stays unauthorized after
// the token refresh, or the refresh itself fails.
type UnauthorizedError struct {
	Method string
	URL    string

	// Retried is true when the request was sent again with a refreshed
	// token and was rejected a second time.
	Retried bool

	// Err is the refresh failure, if any.
	Err error

	// Challenge is the server's WWW-Authenticate challenge of the last
	// 401, if it sent one.
	Challenge *Challenge
}

func (e *UnauthorizedError) Error() string {
	var msg string
	switch {
	case e.Err != nil:
		msg = fmt.Sprintf("%s %s: unauthorized, token refresh failed: %v", e.Method, e.URL, e.Err)
	case e.Retried:
		msg = fmt.Sprintf("%s %s: unauthorized after token refresh", e.Method, e.URL)
	default:
		msg = fmt.Sprintf("%s %s: unauthorized", e.Method, e.URL)
	}
	if e.Challenge != nil && e.Challenge.Error != "" {
		msg += " (" + e.Challenge.String() + ")"
	}
	return msg
}

func (e *UnauthorizedError) Unwrap() error {
	return e.Err
}

// CSRFMismatchError is returned when the server rejects a request because
// its anti-forgery token does not match.
type CSRFMismatchError struct {
	Method string
	URL    string
	Detail string
}

func (e *CSRFMismatchError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s %s: CSRF token mismatch", e.Method, e.URL)
	}
	return fmt.Sprintf("%s %s: CSRF token mismatch: %s", e.Method, e.URL, e.Detail)
}
