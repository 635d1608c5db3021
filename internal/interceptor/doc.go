// Package interceptor provides an http.RoundTripper that authenticates
// outgoing requests with the current session.
//
// While a valid access token exists every request gets an
// "Authorization: Bearer" header and, when the anti-forgery cookie is
// present, the matching CSRF header. Requests made without a session go
// out unchanged.
//
// A 401 Unauthorized answer to an authenticated request triggers one token
// refresh, shared by all requests that hit the 401 at the same time, and a
// single retry. If the retry is rejected too the session is ended and an
// *UnauthorizedError carrying the server's WWW-Authenticate challenge is
// returned. A 403 that the server flags as a CSRF mismatch becomes a
// *CSRFMismatchError; other 403s are passed through with their body intact.
//
//	t := interceptor.New(adapter, interceptor.WithConfig(cfg.Interceptor))
//	jar, _ := cookiejar.New(nil)
//	resp, err := t.Client(jar).Get("https://api.example.com/me")
package interceptor
