package interceptor

import (
	"context"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"warden/internal/config"
	"warden/pkg/logging"
)

const subsystem = "Interceptor"

// refreshTimeout bounds a shared token refresh, which does not end when
// the request that started it is cancelled.
const refreshTimeout = 30 * time.Second

// Authenticator is the session the interceptor authenticates requests
// with. *authstate.Adapter implements it.
type Authenticator interface {
	// CurrentAccessToken returns the access token if it is valid now.
	CurrentAccessToken() (string, bool)
	// IsLoggedIn reports the session state, which stays true after the
	// access token expires until a refresh fails.
	IsLoggedIn() bool
	RefreshToken(ctx context.Context) error
	Logout(ctx context.Context) error
}

// Transport is an http.RoundTripper that adds the bearer token and the
// anti-forgery header to outgoing requests and handles auth failures.
type Transport struct {
	base         http.RoundTripper
	auth         Authenticator
	csrf         CSRFSource
	csrfHeader   string
	logoutOn401  bool
	refreshGroup singleflight.Group
}

// Option configures a Transport.
type Option func(*Transport)

// WithBase sets the transport requests are sent through. Defaults to
// http.DefaultTransport.
func WithBase(base http.RoundTripper) Option {
	return func(t *Transport) {
		t.base = base
	}
}

// WithCSRFSource sets where the anti-forgery token comes from.
func WithCSRFSource(src CSRFSource) Option {
	return func(t *Transport) {
		t.csrf = src
	}
}

// WithCSRFHeader sets the request header carrying the anti-forgery token.
func WithCSRFHeader(name string) Option {
	return func(t *Transport) {
		t.csrfHeader = name
	}
}

// WithLogoutOnRepeatedUnauthorized controls whether a 401 after a
// successful refresh ends the session.
func WithLogoutOnRepeatedUnauthorized(enabled bool) Option {
	return func(t *Transport) {
		t.logoutOn401 = enabled
	}
}

// WithConfig applies the interceptor section of the configuration.
func WithConfig(cfg config.InterceptorConfig) Option {
	return func(t *Transport) {
		if cfg.CSRFHeader != "" {
			t.csrfHeader = cfg.CSRFHeader
		}
		if cfg.CSRFCookie != "" {
			t.csrf = CookieCSRFSource{CookieName: cfg.CSRFCookie}
		}
		t.logoutOn401 = cfg.LogoutOnRepeatedUnauthorized
	}
}

// New creates a Transport authenticating requests with auth.
func New(auth Authenticator, opts ...Option) *Transport {
	t := &Transport{
		base:        http.DefaultTransport,
		auth:        auth,
		csrf:        CookieCSRFSource{CookieName: config.DefaultCSRFCookie},
		csrfHeader:  config.DefaultCSRFHeader,
		logoutOn401: true,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Client returns an http.Client using t.
func (t *Transport) Client(jar http.CookieJar) *http.Client {
	return &http.Client{Transport: t, Jar: jar}
}

// RoundTrip implements http.RoundTripper.
//
// Requests go out unchanged while logged out. When logged in with an
// expired access token, the token is refreshed before sending. A 401 on an
// authenticated request triggers one token refresh, shared by concurrent
// requests, and one retry. A 403 flagged as CSRF mismatch is returned as
// *CSRFMismatchError.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, ok := t.auth.CurrentAccessToken()
	if !ok && t.auth.IsLoggedIn() {
		logging.Debug(subsystem, "Access token expired, refreshing before %s %s", req.Method, req.URL.Redacted())
		if err := t.refresh(req.Context()); err != nil {
			if req.Body != nil {
				_ = req.Body.Close()
			}
			if ctxErr := req.Context().Err(); ctxErr != nil {
				return nil, ctxErr
			}
			logging.Warn(subsystem, "Token refresh before request failed: %v", err)
			return nil, &UnauthorizedError{Method: req.Method, URL: req.URL.Redacted(), Err: err}
		}
		token, ok = t.auth.CurrentAccessToken()
	}
	if !ok {
		return t.base.RoundTrip(req)
	}

	resp, err := t.base.RoundTrip(t.authorize(req, token, req.Body))
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return t.handleUnauthorized(req, resp)
	case http.StatusForbidden:
		return t.checkCSRF(req, resp)
	default:
		return resp, nil
	}
}

// authorize clones req with the auth headers set and body as its body.
func (t *Transport) authorize(req *http.Request, token string, body io.ReadCloser) *http.Request {
	out := req.Clone(req.Context())
	out.Body = body
	out.Header.Set("Authorization", "Bearer "+token)
	if t.csrf != nil && t.csrfHeader != "" {
		if v := t.csrf.CSRFToken(req); v != "" {
			out.Header.Set(t.csrfHeader, v)
		}
	}
	return out
}

func (t *Transport) handleUnauthorized(req *http.Request, resp *http.Response) (*http.Response, error) {
	body, replayable := rewindBody(req)
	if !replayable {
		logging.Debug(subsystem, "Not retrying %s %s: %v", req.Method, req.URL.Redacted(), ErrBodyNotReplayable)
		return resp, nil
	}
	challenge := challengeFrom(resp)
	discard(resp)

	if challenge != nil && challenge.Error != "" {
		logging.Debug(subsystem, "Got 401 for %s %s (%s), refreshing token", req.Method, req.URL.Redacted(), challenge)
	} else {
		logging.Debug(subsystem, "Got 401 for %s %s, refreshing token", req.Method, req.URL.Redacted())
	}

	ctx := req.Context()
	if err := t.refresh(ctx); err != nil {
		if body != nil {
			_ = body.Close()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		logging.Warn(subsystem, "Token refresh after 401 failed: %v", err)
		return nil, &UnauthorizedError{Method: req.Method, URL: req.URL.Redacted(), Err: err, Challenge: challenge}
	}

	token, ok := t.auth.CurrentAccessToken()
	if !ok {
		if body != nil {
			_ = body.Close()
		}
		return nil, &UnauthorizedError{Method: req.Method, URL: req.URL.Redacted()}
	}

	retry, err := t.base.RoundTrip(t.authorize(req, token, body))
	if err != nil {
		return nil, err
	}

	switch retry.StatusCode {
	case http.StatusUnauthorized:
		challenge = challengeFrom(retry)
		discard(retry)
		logging.Warn(subsystem, "Request %s %s still unauthorized after token refresh", req.Method, req.URL.Redacted())
		if t.logoutOn401 {
			if err := t.auth.Logout(context.WithoutCancel(ctx)); err != nil {
				logging.Warn(subsystem, "Logout after repeated 401 failed: %v", err)
			}
		}
		return nil, &UnauthorizedError{Method: req.Method, URL: req.URL.Redacted(), Retried: true, Challenge: challenge}
	case http.StatusForbidden:
		return t.checkCSRF(req, retry)
	default:
		return retry, nil
	}
}

// refresh runs one token refresh shared by all concurrent callers. The
// refresh keeps going when ctx ends; only this caller stops waiting.
func (t *Transport) refresh(ctx context.Context) error {
	ch := t.refreshGroup.DoChan("refresh", func() (interface{}, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return nil, t.auth.RefreshToken(rctx)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Transport) checkCSRF(req *http.Request, resp *http.Response) (*http.Response, error) {
	detail, mismatch := csrfMismatch(resp)
	if !mismatch {
		return resp, nil
	}
	discard(resp)

	logging.Warn(subsystem, "CSRF token mismatch for %s %s", req.Method, req.URL.Redacted())
	return nil, &CSRFMismatchError{Method: req.Method, URL: req.URL.Redacted(), Detail: detail}
}

// rewindBody returns a fresh copy of the request body for a retry.
func rewindBody(req *http.Request) (io.ReadCloser, bool) {
	if req.Body == nil || req.Body == http.NoBody {
		return req.Body, true
	}
	if req.GetBody == nil {
		return nil, false
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, false
	}
	return body, true
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxCSRFBody))
	_ = resp.Body.Close()
}
