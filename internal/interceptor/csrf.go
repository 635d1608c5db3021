package interceptor

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"warden/internal/config"
)

// CSRFErrorHeader is the response header servers may use to flag an
// anti-forgery token mismatch.
const CSRFErrorHeader = "X-CSRF-Error"

// maxCSRFBody bounds how much of a 403 body is inspected.
const maxCSRFBody = 64 << 10

// maxDetailLen bounds the body excerpt kept in CSRFMismatchError.
const maxDetailLen = 200

// CSRFSource supplies the anti-forgery token for a request.
type CSRFSource interface {
	CSRFToken(req *http.Request) string
}

// CSRFSourceFunc adapts a function to CSRFSource.
type CSRFSourceFunc func(req *http.Request) string

func (f CSRFSourceFunc) CSRFToken(req *http.Request) string {
	return f(req)
}

// CookieCSRFSource reads the token from a request cookie. http.Client adds
// the cookies of its jar before the transport runs, so this picks up the
// value the server set earlier.
type CookieCSRFSource struct {
	CookieName string
}

func (s CookieCSRFSource) CSRFToken(req *http.Request) string {
	name := s.CookieName
	if name == "" {
		name = config.DefaultCSRFCookie
	}
	cookie, err := req.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// csrfMismatch inspects a 403 response. If it is a CSRF rejection the body
// is consumed and the detail returned; otherwise the body is restored.
func csrfMismatch(resp *http.Response) (string, bool) {
	if detail := resp.Header.Get(CSRFErrorHeader); detail != "" {
		return detail, true
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return "", false
	}

	peek, err := io.ReadAll(io.LimitReader(resp.Body, maxCSRFBody))
	resp.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(peek), resp.Body), resp.Body}
	if err != nil {
		return "", false
	}

	if !strings.Contains(strings.ToLower(string(peek)), "csrf") {
		return "", false
	}
	return truncate(string(peek), maxDetailLen), true
}

// truncate collapses whitespace to single spaces and cuts s to maxLen
// runes, ending in "..." when shortened.
func truncate(s string, maxLen int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}
