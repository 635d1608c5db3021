package interceptor

import (
	"errors"
	"net/http"
	"regexp"
	"strings"
)

// Challenge is a parsed WWW-Authenticate header of a 401 response
// (RFC 6750 section 3).
type Challenge struct {
	Scheme           string
	Realm            string
	Scope            string
	Error            string
	ErrorDescription string
}

func (c *Challenge) String() string {
	if c.ErrorDescription != "" {
		return c.Error + ": " + c.ErrorDescription
	}
	return c.Error
}

var authParamRegex = regexp.MustCompile(`(\w+)="([^"]*)"`)

// ParseChallenge parses a WWW-Authenticate header value such as
//
//	Bearer realm="api", error="invalid_token", error_description="expired"
func ParseChallenge(header string) (*Challenge, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, errors.New("empty WWW-Authenticate header")
	}

	scheme, params, _ := strings.Cut(header, " ")
	c := &Challenge{Scheme: scheme}

	for _, match := range authParamRegex.FindAllStringSubmatch(params, -1) {
		value := match[2]
		switch strings.ToLower(match[1]) {
		case "realm":
			c.Realm = value
		case "scope":
			c.Scope = value
		case "error":
			c.Error = value
		case "error_description":
			c.ErrorDescription = value
		}
	}
	return c, nil
}

// challengeFrom returns the challenge of a 401 response, or nil when there
// is none or it does not parse.
func challengeFrom(resp *http.Response) *Challenge {
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		return nil
	}
	c, err := ParseChallenge(resp.Header.Get("WWW-Authenticate"))
	if err != nil {
		return nil
	}
	return c
}
