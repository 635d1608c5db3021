package config

import (
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

// Validate checks the whole configuration and returns ValidationErrors, or
// nil when the configuration is usable.
func (c Config) Validate() error {
	var errs ValidationErrors

	errs = append(errs, c.Auth.validate()...)

	switch c.Storage.Type {
	case StorageFile:
		if strings.TrimSpace(c.Storage.Dir) == "" {
			errs.Add("storage.dir", "is required for file storage")
		}
	case StorageKeyring, StorageMemory:
	default:
		errs.Add("storage.type", fmt.Sprintf("must be one of: %s, %s, %s", StorageFile, StorageKeyring, StorageMemory), c.Storage.Type)
	}

	if c.Logging.Format != "" && c.Logging.Format != "text" && c.Logging.Format != "json" {
		errs.Add("logging.format", "must be one of: text, json", c.Logging.Format)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// Validate checks only the auth section.
func (c AuthConfig) Validate() error {
	if errs := c.validate(); errs.HasErrors() {
		return errs
	}
	return nil
}

func (c AuthConfig) validate() ValidationErrors {
	var errs ValidationErrors

	if strings.TrimSpace(c.ClientID) == "" {
		errs.Add("auth.clientId", "is required")
	}
	c.validateURL(&errs, "auth.issuer", c.Issuer, true)
	c.validateURL(&errs, "auth.redirectUri", c.RedirectURI, true)

	if c.ResponseType != ResponseTypeCode {
		errs.Add("auth.responseType", fmt.Sprintf("must be %q", ResponseTypeCode), c.ResponseType)
	}
	if !slices.Contains(c.Scopes(), "openid") {
		errs.Add("auth.scope", "must contain openid", c.Scope)
	}
	if c.TimeoutFactor <= 0 || c.TimeoutFactor > 1 {
		errs.Add("auth.timeoutFactor", "must be greater than 0 and at most 1", c.TimeoutFactor)
	}
	if c.SilentRefresh.Timeout < 0 {
		errs.Add("auth.silentRefresh.timeout", "must not be negative", c.SilentRefresh.Timeout)
	}
	if c.SilentRefresh.RedirectURI != "" {
		c.validateURL(&errs, "auth.silentRefresh.redirectUri", c.SilentRefresh.RedirectURI, false)
	}

	if !c.Discovery.Enabled {
		c.validateURL(&errs, "auth.discovery.authorizationEndpoint", c.Discovery.AuthorizationEndpoint, true)
		c.validateURL(&errs, "auth.discovery.tokenEndpoint", c.Discovery.TokenEndpoint, true)
		c.validateURL(&errs, "auth.discovery.jwksUri", c.Discovery.JWKSURI, true)
	}

	return errs
}

// validateURL requires an absolute http(s) URL. With requireHttps only
// loopback hosts may use plain http.
func (c AuthConfig) validateURL(errs *ValidationErrors, field, raw string, required bool) {
	if strings.TrimSpace(raw) == "" {
		if required {
			errs.Add(field, "is required")
		}
		return
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		errs.Add(field, "must be an absolute URL", raw)
		return
	}

	switch u.Scheme {
	case "https":
	case "http":
		if c.RequireHTTPS && !IsLoopbackHost(u.Hostname()) {
			errs.Add(field, "must use https (plain http is only allowed for loopback hosts)", raw)
		}
	default:
		errs.Add(field, "must use http or https", raw)
	}
}

// IsLoopbackHost reports whether host is localhost or a loopback IP.
func IsLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
