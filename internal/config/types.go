package config

import (
	"strings"
	"time"
)

// Config is the top-level configuration structure for warden.
type Config struct {
	Auth        AuthConfig        `yaml:"auth"`
	Storage     StorageConfig     `yaml:"storage"`
	Interceptor InterceptorConfig `yaml:"interceptor"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// AuthConfig is handed unchanged to the OIDC client library. It is treated
// as immutable once passed to Configure.
type AuthConfig struct {
	Issuer       string `yaml:"issuer"`
	ClientID     string `yaml:"clientId"`
	ClientSecret string `yaml:"clientSecret,omitempty"` // Only for confidential clients
	RedirectURI  string `yaml:"redirectUri"`
	ResponseType string `yaml:"responseType,omitempty"`
	Scope        string `yaml:"scope"`

	Discovery     DiscoveryConfig     `yaml:"discovery,omitempty"`
	SilentRefresh SilentRefreshConfig `yaml:"silentRefresh,omitempty"`

	// SessionChecksEnabled watches the token storage for logins and logouts
	// made by other processes.
	SessionChecksEnabled bool `yaml:"sessionChecksEnabled,omitempty"`

	// TimeoutFactor is the fraction of the token lifetime after which a
	// silent refresh is attempted.
	TimeoutFactor float64 `yaml:"timeoutFactor,omitempty"`

	ShowDebugInformation bool `yaml:"showDebugInformation,omitempty"`
	RequireHTTPS         bool `yaml:"requireHttps,omitempty"`

	// AutoLogin starts the interactive login when silent session restore
	// does not yield a valid token.
	AutoLogin bool `yaml:"autoLogin,omitempty"`
}

// DiscoveryConfig controls how provider endpoints are obtained. When
// discovery is disabled the explicit endpoints are used instead.
type DiscoveryConfig struct {
	Enabled               bool   `yaml:"enabled"`
	AuthorizationEndpoint string `yaml:"authorizationEndpoint,omitempty"`
	TokenEndpoint         string `yaml:"tokenEndpoint,omitempty"`
	JWKSURI               string `yaml:"jwksUri,omitempty"`
	UserinfoEndpoint      string `yaml:"userinfoEndpoint,omitempty"`
	RevocationEndpoint    string `yaml:"revocationEndpoint,omitempty"`
}

// SilentRefreshConfig controls background token renewal.
type SilentRefreshConfig struct {
	Enabled     bool          `yaml:"enabled"`
	RedirectURI string        `yaml:"redirectUri,omitempty"`
	Timeout     time.Duration `yaml:"timeout,omitempty"`
}

// Scopes returns the space-separated scope string as a slice.
func (c AuthConfig) Scopes() []string {
	return strings.Fields(c.Scope)
}

// StorageType selects the token persistence backend.
type StorageType string

const (
	StorageFile    StorageType = "file"
	StorageKeyring StorageType = "keyring"
	StorageMemory  StorageType = "memory"
)

// StorageConfig configures where the OIDC client keeps tokens.
type StorageConfig struct {
	Type StorageType `yaml:"type"`
	Dir  string      `yaml:"dir,omitempty"` // Used by the file backend
}

// InterceptorConfig configures the outgoing request interceptor.
type InterceptorConfig struct {
	CSRFHeader                   string `yaml:"csrfHeader,omitempty"`
	CSRFCookie                   string `yaml:"csrfCookie,omitempty"`
	LogoutOnRepeatedUnauthorized bool   `yaml:"logoutOnRepeatedUnauthorized"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}
