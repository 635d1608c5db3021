package config

import "time"

const (
	// DefaultRedirectURI is the loopback address the login callback listens on.
	DefaultRedirectURI = "http://127.0.0.1:3000/callback"

	// DefaultScope requests an ID token, profile claims and a refresh token.
	DefaultScope = "openid profile email offline_access"

	// ResponseTypeCode is the only supported response type.
	ResponseTypeCode = "code"

	DefaultTimeoutFactor        = 0.75
	DefaultSilentRefreshTimeout = 20 * time.Second

	DefaultCSRFHeader = "X-XSRF-TOKEN"
	DefaultCSRFCookie = "XSRF-TOKEN"
)

// GetDefaultConfig returns the configuration used when no config file
// exists. Issuer and client ID have no sensible default and stay empty.
func GetDefaultConfig() Config {
	return Config{
		Auth: AuthConfig{
			RedirectURI:  DefaultRedirectURI,
			ResponseType: ResponseTypeCode,
			Scope:        DefaultScope,
			Discovery: DiscoveryConfig{
				Enabled: true,
			},
			SilentRefresh: SilentRefreshConfig{
				Enabled: true,
				Timeout: DefaultSilentRefreshTimeout,
			},
			TimeoutFactor: DefaultTimeoutFactor,
			RequireHTTPS:  true,
		},
		Storage: StorageConfig{
			Type: StorageFile,
		},
		Interceptor: InterceptorConfig{
			CSRFHeader:                   DefaultCSRFHeader,
			CSRFCookie:                   DefaultCSRFCookie,
			LogoutOnRepeatedUnauthorized: true,
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}
