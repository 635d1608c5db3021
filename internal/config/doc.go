// Package config loads and validates warden's configuration.
//
// Configuration lives in a single config.yaml inside the configuration
// directory (default ~/.config/warden, overridable with WARDEN_CONFIG_DIR):
//
//	auth:
//	  issuer: https://idp.example.com/realms/demo
//	  clientId: warden
//	  redirectUri: http://127.0.0.1:3000/callback
//	  scope: openid profile email offline_access
//	  silentRefresh:
//	    enabled: true
//	    timeout: 20s
//	  sessionChecksEnabled: true
//	storage:
//	  type: file
//	interceptor:
//	  csrfHeader: X-XSRF-TOKEN
//	logging:
//	  level: info
//
// Values absent from the file keep the defaults from GetDefaultConfig.
// Validate reports every problem at once as ValidationErrors.
package config
