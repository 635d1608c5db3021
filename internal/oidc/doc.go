// Package oidc implements an OpenID Connect client for command-line and
// service use.
//
// The Client discovers the provider, runs the authorization-code flow with
// PKCE through a loopback callback server, verifies ID tokens, persists the
// session in a TokenStore and keeps it fresh:
//
//	client := oidc.NewClient(oidc.WithTokenStore(store))
//	if err := client.Configure(cfg.Auth); err != nil {
//		return err
//	}
//	if err := client.LoadDiscoveryDocumentAndTryLogin(ctx); err != nil {
//		return err
//	}
//	if !client.HasValidAccessToken() {
//		_ = client.InitLoginFlow(ctx)
//		_ = client.WaitForLogin(ctx)
//	}
//
// # Sessions
//
// A session belongs to an issuer and client ID pair. Tokens are stored as
// JSON files (0600, in a 0700 directory), in the OS keyring, or in memory
// only. With silent refresh enabled the client refreshes the access token
// after TimeoutFactor of its lifetime has passed, using the refresh token
// grant. With session checks enabled and file storage, the token file is
// watched so logins and logouts made by other processes are picked up.
//
// # Events
//
// SubscribeEvents delivers lifecycle events (token received, refreshed,
// refresh failed, session changed or terminated, logout). Slow subscribers
// lose events rather than block the client.
package oidc
