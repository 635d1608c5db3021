// Package authstate exposes the session of an OIDC client as a single
// observable "logged in" flag.
//
// The Adapter wraps the client library, forwards operations to it and
// updates the flag from their outcome and from the library's events.
// Token accessors are gated: they wait until the flag is true, so callers
// started before login completes get the token of the finished login.
//
//	adapter := authstate.New(client)
//	defer adapter.Close()
//
//	if err := adapter.Configure(ctx, cfg.Auth); err != nil {
//		return err
//	}
//	token, err := adapter.AccessToken(ctx)
//
// Gated calls have no timeout of their own; bound them with ctx.
package authstate
