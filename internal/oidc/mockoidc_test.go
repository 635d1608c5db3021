package oidc

import (
	"context"
	"testing"

	"github.com/oauth2-proxy/mockoidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/internal/config"
)

// TestClient_MockOIDCProvider runs the full login against a standalone
// OpenID provider implementation.
func TestClient_MockOIDCProvider(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping provider round trip in short mode")
	}

	m, err := mockoidc.Run()
	require.NoError(t, err)
	defer func() { _ = m.Shutdown() }()

	user := mockoidc.DefaultUser()
	m.QueueUser(user)

	cfg := config.GetDefaultConfig().Auth
	cfg.Issuer = m.Issuer()
	cfg.ClientID = m.Config().ClientID
	cfg.ClientSecret = m.Config().ClientSecret
	cfg.RedirectURI = "http://127.0.0.1:0/callback"
	cfg.Scope = "openid profile email"
	cfg.SilentRefresh.Enabled = false

	c := newTestClient(t)
	require.NoError(t, c.Configure(cfg))
	login(t, c)

	assert.True(t, c.HasValidAccessToken())

	claims := c.IdentityClaims()
	assert.Equal(t, user.Subject, claims["sub"])
	assert.Equal(t, user.Email, claims["email"])

	require.NoError(t, c.LogOut(context.Background()))
	assert.False(t, c.HasValidAccessToken())
}
