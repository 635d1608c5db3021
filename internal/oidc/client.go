package oidc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"warden/internal/config"
)

var (
	// ErrNotConfigured is returned when an operation needs Configure first.
	ErrNotConfigured = errors.New("oidc client is not configured")

	// ErrNoToken is returned when no session token is available.
	ErrNoToken = errors.New("no token available")

	// ErrNoRefreshToken is returned by RefreshToken when the session has no
	// refresh token.
	ErrNoRefreshToken = errors.New("no refresh token available")

	// ErrNoLoginFlow is returned when waiting for a callback without a
	// pending interactive login.
	ErrNoLoginFlow = errors.New("no login flow in progress")

	// ErrStateMismatch is returned when the callback state does not match
	// the state sent in the authorization request.
	ErrStateMismatch = errors.New("state mismatch - possible CSRF attack")
)

// DefaultHTTPTimeout is the default timeout for requests to the provider.
const DefaultHTTPTimeout = 30 * time.Second

// tokenExpirySkew is subtracted from the access token expiry when checking
// validity, to absorb clock skew and request latency.
const tokenExpirySkew = 30 * time.Second

// loginFlow is an in-progress interactive authorization.
type loginFlow struct {
	state       string
	nonce       string
	verifier    string
	redirectURI string
	authURL     string
	server      *CallbackServer
	cancel      context.CancelFunc
}

// providerMetadata holds discovery values go-oidc does not expose directly.
type providerMetadata struct {
	RevocationEndpoint string `json:"revocation_endpoint"`
	EndSessionEndpoint string `json:"end_session_endpoint"`
}

// Client is the OIDC client library wrapped by the auth state adapter.
// It owns discovery, the authorization-code flow with PKCE, token
// validation, refresh, storage and logout.
type Client struct {
	mu         sync.RWMutex
	cfg        *config.AuthConfig
	httpClient *http.Client
	store      *TokenStore
	openURL    func(string) error
	now        func() time.Time
	events     *broadcaster

	provider  *oidc.Provider
	verifier  *oidc.IDTokenVerifier
	oauth2Cfg *oauth2.Config
	metadata  providerMetadata

	token *StoredToken
	flow  *loginFlow

	refreshGroup singleflight.Group
	refreshTimer *time.Timer
	refreshGen   uint64

	watcher *sessionWatcher
	closed  bool
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client used for all provider requests.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTokenStore sets the token store. Defaults to an in-memory store.
func WithTokenStore(store *TokenStore) ClientOption {
	return func(c *Client) {
		c.store = store
	}
}

// WithURLOpener sets the function that presents the authorization URL to
// the user. Defaults to OpenBrowser.
func WithURLOpener(open func(string) error) ClientOption {
	return func(c *Client) {
		c.openURL = open
	}
}

// withClock overrides time.Now in tests.
func withClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient creates an unconfigured Client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
		openURL:    OpenBrowser,
		now:        time.Now,
		events:     newBroadcaster(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.store == nil {
		c.store = NewMemoryTokenStore()
	}

	return c
}

// Configure validates and installs cfg. A changed configuration discards
// the loaded discovery document and any pending login flow, and the stored
// session is re-read on the next LoadDiscoveryDocumentAndTryLogin.
func (c *Client) Configure(cfg config.AuthConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid auth configuration: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.New("oidc client is closed")
	}

	if c.cfg != nil && *c.cfg == cfg {
		return nil
	}

	c.cancelFlowLocked()
	c.stopRefreshLocked()
	c.stopWatcherLocked()

	c.cfg = &cfg
	c.provider = nil
	c.verifier = nil
	c.oauth2Cfg = nil
	c.metadata = providerMetadata{}
	c.token = c.store.Load(c.tokenKeyLocked())

	slog.Debug("OIDC client configured",
		"issuer", cfg.Issuer,
		"client_id", cfg.ClientID,
		"discovery", cfg.Discovery.Enabled,
		"silent_refresh", cfg.SilentRefresh.Enabled,
		"session_checks", cfg.SessionChecksEnabled,
	)
	return nil
}

// LoadDiscoveryDocumentAndTryLogin loads the provider metadata, restores
// the stored session and completes a pending interactive login if one was
// started with InitLoginFlow. If the stored access token has expired and
// silent refresh is enabled, a refresh is attempted; its failure is logged
// and not returned.
func (c *Client) LoadDiscoveryDocumentAndTryLogin(ctx context.Context) error {
	if err := c.loadDiscoveryDocument(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.token = c.store.Load(c.tokenKeyLocked())
	flow := c.flow
	silent := c.cfg.SilentRefresh.Enabled
	canRefresh := c.token != nil && c.token.RefreshToken != "" && !c.tokenValidLocked()
	c.mu.Unlock()

	if flow != nil {
		if err := c.completeLoginFlow(ctx, flow); err != nil {
			return err
		}
	} else if silent && canRefresh {
		if err := c.RefreshToken(ctx); err != nil {
			slog.Info("Silent session restore failed", "error", err.Error())
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.scheduleRefreshLocked()
	if c.cfg.SessionChecksEnabled && c.watcher == nil {
		c.startWatcherLocked()
	}
	return nil
}

// loadDiscoveryDocument builds the provider once per configuration.
func (c *Client) loadDiscoveryDocument(ctx context.Context) error {
	c.mu.RLock()
	if c.cfg == nil {
		c.mu.RUnlock()
		return ErrNotConfigured
	}
	if c.provider != nil {
		c.mu.RUnlock()
		return nil
	}
	cfg := *c.cfg
	c.mu.RUnlock()

	ctx = c.clientContext(ctx)

	var (
		provider *oidc.Provider
		metadata providerMetadata
		err      error
	)
	if cfg.Discovery.Enabled {
		provider, err = oidc.NewProvider(ctx, cfg.Issuer)
		if err != nil {
			slog.Warn("OIDC discovery failed", "issuer", cfg.Issuer, "error", err.Error())
			return fmt.Errorf("failed to load discovery document: %w", err)
		}
		if err := provider.Claims(&metadata); err != nil {
			slog.Debug("Could not decode optional discovery metadata", "error", err.Error())
		}
	} else {
		provider = (&oidc.ProviderConfig{
			IssuerURL:   cfg.Issuer,
			AuthURL:     cfg.Discovery.AuthorizationEndpoint,
			TokenURL:    cfg.Discovery.TokenEndpoint,
			JWKSURL:     cfg.Discovery.JWKSURI,
			UserInfoURL: cfg.Discovery.UserinfoEndpoint,
		}).NewProvider(ctx)
		metadata.RevocationEndpoint = cfg.Discovery.RevocationEndpoint
	}

	oauth2Cfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Endpoint:     provider.Endpoint(),
		Scopes:       cfg.Scopes(),
	}
	verifier := provider.Verifier(&oidc.Config{
		ClientID: cfg.ClientID,
		Now:      c.now,
	})

	c.mu.Lock()
	if c.cfg == nil || *c.cfg != cfg {
		c.mu.Unlock()
		return errors.New("configuration changed while loading discovery document")
	}
	c.provider = provider
	c.verifier = verifier
	c.oauth2Cfg = oauth2Cfg
	c.metadata = metadata
	c.mu.Unlock()

	slog.Debug("OIDC discovery document loaded", "issuer", cfg.Issuer, "discovery", cfg.Discovery.Enabled)
	c.events.publish(Event{Type: EventDiscoveryDocumentLoaded})
	return nil
}

// InitLoginFlow starts an interactive authorization-code flow with PKCE:
// it starts the loopback callback server and hands the authorization URL to
// the URL opener. The flow is completed by the next
// LoadDiscoveryDocumentAndTryLogin (or WaitForLogin).
func (c *Client) InitLoginFlow(ctx context.Context) error {
	if err := c.loadDiscoveryDocument(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.cancelFlowLocked()

	server, err := NewCallbackServer(c.cfg.RedirectURI)
	if err != nil {
		c.mu.Unlock()
		return err
	}

	// The callback server outlives ctx: the redirect arrives after this
	// call has returned.
	serverCtx, cancel := context.WithTimeout(context.Background(), CallbackTimeout)
	redirectURI, err := server.Start(serverCtx)
	if err != nil {
		cancel()
		c.mu.Unlock()
		return err
	}

	flow := &loginFlow{
		state:       uuid.NewString(),
		nonce:       uuid.NewString(),
		verifier:    oauth2.GenerateVerifier(),
		redirectURI: redirectURI,
		server:      server,
		cancel:      cancel,
	}

	oauth2Cfg := *c.oauth2Cfg
	oauth2Cfg.RedirectURL = redirectURI
	flow.authURL = oauth2Cfg.AuthCodeURL(flow.state,
		oauth2.S256ChallengeOption(flow.verifier),
		oidc.Nonce(flow.nonce),
	)
	c.flow = flow
	open := c.openURL
	issuer := c.cfg.Issuer
	c.mu.Unlock()

	slog.Debug("OAuth login flow started", "issuer", issuer, "redirect_uri", redirectURI)

	if err := open(flow.authURL); err != nil {
		slog.Warn("Could not open authorization URL", "error", err.Error())
	}
	return nil
}

// AuthorizationURL returns the URL of the pending login flow, if any.
func (c *Client) AuthorizationURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.flow == nil {
		return ""
	}
	return c.flow.authURL
}

// WaitForLogin blocks until the pending login flow completes or ctx ends.
func (c *Client) WaitForLogin(ctx context.Context) error {
	c.mu.RLock()
	flow := c.flow
	c.mu.RUnlock()

	if flow == nil {
		return ErrNoLoginFlow
	}
	return c.completeLoginFlow(ctx, flow)
}

// completeLoginFlow waits for the callback of flow, exchanges the code and
// stores the verified session. If ctx ends first the flow stays pending.
func (c *Client) completeLoginFlow(ctx context.Context, flow *loginFlow) error {
	result, err := flow.server.WaitForCallback(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		c.finishFlow(flow)
		return fmt.Errorf("callback failed: %w", err)
	}
	defer c.finishFlow(flow)

	if result.State != flow.state {
		slog.Warn("OAuth state mismatch detected - possible CSRF attack",
			"expected_state_len", len(flow.state),
			"received_state_len", len(result.State),
		)
		return ErrStateMismatch
	}

	if result.IsError() {
		slog.Warn("OAuth authorization failed",
			"error", result.Error,
			"error_description", result.ErrorDescription,
		)
		if result.ErrorDescription != "" {
			return fmt.Errorf("authorization failed: %s - %s", result.Error, result.ErrorDescription)
		}
		return fmt.Errorf("authorization failed: %s", result.Error)
	}

	c.mu.RLock()
	if c.oauth2Cfg == nil {
		c.mu.RUnlock()
		return ErrNotConfigured
	}
	oauth2Cfg := *c.oauth2Cfg
	verifier := c.verifier
	cfg := *c.cfg
	c.mu.RUnlock()
	oauth2Cfg.RedirectURL = flow.redirectURI

	ctx = c.clientContext(ctx)
	tok, err := oauth2Cfg.Exchange(ctx, result.Code, oauth2.VerifierOption(flow.verifier))
	if err != nil {
		slog.Warn("OAuth token exchange failed", "issuer", cfg.Issuer, "error", err.Error())
		return fmt.Errorf("token exchange failed: %w", err)
	}

	rawIDToken, _ := tok.Extra("id_token").(string)
	if rawIDToken == "" {
		return errors.New("no id_token in token response")
	}
	idToken, err := verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return fmt.Errorf("verifying id token: %w", err)
	}
	if idToken.Nonce != flow.nonce {
		return errors.New("id token nonce mismatch")
	}
	claims := map[string]any{}
	if err := idToken.Claims(&claims); err != nil {
		return fmt.Errorf("extracting id token claims: %w", err)
	}

	stored := &StoredToken{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
		IDToken:      rawIDToken,
		Claims:       claims,
		Issuer:       cfg.Issuer,
		ClientID:     cfg.ClientID,
		CreatedAt:    c.now(),
	}
	if err := c.saveSession(cfg, stored); err != nil {
		// The session is still usable in memory.
		slog.Warn("Failed to persist OAuth token", "error", err.Error())
	}

	slog.Info("OAuth authentication successful", "issuer", cfg.Issuer, "subject", idToken.Subject)
	c.events.publish(Event{Type: EventTokenReceived})
	return nil
}

func (c *Client) finishFlow(flow *loginFlow) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.flow == flow {
		c.cancelFlowLocked()
	}
}

// cancelFlowLocked stops the pending flow. Must be called with c.mu held.
func (c *Client) cancelFlowLocked() {
	if c.flow == nil {
		return
	}
	c.flow.server.Stop()
	c.flow.cancel()
	c.flow = nil
}

// saveSession makes token the current session of cfg and persists it.
func (c *Client) saveSession(cfg config.AuthConfig, token *StoredToken) error {
	c.mu.Lock()
	if c.cfg == nil || *c.cfg != cfg {
		c.mu.Unlock()
		return errors.New("configuration changed during token request")
	}
	c.token = token.clone()
	key := c.tokenKeyLocked()
	c.scheduleRefreshLocked()
	c.mu.Unlock()

	return c.store.Store(key, token)
}

// RefreshToken exchanges the refresh token for a new access token.
// Concurrent calls share a single request. The request is bounded by the
// silent refresh timeout when one is configured.
func (c *Client) RefreshToken(ctx context.Context) error {
	_, err, _ := c.refreshGroup.Do("refresh", func() (interface{}, error) {
		return nil, c.doRefresh(ctx)
	})
	return err
}

func (c *Client) doRefresh(ctx context.Context) error {
	if err := c.loadDiscoveryDocument(ctx); err != nil {
		return err
	}

	c.mu.RLock()
	cfg := *c.cfg
	oauth2Cfg := c.oauth2Cfg
	verifier := c.verifier
	current := c.token.clone()
	c.mu.RUnlock()

	if current == nil || current.RefreshToken == "" {
		c.events.publish(Event{Type: EventTokenRefreshError, Err: ErrNoRefreshToken})
		return ErrNoRefreshToken
	}

	if cfg.SilentRefresh.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.SilentRefresh.Timeout)
		defer cancel()
	}
	ctx = c.clientContext(ctx)

	// An empty access token forces the token source to refresh.
	tok, err := oauth2Cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: current.RefreshToken}).Token()
	if err != nil {
		slog.Warn("OAuth token refresh failed", "issuer", cfg.Issuer, "error", err.Error())
		err = fmt.Errorf("token refresh failed: %w", err)
		c.events.publish(Event{Type: EventTokenRefreshError, Err: err})
		return err
	}

	refreshed := &StoredToken{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
		IDToken:      current.IDToken,
		Claims:       current.Claims,
		Issuer:       cfg.Issuer,
		ClientID:     cfg.ClientID,
		CreatedAt:    c.now(),
	}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = current.RefreshToken
	}

	// Providers may rotate the ID token on refresh; a refreshed ID token
	// carries no nonce.
	if rawIDToken, _ := tok.Extra("id_token").(string); rawIDToken != "" {
		idToken, err := verifier.Verify(ctx, rawIDToken)
		if err != nil {
			err = fmt.Errorf("verifying refreshed id token: %w", err)
			c.events.publish(Event{Type: EventTokenRefreshError, Err: err})
			return err
		}
		claims := map[string]any{}
		if err := idToken.Claims(&claims); err != nil {
			err = fmt.Errorf("extracting refreshed id token claims: %w", err)
			c.events.publish(Event{Type: EventTokenRefreshError, Err: err})
			return err
		}
		refreshed.IDToken = rawIDToken
		refreshed.Claims = claims
	}

	if err := c.saveSession(cfg, refreshed); err != nil {
		slog.Warn("Failed to persist refreshed OAuth token", "error", err.Error())
	}

	slog.Debug("OAuth token refreshed", "issuer", cfg.Issuer, "expiry", refreshed.Expiry.Format(time.RFC3339))
	c.events.publish(Event{Type: EventTokenRefreshed})
	return nil
}

// LogOut revokes the session tokens at the provider when it supports
// revocation, then clears the stored session. Revocation failures are
// logged only.
func (c *Client) LogOut(ctx context.Context) error {
	c.mu.Lock()
	if c.cfg == nil {
		c.mu.Unlock()
		return ErrNotConfigured
	}
	c.cancelFlowLocked()
	c.stopRefreshLocked()
	cfg := *c.cfg
	token := c.token
	revocationEndpoint := c.metadata.RevocationEndpoint
	key := c.tokenKeyLocked()
	c.token = nil
	c.mu.Unlock()

	if token != nil && revocationEndpoint != "" {
		if token.RefreshToken != "" {
			if err := c.revoke(ctx, cfg, revocationEndpoint, token.RefreshToken, "refresh_token"); err != nil {
				slog.Warn("Failed to revoke refresh token", "error", err.Error())
			}
		}
		if token.AccessToken != "" {
			if err := c.revoke(ctx, cfg, revocationEndpoint, token.AccessToken, "access_token"); err != nil {
				slog.Warn("Failed to revoke access token", "error", err.Error())
			}
		}
	}

	err := c.store.Delete(key)

	slog.Info("Logged out", "issuer", cfg.Issuer)
	c.events.publish(Event{Type: EventLogout})
	return err
}

// revoke performs an RFC 7009 token revocation request.
func (c *Client) revoke(ctx context.Context, cfg config.AuthConfig, endpoint, token, hint string) error {
	form := url.Values{
		"token":           {token},
		"token_type_hint": {hint},
	}
	if cfg.ClientSecret == "" {
		form.Set("client_id", cfg.ClientID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if cfg.ClientSecret != "" {
		req.SetBasicAuth(url.QueryEscape(cfg.ClientID), url.QueryEscape(cfg.ClientSecret))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("revocation failed with status %d", resp.StatusCode)
	}
	return nil
}

// HasValidAccessToken reports whether the session has an access token
// that does not expire within the skew window. Tokens without an expiry
// count as valid.
func (c *Client) HasValidAccessToken() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokenValidLocked()
}

func (c *Client) tokenValidLocked() bool {
	if c.token == nil || c.token.AccessToken == "" {
		return false
	}
	if c.token.Expiry.IsZero() {
		return true
	}
	return c.now().Add(tokenExpirySkew).Before(c.token.Expiry)
}

// AccessToken returns the current access token, valid or not.
func (c *Client) AccessToken() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == nil || c.token.AccessToken == "" {
		return "", ErrNoToken
	}
	return c.token.AccessToken, nil
}

// IDToken returns the current raw ID token.
func (c *Client) IDToken() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == nil || c.token.IDToken == "" {
		return "", ErrNoToken
	}
	return c.token.IDToken, nil
}

// AccessTokenExpiration returns the expiry of the current access token.
// The zero time means the provider did not state one.
func (c *Client) AccessTokenExpiration() (time.Time, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == nil || c.token.AccessToken == "" {
		return time.Time{}, ErrNoToken
	}
	return c.token.Expiry, nil
}

// IdentityClaims returns a copy of the verified ID token claims, or nil.
func (c *Client) IdentityClaims() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == nil || c.token.Claims == nil {
		return nil
	}
	return c.token.clone().Claims
}

// Issuer returns the configured issuer, or "".
func (c *Client) Issuer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cfg == nil {
		return ""
	}
	return c.cfg.Issuer
}

// SubscribeEvents returns a channel of session events and a function that
// ends the subscription. The channel is closed on unsubscribe or Close.
func (c *Client) SubscribeEvents() (<-chan Event, func()) {
	return c.events.subscribe()
}

// LastEventSeq returns the Seq of the most recent event. Events a
// subscriber receives later with a Seq at or below it were published
// before this call.
func (c *Client) LastEventSeq() uint64 {
	return c.events.lastSeq()
}

// Close stops background work and pending flows. The stored session is
// kept.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.cancelFlowLocked()
	c.stopRefreshLocked()
	c.stopWatcherLocked()
	c.mu.Unlock()

	c.events.close()
	return nil
}

func (c *Client) tokenKeyLocked() string {
	return TokenKey(c.cfg.Issuer, c.cfg.ClientID)
}

// clientContext makes go-oidc and x/oauth2 use the client's HTTP client.
func (c *Client) clientContext(ctx context.Context) context.Context {
	ctx = oidc.ClientContext(ctx, c.httpClient)
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}
