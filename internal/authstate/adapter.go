package authstate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"warden/internal/config"
	"warden/internal/oidc"
	"warden/pkg/logging"
)

const subsystem = "AuthState"

// Library is the OIDC client the adapter wraps. *oidc.Client implements it.
type Library interface {
	Configure(cfg config.AuthConfig) error
	LoadDiscoveryDocumentAndTryLogin(ctx context.Context) error
	InitLoginFlow(ctx context.Context) error
	LogOut(ctx context.Context) error
	RefreshToken(ctx context.Context) error

	HasValidAccessToken() bool
	AccessToken() (string, error)
	IDToken() (string, error)
	AccessTokenExpiration() (time.Time, error)
	IdentityClaims() map[string]any
}

// EventSource is implemented by libraries that report session changes made
// outside adapter calls, such as background refreshes.
type EventSource interface {
	SubscribeEvents() (<-chan oidc.Event, func())
	LastEventSeq() uint64
}

// Adapter turns the OIDC library's calls into one observable "logged in"
// state. It is the only writer of that state.
type Adapter struct {
	lib       Library
	state     *Notifier[bool]
	autoLogin bool

	// mu orders direct writes against event handling. Events with a Seq
	// at or below eventFloor were published before the last direct write
	// and are dropped.
	mu         sync.Mutex
	events     EventSource
	eventFloor uint64

	stopEvents func()
	listener   sync.WaitGroup
	closeOnce  sync.Once
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithAutoLogin makes Configure start an interactive login when no valid
// session could be restored.
func WithAutoLogin(enabled bool) Option {
	return func(a *Adapter) {
		a.autoLogin = enabled
	}
}

// New creates an Adapter for lib. The initial state is the library's
// current token validity.
func New(lib Library, opts ...Option) *Adapter {
	a := &Adapter{
		lib:   lib,
		state: NewNotifier(lib.HasValidAccessToken()),
	}
	for _, opt := range opts {
		opt(a)
	}

	if src, ok := lib.(EventSource); ok {
		events, stop := src.SubscribeEvents()
		a.events = src
		a.stopEvents = stop
		a.listener.Add(1)
		go a.listen(events)
	}

	return a
}

// listen maps library events to state.
func (a *Adapter) listen(events <-chan oidc.Event) {
	defer a.listener.Done()

	for ev := range events {
		a.handleEvent(ev)
	}
}

func (a *Adapter) handleEvent(ev oidc.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if ev.Seq != 0 && ev.Seq <= a.eventFloor {
		logging.Debug(subsystem, "Ignoring stale %s event (seq %d)", ev.Type, ev.Seq)
		return
	}

	switch ev.Type {
	case oidc.EventTokenRefreshError, oidc.EventSessionTerminated, oidc.EventLogout:
		if ev.Err != nil {
			logging.Debug(subsystem, "Library reported %s: %v", ev.Type, ev.Err)
		}
		a.setLoggedIn(false)
	case oidc.EventTokenReceived, oidc.EventTokenRefreshed, oidc.EventSessionChanged:
		a.setLoggedIn(a.lib.HasValidAccessToken())
	}
}

// commit writes the result of an adapter call. Events still queued from
// before the call no longer apply once it has been written.
func (a *Adapter) commit(loggedIn func() bool) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.events != nil {
		a.eventFloor = a.events.LastEventSeq()
	}
	v := loggedIn()
	a.setLoggedIn(v)
	return v
}

func constant(v bool) func() bool {
	return func() bool { return v }
}

func (a *Adapter) setLoggedIn(loggedIn bool) {
	if a.state.Set(loggedIn) {
		logging.Debug(subsystem, "Logged in: %t", loggedIn)
	}
}

// Configure hands cfg to the library, loads the discovery document and
// tries to restore or complete a login. The state afterwards reflects
// whether the library holds a valid access token.
func (a *Adapter) Configure(ctx context.Context, cfg config.AuthConfig) error {
	if err := a.lib.Configure(cfg); err != nil {
		logging.Error(subsystem, err, "Failed to configure OIDC client")
		a.commit(constant(false))
		return fmt.Errorf("configure: %w", err)
	}

	if err := a.lib.LoadDiscoveryDocumentAndTryLogin(ctx); err != nil {
		logging.Error(subsystem, err, "Failed to load discovery document")
		a.commit(constant(false))
		return fmt.Errorf("load discovery document: %w", err)
	}

	loggedIn := a.commit(a.lib.HasValidAccessToken)

	if !loggedIn && a.autoLogin {
		logging.Info(subsystem, "No valid session, starting login")
		if err := a.lib.InitLoginFlow(ctx); err != nil {
			logging.Error(subsystem, err, "Failed to start login flow")
			return fmt.Errorf("start login: %w", err)
		}
	}
	return nil
}

// Login starts the interactive login flow. The state changes once the flow
// completes.
func (a *Adapter) Login(ctx context.Context) error {
	if err := a.lib.InitLoginFlow(ctx); err != nil {
		logging.Error(subsystem, err, "Failed to start login flow")
		return fmt.Errorf("start login: %w", err)
	}
	return nil
}

// Logout ends the session. The state is false afterwards even when the
// library reports an error.
func (a *Adapter) Logout(ctx context.Context) error {
	err := a.lib.LogOut(ctx)
	a.commit(constant(false))
	if err != nil {
		logging.Error(subsystem, err, "Logout reported an error")
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// awaitLoggedIn blocks until the state is true.
func (a *Adapter) awaitLoggedIn(ctx context.Context) error {
	_, err := a.state.Wait(ctx, func(loggedIn bool) bool { return loggedIn })
	return err
}

// AccessToken waits until logged in and returns the access token.
func (a *Adapter) AccessToken(ctx context.Context) (string, error) {
	if err := a.awaitLoggedIn(ctx); err != nil {
		return "", err
	}
	token, err := a.lib.AccessToken()
	if err != nil {
		logging.Error(subsystem, err, "Failed to read access token")
		return "", fmt.Errorf("access token: %w", err)
	}
	return token, nil
}

// IDToken waits until logged in and returns the raw ID token.
func (a *Adapter) IDToken(ctx context.Context) (string, error) {
	if err := a.awaitLoggedIn(ctx); err != nil {
		return "", err
	}
	token, err := a.lib.IDToken()
	if err != nil {
		logging.Error(subsystem, err, "Failed to read ID token")
		return "", fmt.Errorf("id token: %w", err)
	}
	return token, nil
}

// AccessTokenExpiration waits until logged in and returns the access
// token expiry.
func (a *Adapter) AccessTokenExpiration(ctx context.Context) (time.Time, error) {
	if err := a.awaitLoggedIn(ctx); err != nil {
		return time.Time{}, err
	}
	expiry, err := a.lib.AccessTokenExpiration()
	if err != nil {
		logging.Error(subsystem, err, "Failed to read access token expiration")
		return time.Time{}, fmt.Errorf("access token expiration: %w", err)
	}
	return expiry, nil
}

// RefreshToken waits until logged in and refreshes the tokens. Success
// sets the state to true, failure to false.
func (a *Adapter) RefreshToken(ctx context.Context) error {
	if err := a.awaitLoggedIn(ctx); err != nil {
		return err
	}
	if err := a.lib.RefreshToken(ctx); err != nil {
		logging.Error(subsystem, err, "Token refresh failed")
		a.commit(constant(false))
		return fmt.Errorf("refresh token: %w", err)
	}
	a.commit(constant(true))
	return nil
}

// HasValidAccessToken asks the library directly, without waiting.
func (a *Adapter) HasValidAccessToken() bool {
	return a.lib.HasValidAccessToken()
}

// CurrentAccessToken returns the access token if it is valid right now.
func (a *Adapter) CurrentAccessToken() (string, bool) {
	if !a.lib.HasValidAccessToken() {
		return "", false
	}
	token, err := a.lib.AccessToken()
	if err != nil || token == "" {
		return "", false
	}
	return token, true
}

// IsLoggedIn returns the current state.
func (a *Adapter) IsLoggedIn() bool {
	return a.state.Get()
}

// Subscribe returns the current state followed by every change until ctx
// ends or the adapter is closed.
func (a *Adapter) Subscribe(ctx context.Context) <-chan bool {
	return a.state.Subscribe(ctx)
}

// Close stops listening to the library and completes the state stream.
// Pending gated calls return ErrClosed.
func (a *Adapter) Close() error {
	a.closeOnce.Do(func() {
		if a.stopEvents != nil {
			a.stopEvents()
		}
		a.listener.Wait()
		a.state.Close()
	})
	return nil
}
