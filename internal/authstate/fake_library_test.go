package authstate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"warden/internal/config"
	"warden/internal/oidc"
)

var errLibrary = errors.New("library failure")

// fakeLibrary is a scriptable Library.
type fakeLibrary struct {
	mu sync.Mutex

	valid       bool
	accessToken string
	idToken     string
	expiry      time.Time
	claims      map[string]any

	configureErr error
	loadErr      error
	loginErr     error
	logoutErr    error
	refreshErr   error
	tokenErr     error

	// validAfterLoad is the validity LoadDiscoveryDocumentAndTryLogin
	// leaves behind.
	validAfterLoad bool

	configured  *config.AuthConfig
	loginCalls  int
	logoutCalls int
	refreshHook func()
}

func newFakeLibrary(valid bool) *fakeLibrary {
	return &fakeLibrary{
		valid:       valid,
		accessToken: "access-token",
		idToken:     "id-token",
		expiry:      time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (f *fakeLibrary) Configure(cfg config.AuthConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configured = &cfg
	return f.configureErr
}

func (f *fakeLibrary) LoadDiscoveryDocumentAndTryLogin(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return f.loadErr
	}
	f.valid = f.validAfterLoad
	return nil
}

func (f *fakeLibrary) InitLoginFlow(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loginCalls++
	return f.loginErr
}

func (f *fakeLibrary) LogOut(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logoutCalls++
	f.valid = false
	return f.logoutErr
}

func (f *fakeLibrary) RefreshToken(context.Context) error {
	f.mu.Lock()
	hook := f.refreshHook
	err := f.refreshErr
	f.mu.Unlock()

	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		f.valid = false
		return err
	}
	f.valid = true
	f.accessToken = "refreshed-token"
	return nil
}

func (f *fakeLibrary) HasValidAccessToken() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.valid
}

func (f *fakeLibrary) AccessToken() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tokenErr != nil {
		return "", f.tokenErr
	}
	return f.accessToken, nil
}

func (f *fakeLibrary) IDToken() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tokenErr != nil {
		return "", f.tokenErr
	}
	return f.idToken, nil
}

func (f *fakeLibrary) AccessTokenExpiration() (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tokenErr != nil {
		return time.Time{}, f.tokenErr
	}
	return f.expiry, nil
}

func (f *fakeLibrary) IdentityClaims() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.claims
}

func (f *fakeLibrary) setValid(valid bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.valid = valid
}

// eventingLibrary adds an event stream to fakeLibrary.
type eventingLibrary struct {
	*fakeLibrary
	events chan oidc.Event
	once   sync.Once
	seq    atomic.Uint64
}

func newEventingLibrary(valid bool) *eventingLibrary {
	return &eventingLibrary{
		fakeLibrary: newFakeLibrary(valid),
		events:      make(chan oidc.Event, 8),
	}
}

func (e *eventingLibrary) SubscribeEvents() (<-chan oidc.Event, func()) {
	return e.events, func() {
		e.once.Do(func() { close(e.events) })
	}
}

func (e *eventingLibrary) LastEventSeq() uint64 {
	return e.seq.Load()
}

func (e *eventingLibrary) emit(t oidc.EventType) {
	e.events <- oidc.Event{Type: t, Seq: e.seq.Add(1)}
}
