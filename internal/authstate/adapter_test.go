package authstate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/internal/config"
	"warden/internal/oidc"
)

func newAdapter(t *testing.T, lib Library, opts ...Option) *Adapter {
	t.Helper()
	a := New(lib, opts...)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

// assertPending checks that resultCh stays empty for a short while.
func assertPending[T any](t *testing.T, resultCh <-chan T) {
	t.Helper()
	select {
	case r := <-resultCh:
		t.Fatalf("gated call resolved early with %v", r)
	case <-time.After(100 * time.Millisecond):
	}
}

type tokenResult struct {
	token string
	err   error
}

func TestNew_SeedsStateFromLibrary(t *testing.T) {
	assert.True(t, newAdapter(t, newFakeLibrary(true)).IsLoggedIn())
	assert.False(t, newAdapter(t, newFakeLibrary(false)).IsLoggedIn())
}

func TestConfigure_StateFollowsLibrary(t *testing.T) {
	tests := []struct {
		name         string
		initial      bool
		validAfter   bool
		wantLoggedIn bool
	}{
		{name: "restores session", initial: false, validAfter: true, wantLoggedIn: true},
		{name: "no session", initial: false, validAfter: false, wantLoggedIn: false},
		{name: "session lost", initial: true, validAfter: false, wantLoggedIn: false},
		{name: "session kept", initial: true, validAfter: true, wantLoggedIn: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lib := newFakeLibrary(tt.initial)
			lib.validAfterLoad = tt.validAfter
			a := newAdapter(t, lib)

			require.NoError(t, a.Configure(context.Background(), config.AuthConfig{ClientID: "client"}))
			assert.Equal(t, tt.wantLoggedIn, a.IsLoggedIn())
			assert.Equal(t, tt.wantLoggedIn, a.HasValidAccessToken())
		})
	}
}

func TestConfigure_ForwardsConfig(t *testing.T) {
	lib := newFakeLibrary(false)
	a := newAdapter(t, lib)

	cfg := config.AuthConfig{Issuer: "https://issuer.example.com", ClientID: "client"}
	require.NoError(t, a.Configure(context.Background(), cfg))

	require.NotNil(t, lib.configured)
	assert.Equal(t, cfg, *lib.configured)
}

func TestConfigure_Failures(t *testing.T) {
	t.Run("configure error", func(t *testing.T) {
		lib := newFakeLibrary(true)
		lib.configureErr = errLibrary
		a := newAdapter(t, lib)

		err := a.Configure(context.Background(), config.AuthConfig{})
		assert.ErrorIs(t, err, errLibrary)
		assert.False(t, a.IsLoggedIn())
	})

	t.Run("discovery error", func(t *testing.T) {
		lib := newFakeLibrary(true)
		lib.loadErr = errLibrary
		a := newAdapter(t, lib)

		err := a.Configure(context.Background(), config.AuthConfig{})
		assert.ErrorIs(t, err, errLibrary)
		assert.False(t, a.IsLoggedIn())
	})
}

func TestConfigure_AutoLogin(t *testing.T) {
	tests := []struct {
		name       string
		autoLogin  bool
		validAfter bool
		wantLogins int
	}{
		{name: "off", autoLogin: false, validAfter: false, wantLogins: 0},
		{name: "on without session", autoLogin: true, validAfter: false, wantLogins: 1},
		{name: "on with session", autoLogin: true, validAfter: true, wantLogins: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lib := newFakeLibrary(false)
			lib.validAfterLoad = tt.validAfter
			a := newAdapter(t, lib, WithAutoLogin(tt.autoLogin))

			require.NoError(t, a.Configure(context.Background(), config.AuthConfig{}))
			assert.Equal(t, tt.wantLogins, lib.loginCalls)
		})
	}
}

func TestConfigure_AutoLoginError(t *testing.T) {
	lib := newFakeLibrary(false)
	lib.loginErr = errLibrary
	a := newAdapter(t, lib, WithAutoLogin(true))

	err := a.Configure(context.Background(), config.AuthConfig{})
	assert.ErrorIs(t, err, errLibrary)
	assert.False(t, a.IsLoggedIn())
}

func TestLogin_DelegatesWithoutStateChange(t *testing.T) {
	lib := newFakeLibrary(false)
	a := newAdapter(t, lib)

	require.NoError(t, a.Login(context.Background()))
	assert.Equal(t, 1, lib.loginCalls)
	assert.False(t, a.IsLoggedIn())

	lib.loginErr = errLibrary
	assert.ErrorIs(t, a.Login(context.Background()), errLibrary)
}

func TestLogout_AlwaysLeavesStateFalse(t *testing.T) {
	for _, initial := range []bool{true, false} {
		for _, logoutErr := range []error{nil, errLibrary} {
			lib := newFakeLibrary(initial)
			lib.logoutErr = logoutErr
			a := newAdapter(t, lib)

			err := a.Logout(context.Background())
			if logoutErr != nil {
				assert.ErrorIs(t, err, errLibrary)
			} else {
				assert.NoError(t, err)
			}
			assert.False(t, a.IsLoggedIn(), "initial=%t err=%v", initial, logoutErr)
			assert.Equal(t, 1, lib.logoutCalls)
		}
	}
}

func TestAccessToken_WaitsForConfigure(t *testing.T) {
	lib := newFakeLibrary(false)
	a := newAdapter(t, lib)

	resultCh := make(chan tokenResult, 1)
	go func() {
		token, err := a.AccessToken(context.Background())
		resultCh <- tokenResult{token, err}
	}()

	assertPending(t, resultCh)

	lib.validAfterLoad = true
	require.NoError(t, a.Configure(context.Background(), config.AuthConfig{}))

	select {
	case r := <-resultCh:
		require.NoError(t, r.err)
		assert.Equal(t, "access-token", r.token)
	case <-time.After(5 * time.Second):
		t.Fatal("access token was not released after login")
	}
}

func TestAccessToken_WaitsForBackgroundRefresh(t *testing.T) {
	lib := newEventingLibrary(false)
	a := newAdapter(t, lib)

	resultCh := make(chan tokenResult, 1)
	go func() {
		token, err := a.AccessToken(context.Background())
		resultCh <- tokenResult{token, err}
	}()

	assertPending(t, resultCh)

	lib.setValid(true)
	lib.emit(oidc.EventTokenRefreshed)

	select {
	case r := <-resultCh:
		require.NoError(t, r.err)
		assert.Equal(t, "access-token", r.token)
	case <-time.After(5 * time.Second):
		t.Fatal("access token was not released after refresh")
	}
}

func TestAccessToken_NoInternalTimeout(t *testing.T) {
	a := newAdapter(t, newFakeLibrary(false))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := a.AccessToken(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}

func TestGatedCalls_ReleasedByClose(t *testing.T) {
	a := New(newFakeLibrary(false))

	errCh := make(chan error, 4)
	go func() { _, err := a.AccessToken(context.Background()); errCh <- err }()
	go func() { _, err := a.IDToken(context.Background()); errCh <- err }()
	go func() { _, err := a.AccessTokenExpiration(context.Background()); errCh <- err }()
	go func() { errCh <- a.RefreshToken(context.Background()) }()

	assertPending(t, errCh)
	require.NoError(t, a.Close())

	for i := 0; i < 4; i++ {
		select {
		case err := <-errCh:
			assert.ErrorIs(t, err, ErrClosed)
		case <-time.After(5 * time.Second):
			t.Fatal("gated call not released by Close")
		}
	}
}

func TestGatedAccessors_ReturnLibraryValues(t *testing.T) {
	lib := newFakeLibrary(true)
	a := newAdapter(t, lib)
	ctx := context.Background()

	token, err := a.AccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-token", token)

	idToken, err := a.IDToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "id-token", idToken)

	expiry, err := a.AccessTokenExpiration(ctx)
	require.NoError(t, err)
	assert.Equal(t, lib.expiry, expiry)
}

func TestGatedAccessors_LibraryErrorKeepsState(t *testing.T) {
	lib := newFakeLibrary(true)
	lib.tokenErr = errLibrary
	a := newAdapter(t, lib)
	ctx := context.Background()

	_, err := a.AccessToken(ctx)
	assert.ErrorIs(t, err, errLibrary)
	_, err = a.IDToken(ctx)
	assert.ErrorIs(t, err, errLibrary)
	_, err = a.AccessTokenExpiration(ctx)
	assert.ErrorIs(t, err, errLibrary)

	assert.True(t, a.IsLoggedIn())
}

func TestRefreshToken(t *testing.T) {
	t.Run("success sets true", func(t *testing.T) {
		lib := newFakeLibrary(true)
		a := newAdapter(t, lib)

		require.NoError(t, a.RefreshToken(context.Background()))
		assert.True(t, a.IsLoggedIn())

		token, err := a.AccessToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "refreshed-token", token)
	})

	t.Run("failure sets false and is returned", func(t *testing.T) {
		lib := newFakeLibrary(true)
		lib.refreshErr = errLibrary
		a := newAdapter(t, lib)

		err := a.RefreshToken(context.Background())
		assert.ErrorIs(t, err, errLibrary)
		assert.False(t, a.IsLoggedIn())
	})

	t.Run("waits for login", func(t *testing.T) {
		lib := newFakeLibrary(false)
		called := false
		lib.refreshHook = func() { called = true }
		a := newAdapter(t, lib)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		assert.ErrorIs(t, a.RefreshToken(ctx), context.DeadlineExceeded)
		assert.False(t, called)
	})
}

func TestCurrentAccessToken(t *testing.T) {
	lib := newFakeLibrary(false)
	a := newAdapter(t, lib)

	_, ok := a.CurrentAccessToken()
	assert.False(t, ok)

	lib.setValid(true)
	token, ok := a.CurrentAccessToken()
	assert.True(t, ok)
	assert.Equal(t, "access-token", token)

	lib.tokenErr = errLibrary
	_, ok = a.CurrentAccessToken()
	assert.False(t, ok)
}

func TestSubscribe_ReplaysLatestState(t *testing.T) {
	lib := newFakeLibrary(false)
	lib.validAfterLoad = true
	a := newAdapter(t, lib)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	states := a.Subscribe(ctx)
	assert.False(t, <-states)

	require.NoError(t, a.Configure(context.Background(), config.AuthConfig{}))
	assert.True(t, <-states)

	late := a.Subscribe(ctx)
	assert.True(t, <-late)

	require.NoError(t, a.Logout(context.Background()))
	assert.False(t, <-states)
	assert.False(t, <-late)
}

func TestLibraryEvents(t *testing.T) {
	tests := []struct {
		event        oidc.EventType
		initial      bool
		libValid     bool
		wantLoggedIn bool
	}{
		{event: oidc.EventTokenReceived, initial: false, libValid: true, wantLoggedIn: true},
		{event: oidc.EventTokenRefreshed, initial: false, libValid: true, wantLoggedIn: true},
		{event: oidc.EventSessionChanged, initial: false, libValid: true, wantLoggedIn: true},
		{event: oidc.EventSessionChanged, initial: true, libValid: false, wantLoggedIn: false},
		{event: oidc.EventTokenRefreshError, initial: true, libValid: true, wantLoggedIn: false},
		{event: oidc.EventSessionTerminated, initial: true, libValid: true, wantLoggedIn: false},
		{event: oidc.EventLogout, initial: true, libValid: true, wantLoggedIn: false},
	}

	for _, tt := range tests {
		t.Run(string(tt.event), func(t *testing.T) {
			lib := newEventingLibrary(tt.initial)
			a := newAdapter(t, lib)
			require.Equal(t, tt.initial, a.IsLoggedIn())

			lib.setValid(tt.libValid)
			lib.emit(tt.event)

			assert.Eventually(t, func() bool { return a.IsLoggedIn() == tt.wantLoggedIn }, 5*time.Second, 5*time.Millisecond)
		})
	}
}

func TestConfigure_SupersedesQueuedEvents(t *testing.T) {
	lib := newEventingLibrary(true)
	a := newAdapter(t, lib)

	// A refresh failure is still queued when Configure restores the session.
	lib.setValid(false)
	lib.emit(oidc.EventTokenRefreshError)
	lib.mu.Lock()
	lib.validAfterLoad = true
	lib.mu.Unlock()

	require.NoError(t, a.Configure(context.Background(), config.AuthConfig{ClientID: "client"}))
	assert.True(t, a.IsLoggedIn())
	assert.Never(t, func() bool { return !a.IsLoggedIn() }, 100*time.Millisecond, 2*time.Millisecond)

	// Events published afterwards still apply.
	lib.emit(oidc.EventTokenRefreshError)
	assert.Eventually(t, func() bool { return !a.IsLoggedIn() }, 5*time.Second, 5*time.Millisecond)
}

func TestRefreshToken_SupersedesQueuedEvents(t *testing.T) {
	lib := newEventingLibrary(true)
	a := newAdapter(t, lib)

	// A background refresh fails while this one is in flight.
	lib.refreshHook = func() { lib.emit(oidc.EventTokenRefreshError) }
	require.NoError(t, a.RefreshToken(context.Background()))

	assert.True(t, a.IsLoggedIn())
	assert.Never(t, func() bool { return !a.IsLoggedIn() }, 100*time.Millisecond, 2*time.Millisecond)
}

func TestClose_StopsStateWrites(t *testing.T) {
	lib := newEventingLibrary(true)
	a := New(lib)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	states := a.Subscribe(ctx)
	assert.True(t, <-states)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	_, ok := <-states
	assert.False(t, ok, "state stream completes on close")

	// A library call finishing after teardown does not write state.
	_ = a.Logout(context.Background())
	assert.True(t, a.IsLoggedIn())
}

func TestClaims(t *testing.T) {
	tests := []struct {
		name        string
		claims      map[string]any
		wantFirst   string
		wantFirstOK bool
		wantLast    string
		wantLastOK  bool
		wantUser    string
		wantUserOK  bool
		wantFull    string
	}{
		{
			name:     "no claims",
			claims:   nil,
			wantFull: "",
		},
		{
			name:        "full identity",
			claims:      map[string]any{"sub": "u1", "given_name": "Ada", "family_name": "Lovelace"},
			wantFirst:   "Ada",
			wantFirstOK: true,
			wantLast:    "Lovelace",
			wantLastOK:  true,
			wantUser:    "u1",
			wantUserOK:  true,
			wantFull:    "Ada Lovelace",
		},
		{
			name:        "given name only",
			claims:      map[string]any{"sub": "u2", "given_name": "Ada"},
			wantFirst:   "Ada",
			wantFirstOK: true,
			wantUser:    "u2",
			wantUserOK:  true,
			wantFull:    "Ada",
		},
		{
			name:       "family name only",
			claims:     map[string]any{"family_name": "Lovelace"},
			wantLast:   "Lovelace",
			wantLastOK: true,
			wantFull:   "Lovelace",
		},
		{
			name:     "non-string claims are absent",
			claims:   map[string]any{"sub": 42, "given_name": []string{"Ada"}},
			wantFull: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lib := newFakeLibrary(true)
			lib.claims = tt.claims
			a := newAdapter(t, lib)

			first, ok := a.FirstName()
			assert.Equal(t, tt.wantFirst, first)
			assert.Equal(t, tt.wantFirstOK, ok)

			last, ok := a.LastName()
			assert.Equal(t, tt.wantLast, last)
			assert.Equal(t, tt.wantLastOK, ok)

			user, ok := a.UserID()
			assert.Equal(t, tt.wantUser, user)
			assert.Equal(t, tt.wantUserOK, ok)

			assert.Equal(t, tt.wantFull, a.FullName())
		})
	}
}
