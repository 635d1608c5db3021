package oidc

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/require"

	"warden/internal/config"
)

const (
	testClientID = "warden-test"
	testKID      = "test-key-1"
)

// fakeProvider is a minimal OpenID provider for client tests.
type fakeProvider struct {
	t      *testing.T
	server *httptest.Server
	key    *rsa.PrivateKey

	mu            sync.Mutex
	challenge     string
	nonce         string
	authError     string
	tamperState   bool
	failRefresh   bool
	refreshIDTok  bool
	refreshGate   chan struct{}
	expiresIn     int
	revoked       []string
	issued        int
	lastGrantType string

	discoveryHits atomic.Int32
	refreshHits   atomic.Int32
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	p := &fakeProvider{t: t, key: key, expiresIn: 3600}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", p.handleDiscovery)
	mux.HandleFunc("/authorize", p.handleAuthorize)
	mux.HandleFunc("/token", p.handleToken)
	mux.HandleFunc("/jwks", p.handleJWKS)
	mux.HandleFunc("/revoke", p.handleRevoke)

	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

func (p *fakeProvider) issuer() string {
	return p.server.URL
}

// authConfig returns a valid configuration pointing at the provider with
// background refresh and session checks off.
func (p *fakeProvider) authConfig() config.AuthConfig {
	cfg := config.GetDefaultConfig().Auth
	cfg.Issuer = p.issuer()
	cfg.ClientID = testClientID
	cfg.RedirectURI = "http://127.0.0.1:0/callback"
	cfg.SilentRefresh.Enabled = false
	return cfg
}

func (p *fakeProvider) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	p.discoveryHits.Add(1)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"issuer":                                p.issuer(),
		"authorization_endpoint":                p.issuer() + "/authorize",
		"token_endpoint":                        p.issuer() + "/token",
		"jwks_uri":                              p.issuer() + "/jwks",
		"revocation_endpoint":                   p.issuer() + "/revoke",
		"response_types_supported":              []string{"code"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
		"code_challenge_methods_supported":      []string{"S256"},
	})
}

func (p *fakeProvider) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	p.mu.Lock()
	p.challenge = q.Get("code_challenge")
	p.nonce = q.Get("nonce")
	authError := p.authError
	tamper := p.tamperState
	p.mu.Unlock()

	state := q.Get("state")
	if tamper {
		state = "tampered"
	}

	target, err := url.Parse(q.Get("redirect_uri"))
	if err != nil {
		http.Error(w, "bad redirect_uri", http.StatusBadRequest)
		return
	}
	params := url.Values{"state": {state}}
	if authError != "" {
		params.Set("error", authError)
		params.Set("error_description", "user denied access")
	} else {
		params.Set("code", "test-code")
	}
	target.RawQuery = params.Encode()

	http.Redirect(w, r, target.String(), http.StatusFound)
}

func (p *fakeProvider) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	p.mu.Lock()
	p.lastGrantType = r.PostForm.Get("grant_type")
	p.mu.Unlock()

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		p.mu.Lock()
		challenge := p.challenge
		nonce := p.nonce
		p.mu.Unlock()

		sum := sha256.Sum256([]byte(r.PostForm.Get("code_verifier")))
		if r.PostForm.Get("code") != "test-code" || base64.RawURLEncoding.EncodeToString(sum[:]) != challenge {
			writeTokenError(w, "invalid_grant")
			return
		}
		p.writeTokens(w, nonce, true)

	case "refresh_token":
		p.refreshHits.Add(1)

		p.mu.Lock()
		gate := p.refreshGate
		fail := p.failRefresh
		withIDToken := p.refreshIDTok
		p.mu.Unlock()

		if gate != nil {
			<-gate
		}
		if fail || r.PostForm.Get("refresh_token") == "" {
			writeTokenError(w, "invalid_grant")
			return
		}
		p.writeTokens(w, "", withIDToken)

	default:
		writeTokenError(w, "unsupported_grant_type")
	}
}

func (p *fakeProvider) writeTokens(w http.ResponseWriter, nonce string, withIDToken bool) {
	p.mu.Lock()
	p.issued++
	n := p.issued
	expiresIn := p.expiresIn
	p.mu.Unlock()

	resp := map[string]any{
		"access_token":  "access-" + strconv.Itoa(n),
		"refresh_token": "refresh-" + strconv.Itoa(n),
		"token_type":    "Bearer",
		"expires_in":    expiresIn,
	}
	if withIDToken {
		resp["id_token"] = p.signIDToken(nonce, "Jane-"+strconv.Itoa(n))
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (p *fakeProvider) signIDToken(nonce, givenName string) string {
	p.t.Helper()

	opts := &jose.SignerOptions{}
	opts.WithHeader("kid", testKID)
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.RS256, Key: p.key}, opts)
	require.NoError(p.t, err)

	now := time.Now()
	claims := map[string]any{
		"iss":         p.issuer(),
		"aud":         testClientID,
		"sub":         "user-123",
		"iat":         now.Unix(),
		"exp":         now.Add(time.Hour).Unix(),
		"given_name":  givenName,
		"family_name": "Doe",
		"email":       "jane@example.com",
	}
	if nonce != "" {
		claims["nonce"] = nonce
	}

	token, err := jwt.Signed(signer).Claims(claims).Serialize()
	require.NoError(p.t, err)
	return token
}

func (p *fakeProvider) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	jwks := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &p.key.PublicKey,
		KeyID:     testKID,
		Algorithm: string(jose.RS256),
		Use:       "sig",
	}}}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(jwks)
}

func (p *fakeProvider) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	p.mu.Lock()
	p.revoked = append(p.revoked, r.PostForm.Get("token"))
	p.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (p *fakeProvider) revokedTokens() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.revoked...)
}

func writeTokenError(w http.ResponseWriter, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}

// followRedirects is a URL opener that plays the browser: it requests the
// authorization URL and follows the redirect back to the callback server.
func followRedirects(u string) error {
	resp, err := http.Get(u)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// waitForEvent reads events until one of type want arrives.
func waitForEvent(t *testing.T, ch <-chan Event, want EventType) Event {
	t.Helper()

	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("event channel closed while waiting for %s", want)
			}
			if ev.Type == want {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for event %s", want)
		}
	}
}
