package oidc

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zalando/go-keyring"
	"golang.org/x/oauth2"

	"warden/internal/config"
)

// keyringService is the service name tokens are filed under in the OS keychain.
const keyringService = "warden"

// TokenStore persists the session token of an issuer/client pair.
// It keeps an in-memory cache in front of the configured backend.
//
// SECURITY: This store handles sensitive OAuth credentials:
//   - Files are created with 0600 permissions inside a 0700 directory
//   - Token values are NEVER logged (only issuer and client ID)
type TokenStore struct {
	mu      sync.RWMutex
	backend tokenBackend
	dir     string
	tokens  map[string]*StoredToken
}

// StoredToken represents a stored OAuth token with metadata.
type StoredToken struct {
	// AccessToken is the OAuth access token.
	AccessToken string `json:"access_token"`

	// RefreshToken is the OAuth refresh token (if available).
	RefreshToken string `json:"refresh_token,omitempty"`

	// TokenType is typically "Bearer".
	TokenType string `json:"token_type"`

	// Expiry is when the access token expires.
	Expiry time.Time `json:"expiry,omitempty"`

	// IDToken is the raw OIDC ID token (if available).
	IDToken string `json:"id_token,omitempty"`

	// Claims are the verified claims of the ID token.
	Claims map[string]any `json:"claims,omitempty"`

	// Issuer and ClientID identify the session.
	Issuer   string `json:"issuer"`
	ClientID string `json:"client_id"`

	// CreatedAt is when the access token was obtained.
	CreatedAt time.Time `json:"created_at"`
}

// ToOAuth2Token converts a StoredToken to an oauth2.Token.
func (t *StoredToken) ToOAuth2Token() *oauth2.Token {
	token := &oauth2.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		Expiry:       t.Expiry,
	}
	if t.IDToken != "" {
		token = token.WithExtra(map[string]interface{}{
			"id_token": t.IDToken,
		})
	}
	return token
}

// clone returns a copy that shares no maps with t.
func (t *StoredToken) clone() *StoredToken {
	if t == nil {
		return nil
	}
	c := *t
	if t.Claims != nil {
		c.Claims = make(map[string]any, len(t.Claims))
		for k, v := range t.Claims {
			c.Claims[k] = v
		}
	}
	return &c
}

// TokenStoreConfig configures the token store.
type TokenStoreConfig struct {
	// Type selects the backend. Empty means memory.
	Type config.StorageType

	// Dir is the directory for token files (file backend only).
	Dir string
}

type tokenBackend interface {
	load(key string) (*StoredToken, error)
	save(key string, token *StoredToken) error
	remove(key string) error
}

// errTokenNotFound is returned by backends when nothing is stored for a key.
var errTokenNotFound = errors.New("token not found")

// NewTokenStore creates a token store backed by the configured storage.
func NewTokenStore(cfg TokenStoreConfig) (*TokenStore, error) {
	store := NewMemoryTokenStore()

	switch cfg.Type {
	case config.StorageFile:
		if cfg.Dir == "" {
			return nil, errors.New("file token storage requires a directory")
		}
		if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create token storage directory: %w", err)
		}
		store.dir = cfg.Dir
		store.backend = fileBackend{dir: cfg.Dir}
	case config.StorageKeyring:
		store.backend = keyringBackend{service: keyringService}
	case config.StorageMemory, "":
	default:
		return nil, fmt.Errorf("unsupported token storage type %q", cfg.Type)
	}

	return store, nil
}

// NewMemoryTokenStore creates a store that keeps tokens in process memory
// only.
func NewMemoryTokenStore() *TokenStore {
	return &TokenStore{
		tokens: make(map[string]*StoredToken),
	}
}

// TokenKey derives a storage key for an issuer/client pair.
// Uses a SHA256 hash to create filesystem-safe identifiers.
func TokenKey(issuer, clientID string) string {
	hash := sha256.Sum256([]byte(issuer + "\n" + clientID))
	return hex.EncodeToString(hash[:16])
}

// Store saves a token under key.
// SECURITY: Token values are never logged.
func (s *TokenStore) Store(key string, token *StoredToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[key] = token.clone()

	if s.backend == nil {
		return nil
	}
	if err := s.backend.save(key, token); err != nil {
		slog.Warn("SECURITY_AUDIT: OAuth token storage failed",
			"event", "token_store_failed",
			"issuer", token.Issuer,
			"client_id", token.ClientID,
			"error", err.Error(),
		)
		return fmt.Errorf("failed to persist token: %w", err)
	}

	slog.Debug("SECURITY_AUDIT: OAuth token stored",
		"event", "token_stored",
		"issuer", token.Issuer,
		"client_id", token.ClientID,
		"expiry", token.Expiry.Format(time.RFC3339),
		"has_refresh_token", token.RefreshToken != "",
	)
	return nil
}

// Load returns the token stored under key, expired or not, or nil.
func (s *TokenStore) Load(key string) *StoredToken {
	s.mu.RLock()
	if token, ok := s.tokens[key]; ok {
		s.mu.RUnlock()
		return token.clone()
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(key)
}

// Reload drops the cached entry and reads key from the backend again.
// Used when another process may have changed the stored session.
func (s *TokenStore) Reload(key string) *StoredToken {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.backend != nil {
		delete(s.tokens, key)
	}
	return s.loadLocked(key)
}

func (s *TokenStore) loadLocked(key string) *StoredToken {
	if token, ok := s.tokens[key]; ok {
		return token.clone()
	}
	if s.backend == nil {
		return nil
	}

	token, err := s.backend.load(key)
	if err != nil {
		if !errors.Is(err, errTokenNotFound) {
			slog.Warn("Failed to read stored token", "error", err.Error())
		}
		return nil
	}
	s.tokens[key] = token
	return token.clone()
}

// Delete removes the token stored under key.
func (s *TokenStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tokens, key)
	if s.backend == nil {
		return nil
	}
	if err := s.backend.remove(key); err != nil {
		slog.Warn("SECURITY_AUDIT: OAuth token deletion failed",
			"event", "token_delete_failed",
			"error", err.Error(),
		)
		return err
	}

	slog.Debug("SECURITY_AUDIT: OAuth token deleted", "event", "token_deleted")
	return nil
}

// Dir returns the directory of the file backend, or "" for other backends.
func (s *TokenStore) Dir() string {
	return s.dir
}

// FilePath returns the file that holds key (file backend only).
func (s *TokenStore) FilePath(key string) string {
	if s.dir == "" {
		return ""
	}
	return filepath.Join(s.dir, key+".json")
}

type fileBackend struct {
	dir string
}

func (b fileBackend) path(key string) string {
	return filepath.Join(b.dir, key+".json")
}

func (b fileBackend) load(key string) (*StoredToken, error) {
	// #nosec G304 -- path is built from an internal hash, not user input
	data, err := os.ReadFile(b.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errTokenNotFound
		}
		return nil, err
	}
	return decodeToken(data)
}

// save writes through a temp file so readers watching the directory never
// observe a partially written token.
func (b fileBackend) save(key string, token *StoredToken) error {
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	tmp, err := os.CreateTemp(b.dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return os.Rename(tmpName, b.path(key))
}

func (b fileBackend) remove(key string) error {
	err := os.Remove(b.path(key))
	if os.IsNotExist(err) {
		return nil // Already deleted
	}
	return err
}

type keyringBackend struct {
	service string
}

func (b keyringBackend) load(key string) (*StoredToken, error) {
	secret, err := keyring.Get(b.service, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, errTokenNotFound
		}
		return nil, fmt.Errorf("failed to read token from keyring: %w", err)
	}
	return decodeToken([]byte(secret))
}

func (b keyringBackend) save(key string, token *StoredToken) error {
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}
	if err := keyring.Set(b.service, key, string(data)); err != nil {
		return fmt.Errorf("failed to write token to keyring: %w", err)
	}
	return nil
}

func (b keyringBackend) remove(key string) error {
	err := keyring.Delete(b.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

func decodeToken(data []byte) (*StoredToken, error) {
	var token StoredToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}
	return &token, nil
}
