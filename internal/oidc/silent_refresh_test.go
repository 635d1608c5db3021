package oidc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRefreshDelay(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		token     *StoredToken
		factor    float64
		wantOK    bool
		wantDelay time.Duration
	}{
		{
			name:   "no token",
			factor: 0.75,
		},
		{
			name:   "no refresh token",
			token:  &StoredToken{AccessToken: "a", Expiry: now.Add(time.Hour), CreatedAt: now},
			factor: 0.75,
		},
		{
			name:   "no expiry",
			token:  &StoredToken{AccessToken: "a", RefreshToken: "r", CreatedAt: now},
			factor: 0.75,
		},
		{
			name:      "fresh token",
			token:     &StoredToken{RefreshToken: "r", Expiry: now.Add(time.Hour), CreatedAt: now},
			factor:    0.75,
			wantOK:    true,
			wantDelay: 45 * time.Minute,
		},
		{
			name:      "half way through lifetime",
			token:     &StoredToken{RefreshToken: "r", Expiry: now.Add(30 * time.Minute), CreatedAt: now.Add(-30 * time.Minute)},
			factor:    0.75,
			wantOK:    true,
			wantDelay: 15 * time.Minute,
		},
		{
			name:      "already due",
			token:     &StoredToken{RefreshToken: "r", Expiry: now.Add(time.Minute), CreatedAt: now.Add(-time.Hour)},
			factor:    0.75,
			wantOK:    true,
			wantDelay: minRefreshDelay,
		},
		{
			name:      "missing creation time",
			token:     &StoredToken{RefreshToken: "r", Expiry: now.Add(time.Hour)},
			factor:    0.5,
			wantOK:    true,
			wantDelay: 30 * time.Minute,
		},
		{
			name:      "factor one refreshes at expiry",
			token:     &StoredToken{RefreshToken: "r", Expiry: now.Add(time.Hour), CreatedAt: now},
			factor:    1,
			wantOK:    true,
			wantDelay: time.Hour,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delay, ok := refreshDelay(tt.token, tt.factor, now)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantDelay, delay)
			}
		})
	}
}
