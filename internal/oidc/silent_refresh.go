package oidc

import (
	"context"
	"log/slog"
	"time"
)

// minRefreshDelay keeps an already-due refresh from spinning.
const minRefreshDelay = time.Second

// refreshDelay returns how long to wait before refreshing token, based on
// the fraction of its lifetime given by factor. ok is false when the token
// cannot be refreshed or has no expiry.
func refreshDelay(token *StoredToken, factor float64, now time.Time) (time.Duration, bool) {
	if token == nil || token.RefreshToken == "" || token.Expiry.IsZero() {
		return 0, false
	}

	issued := token.CreatedAt
	if issued.IsZero() || !issued.Before(token.Expiry) {
		issued = now
	}

	lifetime := token.Expiry.Sub(issued)
	due := issued.Add(time.Duration(float64(lifetime) * factor))

	delay := due.Sub(now)
	if delay < minRefreshDelay {
		delay = minRefreshDelay
	}
	return delay, true
}

// scheduleRefreshLocked (re)arms the silent refresh timer for the current
// token. Must be called with c.mu held.
func (c *Client) scheduleRefreshLocked() {
	c.stopRefreshLocked()

	if c.closed || c.cfg == nil || !c.cfg.SilentRefresh.Enabled {
		return
	}

	delay, ok := refreshDelay(c.token, c.cfg.TimeoutFactor, c.now())
	if !ok {
		return
	}

	c.refreshGen++
	gen := c.refreshGen
	c.refreshTimer = time.AfterFunc(delay, func() {
		c.silentRefresh(gen)
	})

	slog.Debug("Silent refresh scheduled", "in", delay.Round(time.Second).String())
}

// stopRefreshLocked disarms the silent refresh timer. Must be called with
// c.mu held.
func (c *Client) stopRefreshLocked() {
	c.refreshGen++
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
		c.refreshTimer = nil
	}
}

func (c *Client) silentRefresh(gen uint64) {
	c.mu.RLock()
	stale := gen != c.refreshGen || c.closed
	c.mu.RUnlock()
	if stale {
		return
	}

	slog.Debug("Running silent refresh")
	if err := c.RefreshToken(context.Background()); err != nil {
		slog.Info("Silent refresh failed", "error", err.Error())
	}
}
