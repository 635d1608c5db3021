package oidc

import (
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// sessionWatcher reports changes to the stored session made by other
// processes sharing the token directory.
type sessionWatcher struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// startWatcherLocked starts watching the token file for the current
// configuration. Only the file backend supports session checks. Must be
// called with c.mu held.
func (c *Client) startWatcherLocked() {
	if c.closed || c.store.Dir() == "" {
		return
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("Session checks disabled: could not create watcher", "error", err.Error())
		return
	}
	if err := w.Add(c.store.Dir()); err != nil {
		slog.Warn("Session checks disabled: could not watch token directory", "dir", c.store.Dir(), "error", err.Error())
		_ = w.Close()
		return
	}

	sw := &sessionWatcher{watcher: w, done: make(chan struct{})}
	c.watcher = sw

	key := c.tokenKeyLocked()
	target := filepath.Clean(c.store.FilePath(key))
	go c.watchSession(sw, key, target)

	slog.Debug("Session checks enabled", "file", target)
}

// stopWatcherLocked must be called with c.mu held.
func (c *Client) stopWatcherLocked() {
	if c.watcher == nil {
		return
	}
	close(c.watcher.done)
	_ = c.watcher.watcher.Close()
	c.watcher = nil
}

func (c *Client) watchSession(sw *sessionWatcher, key, target string) {
	for {
		select {
		case <-sw.done:
			return
		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			slog.Debug("Session watcher error", "error", err.Error())
		case ev, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			c.handleSessionChange(sw, key)
		}
	}
}

func (c *Client) handleSessionChange(sw *sessionWatcher, key string) {
	token := c.store.Reload(key)

	c.mu.Lock()
	if c.watcher != sw {
		c.mu.Unlock()
		return
	}
	before := c.token
	c.token = token
	c.scheduleRefreshLocked()
	c.mu.Unlock()

	if sameSession(before, token) {
		return
	}

	if token == nil {
		slog.Info("Session terminated by another process")
		c.events.publish(Event{Type: EventSessionTerminated})
		return
	}

	slog.Debug("Session changed by another process")
	c.events.publish(Event{Type: EventSessionChanged})
}

func sameSession(a, b *StoredToken) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.AccessToken == b.AccessToken && a.RefreshToken == b.RefreshToken && a.IDToken == b.IDToken
}
