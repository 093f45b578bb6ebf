package services

import (
	"log/slog"
	"sync"
	"time"

	"connect-chat/internal/core/domain"
)

// connectivityState tracks what a session was last told about reachability
type connectivityState struct {
	mu        sync.RWMutex
	current   domain.Connectivity
	changedAt time.Time
}

func newConnectivityState(initial domain.Connectivity, now time.Time) *connectivityState {
	if initial == "" {
		initial = domain.ConnectivityOnline
	}
	return &connectivityState{current: initial, changedAt: now}
}

// Current returns the last reported connectivity
func (c *connectivityState) Current() domain.Connectivity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Set records a new connectivity value; it returns false if nothing changed
func (c *connectivityState) Set(sessionID string, next domain.Connectivity, reason string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == next {
		return false
	}

	offlineFor := now.Sub(c.changedAt)
	c.current = next
	c.changedAt = now

	if next.Online() {
		slog.Info("✅ Session back online",
			"session_id", sessionID,
			"offline_for", offlineFor,
		)
	} else {
		slog.Warn("📴 Session offline, sends will fail fast",
			"session_id", sessionID,
			"reason", reason,
		)
	}
	return true
}
