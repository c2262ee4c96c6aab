// Package ratelimit implements the admin-operation fixed-window limiter: a
// reset-each-window counter rather than a token bucket, because the limiter
// state lives inside models.SessionState.AdminRate and must survive across
// requests without its own background goroutine.
package ratelimit

import (
	"sync"
	"time"

	"github.com/lucentlabs/ferry/pkg/models"
)

// Config bounds one session's admin-operation rate.
type Config struct {
	Window time.Duration
	Max    int
}

// DefaultConfig matches spec.md §6's admin rate-limit defaults.
func DefaultConfig() Config {
	return Config{Window: 60 * time.Second, Max: 100}
}

// Allow checks window against nowMs, resetting it if the window has elapsed,
// and reports whether one more call is permitted. It mutates window in place
// so the caller can persist the updated counter alongside the rest of the
// session state.
func Allow(window *models.RateWindow, cfg Config, nowMs int64) bool {
	if cfg.Max <= 0 {
		cfg.Max = DefaultConfig().Max
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	windowMs := cfg.Window.Milliseconds()

	if window.WindowStartMs == 0 || nowMs-window.WindowStartMs >= windowMs {
		window.WindowStartMs = nowMs
		window.Count = 0
	}

	if window.Count >= cfg.Max {
		return false
	}
	window.Count++
	return true
}

// Limiter is a process-local convenience wrapper around Allow for callers
// that don't already hold a *models.RateWindow (e.g. global admin endpoints
// not scoped to one session).
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	windows map[string]*models.RateWindow
}

// NewLimiter returns a Limiter keyed by an arbitrary string (e.g. org ID).
func NewLimiter(cfg Config) *Limiter {
	return &Limiter{cfg: cfg, windows: make(map[string]*models.RateWindow)}
}

// Allow checks and updates the window for key using the current wall clock.
func (l *Limiter) Allow(key string, nowMs int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok {
		w = &models.RateWindow{}
		l.windows[key] = w
	}
	return Allow(w, l.cfg, nowMs)
}
