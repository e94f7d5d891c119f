package logic

import (
	"sync"
	"time"
)

// Cooldown admits at most one event per window. Safe for concurrent use.
//
// The zero value has never admitted anything, so the first event always
// passes. The last admitted instant only moves forward.
type Cooldown struct {
	window time.Duration

	mu   sync.Mutex
	last time.Time
}

// NewCooldown returns a gate with the given window.
func NewCooldown(window time.Duration) *Cooldown {
	return &Cooldown{window: window}
}

// Allow checks the window and records now as one indivisible step.
// It returns false if an event was admitted less than window before now.
func (c *Cooldown) Allow(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.last.IsZero() && now.Sub(c.last) < c.window {
		return false
	}
	if now.Before(c.last) {
		return false
	}
	c.last = now
	return true
}

// Last returns the instant of the last admitted event (zero if none).
func (c *Cooldown) Last() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Window returns the configured window.
func (c *Cooldown) Window() time.Duration {
	return c.window
}
