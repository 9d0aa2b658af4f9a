// Package session owns the per-(session, symbol) trade lifecycle: the state
// machine, the evaluation loop driven by the tick scheduler, and the
// manager that starts, stops and recovers sessions.
package session

import (
	"sync"
	"time"
)

// Clock is the session's time source. LIVE and PAPER sessions run on the
// wall clock; BACKTEST sessions run on a virtual clock advanced by the
// replayed tick stream. The evaluation pipeline reads time only through
// this interface — that is what makes backtest and live decisions
// reproducible against each other.
type Clock interface {
	Now() time.Time
}

// RealClock reads the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }

// VirtualClock is a manually advanced clock for backtests and tests.
type VirtualClock struct {
	mu sync.RWMutex
	t  time.Time
}

// NewVirtualClock creates a virtual clock starting at t.
func NewVirtualClock(t time.Time) *VirtualClock {
	return &VirtualClock{t: t}
}

func (c *VirtualClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.t
}

// Set moves the clock to t. Moving backwards is ignored — replay event
// time is monotonic by the time it reaches the clock.
func (c *VirtualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.t) {
		c.t = t
	}
}

// Advance moves the clock forward by d.
func (c *VirtualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
