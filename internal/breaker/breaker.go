// Package breaker implements the circuit breaker wrapped around indicator
// compute calls and external I/O (tick fetch, event publishing). After a
// configurable run of consecutive failures the breaker opens and calls
// short-circuit immediately; after a cool-down one probe call is admitted.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = 0 // normal operation — calls pass through
	StateOpen     State = 1 // circuit tripped — calls rejected immediately
	StateHalfOpen State = 2 // testing — one probe allowed through
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the breaker rejects a call without
// invoking the wrapped function.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrCallTimeout is returned when the wrapped function exceeds the call
// budget. The call keeps running in its goroutine but its result is
// discarded.
var ErrCallTimeout = errors.New("circuit breaker call timed out")

// Config holds breaker tuning shared by all wrapped targets. Values come
// from configuration, not per-call-site constants.
type Config struct {
	MaxFailures  int           // consecutive failures before opening (e.g. 5)
	ResetTimeout time.Duration // cool-down before the half-open probe
	CallTimeout  time.Duration // per-call budget; 0 disables the timeout
}

// Breaker is a single-target circuit breaker.
type Breaker struct {
	mu          sync.Mutex
	state       State
	failures    int
	cfg         Config
	lastFailure time.Time

	// OnStateChange, if set, is called on every state transition.
	OnStateChange func(from, to State)
}

// New creates a breaker from cfg.
func New(cfg Config) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 10 * time.Second
	}
	return &Breaker{cfg: cfg, state: StateClosed}
}

// Execute runs fn through the breaker. Returns ErrCircuitOpen if the
// breaker is open and the cool-down hasn't elapsed.
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case StateOpen:
		if time.Since(b.lastFailure) > b.cfg.ResetTimeout {
			b.transition(StateHalfOpen)
		} else {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
	case StateHalfOpen:
		// The probe is serialized by the mutex window below; a second
		// caller arriving while the probe is in flight is rejected.
	}
	b.mu.Unlock()

	err := fn()
	b.record(err)
	return err
}

// Call runs fn under the configured call budget, honoring ctx cancellation.
// Timeouts count as failures toward opening the breaker. If ctx is done
// before the call finishes, the result is discarded and ctx.Err() returned
// without touching the failure counter (the session is stopping, the target
// is not necessarily unhealthy).
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	b.mu.Lock()
	switch b.state {
	case StateOpen:
		if time.Since(b.lastFailure) > b.cfg.ResetTimeout {
			b.transition(StateHalfOpen)
		} else {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
	}
	b.mu.Unlock()

	callCtx := ctx
	cancel := func() {}
	if b.cfg.CallTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, b.cfg.CallTimeout)
	}
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(callCtx) }()

	select {
	case err := <-done:
		b.record(err)
		return err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			// Session cancellation, not target failure.
			return ctx.Err()
		}
		b.record(ErrCallTimeout)
		return ErrCallTimeout
	}
}

// CurrentState returns the breaker state.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.failures++
		b.lastFailure = time.Now()
		if b.state == StateHalfOpen {
			b.transition(StateOpen) // probe failed — reopen
		} else if b.failures >= b.cfg.MaxFailures && b.state == StateClosed {
			b.transition(StateOpen)
		}
		return
	}

	if b.state == StateHalfOpen {
		b.transition(StateClosed)
	}
	b.failures = 0
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if to == StateClosed {
		b.failures = 0
	}
	if b.OnStateChange != nil {
		b.OnStateChange(from, to)
	}
}

// Group manages one breaker per named target so that a broken indicator or
// data source degrades alone instead of stalling every symbol.
type Group struct {
	mu       sync.Mutex
	cfg      Config
	breakers map[string]*Breaker

	// OnStateChange receives the target name along with the transition.
	OnStateChange func(target string, from, to State)
}

// NewGroup creates a breaker group sharing one config.
func NewGroup(cfg Config) *Group {
	return &Group{cfg: cfg, breakers: make(map[string]*Breaker, 16)}
}

// Target returns (creating if needed) the breaker for a named target.
func (g *Group) Target(name string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.breakers[name]
	if !ok {
		b = New(g.cfg)
		if g.OnStateChange != nil {
			cb := g.OnStateChange
			b.OnStateChange = func(from, to State) { cb(name, from, to) }
		}
		g.breakers[name] = b
	}
	return b
}
