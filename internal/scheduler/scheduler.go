// Package scheduler drives "evaluate one tick" calls into sessions. Three
// mode adapters share the identical evaluation function — only the pacing
// and the clock source differ, which is what keeps backtest and live
// decisions identical for identical tick history.
package scheduler

import (
	"context"
	"log"
	"time"

	"pumpwatch/internal/model"
	"pumpwatch/internal/session"
)

// Target is the evaluation entry point a scheduler drives. Satisfied by
// *session.Session.
type Target interface {
	EvaluateTick(ctx context.Context)
	Symbol() string
}

// Live paces evaluation off inbound market ticks plus a fixed wall-clock
// interval, whichever fires more often. The interval guarantees timeout
// and cool-down transitions still happen on a quiet feed. Serves both
// LIVE and PAPER sessions — the feed behind the tick channel is the only
// difference.
type Live struct {
	target   Target
	ticks    <-chan model.Tick
	interval time.Duration
}

// NewLive creates a live/paper scheduler. interval defaults to 1s.
func NewLive(target Target, ticks <-chan model.Tick, interval time.Duration) *Live {
	if interval <= 0 {
		interval = time.Second
	}
	return &Live{target: target, ticks: ticks, interval: interval}
}

// Run blocks until ctx is cancelled or the tick channel closes. Each
// iteration evaluates exactly once; ticks and interval fires are never
// evaluated concurrently for the same session.
func (l *Live) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-l.ticks:
			if !ok {
				return
			}
			l.target.EvaluateTick(ctx)
		case <-ticker.C:
			l.target.EvaluateTick(ctx)
		}
	}
}

// Backtest paces evaluation off replayed historical ticks, advancing a
// virtual clock to each event's timestamp. Between events further apart
// than the evaluation interval, the clock is stepped in interval
// increments with an evaluation at each step — mirroring the wall-clock
// fires a live session would have seen, so timeout-driven transitions
// land on the same schedule in both modes.
type Backtest struct {
	target   Target
	clock    *session.VirtualClock
	ticks    <-chan model.Tick
	interval time.Duration
}

// NewBacktest creates a backtest scheduler over a virtual clock.
func NewBacktest(target Target, clock *session.VirtualClock, ticks <-chan model.Tick, interval time.Duration) *Backtest {
	if interval <= 0 {
		interval = time.Second
	}
	return &Backtest{target: target, clock: clock, ticks: ticks, interval: interval}
}

// Run consumes the historical stream to exhaustion or cancellation.
func (b *Backtest) Run(ctx context.Context) {
	evaluated := 0
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-b.ticks:
			if !ok {
				log.Printf("[scheduler] backtest for %s finished after %d evaluations",
					b.target.Symbol(), evaluated)
				return
			}

			// Synthetic interval fires covering the gap before this event.
			// A gap beyond maxCatchup (cold-start clock, data hole) is
			// jumped over instead of replayed second by second.
			const maxCatchup = time.Hour
			if b.clock.Now().IsZero() || t.TS.Sub(b.clock.Now()) > maxCatchup {
				b.clock.Set(t.TS.Add(-b.interval))
			}
			for {
				next := b.clock.Now().Add(b.interval)
				if next.After(t.TS) {
					break
				}
				b.clock.Set(next)
				b.target.EvaluateTick(ctx)
				evaluated++
				if ctx.Err() != nil {
					return
				}
			}

			b.clock.Set(t.TS)
			b.target.EvaluateTick(ctx)
			evaluated++
		}
	}
}
