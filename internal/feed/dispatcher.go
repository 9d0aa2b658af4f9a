// Package feed moves market ticks from their source (websocket, replay)
// through per-symbol resequencing into the shared history store and out to
// session subscribers.
package feed

import (
	"context"
	"time"

	"pumpwatch/internal/history"
	"pumpwatch/internal/model"
	"pumpwatch/internal/ringbuf"
)

// Dispatcher is the single consumer of the raw tick stream. Per symbol it
// resequences out-of-order arrivals, appends in-order ticks to the history
// window, then fans out to subscribed sessions. History append happens
// before fan-out so an evaluation triggered by the tick sees it.
type Dispatcher struct {
	hist      *history.Store
	fanout    *FanOut
	tolerance time.Duration
	reseq     map[string]*Resequencer

	// OnLateTick is wired to each resequencer's drop hook.
	OnLateTick func(symbol string)
}

// NewDispatcher creates a dispatcher writing into hist and fanout.
func NewDispatcher(hist *history.Store, fanout *FanOut, lateness time.Duration) *Dispatcher {
	return &Dispatcher{
		hist:      hist,
		fanout:    fanout,
		tolerance: lateness,
		reseq:     make(map[string]*Resequencer, 16),
	}
}

// Run consumes ticks until ctx is cancelled or the channel closes.
func (d *Dispatcher) Run(ctx context.Context, in <-chan model.Tick) {
	defer d.flushAll()
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-in:
			if !ok {
				return
			}
			d.Process(t)
		}
	}
}

// RunRing consumes ticks from an SPSC ring until ctx is cancelled. The
// dispatcher must be the ring's only consumer. Empty-ring polls back off
// briefly so an idle feed doesn't spin a core.
func (d *Dispatcher) RunRing(ctx context.Context, ring *ringbuf.Ring) {
	defer d.flushAll()
	idle := time.NewTicker(time.Millisecond)
	defer idle.Stop()
	for {
		t, ok := ring.Pop()
		if ok {
			d.Process(t)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-idle.C:
		}
	}
}

// Process routes one tick synchronously. Exposed for backtest pipelines
// that need deterministic, non-concurrent dispatch.
func (d *Dispatcher) Process(t model.Tick) {
	rs, ok := d.reseq[t.Symbol]
	if !ok {
		rs = NewResequencer(d.tolerance)
		if d.OnLateTick != nil {
			sym := t.Symbol
			rs.OnLate = func() { d.OnLateTick(sym) }
		}
		d.reseq[t.Symbol] = rs
	}
	for _, tick := range rs.Push(t) {
		d.hist.Append(tick)
		d.fanout.Publish(tick)
	}
}

func (d *Dispatcher) flushAll() {
	for _, rs := range d.reseq {
		for _, tick := range rs.Flush() {
			d.hist.Append(tick)
			d.fanout.Publish(tick)
		}
	}
}
