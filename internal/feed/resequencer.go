package feed

import (
	"sort"
	"time"

	"pumpwatch/internal/model"
)

// Resequencer reorders slightly-late ticks before they reach the history
// window and the state machines. Ticks are buffered until the watermark
// (newest seen timestamp minus the lateness tolerance) passes them, then
// released in timestamp order. A tick arriving strictly behind an
// already-released timestamp is dropped — state transitions are not
// commutative, so a stale tick must never be applied out of order. Ticks
// sharing the last released timestamp are in order, not late: second-
// granularity feeds print several trades per second, and all of them count.
type Resequencer struct {
	tolerance time.Duration
	buf       []model.Tick
	released  time.Time // newest released timestamp
	maxSeen   time.Time

	// OnLate is called for each dropped too-late tick (metrics hook).
	OnLate func()
}

// NewResequencer creates a resequencer with the given lateness tolerance.
// Tolerance 0 releases everything immediately (backtest streams are
// already ordered).
func NewResequencer(tolerance time.Duration) *Resequencer {
	return &Resequencer{tolerance: tolerance}
}

// Push offers one tick and returns whatever the watermark now releases,
// oldest first.
func (r *Resequencer) Push(t model.Tick) []model.Tick {
	if t.TS.After(r.maxSeen) {
		r.maxSeen = t.TS
	}

	if t.TS.Before(r.released) {
		if r.OnLate != nil {
			r.OnLate()
		}
		return nil
	}

	if r.tolerance <= 0 {
		r.released = t.TS
		return []model.Tick{t}
	}

	// Insert in order; the buffer stays small (tolerance worth of ticks).
	i := sort.Search(len(r.buf), func(i int) bool {
		return r.buf[i].TS.After(t.TS)
	})
	r.buf = append(r.buf, model.Tick{})
	copy(r.buf[i+1:], r.buf[i:])
	r.buf[i] = t

	watermark := r.maxSeen.Add(-r.tolerance)
	n := 0
	for n < len(r.buf) && !r.buf[n].TS.After(watermark) {
		n++
	}
	if n == 0 {
		return nil
	}
	out := make([]model.Tick, n)
	copy(out, r.buf[:n])
	r.buf = append(r.buf[:0], r.buf[n:]...)
	r.released = out[n-1].TS
	return out
}

// Flush releases everything still buffered, in order. Called on stream
// end or session stop.
func (r *Resequencer) Flush() []model.Tick {
	if len(r.buf) == 0 {
		return nil
	}
	out := make([]model.Tick, len(r.buf))
	copy(out, r.buf)
	r.buf = r.buf[:0]
	r.released = out[len(out)-1].TS
	return out
}

// Pending returns the current reorder-buffer occupancy.
func (r *Resequencer) Pending() int { return len(r.buf) }
