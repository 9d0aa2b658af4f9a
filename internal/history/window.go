// Package history keeps a bounded, timestamp-ordered tick window per symbol.
// The DAG engine snapshots a window truncated at the bucket close before
// invoking compute functions, so identical tick history always yields
// identical metric values regardless of execution mode.
package history

import (
	"sort"
	"sync"
	"time"

	"pumpwatch/internal/model"
)

// Window is the tick history for one symbol. Appends must be in timestamp
// order (the scheduler's resequencer guarantees this). Reads and writes are
// guarded by a short mutex — the window is the only state shared between
// sessions watching the same symbol.
type Window struct {
	mu        sync.RWMutex
	ticks     []model.Tick
	retention time.Duration
}

// NewWindow creates a window retaining ticks for the given duration.
// retention 0 means keep everything (backtest runs, discarded at run end).
func NewWindow(retention time.Duration) *Window {
	return &Window{
		ticks:     make([]model.Tick, 0, 1024),
		retention: retention,
	}
}

// Append adds a tick and evicts anything older than the retention window
// relative to the newest tick. Ticks must arrive in timestamp order.
func (w *Window) Append(t model.Tick) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.ticks = append(w.ticks, t)

	if w.retention <= 0 {
		return
	}
	cutoff := t.TS.Add(-w.retention)
	// Ticks are ordered, so eviction is a prefix trim.
	i := 0
	for i < len(w.ticks) && w.ticks[i].TS.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.ticks = append(w.ticks[:0], w.ticks[i:]...)
	}
}

// Snapshot returns a copy of all ticks with TS strictly before endUnix
// (the bucket close). The copy is safe to hand to compute functions.
func (w *Window) Snapshot(endUnix int64) []model.Tick {
	w.mu.RLock()
	defer w.mu.RUnlock()

	// Binary search the first tick at or after endUnix.
	n := sort.Search(len(w.ticks), func(i int) bool {
		return w.ticks[i].TS.Unix() >= endUnix
	})
	if n == 0 {
		return nil
	}
	out := make([]model.Tick, n)
	copy(out, w.ticks[:n])
	return out
}

// Last returns the newest retained tick.
func (w *Window) Last() (model.Tick, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if len(w.ticks) == 0 {
		return model.Tick{}, false
	}
	return w.ticks[len(w.ticks)-1], true
}

// Len returns the number of retained ticks.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.ticks)
}

// Store is the symbol-partitioned collection of windows. Partitioning by
// symbol keeps cross-symbol evaluation free of contention.
type Store struct {
	mu        sync.RWMutex
	windows   map[string]*Window
	retention time.Duration
}

// NewStore creates a store whose windows use the given retention.
func NewStore(retention time.Duration) *Store {
	return &Store{
		windows:   make(map[string]*Window, 16),
		retention: retention,
	}
}

// Window returns (creating if needed) the window for a symbol.
func (s *Store) Window(symbol string) *Window {
	s.mu.RLock()
	w, ok := s.windows[symbol]
	s.mu.RUnlock()
	if ok {
		return w
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok = s.windows[symbol]; ok {
		return w
	}
	w = NewWindow(s.retention)
	s.windows[symbol] = w
	return w
}

// Append routes a tick to its symbol's window.
func (s *Store) Append(t model.Tick) {
	s.Window(t.Symbol).Append(t)
}
