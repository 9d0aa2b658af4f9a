package history

import (
	"testing"
	"time"

	"pumpwatch/internal/model"
)

func tk(ts int64, price float64) model.Tick {
	return model.Tick{Symbol: "PUMPUSDT", TS: time.Unix(ts, 0).UTC(), Price: price, Volume: 1}
}

func TestWindow_RetentionTrimsPrefix(t *testing.T) {
	w := NewWindow(10 * time.Second)
	w.Append(tk(100, 1))
	w.Append(tk(105, 2))
	w.Append(tk(112, 3)) // cutoff 102 — evicts the tick at 100

	if got := w.Len(); got != 2 {
		t.Fatalf("Len = %d, want 2", got)
	}
	last, ok := w.Last()
	if !ok || last.Price != 3 {
		t.Errorf("Last = %v ok=%v, want price 3", last, ok)
	}
	// The oldest survivor is the tick at 105.
	snap := w.Snapshot(200)
	if len(snap) != 2 || snap[0].TS.Unix() != 105 {
		t.Errorf("Snapshot = %v, want first at 105", snap)
	}
}

func TestWindow_ZeroRetentionKeepsAll(t *testing.T) {
	w := NewWindow(0)
	for i := int64(0); i < 100; i++ {
		w.Append(tk(i, float64(i)))
	}
	if got := w.Len(); got != 100 {
		t.Errorf("Len = %d, want 100", got)
	}
}

func TestWindow_SnapshotCutsStrictlyBefore(t *testing.T) {
	w := NewWindow(0)
	w.Append(tk(100, 1))
	w.Append(tk(105, 2))
	w.Append(tk(110, 3))

	snap := w.Snapshot(105)
	if len(snap) != 1 || snap[0].TS.Unix() != 100 {
		t.Fatalf("Snapshot(105) = %v, want only the tick at 100", snap)
	}

	if snap := w.Snapshot(100); snap != nil {
		t.Errorf("Snapshot at the first tick's TS should be empty, got %v", snap)
	}
	if snap := w.Snapshot(111); len(snap) != 3 {
		t.Errorf("Snapshot past the end = %d ticks, want 3", len(snap))
	}
}

func TestWindow_SnapshotIsACopy(t *testing.T) {
	w := NewWindow(0)
	w.Append(tk(100, 1))
	snap := w.Snapshot(200)
	snap[0].Price = 999
	again := w.Snapshot(200)
	if again[0].Price != 1 {
		t.Error("mutating a snapshot leaked into the window")
	}
}

func TestWindow_LastOnEmpty(t *testing.T) {
	w := NewWindow(0)
	if _, ok := w.Last(); ok {
		t.Error("Last on an empty window should report not ok")
	}
}

func TestStore_RoutesBySymbol(t *testing.T) {
	s := NewStore(0)
	s.Append(model.Tick{Symbol: "AAAUSDT", TS: time.Unix(100, 0), Price: 1})
	s.Append(model.Tick{Symbol: "BBBUSDT", TS: time.Unix(100, 0), Price: 2})
	s.Append(model.Tick{Symbol: "AAAUSDT", TS: time.Unix(101, 0), Price: 3})

	if got := s.Window("AAAUSDT").Len(); got != 2 {
		t.Errorf("AAAUSDT Len = %d, want 2", got)
	}
	if got := s.Window("BBBUSDT").Len(); got != 1 {
		t.Errorf("BBBUSDT Len = %d, want 1", got)
	}
	// Same instance on repeat lookup.
	if s.Window("AAAUSDT") != s.Window("AAAUSDT") {
		t.Error("Window should return the same instance per symbol")
	}
}
