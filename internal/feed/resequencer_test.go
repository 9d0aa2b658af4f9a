package feed

import (
	"testing"
	"time"

	"pumpwatch/internal/model"
)

func rtick(ts int64, price float64) model.Tick {
	return model.Tick{Symbol: "PUMPUSDT", TS: time.Unix(ts, 0).UTC(), Price: price}
}

func tsOf(ticks []model.Tick) []int64 {
	out := make([]int64, len(ticks))
	for i, t := range ticks {
		out[i] = t.TS.Unix()
	}
	return out
}

func TestResequencer_ReordersWithinTolerance(t *testing.T) {
	r := NewResequencer(2 * time.Second)

	if out := r.Push(rtick(100, 1)); out != nil {
		t.Fatalf("released before watermark: %v", tsOf(out))
	}
	if out := r.Push(rtick(103, 2)); len(out) != 1 || out[0].TS.Unix() != 100 {
		t.Fatalf("watermark 101 should release the tick at 100, got %v", tsOf(out))
	}

	// An out-of-order arrival inside the tolerance slots back in.
	if out := r.Push(rtick(102, 3)); out != nil {
		t.Fatalf("102 released early: %v", tsOf(out))
	}
	out := r.Push(rtick(105, 4))
	if got := tsOf(out); len(got) != 2 || got[0] != 102 || got[1] != 103 {
		t.Fatalf("watermark 103 should release [102 103] in order, got %v", got)
	}
}

func TestResequencer_DropsTicksBehindTheReleasePoint(t *testing.T) {
	late := 0
	r := NewResequencer(2 * time.Second)
	r.OnLate = func() { late++ }

	r.Push(rtick(100, 1))
	r.Push(rtick(105, 2)) // releases 100

	if out := r.Push(rtick(99, 3)); out != nil {
		t.Fatalf("stale tick released: %v", tsOf(out))
	}
	// A second trade printing in the released second is in order, not late.
	if out := r.Push(rtick(100, 4)); len(out) != 1 || out[0].Price != 4 {
		t.Fatalf("equal-timestamp tick not released: %v", tsOf(out))
	}
	if late != 1 {
		t.Errorf("OnLate fired %d times, want 1", late)
	}
}

func TestResequencer_EqualTimestampsPassInArrivalOrder(t *testing.T) {
	// Zero tolerance: consecutive trades in the same second all pass.
	r := NewResequencer(0)
	r.Push(rtick(100, 1))
	if out := r.Push(rtick(100, 2)); len(out) != 1 || out[0].Price != 2 {
		t.Fatalf("second trade in the same second dropped: %v", tsOf(out))
	}

	// Buffered path: equal timestamps release together, arrival order kept.
	r = NewResequencer(2 * time.Second)
	r.Push(rtick(100, 1))
	r.Push(rtick(100, 2))
	out := r.Push(rtick(103, 3))
	if len(out) != 2 || out[0].Price != 1 || out[1].Price != 2 {
		t.Fatalf("equal-timestamp release = %v, want both ticks at 100 in arrival order", tsOf(out))
	}
}

func TestResequencer_ZeroToleranceReleasesImmediately(t *testing.T) {
	r := NewResequencer(0)
	if out := r.Push(rtick(100, 1)); len(out) != 1 {
		t.Fatalf("zero tolerance should pass through, got %v", tsOf(out))
	}
	if out := r.Push(rtick(101, 2)); len(out) != 1 {
		t.Fatalf("zero tolerance should pass through, got %v", tsOf(out))
	}
	// Regressions are still dropped.
	if out := r.Push(rtick(100, 3)); out != nil {
		t.Fatalf("stale tick released at zero tolerance: %v", tsOf(out))
	}
	if out := r.Push(rtick(101, 4)); len(out) != 1 {
		t.Fatalf("tick at the released second dropped: %v", tsOf(out))
	}
}

func TestResequencer_FlushReleasesRemainderInOrder(t *testing.T) {
	r := NewResequencer(10 * time.Second)
	r.Push(rtick(103, 1))
	r.Push(rtick(101, 2))
	r.Push(rtick(102, 3))

	out := r.Flush()
	if got := tsOf(out); len(got) != 3 || got[0] != 101 || got[1] != 102 || got[2] != 103 {
		t.Fatalf("Flush = %v, want [101 102 103]", got)
	}
	if r.Pending() != 0 {
		t.Errorf("Pending = %d after flush", r.Pending())
	}
	// Post-flush arrivals behind the flushed point are stale.
	if out := r.Push(rtick(102, 4)); out != nil {
		t.Errorf("stale post-flush tick released: %v", tsOf(out))
	}
}
