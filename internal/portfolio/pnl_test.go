package portfolio

import (
	"testing"

	"pumpwatch/internal/execution"
)

func fill(kind execution.OrderKind, price, qty float64) execution.Fill {
	return execution.Fill{
		Request: execution.OrderRequest{
			Symbol: "PUMPUSDT",
			Kind:   kind,
			Side:   execution.SideLong,
		},
		FillPrice: price,
		FillQty:   qty,
	}
}

func TestPnLTracker_RealizesAgainstAverageCost(t *testing.T) {
	p := NewPnLTracker()

	if got := p.Record(fill(execution.KindOpen, 100, 1)); got != 0 {
		t.Errorf("open realized %v, want 0", got)
	}
	p.Record(fill(execution.KindOpen, 110, 1)) // avg cost now 105

	got := p.Record(fill(execution.KindClose, 120, 2))
	if got != 30 {
		t.Errorf("close realized %v, want 30", got)
	}
	if p.Realized() != 30 {
		t.Errorf("Realized = %v, want 30", p.Realized())
	}

	s := p.Summarize()
	if s.Fills != 3 || s.Open != 0 || s.Realized != 30 {
		t.Errorf("Summary = %+v", s)
	}
}

func TestPnLTracker_CloseCappedAtHeldQuantity(t *testing.T) {
	p := NewPnLTracker()
	p.Record(fill(execution.KindOpen, 100, 1))

	// Closing more than is held realizes only the held quantity.
	got := p.Record(fill(execution.KindClose, 110, 5))
	if got != 10 {
		t.Errorf("realized %v, want 10", got)
	}
	if s := p.Summarize(); s.Open != 0 {
		t.Errorf("open positions = %d, want 0", s.Open)
	}
}

func TestPnLTracker_UnrealizedMarksOpenPositions(t *testing.T) {
	p := NewPnLTracker()
	p.Record(fill(execution.KindOpen, 100, 2))

	u := p.Unrealized(map[string]float64{"PUMPUSDT": 107})
	if u != 14 {
		t.Errorf("Unrealized = %v, want 14", u)
	}
	// A symbol without a current price contributes nothing.
	if u := p.Unrealized(map[string]float64{}); u != 0 {
		t.Errorf("Unrealized without prices = %v, want 0", u)
	}

	if s := p.Summarize(); s.Open != 1 {
		t.Errorf("open positions = %d, want 1", s.Open)
	}
}

func TestPnLTracker_LossIsNegative(t *testing.T) {
	p := NewPnLTracker()
	p.Record(fill(execution.KindOpen, 100, 1))
	if got := p.Record(fill(execution.KindClose, 90, 1)); got != -10 {
		t.Errorf("realized %v, want -10", got)
	}
}
