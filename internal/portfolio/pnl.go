// Package portfolio tracks realized and unrealized P&L over paper fills.
// Used by the backtest summary and the paper-mode status endpoint.
package portfolio

import (
	"sync"

	"pumpwatch/internal/execution"
)

// PnLTracker accumulates P&L per symbol from gateway fills. Long-only
// accounting matches the pump-entry lifecycle: OPEN adds to the cost
// basis, CLOSE realizes against it.
type PnLTracker struct {
	mu       sync.RWMutex
	fills    []execution.Fill
	basis    map[string]costEntry
	realized float64
}

type costEntry struct {
	Qty      float64
	AvgPrice float64
}

// NewPnLTracker creates an empty tracker.
func NewPnLTracker() *PnLTracker {
	return &PnLTracker{
		fills: make([]execution.Fill, 0, 256),
		basis: make(map[string]costEntry),
	}
}

// Record ingests one fill and returns the P&L it realized (0 for opens).
func (p *PnLTracker) Record(fill execution.Fill) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.fills = append(p.fills, fill)
	entry := p.basis[fill.Request.Symbol]

	var realized float64
	if fill.Request.Kind == execution.KindOpen {
		totalCost := entry.AvgPrice*entry.Qty + fill.FillPrice*fill.FillQty
		entry.Qty += fill.FillQty
		if entry.Qty > 0 {
			entry.AvgPrice = totalCost / entry.Qty
		}
	} else {
		closeQty := fill.FillQty
		if closeQty > entry.Qty {
			closeQty = entry.Qty
		}
		realized = (fill.FillPrice - entry.AvgPrice) * closeQty
		entry.Qty -= closeQty
		if entry.Qty <= 0 {
			entry.Qty = 0
			entry.AvgPrice = 0
		}
		p.realized += realized
	}

	p.basis[fill.Request.Symbol] = entry
	return realized
}

// Realized returns total realized P&L in quote currency.
func (p *PnLTracker) Realized() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.realized
}

// Unrealized marks open positions against current prices (symbol → price).
func (p *PnLTracker) Unrealized(prices map[string]float64) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var u float64
	for sym, entry := range p.basis {
		if entry.Qty <= 0 {
			continue
		}
		if price, ok := prices[sym]; ok {
			u += (price - entry.AvgPrice) * entry.Qty
		}
	}
	return u
}

// Fills returns a snapshot of all recorded fills.
func (p *PnLTracker) Fills() []execution.Fill {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make([]execution.Fill, len(p.fills))
	copy(cp, p.fills)
	return cp
}

// Summary is a compact end-of-run report.
type Summary struct {
	Fills    int     `json:"fills"`
	Realized float64 `json:"realized"`
	Open     int     `json:"open_positions"`
}

// Summarize builds the report.
func (p *PnLTracker) Summarize() Summary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	open := 0
	for _, e := range p.basis {
		if e.Qty > 0 {
			open++
		}
	}
	return Summary{Fills: len(p.fills), Realized: p.realized, Open: open}
}
