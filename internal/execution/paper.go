package execution

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Fill is one simulated execution.
type Fill struct {
	OrderID   string       `json:"order_id"`
	Request   OrderRequest `json:"request"`
	FillPrice float64      `json:"fill_price"`
	FillQty   float64      `json:"fill_qty"`
	FilledAt  time.Time    `json:"filled_at"` // session-clock time
	Slippage  float64      `json:"slippage"`  // price impact applied
}

// PaperGateway simulates execution without broker calls. Fills happen at
// the request's reference price plus configurable slippage; everything is
// accepted. Used by PAPER and BACKTEST sessions.
type PaperGateway struct {
	mu       sync.RWMutex
	fills    []Fill
	orderSeq int64

	// SlippageBps is the simulated price impact in basis points.
	SlippageBps float64
}

// NewPaperGateway creates a paper gateway with the given slippage.
func NewPaperGateway(slippageBps float64) *PaperGateway {
	return &PaperGateway{
		fills:       make([]Fill, 0, 256),
		SlippageBps: slippageBps,
	}
}

func (p *PaperGateway) Submit(ctx context.Context, req OrderRequest) (OrderResult, error) {
	p.mu.Lock()
	p.orderSeq++
	orderID := fmt.Sprintf("PAPER-%d", p.orderSeq)

	fillPrice := req.Price
	var slip float64
	if req.Price > 0 && p.SlippageBps > 0 {
		slip = req.Price * p.SlippageBps / 10000
		// Entries pay up, exits give up.
		adverse := (req.Kind == KindOpen) == (req.Side == SideLong)
		if adverse {
			fillPrice += slip
		} else {
			fillPrice -= slip
		}
	}

	p.fills = append(p.fills, Fill{
		OrderID:   orderID,
		Request:   req,
		FillPrice: fillPrice,
		FillQty:   req.Size,
		FilledAt:  req.TS,
		Slippage:  slip,
	})
	p.mu.Unlock()

	log.Printf("[paper] %s %s %s size=%.6f price=%.8f (slip=%.8f) order=%s trigger=%s",
		req.Kind, req.Side, req.Symbol, req.Size, fillPrice, slip, orderID, req.Trigger)

	return OrderResult{
		OrderID:   orderID,
		Accepted:  true,
		FillPrice: fillPrice,
		Message:   "paper filled",
	}, nil
}

// Fills returns a snapshot of all fills.
func (p *PaperGateway) Fills() []Fill {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make([]Fill, len(p.fills))
	copy(cp, p.fills)
	return cp
}
