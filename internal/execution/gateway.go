// Package execution defines the external execution gateway boundary. The
// state machine calls the gateway on POSITION_ACTIVE entry and on EXITED;
// accept/reject results are consumed for logging only — order retry policy
// belongs to the gateway implementation, not this core.
package execution

import (
	"context"
	"time"
)

// Side is the direction of a requested position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// OrderKind distinguishes position entry from position close.
type OrderKind string

const (
	KindOpen  OrderKind = "OPEN"
	KindClose OrderKind = "CLOSE"
)

// OrderRequest is what the session hands to the gateway.
type OrderRequest struct {
	SessionID string    `json:"session_id"`
	Symbol    string    `json:"symbol"`
	Kind      OrderKind `json:"kind"`
	Side      Side      `json:"side"`
	Size      float64   `json:"size"`    // base asset quantity
	Price     float64   `json:"price"`   // reference price at request time
	TS        time.Time `json:"ts"`      // session-clock time
	Trigger   string    `json:"trigger"` // Z1, ZE1, E1
}

// OrderResult reports accept/reject. The session logs it and moves on.
type OrderResult struct {
	OrderID   string  `json:"order_id"`
	Accepted  bool    `json:"accepted"`
	FillPrice float64 `json:"fill_price,omitempty"`
	Message   string  `json:"message,omitempty"`
}

// Gateway is the external order-placement collaborator. LIVE sessions are
// wired to a real exchange adapter outside this module; PAPER and BACKTEST
// sessions use the paper gateway below.
type Gateway interface {
	Submit(ctx context.Context, req OrderRequest) (OrderResult, error)
}

// NopGateway accepts everything and fills nothing — for sessions that only
// observe.
type NopGateway struct{}

func (NopGateway) Submit(ctx context.Context, req OrderRequest) (OrderResult, error) {
	return OrderResult{OrderID: "NOP", Accepted: true, Message: "no-op gateway"}, nil
}
