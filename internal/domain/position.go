package domain

import "time"

// Position represents an open or closed exposure in one symbol/side.
type Position struct {
	ID            int64
	Symbol        string // Trading symbol (e.g., "ETHUSDC")
	Side          OrderSide
	Quantity      float64
	EntryPrice    float64 // Average entry price
	MarkPrice     float64 // Latest known mark/current price
	RealizedPNL   float64 // Fixed at close time, 0 while open
	UnrealizedPNL float64 // Recomputed on each mark-price refresh
	Status        PositionStatus
	ClosePrice    float64 // Price at which the position was closed (0 if open)
	CloseReason   CloseReason

	// Protective order levels and their exchange order IDs. The order IDs
	// are nullable on purpose: a position can legitimately exist without
	// protective orders when their placement failed after the fill.
	StopLossPrice     float64
	TakeProfitPrice   float64
	StopLossOrderID   *string
	TakeProfitOrderID *string

	OpenedAt time.Time
	ClosedAt time.Time // Zero value while open
}

// IsOpen reports whether the position is still open.
func (p *Position) IsOpen() bool {
	return p.Status == PositionOpen
}

// ComputeUnrealized returns the PnL of the open quantity at the given mark
// price. Shorts gain when the mark falls below entry.
func (p *Position) ComputeUnrealized(markPrice float64) float64 {
	if p.Side == Sell {
		return (p.EntryPrice - markPrice) * p.Quantity
	}
	return (markPrice - p.EntryPrice) * p.Quantity
}
