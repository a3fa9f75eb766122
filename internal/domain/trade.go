package domain

import "time"

// Trade represents one order-placement attempt. Trades are created when a
// signal is accepted, mutated only by the execution engine, and never
// deleted: failed attempts stay on record with their error message.
type Trade struct {
	ID            int64
	PositionID    int64  // Position this trade opened/updated (0 if none)
	Symbol        string // Trading symbol (e.g., "ETHUSDC")
	Side          OrderSide
	Type          OrderType
	Quantity      float64 // Requested quantity
	FilledQty     float64 // Quantity the exchange reports executed
	Price         float64 // Requested limit price (0 for market orders)
	AvgPrice      float64 // Average fill price reported by the exchange
	StopPrice     float64 // Trigger price for stop/take-profit variants
	OrderID       int64   // Exchange-assigned order ID (0 until submitted)
	ClientOrderID string  // Client-generated idempotency token
	Status        TradeStatus
	SignalPayload string // Raw signal payload, archived verbatim
	ErrorMessage  string // Human-readable failure description
	Commission    float64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
