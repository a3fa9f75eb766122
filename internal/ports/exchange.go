package ports

import (
	"context"
	"time"

	"signalbridge/internal/domain"
)

// OrderResponse represents the essential details returned after placing an order.
type OrderResponse struct {
	OrderID       int64     // Exchange's order ID
	Symbol        string    // Symbol for the order
	ClientOrderID string    // Client-generated idempotency token echoed back
	Price         float64   // Price of the order (might be 0 for market orders initially)
	AvgPrice      float64   // Average filled price
	OrigQuantity  float64   // Original quantity requested
	ExecutedQty   float64   // Quantity filled
	Status        string    // Exchange order status (e.g., NEW, FILLED, PARTIALLY_FILLED)
	Type          string    // Order type (e.g., MARKET, LIMIT, STOP)
	Side          string    // Order side (BUY, SELL)
	Timestamp     time.Time // Time the order response was generated
}

// FullyFilled reports whether the exchange confirmed a complete fill.
func (r *OrderResponse) FullyFilled() bool {
	return r.Status == "FILLED"
}

// PartiallyFilled reports a partial execution.
func (r *OrderResponse) PartiallyFilled() bool {
	return r.Status == "PARTIALLY_FILLED" || (r.ExecutedQty > 0 && r.ExecutedQty < r.OrigQuantity)
}

// PositionRisk represents the exchange's view of an open position. The
// exchange is the source of truth for reconciliation: at most one net
// position exists per symbol.
type PositionRisk struct {
	Symbol           string
	PositionAmt      float64 // Positive for long, negative for short
	EntryPrice       float64
	MarkPrice        float64
	UnRealizedProfit float64
	Leverage         int
}

// SymbolInfo carries the exchange filters needed for sizing and pricing.
type SymbolInfo struct {
	Symbol     string
	BaseAsset  string
	QuoteAsset string
	MinQty     float64
	MaxQty     float64
	StepSize   float64
	TickSize   float64
}

// ExchangeClient defines the interface for interacting with a cryptocurrency exchange.
// This abstraction allows decoupling the execution engine from specific exchange implementations.
type ExchangeClient interface {
	// SetServerTime synchronizes the client's time with the server's time.
	SetServerTime(ctx context.Context) error

	// GetServerTime retrieves the current server time from the exchange.
	GetServerTime(ctx context.Context) (time.Time, error)

	// Ping checks the connectivity to the exchange API.
	Ping(ctx context.Context) error

	// GetTickerPrice retrieves the last ticker price for a given symbol.
	GetTickerPrice(ctx context.Context, symbol string) (float64, error)

	// GetMarkPrice retrieves the current mark price for a given symbol.
	GetMarkPrice(ctx context.Context, symbol string) (float64, error)

	// GetAvailableBalance retrieves the available balance for a specific asset (e.g., "USDT").
	GetAvailableBalance(ctx context.Context, asset string) (float64, error)

	// GetPositionRisk retrieves the exchange-reported position for a symbol.
	// Returns nil if no position exists for the symbol.
	GetPositionRisk(ctx context.Context, symbol string) (*PositionRisk, error)

	// GetSymbolInfo retrieves lot-size and price filters for a symbol.
	GetSymbolInfo(ctx context.Context, symbol string) (*SymbolInfo, error)

	// SetLeverage sets the leverage for a specific symbol.
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	// PlaceMarketOrder places a market order.
	PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity, clientOrderID string) (*OrderResponse, error)

	// PlaceLimitOrder places a GTC limit order.
	PlaceLimitOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity, price, clientOrderID string) (*OrderResponse, error)

	// PlaceStopLimitOrder places a stop-limit order: the limit leg at price
	// is activated when stopPrice trades.
	PlaceStopLimitOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity, price, stopPrice, clientOrderID string) (*OrderResponse, error)

	// PlaceTakeProfitLimitOrder places a take-profit-limit order.
	PlaceTakeProfitLimitOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity, price, stopPrice, clientOrderID string) (*OrderResponse, error)

	// CancelOrder cancels an existing open order by its ID.
	CancelOrder(ctx context.Context, symbol string, orderID int64) (*OrderResponse, error)
}
