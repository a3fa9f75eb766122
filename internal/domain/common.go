package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Opposite returns the side that closes an exposure opened on s.
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType represents the exchange order type used for a trade.
type OrderType string

const (
	OrderTypeMarket          OrderType = "MARKET"
	OrderTypeLimit           OrderType = "LIMIT"
	OrderTypeStopMarket      OrderType = "STOP_MARKET"
	OrderTypeStopLimit       OrderType = "STOP_LIMIT"
	OrderTypeTakeProfit      OrderType = "TAKE_PROFIT"
	OrderTypeTakeProfitLimit OrderType = "TAKE_PROFIT_LIMIT"
)

// TradeStatus is the lifecycle state of a single order-placement attempt.
// PENDING is the only initial state; FILLED, FAILED and CANCELLED are terminal.
type TradeStatus string

const (
	TradePending         TradeStatus = "PENDING"
	TradeFilled          TradeStatus = "FILLED"
	TradePartiallyFilled TradeStatus = "PARTIALLY_FILLED"
	TradeFailed          TradeStatus = "FAILED"
	TradeCancelled       TradeStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition is possible for the status.
func (s TradeStatus) IsTerminal() bool {
	return s == TradeFilled || s == TradeFailed || s == TradeCancelled
}

// PositionStatus represents the status of a trading position.
type PositionStatus string

const (
	PositionOpen       PositionStatus = "OPEN"
	PositionClosed     PositionStatus = "CLOSED"
	PositionStopLoss   PositionStatus = "STOP_LOSS"
	PositionTakeProfit PositionStatus = "TAKE_PROFIT"
)

// CloseReason indicates why a position was closed.
type CloseReason string

const (
	CloseReasonSignal     CloseReason = "SIGNAL"      // opposite-side signal arrived
	CloseReasonFlatTarget CloseReason = "FLAT_TARGET" // signal with target position 0
	CloseReasonStopLoss   CloseReason = "SL"
	CloseReasonTakeProfit CloseReason = "TP"
	CloseReasonManual     CloseReason = "MANUAL"
	CloseReasonUnknown    CloseReason = "Unknown"
)

// StatusForReason maps a close reason to the closed-position status.
func StatusForReason(reason CloseReason) PositionStatus {
	switch reason {
	case CloseReasonStopLoss:
		return PositionStopLoss
	case CloseReasonTakeProfit:
		return PositionTakeProfit
	default:
		return PositionClosed
	}
}
