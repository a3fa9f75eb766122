package domain

// Signal is the normalized intent extracted from an incoming alert payload.
// It is transient: never persisted on its own, only archived as the raw
// payload attached to the resulting Trade.
type Signal struct {
	Action OrderSide // BUY or SELL, case-normalized
	Symbol string    // Trading symbol (e.g., "ETHUSDC")

	// TargetPosition is the strategy's desired net position after the
	// signal. A value of exactly 0 means "flatten": close any open
	// position and place no new order. Nil when the payload omits it.
	TargetPosition *float64

	// Optional order parameters. The engine treats these as hints only;
	// quantity is always recomputed from live balance before submission.
	OrderType OrderType
	Quantity  float64
	Price     float64
	StopPrice float64

	// Per-signal overrides for the configured protective percentages.
	StopLossPct   *float64
	TakeProfitPct *float64

	// Raw is the original payload, kept for the Trade audit trail.
	Raw string
}
