package domain

// TradingPair is reference data describing one instrument's exchange
// filters. Read-only from the engine's perspective; administrative edits
// and exchange-info refreshes go through the pair repository.
type TradingPair struct {
	ID         int64
	Symbol     string
	BaseAsset  string
	QuoteAsset string
	MinQty     float64 // Minimum order quantity
	MaxQty     float64 // Maximum order quantity
	StepSize   float64 // Quantity granularity
	TickSize   float64 // Price granularity
	Active     bool
}

// ConstraintsValid reports whether the lot-size filters are usable for
// sizing. MaxQty of 0 is treated as "no upper bound".
func (p *TradingPair) ConstraintsValid() bool {
	if p.StepSize <= 0 || p.MinQty < 0 {
		return false
	}
	if p.MaxQty > 0 && p.MinQty > p.MaxQty {
		return false
	}
	return true
}
