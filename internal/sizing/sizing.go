// Package sizing computes order quantities from account balance, risk
// parameters and exchange lot-size constraints.
package sizing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"signalbridge/internal/domain"
	"signalbridge/internal/ports"
)

// Size computes an order quantity as balance × riskFraction × leverage,
// clamped to the pair's [MinQty, MaxQty] and rounded to the nearest
// StepSize multiple (round-half-to-even).
//
// Note that clamping happens before rounding: when the risk-implied raw
// size is below the exchange minimum, the minimum is returned, which is
// LARGER than the amount the risk fraction implies. This mirrors the
// behavior the strategy owners signed off on; it favors keeping the order
// executable over capital preservation.
func Size(balance, riskFraction float64, leverage int, pair *domain.TradingPair) (float64, error) {
	if err := validatePair(pair); err != nil {
		return 0, err
	}
	if balance <= 0 {
		return 0, fmt.Errorf("balance must be positive, got %f: %w", balance, ports.ErrInvalidRequest)
	}
	if riskFraction <= 0 || leverage <= 0 {
		return 0, fmt.Errorf("risk fraction and leverage must be positive: %w", ports.ErrInvalidRequest)
	}

	raw := balance * riskFraction * float64(leverage)
	return clampAndRound(raw, pair)
}

// SizeByBalanceFraction computes a quantity from a fixed fraction of the
// available balance divided by the current price (e.g., quarter-balance
// sizing with fraction=0.25), then applies the same clamp-and-round.
func SizeByBalanceFraction(available, fraction, price float64, pair *domain.TradingPair) (float64, error) {
	if err := validatePair(pair); err != nil {
		return 0, err
	}
	if price <= 0 {
		return 0, fmt.Errorf("price must be positive, got %f: %w", price, ports.ErrNoReferencePrice)
	}
	if available <= 0 || fraction <= 0 {
		return 0, fmt.Errorf("available balance and fraction must be positive: %w", ports.ErrInvalidRequest)
	}

	raw := available * fraction / price
	return clampAndRound(raw, pair)
}

// Fixed validates a configured fixed quantity against the pair's
// constraints, applying the same clamp-and-round as the computed modes.
func Fixed(qty float64, pair *domain.TradingPair) (float64, error) {
	if err := validatePair(pair); err != nil {
		return 0, err
	}
	if qty <= 0 {
		return 0, fmt.Errorf("fixed quantity must be positive, got %f: %w", qty, ports.ErrInvalidRequest)
	}
	return clampAndRound(qty, pair)
}

// RoundToStep rounds qty to the nearest multiple of step using banker's
// rounding (round-half-to-even). Deterministic for equal inputs.
func RoundToStep(qty, step float64) float64 {
	d := decimal.NewFromFloat(qty).
		Div(decimal.NewFromFloat(step)).
		RoundBank(0).
		Mul(decimal.NewFromFloat(step))
	f, _ := d.Float64()
	return f
}

func validatePair(pair *domain.TradingPair) error {
	if pair == nil || !pair.ConstraintsValid() {
		return fmt.Errorf("step size and min/max quantity for %s are unusable: %w",
			pairSymbol(pair), ports.ErrInvalidPairConstraints)
	}
	return nil
}

func pairSymbol(pair *domain.TradingPair) string {
	if pair == nil {
		return "<nil pair>"
	}
	return pair.Symbol
}

func clampAndRound(raw float64, pair *domain.TradingPair) (float64, error) {
	qty := raw
	if qty < pair.MinQty {
		qty = pair.MinQty
	}
	if pair.MaxQty > 0 && qty > pair.MaxQty {
		qty = pair.MaxQty
	}

	qty = RoundToStep(qty, pair.StepSize)

	// Rounding may land below the minimum (or at zero when MinQty is 0 and
	// the raw size is tiny). Never hand a non-positive or sub-minimum
	// quantity to the exchange.
	if qty < pair.MinQty {
		qty = roundUpToStep(pair.MinQty, pair.StepSize)
	}
	if qty <= 0 {
		qty = pair.StepSize
	}
	return qty, nil
}

func roundUpToStep(qty, step float64) float64 {
	d := decimal.NewFromFloat(qty).
		Div(decimal.NewFromFloat(step)).
		Ceil().
		Mul(decimal.NewFromFloat(step))
	f, _ := d.Float64()
	return f
}
