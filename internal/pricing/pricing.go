// Package pricing derives limit, stop-loss and take-profit prices from a
// reference market price and configured offsets.
//
// All derived prices are rounded to the instrument's tick size with pure
// numeric rounding, not exchange-provided rounding rules; on rare
// occasions this can still violate an exchange-side price filter, in
// which case the order is rejected and the trade marked failed.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"signalbridge/internal/domain"
	"signalbridge/internal/ports"
)

// EntryLimit derives the limit price for a new order: buys are biased
// slightly below the reference price, sells slightly above.
func EntryLimit(reference float64, side domain.OrderSide, offset, tickSize float64) (float64, error) {
	if reference <= 0 {
		return 0, fmt.Errorf("reference price %f: %w", reference, ports.ErrNoReferencePrice)
	}
	price := reference * (1 + offset)
	if side == domain.Buy {
		price = reference * (1 - offset)
	}
	return RoundToTick(price, tickSize), nil
}

// CloseLimit derives the limit price for an order that closes an existing
// position. The bias is the opposite of EntryLimit: buy-to-close slightly
// above the reference, sell-to-close slightly below, trading price for a
// near-guaranteed fill.
func CloseLimit(reference float64, closeSide domain.OrderSide, offset, tickSize float64) (float64, error) {
	if reference <= 0 {
		return 0, fmt.Errorf("reference price %f: %w", reference, ports.ErrNoReferencePrice)
	}
	price := reference * (1 - offset)
	if closeSide == domain.Buy {
		price = reference * (1 + offset)
	}
	return RoundToTick(price, tickSize), nil
}

// StopLoss returns the stop trigger for a position entered at entryPrice:
// entry × (1 − pct) for a long, entry × (1 + pct) for a short.
func StopLoss(entryPrice, pct float64, positionSide domain.OrderSide, tickSize float64) float64 {
	if positionSide == domain.Buy {
		return RoundToTick(entryPrice*(1-pct), tickSize)
	}
	return RoundToTick(entryPrice*(1+pct), tickSize)
}

// TakeProfit is the mirror of StopLoss.
func TakeProfit(entryPrice, pct float64, positionSide domain.OrderSide, tickSize float64) float64 {
	if positionSide == domain.Buy {
		return RoundToTick(entryPrice*(1+pct), tickSize)
	}
	return RoundToTick(entryPrice*(1-pct), tickSize)
}

// ProtectiveLimit derives the limit leg of a stop-limit or
// take-profit-limit order from its trigger price. The leg sits a small
// fixed offset past the trigger in the direction of the fill (below for a
// protective SELL, above for a protective BUY), biasing toward execution
// while still bounding slippage.
func ProtectiveLimit(trigger float64, orderSide domain.OrderSide, offset, tickSize float64) float64 {
	if orderSide == domain.Sell {
		return RoundToTick(trigger*(1-offset), tickSize)
	}
	return RoundToTick(trigger*(1+offset), tickSize)
}

// RoundToTick rounds price to the nearest multiple of tickSize
// (round-half-to-even). A non-positive tick size leaves the price as-is.
func RoundToTick(price, tickSize float64) float64 {
	if tickSize <= 0 {
		return price
	}
	d := decimal.NewFromFloat(price).
		Div(decimal.NewFromFloat(tickSize)).
		RoundBank(0).
		Mul(decimal.NewFromFloat(tickSize))
	f, _ := d.Float64()
	return f
}
