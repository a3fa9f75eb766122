// Package analytics aggregates trading performance metrics over a window
// of filled trades.
package analytics

import (
	"context"
	"fmt"
	"math"
	"time"

	"signalbridge/internal/ports"
)

// Metrics summarizes performance over an analysis window. PnL figures come
// from the positions the trades belong to, so unlinked trades (e.g. fills
// whose position recording failed) contribute volume but no PnL.
type Metrics struct {
	Symbol        string    `json:"symbol,omitempty"`
	WindowDays    int       `json:"window_days"`
	From          time.Time `json:"from"`
	TotalTrades   int       `json:"total_trades"`
	WinningTrades int       `json:"winning_trades"`
	LosingTrades  int       `json:"losing_trades"`
	TotalVolume   float64   `json:"total_volume"`
	TotalPNL      float64   `json:"total_pnl"`
	WinRate       float64   `json:"win_rate"`
	AvgWin        float64   `json:"avg_win"`
	AvgLoss       float64   `json:"avg_loss"`
	ProfitFactor  float64   `json:"profit_factor"`
}

// Aggregator computes metrics from the trade and position stores.
type Aggregator struct {
	trades    ports.TradeRepository
	positions ports.PositionRepository
	logger    ports.Logger
}

// New creates an analytics aggregator.
func New(trades ports.TradeRepository, positions ports.PositionRepository, logger ports.Logger) (*Aggregator, error) {
	if trades == nil || positions == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for aggregator")
	}
	return &Aggregator{trades: trades, positions: positions, logger: logger}, nil
}

// Compute aggregates metrics for the last windowDays of filled trades on a
// symbol (empty symbol means all symbols). Returns nil, nil when the
// window holds no filled trades.
func (a *Aggregator) Compute(ctx context.Context, symbol string, windowDays int) (*Metrics, error) {
	op := "Compute"
	if windowDays <= 0 {
		windowDays = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -windowDays)

	trades, err := a.trades.FindFilledSince(ctx, symbol, since)
	if err != nil {
		return nil, fmt.Errorf("%s: loading filled trades: %w", op, err)
	}
	if len(trades) == 0 {
		// Not an error, just nothing to aggregate.
		return nil, nil
	}

	m := &Metrics{
		Symbol:     symbol,
		WindowDays: windowDays,
		From:       since,
	}

	// Trades link to positions via the PositionID stamped at fill time.
	// Each closed position's realized PnL is counted once, no matter how
	// many trades contributed to it.
	seen := make(map[int64]bool)
	var grossWin, grossLoss float64
	for _, t := range trades {
		m.TotalTrades++
		m.TotalVolume += t.FilledQty * t.AvgPrice

		if t.PositionID == 0 || seen[t.PositionID] {
			continue
		}
		seen[t.PositionID] = true

		pos, err := a.positions.FindByID(ctx, t.PositionID)
		if err != nil {
			return nil, fmt.Errorf("%s: loading position %d: %w", op, t.PositionID, err)
		}
		if pos == nil {
			a.logger.Warn(ctx, op+": Trade references a missing position", map[string]interface{}{
				"tradeID": t.ID, "positionID": t.PositionID,
			})
			continue
		}
		if pos.IsOpen() {
			// Open positions have no realized PnL yet.
			continue
		}

		m.TotalPNL += pos.RealizedPNL
		if pos.RealizedPNL > 0 {
			m.WinningTrades++
			grossWin += pos.RealizedPNL
		} else if pos.RealizedPNL < 0 {
			m.LosingTrades++
			grossLoss += -pos.RealizedPNL
		}
	}

	closed := m.WinningTrades + m.LosingTrades
	if closed > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(closed)
	}
	if m.WinningTrades > 0 {
		m.AvgWin = grossWin / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AvgLoss = grossLoss / float64(m.LosingTrades)
	}
	switch {
	case grossLoss > 0:
		m.ProfitFactor = grossWin / grossLoss
	case m.WinningTrades > 0:
		m.ProfitFactor = math.Inf(1)
	}

	return m, nil
}
