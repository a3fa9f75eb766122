// Package ledger tracks open and closed positions per symbol and owns
// their lifecycle state. It serializes reconciliation-and-open per symbol
// so two concurrent signals cannot both observe "no position" and both
// open one.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"signalbridge/internal/domain"
	"signalbridge/internal/ports"
)

// Ledger is the single writer of Position records.
type Ledger struct {
	repo   ports.PositionRepository
	logger ports.Logger

	mu       sync.Mutex
	symLocks map[string]*sync.Mutex
}

// New creates a position ledger.
func New(repo ports.PositionRepository, logger ports.Logger) (*Ledger, error) {
	if repo == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for ledger")
	}
	return &Ledger{
		repo:     repo,
		logger:   logger,
		symLocks: make(map[string]*sync.Mutex),
	}, nil
}

// LockSymbol acquires the exclusive section for one symbol and returns
// the unlock function. Reconcile-and-open for a symbol must run entirely
// inside this section.
func (l *Ledger) LockSymbol(symbol string) func() {
	l.mu.Lock()
	lock, ok := l.symLocks[symbol]
	if !ok {
		lock = &sync.Mutex{}
		l.symLocks[symbol] = lock
	}
	l.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// OpenOrUpdate records the exposure created by a filled trade. If an open
// same-side position exists its entry price is volume-weighted and the
// quantity added; otherwise a new position is opened. The trade is linked
// to the position via Trade.PositionID by the caller.
func (l *Ledger) OpenOrUpdate(ctx context.Context, trade *domain.Trade, fillPrice float64) (*domain.Position, error) {
	op := "OpenOrUpdate"
	if trade.FilledQty <= 0 {
		return nil, fmt.Errorf("%s: trade %d has no filled quantity: %w", op, trade.ID, ports.ErrInvalidRequest)
	}

	pos, err := l.repo.FindOpenBySymbol(ctx, trade.Symbol)
	if err != nil {
		return nil, fmt.Errorf("%s: querying open position for %s: %w", op, trade.Symbol, err)
	}

	if pos != nil && pos.Side == trade.Side {
		totalQty := pos.Quantity + trade.FilledQty
		pos.EntryPrice = (pos.EntryPrice*pos.Quantity + fillPrice*trade.FilledQty) / totalQty
		pos.Quantity = totalQty
		pos.MarkPrice = fillPrice
		pos.UnrealizedPNL = pos.ComputeUnrealized(fillPrice)
		if err := l.repo.Update(ctx, pos); err != nil {
			return nil, fmt.Errorf("%s: updating position %d: %w", op, pos.ID, err)
		}
		l.logger.Info(ctx, op+": Added to existing position", map[string]interface{}{
			"positionID": pos.ID, "symbol": pos.Symbol, "quantity": pos.Quantity, "entryPrice": pos.EntryPrice,
		})
		return pos, nil
	}

	if pos != nil {
		// An opposite-side open position at fill time means reconciliation
		// was skipped or failed upstream; the caller owns that policy.
		l.logger.Warn(ctx, op+": Opening while an opposite-side position is still open", map[string]interface{}{
			"symbol": trade.Symbol, "openPositionID": pos.ID,
		})
	}

	newPos := &domain.Position{
		Symbol:        trade.Symbol,
		Side:          trade.Side,
		Quantity:      trade.FilledQty,
		EntryPrice:    fillPrice,
		MarkPrice:     fillPrice,
		Status:        domain.PositionOpen,
		UnrealizedPNL: 0,
		OpenedAt:      time.Now().UTC(),
	}
	id, err := l.repo.Create(ctx, newPos)
	if err != nil {
		return nil, fmt.Errorf("%s: creating position for %s: %w", op, trade.Symbol, err)
	}
	newPos.ID = id
	l.logger.Info(ctx, op+": Opened new position", map[string]interface{}{
		"positionID": id, "symbol": newPos.Symbol, "side": newPos.Side, "quantity": newPos.Quantity, "entryPrice": fillPrice,
	})
	return newPos, nil
}

// Adopt records an exchange-reported position the ledger has no row for,
// bringing local bookkeeping back in line with the exchange. The adopted
// position carries no protective order IDs; none are known for it.
func (l *Ledger) Adopt(ctx context.Context, symbol string, side domain.OrderSide, qty, entryPrice, markPrice float64) (*domain.Position, error) {
	op := "Adopt"
	if qty <= 0 {
		return nil, fmt.Errorf("%s: quantity must be positive, got %f: %w", op, qty, ports.ErrInvalidRequest)
	}
	if markPrice == 0 {
		markPrice = entryPrice
	}

	pos := &domain.Position{
		Symbol:     symbol,
		Side:       side,
		Quantity:   qty,
		EntryPrice: entryPrice,
		MarkPrice:  markPrice,
		Status:     domain.PositionOpen,
		OpenedAt:   time.Now().UTC(),
	}
	pos.UnrealizedPNL = pos.ComputeUnrealized(markPrice)

	id, err := l.repo.Create(ctx, pos)
	if err != nil {
		return nil, fmt.Errorf("%s: creating position for %s: %w", op, symbol, err)
	}
	pos.ID = id
	l.logger.Warn(ctx, op+": Recorded position previously unknown to the ledger", map[string]interface{}{
		"positionID": id, "symbol": symbol, "side": side, "quantity": qty, "entryPrice": entryPrice,
	})
	return pos, nil
}

// Close transitions a position to its closed status and fixes realized
// PnL. Closing an already-closed position is a no-op, not an error, so
// the operation is idempotent under races between signal-driven closes
// and protective-order fills.
func (l *Ledger) Close(ctx context.Context, pos *domain.Position, closePrice float64, reason domain.CloseReason) error {
	op := "Close"
	if pos == nil {
		return fmt.Errorf("%s: nil position: %w", op, ports.ErrInvalidRequest)
	}
	if !pos.IsOpen() {
		l.logger.Debug(ctx, op+": Position already closed, skipping", map[string]interface{}{
			"positionID": pos.ID, "status": pos.Status,
		})
		return nil
	}

	pos.ClosePrice = closePrice
	pos.ClosedAt = time.Now().UTC()
	pos.Status = domain.StatusForReason(reason)
	pos.CloseReason = reason
	pos.RealizedPNL = pos.ComputeUnrealized(closePrice)
	pos.UnrealizedPNL = 0

	if err := l.repo.Update(ctx, pos); err != nil {
		return fmt.Errorf("%s: updating position %d: %w", op, pos.ID, err)
	}
	l.logger.Info(ctx, op+": Position closed", map[string]interface{}{
		"positionID": pos.ID, "symbol": pos.Symbol, "closePrice": closePrice,
		"reason": reason, "realizedPnl": pos.RealizedPNL,
	})
	return nil
}

// SetProtectiveOrders records stop-loss/take-profit levels and order IDs
// on the position. Nil order IDs are valid: placement of either leg may
// have failed, and that state must stay queryable.
func (l *Ledger) SetProtectiveOrders(ctx context.Context, pos *domain.Position, slPrice float64, slOrderID *string, tpPrice float64, tpOrderID *string) error {
	pos.StopLossPrice = slPrice
	pos.StopLossOrderID = slOrderID
	pos.TakeProfitPrice = tpPrice
	pos.TakeProfitOrderID = tpOrderID
	if err := l.repo.Update(ctx, pos); err != nil {
		return fmt.Errorf("recording protective orders on position %d: %w", pos.ID, err)
	}
	return nil
}

// FindOpenBySymbol returns the open position for a symbol, nil if none.
func (l *Ledger) FindOpenBySymbol(ctx context.Context, symbol string) (*domain.Position, error) {
	return l.repo.FindOpenBySymbol(ctx, symbol)
}

// ListOpen returns all open positions.
func (l *Ledger) ListOpen(ctx context.Context) ([]*domain.Position, error) {
	return l.repo.FindOpen(ctx)
}

// RefreshMark updates the mark price and recomputes unrealized PnL for an
// open position. Closed positions are left untouched.
func (l *Ledger) RefreshMark(ctx context.Context, pos *domain.Position, markPrice float64) error {
	if !pos.IsOpen() {
		return nil
	}
	pos.MarkPrice = markPrice
	pos.UnrealizedPNL = pos.ComputeUnrealized(markPrice)
	if err := l.repo.Update(ctx, pos); err != nil {
		return fmt.Errorf("refreshing mark price on position %d: %w", pos.ID, err)
	}
	return nil
}
