// Package engine owns the lifecycle of a single order attempt: validation,
// position reconciliation, submission, fill confirmation and protective
// order setup.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"signalbridge/internal/dispatch"
	"signalbridge/internal/domain"
	"signalbridge/internal/ledger"
	"signalbridge/internal/ports"
	"signalbridge/internal/pricing"
	"signalbridge/internal/sizing"
)

// Config holds the engine's static tuning parameters. Trading parameters
// that can change at runtime live in BotSettings and are re-read from the
// settings repository at the start of every execution.
type Config struct {
	QuoteAsset          string  // Asset balances are fetched in (e.g., "USDT")
	EntryOffsetPct      float64 // Limit-entry bias from the ticker price
	CloseOffsetPct      float64 // Fill bias for closing orders
	ProtectiveOffsetPct float64 // Limit-leg offset from protective triggers
}

// Engine executes signals against the exchange.
type Engine struct {
	cfg          Config
	logger       ports.Logger
	exchange     ports.ExchangeClient
	dispatcher   *dispatch.Dispatcher
	trades       ports.TradeRepository
	pairs        ports.PairRepository
	settingsRepo ports.SettingsRepository
	ledger       *ledger.Ledger
	notifier     ports.Notifier
}

// New creates an execution engine.
func New(
	cfg Config,
	logger ports.Logger,
	exchange ports.ExchangeClient,
	dispatcher *dispatch.Dispatcher,
	trades ports.TradeRepository,
	pairs ports.PairRepository,
	settingsRepo ports.SettingsRepository,
	posLedger *ledger.Ledger,
	notifier ports.Notifier,
) (*Engine, error) {
	if logger == nil || exchange == nil || dispatcher == nil || trades == nil ||
		pairs == nil || settingsRepo == nil || posLedger == nil {
		return nil, fmt.Errorf("missing required dependencies for engine")
	}
	if notifier == nil {
		notifier = ports.NoopNotifier{}
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	return &Engine{
		cfg:          cfg,
		logger:       logger,
		exchange:     exchange,
		dispatcher:   dispatcher,
		trades:       trades,
		pairs:        pairs,
		settingsRepo: settingsRepo,
		ledger:       posLedger,
		notifier:     notifier,
	}, nil
}

// Execute runs one signal through the state machine. The returned Trade
// always reflects the terminal (or pending) state of the attempt; the
// error is non-nil exactly when the trade did not reach the exchange or
// was rejected by it.
func (e *Engine) Execute(ctx context.Context, sig *domain.Signal) (*domain.Trade, error) {
	op := "Execute"

	settings, err := e.settingsRepo.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: loading settings: %w", op, err)
	}
	if settings == nil {
		return nil, fmt.Errorf("%s: no settings configured: %w", op, ports.ErrConfigurationError)
	}

	trade := &domain.Trade{
		Symbol:        sig.Symbol,
		Side:          sig.Action,
		Type:          domain.OrderTypeLimit,
		Status:        domain.TradePending,
		SignalPayload: sig.Raw,
		ClientOrderID: uuid.NewString(),
		CreatedAt:     time.Now().UTC(),
	}
	if sig.OrderType == domain.OrderTypeMarket {
		trade.Type = domain.OrderTypeMarket
	}
	if _, err := e.trades.CreateTrade(ctx, trade); err != nil {
		return nil, fmt.Errorf("%s: recording trade: %w", op, err)
	}

	// Validation gates: rejected before any exchange call.
	if !settings.Active {
		return e.failTrade(ctx, trade, fmt.Errorf("bot is not active: %w", ports.ErrTradingDisabled))
	}
	if !settings.SymbolAllowed(sig.Symbol) {
		return e.failTrade(ctx, trade, fmt.Errorf("symbol %s: %w", sig.Symbol, ports.ErrSymbolNotAllowed))
	}

	// One exclusive section per symbol: reconcile-and-open must not
	// interleave between concurrent signals for the same instrument.
	unlock := e.ledger.LockSymbol(sig.Symbol)
	defer unlock()

	existing, err := e.reconcilePosition(ctx, sig.Symbol)
	if err != nil {
		return e.failTrade(ctx, trade, err)
	}

	pair, err := e.pairConstraints(ctx, sig.Symbol, settings)
	if err != nil {
		return e.failTrade(ctx, trade, err)
	}

	// A zero strategic target means flatten: close whatever is open for
	// the symbol and place no new order.
	if sig.TargetPosition != nil && *sig.TargetPosition == 0 {
		return e.executeFlatten(ctx, trade, existing, pair)
	}

	// Reconcile opposite exposure before opening. Best-effort: a close
	// failure is logged but does not block the new order's attempt, since
	// cross-system atomicity with the exchange is not available here.
	if existing != nil && existing.Side != sig.Action {
		e.logger.Info(ctx, op+": Opposite-side position open, closing first", map[string]interface{}{
			"symbol": sig.Symbol, "positionID": existing.ID, "positionSide": existing.Side,
		})
		if _, err := e.closePosition(ctx, existing, pair, domain.CloseReasonSignal); err != nil {
			e.logger.Error(ctx, err, op+": Failed to close opposite position, continuing with new order", map[string]interface{}{
				"positionID": existing.ID,
			})
		}
	}

	// Quantity and price are re-derived from live balance and ticker
	// data; the signal's own numbers are hints at best and are never
	// trusted for the final order.
	balance, err := e.fetchBalance(ctx, settings)
	if err != nil {
		return e.failTrade(ctx, trade, err)
	}
	ticker, err := e.fetchTicker(ctx, sig.Symbol)
	if err != nil {
		return e.failTrade(ctx, trade, err)
	}

	qty, err := e.sizeOrder(balance, ticker, settings, pair)
	if err != nil {
		return e.failTrade(ctx, trade, err)
	}
	if settings.MaxPositionSize > 0 && qty > settings.MaxPositionSize {
		qty = sizing.RoundToStep(settings.MaxPositionSize, pair.StepSize)
		e.logger.Warn(ctx, op+": Sized quantity capped by max position size", map[string]interface{}{
			"symbol": sig.Symbol, "cappedQty": qty,
		})
	}

	price, err := pricing.EntryLimit(ticker, sig.Action, e.cfg.EntryOffsetPct, pair.TickSize)
	if err != nil {
		return e.failTrade(ctx, trade, err)
	}

	trade.Quantity = qty
	trade.Price = price
	e.logger.Info(ctx, op+": Submitting order", map[string]interface{}{
		"symbol": sig.Symbol, "side": sig.Action, "type": trade.Type,
		"quantity": qty, "price": price, "clientOrderID": trade.ClientOrderID,
	})

	// Order submission goes through Do, never DoIdempotent: a retried
	// submit risks a duplicate order. The client order ID makes an
	// exchange-side retry of the same request a no-op instead.
	var resp *ports.OrderResponse
	submitErr := e.dispatcher.Do(ctx, func(ctx context.Context) error {
		var err error
		if trade.Type == domain.OrderTypeMarket {
			resp, err = e.exchange.PlaceMarketOrder(ctx, sig.Symbol, sig.Action, formatAmount(qty), trade.ClientOrderID)
		} else {
			resp, err = e.exchange.PlaceLimitOrder(ctx, sig.Symbol, sig.Action, formatAmount(qty), formatAmount(price), trade.ClientOrderID)
		}
		return err
	})
	if submitErr != nil {
		return e.failTrade(ctx, trade, fmt.Errorf("order submission: %w", submitErr))
	}

	e.applyOrderResponse(trade, resp)

	if trade.Status == domain.TradeFilled {
		fillPrice := resp.AvgPrice
		if fillPrice == 0 {
			// Some fills report no average price immediately; fall back to
			// the requested limit price (or ticker for market orders).
			fillPrice = price
			e.logger.Warn(ctx, op+": Fill reported without average price, using request price", map[string]interface{}{
				"orderID": trade.OrderID, "fallbackPrice": fillPrice,
			})
		}
		pos, err := e.ledger.OpenOrUpdate(ctx, trade, fillPrice)
		if err != nil {
			e.logger.Error(ctx, err, op+": Order filled but position could not be recorded", map[string]interface{}{
				"tradeID": trade.ID, "orderID": trade.OrderID,
			})
		} else {
			trade.PositionID = pos.ID
			e.setupProtectiveOrders(ctx, settings, sig, pair, pos)
		}
	}

	trade.UpdatedAt = time.Now().UTC()
	if err := e.trades.UpdateTrade(ctx, trade); err != nil {
		e.logger.Error(ctx, err, op+": Failed to persist trade update", map[string]interface{}{"tradeID": trade.ID})
	}

	e.notifier.Notify(ctx, ports.NotifySuccess, fmt.Sprintf(
		"%s %s %s qty=%s price=%s status=%s",
		trade.Side, trade.Type, trade.Symbol, formatAmount(trade.Quantity), formatAmount(trade.Price), trade.Status))
	return trade, nil
}

// executeFlatten handles a target_position=0 signal: close any open
// position for the symbol, never open a new one.
func (e *Engine) executeFlatten(ctx context.Context, trade *domain.Trade, existing *domain.Position, pair *domain.TradingPair) (*domain.Trade, error) {
	op := "executeFlatten"

	if existing == nil {
		trade.Status = domain.TradeCancelled
		trade.ErrorMessage = "flatten signal with no open position"
		trade.UpdatedAt = time.Now().UTC()
		if err := e.trades.UpdateTrade(ctx, trade); err != nil {
			e.logger.Error(ctx, err, op+": Failed to persist trade update", map[string]interface{}{"tradeID": trade.ID})
		}
		e.logger.Info(ctx, op+": Nothing to flatten", map[string]interface{}{"symbol": trade.Symbol})
		return trade, nil
	}

	resp, err := e.closePosition(ctx, existing, pair, domain.CloseReasonFlatTarget)
	if err != nil {
		return e.failTrade(ctx, trade, fmt.Errorf("flattening position %d: %w", existing.ID, err))
	}

	trade.Side = existing.Side.Opposite()
	trade.PositionID = existing.ID
	e.applyOrderResponse(trade, resp)
	trade.UpdatedAt = time.Now().UTC()
	if err := e.trades.UpdateTrade(ctx, trade); err != nil {
		e.logger.Error(ctx, err, op+": Failed to persist trade update", map[string]interface{}{"tradeID": trade.ID})
	}
	e.notifier.Notify(ctx, ports.NotifySuccess, fmt.Sprintf("flattened %s position on %s", existing.Side, existing.Symbol))
	return trade, nil
}

// reconcilePosition resolves the effective open position for a symbol,
// with the exchange report as the source of truth. A ledger row the
// exchange no longer backs (a protective order filled, or the position was
// closed outside this process) is marked closed and its leftover
// protective orders cancelled; exchange exposure the ledger does not know
// about is adopted. Side and quantity always come from the exchange, so a
// closing order is sized against real exposure rather than stale state.
func (e *Engine) reconcilePosition(ctx context.Context, symbol string) (*domain.Position, error) {
	op := "reconcilePosition"

	dbPos, err := e.ledger.FindOpenBySymbol(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("querying open position: %w", err)
	}

	var risk *ports.PositionRisk
	err = e.dispatcher.DoIdempotent(ctx, func(ctx context.Context) error {
		var err error
		risk, err = e.exchange.GetPositionRisk(ctx, symbol)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetching exchange position for %s: %w", symbol, err)
	}

	if risk == nil {
		if dbPos == nil {
			return nil, nil
		}
		e.logger.Warn(ctx, op+": Exchange reports flat, closing stale ledger position", map[string]interface{}{
			"symbol": symbol, "positionID": dbPos.ID, "quantity": dbPos.Quantity,
		})
		if dbPos.StopLossOrderID != nil {
			e.cancelOrderWarn(ctx, symbol, *dbPos.StopLossOrderID, "SL")
		}
		if dbPos.TakeProfitOrderID != nil {
			e.cancelOrderWarn(ctx, symbol, *dbPos.TakeProfitOrderID, "TP")
		}
		closePrice := dbPos.MarkPrice
		if closePrice == 0 {
			closePrice = dbPos.EntryPrice
		}
		if err := e.ledger.Close(ctx, dbPos, closePrice, domain.CloseReasonUnknown); err != nil {
			e.logger.Error(ctx, err, op+": Failed to close stale ledger position", map[string]interface{}{
				"positionID": dbPos.ID,
			})
		}
		return nil, nil
	}

	side := domain.Buy
	if risk.PositionAmt < 0 {
		side = domain.Sell
	}
	qty := math.Abs(risk.PositionAmt)

	if dbPos == nil {
		e.logger.Warn(ctx, op+": Exchange position unknown to the ledger, adopting", map[string]interface{}{
			"symbol": symbol, "side": side, "quantity": qty, "entryPrice": risk.EntryPrice,
		})
		return e.ledger.Adopt(ctx, symbol, side, qty, risk.EntryPrice, risk.MarkPrice)
	}

	if dbPos.Side != side || dbPos.Quantity != qty {
		e.logger.Warn(ctx, op+": Ledger drifted from exchange report, using exchange values", map[string]interface{}{
			"symbol": symbol, "ledgerSide": dbPos.Side, "ledgerQty": dbPos.Quantity,
			"exchangeSide": side, "exchangeQty": qty,
		})
		dbPos.Side = side
		dbPos.Quantity = qty
	}
	return dbPos, nil
}

// closePosition cancels the position's protective orders, submits a
// fill-biased limit order on the opposite side and marks the position
// closed in the ledger.
func (e *Engine) closePosition(ctx context.Context, pos *domain.Position, pair *domain.TradingPair, reason domain.CloseReason) (*ports.OrderResponse, error) {
	op := "closePosition"

	if pos.StopLossOrderID != nil {
		e.cancelOrderWarn(ctx, pos.Symbol, *pos.StopLossOrderID, "SL")
	}
	if pos.TakeProfitOrderID != nil {
		e.cancelOrderWarn(ctx, pos.Symbol, *pos.TakeProfitOrderID, "TP")
	}

	ticker, err := e.fetchTicker(ctx, pos.Symbol)
	if err != nil {
		return nil, err
	}

	closeSide := pos.Side.Opposite()
	tickSize := 0.0
	if pair != nil {
		tickSize = pair.TickSize
	}
	price, err := pricing.CloseLimit(ticker, closeSide, e.cfg.CloseOffsetPct, tickSize)
	if err != nil {
		return nil, err
	}

	var resp *ports.OrderResponse
	clientID := uuid.NewString()
	submitErr := e.dispatcher.Do(ctx, func(ctx context.Context) error {
		var err error
		resp, err = e.exchange.PlaceLimitOrder(ctx, pos.Symbol, closeSide, formatAmount(pos.Quantity), formatAmount(price), clientID)
		return err
	})
	if submitErr != nil {
		return nil, fmt.Errorf("%s: closing order for position %d: %w", op, pos.ID, submitErr)
	}

	closePrice := resp.AvgPrice
	if closePrice == 0 {
		closePrice = price
	}
	if err := e.ledger.Close(ctx, pos, closePrice, reason); err != nil {
		// The exchange order is out; failing to record the close must not
		// hide that fact from the caller's trade record.
		e.logger.Error(ctx, err, op+": Closing order placed but ledger update failed", map[string]interface{}{
			"positionID": pos.ID, "orderID": resp.OrderID,
		})
	}
	return resp, nil
}

// setupProtectiveOrders attaches stop-loss and take-profit legs to a
// freshly filled position. The two legs are independent: either may fail,
// the failure is logged and notified, and the position simply keeps a nil
// order ID for that leg. Nothing here rolls back the filled main order.
func (e *Engine) setupProtectiveOrders(ctx context.Context, settings *domain.BotSettings, sig *domain.Signal, pair *domain.TradingPair, pos *domain.Position) {
	op := "setupProtectiveOrders"
	closeSide := pos.Side.Opposite()
	qtyStr := formatAmount(pos.Quantity)

	var slTrigger, tpTrigger float64
	var slOrderID, tpOrderID *string

	if settings.EnableStopLoss {
		pct := settings.StopLossPct
		if sig.StopLossPct != nil {
			pct = *sig.StopLossPct
		}
		slTrigger = pricing.StopLoss(pos.EntryPrice, pct, pos.Side, pair.TickSize)
		limit := pricing.ProtectiveLimit(slTrigger, closeSide, e.cfg.ProtectiveOffsetPct, pair.TickSize)

		var resp *ports.OrderResponse
		err := e.dispatcher.Do(ctx, func(ctx context.Context) error {
			var err error
			resp, err = e.exchange.PlaceStopLimitOrder(ctx, pos.Symbol, closeSide, qtyStr, formatAmount(limit), formatAmount(slTrigger), uuid.NewString())
			return err
		})
		if err != nil {
			e.logger.Error(ctx, err, op+": Stop loss placement failed, position is unprotected", map[string]interface{}{
				"positionID": pos.ID, "trigger": slTrigger,
			})
			e.notifier.Notify(ctx, ports.NotifyError, fmt.Sprintf("stop loss setup failed for %s position %d", pos.Symbol, pos.ID))
		} else {
			id := formatOrderID(resp.OrderID)
			slOrderID = &id
			e.logger.Info(ctx, op+": Stop loss placed", map[string]interface{}{
				"positionID": pos.ID, "orderID": resp.OrderID, "trigger": slTrigger, "limit": limit,
			})
		}
	}

	if settings.EnableTakeProfit {
		pct := settings.TakeProfitPct
		if sig.TakeProfitPct != nil {
			pct = *sig.TakeProfitPct
		}
		tpTrigger = pricing.TakeProfit(pos.EntryPrice, pct, pos.Side, pair.TickSize)
		limit := pricing.ProtectiveLimit(tpTrigger, closeSide, e.cfg.ProtectiveOffsetPct, pair.TickSize)

		var resp *ports.OrderResponse
		err := e.dispatcher.Do(ctx, func(ctx context.Context) error {
			var err error
			resp, err = e.exchange.PlaceTakeProfitLimitOrder(ctx, pos.Symbol, closeSide, qtyStr, formatAmount(limit), formatAmount(tpTrigger), uuid.NewString())
			return err
		})
		if err != nil {
			e.logger.Error(ctx, err, op+": Take profit placement failed", map[string]interface{}{
				"positionID": pos.ID, "trigger": tpTrigger,
			})
			e.notifier.Notify(ctx, ports.NotifyError, fmt.Sprintf("take profit setup failed for %s position %d", pos.Symbol, pos.ID))
		} else {
			id := formatOrderID(resp.OrderID)
			tpOrderID = &id
			e.logger.Info(ctx, op+": Take profit placed", map[string]interface{}{
				"positionID": pos.ID, "orderID": resp.OrderID, "trigger": tpTrigger, "limit": limit,
			})
		}
	}

	if err := e.ledger.SetProtectiveOrders(ctx, pos, slTrigger, slOrderID, tpTrigger, tpOrderID); err != nil {
		e.logger.Error(ctx, err, op+": Failed to record protective orders", map[string]interface{}{"positionID": pos.ID})
	}
}

// RefreshOpenPositions recomputes unrealized PnL for all open positions
// from the latest mark prices. Intended to run on a periodic ticker.
func (e *Engine) RefreshOpenPositions(ctx context.Context) error {
	positions, err := e.ledger.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("listing open positions: %w", err)
	}
	for _, pos := range positions {
		var mark float64
		err := e.dispatcher.DoIdempotent(ctx, func(ctx context.Context) error {
			var err error
			mark, err = e.exchange.GetMarkPrice(ctx, pos.Symbol)
			return err
		})
		if err != nil {
			e.logger.Warn(ctx, "Mark price refresh failed", map[string]interface{}{
				"symbol": pos.Symbol, "positionID": pos.ID, "error": err.Error(),
			})
			continue
		}
		if err := e.ledger.RefreshMark(ctx, pos, mark); err != nil {
			e.logger.Error(ctx, err, "Failed to persist mark refresh", map[string]interface{}{"positionID": pos.ID})
		}
	}
	return nil
}

// --- helpers ---

// pairConstraints resolves lot-size/tick filters for a symbol, fetching
// and caching exchange info on first sight of the instrument. Leverage is
// set up once per newly discovered symbol; a failure there downgrades to
// whatever leverage the exchange currently has (logged, not fatal).
func (e *Engine) pairConstraints(ctx context.Context, symbol string, settings *domain.BotSettings) (*domain.TradingPair, error) {
	pair, err := e.pairs.FindBySymbol(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("querying trading pair %s: %w", symbol, err)
	}
	if pair != nil {
		if !pair.Active {
			return nil, fmt.Errorf("pair %s is disabled: %w", symbol, ports.ErrSymbolNotAllowed)
		}
		return pair, nil
	}

	var info *ports.SymbolInfo
	err = e.dispatcher.DoIdempotent(ctx, func(ctx context.Context) error {
		var err error
		info, err = e.exchange.GetSymbolInfo(ctx, symbol)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetching exchange filters for %s: %w", symbol, err)
	}

	pair = &domain.TradingPair{
		Symbol:     info.Symbol,
		BaseAsset:  info.BaseAsset,
		QuoteAsset: info.QuoteAsset,
		MinQty:     info.MinQty,
		MaxQty:     info.MaxQty,
		StepSize:   info.StepSize,
		TickSize:   info.TickSize,
		Active:     true,
	}
	if err := e.pairs.Upsert(ctx, pair); err != nil {
		e.logger.Warn(ctx, "Failed to cache trading pair", map[string]interface{}{"symbol": symbol, "error": err.Error()})
	}

	if settings.Leverage > 1 {
		levErr := e.dispatcher.Do(ctx, func(ctx context.Context) error {
			return e.exchange.SetLeverage(ctx, symbol, settings.Leverage)
		})
		if levErr != nil {
			e.logger.Warn(ctx, "Failed to set leverage, continuing with exchange default", map[string]interface{}{
				"symbol": symbol, "targetLeverage": settings.Leverage, "error": levErr.Error(),
			})
		}
	}
	return pair, nil
}

// Fraction of the available balance committed when neither a risk
// percentage nor a fixed default quantity is configured.
const fallbackBalanceFraction = 0.25

// sizeOrder picks the configured sizing mode: balance-risk sizing when a
// risk percentage is set, otherwise the fixed default quantity, otherwise
// quarter-balance fraction sizing. All modes clamp to the pair's lot-size
// constraints.
func (e *Engine) sizeOrder(balance, ticker float64, settings *domain.BotSettings, pair *domain.TradingPair) (float64, error) {
	switch {
	case settings.RiskPercentage > 0:
		return sizing.Size(balance, settings.RiskPercentage/100, settings.Leverage, pair)
	case settings.DefaultQuantity > 0:
		return sizing.Fixed(settings.DefaultQuantity, pair)
	default:
		return sizing.SizeByBalanceFraction(balance, fallbackBalanceFraction, ticker, pair)
	}
}

func (e *Engine) fetchBalance(ctx context.Context, settings *domain.BotSettings) (float64, error) {
	var balance float64
	err := e.dispatcher.DoIdempotent(ctx, func(ctx context.Context) error {
		var err error
		balance, err = e.exchange.GetAvailableBalance(ctx, e.cfg.QuoteAsset)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("fetching %s balance: %w", e.cfg.QuoteAsset, err)
	}
	return balance, nil
}

func (e *Engine) fetchTicker(ctx context.Context, symbol string) (float64, error) {
	var price float64
	err := e.dispatcher.DoIdempotent(ctx, func(ctx context.Context) error {
		var err error
		price, err = e.exchange.GetTickerPrice(ctx, symbol)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("fetching ticker for %s: %w: %w", symbol, err, ports.ErrNoReferencePrice)
	}
	return price, nil
}

// failTrade marks the trade FAILED with the captured message. Terminal:
// trade submissions are never automatically retried.
func (e *Engine) failTrade(ctx context.Context, trade *domain.Trade, cause error) (*domain.Trade, error) {
	trade.Status = domain.TradeFailed
	trade.ErrorMessage = cause.Error()
	trade.UpdatedAt = time.Now().UTC()
	if err := e.trades.UpdateTrade(ctx, trade); err != nil {
		e.logger.Error(ctx, err, "Failed to persist failed trade", map[string]interface{}{"tradeID": trade.ID})
	}
	e.logger.Error(ctx, cause, "Trade failed", map[string]interface{}{
		"tradeID": trade.ID, "symbol": trade.Symbol, "side": trade.Side,
	})
	e.notifier.Notify(ctx, ports.NotifyError, fmt.Sprintf("trade failed on %s: %s", trade.Symbol, cause.Error()))
	return trade, cause
}

// applyOrderResponse copies the exchange's view of the order onto the trade.
func (e *Engine) applyOrderResponse(trade *domain.Trade, resp *ports.OrderResponse) {
	trade.OrderID = resp.OrderID
	trade.AvgPrice = resp.AvgPrice
	trade.FilledQty = resp.ExecutedQty
	if trade.Quantity == 0 {
		trade.Quantity = resp.OrigQuantity
	}
	switch {
	case resp.FullyFilled():
		trade.Status = domain.TradeFilled
	case resp.PartiallyFilled():
		trade.Status = domain.TradePartiallyFilled
	default:
		trade.Status = domain.TradePending
	}
}

// cancelOrderWarn attempts to cancel an order and logs a warning on failure.
func (e *Engine) cancelOrderWarn(ctx context.Context, symbol, orderID, orderType string) {
	op := "cancelOrderWarn"
	id, err := parseOrderID(orderID)
	if err != nil {
		e.logger.Warn(ctx, op+": Unparseable order ID", map[string]interface{}{"orderID": orderID, "type": orderType})
		return
	}
	err = e.dispatcher.Do(ctx, func(ctx context.Context) error {
		_, err := e.exchange.CancelOrder(ctx, symbol, id)
		return err
	})
	if err != nil {
		if errors.Is(err, ports.ErrOrderNotFound) {
			e.logger.Warn(ctx, op+": Order not found, likely already filled or cancelled", map[string]interface{}{"orderID": orderID, "type": orderType})
			return
		}
		e.logger.Error(ctx, err, op+": Failed to cancel order", map[string]interface{}{"orderID": orderID, "type": orderType})
		return
	}
	e.logger.Info(ctx, op+": Order cancelled", map[string]interface{}{"orderID": orderID, "type": orderType})
}

// formatAmount renders a quantity or price without binary-float noise
// ("0.30000000000000004" would be rejected by the exchange).
func formatAmount(v float64) string {
	return decimal.NewFromFloat(v).String()
}

func formatOrderID(id int64) string {
	return decimal.NewFromInt(id).String()
}

func parseOrderID(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return d.IntPart(), nil
}
