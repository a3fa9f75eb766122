package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"signalbridge/internal/domain"
	"signalbridge/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements the trade, position, pair and settings repository
// ports on a single SQLite database.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/signalbridge.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// WAL mode for better concurrency
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally, but the Go driver benefits
	// from limiting connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, logger: cfg.Logger}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
// NOTE: A proper migration tool is recommended for production.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		position_id INTEGER NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		order_type TEXT NOT NULL,
		quantity REAL NOT NULL DEFAULT 0,
		filled_qty REAL NOT NULL DEFAULT 0,
		price REAL NOT NULL DEFAULT 0,
		avg_price REAL NOT NULL DEFAULT 0,
		stop_price REAL NOT NULL DEFAULT 0,
		order_id INTEGER NOT NULL DEFAULT 0,
		client_order_id TEXT NOT NULL,
		status TEXT NOT NULL,
		signal_payload TEXT NOT NULL DEFAULT '',
		error_message TEXT NULL,
		commission REAL NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NULL
	);

	CREATE TABLE IF NOT EXISTS positions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity REAL NOT NULL,
		entry_price REAL NOT NULL,
		mark_price REAL NOT NULL DEFAULT 0,
		realized_pnl REAL NOT NULL DEFAULT 0,
		unrealized_pnl REAL NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		close_price REAL NOT NULL DEFAULT 0,
		close_reason TEXT NULL,
		stop_loss_price REAL NOT NULL DEFAULT 0,
		take_profit_price REAL NOT NULL DEFAULT 0,
		stop_loss_order_id TEXT NULL,
		take_profit_order_id TEXT NULL,
		opened_at TIMESTAMP NOT NULL,
		closed_at TIMESTAMP NULL
	);

	CREATE TABLE IF NOT EXISTS trading_pairs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL UNIQUE,
		base_asset TEXT NOT NULL,
		quote_asset TEXT NOT NULL,
		min_qty REAL NOT NULL DEFAULT 0,
		max_qty REAL NOT NULL DEFAULT 0,
		step_size REAL NOT NULL DEFAULT 0,
		tick_size REAL NOT NULL DEFAULT 0,
		active INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS bot_settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		api_key TEXT NOT NULL DEFAULT '',
		api_secret TEXT NOT NULL DEFAULT '',
		testnet INTEGER NOT NULL DEFAULT 1,
		default_quantity REAL NOT NULL DEFAULT 0,
		max_position_size REAL NOT NULL DEFAULT 0,
		risk_percentage REAL NOT NULL DEFAULT 1,
		leverage INTEGER NOT NULL DEFAULT 1,
		stop_loss_pct REAL NOT NULL DEFAULT 0,
		take_profit_pct REAL NOT NULL DEFAULT 0,
		enable_stop_loss INTEGER NOT NULL DEFAULT 1,
		enable_take_profit INTEGER NOT NULL DEFAULT 1,
		allowed_symbols TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trades_symbol_status_created ON trades (symbol, status, created_at);
	CREATE INDEX IF NOT EXISTS idx_positions_symbol_status ON positions (symbol, status);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- TradeRepository Implementation ---

// CreateTrade saves a new trade record and returns its assigned ID.
func (r *Repository) CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	const query = `
	INSERT INTO trades (position_id, symbol, side, order_type, quantity, filled_qty, price, avg_price,
	                    stop_price, order_id, client_order_id, status, signal_payload, error_message,
	                    commission, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		nullInt64(trade.PositionID), trade.Symbol, trade.Side, trade.Type,
		trade.Quantity, trade.FilledQty, trade.Price, trade.AvgPrice,
		trade.StopPrice, trade.OrderID, trade.ClientOrderID, trade.Status,
		trade.SignalPayload, nullString(trade.ErrorMessage), trade.Commission,
		trade.CreatedAt, nullTime(trade.UpdatedAt))
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade for symbol %s: %w", trade.Symbol, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for trade %s: %w", trade.Symbol, err)
	}
	trade.ID = id
	r.logger.Debug(ctx, "Trade created", map[string]interface{}{"tradeID": id, "symbol": trade.Symbol, "status": trade.Status})
	return id, nil
}

// UpdateTrade modifies an existing trade based on its ID.
func (r *Repository) UpdateTrade(ctx context.Context, trade *domain.Trade) error {
	const query = `
	UPDATE trades
	SET position_id = ?, quantity = ?, filled_qty = ?, price = ?, avg_price = ?, stop_price = ?,
	    order_id = ?, status = ?, error_message = ?, commission = ?, updated_at = ?
	WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		nullInt64(trade.PositionID), trade.Quantity, trade.FilledQty, trade.Price, trade.AvgPrice,
		trade.StopPrice, trade.OrderID, trade.Status, nullString(trade.ErrorMessage),
		trade.Commission, nullTime(trade.UpdatedAt),
		trade.ID)
	if err != nil {
		return fmt.Errorf("failed to update trade ID %d: %w", trade.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for update trade ID %d: %w", trade.ID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("trade ID %d not found for update: %w", trade.ID, ports.ErrNotFound)
	}
	r.logger.Debug(ctx, "Trade updated", map[string]interface{}{"tradeID": trade.ID, "status": trade.Status})
	return nil
}

// FindRecent retrieves the most recent trades, newest first.
func (r *Repository) FindRecent(ctx context.Context, limit int) ([]*domain.Trade, error) {
	const query = `
	SELECT id, position_id, symbol, side, order_type, quantity, filled_qty, price, avg_price,
	       stop_price, order_id, client_order_id, status, signal_payload, error_message,
	       commission, created_at, updated_at
	FROM trades
	ORDER BY created_at DESC, id DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent trades: %w", err)
	}
	defer rows.Close()

	return collectTrades(rows)
}

// FindFilledSince retrieves filled trades created at or after since. An
// empty symbol matches all symbols.
func (r *Repository) FindFilledSince(ctx context.Context, symbol string, since time.Time) ([]*domain.Trade, error) {
	query := `
	SELECT id, position_id, symbol, side, order_type, quantity, filled_qty, price, avg_price,
	       stop_price, order_id, client_order_id, status, signal_payload, error_message,
	       commission, created_at, updated_at
	FROM trades
	WHERE status = ? AND created_at >= ?`
	args := []interface{}{domain.TradeFilled, since}
	if symbol != "" {
		query += ` AND symbol = ?`
		args = append(args, symbol)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query filled trades since %s: %w", since.Format(time.RFC3339), err)
	}
	defer rows.Close()

	return collectTrades(rows)
}

// --- PositionRepository Implementation ---

// Create saves a new position and returns its assigned ID.
func (r *Repository) Create(ctx context.Context, pos *domain.Position) (int64, error) {
	const query = `
	INSERT INTO positions (symbol, side, quantity, entry_price, mark_price, realized_pnl, unrealized_pnl,
	                       status, close_price, close_reason, stop_loss_price, take_profit_price,
	                       stop_loss_order_id, take_profit_order_id, opened_at, closed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		pos.Symbol, pos.Side, pos.Quantity, pos.EntryPrice, pos.MarkPrice,
		pos.RealizedPNL, pos.UnrealizedPNL, pos.Status, pos.ClosePrice,
		nullString(string(pos.CloseReason)), pos.StopLossPrice, pos.TakeProfitPrice,
		nullStringPtr(pos.StopLossOrderID), nullStringPtr(pos.TakeProfitOrderID),
		pos.OpenedAt, nullTime(pos.ClosedAt))
	if err != nil {
		return 0, fmt.Errorf("failed to insert position for symbol %s: %w", pos.Symbol, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for position %s: %w", pos.Symbol, err)
	}
	pos.ID = id
	r.logger.Debug(ctx, "Position created", map[string]interface{}{"positionID": id, "symbol": pos.Symbol})
	return id, nil
}

// Update modifies an existing position based on its ID.
func (r *Repository) Update(ctx context.Context, pos *domain.Position) error {
	const query = `
	UPDATE positions
	SET quantity = ?, entry_price = ?, mark_price = ?, realized_pnl = ?, unrealized_pnl = ?,
	    status = ?, close_price = ?, close_reason = ?, stop_loss_price = ?, take_profit_price = ?,
	    stop_loss_order_id = ?, take_profit_order_id = ?, closed_at = ?
	WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		pos.Quantity, pos.EntryPrice, pos.MarkPrice, pos.RealizedPNL, pos.UnrealizedPNL,
		pos.Status, pos.ClosePrice, nullString(string(pos.CloseReason)),
		pos.StopLossPrice, pos.TakeProfitPrice,
		nullStringPtr(pos.StopLossOrderID), nullStringPtr(pos.TakeProfitOrderID),
		nullTime(pos.ClosedAt),
		pos.ID)
	if err != nil {
		return fmt.Errorf("failed to update position ID %d: %w", pos.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for update position ID %d: %w", pos.ID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("position ID %d not found for update: %w", pos.ID, ports.ErrNotFound)
	}
	r.logger.Debug(ctx, "Position updated", map[string]interface{}{"positionID": pos.ID, "symbol": pos.Symbol, "status": pos.Status})
	return nil
}

// FindOpenBySymbol retrieves the currently open position for a given symbol, if any.
func (r *Repository) FindOpenBySymbol(ctx context.Context, symbol string) (*domain.Position, error) {
	const query = selectPosition + ` WHERE symbol = ? AND status = ?`

	row := r.db.QueryRowContext(ctx, query, symbol, domain.PositionOpen)
	pos, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not an error, just not found
		}
		return nil, fmt.Errorf("failed to query open position for symbol %s: %w", symbol, err)
	}
	return pos, nil
}

// FindByID retrieves a position by its unique ID.
func (r *Repository) FindByID(ctx context.Context, id int64) (*domain.Position, error) {
	const query = selectPosition + ` WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	pos, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not an error, just not found
		}
		return nil, fmt.Errorf("failed to query position by ID %d: %w", id, err)
	}
	return pos, nil
}

// FindOpen retrieves all open positions.
func (r *Repository) FindOpen(ctx context.Context) ([]*domain.Position, error) {
	const query = selectPosition + ` WHERE status = ? ORDER BY opened_at ASC`

	rows, err := r.db.QueryContext(ctx, query, domain.PositionOpen)
	if err != nil {
		return nil, fmt.Errorf("failed to query open positions: %w", err)
	}
	defer rows.Close()

	positions := make([]*domain.Position, 0)
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position during FindOpen: %w", err)
		}
		positions = append(positions, pos)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position rows: %w", err)
	}
	return positions, nil
}

// --- PairRepository Implementation ---

// FindBySymbol retrieves a trading pair by symbol, nil if unknown.
func (r *Repository) FindBySymbol(ctx context.Context, symbol string) (*domain.TradingPair, error) {
	const query = `
	SELECT id, symbol, base_asset, quote_asset, min_qty, max_qty, step_size, tick_size, active
	FROM trading_pairs
	WHERE symbol = ?`

	p := &domain.TradingPair{}
	err := r.db.QueryRowContext(ctx, query, symbol).Scan(
		&p.ID, &p.Symbol, &p.BaseAsset, &p.QuoteAsset,
		&p.MinQty, &p.MaxQty, &p.StepSize, &p.TickSize, &p.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not an error, just not found
		}
		return nil, fmt.Errorf("failed to query trading pair %s: %w", symbol, err)
	}
	return p, nil
}

// Upsert inserts or refreshes a pair record keyed by symbol.
func (r *Repository) Upsert(ctx context.Context, pair *domain.TradingPair) error {
	const query = `
	INSERT INTO trading_pairs (symbol, base_asset, quote_asset, min_qty, max_qty, step_size, tick_size, active)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(symbol) DO UPDATE SET
		base_asset = excluded.base_asset,
		quote_asset = excluded.quote_asset,
		min_qty = excluded.min_qty,
		max_qty = excluded.max_qty,
		step_size = excluded.step_size,
		tick_size = excluded.tick_size,
		active = excluded.active`

	_, err := r.db.ExecContext(ctx, query,
		pair.Symbol, pair.BaseAsset, pair.QuoteAsset,
		pair.MinQty, pair.MaxQty, pair.StepSize, pair.TickSize, pair.Active)
	if err != nil {
		return fmt.Errorf("failed to upsert trading pair %s: %w", pair.Symbol, err)
	}
	r.logger.Debug(ctx, "Trading pair upserted", map[string]interface{}{"symbol": pair.Symbol})
	return nil
}

// --- SettingsRepository Implementation ---

// Get retrieves the singleton settings row, nil when none are stored yet.
func (r *Repository) Get(ctx context.Context) (*domain.BotSettings, error) {
	const query = `
	SELECT id, api_key, api_secret, testnet, default_quantity, max_position_size, risk_percentage,
	       leverage, stop_loss_pct, take_profit_pct, enable_stop_loss, enable_take_profit,
	       allowed_symbols, active, updated_at
	FROM bot_settings
	WHERE id = 1`

	s := &domain.BotSettings{}
	err := r.db.QueryRowContext(ctx, query).Scan(
		&s.ID, &s.APIKey, &s.APISecret, &s.Testnet,
		&s.DefaultQuantity, &s.MaxPositionSize, &s.RiskPercentage,
		&s.Leverage, &s.StopLossPct, &s.TakeProfitPct,
		&s.EnableStopLoss, &s.EnableTakeProfit,
		&s.AllowedSymbols, &s.Active, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not an error, just not configured yet
		}
		return nil, fmt.Errorf("failed to query bot settings: %w", err)
	}
	return s, nil
}

// Save inserts or replaces the singleton settings row.
func (r *Repository) Save(ctx context.Context, settings *domain.BotSettings) error {
	const query = `
	INSERT OR REPLACE INTO bot_settings (id, api_key, api_secret, testnet, default_quantity,
		max_position_size, risk_percentage, leverage, stop_loss_pct, take_profit_pct,
		enable_stop_loss, enable_take_profit, allowed_symbols, active, updated_at)
	VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		settings.APIKey, settings.APISecret, settings.Testnet, settings.DefaultQuantity,
		settings.MaxPositionSize, settings.RiskPercentage, settings.Leverage,
		settings.StopLossPct, settings.TakeProfitPct,
		settings.EnableStopLoss, settings.EnableTakeProfit,
		settings.AllowedSymbols, settings.Active, settings.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save bot settings: %w", err)
	}
	r.logger.Debug(ctx, "Bot settings saved")
	return nil
}

// --- Helper Scan Functions ---

const selectPosition = `
	SELECT id, symbol, side, quantity, entry_price, mark_price, realized_pnl, unrealized_pnl,
	       status, close_price, close_reason, stop_loss_price, take_profit_price,
	       stop_loss_order_id, take_profit_order_id, opened_at, closed_at
	FROM positions`

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanPosition scans a row into a domain.Position struct.
func scanPosition(s scanner) (*domain.Position, error) {
	p := &domain.Position{}
	var side, status string
	var closeReason, slOrderID, tpOrderID sql.NullString
	var closedAt sql.NullTime
	err := s.Scan(
		&p.ID, &p.Symbol, &side, &p.Quantity, &p.EntryPrice, &p.MarkPrice,
		&p.RealizedPNL, &p.UnrealizedPNL, &status, &p.ClosePrice, &closeReason,
		&p.StopLossPrice, &p.TakeProfitPrice, &slOrderID, &tpOrderID,
		&p.OpenedAt, &closedAt)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	p.Side = domain.OrderSide(side)
	p.Status = domain.PositionStatus(status)
	if closeReason.Valid {
		p.CloseReason = domain.CloseReason(closeReason.String)
	}
	if slOrderID.Valid {
		p.StopLossOrderID = &slOrderID.String
	}
	if tpOrderID.Valid {
		p.TakeProfitOrderID = &tpOrderID.String
	}
	if closedAt.Valid {
		p.ClosedAt = closedAt.Time
	}
	return p, nil
}

// scanTrade scans a row into a domain.Trade struct.
func scanTrade(s scanner) (*domain.Trade, error) {
	t := &domain.Trade{}
	var side, orderType, status string
	var positionID sql.NullInt64
	var errorMessage sql.NullString
	var updatedAt sql.NullTime
	err := s.Scan(
		&t.ID, &positionID, &t.Symbol, &side, &orderType,
		&t.Quantity, &t.FilledQty, &t.Price, &t.AvgPrice, &t.StopPrice,
		&t.OrderID, &t.ClientOrderID, &status, &t.SignalPayload, &errorMessage,
		&t.Commission, &t.CreatedAt, &updatedAt)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	t.Side = domain.OrderSide(side)
	t.Type = domain.OrderType(orderType)
	t.Status = domain.TradeStatus(status)
	if positionID.Valid {
		t.PositionID = positionID.Int64
	}
	if errorMessage.Valid {
		t.ErrorMessage = errorMessage.String
	}
	if updatedAt.Valid {
		t.UpdatedAt = updatedAt.Time
	}
	return t, nil
}

func collectTrades(rows *sql.Rows) ([]*domain.Trade, error) {
	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w", err)
		}
		trades = append(trades, trade)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}
	return trades, nil
}

func nullInt64(v int64) sql.NullInt64 {
	if v == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: v, Valid: true}
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func nullStringPtr(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func nullTime(v time.Time) sql.NullTime {
	if v.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: v, Valid: true}
}
