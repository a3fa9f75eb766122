package ports

import (
	"context"
	"time"

	"signalbridge/internal/domain"
)

// TradeRepository defines the interface for storing and retrieving trades.
// Trades form the audit trail: there is deliberately no delete operation.
type TradeRepository interface {
	// CreateTrade saves a new trade record and returns its assigned ID.
	CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error)
	// UpdateTrade modifies an existing trade.
	UpdateTrade(ctx context.Context, trade *domain.Trade) error
	// FindRecent retrieves the most recent trades, newest first.
	FindRecent(ctx context.Context, limit int) ([]*domain.Trade, error)
	// FindFilledSince retrieves filled trades created at or after since.
	// An empty symbol matches all symbols.
	FindFilledSince(ctx context.Context, symbol string, since time.Time) ([]*domain.Trade, error)
}

// PositionRepository defines the interface for storing and retrieving positions.
type PositionRepository interface {
	// Create saves a new position and returns its assigned ID.
	Create(ctx context.Context, pos *domain.Position) (int64, error)
	// Update modifies an existing position.
	Update(ctx context.Context, pos *domain.Position) error
	// FindOpenBySymbol retrieves the currently open position for a given symbol, if any.
	// Returns nil, nil if no open position is found.
	FindOpenBySymbol(ctx context.Context, symbol string) (*domain.Position, error)
	// FindByID retrieves a position by its unique ID.
	// Returns nil, nil if not found.
	FindByID(ctx context.Context, id int64) (*domain.Position, error)
	// FindOpen retrieves all open positions.
	FindOpen(ctx context.Context) ([]*domain.Position, error)
}

// PairRepository stores trading-pair reference data.
type PairRepository interface {
	// FindBySymbol retrieves a pair by symbol. Returns nil, nil if unknown.
	FindBySymbol(ctx context.Context, symbol string) (*domain.TradingPair, error)
	// Upsert inserts or refreshes a pair record.
	Upsert(ctx context.Context, pair *domain.TradingPair) error
}

// SettingsRepository stores the singleton bot settings row.
type SettingsRepository interface {
	// Get retrieves the settings. Returns nil, nil when none are stored yet.
	Get(ctx context.Context) (*domain.BotSettings, error)
	// Save inserts or replaces the settings row.
	Save(ctx context.Context, settings *domain.BotSettings) error
}
