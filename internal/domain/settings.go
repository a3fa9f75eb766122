package domain

import (
	"strings"
	"time"
)

// BotSettings is the process-wide runtime configuration. It is stored as a
// singleton row and re-read at the start of every signal-processing cycle,
// so edits take effect for the next signal without a restart. A settings
// change never retroactively affects an in-flight execution.
type BotSettings struct {
	ID        int64
	APIKey    string
	APISecret string
	Testnet   bool

	DefaultQuantity float64 // Fallback order quantity
	MaxPositionSize float64 // Hard cap on a single order quantity
	RiskPercentage  float64 // Percent of balance risked per trade (e.g., 1.0)
	Leverage        int

	StopLossPct      float64 // e.g., 0.02 for 2%
	TakeProfitPct    float64
	EnableStopLoss   bool
	EnableTakeProfit bool

	// AllowedSymbols is a comma-separated whitelist; empty allows all.
	AllowedSymbols string
	Active         bool

	UpdatedAt time.Time
}

// SymbolAllowed reports whether the symbol passes the whitelist.
func (s *BotSettings) SymbolAllowed(symbol string) bool {
	if strings.TrimSpace(s.AllowedSymbols) == "" {
		return true
	}
	for _, allowed := range strings.Split(s.AllowedSymbols, ",") {
		if strings.EqualFold(strings.TrimSpace(allowed), symbol) {
			return true
		}
	}
	return false
}
