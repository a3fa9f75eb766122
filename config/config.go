package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from the environment.
// Trading parameters here only seed the BotSettings row on first start;
// after that the row in the database is authoritative and re-read per
// signal, so runtime edits do not require a restart.
type Config struct {
	// Binance API
	APIKey    string
	SecretKey string
	IsTestnet bool

	// HTTP ingestion
	ListenAddr string

	// Trading parameter seeds (see note above)
	QuoteAsset       string  // Asset balances are measured in (e.g., "USDT")
	Leverage         int
	DefaultQuantity  float64
	MaxPositionSize  float64
	RiskPercentage   float64 // Percent of balance risked per trade
	StopLossPct      float64 // e.g., 0.02 for 2%
	TakeProfitPct    float64
	EnableStopLoss   bool
	EnableTakeProfit bool
	AllowedSymbols   string // Comma-separated whitelist; empty allows all

	// Price offsets (fractions, e.g. 0.001 = 10 bps)
	EntryOffsetPct      float64 // Limit-entry bias from ticker
	CloseOffsetPct      float64 // Fill bias for closing orders
	ProtectiveOffsetPct float64 // Limit-leg offset from protective triggers

	// Dispatcher
	ExchangeCallsPerSecond float64
	DispatchQueueSize      int
	RetryAttempts          int
	RetryDelay             time.Duration

	// Position mark-price refresh
	RefreshInterval time.Duration

	// Database
	DBPath string

	// Logging
	LogLevel string

	// Notifications (optional)
	TelegramToken  string
	TelegramChatID int64
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety

	if cfg.APIKey == "" {
		errs = append(errs, "BINANCE_API_KEY must be set")
	}
	if cfg.SecretKey == "" {
		errs = append(errs, "BINANCE_API_SECRET must be set")
	}

	cfg.ListenAddr = getEnv("LISTEN_ADDR", ":8080")

	// Trading parameter seeds
	cfg.QuoteAsset = getEnv("QUOTE_ASSET", "USDT")

	cfg.Leverage, err = getEnvAsIntRequired("LEVERAGE", 1)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid LEVERAGE: %v", err))
	} else if cfg.Leverage <= 0 {
		errs = append(errs, "LEVERAGE must be positive")
	}

	cfg.DefaultQuantity, err = getEnvAsFloatRequired("DEFAULT_QUANTITY", 0.01)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid DEFAULT_QUANTITY: %v", err))
	} else if cfg.DefaultQuantity <= 0 {
		errs = append(errs, "DEFAULT_QUANTITY must be positive")
	}

	cfg.MaxPositionSize, err = getEnvAsFloatRequired("MAX_POSITION_SIZE", 0.1)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_POSITION_SIZE: %v", err))
	} else if cfg.MaxPositionSize <= 0 {
		errs = append(errs, "MAX_POSITION_SIZE must be positive")
	}

	cfg.RiskPercentage, err = getEnvAsFloatRequired("RISK_PERCENTAGE", 1.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid RISK_PERCENTAGE: %v", err))
	} else if cfg.RiskPercentage <= 0 || cfg.RiskPercentage > 100 {
		errs = append(errs, "RISK_PERCENTAGE must be in (0, 100]")
	}

	cfg.StopLossPct, err = getEnvAsFloatRequired("STOP_LOSS_PCT", 0.02)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid STOP_LOSS_PCT: %v", err))
	} else if cfg.StopLossPct <= 0 || cfg.StopLossPct >= 1.0 {
		errs = append(errs, "STOP_LOSS_PCT must be between 0.0 and 1.0 (exclusive)")
	}

	cfg.TakeProfitPct, err = getEnvAsFloatRequired("TAKE_PROFIT_PCT", 0.04)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TAKE_PROFIT_PCT: %v", err))
	} else if cfg.TakeProfitPct <= 0 || cfg.TakeProfitPct >= 1.0 {
		errs = append(errs, "TAKE_PROFIT_PCT must be between 0.0 and 1.0 (exclusive)")
	}

	cfg.EnableStopLoss = getEnvAsBool("ENABLE_STOP_LOSS", true)
	cfg.EnableTakeProfit = getEnvAsBool("ENABLE_TAKE_PROFIT", true)
	cfg.AllowedSymbols = getEnv("ALLOWED_SYMBOLS", "")

	// Price offsets
	cfg.EntryOffsetPct = getEnvAsFloat("ENTRY_OFFSET_PCT", 0.001)
	cfg.CloseOffsetPct = getEnvAsFloat("CLOSE_OFFSET_PCT", 0.01)
	cfg.ProtectiveOffsetPct = getEnvAsFloat("PROTECTIVE_OFFSET_PCT", 0.0005)
	if cfg.EntryOffsetPct < 0 || cfg.CloseOffsetPct < 0 || cfg.ProtectiveOffsetPct < 0 {
		errs = append(errs, "price offsets cannot be negative")
	}

	// Dispatcher
	cfg.ExchangeCallsPerSecond = getEnvAsFloat("EXCHANGE_CALLS_PER_SECOND", 10)
	if cfg.ExchangeCallsPerSecond <= 0 {
		errs = append(errs, "EXCHANGE_CALLS_PER_SECOND must be positive")
	}
	cfg.DispatchQueueSize = getEnvAsInt("DISPATCH_QUEUE_SIZE", 64)
	if cfg.DispatchQueueSize <= 0 {
		errs = append(errs, "DISPATCH_QUEUE_SIZE must be positive")
	}
	cfg.RetryAttempts = getEnvAsInt("RETRY_ATTEMPTS", 3)
	if cfg.RetryAttempts < 0 {
		errs = append(errs, "RETRY_ATTEMPTS cannot be negative")
	}
	retryDelaySeconds := getEnvAsInt("RETRY_DELAY_SECONDS", 2)
	if retryDelaySeconds <= 0 {
		errs = append(errs, "RETRY_DELAY_SECONDS must be positive")
	}
	cfg.RetryDelay = time.Duration(retryDelaySeconds) * time.Second

	refreshSeconds := getEnvAsInt("REFRESH_INTERVAL_SECONDS", 30)
	if refreshSeconds <= 0 {
		errs = append(errs, "REFRESH_INTERVAL_SECONDS must be positive")
	}
	cfg.RefreshInterval = time.Duration(refreshSeconds) * time.Second

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/signalbridge.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Logging
	cfg.LogLevel = getEnv("LOG_LEVEL", "INFO")

	// Notifications
	cfg.TelegramToken = getEnv("TELEGRAM_BOT_TOKEN", "")
	chatID, err := getEnvAsIntRequired("TELEGRAM_CHAT_ID", 0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TELEGRAM_CHAT_ID: %v", err))
	}
	cfg.TelegramChatID = int64(chatID)

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
