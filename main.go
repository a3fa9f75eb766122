package main

import (
	"context"
	"errors"
	"log" // Standard log only for fatal errors before the logger is set up
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"signalbridge/config"
	"signalbridge/internal/adapters/binanceclient"
	"signalbridge/internal/adapters/logger"
	"signalbridge/internal/adapters/sqlite"
	"signalbridge/internal/adapters/telegram"
	"signalbridge/internal/analytics"
	"signalbridge/internal/dispatch"
	"signalbridge/internal/domain"
	"signalbridge/internal/engine"
	"signalbridge/internal/ledger"
	"signalbridge/internal/ports"
	"signalbridge/internal/webhook"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	appLogger, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer appLogger.Sync()
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()

	// Seed the settings row from environment config on first start; after
	// that the database row is authoritative.
	if err := seedSettings(context.Background(), cfg, repo, appLogger); err != nil {
		log.Fatalf("FATAL: Failed to seed bot settings: %v", err)
	}

	// 4. Initialize Exchange Client (Binance Adapter)
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		Logger:     appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	if err := binanceClient.Ping(startupCtx); err != nil {
		appLogger.Error(startupCtx, err, "Exchange is unreachable at startup, continuing anyway")
	}
	if err := binanceClient.SetServerTime(startupCtx); err != nil {
		appLogger.Error(startupCtx, err, "Failed to sync server time, signed requests may be rejected")
	}
	cancelStartup()

	// 5. Initialize Dispatcher
	dispatcher, err := dispatch.New(dispatch.Config{
		CallsPerSecond: cfg.ExchangeCallsPerSecond,
		QueueSize:      cfg.DispatchQueueSize,
		RetryAttempts:  cfg.RetryAttempts,
		RetryMinDelay:  cfg.RetryDelay.Seconds(),
		Logger:         appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize dispatcher: %v", err)
	}
	dispatcher.Start()

	// 6. Initialize Notifier (optional)
	var notifier ports.Notifier = ports.NoopNotifier{}
	tgNotifier, err := telegram.New(telegram.Config{
		Token:  cfg.TelegramToken,
		ChatID: cfg.TelegramChatID,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "Failed to initialize Telegram notifier, notifications disabled")
	} else if tgNotifier != nil {
		notifier = tgNotifier
	}

	// 7. Initialize Ledger and Engine
	posLedger, err := ledger.New(repo, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize position ledger: %v", err)
	}

	exec, err := engine.New(engine.Config{
		QuoteAsset:          cfg.QuoteAsset,
		EntryOffsetPct:      cfg.EntryOffsetPct,
		CloseOffsetPct:      cfg.CloseOffsetPct,
		ProtectiveOffsetPct: cfg.ProtectiveOffsetPct,
	}, appLogger, binanceClient, dispatcher, repo, repo, repo, posLedger, notifier)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize execution engine: %v", err)
	}

	aggregator, err := analytics.New(repo, repo, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize analytics aggregator: %v", err)
	}

	// 8. HTTP Server
	server, err := webhook.NewServer(webhook.Config{
		Engine:     exec,
		Aggregator: aggregator,
		Ledger:     posLedger,
		Trades:     repo,
		Exchange:   binanceClient,
		Dispatcher: dispatcher,
		Logger:     appLogger,
		QuoteAsset: cfg.QuoteAsset,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize webhook server: %v", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Mark-price refresh loop for open positions.
	go func() {
		ticker := time.NewTicker(cfg.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
				if err := exec.RefreshOpenPositions(rootCtx); err != nil {
					appLogger.Warn(rootCtx, "Open position refresh failed", map[string]interface{}{"error": err.Error()})
				}
			}
		}
	}()

	go func() {
		appLogger.Info(rootCtx, "HTTP server listening", map[string]interface{}{"addr": cfg.ListenAddr})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error(rootCtx, err, "HTTP server exited with error")
			stop()
		}
	}()

	notifier.Notify(rootCtx, ports.NotifyInfo, "signal bridge started")

	<-rootCtx.Done()
	appLogger.Info(context.Background(), "Shutdown signal received")

	// Stop accepting new signals first, then drain exchange calls already
	// queued so no submitted order is abandoned mid-flight.
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, err, "HTTP server shutdown failed")
	}
	cancelShutdown()
	dispatcher.Stop()

	notifier.Notify(context.Background(), ports.NotifyInfo, "signal bridge stopped")
	appLogger.Info(context.Background(), "Application finished gracefully")
}

// seedSettings writes the BotSettings row from environment config when no
// row exists yet. An existing row wins so runtime edits survive restarts.
func seedSettings(ctx context.Context, cfg *config.Config, repo *sqlite.Repository, appLogger ports.Logger) error {
	existing, err := repo.Get(ctx)
	if err != nil {
		return err
	}
	if existing != nil {
		appLogger.Info(ctx, "Bot settings already present, environment seeds ignored")
		return nil
	}

	settings := &domain.BotSettings{
		APIKey:           cfg.APIKey,
		APISecret:        cfg.SecretKey,
		Testnet:          cfg.IsTestnet,
		DefaultQuantity:  cfg.DefaultQuantity,
		MaxPositionSize:  cfg.MaxPositionSize,
		RiskPercentage:   cfg.RiskPercentage,
		Leverage:         cfg.Leverage,
		StopLossPct:      cfg.StopLossPct,
		TakeProfitPct:    cfg.TakeProfitPct,
		EnableStopLoss:   cfg.EnableStopLoss,
		EnableTakeProfit: cfg.EnableTakeProfit,
		AllowedSymbols:   cfg.AllowedSymbols,
		Active:           true,
		UpdatedAt:        time.Now().UTC(),
	}
	if err := repo.Save(ctx, settings); err != nil {
		return err
	}
	appLogger.Info(ctx, "Bot settings seeded from environment", map[string]interface{}{
		"riskPercentage": settings.RiskPercentage, "leverage": settings.Leverage, "testnet": settings.Testnet,
	})
	return nil
}
