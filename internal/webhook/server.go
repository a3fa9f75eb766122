// Package webhook exposes the HTTP surface: the alert webhook that feeds
// the execution engine and a small read-only API over trades, positions
// and analytics.
package webhook

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"signalbridge/internal/analytics"
	"signalbridge/internal/dispatch"
	"signalbridge/internal/engine"
	"signalbridge/internal/ledger"
	"signalbridge/internal/ports"
	"signalbridge/internal/signal"
)

const maxPayloadBytes = 64 << 10 // Webhook bodies are tiny; reject anything bigger.

// Server wires the HTTP endpoints around the execution engine.
type Server struct {
	Router *gin.Engine

	engine     *engine.Engine
	aggregator *analytics.Aggregator
	ledger     *ledger.Ledger
	trades     ports.TradeRepository
	exchange   ports.ExchangeClient
	dispatcher *dispatch.Dispatcher
	logger     ports.Logger
	quoteAsset string
}

// Config holds the server's dependencies.
type Config struct {
	Engine     *engine.Engine
	Aggregator *analytics.Aggregator
	Ledger     *ledger.Ledger
	Trades     ports.TradeRepository
	Exchange   ports.ExchangeClient
	Dispatcher *dispatch.Dispatcher
	Logger     ports.Logger
	QuoteAsset string
}

// NewServer creates the HTTP server and registers its routes.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Engine == nil || cfg.Aggregator == nil || cfg.Ledger == nil ||
		cfg.Trades == nil || cfg.Exchange == nil || cfg.Dispatcher == nil || cfg.Logger == nil {
		return nil, errors.New("missing required dependencies for webhook server")
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		Router:     r,
		engine:     cfg.Engine,
		aggregator: cfg.Aggregator,
		ledger:     cfg.Ledger,
		trades:     cfg.Trades,
		exchange:   cfg.Exchange,
		dispatcher: cfg.Dispatcher,
		logger:     cfg.Logger,
		quoteAsset: cfg.QuoteAsset,
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.Router.GET("/healthz", s.health)
	s.Router.POST("/webhook", s.handleWebhook)

	api := s.Router.Group("/api")
	{
		api.GET("/trades", s.listTrades)
		api.GET("/positions", s.listPositions)
		api.GET("/balance", s.getBalance)
		api.GET("/analytics", s.getAnalytics)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

// handleWebhook parses an alert payload and runs it through the engine.
// Malformed payloads are the caller's fault (400); execution failures are
// ours or the exchange's (500) and carry the trade state for diagnosis.
func (s *Server) handleWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPayloadBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable request body"})
		return
	}

	sig, err := signal.Parse(body)
	if err != nil {
		s.logger.Warn(c.Request.Context(), "Rejected webhook payload", map[string]interface{}{"error": err.Error()})
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	trade, err := s.engine.Execute(c.Request.Context(), sig)
	if err != nil {
		resp := gin.H{"error": err.Error()}
		if trade != nil {
			resp["trade_id"] = trade.ID
			resp["status"] = trade.Status
		}
		c.JSON(http.StatusInternalServerError, resp)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"trade_id":        trade.ID,
		"symbol":          trade.Symbol,
		"side":            trade.Side,
		"status":          trade.Status,
		"order_id":        trade.OrderID,
		"client_order_id": trade.ClientOrderID,
		"quantity":        trade.Quantity,
		"price":           trade.Price,
	})
}

func (s *Server) listTrades(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	trades, err := s.trades.FindRecent(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error(c.Request.Context(), err, "Failed to list trades")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load trades"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) listPositions(c *gin.Context) {
	positions, err := s.ledger.ListOpen(c.Request.Context())
	if err != nil {
		s.logger.Error(c.Request.Context(), err, "Failed to list positions")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load positions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions})
}

// getBalance reads the available quote balance. Routed through the
// dispatcher like every other exchange call so a dashboard poller cannot
// starve the trading path of rate budget.
func (s *Server) getBalance(c *gin.Context) {
	var balance float64
	err := s.dispatcher.DoIdempotent(c.Request.Context(), func(ctx context.Context) error {
		var err error
		balance, err = s.exchange.GetAvailableBalance(ctx, s.quoteAsset)
		return err
	})
	if err != nil {
		s.logger.Error(c.Request.Context(), err, "Failed to fetch balance")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch balance"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"asset": s.quoteAsset, "available": balance})
}

func (s *Server) getAnalytics(c *gin.Context) {
	symbol := c.Query("symbol")
	windowDays := intQuery(c, "days", 30)

	metrics, err := s.aggregator.Compute(c.Request.Context(), symbol, windowDays)
	if err != nil {
		s.logger.Error(c.Request.Context(), err, "Failed to compute analytics")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute analytics"})
		return
	}
	if metrics == nil {
		c.JSON(http.StatusOK, gin.H{"metrics": nil, "message": "no filled trades in window"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"metrics": metrics})
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
