package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalbridge/internal/analytics"
	"signalbridge/internal/dispatch"
	"signalbridge/internal/domain"
	"signalbridge/internal/engine"
	"signalbridge/internal/ledger"
	"signalbridge/internal/ports"
)

// Mock implementations

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type mockExchange struct {
	balance   float64
	ticker    float64
	orderErr  error
	orderResp *ports.OrderResponse
}

func (m *mockExchange) SetServerTime(ctx context.Context) error { return nil }
func (m *mockExchange) GetServerTime(ctx context.Context) (time.Time, error) {
	return time.Now(), nil
}
func (m *mockExchange) Ping(ctx context.Context) error { return nil }
func (m *mockExchange) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	return m.ticker, nil
}
func (m *mockExchange) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	return m.ticker, nil
}
func (m *mockExchange) GetAvailableBalance(ctx context.Context, asset string) (float64, error) {
	return m.balance, nil
}
func (m *mockExchange) GetPositionRisk(ctx context.Context, symbol string) (*ports.PositionRisk, error) {
	return nil, nil
}
func (m *mockExchange) GetSymbolInfo(ctx context.Context, symbol string) (*ports.SymbolInfo, error) {
	return nil, nil
}
func (m *mockExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return nil
}
func (m *mockExchange) PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity, clientOrderID string) (*ports.OrderResponse, error) {
	return m.orderResp, m.orderErr
}
func (m *mockExchange) PlaceLimitOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity, price, clientOrderID string) (*ports.OrderResponse, error) {
	return m.orderResp, m.orderErr
}
func (m *mockExchange) PlaceStopLimitOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity, price, stopPrice, clientOrderID string) (*ports.OrderResponse, error) {
	return &ports.OrderResponse{OrderID: 9001, Status: "NEW"}, nil
}
func (m *mockExchange) PlaceTakeProfitLimitOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity, price, stopPrice, clientOrderID string) (*ports.OrderResponse, error) {
	return &ports.OrderResponse{OrderID: 9002, Status: "NEW"}, nil
}
func (m *mockExchange) CancelOrder(ctx context.Context, symbol string, orderID int64) (*ports.OrderResponse, error) {
	return &ports.OrderResponse{OrderID: orderID, Status: "CANCELED"}, nil
}

type mockTradeRepo struct {
	mu     sync.Mutex
	nextID int64
	trades []*domain.Trade
}

func (m *mockTradeRepo) CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	trade.ID = m.nextID
	cp := *trade
	m.trades = append(m.trades, &cp)
	return trade.ID, nil
}

func (m *mockTradeRepo) UpdateTrade(ctx context.Context, trade *domain.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, t := range m.trades {
		if t.ID == trade.ID {
			cp := *trade
			m.trades[i] = &cp
			return nil
		}
	}
	return ports.ErrNotFound
}

func (m *mockTradeRepo) FindRecent(ctx context.Context, limit int) ([]*domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Trade, 0, len(m.trades))
	for i := len(m.trades) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *m.trades[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockTradeRepo) FindFilledSince(ctx context.Context, symbol string, since time.Time) ([]*domain.Trade, error) {
	return nil, nil
}

type mockPositionRepo struct {
	mu        sync.Mutex
	nextID    int64
	positions map[int64]*domain.Position
}

func newMockPositionRepo() *mockPositionRepo {
	return &mockPositionRepo{positions: make(map[int64]*domain.Position)}
}

func (m *mockPositionRepo) Create(ctx context.Context, pos *domain.Position) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	cp := *pos
	cp.ID = m.nextID
	m.positions[cp.ID] = &cp
	return cp.ID, nil
}

func (m *mockPositionRepo) Update(ctx context.Context, pos *domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *pos
	m.positions[pos.ID] = &cp
	return nil
}

func (m *mockPositionRepo) FindOpenBySymbol(ctx context.Context, symbol string) (*domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.positions {
		if p.Symbol == symbol && p.Status == domain.PositionOpen {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockPositionRepo) FindByID(ctx context.Context, id int64) (*domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *mockPositionRepo) FindOpen(ctx context.Context) ([]*domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Position
	for _, p := range m.positions {
		if p.Status == domain.PositionOpen {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

type mockPairRepo struct{ pair *domain.TradingPair }

func (m *mockPairRepo) FindBySymbol(ctx context.Context, symbol string) (*domain.TradingPair, error) {
	if m.pair == nil || m.pair.Symbol != symbol {
		return nil, nil
	}
	cp := *m.pair
	return &cp, nil
}
func (m *mockPairRepo) Upsert(ctx context.Context, pair *domain.TradingPair) error { return nil }

type mockSettingsRepo struct{ settings *domain.BotSettings }

func (m *mockSettingsRepo) Get(ctx context.Context) (*domain.BotSettings, error) {
	if m.settings == nil {
		return nil, nil
	}
	cp := *m.settings
	return &cp, nil
}
func (m *mockSettingsRepo) Save(ctx context.Context, settings *domain.BotSettings) error { return nil }

func newTestServer(t *testing.T) (*Server, *mockExchange, *mockPositionRepo) {
	t.Helper()
	log := &mockLogger{}

	exchange := &mockExchange{
		balance: 1000,
		ticker:  2500,
		orderResp: &ports.OrderResponse{
			OrderID:      777,
			Status:       "FILLED",
			AvgPrice:     2497.5,
			OrigQuantity: 0.1,
			ExecutedQty:  0.1,
		},
	}
	trades := &mockTradeRepo{}
	posRepo := newMockPositionRepo()
	pairs := &mockPairRepo{pair: &domain.TradingPair{
		Symbol: "ETHUSDC", MinQty: 0.001, StepSize: 0.001, TickSize: 0.01, Active: true,
	}}
	settings := &mockSettingsRepo{settings: &domain.BotSettings{
		Active: true, RiskPercentage: 1, Leverage: 1, MaxPositionSize: 0.1,
		StopLossPct: 0.02, TakeProfitPct: 0.04,
		EnableStopLoss: true, EnableTakeProfit: true,
	}}

	dispatcher, err := dispatch.New(dispatch.Config{CallsPerSecond: 1000, Logger: log})
	require.NoError(t, err)
	dispatcher.Start()
	t.Cleanup(dispatcher.Stop)

	posLedger, err := ledger.New(posRepo, log)
	require.NoError(t, err)

	eng, err := engine.New(engine.Config{
		QuoteAsset:     "USDC",
		EntryOffsetPct: 0.001,
		CloseOffsetPct: 0.01,
	}, log, exchange, dispatcher, trades, pairs, settings, posLedger, ports.NoopNotifier{})
	require.NoError(t, err)

	agg, err := analytics.New(trades, posRepo, log)
	require.NoError(t, err)

	server, err := NewServer(Config{
		Engine:     eng,
		Aggregator: agg,
		Ledger:     posLedger,
		Trades:     trades,
		Exchange:   exchange,
		Dispatcher: dispatcher,
		Logger:     log,
		QuoteAsset: "USDC",
	})
	require.NoError(t, err)
	return server, exchange, posRepo
}

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	s, _, _ := newTestServer(t)
	w := doRequest(s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhook_ValidSignal(t *testing.T) {
	s, _, posRepo := newTestServer(t)

	w := doRequest(s, http.MethodPost, "/webhook", `{"action":"buy","symbol":"ETHUSDC"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "FILLED", resp["status"])
	assert.Equal(t, float64(777), resp["order_id"])
	assert.NotEmpty(t, resp["client_order_id"])

	open, err := posRepo.FindOpenBySymbol(context.Background(), "ETHUSDC")
	require.NoError(t, err)
	assert.NotNil(t, open)
}

func TestWebhook_FreeTextAlert(t *testing.T) {
	s, _, _ := newTestServer(t)

	body := `{"message":"orden buy @ 2500 en ETHUSDC. La nueva posición estratégica es 1"}`
	w := doRequest(s, http.MethodPost, "/webhook", body)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestWebhook_MalformedPayloadIsBadRequest(t *testing.T) {
	s, _, _ := newTestServer(t)

	for _, body := range []string{``, `not json`, `{"symbol":"ETHUSDC"}`, `{"action":"hold","symbol":"X"}`} {
		w := doRequest(s, http.MethodPost, "/webhook", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, "body %q", body)
	}
}

func TestWebhook_ExecutionFailureIsServerError(t *testing.T) {
	s, exchange, _ := newTestServer(t)
	exchange.orderErr = ports.ErrInsufficientFunds

	w := doRequest(s, http.MethodPost, "/webhook", `{"action":"buy","symbol":"ETHUSDC"}`)
	require.Equal(t, http.StatusInternalServerError, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "FAILED", resp["status"], "failed trade state is reported for diagnosis")
	assert.NotEmpty(t, resp["error"])
}

func TestListTradesAndPositions(t *testing.T) {
	s, _, _ := newTestServer(t)

	w := doRequest(s, http.MethodPost, "/webhook", `{"action":"buy","symbol":"ETHUSDC"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(s, http.MethodGet, "/api/trades?limit=10", "")
	require.Equal(t, http.StatusOK, w.Code)
	var tradesResp struct {
		Trades []json.RawMessage `json:"trades"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tradesResp))
	assert.Len(t, tradesResp.Trades, 1)

	w = doRequest(s, http.MethodGet, "/api/positions", "")
	require.Equal(t, http.StatusOK, w.Code)
	var posResp struct {
		Positions []json.RawMessage `json:"positions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &posResp))
	assert.Len(t, posResp.Positions, 1)
}

func TestGetBalance(t *testing.T) {
	s, _, _ := newTestServer(t)

	w := doRequest(s, http.MethodGet, "/api/balance", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "USDC", resp["asset"])
	assert.Equal(t, float64(1000), resp["available"])
}

func TestGetAnalytics_EmptyWindow(t *testing.T) {
	s, _, _ := newTestServer(t)

	w := doRequest(s, http.MethodGet, "/api/analytics?symbol=ETHUSDC&days=7", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Nil(t, resp["metrics"])
}
