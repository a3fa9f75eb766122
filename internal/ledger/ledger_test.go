package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalbridge/internal/domain"
)

// Mock implementations

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type mockPositionRepo struct {
	mu        sync.Mutex
	nextID    int64
	positions map[int64]*domain.Position

	createErr error
	updateErr error
	findErr   error
}

func newMockPositionRepo() *mockPositionRepo {
	return &mockPositionRepo{nextID: 1, positions: make(map[int64]*domain.Position)}
}

func (m *mockPositionRepo) Create(ctx context.Context, pos *domain.Position) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return 0, m.createErr
	}
	id := m.nextID
	m.nextID++
	cp := *pos
	cp.ID = id
	m.positions[id] = &cp
	return id, nil
}

func (m *mockPositionRepo) Update(ctx context.Context, pos *domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	cp := *pos
	m.positions[pos.ID] = &cp
	return nil
}

func (m *mockPositionRepo) FindOpenBySymbol(ctx context.Context, symbol string) (*domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
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

func filledTrade(symbol string, side domain.OrderSide, qty float64) *domain.Trade {
	return &domain.Trade{
		ID:        1,
		Symbol:    symbol,
		Side:      side,
		Status:    domain.TradeFilled,
		FilledQty: qty,
		CreatedAt: time.Now().UTC(),
	}
}

func TestOpenOrUpdate_OpensNewPosition(t *testing.T) {
	repo := newMockPositionRepo()
	l, err := New(repo, &mockLogger{})
	require.NoError(t, err)

	pos, err := l.OpenOrUpdate(context.Background(), filledTrade("ETHUSDC", domain.Buy, 0.5), 2500)
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, domain.PositionOpen, pos.Status)
	assert.Equal(t, domain.Buy, pos.Side)
	assert.Equal(t, 0.5, pos.Quantity)
	assert.Equal(t, 2500.0, pos.EntryPrice)
	assert.NotZero(t, pos.ID)
}

func TestOpenOrUpdate_AveragesIntoSameSidePosition(t *testing.T) {
	repo := newMockPositionRepo()
	l, err := New(repo, &mockLogger{})
	require.NoError(t, err)

	first, err := l.OpenOrUpdate(context.Background(), filledTrade("ETHUSDC", domain.Buy, 1), 2000)
	require.NoError(t, err)

	second, err := l.OpenOrUpdate(context.Background(), filledTrade("ETHUSDC", domain.Buy, 1), 3000)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "same-side fill must extend the open position")
	assert.Equal(t, 2.0, second.Quantity)
	assert.InDelta(t, 2500.0, second.EntryPrice, 1e-9, "entry must be volume-weighted")
}

func TestOpenOrUpdate_RejectsUnfilledTrade(t *testing.T) {
	l, err := New(newMockPositionRepo(), &mockLogger{})
	require.NoError(t, err)

	_, err = l.OpenOrUpdate(context.Background(), filledTrade("ETHUSDC", domain.Buy, 0), 2500)
	assert.Error(t, err)
}

func TestAdopt(t *testing.T) {
	repo := newMockPositionRepo()
	l, err := New(repo, &mockLogger{})
	require.NoError(t, err)

	pos, err := l.Adopt(context.Background(), "ETHUSDC", domain.Sell, 0.25, 2600, 2550)
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.NotZero(t, pos.ID)
	assert.Equal(t, domain.PositionOpen, pos.Status)
	assert.Equal(t, domain.Sell, pos.Side)
	assert.Equal(t, 0.25, pos.Quantity)
	assert.InDelta(t, 12.5, pos.UnrealizedPNL, 1e-9) // (2600-2550)*0.25 for a short
	assert.Nil(t, pos.StopLossOrderID)

	// The adopted position is queryable like any other open one.
	open, err := l.FindOpenBySymbol(context.Background(), "ETHUSDC")
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, pos.ID, open.ID)
}

func TestAdopt_RejectsNonPositiveQuantity(t *testing.T) {
	l, err := New(newMockPositionRepo(), &mockLogger{})
	require.NoError(t, err)

	_, err = l.Adopt(context.Background(), "ETHUSDC", domain.Buy, 0, 2600, 2600)
	assert.Error(t, err)
}

func TestClose(t *testing.T) {
	repo := newMockPositionRepo()
	l, err := New(repo, &mockLogger{})
	require.NoError(t, err)

	pos, err := l.OpenOrUpdate(context.Background(), filledTrade("ETHUSDC", domain.Buy, 2), 2000)
	require.NoError(t, err)

	require.NoError(t, l.Close(context.Background(), pos, 2100, domain.CloseReasonSignal))

	assert.Equal(t, domain.PositionClosed, pos.Status)
	assert.Equal(t, 2100.0, pos.ClosePrice)
	assert.InDelta(t, 200.0, pos.RealizedPNL, 1e-9) // (2100-2000)*2
	assert.Zero(t, pos.UnrealizedPNL)
	assert.False(t, pos.ClosedAt.IsZero())

	// No open position remains for the symbol.
	open, err := l.FindOpenBySymbol(context.Background(), "ETHUSDC")
	require.NoError(t, err)
	assert.Nil(t, open)
}

func TestClose_ShortRealizesInverseMove(t *testing.T) {
	repo := newMockPositionRepo()
	l, err := New(repo, &mockLogger{})
	require.NoError(t, err)

	pos, err := l.OpenOrUpdate(context.Background(), filledTrade("ETHUSDC", domain.Sell, 1), 2000)
	require.NoError(t, err)

	require.NoError(t, l.Close(context.Background(), pos, 1900, domain.CloseReasonTakeProfit))
	assert.InDelta(t, 100.0, pos.RealizedPNL, 1e-9)
	assert.Equal(t, domain.PositionTakeProfit, pos.Status)
}

func TestClose_AlreadyClosedIsNoop(t *testing.T) {
	repo := newMockPositionRepo()
	l, err := New(repo, &mockLogger{})
	require.NoError(t, err)

	pos, err := l.OpenOrUpdate(context.Background(), filledTrade("ETHUSDC", domain.Buy, 1), 2000)
	require.NoError(t, err)
	require.NoError(t, l.Close(context.Background(), pos, 2100, domain.CloseReasonSignal))

	firstPNL := pos.RealizedPNL
	require.NoError(t, l.Close(context.Background(), pos, 1500, domain.CloseReasonStopLoss))
	assert.Equal(t, firstPNL, pos.RealizedPNL, "second close must not rewrite the outcome")
	assert.Equal(t, domain.PositionClosed, pos.Status)
}

func TestClose_UpdateFailurePropagates(t *testing.T) {
	repo := newMockPositionRepo()
	l, err := New(repo, &mockLogger{})
	require.NoError(t, err)

	pos, err := l.OpenOrUpdate(context.Background(), filledTrade("ETHUSDC", domain.Buy, 1), 2000)
	require.NoError(t, err)

	repo.updateErr = errors.New("db locked")
	assert.Error(t, l.Close(context.Background(), pos, 2100, domain.CloseReasonSignal))
}

func TestSetProtectiveOrders_NilOrderIDsAllowed(t *testing.T) {
	repo := newMockPositionRepo()
	l, err := New(repo, &mockLogger{})
	require.NoError(t, err)

	pos, err := l.OpenOrUpdate(context.Background(), filledTrade("ETHUSDC", domain.Buy, 1), 2000)
	require.NoError(t, err)

	slID := "12345"
	require.NoError(t, l.SetProtectiveOrders(context.Background(), pos, 1960, &slID, 2080, nil))

	stored, err := repo.FindByID(context.Background(), pos.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.StopLossOrderID)
	assert.Equal(t, "12345", *stored.StopLossOrderID)
	assert.Nil(t, stored.TakeProfitOrderID, "failed TP leg stays recorded as absent")
	assert.Equal(t, 1960.0, stored.StopLossPrice)
	assert.Equal(t, 2080.0, stored.TakeProfitPrice)
}

func TestRefreshMark(t *testing.T) {
	repo := newMockPositionRepo()
	l, err := New(repo, &mockLogger{})
	require.NoError(t, err)

	pos, err := l.OpenOrUpdate(context.Background(), filledTrade("ETHUSDC", domain.Buy, 2), 2000)
	require.NoError(t, err)

	require.NoError(t, l.RefreshMark(context.Background(), pos, 2050))
	assert.Equal(t, 2050.0, pos.MarkPrice)
	assert.InDelta(t, 100.0, pos.UnrealizedPNL, 1e-9)

	// Closed positions are untouched.
	require.NoError(t, l.Close(context.Background(), pos, 2100, domain.CloseReasonSignal))
	require.NoError(t, l.RefreshMark(context.Background(), pos, 1000))
	assert.Equal(t, 2100.0, pos.ClosePrice)
	assert.Zero(t, pos.UnrealizedPNL)
}

func TestLockSymbol_SerializesPerSymbol(t *testing.T) {
	l, err := New(newMockPositionRepo(), &mockLogger{})
	require.NoError(t, err)

	var inSection bool
	var violations int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.LockSymbol("ETHUSDC")
			defer unlock()
			mu.Lock()
			if inSection {
				violations++
			}
			inSection = true
			mu.Unlock()

			mu.Lock()
			inSection = false
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Zero(t, violations, "two goroutines must never hold the same symbol lock")
}

func TestLockSymbol_DifferentSymbolsIndependent(t *testing.T) {
	l, err := New(newMockPositionRepo(), &mockLogger{})
	require.NoError(t, err)

	unlockA := l.LockSymbol("ETHUSDC")
	done := make(chan struct{})
	go func() {
		unlockB := l.LockSymbol("BTCUSDT")
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("locking a different symbol must not block")
	}
	unlockA()
}
