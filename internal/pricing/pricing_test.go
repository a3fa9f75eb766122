package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalbridge/internal/domain"
	"signalbridge/internal/ports"
)

func TestEntryLimit(t *testing.T) {
	tests := []struct {
		name      string
		reference float64
		side      domain.OrderSide
		offset    float64
		tickSize  float64
		want      float64
		wantErr   error
	}{
		{
			name:      "buy biased below reference",
			reference: 2500,
			side:      domain.Buy,
			offset:    0.001,
			tickSize:  0.01,
			want:      2497.5,
		},
		{
			name:      "sell biased above reference",
			reference: 2500,
			side:      domain.Sell,
			offset:    0.001,
			tickSize:  0.01,
			want:      2502.5,
		},
		{
			name:      "zero offset passes reference through",
			reference: 2500,
			side:      domain.Buy,
			offset:    0,
			tickSize:  0.01,
			want:      2500,
		},
		{
			name:      "zero reference rejected",
			reference: 0,
			side:      domain.Buy,
			offset:    0.001,
			tickSize:  0.01,
			wantErr:   ports.ErrNoReferencePrice,
		},
		{
			name:      "negative reference rejected",
			reference: -1,
			side:      domain.Sell,
			offset:    0.001,
			tickSize:  0.01,
			wantErr:   ports.ErrNoReferencePrice,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EntryLimit(tt.reference, tt.side, tt.offset, tt.tickSize)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestCloseLimit(t *testing.T) {
	// Sell-to-close fills below the reference, buy-to-close above: the
	// bias runs the opposite way from entry pricing.
	sell, err := CloseLimit(2500, domain.Sell, 0.01, 0.01)
	require.NoError(t, err)
	assert.InDelta(t, 2475.0, sell, 1e-9)

	buy, err := CloseLimit(2500, domain.Buy, 0.01, 0.01)
	require.NoError(t, err)
	assert.InDelta(t, 2525.0, buy, 1e-9)

	_, err = CloseLimit(0, domain.Sell, 0.01, 0.01)
	assert.ErrorIs(t, err, ports.ErrNoReferencePrice)
}

func TestStopLossAndTakeProfit(t *testing.T) {
	// Long entered at 2000 with 2% SL / 4% TP.
	assert.InDelta(t, 1960.0, StopLoss(2000, 0.02, domain.Buy, 0.01), 1e-9)
	assert.InDelta(t, 2080.0, TakeProfit(2000, 0.04, domain.Buy, 0.01), 1e-9)

	// Short mirrors: SL above entry, TP below.
	assert.InDelta(t, 2040.0, StopLoss(2000, 0.02, domain.Sell, 0.01), 1e-9)
	assert.InDelta(t, 1920.0, TakeProfit(2000, 0.04, domain.Sell, 0.01), 1e-9)
}

func TestProtectiveLimit(t *testing.T) {
	// Protective SELL leg sits below its trigger, protective BUY above.
	assert.InDelta(t, 1959.02, ProtectiveLimit(1960, domain.Sell, 0.0005, 0.01), 1e-9)
	assert.InDelta(t, 2041.02, ProtectiveLimit(2040, domain.Buy, 0.0005, 0.01), 1e-9)
}

func TestRoundToTick(t *testing.T) {
	assert.InDelta(t, 2497.5, RoundToTick(2497.4999999, 0.01), 1e-9)
	assert.InDelta(t, 100.0, RoundToTick(100.004, 0.01), 1e-9)
	// Non-positive tick leaves the price untouched.
	assert.Equal(t, 123.456789, RoundToTick(123.456789, 0))
}
