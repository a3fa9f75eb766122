package sizing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalbridge/internal/domain"
	"signalbridge/internal/ports"
)

func ethPair() *domain.TradingPair {
	return &domain.TradingPair{
		Symbol:   "ETHUSDC",
		MinQty:   0.001,
		MaxQty:   100,
		StepSize: 0.001,
		TickSize: 0.01,
		Active:   true,
	}
}

func TestSize(t *testing.T) {
	tests := []struct {
		name         string
		balance      float64
		riskFraction float64
		leverage     int
		pair         *domain.TradingPair
		want         float64
		wantErr      error
	}{
		{
			name:         "basic sizing",
			balance:      1000,
			riskFraction: 0.01,
			leverage:     5,
			pair:         ethPair(),
			want:         50, // 1000 * 0.01 * 5
		},
		{
			name:         "rounds to step",
			balance:      1234.5678,
			riskFraction: 0.001,
			leverage:     1,
			pair:         ethPair(),
			want:         1.235,
		},
		{
			name:         "clamps to minimum when below",
			balance:      1,
			riskFraction: 0.0001,
			leverage:     1,
			pair:         ethPair(),
			want:         0.001, // raw 0.0001 is below MinQty
		},
		{
			name:         "clamps to maximum",
			balance:      100000,
			riskFraction: 0.5,
			leverage:     10,
			pair:         ethPair(),
			want:         100,
		},
		{
			name:         "zero balance rejected",
			balance:      0,
			riskFraction: 0.01,
			leverage:     1,
			pair:         ethPair(),
			wantErr:      ports.ErrInvalidRequest,
		},
		{
			name:         "zero leverage rejected",
			balance:      1000,
			riskFraction: 0.01,
			leverage:     0,
			pair:         ethPair(),
			wantErr:      ports.ErrInvalidRequest,
		},
		{
			name:         "nil pair rejected",
			balance:      1000,
			riskFraction: 0.01,
			leverage:     1,
			pair:         nil,
			wantErr:      ports.ErrInvalidPairConstraints,
		},
		{
			name:         "unusable step size rejected",
			balance:      1000,
			riskFraction: 0.01,
			leverage:     1,
			pair:         &domain.TradingPair{Symbol: "BAD", StepSize: 0},
			wantErr:      ports.ErrInvalidPairConstraints,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Size(tt.balance, tt.riskFraction, tt.leverage, tt.pair)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestSizeByBalanceFraction(t *testing.T) {
	pair := ethPair()

	// Quarter of 1000 USDC at 2500/ETH: 0.1 ETH
	got, err := SizeByBalanceFraction(1000, 0.25, 2500, pair)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, got, 1e-9)

	_, err = SizeByBalanceFraction(1000, 0.25, 0, pair)
	assert.ErrorIs(t, err, ports.ErrNoReferencePrice)

	_, err = SizeByBalanceFraction(0, 0.25, 2500, pair)
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}

func TestFixed(t *testing.T) {
	pair := ethPair()

	got, err := Fixed(0.05, pair)
	require.NoError(t, err)
	assert.InDelta(t, 0.05, got, 1e-9)

	// Off-step configuration values are rounded like computed sizes.
	got, err = Fixed(0.0507, pair)
	require.NoError(t, err)
	assert.InDelta(t, 0.051, got, 1e-9)

	// Below the exchange minimum clamps up.
	got, err = Fixed(0.0001, pair)
	require.NoError(t, err)
	assert.InDelta(t, 0.001, got, 1e-9)

	_, err = Fixed(0, pair)
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)

	_, err = Fixed(0.05, nil)
	assert.ErrorIs(t, err, ports.ErrInvalidPairConstraints)
}

func TestSize_DeterministicForEqualInputs(t *testing.T) {
	pair := ethPair()
	first, err := Size(987.654321, 0.015, 3, pair)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Size(987.654321, 0.015, 3, pair)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestRoundToStep(t *testing.T) {
	tests := []struct {
		name string
		qty  float64
		step float64
		want float64
	}{
		{name: "exact multiple unchanged", qty: 0.25, step: 0.05, want: 0.25},
		{name: "rounds down", qty: 0.1234, step: 0.01, want: 0.12},
		{name: "rounds up", qty: 0.1281, step: 0.01, want: 0.13},
		{name: "half rounds to even", qty: 0.125, step: 0.01, want: 0.12},
		{name: "half rounds to even upward", qty: 0.135, step: 0.01, want: 0.14},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, RoundToStep(tt.qty, tt.step), 1e-12)
		})
	}
}
