package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalbridge/internal/domain"
	"signalbridge/internal/ports"
)

func TestParse_StructuredPayload(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		wantAction domain.OrderSide
		wantSymbol string
		wantTarget *float64
		wantType   domain.OrderType
		wantErr    error
	}{
		{
			name:       "basic buy",
			payload:    `{"action":"buy","symbol":"ETHUSDC"}`,
			wantAction: domain.Buy,
			wantSymbol: "ETHUSDC",
		},
		{
			name:       "short normalizes to sell",
			payload:    `{"action":"SHORT","symbol":"btcusdt"}`,
			wantAction: domain.Sell,
			wantSymbol: "BTCUSDT",
		},
		{
			name:       "slash stripped from symbol",
			payload:    `{"action":"sell","symbol":"ETH/USDC"}`,
			wantAction: domain.Sell,
			wantSymbol: "ETHUSDC",
		},
		{
			name:       "explicit market order type",
			payload:    `{"action":"buy","symbol":"ETHUSDC","order_type":"market"}`,
			wantAction: domain.Buy,
			wantSymbol: "ETHUSDC",
			wantType:   domain.OrderTypeMarket,
		},
		{
			name:       "target position carried through",
			payload:    `{"action":"sell","symbol":"ETHUSDC","target_position":0}`,
			wantAction: domain.Sell,
			wantSymbol: "ETHUSDC",
			wantTarget: floatPtr(0),
		},
		{
			name:    "invalid JSON",
			payload: `{"action":`,
			wantErr: ports.ErrMalformedSignal,
		},
		{
			name:    "missing action",
			payload: `{"symbol":"ETHUSDC"}`,
			wantErr: ports.ErrMalformedSignal,
		},
		{
			name:    "missing symbol",
			payload: `{"action":"buy"}`,
			wantErr: ports.ErrMalformedSignal,
		},
		{
			name:    "unknown action",
			payload: `{"action":"hold","symbol":"ETHUSDC"}`,
			wantErr: ports.ErrInvalidAction,
		},
		{
			name:    "unknown order type",
			payload: `{"action":"buy","symbol":"ETHUSDC","order_type":"ICEBERG"}`,
			wantErr: ports.ErrMalformedSignal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, err := Parse([]byte(tt.payload))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAction, sig.Action)
			assert.Equal(t, tt.wantSymbol, sig.Symbol)
			assert.Equal(t, tt.payload, sig.Raw)
			if tt.wantType != "" {
				assert.Equal(t, tt.wantType, sig.OrderType)
			}
			if tt.wantTarget != nil {
				require.NotNil(t, sig.TargetPosition)
				assert.Equal(t, *tt.wantTarget, *sig.TargetPosition)
			}
		})
	}
}

func TestParse_DelegatesFreeTextMessage(t *testing.T) {
	payload := `{"message":"orden buy @ 2500 en ETHUSDC. La nueva posición estratégica es 1"}`
	sig, err := Parse([]byte(payload))
	require.NoError(t, err)
	assert.Equal(t, domain.Buy, sig.Action)
	assert.Equal(t, "ETHUSDC", sig.Symbol)
	require.NotNil(t, sig.TargetPosition)
	assert.Equal(t, 1.0, *sig.TargetPosition)
	// Raw keeps the full envelope for the audit trail, not just the message.
	assert.Equal(t, payload, sig.Raw)
}

func TestParseAlertMessage(t *testing.T) {
	tests := []struct {
		name       string
		msg        string
		wantAction domain.OrderSide
		wantSymbol string
		wantTarget float64
		wantErr    error
	}{
		{
			name:       "spanish template buy",
			msg:        "orden buy @ 2500 en ETHUSDC. La nueva posición estratégica es 1",
			wantAction: domain.Buy,
			wantSymbol: "ETHUSDC",
			wantTarget: 1,
		},
		{
			name:       "spanish template sell with negative target",
			msg:        "orden sell @ 2450 en ETH/USDC. La nueva posición estratégica es -1",
			wantAction: domain.Sell,
			wantSymbol: "ETHUSDC",
			wantTarget: -1,
		},
		{
			name:       "flat target",
			msg:        "orden sell @ 2450 en ETHUSDC. La nueva posición estratégica es 0",
			wantAction: domain.Sell,
			wantSymbol: "ETHUSDC",
			wantTarget: 0,
		},
		{
			name:       "english template",
			msg:        "order buy @ 43000 on BTCUSDT. The new strategic position is 2",
			wantAction: domain.Buy,
			wantSymbol: "BTCUSDT",
			wantTarget: 2,
		},
		{
			name:       "lowercase ticker normalized",
			msg:        "orden buy @ 2500 en ethusdc. La nueva posición estratégica es 1",
			wantAction: domain.Buy,
			wantSymbol: "ETHUSDC",
			wantTarget: 1,
		},
		{
			name:    "missing target clause",
			msg:     "orden buy en ETHUSDC",
			wantErr: ports.ErrMalformedSignal,
		},
		{
			name:    "unrelated text",
			msg:     "hello world",
			wantErr: ports.ErrMalformedSignal,
		},
		{
			name:    "unknown action verb",
			msg:     "orden hold en ETHUSDC. La nueva posición estratégica es 0",
			wantErr: ports.ErrInvalidAction,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, err := ParseAlertMessage(tt.msg)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAction, sig.Action)
			assert.Equal(t, tt.wantSymbol, sig.Symbol)
			require.NotNil(t, sig.TargetPosition)
			assert.Equal(t, tt.wantTarget, *sig.TargetPosition)
		})
	}
}

func TestParse_SamePayloadSameResult(t *testing.T) {
	payload := []byte(`{"action":"buy","symbol":"ETHUSDC","target_position":1}`)
	first, err := Parse(payload)
	require.NoError(t, err)
	second, err := Parse(payload)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func floatPtr(v float64) *float64 { return &v }
