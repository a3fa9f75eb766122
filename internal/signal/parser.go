// Package signal extracts a normalized trading intent from incoming alert
// payloads. Parsing is a pure transformation: the same payload always
// yields the same intent or the same error, and retrying is safe.
package signal

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"signalbridge/internal/domain"
	"signalbridge/internal/ports"
)

// payload mirrors the JSON body a charting alert webhook sends. All fields
// except action/symbol are optional.
type payload struct {
	Action         string   `json:"action"`
	Symbol         string   `json:"symbol"`
	TargetPosition *float64 `json:"target_position"`
	OrderType      string   `json:"order_type"`
	Quantity       float64  `json:"quantity"`
	Price          float64  `json:"price"`
	StopPrice      float64  `json:"stop_price"`
	StopLossPct    *float64 `json:"stop_loss_pct"`
	TakeProfitPct  *float64 `json:"take_profit_pct"`

	// Message carries the free-text alert body when the alert is not
	// configured to send structured fields.
	Message string `json:"message"`
	// Some alert templates use alert_message instead.
	AlertMessage string `json:"alert_message"`
}

// Free-text alert patterns: action verb, ticker token, strategic position
// target. Both the original Spanish alert template and its English
// equivalent are recognized.
var (
	actionRe = regexp.MustCompile(`(?i)\b(?:orden|order)\s+(\w+)`)
	symbolRe = regexp.MustCompile(`(?i)\b(?:en|on)\s+([A-Z0-9/]+)`)
	targetRe = regexp.MustCompile(`(?i)(?:posici[oó]n estrat[eé]gica es|strategic position is)\s*(-?[0-9.]+)`)
)

// Parse extracts a Signal from a JSON payload. When the payload carries a
// free-text message instead of structured fields, it is delegated to
// ParseAlertMessage.
func Parse(raw []byte) (*domain.Signal, error) {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decoding signal payload: %v: %w", err, ports.ErrMalformedSignal)
	}

	if msg := firstNonEmpty(p.Message, p.AlertMessage); msg != "" {
		sig, err := ParseAlertMessage(msg)
		if err != nil {
			return nil, err
		}
		sig.Raw = string(raw)
		return sig, nil
	}

	if p.Action == "" {
		return nil, fmt.Errorf("missing action: %w", ports.ErrMalformedSignal)
	}
	if p.Symbol == "" {
		return nil, fmt.Errorf("missing symbol: %w", ports.ErrMalformedSignal)
	}

	side, err := normalizeAction(p.Action)
	if err != nil {
		return nil, err
	}

	sig := &domain.Signal{
		Action:         side,
		Symbol:         normalizeSymbol(p.Symbol),
		TargetPosition: p.TargetPosition,
		Quantity:       p.Quantity,
		Price:          p.Price,
		StopPrice:      p.StopPrice,
		StopLossPct:    p.StopLossPct,
		TakeProfitPct:  p.TakeProfitPct,
		Raw:            string(raw),
	}
	if p.OrderType != "" {
		sig.OrderType, err = normalizeOrderType(p.OrderType)
		if err != nil {
			return nil, err
		}
	}
	return sig, nil
}

// ParseAlertMessage extracts a Signal from a free-text alert body matched
// against the fixed template patterns (action verb, ticker, strategic
// position value).
func ParseAlertMessage(msg string) (*domain.Signal, error) {
	actionMatch := actionRe.FindStringSubmatch(msg)
	symbolMatch := symbolRe.FindStringSubmatch(msg)
	targetMatch := targetRe.FindStringSubmatch(msg)

	if actionMatch == nil || symbolMatch == nil || targetMatch == nil {
		return nil, fmt.Errorf("alert message does not match the expected template: %w", ports.ErrMalformedSignal)
	}

	side, err := normalizeAction(actionMatch[1])
	if err != nil {
		return nil, err
	}

	target, err := strconv.ParseFloat(targetMatch[1], 64)
	if err != nil {
		return nil, fmt.Errorf("unparseable strategic position %q: %w", targetMatch[1], ports.ErrMalformedSignal)
	}

	return &domain.Signal{
		Action:         side,
		Symbol:         normalizeSymbol(symbolMatch[1]),
		TargetPosition: &target,
		Raw:            msg,
	}, nil
}

func normalizeAction(action string) (domain.OrderSide, error) {
	switch strings.ToUpper(strings.TrimSpace(action)) {
	case "BUY", "LONG":
		return domain.Buy, nil
	case "SELL", "SHORT":
		return domain.Sell, nil
	default:
		return "", fmt.Errorf("action %q: %w", action, ports.ErrInvalidAction)
	}
}

func normalizeOrderType(ot string) (domain.OrderType, error) {
	switch domain.OrderType(strings.ToUpper(strings.TrimSpace(ot))) {
	case domain.OrderTypeMarket:
		return domain.OrderTypeMarket, nil
	case domain.OrderTypeLimit:
		return domain.OrderTypeLimit, nil
	case domain.OrderTypeStopMarket:
		return domain.OrderTypeStopMarket, nil
	case domain.OrderTypeStopLimit:
		return domain.OrderTypeStopLimit, nil
	case domain.OrderTypeTakeProfit:
		return domain.OrderTypeTakeProfit, nil
	case domain.OrderTypeTakeProfitLimit:
		return domain.OrderTypeTakeProfitLimit, nil
	default:
		return "", fmt.Errorf("order type %q: %w", ot, ports.ErrMalformedSignal)
	}
}

// normalizeSymbol strips the slash some alert templates put between base
// and quote assets ("ETH/USDC" -> "ETHUSDC").
func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(symbol), "/", ""))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
