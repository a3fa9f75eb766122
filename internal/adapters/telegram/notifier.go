// Package telegram implements ports.Notifier on the Telegram Bot API.
// Notifications are best-effort: a delivery failure is logged and dropped,
// never surfaced to the trading path.
package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"signalbridge/internal/ports"
)

// Notifier sends trade notifications to a Telegram chat.
type Notifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger ports.Logger
}

// Config holds configuration for the Telegram notifier.
type Config struct {
	Token  string
	ChatID int64
	Logger ports.Logger
}

// New creates a Telegram notifier. An empty token returns a nil Notifier
// and no error; callers substitute ports.NoopNotifier in that case.
func New(cfg Config) (*Notifier, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Telegram notifier")
	}
	if cfg.Token == "" {
		return nil, nil
	}
	if cfg.ChatID == 0 {
		return nil, fmt.Errorf("chat ID is required when a Telegram token is configured")
	}

	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Telegram bot: %w", err)
	}
	cfg.Logger.Info(context.Background(), "Telegram notifier initialized", map[string]interface{}{
		"botUsername": bot.Self.UserName, "chatID": cfg.ChatID,
	})
	return &Notifier{bot: bot, chatID: cfg.ChatID, logger: cfg.Logger}, nil
}

// Notify sends a message with a level prefix. Fire-and-forget.
func (n *Notifier) Notify(ctx context.Context, level ports.NotifyLevel, msg string) {
	var prefix string
	switch level {
	case ports.NotifySuccess:
		prefix = "✅ "
	case ports.NotifyError:
		prefix = "❌ "
	default:
		prefix = "ℹ️ "
	}

	if _, err := n.bot.Send(tgbotapi.NewMessage(n.chatID, prefix+msg)); err != nil {
		n.logger.Warn(ctx, "Failed to deliver Telegram notification", map[string]interface{}{
			"level": level, "error": err.Error(),
		})
	}
}
