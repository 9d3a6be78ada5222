// Package telegram implements the ports.Notifier interface for operator
// notifications. Delivery is best-effort by contract: callers bound Send
// with a timeout and log failures instead of propagating them.
package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"scalpbot/internal/ports"
)

// Notifier sends plain-text messages to a single operator chat.
type Notifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// New creates a Telegram notifier. The token is verified against the
// Telegram API during construction.
func New(token string, chatID int64) (*Notifier, error) {
	if token == "" || chatID == 0 {
		return nil, fmt.Errorf("telegram token and chat ID are required")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telegram bot: %w", err)
	}
	return &Notifier{bot: bot, chatID: chatID}, nil
}

// Send pushes a text message to the operator chat.
func (n *Notifier) Send(ctx context.Context, text string) error {
	if n == nil || n.bot == nil || n.chatID == 0 {
		return nil
	}

	// The bot API client has no context support; run the request in a
	// goroutine so a slow Telegram endpoint cannot outlive the caller's
	// timeout.
	done := make(chan error, 1)
	go func() {
		_, err := n.bot.Send(tgbotapi.NewMessage(n.chatID, text))
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("telegram send failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("telegram send aborted: %w", ctx.Err())
	}
}

// LogNotifier is the fallback used when no Telegram credentials are
// configured; every message goes to the application log instead.
type LogNotifier struct {
	Logger ports.Logger
}

// Send logs the message and always succeeds.
func (l *LogNotifier) Send(ctx context.Context, text string) error {
	if l.Logger != nil {
		l.Logger.Info(ctx, "[NO-TELEGRAM] "+text)
	}
	return nil
}
