package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type telegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram delivers notifications as direct messages to a configured chat.
type Telegram struct {
	api    telegramSender
	chatID int64
}

// NewTelegram creates the telegram provider. A zero chat ID leaves the
// provider unconfigured.
func NewTelegram(api telegramSender, chatID int64) *Telegram {
	return &Telegram{api: api, chatID: chatID}
}

// Name implements Provider.
func (t *Telegram) Name() string { return "telegram" }

// Configured implements Provider.
func (t *Telegram) Configured() bool { return t.api != nil && t.chatID != 0 }

// Send implements Provider.
func (t *Telegram) Send(_ context.Context, m Message) error {
	msg := tgbotapi.NewMessage(t.chatID, FormatText(m))
	msg.DisableWebPagePreview = true
	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
