// Package bot implements the Telegram command surface for operators.
package bot

import (
	"context"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"channel_monitor/internal/config"
	"channel_monitor/internal/service"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Bot handles operator commands over Telegram.
type Bot struct {
	api telegramAPI
	svc *service.Service
	cfg *config.Config
	log *slog.Logger
}

// New creates a Bot over a shared Telegram API. The API is passed in
// rather than built from a token because the updates stream is split
// between commands and monitored channel posts.
func New(api telegramAPI, svc *service.Service, cfg *config.Config, log *slog.Logger) *Bot {
	return &Bot{api: api, svc: svc, cfg: cfg, log: log}
}

// Run starts the bot's update loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			if !b.cfg.IsUserAllowed(update.Message.From.ID) {
				b.reply(update.Message.Chat.ID, "Access denied.")
				continue
			}
			b.handleCommand(ctx, update.Message)
		}
	}
}

func (b *Bot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case "start":
		b.handleStart(chatID)
	case "help":
		b.handleHelp(chatID)
	case "watch":
		b.handleWatch(ctx, chatID, args)
	case "unwatch":
		b.handleUnwatch(ctx, chatID, args)
	case "channels":
		b.handleChannels(ctx, chatID)
	case "pause":
		b.handlePause(ctx, chatID, args)
	case "resume":
		b.handleResume(ctx, chatID, args)
	case "addword":
		b.handleAddPattern(ctx, chatID, args, false)
	case "addregex":
		b.handleAddPattern(ctx, chatID, args, true)
	case "delword":
		b.handleDelPattern(ctx, chatID, args)
	case "words":
		b.handleWords(ctx, chatID)
	case "recent":
		b.handleRecent(ctx, chatID, args)
	case "status":
		b.handleStatus(ctx, chatID)
	case "stats":
		b.handleStats(ctx, chatID)
	case "monitor_on":
		b.handleMonitorOn(chatID)
	case "monitor_off":
		b.handleMonitorOff(chatID)
	case "windows":
		b.handleWindows(ctx, chatID)
	case "addwindow":
		b.handleAddWindow(ctx, chatID, args)
	case "delwindow":
		b.handleDelWindow(ctx, chatID, args)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}
