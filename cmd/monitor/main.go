package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"channel_monitor/internal/bot"
	"channel_monitor/internal/config"
	"channel_monitor/internal/dedup"
	"channel_monitor/internal/listener"
	"channel_monitor/internal/matcher"
	"channel_monitor/internal/model"
	"channel_monitor/internal/monitor"
	"channel_monitor/internal/notify"
	"channel_monitor/internal/service"
	"channel_monitor/internal/source"
	"channel_monitor/internal/storage"
	"channel_monitor/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		log.Error("create bot api", "error", err)
		os.Exit(1)
	}

	rules := matcher.New(log)
	patterns, err := store.ListPatterns(ctx, true)
	if err != nil {
		log.Error("load patterns", "error", err)
		os.Exit(1)
	}
	if err := rules.Load(patterns); err != nil {
		log.Error("compile patterns", "error", err)
		os.Exit(1)
	}

	dispatcher := notify.NewDispatcher(store, cfg.MaxInflightDispatches, log,
		notify.NewTelegram(api, cfg.NotifyChatID),
		notify.NewWebhook(cfg.WebhookURL, http.DefaultClient),
		notify.NewEmail(cfg.SMTP),
	)
	pipeline := monitor.New(store, rules, dedup.New(store), dispatcher, log)
	defer pipeline.Drain()

	// One getUpdates poll feeds both the command surface and the
	// channel-post stream.
	router := source.NewRouter(api)
	streams := map[model.ChannelKind]source.Stream{
		model.ChannelTelegram: source.NewTelegram(router.Posts(), log),
		model.ChannelFeed:     source.NewFeed(http.DefaultClient, cfg.FeedPollInterval, log),
	}

	lst := listener.New(store, streams, pipeline, log)
	sup := supervisor.New(lst, log)
	sched := supervisor.NewScheduler(sup, store, log)
	svc := service.New(store, rules, sched, dispatcher.Providers(), log)

	commandBot := bot.New(newBotAPI(api, router), svc, cfg, log)

	log.Info("starting channel monitor")

	go func() {
		if err := sched.Run(ctx); err != nil {
			log.Error("scheduler stopped", "error", err)
			cancel()
		}
	}()

	commandBot.Run(ctx)

	log.Info("channel monitor stopped")
}

// botView pairs the shared API's Send with the router's command stream.
type botView struct {
	*source.RouterView
	api *tgbotapi.BotAPI
}

func (v botView) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return v.api.Send(c)
}

func newBotAPI(api *tgbotapi.BotAPI, router *source.Router) botView {
	return botView{RouterView: router.Commands(), api: api}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
