package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"channel_monitor/internal/model"
	"channel_monitor/internal/service"
)

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Welcome to Channel Monitor Bot!

Watch Telegram channels and RSS feeds for keywords and get notified.

Quick start:
1. /watch <@channel|url> — watch a channel or feed
2. /addword <word> — add a keyword
3. /recent — see the latest matches

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Channels:
/watch <@channel|url> [title] — watch a Telegram channel or RSS feed
/unwatch <id> — stop watching (kept if it has match history)
/channels — list watched channels
/pause <id> — pause a channel
/resume <id> — resume a channel

Keywords:
/addword <word or phrase> — add a keyword (case-insensitive)
/addregex <regex> — add a regular expression
/delword <id> — remove a keyword
/words — list keywords

Monitoring:
/status — session state and counts
/recent [n] — latest matches (default 10)
/stats — match statistics
/monitor_on — enable monitoring
/monitor_off — disable monitoring

Schedule:
/windows — list schedule windows
/addwindow <name> <HH:MM> <HH:MM> [days] — add a window (days: 1,2,3; 0=Sun)
/delwindow <id> — remove a window`)
}

func (b *Bot) handleWatch(ctx context.Context, chatID int64, args string) {
	if args == "" {
		b.reply(chatID, "Usage: /watch <@channel|url> [title]")
		return
	}

	parts := strings.Fields(args)
	target := parts[0]
	title := strings.Join(parts[1:], " ")

	kind := model.ChannelTelegram
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		kind = model.ChannelFeed
	}

	ch, err := b.svc.AddChannel(ctx, target, kind, title)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Failed to add channel: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Watching #%d %s (%s).", ch.ID, ch.ChannelID, ch.Kind))
}

func (b *Bot) handleUnwatch(ctx context.Context, chatID int64, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /unwatch <id>")
		return
	}

	deleted, err := b.svc.RemoveChannel(ctx, id)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Failed to remove channel #%d: %v", id, err))
		return
	}
	if deleted {
		b.reply(chatID, fmt.Sprintf("Channel #%d deleted.", id))
		return
	}
	b.reply(chatID, fmt.Sprintf("Channel #%d has match history, deactivated instead.", id))
}

func (b *Bot) handleChannels(ctx context.Context, chatID int64) {
	channels, err := b.svc.ListChannels(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatChannelList(channels))
}

func (b *Bot) handlePause(ctx context.Context, chatID int64, args string) {
	b.toggleChannel(ctx, chatID, args, false, "Usage: /pause <id>", "paused")
}

func (b *Bot) handleResume(ctx context.Context, chatID int64, args string) {
	b.toggleChannel(ctx, chatID, args, true, "Usage: /resume <id>", "resumed")
}

func (b *Bot) toggleChannel(ctx context.Context, chatID int64, args string, active bool, usage, verb string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, usage)
		return
	}
	if err := b.svc.SetChannelActive(ctx, id, active); err != nil {
		b.reply(chatID, fmt.Sprintf("Channel #%d not found.", id))
		return
	}
	b.reply(chatID, fmt.Sprintf("Channel #%d %s.", id, verb))
}

func (b *Bot) handleAddPattern(ctx context.Context, chatID int64, args string, regex bool) {
	if args == "" {
		if regex {
			b.reply(chatID, "Usage: /addregex <regex>")
		} else {
			b.reply(chatID, "Usage: /addword <word or phrase>")
		}
		return
	}

	kind := model.PatternLiteral
	if regex {
		kind = model.PatternRegex
	}
	p, err := b.svc.AddPattern(ctx, args, kind, false)
	if err != nil {
		if errors.Is(err, service.ErrInvalidInput) {
			b.reply(chatID, fmt.Sprintf("Invalid pattern: %v", err))
			return
		}
		b.reply(chatID, fmt.Sprintf("Failed to add pattern: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Pattern P%d added: %s (%s).", p.ID, p.Text, p.Kind))
}

func (b *Bot) handleDelPattern(ctx context.Context, chatID int64, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /delword <id>")
		return
	}
	if err := b.svc.RemovePattern(ctx, id); err != nil {
		b.reply(chatID, fmt.Sprintf("Pattern P%d not found.", id))
		return
	}
	b.reply(chatID, fmt.Sprintf("Pattern P%d removed.", id))
}

func (b *Bot) handleWords(ctx context.Context, chatID int64) {
	patterns, err := b.svc.ListPatterns(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatPatternList(patterns))
}

func (b *Bot) handleRecent(ctx context.Context, chatID int64, args string) {
	limit := 10
	if args != "" {
		n, err := ParseLimitArg(args)
		if err != nil {
			b.reply(chatID, "Usage: /recent [count]")
			return
		}
		limit = n
	}

	matches, err := b.svc.RecentMatches(ctx, limit)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatRecent(matches))
}

func (b *Bot) handleStatus(ctx context.Context, chatID int64) {
	st, err := b.svc.Status(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatStatus(st))
}

func (b *Bot) handleStats(ctx context.Context, chatID int64) {
	stats, err := b.svc.Stats(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatStats(stats))
}

func (b *Bot) handleMonitorOn(chatID int64) {
	b.svc.EnableMonitoring()
	b.reply(chatID, "Monitoring enabled.")
}

func (b *Bot) handleMonitorOff(chatID int64) {
	b.svc.DisableMonitoring()
	b.reply(chatID, "Monitoring disabled. Use /monitor_on to re-enable.")
}

func (b *Bot) handleWindows(ctx context.Context, chatID int64) {
	windows, err := b.svc.ListWindows(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatWindows(windows))
}

func (b *Bot) handleAddWindow(ctx context.Context, chatID int64, args string) {
	w, err := ParseWindowArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	created, err := b.svc.AddWindow(ctx, w)
	if err != nil {
		if errors.Is(err, service.ErrInvalidInput) {
			b.reply(chatID, fmt.Sprintf("Invalid window: %v", err))
			return
		}
		b.reply(chatID, fmt.Sprintf("Failed to add window: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Window W%d %q added: %s-%s.", created.ID, created.Name, created.StartTime, created.EndTime))
}

func (b *Bot) handleDelWindow(ctx context.Context, chatID int64, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /delwindow <id>")
		return
	}
	if err := b.svc.RemoveWindow(ctx, id); err != nil {
		b.reply(chatID, fmt.Sprintf("Window W%d not found.", id))
		return
	}
	b.reply(chatID, fmt.Sprintf("Window W%d removed.", id))
}
