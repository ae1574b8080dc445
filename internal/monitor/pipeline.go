// Package monitor wires matching, dedup, and dispatch into one pipeline.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"channel_monitor/internal/dedup"
	"channel_monitor/internal/matcher"
	"channel_monitor/internal/model"
	"channel_monitor/internal/notify"
	"channel_monitor/internal/storage"
)

// maxBodyLen caps the snippet and body carried into notifications.
const maxBodyLen = 2000

// Pipeline processes inbound messages: evaluate patterns, keep first
// occurrences, and hand confirmed matches to the dispatcher. Dispatch runs
// asynchronously so slow providers never stall a channel's read loop.
type Pipeline struct {
	store storage.Storage
	rules *matcher.Matcher
	guard *dedup.Guard
	disp  *notify.Dispatcher
	log   *slog.Logger

	wg sync.WaitGroup
}

// New creates a Pipeline.
func New(store storage.Storage, rules *matcher.Matcher, guard *dedup.Guard, disp *notify.Dispatcher, log *slog.Logger) *Pipeline {
	return &Pipeline{store: store, rules: rules, guard: guard, disp: disp, log: log}
}

// Process evaluates one message against the active rule snapshot. Each
// first-occurrence match is recorded and dispatched; repeats are dropped.
func (p *Pipeline) Process(ctx context.Context, msg model.Message) error {
	matches := p.rules.Evaluate(msg.Text)
	if len(matches) == 0 {
		return nil
	}

	for _, m := range matches {
		ev := &model.MatchEvent{
			ChannelID:  msg.ChannelID,
			MessageID:  msg.MessageID,
			PatternID:  m.PatternID,
			Snippet:    truncate(m.Snippet, maxBodyLen),
			Link:       msg.Link,
			DetectedAt: msg.ReceivedAt,
		}
		first, err := p.guard.ShouldNotify(ctx, ev)
		if err != nil {
			return fmt.Errorf("dedup match: %w", err)
		}
		if !first {
			p.log.Debug("duplicate match suppressed",
				"channel_id", msg.ChannelID, "message_id", msg.MessageID, "pattern_id", m.PatternID)
			continue
		}

		nmsg, err := p.buildMessage(ctx, ev, msg)
		if err != nil {
			return err
		}
		p.log.Info("match found",
			"channel_id", msg.ChannelID, "pattern_id", m.PatternID, "snippet", ev.Snippet)

		// A session restart must not abort deliveries already underway,
		// so dispatch runs on a detached context. Drain bounds shutdown.
		dctx := context.WithoutCancel(ctx)
		p.wg.Add(1)
		go func(matchID int64, nmsg notify.Message) {
			defer p.wg.Done()
			p.disp.Dispatch(dctx, matchID, nmsg)
		}(ev.ID, nmsg)
	}
	return nil
}

// Drain waits for all in-flight dispatches to settle.
func (p *Pipeline) Drain() {
	p.wg.Wait()
}

func (p *Pipeline) buildMessage(ctx context.Context, ev *model.MatchEvent, msg model.Message) (notify.Message, error) {
	ch, err := p.store.GetChannel(ctx, ev.ChannelID)
	if err != nil {
		return notify.Message{}, fmt.Errorf("load channel %d: %w", ev.ChannelID, err)
	}
	pat, err := p.store.GetPattern(ctx, ev.PatternID)
	if err != nil {
		return notify.Message{}, fmt.Errorf("load pattern %d: %w", ev.PatternID, err)
	}
	title := ch.Title
	if title == "" {
		title = ch.ChannelID
	}
	return notify.BuildMessage(ev, title, pat.Text, truncate(msg.Text, maxBodyLen)), nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
