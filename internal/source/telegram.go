package source

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"channel_monitor/internal/model"
)

type telegramReceiver interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Telegram streams channel posts from the bot updates feed. One demux
// goroutine reads the shared updates channel and routes posts to the
// per-channel subscriptions, preserving arrival order within a channel.
// The demux goroutine is the sole closer of subscription channels, so a
// teardown can never race a delivery into a closed channel.
type Telegram struct {
	rec telegramReceiver
	log *slog.Logger

	mu       sync.Mutex
	subs     map[string]chan RawMessage
	done     chan struct{}   // closed once the demux goroutine has exited
	demuxCtx context.Context // context the running demux is bound to
}

// NewTelegram creates a Telegram stream over the given bot API.
func NewTelegram(rec telegramReceiver, log *slog.Logger) *Telegram {
	return &Telegram{rec: rec, log: log, subs: make(map[string]chan RawMessage)}
}

// Subscribe registers a channel and returns its message stream. The demux
// loop starts with the first subscription of a session, runs until ctx is
// cancelled, and closes every remaining subscription on its way out.
func (t *Telegram) Subscribe(ctx context.Context, ch model.Channel) (<-chan RawMessage, error) {
	key := subscriptionKey(ch.ChannelID)
	if key == "" {
		return nil, fmt.Errorf("empty channel id for subscription %d", ch.ID)
	}

	t.mu.Lock()
	// A demux bound to a cancelled session must finish tearing down
	// before new subscriptions register, or its cleanup would close
	// them out from under the new session.
	for t.done != nil && t.demuxCtx.Err() != nil {
		done := t.done
		t.mu.Unlock()
		<-done
		t.mu.Lock()
	}
	if _, exists := t.subs[key]; exists {
		t.mu.Unlock()
		return nil, fmt.Errorf("channel %s already subscribed", ch.ChannelID)
	}
	out := make(chan RawMessage, 64)
	t.subs[key] = out

	if t.done == nil {
		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		u.AllowedUpdates = []string{"channel_post"}
		updates := t.rec.GetUpdatesChan(u)
		done := make(chan struct{})
		t.done = done
		t.demuxCtx = ctx
		go t.demux(ctx, updates, done)
	}
	t.mu.Unlock()
	return out, nil
}

// Unsubscribe stops delivery to a channel. The stream channel stays open
// until the demux goroutine exits; only the demux ever closes it.
func (t *Telegram) Unsubscribe(ch model.Channel) {
	key := subscriptionKey(ch.ChannelID)
	t.mu.Lock()
	delete(t.subs, key)
	t.mu.Unlock()
}

func (t *Telegram) demux(ctx context.Context, updates tgbotapi.UpdatesChannel, done chan struct{}) {
	defer t.shutdown(done)
	for {
		select {
		case <-ctx.Done():
			t.rec.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				// The long-poll loop died underneath us; closing the
				// subscriptions lets listeners report the disconnect.
				t.log.Warn("telegram updates stream closed")
				return
			}
			post := update.ChannelPost
			if post == nil || post.Chat == nil {
				continue
			}
			out := t.lookup(post.Chat)
			if out == nil {
				continue
			}
			text := post.Text
			if text == "" {
				text = post.Caption
			}
			if text == "" {
				continue
			}
			msg := RawMessage{
				MessageID: strconv.Itoa(post.MessageID),
				Text:      text,
				Link:      messageLink(post.Chat.UserName, post.MessageID),
				At:        time.Unix(int64(post.Date), 0).UTC(),
			}
			select {
			case out <- msg:
			default:
				// A stalled subscriber loses messages rather than
				// stalling delivery to every other channel.
				t.log.Warn("subscriber buffer full, message dropped",
					"chat_id", post.Chat.ID, "message_id", post.MessageID)
			}
		}
	}
}

// shutdown closes the remaining subscriptions and releases the demux slot.
func (t *Telegram) shutdown(done chan struct{}) {
	t.mu.Lock()
	for key, out := range t.subs {
		delete(t.subs, key)
		close(out)
	}
	t.done = nil
	t.mu.Unlock()
	close(done)
}

func (t *Telegram) lookup(chat *tgbotapi.Chat) chan RawMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	if out, ok := t.subs[strconv.FormatInt(chat.ID, 10)]; ok {
		return out
	}
	if chat.UserName != "" {
		if out, ok := t.subs[strings.ToLower(chat.UserName)]; ok {
			return out
		}
	}
	return nil
}

// subscriptionKey normalizes a configured channel identifier: numeric IDs
// stay as-is, usernames are lowercased with any leading @ stripped.
func subscriptionKey(channelID string) string {
	id := strings.TrimSpace(channelID)
	if id == "" {
		return ""
	}
	if _, err := strconv.ParseInt(id, 10, 64); err == nil {
		return id
	}
	return strings.ToLower(strings.TrimPrefix(id, "@"))
}

func messageLink(username string, messageID int) string {
	if username == "" {
		return ""
	}
	return fmt.Sprintf("https://t.me/%s/%d", username, messageID)
}
