package source

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"

	"channel_monitor/internal/model"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Feed streams RSS/Atom items as messages by polling the feed URL. Fetch
// errors are logged and retried on the next tick rather than tearing the
// subscription down, matching how transient feed outages usually resolve.
type Feed struct {
	client   HTTPClient
	log      *slog.Logger
	interval time.Duration

	mu   sync.Mutex
	subs map[int64]context.CancelFunc
}

// NewFeed creates a Feed stream polling at the given interval.
func NewFeed(client HTTPClient, interval time.Duration, log *slog.Logger) *Feed {
	if client == nil {
		client = http.DefaultClient
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Feed{
		client:   client,
		log:      log,
		interval: interval,
		subs:     make(map[int64]context.CancelFunc),
	}
}

// Subscribe starts polling the channel's feed URL and returns its stream.
func (f *Feed) Subscribe(ctx context.Context, ch model.Channel) (<-chan RawMessage, error) {
	if ch.ChannelID == "" {
		return nil, fmt.Errorf("empty feed url for subscription %d", ch.ID)
	}

	subCtx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	if _, exists := f.subs[ch.ID]; exists {
		f.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("feed %s already subscribed", ch.ChannelID)
	}
	f.subs[ch.ID] = cancel
	f.mu.Unlock()

	out := make(chan RawMessage, 16)
	go f.poll(subCtx, ch, out)
	return out, nil
}

// Unsubscribe stops polling the channel's feed.
func (f *Feed) Unsubscribe(ch model.Channel) {
	f.mu.Lock()
	cancel, ok := f.subs[ch.ID]
	if ok {
		delete(f.subs, ch.ID)
	}
	f.mu.Unlock()
	if ok {
		cancel()
	}
}

func (f *Feed) poll(ctx context.Context, ch model.Channel, out chan<- RawMessage) {
	defer close(out)
	defer f.Unsubscribe(ch)

	// The session-local seen set keeps repeated polls from re-emitting
	// items; matches that slip through after a restart are still caught
	// by the durable dedup guard downstream.
	seen := make(map[string]bool)
	if ch.Cursor != "" {
		seen[ch.Cursor] = true
	}

	f.check(ctx, ch, seen, out)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.check(ctx, ch, seen, out)
		}
	}
}

func (f *Feed) check(ctx context.Context, ch model.Channel, seen map[string]bool, out chan<- RawMessage) {
	feed, err := f.fetch(ctx, ch.ChannelID)
	if err != nil {
		if ctx.Err() == nil {
			f.log.Error("fetch feed", "channel_id", ch.ID, "url", ch.ChannelID, "error", err)
		}
		return
	}

	for _, item := range feed.Items {
		guid := itemGUID(item)
		if seen[guid] {
			continue
		}
		seen[guid] = true

		at := time.Now().UTC()
		if item.PublishedParsed != nil {
			at = item.PublishedParsed.UTC()
		}
		text := item.Title
		if item.Description != "" {
			text += "\n\n" + item.Description
		}
		msg := RawMessage{
			MessageID: guid,
			Text:      text,
			Link:      item.Link,
			At:        at,
		}
		select {
		case out <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (f *Feed) fetch(ctx context.Context, url string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "ChannelMonitor/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	parser := gofeed.NewParser()
	feed, err := parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return feed, nil
}

// itemGUID returns the GUID for a feed item.
// If the item has no GUID, a SHA-256 hash of title+link is used.
func itemGUID(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	h := sha256.Sum256([]byte(item.Title + "|" + item.Link))
	return fmt.Sprintf("sha256:%x", h[:16])
}
