package monitor

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"channel_monitor/internal/dedup"
	"channel_monitor/internal/matcher"
	"channel_monitor/internal/model"
	"channel_monitor/internal/notify"
	"channel_monitor/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type countingProvider struct {
	calls atomic.Int64
	last  atomic.Pointer[notify.Message]
}

func (c *countingProvider) Name() string     { return "counting" }
func (c *countingProvider) Configured() bool { return true }
func (c *countingProvider) Send(_ context.Context, m notify.Message) error {
	c.calls.Add(1)
	c.last.Store(&m)
	return nil
}

type fixture struct {
	store    *storage.SQLite
	rules    *matcher.Matcher
	pipeline *Pipeline
	provider *countingProvider
	channel  *model.Channel
}

func newFixture(t *testing.T, patterns ...model.Pattern) *fixture {
	t.Helper()
	ctx := context.Background()

	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ch := &model.Channel{ChannelID: "@deals", Kind: model.ChannelTelegram, Title: "Deals", IsActive: true}
	if err := store.CreateChannel(ctx, ch); err != nil {
		t.Fatalf("create channel: %v", err)
	}

	rules := matcher.New(discardLogger())
	for i := range patterns {
		patterns[i].IsActive = true
		if err := store.CreatePattern(ctx, &patterns[i]); err != nil {
			t.Fatalf("create pattern: %v", err)
		}
	}
	if err := rules.Load(patterns); err != nil {
		t.Fatalf("load patterns: %v", err)
	}

	provider := &countingProvider{}
	disp := notify.NewDispatcher(store, 4, discardLogger(), provider)
	disp.SetRetryPolicy(1, time.Millisecond)

	return &fixture{
		store:    store,
		rules:    rules,
		pipeline: New(store, rules, dedup.New(store), disp, discardLogger()),
		provider: provider,
		channel:  ch,
	}
}

func (f *fixture) message(id, text string) model.Message {
	return model.Message{
		ChannelID:  f.channel.ID,
		MessageID:  id,
		Text:       text,
		Link:       "https://t.me/deals/" + id,
		ReceivedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestProcessLiteralMatchNotifiesOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, model.Pattern{Text: "50% off", Kind: model.PatternLiteral})

	if err := f.pipeline.Process(ctx, f.message("10", "Huge sale: 50% OFF everything!")); err != nil {
		t.Fatalf("process: %v", err)
	}
	f.pipeline.Drain()

	if got := f.provider.calls.Load(); got != 1 {
		t.Fatalf("provider calls = %d, want 1", got)
	}
	sent := f.provider.last.Load()
	if sent.Snippet != "50% OFF" {
		t.Errorf("snippet = %q, want original casing 50%% OFF", sent.Snippet)
	}
	if sent.Channel != "Deals" || sent.Link != "https://t.me/deals/10" {
		t.Errorf("unexpected payload: %+v", *sent)
	}

	events, err := f.store.ListMatches(ctx, 10)
	if err != nil {
		t.Fatalf("list matches: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("stored events = %d, want 1", len(events))
	}
}

func TestProcessRepeatIsSuppressed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, model.Pattern{Text: "50% off", Kind: model.PatternLiteral})
	msg := f.message("10", "Huge sale: 50% off everything!")

	if err := f.pipeline.Process(ctx, msg); err != nil {
		t.Fatalf("first process: %v", err)
	}
	if err := f.pipeline.Process(ctx, msg); err != nil {
		t.Fatalf("second process: %v", err)
	}
	f.pipeline.Drain()

	if got := f.provider.calls.Load(); got != 1 {
		t.Errorf("provider calls = %d, want 1", got)
	}
}

func TestProcessRepeatSuppressedAcrossRestart(t *testing.T) {
	// A fresh pipeline over the same store simulates a process restart.
	ctx := context.Background()
	f := newFixture(t, model.Pattern{Text: "50% off", Kind: model.PatternLiteral})
	msg := f.message("10", "Huge sale: 50% off everything!")

	if err := f.pipeline.Process(ctx, msg); err != nil {
		t.Fatalf("process: %v", err)
	}
	f.pipeline.Drain()

	provider2 := &countingProvider{}
	disp2 := notify.NewDispatcher(f.store, 4, discardLogger(), provider2)
	fresh := New(f.store, f.rules, dedup.New(f.store), disp2, discardLogger())

	if err := fresh.Process(ctx, msg); err != nil {
		t.Fatalf("process after restart: %v", err)
	}
	fresh.Drain()

	if got := provider2.calls.Load(); got != 0 {
		t.Errorf("provider calls after restart = %d, want 0", got)
	}
}

func TestProcessRegexSnippet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, model.Pattern{Text: `\d+% off`, Kind: model.PatternRegex})

	if err := f.pipeline.Process(ctx, f.message("11", "Today only: 30% off selected items")); err != nil {
		t.Fatalf("process: %v", err)
	}
	f.pipeline.Drain()

	sent := f.provider.last.Load()
	if sent == nil {
		t.Fatal("no notification sent")
	}
	if sent.Snippet != "30% off" {
		t.Errorf("snippet = %q, want 30%% off", sent.Snippet)
	}
}

func TestProcessMultipleRulesMatchIndependently(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t,
		model.Pattern{Text: "sale", Kind: model.PatternLiteral},
		model.Pattern{Text: `\d+% off`, Kind: model.PatternRegex},
	)

	if err := f.pipeline.Process(ctx, f.message("12", "Sale: 30% off")); err != nil {
		t.Fatalf("process: %v", err)
	}
	f.pipeline.Drain()

	if got := f.provider.calls.Load(); got != 2 {
		t.Errorf("provider calls = %d, want 2", got)
	}

	events, err := f.store.ListMatches(ctx, 10)
	if err != nil {
		t.Fatalf("list matches: %v", err)
	}
	snippets := make(map[string]bool)
	for _, ev := range events {
		snippets[ev.Snippet] = true
	}
	want := map[string]bool{"Sale": true, "30% off": true}
	if diff := cmp.Diff(want, snippets); diff != "" {
		t.Errorf("recorded snippets (-want +got):\n%s", diff)
	}
}

func TestProcessNoMatchStoresNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, model.Pattern{Text: "sale", Kind: model.PatternLiteral})

	if err := f.pipeline.Process(ctx, f.message("13", "nothing to see here")); err != nil {
		t.Fatalf("process: %v", err)
	}
	f.pipeline.Drain()

	if got := f.provider.calls.Load(); got != 0 {
		t.Errorf("provider calls = %d, want 0", got)
	}
	events, err := f.store.ListMatches(ctx, 10)
	if err != nil {
		t.Fatalf("list matches: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("stored events = %d, want 0", len(events))
	}
}

func TestProcessTruncatesLongBody(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, model.Pattern{Text: "sale", Kind: model.PatternLiteral})

	long := "sale " + strings.Repeat("x", 5000)
	if err := f.pipeline.Process(ctx, f.message("14", long)); err != nil {
		t.Fatalf("process: %v", err)
	}
	f.pipeline.Drain()

	sent := f.provider.last.Load()
	if sent == nil {
		t.Fatal("no notification sent")
	}
	if len([]rune(sent.Body)) > maxBodyLen {
		t.Errorf("body length = %d runes, want <= %d", len([]rune(sent.Body)), maxBodyLen)
	}
}
