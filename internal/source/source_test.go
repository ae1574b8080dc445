package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/go-cmp/cmp"
	"github.com/mmcdole/gofeed"

	"channel_monitor/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
<title>Deals Feed</title>
<link>https://deals.example.com</link>
<item>
<title>Flash sale: 50% off everything</title>
<link>https://deals.example.com/1</link>
<guid>deal-1</guid>
<description>Today only</description>
<pubDate>Mon, 02 Jan 2006 15:04:05 GMT</pubDate>
</item>
<item>
<title>New arrivals</title>
<link>https://deals.example.com/2</link>
<guid>deal-2</guid>
</item>
</channel>
</rss>`

type fakeFeedHTTP struct {
	body   string
	status int
	err    error
	gotUA  string
}

func (f *fakeFeedHTTP) Do(req *http.Request) (*http.Response, error) {
	f.gotUA = req.Header.Get("User-Agent")
	if f.err != nil {
		return nil, f.err
	}
	status := f.status
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(f.body)),
	}, nil
}

func collect(t *testing.T, ch <-chan RawMessage, n int) []RawMessage {
	t.Helper()
	var got []RawMessage
	timeout := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case msg, ok := <-ch:
			if !ok {
				t.Fatalf("stream closed after %d messages, want %d", len(got), n)
			}
			got = append(got, msg)
		case <-timeout:
			t.Fatalf("timed out after %d messages, want %d", len(got), n)
		}
	}
	return got
}

func TestFeedSubscribeEmitsItems(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &fakeFeedHTTP{body: sampleFeed}
	f := NewFeed(client, time.Hour, discardLogger())

	out, err := f.Subscribe(ctx, model.Channel{ID: 1, ChannelID: "https://deals.example.com/rss", Kind: model.ChannelFeed})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	got := collect(t, out, 2)
	want := []RawMessage{
		{
			MessageID: "deal-1",
			Text:      "Flash sale: 50% off everything\n\nToday only",
			Link:      "https://deals.example.com/1",
			At:        time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC),
		},
		{
			MessageID: "deal-2",
			Text:      "New arrivals",
			Link:      "https://deals.example.com/2",
			At:        got[1].At,
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("feed messages (-want +got):\n%s", diff)
	}
	if client.gotUA == "" {
		t.Error("request has no User-Agent header")
	}
}

func TestFeedSkipsSeenCursor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := NewFeed(&fakeFeedHTTP{body: sampleFeed}, time.Hour, discardLogger())
	out, err := f.Subscribe(ctx, model.Channel{ID: 1, ChannelID: "https://x/rss", Cursor: "deal-1"})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	got := collect(t, out, 1)
	if got[0].MessageID != "deal-2" {
		t.Errorf("MessageID = %q, want deal-2", got[0].MessageID)
	}
	select {
	case msg := <-out:
		t.Errorf("unexpected extra message: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFeedFetchErrorKeepsSubscription(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := NewFeed(&fakeFeedHTTP{err: errors.New("dial tcp: refused")}, time.Hour, discardLogger())
	out, err := f.Subscribe(ctx, model.Channel{ID: 1, ChannelID: "https://x/rss"})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	select {
	case _, ok := <-out:
		if !ok {
			t.Fatal("stream closed on fetch error")
		}
		t.Fatal("unexpected message")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFeedUnsubscribeClosesStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := model.Channel{ID: 1, ChannelID: "https://x/rss"}
	f := NewFeed(&fakeFeedHTTP{body: sampleFeed}, time.Hour, discardLogger())
	out, err := f.Subscribe(ctx, ch)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	collect(t, out, 2)

	f.Unsubscribe(ch)
	select {
	case _, ok := <-out:
		if ok {
			t.Fatal("expected closed stream")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed after unsubscribe")
	}
}

func TestItemGUIDFallback(t *testing.T) {
	a := itemGUID(&gofeed.Item{Title: "t", Link: "l"})
	b := itemGUID(&gofeed.Item{Title: "t", Link: "l"})
	c := itemGUID(&gofeed.Item{Title: "other", Link: "l"})
	if a != b {
		t.Errorf("same item produced different GUIDs: %q vs %q", a, b)
	}
	if a == c {
		t.Errorf("different items produced the same GUID: %q", a)
	}
	if !strings.HasPrefix(a, "sha256:") {
		t.Errorf("fallback GUID %q missing hash prefix", a)
	}
}

type fakeReceiver struct {
	updates chan tgbotapi.Update
	stopped bool
}

func (f *fakeReceiver) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}
func (f *fakeReceiver) StopReceivingUpdates() { f.stopped = true }

func channelPost(chatID int64, username string, messageID int, text string) tgbotapi.Update {
	return tgbotapi.Update{
		ChannelPost: &tgbotapi.Message{
			MessageID: messageID,
			Date:      1136214245,
			Text:      text,
			Chat:      &tgbotapi.Chat{ID: chatID, UserName: username},
		},
	}
}

func TestTelegramRoutesPostsBySubscription(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &fakeReceiver{updates: make(chan tgbotapi.Update, 8)}
	tg := NewTelegram(rec, discardLogger())

	deals, err := tg.Subscribe(ctx, model.Channel{ID: 1, ChannelID: "@Deals"})
	if err != nil {
		t.Fatalf("subscribe deals: %v", err)
	}
	news, err := tg.Subscribe(ctx, model.Channel{ID: 2, ChannelID: "-100123"})
	if err != nil {
		t.Fatalf("subscribe news: %v", err)
	}

	rec.updates <- channelPost(555, "deals", 10, "50% off")
	rec.updates <- channelPost(-100123, "", 11, "breaking")
	rec.updates <- channelPost(999, "unknown", 12, "ignored")

	gotDeal := collect(t, deals, 1)[0]
	want := RawMessage{
		MessageID: "10",
		Text:      "50% off",
		Link:      "https://t.me/deals/10",
		At:        time.Unix(1136214245, 0).UTC(),
	}
	if diff := cmp.Diff(want, gotDeal); diff != "" {
		t.Errorf("routed message (-want +got):\n%s", diff)
	}

	gotNews := collect(t, news, 1)[0]
	if gotNews.MessageID != "11" || gotNews.Link != "" {
		t.Errorf("numeric-id message: %+v", gotNews)
	}
}

func TestTelegramClosedUpdatesClosesSubscriptions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &fakeReceiver{updates: make(chan tgbotapi.Update)}
	tg := NewTelegram(rec, discardLogger())

	out, err := tg.Subscribe(ctx, model.Channel{ID: 1, ChannelID: "deals"})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	close(rec.updates)
	select {
	case _, ok := <-out:
		if ok {
			t.Fatal("expected closed subscription")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed after updates stream died")
	}
}

func TestTelegramUnsubscribeWithBackloggedDelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Unbuffered updates channel: a send returns only once the demux
	// has picked the update up, so routing progress is observable.
	rec := &fakeReceiver{updates: make(chan tgbotapi.Update)}
	tg := NewTelegram(rec, discardLogger())
	ch := model.Channel{ID: 1, ChannelID: "@deals"}

	out, err := tg.Subscribe(ctx, ch)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// Nothing reads out, so the buffer fills and the overflow is dropped.
	for i := 1; i <= 70; i++ {
		rec.updates <- channelPost(555, "deals", i, fmt.Sprintf("post %d", i))
	}
	// One more send guarantees the previous post was fully routed
	// before teardown starts.
	rec.updates <- channelPost(555, "deals", 71, "fence")

	tg.Unsubscribe(ch)

	var got []string
	for {
		select {
		case msg := <-out:
			got = append(got, msg.MessageID)
			continue
		default:
		}
		break
	}
	if len(got) != 64 {
		t.Fatalf("drained %d messages, want 64 (buffer size)", len(got))
	}
	for i, id := range got {
		if want := strconv.Itoa(i + 1); id != want {
			t.Fatalf("message %d = %q, want %q", i, id, want)
		}
	}

	// The slot frees up immediately.
	if _, err := tg.Subscribe(ctx, ch); err != nil {
		t.Fatalf("resubscribe: %v", err)
	}
}

func TestTelegramRestartGetsFreshSubscriptions(t *testing.T) {
	rec := &fakeReceiver{updates: make(chan tgbotapi.Update, 8)}
	tg := NewTelegram(rec, discardLogger())
	ch := model.Channel{ID: 1, ChannelID: "@deals"}

	ctx1, cancel1 := context.WithCancel(context.Background())
	out1, err := tg.Subscribe(ctx1, ch)
	if err != nil {
		t.Fatalf("first subscribe: %v", err)
	}

	// Resubscribe right after cancellation, without waiting for the
	// previous session's demux goroutine to finish tearing down.
	cancel1()
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	out2, err := tg.Subscribe(ctx2, ch)
	if err != nil {
		t.Fatalf("resubscribe after restart: %v", err)
	}

	// The old session's stream was closed by its own demux.
	select {
	case _, ok := <-out1:
		if ok {
			t.Fatal("unexpected message on old subscription")
		}
	default:
		t.Fatal("old subscription left open")
	}

	// The new session's stream is live and receives posts.
	rec.updates <- channelPost(555, "deals", 10, "50% off")
	got := collect(t, out2, 1)[0]
	if got.MessageID != "10" {
		t.Errorf("MessageID = %q, want 10", got.MessageID)
	}
}

func TestRouterSplitsUpdates(t *testing.T) {
	rec := &fakeReceiver{updates: make(chan tgbotapi.Update, 8)}
	r := NewRouter(rec)

	posts := r.Posts().GetUpdatesChan(tgbotapi.UpdateConfig{})
	cmds := r.Commands().GetUpdatesChan(tgbotapi.UpdateConfig{})

	rec.updates <- channelPost(1, "deals", 10, "50% off")
	rec.updates <- tgbotapi.Update{Message: &tgbotapi.Message{Text: "/status", Chat: &tgbotapi.Chat{ID: 7}}}

	select {
	case u := <-posts:
		if u.ChannelPost == nil || u.ChannelPost.MessageID != 10 {
			t.Errorf("unexpected post update: %+v", u)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("post never routed")
	}
	select {
	case u := <-cmds:
		if u.Message == nil || u.Message.Text != "/status" {
			t.Errorf("unexpected command update: %+v", u)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("command never routed")
	}

	// Only the command view may stop the shared poll.
	r.Posts().StopReceivingUpdates()
	if rec.stopped {
		t.Error("post view stopped the shared poll")
	}
	r.Commands().StopReceivingUpdates()
	if !rec.stopped {
		t.Error("command view did not stop the shared poll")
	}
}

func TestSubscriptionKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"@DealsChannel", "dealschannel"},
		{"dealschannel", "dealschannel"},
		{"-1001234567890", "-1001234567890"},
		{"  @Spaced  ", "spaced"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := subscriptionKey(tt.in); got != tt.want {
			t.Errorf("subscriptionKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
