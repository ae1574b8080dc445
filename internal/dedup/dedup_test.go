package dedup

import (
	"context"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"channel_monitor/internal/model"
	"channel_monitor/internal/storage"
)

func newTestStore(t *testing.T) *storage.SQLite {
	t.Helper()
	s, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestShouldNotifyFirstOccurrence(t *testing.T) {
	ctx := context.Background()
	g := New(newTestStore(t))

	ev := model.MatchEvent{ChannelID: 1, MessageID: "10", PatternID: 2, Snippet: "50% off"}
	ok, err := g.ShouldNotify(ctx, &ev)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if !ok {
		t.Fatal("expected first occurrence to pass")
	}
	if ev.ID == 0 {
		t.Fatal("expected match event to be recorded")
	}
	if ev.DedupKey == "" {
		t.Fatal("expected dedup key to be derived")
	}

	repeat := model.MatchEvent{ChannelID: 1, MessageID: "10", PatternID: 2}
	ok, err = g.ShouldNotify(ctx, &repeat)
	if err != nil {
		t.Fatalf("repeat: %v", err)
	}
	if ok {
		t.Fatal("expected repeat to be suppressed")
	}
}

func TestShouldNotifySurvivesRestart(t *testing.T) {
	// Same database, fresh guard: a message re-delivered after a
	// crash-restart must still be suppressed.
	ctx := context.Background()
	store := newTestStore(t)

	ev := model.MatchEvent{ChannelID: 3, MessageID: "55", PatternID: 7}
	if ok, err := New(store).ShouldNotify(ctx, &ev); err != nil || !ok {
		t.Fatalf("first notify: ok=%v err=%v", ok, err)
	}

	redelivered := model.MatchEvent{ChannelID: 3, MessageID: "55", PatternID: 7}
	ok, err := New(store).ShouldNotify(ctx, &redelivered)
	if err != nil {
		t.Fatalf("redelivered: %v", err)
	}
	if ok {
		t.Fatal("expected redelivered match to be suppressed")
	}
}

func TestShouldNotifyConcurrent(t *testing.T) {
	ctx := context.Background()
	g := New(newTestStore(t))

	const callers = 10
	var wg sync.WaitGroup
	results := make(chan bool, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ev := model.MatchEvent{ChannelID: 9, MessageID: "1", PatternID: 1}
			ok, err := g.ShouldNotify(ctx, &ev)
			if err != nil {
				t.Errorf("notify: %v", err)
				return
			}
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	passed := 0
	for ok := range results {
		if ok {
			passed++
		}
	}
	if diff := cmp.Diff(1, passed); diff != "" {
		t.Errorf("concurrent winners (-want +got):\n%s", diff)
	}
}
