// Package dedup decides first-occurrence vs repeat for match candidates.
package dedup

import (
	"context"
	"fmt"

	"channel_monitor/internal/model"
	"channel_monitor/internal/storage"
)

// Guard suppresses repeat notifications for the same match. It is backed
// by the store's unique dedup-key constraint, so the decision is atomic
// across concurrent callers and durable across process restarts.
type Guard struct {
	store storage.Storage
}

// New creates a Guard over the given store.
func New(store storage.Storage) *Guard {
	return &Guard{store: store}
}

// ShouldNotify attempts to record the match event. True means this is the
// first occurrence and the caller should proceed (ev.ID is populated);
// false means an identical match was already recorded.
func (g *Guard) ShouldNotify(ctx context.Context, ev *model.MatchEvent) (bool, error) {
	if ev.DedupKey == "" {
		ev.DedupKey = model.DedupKey(ev.ChannelID, ev.MessageID, ev.PatternID)
	}
	inserted, err := g.store.InsertMatchIfAbsent(ctx, ev)
	if err != nil {
		return false, fmt.Errorf("record match: %w", err)
	}
	return inserted, nil
}
