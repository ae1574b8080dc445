// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"

	"channel_monitor/internal/model"
)

// ErrChannelReferenced is returned when deleting a channel that still has
// stored match history; such channels can only be deactivated.
var ErrChannelReferenced = errors.New("channel referenced by match history")

// Storage is the interface for all persistence operations.
type Storage interface {
	CreateChannel(ctx context.Context, ch *model.Channel) error
	GetChannel(ctx context.Context, id int64) (*model.Channel, error)
	ListChannels(ctx context.Context, activeOnly bool) ([]model.Channel, error)
	SetChannelActive(ctx context.Context, id int64, active bool) error
	UpdateChannelCursor(ctx context.Context, id int64, cursor string) error
	DeleteChannel(ctx context.Context, id int64) error

	CreatePattern(ctx context.Context, p *model.Pattern) error
	GetPattern(ctx context.Context, id int64) (*model.Pattern, error)
	ListPatterns(ctx context.Context, activeOnly bool) ([]model.Pattern, error)
	SetPatternActive(ctx context.Context, id int64, active bool) error
	DeletePattern(ctx context.Context, id int64) error

	// InsertMatchIfAbsent records a match event unless one with the same
	// dedup key already exists. It reports whether the row was inserted,
	// which doubles as the first-occurrence decision for notifications.
	InsertMatchIfAbsent(ctx context.Context, ev *model.MatchEvent) (bool, error)
	ListMatches(ctx context.Context, limit int) ([]model.MatchEvent, error)
	Stats(ctx context.Context) (*model.Stats, error)

	CreateAttempt(ctx context.Context, a *model.NotificationAttempt) error
	UpdateAttempt(ctx context.Context, a *model.NotificationAttempt) error
	ListAttempts(ctx context.Context, matchID int64) ([]model.NotificationAttempt, error)

	CreateWindow(ctx context.Context, w *model.ScheduleWindow) error
	ListWindows(ctx context.Context, activeOnly bool) ([]model.ScheduleWindow, error)
	DeleteWindow(ctx context.Context, id int64) error

	Close() error
}
