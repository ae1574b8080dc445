// Package service exposes the management operations behind the bot surface.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"channel_monitor/internal/matcher"
	"channel_monitor/internal/model"
	"channel_monitor/internal/storage"
	"channel_monitor/internal/supervisor"
)

// ErrInvalidInput marks a request the caller can fix.
var ErrInvalidInput = errors.New("invalid input")

// Status summarizes the whole system for operators.
type Status struct {
	Session   supervisor.Status
	Enabled   bool
	Channels  int
	Patterns  int
	Providers []string
}

// Service coordinates storage, the rule snapshot, and the session
// scheduler. Configuration changes apply to the live session where they
// can (pattern changes swap the snapshot) and bounce it where they
// cannot (channel subscription changes).
type Service struct {
	store     storage.Storage
	rules     *matcher.Matcher
	scheduler *supervisor.Scheduler
	providers []string
	log       *slog.Logger
}

// New creates a Service.
func New(store storage.Storage, rules *matcher.Matcher, scheduler *supervisor.Scheduler, providers []string, log *slog.Logger) *Service {
	return &Service{store: store, rules: rules, scheduler: scheduler, providers: providers, log: log}
}

// AddChannel registers a new channel and bounces the session so the
// listener picks it up.
func (s *Service) AddChannel(ctx context.Context, channelID string, kind model.ChannelKind, title string) (*model.Channel, error) {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return nil, fmt.Errorf("%w: empty channel id", ErrInvalidInput)
	}
	switch kind {
	case model.ChannelTelegram, model.ChannelFeed:
	default:
		return nil, fmt.Errorf("%w: unknown channel kind %q", ErrInvalidInput, kind)
	}

	ch := &model.Channel{ChannelID: channelID, Kind: kind, Title: title, IsActive: true}
	if err := s.store.CreateChannel(ctx, ch); err != nil {
		return nil, fmt.Errorf("create channel: %w", err)
	}
	s.log.Info("channel added", "channel", channelID, "kind", kind)
	s.scheduler.Restart()
	return ch, nil
}

// RemoveChannel deletes a channel without match history, and deactivates
// one that has history so stored matches keep their reference.
func (s *Service) RemoveChannel(ctx context.Context, id int64) (deleted bool, err error) {
	err = s.store.DeleteChannel(ctx, id)
	switch {
	case err == nil:
		deleted = true
	case errors.Is(err, storage.ErrChannelReferenced):
		if err = s.store.SetChannelActive(ctx, id, false); err != nil {
			return false, fmt.Errorf("deactivate channel: %w", err)
		}
	default:
		return false, fmt.Errorf("delete channel: %w", err)
	}
	s.log.Info("channel removed", "id", id, "deleted", deleted)
	s.scheduler.Restart()
	return deleted, nil
}

// SetChannelActive toggles a channel and bounces the session.
func (s *Service) SetChannelActive(ctx context.Context, id int64, active bool) error {
	if err := s.store.SetChannelActive(ctx, id, active); err != nil {
		return fmt.Errorf("toggle channel: %w", err)
	}
	s.scheduler.Restart()
	return nil
}

// ListChannels returns all configured channels.
func (s *Service) ListChannels(ctx context.Context) ([]model.Channel, error) {
	return s.store.ListChannels(ctx, false)
}

// AddPattern stores a new rule and publishes it into the live snapshot.
// Invalid regular expressions are rejected before anything is stored.
func (s *Service) AddPattern(ctx context.Context, text string, kind model.PatternKind, caseSensitive bool) (*model.Pattern, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty pattern", ErrInvalidInput)
	}
	switch kind {
	case model.PatternLiteral, model.PatternRegex:
	default:
		return nil, fmt.Errorf("%w: unknown pattern kind %q", ErrInvalidInput, kind)
	}

	p := model.Pattern{Text: text, Kind: kind, CaseSensitive: caseSensitive, IsActive: true}
	if err := matcher.Validate(p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := s.store.CreatePattern(ctx, &p); err != nil {
		return nil, fmt.Errorf("create pattern: %w", err)
	}
	if err := s.rules.Add(p); err != nil {
		return nil, fmt.Errorf("publish pattern: %w", err)
	}
	s.log.Info("pattern added", "pattern", text, "kind", kind)
	return &p, nil
}

// RemovePattern deletes a rule and drops it from the live snapshot.
// Match history referencing the pattern is kept.
func (s *Service) RemovePattern(ctx context.Context, id int64) error {
	if err := s.store.DeletePattern(ctx, id); err != nil {
		return fmt.Errorf("delete pattern: %w", err)
	}
	s.rules.Remove(id)
	s.log.Info("pattern removed", "id", id)
	return nil
}

// SetPatternActive toggles a rule and rebuilds the snapshot from storage.
func (s *Service) SetPatternActive(ctx context.Context, id int64, active bool) error {
	if err := s.store.SetPatternActive(ctx, id, active); err != nil {
		return fmt.Errorf("toggle pattern: %w", err)
	}
	return s.reloadRules(ctx)
}

// ListPatterns returns all configured rules.
func (s *Service) ListPatterns(ctx context.Context) ([]model.Pattern, error) {
	return s.store.ListPatterns(ctx, false)
}

func (s *Service) reloadRules(ctx context.Context) error {
	patterns, err := s.store.ListPatterns(ctx, true)
	if err != nil {
		return fmt.Errorf("list patterns: %w", err)
	}
	if err := s.rules.Load(patterns); err != nil {
		return fmt.Errorf("load patterns: %w", err)
	}
	return nil
}

// RecentMatches returns the latest stored matches, newest first.
func (s *Service) RecentMatches(ctx context.Context, limit int) ([]model.MatchEvent, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.store.ListMatches(ctx, limit)
}

// Attempts returns the delivery attempts recorded for a match.
func (s *Service) Attempts(ctx context.Context, matchID int64) ([]model.NotificationAttempt, error) {
	return s.store.ListAttempts(ctx, matchID)
}

// Stats returns aggregate match statistics.
func (s *Service) Stats(ctx context.Context) (*model.Stats, error) {
	return s.store.Stats(ctx)
}

// Status reports the session state and configuration counts.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	channels, err := s.store.ListChannels(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	patterns, err := s.store.ListPatterns(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	return &Status{
		Session:   s.scheduler.SessionStatus(),
		Enabled:   s.scheduler.Enabled(),
		Channels:  len(channels),
		Patterns:  len(patterns),
		Providers: s.providers,
	}, nil
}

// EnableMonitoring lifts a manual stop.
func (s *Service) EnableMonitoring() {
	s.scheduler.Enable()
	s.log.Info("monitoring enabled")
}

// DisableMonitoring stops the session until EnableMonitoring.
func (s *Service) DisableMonitoring() {
	s.scheduler.Disable()
	s.log.Info("monitoring disabled")
}

// AddWindow stores a schedule window and reloads the schedule.
func (s *Service) AddWindow(ctx context.Context, w model.ScheduleWindow) (*model.ScheduleWindow, error) {
	if err := supervisor.ValidateWindow(w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	w.IsActive = true
	if err := s.store.CreateWindow(ctx, &w); err != nil {
		return nil, fmt.Errorf("create window: %w", err)
	}
	if err := s.scheduler.Reload(ctx); err != nil {
		return nil, fmt.Errorf("reload schedule: %w", err)
	}
	s.log.Info("schedule window added", "window", w.Name)
	return &w, nil
}

// ListWindows returns the active schedule windows.
func (s *Service) ListWindows(ctx context.Context) ([]model.ScheduleWindow, error) {
	return s.store.ListWindows(ctx, true)
}

// RemoveWindow deletes a schedule window and reloads the schedule.
func (s *Service) RemoveWindow(ctx context.Context, id int64) error {
	if err := s.store.DeleteWindow(ctx, id); err != nil {
		return fmt.Errorf("delete window: %w", err)
	}
	if err := s.scheduler.Reload(ctx); err != nil {
		return fmt.Errorf("reload schedule: %w", err)
	}
	return nil
}
