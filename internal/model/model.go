// Package model defines the domain types used across the application.
package model

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// ChannelKind defines how a subscription's messages are obtained.
type ChannelKind string

// Supported channel kinds.
const (
	ChannelTelegram ChannelKind = "telegram"
	ChannelFeed     ChannelKind = "feed"
)

// Channel represents a monitored message source.
// For telegram channels ChannelID is the numeric chat ID or @username;
// for feed channels it is the feed URL.
type Channel struct {
	ID        int64
	ChannelID string
	Kind      ChannelKind
	Title     string
	IsActive  bool
	Cursor    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PatternKind defines the type of a matching rule.
type PatternKind string

// Supported pattern kinds.
const (
	PatternLiteral PatternKind = "literal"
	PatternRegex   PatternKind = "regex"
)

// Pattern represents a single keyword or regular-expression rule.
// The compiled form is held only by the matcher snapshot, never stored.
type Pattern struct {
	ID            int64
	Text          string
	Kind          PatternKind
	CaseSensitive bool
	IsActive      bool
	CreatedAt     time.Time
}

// Message is a normalized inbound message from any channel source.
type Message struct {
	ChannelID  int64
	MessageID  string
	Text       string
	Link       string
	ReceivedAt time.Time
}

// MatchEvent records a message satisfying a pattern.
type MatchEvent struct {
	ID         int64
	ChannelID  int64
	MessageID  string
	PatternID  int64
	Snippet    string
	Link       string
	DedupKey   string
	DetectedAt time.Time
}

// DedupKey derives the deterministic key that makes a
// (channel, message, pattern) match unique across restarts.
func DedupKey(channelID int64, messageID string, patternID int64) string {
	h := sha256.Sum256(fmt.Appendf(nil, "%d|%s|%d", channelID, messageID, patternID))
	return fmt.Sprintf("%x", h[:16])
}

// AttemptStatus is the lifecycle state of one notification attempt.
type AttemptStatus string

// Notification attempt states.
const (
	AttemptPending         AttemptStatus = "pending"
	AttemptSent            AttemptStatus = "sent"
	AttemptFailedTransient AttemptStatus = "failed_transient"
	AttemptFailedPermanent AttemptStatus = "failed_permanent"
)

// NotificationAttempt tracks delivery of one match to one provider.
type NotificationAttempt struct {
	ID        int64
	MatchID   int64
	Provider  string
	Status    AttemptStatus
	Attempts  int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ScheduleWindow is a daily time-of-day interval during which monitoring
// runs. With no active windows stored, monitoring is always-on; a stored
// window always carries both edges in "HH:MM" form.
type ScheduleWindow struct {
	ID        int64
	Name      string
	StartTime string // "HH:MM", local time
	EndTime   string // "HH:MM", local time
	Days      string // comma-separated weekdays, 0=Sunday; empty = every day
	IsActive  bool
	CreatedAt time.Time
}

// Stats is an aggregate summary over stored match history.
type Stats struct {
	TotalMatches int
	TodayMatches int
	TopPatterns  []NamedCount
	TopChannels  []NamedCount
}

// NamedCount pairs a label with an occurrence count.
type NamedCount struct {
	Name  string
	Count int
}
