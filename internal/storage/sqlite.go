package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"channel_monitor/internal/model"
	"channel_monitor/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=OFF"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("disable foreign keys: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// CreateChannel inserts a new channel and populates its ID and CreatedAt.
func (s *SQLite) CreateChannel(ctx context.Context, ch *model.Channel) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO channels (channel_id, kind, title, is_active, cursor, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ch.ChannelID, string(ch.Kind), ch.Title, boolToInt(ch.IsActive), ch.Cursor, now, now,
	)
	if err != nil {
		return fmt.Errorf("insert channel: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	ch.ID = id
	ch.CreatedAt, _ = time.Parse(timeLayout, now)
	ch.UpdatedAt = ch.CreatedAt
	return nil
}

// GetChannel returns a single channel by its ID.
func (s *SQLite) GetChannel(ctx context.Context, id int64) (*model.Channel, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, channel_id, kind, title, is_active, cursor, created_at, updated_at
		 FROM channels WHERE id = ?`, id,
	)
	return scanChannel(row)
}

// ListChannels returns all channels, optionally only active ones.
func (s *SQLite) ListChannels(ctx context.Context, activeOnly bool) ([]model.Channel, error) {
	q := `SELECT id, channel_id, kind, title, is_active, cursor, created_at, updated_at
	      FROM channels`
	if activeOnly {
		q += ` WHERE is_active = 1`
	}
	q += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var channels []model.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, *ch)
	}
	return channels, rows.Err()
}

// SetChannelActive toggles a channel's active flag.
func (s *SQLite) SetChannelActive(ctx context.Context, id int64, active bool) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`UPDATE channels SET is_active = ?, updated_at = ? WHERE id = ?`,
		boolToInt(active), now, id,
	)
	if err != nil {
		return fmt.Errorf("set channel active: %w", err)
	}
	return nil
}

// UpdateChannelCursor records the last processed message for a channel.
func (s *SQLite) UpdateChannelCursor(ctx context.Context, id int64, cursor string) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`UPDATE channels SET cursor = ?, updated_at = ? WHERE id = ?`,
		cursor, now, id,
	)
	if err != nil {
		return fmt.Errorf("update channel cursor: %w", err)
	}
	return nil
}

// DeleteChannel removes a channel that has no stored match history.
// Channels with history return ErrChannelReferenced and must be
// deactivated instead.
func (s *SQLite) DeleteChannel(ctx context.Context, id int64) error {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM match_events WHERE channel_id = ?`, id,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("count channel matches: %w", err)
	}
	if count > 0 {
		return ErrChannelReferenced
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM channels WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}
	return nil
}

// CreatePattern inserts a new pattern and populates its ID and CreatedAt.
// Regex validity is the matcher's concern; storage accepts any text.
func (s *SQLite) CreatePattern(ctx context.Context, p *model.Pattern) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO patterns (text, kind, case_sensitive, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		p.Text, string(p.Kind), boolToInt(p.CaseSensitive), boolToInt(p.IsActive), now,
	)
	if err != nil {
		return fmt.Errorf("insert pattern: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	p.ID = id
	p.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetPattern returns a single pattern by its ID.
func (s *SQLite) GetPattern(ctx context.Context, id int64) (*model.Pattern, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, text, kind, case_sensitive, is_active, created_at
		 FROM patterns WHERE id = ?`, id,
	)
	return scanPattern(row)
}

// ListPatterns returns all patterns, optionally only active ones.
func (s *SQLite) ListPatterns(ctx context.Context, activeOnly bool) ([]model.Pattern, error) {
	q := `SELECT id, text, kind, case_sensitive, is_active, created_at FROM patterns`
	if activeOnly {
		q += ` WHERE is_active = 1`
	}
	q += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query patterns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var patterns []model.Pattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, *p)
	}
	return patterns, rows.Err()
}

// SetPatternActive toggles a pattern's active flag.
func (s *SQLite) SetPatternActive(ctx context.Context, id int64, active bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE patterns SET is_active = ? WHERE id = ?`, boolToInt(active), id,
	)
	if err != nil {
		return fmt.Errorf("set pattern active: %w", err)
	}
	return nil
}

// DeletePattern removes a pattern by its ID.
func (s *SQLite) DeletePattern(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM patterns WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete pattern: %w", err)
	}
	return nil
}

// InsertMatchIfAbsent inserts a match event keyed by its dedup key.
// The unique constraint on dedup_key makes concurrent duplicate inserts
// resolve to exactly one winner.
func (s *SQLite) InsertMatchIfAbsent(ctx context.Context, ev *model.MatchEvent) (bool, error) {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO match_events
		 (channel_id, message_id, pattern_id, snippet, link, dedup_key, detected_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ChannelID, ev.MessageID, ev.PatternID, ev.Snippet, ev.Link, ev.DedupKey, now,
	)
	if err != nil {
		return false, fmt.Errorf("insert match: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("last insert id: %w", err)
	}
	ev.ID = id
	ev.DetectedAt, _ = time.Parse(timeLayout, now)
	return true, nil
}

// ListMatches returns the most recent match events, newest first.
func (s *SQLite) ListMatches(ctx context.Context, limit int) ([]model.MatchEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel_id, message_id, pattern_id, snippet, link, dedup_key, detected_at
		 FROM match_events ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query matches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []model.MatchEvent
	for rows.Next() {
		var ev model.MatchEvent
		var detected string
		err := rows.Scan(&ev.ID, &ev.ChannelID, &ev.MessageID, &ev.PatternID,
			&ev.Snippet, &ev.Link, &ev.DedupKey, &detected)
		if err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		ev.DetectedAt, _ = time.Parse(timeLayout, detected)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Stats returns aggregate counters over the stored match history.
func (s *SQLite) Stats(ctx context.Context) (*model.Stats, error) {
	st := &model.Stats{}

	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM match_events`).Scan(&st.TotalMatches)
	if err != nil {
		return nil, fmt.Errorf("count matches: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM match_events WHERE DATE(detected_at) = DATE('now')`,
	).Scan(&st.TodayMatches)
	if err != nil {
		return nil, fmt.Errorf("count today matches: %w", err)
	}

	st.TopPatterns, err = s.topCounts(ctx,
		`SELECT p.text, COUNT(*) AS cnt FROM match_events m
		 JOIN patterns p ON p.id = m.pattern_id
		 GROUP BY m.pattern_id ORDER BY cnt DESC LIMIT 10`)
	if err != nil {
		return nil, err
	}

	st.TopChannels, err = s.topCounts(ctx,
		`SELECT c.title, COUNT(*) AS cnt FROM match_events m
		 JOIN channels c ON c.id = m.channel_id
		 GROUP BY m.channel_id ORDER BY cnt DESC LIMIT 10`)
	if err != nil {
		return nil, err
	}

	return st, nil
}

func (s *SQLite) topCounts(ctx context.Context, query string) ([]model.NamedCount, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var counts []model.NamedCount
	for rows.Next() {
		var nc model.NamedCount
		if err := rows.Scan(&nc.Name, &nc.Count); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		counts = append(counts, nc)
	}
	return counts, rows.Err()
}

// CreateAttempt inserts a notification attempt and populates its ID.
func (s *SQLite) CreateAttempt(ctx context.Context, a *model.NotificationAttempt) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO notification_attempts (match_id, provider, status, attempts, last_error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.MatchID, a.Provider, string(a.Status), a.Attempts, a.LastError, now, now,
	)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	a.ID = id
	a.CreatedAt, _ = time.Parse(timeLayout, now)
	a.UpdatedAt = a.CreatedAt
	return nil
}

// UpdateAttempt persists the status, attempt count, and last error of an attempt.
func (s *SQLite) UpdateAttempt(ctx context.Context, a *model.NotificationAttempt) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`UPDATE notification_attempts SET status = ?, attempts = ?, last_error = ?, updated_at = ?
		 WHERE id = ?`,
		string(a.Status), a.Attempts, a.LastError, now, a.ID,
	)
	if err != nil {
		return fmt.Errorf("update attempt: %w", err)
	}
	a.UpdatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// ListAttempts returns all attempts recorded for a match event.
func (s *SQLite) ListAttempts(ctx context.Context, matchID int64) ([]model.NotificationAttempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, match_id, provider, status, attempts, last_error, created_at, updated_at
		 FROM notification_attempts WHERE match_id = ? ORDER BY id`, matchID,
	)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var attempts []model.NotificationAttempt
	for rows.Next() {
		var a model.NotificationAttempt
		var status, created, updated string
		err := rows.Scan(&a.ID, &a.MatchID, &a.Provider, &status, &a.Attempts,
			&a.LastError, &created, &updated)
		if err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Status = model.AttemptStatus(status)
		a.CreatedAt, _ = time.Parse(timeLayout, created)
		a.UpdatedAt, _ = time.Parse(timeLayout, updated)
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// CreateWindow inserts a schedule window and populates its ID.
func (s *SQLite) CreateWindow(ctx context.Context, w *model.ScheduleWindow) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO schedule_windows (name, start_time, end_time, days, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		w.Name, w.StartTime, w.EndTime, w.Days, boolToInt(w.IsActive), now,
	)
	if err != nil {
		return fmt.Errorf("insert window: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	w.ID = id
	w.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// ListWindows returns all schedule windows, optionally only active ones.
func (s *SQLite) ListWindows(ctx context.Context, activeOnly bool) ([]model.ScheduleWindow, error) {
	q := `SELECT id, name, start_time, end_time, days, is_active, created_at FROM schedule_windows`
	if activeOnly {
		q += ` WHERE is_active = 1`
	}
	q += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query windows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var windows []model.ScheduleWindow
	for rows.Next() {
		var w model.ScheduleWindow
		var isActive int
		var created string
		err := rows.Scan(&w.ID, &w.Name, &w.StartTime, &w.EndTime, &w.Days, &isActive, &created)
		if err != nil {
			return nil, fmt.Errorf("scan window: %w", err)
		}
		w.IsActive = isActive == 1
		w.CreatedAt, _ = time.Parse(timeLayout, created)
		windows = append(windows, w)
	}
	return windows, rows.Err()
}

// DeleteWindow removes a schedule window by its ID.
func (s *SQLite) DeleteWindow(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM schedule_windows WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete window: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scannable interface {
	Scan(dest ...any) error
}

func scanChannel(row scannable) (*model.Channel, error) {
	var ch model.Channel
	var kind string
	var isActive int
	var created, updated sql.NullString
	err := row.Scan(&ch.ID, &ch.ChannelID, &kind, &ch.Title, &isActive, &ch.Cursor, &created, &updated)
	if err != nil {
		return nil, fmt.Errorf("scan channel: %w", err)
	}
	ch.Kind = model.ChannelKind(kind)
	ch.IsActive = isActive == 1
	if created.Valid {
		ch.CreatedAt, _ = time.Parse(timeLayout, created.String)
	}
	if updated.Valid {
		ch.UpdatedAt, _ = time.Parse(timeLayout, updated.String)
	}
	return &ch, nil
}

func scanPattern(row scannable) (*model.Pattern, error) {
	var p model.Pattern
	var kind, created string
	var caseSensitive, isActive int
	err := row.Scan(&p.ID, &p.Text, &kind, &caseSensitive, &isActive, &created)
	if err != nil {
		return nil, fmt.Errorf("scan pattern: %w", err)
	}
	p.Kind = model.PatternKind(kind)
	p.CaseSensitive = caseSensitive == 1
	p.IsActive = isActive == 1
	p.CreatedAt, _ = time.Parse(timeLayout, created)
	return &p, nil
}
