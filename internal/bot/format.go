package bot

import (
	"fmt"
	"strings"

	"channel_monitor/internal/model"
	"channel_monitor/internal/service"
	"channel_monitor/internal/supervisor"
)

const (
	statusActive = "active"
	statusPaused = "paused"
)

// FormatChannelList formats the watched channels for display.
func FormatChannelList(channels []model.Channel) string {
	if len(channels) == 0 {
		return "No channels yet. Use /watch <@channel|url> to add one."
	}
	var b strings.Builder
	b.WriteString("Watched channels:\n")
	for _, ch := range channels {
		status := statusActive
		if !ch.IsActive {
			status = statusPaused
		}
		name := ch.Title
		if name == "" {
			name = ch.ChannelID
		}
		fmt.Fprintf(&b, "\n#%d %s (%s) [%s]\n", ch.ID, name, ch.Kind, status)
		if ch.Title != "" {
			fmt.Fprintf(&b, "   %s\n", ch.ChannelID)
		}
	}
	return b.String()
}

// FormatPatternList formats the keyword rules for display.
func FormatPatternList(patterns []model.Pattern) string {
	if len(patterns) == 0 {
		return "No keywords yet. Use /addword or /addregex to add one."
	}
	var b strings.Builder
	b.WriteString("Keywords:\n")
	for _, p := range patterns {
		status := statusActive
		if !p.IsActive {
			status = statusPaused
		}
		kind := "word"
		if p.Kind == model.PatternRegex {
			kind = "regex"
		}
		fmt.Fprintf(&b, "\nP%d: %s (%s) [%s]\n", p.ID, p.Text, kind, status)
	}
	return b.String()
}

// FormatRecent formats the latest matches, newest first.
func FormatRecent(matches []model.MatchEvent) string {
	if len(matches) == 0 {
		return "No matches recorded yet."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Last %d match(es):\n", len(matches))
	for _, m := range matches {
		fmt.Fprintf(&b, "\n%s — %q\n", m.DetectedAt.Format("2006-01-02 15:04"), m.Snippet)
		if m.Link != "" {
			fmt.Fprintf(&b, "   %s\n", m.Link)
		}
	}
	return b.String()
}

// FormatStatus formats the session status summary.
func FormatStatus(st *service.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session: %s\n", st.Session.State)
	if st.Session.State == supervisor.StateBackoff {
		fmt.Fprintf(&b, "Next retry: %s\n", st.Session.NextRetryAt.Format("15:04:05"))
	}
	if st.Session.ConsecutiveFailures > 0 {
		fmt.Fprintf(&b, "Consecutive failures: %d\n", st.Session.ConsecutiveFailures)
	}
	if !st.Enabled {
		b.WriteString("Monitoring is disabled (use /monitor_on).\n")
	}
	fmt.Fprintf(&b, "Active channels: %d\n", st.Channels)
	fmt.Fprintf(&b, "Active keywords: %d\n", st.Patterns)
	fmt.Fprintf(&b, "Providers: %s\n", strings.Join(st.Providers, ", "))
	return b.String()
}

// FormatStats formats aggregate match statistics.
func FormatStats(s *model.Stats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Total matches: %d\n", s.TotalMatches)
	fmt.Fprintf(&b, "Matches today: %d\n", s.TodayMatches)
	if len(s.TopPatterns) > 0 {
		b.WriteString("\nTop keywords:\n")
		for _, nc := range s.TopPatterns {
			fmt.Fprintf(&b, "  %s: %d\n", nc.Name, nc.Count)
		}
	}
	if len(s.TopChannels) > 0 {
		b.WriteString("\nTop channels:\n")
		for _, nc := range s.TopChannels {
			fmt.Fprintf(&b, "  %s: %d\n", nc.Name, nc.Count)
		}
	}
	return b.String()
}

// FormatWindows formats the schedule windows for display.
func FormatWindows(windows []model.ScheduleWindow) string {
	if len(windows) == 0 {
		return "No schedule windows: monitoring is always on.\nUse /addwindow <name> <HH:MM> <HH:MM> [days] to add one."
	}
	var b strings.Builder
	b.WriteString("Schedule windows:\n")
	for _, w := range windows {
		days := w.Days
		if days == "" {
			days = "every day"
		}
		fmt.Fprintf(&b, "\nW%d %s: %s-%s (%s)\n", w.ID, w.Name, w.StartTime, w.EndTime, days)
	}
	return b.String()
}
