package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"channel_monitor/internal/model"
	"channel_monitor/internal/storage"
)

// Scheduler gates the supervised session behind schedule windows. With no
// active windows monitoring is always-on; otherwise cron jobs open and
// close the session at the window edges. A manual disable sticks until
// re-enabled, regardless of window state.
type Scheduler struct {
	sup   *Supervisor
	store storage.Storage
	log   *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cron    *cron.Cron
	windows []model.ScheduleWindow
	enabled bool
}

// NewScheduler creates a Scheduler over the supervisor.
func NewScheduler(sup *Supervisor, store storage.Storage, log *slog.Logger) *Scheduler {
	return &Scheduler{sup: sup, store: store, log: log, enabled: true}
}

// Run loads the schedule, starts the session if it should be running now,
// and blocks until ctx is cancelled.
func (sch *Scheduler) Run(ctx context.Context) error {
	sch.mu.Lock()
	sch.ctx = ctx
	sch.mu.Unlock()

	if err := sch.Reload(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	sch.mu.Lock()
	c := sch.cron
	sch.cron = nil
	sch.mu.Unlock()
	if c != nil {
		c.Stop()
	}
	sch.sup.Stop()
	return nil
}

// Reload rebuilds the cron jobs from the stored schedule windows and
// reconciles the session with the current time.
func (sch *Scheduler) Reload(ctx context.Context) error {
	windows, err := sch.store.ListWindows(ctx, true)
	if err != nil {
		return fmt.Errorf("list schedule windows: %w", err)
	}

	c := cron.New()
	for _, w := range windows {
		w := w
		openSpec, err := cronSpec(w.StartTime, w.Days)
		if err != nil {
			return fmt.Errorf("window %q start: %w", w.Name, err)
		}
		// An overnight window closes on the day after it opens.
		closeDays := w.Days
		startMin, _ := minuteOfDay(w.StartTime)
		endMin, _ := minuteOfDay(w.EndTime)
		if endMin < startMin {
			closeDays = shiftDays(w.Days)
		}
		closeSpec, err := cronSpec(w.EndTime, closeDays)
		if err != nil {
			return fmt.Errorf("window %q end: %w", w.Name, err)
		}
		if _, err := c.AddFunc(openSpec, func() { sch.openWindow(w) }); err != nil {
			return fmt.Errorf("schedule window %q open: %w", w.Name, err)
		}
		if _, err := c.AddFunc(closeSpec, func() { sch.closeWindow(w) }); err != nil {
			return fmt.Errorf("schedule window %q close: %w", w.Name, err)
		}
	}

	sch.mu.Lock()
	old := sch.cron
	sch.cron = c
	sch.windows = windows
	sch.mu.Unlock()
	if old != nil {
		old.Stop()
	}
	c.Start()

	sch.reconcile()
	return nil
}

// Enable lifts a manual stop and starts the session if the schedule
// allows it right now.
func (sch *Scheduler) Enable() {
	sch.mu.Lock()
	sch.enabled = true
	sch.mu.Unlock()
	sch.reconcile()
}

// Disable stops the session and keeps it stopped until Enable.
func (sch *Scheduler) Disable() {
	sch.mu.Lock()
	sch.enabled = false
	sch.mu.Unlock()
	sch.sup.Stop()
}

// Restart bounces the running session so configuration changes take
// effect. A manually disabled or out-of-window session stays stopped.
func (sch *Scheduler) Restart() {
	sch.sup.Stop()
	sch.reconcile()
}

// SessionStatus returns the supervised session's status snapshot.
func (sch *Scheduler) SessionStatus() Status {
	return sch.sup.Status()
}

// Enabled reports whether monitoring is manually enabled.
func (sch *Scheduler) Enabled() bool {
	sch.mu.Lock()
	defer sch.mu.Unlock()
	return sch.enabled
}

// ShouldRunNow reports whether the schedule allows monitoring at t.
func (sch *Scheduler) ShouldRunNow(t time.Time) bool {
	sch.mu.Lock()
	defer sch.mu.Unlock()
	return withinAnyWindow(sch.windows, t)
}

func (sch *Scheduler) reconcile() {
	sch.mu.Lock()
	ctx := sch.ctx
	enabled := sch.enabled
	shouldRun := withinAnyWindow(sch.windows, time.Now())
	sch.mu.Unlock()
	if ctx == nil {
		return
	}

	if enabled && shouldRun {
		if err := sch.sup.Start(ctx); err != nil && !errors.Is(err, ErrAlreadyRunning) {
			sch.log.Error("start monitoring", "error", err)
		}
		return
	}
	sch.sup.Stop()
}

func (sch *Scheduler) openWindow(w model.ScheduleWindow) {
	sch.log.Info("schedule window opened", "window", w.Name)
	sch.reconcile()
}

func (sch *Scheduler) closeWindow(w model.ScheduleWindow) {
	sch.log.Info("schedule window closed", "window", w.Name)
	sch.reconcile()
}

// withinAnyWindow reports whether t falls inside some window. An empty
// window list means always-on. Windows whose end precedes their start
// span midnight; the start day owns the whole span.
func withinAnyWindow(windows []model.ScheduleWindow, t time.Time) bool {
	if len(windows) == 0 {
		return true
	}
	for _, w := range windows {
		ok, err := withinWindow(w, t)
		if err != nil {
			continue
		}
		if ok {
			return true
		}
	}
	return false
}

func withinWindow(w model.ScheduleWindow, t time.Time) (bool, error) {
	start, err := minuteOfDay(w.StartTime)
	if err != nil {
		return false, err
	}
	end, err := minuteOfDay(w.EndTime)
	if err != nil {
		return false, err
	}
	now := t.Hour()*60 + t.Minute()

	if start <= end {
		return dayEnabled(w.Days, t.Weekday()) && now >= start && now < end, nil
	}
	// Overnight span: the late part belongs to the previous day's window.
	if now >= start {
		return dayEnabled(w.Days, t.Weekday()), nil
	}
	if now < end {
		prev := (t.Weekday() + 6) % 7
		return dayEnabled(w.Days, prev), nil
	}
	return false, nil
}

func dayEnabled(days string, d time.Weekday) bool {
	if strings.TrimSpace(days) == "" {
		return true
	}
	for _, part := range strings.Split(days, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		if time.Weekday(n) == d {
			return true
		}
	}
	return false
}

func minuteOfDay(hhmm string) (int, error) {
	parts := strings.Split(strings.TrimSpace(hhmm), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q, want HH:MM", hhmm)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", hhmm)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", hhmm)
	}
	return h*60 + m, nil
}

// ValidateWindow checks that a schedule window has parseable times and
// weekdays before it is stored.
func ValidateWindow(w model.ScheduleWindow) error {
	if _, err := cronSpec(w.StartTime, w.Days); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	if _, err := cronSpec(w.EndTime, w.Days); err != nil {
		return fmt.Errorf("end: %w", err)
	}
	return nil
}

func shiftDays(days string) string {
	if strings.TrimSpace(days) == "" {
		return days
	}
	var parts []string
	for _, part := range strings.Split(days, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		parts = append(parts, strconv.Itoa((n+1)%7))
	}
	return strings.Join(parts, ",")
}

// cronSpec renders a window edge as a five-field cron expression.
func cronSpec(hhmm, days string) (string, error) {
	total, err := minuteOfDay(hhmm)
	if err != nil {
		return "", err
	}
	dow := "*"
	if strings.TrimSpace(days) != "" {
		var parts []string
		for _, part := range strings.Split(days, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil || n < 0 || n > 6 {
				return "", fmt.Errorf("invalid weekday %q", part)
			}
			parts = append(parts, strconv.Itoa(n))
		}
		dow = strings.Join(parts, ",")
	}
	return fmt.Sprintf("%d %d * * %s", total%60, total/60, dow), nil
}
