// Package notify fans confirmed matches out to notification providers.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/semaphore"

	"channel_monitor/internal/model"
	"channel_monitor/internal/storage"
)

// ErrPermanent marks a delivery failure that retrying cannot fix, such as
// a malformed destination. Providers wrap it to short-circuit the retry
// budget and flag themselves misconfigured for future matches.
var ErrPermanent = errors.New("permanent delivery failure")

// Message is the provider-agnostic notification payload built from a match.
type Message struct {
	Channel    string
	Pattern    string
	Snippet    string
	Body       string
	Link       string
	DetectedAt time.Time
}

// Provider is a notification destination. Implementations must be safe
// for concurrent use; Send is called from dispatch goroutines.
type Provider interface {
	Name() string
	Configured() bool
	Send(ctx context.Context, msg Message) error
}

// Dispatcher delivers each match to every enabled provider independently.
// One provider's failures or retries never delay another's attempts.
type Dispatcher struct {
	store       storage.Storage
	log         *slog.Logger
	providers   []Provider
	sem         *semaphore.Weighted
	maxAttempts int
	baseDelay   time.Duration

	mu      sync.Mutex
	flagged map[string]bool
}

// NewDispatcher builds a dispatcher over the configured providers.
// Misconfigured providers are reported once and never attempted.
func NewDispatcher(store storage.Storage, maxInflight int64, log *slog.Logger, providers ...Provider) *Dispatcher {
	if maxInflight < 1 {
		maxInflight = 1
	}
	d := &Dispatcher{
		store:       store,
		log:         log,
		sem:         semaphore.NewWeighted(maxInflight),
		maxAttempts: 3,
		baseDelay:   time.Second,
		flagged:     make(map[string]bool),
	}
	for _, p := range providers {
		if !p.Configured() {
			log.Warn("notification provider not configured, skipped", "provider", p.Name())
			continue
		}
		d.providers = append(d.providers, p)
		log.Info("notification provider enabled", "provider", p.Name())
	}
	return d
}

// SetRetryPolicy overrides the attempt ceiling and base backoff delay
// (useful for testing).
func (d *Dispatcher) SetRetryPolicy(maxAttempts int, baseDelay time.Duration) {
	if maxAttempts > 0 {
		d.maxAttempts = maxAttempts
	}
	if baseDelay > 0 {
		d.baseDelay = baseDelay
	}
}

// Providers returns the names of the enabled providers.
func (d *Dispatcher) Providers() []string {
	names := make([]string, 0, len(d.providers))
	for _, p := range d.providers {
		names = append(names, p.Name())
	}
	return names
}

// Dispatch sends the message to every enabled provider and returns the
// per-provider outcome once all attempts have settled.
func (d *Dispatcher) Dispatch(ctx context.Context, matchID int64, msg Message) map[string]model.AttemptStatus {
	results := make(map[string]model.AttemptStatus, len(d.providers))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, p := range d.providers {
		if d.isFlagged(p.Name()) {
			d.log.Debug("provider flagged misconfigured, skipped", "provider", p.Name())
			continue
		}
		wg.Add(1)
		go func(p Provider) {
			defer wg.Done()
			status := d.deliver(ctx, p, matchID, msg)
			mu.Lock()
			results[p.Name()] = status
			mu.Unlock()
		}(p)
	}

	wg.Wait()
	return results
}

// deliver runs the retry loop for one provider and records the attempt row.
func (d *Dispatcher) deliver(ctx context.Context, p Provider, matchID int64, msg Message) model.AttemptStatus {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		d.log.Warn("dispatch cancelled before send", "provider", p.Name(), "match_id", matchID)
		return model.AttemptPending
	}
	defer d.sem.Release(1)

	attempt := &model.NotificationAttempt{
		MatchID:  matchID,
		Provider: p.Name(),
		Status:   model.AttemptPending,
	}
	if err := d.store.CreateAttempt(ctx, attempt); err != nil {
		d.log.Error("record attempt", "provider", p.Name(), "match_id", matchID, "error", err)
		return model.AttemptPending
	}

	backoff := retry.WithMaxRetries(uint64(d.maxAttempts-1), retry.NewExponential(d.baseDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt.Attempts++
		sendErr := p.Send(ctx, msg)
		if sendErr == nil {
			return nil
		}
		attempt.LastError = sendErr.Error()
		if errors.Is(sendErr, ErrPermanent) {
			return sendErr
		}
		attempt.Status = model.AttemptFailedTransient
		if uerr := d.store.UpdateAttempt(ctx, attempt); uerr != nil {
			d.log.Error("update attempt", "provider", p.Name(), "error", uerr)
		}
		return retry.RetryableError(sendErr)
	})

	if err == nil {
		attempt.Status = model.AttemptSent
		attempt.LastError = ""
	} else {
		attempt.Status = model.AttemptFailedPermanent
		if errors.Is(err, ErrPermanent) {
			d.flag(p.Name())
			d.log.Error("provider misconfigured, disabled for future matches",
				"provider", p.Name(), "error", err)
		} else {
			d.log.Warn("provider exhausted retry budget",
				"provider", p.Name(), "match_id", matchID, "attempts", attempt.Attempts, "error", err)
		}
	}

	if uerr := d.store.UpdateAttempt(ctx, attempt); uerr != nil {
		d.log.Error("update attempt", "provider", p.Name(), "error", uerr)
	}
	if attempt.Status == model.AttemptSent {
		d.log.Info("notification sent", "provider", p.Name(), "match_id", matchID)
	}
	return attempt.Status
}

func (d *Dispatcher) isFlagged(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.flagged[name]
}

func (d *Dispatcher) flag(name string) {
	d.mu.Lock()
	d.flagged[name] = true
	d.mu.Unlock()
}

// BuildMessage assembles the notification payload from a match event and
// the entities it references.
func BuildMessage(ev *model.MatchEvent, channelTitle, patternText, body string) Message {
	return Message{
		Channel:    channelTitle,
		Pattern:    patternText,
		Snippet:    ev.Snippet,
		Body:       body,
		Link:       ev.Link,
		DetectedAt: ev.DetectedAt,
	}
}

// FormatText renders the payload as a plain-text notification.
func FormatText(m Message) string {
	s := fmt.Sprintf("Keyword found: %s\nChannel: %s\n\n%s", m.Pattern, m.Channel, m.Body)
	if m.Link != "" {
		s += "\n\n" + m.Link
	}
	return s
}
