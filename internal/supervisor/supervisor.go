// Package supervisor keeps the monitoring session alive and on schedule.
package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// State is the lifecycle state of the supervised session.
type State string

// Session states.
const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateBackoff  State = "backoff"
)

// Restart policy defaults.
const (
	DefaultBackoffBase  = 5 * time.Second
	DefaultBackoffCap   = 5 * time.Minute
	DefaultHealthyAfter = time.Minute
)

// ErrAlreadyRunning is returned by Start when a session is active.
var ErrAlreadyRunning = errors.New("monitoring already running")

// Runner is one monitoring session. Run blocks until the session ends;
// a non-nil error marks the session as failed and triggers a restart.
type Runner interface {
	Run(ctx context.Context) error
}

// Status is a point-in-time snapshot of the supervised session.
type Status struct {
	State               State
	ConsecutiveFailures int
	NextRetryAt         time.Time
}

// Supervisor restarts a failing Runner with exponential backoff. A run
// that stays healthy long enough resets the failure count, so a flaky
// network pays the small delays and a persistent fault walks up to the cap.
type Supervisor struct {
	runner Runner
	log    *slog.Logger

	base         time.Duration
	cap          time.Duration
	healthyAfter time.Duration

	mu        sync.Mutex
	state     State
	failures  int
	nextRetry time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a Supervisor with the default restart policy.
func New(runner Runner, log *slog.Logger) *Supervisor {
	return &Supervisor{
		runner:       runner,
		log:          log,
		base:         DefaultBackoffBase,
		cap:          DefaultBackoffCap,
		healthyAfter: DefaultHealthyAfter,
		state:        StateStopped,
	}
}

// SetBackoffPolicy overrides the restart timing (useful for testing).
func (s *Supervisor) SetBackoffPolicy(base, cap, healthyAfter time.Duration) {
	s.base = base
	s.cap = cap
	s.healthyAfter = healthyAfter
}

// Start launches the supervised session. It returns ErrAlreadyRunning if
// one is active; the session itself runs in the background until it is
// stopped or its context ends.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateStopped {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.state = StateStarting
	s.failures = 0
	s.nextRetry = time.Time{}
	done := make(chan struct{})
	s.done = done
	s.mu.Unlock()

	go s.supervise(runCtx, done)
	return nil
}

// Stop ends the current session, or cancels a pending restart if the
// session is backing off. It blocks until the session has fully stopped.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Running reports whether a session is active (including backoff).
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != StateStopped
}

// Status returns a snapshot of the session state.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:               s.state,
		ConsecutiveFailures: s.failures,
		NextRetryAt:         s.nextRetry,
	}
}

func (s *Supervisor) supervise(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer s.setStopped()

	for {
		s.setState(StateRunning)
		started := time.Now()
		err := s.runner.Run(ctx)
		if ctx.Err() != nil {
			s.log.Info("monitoring stopped")
			return
		}
		if err == nil {
			s.log.Info("monitoring session ended")
			return
		}

		s.mu.Lock()
		if time.Since(started) >= s.healthyAfter {
			s.failures = 0
		}
		s.failures++
		delay := backoffDelay(s.base, s.cap, s.failures)
		s.state = StateBackoff
		s.nextRetry = time.Now().Add(delay)
		failures := s.failures
		s.mu.Unlock()

		s.log.Error("monitoring session failed, restarting",
			"error", err, "failures", failures, "retry_in", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info("restart cancelled during backoff")
			return
		case <-timer.C:
		}
	}
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	if st == StateRunning {
		s.nextRetry = time.Time{}
	}
	s.mu.Unlock()
}

func (s *Supervisor) setStopped() {
	s.mu.Lock()
	s.state = StateStopped
	s.nextRetry = time.Time{}
	s.cancel = nil
	s.mu.Unlock()
}

// backoffDelay doubles the base delay per consecutive failure up to cap.
func backoffDelay(base, cap time.Duration, failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	delay := base
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= cap {
			return cap
		}
	}
	if delay > cap {
		return cap
	}
	return delay
}
