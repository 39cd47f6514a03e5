// Package countdown implements the wall-clock countdown to a session deadline.
package countdown

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-composer/internal/observe"
	"github.com/stemsi/exstem-composer/internal/timefmt"
)

// Timer recomputes the seconds left before a deadline every interval and
// calls its expiry callback once when the deadline is reached.
type Timer struct {
	mu        sync.Mutex
	deadline  time.Time
	remaining int64
	known     bool
	running   bool
	stop      chan struct{}
	// fired is reset whenever the deadline changes.
	fired bool

	onTimeDone func()
	now        func() time.Time
	interval   time.Duration
	log        zerolog.Logger
	notifier   *observe.Notifier
}

// Option customizes a Timer.
type Option func(*Timer)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Timer) { t.now = now }
}

// WithInterval replaces the one second tick.
func WithInterval(d time.Duration) Option {
	return func(t *Timer) { t.interval = d }
}

// WithNotifier publishes remaining-time changes.
func WithNotifier(n *observe.Notifier) Option {
	return func(t *Timer) { t.notifier = n }
}

// New creates a stopped Timer without deadline.
func New(onTimeDone func(), log zerolog.Logger, opts ...Option) *Timer {
	t := &Timer{
		onTimeDone: onTimeDone,
		now:        time.Now,
		interval:   time.Second,
		log:        log.With().Str("component", "countdown").Logger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetOnTimeDone replaces the expiry callback.
func (t *Timer) SetOnTimeDone(fn func()) {
	t.mu.Lock()
	t.onTimeDone = fn
	t.mu.Unlock()
}

// Deadline returns the current deadline, zero when unset.
func (t *Timer) Deadline() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deadline
}

// SetDeadline replaces the deadline and recomputes the remaining time at
// once. A zero deadline clears it. A deadline already past fires the expiry
// callback (once) and stops the timer.
func (t *Timer) SetDeadline(deadline time.Time) {
	t.mu.Lock()
	if !deadline.Equal(t.deadline) {
		t.fired = false
	}
	t.deadline = deadline
	expired := t.recomputeLocked()
	fire := t.expireLocked(expired)
	cb := t.onTimeDone
	t.mu.Unlock()

	t.publish()
	if fire && cb != nil {
		cb()
	}
}

// Start begins the periodic recomputation. It is a logged no-op when the
// timer already runs or no deadline is set.
func (t *Timer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		t.log.Warn().Msg("Timer already running, cannot start again")
		return
	}
	if t.deadline.IsZero() {
		t.log.Warn().Msg("Deadline not set, cannot start timer")
		return
	}

	t.running = true
	t.stop = make(chan struct{})
	go t.loop(t.stop)
}

// Stop halts the recomputation. It never blocks and may be called from the
// expiry callback.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		t.log.Warn().Msg("Timer not running, cannot stop")
		return
	}
	t.stopLocked()
}

// Running reports whether the periodic recomputation is active.
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Remaining returns the seconds left, false when no deadline is set.
func (t *Timer) Remaining() (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining, t.known
}

// Formatted renders the remaining time as HH:MM:SS, or timefmt.Unknown
// without deadline.
func (t *Timer) Formatted() string {
	sec, known := t.Remaining()
	if !known {
		return timefmt.Unknown
	}
	return timefmt.FormatClock(sec)
}

func (t *Timer) loop(stop chan struct{}) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.tick()
		}
	}
}

func (t *Timer) tick() {
	t.mu.Lock()
	expired := t.recomputeLocked()
	fire := t.expireLocked(expired)
	cb := t.onTimeDone
	t.mu.Unlock()

	t.publish()
	if fire && cb != nil {
		cb()
	}
}

// recomputeLocked updates the remaining seconds and reports whether the
// deadline is reached.
func (t *Timer) recomputeLocked() bool {
	if t.deadline.IsZero() {
		t.known = false
		t.remaining = 0
		return false
	}
	t.known = true
	t.remaining = int64(math.Floor(t.deadline.Sub(t.now()).Seconds()))
	return t.remaining <= 0
}

// expireLocked stops the timer on expiry and reports whether the callback
// is due.
func (t *Timer) expireLocked(expired bool) bool {
	if !expired {
		return false
	}
	if t.running {
		t.stopLocked()
	}
	if t.fired {
		return false
	}
	t.fired = true
	return true
}

func (t *Timer) stopLocked() {
	close(t.stop)
	t.stop = nil
	t.running = false
}

func (t *Timer) publish() {
	t.notifier.Publish(observe.Change{Topic: observe.TopicTimer, Field: "remaining"})
}
