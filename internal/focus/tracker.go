// Package focus detects focus losses during a composition and reports the
// long ones as LostFocus audit actions.
package focus

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-composer/internal/model"
	"github.com/stemsi/exstem-composer/internal/observe"
)

// Threshold is the shortest focus loss that gets reported.
const Threshold = 4 * time.Second

const defaultReportTimeout = 30 * time.Second

// Reporter receives LostFocus actions.
type Reporter interface {
	ReportLostFocus(ctx context.Context, a model.LostFocus) error
}

// Record is an open or closed focus loss.
type Record struct {
	QuestionID       *int
	Start            time.Time
	StartEventTS     time.Duration
	PageHidden       bool
	End              time.Time
	EndEventTS       time.Duration
	Duration         time.Duration
	DurationComputed bool
}

func (r *Record) close(ev Event, now time.Time) {
	r.End = now
	r.EndEventTS = ev.Timestamp
	if r.StartEventTS > 0 && r.EndEventTS > 0 {
		r.Duration = r.EndEventTS - r.StartEventTS
	} else {
		r.Duration = r.End.Sub(r.Start)
	}
	r.DurationComputed = true
}

func (r *Record) aboveThreshold() bool {
	return r.DurationComputed && r.Duration >= Threshold
}

func (r *Record) action() model.LostFocus {
	return model.LostFocus{
		QuestionIdx:     r.QuestionID,
		Timestamp:       r.Start,
		ReturnTimestamp: r.End,
		DurationSeconds: int(math.Round(r.Duration.Seconds())),
		PageHidden:      r.PageHidden,
	}
}

// Tracker turns blur/visibility/focus sequences into LostFocus reports.
type Tracker struct {
	mu          sync.Mutex
	questionID  *int
	current     *Record
	unsubscribe func()

	source        Source
	reporter      Reporter
	log           zerolog.Logger
	now           func() time.Time
	reportTimeout time.Duration
	notifier      *observe.Notifier
}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithNotifier publishes tracker state changes.
func WithNotifier(n *observe.Notifier) Option {
	return func(t *Tracker) { t.notifier = n }
}

// WithReportTimeout bounds each LostFocus report.
func WithReportTimeout(d time.Duration) Option {
	return func(t *Tracker) { t.reportTimeout = d }
}

// New creates a Tracker listening to source once SetupListeners is called.
func New(source Source, reporter Reporter, log zerolog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		source:        source,
		reporter:      reporter,
		log:           log.With().Str("component", "focus_tracker").Logger(),
		now:           time.Now,
		reportTimeout: defaultReportTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetActiveQuestion sets the question the next loss is attributed to.
func (t *Tracker) SetActiveQuestion(id *int) {
	t.mu.Lock()
	if id != nil {
		v := *id
		id = &v
	}
	t.questionID = id
	t.mu.Unlock()
}

// ActiveQuestion returns the question the next loss is attributed to.
func (t *Tracker) ActiveQuestion() *int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.questionID == nil {
		return nil
	}
	v := *t.questionID
	return &v
}

// Running reports whether listeners are attached.
func (t *Tracker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.unsubscribe != nil
}

// LossOpen reports whether a focus loss is being measured.
func (t *Tracker) LossOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current != nil
}

// SetupListeners attaches the handler to the event source.
func (t *Tracker) SetupListeners() {
	t.mu.Lock()
	if t.unsubscribe != nil {
		t.mu.Unlock()
		t.log.Warn().Msg("Focus listeners already setup, cannot setup again")
		return
	}
	if t.source == nil {
		t.mu.Unlock()
		t.log.Warn().Msg("No focus event source, listeners not setup")
		return
	}
	t.unsubscribe = t.source.Subscribe(t.handle)
	t.mu.Unlock()

	t.publish("running")
}

// ReleaseListeners detaches the handler and drops any open loss.
func (t *Tracker) ReleaseListeners() {
	t.mu.Lock()
	if t.unsubscribe == nil {
		t.mu.Unlock()
		t.log.Warn().Msg("Focus listeners not setup, cannot release")
		return
	}
	unsubscribe := t.unsubscribe
	t.unsubscribe = nil
	t.current = nil
	t.mu.Unlock()

	unsubscribe()
	t.publish("running")
}

func (t *Tracker) handle(ev Event) {
	switch ev.Kind {
	case EventBlur:
		t.mu.Lock()
		if t.unsubscribe == nil {
			t.mu.Unlock()
			return
		}
		if t.questionID == nil {
			t.log.Warn().Msg("Blur happened without any question set")
		}
		t.current = &Record{
			QuestionID:   t.questionID,
			Start:        t.now(),
			StartEventTS: ev.Timestamp,
		}
		t.mu.Unlock()
		t.publish("loss_open")

	case EventVisibilityChange:
		t.mu.Lock()
		if t.current != nil && ev.Hidden {
			t.current.PageHidden = true
		}
		t.mu.Unlock()

	case EventFocus:
		t.mu.Lock()
		rec := t.current
		t.current = nil
		if rec == nil {
			t.mu.Unlock()
			return
		}
		rec.close(ev, t.now())
		t.mu.Unlock()
		t.publish("loss_open")

		if rec.aboveThreshold() {
			t.report(rec)
		}

	default:
		t.log.Debug().Str("kind", string(ev.Kind)).Msg("Ignoring unknown focus event")
	}
}

func (t *Tracker) report(rec *Record) {
	if t.reporter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), t.reportTimeout)
	defer cancel()

	if err := t.reporter.ReportLostFocus(ctx, rec.action()); err != nil {
		t.log.Warn().Err(err).Msg("Cannot send lostFocus action")
		return
	}
	t.log.Info().
		Dur("duration", rec.Duration).
		Bool("page_hidden", rec.PageHidden).
		Msg("Focus loss reported")
}

func (t *Tracker) publish(field string) {
	t.notifier.Publish(observe.Change{Topic: observe.TopicFocus, Field: field})
}
