package focus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-composer/internal/model"
)

type fakeReporter struct {
	mu      sync.Mutex
	actions []model.LostFocus
	err     error
}

func (r *fakeReporter) ReportLostFocus(_ context.Context, a model.LostFocus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, a)
	return r.err
}

func (r *fakeReporter) reports() []model.LostFocus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.LostFocus(nil), r.actions...)
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time            { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func setup(t *testing.T) (*Tracker, *Bus, *fakeReporter, *clock) {
	t.Helper()
	bus := NewBus()
	rep := &fakeReporter{}
	clk := &clock{now: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
	tr := New(bus, rep, zerolog.Nop(), WithClock(clk.Now))
	tr.SetupListeners()
	t.Cleanup(func() {
		if tr.Running() {
			tr.ReleaseListeners()
		}
	})
	return tr, bus, rep, clk
}

func intPtr(v int) *int { return &v }

func TestShortLossNotReported(t *testing.T) {
	tr, bus, rep, clk := setup(t)
	tr.SetActiveQuestion(intPtr(1))

	bus.Publish(Event{Kind: EventBlur})
	clk.Advance(3 * time.Second)
	bus.Publish(Event{Kind: EventFocus})

	if n := len(rep.reports()); n != 0 {
		t.Errorf("got %d reports, want 0", n)
	}
	if tr.LossOpen() {
		t.Error("loss should be closed after focus")
	}
}

func TestLongLossReported(t *testing.T) {
	tr, bus, rep, clk := setup(t)
	tr.SetActiveQuestion(intPtr(2))

	start := clk.Now()
	bus.Publish(Event{Kind: EventBlur})
	tr.SetActiveQuestion(intPtr(3)) // attribution is fixed at blur time
	clk.Advance(2 * time.Second)
	bus.Publish(Event{Kind: EventVisibilityChange, Hidden: true})
	clk.Advance(3 * time.Second)
	bus.Publish(Event{Kind: EventFocus})

	reports := rep.reports()
	if len(reports) != 1 {
		t.Fatalf("got %d reports, want 1", len(reports))
	}
	got := reports[0]
	if got.QuestionIdx == nil || *got.QuestionIdx != 2 {
		t.Errorf("QuestionIdx = %v, want 2", got.QuestionIdx)
	}
	if got.DurationSeconds != 5 {
		t.Errorf("DurationSeconds = %d, want 5", got.DurationSeconds)
	}
	if !got.PageHidden {
		t.Error("PageHidden should be true")
	}
	if !got.Timestamp.Equal(start) || !got.ReturnTimestamp.Equal(start.Add(5*time.Second)) {
		t.Errorf("timestamps = %v / %v", got.Timestamp, got.ReturnTimestamp)
	}
}

func TestThresholdBoundary(t *testing.T) {
	_, bus, rep, clk := setup(t)

	bus.Publish(Event{Kind: EventBlur})
	clk.Advance(Threshold)
	bus.Publish(Event{Kind: EventFocus})

	if n := len(rep.reports()); n != 1 {
		t.Errorf("got %d reports for a loss of exactly the threshold, want 1", n)
	}
}

func TestEventTimestampsPreferred(t *testing.T) {
	_, bus, rep, clk := setup(t)

	bus.Publish(Event{Kind: EventBlur, Timestamp: 1000 * time.Millisecond})
	clk.Advance(time.Second)
	bus.Publish(Event{Kind: EventFocus, Timestamp: 7000 * time.Millisecond})

	reports := rep.reports()
	if len(reports) != 1 || reports[0].DurationSeconds != 6 {
		t.Fatalf("reports = %+v, want one 6s report", reports)
	}
}

func TestReportFailureKeepsTrackerUsable(t *testing.T) {
	tr, bus, rep, clk := setup(t)
	rep.err = errors.New("network down")

	bus.Publish(Event{Kind: EventBlur})
	clk.Advance(10 * time.Second)
	bus.Publish(Event{Kind: EventFocus})

	if tr.LossOpen() {
		t.Fatal("loss should be closed after a failed report")
	}

	rep.err = nil
	bus.Publish(Event{Kind: EventBlur})
	clk.Advance(10 * time.Second)
	bus.Publish(Event{Kind: EventFocus})

	if n := len(rep.reports()); n != 2 {
		t.Errorf("got %d report attempts, want 2", n)
	}
}

func TestFocusWithoutBlurIgnored(t *testing.T) {
	_, bus, rep, _ := setup(t)

	bus.Publish(Event{Kind: EventVisibilityChange, Hidden: true})
	bus.Publish(Event{Kind: EventFocus})

	if n := len(rep.reports()); n != 0 {
		t.Errorf("got %d reports, want 0", n)
	}
}

func TestListenersLifecycle(t *testing.T) {
	tr, bus, rep, clk := setup(t)

	tr.SetupListeners() // second setup is a no-op
	if got := bus.Publish(Event{Kind: EventBlur}); got != 1 {
		t.Fatalf("bus reached %d handlers, want 1", got)
	}

	tr.ReleaseListeners()
	tr.ReleaseListeners() // second release is a no-op
	if tr.Running() {
		t.Fatal("tracker should not be running")
	}

	clk.Advance(10 * time.Second)
	bus.Publish(Event{Kind: EventFocus})
	if n := len(rep.reports()); n != 0 {
		t.Errorf("released tracker reported %d actions", n)
	}
}
