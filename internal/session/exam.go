package session

import (
	"context"
	"time"
)

// Exam is a timed session: it ends at its deadline even without a submit.
type Exam struct {
	*base
}

// NewExam creates an exam from the logged user context. A session already
// in progress gets its countdown and focus tracking armed at once.
func NewExam(init Init, deps Deps) *Exam {
	b := newBase(KindExam, init, deps, deps.API.FetchExam)
	b.withTimer(deps.TimerOptions)
	b.manage()
	return &Exam{base: b}
}

// StartExam starts the exam.
func (e *Exam) StartExam(ctx context.Context) error {
	return e.Start(ctx)
}

// SubmitExam submits the exam.
func (e *Exam) SubmitExam(ctx context.Context) error {
	return e.Submit(ctx)
}

// Deadline returns the exam deadline, zero when unknown.
func (e *Exam) Deadline() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timeout
}

// DurationMinutes returns the configured duration, false when unknown.
func (e *Exam) DurationMinutes() (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.durationMinutes == nil {
		return 0, false
	}
	return *e.durationMinutes, true
}
