// Package session implements the student side of an exam or questionnaire:
// lifecycle, question navigation, the countdown and focus tracking.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-composer/internal/countdown"
	"github.com/stemsi/exstem-composer/internal/focus"
	"github.com/stemsi/exstem-composer/internal/model"
	"github.com/stemsi/exstem-composer/internal/observe"
	"github.com/stemsi/exstem-composer/internal/question"
	"github.com/stemsi/exstem-composer/internal/timefmt"
)

// Kind is the session variant.
type Kind string

const (
	KindExam   Kind = "exam"
	KindSocrat Kind = "socrat"
)

// Phase is derived from the started, ended and on-submit flags.
type Phase string

const (
	PhaseNotStarted         Phase = "notStarted"
	PhaseInProgress         Phase = "inProgress"
	PhaseSubmitConfirmation Phase = "submitConfirmation"
	PhaseEnded              Phase = "ended"
)

// API is the REST API as seen by a session.
type API interface {
	question.ActionAPI
	focus.Reporter
	FetchExam(ctx context.Context, examID string) (*model.SessionSnapshot, error)
	FetchSocrat(ctx context.Context, socratID string) (*model.SessionSnapshot, error)
	StartExam(ctx context.Context) (*model.StartResult, error)
	ChangeQuestion(ctx context.Context, questionID, nextQuestionID int) error
	SubmitExam(ctx context.Context) (*model.SubmitResult, error)
}

// Session is what the manager and the observer API drive. Exam and
// Questionnaire implement it.
type Session interface {
	Kind() Kind
	Start(ctx context.Context) error
	Submit(ctx context.Context) error
	Refresh(ctx context.Context) error
	ChangeQuestion(ctx context.Context, nextQuestionID int) error
	GoOnSubmit(ctx context.Context) error
	RollbackOnSubmit()
	HandleChatAnswer(ctx context.Context, msg model.ChatAnswer)
	Question(id int) (*question.Unit, bool)
	Questions() []*question.Unit
	CurrentQuestion() *question.Unit
	ChatChoice(id string) (model.ChatChoice, bool)
	Active() bool
	Ended() bool
	Phase() Phase
	View() View
	Close()
}

// Init is the session state known before the first snapshot, taken from the
// logged user context.
type Init struct {
	ID      string
	Started bool
	Ended   bool
	Timeout string
}

// Deps are the collaborators of a session.
type Deps struct {
	API         API
	FocusSource focus.Source
	Log         zerolog.Logger
	Notifier    *observe.Notifier

	TimerOptions    []countdown.Option
	FocusOptions    []focus.Option
	QuestionOptions []question.Option
}

type fetchFunc func(ctx context.Context, id string) (*model.SessionSnapshot, error)

// base holds the state shared by both variants.
type base struct {
	kind  Kind
	fetch fetchFunc

	// opMu serializes lifecycle operations; mu guards the fields below and
	// is never held across a network call or a publication.
	opMu sync.Mutex
	mu   sync.Mutex

	id              string
	name            string
	description     string
	durationMinutes *int
	timeout         time.Time
	chatChoices     []model.ChatChoice
	started         bool
	ended           bool
	onSubmit        bool
	nbQuestions     int
	questions       []*question.Unit
	current         *question.Unit
	closed          bool

	timer *countdown.Timer
	focus *focus.Tracker

	api          API
	log          zerolog.Logger
	notifier     *observe.Notifier
	questionOpts []question.Option
}

func newBase(kind Kind, init Init, deps Deps, fetch fetchFunc) *base {
	s := &base{
		kind:     kind,
		fetch:    fetch,
		id:       init.ID,
		started:  init.Started,
		ended:    init.Ended,
		api:      deps.API,
		log:      deps.Log.With().Str("component", "session").Str("kind", string(kind)).Str("session_id", init.ID).Logger(),
		notifier: deps.Notifier,
	}
	s.questionOpts = append([]question.Option{
		question.WithNotifier(deps.Notifier),
		question.WithActive(s.Active),
	}, deps.QuestionOptions...)

	focusOpts := append([]focus.Option{focus.WithNotifier(deps.Notifier)}, deps.FocusOptions...)
	s.focus = focus.New(deps.FocusSource, deps.API, deps.Log, focusOpts...)

	if init.Timeout != "" {
		if t, ok := timefmt.ParseDateTime(init.Timeout); ok {
			s.timeout = t
		}
	}
	return s
}

// withTimer gives the session a countdown to its deadline.
func (s *base) withTimer(opts []countdown.Option) {
	opts = append([]countdown.Option{countdown.WithNotifier(s.notifier)}, opts...)
	s.timer = countdown.New(s.onTimeDone, s.log, opts...)
	if !s.timeout.IsZero() {
		s.timer.SetDeadline(s.timeout)
	}
}

func (s *base) Kind() Kind {
	return s.kind
}

// Timer returns the countdown, nil for questionnaires.
func (s *base) Timer() *countdown.Timer {
	return s.timer
}

// Focus returns the focus tracker.
func (s *base) Focus() *focus.Tracker {
	return s.focus
}

func (s *base) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (s *base) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

func (s *base) OnSubmit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onSubmit
}

func (s *base) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phaseLocked()
}

func (s *base) phaseLocked() Phase {
	switch {
	case s.ended:
		return PhaseEnded
	case !s.started:
		return PhaseNotStarted
	case s.onSubmit:
		return PhaseSubmitConfirmation
	default:
		return PhaseInProgress
	}
}

// Questions returns the units ordered by id.
func (s *base) Questions() []*question.Unit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*question.Unit(nil), s.questions...)
}

// Question finds a unit by its stable id.
func (s *base) Question(id int) (*question.Unit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.findLocked(id)
	return u, u != nil
}

func (s *base) findLocked(id int) *question.Unit {
	for _, u := range s.questions {
		if u.ID() == id {
			return u
		}
	}
	return nil
}

func (s *base) CurrentQuestion() *question.Unit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// ChatChoice finds an available chat engine by id.
func (s *base) ChatChoice(id string) (model.ChatChoice, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.chatChoices {
		if c.ID == id {
			return c, true
		}
	}
	return model.ChatChoice{}, false
}

// Active reports whether the session is in progress and accepts input.
func (s *base) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked()
}

// activeLocked is the precondition of every in-progress operation.
func (s *base) activeLocked() bool {
	return s.started && !s.ended && !s.closed
}

func (s *base) warnInactive() {
	s.log.Warn().Msg("Session not started or ended")
}

// Start posts StartExam and, once the server confirms, loads the full
// snapshot and arms the countdown and focus tracking.
func (s *base) Start(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	started, closed := s.started, s.closed
	s.mu.Unlock()
	if started {
		s.log.Warn().Msg("Session already started")
		return nil
	}
	if closed {
		s.log.Warn().Msg("Session closed")
		return nil
	}

	res, err := s.api.StartExam(ctx)
	if err != nil {
		return fmt.Errorf("start %s %s: %w", s.kind, s.id, err)
	}
	if !res.ExamStarted {
		s.log.Warn().Msg("Session has not started")
		return nil
	}

	s.mu.Lock()
	s.started = true
	if res.Timeout != nil {
		if t, ok := timefmt.ParseDateTime(*res.Timeout); ok {
			s.timeout = t
		}
	}
	deadline := s.timeout
	s.mu.Unlock()
	s.publish("started")
	s.log.Info().Msg("Session started")

	if s.timer != nil && !deadline.IsZero() {
		s.timer.SetDeadline(deadline)
	}

	err = s.refresh(ctx)
	s.manage()
	return err
}

// Refresh reloads the snapshot and merges it into the session.
func (s *base) Refresh(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	err := s.refresh(ctx)
	s.manage()
	return err
}

func (s *base) refresh(ctx context.Context) error {
	snap, err := s.fetch(ctx, s.id)
	if err != nil {
		return fmt.Errorf("refresh %s %s: %w", s.kind, s.id, err)
	}
	s.apply(snap)
	return nil
}

type pendingApply struct {
	unit *question.Unit
	snap model.QuestionSnapshot
}

// apply merges snap by presence: absent fields keep their value. Known
// units are reused by id so drafts and in-flight chats survive.
func (s *base) apply(snap *model.SessionSnapshot) {
	var updates []pendingApply
	retarget := false

	s.mu.Lock()
	if snap.ID != nil {
		s.id = *snap.ID
	}
	if snap.Name != nil {
		s.name = *snap.Name
	}
	if snap.Description != nil {
		s.description = *snap.Description
	}
	if snap.DurationMinutes != nil {
		v := *snap.DurationMinutes
		s.durationMinutes = &v
	}
	if snap.Timeout != nil {
		if t, ok := timefmt.ParseDateTime(*snap.Timeout); ok {
			s.timeout = t
		}
	}
	if snap.ChatChoices != nil {
		s.chatChoices = append([]model.ChatChoice(nil), snap.ChatChoices...)
	}
	if snap.Started != nil {
		s.started = *snap.Started
	}
	if snap.Ended != nil {
		s.ended = *snap.Ended
	}
	if snap.NbQuestions != nil {
		s.nbQuestions = *snap.NbQuestions
	}

	if snap.Questions != nil {
		qs := append(model.QuestionSet(nil), snap.Questions...)
		qs.SortByID()

		units := make([]*question.Unit, 0, len(qs))
		for _, q := range qs {
			if q.ID == nil {
				s.log.Warn().Msg("Skipping question without id")
				continue
			}
			if existing := s.findLocked(*q.ID); existing != nil {
				updates = append(updates, pendingApply{unit: existing, snap: q})
				units = append(units, existing)
				continue
			}
			units = append(units, question.New(q, s.api, s.log, s.questionOpts...))
		}
		s.questions = units

		if s.current != nil && s.findLocked(s.current.ID()) == nil {
			s.current = nil
			retarget = true
		}
	}

	if snap.CurrentQuestionIdx != nil {
		if next := s.findLocked(*snap.CurrentQuestionIdx); next != nil {
			retarget = retarget || next != s.current
			s.current = next
		} else {
			s.log.Warn().Int("question_id", *snap.CurrentQuestionIdx).Msg("Question requested does not exist")
		}
	}
	if !s.started || s.ended {
		s.onSubmit = false
	}
	deadline := s.timeout
	current := s.current
	s.mu.Unlock()

	for _, up := range updates {
		up.unit.Apply(up.snap)
	}
	if retarget {
		s.focus.SetActiveQuestion(unitID(current))
	}
	if s.timer != nil && !deadline.IsZero() {
		s.timer.SetDeadline(deadline)
	}
	s.publish("snapshot")
}

// ChangeQuestion resyncs the outgoing question, records the navigation and
// switches to nextQuestionID. Navigating to the current question does
// nothing.
func (s *base) ChangeQuestion(ctx context.Context, nextQuestionID int) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if !s.activeLocked() {
		s.mu.Unlock()
		s.warnInactive()
		return nil
	}
	cur := s.current
	if cur == nil {
		s.mu.Unlock()
		s.log.Warn().Msg("Change question called without any question set")
		return nil
	}
	if cur.ID() == nextQuestionID {
		s.mu.Unlock()
		return nil
	}
	next := s.findLocked(nextQuestionID)
	if next == nil {
		s.mu.Unlock()
		s.log.Warn().Int("question_id", nextQuestionID).Msg("Question requested does not exist")
		return nil
	}
	onSubmitChanged := observe.Set(&s.onSubmit, false)
	s.mu.Unlock()
	if onSubmitChanged {
		s.publish("on_submit")
	}

	if err := cur.Resync(ctx); err != nil {
		s.log.Warn().Err(err).Int("question_id", cur.ID()).Msg("Cannot resync question before leaving it")
	}

	if err := s.api.ChangeQuestion(ctx, cur.ID(), nextQuestionID); err != nil {
		return fmt.Errorf("change question %d -> %d: %w", cur.ID(), nextQuestionID, err)
	}

	s.mu.Lock()
	s.current = next
	s.mu.Unlock()

	s.focus.SetActiveQuestion(observe.IntPtr(nextQuestionID))
	s.publish("current_question")
	return nil
}

// GoOnSubmit resyncs the current question and opens the submit
// confirmation.
func (s *base) GoOnSubmit(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if !s.activeLocked() {
		s.mu.Unlock()
		s.warnInactive()
		return nil
	}
	cur := s.current
	s.mu.Unlock()

	if cur != nil {
		if err := cur.Resync(ctx); err != nil {
			s.log.Warn().Err(err).Int("question_id", cur.ID()).Msg("Cannot resync question before submit confirmation")
		}
	}

	s.mu.Lock()
	changed := s.activeLocked() && observe.Set(&s.onSubmit, true)
	s.mu.Unlock()
	if changed {
		s.publish("on_submit")
	}
	return nil
}

// RollbackOnSubmit leaves the submit confirmation.
func (s *base) RollbackOnSubmit() {
	s.mu.Lock()
	if !s.activeLocked() {
		s.mu.Unlock()
		s.warnInactive()
		return
	}
	changed := observe.Set(&s.onSubmit, false)
	s.mu.Unlock()
	if changed {
		s.publish("on_submit")
	}
}

// Submit posts SubmitExam and, once the server confirms, ends the session.
func (s *base) Submit(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	active := s.activeLocked()
	s.mu.Unlock()
	if !active {
		s.warnInactive()
		return nil
	}

	res, err := s.api.SubmitExam(ctx)
	if err != nil {
		return fmt.Errorf("submit %s %s: %w", s.kind, s.id, err)
	}
	if !res.ExamEnded {
		s.log.Warn().Msg("Session has not ended")
		return nil
	}

	s.mu.Lock()
	s.ended = true
	s.onSubmit = false
	s.current = nil
	s.mu.Unlock()

	s.focus.SetActiveQuestion(nil)
	s.teardown()
	s.publish("ended")
	s.log.Info().Msg("Session submitted")
	return nil
}

// onTimeDone ends the session locally when the deadline is reached. The
// server decides on the next refresh.
func (s *base) onTimeDone() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.onSubmit = false
	s.mu.Unlock()

	s.log.Info().Msg("Time is up, session ended locally")
	s.teardown()
	s.publish("ended")
}

// HandleChatAnswer routes a streamed chat fragment to its question, found by
// stable id.
func (s *base) HandleChatAnswer(ctx context.Context, msg model.ChatAnswer) {
	if msg.QuestionIdx == nil {
		s.log.Warn().Str("action_id", msg.ActionID).Msg("Received answer without question idx")
		return
	}
	u, ok := s.Question(*msg.QuestionIdx)
	if !ok {
		s.log.Warn().Int("question_idx", *msg.QuestionIdx).Msg("Received answer with bad question idx")
		return
	}
	u.HandleChatAnswer(ctx, msg)
}

// Close tears down the countdown and focus tracking. It is safe to call more
// than once.
func (s *base) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.teardown()
	s.publish("closed")
}

// manage arms the countdown and focus tracking while the session is in
// progress and tears them down otherwise.
func (s *base) manage() {
	s.mu.Lock()
	active := s.activeLocked()
	current := s.current
	s.mu.Unlock()

	if !active {
		s.teardown()
		return
	}
	s.focus.SetActiveQuestion(unitID(current))
	if !s.focus.Running() {
		s.focus.SetupListeners()
	}
	if s.timer != nil && !s.timer.Running() {
		s.timer.Start()
	}
}

func (s *base) teardown() {
	if s.focus.Running() {
		s.focus.ReleaseListeners()
	}
	if s.timer != nil && s.timer.Running() {
		s.timer.Stop()
	}
}

func (s *base) publish(field string) {
	s.notifier.Publish(observe.Change{Topic: observe.TopicSession, Field: field})
}

func unitID(u *question.Unit) *int {
	if u == nil {
		return nil
	}
	return observe.IntPtr(u.ID())
}
