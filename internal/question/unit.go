// Package question holds the per-question state of a composition: answer
// drafts with deferred write-back, the chat-AI transcripts and the attached
// external resources.
package question

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-composer/internal/model"
	"github.com/stemsi/exstem-composer/internal/observe"
	"github.com/stemsi/exstem-composer/internal/timefmt"
)

var (
	ErrNoChat             = errors.New("chat engine id is required")
	ErrResourceNotRemoved = errors.New("external resource was not removed")
)

// ActionAPI is the part of the REST API a question needs.
type ActionAPI interface {
	WriteInitialAnswer(ctx context.Context, a model.WriteInitialAnswer) error
	WriteFinalAnswer(ctx context.Context, a model.WriteFinalAnswer) error
	AskChatAI(ctx context.Context, a model.AskChatAI) (*model.ChatActionResult, error)
	AddExternalResource(ctx context.Context, a model.AddExternalResource) (*model.ResourceResult, error)
	DeleteExternalResource(ctx context.Context, actionID string) (bool, error)
}

// ChatAction is a transcript entry. Answer grows as streamed fragments
// arrive; Pending clears when the server reports the answer complete.
type ChatAction struct {
	ID        string    `json:"id"`
	Prompt    string    `json:"prompt"`
	Answer    string    `json:"answer"`
	Pending   bool      `json:"pending"`
	Timestamp time.Time `json:"timestamp"`
}

// Resource is an external resource attached to the question.
type Resource struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	RscType     string    `json:"rsc_type"`
	Timestamp   time.Time `json:"timestamp"`
}

// ChatRequest asks a chat engine. Answer is set by copy-paste engines where
// the student reports the answer obtained elsewhere.
type ChatRequest struct {
	Prompt string
	Answer string
	Chat   model.ChatChoice
}

// ResourceRequest describes a resource to attach.
type ResourceRequest struct {
	Title       string
	Description string
	RscType     string
}

// draft is an answer field with its write-back bookkeeping.
type draft struct {
	text string
	// pendingSince is the first unsynchronized edit, zero when in sync.
	pendingSince time.Time
	// rev counts local edits.
	rev uint64
	// inFlight is set while a write-back of this field runs; nextSince is
	// the first edit that landed during it.
	inFlight  bool
	nextSince time.Time
}

func (d *draft) set(text string, now time.Time) bool {
	if d.text == text {
		return false
	}
	d.text = text
	d.rev++
	if d.pendingSince.IsZero() {
		d.pendingSince = now
	}
	if d.inFlight && d.nextSince.IsZero() {
		d.nextSince = now
	}
	return true
}

// Unit is one question of a session. It is safe for concurrent use.
type Unit struct {
	mu          sync.Mutex
	id          int
	label       string
	initAnswer  draft
	finalAnswer draft
	chatActions map[string][]ChatAction
	resources   []Resource

	// syncMu serializes write-backs; chatSlot holds the in-flight chat
	// request.
	syncMu   sync.Mutex
	chatSlot chan struct{}

	api      ActionAPI
	log      zerolog.Logger
	now      func() time.Time
	notifier *observe.Notifier
	active   func() bool
}

// Option customizes a Unit.
type Option func(*Unit)

// WithClock replaces time.Now for edit timestamps.
func WithClock(now func() time.Time) Option {
	return func(u *Unit) { u.now = now }
}

// WithNotifier publishes question changes.
func WithNotifier(n *observe.Notifier) Option {
	return func(u *Unit) { u.notifier = n }
}

// WithActive makes the unit read-only whenever active reports false. Edits,
// write-backs, chat prompts and resource changes are then logged and
// dropped.
func WithActive(active func() bool) Option {
	return func(u *Unit) { u.active = active }
}

// New creates a Unit from its snapshot.
func New(snap model.QuestionSnapshot, api ActionAPI, log zerolog.Logger, opts ...Option) *Unit {
	u := &Unit{
		chatActions: make(map[string][]ChatAction),
		chatSlot:    make(chan struct{}, 1),
		api:         api,
		now:         time.Now,
	}
	if snap.ID != nil {
		u.id = *snap.ID
	}
	u.log = log.With().Str("component", "question").Int("question_id", u.id).Logger()
	for _, opt := range opts {
		opt(u)
	}
	u.applyLocked(snap)
	return u
}

// ID is the stable question id.
func (u *Unit) ID() int {
	return u.id
}

// InitAnswer returns the current initial-answer draft.
func (u *Unit) InitAnswer() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.initAnswer.text
}

// FinalAnswer returns the current final-answer draft.
func (u *Unit) FinalAnswer() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.finalAnswer.text
}

// Pending reports whether either answer has unsynchronized edits.
func (u *Unit) Pending() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return !u.initAnswer.pendingSince.IsZero() || !u.finalAnswer.pendingSince.IsZero()
}

// accepting reports whether student input is allowed.
func (u *Unit) accepting(op string) bool {
	if u.active == nil || u.active() {
		return true
	}
	u.log.Warn().Str("op", op).Msg("Session not in progress, question is read-only")
	return false
}

// SetInitialAnswer replaces the initial-answer draft locally.
func (u *Unit) SetInitialAnswer(text string) {
	if !u.accepting("set_initial_answer") {
		return
	}
	u.mu.Lock()
	changed := u.initAnswer.set(text, u.now())
	u.mu.Unlock()
	if changed {
		u.publish("init_answer")
	}
}

// SetFinalAnswer replaces the final-answer draft locally.
func (u *Unit) SetFinalAnswer(text string) {
	if !u.accepting("set_final_answer") {
		return
	}
	u.mu.Lock()
	changed := u.finalAnswer.set(text, u.now())
	u.mu.Unlock()
	if changed {
		u.publish("final_answer")
	}
}

// Resync writes every pending answer field back to the server, carrying the
// latest text and the time of the first unsynchronized edit. Concurrent
// calls run one after the other.
func (u *Unit) Resync(ctx context.Context) error {
	if !u.accepting("resync") {
		return nil
	}
	u.syncMu.Lock()
	defer u.syncMu.Unlock()

	if err := u.flush(&u.initAnswer, "init_answer", func(text string, ts time.Time) error {
		return u.api.WriteInitialAnswer(ctx, model.WriteInitialAnswer{QuestionIdx: u.id, Text: text, Timestamp: ts})
	}); err != nil {
		return fmt.Errorf("write initial answer of question %d: %w", u.id, err)
	}
	if err := u.flush(&u.finalAnswer, "final_answer", func(text string, ts time.Time) error {
		return u.api.WriteFinalAnswer(ctx, model.WriteFinalAnswer{QuestionIdx: u.id, Text: text, Timestamp: ts})
	}); err != nil {
		return fmt.Errorf("write final answer of question %d: %w", u.id, err)
	}
	return nil
}

func (u *Unit) flush(d *draft, field string, write func(string, time.Time) error) error {
	u.mu.Lock()
	if d.pendingSince.IsZero() {
		u.mu.Unlock()
		return nil
	}
	text, ts, rev := d.text, d.pendingSince, d.rev
	d.inFlight = true
	d.nextSince = time.Time{}
	u.mu.Unlock()

	err := write(text, ts)

	u.mu.Lock()
	d.inFlight = false
	if err == nil {
		if d.rev == rev {
			d.pendingSince = time.Time{}
		} else {
			d.pendingSince = d.nextSince
		}
	}
	d.nextSince = time.Time{}
	u.mu.Unlock()

	if err != nil {
		return err
	}
	u.log.Debug().Str("field", field).Msg("Answer synchronized")
	u.publish(field + "_pending")
	return nil
}

// AskChatAI resyncs the answers and submits a prompt. Only one chat request
// per question runs at a time, a second caller waits for the first.
func (u *Unit) AskChatAI(ctx context.Context, req ChatRequest) (ChatAction, error) {
	if req.Chat.ID == "" {
		return ChatAction{}, ErrNoChat
	}
	if !u.accepting("ask_chat_ai") {
		return ChatAction{}, nil
	}

	select {
	case u.chatSlot <- struct{}{}:
	case <-ctx.Done():
		return ChatAction{}, ctx.Err()
	}
	defer func() { <-u.chatSlot }()

	if err := u.Resync(ctx); err != nil {
		return ChatAction{}, err
	}

	res, err := u.api.AskChatAI(ctx, model.AskChatAI{
		QuestionIdx: u.id,
		Prompt:      req.Prompt,
		Answer:      req.Answer,
		ChatID:      req.Chat.ID,
		ChatKey:     req.Chat.ChatKey,
		ModelKey:    req.Chat.ModelKey,
	})
	if err != nil {
		return ChatAction{}, fmt.Errorf("ask chat %s on question %d: %w", req.Chat.ID, u.id, err)
	}

	entry := ChatAction{
		ID:      res.ID,
		Prompt:  res.Prompt,
		Answer:  req.Answer,
		Pending: !res.Achieved,
	}
	if entry.Prompt == "" {
		entry.Prompt = req.Prompt
	}
	if entry.Answer == "" && res.Answer != nil {
		entry.Answer = *res.Answer
	}
	if res.Timestamp != nil {
		entry.Timestamp, _ = timefmt.ParseDateTime(*res.Timestamp)
	}

	u.mu.Lock()
	if _, ok := u.chatActions[req.Chat.ID]; !ok {
		u.log.Warn().Str("chat_id", req.Chat.ID).Msg("Received chat action but action tab unknown")
	}
	u.chatActions[req.Chat.ID] = append(u.chatActions[req.Chat.ID], entry)
	u.mu.Unlock()

	u.publish("chat_actions")
	return entry, nil
}

// WaitChatAction blocks until no chat request is in flight.
func (u *Unit) WaitChatAction(ctx context.Context) error {
	select {
	case u.chatSlot <- struct{}{}:
		<-u.chatSlot
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ChatInFlight reports whether a chat request is running.
func (u *Unit) ChatInFlight() bool {
	return len(u.chatSlot) > 0
}

// HandleChatAnswer appends a streamed fragment to its transcript entry. It
// waits for an in-flight chat request first so the entry exists. Unknown
// chats or actions are logged and dropped.
func (u *Unit) HandleChatAnswer(ctx context.Context, msg model.ChatAnswer) {
	if err := u.WaitChatAction(ctx); err != nil {
		u.log.Warn().Err(err).Str("action_id", msg.ActionID).Msg("Gave up waiting for chat action")
		return
	}

	u.mu.Lock()
	actions, ok := u.chatActions[msg.ChatID]
	if !ok {
		u.mu.Unlock()
		u.log.Warn().Str("chat_id", msg.ChatID).Msg("Received answer with bad chat id")
		return
	}

	idx := len(actions) - 1
	if idx < 0 || actions[idx].ID != msg.ActionID {
		u.log.Debug().Str("action_id", msg.ActionID).Msg("Received answer that does not match last action")
		idx = -1
		for i := range actions {
			if actions[i].ID == msg.ActionID {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		u.mu.Unlock()
		u.log.Warn().Str("action_id", msg.ActionID).Msg("Received answer with bad action id")
		return
	}

	action := &actions[idx]
	changed := false
	if msg.Answer != nil && *msg.Answer != "" {
		action.Answer += *msg.Answer
		changed = true
	}
	if msg.Ended && action.Pending {
		action.Pending = false
		changed = true
	}
	u.mu.Unlock()

	if changed {
		u.publish("chat_actions")
	}
}

// AddExternalResource resyncs the answers and attaches a resource.
func (u *Unit) AddExternalResource(ctx context.Context, req ResourceRequest) (Resource, error) {
	if !u.accepting("add_external_resource") {
		return Resource{}, nil
	}
	if err := u.Resync(ctx); err != nil {
		return Resource{}, err
	}

	res, err := u.api.AddExternalResource(ctx, model.AddExternalResource{
		QuestionIdx: u.id,
		Title:       req.Title,
		Description: req.Description,
		RscType:     req.RscType,
	})
	if err != nil {
		return Resource{}, fmt.Errorf("add resource to question %d: %w", u.id, err)
	}

	rsc := Resource{
		ID:          res.ID,
		Title:       res.Title,
		Description: res.Description,
		RscType:     res.RscType,
	}
	if res.Timestamp != nil {
		rsc.Timestamp, _ = timefmt.ParseDateTime(*res.Timestamp)
	}

	u.mu.Lock()
	u.resources = append(u.resources, rsc)
	u.mu.Unlock()

	u.publish("resources")
	return rsc, nil
}

// DeleteExternalResource resyncs the answers and removes a resource. The
// resource is located again once the server answered since the list may
// have changed meanwhile.
func (u *Unit) DeleteExternalResource(ctx context.Context, actionID string) error {
	if !u.accepting("delete_external_resource") {
		return nil
	}
	if err := u.Resync(ctx); err != nil {
		return err
	}

	ok, err := u.api.DeleteExternalResource(ctx, actionID)
	if err != nil {
		return fmt.Errorf("delete resource %s of question %d: %w", actionID, u.id, err)
	}
	if !ok {
		return ErrResourceNotRemoved
	}

	u.mu.Lock()
	removed := false
	for i := range u.resources {
		if u.resources[i].ID == actionID {
			u.resources = append(u.resources[:i], u.resources[i+1:]...)
			removed = true
			break
		}
	}
	u.mu.Unlock()

	if removed {
		u.publish("resources")
	}
	return nil
}

// Apply merges a server snapshot. Absent fields keep their value and server
// text never overwrites an answer with pending local edits.
func (u *Unit) Apply(snap model.QuestionSnapshot) {
	u.mu.Lock()
	u.applyLocked(snap)
	u.mu.Unlock()
	u.publish("snapshot")
}

func (u *Unit) applyLocked(snap model.QuestionSnapshot) {
	if snap.ID != nil && *snap.ID != u.id {
		u.log.Warn().Int("snapshot_id", *snap.ID).Msg("Ignoring snapshot of another question")
		return
	}
	if snap.Label != nil {
		u.label = *snap.Label
	}
	if snap.InitAnswer != nil && u.initAnswer.pendingSince.IsZero() {
		u.initAnswer.text = *snap.InitAnswer
	}
	if snap.FinalAnswer != nil && u.finalAnswer.pendingSince.IsZero() {
		u.finalAnswer.text = *snap.FinalAnswer
	}
	if snap.ChatActions != nil {
		u.chatActions = mergeChatActions(u.chatActions, snap.ChatActions)
	}
	if snap.Resources != nil {
		u.resources = parseResources(snap.Resources)
	}
}

// mergeChatActions takes the server transcripts, keeping the streamed text
// of entries the server has not completed yet.
func mergeChatActions(local map[string][]ChatAction, remote map[string][]model.ChatActionSnapshot) map[string][]ChatAction {
	known := make(map[string]ChatAction)
	for _, actions := range local {
		for _, a := range actions {
			known[a.ID] = a
		}
	}

	out := make(map[string][]ChatAction, len(remote))
	for chatID, actions := range remote {
		list := make([]ChatAction, 0, len(actions))
		for _, s := range actions {
			a := ChatAction{ID: s.ID}
			if s.Prompt != nil {
				a.Prompt = *s.Prompt
			}
			if s.Answer != nil {
				a.Answer = *s.Answer
			}
			if s.Achieved != nil {
				a.Pending = !*s.Achieved
			}
			if s.Timestamp != nil {
				a.Timestamp, _ = timefmt.ParseDateTime(*s.Timestamp)
			}
			if prev, ok := known[s.ID]; ok {
				if len(prev.Answer) > len(a.Answer) {
					a.Answer = prev.Answer
				}
				if !prev.Pending {
					a.Pending = false
				}
				if a.Prompt == "" {
					a.Prompt = prev.Prompt
				}
				if a.Timestamp.IsZero() {
					a.Timestamp = prev.Timestamp
				}
			}
			list = append(list, a)
		}
		out[chatID] = list
	}
	// Chats the server did not mention keep their local transcript.
	for chatID, actions := range local {
		if _, ok := out[chatID]; !ok {
			out[chatID] = actions
		}
	}
	return out
}

func parseResources(in []model.ResourceSnapshot) []Resource {
	out := make([]Resource, 0, len(in))
	for _, r := range in {
		rsc := Resource{
			ID:          r.ID,
			Title:       r.Title,
			Description: r.Description,
			RscType:     r.RscType,
		}
		if r.Timestamp != nil {
			rsc.Timestamp, _ = timefmt.ParseDateTime(*r.Timestamp)
		}
		out = append(out, rsc)
	}
	return out
}

// View is a read-only copy of a Unit for rendering.
type View struct {
	ID                 int                     `json:"id"`
	Label              string                  `json:"label"`
	InitAnswer         string                  `json:"init_answer"`
	FinalAnswer        string                  `json:"final_answer"`
	InitAnswerPending  bool                    `json:"init_answer_pending"`
	FinalAnswerPending bool                    `json:"final_answer_pending"`
	ChatActions        map[string][]ChatAction `json:"chat_actions"`
	Resources          []Resource              `json:"resources"`
	ChatInFlight       bool                    `json:"chat_in_flight"`
}

// View copies the current state.
func (u *Unit) View() View {
	u.mu.Lock()
	defer u.mu.Unlock()

	chats := make(map[string][]ChatAction, len(u.chatActions))
	for k, v := range u.chatActions {
		chats[k] = append([]ChatAction(nil), v...)
	}
	return View{
		ID:                 u.id,
		Label:              u.label,
		InitAnswer:         u.initAnswer.text,
		FinalAnswer:        u.finalAnswer.text,
		InitAnswerPending:  !u.initAnswer.pendingSince.IsZero(),
		FinalAnswerPending: !u.finalAnswer.pendingSince.IsZero(),
		ChatActions:        chats,
		Resources:          append([]Resource{}, u.resources...),
		ChatInFlight:       len(u.chatSlot) > 0,
	}
}

func (u *Unit) publish(field string) {
	u.notifier.Publish(observe.Change{Topic: observe.TopicQuestion, Field: field, QuestionID: observe.IntPtr(u.id)})
}
