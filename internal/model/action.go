package model

import (
	"encoding/json"
	"time"

	"github.com/stemsi/exstem-composer/internal/timefmt"
)

// ActionType discriminates the student actions posted to the REST API.
type ActionType string

const (
	ActionStartExam           ActionType = "StartExam"
	ActionChangedQuestion     ActionType = "ChangedQuestion"
	ActionLostFocus           ActionType = "LostFocus"
	ActionWriteInitialAnswer  ActionType = "WriteInitialAnswer"
	ActionAskChatAI           ActionType = "AskChatAI"
	ActionAddExternalResource ActionType = "AddExternalResource"
	ActionWriteFinalAnswer    ActionType = "WriteFinalAnswer"
	ActionSubmitExam          ActionType = "SubmitExam"
)

// Action is the closed set of student actions. Implementations live in this
// package only; exhaustive handling goes through ActionVisitor, which fails
// to compile when a kind is added without a matching Visit method.
type Action interface {
	Type() ActionType
	Accept(v ActionVisitor)
	sealed()
}

// ActionVisitor has one method per action kind.
type ActionVisitor interface {
	VisitStartExam(StartExam)
	VisitChangedQuestion(ChangedQuestion)
	VisitLostFocus(LostFocus)
	VisitWriteInitialAnswer(WriteInitialAnswer)
	VisitAskChatAI(AskChatAI)
	VisitAddExternalResource(AddExternalResource)
	VisitWriteFinalAnswer(WriteFinalAnswer)
	VisitSubmitExam(SubmitExam)
}

// StartExam starts the exam or questionnaire bound to the session.
type StartExam struct{}

// ChangedQuestion records navigation from one question to another.
type ChangedQuestion struct {
	QuestionIdx     int
	NextQuestionIdx int
}

// LostFocus reports a focus loss above the reporting threshold.
type LostFocus struct {
	QuestionIdx     *int
	Timestamp       time.Time
	ReturnTimestamp time.Time
	DurationSeconds int
	PageHidden      bool
}

// WriteInitialAnswer carries the initial answer draft and the time of the
// first unsynchronized edit.
type WriteInitialAnswer struct {
	QuestionIdx int
	Text        string
	Timestamp   time.Time
}

// AskChatAI sends a prompt to a chat engine.
type AskChatAI struct {
	QuestionIdx int
	Prompt      string
	Answer      string
	ChatID      string
	ChatKey     string
	ModelKey    string
	Timestamp   time.Time
}

// AddExternalResource attaches an external resource to a question.
type AddExternalResource struct {
	QuestionIdx int
	Title       string
	Description string
	RscType     string
	Timestamp   time.Time
}

// WriteFinalAnswer carries the final answer draft and the time of the first
// unsynchronized edit.
type WriteFinalAnswer struct {
	QuestionIdx int
	Text        string
	Timestamp   time.Time
}

// SubmitExam ends the exam or questionnaire.
type SubmitExam struct{}

func (StartExam) Type() ActionType           { return ActionStartExam }
func (ChangedQuestion) Type() ActionType     { return ActionChangedQuestion }
func (LostFocus) Type() ActionType           { return ActionLostFocus }
func (WriteInitialAnswer) Type() ActionType  { return ActionWriteInitialAnswer }
func (AskChatAI) Type() ActionType           { return ActionAskChatAI }
func (AddExternalResource) Type() ActionType { return ActionAddExternalResource }
func (WriteFinalAnswer) Type() ActionType    { return ActionWriteFinalAnswer }
func (SubmitExam) Type() ActionType          { return ActionSubmitExam }

func (a StartExam) Accept(v ActionVisitor)           { v.VisitStartExam(a) }
func (a ChangedQuestion) Accept(v ActionVisitor)     { v.VisitChangedQuestion(a) }
func (a LostFocus) Accept(v ActionVisitor)           { v.VisitLostFocus(a) }
func (a WriteInitialAnswer) Accept(v ActionVisitor)  { v.VisitWriteInitialAnswer(a) }
func (a AskChatAI) Accept(v ActionVisitor)           { v.VisitAskChatAI(a) }
func (a AddExternalResource) Accept(v ActionVisitor) { v.VisitAddExternalResource(a) }
func (a WriteFinalAnswer) Accept(v ActionVisitor)    { v.VisitWriteFinalAnswer(a) }
func (a SubmitExam) Accept(v ActionVisitor)          { v.VisitSubmitExam(a) }

func (StartExam) sealed()           {}
func (ChangedQuestion) sealed()     {}
func (LostFocus) sealed()           {}
func (WriteInitialAnswer) sealed()  {}
func (AskChatAI) sealed()           {}
func (AddExternalResource) sealed() {}
func (WriteFinalAnswer) sealed()    {}
func (SubmitExam) sealed()          {}

// wireAction is the JSON body of POST /composition/actions.
type wireAction struct {
	ActionType      ActionType `json:"action_type"`
	QuestionIdx     *int       `json:"question_idx,omitempty"`
	NextQuestionIdx *int       `json:"next_question_idx,omitempty"`
	Text            *string    `json:"text,omitempty"`
	Prompt          *string    `json:"prompt,omitempty"`
	Answer          *string    `json:"answer,omitempty"`
	ChatID          *string    `json:"chat_id,omitempty"`
	ChatKey         *string    `json:"chat_key,omitempty"`
	ModelKey        *string    `json:"model_key,omitempty"`
	Title           *string    `json:"title,omitempty"`
	Description     *string    `json:"description,omitempty"`
	RscType         *string    `json:"rsc_type,omitempty"`
	// Timestamp is always sent, null lets the server stamp the action.
	Timestamp       *string `json:"timestamp"`
	ReturnTimestamp *string `json:"return_timestamp,omitempty"`
	DurationSeconds *int    `json:"duration_seconds,omitempty"`
	PageHidden      *bool   `json:"page_hidden,omitempty"`
}

type wireEncoder struct {
	out wireAction
}

func (e *wireEncoder) VisitStartExam(StartExam) {}

func (e *wireEncoder) VisitChangedQuestion(a ChangedQuestion) {
	e.out.QuestionIdx = ptr(a.QuestionIdx)
	e.out.NextQuestionIdx = ptr(a.NextQuestionIdx)
}

func (e *wireEncoder) VisitLostFocus(a LostFocus) {
	e.out.QuestionIdx = a.QuestionIdx
	e.out.Timestamp = isoOrNil(a.Timestamp)
	e.out.ReturnTimestamp = isoOrNil(a.ReturnTimestamp)
	e.out.DurationSeconds = ptr(a.DurationSeconds)
	e.out.PageHidden = ptr(a.PageHidden)
}

func (e *wireEncoder) VisitWriteInitialAnswer(a WriteInitialAnswer) {
	e.out.QuestionIdx = ptr(a.QuestionIdx)
	e.out.Text = ptr(a.Text)
	e.out.Timestamp = isoOrNil(a.Timestamp)
}

func (e *wireEncoder) VisitAskChatAI(a AskChatAI) {
	e.out.QuestionIdx = ptr(a.QuestionIdx)
	e.out.Prompt = ptr(a.Prompt)
	if a.Answer != "" {
		e.out.Answer = ptr(a.Answer)
	}
	e.out.ChatID = ptr(a.ChatID)
	e.out.ChatKey = ptr(a.ChatKey)
	e.out.ModelKey = ptr(a.ModelKey)
	e.out.Timestamp = isoOrNil(a.Timestamp)
}

func (e *wireEncoder) VisitAddExternalResource(a AddExternalResource) {
	e.out.QuestionIdx = ptr(a.QuestionIdx)
	e.out.Title = ptr(a.Title)
	e.out.Description = ptr(a.Description)
	e.out.RscType = ptr(a.RscType)
	e.out.Timestamp = isoOrNil(a.Timestamp)
}

func (e *wireEncoder) VisitWriteFinalAnswer(a WriteFinalAnswer) {
	e.out.QuestionIdx = ptr(a.QuestionIdx)
	e.out.Text = ptr(a.Text)
	e.out.Timestamp = isoOrNil(a.Timestamp)
}

func (e *wireEncoder) VisitSubmitExam(SubmitExam) {}

// MarshalAction encodes an action as the discriminated JSON body expected by
// the REST API.
func MarshalAction(a Action) ([]byte, error) {
	enc := &wireEncoder{out: wireAction{ActionType: a.Type()}}
	a.Accept(enc)
	return json.Marshal(enc.out)
}

func ptr[T any](v T) *T {
	return &v
}

func isoOrNil(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := timefmt.ISO(t)
	return &s
}
