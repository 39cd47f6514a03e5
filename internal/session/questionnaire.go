package session

import "context"

// Questionnaire is a Socrates-style session: no deadline, focus tracking
// only.
type Questionnaire struct {
	*base
}

// NewQuestionnaire creates a questionnaire from the logged user context.
// The deadline, if any, is ignored.
func NewQuestionnaire(init Init, deps Deps) *Questionnaire {
	init.Timeout = ""
	b := newBase(KindSocrat, init, deps, deps.API.FetchSocrat)
	b.manage()
	return &Questionnaire{base: b}
}

// StartSocrat starts the questionnaire. The server uses the StartExam
// action for both variants.
func (q *Questionnaire) StartSocrat(ctx context.Context) error {
	return q.Start(ctx)
}

// SubmitSocrat submits the questionnaire.
func (q *Questionnaire) SubmitSocrat(ctx context.Context) error {
	return q.Submit(ctx)
}
