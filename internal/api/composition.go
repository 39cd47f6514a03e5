package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/stemsi/exstem-composer/internal/config"
	"github.com/stemsi/exstem-composer/internal/model"
)

// FetchExam returns the composition snapshot of an exam.
func (c *Client) FetchExam(ctx context.Context, examID string) (*model.SessionSnapshot, error) {
	var snap model.SessionSnapshot
	if err := c.GetJSON(ctx, config.RouteKey.ExamSnapshot(examID), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// FetchSocrat returns the composition snapshot of a questionnaire.
func (c *Client) FetchSocrat(ctx context.Context, socratID string) (*model.SessionSnapshot, error) {
	var snap model.SessionSnapshot
	if err := c.GetJSON(ctx, config.RouteKey.SocratSnapshot(socratID), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// PostAction sends a student action and decodes the answer into out.
func (c *Client) PostAction(ctx context.Context, a model.Action, out any, opts ...RequestOption) error {
	raw, err := model.MarshalAction(a)
	if err != nil {
		return fmt.Errorf("encode %s action: %w", a.Type(), err)
	}
	return c.do(ctx, http.MethodPost, config.RouteKey.Actions(), raw, out, opts...)
}

// StartExam posts the StartExam action. Questionnaires use it as well.
func (c *Client) StartExam(ctx context.Context) (*model.StartResult, error) {
	var res model.StartResult
	if err := c.PostAction(ctx, model.StartExam{}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// SubmitExam posts the SubmitExam action.
func (c *Client) SubmitExam(ctx context.Context) (*model.SubmitResult, error) {
	var res model.SubmitResult
	if err := c.PostAction(ctx, model.SubmitExam{}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ChangeQuestion records a navigation between questions.
func (c *Client) ChangeQuestion(ctx context.Context, questionID, nextQuestionID int) error {
	return c.PostAction(ctx, model.ChangedQuestion{
		QuestionIdx:     questionID,
		NextQuestionIdx: nextQuestionID,
	}, nil)
}

// ReportLostFocus posts a LostFocus audit action. Failures stay out of the
// error sink, the focus tracker logs them.
func (c *Client) ReportLostFocus(ctx context.Context, a model.LostFocus) error {
	return c.PostAction(ctx, a, nil, FailSilently())
}

// WriteInitialAnswer pushes the initial answer draft.
func (c *Client) WriteInitialAnswer(ctx context.Context, a model.WriteInitialAnswer) error {
	return c.PostAction(ctx, a, nil)
}

// WriteFinalAnswer pushes the final answer draft.
func (c *Client) WriteFinalAnswer(ctx context.Context, a model.WriteFinalAnswer) error {
	return c.PostAction(ctx, a, nil)
}

// AskChatAI submits a chat prompt. The answer usually streams afterwards
// over the realtime channel.
func (c *Client) AskChatAI(ctx context.Context, a model.AskChatAI) (*model.ChatActionResult, error) {
	var res model.ChatActionResult
	if err := c.PostAction(ctx, a, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// AddExternalResource attaches a resource to a question.
func (c *Client) AddExternalResource(ctx context.Context, a model.AddExternalResource) (*model.ResourceResult, error) {
	var res model.ResourceResult
	if err := c.PostAction(ctx, a, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// DeleteExternalResource marks a resource action as removed.
func (c *Client) DeleteExternalResource(ctx context.Context, actionID string) (bool, error) {
	if err := c.Delete(ctx, config.RouteKey.ExternalResourceAction(actionID)); err != nil {
		return false, err
	}
	return true, nil
}
