package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-composer/internal/countdown"
	"github.com/stemsi/exstem-composer/internal/focus"
	"github.com/stemsi/exstem-composer/internal/model"
	"github.com/stemsi/exstem-composer/internal/session"
)

type recordingAPI struct {
	mu       sync.Mutex
	writes   []model.WriteInitialAnswer
	writeErr error
}

func (a *recordingAPI) Writes() []model.WriteInitialAnswer {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]model.WriteInitialAnswer(nil), a.writes...)
}

func (a *recordingAPI) FetchExam(context.Context, string) (*model.SessionSnapshot, error) {
	var snap model.SessionSnapshot
	err := json.Unmarshal([]byte(`{
		"started": true,
		"questions": {"0": {"id": 3}, "1": {"id": 4}},
		"current_question_idx": 3
	}`), &snap)
	return &snap, err
}

func (a *recordingAPI) FetchSocrat(ctx context.Context, id string) (*model.SessionSnapshot, error) {
	return a.FetchExam(ctx, id)
}

func (a *recordingAPI) StartExam(context.Context) (*model.StartResult, error) {
	return &model.StartResult{ExamStarted: true}, nil
}

func (a *recordingAPI) SubmitExam(context.Context) (*model.SubmitResult, error) {
	return &model.SubmitResult{ExamEnded: true}, nil
}

func (a *recordingAPI) ChangeQuestion(context.Context, int, int) error { return nil }

func (a *recordingAPI) ReportLostFocus(context.Context, model.LostFocus) error { return nil }

func (a *recordingAPI) WriteInitialAnswer(_ context.Context, w model.WriteInitialAnswer) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.writeErr != nil {
		return a.writeErr
	}
	a.writes = append(a.writes, w)
	return nil
}

func (a *recordingAPI) WriteFinalAnswer(context.Context, model.WriteFinalAnswer) error { return nil }

func (a *recordingAPI) AskChatAI(context.Context, model.AskChatAI) (*model.ChatActionResult, error) {
	return &model.ChatActionResult{}, nil
}

func (a *recordingAPI) AddExternalResource(context.Context, model.AddExternalResource) (*model.ResourceResult, error) {
	return &model.ResourceResult{}, nil
}

func (a *recordingAPI) DeleteExternalResource(context.Context, string) (bool, error) { return true, nil }

type staticSource struct{ s session.Session }

func (src staticSource) Session() session.Session { return src.s }

func newSession(t *testing.T, api *recordingAPI) session.Session {
	t.Helper()
	e := session.NewExam(session.Init{ID: "e1", Started: true}, session.Deps{
		API:          api,
		FocusSource:  focus.NewBus(),
		Log:          zerolog.Nop(),
		TimerOptions: []countdown.Option{countdown.WithInterval(time.Hour)},
	})
	t.Cleanup(e.Close)
	if err := e.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	return e
}

func TestFlushSavesPendingQuestionsOnly(t *testing.T) {
	api := &recordingAPI{}
	s := newSession(t, api)
	w := NewAutosaveWorker(staticSource{s}, time.Hour, zerolog.Nop())

	q4, _ := s.Question(4)
	q4.SetInitialAnswer("draft")

	if n := w.Flush(context.Background()); n != 1 {
		t.Fatalf("saved = %d, want 1", n)
	}
	writes := api.Writes()
	if len(writes) != 1 || writes[0].QuestionIdx != 4 || writes[0].Text != "draft" {
		t.Errorf("writes = %+v", writes)
	}
	if n := w.Flush(context.Background()); n != 0 {
		t.Errorf("second flush saved %d, want 0", n)
	}
}

func TestFlushKeepsFailuresPending(t *testing.T) {
	api := &recordingAPI{writeErr: errors.New("offline")}
	s := newSession(t, api)
	w := NewAutosaveWorker(staticSource{s}, time.Hour, zerolog.Nop())

	q3, _ := s.Question(3)
	q3.SetInitialAnswer("draft")

	if n := w.Flush(context.Background()); n != 0 {
		t.Errorf("saved = %d, want 0", n)
	}
	if !q3.Pending() {
		t.Error("failed autosave must stay pending")
	}
}

func TestStartDrainsOnStop(t *testing.T) {
	api := &recordingAPI{}
	s := newSession(t, api)
	w := NewAutosaveWorker(staticSource{s}, time.Hour, zerolog.Nop())

	q3, _ := s.Question(3)
	q3.SetInitialAnswer("last words")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
	if len(api.Writes()) != 1 {
		t.Errorf("writes = %+v, want the pending answer drained", api.Writes())
	}
}
