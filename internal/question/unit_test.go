package question

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-composer/internal/model"
)

type fakeAPI struct {
	mu        sync.Mutex
	calls     []string
	initial   []model.WriteInitialAnswer
	final     []model.WriteFinalAnswer
	asks      []model.AskChatAI
	resources []model.AddExternalResource
	deleted   []string

	writeErr   error
	onWrite    func()
	askResult  model.ChatActionResult
	askHook    func()
	askActive  atomic.Int32
	askMaxSeen atomic.Int32
}

func (f *fakeAPI) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeAPI) WriteInitialAnswer(_ context.Context, a model.WriteInitialAnswer) error {
	f.record("WriteInitialAnswer")
	if f.onWrite != nil {
		f.onWrite()
	}
	if f.writeErr != nil {
		return f.writeErr
	}
	f.mu.Lock()
	f.initial = append(f.initial, a)
	f.mu.Unlock()
	return nil
}

func (f *fakeAPI) WriteFinalAnswer(_ context.Context, a model.WriteFinalAnswer) error {
	f.record("WriteFinalAnswer")
	if f.writeErr != nil {
		return f.writeErr
	}
	f.mu.Lock()
	f.final = append(f.final, a)
	f.mu.Unlock()
	return nil
}

func (f *fakeAPI) AskChatAI(_ context.Context, a model.AskChatAI) (*model.ChatActionResult, error) {
	f.record("AskChatAI")
	n := f.askActive.Add(1)
	defer f.askActive.Add(-1)
	for {
		seen := f.askMaxSeen.Load()
		if n <= seen || f.askMaxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	if f.askHook != nil {
		f.askHook()
	}

	f.mu.Lock()
	f.asks = append(f.asks, a)
	res := f.askResult
	if res.ID == "" {
		res.ID = fmt.Sprintf("act-%d", len(f.asks))
	}
	f.mu.Unlock()
	res.Prompt = a.Prompt
	res.ChatID = a.ChatID
	return &res, nil
}

func (f *fakeAPI) AddExternalResource(_ context.Context, a model.AddExternalResource) (*model.ResourceResult, error) {
	f.record("AddExternalResource")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resources = append(f.resources, a)
	ts := "2024-01-01T09:00:00Z"
	return &model.ResourceResult{
		ID:          "rsc-" + a.Title,
		Timestamp:   &ts,
		QuestionIdx: a.QuestionIdx,
		Title:       a.Title,
		Description: a.Description,
		RscType:     a.RscType,
	}, nil
}

func (f *fakeAPI) DeleteExternalResource(_ context.Context, actionID string) (bool, error) {
	f.record("DeleteExternalResource")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, actionID)
	return true, nil
}

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }
func intPtr(v int) *int       { return &v }

func newUnit(t *testing.T, api *fakeAPI, snap model.QuestionSnapshot) (*Unit, *stepClock) {
	t.Helper()
	if snap.ID == nil {
		snap.ID = intPtr(3)
	}
	clk := &stepClock{now: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
	return New(snap, api, zerolog.Nop(), WithClock(clk.Now)), clk
}

var engine = model.ChatChoice{ID: "gpt", ChatKey: "openai", ModelKey: "gpt-4o", Title: "GPT"}

func TestResyncWritesFirstTimestampLatestText(t *testing.T) {
	api := &fakeAPI{}
	u, _ := newUnit(t, api, model.QuestionSnapshot{})

	u.SetInitialAnswer("a")
	u.SetInitialAnswer("ab")
	u.SetInitialAnswer("abc")
	u.SetFinalAnswer("final")

	if err := u.Resync(context.Background()); err != nil {
		t.Fatalf("Resync() error = %v", err)
	}
	if err := u.Resync(context.Background()); err != nil {
		t.Fatalf("second Resync() error = %v", err)
	}

	if len(api.initial) != 1 {
		t.Fatalf("got %d initial writes, want 1", len(api.initial))
	}
	w := api.initial[0]
	if w.Text != "abc" {
		t.Errorf("Text = %q, want latest text", w.Text)
	}
	if want := time.Date(2024, 1, 1, 9, 0, 1, 0, time.UTC); !w.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want first edit %v", w.Timestamp, want)
	}
	if w.QuestionIdx != 3 {
		t.Errorf("QuestionIdx = %d, want 3", w.QuestionIdx)
	}
	if len(api.final) != 1 || api.final[0].Text != "final" {
		t.Errorf("final writes = %+v", api.final)
	}
	if u.Pending() {
		t.Error("unit should be in sync")
	}
}

func TestResyncNoopWhenClean(t *testing.T) {
	api := &fakeAPI{}
	u, _ := newUnit(t, api, model.QuestionSnapshot{InitAnswer: strPtr("server")})

	u.SetInitialAnswer("server") // unchanged text is not an edit
	if err := u.Resync(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(api.calls) != 0 {
		t.Errorf("calls = %v, want none", api.calls)
	}
}

func TestResyncEditDuringWriteStaysPending(t *testing.T) {
	api := &fakeAPI{}
	u, _ := newUnit(t, api, model.QuestionSnapshot{})

	u.SetInitialAnswer("first")
	var once sync.Once
	api.onWrite = func() {
		once.Do(func() { u.SetInitialAnswer("second") })
	}

	if err := u.Resync(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !u.Pending() {
		t.Fatal("edit made during the write must stay pending")
	}

	if err := u.Resync(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(api.initial) != 2 {
		t.Fatalf("got %d writes, want 2", len(api.initial))
	}
	if api.initial[1].Text != "second" {
		t.Errorf("second write text = %q", api.initial[1].Text)
	}
	if !api.initial[1].Timestamp.After(api.initial[0].Timestamp) {
		t.Errorf("second write should carry the later edit time, got %v then %v",
			api.initial[0].Timestamp, api.initial[1].Timestamp)
	}
	if u.Pending() {
		t.Error("unit should be in sync")
	}
}

func TestResyncFailureKeepsPending(t *testing.T) {
	api := &fakeAPI{writeErr: errors.New("boom")}
	u, _ := newUnit(t, api, model.QuestionSnapshot{})

	u.SetInitialAnswer("draft")
	if err := u.Resync(context.Background()); err == nil {
		t.Fatal("Resync() should fail")
	}
	if !u.Pending() {
		t.Error("failed write must keep the field pending")
	}
}

func TestAskChatAIResyncsFirst(t *testing.T) {
	api := &fakeAPI{askResult: model.ChatActionResult{ID: "a1"}}
	u, _ := newUnit(t, api, model.QuestionSnapshot{})

	u.SetInitialAnswer("draft")
	entry, err := u.AskChatAI(context.Background(), ChatRequest{Prompt: "why?", Chat: engine})
	if err != nil {
		t.Fatal(err)
	}

	if len(api.calls) != 2 || api.calls[0] != "WriteInitialAnswer" || api.calls[1] != "AskChatAI" {
		t.Errorf("calls = %v, want write then ask", api.calls)
	}
	if !entry.Pending || entry.ID != "a1" || entry.Prompt != "why?" {
		t.Errorf("entry = %+v", entry)
	}
	ask := api.asks[0]
	if ask.ChatID != "gpt" || ask.ChatKey != "openai" || ask.ModelKey != "gpt-4o" || ask.QuestionIdx != 3 {
		t.Errorf("ask = %+v", ask)
	}

	v := u.View()
	if got := v.ChatActions["gpt"]; len(got) != 1 || got[0].ID != "a1" {
		t.Errorf("transcript = %+v", got)
	}
}

func TestAskChatAIAchievedImmediately(t *testing.T) {
	api := &fakeAPI{askResult: model.ChatActionResult{ID: "a1", Achieved: true, Answer: strPtr("42")}}
	u, _ := newUnit(t, api, model.QuestionSnapshot{})

	entry, err := u.AskChatAI(context.Background(), ChatRequest{Prompt: "?", Chat: engine})
	if err != nil {
		t.Fatal(err)
	}
	if entry.Pending || entry.Answer != "42" {
		t.Errorf("entry = %+v", entry)
	}
}

func TestAskChatAIRequiresChat(t *testing.T) {
	u, _ := newUnit(t, &fakeAPI{}, model.QuestionSnapshot{})
	if _, err := u.AskChatAI(context.Background(), ChatRequest{Prompt: "?"}); !errors.Is(err, ErrNoChat) {
		t.Errorf("err = %v, want ErrNoChat", err)
	}
}

func TestAskChatAISerialized(t *testing.T) {
	gate := make(chan struct{})
	api := &fakeAPI{}
	api.askHook = func() { <-gate }
	u, _ := newUnit(t, api, model.QuestionSnapshot{})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := u.AskChatAI(context.Background(), ChatRequest{Prompt: "p", Chat: engine}); err != nil {
				t.Error(err)
			}
		}()
	}

	deadline := time.Now().Add(2 * time.Second)
	for !u.ChatInFlight() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	close(gate)
	wg.Wait()

	if got := api.askMaxSeen.Load(); got != 1 {
		t.Errorf("max concurrent chat requests = %d, want 1", got)
	}
	if got := len(u.View().ChatActions["gpt"]); got != 2 {
		t.Errorf("transcript has %d entries, want 2", got)
	}
	if err := u.WaitChatAction(context.Background()); err != nil {
		t.Errorf("WaitChatAction() = %v", err)
	}
}

func TestWaitChatActionHonoursContext(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	api := &fakeAPI{}
	api.askHook = func() { <-gate }
	u, _ := newUnit(t, api, model.QuestionSnapshot{})

	go u.AskChatAI(context.Background(), ChatRequest{Prompt: "p", Chat: engine})
	for !u.ChatInFlight() {
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := u.WaitChatAction(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitChatAction() = %v, want deadline exceeded", err)
	}
}

func TestHandleChatAnswerStreams(t *testing.T) {
	api := &fakeAPI{askResult: model.ChatActionResult{ID: "a1"}}
	u, _ := newUnit(t, api, model.QuestionSnapshot{})
	if _, err := u.AskChatAI(context.Background(), ChatRequest{Prompt: "hi", Chat: engine}); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	u.HandleChatAnswer(ctx, model.ChatAnswer{QuestionIdx: intPtr(3), ChatID: "gpt", ActionID: "a1", Answer: strPtr("Hel")})
	u.HandleChatAnswer(ctx, model.ChatAnswer{QuestionIdx: intPtr(3), ChatID: "gpt", ActionID: "a1", Answer: strPtr("lo"), Ended: true})

	got := u.View().ChatActions["gpt"][0]
	if got.Answer != "Hello" || got.Pending {
		t.Errorf("entry = %+v, want answer Hello and not pending", got)
	}
}

func TestHandleChatAnswerMatching(t *testing.T) {
	snap := model.QuestionSnapshot{
		ChatActions: map[string][]model.ChatActionSnapshot{
			"gpt": {
				{ID: "a1", Prompt: strPtr("one"), Achieved: boolPtr(false)},
				{ID: "a2", Prompt: strPtr("two"), Achieved: boolPtr(false)},
			},
		},
	}
	tests := []struct {
		name string
		msg  model.ChatAnswer
		want []ChatAction
	}{
		{
			name: "unknown action leaves transcript",
			msg:  model.ChatAnswer{ChatID: "gpt", ActionID: "zz", Answer: strPtr("x"), Ended: true},
			want: []ChatAction{{ID: "a1", Prompt: "one", Pending: true}, {ID: "a2", Prompt: "two", Pending: true}},
		},
		{
			name: "unknown chat leaves transcript",
			msg:  model.ChatAnswer{ChatID: "mistral", ActionID: "a2", Answer: strPtr("x")},
			want: []ChatAction{{ID: "a1", Prompt: "one", Pending: true}, {ID: "a2", Prompt: "two", Pending: true}},
		},
		{
			name: "older action found by search",
			msg:  model.ChatAnswer{ChatID: "gpt", ActionID: "a1", Answer: strPtr("late"), Ended: true},
			want: []ChatAction{{ID: "a1", Prompt: "one", Answer: "late"}, {ID: "a2", Prompt: "two", Pending: true}},
		},
		{
			name: "ended without fragment",
			msg:  model.ChatAnswer{ChatID: "gpt", ActionID: "a2", Ended: true},
			want: []ChatAction{{ID: "a1", Prompt: "one", Pending: true}, {ID: "a2", Prompt: "two"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, _ := newUnit(t, &fakeAPI{}, snap)
			u.HandleChatAnswer(context.Background(), tt.msg)

			got := u.View().ChatActions["gpt"]
			if len(got) != len(tt.want) {
				t.Fatalf("transcript = %+v", got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("entry %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestExternalResources(t *testing.T) {
	api := &fakeAPI{}
	u, _ := newUnit(t, api, model.QuestionSnapshot{
		Resources: []model.ResourceSnapshot{{ID: "old", Title: "Old"}},
	})
	ctx := context.Background()

	u.SetFinalAnswer("pending")
	rsc, err := u.AddExternalResource(ctx, ResourceRequest{Title: "Doc", Description: "d", RscType: "web"})
	if err != nil {
		t.Fatal(err)
	}
	if api.calls[0] != "WriteFinalAnswer" {
		t.Errorf("calls = %v, want resync first", api.calls)
	}
	if rsc.ID != "rsc-Doc" || rsc.Timestamp.IsZero() {
		t.Errorf("resource = %+v", rsc)
	}

	if err := u.DeleteExternalResource(ctx, "old"); err != nil {
		t.Fatal(err)
	}
	got := u.View().Resources
	if len(got) != 1 || got[0].ID != "rsc-Doc" {
		t.Errorf("resources = %+v", got)
	}

	// Deleting a resource no longer listed still succeeds.
	if err := u.DeleteExternalResource(ctx, "gone"); err != nil {
		t.Fatal(err)
	}
	if len(u.View().Resources) != 1 {
		t.Error("unrelated resource was removed")
	}
}

func TestApplyMergesByPresence(t *testing.T) {
	api := &fakeAPI{}
	u, _ := newUnit(t, api, model.QuestionSnapshot{
		Label:       strPtr("Q3"),
		InitAnswer:  strPtr("server init"),
		FinalAnswer: strPtr("server final"),
		Resources:   []model.ResourceSnapshot{{ID: "r1"}},
	})

	u.SetFinalAnswer("local final")
	u.Apply(model.QuestionSnapshot{
		InitAnswer:  strPtr("new server init"),
		FinalAnswer: strPtr("stale server final"),
	})

	v := u.View()
	if v.Label != "Q3" {
		t.Errorf("Label = %q, absent field must be kept", v.Label)
	}
	if v.InitAnswer != "new server init" {
		t.Errorf("InitAnswer = %q", v.InitAnswer)
	}
	if v.FinalAnswer != "local final" || !v.FinalAnswerPending {
		t.Errorf("FinalAnswer = %q pending=%v, pending draft must win", v.FinalAnswer, v.FinalAnswerPending)
	}
	if len(v.Resources) != 1 {
		t.Errorf("Resources = %+v, absent list must be kept", v.Resources)
	}

	u.Apply(model.QuestionSnapshot{ID: intPtr(99), Label: strPtr("other")})
	if u.View().Label != "Q3" {
		t.Error("snapshot of another question must be ignored")
	}
}

func TestApplyKeepsStreamedText(t *testing.T) {
	api := &fakeAPI{askResult: model.ChatActionResult{ID: "a1"}}
	u, _ := newUnit(t, api, model.QuestionSnapshot{})
	if _, err := u.AskChatAI(context.Background(), ChatRequest{Prompt: "hi", Chat: engine}); err != nil {
		t.Fatal(err)
	}
	u.HandleChatAnswer(context.Background(), model.ChatAnswer{ChatID: "gpt", ActionID: "a1", Answer: strPtr("partial")})

	u.Apply(model.QuestionSnapshot{
		ChatActions: map[string][]model.ChatActionSnapshot{
			"gpt": {{ID: "a1", Prompt: strPtr("hi"), Achieved: boolPtr(false)}},
		},
	})

	got := u.View().ChatActions["gpt"]
	if len(got) != 1 || got[0].Answer != "partial" || !got[0].Pending {
		t.Errorf("transcript = %+v", got)
	}
}

func TestInactiveUnitIsReadOnly(t *testing.T) {
	api := &fakeAPI{}
	var active atomic.Bool
	active.Store(true)
	clk := &stepClock{now: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
	u := New(model.QuestionSnapshot{ID: intPtr(3)}, api, zerolog.Nop(), WithClock(clk.Now), WithActive(active.Load))
	ctx := context.Background()

	u.SetInitialAnswer("before the end")
	active.Store(false)

	u.SetInitialAnswer("after the end")
	u.SetFinalAnswer("after the end")
	if got := u.InitAnswer(); got != "before the end" {
		t.Errorf("initial answer = %q, edits after the end must be dropped", got)
	}
	if got := u.FinalAnswer(); got != "" {
		t.Errorf("final answer = %q", got)
	}

	if err := u.Resync(ctx); err != nil {
		t.Errorf("Resync: %v", err)
	}
	if entry, err := u.AskChatAI(ctx, ChatRequest{Prompt: "p", Chat: engine}); err != nil || entry.ID != "" {
		t.Errorf("AskChatAI = %+v, %v", entry, err)
	}
	if rsc, err := u.AddExternalResource(ctx, ResourceRequest{Title: "t"}); err != nil || rsc.ID != "" {
		t.Errorf("AddExternalResource = %+v, %v", rsc, err)
	}
	if err := u.DeleteExternalResource(ctx, "rsc-t"); err != nil {
		t.Errorf("DeleteExternalResource: %v", err)
	}

	api.mu.Lock()
	calls := append([]string(nil), api.calls...)
	api.mu.Unlock()
	if len(calls) != 0 {
		t.Errorf("calls = %v, an inactive question must not reach the server", calls)
	}
	if v := u.View(); len(v.Resources) != 0 || len(v.ChatActions["gpt"]) != 0 {
		t.Errorf("view = %+v", v)
	}
}
