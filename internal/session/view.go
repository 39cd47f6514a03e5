package session

import (
	"time"

	"github.com/stemsi/exstem-composer/internal/model"
	"github.com/stemsi/exstem-composer/internal/question"
	"github.com/stemsi/exstem-composer/internal/timefmt"
)

// View is an immutable copy of a session for rendering.
type View struct {
	Kind              Kind               `json:"kind"`
	ID                string             `json:"id"`
	Name              string             `json:"name"`
	Description       string             `json:"description"`
	DurationMinutes   *int               `json:"duration_minutes,omitempty"`
	Timeout           *time.Time         `json:"timeout,omitempty"`
	ChatChoices       []model.ChatChoice `json:"chat_choices"`
	Started           bool               `json:"started"`
	Ended             bool               `json:"ended"`
	OnSubmit          bool               `json:"on_submit"`
	Phase             Phase              `json:"phase"`
	NbQuestions       int                `json:"nb_questions"`
	Questions         []question.View    `json:"questions"`
	CurrentQuestionID *int               `json:"current_question_id,omitempty"`
	Timer             *TimerView         `json:"timer,omitempty"`
	Focus             FocusView          `json:"focus"`
}

// TimerView is the countdown state.
type TimerView struct {
	Running          bool   `json:"running"`
	RemainingSeconds *int64 `json:"remaining_seconds,omitempty"`
	Formatted        string `json:"formatted"`
}

// FocusView is the focus tracker state.
type FocusView struct {
	Running  bool `json:"running"`
	LossOpen bool `json:"loss_open"`
}

func (s *base) View() View {
	s.mu.Lock()
	v := View{
		Kind:        s.kind,
		ID:          s.id,
		Name:        s.name,
		Description: s.description,
		ChatChoices: append([]model.ChatChoice{}, s.chatChoices...),
		Started:     s.started,
		Ended:       s.ended,
		OnSubmit:    s.onSubmit,
		Phase:       s.phaseLocked(),
		NbQuestions: s.nbQuestions,
	}
	if s.durationMinutes != nil {
		d := *s.durationMinutes
		v.DurationMinutes = &d
	}
	if !s.timeout.IsZero() {
		t := s.timeout
		v.Timeout = &t
	}
	units := append([]*question.Unit(nil), s.questions...)
	v.CurrentQuestionID = unitID(s.current)
	s.mu.Unlock()

	v.Questions = make([]question.View, 0, len(units))
	for _, u := range units {
		v.Questions = append(v.Questions, u.View())
	}

	if s.timer != nil {
		tv := &TimerView{Running: s.timer.Running(), Formatted: timefmt.Unknown}
		if sec, known := s.timer.Remaining(); known {
			tv.RemainingSeconds = &sec
			tv.Formatted = timefmt.FormatClock(sec)
		}
		v.Timer = tv
	}
	v.Focus = FocusView{Running: s.focus.Running(), LossOpen: s.focus.LossOpen()}
	return v
}
