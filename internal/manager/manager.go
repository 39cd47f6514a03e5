// Package manager binds the logged user's composition to a session and the
// realtime channel.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-composer/internal/identity"
	"github.com/stemsi/exstem-composer/internal/model"
	"github.com/stemsi/exstem-composer/internal/observe"
	"github.com/stemsi/exstem-composer/internal/realtime"
	"github.com/stemsi/exstem-composer/internal/session"
)

// ErrUnknownSessionType is returned for a composition type the client cannot
// run.
var ErrUnknownSessionType = errors.New("unmanaged session type")

// State of the initial load.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateError   State = "error"
)

const defaultAnswerTimeout = 30 * time.Second

// Channel is the realtime push channel. *realtime.Channel implements it.
type Channel interface {
	OnAnswer(h realtime.AnswerHandler)
	Init(ctx context.Context)
	Release()
}

// Option customizes a Manager.
type Option func(*Manager)

// WithAnswerTimeout bounds the handling of one pushed chat answer.
func WithAnswerTimeout(d time.Duration) Option {
	return func(m *Manager) { m.answerTimeout = d }
}

// Manager owns the session and its realtime channel.
type Manager struct {
	session       session.Session
	channel       Channel
	answerTimeout time.Duration
	log           zerolog.Logger
	notifier      *observe.Notifier

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	state          State
	loadErr        error
	channelStarted bool
	closed         bool
}

// New builds the session matching sc. Answers pushed on ch are routed to the
// session.
func New(sc identity.SessionContext, deps session.Deps, ch Channel, opts ...Option) (*Manager, error) {
	init := session.Init{ID: sc.ID, Started: sc.Started, Ended: sc.Ended}
	if sc.Timeout != nil {
		init.Timeout = *sc.Timeout
	}

	var s session.Session
	switch session.Kind(sc.Type) {
	case session.KindExam:
		s = session.NewExam(init, deps)
	case session.KindSocrat:
		s = session.NewQuestionnaire(init, deps)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSessionType, sc.Type)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		session:       s,
		channel:       ch,
		answerTimeout: defaultAnswerTimeout,
		log:           deps.Log.With().Str("component", "manager").Logger(),
		notifier:      deps.Notifier,
		ctx:           ctx,
		cancel:        cancel,
		state:         StateIdle,
	}
	for _, opt := range opts {
		opt(m)
	}
	ch.OnAnswer(m.handleAnswer)
	return m, nil
}

// Session returns the managed session.
func (m *Manager) Session() session.Session {
	return m.session
}

// State returns the load state and the load error, if any.
func (m *Manager) State() (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.loadErr
}

// Loading reports whether the initial load is in flight.
func (m *Manager) Loading() bool {
	st, _ := m.State()
	return st == StateLoading
}

// Init connects the realtime channel and loads the session. An ended session
// is not loaded. The load error is retained and also returned.
func (m *Manager) Init(ctx context.Context) error {
	m.mu.Lock()
	if m.closed || m.state != StateIdle {
		m.mu.Unlock()
		m.log.Warn().Msg("Manager already initialized")
		return nil
	}
	ended := m.session.Ended()
	if ended {
		m.state = StateReady
	} else {
		m.state = StateLoading
		m.channelStarted = true
	}
	m.mu.Unlock()
	m.publish("state")

	if ended {
		return nil
	}

	m.channel.Init(m.ctx)

	err := m.session.Refresh(ctx)

	m.mu.Lock()
	if err != nil {
		m.state = StateError
		m.loadErr = err
	} else {
		m.state = StateReady
	}
	m.mu.Unlock()
	m.publish("state")

	if err != nil {
		m.log.Warn().Err(err).Msg("Cannot load session")
		return fmt.Errorf("load session: %w", err)
	}
	return nil
}

// Close releases the channel and the session. It is safe to call more than
// once.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	started := m.channelStarted
	m.mu.Unlock()

	m.cancel()
	if started {
		m.channel.Release()
	}
	m.session.Close()
	m.publish("closed")
}

func (m *Manager) handleAnswer(msg model.ChatAnswer) {
	ctx, cancel := context.WithTimeout(m.ctx, m.answerTimeout)
	defer cancel()
	m.session.HandleChatAnswer(ctx, msg)
}

func (m *Manager) publish(field string) {
	m.notifier.Publish(observe.Change{Topic: observe.TopicManager, Field: field})
}

// View is the manager state for rendering.
type View struct {
	State   State         `json:"state"`
	Error   string        `json:"error,omitempty"`
	Session *session.View `json:"session,omitempty"`
}

func (m *Manager) View() View {
	st, err := m.State()
	v := View{State: st}
	if err != nil {
		v.Error = err.Error()
	}
	sv := m.session.View()
	v.Session = &sv
	return v
}
