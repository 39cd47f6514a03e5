// Package identity resolves who is logged in and which composition the
// session is bound to.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-composer/internal/api"
	"github.com/stemsi/exstem-composer/internal/config"
	"github.com/stemsi/exstem-composer/internal/observe"
)

// Common identity errors.
var (
	ErrNotLoggedIn  = errors.New("not logged in")
	ErrEmptyTicket  = errors.New("ticket is required")
	ErrTokenExpired = errors.New("token expired")
)

// Role of the logged user.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

// User is the logged user.
type User struct {
	Username  string `json:"username"`
	Firstname string `json:"firstname,omitempty"`
	Lastname  string `json:"lastname,omitempty"`
}

// UserContext is the payload of the user-context and login endpoints.
type UserContext struct {
	User        User    `json:"user"`
	Role        Role    `json:"role"`
	ExamType    string  `json:"exam_type,omitempty"`
	ExamID      string  `json:"exam_id,omitempty"`
	ExamStarted bool    `json:"exam_started"`
	ExamEnded   bool    `json:"exam_ended"`
	Timeout     *string `json:"timeout,omitempty"`
}

// SessionContext is the composition the user is bound to.
type SessionContext struct {
	Type    string  `json:"type"`
	ID      string  `json:"id"`
	Started bool    `json:"started"`
	Ended   bool    `json:"ended"`
	Timeout *string `json:"timeout,omitempty"`
}

// SessionContext extracts the composition binding. ok is false when the user
// is not bound to any composition.
func (u UserContext) SessionContext() (SessionContext, bool) {
	if u.ExamType == "" || u.ExamID == "" {
		return SessionContext{}, false
	}
	sc := SessionContext{
		Type:    u.ExamType,
		ID:      u.ExamID,
		Started: u.ExamStarted,
		Ended:   u.ExamEnded,
	}
	if u.Timeout != nil {
		t := *u.Timeout
		sc.Timeout = &t
	}
	return sc, true
}

func (u UserContext) IsStudent() bool {
	return u.Role == RoleStudent
}

func (u UserContext) IsTeacherOrAdmin() bool {
	return u.Role == RoleTeacher || u.Role == RoleAdmin
}

func (u UserContext) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Claims is the payload of a composition bearer token.
type Claims struct {
	jwt.RegisteredClaims
	Username    string  `json:"username"`
	Firstname   string  `json:"firstname,omitempty"`
	Lastname    string  `json:"lastname,omitempty"`
	Role        Role    `json:"role"`
	ExamType    string  `json:"exam_type,omitempty"`
	ExamID      string  `json:"exam_id,omitempty"`
	ExamStarted bool    `json:"exam_started"`
	ExamEnded   bool    `json:"exam_ended"`
	Timeout     *string `json:"timeout,omitempty"`
}

// FromToken decodes a bearer token into a user context. The signature is not
// verified: the client never holds the signing secret, the server checks it
// on every request.
func FromToken(token string, now time.Time) (*UserContext, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if claims.ExpiresAt != nil && !now.Before(claims.ExpiresAt.Time) {
		return nil, ErrTokenExpired
	}

	username := claims.Username
	if username == "" {
		username = claims.Subject
	}
	return &UserContext{
		User: User{
			Username:  username,
			Firstname: claims.Firstname,
			Lastname:  claims.Lastname,
		},
		Role:        claims.Role,
		ExamType:    claims.ExamType,
		ExamID:      claims.ExamID,
		ExamStarted: claims.ExamStarted,
		ExamEnded:   claims.ExamEnded,
		Timeout:     claims.Timeout,
	}, nil
}

// Transport is the part of the REST client identity needs.
type Transport interface {
	GetJSON(ctx context.Context, path string, out any, opts ...api.RequestOption) error
	PostJSON(ctx context.Context, path string, body any, out any, opts ...api.RequestOption) error
}

type ticketRequest struct {
	Ticket string `json:"ticket"`
}

// Service holds the logged user.
type Service struct {
	api      Transport
	log      zerolog.Logger
	notifier *observe.Notifier

	mu       sync.Mutex
	loggedIn bool
	current  *UserContext
}

// NewService creates a Service. notifier may be nil.
func NewService(transport Transport, log zerolog.Logger, notifier *observe.Notifier) *Service {
	return &Service{
		api:      transport,
		log:      log.With().Str("component", "identity").Logger(),
		notifier: notifier,
	}
}

// Resume restores an existing server session. A missing session is not an
// error: it leaves the service logged out.
func (s *Service) Resume(ctx context.Context) (bool, error) {
	var uc UserContext
	err := s.api.GetJSON(ctx, config.RouteKey.UserContext(), &uc, api.FailSilently())
	if err != nil {
		s.set(nil)
		if api.IsStatus(err, http.StatusUnauthorized) || api.IsStatus(err, http.StatusForbidden) {
			return false, nil
		}
		return false, fmt.Errorf("fetch user context: %w", err)
	}
	s.set(&uc)
	return true, nil
}

// TicketLogin trades a student ticket for a session.
func (s *Service) TicketLogin(ctx context.Context, ticket string) (*UserContext, error) {
	if ticket == "" {
		return nil, ErrEmptyTicket
	}
	var uc UserContext
	if err := s.api.PostJSON(ctx, config.RouteKey.TicketLogin(), ticketRequest{Ticket: ticket}, &uc); err != nil {
		return nil, fmt.Errorf("ticket login: %w", err)
	}
	s.set(&uc)
	s.log.Info().Str("username", uc.User.Username).Str("exam_id", uc.ExamID).Msg("Ticket login succeeded")
	return &uc, nil
}

// Adopt installs a user context obtained out of band, e.g. from a token.
func (s *Service) Adopt(uc *UserContext) {
	s.set(uc)
}

// Logout closes the server session. Local state is cleared even when the
// request fails.
func (s *Service) Logout(ctx context.Context) error {
	defer s.set(nil)
	if err := s.api.PostJSON(ctx, config.RouteKey.Logout(), nil, nil); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

func (s *Service) LoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedIn
}

// Current returns a copy of the logged user context.
func (s *Service) Current() (UserContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loggedIn {
		return UserContext{}, ErrNotLoggedIn
	}
	return *s.current, nil
}

func (s *Service) set(uc *UserContext) {
	s.mu.Lock()
	changed := observe.Set(&s.loggedIn, uc != nil) || s.current != uc
	s.current = uc
	s.mu.Unlock()

	if changed {
		s.notifier.Publish(observe.Change{Topic: observe.TopicIdentity, Field: "logged_in"})
	}
}
