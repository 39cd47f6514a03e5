package config

import (
	"fmt"
	"net/url"
)

type RouteKeyStruct struct{}

func NewRouteKeyStruct() *RouteKeyStruct {
	return &RouteKeyStruct{}
}

// ExamSnapshot returns the REST path of an exam composition snapshot
func (r *RouteKeyStruct) ExamSnapshot(examID string) string {
	return fmt.Sprintf("/composition/exams/%s", url.PathEscape(examID))
}

// SocratSnapshot returns the REST path of a questionnaire composition snapshot
func (r *RouteKeyStruct) SocratSnapshot(socratID string) string {
	return fmt.Sprintf("/composition/socrats/%s", url.PathEscape(socratID))
}

// Actions returns the REST path student actions are posted to
func (r *RouteKeyStruct) Actions() string {
	return "/composition/actions"
}

// ExternalResourceAction returns the REST path of an external resource action
func (r *RouteKeyStruct) ExternalResourceAction(actionID string) string {
	return fmt.Sprintf("/composition/actions/external-resources/%s", url.PathEscape(actionID))
}

// UserContext returns the REST path of the logged user context
func (r *RouteKeyStruct) UserContext() string {
	return "/user-context"
}

// TicketLogin returns the REST path used to trade a ticket for a session
func (r *RouteKeyStruct) TicketLogin() string {
	return "/composition/ticket-login"
}

// Logout returns the REST path closing the current session
func (r *RouteKeyStruct) Logout() string {
	return "/logout"
}

// DefaultWebsocketPath is used when no path prefix is configured.
const DefaultWebsocketPath = "/ws"

var RouteKey = NewRouteKeyStruct()
