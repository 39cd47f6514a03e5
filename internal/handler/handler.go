package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-composer/internal/api"
	"github.com/stemsi/exstem-composer/internal/manager"
	"github.com/stemsi/exstem-composer/internal/model"
	"github.com/stemsi/exstem-composer/internal/question"
	"github.com/stemsi/exstem-composer/internal/response"
	"github.com/stemsi/exstem-composer/internal/session"
	"github.com/stemsi/exstem-composer/internal/validator"
)

// SessionSource is the loaded composition. *manager.Manager implements it.
type SessionSource interface {
	Session() session.Session
	State() (manager.State, error)
	View() manager.View
}

// failFor maps a domain or upstream error onto the response envelope.
func failFor(c *gin.Context, log zerolog.Logger, err error) {
	var apiErr *api.APIError
	switch {
	case errors.As(err, &apiErr):
		status := http.StatusBadGateway
		if apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			status = apiErr.StatusCode
		}
		response.FailWithDetail(c, status, response.ErrUpstream, apiErr.Message)
	case errors.Is(err, question.ErrNoChat):
		response.Fail(c, http.StatusBadRequest, response.ErrChatRequired)
	case errors.Is(err, question.ErrResourceNotRemoved):
		response.Fail(c, http.StatusConflict, response.ErrResourceNotRemoved)
	case errors.Is(err, context.DeadlineExceeded):
		response.Fail(c, http.StatusGatewayTimeout, response.ErrUpstreamTimeout)
	default:
		l := response.RequestLogger(c, log)
		l.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
		response.Fail(c, http.StatusBadGateway, response.ErrUpstream)
	}
}

// failBind reports a rejected request body. A body that does not decode at
// all is INVALID_PAYLOAD, a decoded body breaking a rule is VALIDATION_ERROR.
func failBind(c *gin.Context, fields map[string]string) {
	if _, ok := fields["detail"]; ok && len(fields) == 1 {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidPayload, fields)
		return
	}
	response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
}

// requireLoaded rejects session operations until the initial load succeeded.
func requireLoaded(c *gin.Context, src SessionSource) bool {
	if st, _ := src.State(); st != manager.StateReady {
		response.FailWithDetail(c, http.StatusConflict, response.ErrSessionNotLoaded, string(st))
		return false
	}
	return true
}

// requireActive rejects student input once the session is not in progress,
// that is before start and after submit or timeout.
func requireActive(c *gin.Context, src SessionSource) bool {
	if !src.Session().Active() {
		response.FailWithDetail(c, http.StatusConflict, response.ErrSessionNotActive, string(src.Session().Phase()))
		return false
	}
	return true
}

// bindEditableQuestion is bindQuestion for routes that change the question.
func bindEditableQuestion(c *gin.Context, src SessionSource) (*question.Unit, bool) {
	u, ok := bindQuestion(c, src)
	if !ok || !requireActive(c, src) {
		return nil, false
	}
	return u, true
}

// bindQuestion resolves the :id path parameter to a question of the session.
func bindQuestion(c *gin.Context, src SessionSource) (*question.Unit, bool) {
	if !requireLoaded(c, src) {
		return nil, false
	}
	var uri model.QuestionURI
	if fields := validator.BindURI(c, &uri); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidID, fields)
		return nil, false
	}
	u, ok := src.Session().Question(*uri.ID)
	if !ok {
		response.Fail(c, http.StatusNotFound, response.ErrQuestionNotFound)
		return nil, false
	}
	return u, true
}
