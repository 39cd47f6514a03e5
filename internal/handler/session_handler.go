package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-composer/internal/model"
	"github.com/stemsi/exstem-composer/internal/response"
	"github.com/stemsi/exstem-composer/internal/validator"
)

// SessionHandler drives the session lifecycle.
type SessionHandler struct {
	src SessionSource
	log zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(src SessionSource, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		src: src,
		log: log.With().Str("component", "session_handler").Logger(),
	}
}

// GetSession godoc
// GET /api/v1/session
// Returns the load state and the full session view.
func (h *SessionHandler) GetSession(c *gin.Context) {
	response.Success(c, http.StatusOK, h.src.View())
}

// Start godoc
// POST /api/v1/session/start
func (h *SessionHandler) Start(c *gin.Context) {
	if !requireLoaded(c, h.src) {
		return
	}
	if err := h.src.Session().Start(c.Request.Context()); err != nil {
		failFor(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, h.src.Session().View())
}

// ChangeQuestion godoc
// PUT /api/v1/session/current-question
func (h *SessionHandler) ChangeQuestion(c *gin.Context) {
	if !requireLoaded(c, h.src) {
		return
	}
	var req model.ChangeQuestionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		failBind(c, fields)
		return
	}
	if err := h.src.Session().ChangeQuestion(c.Request.Context(), *req.QuestionID); err != nil {
		failFor(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, h.src.Session().View())
}

// GoOnSubmit godoc
// POST /api/v1/session/submit-confirmation
// Saves the current question and asks for confirmation.
func (h *SessionHandler) GoOnSubmit(c *gin.Context) {
	if !requireLoaded(c, h.src) {
		return
	}
	if err := h.src.Session().GoOnSubmit(c.Request.Context()); err != nil {
		failFor(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, h.src.Session().View())
}

// RollbackOnSubmit godoc
// DELETE /api/v1/session/submit-confirmation
func (h *SessionHandler) RollbackOnSubmit(c *gin.Context) {
	h.src.Session().RollbackOnSubmit()
	response.Success(c, http.StatusOK, h.src.Session().View())
}

// Submit godoc
// POST /api/v1/session/submit
func (h *SessionHandler) Submit(c *gin.Context) {
	if !requireLoaded(c, h.src) {
		return
	}
	if err := h.src.Session().Submit(c.Request.Context()); err != nil {
		failFor(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, h.src.Session().View())
}
