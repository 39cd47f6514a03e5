package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-composer/internal/model"
	"github.com/stemsi/exstem-composer/internal/question"
	"github.com/stemsi/exstem-composer/internal/response"
	"github.com/stemsi/exstem-composer/internal/validator"
)

// QuestionHandler edits answers and the chat and resource logs of a question.
type QuestionHandler struct {
	src SessionSource
	log zerolog.Logger
}

// NewQuestionHandler creates a new QuestionHandler.
func NewQuestionHandler(src SessionSource, log zerolog.Logger) *QuestionHandler {
	return &QuestionHandler{
		src: src,
		log: log.With().Str("component", "question_handler").Logger(),
	}
}

// SetInitialAnswer godoc
// PUT /api/v1/questions/:id/initial-answer
// Edits the answer locally; it reaches the server on the next resync.
func (h *QuestionHandler) SetInitialAnswer(c *gin.Context) {
	h.setAnswer(c, (*question.Unit).SetInitialAnswer)
}

// SetFinalAnswer godoc
// PUT /api/v1/questions/:id/final-answer
func (h *QuestionHandler) SetFinalAnswer(c *gin.Context) {
	h.setAnswer(c, (*question.Unit).SetFinalAnswer)
}

func (h *QuestionHandler) setAnswer(c *gin.Context, set func(*question.Unit, string)) {
	u, ok := bindEditableQuestion(c, h.src)
	if !ok {
		return
	}
	var req model.AnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		failBind(c, fields)
		return
	}
	set(u, *req.Answer)
	response.Success(c, http.StatusOK, u.View())
}

// Resync godoc
// POST /api/v1/questions/:id/resync
// Pushes pending answer edits to the server.
func (h *QuestionHandler) Resync(c *gin.Context) {
	u, ok := bindEditableQuestion(c, h.src)
	if !ok {
		return
	}
	if err := u.Resync(c.Request.Context()); err != nil {
		failFor(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, u.View())
}

// AskChat godoc
// POST /api/v1/questions/:id/chat
// Sends a prompt; streamed answers arrive through the realtime channel.
func (h *QuestionHandler) AskChat(c *gin.Context) {
	u, ok := bindEditableQuestion(c, h.src)
	if !ok {
		return
	}
	var req model.ChatRequest
	if fields := validator.Bind(c, &req); fields != nil {
		failBind(c, fields)
		return
	}
	chat, ok := h.src.Session().ChatChoice(req.ChatID)
	if !ok {
		response.Fail(c, http.StatusBadRequest, response.ErrUnknownChat)
		return
	}

	entry, err := u.AskChatAI(c.Request.Context(), question.ChatRequest{
		Prompt: req.Prompt,
		Answer: req.Answer,
		Chat:   chat,
	})
	if err != nil {
		failFor(c, h.log, err)
		return
	}
	response.Success(c, http.StatusCreated, entry)
}

// AddResource godoc
// POST /api/v1/questions/:id/resources
func (h *QuestionHandler) AddResource(c *gin.Context) {
	u, ok := bindEditableQuestion(c, h.src)
	if !ok {
		return
	}
	var req model.ResourceRequest
	if fields := validator.Bind(c, &req); fields != nil {
		failBind(c, fields)
		return
	}

	rsc, err := u.AddExternalResource(c.Request.Context(), question.ResourceRequest{
		Title:       req.Title,
		Description: req.Description,
		RscType:     req.RscType,
	})
	if err != nil {
		failFor(c, h.log, err)
		return
	}
	response.Success(c, http.StatusCreated, rsc)
}

// DeleteResource godoc
// DELETE /api/v1/questions/:id/resources/:resource_id
func (h *QuestionHandler) DeleteResource(c *gin.Context) {
	u, ok := bindEditableQuestion(c, h.src)
	if !ok {
		return
	}
	var uri model.ResourceURI
	if fields := validator.BindURI(c, &uri); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidID, fields)
		return
	}

	if err := u.DeleteExternalResource(c.Request.Context(), uri.ResourceID); err != nil {
		failFor(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, u.View())
}
