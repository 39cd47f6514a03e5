package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-composer/internal/app"
	"github.com/stemsi/exstem-composer/internal/response"
)

// ErrorHandler exposes the user-facing error list.
type ErrorHandler struct {
	errors *app.ErrorCollector
}

// NewErrorHandler creates a new ErrorHandler.
func NewErrorHandler(errors *app.ErrorCollector) *ErrorHandler {
	return &ErrorHandler{errors: errors}
}

// ListErrors godoc
// GET /api/v1/errors
func (h *ErrorHandler) ListErrors(c *gin.Context) {
	response.Success(c, http.StatusOK, h.errors.List())
}

// DismissError godoc
// DELETE /api/v1/errors/:id
func (h *ErrorHandler) DismissError(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}
	if !h.errors.Remove(id) {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"id": id})
}
