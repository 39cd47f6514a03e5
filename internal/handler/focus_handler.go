package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-composer/internal/focus"
	"github.com/stemsi/exstem-composer/internal/model"
	"github.com/stemsi/exstem-composer/internal/response"
	"github.com/stemsi/exstem-composer/internal/validator"
)

// FocusHandler forwards browser focus events to the focus tracker.
type FocusHandler struct {
	bus *focus.Bus
}

// NewFocusHandler creates a new FocusHandler.
func NewFocusHandler(bus *focus.Bus) *FocusHandler {
	return &FocusHandler{bus: bus}
}

// PostFocusEvent godoc
// POST /api/v1/focus-events
func (h *FocusHandler) PostFocusEvent(c *gin.Context) {
	var req model.FocusEventRequest
	if fields := validator.Bind(c, &req); fields != nil {
		failBind(c, fields)
		return
	}

	delivered := h.bus.Publish(focus.Event{
		Kind:      focus.EventKind(req.Kind),
		Hidden:    req.Hidden,
		Timestamp: time.Duration(req.TimestampMs * float64(time.Millisecond)),
	})
	response.Success(c, http.StatusAccepted, gin.H{"delivered": delivered})
}
