package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-composer/internal/observe"
)

const (
	streamBuffer    = 64
	streamWriteWait = 10 * time.Second
	streamPingEvery = 30 * time.Second
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// StreamHandler pushes change notifications to the rendering layer so it
// only refetches the session view when something moved.
type StreamHandler struct {
	notifier *observe.Notifier
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewStreamHandler creates a new StreamHandler.
func NewStreamHandler(notifier *observe.Notifier, log zerolog.Logger, allowedOrigins []string) *StreamHandler {
	return &StreamHandler{
		notifier: notifier,
		log:      log.With().Str("component", "stream_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// streamFrame is one pushed change.
type streamFrame struct {
	Event  string         `json:"event"`
	Seq    uint64         `json:"seq"`
	Change observe.Change `json:"data"`
}

// SessionStream godoc
// WS /ws/v1/session/stream
func (h *StreamHandler) SessionStream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	// Subscribers must not block the publisher: a slow client loses
	// changes, it is expected to refetch the full view anyway.
	changes := make(chan streamFrame, streamBuffer)
	unsubscribe := h.notifier.Subscribe(func(ch observe.Change) {
		select {
		case changes <- streamFrame{Event: "change", Seq: ch.Seq, Change: ch}:
		default:
		}
	})
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			// Client frames are ignored; reading surfaces the close.
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.log.Warn().Err(err).Msg("Unexpected close")
				}
				return
			}
		}
	}()

	h.log.Debug().Msg("Observer connected")
	ticker := time.NewTicker(streamPingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			h.log.Debug().Msg("Observer disconnected")
			return
		case frame := <-changes:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(frame); err != nil {
				h.log.Debug().Err(err).Msg("Stream write failed")
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}
