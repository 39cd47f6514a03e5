package realtime

import "encoding/json"

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventAnswer Event = "answer"
	EventInfo   Event = "info"
	EventPong   Event = "pong"
)

// Envelope is used to peek at the event before decoding its data.
type Envelope struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// InfoData is the payload of an info event.
type InfoData struct {
	Message string `json:"message"`
}

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionPing Action = "ping"
)

// PingRequest keeps the connection alive through proxies.
type PingRequest struct {
	Action Action `json:"action"`
}
