package websocket

import "github.com/stemsi/exchange-allocator/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionPing   Action = "ping"
	ActionStatus Action = "status"
)

// RequestEnvelope is the only client message shape; actions carry no payload.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError  Event = "error"
	EventStatus Event = "status"
	EventRun    Event = "run_event"
	EventPong   Event = "pong"
)

// StatusResponse carries the stored run record. It is sent on connect and
// whenever the client asks for it.
type StatusResponse struct {
	Event Event      `json:"event"`
	Run   *model.Run `json:"run"`
}

// RunEventResponse forwards one progress notification.
type RunEventResponse struct {
	Event Event          `json:"event"`
	Data  model.RunEvent `json:"data"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
