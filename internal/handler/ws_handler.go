package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exchange-allocator/internal/model"
	"github.com/stemsi/exchange-allocator/internal/response"
	ws "github.com/stemsi/exchange-allocator/internal/websocket"
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

// RunReader loads a stored run.
type RunReader interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Run, error)
}

// RunEventSource streams a run's progress events. RedisRunQueue satisfies it.
type RunEventSource interface {
	Subscribe(ctx context.Context, id uuid.UUID) (<-chan model.RunEvent, func() error, error)
}

// WSHandler streams allocation run progress over WebSocket.
type WSHandler struct {
	runs     RunReader
	events   RunEventSource
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(runs RunReader, events RunEventSource, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		runs:     runs,
		events:   events,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// RunEventStream godoc
// WS /ws/v1/runs/:id/events?token=...
// Sends the current run record, then every progress event until the run
// finishes or fails. Clients may send {"action":"ping"} or {"action":"status"}.
func (h *WSHandler) RunEventStream(c *gin.Context) {
	id, ok := runID(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	run, err := h.runs.Get(ctx, id)
	if err != nil {
		failFromError(c, err)
		return
	}

	// Subscribe before the snapshot is sent so the terminal event cannot
	// slip between the two.
	events, closeSub, err := h.events.Subscribe(ctx, id)
	if err != nil {
		h.log.Error().Err(err).Str("run_id", id.String()).Msg("Subscribe to run events failed")
		response.Fail(c, http.StatusServiceUnavailable, response.ErrQueueUnavailable)
		return
	}
	defer closeSub()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().Str("run_id", id.String()).Logger()
	wsLog.Debug().Msg("Client attached to run events")

	if err := ws.WriteTyped(conn, ws.StatusResponse{Event: ws.EventStatus, Run: run}); err != nil {
		return
	}
	if run.Done() {
		closeNormal(conn)
		return
	}

	actions := make(chan ws.Action)
	go func() {
		defer cancel()
		for {
			var msg ws.RequestEnvelope
			if err := ws.ReadJSON(conn, &msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					wsLog.Warn().Err(err).Msg("Unexpected close")
				}
				return
			}
			select {
			case actions <- msg.Action:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case action := <-actions:
			if err := h.answer(ctx, conn, id, action); err != nil {
				return
			}

		case ev, open := <-events:
			if !open {
				return
			}
			if err := ws.WriteTyped(conn, ws.RunEventResponse{Event: ws.EventRun, Data: ev}); err != nil {
				return
			}
			if ev.Type == model.RunEventFinished || ev.Type == model.RunEventFailed {
				closeNormal(conn)
				return
			}
		}
	}
}

// answer replies to one client action.
func (h *WSHandler) answer(ctx context.Context, conn *websocket.Conn, id uuid.UUID, action ws.Action) error {
	switch action {
	case ws.ActionPing:
		return ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
	case ws.ActionStatus:
		run, err := h.runs.Get(ctx, id)
		if err != nil {
			return ws.WriteError(conn, "run lookup failed")
		}
		return ws.WriteTyped(conn, ws.StatusResponse{Event: ws.EventStatus, Run: run})
	default:
		return ws.WriteError(conn, "unknown action: "+string(action))
	}
}

func closeNormal(conn *websocket.Conn) {
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run complete"))
}
