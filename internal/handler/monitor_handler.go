package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exchange-allocator/internal/model"
	"github.com/stemsi/exchange-allocator/internal/response"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

// MonitorHandler streams run progress as server-sent events, for clients
// that cannot hold a WebSocket open.
type MonitorHandler struct {
	runs   RunReader
	events RunEventSource
	log    zerolog.Logger

	refreshEvery   time.Duration
	keepAliveEvery time.Duration
}

func NewMonitorHandler(runs RunReader, events RunEventSource, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		runs:           runs,
		events:         events,
		log:            log.With().Str("component", "monitor_handler").Logger(),
		refreshEvery:   refreshInterval,
		keepAliveEvery: keepAliveInterval,
	}
}

// MonitorRunSSE godoc
// GET /api/v1/admin/runs/:id/monitor
// Emits a snapshot, then run events. The stored record is re-read
// periodically so a missed Pub/Sub message cannot leave the client hanging.
func (h *MonitorHandler) MonitorRunSSE(c *gin.Context) {
	id, ok := runID(c)
	if !ok {
		return
	}
	reqCtx := c.Request.Context()

	run, err := h.runs.Get(reqCtx, id)
	if err != nil {
		failFromError(c, err)
		return
	}

	events, closeSub, err := h.events.Subscribe(reqCtx, id)
	if err != nil {
		h.log.Error().Err(err).Str("run_id", id.String()).Msg("Subscribe to run events failed")
		response.Fail(c, http.StatusServiceUnavailable, response.ErrQueueUnavailable)
		return
	}
	defer closeSub()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.SSEvent("message", gin.H{"type": "snapshot", "data": run})
	c.Writer.Flush()
	if run.Done() {
		return
	}

	keepAliveTicker := time.NewTicker(h.keepAliveEvery)
	defer keepAliveTicker.Stop()

	refreshTicker := time.NewTicker(h.refreshEvery)
	defer refreshTicker.Stop()

	h.log.Debug().Str("run_id", id.String()).Msg("Admin attached to run monitor SSE")

	for {
		select {
		case <-reqCtx.Done():
			return

		case ev, open := <-events:
			if !open {
				return
			}
			c.SSEvent("message", gin.H{"type": "event", "data": ev})
			c.Writer.Flush()
			if ev.Type == model.RunEventFinished || ev.Type == model.RunEventFailed {
				return
			}

		case <-refreshTicker.C:
			if h.sendRefresh(c, reqCtx, run.ID) {
				return
			}

		case <-keepAliveTicker.C:
			c.SSEvent("message", gin.H{"type": "ping"})
			c.Writer.Flush()
		}
	}
}

// sendRefresh re-reads the run and emits it. It reports whether the run
// has reached a terminal status.
func (h *MonitorHandler) sendRefresh(c *gin.Context, parentCtx context.Context, id uuid.UUID) bool {
	ctx, cancel := context.WithTimeout(parentCtx, refreshTimeout)
	defer cancel()

	run, err := h.runs.Get(ctx, id)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to refresh run for monitor")
		return false
	}
	c.SSEvent("message", gin.H{"type": "refresh", "data": run})
	c.Writer.Flush()
	return run.Done()
}
