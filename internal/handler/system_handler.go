package handler

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exchange-allocator/internal/response"
)

const (
	metricsInterval = 7 * time.Second
	probeTimeout    = 2 * time.Second
)

// QueueInspector reports the number of jobs waiting for the allocation worker.
type QueueInspector interface {
	Depth(ctx context.Context) (int64, error)
}

// Probe checks one dependency. A nil error means healthy.
type Probe func(ctx context.Context) error

// SystemHandler reports service health and Go runtime metrics.
type SystemHandler struct {
	queue       QueueInspector
	probes      map[string]Probe
	highsOnPath func() bool
	startTime   time.Time
	log         zerolog.Logger
}

// NewSystemHandler creates a SystemHandler. probes are keyed by dependency
// name ("postgres", "redis"); highsOnPath reports HiGHS availability.
func NewSystemHandler(queue QueueInspector, probes map[string]Probe, highsOnPath func() bool, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		queue:       queue,
		probes:      probes,
		highsOnPath: highsOnPath,
		startTime:   time.Now(),
		log:         log.With().Str("component", "system_handler").Logger(),
	}
}

type systemMetrics struct {
	Timestamp int64  `json:"timestamp"`
	Uptime    string `json:"uptime"`

	// Dependencies
	Dependencies   map[string]string `json:"dependencies"`
	HighsAvailable bool              `json:"highs_available"`

	// Go Application
	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heap_alloc"`
	HeapSys    uint64 `json:"heap_sys"`
	StackInuse uint64 `json:"stack_inuse"`
	NumGC      uint32 `json:"num_gc"`
	GoVersion  string `json:"go_version"`
	NumCPU     int    `json:"num_cpu"`

	// Worker Queue
	QueuedRuns int64 `json:"queued_runs"`
}

// SystemStatus godoc
// GET /api/v1/admin/system/status
// Responds 503 when any dependency probe fails.
func (h *SystemHandler) SystemStatus(c *gin.Context) {
	m := h.collect(c.Request.Context())

	status := http.StatusOK
	for _, state := range m.Dependencies {
		if state != "ok" {
			status = http.StatusServiceUnavailable
			break
		}
	}
	response.Success(c, status, m)
}

// SystemMetricsSSE godoc
// GET /api/v1/admin/system/metrics
func (h *SystemHandler) SystemMetricsSSE(c *gin.Context) {
	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	h.log.Debug().Msg("Admin connected to system metrics SSE")

	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	// Send immediately on connect, then every tick
	h.writeMetrics(c)

	for {
		select {
		case <-reqCtx.Done():
			h.log.Debug().Msg("Admin disconnected from system metrics SSE")
			return
		case <-ticker.C:
			h.writeMetrics(c)
		}
	}
}

func (h *SystemHandler) writeMetrics(c *gin.Context) {
	c.SSEvent("message", h.collect(c.Request.Context()))
	c.Writer.Flush()
}

func (h *SystemHandler) collect(ctx context.Context) systemMetrics {
	m := systemMetrics{
		Timestamp:    time.Now().Unix(),
		Uptime:       formatDuration(time.Since(h.startTime)),
		Dependencies: make(map[string]string, len(h.probes)),
		GoVersion:    runtime.Version(),
		NumCPU:       runtime.NumCPU(),
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	for name, probe := range h.probes {
		if err := probe(probeCtx); err != nil {
			h.log.Warn().Err(err).Str("dependency", name).Msg("Dependency probe failed")
			m.Dependencies[name] = "down"
			continue
		}
		m.Dependencies[name] = "ok"
	}
	if h.highsOnPath != nil {
		m.HighsAvailable = h.highsOnPath()
	}

	// ── Go Runtime ──
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.Goroutines = runtime.NumGoroutine()
	m.HeapAlloc = ms.HeapAlloc
	m.HeapSys = ms.Sys
	m.StackInuse = ms.StackInuse
	m.NumGC = ms.NumGC

	// ── Worker Queue ──
	if h.queue != nil {
		m.QueuedRuns, _ = h.queue.Depth(probeCtx)
	}

	return m
}

// ---------- Helpers ----------

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}
