package status

import (
	"net/http"
	"runtime"
	"time"

	"github.com/eleven-am/voice-client/internal/session"
	"github.com/labstack/echo/v4"
)

type RuntimeStats struct {
	Goroutines         int    `json:"goroutines"`
	MemoryAllocMB      uint64 `json:"memory_alloc_mb"`
	MemoryTotalAllocMB uint64 `json:"memory_total_alloc_mb"`
	MemorySysMB        uint64 `json:"memory_sys_mb"`
	NumGC              uint32 `json:"num_gc"`
}

type StatusResponse struct {
	Timestamp     time.Time     `json:"timestamp"`
	Version       string        `json:"version"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	Session       session.Stats `json:"session"`
	Runtime       RuntimeStats  `json:"runtime"`
}

// Handler serves the local observability endpoints for one running client.
type Handler struct {
	sess      *session.Session
	version   string
	startTime time.Time
}

func NewHandler(sess *session.Session, version string) *Handler {
	return &Handler{
		sess:      sess,
		version:   version,
		startTime: time.Now(),
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Liveness)
	e.GET("/status", h.Status)
}

func (h *Handler) Liveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (h *Handler) Status(c echo.Context) error {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	resp := StatusResponse{
		Timestamp:     time.Now().UTC(),
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Session:       h.sess.Stats(),
		Runtime: RuntimeStats{
			Goroutines:         runtime.NumGoroutine(),
			MemoryAllocMB:      memStats.Alloc / 1024 / 1024,
			MemoryTotalAllocMB: memStats.TotalAlloc / 1024 / 1024,
			MemorySysMB:        memStats.Sys / 1024 / 1024,
			NumGC:              memStats.NumGC,
		},
	}
	return c.JSON(http.StatusOK, resp)
}
