package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"councild/internal/broadcast"
	"councild/internal/orchestrator"
)

// StatusHandler exposes the daemon control surface: status query and manual
// cycle triggering.
type StatusHandler struct {
	Daemon      *orchestrator.Daemon
	Coordinator *orchestrator.Coordinator
	Hub         *broadcast.Hub
}

func (h *StatusHandler) Register(r *gin.Engine) {
	r.GET("/api/v1/daemon/status", h.status)
	r.POST("/api/v1/councils/:id/cycle", h.triggerCycle)
}

func (h *StatusHandler) status(c *gin.Context) {
	if h.Daemon == nil {
		Error(c, http.StatusServiceUnavailable, "daemon unavailable", nil)
		return
	}
	report := h.Daemon.Status(c.Request.Context())
	meta := map[string]any{}
	if h.Hub != nil {
		meta["subscribers"] = h.Hub.SubscriberCount()
		meta["dropped_events"] = h.Hub.Dropped()
	}
	Ok(c, report, meta)
}

// triggerCycle fires one manual cycle synchronously. A cycle already in
// flight answers 409 and the fire is dropped.
func (h *StatusHandler) triggerCycle(c *gin.Context) {
	if h.Coordinator == nil {
		Error(c, http.StatusServiceUnavailable, "coordinator unavailable", nil)
		return
	}
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid council id", nil)
		return
	}
	testMode := c.Query("test_mode") == "true"

	run, err := h.Coordinator.RunCycle(c.Request.Context(), id, nil, "manual", testMode)
	if err != nil {
		if errors.Is(err, orchestrator.ErrCycleInProgress) {
			Error(c, http.StatusConflict, "cycle already in progress", nil)
			return
		}
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, run, nil)
}
