package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/peoplecounter/internal/health"
	"github.com/your-org/peoplecounter/internal/storage"
	"github.com/your-org/peoplecounter/pkg/dto"
)

type SystemHandler struct {
	ctl     WorkerControl
	store   storage.Store
	checker *health.Checker
	bridges map[string]Pinger
}

func NewSystemHandler(ctl WorkerControl, store storage.Store, checker *health.Checker, bridges map[string]Pinger) *SystemHandler {
	return &SystemHandler{ctl: ctl, store: store, checker: checker, bridges: bridges}
}

func (h *SystemHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.ctl.Status())
}

// Reset zeroes the live counters; stored events are kept.
func (h *SystemHandler) Reset(c *gin.Context) {
	var req dto.ResetRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "validation_error", err.Error())
			return
		}
	}
	if err := h.ctl.Reset(c.Request.Context(), req.ClearGallery); err != nil {
		respondError(c, http.StatusInternalServerError, "worker_error", "reset failed")
		return
	}
	c.JSON(http.StatusOK, dto.StatusMessage{Message: "counters reset"})
}

// Health is unauthenticated so load balancers can probe it. A down bridge is
// reported but does not fail the probe: bridges are best-effort by contract.
func (h *SystemHandler) Health(c *gin.Context) {
	resp := dto.HealthResponse{
		OK:         h.store.Ping(c.Request.Context()) == nil,
		StreamMode: h.checker.Mode(),
	}
	if st := h.checker.Status(); st != health.StatusDisabled {
		resp.VPSStatus = string(st)
	}
	if len(h.bridges) > 0 {
		resp.Bridges = make(map[string]string, len(h.bridges))
		for name, b := range h.bridges {
			if err := b.Ping(); err != nil {
				resp.Bridges[name] = "down"
			} else {
				resp.Bridges[name] = "up"
			}
		}
	}
	status := http.StatusOK
	if !resp.OK {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}
