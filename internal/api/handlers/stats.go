package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/peoplecounter/pkg/dto"
)

type StatsHandler struct {
	ctl WorkerControl
}

func NewStatsHandler(ctl WorkerControl) *StatsHandler {
	return &StatsHandler{ctl: ctl}
}

func (h *StatsHandler) Current(c *gin.Context) {
	st := h.ctl.Status()
	c.JSON(http.StatusOK, dto.StatsResponse{
		InCount:      st.InCount,
		OutCount:     st.OutCount,
		ActiveTracks: st.ActiveTracks,
		CameraStatus: st.CameraStatus,
		FPS:          st.FPS,
	})
}
