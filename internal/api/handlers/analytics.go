package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/peoplecounter/internal/analytics"
)

const dateFormat = "2006-01-02"

type AnalyticsHandler struct {
	svc *analytics.Service
}

func NewAnalyticsHandler(svc *analytics.Service) *AnalyticsHandler {
	return &AnalyticsHandler{svc: svc}
}

// Period handles /day, /week and /month with an optional ?date= anchor.
func (h *AnalyticsHandler) Period(kind analytics.PeriodKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		anchor, ok := h.anchorDate(c)
		if !ok {
			return
		}
		stats, err := h.svc.Period(c.Request.Context(), kind, anchor)
		if err != nil {
			respondError(c, http.StatusInternalServerError, "analytics_error", "failed to compute period stats")
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}

func (h *AnalyticsHandler) Hourly(c *gin.Context) {
	day, ok := h.anchorDate(c)
	if !ok {
		return
	}
	rows, err := h.svc.Hourly(c.Request.Context(), day)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "analytics_error", "failed to compute hourly stats")
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *AnalyticsHandler) Daily(c *gin.Context) {
	start, end, ok := h.rangeDates(c)
	if !ok {
		return
	}
	rows, err := h.svc.DailyRange(c.Request.Context(), start, end)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "analytics_error", "failed to compute daily stats")
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *AnalyticsHandler) Monthly(c *gin.Context) {
	start, end, ok := h.rangeDates(c)
	if !ok {
		return
	}
	rows, err := h.svc.MonthlyRange(c.Request.Context(), start, end)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "analytics_error", "failed to compute monthly stats")
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *AnalyticsHandler) WeekdayStats(c *gin.Context) {
	days, ok := h.daysParam(c)
	if !ok {
		return
	}
	rows, err := h.svc.WeekdayStats(c.Request.Context(), days)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "analytics_error", "failed to compute weekday stats")
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *AnalyticsHandler) Averages(c *gin.Context) {
	avg, err := h.svc.Averages(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "analytics_error", "failed to compute averages")
		return
	}
	c.JSON(http.StatusOK, avg)
}

func (h *AnalyticsHandler) GrowthTrend(c *gin.Context) {
	trend, err := h.svc.GrowthTrend(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "analytics_error", "failed to compute growth trend")
		return
	}
	c.JSON(http.StatusOK, trend)
}

func (h *AnalyticsHandler) PeakHourAvg(c *gin.Context) {
	days, ok := h.daysParam(c)
	if !ok {
		return
	}
	peak, err := h.svc.PeakHourAvg(c.Request.Context(), days)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "analytics_error", "failed to compute peak hour")
		return
	}
	c.JSON(http.StatusOK, peak)
}

func (h *AnalyticsHandler) PredictPeak(c *gin.Context) {
	days, ok := h.daysParam(c)
	if !ok {
		return
	}
	pred, err := h.svc.PredictPeak(c.Request.Context(), days)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "analytics_error", "failed to predict peak")
		return
	}
	c.JSON(http.StatusOK, pred)
}

// anchorDate parses ?date= in the reporting zone, defaulting to now.
func (h *AnalyticsHandler) anchorDate(c *gin.Context) (time.Time, bool) {
	raw := c.Query("date")
	if raw == "" {
		return time.Now(), true
	}
	t, err := time.ParseInLocation(dateFormat, raw, h.svc.Location())
	if err != nil {
		respondError(c, http.StatusBadRequest, "validation_error", "date must be YYYY-MM-DD")
		return time.Time{}, false
	}
	return t, true
}

func (h *AnalyticsHandler) rangeDates(c *gin.Context) (time.Time, time.Time, bool) {
	loc := h.svc.Location()
	start, err := time.ParseInLocation(dateFormat, c.Query("start"), loc)
	if err != nil {
		respondError(c, http.StatusBadRequest, "validation_error", "start must be YYYY-MM-DD")
		return time.Time{}, time.Time{}, false
	}
	end, err := time.ParseInLocation(dateFormat, c.Query("end"), loc)
	if err != nil {
		respondError(c, http.StatusBadRequest, "validation_error", "end must be YYYY-MM-DD")
		return time.Time{}, time.Time{}, false
	}
	if end.Before(start) {
		respondError(c, http.StatusBadRequest, "validation_error", "end must not precede start")
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

func (h *AnalyticsHandler) daysParam(c *gin.Context) (int, bool) {
	raw := c.DefaultQuery("days", "30")
	days, err := strconv.Atoi(raw)
	if err != nil || days <= 0 {
		respondError(c, http.StatusBadRequest, "validation_error", "days must be a positive integer")
		return 0, false
	}
	return days, true
}
