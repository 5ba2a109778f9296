package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/peoplecounter/internal/export"
	"github.com/your-org/peoplecounter/pkg/dto"
)

type ExportHandler struct {
	exporter *export.Exporter
	loc      *time.Location
}

func NewExportHandler(exporter *export.Exporter, loc *time.Location) *ExportHandler {
	if loc == nil {
		loc = time.Local
	}
	return &ExportHandler{exporter: exporter, loc: loc}
}

// Export renders the requested window as a CSV, XLSX or PDF attachment.
func (h *ExportHandler) Export(c *gin.Context) {
	var req dto.ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	exReq := export.Request{
		Format:        export.Format(req.Format),
		IncludeCharts: req.IncludeCharts,
	}
	if req.StartDate != "" {
		t, err := time.ParseInLocation(dateFormat, req.StartDate, h.loc)
		if err != nil {
			respondError(c, http.StatusBadRequest, "validation_error", "start_date must be YYYY-MM-DD")
			return
		}
		exReq.Start = t
	}
	if req.EndDate != "" {
		t, err := time.ParseInLocation(dateFormat, req.EndDate, h.loc)
		if err != nil {
			respondError(c, http.StatusBadRequest, "validation_error", "end_date must be YYYY-MM-DD")
			return
		}
		// Inclusive end of day.
		exReq.End = t.AddDate(0, 0, 1).Add(-time.Millisecond)
	}

	res, err := h.exporter.Export(c.Request.Context(), exReq)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "export_error", "failed to render export")
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+res.FileName+`"`)
	c.Data(http.StatusOK, res.ContentType, res.Data)
}
