package dto

type ExportRequest struct {
	Format        string `json:"format" binding:"required,oneof=csv excel pdf"`
	IncludeCharts bool   `json:"include_charts"`
	StartDate     string `json:"start_date"` // YYYY-MM-DD, default end-30d
	EndDate       string `json:"end_date"`   // YYYY-MM-DD, default today
}
