package dto

// PeriodStats summarizes one day, week or month of crossings.
type PeriodStats struct {
	Period      string `json:"period"`
	Start       string `json:"start"`
	End         string `json:"end"`
	InCount     int64  `json:"in_count"`
	OutCount    int64  `json:"out_count"`
	NetFlow     int64  `json:"net_flow"`
	TotalEvents int64  `json:"total_events"`
}

type HourlyPoint struct {
	Hour int   `json:"hour"`
	In   int64 `json:"in"`
	Out  int64 `json:"out"`
}

type DailyPoint struct {
	Date string `json:"date"`
	In   int64  `json:"in"`
	Out  int64  `json:"out"`
}

type MonthlyPoint struct {
	Month string `json:"month"`
	In    int64  `json:"in"`
	Out   int64  `json:"out"`
}

type WeekdayStat struct {
	Weekday string `json:"weekday"`
	In      int64  `json:"in"`
	Out     int64  `json:"out"`
	Total   int64  `json:"total"`
}

type AveragesResponse struct {
	AvgPerDay   float64 `json:"avg_per_day"`
	AvgPerWeek  float64 `json:"avg_per_week"`
	AvgPerMonth float64 `json:"avg_per_month"`
}

type GrowthTrend struct {
	WeekChangePercent  float64 `json:"week_change_percent"`
	MonthChangePercent float64 `json:"month_change_percent"`
	Trend              string  `json:"trend"` // up, down, stable
}

// PeakHourAvg reports the busiest hour averaged over the observed days.
// PeakHour is null when the window holds no events.
type PeakHourAvg struct {
	PeakHour   *int    `json:"peak_hour"`
	AvgCount   float64 `json:"avg_count"`
	TotalCount int64   `json:"total_count"`
}

// PeakPrediction extrapolates the historical peak hour forward from now.
type PeakPrediction struct {
	PredictedHour *int    `json:"predicted_hour"`
	HoursUntil    *int    `json:"hours_until"`
	ExpectedCount float64 `json:"expected_count"`
	Confidence    float64 `json:"confidence"`
}

// AnalyticsSnapshot is the payload of the periodic "analytics" bus message.
type AnalyticsSnapshot struct {
	Today    PeriodStats   `json:"today"`
	Hourly   []HourlyPoint `json:"hourly"`
	PeakHour PeakHourAvg   `json:"peak_hour"`
	Trend    GrowthTrend   `json:"trend"`
}
