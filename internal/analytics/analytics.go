// Package analytics computes period, trend and peak statistics over the
// event store. All functions are pure reads; the reference clock and the
// reporting time zone are injectable so results are reproducible in tests.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/your-org/peoplecounter/internal/models"
	"github.com/your-org/peoplecounter/internal/storage"
	"github.com/your-org/peoplecounter/pkg/dto"
)

// PeriodKind selects the window of Period.
type PeriodKind string

const (
	PeriodDay   PeriodKind = "day"
	PeriodWeek  PeriodKind = "week"
	PeriodMonth PeriodKind = "month"
)

const dateFormat = "2006-01-02"

// stable band for growth classification, percent.
const stableBand = 5.0

type Service struct {
	store storage.Store
	loc   *time.Location
	now   func() time.Time
}

type Option func(*Service)

// WithClock overrides the reference clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(store storage.Store, loc *time.Location, opts ...Option) *Service {
	s := &Service{store: store, loc: loc, now: time.Now}
	if s.loc == nil {
		s.loc = time.Local
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Location returns the reporting time zone.
func (s *Service) Location() *time.Location { return s.loc }

// Period summarizes the day, Monday-based week or calendar month containing
// anchor.
func (s *Service) Period(ctx context.Context, kind PeriodKind, anchor time.Time) (dto.PeriodStats, error) {
	local := anchor.In(s.loc)
	var start, end time.Time
	switch kind {
	case PeriodDay:
		start = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)
		end = start.AddDate(0, 0, 1)
	case PeriodWeek:
		day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)
		offset := (int(day.Weekday()) + 6) % 7 // Monday = 0
		start = day.AddDate(0, 0, -offset)
		end = start.AddDate(0, 0, 7)
	case PeriodMonth:
		start = time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, s.loc)
		end = start.AddDate(0, 1, 0)
	default:
		return dto.PeriodStats{}, fmt.Errorf("unknown period kind %q", kind)
	}

	in, out, err := s.store.CountsInRange(ctx, start, end.Add(-time.Millisecond))
	if err != nil {
		return dto.PeriodStats{}, err
	}
	return dto.PeriodStats{
		Period:      string(kind),
		Start:       start.Format(dateFormat),
		End:         end.AddDate(0, 0, -1).Format(dateFormat),
		InCount:     in,
		OutCount:    out,
		NetFlow:     in - out,
		TotalEvents: in + out,
	}, nil
}

// Hourly returns 24 zero-filled rows for the day containing day.
func (s *Service) Hourly(ctx context.Context, day time.Time) ([]dto.HourlyPoint, error) {
	rows, err := s.store.AggregateByHour(ctx, day, s.loc)
	if err != nil {
		return nil, err
	}
	out := make([]dto.HourlyPoint, len(rows))
	for i, r := range rows {
		out[i] = dto.HourlyPoint{Hour: r.Hour, In: r.In, Out: r.Out}
	}
	return out, nil
}

// DailyRange returns one row per calendar day of [start, end], zero-filled.
func (s *Service) DailyRange(ctx context.Context, start, end time.Time) ([]dto.DailyPoint, error) {
	startDay := time.Date(start.In(s.loc).Year(), start.In(s.loc).Month(), start.In(s.loc).Day(), 0, 0, 0, 0, s.loc)
	endDay := time.Date(end.In(s.loc).Year(), end.In(s.loc).Month(), end.In(s.loc).Day(), 0, 0, 0, 0, s.loc)

	rows, err := s.store.AggregateByDay(ctx, startDay, endDay.AddDate(0, 0, 1).Add(-time.Millisecond), s.loc)
	if err != nil {
		return nil, err
	}
	byDate := make(map[string]models.DailyCount, len(rows))
	for _, r := range rows {
		byDate[r.Date] = r
	}

	var out []dto.DailyPoint
	for d := startDay; !d.After(endDay); d = d.AddDate(0, 0, 1) {
		key := d.Format(dateFormat)
		r := byDate[key]
		out = append(out, dto.DailyPoint{Date: key, In: r.In, Out: r.Out})
	}
	return out, nil
}

// MonthlyRange returns one row per calendar month of [start, end], zero-filled.
func (s *Service) MonthlyRange(ctx context.Context, start, end time.Time) ([]dto.MonthlyPoint, error) {
	startMonth := time.Date(start.In(s.loc).Year(), start.In(s.loc).Month(), 1, 0, 0, 0, 0, s.loc)
	endMonth := time.Date(end.In(s.loc).Year(), end.In(s.loc).Month(), 1, 0, 0, 0, 0, s.loc)

	rows, err := s.store.AggregateByMonth(ctx, startMonth, endMonth.AddDate(0, 1, 0).Add(-time.Millisecond), s.loc)
	if err != nil {
		return nil, err
	}
	byMonth := make(map[string]models.MonthlyCount, len(rows))
	for _, r := range rows {
		byMonth[r.Month] = r
	}

	var out []dto.MonthlyPoint
	for m := startMonth; !m.After(endMonth); m = m.AddDate(0, 1, 0) {
		key := m.Format("2006-01")
		r := byMonth[key]
		out = append(out, dto.MonthlyPoint{Month: key, In: r.In, Out: r.Out})
	}
	return out, nil
}

// WeekdayStats aggregates the last N days into 7 rows, Monday first.
func (s *Service) WeekdayStats(ctx context.Context, days int) ([]dto.WeekdayStat, error) {
	if days <= 0 {
		days = 30
	}
	now := s.now().In(s.loc)
	events, err := s.store.EventsInRange(ctx, now.AddDate(0, 0, -days), now)
	if err != nil {
		return nil, err
	}

	names := []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}
	rows := make([]dto.WeekdayStat, 7)
	for i, name := range names {
		rows[i].Weekday = name
	}
	for _, ev := range events {
		idx := (int(ev.Timestamp.In(s.loc).Weekday()) + 6) % 7
		if ev.Direction == models.DirectionIn {
			rows[idx].In++
		} else {
			rows[idx].Out++
		}
		rows[idx].Total++
	}
	return rows, nil
}

// Averages reports mean traffic per day, week and month. Each figure needs at
// least one full period of history, otherwise it stays 0.
func (s *Service) Averages(ctx context.Context) (dto.AveragesResponse, error) {
	now := s.now()
	oldest, err := s.store.OldestEventTime(ctx)
	if err != nil {
		return dto.AveragesResponse{}, err
	}
	if oldest.IsZero() {
		return dto.AveragesResponse{}, nil
	}
	history := now.Sub(oldest)

	weekIn, weekOut, err := s.store.CountsInRange(ctx, now.AddDate(0, 0, -7), now)
	if err != nil {
		return dto.AveragesResponse{}, err
	}
	monthIn, monthOut, err := s.store.CountsInRange(ctx, now.AddDate(0, 0, -30), now)
	if err != nil {
		return dto.AveragesResponse{}, err
	}
	weekTotal := float64(weekIn + weekOut)
	monthTotal := float64(monthIn + monthOut)

	var resp dto.AveragesResponse
	if history >= 24*time.Hour {
		resp.AvgPerDay = weekTotal / 7
	}
	if history >= 7*24*time.Hour {
		resp.AvgPerWeek = monthTotal / 4.3
	}
	if history >= 28*24*time.Hour {
		resp.AvgPerMonth = monthTotal
	}
	return resp, nil
}

// GrowthTrend compares the last 7 and 30 days against the preceding windows
// of the same length.
func (s *Service) GrowthTrend(ctx context.Context) (dto.GrowthTrend, error) {
	now := s.now()

	weekChange, err := s.changePercent(ctx, now, 7)
	if err != nil {
		return dto.GrowthTrend{}, err
	}
	monthChange, err := s.changePercent(ctx, now, 30)
	if err != nil {
		return dto.GrowthTrend{}, err
	}

	trend := "stable"
	switch {
	case weekChange >= stableBand:
		trend = "up"
	case weekChange <= -stableBand:
		trend = "down"
	}
	return dto.GrowthTrend{
		WeekChangePercent:  weekChange,
		MonthChangePercent: monthChange,
		Trend:              trend,
	}, nil
}

func (s *Service) changePercent(ctx context.Context, now time.Time, days int) (float64, error) {
	curIn, curOut, err := s.store.CountsInRange(ctx, now.AddDate(0, 0, -days), now)
	if err != nil {
		return 0, err
	}
	prevIn, prevOut, err := s.store.CountsInRange(ctx, now.AddDate(0, 0, -2*days), now.AddDate(0, 0, -days).Add(-time.Millisecond))
	if err != nil {
		return 0, err
	}
	cur := float64(curIn + curOut)
	prev := float64(prevIn + prevOut)
	if prev == 0 {
		if cur == 0 {
			return 0, nil
		}
		return 100, nil
	}
	return (cur - prev) / prev * 100, nil
}

// PeakHourAvg finds the busiest hour of day over the last N days. TotalCount
// is the event count of that hour alone; AvgCount spreads it over the days+1
// calendar days the window touches. PeakHour is nil when the window is empty.
func (s *Service) PeakHourAvg(ctx context.Context, days int) (dto.PeakHourAvg, error) {
	totals, total, _, err := s.hourTotals(ctx, days)
	if err != nil {
		return dto.PeakHourAvg{}, err
	}
	if total == 0 {
		return dto.PeakHourAvg{}, nil
	}

	peak := 0
	for h := 1; h < 24; h++ {
		if totals[h] > totals[peak] {
			peak = h
		}
	}
	if days <= 0 {
		days = 30
	}
	return dto.PeakHourAvg{
		PeakHour:   &peak,
		AvgCount:   float64(totals[peak]) / float64(days+1),
		TotalCount: totals[peak],
	}, nil
}

// PredictPeak extrapolates the historical peak hour forward from now.
func (s *Service) PredictPeak(ctx context.Context, days int) (dto.PeakPrediction, error) {
	if days <= 0 {
		days = 30
	}
	totals, total, observedDays, err := s.hourTotals(ctx, days)
	if err != nil {
		return dto.PeakPrediction{}, err
	}
	if total == 0 {
		return dto.PeakPrediction{}, nil
	}

	peak := 0
	for h := 1; h < 24; h++ {
		if totals[h] > totals[peak] {
			peak = h
		}
	}
	hoursUntil := (peak - s.now().In(s.loc).Hour() + 24) % 24

	mean := float64(total) / 24
	confidence := 100 * min(1, float64(observedDays)/float64(days)) * (float64(totals[peak]) / mean)
	if confidence > 100 {
		confidence = 100
	}
	if confidence < 0 {
		confidence = 0
	}

	return dto.PeakPrediction{
		PredictedHour: &peak,
		HoursUntil:    &hoursUntil,
		ExpectedCount: float64(totals[peak]) / float64(days+1),
		Confidence:    confidence,
	}, nil
}

// hourTotals sums events of the last N days into 24 hour-of-day buckets and
// counts the distinct days that saw any traffic.
func (s *Service) hourTotals(ctx context.Context, days int) ([24]int64, int64, int, error) {
	if days <= 0 {
		days = 30
	}
	now := s.now().In(s.loc)
	events, err := s.store.EventsInRange(ctx, now.AddDate(0, 0, -days), now)
	if err != nil {
		return [24]int64{}, 0, 0, err
	}

	var totals [24]int64
	seenDays := make(map[string]struct{})
	for _, ev := range events {
		local := ev.Timestamp.In(s.loc)
		totals[local.Hour()]++
		seenDays[local.Format(dateFormat)] = struct{}{}
	}
	return totals, int64(len(events)), len(seenDays), nil
}

// Snapshot bundles the live dashboard figures for the periodic broadcast.
func (s *Service) Snapshot(ctx context.Context) (dto.AnalyticsSnapshot, error) {
	now := s.now()

	today, err := s.Period(ctx, PeriodDay, now)
	if err != nil {
		return dto.AnalyticsSnapshot{}, err
	}
	hourly, err := s.Hourly(ctx, now)
	if err != nil {
		return dto.AnalyticsSnapshot{}, err
	}
	peak, err := s.PeakHourAvg(ctx, 30)
	if err != nil {
		return dto.AnalyticsSnapshot{}, err
	}
	trend, err := s.GrowthTrend(ctx)
	if err != nil {
		return dto.AnalyticsSnapshot{}, err
	}
	return dto.AnalyticsSnapshot{
		Today:    today,
		Hourly:   hourly,
		PeakHour: peak,
		Trend:    trend,
	}, nil
}
