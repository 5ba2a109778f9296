// Package storage persists crossing events and camera settings. Two
// backends implement the same contract: embedded SQLite (default) and
// Postgres. Writes come from the single CV worker; reads are concurrent.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/your-org/peoplecounter/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("storage: not found")

// Store is the event and settings persistence contract.
type Store interface {
	// InsertEvent assigns a strictly monotonic id and persists the event
	// durably before returning.
	InsertEvent(ctx context.Context, ev *models.Event) (int64, error)
	// RecentEvents returns up to limit events, newest first.
	RecentEvents(ctx context.Context, limit int) ([]models.Event, error)
	// EventsInRange returns events with start <= timestamp <= end, oldest first.
	EventsInRange(ctx context.Context, start, end time.Time) ([]models.Event, error)
	// CountsInRange returns per-direction totals for the inclusive range.
	CountsInRange(ctx context.Context, start, end time.Time) (in, out int64, err error)
	// ClearEvents removes all stored events.
	ClearEvents(ctx context.Context) error
	// OldestEventTime returns the timestamp of the first stored event, or a
	// zero time when the store is empty.
	OldestEventTime(ctx context.Context) (time.Time, error)

	// AggregateByHour returns 24 dense rows for the day containing day,
	// boundaries taken in loc.
	AggregateByHour(ctx context.Context, day time.Time, loc *time.Location) ([]models.HourlyCount, error)
	// AggregateByDay returns sparse per-day rows for [start, end] in loc.
	AggregateByDay(ctx context.Context, start, end time.Time, loc *time.Location) ([]models.DailyCount, error)
	// AggregateByMonth returns sparse per-month rows for [start, end] in loc.
	AggregateByMonth(ctx context.Context, start, end time.Time, loc *time.Location) ([]models.MonthlyCount, error)

	CreateCameraSettings(ctx context.Context, s *models.CameraSettings) error
	// UpdateCameraSettings applies s to the stored row; an empty password
	// keeps the previously stored one.
	UpdateCameraSettings(ctx context.Context, id int64, s *models.CameraSettings) error
	GetCameraSettings(ctx context.Context, id int64) (*models.CameraSettings, error)
	ActiveCameraSettings(ctx context.Context) (*models.CameraSettings, error)
	ListCameraSettings(ctx context.Context) ([]models.CameraSettings, error)
	ActivateCameraSettings(ctx context.Context, id int64) error

	SchemaVersion(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

// --- Shared aggregation ---
//
// Hour, day and month buckets depend on the analytics time zone, which only
// the process knows. Both backends therefore range-scan on the indexed
// timestamp column and bucket in Go, so boundaries stay correct in the
// configured zone regardless of SQL dialect.

func bucketByHour(events []models.Event, day time.Time, loc *time.Location) []models.HourlyCount {
	rows := make([]models.HourlyCount, 24)
	for h := range rows {
		rows[h].Hour = h
	}
	for _, ev := range events {
		local := ev.Timestamp.In(loc)
		if local.Year() != day.Year() || local.YearDay() != day.YearDay() {
			continue
		}
		addDirection(&rows[local.Hour()].In, &rows[local.Hour()].Out, ev.Direction)
	}
	return rows
}

func bucketByDay(events []models.Event, loc *time.Location) []models.DailyCount {
	byDay := make(map[string]*models.DailyCount)
	var order []string
	for _, ev := range events {
		key := ev.Timestamp.In(loc).Format("2006-01-02")
		row, ok := byDay[key]
		if !ok {
			row = &models.DailyCount{Date: key}
			byDay[key] = row
			order = append(order, key)
		}
		addDirection(&row.In, &row.Out, ev.Direction)
	}
	out := make([]models.DailyCount, 0, len(order))
	for _, key := range order {
		out = append(out, *byDay[key])
	}
	return out
}

func bucketByMonth(events []models.Event, loc *time.Location) []models.MonthlyCount {
	byMonth := make(map[string]*models.MonthlyCount)
	var order []string
	for _, ev := range events {
		key := ev.Timestamp.In(loc).Format("2006-01")
		row, ok := byMonth[key]
		if !ok {
			row = &models.MonthlyCount{Month: key}
			byMonth[key] = row
			order = append(order, key)
		}
		addDirection(&row.In, &row.Out, ev.Direction)
	}
	out := make([]models.MonthlyCount, 0, len(order))
	for _, key := range order {
		out = append(out, *byMonth[key])
	}
	return out
}

func addDirection(in, out *int64, d models.Direction) {
	if d == models.DirectionIn {
		*in++
	} else {
		*out++
	}
}

// dayBounds returns [00:00, 24:00) of the day containing t in loc.
func dayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}
