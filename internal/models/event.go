package models

import "time"

type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// Event is one confirmed line crossing. Immutable once stored.
// A negative ID marks an event that was published on the bus but could not
// be persisted (store write failure).
type Event struct {
	ID          int64     `json:"id" db:"id"`
	Timestamp   time.Time `json:"timestamp" db:"timestamp"`
	TrackID     int64     `json:"track_id" db:"track_id"`
	PersonID    string    `json:"person_id,omitempty" db:"person_id"`
	Direction   Direction `json:"direction" db:"direction"`
	SnapshotKey string    `json:"snapshot_key,omitempty" db:"snapshot_key"` // MinIO key of the annotated crossing frame
}

// HourlyCount is one aggregation row for a single hour of a day.
type HourlyCount struct {
	Hour int   `json:"hour"`
	In   int64 `json:"in"`
	Out  int64 `json:"out"`
}

// DailyCount is one aggregation row for a calendar day (YYYY-MM-DD).
type DailyCount struct {
	Date string `json:"date"`
	In   int64  `json:"in"`
	Out  int64  `json:"out"`
}

// MonthlyCount is one aggregation row for a calendar month (YYYY-MM).
type MonthlyCount struct {
	Month string `json:"month"`
	In    int64  `json:"in"`
	Out   int64  `json:"out"`
}
