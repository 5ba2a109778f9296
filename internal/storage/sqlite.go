package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/your-org/peoplecounter/internal/models"
)

// SQLiteStore is the default embedded backend. A single writer mutex
// serializes inserts (the worker is the only writer anyway); readers run
// concurrently under WAL.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := migrateSQLite(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := s.db.QueryRowContext(ctx, `SELECT schema_version FROM meta LIMIT 1`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

// --- Events ---

func (s *SQLiteStore) InsertEvent(ctx context.Context, ev *models.Event) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events (timestamp, track_id, person_id, direction, snapshot_key) VALUES (?, ?, ?, ?, ?)`,
		ev.Timestamp.UTC(), ev.TrackID, ev.PersonID, string(ev.Direction), ev.SnapshotKey)
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("event id: %w", err)
	}
	ev.ID = id
	return id, nil
}

func (s *SQLiteStore) RecentEvents(ctx context.Context, limit int) ([]models.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, track_id, person_id, direction, snapshot_key
		 FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *SQLiteStore) EventsInRange(ctx context.Context, start, end time.Time) ([]models.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, track_id, person_id, direction, snapshot_key
		 FROM events WHERE timestamp >= ? AND timestamp <= ? ORDER BY id ASC`,
		start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("events in range: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *SQLiteStore) CountsInRange(ctx context.Context, start, end time.Time) (int64, int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT direction, COUNT(*) FROM events
		 WHERE timestamp >= ? AND timestamp <= ? GROUP BY direction`,
		start.UTC(), end.UTC())
	if err != nil {
		return 0, 0, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()
	return scanCounts(rows)
}

func (s *SQLiteStore) OldestEventTime(ctx context.Context) (time.Time, error) {
	var ts time.Time
	err := s.db.QueryRowContext(ctx, `SELECT timestamp FROM events ORDER BY id ASC LIMIT 1`).Scan(&ts)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("oldest event: %w", err)
	}
	return ts, nil
}

func (s *SQLiteStore) ClearEvents(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM events`); err != nil {
		return fmt.Errorf("clear events: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AggregateByHour(ctx context.Context, day time.Time, loc *time.Location) ([]models.HourlyCount, error) {
	start, end := dayBounds(day, loc)
	events, err := s.EventsInRange(ctx, start, end.Add(-time.Millisecond))
	if err != nil {
		return nil, err
	}
	return bucketByHour(events, day.In(loc), loc), nil
}

func (s *SQLiteStore) AggregateByDay(ctx context.Context, start, end time.Time, loc *time.Location) ([]models.DailyCount, error) {
	events, err := s.EventsInRange(ctx, start, end)
	if err != nil {
		return nil, err
	}
	return bucketByDay(events, loc), nil
}

func (s *SQLiteStore) AggregateByMonth(ctx context.Context, start, end time.Time, loc *time.Location) ([]models.MonthlyCount, error) {
	events, err := s.EventsInRange(ctx, start, end)
	if err != nil {
		return nil, err
	}
	return bucketByMonth(events, loc), nil
}

// --- Camera settings ---

func (s *SQLiteStore) CreateCameraSettings(ctx context.Context, cs *models.CameraSettings) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	// The new row becomes the single active configuration.
	if _, err := tx.ExecContext(ctx, `UPDATE camera_settings SET is_active = 0`); err != nil {
		return fmt.Errorf("deactivate settings: %w", err)
	}

	now := time.Now().UTC()
	cs.CreatedAt = now
	cs.UpdatedAt = now
	cs.IsActive = true
	res, err := tx.ExecContext(ctx,
		`INSERT INTO camera_settings (kind, device, ip, port, username, password, channel, subtype, proxied_path, line_x, direction_in, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		string(cs.Kind), cs.Device, cs.IP, cs.Port, cs.Username, cs.Password,
		cs.Channel, cs.Subtype, cs.ProxiedPath, cs.LineX, cs.DirectionIn, cs.CreatedAt, cs.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create camera settings: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("camera settings id: %w", err)
	}
	cs.ID = id
	return tx.Commit()
}

func (s *SQLiteStore) UpdateCameraSettings(ctx context.Context, id int64, cs *models.CameraSettings) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	prev, err := s.getCameraSettings(ctx, id)
	if err != nil {
		return err
	}
	if cs.Password == "" {
		cs.Password = prev.Password
	}
	cs.ID = id
	cs.UpdatedAt = time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`UPDATE camera_settings SET kind = ?, device = ?, ip = ?, port = ?, username = ?, password = ?,
		 channel = ?, subtype = ?, proxied_path = ?, line_x = ?, direction_in = ?, updated_at = ?
		 WHERE id = ?`,
		string(cs.Kind), cs.Device, cs.IP, cs.Port, cs.Username, cs.Password,
		cs.Channel, cs.Subtype, cs.ProxiedPath, cs.LineX, cs.DirectionIn, cs.UpdatedAt, id)
	if err != nil {
		return fmt.Errorf("update camera settings: %w", err)
	}
	cs.IsActive = prev.IsActive
	cs.CreatedAt = prev.CreatedAt
	return nil
}

func (s *SQLiteStore) GetCameraSettings(ctx context.Context, id int64) (*models.CameraSettings, error) {
	return s.getCameraSettings(ctx, id)
}

func (s *SQLiteStore) getCameraSettings(ctx context.Context, id int64) (*models.CameraSettings, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, device, ip, port, username, password, channel, subtype, proxied_path, line_x, direction_in, is_active, created_at, updated_at
		 FROM camera_settings WHERE id = ?`, id)
	return scanCameraSettings(row)
}

func (s *SQLiteStore) ActiveCameraSettings(ctx context.Context) (*models.CameraSettings, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, device, ip, port, username, password, channel, subtype, proxied_path, line_x, direction_in, is_active, created_at, updated_at
		 FROM camera_settings WHERE is_active = 1 LIMIT 1`)
	return scanCameraSettings(row)
}

func (s *SQLiteStore) ListCameraSettings(ctx context.Context) ([]models.CameraSettings, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, device, ip, port, username, password, channel, subtype, proxied_path, line_x, direction_in, is_active, created_at, updated_at
		 FROM camera_settings ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list camera settings: %w", err)
	}
	defer rows.Close()

	var out []models.CameraSettings
	for rows.Next() {
		cs, err := scanCameraSettingsRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cs)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ActivateCameraSettings(ctx context.Context, id int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE camera_settings SET is_active = 0`); err != nil {
		return fmt.Errorf("deactivate settings: %w", err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE camera_settings SET is_active = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("activate settings: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("activate settings: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// --- Scan helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvents(rows *sql.Rows) ([]models.Event, error) {
	var events []models.Event
	for rows.Next() {
		var ev models.Event
		var dir string
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.TrackID, &ev.PersonID, &dir, &ev.SnapshotKey); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Direction = models.Direction(dir)
		events = append(events, ev)
	}
	return events, rows.Err()
}

func scanCounts(rows *sql.Rows) (int64, int64, error) {
	var in, out int64
	for rows.Next() {
		var dir string
		var n int64
		if err := rows.Scan(&dir, &n); err != nil {
			return 0, 0, fmt.Errorf("scan count: %w", err)
		}
		if models.Direction(dir) == models.DirectionIn {
			in = n
		} else {
			out = n
		}
	}
	return in, out, rows.Err()
}

func scanCameraSettings(row *sql.Row) (*models.CameraSettings, error) {
	cs, err := scanCameraSettingsRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return cs, err
}

func scanCameraSettingsRow(row rowScanner) (*models.CameraSettings, error) {
	var cs models.CameraSettings
	var kind string
	if err := row.Scan(&cs.ID, &kind, &cs.Device, &cs.IP, &cs.Port, &cs.Username, &cs.Password,
		&cs.Channel, &cs.Subtype, &cs.ProxiedPath, &cs.LineX, &cs.DirectionIn,
		&cs.IsActive, &cs.CreatedAt, &cs.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan camera settings: %w", err)
	}
	cs.Kind = models.CameraKind(kind)
	return &cs, nil
}
