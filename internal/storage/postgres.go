package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/peoplecounter/internal/models"
	"github.com/your-org/peoplecounter/internal/reid"
)

// PostgresStore backs deployments that point database.url at Postgres. It
// additionally mirrors the Re-ID gallery into a pgvector column so
// similar-person lookups run in SQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(url string, maxConns int) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	// Migrations run over a short-lived database/sql handle.
	mdb := sql.OpenDB(stdlib.GetPoolConnector(pool))
	defer mdb.Close()
	if err := migratePostgres(mdb); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PostgresStore) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := s.pool.QueryRow(ctx, `SELECT schema_version FROM meta LIMIT 1`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

// --- Events ---

func (s *PostgresStore) InsertEvent(ctx context.Context, ev *models.Event) (int64, error) {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO events (timestamp, track_id, person_id, direction, snapshot_key)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		ev.Timestamp, ev.TrackID, ev.PersonID, string(ev.Direction), ev.SnapshotKey,
	).Scan(&ev.ID)
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}
	return ev.ID, nil
}

func (s *PostgresStore) RecentEvents(ctx context.Context, limit int) ([]models.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, timestamp, track_id, person_id, direction, snapshot_key
		 FROM events ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	defer rows.Close()
	return scanPgEvents(rows)
}

func (s *PostgresStore) EventsInRange(ctx context.Context, start, end time.Time) ([]models.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, timestamp, track_id, person_id, direction, snapshot_key
		 FROM events WHERE timestamp >= $1 AND timestamp <= $2 ORDER BY id ASC`,
		start, end)
	if err != nil {
		return nil, fmt.Errorf("events in range: %w", err)
	}
	defer rows.Close()
	return scanPgEvents(rows)
}

func (s *PostgresStore) CountsInRange(ctx context.Context, start, end time.Time) (int64, int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT direction, COUNT(*) FROM events
		 WHERE timestamp >= $1 AND timestamp <= $2 GROUP BY direction`,
		start, end)
	if err != nil {
		return 0, 0, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

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

func (s *PostgresStore) OldestEventTime(ctx context.Context) (time.Time, error) {
	var ts time.Time
	err := s.pool.QueryRow(ctx, `SELECT timestamp FROM events ORDER BY id ASC LIMIT 1`).Scan(&ts)
	if err == pgx.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("oldest event: %w", err)
	}
	return ts, nil
}

func (s *PostgresStore) ClearEvents(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM events`); err != nil {
		return fmt.Errorf("clear events: %w", err)
	}
	return nil
}

func (s *PostgresStore) AggregateByHour(ctx context.Context, day time.Time, loc *time.Location) ([]models.HourlyCount, error) {
	start, end := dayBounds(day, loc)
	events, err := s.EventsInRange(ctx, start, end.Add(-time.Millisecond))
	if err != nil {
		return nil, err
	}
	return bucketByHour(events, day.In(loc), loc), nil
}

func (s *PostgresStore) AggregateByDay(ctx context.Context, start, end time.Time, loc *time.Location) ([]models.DailyCount, error) {
	events, err := s.EventsInRange(ctx, start, end)
	if err != nil {
		return nil, err
	}
	return bucketByDay(events, loc), nil
}

func (s *PostgresStore) AggregateByMonth(ctx context.Context, start, end time.Time, loc *time.Location) ([]models.MonthlyCount, error) {
	events, err := s.EventsInRange(ctx, start, end)
	if err != nil {
		return nil, err
	}
	return bucketByMonth(events, loc), nil
}

// --- Camera settings ---

const cameraSettingsCols = `id, kind, device, ip, port, username, password, channel, subtype, proxied_path, line_x, direction_in, is_active, created_at, updated_at`

func (s *PostgresStore) CreateCameraSettings(ctx context.Context, cs *models.CameraSettings) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE camera_settings SET is_active = FALSE`); err != nil {
		return fmt.Errorf("deactivate settings: %w", err)
	}

	now := time.Now().UTC()
	cs.CreatedAt = now
	cs.UpdatedAt = now
	cs.IsActive = true
	err = tx.QueryRow(ctx,
		`INSERT INTO camera_settings (kind, device, ip, port, username, password, channel, subtype, proxied_path, line_x, direction_in, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, TRUE, $12, $13) RETURNING id`,
		string(cs.Kind), cs.Device, cs.IP, cs.Port, cs.Username, cs.Password,
		cs.Channel, cs.Subtype, cs.ProxiedPath, cs.LineX, cs.DirectionIn, cs.CreatedAt, cs.UpdatedAt,
	).Scan(&cs.ID)
	if err != nil {
		return fmt.Errorf("create camera settings: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) UpdateCameraSettings(ctx context.Context, id int64, cs *models.CameraSettings) error {
	prev, err := s.GetCameraSettings(ctx, id)
	if err != nil {
		return err
	}
	if cs.Password == "" {
		cs.Password = prev.Password
	}
	cs.ID = id
	cs.UpdatedAt = time.Now().UTC()
	_, err = s.pool.Exec(ctx,
		`UPDATE camera_settings SET kind = $1, device = $2, ip = $3, port = $4, username = $5, password = $6,
		 channel = $7, subtype = $8, proxied_path = $9, line_x = $10, direction_in = $11, updated_at = $12
		 WHERE id = $13`,
		string(cs.Kind), cs.Device, cs.IP, cs.Port, cs.Username, cs.Password,
		cs.Channel, cs.Subtype, cs.ProxiedPath, cs.LineX, cs.DirectionIn, cs.UpdatedAt, id)
	if err != nil {
		return fmt.Errorf("update camera settings: %w", err)
	}
	cs.IsActive = prev.IsActive
	cs.CreatedAt = prev.CreatedAt
	return nil
}

func (s *PostgresStore) GetCameraSettings(ctx context.Context, id int64) (*models.CameraSettings, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+cameraSettingsCols+` FROM camera_settings WHERE id = $1`, id)
	return scanPgCameraSettings(row)
}

func (s *PostgresStore) ActiveCameraSettings(ctx context.Context) (*models.CameraSettings, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+cameraSettingsCols+` FROM camera_settings WHERE is_active = TRUE LIMIT 1`)
	return scanPgCameraSettings(row)
}

func (s *PostgresStore) ListCameraSettings(ctx context.Context) ([]models.CameraSettings, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+cameraSettingsCols+` FROM camera_settings ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list camera settings: %w", err)
	}
	defer rows.Close()

	var out []models.CameraSettings
	for rows.Next() {
		cs, err := scanPgCameraSettings(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cs)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ActivateCameraSettings(ctx context.Context, id int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE camera_settings SET is_active = FALSE`); err != nil {
		return fmt.Errorf("deactivate settings: %w", err)
	}
	tag, err := tx.Exec(ctx, `UPDATE camera_settings SET is_active = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("activate settings: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return tx.Commit(ctx)
}

// --- Re-ID person mirror (pgvector) ---

func (s *PostgresStore) UpsertPerson(ctx context.Context, p reid.Person) error {
	vec := pgvector.NewVector(p.Embedding)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO reid_persons (person_id, embedding, first_seen, last_seen, appearance_count)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (person_id) DO UPDATE
		 SET embedding = EXCLUDED.embedding, last_seen = EXCLUDED.last_seen, appearance_count = EXCLUDED.appearance_count`,
		p.PersonID, vec, p.FirstSeen, p.LastSeen, p.AppearanceCount)
	if err != nil {
		return fmt.Errorf("upsert person: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeletePerson(ctx context.Context, personID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM reid_persons WHERE person_id = $1`, personID); err != nil {
		return fmt.Errorf("delete person: %w", err)
	}
	return nil
}

func (s *PostgresStore) ClearPersons(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM reid_persons`); err != nil {
		return fmt.Errorf("clear persons: %w", err)
	}
	return nil
}

// SimilarPerson is one row of a pgvector similarity lookup.
type SimilarPerson struct {
	PersonID string
	Score    float32
}

// SimilarPersons returns the closest gallery entries to the given person,
// most similar first, excluding the person itself.
func (s *PostgresStore) SimilarPersons(ctx context.Context, personID string, limit int) ([]SimilarPerson, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.pool.Query(ctx,
		`SELECT other.person_id, 1 - (other.embedding <=> ref.embedding) AS score
		 FROM reid_persons other, reid_persons ref
		 WHERE ref.person_id = $1 AND other.person_id <> $1
		 ORDER BY other.embedding <=> ref.embedding
		 LIMIT $2`, personID, limit)
	if err != nil {
		return nil, fmt.Errorf("similar persons: %w", err)
	}
	defer rows.Close()

	var out []SimilarPerson
	for rows.Next() {
		var sp SimilarPerson
		if err := rows.Scan(&sp.PersonID, &sp.Score); err != nil {
			return nil, fmt.Errorf("scan similar person: %w", err)
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

// --- Scan helpers ---

func scanPgEvents(rows pgx.Rows) ([]models.Event, error) {
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

func scanPgCameraSettings(row pgx.Row) (*models.CameraSettings, error) {
	var cs models.CameraSettings
	var kind string
	if err := row.Scan(&cs.ID, &kind, &cs.Device, &cs.IP, &cs.Port, &cs.Username, &cs.Password,
		&cs.Channel, &cs.Subtype, &cs.ProxiedPath, &cs.LineX, &cs.DirectionIn,
		&cs.IsActive, &cs.CreatedAt, &cs.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan camera settings: %w", err)
	}
	cs.Kind = models.CameraKind(kind)
	return &cs, nil
}
