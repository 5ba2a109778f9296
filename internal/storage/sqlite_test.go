package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/peoplecounter/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "counter.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func insertAt(t *testing.T, s *SQLiteStore, ts time.Time, trackID int64, dir models.Direction) models.Event {
	t.Helper()
	ev := models.Event{Timestamp: ts, TrackID: trackID, Direction: dir}
	_, err := s.InsertEvent(context.Background(), &ev)
	require.NoError(t, err)
	return ev
}

func TestInsertEventAssignsMonotonicIDs(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	var last int64
	for i := 0; i < 5; i++ {
		ev := insertAt(t, s, base.Add(time.Duration(i)*time.Second), int64(i+1), models.DirectionIn)
		assert.Greater(t, ev.ID, last)
		last = ev.ID
	}
}

func TestRecentEventsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		insertAt(t, s, base.Add(time.Duration(i)*time.Minute), int64(i+1), models.DirectionIn)
	}

	events, err := s.RecentEvents(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, int64(4), events[0].TrackID)
	assert.Equal(t, int64(3), events[1].TrackID)
	assert.Equal(t, int64(2), events[2].TrackID)
}

func TestEventsInRangeIsInclusive(t *testing.T) {
	s := newTestStore(t)
	start := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	end := start.Add(10 * time.Minute)

	insertAt(t, s, start.Add(-time.Second), 1, models.DirectionIn)
	insertAt(t, s, start, 2, models.DirectionIn)
	insertAt(t, s, end, 3, models.DirectionOut)
	insertAt(t, s, end.Add(time.Second), 4, models.DirectionOut)

	events, err := s.EventsInRange(context.Background(), start, end)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(2), events[0].TrackID)
	assert.Equal(t, int64(3), events[1].TrackID)
}

func TestCountsInRange(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		insertAt(t, s, base.Add(time.Duration(i)*time.Second), int64(i+1), models.DirectionIn)
	}
	insertAt(t, s, base.Add(5*time.Second), 9, models.DirectionOut)

	in, out, err := s.CountsInRange(context.Background(), base, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(3), in)
	assert.Equal(t, int64(1), out)
}

func TestClearEvents(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	insertAt(t, s, base, 1, models.DirectionIn)

	require.NoError(t, s.ClearEvents(context.Background()))

	events, err := s.RecentEvents(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestAggregateByHourDenseAndLocalized(t *testing.T) {
	s := newTestStore(t)
	loc := time.FixedZone("UTC+3", 3*3600)
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, loc)

	// 09:30 local, stored as 06:30 UTC.
	insertAt(t, s, time.Date(2026, 3, 10, 9, 30, 0, 0, loc), 1, models.DirectionIn)
	insertAt(t, s, time.Date(2026, 3, 10, 9, 45, 0, 0, loc), 2, models.DirectionOut)
	insertAt(t, s, time.Date(2026, 3, 10, 23, 59, 0, 0, loc), 3, models.DirectionIn)
	insertAt(t, s, time.Date(2026, 3, 11, 0, 1, 0, 0, loc), 4, models.DirectionIn) // next day

	hours, err := s.AggregateByHour(context.Background(), day, loc)
	require.NoError(t, err)
	require.Len(t, hours, 24)
	assert.Equal(t, int64(1), hours[9].In)
	assert.Equal(t, int64(1), hours[9].Out)
	assert.Equal(t, int64(1), hours[23].In)
	assert.Zero(t, hours[0].In)
}

func TestAggregateByDayAndMonth(t *testing.T) {
	s := newTestStore(t)
	insertAt(t, s, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC), 1, models.DirectionIn)
	insertAt(t, s, time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC), 2, models.DirectionIn)
	insertAt(t, s, time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC), 3, models.DirectionOut)
	insertAt(t, s, time.Date(2026, 4, 2, 12, 0, 0, 0, time.UTC), 4, models.DirectionIn)

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 4, 30, 23, 59, 59, 0, time.UTC)

	days, err := s.AggregateByDay(context.Background(), start, end, time.UTC)
	require.NoError(t, err)
	require.Len(t, days, 3)
	assert.Equal(t, "2026-03-10", days[0].Date)
	assert.Equal(t, int64(2), days[0].In)
	assert.Equal(t, "2026-03-11", days[1].Date)
	assert.Equal(t, int64(1), days[1].Out)

	months, err := s.AggregateByMonth(context.Background(), start, end, time.UTC)
	require.NoError(t, err)
	require.Len(t, months, 2)
	assert.Equal(t, "2026-03", months[0].Month)
	assert.Equal(t, int64(2), months[0].In)
	assert.Equal(t, "2026-04", months[1].Month)
	assert.Equal(t, int64(1), months[1].In)
}

func TestCameraSettingsLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	lineX := 320
	first := models.CameraSettings{
		Kind:        models.CameraKindRTSP,
		IP:          "10.0.0.5",
		Port:        554,
		Username:    "admin",
		Password:    "secret",
		Channel:     1,
		LineX:       &lineX,
		DirectionIn: "L->R",
	}
	require.NoError(t, s.CreateCameraSettings(ctx, &first))
	require.NotZero(t, first.ID)
	assert.True(t, first.IsActive)

	second := models.CameraSettings{
		Kind:        models.CameraKindDevice,
		Device:      "/dev/video0",
		DirectionIn: "R->L",
	}
	require.NoError(t, s.CreateCameraSettings(ctx, &second))

	// Creating a second config deactivates the first.
	active, err := s.ActiveCameraSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)

	require.NoError(t, s.ActivateCameraSettings(ctx, first.ID))
	active, err = s.ActiveCameraSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, active.ID)

	list, err := s.ListCameraSettings(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	assert.ErrorIs(t, s.ActivateCameraSettings(ctx, 9999), ErrNotFound)
}

func TestUpdateCameraSettingsKeepsPasswordWhenEmpty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cs := models.CameraSettings{
		Kind:        models.CameraKindRTSP,
		IP:          "10.0.0.5",
		Port:        554,
		Username:    "admin",
		Password:    "secret",
		DirectionIn: "L->R",
	}
	require.NoError(t, s.CreateCameraSettings(ctx, &cs))

	upd := models.CameraSettings{
		Kind:        models.CameraKindRTSP,
		IP:          "10.0.0.6",
		Port:        554,
		Username:    "admin",
		DirectionIn: "L->R",
	}
	require.NoError(t, s.UpdateCameraSettings(ctx, cs.ID, &upd))
	assert.Equal(t, "secret", upd.Password)

	got, err := s.GetCameraSettings(ctx, cs.ID)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.6", got.IP)
	assert.Equal(t, "secret", got.Password)

	_, err = s.GetCameraSettings(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSchemaVersion(t *testing.T) {
	s := newTestStore(t)
	v, err := s.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}
