package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/peoplecounter/internal/analytics"
	"github.com/your-org/peoplecounter/internal/api/handlers"
	"github.com/your-org/peoplecounter/internal/auth"
	"github.com/your-org/peoplecounter/internal/bus"
	"github.com/your-org/peoplecounter/internal/config"
	"github.com/your-org/peoplecounter/internal/export"
	"github.com/your-org/peoplecounter/internal/health"
	"github.com/your-org/peoplecounter/internal/models"
	"github.com/your-org/peoplecounter/internal/storage"
	"github.com/your-org/peoplecounter/internal/worker"
	"github.com/your-org/peoplecounter/pkg/dto"
)

type fakeWorker struct {
	status       dto.SystemStatus
	reconfigured *worker.ReconfigureRequest
	resets       int
}

func (f *fakeWorker) Status() dto.SystemStatus { return f.status }

func (f *fakeWorker) Reconfigure(ctx context.Context, req worker.ReconfigureRequest) error {
	f.reconfigured = &req
	return nil
}

func (f *fakeWorker) Reset(ctx context.Context, clearGallery bool) error {
	f.resets++
	return nil
}

// fakeObjectStore keeps snapshots in a map and records batch deletes.
type fakeObjectStore struct {
	objects map[string][]byte
	deleted []string
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: make(map[string][]byte)}
}

func (f *fakeObjectStore) GetSnapshot(_ context.Context, key string) ([]byte, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("no object %s", key)
	}
	return data, nil
}

func (f *fakeObjectStore) ListSnapshots(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	for key := range f.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (f *fakeObjectStore) DeleteSnapshots(_ context.Context, keys []string) error {
	for _, key := range keys {
		delete(f.objects, key)
		f.deleted = append(f.deleted, key)
	}
	return nil
}

type fakePinger struct{ err error }

func (f fakePinger) Ping() error { return f.err }

func testDeps(t *testing.T) (Deps, *fakeWorker, storage.Store) {
	t.Helper()

	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	manager, err := auth.NewManager(config.AuthConfig{
		Username:  "admin",
		Password:  "secret",
		JWTSecret: "test-secret",
		TokenTTL:  time.Hour,
	})
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.ReID.MaxAgeDays = 30

	fw := &fakeWorker{status: dto.SystemStatus{
		CameraStatus: "online",
		InCount:      3,
		OutCount:     1,
		ActiveTracks: 2,
		FPS:          4.5,
	}}

	svc := analytics.New(store, time.UTC)
	return Deps{
		Cfg:       cfg,
		Store:     store,
		Auth:      manager,
		Worker:    fw,
		Analytics: svc,
		Exporter:  export.New(store, time.UTC),
		Bus:       bus.New(),
		Health:    health.NewChecker(config.StreamConfig{Mode: "mjpeg"}),
	}, fw, store
}

func newTestRouter(t *testing.T) (http.Handler, *fakeWorker, storage.Store) {
	t.Helper()
	deps, fw, store := testDeps(t)
	return NewRouter(deps), fw, store
}

func login(t *testing.T, r http.Handler) string {
	t.Helper()
	body, _ := json.Marshal(dto.LoginRequest{Username: "admin", Password: "secret"})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var tok dto.TokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tok))
	require.NotEmpty(t, tok.AccessToken)
	return tok.AccessToken
}

func authedGet(r http.Handler, token, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)
	return w
}

func authedPost(r http.Handler, token, path string, body []byte) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)
	return w
}

func TestLoginAndMe(t *testing.T) {
	r, _, _ := newTestRouter(t)
	token := login(t, r)

	w := authedGet(r, token, "/api/auth/me")
	require.Equal(t, http.StatusOK, w.Code)
	var me dto.MeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &me))
	assert.Equal(t, "admin", me.Username)
}

func TestProtectedRoutesRejectMissingToken(t *testing.T) {
	r, _, _ := newTestRouter(t)

	for _, path := range []string{"/api/system/status", "/api/events", "/api/analytics/day"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)

		var errResp dto.ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
		assert.Equal(t, "unauthorized", errResp.Code)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	r, _, _ := newTestRouter(t)

	body, _ := json.Marshal(dto.LoginRequest{Username: "admin", Password: "nope"})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body)))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestStatsAndStatus(t *testing.T) {
	r, _, _ := newTestRouter(t)
	token := login(t, r)

	w := authedGet(r, token, "/api/stats/current")
	require.Equal(t, http.StatusOK, w.Code)
	var stats dto.StatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(3), stats.InCount)
	assert.Equal(t, "online", stats.CameraStatus)

	w = authedGet(r, token, "/api/system/status")
	require.Equal(t, http.StatusOK, w.Code)
	var status dto.SystemStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, 2, status.ActiveTracks)
}

func TestEventsListAndClear(t *testing.T) {
	r, _, store := newTestRouter(t)
	token := login(t, r)

	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		ev := models.Event{Timestamp: base.Add(time.Duration(i) * time.Minute), TrackID: int64(i + 1), Direction: models.DirectionIn}
		_, err := store.InsertEvent(context.Background(), &ev)
		require.NoError(t, err)
	}

	w := authedGet(r, token, "/api/events?limit=2")
	require.Equal(t, http.StatusOK, w.Code)
	var list dto.EventListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 2, list.Total)
	assert.Equal(t, int64(3), list.Events[0].TrackID, "newest first")

	w = authedPost(r, token, "/api/events/clear", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = authedGet(r, token, "/api/events")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Zero(t, list.Total)
}

func TestEventsClearPurgesSnapshots(t *testing.T) {
	deps, _, store := testDeps(t)
	objects := newFakeObjectStore()
	deps.Snapshots = objects
	r := NewRouter(deps)
	token := login(t, r)

	ts := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	keyA := storage.SnapshotKey(ts, 1)
	keyB := storage.SnapshotKey(ts.Add(time.Minute), 2)
	objects.objects[keyA] = []byte("jpeg-a")
	objects.objects[keyB] = []byte("jpeg-b")
	ev := models.Event{Timestamp: ts, TrackID: 1, Direction: models.DirectionIn, SnapshotKey: keyA}
	_, err := store.InsertEvent(context.Background(), &ev)
	require.NoError(t, err)

	w := authedPost(r, token, "/api/events/clear", nil)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Empty(t, objects.objects, "all crossing snapshots removed")
	assert.ElementsMatch(t, []string{keyA, keyB}, objects.deleted)
}

func TestEventsListRejectsBadLimit(t *testing.T) {
	r, _, _ := newTestRouter(t)
	token := login(t, r)

	w := authedGet(r, token, "/api/events?limit=zero")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSwitchRequiresSourceOrSettings(t *testing.T) {
	r, fw, _ := newTestRouter(t)
	token := login(t, r)

	w := authedPost(r, token, "/api/camera/switch", []byte(`{}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Nil(t, fw.reconfigured)

	w = authedPost(r, token, "/api/camera/switch", []byte(`{"source":"rtsp://10.0.0.5/stream","reset":true}`))
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, fw.reconfigured)
	assert.Equal(t, "rtsp://10.0.0.5/stream", fw.reconfigured.RawInput)
	assert.True(t, fw.reconfigured.Reset)
}

func TestResetInvokesWorker(t *testing.T) {
	r, fw, _ := newTestRouter(t)
	token := login(t, r)

	w := authedPost(r, token, "/api/reset", []byte(`{"clear_gallery":true}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, fw.resets)
}

func TestAnalyticsDayEndpoint(t *testing.T) {
	r, _, store := newTestRouter(t)
	token := login(t, r)

	now := time.Now().UTC()
	ev := models.Event{Timestamp: now, TrackID: 1, Direction: models.DirectionIn}
	_, err := store.InsertEvent(context.Background(), &ev)
	require.NoError(t, err)

	w := authedGet(r, token, "/api/analytics/day")
	require.Equal(t, http.StatusOK, w.Code)
	var period dto.PeriodStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &period))
	assert.Equal(t, "day", period.Period)
	assert.Equal(t, int64(1), period.InCount)
}

func TestAnalyticsRangeValidation(t *testing.T) {
	r, _, _ := newTestRouter(t)
	token := login(t, r)

	w := authedGet(r, token, "/api/analytics/daily?start=2026-03-10&end=2026-03-01")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = authedGet(r, token, "/api/analytics/daily?start=bogus&end=2026-03-01")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReIDDisabledReturns501(t *testing.T) {
	r, _, _ := newTestRouter(t)
	token := login(t, r)

	w := authedGet(r, token, "/api/reid/persons")
	assert.Equal(t, http.StatusNotImplemented, w.Code)

	var errResp dto.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	assert.Equal(t, "not_supported", errResp.Code)
}

func TestHealthIsUnauthenticated(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.Equal(t, "mjpeg", resp.StreamMode)
}

func TestHealthReportsBridgeLiveness(t *testing.T) {
	deps, _, _ := testDeps(t)
	deps.Bridges = map[string]handlers.Pinger{
		"nats": fakePinger{},
		"mqtt": fakePinger{err: errors.New("mqtt not connected")},
	}
	r := NewRouter(deps)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.OK, "a down bridge does not fail the probe")
	assert.Equal(t, "up", resp.Bridges["nats"])
	assert.Equal(t, "down", resp.Bridges["mqtt"])
}

func TestExportCSVEndpoint(t *testing.T) {
	r, _, store := newTestRouter(t)
	token := login(t, r)

	ev := models.Event{Timestamp: time.Now().UTC(), TrackID: 1, Direction: models.DirectionOut}
	_, err := store.InsertEvent(context.Background(), &ev)
	require.NoError(t, err)

	w := authedPost(r, token, "/api/export", []byte(`{"format":"csv"}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")
}
