// Package worker runs the single CV loop: frame source → detector+tracker →
// counting engine → store, bus and optional sinks. All pipeline state is
// owned by the Run goroutine; the API reaches it only through the status
// snapshot and the command channel.
package worker

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/your-org/peoplecounter/internal/bus"
	"github.com/your-org/peoplecounter/internal/config"
	"github.com/your-org/peoplecounter/internal/counter"
	"github.com/your-org/peoplecounter/internal/models"
	"github.com/your-org/peoplecounter/internal/observability"
	"github.com/your-org/peoplecounter/internal/reid"
	"github.com/your-org/peoplecounter/internal/source"
	"github.com/your-org/peoplecounter/internal/storage"
	"github.com/your-org/peoplecounter/internal/vision"
	"github.com/your-org/peoplecounter/pkg/dto"
)

const (
	// CameraOffline, initializing and online are the camera_status values.
	CameraOffline      = "offline"
	CameraInitializing = "initializing"
	CameraOnline       = "online"

	frameTimeout = 10 * time.Second
	// fpsAlpha is the EWMA weight, ~30 frames of memory.
	fpsAlpha = 2.0 / 31.0
)

// Bridge forwards a counted event to an external sink.
type Bridge interface {
	Publish(ctx context.Context, ev models.Event) error
}

// Preview receives annotated JPEG frames for the MJPEG endpoint.
type Preview interface {
	UpdateJPEG(jpeg []byte)
}

// SnapshotSink stores annotated crossing frames.
type SnapshotSink interface {
	PutSnapshot(ctx context.Context, key string, jpeg []byte) error
}

// ReconfigureRequest swaps the live camera source. Either Settings (stored
// camera configuration) or RawInput (direct ffmpeg input) must be set.
type ReconfigureRequest struct {
	Settings *models.CameraSettings
	RawInput string
	Reset    bool
}

type command struct {
	reconfigure *ReconfigureRequest
	reset       *dto.ResetRequest
	reply       chan error
}

// Worker drives the counting pipeline.
type Worker struct {
	cfg       *config.Config
	store     storage.Store
	bus       *bus.Bus
	engine    *counter.Engine
	proc      vision.Processor
	gallery   *reid.Gallery // nil when Re-ID is disabled
	snapshots SnapshotSink  // nil when MinIO is not configured
	bridges   []Bridge
	preview   Preview // nil without MJPEG viewers configured

	// newSource and insertRetry are injectable for tests.
	newSource   func(input string) source.Source
	insertRetry func() backoff.BackOff

	commands chan command
	status   atomic.Pointer[dto.SystemStatus]

	// Run-goroutine state.
	src        source.Source
	configID   int64
	lineSet    bool
	fps        float64
	cameraFPS  float64
	lastFrame  time.Time
	lastCap    time.Time
	startedAt  time.Time
	failSeq    int64
	reopenWait *backoff.ExponentialBackOff
}

type Option func(*Worker)

func WithGallery(g *reid.Gallery) Option {
	return func(w *Worker) { w.gallery = g }
}

func WithSnapshots(s SnapshotSink) Option {
	return func(w *Worker) { w.snapshots = s }
}

func WithBridges(bridges ...Bridge) Option {
	return func(w *Worker) { w.bridges = bridges }
}

func WithPreview(p Preview) Option {
	return func(w *Worker) { w.preview = p }
}

// WithSourceFactory overrides how camera inputs become sources.
func WithSourceFactory(f func(input string) source.Source) Option {
	return func(w *Worker) { w.newSource = f }
}

func New(cfg *config.Config, store storage.Store, b *bus.Bus, engine *counter.Engine, proc vision.Processor, opts ...Option) *Worker {
	w := &Worker{
		cfg:      cfg,
		store:    store,
		bus:      b,
		engine:   engine,
		proc:     proc,
		commands: make(chan command),
	}
	w.newSource = func(input string) source.Source {
		return source.NewFFmpegSource(input, cfg.Camera.FPSHint, cfg.Detection.ResizeWidth)
	}
	w.insertRetry = func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	}
	for _, opt := range opts {
		opt(w)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 60 * time.Second
	bo.MaxElapsedTime = 0
	w.reopenWait = bo

	w.setStatus(CameraOffline)
	return w
}

// Status returns the latest snapshot; safe from any goroutine.
func (w *Worker) Status() dto.SystemStatus {
	return *w.status.Load()
}

// Reconfigure asks the Run goroutine to swap the camera source
// (validate-then-swap) and waits for the outcome.
func (w *Worker) Reconfigure(ctx context.Context, req ReconfigureRequest) error {
	return w.send(ctx, command{reconfigure: &req, reply: make(chan error, 1)})
}

// Reset zeroes the counters; idempotent.
func (w *Worker) Reset(ctx context.Context, clearGallery bool) error {
	return w.send(ctx, command{reset: &dto.ResetRequest{ClearGallery: clearGallery}, reply: make(chan error, 1)})
}

func (w *Worker) send(ctx context.Context, cmd command) error {
	select {
	case w.commands <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the pipeline until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.startedAt = time.Now()
	defer w.shutdown()

	for ctx.Err() == nil {
		w.serviceCommands(ctx)

		if w.src == nil {
			if !w.openActiveSource(ctx) {
				continue
			}
		}

		frameCtx, cancel := context.WithTimeout(ctx, frameTimeout)
		frame, err := w.src.NextFrame(frameCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("frame source failed", "error", err)
			w.dropSource()
			continue
		}

		w.processFrame(ctx, frame)
	}
}

func (w *Worker) shutdown() {
	if w.src != nil {
		_ = w.src.Close()
		w.src = nil
	}
	if w.gallery != nil {
		w.gallery.Save()
	}
	w.setStatus(CameraOffline)
}

// serviceCommands drains pending commands without blocking the frame loop.
func (w *Worker) serviceCommands(ctx context.Context) {
	for {
		select {
		case cmd := <-w.commands:
			w.handleCommand(ctx, cmd)
		default:
			return
		}
	}
}

func (w *Worker) handleCommand(ctx context.Context, cmd command) {
	switch {
	case cmd.reconfigure != nil:
		cmd.reply <- w.handleReconfigure(ctx, *cmd.reconfigure)
	case cmd.reset != nil:
		w.handleReset(cmd.reset.ClearGallery)
		cmd.reply <- nil
	default:
		cmd.reply <- nil
	}
}

// handleReconfigure opens the new source first and only then retires the old
// one; on failure the running source is untouched.
func (w *Worker) handleReconfigure(ctx context.Context, req ReconfigureRequest) error {
	input := req.RawInput
	if input == "" {
		if req.Settings == nil {
			return fmt.Errorf("reconfigure without settings or source")
		}
		var err error
		input, err = source.StreamURL(req.Settings, w.cfg.Camera.ProxyBase)
		if err != nil {
			return fmt.Errorf("build stream url: %w", err)
		}
	}

	w.setStatusWith(CameraInitializing)
	next := w.newSource(input)
	if err := next.Open(ctx); err != nil {
		w.setStatusWith(w.cameraStatus())
		return fmt.Errorf("open new source: %w", err)
	}

	if w.src != nil {
		_ = w.src.Close()
	}
	w.src = next
	w.lastFrame, w.lastCap = time.Time{}, time.Time{}
	w.reopenWait.Reset()

	if req.Settings != nil {
		w.applySettings(req.Settings)
	}
	if req.Reset {
		w.handleReset(false)
	}
	if resetter, ok := w.proc.(interface{ ResetTracks() }); ok {
		resetter.ResetTracks()
	}

	w.setStatusWith(CameraOnline)
	w.bus.Publish(bus.Message{Type: bus.TypeStatus, Data: dto.StatusMessage{
		Message: "camera source switched",
	}})
	slog.Info("camera source switched", "input", source.MaskCredentials(input), "config_id", w.configID)
	return nil
}

func (w *Worker) applySettings(cs *models.CameraSettings) {
	w.configID = cs.ID
	if cs.LineX != nil {
		w.engine.SetLine(float32(*cs.LineX))
		w.lineSet = true
	} else {
		// Recenter on the next decoded frame.
		w.lineSet = false
	}
	if cs.DirectionIn != "" {
		w.engine.SetDirectionIn(cs.DirectionIn)
	}
}

func (w *Worker) handleReset(clearGallery bool) {
	w.engine.Reset()
	if clearGallery && w.gallery != nil {
		w.gallery.Clear()
	}
	w.setStatusWith(w.cameraStatus())
	slog.Info("counters reset", "clear_gallery", clearGallery)
}

// openActiveSource builds the source from the active camera settings (config
// defaults when none are stored) and opens it, backing off on failure.
// Returns false when the loop should come back later.
func (w *Worker) openActiveSource(ctx context.Context) bool {
	w.setStatusWith(CameraInitializing)

	cs, err := w.activeSettings(ctx)
	if err == nil {
		var input string
		input, err = source.StreamURL(cs, w.cfg.Camera.ProxyBase)
		if err == nil {
			src := w.newSource(input)
			if err = src.Open(ctx); err == nil {
				w.src = src
				w.applySettings(cs)
				w.lastFrame, w.lastCap = time.Time{}, time.Time{}
				w.reopenWait.Reset()
				w.setStatusWith(CameraOnline)
				return true
			}
		}
	}

	w.setStatusWith(CameraOffline)
	wait := w.reopenWait.NextBackOff()
	slog.Warn("camera open failed", "error", err, "retry_in", wait)

	// Keep serving commands while waiting; a reconfigure may bring the
	// camera back before the next retry.
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case cmd := <-w.commands:
			w.handleCommand(ctx, cmd)
			if w.src != nil {
				return true
			}
		case <-timer.C:
			return false
		}
	}
}

func (w *Worker) activeSettings(ctx context.Context) (*models.CameraSettings, error) {
	cs, err := w.store.ActiveCameraSettings(ctx)
	if err == nil {
		return cs, nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		fallback := w.cfg.CameraSettings()
		return &fallback, nil
	}
	return nil, fmt.Errorf("load active camera settings: %w", err)
}

func (w *Worker) dropSource() {
	if w.src != nil {
		_ = w.src.Close()
		w.src = nil
	}
	w.setStatusWith(CameraOffline)
}

func (w *Worker) processFrame(ctx context.Context, frame source.Frame) {
	img, err := vision.DecodeJPEG(frame.Data)
	if err != nil {
		slog.Debug("dropping undecodable frame", "error", err)
		return
	}

	if !w.lineSet {
		w.engine.SetLine(float32(img.Bounds().Dx()) / 2)
		w.lineSet = true
	}

	obs, err := w.proc.Process(img, frame.CapturedAt)
	if err != nil {
		slog.Warn("frame processing failed", "error", err)
		return
	}

	events := w.engine.Process(img, obs, frame.CapturedAt)
	for i := range events {
		w.emitEvent(ctx, &events[i], img, obs)
	}

	w.updateRates(frame.CapturedAt)
	observability.FramesProcessed.Inc()
	w.setStatusWith(CameraOnline)

	if w.preview != nil {
		w.preview.UpdateJPEG(w.annotated(img, obs))
	}
}

// emitEvent persists one crossing (bounded retry) and fans it out. A final
// store failure publishes the event with a negative placeholder id so live
// dashboards stay consistent with the counters.
func (w *Worker) emitEvent(ctx context.Context, ev *models.Event, img image.Image, obs []counter.Observation) {
	if w.snapshots != nil {
		key := storage.SnapshotKey(ev.Timestamp, ev.TrackID)
		if err := w.snapshots.PutSnapshot(ctx, key, w.annotated(img, obs)); err != nil {
			slog.Warn("snapshot upload failed", "key", key, "error", err)
		} else {
			ev.SnapshotKey = key
		}
	}

	insert := func() error {
		_, err := w.store.InsertEvent(ctx, ev)
		return err
	}
	if err := backoff.Retry(insert, backoff.WithContext(w.insertRetry(), ctx)); err != nil {
		observability.StoreWriteFailures.Inc()
		w.failSeq++
		ev.ID = -w.failSeq
		slog.Error("event not persisted, publishing with placeholder id",
			"placeholder_id", ev.ID, "error", err)
	}

	observability.EventsCounted.WithLabelValues(string(ev.Direction)).Inc()
	slog.Info("event counted", "id", ev.ID, "track_id", ev.TrackID,
		"person_id", ev.PersonID, "direction", ev.Direction)

	w.bus.Publish(bus.Message{Type: bus.TypeEvent, Data: *ev})
	for _, bridge := range w.bridges {
		if err := bridge.Publish(ctx, *ev); err != nil {
			slog.Warn("bridge publish failed", "error", err)
		}
	}
}

func (w *Worker) annotated(img image.Image, obs []counter.Observation) []byte {
	boxes := make([][4]float32, len(obs))
	for i, o := range obs {
		boxes[i] = o.BBox
	}
	return vision.EncodeJPEG(vision.Annotate(img, int(w.engine.LineX()), boxes), 80)
}

// updateRates maintains the processed and camera-side EWMA fps.
func (w *Worker) updateRates(capturedAt time.Time) {
	now := time.Now()
	if !w.lastFrame.IsZero() {
		if dt := now.Sub(w.lastFrame).Seconds(); dt > 0 {
			w.fps += fpsAlpha * (1/dt - w.fps)
		}
	}
	w.lastFrame = now

	if !w.lastCap.IsZero() {
		if dt := capturedAt.Sub(w.lastCap).Seconds(); dt > 0 {
			w.cameraFPS += fpsAlpha * (1/dt - w.cameraFPS)
		}
	}
	w.lastCap = capturedAt
}

func (w *Worker) cameraStatus() string {
	if w.src != nil {
		return CameraOnline
	}
	return CameraOffline
}

// setStatusWith refreshes the snapshot from live engine state; Run goroutine
// only.
func (w *Worker) setStatusWith(cameraStatus string) {
	stats := w.engine.Stats()
	uptime := 0.0
	if !w.startedAt.IsZero() {
		uptime = time.Since(w.startedAt).Seconds()
	}
	st := dto.SystemStatus{
		CameraStatus:  cameraStatus,
		ModelLoaded:   w.proc.ModelLoaded(),
		FPS:           w.fps,
		CameraFPS:     w.cameraFPS,
		ActiveTracks:  stats.ActiveTracks,
		InCount:       stats.In,
		OutCount:      stats.Out,
		ConfigID:      w.configID,
		ReIDEnabled:   w.gallery != nil,
		UptimeSeconds: uptime,
	}
	w.status.Store(&st)

	observability.ActiveTracks.Set(float64(stats.ActiveTracks))
	if cameraStatus == CameraOnline {
		observability.CameraUp.Set(1)
	} else {
		observability.CameraUp.Set(0)
	}
}

// setStatus seeds the snapshot before Run starts (engine state is zero).
func (w *Worker) setStatus(cameraStatus string) {
	st := dto.SystemStatus{CameraStatus: cameraStatus, ReIDEnabled: w.gallery != nil}
	w.status.Store(&st)
}
