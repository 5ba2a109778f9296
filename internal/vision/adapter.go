package vision

import (
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/your-org/peoplecounter/internal/config"
	"github.com/your-org/peoplecounter/internal/counter"
	"github.com/your-org/peoplecounter/internal/observability"
)

// Processor is what the CV worker consumes: per-frame person observations
// with stable track ids.
type Processor interface {
	Process(img image.Image, ts time.Time) ([]counter.Observation, error)
	ModelLoaded() bool
	Close()
}

// Adapter couples the YOLOv8 detector with the greedy IoU tracker. A failed
// model load leaves the adapter running with zero observations; Reload gives
// reconfiguration a chance to pick the model up later.
type Adapter struct {
	cfg config.DetectionConfig

	mu       sync.Mutex
	detector *Detector
	tracker  *Tracker
}

// trackerMaxAgeFrames is how many frames a track survives without a match.
const trackerMaxAgeFrames = 30

func NewAdapter(cfg config.DetectionConfig) *Adapter {
	a := &Adapter{
		cfg:     cfg,
		tracker: NewTracker(trackerMaxAgeFrames),
	}
	if err := a.Reload(); err != nil {
		slog.Error("detection model unavailable, counting disabled until reload",
			"path", cfg.ModelPath, "error", err)
	}
	return a
}

// Reload attempts to (re)load the detection model. A healthy detector is
// kept when the reload fails.
func (a *Adapter) Reload() error {
	det, err := NewDetector(a.cfg.ModelPath, a.cfg.InputSize,
		float32(a.cfg.ConfidenceThreshold), float32(a.cfg.IOUThreshold), nil)
	if err != nil {
		return fmt.Errorf("load detection model: %w", err)
	}

	a.mu.Lock()
	old := a.detector
	a.detector = det
	a.mu.Unlock()
	if old != nil {
		old.Close()
	}
	slog.Info("detection model loaded", "path", a.cfg.ModelPath, "input_size", det.InputSize())
	return nil
}

// ModelLoaded reports whether detection is operational.
func (a *Adapter) ModelLoaded() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.detector != nil
}

// Process runs detect → track on one frame. Without a model it returns no
// observations and no error, so the worker loop keeps serving the API.
func (a *Adapter) Process(img image.Image, ts time.Time) ([]counter.Observation, error) {
	a.mu.Lock()
	det := a.detector
	a.mu.Unlock()
	if det == nil {
		return nil, nil
	}

	start := time.Now()
	detections, err := det.Detect(img)
	if err != nil {
		return nil, fmt.Errorf("detect persons: %w", err)
	}
	observability.InferenceDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())

	start = time.Now()
	tracks := a.tracker.Update(detections)
	observability.InferenceDuration.WithLabelValues("track").Observe(time.Since(start).Seconds())

	obs := make([]counter.Observation, 0, len(tracks))
	for _, tr := range tracks {
		obs = append(obs, counter.Observation{
			TrackID:    tr.ID,
			BBox:       tr.BBox,
			Confidence: tr.Confidence,
		})
	}
	return obs, nil
}

// ResetTracks drops tracker state, e.g. when the camera source changes.
func (a *Adapter) ResetTracks() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tracker.Reset()
}

func (a *Adapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.detector != nil {
		a.detector.Close()
		a.detector = nil
	}
}
