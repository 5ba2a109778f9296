package counter

import (
	"image"
	"log/slog"
	"math"
	"time"

	"github.com/your-org/peoplecounter/internal/models"
)

const (
	DirectionInLR = "L->R"
	DirectionInRL = "R->L"
)

// Observation is one tracked person box in original frame pixels.
type Observation struct {
	TrackID    int64
	BBox       [4]float32 // x1, y1, x2, y2
	Confidence float32
}

// Config is the counting tuning in effect for the engine.
type Config struct {
	LineX               float32
	DirectionIn         string // L->R or R->L maps that crossing to IN
	HysteresisPx        float32
	AreaChangeThreshold float64
	MaxAge              time.Duration
	CleanupInterval     time.Duration
}

// ReID links fresh tracks to previously seen persons so that a person who
// disappears and returns is not counted twice. Nil disables the subsystem.
type ReID interface {
	// LinkTrack embeds the person patch and returns the matched or newly
	// registered person id. Errors only degrade linking, never counting.
	LinkTrack(frame image.Image, bbox [4]float32, trackID int64) (string, error)
	CountedDirections(personID string) []models.Direction
	MarkCounted(personID string, d models.Direction)
	ResetCounted()
}

type side int8

const (
	sideLeft side = iota
	sideRight
)

type trackState struct {
	lastCenterX float32
	lastCenterY float32
	lastSide    side
	sideValid   bool // false right after a line move; next observation re-establishes the side
	lastArea    float32
	counted     map[models.Direction]bool
	lastSeen    time.Time
	personID    string
}

// Stats is the engine's read-only counter snapshot.
type Stats struct {
	In           int64
	Out          int64
	ActiveTracks int
}

// Engine turns track observations into deduplicated crossing events.
// It is owned by the single CV worker goroutine and holds no locks; readers
// get state only through snapshots taken on that goroutine.
type Engine struct {
	cfg  Config
	reid ReID
	now  func() time.Time

	tracks      map[int64]*trackState
	inCount     int64
	outCount    int64
	lastCleanup time.Time
}

type Option func(*Engine)

// WithReID attaches the re-identification subsystem.
func WithReID(r ReID) Option {
	return func(e *Engine) { e.reid = r }
}

// WithClock replaces the monotonic clock used for track aging.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(cfg Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:    cfg,
		now:    time.Now,
		tracks: make(map[int64]*trackState),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.lastCleanup = e.now()
	return e
}

// Process consumes one frame's observations and returns the crossings it
// promoted, timestamped with ts (the frame capture instant). Event IDs are
// unset; persistence assigns them. The frame is used only to crop person
// patches for Re-ID linking and may be nil when Re-ID is disabled.
func (e *Engine) Process(frame image.Image, obs []Observation, ts time.Time) []models.Event {
	now := e.now()
	var events []models.Event

	for _, o := range obs {
		if !validBBox(o.BBox) {
			slog.Debug("dropping malformed observation", "track_id", o.TrackID, "bbox", o.BBox)
			continue
		}

		cx := (o.BBox[0] + o.BBox[2]) / 2
		cy := (o.BBox[1] + o.BBox[3]) / 2
		area := (o.BBox[2] - o.BBox[0]) * (o.BBox[3] - o.BBox[1])
		s := e.sideOf(cx)

		st, known := e.tracks[o.TrackID]
		if !known {
			st = &trackState{counted: make(map[models.Direction]bool)}
			e.link(st, o, frame)
			st.lastCenterX, st.lastCenterY = cx, cy
			st.lastSide, st.sideValid = s, true
			st.lastArea = area
			st.lastSeen = now
			e.tracks[o.TrackID] = st
			continue
		}

		if st.sideValid && s != st.lastSide {
			if ev, ok := e.promote(st, o.TrackID, cx, area, s, ts); ok {
				events = append(events, ev)
			}
		}

		st.lastCenterX, st.lastCenterY = cx, cy
		st.lastSide, st.sideValid = s, true
		st.lastArea = area
		st.lastSeen = now
	}

	e.maybeCleanup(now)
	return events
}

// promote applies the qualification gates to a side-change candidate and,
// when all pass, counts the crossing.
func (e *Engine) promote(st *trackState, trackID int64, cx, area float32, s side, ts time.Time) (models.Event, bool) {
	if abs32(cx-e.cfg.LineX) < e.cfg.HysteresisPx {
		return models.Event{}, false
	}

	relChange := math.Abs(float64(area-st.lastArea)) / math.Max(float64(st.lastArea), 1)
	if relChange < e.cfg.AreaChangeThreshold {
		return models.Event{}, false
	}

	dir := e.mapDirection(s == sideRight)
	if st.counted[dir] {
		return models.Event{}, false
	}

	st.counted[dir] = true
	if dir == models.DirectionIn {
		e.inCount++
	} else {
		e.outCount++
	}
	if e.reid != nil && st.personID != "" {
		e.reid.MarkCounted(st.personID, dir)
	}

	return models.Event{
		Timestamp: ts,
		TrackID:   trackID,
		PersonID:  st.personID,
		Direction: dir,
	}, true
}

// link asks the Re-ID subsystem to match a first-seen track and imports the
// matched person's already counted directions.
func (e *Engine) link(st *trackState, o Observation, frame image.Image) {
	if e.reid == nil {
		return
	}
	personID, err := e.reid.LinkTrack(frame, o.BBox, o.TrackID)
	if err != nil {
		slog.Debug("reid link failed", "track_id", o.TrackID, "error", err)
		return
	}
	if personID == "" {
		return
	}
	st.personID = personID
	for _, d := range e.reid.CountedDirections(personID) {
		st.counted[d] = true
	}
}

func (e *Engine) maybeCleanup(now time.Time) {
	if now.Sub(e.lastCleanup) < e.cfg.CleanupInterval {
		return
	}
	e.lastCleanup = now
	for id, st := range e.tracks {
		if now.Sub(st.lastSeen) > e.cfg.MaxAge {
			delete(e.tracks, id)
		}
	}
}

// Reset zeroes the counters and forgets all track state. Stored events are
// untouched. Per-person counted directions start over as well.
func (e *Engine) Reset() {
	e.inCount = 0
	e.outCount = 0
	e.tracks = make(map[int64]*trackState)
	if e.reid != nil {
		e.reid.ResetCounted()
	}
}

// SetLine moves the counting line. Sides and counted directions of live
// tracks are invalidated because positions changed meaning.
func (e *Engine) SetLine(x float32) {
	e.cfg.LineX = x
	for _, st := range e.tracks {
		st.sideValid = false
		st.counted = make(map[models.Direction]bool)
	}
}

// SetDirectionIn remaps which crossing counts as IN.
func (e *Engine) SetDirectionIn(d string) {
	e.cfg.DirectionIn = d
}

// SetGates adjusts the hysteresis and area-change qualification thresholds.
func (e *Engine) SetGates(hysteresisPx float32, areaChangeThreshold float64) {
	e.cfg.HysteresisPx = hysteresisPx
	e.cfg.AreaChangeThreshold = areaChangeThreshold
}

// SetTiming adjusts track expiry.
func (e *Engine) SetTiming(maxAge, cleanupInterval time.Duration) {
	e.cfg.MaxAge = maxAge
	e.cfg.CleanupInterval = cleanupInterval
}

func (e *Engine) LineX() float32 { return e.cfg.LineX }

func (e *Engine) Stats() Stats {
	return Stats{In: e.inCount, Out: e.outCount, ActiveTracks: len(e.tracks)}
}

func (e *Engine) sideOf(cx float32) side {
	if cx < e.cfg.LineX {
		return sideLeft
	}
	return sideRight
}

func (e *Engine) mapDirection(leftToRight bool) models.Direction {
	if e.cfg.DirectionIn == DirectionInRL {
		leftToRight = !leftToRight
	}
	if leftToRight {
		return models.DirectionIn
	}
	return models.DirectionOut
}

func validBBox(b [4]float32) bool {
	for _, v := range b {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return b[2] > b[0] && b[3] > b[1]
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
