package counter

import (
	"image"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/peoplecounter/internal/models"
)

func testConfig() Config {
	return Config{
		LineX:               400,
		DirectionIn:         DirectionInLR,
		HysteresisPx:        5,
		AreaChangeThreshold: 0,
		MaxAge:              5 * time.Second,
		CleanupInterval:     10 * time.Second,
	}
}

type fakeClock struct{ t time.Time }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type fakeReID struct {
	linkID    string
	counted   map[string]map[models.Direction]bool
	linkCalls int
}

func newFakeReID(linkID string) *fakeReID {
	return &fakeReID{linkID: linkID, counted: make(map[string]map[models.Direction]bool)}
}

func (f *fakeReID) LinkTrack(_ image.Image, _ [4]float32, _ int64) (string, error) {
	f.linkCalls++
	return f.linkID, nil
}

func (f *fakeReID) CountedDirections(personID string) []models.Direction {
	var dirs []models.Direction
	for d := range f.counted[personID] {
		dirs = append(dirs, d)
	}
	return dirs
}

func (f *fakeReID) MarkCounted(personID string, d models.Direction) {
	if f.counted[personID] == nil {
		f.counted[personID] = make(map[models.Direction]bool)
	}
	f.counted[personID][d] = true
}

func (f *fakeReID) ResetCounted() {
	f.counted = make(map[string]map[models.Direction]bool)
}

// obsAt builds a square observation centered horizontally at cx covering the
// requested box area.
func obsAt(trackID int64, cx, area float32) Observation {
	half := float32(math.Sqrt(float64(area))) / 2
	return Observation{
		TrackID:    trackID,
		BBox:       [4]float32{cx - half, 100, cx + half, 100 + 2*half},
		Confidence: 0.9,
	}
}

// feed runs one track through a sequence of horizontal centers at a constant
// box area, timestamps 100ms apart.
func feed(e *Engine, trackID int64, centers []float32, area float32) []models.Event {
	ts := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	var events []models.Event
	for i, cx := range centers {
		got := e.Process(nil, []Observation{obsAt(trackID, cx, area)}, ts.Add(time.Duration(i)*100*time.Millisecond))
		events = append(events, got...)
	}
	return events
}

func TestSingleCrossingCountsIn(t *testing.T) {
	e := New(testConfig())

	events := feed(e, 1, []float32{100, 300, 500, 700}, 10000)

	require.Len(t, events, 1)
	assert.Equal(t, int64(1), events[0].TrackID)
	assert.Equal(t, models.DirectionIn, events[0].Direction)

	stats := e.Stats()
	assert.Equal(t, int64(1), stats.In)
	assert.Equal(t, int64(0), stats.Out)
}

func TestJitterAroundLineSuppressed(t *testing.T) {
	cfg := testConfig()
	cfg.HysteresisPx = 10
	e := New(cfg)

	events := feed(e, 1, []float32{395, 405, 395, 405, 395}, 10000)

	assert.Empty(t, events)
	stats := e.Stats()
	assert.Equal(t, int64(0), stats.In)
	assert.Equal(t, int64(0), stats.Out)
}

func TestAreaGateBlocksPureLateralCrossing(t *testing.T) {
	cfg := testConfig()
	cfg.AreaChangeThreshold = 0.15
	e := New(cfg)

	events := feed(e, 1, []float32{100, 300, 500, 700}, 10000)

	assert.Empty(t, events, "constant box area means no approach or recede")
}

func TestAreaGatePassesWhenPersonApproaches(t *testing.T) {
	cfg := testConfig()
	cfg.AreaChangeThreshold = 0.15
	e := New(cfg)

	ts := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	var events []models.Event
	areas := []float32{10000, 10000, 12000, 14000}
	centers := []float32{100, 300, 500, 700}
	for i := range centers {
		got := e.Process(nil, []Observation{obsAt(1, centers[i], areas[i])}, ts.Add(time.Duration(i)*100*time.Millisecond))
		events = append(events, got...)
	}

	require.Len(t, events, 1)
	assert.Equal(t, models.DirectionIn, events[0].Direction)
}

func TestDirectionDeduplicatedPerTrack(t *testing.T) {
	e := New(testConfig())

	events := feed(e, 7, []float32{100, 500, 100, 500, 100}, 10000)

	require.Len(t, events, 2, "at most one IN and one OUT per track")
	assert.Equal(t, models.DirectionIn, events[0].Direction)
	assert.Equal(t, models.DirectionOut, events[1].Direction)

	stats := e.Stats()
	assert.Equal(t, int64(1), stats.In)
	assert.Equal(t, int64(1), stats.Out)
}

func TestTrackTimeoutRecountsAsNewTrack(t *testing.T) {
	clock := newFakeClock()
	e := New(testConfig(), WithClock(clock.now))

	events := feed(e, 42, []float32{100, 500}, 10000)
	require.Len(t, events, 1)

	// Track 42 expires, the same person returns under a fresh id.
	clock.advance(11 * time.Second)
	events = feed(e, 77, []float32{100, 500}, 10000)

	require.Len(t, events, 1)
	assert.Equal(t, int64(77), events[0].TrackID)
	assert.Equal(t, models.DirectionIn, events[0].Direction)
	assert.Equal(t, int64(2), e.Stats().In)
}

func TestReIDSuppressesRecountAfterTimeout(t *testing.T) {
	clock := newFakeClock()
	reid := newFakeReID("P0001")
	e := New(testConfig(), WithClock(clock.now), WithReID(reid))

	events := feed(e, 42, []float32{100, 500}, 10000)
	require.Len(t, events, 1)
	assert.Equal(t, "P0001", events[0].PersonID)

	clock.advance(11 * time.Second)
	events = feed(e, 77, []float32{100, 500}, 10000)

	assert.Empty(t, events, "linked person already counted IN")
	assert.Equal(t, int64(1), e.Stats().In)
	assert.Equal(t, 2, reid.linkCalls)
}

func TestDirectionInRemapsCrossings(t *testing.T) {
	cfg := testConfig()
	cfg.DirectionIn = DirectionInRL
	e := New(cfg)

	events := feed(e, 1, []float32{700, 500, 300, 100}, 10000)

	require.Len(t, events, 1)
	assert.Equal(t, models.DirectionIn, events[0].Direction, "R->L crossing is IN under R->L mapping")
}

func TestDeterministicOverSameTrace(t *testing.T) {
	trace := []float32{100, 390, 410, 500, 200, 90, 450, 700}

	run := func() []models.Event {
		return feed(New(testConfig()), 3, trace, 10000)
	}

	first := run()
	second := run()
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Direction, second[i].Direction)
		assert.Equal(t, first[i].Timestamp, second[i].Timestamp)
	}
}

func TestResetIsIdempotent(t *testing.T) {
	reid := newFakeReID("P0009")
	e := New(testConfig(), WithReID(reid))

	feed(e, 5, []float32{100, 500}, 10000)
	require.Equal(t, int64(1), e.Stats().In)

	e.Reset()
	after := e.Stats()
	e.Reset()

	assert.Equal(t, after, e.Stats())
	assert.Equal(t, int64(0), e.Stats().In)
	assert.Equal(t, 0, e.Stats().ActiveTracks)
	assert.Empty(t, reid.counted)
}

func TestMalformedBoxesDropped(t *testing.T) {
	e := New(testConfig())
	ts := time.Now()

	events := e.Process(nil, []Observation{
		{TrackID: 1, BBox: [4]float32{500, 100, 100, 200}}, // x2 < x1
		{TrackID: 2, BBox: [4]float32{100, 100, 200, 100}}, // zero height
		{TrackID: 3, BBox: [4]float32{float32(math.NaN()), 0, 10, 10}},
	}, ts)

	assert.Empty(t, events)
	assert.Equal(t, 0, e.Stats().ActiveTracks)
}

func TestSetLineInvalidatesSidesAndCounted(t *testing.T) {
	e := New(testConfig())

	events := feed(e, 1, []float32{100, 500}, 10000)
	require.Len(t, events, 1)

	e.SetLine(600)

	ts := time.Now()
	// First observation after the move only re-establishes the side.
	events = e.Process(nil, []Observation{obsAt(1, 650, 10000)}, ts)
	assert.Empty(t, events)

	// A genuine crossing of the new line counts again: counted state was cleared.
	events = e.Process(nil, []Observation{obsAt(1, 500, 10000)}, ts.Add(100*time.Millisecond))
	require.Len(t, events, 1)
	assert.Equal(t, models.DirectionOut, events[0].Direction)
}

func TestCleanupRunsAtMostOncePerInterval(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig()
	cfg.MaxAge = time.Second
	cfg.CleanupInterval = 10 * time.Second
	e := New(cfg, WithClock(clock.now))

	e.Process(nil, []Observation{obsAt(1, 100, 10000)}, clock.now())

	// Stale beyond max_age, but the cleanup interval has not elapsed yet.
	clock.advance(2 * time.Second)
	e.Process(nil, []Observation{obsAt(2, 100, 10000)}, clock.now())
	assert.Equal(t, 2, e.Stats().ActiveTracks)

	clock.advance(9 * time.Second)
	e.Process(nil, []Observation{obsAt(2, 110, 10000)}, clock.now())
	assert.Equal(t, 1, e.Stats().ActiveTracks, "track 1 evicted, track 2 fresh")
}
