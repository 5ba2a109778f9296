package reid

import (
	"context"
	"image"
	"image/color"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/peoplecounter/internal/models"
)

// fixedEmbedder returns a canned vector per call, cycling through vectors.
type fixedEmbedder struct {
	vectors []Vector
	calls   int
}

func (f *fixedEmbedder) Embed(_ image.Image) (Vector, error) {
	v := f.vectors[f.calls%len(f.vectors)]
	f.calls++
	return append(Vector(nil), v...), nil
}

func unitVec(dims int, hot int) Vector {
	v := make(Vector, dims)
	v[hot] = 1
	return v
}

func testFrame() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	for y := 0; y < 480; y++ {
		for x := 0; x < 640; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 64, A: 255})
		}
	}
	return img
}

func testGalleryConfig(path string) Config {
	return Config{
		SimilarityThreshold: 0.65,
		MaxPersons:          3,
		UpdateEmbeddings:    true,
		GalleryPath:         path,
	}
}

type manualClock struct{ t time.Time }

func (c *manualClock) now() time.Time          { return c.t }
func (c *manualClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestLinkTrackRegistersAndMatches(t *testing.T) {
	emb := &fixedEmbedder{vectors: []Vector{unitVec(8, 0)}}
	g := NewGallery(testGalleryConfig(""), emb)
	frame := testFrame()
	bbox := [4]float32{100, 100, 200, 300}

	id1, err := g.LinkTrack(frame, bbox, 42)
	require.NoError(t, err)
	assert.Equal(t, "P0001", id1)

	// Same appearance under a new track id links to the same person.
	id2, err := g.LinkTrack(frame, bbox, 77)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	p, ok := g.Person(id1)
	require.True(t, ok)
	assert.Equal(t, 2, p.AppearanceCount)
	assert.Equal(t, []int64{42, 77}, p.TrackIDs)
}

func TestDissimilarAppearanceRegistersNewPerson(t *testing.T) {
	emb := &fixedEmbedder{vectors: []Vector{unitVec(8, 0), unitVec(8, 1)}}
	g := NewGallery(testGalleryConfig(""), emb)
	frame := testFrame()
	bbox := [4]float32{100, 100, 200, 300}

	id1, err := g.LinkTrack(frame, bbox, 1)
	require.NoError(t, err)
	id2, err := g.LinkTrack(frame, bbox, 2)
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
	assert.Equal(t, 2, g.Size())
}

func TestGalleryEvictsLRUWhenFull(t *testing.T) {
	clock := &manualClock{t: time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)}
	vectors := []Vector{unitVec(8, 0), unitVec(8, 1), unitVec(8, 2), unitVec(8, 3)}
	emb := &fixedEmbedder{vectors: vectors}
	g := NewGallery(testGalleryConfig(""), emb, WithGalleryClock(clock.now))
	frame := testFrame()
	bbox := [4]float32{100, 100, 200, 300}

	for i := int64(1); i <= 4; i++ {
		_, err := g.LinkTrack(frame, bbox, i)
		require.NoError(t, err)
		clock.advance(time.Minute)
	}

	assert.Equal(t, 3, g.Size(), "max_persons enforced")
	_, ok := g.Person("P0001")
	assert.False(t, ok, "oldest last_seen evicted")
	_, ok = g.Person("P0004")
	assert.True(t, ok)
}

func TestCountedDirectionsSurviveAndReset(t *testing.T) {
	emb := &fixedEmbedder{vectors: []Vector{unitVec(8, 0)}}
	g := NewGallery(testGalleryConfig(""), emb)

	id, err := g.LinkTrack(testFrame(), [4]float32{100, 100, 200, 300}, 1)
	require.NoError(t, err)

	g.MarkCounted(id, models.DirectionIn)
	assert.Equal(t, []models.Direction{models.DirectionIn}, g.CountedDirections(id))

	g.ResetCounted()
	assert.Empty(t, g.CountedDirections(id))

	p, ok := g.Person(id)
	require.True(t, ok, "reset keeps the persons")
	assert.Equal(t, 1, p.AppearanceCount)
}

func TestEMAKeepsEmbeddingUnitNorm(t *testing.T) {
	emb := &fixedEmbedder{vectors: []Vector{unitVec(8, 0), unitVec(8, 0)}}
	g := NewGallery(testGalleryConfig(""), emb)
	frame := testFrame()
	bbox := [4]float32{100, 100, 200, 300}

	id, err := g.LinkTrack(frame, bbox, 1)
	require.NoError(t, err)
	_, err = g.LinkTrack(frame, bbox, 2)
	require.NoError(t, err)

	g.mu.RLock()
	stored := g.persons[id].Embedding
	var norm float64
	for _, x := range stored {
		norm += float64(x) * float64(x)
	}
	g.mu.RUnlock()
	assert.InDelta(t, 1.0, norm, 1e-5)
}

func TestGalleryPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gallery.json")
	emb := &fixedEmbedder{vectors: []Vector{unitVec(8, 0)}}

	g := NewGallery(testGalleryConfig(path), emb)
	id, err := g.LinkTrack(testFrame(), [4]float32{100, 100, 200, 300}, 9)
	require.NoError(t, err)
	g.MarkCounted(id, models.DirectionOut)
	g.Save()

	reloaded := NewGallery(testGalleryConfig(path), &fixedEmbedder{vectors: []Vector{unitVec(8, 0)}})
	p, ok := reloaded.Person(id)
	require.True(t, ok)
	assert.Equal(t, []int64{9}, p.TrackIDs)
	assert.Equal(t, []models.Direction{models.DirectionOut}, reloaded.CountedDirections(id))

	// Id assignment continues after the highest persisted id.
	newID, err := reloaded.LinkTrack(testFrame(), [4]float32{100, 100, 200, 300}, 10)
	require.NoError(t, err)
	assert.Equal(t, id, newID, "same appearance still matches after reload")
}

func TestCleanupOlderThanEvictsStalePersons(t *testing.T) {
	clock := &manualClock{t: time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)}
	emb := &fixedEmbedder{vectors: []Vector{unitVec(8, 0), unitVec(8, 1)}}
	g := NewGallery(testGalleryConfig(""), emb, WithGalleryClock(clock.now))
	frame := testFrame()
	bbox := [4]float32{100, 100, 200, 300}

	_, err := g.LinkTrack(frame, bbox, 1)
	require.NoError(t, err)
	clock.advance(10 * 24 * time.Hour)
	_, err = g.LinkTrack(frame, bbox, 2)
	require.NoError(t, err)

	removed := g.CleanupOlderThan(7)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, g.Size())
}

// blockingMirror parks every upsert until released, imitating a slow
// Postgres round trip.
type blockingMirror struct {
	entered chan struct{}
	release chan struct{}

	mu      sync.Mutex
	upserts []string
	deletes []string
}

func newBlockingMirror() *blockingMirror {
	return &blockingMirror{entered: make(chan struct{}, 1), release: make(chan struct{})}
}

func (m *blockingMirror) UpsertPerson(_ context.Context, p Person) error {
	m.mu.Lock()
	m.upserts = append(m.upserts, p.PersonID)
	m.mu.Unlock()
	m.entered <- struct{}{}
	<-m.release
	return nil
}

func (m *blockingMirror) DeletePerson(_ context.Context, personID string) error {
	m.mu.Lock()
	m.deletes = append(m.deletes, personID)
	m.mu.Unlock()
	return nil
}

func (m *blockingMirror) ClearPersons(context.Context) error { return nil }

func TestMirrorWriteDoesNotBlockReaders(t *testing.T) {
	mirror := newBlockingMirror()
	emb := &fixedEmbedder{vectors: []Vector{unitVec(8, 0)}}
	g := NewGallery(testGalleryConfig(""), emb, WithMirror(mirror))

	linkDone := make(chan struct{})
	go func() {
		defer close(linkDone)
		_, err := g.LinkTrack(testFrame(), [4]float32{100, 100, 200, 300}, 1)
		assert.NoError(t, err)
	}()

	// The upsert is now in flight; readers must still get through.
	<-mirror.entered
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		g.Size()
		g.Persons()
	}()
	select {
	case <-readDone:
	case <-time.After(time.Second):
		t.Fatal("gallery readers blocked behind a mirror write")
	}

	close(mirror.release)
	select {
	case <-linkDone:
	case <-time.After(time.Second):
		t.Fatal("link did not finish after the mirror was released")
	}
	assert.Equal(t, []string{"P0001"}, mirror.upserts)
}

func TestHistogramEmbedderDeterministicUnitNorm(t *testing.T) {
	e := NewHistogramEmbedder()
	patch := testFrame()

	v1, err := e.Embed(patch)
	require.NoError(t, err)
	v2, err := e.Embed(patch)
	require.NoError(t, err)

	assert.Equal(t, v1, v2, "deterministic for the same patch")
	assert.Len(t, v1, e.Dim())

	var norm float64
	for _, x := range v1 {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)
	assert.InDelta(t, 1.0, float64(Cosine(v1, v2)), 1e-5)
}
