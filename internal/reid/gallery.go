package reid

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/your-org/peoplecounter/internal/models"
)

const trackRingSize = 10

// saveEvery is the mutation cadence of the gallery snapshot.
const saveEvery = 10

// Person is one gallery entry. Embeddings are unit-norm so cosine similarity
// is the dot product.
type Person struct {
	PersonID        string                    `json:"person_id"`
	Embedding       Vector                    `json:"embedding"`
	FirstSeen       time.Time                 `json:"first_seen"`
	LastSeen        time.Time                 `json:"last_seen"`
	AppearanceCount int                       `json:"appearance_count"`
	TrackIDs        []int64                   `json:"track_ids"` // ring, most recent last
	Counted         map[models.Direction]bool `json:"counted_directions"`
}

// Config is the gallery tuning.
type Config struct {
	SimilarityThreshold float64
	MaxPersons          int
	UpdateEmbeddings    bool
	GalleryPath         string
}

// Mirror replicates gallery entries to an external store so similar-person
// queries can run in SQL. All calls are best-effort.
type Mirror interface {
	UpsertPerson(ctx context.Context, p Person) error
	DeletePerson(ctx context.Context, personID string) error
	ClearPersons(ctx context.Context) error
}

// Gallery is the bounded LRU store of known persons. The CV worker writes;
// request handlers read; administrative clear and cleanup mutate.
type Gallery struct {
	mu        sync.RWMutex
	cfg       Config
	embedder  Embedder
	persons   map[string]*Person
	nextID    int
	mutations int
	now       func() time.Time
	mirror    Mirror
}

type GalleryOption func(*Gallery)

func WithGalleryClock(now func() time.Time) GalleryOption {
	return func(g *Gallery) { g.now = now }
}

// WithMirror replicates entries to an external person store.
func WithMirror(m Mirror) GalleryOption {
	return func(g *Gallery) { g.mirror = m }
}

// NewGallery builds a gallery and loads the snapshot at cfg.GalleryPath when
// one exists. Load failures are logged, never fatal.
func NewGallery(cfg Config, embedder Embedder, opts ...GalleryOption) *Gallery {
	g := &Gallery{
		cfg:      cfg,
		embedder: embedder,
		persons:  make(map[string]*Person),
		nextID:   1,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if cfg.GalleryPath != "" {
		if err := g.load(); err != nil {
			slog.Warn("load reid gallery", "path", cfg.GalleryPath, "error", err)
		} else if len(g.persons) > 0 {
			slog.Info("loaded reid gallery", "path", cfg.GalleryPath, "persons", len(g.persons))
		}
	}
	return g
}

// LinkTrack implements the engine's ReID contract: embed the person patch,
// match against the gallery, register when nothing is close enough. The
// returned person id is never empty on success. Mirror writes go over the
// network and run after the lock is released so they cannot stall readers.
func (g *Gallery) LinkTrack(frame image.Image, bbox [4]float32, trackID int64) (string, error) {
	if frame == nil {
		return "", nil
	}
	patch := cropPatch(frame, bbox)
	if patch == nil {
		return "", fmt.Errorf("link track %d: bbox %v outside frame", trackID, bbox)
	}
	emb, err := g.embedder.Embed(patch)
	if err != nil {
		return "", fmt.Errorf("link track %d: %w", trackID, err)
	}

	g.mu.Lock()
	var id, evicted string
	if match, sim, ok := g.bestMatch(emb); ok {
		id = match
		g.updateMatched(g.persons[id], emb, trackID)
		slog.Debug("reid matched", "person_id", id, "track_id", trackID, "similarity", sim)
	} else {
		id, evicted = g.register(emb, trackID)
	}
	cp := mirrorCopy(g.persons[id])
	g.mu.Unlock()

	if evicted != "" {
		g.mirrorDelete(evicted)
	}
	g.mirrorUpsert(cp)
	return id, nil
}

// bestMatch scans the gallery for the argmax cosine similarity.
// Caller holds the lock.
func (g *Gallery) bestMatch(emb Vector) (string, float32, bool) {
	var bestID string
	var best float32
	for id, p := range g.persons {
		if sim := Cosine(emb, p.Embedding); sim > best {
			best = sim
			bestID = id
		}
	}
	if bestID == "" || float64(best) < g.cfg.SimilarityThreshold {
		return "", 0, false
	}
	return bestID, best, true
}

func (g *Gallery) updateMatched(p *Person, emb Vector, trackID int64) {
	p.LastSeen = g.now()
	p.AppearanceCount++
	p.TrackIDs = append(p.TrackIDs, trackID)
	if len(p.TrackIDs) > trackRingSize {
		p.TrackIDs = p.TrackIDs[len(p.TrackIDs)-trackRingSize:]
	}
	if g.cfg.UpdateEmbeddings {
		for i := range p.Embedding {
			p.Embedding[i] = 0.7*p.Embedding[i] + 0.3*emb[i]
		}
		Normalize(p.Embedding)
	}
	g.mutated()
}

// register adds a new person, evicting the LRU entry when full. It returns
// the new id and the evicted id ("" when nothing was evicted); the caller
// mirrors both after releasing the lock.
func (g *Gallery) register(emb Vector, trackID int64) (string, string) {
	var evicted string
	if len(g.persons) >= g.cfg.MaxPersons {
		evicted = g.evictOldest()
	}
	id := fmt.Sprintf("P%04d", g.nextID)
	g.nextID++
	now := g.now()
	g.persons[id] = &Person{
		PersonID:        id,
		Embedding:       emb,
		FirstSeen:       now,
		LastSeen:        now,
		AppearanceCount: 1,
		TrackIDs:        []int64{trackID},
		Counted:         make(map[models.Direction]bool),
	}
	slog.Debug("reid registered new person", "person_id", id, "track_id", trackID)
	g.mutated()
	return id, evicted
}

// mirrorCopy deep-copies a person so the mirror write can run lock-free.
func mirrorCopy(p *Person) Person {
	cp := *p
	cp.Embedding = append(Vector(nil), p.Embedding...)
	cp.TrackIDs = append([]int64(nil), p.TrackIDs...)
	cp.Counted = make(map[models.Direction]bool, len(p.Counted))
	for d := range p.Counted {
		cp.Counted[d] = true
	}
	return cp
}

func (g *Gallery) mirrorUpsert(p Person) {
	if g.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := g.mirror.UpsertPerson(ctx, p); err != nil {
		slog.Warn("mirror person upsert", "person_id", p.PersonID, "error", err)
	}
}

func (g *Gallery) mirrorDelete(personID string) {
	if g.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := g.mirror.DeletePerson(ctx, personID); err != nil {
		slog.Warn("mirror person delete", "person_id", personID, "error", err)
	}
}

// evictOldest removes the person with the oldest last_seen and returns its
// id so the caller can mirror the delete lock-free. Caller holds the lock.
func (g *Gallery) evictOldest() string {
	var oldestID string
	var oldest time.Time
	for id, p := range g.persons {
		if oldestID == "" || p.LastSeen.Before(oldest) {
			oldestID = id
			oldest = p.LastSeen
		}
	}
	if oldestID != "" {
		delete(g.persons, oldestID)
		slog.Debug("reid gallery full, evicted oldest person", "person_id", oldestID)
	}
	return oldestID
}

// CountedDirections returns the directions already counted for a person.
func (g *Gallery) CountedDirections(personID string) []models.Direction {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.persons[personID]
	if !ok {
		return nil
	}
	var dirs []models.Direction
	for d := range p.Counted {
		dirs = append(dirs, d)
	}
	return dirs
}

// MarkCounted records a counted direction against a person.
func (g *Gallery) MarkCounted(personID string, d models.Direction) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p, ok := g.persons[personID]; ok {
		p.Counted[d] = true
		g.mutated()
	}
}

// ResetCounted clears every person's counted directions. Reset does not
// forget the persons themselves.
func (g *Gallery) ResetCounted() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range g.persons {
		p.Counted = make(map[models.Direction]bool)
	}
	g.mutated()
}

// Persons returns a snapshot of all gallery entries, embeddings excluded.
func (g *Gallery) Persons() []Person {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Person, 0, len(g.persons))
	for _, p := range g.persons {
		out = append(out, g.snapshotOf(p))
	}
	return out
}

// Person returns one entry, or false when unknown.
func (g *Gallery) Person(id string) (Person, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.persons[id]
	if !ok {
		return Person{}, false
	}
	return g.snapshotOf(p), true
}

func (g *Gallery) snapshotOf(p *Person) Person {
	cp := *p
	cp.Embedding = nil
	cp.TrackIDs = append([]int64(nil), p.TrackIDs...)
	cp.Counted = make(map[models.Direction]bool, len(p.Counted))
	for d := range p.Counted {
		cp.Counted[d] = true
	}
	return cp
}

// Size returns the number of known persons.
func (g *Gallery) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.persons)
}

// Clear wipes the gallery and resets id assignment.
func (g *Gallery) Clear() {
	g.mu.Lock()
	g.persons = make(map[string]*Person)
	g.nextID = 1
	g.saveLocked()
	g.mu.Unlock()

	if g.mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := g.mirror.ClearPersons(ctx); err != nil {
			slog.Warn("mirror persons clear", "error", err)
		}
	}
}

// CleanupOlderThan evicts persons not seen for maxAgeDays and returns how
// many were removed. Mirror deletes run after the lock is released.
func (g *Gallery) CleanupOlderThan(maxAgeDays int) int {
	g.mu.Lock()
	cutoff := g.now().Add(-time.Duration(maxAgeDays) * 24 * time.Hour)
	var removed []string
	for id, p := range g.persons {
		if p.LastSeen.Before(cutoff) {
			delete(g.persons, id)
			removed = append(removed, id)
		}
	}
	if len(removed) > 0 {
		slog.Info("reid cleanup removed stale persons", "removed", len(removed), "max_age_days", maxAgeDays)
		g.saveLocked()
	}
	g.mu.Unlock()

	for _, id := range removed {
		g.mirrorDelete(id)
	}
	return len(removed)
}

// mutated bumps the mutation counter and snapshots every saveEvery-th change.
// Caller holds the write lock.
func (g *Gallery) mutated() {
	g.mutations++
	if g.mutations%saveEvery == 0 {
		g.saveLocked()
	}
}

// Save snapshots the gallery to disk immediately.
func (g *Gallery) Save() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.saveLocked()
}

type gallerySnapshot struct {
	Persons      map[string]*Person `json:"persons"`
	NextPersonID int                `json:"next_person_id"`
}

// saveLocked writes the snapshot atomically (tmp + rename). Failures are
// logged and never abort counting. Caller holds the write lock.
func (g *Gallery) saveLocked() {
	if g.cfg.GalleryPath == "" {
		return
	}
	data, err := json.Marshal(gallerySnapshot{Persons: g.persons, NextPersonID: g.nextID})
	if err != nil {
		slog.Warn("marshal reid gallery", "error", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(g.cfg.GalleryPath), 0o755); err != nil {
		slog.Warn("save reid gallery", "path", g.cfg.GalleryPath, "error", err)
		return
	}
	tmp := g.cfg.GalleryPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		slog.Warn("save reid gallery", "path", g.cfg.GalleryPath, "error", err)
		return
	}
	if err := os.Rename(tmp, g.cfg.GalleryPath); err != nil {
		slog.Warn("save reid gallery", "path", g.cfg.GalleryPath, "error", err)
	}
}

func (g *Gallery) load() error {
	data, err := os.ReadFile(g.cfg.GalleryPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var snap gallerySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("parse gallery snapshot: %w", err)
	}
	if snap.Persons != nil {
		g.persons = snap.Persons
		for _, p := range g.persons {
			if p.Counted == nil {
				p.Counted = make(map[models.Direction]bool)
			}
		}
	}
	if snap.NextPersonID > 0 {
		g.nextID = snap.NextPersonID
	}
	return nil
}

// cropPatch extracts the person region from the frame, clamped to bounds.
func cropPatch(frame image.Image, bbox [4]float32) image.Image {
	b := frame.Bounds()
	x1, y1 := int(bbox[0]), int(bbox[1])
	x2, y2 := int(bbox[2]), int(bbox[3])
	if x1 < b.Min.X {
		x1 = b.Min.X
	}
	if y1 < b.Min.Y {
		y1 = b.Min.Y
	}
	if x2 > b.Max.X {
		x2 = b.Max.X
	}
	if y2 > b.Max.Y {
		y2 = b.Max.Y
	}
	if x2 <= x1 || y2 <= y1 {
		return nil
	}
	crop := image.NewRGBA(image.Rect(0, 0, x2-x1, y2-y1))
	for y := y1; y < y2; y++ {
		for x := x1; x < x2; x++ {
			crop.Set(x-x1, y-y1, frame.At(x, y))
		}
	}
	return crop
}
