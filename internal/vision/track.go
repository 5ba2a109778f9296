package vision

// Track is one person followed across consecutive frames.
type Track struct {
	ID              int64
	BBox            [4]float32
	Confidence      float32
	Hits            int // matched detections so far
	TimeSinceUpdate int // frames since last match
}

const matchIoU = 0.3

// Tracker performs greedy IoU association between the previous frame's
// tracks and the current detections. It is owned by the CV worker goroutine
// and is not safe for concurrent use.
type Tracker struct {
	tracks map[int64]*Track
	order  []int64 // insertion order, keeps matching deterministic
	nextID int64
	maxAge int // frames without a match before eviction
}

// NewTracker creates a tracker that drops tracks unseen for maxAge frames.
func NewTracker(maxAge int) *Tracker {
	if maxAge <= 0 {
		maxAge = 30
	}
	return &Tracker{
		tracks: make(map[int64]*Track),
		maxAge: maxAge,
	}
}

// Update associates detections with tracks, creates tracks for unmatched
// detections and evicts stale tracks. The returned slice holds the track for
// every input detection.
func (t *Tracker) Update(detections []Detection) []*Track {
	for _, tr := range t.tracks {
		tr.TimeSinceUpdate++
	}

	updated := make([]*Track, 0, len(detections))
	matched := make(map[int64]bool)

	for _, det := range detections {
		bestIoU := float32(matchIoU)
		var best *Track
		for _, id := range t.order {
			tr, ok := t.tracks[id]
			if !ok || matched[tr.ID] {
				continue
			}
			if v := iou(det.BBox, tr.BBox); v > bestIoU {
				bestIoU = v
				best = tr
			}
		}

		if best != nil {
			best.BBox = det.BBox
			best.Confidence = det.Confidence
			best.Hits++
			best.TimeSinceUpdate = 0
			matched[best.ID] = true
			updated = append(updated, best)
			continue
		}

		t.nextID++
		tr := &Track{
			ID:         t.nextID,
			BBox:       det.BBox,
			Confidence: det.Confidence,
			Hits:       1,
		}
		t.tracks[tr.ID] = tr
		t.order = append(t.order, tr.ID)
		matched[tr.ID] = true
		updated = append(updated, tr)
	}

	t.evictStale()
	return updated
}

func (t *Tracker) evictStale() {
	kept := t.order[:0]
	for _, id := range t.order {
		tr, ok := t.tracks[id]
		if !ok {
			continue
		}
		if tr.TimeSinceUpdate > t.maxAge {
			delete(t.tracks, id)
			continue
		}
		kept = append(kept, id)
	}
	t.order = kept
}

// Count returns the number of live tracks.
func (t *Tracker) Count() int { return len(t.tracks) }

// Reset drops all tracks; track ids keep increasing.
func (t *Tracker) Reset() {
	t.tracks = make(map[int64]*Track)
	t.order = nil
}
