package vision

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLetterboxMapsBackToOriginalPixels(t *testing.T) {
	// 1280x720 frame into a 640 square: scale 0.5, vertical padding 140.
	img := image.NewRGBA(image.Rect(0, 0, 1280, 720))
	boxed, lb := letterboxImage(img, 640)

	assert.Equal(t, 640, boxed.Bounds().Dx())
	assert.Equal(t, 640, boxed.Bounds().Dy())
	assert.InDelta(t, 0.5, float64(lb.Scale), 1e-6)
	assert.InDelta(t, 0.0, float64(lb.PadX), 1e-6)
	assert.InDelta(t, 140.0, float64(lb.PadY), 1e-6)

	x, y := lb.ToOriginal(320, 320)
	assert.InDelta(t, 640.0, float64(x), 1e-4)
	assert.InDelta(t, 360.0, float64(y), 1e-4)

	// Top-left of the content area maps to the frame origin.
	x, y = lb.ToOriginal(0, 140)
	assert.InDelta(t, 0.0, float64(x), 1e-4)
	assert.InDelta(t, 0.0, float64(y), 1e-4)
}

func TestParseYOLOFiltersAndMapsBoxes(t *testing.T) {
	// Two anchors, 84 rows. Anchor 0 is a confident person centered at model
	// (320,320) sized 100x200; anchor 1 is below threshold.
	const n = 2
	out := make([]float32, 84*n)
	out[0*n+0] = 320 // cx
	out[1*n+0] = 320 // cy
	out[2*n+0] = 100 // w
	out[3*n+0] = 200 // h
	out[4*n+0] = 0.9 // person score
	out[4*n+1] = 0.2

	lb := Letterbox{Scale: 0.5, PadX: 0, PadY: 140}
	dets := parseYOLO(out, n, 0.45, lb, 1280, 720)

	require.Len(t, dets, 1)
	assert.InDelta(t, 540.0, float64(dets[0].BBox[0]), 1e-3) // (320-50)/0.5
	assert.InDelta(t, 160.0, float64(dets[0].BBox[1]), 1e-3) // (320-100-140)/0.5
	assert.InDelta(t, 740.0, float64(dets[0].BBox[2]), 1e-3)
	assert.InDelta(t, 560.0, float64(dets[0].BBox[3]), 1e-3)
	assert.InDelta(t, 0.9, float64(dets[0].Confidence), 1e-6)
}

func TestNMSSuppressesOverlaps(t *testing.T) {
	dets := []Detection{
		{BBox: [4]float32{0, 0, 100, 100}, Confidence: 0.8},
		{BBox: [4]float32{5, 5, 105, 105}, Confidence: 0.9}, // overlaps the first
		{BBox: [4]float32{300, 300, 400, 400}, Confidence: 0.7},
	}
	kept := nms(dets, 0.5)

	require.Len(t, kept, 2)
	assert.InDelta(t, 0.9, float64(kept[0].Confidence), 1e-6)
	assert.InDelta(t, 0.7, float64(kept[1].Confidence), 1e-6)
}

func TestIoU(t *testing.T) {
	a := [4]float32{0, 0, 10, 10}
	assert.InDelta(t, 1.0, float64(iou(a, a)), 1e-6)
	assert.InDelta(t, 0.0, float64(iou(a, [4]float32{20, 20, 30, 30})), 1e-6)

	// Half overlap: intersection 50, union 150.
	b := [4]float32{5, 0, 15, 10}
	assert.InDelta(t, 50.0/150.0, float64(iou(a, b)), 1e-6)
}

func TestTrackerKeepsIDAcrossFrames(t *testing.T) {
	tr := NewTracker(5)

	first := tr.Update([]Detection{{BBox: [4]float32{100, 100, 160, 220}, Confidence: 0.9}})
	require.Len(t, first, 1)
	id := first[0].ID

	// Small motion: same track.
	second := tr.Update([]Detection{{BBox: [4]float32{110, 100, 170, 220}, Confidence: 0.9}})
	require.Len(t, second, 1)
	assert.Equal(t, id, second[0].ID)
	assert.Equal(t, 2, second[0].Hits)

	// A distant person gets a fresh id.
	third := tr.Update([]Detection{
		{BBox: [4]float32{115, 100, 175, 220}, Confidence: 0.9},
		{BBox: [4]float32{500, 100, 560, 220}, Confidence: 0.8},
	})
	require.Len(t, third, 2)
	assert.Equal(t, id, third[0].ID)
	assert.NotEqual(t, id, third[1].ID)
	assert.Equal(t, 2, tr.Count())
}

func TestTrackerEvictsAfterMaxAge(t *testing.T) {
	tr := NewTracker(2)
	tr.Update([]Detection{{BBox: [4]float32{0, 0, 50, 100}, Confidence: 0.9}})

	for i := 0; i < 3; i++ {
		tr.Update(nil)
	}
	assert.Zero(t, tr.Count())
}

func TestTrackerResetKeepsIDsIncreasing(t *testing.T) {
	tr := NewTracker(5)
	first := tr.Update([]Detection{{BBox: [4]float32{0, 0, 50, 100}, Confidence: 0.9}})
	tr.Reset()
	second := tr.Update([]Detection{{BBox: [4]float32{0, 0, 50, 100}, Confidence: 0.9}})

	assert.Greater(t, second[0].ID, first[0].ID)
}

func TestCropRegionClampsToBounds(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))

	crop := cropRegion(img, [4]float32{-20, -20, 50, 50})
	require.NotNil(t, crop)
	assert.Equal(t, 50, crop.Bounds().Dx())
	assert.Equal(t, 50, crop.Bounds().Dy())

	assert.Nil(t, cropRegion(img, [4]float32{200, 200, 300, 300}))
}

func TestAnnotateDrawsLineWithinBounds(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	out := Annotate(img, 32, [][4]float32{{10, 10, 30, 40}})

	r, g, b, _ := out.At(32, 24).RGBA()
	assert.Equal(t, lineColor.R, uint8(r>>8))
	assert.Equal(t, lineColor.G, uint8(g>>8))
	assert.Equal(t, lineColor.B, uint8(b>>8))

	// Out-of-range line is a no-op, not a panic.
	_ = Annotate(img, 500, nil)
}
