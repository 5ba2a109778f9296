package reid

import (
	"fmt"
	"image"
	"math"
)

// Embedder turns a person patch into a unit-norm appearance vector.
// Implementations must be deterministic for a given patch.
type Embedder interface {
	Embed(patch image.Image) (Vector, error)
}

const (
	patchW = 64
	patchH = 128

	hsvBins  = 16
	gradBins = 9
)

// HistogramEmbedder is the default appearance model: per-third HSV colour
// histograms (clothing regions), a coarse gradient-orientation histogram and
// the patch aspect ratio, concatenated and L2-normalized. It is a
// short-horizon heuristic, not biometric identification.
type HistogramEmbedder struct{}

func NewHistogramEmbedder() *HistogramEmbedder { return &HistogramEmbedder{} }

// Dim is the embedding length: 3 thirds x 3 HSV channels x 16 bins,
// 9 gradient bins, 3x3 mean colours and the scaled aspect ratio.
func (e *HistogramEmbedder) Dim() int {
	return 3*3*hsvBins + gradBins + 3*3 + 1
}

func (e *HistogramEmbedder) Embed(patch image.Image) (Vector, error) {
	if patch == nil {
		return nil, fmt.Errorf("embed: nil patch")
	}
	b := patch.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("embed: empty patch %v", b)
	}

	// Fixed-size working copy so histograms are comparable across patches.
	gray := make([]float64, patchW*patchH)
	rgb := make([][3]float64, patchW*patchH)
	for y := 0; y < patchH; y++ {
		srcY := b.Min.Y + y*b.Dy()/patchH
		for x := 0; x < patchW; x++ {
			srcX := b.Min.X + x*b.Dx()/patchW
			r, g, bl, _ := patch.At(srcX, srcY).RGBA()
			rf, gf, bf := float64(r>>8), float64(g>>8), float64(bl>>8)
			idx := y*patchW + x
			rgb[idx] = [3]float64{rf, gf, bf}
			gray[idx] = 0.299*rf + 0.587*gf + 0.114*bf
		}
	}

	vec := make(Vector, 0, e.Dim())

	// Per-third HSV histograms: upper, middle and lower clothing regions.
	third := patchH / 3
	for t := 0; t < 3; t++ {
		y0 := t * third
		y1 := y0 + third
		if t == 2 {
			y1 = patchH
		}
		var hh, hs, hv [hsvBins]float32
		for y := y0; y < y1; y++ {
			for x := 0; x < patchW; x++ {
				h, s, v := rgbToHSV(rgb[y*patchW+x])
				hh[binOf(h, 360, hsvBins)]++
				hs[binOf(s, 1, hsvBins)]++
				hv[binOf(v, 1, hsvBins)]++
			}
		}
		vec = append(vec, hh[:]...)
		vec = append(vec, hs[:]...)
		vec = append(vec, hv[:]...)
	}

	// Gradient-orientation histogram weighted by magnitude (coarse HOG).
	var hg [gradBins]float32
	for y := 1; y < patchH-1; y++ {
		for x := 1; x < patchW-1; x++ {
			gx := gray[y*patchW+x+1] - gray[y*patchW+x-1]
			gy := gray[(y+1)*patchW+x] - gray[(y-1)*patchW+x]
			mag := math.Hypot(gx, gy)
			if mag == 0 {
				continue
			}
			angle := math.Atan2(gy, gx)*180/math.Pi + 180 // [0, 360]
			hg[binOf(angle, 360, gradBins)] += float32(mag)
		}
	}
	vec = append(vec, hg[:]...)

	// Mean colour per third, for coarse clothing separation.
	for t := 0; t < 3; t++ {
		y0 := t * third
		y1 := y0 + third
		if t == 2 {
			y1 = patchH
		}
		var sum [3]float64
		n := float64((y1 - y0) * patchW)
		for y := y0; y < y1; y++ {
			for x := 0; x < patchW; x++ {
				px := rgb[y*patchW+x]
				sum[0] += px[0]
				sum[1] += px[1]
				sum[2] += px[2]
			}
		}
		vec = append(vec, float32(sum[0]/n), float32(sum[1]/n), float32(sum[2]/n))
	}

	// Aspect ratio of the original box, scaled up so it carries weight.
	vec = append(vec, float32(float64(b.Dy())/math.Max(float64(b.Dx()), 1)*10))

	Normalize(vec)
	return vec, nil
}

func binOf(v, max float64, bins int) int {
	if v < 0 {
		v = 0
	}
	bin := int(v / max * float64(bins))
	if bin >= bins {
		bin = bins - 1
	}
	return bin
}

func rgbToHSV(c [3]float64) (h, s, v float64) {
	r, g, b := c[0]/255, c[1]/255, c[2]/255
	max := math.Max(r, math.Max(g, b))
	min := math.Min(r, math.Min(g, b))
	v = max
	d := max - min
	if max > 0 {
		s = d / max
	}
	if d == 0 {
		return 0, s, v
	}
	switch max {
	case r:
		h = 60 * math.Mod((g-b)/d, 6)
	case g:
		h = 60 * ((b-r)/d + 2)
	default:
		h = 60 * ((r-g)/d + 4)
	}
	if h < 0 {
		h += 360
	}
	return h, s, v
}
