package vision

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
)

// Letterbox describes how a frame was fitted into the square model input:
// uniform scale plus symmetric padding.
type Letterbox struct {
	Scale      float32
	PadX, PadY float32
}

// letterboxImage fits img into a target×target square, preserving aspect
// ratio and padding the remainder with gray (114, the YOLO convention).
func letterboxImage(img image.Image, target int) (image.Image, Letterbox) {
	bounds := img.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()

	scale := float32(target) / float32(srcW)
	if s := float32(target) / float32(srcH); s < scale {
		scale = s
	}
	newW := int(float32(srcW) * scale)
	newH := int(float32(srcH) * scale)
	padX := float32(target-newW) / 2
	padY := float32(target-newH) / 2

	dst := image.NewRGBA(image.Rect(0, 0, target, target))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.RGBA{114, 114, 114, 255}), image.Point{}, draw.Src)

	resized := resizeImage(img, newW, newH)
	offset := image.Pt(int(padX), int(padY))
	draw.Draw(dst, image.Rectangle{Min: offset, Max: offset.Add(image.Pt(newW, newH))},
		resized, resized.Bounds().Min, draw.Src)

	return dst, Letterbox{Scale: scale, PadX: padX, PadY: padY}
}

// ToOriginal maps a model-space coordinate pair back to original frame
// pixels.
func (l Letterbox) ToOriginal(x, y float32) (float32, float32) {
	return (x - l.PadX) / l.Scale, (y - l.PadY) / l.Scale
}

// resizeImage performs nearest-neighbour resize (fast, good enough for ML
// input).
func resizeImage(img image.Image, targetW, targetH int) image.Image {
	bounds := img.Bounds()
	srcW := bounds.Dx()
	srcH := bounds.Dy()

	dst := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
	for y := 0; y < targetH; y++ {
		for x := 0; x < targetW; x++ {
			srcX := bounds.Min.X + x*srcW/targetW
			srcY := bounds.Min.Y + y*srcH/targetH
			dst.Set(x, y, img.At(srcX, srcY))
		}
	}
	return dst
}

// imageToCHW converts an image to CHW float32 layout normalized to [0,1].
func imageToCHW(img image.Image) []float32 {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	data := make([]float32, 3*h*w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(x+bounds.Min.X, y+bounds.Min.Y).RGBA()
			idx := y*w + x
			data[0*h*w+idx] = float32(r>>8) / 255
			data[1*h*w+idx] = float32(g>>8) / 255
			data[2*h*w+idx] = float32(b>>8) / 255
		}
	}
	return data
}

// cropRegion extracts a bbox region from the image, clamped to bounds.
// Returns nil when the clamped region is empty.
func cropRegion(img image.Image, bbox [4]float32) image.Image {
	bounds := img.Bounds()

	x1, y1 := int(bbox[0]), int(bbox[1])
	x2, y2 := int(bbox[2]), int(bbox[3])
	if x1 < bounds.Min.X {
		x1 = bounds.Min.X
	}
	if y1 < bounds.Min.Y {
		y1 = bounds.Min.Y
	}
	if x2 > bounds.Max.X {
		x2 = bounds.Max.X
	}
	if y2 > bounds.Max.Y {
		y2 = bounds.Max.Y
	}
	if x2-x1 <= 0 || y2-y1 <= 0 {
		return nil
	}

	crop := image.NewRGBA(image.Rect(0, 0, x2-x1, y2-y1))
	for cy := y1; cy < y2; cy++ {
		for cx := x1; cx < x2; cx++ {
			crop.Set(cx-x1, cy-y1, img.At(cx, cy))
		}
	}
	return crop
}

// EncodeJPEG encodes an image as JPEG with the given quality.
func EncodeJPEG(img image.Image, quality int) []byte {
	var buf bytes.Buffer
	_ = jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality})
	return buf.Bytes()
}

// DecodeJPEG decodes a JPEG frame.
func DecodeJPEG(data []byte) (image.Image, error) {
	return jpeg.Decode(bytes.NewReader(data))
}

var (
	lineColor = color.RGBA{255, 215, 0, 255}
	boxColor  = color.RGBA{0, 200, 80, 255}
)

// Annotate draws the counting line and track boxes onto a copy of the frame
// for the MJPEG preview and crossing snapshots.
func Annotate(img image.Image, lineX int, boxes [][4]float32) *image.RGBA {
	bounds := img.Bounds()
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, img, bounds.Min, draw.Src)

	if lineX >= bounds.Min.X && lineX < bounds.Max.X {
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			dst.Set(lineX, y, lineColor)
			if lineX+1 < bounds.Max.X {
				dst.Set(lineX+1, y, lineColor)
			}
		}
	}

	for _, b := range boxes {
		drawRect(dst, int(b[0]), int(b[1]), int(b[2]), int(b[3]))
	}
	return dst
}

func drawRect(dst *image.RGBA, x1, y1, x2, y2 int) {
	bounds := dst.Bounds()
	clamp := func(v, lo, hi int) int {
		if v < lo {
			return lo
		}
		if v > hi {
			return hi
		}
		return v
	}
	x1 = clamp(x1, bounds.Min.X, bounds.Max.X-1)
	y1 = clamp(y1, bounds.Min.Y, bounds.Max.Y-1)
	x2 = clamp(x2, bounds.Min.X, bounds.Max.X-1)
	y2 = clamp(y2, bounds.Min.Y, bounds.Max.Y-1)

	for x := x1; x <= x2; x++ {
		dst.Set(x, y1, boxColor)
		dst.Set(x, y2, boxColor)
	}
	for y := y1; y <= y2; y++ {
		dst.Set(x1, y, boxColor)
		dst.Set(x2, y, boxColor)
	}
}
