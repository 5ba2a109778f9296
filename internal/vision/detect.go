package vision

import (
	"fmt"
	"image"
	"math"
	"sort"

	ort "github.com/yalue/onnxruntime_go"
)

// Detection is one person box in original frame pixels.
type Detection struct {
	BBox       [4]float32 // x1, y1, x2, y2
	Confidence float32
}

const personClass = 0

// Detector runs YOLOv8 person detection using ONNX Runtime. Input and output
// tensors are allocated once and reused across frames.
type Detector struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	confidence   float32
	iouThreshold float32
	inputSize    int
	numAnchors   int
}

// NewDetector loads a YOLOv8 ONNX model. inputSize is the square model input
// edge (640 for the stock yolov8n export). opts may be nil (ORT defaults).
func NewDetector(modelPath string, inputSize int, confidence, iouThreshold float32, opts *ort.SessionOptions) (*Detector, error) {
	if inputSize <= 0 {
		inputSize = 640
	}
	// YOLOv8 predicts one anchor per cell at strides 8, 16 and 32.
	numAnchors := 0
	for _, stride := range []int{8, 16, 32} {
		numAnchors += (inputSize / stride) * (inputSize / stride)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(inputSize), int64(inputSize)))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	// Output rows: cx, cy, w, h, then 80 class scores.
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 84, int64(numAnchors)))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"images"},
		[]string{"output0"},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		opts,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create detector session: %w", err)
	}

	return &Detector{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		confidence:   confidence,
		iouThreshold: iouThreshold,
		inputSize:    inputSize,
		numAnchors:   numAnchors,
	}, nil
}

// Detect runs person detection on a frame. Boxes come back in original frame
// pixels, confidence-filtered and NMS-suppressed.
func (d *Detector) Detect(img image.Image) ([]Detection, error) {
	boxed, lb := letterboxImage(img, d.inputSize)
	copy(d.inputTensor.GetData(), imageToCHW(boxed))

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	bounds := img.Bounds()
	detections := parseYOLO(d.outputTensor.GetData(), d.numAnchors, d.confidence, lb,
		float32(bounds.Dx()), float32(bounds.Dy()))
	return nms(detections, d.iouThreshold), nil
}

// parseYOLO decodes the transposed [84, n] output: rows 0-3 are the box
// center/size in model pixels, rows 4..83 per-class scores.
func parseYOLO(out []float32, n int, confidence float32, lb Letterbox, origW, origH float32) []Detection {
	var detections []Detection
	for i := 0; i < n; i++ {
		score := out[(4+personClass)*n+i]
		if score < confidence {
			continue
		}

		cx := out[0*n+i]
		cy := out[1*n+i]
		w := out[2*n+i]
		h := out[3*n+i]

		x1, y1 := lb.ToOriginal(cx-w/2, cy-h/2)
		x2, y2 := lb.ToOriginal(cx+w/2, cy+h/2)

		x1 = clampF(x1, 0, origW)
		y1 = clampF(y1, 0, origH)
		x2 = clampF(x2, 0, origW)
		y2 = clampF(y2, 0, origH)
		if x2 <= x1 || y2 <= y1 {
			continue
		}

		detections = append(detections, Detection{
			BBox:       [4]float32{x1, y1, x2, y2},
			Confidence: score,
		})
	}
	return detections
}

// InputSize returns the model's square input edge.
func (d *Detector) InputSize() int { return d.inputSize }

func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	if d.outputTensor != nil {
		d.outputTensor.Destroy()
	}
}

// nms performs Non-Maximum Suppression on detections.
func nms(detections []Detection, iouThreshold float32) []Detection {
	if len(detections) == 0 {
		return detections
	}

	sort.Slice(detections, func(i, j int) bool {
		return detections[i].Confidence > detections[j].Confidence
	})

	keep := make([]bool, len(detections))
	for i := range keep {
		keep[i] = true
	}

	for i := 0; i < len(detections); i++ {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(detections); j++ {
			if !keep[j] {
				continue
			}
			if iou(detections[i].BBox, detections[j].BBox) > iouThreshold {
				keep[j] = false
			}
		}
	}

	var result []Detection
	for i, det := range detections {
		if keep[i] {
			result = append(result, det)
		}
	}
	return result
}

func iou(a, b [4]float32) float32 {
	x1 := float32(math.Max(float64(a[0]), float64(b[0])))
	y1 := float32(math.Max(float64(a[1]), float64(b[1])))
	x2 := float32(math.Min(float64(a[2]), float64(b[2])))
	y2 := float32(math.Min(float64(a[3]), float64(b[3])))

	intersection := float32(math.Max(0, float64(x2-x1))) * float32(math.Max(0, float64(y2-y1)))

	areaA := (a[2] - a[0]) * (a[3] - a[1])
	areaB := (b[2] - b[0]) * (b[3] - b[1])
	union := areaA + areaB - intersection

	if union <= 0 {
		return 0
	}
	return intersection / union
}

func clampF(v, min, max float32) float32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
