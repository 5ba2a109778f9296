package vision

import (
	"fmt"
	"image"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/peoplecounter/internal/reid"
)

// ONNXEmbedder extracts appearance embeddings from person patches with an
// OSNet-style re-identification model. It satisfies reid.Embedder and is a
// drop-in replacement for the histogram embedder when reid.model_path is
// configured.
type ONNXEmbedder struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	inputW       int
	inputH       int
	embDim       int
}

// NewONNXEmbedder loads the appearance model. The stock OSNet export expects
// a 128x256 person patch and yields a 512-dim vector.
func NewONNXEmbedder(modelPath string, opts *ort.SessionOptions) (*ONNXEmbedder, error) {
	inputW, inputH := 128, 256
	embDim := 512

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(inputH), int64(inputW)))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(embDim)))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input"},
		[]string{"output"},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		opts,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create embedder session: %w", err)
	}

	return &ONNXEmbedder{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		inputW:       inputW,
		inputH:       inputH,
		embDim:       embDim,
	}, nil
}

// Embed runs the model on a person patch and returns a unit-norm vector.
func (e *ONNXEmbedder) Embed(patch image.Image) (reid.Vector, error) {
	resized := resizeImage(patch, e.inputW, e.inputH)
	copy(e.inputTensor.GetData(), imageToCHW(resized))

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("run embedding: %w", err)
	}

	vec := make(reid.Vector, e.embDim)
	copy(vec, e.outputTensor.GetData())
	reid.Normalize(vec)
	return vec, nil
}

// Dim returns the embedding vector dimension.
func (e *ONNXEmbedder) Dim() int { return e.embDim }

func (e *ONNXEmbedder) Close() {
	if e.session != nil {
		e.session.Destroy()
	}
	if e.inputTensor != nil {
		e.inputTensor.Destroy()
	}
	if e.outputTensor != nil {
		e.outputTensor.Destroy()
	}
}
