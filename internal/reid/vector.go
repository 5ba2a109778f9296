package reid

import "math"

// Vector is an appearance embedding. Gallery vectors are unit-norm, so
// cosine similarity reduces to the dot product.
type Vector []float32

// Cosine returns the cosine similarity of two unit vectors, clamped to [-1, 1].
func Cosine(a, b Vector) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	if dot > 1 {
		dot = 1
	}
	if dot < -1 {
		dot = -1
	}
	return float32(dot)
}

// Normalize performs L2 normalization in place.
func Normalize(v Vector) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := float32(math.Sqrt(sum))
	if norm > 0 {
		for i := range v {
			v[i] /= norm
		}
	}
}
