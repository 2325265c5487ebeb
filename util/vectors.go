package util

import (
	"math"
)

// Norm of a vector.
func Norm(v []float32, p int) float64 {
	sum := 0.0
	pNorm := float64(p)
	for _, e := range v {
		sum += math.Pow(math.Abs(float64(e)), pNorm)
	}
	return math.Pow(sum, 1/pNorm)
}

// Normalize the vector v with the p-norm. A zero vector is returned unchanged.
func Normalize(v []float32, p int) []float32 {
	norm := Norm(v, p)
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, e := range v {
		out[i] = float32(float64(e) / norm)
	}
	return out
}
