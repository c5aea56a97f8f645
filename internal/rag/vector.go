package rag

import "math"

// NormalizeVector scales v to unit length in place and returns it.
// A zero vector is returned unchanged — cosine against it is defined as 0.
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}

// Cosine returns the cosine similarity of a and b. Both vectors must already
// be unit-normalised, so this is a plain dot product. Returns 0 when the
// lengths differ rather than panicking — length mismatches are caught
// earlier by the index's dimension check.
func Cosine(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return float32(dot)
}
