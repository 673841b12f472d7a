// Package vecmath provides the small set of vector primitives the index
// needs: L2 magnitude, normalization, and inner products on unit vectors.
// The heavy lifting is delegated to the SIMD-accelerated routines in
// github.com/viant/vec.
package vecmath

import "github.com/viant/vec/search"

// Magnitude returns the L2 norm of v.
func Magnitude(v []float32) float32 {
	if len(v) == 0 {
		return 0
	}
	return search.Float32s(v).Magnitude()
}

// Normalize returns a unit-length copy of v. The zero vector has no
// direction and is returned as an all-zero copy rather than NaNs.
func Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	m := Magnitude(v)
	if m == 0 {
		copy(out, v)
		return out
	}
	inv := 1 / m
	for i, x := range v {
		out[i] = x * inv
	}
	return out
}

// Dot returns the inner product of two unit-length vectors. Both inputs
// must be normalized first; with magnitudes pinned to 1 the cosine-distance
// kernel reduces to a plain dot product, and a zero vector scores 0
// against everything.
func Dot(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	// On !arm64 builds viant/vec exports the precomputed-magnitude kernel
	// under the (misnamed) CosineDistanceWithMagnitudesNeon; arm64 calls it
	// CosineDistanceWithMagnitude. Same underlying routine.
	return 1 - search.Float32s(a).CosineDistanceWithMagnitudesNeon(b, 1, 1)
}
