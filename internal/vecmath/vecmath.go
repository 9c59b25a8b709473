// Package vecmath holds the vector operations shared by the embedding,
// baseline and index packages.
package vecmath

import (
	"math"
)

// Dot returns the inner product of two equal-length vectors.
// Callers are responsible for checking dimensions.
func Dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// Norm returns the L2 norm of v.
func Norm(v []float64) float64 {
	return math.Sqrt(Dot(v, v))
}

// CosineSimilarity calculates the cosine similarity between two vectors.
// Returns a value between -1.0 (opposite) and 1.0 (identical), or 0 when the
// dimensions differ or either vector has zero norm.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Normalize returns a unit-length copy of v. The second return value is
// false when v is empty, has zero norm, or contains NaN/Inf.
func Normalize(v []float64) ([]float64, bool) {
	if len(v) == 0 {
		return nil, false
	}

	var norm float64
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, false
		}
		norm += x * x
	}

	if norm == 0 {
		return nil, false
	}

	norm = math.Sqrt(norm)
	normalized := make([]float64, len(v))
	for i, x := range v {
		normalized[i] = x / norm
	}

	return normalized, true
}

// IsNormalized reports whether v has unit length within tol.
func IsNormalized(v []float64, tol float64) bool {
	return math.Abs(Norm(v)-1) <= tol
}

// Mean returns the element-wise mean of vectors, which must share a dimension.
func Mean(vectors [][]float64) []float64 {
	if len(vectors) == 0 {
		return nil
	}
	mean := make([]float64, len(vectors[0]))
	for _, v := range vectors {
		for i, x := range v {
			mean[i] += x
		}
	}
	n := float64(len(vectors))
	for i := range mean {
		mean[i] /= n
	}
	return mean
}

// ToFloat32 converts for pgvector columns.
func ToFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

// FromFloat32 converts pgvector columns back to the domain representation.
func FromFloat32(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

// Clamp01 limits x to [0, 1].
func Clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
