// Package vecmath holds the float32 vector helpers shared by ranking,
// sampling and training.
package vecmath

import "math"

// DegenerateNorm is the L2 norm below which an embedding is treated as corrupt.
const DegenerateNorm = 1e-6

func Dot(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func Norm(a []float32) float64 {
	return math.Sqrt(Dot(a, a))
}

func IsDegenerate(a []float32) bool {
	return len(a) == 0 || Norm(a) < DegenerateNorm
}

func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func Euclidean(a, b []float32) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Normalize returns a unit-length copy of a. Degenerate input yields nil.
func Normalize(a []float32) []float32 {
	n := Norm(a)
	if n < DegenerateNorm {
		return nil
	}
	out := make([]float32, len(a))
	for i, v := range a {
		out[i] = float32(float64(v) / n)
	}
	return out
}

// Mean averages vectors of equal dimension; mismatched ones are skipped.
func Mean(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	dim := len(vectors[0])
	sum := make([]float64, dim)
	count := 0
	for _, v := range vectors {
		if len(v) != dim {
			continue
		}
		for i, x := range v {
			sum[i] += float64(x)
		}
		count++
	}
	if count == 0 {
		return nil
	}
	out := make([]float32, dim)
	for i := range sum {
		out[i] = float32(sum[i] / float64(count))
	}
	return out
}

func Clone(a []float32) []float32 {
	if len(a) == 0 {
		return nil
	}
	out := make([]float32, len(a))
	copy(out, a)
	return out
}
