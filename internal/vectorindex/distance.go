package vectorindex

import (
	"fmt"
	"math"
	"strings"
)

// Metric selects how two embeddings are compared.
type Metric string

const (
	// MetricL2 is Euclidean distance, confidence = clamp(1 - d/2).
	MetricL2 Metric = "l2"
	// MetricCosine is 1 - cosine similarity, confidence = clamp(similarity).
	MetricCosine Metric = "cosine"
)

// ParseMetric parses a metric name as used in configuration.
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "l2", "euclidean":
		return MetricL2, nil
	case "cosine", "cos", "":
		return MetricCosine, nil
	default:
		return "", fmt.Errorf("unknown metric %q", s)
	}
}

// Distance returns the distance between a and b under m.
func (m Metric) Distance(a, b []float32) float64 {
	if m == MetricL2 {
		return EuclideanDistance(a, b)
	}
	return CosineDistance(a, b)
}

// CosineDistance computes the cosine distance between two vectors
// Returns a value between 0 (identical) and 2 (opposite)
// Cosine distance = 1 - cosine similarity
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2.0 // Maximum distance for invalid input
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 2.0 // Maximum distance for zero vectors
	}

	similarity := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to [-1, 1] to handle floating point errors
	similarity = max(-1, min(1, similarity))

	return 1 - similarity
}

// EuclideanDistance is the true (not squared) L2 distance.
func EuclideanDistance(a, b []float32) float64 {
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

// Normalize returns a unit-length copy of v. ok is false for a zero vector,
// in which case the copy is returned unchanged.
func Normalize(v []float32) ([]float32, bool) {
	out := make([]float32, len(v))
	copy(out, v)
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return out, false
	}
	norm = math.Sqrt(norm)
	for i := range out {
		out[i] = float32(float64(out[i]) / norm)
	}
	return out, true
}
