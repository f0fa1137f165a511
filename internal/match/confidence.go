package match

import (
	"math"

	"github.com/kozaktomas/khoj/internal/vectorindex"
)

// Confidence maps a distance to [0, 1]. For L2 it is 1 - d/2 (d is the true
// Euclidean distance), for cosine it is the cosine similarity. Both are
// clamped, so distant faces report 0 rather than a negative value.
func Confidence(metric vectorindex.Metric, distance float64) float64 {
	var c float64
	switch metric {
	case vectorindex.MetricL2:
		c = 1 - distance/2
	default:
		c = 1 - distance
	}
	return max(0, min(1, c))
}

// Percent turns a confidence into a percentage rounded to two decimals.
func Percent(confidence float64) float64 {
	return math.Round(confidence*10000) / 100
}
