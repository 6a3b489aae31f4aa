package vector

import "math"

// L2Distance returns the Euclidean distance between a and b, accumulated in float64.
// Vectors of different length, and NaN results, are reported as +Inf so they sort last.
func L2Distance(a, b []float32) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	dist := math.Sqrt(sum)
	if math.IsNaN(dist) {
		return math.Inf(1)
	}
	return dist
}

// L2Norm returns the L2 norm of a vector.
func L2Norm(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}
