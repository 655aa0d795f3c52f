package utils

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// DefaultEpsilon is the tolerance used by Float64AlmostEqual callers that have no better choice.
const DefaultEpsilon = 1e-6

// DegToRad converts degrees to radians.
func DegToRad(degrees float64) float64 {
	return degrees * math.Pi / 180
}

// Float64AlmostEqual compares two float64s and returns if the difference between them is less than epsilon.
func Float64AlmostEqual(a, b, epsilon float64) bool {
	return math.Abs(a-b) <= epsilon
}

// Clamp returns value limited to [lo, hi].
func Clamp(value, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, value))
}

// Hinge returns max(0, e).
func Hinge(e float64) float64 {
	return math.Max(0, e)
}

// Linspace returns n evenly spaced values from start to end inclusive. n < 2 returns [start].
func Linspace(start, end float64, n int) []float64 {
	if n < 2 {
		return []float64{start}
	}
	out := floats.Span(make([]float64, n), start, end)
	// Span can round the last value; callers compare it against end exactly
	out[n-1] = end
	return out
}

// CopyMatrix returns a deep copy of a row-major matrix of float64s.
func CopyMatrix(in [][]float64) [][]float64 {
	out := make([][]float64, len(in))
	for i, row := range in {
		out[i] = append([]float64(nil), row...)
	}
	return out
}
