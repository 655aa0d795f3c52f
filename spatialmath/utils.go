package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
)

const geometryEpsilon = 1e-12

// ClosestPointSegmentPoint returns the point on segment ab closest to pt.
func ClosestPointSegmentPoint(a, b, pt r3.Vector) r3.Vector {
	ab := b.Sub(a)
	denom := ab.Norm2()
	if denom < geometryEpsilon {
		return a
	}
	t := pt.Sub(a).Dot(ab) / denom
	t = math.Max(0, math.Min(1, t))
	return a.Add(ab.Mul(t))
}

// DistToLineSegment returns the distance from pt to segment ab.
func DistToLineSegment(a, b, pt r3.Vector) float64 {
	return pt.Distance(ClosestPointSegmentPoint(a, b, pt))
}

// ClosestPointsSegmentSegment returns the closest pair of points between segments p1q1 and p2q2.
// See Ericson, Real-Time Collision Detection, 5.1.9.
func ClosestPointsSegmentSegment(p1, q1, p2, q2 r3.Vector) (r3.Vector, r3.Vector) {
	d1 := q1.Sub(p1)
	d2 := q2.Sub(p2)
	r := p1.Sub(p2)
	a := d1.Norm2()
	e := d2.Norm2()
	f := d2.Dot(r)

	var s, t float64
	switch {
	case a <= geometryEpsilon && e <= geometryEpsilon:
		return p1, p2
	case a <= geometryEpsilon:
		t = clamp01(f / e)
	default:
		c := d1.Dot(r)
		if e <= geometryEpsilon {
			s = clamp01(-c / a)
		} else {
			b := d1.Dot(d2)
			denom := a*e - b*b
			if denom > geometryEpsilon {
				s = clamp01((b*f - c*e) / denom)
			}
			t = (b*s + f) / e
			if t < 0 {
				t = 0
				s = clamp01(-c / a)
			} else if t > 1 {
				t = 1
				s = clamp01((b - c) / a)
			}
		}
	}
	return p1.Add(d1.Mul(s)), p2.Add(d2.Mul(t))
}

// SegmentDistanceToSegment returns the minimum distance between segments ab and cd.
func SegmentDistanceToSegment(a, b, c, d r3.Vector) float64 {
	pa, pc := ClosestPointsSegmentSegment(a, b, c, d)
	return pa.Distance(pc)
}

// PlaneNormal returns the unit normal of the plane through three points, oriented by the right
// hand rule. Degenerate inputs return the zero vector.
func PlaneNormal(p0, p1, p2 r3.Vector) r3.Vector {
	n := p1.Sub(p0).Cross(p2.Sub(p0))
	norm := n.Norm()
	if norm < geometryEpsilon {
		return r3.Vector{}
	}
	return n.Mul(1 / norm)
}

// R3VectorAlmostEqual compares two vectors component-wise.
func R3VectorAlmostEqual(a, b r3.Vector, epsilon float64) bool {
	return math.Abs(a.X-b.X) < epsilon && math.Abs(a.Y-b.Y) < epsilon && math.Abs(a.Z-b.Z) < epsilon
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
