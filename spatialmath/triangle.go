package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
)

// Triangle is three points in space. Degenerate triangles (collinear or repeated points) are
// allowed and behave like their longest edge.
type Triangle struct {
	p0 r3.Vector
	p1 r3.Vector
	p2 r3.Vector

	normal r3.Vector
}

// NewTriangle builds a triangle and caches its normal.
func NewTriangle(p0, p1, p2 r3.Vector) *Triangle {
	return &Triangle{
		p0:     p0,
		p1:     p1,
		p2:     p2,
		normal: PlaneNormal(p0, p1, p2),
	}
}

// Points returns the vertices.
func (t *Triangle) Points() []r3.Vector {
	return []r3.Vector{t.p0, t.p1, t.p2}
}

// Normal returns the unit normal, or zero for degenerate triangles.
func (t *Triangle) Normal() r3.Vector {
	return t.normal
}

func (t *Triangle) degenerate() bool {
	return t.normal.Norm2() == 0
}

// ClosestPointToPoint returns the point of the triangle closest to pt using the Voronoi region
// walk from Ericson, Real-Time Collision Detection, 5.1.5.
func (t *Triangle) ClosestPointToPoint(pt r3.Vector) r3.Vector {
	if t.degenerate() {
		best := ClosestPointSegmentPoint(t.p0, t.p1, pt)
		for _, candidate := range []r3.Vector{
			ClosestPointSegmentPoint(t.p1, t.p2, pt),
			ClosestPointSegmentPoint(t.p2, t.p0, pt),
		} {
			if pt.Sub(candidate).Norm2() < pt.Sub(best).Norm2() {
				best = candidate
			}
		}
		return best
	}

	a, b, c := t.p0, t.p1, t.p2
	ab := b.Sub(a)
	ac := c.Sub(a)
	ap := pt.Sub(a)
	d1 := ab.Dot(ap)
	d2 := ac.Dot(ap)
	if d1 <= 0 && d2 <= 0 {
		return a
	}

	bp := pt.Sub(b)
	d3 := ab.Dot(bp)
	d4 := ac.Dot(bp)
	if d3 >= 0 && d4 <= d3 {
		return b
	}

	vc := d1*d4 - d3*d2
	if vc <= 0 && d1 >= 0 && d3 <= 0 {
		return a.Add(ab.Mul(d1 / (d1 - d3)))
	}

	cp := pt.Sub(c)
	d5 := ab.Dot(cp)
	d6 := ac.Dot(cp)
	if d6 >= 0 && d5 <= d6 {
		return c
	}

	vb := d5*d2 - d1*d6
	if vb <= 0 && d2 >= 0 && d6 <= 0 {
		return a.Add(ac.Mul(d2 / (d2 - d6)))
	}

	va := d3*d6 - d5*d4
	if va <= 0 && (d4-d3) >= 0 && (d5-d6) >= 0 {
		return b.Add(c.Sub(b).Mul((d4 - d3) / ((d4 - d3) + (d5 - d6))))
	}

	denom := 1 / (va + vb + vc)
	v := vb * denom
	w := vc * denom
	return a.Add(ab.Mul(v)).Add(ac.Mul(w))
}

// DistanceToPoint returns the unsigned distance from pt to the triangle.
func (t *Triangle) DistanceToPoint(pt r3.Vector) float64 {
	return pt.Distance(t.ClosestPointToPoint(pt))
}

// DistanceToSegment returns the unsigned distance from segment pq to the triangle. It is zero when the segment
// crosses the triangle.
func (t *Triangle) DistanceToSegment(p, q r3.Vector) float64 {
	if !t.degenerate() {
		dp := t.normal.Dot(p.Sub(t.p0))
		dq := t.normal.Dot(q.Sub(t.p0))
		if dp*dq <= 0 && dp != dq {
			crossing := p.Add(q.Sub(p).Mul(dp / (dp - dq)))
			if t.DistanceToPoint(crossing) < 1e-9 {
				return 0
			}
		}
	}
	dist := math.Min(t.DistanceToPoint(p), t.DistanceToPoint(q))
	for _, edge := range [][2]r3.Vector{{t.p0, t.p1}, {t.p1, t.p2}, {t.p2, t.p0}} {
		dist = math.Min(dist, SegmentDistanceToSegment(p, q, edge[0], edge[1]))
	}
	return dist
}
