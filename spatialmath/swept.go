package spatialmath

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

// SweptVolume is the volume covered by a sphere or capsule moving linearly between two poses. It
// is represented as the convex hull of the core points (sphere centers or capsule segment ends)
// inflated by the radius, which is exact for spheres and conservative for rotating capsules.
type SweptVolume struct {
	core   []r3.Vector
	radius float64
	label  string
	faces  []*Triangle
	// volume of the core tetrahedron, zero when the core is planar or smaller
	solid bool
}

// NewSweptVolume returns the swept volume between two placements of the same geometry.
func NewSweptVolume(before, after Geometry) (*SweptVolume, error) {
	switch b := before.(type) {
	case *sphere:
		a, ok := after.(*sphere)
		if !ok {
			return nil, newCollisionTypeUnsupportedError(before, after)
		}
		return newSweptVolume([]r3.Vector{b.pose.Point(), a.pose.Point()}, math.Max(a.radius, b.radius), b.label), nil
	case *capsule:
		a, ok := after.(*capsule)
		if !ok {
			return nil, newCollisionTypeUnsupportedError(before, after)
		}
		return newSweptVolume([]r3.Vector{b.segA, b.segB, a.segA, a.segB}, math.Max(a.radius, b.radius), b.label), nil
	case *point:
		a, ok := after.(*point)
		if !ok {
			return nil, newCollisionTypeUnsupportedError(before, after)
		}
		return newSweptVolume([]r3.Vector{b.position, a.position}, 0, b.label), nil
	default:
		return nil, newCollisionTypeUnsupportedError(before, after)
	}
}

func newSweptVolume(core []r3.Vector, radius float64, label string) *SweptVolume {
	sv := &SweptVolume{core: core, radius: radius, label: label}
	if len(core) == 4 {
		a, b, c, d := core[0], core[1], core[2], core[3]
		sv.faces = []*Triangle{
			NewTriangle(a, b, c),
			NewTriangle(a, b, d),
			NewTriangle(a, c, d),
			NewTriangle(b, c, d),
		}
		sv.solid = math.Abs(b.Sub(a).Dot(c.Sub(a).Cross(d.Sub(a)))) > 1e-12
	}
	return sv
}

// Core returns the hull points.
func (sv *SweptVolume) Core() []r3.Vector {
	return sv.core
}

// Radius returns the inflation radius.
func (sv *SweptVolume) Radius() float64 {
	return sv.radius
}

func (sv *SweptVolume) String() string {
	return fmt.Sprintf("Type: SweptVolume, Points: %d, Radius: %.3f", len(sv.core), sv.radius)
}

// Label returns the label of the swept geometry.
func (sv *SweptVolume) Label() string {
	return sv.label
}

// Pose returns a pose at the centroid of the core points.
func (sv *SweptVolume) Pose() Pose {
	return NewPoseFromPoint(sv.centroid())
}

func (sv *SweptVolume) centroid() r3.Vector {
	var sum r3.Vector
	for _, p := range sv.core {
		sum = sum.Add(p)
	}
	return sum.Mul(1 / float64(len(sv.core)))
}

// BoundingRadius returns the radius of a sphere at the centroid enclosing the volume.
func (sv *SweptVolume) BoundingRadius() float64 {
	c := sv.centroid()
	maxDist := 0.
	for _, p := range sv.core {
		maxDist = math.Max(maxDist, p.Distance(c))
	}
	return maxDist + sv.radius
}

// Transform moves the swept volume.
func (sv *SweptVolume) Transform(toPremultiply Pose) Geometry {
	moved := make([]r3.Vector, 0, len(sv.core))
	for _, p := range sv.core {
		moved = append(moved, TransformPoint(toPremultiply, p))
	}
	return newSweptVolume(moved, sv.radius, sv.label)
}

// CollidesWith checks whether the swept volume comes within buffer of g.
func (sv *SweptVolume) CollidesWith(g Geometry, buffer float64) (bool, error) {
	dist, err := sv.DistanceFrom(g)
	if err != nil {
		return true, err
	}
	return dist <= buffer, nil
}

// DistanceFrom returns the signed distance to a sphere, capsule or point.
func (sv *SweptVolume) DistanceFrom(g Geometry) (float64, error) {
	switch other := g.(type) {
	case *sphere:
		return sv.distanceToSphere(other.pose.Point(), other.radius), nil
	case *capsule:
		return sv.distanceToCapsule(other), nil
	case *point:
		return sv.distanceToSphere(other.position, 0), nil
	default:
		return 0, newCollisionTypeUnsupportedError(sv, g)
	}
}

func (sv *SweptVolume) distanceToSphere(center r3.Vector, radius float64) float64 {
	return sv.signedCoreDistance(center) - sv.radius - radius
}

func (sv *SweptVolume) distanceToCapsule(c *capsule) float64 {
	return sv.segmentCoreDistance(c.segA, c.segB) - sv.radius - c.radius
}

// segmentCoreDistance is the distance from segment pq to the hull of the core points. It is negative only when an
// end of the segment is inside a solid core, and zero when the segment passes through the hull.
func (sv *SweptVolume) segmentCoreDistance(p, q r3.Vector) float64 {
	switch len(sv.core) {
	case 1:
		return DistToLineSegment(p, q, sv.core[0])
	case 2:
		return SegmentDistanceToSegment(p, q, sv.core[0], sv.core[1])
	case 3:
		return NewTriangle(sv.core[0], sv.core[1], sv.core[2]).DistanceToSegment(p, q)
	}

	if sv.solid {
		if inside := math.Min(sv.signedCoreDistance(p), sv.signedCoreDistance(q)); inside < 0 {
			return inside
		}
	}
	dist := math.Inf(1)
	for _, face := range sv.faces {
		dist = math.Min(dist, face.DistanceToSegment(p, q))
	}
	return dist
}

// signedCoreDistance is the distance from pt to the hull of the core points, negative inside.
func (sv *SweptVolume) signedCoreDistance(pt r3.Vector) float64 {
	switch len(sv.core) {
	case 1:
		return pt.Distance(sv.core[0])
	case 2:
		return DistToLineSegment(sv.core[0], sv.core[1], pt)
	case 3:
		return NewTriangle(sv.core[0], sv.core[1], sv.core[2]).DistanceToPoint(pt)
	}

	dist := math.Inf(1)
	for _, face := range sv.faces {
		dist = math.Min(dist, face.DistanceToPoint(pt))
	}
	if sv.solid && sv.containsPoint(pt) {
		return -dist
	}
	return dist
}

// containsPoint reports whether pt is inside the core tetrahedron: it must be on the same side of
// every face as the opposite vertex.
func (sv *SweptVolume) containsPoint(pt r3.Vector) bool {
	opposite := []r3.Vector{sv.core[3], sv.core[2], sv.core[1], sv.core[0]}
	for i, face := range sv.faces {
		n := face.Normal()
		sideOpposite := n.Dot(opposite[i].Sub(face.p0))
		sidePoint := n.Dot(pt.Sub(face.p0))
		if sideOpposite*sidePoint < 0 {
			return false
		}
	}
	return true
}
