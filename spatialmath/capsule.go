package spatialmath

import (
	"fmt"

	"github.com/golang/geo/r3"

	"github.com/viam-labs/trajopt/utils"
)

// capsule is a collision geometry that represents a capsule, it has a pose and a radius that fully define it.
//
// ....___________________
// .../                   \
// .x|  |-------O-------|  |x
// ...\___________________/
//
// Length is the distance between the x's, or internal segment length + 2*radius. The capsule axis
// is the local z axis of its pose and O is the pose point.
type capsule struct {
	pose   Pose
	radius float64
	length float64
	label  string

	// Cached at creation. segA and segB are the ends of the internal segment.
	segA r3.Vector
	segB r3.Vector
}

// NewCapsule instantiates a new capsule Geometry.
func NewCapsule(offset Pose, radius, length float64, label string) (Geometry, error) {
	if radius <= 0 || length <= 0 {
		return nil, newBadGeometryDimensionsError(&capsule{})
	}
	if length < radius*2 {
		return nil, newBadCapsuleLengthError(length, radius)
	}
	if length == radius*2 {
		return NewSphere(offset, radius, label)
	}
	return newCapsuleWithSegPoints(offset, radius, length, label), nil
}

func newCapsuleWithSegPoints(offset Pose, radius, length float64, label string) *capsule {
	half := length/2 - radius
	return &capsule{
		pose:   offset,
		radius: radius,
		length: length,
		label:  label,
		segA:   TransformPoint(offset, r3.Vector{Z: -half}),
		segB:   TransformPoint(offset, r3.Vector{Z: half}),
	}
}

// String returns a human readable string that represents the capsule.
func (c *capsule) String() string {
	return fmt.Sprintf("Type: Capsule, Radius: %.3f, Length: %.3f", c.radius, c.length)
}

// Label returns the label of this capsule.
func (c *capsule) Label() string {
	return c.label
}

// Pose returns the pose of the capsule.
func (c *capsule) Pose() Pose {
	return c.pose
}

// Radius returns the capsule radius.
func (c *capsule) Radius() float64 {
	return c.radius
}

// Segment returns the endpoints of the internal segment.
func (c *capsule) Segment() (r3.Vector, r3.Vector) {
	return c.segA, c.segB
}

// BoundingRadius returns half the tip-to-tip length.
func (c *capsule) BoundingRadius() float64 {
	return c.length / 2
}

// AlmostEqual compares the capsule with another geometry and checks if they are equivalent.
func (c *capsule) AlmostEqual(g Geometry) bool {
	other, ok := g.(*capsule)
	if !ok {
		return false
	}
	return PoseAlmostEqualEps(c.pose, other.pose, 1e-6) &&
		utils.Float64AlmostEqual(c.radius, other.radius, 1e-8) &&
		utils.Float64AlmostEqual(c.length, other.length, 1e-8)
}

// Transform premultiplies the capsule pose with a transform, allowing the capsule to be moved in space.
func (c *capsule) Transform(toPremultiply Pose) Geometry {
	return &capsule{
		pose:   Compose(toPremultiply, c.pose),
		radius: c.radius,
		length: c.length,
		label:  c.label,
		segA:   TransformPoint(toPremultiply, c.segA),
		segB:   TransformPoint(toPremultiply, c.segB),
	}
}

// CollidesWith checks if the given capsule collides with the given geometry and returns true if it does.
func (c *capsule) CollidesWith(g Geometry, buffer float64) (bool, error) {
	dist, err := c.DistanceFrom(g)
	if err != nil {
		return true, err
	}
	return dist <= buffer, nil
}

// DistanceFrom finds the signed distance from the capsule to the given geometry.
func (c *capsule) DistanceFrom(g Geometry) (float64, error) {
	switch other := g.(type) {
	case *sphere:
		return capsuleVsSphereDistance(c, other), nil
	case *capsule:
		return capsuleVsCapsuleDistance(c, other), nil
	case *point:
		return capsuleVsPointDistance(c, other.position), nil
	case *SweptVolume:
		return other.distanceToCapsule(c), nil
	default:
		return 0, newCollisionTypeUnsupportedError(c, g)
	}
}

func capsuleVsPointDistance(c *capsule, other r3.Vector) float64 {
	return DistToLineSegment(c.segA, c.segB, other) - c.radius
}

func capsuleVsSphereDistance(c *capsule, other *sphere) float64 {
	return DistToLineSegment(c.segA, c.segB, other.pose.Point()) - (c.radius + other.radius)
}

func capsuleVsCapsuleDistance(c, other *capsule) float64 {
	return SegmentDistanceToSegment(c.segA, c.segB, other.segA, other.segB) - (c.radius + other.radius)
}
