package spatialmath

import (
	"fmt"

	"github.com/golang/geo/r3"
)

// point is a zero volume geometry.
type point struct {
	position r3.Vector
	label    string
}

// NewPoint instantiates a new point Geometry.
func NewPoint(pt r3.Vector, label string) Geometry {
	return &point{pt, label}
}

func (pt *point) String() string {
	return fmt.Sprintf("Type: Point, Position: %v", pt.position)
}

// Label returns the label of the point.
func (pt *point) Label() string {
	return pt.label
}

// Pose returns the pose of the point.
func (pt *point) Pose() Pose {
	return NewPoseFromPoint(pt.position)
}

// BoundingRadius is zero.
func (pt *point) BoundingRadius() float64 {
	return 0
}

// Transform premultiplies the point with a transform.
func (pt *point) Transform(toPremultiply Pose) Geometry {
	return &point{TransformPoint(toPremultiply, pt.position), pt.label}
}

// CollidesWith checks if the given point collides with the given geometry.
func (pt *point) CollidesWith(g Geometry, buffer float64) (bool, error) {
	dist, err := pt.DistanceFrom(g)
	if err != nil {
		return true, err
	}
	return dist <= buffer, nil
}

// DistanceFrom returns the signed distance from the point to the given geometry.
func (pt *point) DistanceFrom(g Geometry) (float64, error) {
	switch other := g.(type) {
	case *point:
		return pt.position.Distance(other.position), nil
	case *sphere:
		return pt.position.Distance(other.pose.Point()) - other.radius, nil
	case *capsule:
		return capsuleVsPointDistance(other, pt.position), nil
	case *SweptVolume:
		return other.distanceToSphere(pt.position, 0), nil
	default:
		return 0, newCollisionTypeUnsupportedError(pt, g)
	}
}
