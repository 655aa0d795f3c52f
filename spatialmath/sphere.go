package spatialmath

import (
	"fmt"

	"github.com/viam-labs/trajopt/utils"
)

// sphere is a collision geometry that represents a sphere, it has a pose and a radius that fully define it.
type sphere struct {
	pose   Pose
	radius float64
	label  string
}

// NewSphere instantiates a new sphere Geometry.
func NewSphere(offset Pose, radius float64, label string) (Geometry, error) {
	if radius < 0 {
		return nil, newBadGeometryDimensionsError(&sphere{})
	}
	return &sphere{offset, radius, label}, nil
}

// String returns a human readable string that represents the sphere.
func (s *sphere) String() string {
	return fmt.Sprintf("Type: Sphere, Radius: %.3f, Center: %v", s.radius, s.pose.Point())
}

// Label returns the label of this sphere.
func (s *sphere) Label() string {
	return s.label
}

// Pose returns the pose of the sphere.
func (s *sphere) Pose() Pose {
	return s.pose
}

// Radius returns the sphere radius.
func (s *sphere) Radius() float64 {
	return s.radius
}

// BoundingRadius returns the sphere radius.
func (s *sphere) BoundingRadius() float64 {
	return s.radius
}

// AlmostEqual compares the sphere with another geometry and checks if they are equivalent.
func (s *sphere) AlmostEqual(g Geometry) bool {
	other, ok := g.(*sphere)
	if !ok {
		return false
	}
	return PoseAlmostEqual(s.pose, other.pose) && utils.Float64AlmostEqual(s.radius, other.radius, 1e-8)
}

// Transform premultiplies the sphere pose with a transform, allowing the sphere to be moved in space.
func (s *sphere) Transform(toPremultiply Pose) Geometry {
	return &sphere{Compose(toPremultiply, s.pose), s.radius, s.label}
}

// CollidesWith checks if the given sphere collides with the given geometry and returns true if it does.
func (s *sphere) CollidesWith(g Geometry, buffer float64) (bool, error) {
	dist, err := s.DistanceFrom(g)
	if err != nil {
		return true, err
	}
	return dist <= buffer, nil
}

// DistanceFrom calculates the signed distance from the sphere to the given geometry.
func (s *sphere) DistanceFrom(g Geometry) (float64, error) {
	center := s.pose.Point()
	switch other := g.(type) {
	case *sphere:
		return center.Distance(other.pose.Point()) - (s.radius + other.radius), nil
	case *point:
		return center.Distance(other.position) - s.radius, nil
	case *capsule:
		return capsuleVsSphereDistance(other, s), nil
	case *SweptVolume:
		return other.distanceToSphere(center, s.radius), nil
	default:
		return 0, newCollisionTypeUnsupportedError(s, g)
	}
}
