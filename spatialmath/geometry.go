package spatialmath

import (
	"fmt"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// Geometry is an entity that can be used for collision checking: it has a pose, a label, and can
// measure its signed separation from other geometries.
type Geometry interface {
	Pose() Pose
	Label() string
	// Transform premultiplies the geometry pose, moving it into the parent frame of `toPremultiply`.
	Transform(toPremultiply Pose) Geometry
	// DistanceFrom returns the signed separation distance. Negative values are penetration depth.
	DistanceFrom(Geometry) (float64, error)
	// CollidesWith returns whether the geometries are closer than `buffer`.
	CollidesWith(g Geometry, buffer float64) (bool, error)
	// BoundingRadius is the radius of a sphere at Pose().Point() enclosing the geometry.
	BoundingRadius() float64
	fmt.Stringer
}

// GeometryType is the name of a geometry kind in configs.
type GeometryType string

// The geometry kinds understood by GeometryConfig.
const (
	SphereType  = GeometryType("sphere")
	CapsuleType = GeometryType("capsule")
	PointType   = GeometryType("point")
)

// GeometryConfig is the json form of a geometry attached to a link.
type GeometryConfig struct {
	Type GeometryType `json:"type"`

	// sphere and capsule radius
	R float64 `json:"r,omitempty"`
	// capsule tip-to-tip length along the local z axis
	L float64 `json:"l,omitempty"`

	TranslationOffset r3.Vector          `json:"translation,omitempty"`
	OrientationOffset *OrientationConfig `json:"orientation,omitempty"`
	Label             string             `json:"label,omitempty"`
}

// ParseConfig converts a GeometryConfig into a Geometry.
func (config *GeometryConfig) ParseConfig() (Geometry, error) {
	var o Orientation = NewZeroOrientation()
	if config.OrientationOffset != nil {
		var err error
		if o, err = config.OrientationOffset.ParseConfig(); err != nil {
			return nil, err
		}
	}
	offset := NewPose(config.TranslationOffset, o)

	switch config.Type {
	case SphereType:
		return NewSphere(offset, config.R, config.Label)
	case CapsuleType:
		return NewCapsule(offset, config.R, config.L, config.Label)
	case PointType:
		return NewPoint(offset.Point(), config.Label), nil
	case "":
		return nil, errors.New("geometry config is missing a type")
	default:
		return nil, newGeometryTypeUnsupportedError(string(config.Type))
	}
}

func newBadGeometryDimensionsError(g Geometry) error {
	return fmt.Errorf("invalid dimension(s) for geometry type %T", g)
}

func newBadCapsuleLengthError(l, r float64) error {
	return fmt.Errorf("capsule length %.4f must be at least twice the radius %.4f", l, r)
}

func newGeometryTypeUnsupportedError(geomType string) error {
	return fmt.Errorf("%s is not a supported geometry type", geomType)
}

func newCollisionTypeUnsupportedError(g1, g2 Geometry) error {
	return fmt.Errorf("collisions between %T and %T are not supported", g1, g2)
}
