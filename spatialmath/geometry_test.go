package spatialmath

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func makeTestCapsule(t *testing.T, pose Pose, radius, length float64) Geometry {
	t.Helper()
	c, err := NewCapsule(pose, radius, length, "")
	test.That(t, err, test.ShouldBeNil)
	return c
}

func TestGeometryConstruction(t *testing.T) {
	_, err := NewCapsule(NewZeroPose(), 1, 1, "")
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewCapsule(NewZeroPose(), 0, 1, "")
	test.That(t, err, test.ShouldNotBeNil)

	// A capsule exactly twice its radius long is a sphere.
	g, err := NewCapsule(NewZeroPose(), 1, 2, "ball")
	test.That(t, err, test.ShouldBeNil)
	_, isSphere := g.(*sphere)
	test.That(t, isSphere, test.ShouldBeTrue)

	_, err = NewSphere(NewZeroPose(), -1, "")
	test.That(t, err, test.ShouldNotBeNil)

	cfg := &GeometryConfig{Type: CapsuleType, R: 0.05, L: 0.3, TranslationOffset: r3.Vector{Z: 0.15}, Label: "link"}
	g, err = cfg.ParseConfig()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, g.Label(), test.ShouldEqual, "link")
	a, b := g.(*capsule).Segment()
	test.That(t, R3VectorAlmostEqual(a, r3.Vector{Z: 0.05}, 1e-9), test.ShouldBeTrue)
	test.That(t, R3VectorAlmostEqual(b, r3.Vector{Z: 0.25}, 1e-9), test.ShouldBeTrue)

	_, err = (&GeometryConfig{Type: "box"}).ParseConfig()
	test.That(t, err, test.ShouldBeError, "box is not a supported geometry type")
	_, err = (&GeometryConfig{}).ParseConfig()
	test.That(t, err, test.ShouldNotBeNil)
}

func TestGeometryDistances(t *testing.T) {
	s1, _ := NewSphere(NewZeroPose(), 1, "")
	s2, _ := NewSphere(NewPoseFromPoint(r3.Vector{X: 3}), 0.5, "")
	pt := NewPoint(r3.Vector{Y: 2}, "")
	c := makeTestCapsule(t, NewPoseFromPoint(r3.Vector{X: 10}), 1, 4)

	for _, tc := range []struct {
		name     string
		a, b     Geometry
		expected float64
	}{
		{"sphere sphere", s1, s2, 1.5},
		{"sphere point", s1, pt, 1},
		{"point sphere", pt, s1, 1},
		{"point point", pt, NewPoint(r3.Vector{Y: 5}, ""), 3},
		{"capsule sphere", c, s2, 10 - 3 - 1.5},
		{"sphere capsule", s2, c, 10 - 3 - 1.5},
		{"capsule point beside segment", c, NewPoint(r3.Vector{X: 12, Z: 0.5}, ""), 1},
		{"capsule point past cap", c, NewPoint(r3.Vector{X: 10, Z: 4}, ""), 2},
		{"capsule capsule", c, makeTestCapsule(t, NewPoseFromPoint(r3.Vector{X: 13}), 0.5, 2), 1.5},
		{"penetrating spheres", s1, s1, -2},
	} {
		t.Run(tc.name, func(t *testing.T) {
			dist, err := tc.a.DistanceFrom(tc.b)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, dist, test.ShouldAlmostEqual, tc.expected, 1e-9)
		})
	}

	collides, err := s1.CollidesWith(s2, 1.4)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, collides, test.ShouldBeFalse)
	collides, err = s1.CollidesWith(s2, 1.6)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, collides, test.ShouldBeTrue)
}

func TestGeometryTransform(t *testing.T) {
	rotX := NewPose(r3.Vector{Y: 1}, &R4AA{Theta: math.Pi / 2, RX: 1})
	c := makeTestCapsule(t, NewZeroPose(), 0.1, 1).Transform(rotX)
	a, b := c.(*capsule).Segment()
	// The local z axis is rotated onto -y.
	test.That(t, R3VectorAlmostEqual(a, r3.Vector{Y: 1.4}, 1e-9), test.ShouldBeTrue)
	test.That(t, R3VectorAlmostEqual(b, r3.Vector{Y: 0.6}, 1e-9), test.ShouldBeTrue)

	pt := NewPoint(r3.Vector{Z: 1}, "p").Transform(rotX)
	test.That(t, R3VectorAlmostEqual(pt.Pose().Point(), r3.Vector{}, 1e-9), test.ShouldBeTrue)
}

func TestTriangleClosestPoint(t *testing.T) {
	tri := NewTriangle(r3.Vector{}, r3.Vector{X: 1}, r3.Vector{Y: 1})
	for _, tc := range []struct {
		query, expected r3.Vector
	}{
		{r3.Vector{X: 0.2, Y: 0.2, Z: 1}, r3.Vector{X: 0.2, Y: 0.2}},
		{r3.Vector{X: -1, Y: -1}, r3.Vector{}},
		{r3.Vector{X: 2, Y: -0.5}, r3.Vector{X: 1}},
		{r3.Vector{X: 0.5, Y: -1}, r3.Vector{X: 0.5}},
		{r3.Vector{X: 1, Y: 1}, r3.Vector{X: 0.5, Y: 0.5}},
	} {
		test.That(t, R3VectorAlmostEqual(tri.ClosestPointToPoint(tc.query), tc.expected, 1e-9), test.ShouldBeTrue)
	}

	line := NewTriangle(r3.Vector{}, r3.Vector{X: 1}, r3.Vector{X: 2})
	test.That(t, line.Normal(), test.ShouldResemble, r3.Vector{})
	test.That(t, line.DistanceToPoint(r3.Vector{X: 1.5, Y: 2}), test.ShouldAlmostEqual, 2, 1e-9)
}

func TestSegmentHelpers(t *testing.T) {
	a, b := ClosestPointsSegmentSegment(r3.Vector{}, r3.Vector{X: 1}, r3.Vector{X: 0.5, Y: 1, Z: -1}, r3.Vector{X: 0.5, Y: 1, Z: 1})
	test.That(t, R3VectorAlmostEqual(a, r3.Vector{X: 0.5}, 1e-9), test.ShouldBeTrue)
	test.That(t, R3VectorAlmostEqual(b, r3.Vector{X: 0.5, Y: 1}, 1e-9), test.ShouldBeTrue)

	// parallel segments
	dist := SegmentDistanceToSegment(r3.Vector{}, r3.Vector{X: 1}, r3.Vector{Y: 2}, r3.Vector{X: 1, Y: 2})
	test.That(t, dist, test.ShouldAlmostEqual, 2, 1e-9)
	// degenerate segments
	dist = SegmentDistanceToSegment(r3.Vector{}, r3.Vector{}, r3.Vector{Z: 3}, r3.Vector{Z: 3})
	test.That(t, dist, test.ShouldAlmostEqual, 3, 1e-9)

	test.That(t, DistToLineSegment(r3.Vector{}, r3.Vector{X: 1}, r3.Vector{X: 3}), test.ShouldAlmostEqual, 2, 1e-9)
}
