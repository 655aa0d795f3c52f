package spatialmath

import (
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestSweptSphere(t *testing.T) {
	before, _ := NewSphere(NewZeroPose(), 0.05, "ball")
	after, _ := NewSphere(NewPoseFromPoint(r3.Vector{X: 1}), 0.05, "ball")
	obstacle, _ := NewSphere(NewPoseFromPoint(r3.Vector{X: 0.5, Y: 0.09}), 0.05, "")

	// Both endpoints are clear of the obstacle.
	d, err := before.DistanceFrom(obstacle)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d, test.ShouldBeGreaterThan, 0)
	d, err = after.DistanceFrom(obstacle)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d, test.ShouldBeGreaterThan, 0)

	// The sweep passes through it.
	swept, err := NewSweptVolume(before, after)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, swept.Label(), test.ShouldEqual, "ball")
	d, err = swept.DistanceFrom(obstacle)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d, test.ShouldAlmostEqual, -0.01, 1e-9)
	d, err = obstacle.DistanceFrom(swept)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d, test.ShouldAlmostEqual, -0.01, 1e-9)

	_, err = NewSweptVolume(before, NewPoint(r3.Vector{}, ""))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSweptCapsule(t *testing.T) {
	// A vertical capsule translating along x sweeps a planar rectangle.
	before := makeTestCapsule(t, NewZeroPose(), 0.1, 1.2)
	after := makeTestCapsule(t, NewPoseFromPoint(r3.Vector{X: 2}), 0.1, 1.2)
	swept, err := NewSweptVolume(before, after)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, swept.Core(), test.ShouldHaveLength, 4)

	d, err := swept.DistanceFrom(NewPoint(r3.Vector{X: 1, Y: 0.3}, ""))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d, test.ShouldAlmostEqual, 0.2, 1e-9)

	// A rotating capsule sweeps a solid tetrahedron; its interior is at negative distance.
	rotated := makeTestCapsule(t, NewPose(r3.Vector{X: 2}, &R4AA{Theta: 1.5707963267948966, RX: 1}), 0.1, 1.2)
	solid, err := NewSweptVolume(before, rotated)
	test.That(t, err, test.ShouldBeNil)
	centroid := solid.Pose().Point()
	d, err = solid.DistanceFrom(NewPoint(centroid, ""))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d, test.ShouldBeLessThan, -0.1)

	far, err := solid.DistanceFrom(NewPoint(r3.Vector{X: -5}, ""))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, far, test.ShouldAlmostEqual, 4.9, 1e-9)
	test.That(t, solid.BoundingRadius(), test.ShouldBeGreaterThan, 1.)

	moved := swept.Transform(NewPoseFromPoint(r3.Vector{Z: 10})).(*SweptVolume)
	test.That(t, moved.Core()[0].Z, test.ShouldAlmostEqual, 9.5, 1e-9)
}

func TestSweptVolumeAgainstCapsule(t *testing.T) {
	before, _ := NewSphere(NewZeroPose(), 0.05, "ball")
	after, _ := NewSphere(NewPoseFromPoint(r3.Vector{X: 1}), 0.05, "ball")
	swept, err := NewSweptVolume(before, after)
	test.That(t, err, test.ShouldBeNil)

	rod := makeTestCapsule(t, NewPoseFromPoint(r3.Vector{X: 0.5, Y: 0.09}), 0.05, 0.4)
	d, err := swept.DistanceFrom(rod)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d, test.ShouldAlmostEqual, -0.01, 1e-9)
	d, err = rod.DistanceFrom(swept)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d, test.ShouldAlmostEqual, -0.01, 1e-9)

	// A capsule poking through the flat sweep of another capsule touches its core.
	wall, err := NewSweptVolume(
		makeTestCapsule(t, NewZeroPose(), 0.1, 1.2),
		makeTestCapsule(t, NewPoseFromPoint(r3.Vector{X: 2}), 0.1, 1.2),
	)
	test.That(t, err, test.ShouldBeNil)
	crossing := makeTestCapsule(t, NewPose(r3.Vector{X: 1}, &R4AA{Theta: 1.5707963267948966, RX: 1}), 0.05, 1)
	d, err = wall.DistanceFrom(crossing)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d, test.ShouldAlmostEqual, -0.15, 1e-9)

	beside := makeTestCapsule(t, NewPoseFromPoint(r3.Vector{X: 1, Y: 0.5}), 0.05, 0.4)
	d, err = wall.DistanceFrom(beside)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d, test.ShouldAlmostEqual, 0.35, 1e-9)
}

func TestTriangleDistanceToSegment(t *testing.T) {
	tri := NewTriangle(r3.Vector{}, r3.Vector{X: 1}, r3.Vector{Y: 1})
	test.That(t, tri.DistanceToSegment(r3.Vector{X: 0.2, Y: 0.2, Z: -1}, r3.Vector{X: 0.2, Y: 0.2, Z: 1}), test.ShouldEqual, 0)
	test.That(t, tri.DistanceToSegment(r3.Vector{X: 0.2, Y: 0.2, Z: 0.5}, r3.Vector{X: 0.2, Y: 0.2, Z: 1}),
		test.ShouldAlmostEqual, 0.5, 1e-9)
	test.That(t, tri.DistanceToSegment(r3.Vector{X: 2, Y: -1, Z: 0}, r3.Vector{X: 2, Y: 1, Z: 0}),
		test.ShouldAlmostEqual, 1, 1e-9)
}
