package trajopt

import (
	"context"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/viam-labs/trajopt/collision"
	"github.com/viam-labs/trajopt/spatialmath"
)

func TestCheckTrajectorySweptContact(t *testing.T) {
	env := newTestEnv(t, "slider")
	addObstacle(t, env, "obstacle", r3.Vector{X: .5, Y: .09}, .05)
	traj := [][]float64{{0}, {1}}
	joints := []string{"slide"}

	continuous, err := CheckTrajectory(context.Background(), env, joints, []string{"ball"}, traj, true)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(continuous), test.ShouldEqual, 1)
	test.That(t, continuous[0].Distance, test.ShouldBeLessThan, 0)
	test.That(t, continuous[0].Distance, test.ShouldAlmostEqual, -.01, 1e-9)
	test.That(t, continuous[0].Continuous, test.ShouldBeTrue)

	discrete, err := CheckTrajectory(context.Background(), env, joints, []string{"ball"}, traj, false)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, discrete, test.ShouldBeEmpty)

	t.Run("repeated checks agree", func(t *testing.T) {
		again, err := CheckTrajectory(context.Background(), env, joints, []string{"ball"}, traj, true)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, cmp.Diff(continuous, again), test.ShouldBeEmpty)
	})

	t.Run("contact distance", func(t *testing.T) {
		near, err := CheckTrajectory(context.Background(), env, joints, nil, [][]float64{{.5}, {.4}, {1.5}}, false,
			WithContactDistance(.1))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, len(near), test.ShouldEqual, 2)
		test.That(t, near[0].Step, test.ShouldEqual, 0)
		test.That(t, near[1].Step, test.ShouldEqual, 1)

		summary, err := near.Summary()
		test.That(t, err, test.ShouldBeNil)
		test.That(t, summary.Count, test.ShouldEqual, 2)
		test.That(t, summary.Steps, test.ShouldResemble, []int{0, 1})
		test.That(t, summary.Links, test.ShouldResemble, []string{"ball"})
	})

	t.Run("step gap", func(t *testing.T) {
		// only the motion from step 0 to step 2 is checked
		skipping := [][]float64{{0}, {1.5}, {1}}
		report, err := CheckTrajectory(context.Background(), env, joints, nil, skipping, true, WithStepGap(2))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, len(report), test.ShouldEqual, 1)
		test.That(t, report[0].Step, test.ShouldEqual, 0)
	})
}

func TestCheckTrajectoryPassesThroughCapsule(t *testing.T) {
	env := newTestEnv(t, "slider")
	rod, err := spatialmath.NewCapsule(spatialmath.NewPoseFromPoint(r3.Vector{X: .5, Y: .09}), .05, .4, "rod")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, env.AddObstacle("rod", rod), test.ShouldBeNil)
	traj := [][]float64{{0}, {1}}
	joints := []string{"slide"}

	continuous, err := CheckTrajectory(context.Background(), env, joints, []string{"ball"}, traj, true)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(continuous), test.ShouldEqual, 1)
	test.That(t, continuous[0].LinkB, test.ShouldEqual, "rod")
	test.That(t, continuous[0].Distance, test.ShouldAlmostEqual, -.01, 1e-9)

	discrete, err := CheckTrajectory(context.Background(), env, joints, []string{"ball"}, traj, false)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, discrete, test.ShouldBeEmpty)
}

func TestCheckTrajectoryColumnOrder(t *testing.T) {
	env := newTestEnv(t, "lbr_iiwa_7")
	addObstacle(t, env, "lamp", r3.Vector{Z: 1.2}, .05)
	forward := []string{"joint_a1", "joint_a2", "joint_a3", "joint_a4", "joint_a5", "joint_a6", "joint_a7"}
	reversed := []string{"joint_a7", "joint_a6", "joint_a5", "joint_a4", "joint_a3", "joint_a2", "joint_a1"}
	bent := []float64{0, 1, 0, 0, 0, 0, 0}

	a, err := CheckTrajectory(context.Background(), env, forward, nil, [][]float64{make([]float64, 7), bent}, false)
	test.That(t, err, test.ShouldBeNil)
	b, err := CheckTrajectory(context.Background(), env, reversed, nil,
		[][]float64{make([]float64, 7), {0, 0, 0, 0, 0, 1, 0}}, false)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cmp.Diff(a, b), test.ShouldBeEmpty)

	_, err = CheckTrajectory(context.Background(), env, forward, nil, [][]float64{{0, 1}}, false)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestCheckTrajectoryMismatch(t *testing.T) {
	env := newTestEnv(t, "slider")
	traj := [][]float64{{0}, {1}}
	var mismatch *collision.EnvironmentMismatchError

	_, err := CheckTrajectory(context.Background(), env, []string{"elbow"}, nil, traj, true)
	test.That(t, errors.As(err, &mismatch), test.ShouldBeTrue)

	_, err = CheckTrajectory(context.Background(), env, []string{"slide"}, []string{"gripper"}, traj, true)
	test.That(t, errors.As(err, &mismatch), test.ShouldBeTrue)

	_, err = CheckTrajectory(context.Background(), env, []string{"slide", "slide"}, nil, traj, true)
	test.That(t, errors.As(err, &mismatch), test.ShouldBeTrue)
}
