package collision

import (
	"context"
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/viam-labs/trajopt/logging"
	"github.com/viam-labs/trajopt/pointcloud"
	"github.com/viam-labs/trajopt/referenceframe"
	"github.com/viam-labs/trajopt/spatialmath"
)

func sliderEnv(t *testing.T) *Environment {
	t.Helper()
	env := NewEnvironment(logging.NewTestLogger(t))
	model, err := referenceframe.BuiltinModel("slider")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, env.AddManipulator(model, nil), test.ShouldBeNil)
	return env
}

func addSphere(t *testing.T, env *Environment, name string, center r3.Vector, radius float64) {
	t.Helper()
	s, err := spatialmath.NewSphere(spatialmath.NewPoseFromPoint(center), radius, name)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, env.AddObstacle(name, s), test.ShouldBeNil)
}

func TestSweptContactMissedByDiscreteCheck(t *testing.T) {
	env := sliderEnv(t)
	addSphere(t, env, "obstacle", r3.Vector{X: 0.5, Y: 0.09}, 0.05)
	traj := [][]float64{{0}, {1}}

	discrete, err := env.DiscreteCollisionCheckTrajectory(context.Background(), "slider", traj, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, discrete, test.ShouldBeEmpty)

	continuous, err := env.ContinuousCollisionCheckTrajectory(context.Background(), "slider", traj, 0, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(continuous), test.ShouldEqual, 1)
	test.That(t, continuous[0].Step, test.ShouldEqual, 0)
	test.That(t, continuous[0].LinkA, test.ShouldEqual, "ball")
	test.That(t, continuous[0].LinkB, test.ShouldEqual, "obstacle")
	test.That(t, continuous[0].Continuous, test.ShouldBeTrue)
	test.That(t, continuous[0].Distance, test.ShouldAlmostEqual, -0.01, 1e-9)

	t.Run("repeated checks agree", func(t *testing.T) {
		again, err := env.ContinuousCollisionCheckTrajectory(context.Background(), "slider", traj, 0, 1)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, cmp.Diff(continuous, again), test.ShouldBeEmpty)
	})

	t.Run("contact distance widens the report", func(t *testing.T) {
		near, err := env.DiscreteCollisionCheckTrajectory(context.Background(), "slider", [][]float64{{0.5}, {0.4}}, 0.1)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, len(near), test.ShouldEqual, 2)
		test.That(t, near[0].Step, test.ShouldEqual, 0)
		test.That(t, near[0].Distance, test.ShouldAlmostEqual, -0.01, 1e-9)
		test.That(t, near[1].Step, test.ShouldEqual, 1)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := env.DiscreteCollisionCheckTrajectory(ctx, "slider", traj, 0)
		test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
	})

	t.Run("removed obstacle", func(t *testing.T) {
		env := sliderEnv(t)
		addSphere(t, env, "obstacle", r3.Vector{X: 0.5, Y: 0.09}, 0.05)
		test.That(t, env.AddObstacle("obstacle", nil), test.ShouldNotBeNil)
		env.RemoveObstacle("obstacle")
		env.RemoveObstacle("obstacle")
		report, err := env.ContinuousCollisionCheckTrajectory(context.Background(), "slider", traj, 0, 1)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, report, test.ShouldBeEmpty)
	})
}

func TestSweptContactWithCapsule(t *testing.T) {
	env := sliderEnv(t)
	// vertical capsule whose core segment runs from z=-0.15 to z=0.15
	rod, err := spatialmath.NewCapsule(spatialmath.NewPoseFromPoint(r3.Vector{X: 0.5, Y: 0.09}), 0.05, 0.4, "rod")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, env.AddObstacle("rod", rod), test.ShouldBeNil)
	traj := [][]float64{{0}, {1}}

	discrete, err := env.DiscreteCollisionCheckTrajectory(context.Background(), "slider", traj, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, discrete, test.ShouldBeEmpty)

	continuous, err := env.ContinuousCollisionCheckTrajectory(context.Background(), "slider", traj, 0, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(continuous), test.ShouldEqual, 1)
	test.That(t, continuous[0].LinkB, test.ShouldEqual, "rod")
	test.That(t, continuous[0].Distance, test.ShouldAlmostEqual, -0.01, 1e-9)

	swept, err := env.SweptLinkClearances("slider", []float64{0}, []float64{1})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, swept[0].Other, test.ShouldEqual, "rod")
	test.That(t, swept[0].Distance, test.ShouldAlmostEqual, -0.01, 1e-9)
}

func TestUndefinedDistanceIsAnError(t *testing.T) {
	env := sliderEnv(t)
	addSphere(t, env, "lost", r3.Vector{X: math.NaN()}, 0.05)

	_, err := env.DiscreteCollisionCheckTrajectory(context.Background(), "slider", [][]float64{{0}}, 0)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "not a number")

	_, err = env.LinkClearances("slider", []float64{0})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestAttachedOctree(t *testing.T) {
	env := sliderEnv(t)
	cloud := pointcloud.New()
	test.That(t, cloud.Set(r3.Vector{}, pointcloud.NewValueData(100)), test.ShouldBeNil)
	oct, err := pointcloud.NewCollisionOctreeFromCloud(cloud, 0.1, 50)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, env.AddAttachableObject(&AttachableObject{Name: "octomap", Geometries: []spatialmath.Geometry{oct}}),
		test.ShouldBeNil)
	err = env.AttachBody(AttachBodyInfo{ObjectName: "octomap", ParentLink: "missing"})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, env.AttachBody(AttachBodyInfo{
		ObjectName: "octomap",
		ParentLink: "rail",
		Transform:  spatialmath.NewPoseFromPoint(r3.Vector{X: 1}),
	}), test.ShouldBeNil)

	kin, ok := env.Kinematics("slider")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, kin.LinkNames(), test.ShouldResemble, []string{"ball", "octomap"})

	clearances, err := env.LinkClearances("slider", []float64{0.5})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(clearances), test.ShouldEqual, 2)
	test.That(t, clearances[0].Link, test.ShouldEqual, "ball")
	test.That(t, clearances[0].Other, test.ShouldEqual, "octomap")
	test.That(t, clearances[0].Distance, test.ShouldAlmostEqual, 0.4, 1e-9)
	test.That(t, math.IsInf(clearances[1].Distance, 1), test.ShouldBeTrue)

	swept, err := env.SweptLinkClearances("slider", []float64{0}, []float64{1.5})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, swept[0].Distance, test.ShouldBeLessThan, 0)

	env.AllowCollision("octomap", "ball")
	clearances, err = env.LinkClearances("slider", []float64{0.5})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, math.IsInf(clearances[0].Distance, 1), test.ShouldBeTrue)

	test.That(t, env.DetachBody("octomap"), test.ShouldBeNil)
	test.That(t, env.DetachBody("octomap"), test.ShouldNotBeNil)
	test.That(t, kin.LinkNames(), test.ShouldResemble, []string{"ball"})
}

func TestArmContacts(t *testing.T) {
	env := NewEnvironment(logging.NewTestLogger(t))
	model, err := referenceframe.BuiltinModel("lbr_iiwa_7")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, env.AddManipulator(model, nil), test.ShouldBeNil)
	test.That(t, env.AddManipulator(model, nil), test.ShouldNotBeNil)
	addSphere(t, env, "lamp", r3.Vector{Z: 1.2}, 0.05)

	contacts, err := env.DiscreteCollisionCheckTrajectory(context.Background(), "lbr_iiwa_7", [][]float64{make([]float64, 7)}, 0)
	test.That(t, err, test.ShouldBeNil)
	want := []Contact{{Step: 0, LinkA: "tool0", LinkB: "lamp", Distance: -0.09}}
	test.That(t, cmp.Diff(want, contacts, cmpopts.EquateApprox(0, 1e-9)), test.ShouldBeEmpty)

	summary, err := SummarizeContacts(contacts)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, summary.Count, test.ShouldEqual, 1)
	test.That(t, summary.MinDistance, test.ShouldAlmostEqual, -0.09, 1e-9)
	test.That(t, summary.Links, test.ShouldResemble, []string{"tool0"})

	_, err = env.DiscreteCollisionCheckTrajectory(context.Background(), "lbr_iiwa_7", [][]float64{{0}}, 0)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestResolveManipulator(t *testing.T) {
	env := sliderEnv(t)

	name, columns, err := env.ResolveManipulator([]string{"slide"}, []string{"ball"})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, name, test.ShouldEqual, "slider")
	test.That(t, columns, test.ShouldResemble, []int{0})

	_, _, err = env.ResolveManipulator([]string{"joint_a1"}, nil)
	var mismatch *EnvironmentMismatchError
	test.That(t, errors.As(err, &mismatch), test.ShouldBeTrue)

	_, _, err = env.ResolveManipulator([]string{"slide"}, []string{"tool0"})
	test.That(t, errors.As(err, &mismatch), test.ShouldBeTrue)
	test.That(t, mismatch.Reason, test.ShouldContainSubstring, "tool0")
}

func TestSetState(t *testing.T) {
	env := sliderEnv(t)
	test.That(t, env.SetState(map[string]float64{"slide": 0.25}), test.ShouldBeNil)
	test.That(t, env.SetState(map[string]float64{"elbow": 1}), test.ShouldNotBeNil)
	// an unknown joint rejects the whole update
	test.That(t, env.SetState(map[string]float64{"slide": 1.5, "elbow": 1}), test.ShouldNotBeNil)

	kin, ok := env.Kinematics("slider")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, kin.CurrentJointValues(), test.ShouldResemble, []float64{0.25})
	test.That(t, kin.JointNames(), test.ShouldResemble, []string{"slide"})
	test.That(t, kin.JointLimits(), test.ShouldResemble, []referenceframe.Limit{{Min: -1, Max: 2}})

	poses, err := kin.LinkPoses([]float64{0.75})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, poses["ball"].Point().X, test.ShouldAlmostEqual, 0.75)

	_, ok = env.Kinematics("missing")
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, env.ManipulatorNames(), test.ShouldResemble, []string{"slider"})
}

func TestSortContacts(t *testing.T) {
	contacts := []Contact{
		{Step: 2, LinkA: "a", LinkB: "x", Distance: -1},
		{Step: 0, LinkA: "b", LinkB: "x", Distance: -1},
		{Step: 0, LinkA: "a", LinkB: "y", Distance: -2},
		{Step: 0, LinkA: "a", LinkB: "x", Distance: -3},
	}
	SortContacts(contacts)
	test.That(t, contacts, test.ShouldResemble, []Contact{
		{Step: 0, LinkA: "a", LinkB: "x", Distance: -3},
		{Step: 0, LinkA: "a", LinkB: "y", Distance: -2},
		{Step: 0, LinkA: "b", LinkB: "x", Distance: -1},
		{Step: 2, LinkA: "a", LinkB: "x", Distance: -1},
	})
	summary, err := SummarizeContacts(nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, summary.Count, test.ShouldEqual, 0)
}
