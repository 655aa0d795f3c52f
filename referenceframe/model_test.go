package referenceframe

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	spatial "github.com/viam-labs/trajopt/spatialmath"
)

const defaultFloatPrecision = 1e-6

func TestBuiltinArm(t *testing.T) {
	m, err := BuiltinModel("lbr_iiwa_7")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.Name(), test.ShouldEqual, "lbr_iiwa_7")
	test.That(t, m.JointNames(), test.ShouldResemble,
		[]string{"joint_a1", "joint_a2", "joint_a3", "joint_a4", "joint_a5", "joint_a6", "joint_a7"})
	test.That(t, m.LinkNames(), test.ShouldResemble,
		[]string{"base_link", "link_1", "link_2", "link_3", "link_4", "link_5", "link_6", "tool0"})
	test.That(t, len(m.DoF()), test.ShouldEqual, 7)
	test.That(t, m.DoF()[0].Max, test.ShouldAlmostEqual, 170*math.Pi/180)

	zero := make([]Input, 7)
	pose, err := m.Transform(zero)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, spatial.R3VectorAlmostEqual(pose.Point(), r3.Vector{Z: 1.266}, defaultFloatPrecision), test.ShouldBeTrue)

	t.Run("shoulder bent forward", func(t *testing.T) {
		inputs := make([]Input, 7)
		inputs[1] = Input{math.Pi / 2}
		poses, err := m.LinkPoses(inputs)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, spatial.R3VectorAlmostEqual(poses["tool0"].Point(), r3.Vector{X: 0.926, Z: 0.34}, defaultFloatPrecision),
			test.ShouldBeTrue)
		test.That(t, spatial.R3VectorAlmostEqual(poses["link_1"].Point(), r3.Vector{Z: 0.34}, defaultFloatPrecision),
			test.ShouldBeTrue)
	})

	t.Run("geometries follow links", func(t *testing.T) {
		geometries, err := m.Geometries(zero)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, len(geometries), test.ShouldEqual, 6)
		link1 := geometries["link_1"]
		test.That(t, link1.Label(), test.ShouldEqual, "link_1")
		test.That(t, spatial.R3VectorAlmostEqual(link1.Pose().Point(), r3.Vector{Z: 0.17}, defaultFloatPrecision), test.ShouldBeTrue)
	})
}

func TestIncorrectInputs(t *testing.T) {
	m, err := BuiltinModel("lbr_iiwa_7")
	test.That(t, err, test.ShouldBeNil)
	dof := len(m.DoF())

	pose, err := m.Transform(make([]Input, dof+1))
	test.That(t, pose, test.ShouldBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, NewIncorrectDoFError(dof+1, dof).Error())

	gf, err := m.Geometries(make([]Input, dof-1))
	test.That(t, gf, test.ShouldBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, NewIncorrectDoFError(dof-1, dof).Error())
}

func TestSlider(t *testing.T) {
	m, err := BuiltinModel("slider")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.JointNames(), test.ShouldResemble, []string{"slide"})
	test.That(t, m.LinkNames(), test.ShouldResemble, []string{"rail", "ball"})

	geometries, err := m.Geometries([]Input{{0.5}})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, spatial.R3VectorAlmostEqual(geometries["ball"].Pose().Point(), r3.Vector{X: 0.5}, defaultFloatPrecision),
		test.ShouldBeTrue)

	// out of bounds inputs still produce a pose
	pose, err := m.Transform([]Input{{3}})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, OOBErrString)
	test.That(t, pose.Point().X, test.ShouldAlmostEqual, 3)

	simple, ok := m.(*SimpleModel)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, simple.AreJointPositionsValid([]float64{1.5}), test.ShouldBeTrue)
	test.That(t, simple.AreJointPositionsValid([]float64{-1.5}), test.ShouldBeFalse)
}

func TestSerialModel(t *testing.T) {
	offset := spatial.NewPoseFromPoint(r3.Vector{Z: 1})
	sphere, err := spatial.NewSphere(spatial.NewZeroPose(), 0.1, "")
	test.That(t, err, test.ShouldBeNil)
	frame1, err := NewStaticFrameWithGeometry("link1", offset, sphere)
	test.That(t, err, test.ShouldBeNil)
	frame2, err := NewRotationalFrame("joint", spatial.R4AA{RY: 1}, Limit{Min: -math.Pi, Max: math.Pi})
	test.That(t, err, test.ShouldBeNil)
	frame3, err := NewStaticFrameWithGeometry("link2", offset, sphere)
	test.That(t, err, test.ShouldBeNil)
	m, err := NewSerialModel("test", []Frame{frame1, frame2, frame3})
	test.That(t, err, test.ShouldBeNil)

	geometries, err := m.Geometries([]Input{{0}})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, spatial.R3VectorAlmostEqual(geometries["link2"].Pose().Point(), r3.Vector{Z: 2}, defaultFloatPrecision),
		test.ShouldBeTrue)

	geometries, err = m.Geometries([]Input{{math.Pi / 2}})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, spatial.R3VectorAlmostEqual(geometries["link1"].Pose().Point(), r3.Vector{Z: 1}, defaultFloatPrecision),
		test.ShouldBeTrue)
	test.That(t, spatial.R3VectorAlmostEqual(geometries["link2"].Pose().Point(), r3.Vector{X: 1, Z: 1}, defaultFloatPrecision),
		test.ShouldBeTrue)

	test.That(t, m.AlmostEquals(m), test.ShouldBeTrue)
	_, err = NewSerialModel("empty", nil)
	test.That(t, err, test.ShouldBeError, ErrNoModelInformation)
}
