package main

import (
	_ "embed"
	"fmt"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"github.com/viam-labs/trajopt/collision"
	"github.com/viam-labs/trajopt/logging"
	"github.com/viam-labs/trajopt/motionplan/sco"
	"github.com/viam-labs/trajopt/motionplan/trajopt"
	"github.com/viam-labs/trajopt/pointcloud"
	"github.com/viam-labs/trajopt/referenceframe"
	"github.com/viam-labs/trajopt/spatialmath"
)

//go:embed data/iiwa_cartesian.json
var defaultDocument []byte

const (
	exampleManipulator = "lbr_iiwa_7"
	exampleTool        = "tool0"
	octomapName        = "octomap_attached"

	// the obstacle cloud is a solid cube of points, voxelized into an octree.
	cloudPointsPerSide = 20
	cloudSpacing       = .05
	octreeResolution   = .1
	octreeConfidence   = 50
)

// exampleStart is the joint state the arm starts from.
var exampleStart = map[string]float64{
	"joint_a1": -.4,
	"joint_a2": .2762,
	"joint_a3": 0,
	"joint_a4": -1.3348,
	"joint_a5": 0,
	"joint_a6": 1.4959,
	"joint_a7": 0,
}

// newExampleEnvironment loads the arm, moves it to its start state and attaches an octree one meter in front of its
// base. The arm is read from the model JSON at modelPath, or is the builtin iiwa when modelPath is empty. Either way it
// is named lbr_iiwa_7. The octree is built from the PCD file at cloudPath, or from a solid cube of points when
// cloudPath is empty.
func newExampleEnvironment(logger logging.Logger, modelPath, cloudPath string) (*collision.Environment, error) {
	env := collision.NewEnvironment(logger)
	var (
		model referenceframe.Model
		err   error
	)
	if modelPath == "" {
		model, err = referenceframe.BuiltinModel(exampleManipulator)
	} else {
		model, err = referenceframe.ParseModelJSONFile(modelPath, exampleManipulator)
	}
	if err != nil {
		return nil, err
	}
	if err := env.AddManipulator(model, nil); err != nil {
		return nil, err
	}
	if err := env.SetState(exampleStart); err != nil {
		return nil, err
	}

	var cloud pointcloud.PointCloud
	if cloudPath == "" {
		cloud, err = pointcloud.NewCubeCloudCentered(r3.Vector{}, cloudPointsPerSide, cloudSpacing, 100)
	} else {
		cloud, err = pointcloud.NewFromFile(cloudPath)
	}
	if err != nil {
		return nil, errors.Wrap(err, "loading obstacle cloud")
	}
	octree, err := pointcloud.NewCollisionOctreeFromCloud(cloud, octreeResolution, octreeConfidence)
	if err != nil {
		return nil, errors.Wrap(err, "building octree")
	}
	octree.SetLabel(octomapName)
	if err := env.AddAttachableObject(&collision.AttachableObject{
		Name:       octomapName,
		Geometries: []spatialmath.Geometry{octree},
	}); err != nil {
		return nil, err
	}
	if err := env.AttachBody(collision.AttachBodyInfo{
		ObjectName: octomapName,
		ParentLink: "base_link",
		Transform:  spatialmath.NewPoseFromPoint(r3.Vector{X: 1}),
	}); err != nil {
		return nil, err
	}
	logger.Infow("example environment ready", "manipulator", exampleManipulator, "octree_points", octree.Size())
	return env, nil
}

// waypoint is where the tool should be at step i of n: a line from y = -0.2 to y = 0.2 at x = 0.5, z = 0.62,
// pointing down.
func waypoint(i, n int) (r3.Vector, quat.Number) {
	y := -.2 + .4*float64(i)/float64(n-1)
	return r3.Vector{X: .5, Y: y, Z: .62}, quat.Number{Jmag: 1}
}

// programmaticProblem builds the example problem in code. It is the same problem data/iiwa_cartesian.json describes
// when n is 5.
func programmaticProblem(env trajopt.Environment, n int) (*trajopt.TrajectoryProblem, sco.Params, error) {
	kin, ok := env.Kinematics(exampleManipulator)
	if !ok {
		return nil, sco.Params{}, &trajopt.UnknownManipulatorError{Name: exampleManipulator}
	}
	terms := []trajopt.TermDescriptor{}
	for _, joint := range kin.JointNames() {
		terms = append(terms, &trajopt.JointVelocityCost{
			Name:      joint + "_vel",
			JointName: joint,
			Coeffs:    []float64{2.5},
			LastStep:  n - 1,
			Penalty:   sco.Squared,
		})
	}
	terms = append(terms,
		&trajopt.TotalTimeCost{Name: "time_cost", Weight: 1, Penalty: sco.Squared},
		&trajopt.CollisionCost{
			Name:     "collision",
			Margins:  []trajopt.CollisionMargin{{Distance: .025, Coeff: 20}},
			LastStep: n - 1,
		},
	)
	for i := 0; i < n; i++ {
		pos, rot := waypoint(i, n)
		terms = append(terms, &trajopt.CartesianPoseConstraint{
			Name:           fmt.Sprintf("waypoint_cart_%d", i),
			Kind:           trajopt.KindConstraint,
			Step:           i,
			LinkName:       exampleTool,
			Position:       pos,
			Orientation:    rot,
			PositionCoeffs: []float64{10},
			RotationCoeffs: []float64{10},
		})
	}
	basic := trajopt.BasicInfo{
		NumSteps:    n,
		Manipulator: exampleManipulator,
		UseTime:     true,
		DtLower:     .1,
		DtUpper:     5,
	}
	problem, err := trajopt.BuildProblem(env, basic, trajopt.InitInfo{Type: trajopt.InitStationary}, terms...)
	if err != nil {
		return nil, sco.Params{}, err
	}
	return problem, trajopt.DefaultParams(), nil
}
