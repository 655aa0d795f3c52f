package referenceframe

import (
	"fmt"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	spatial "github.com/viam-labs/trajopt/spatialmath"
)

// Frame represents a reference frame in a kinematic chain: a fixed link or a single joint.
type Frame interface {
	// Name returns the name of the referenceframe.
	Name() string

	// Transform is the pose (rotation and translation) that goes FROM current frame TO parent's referenceframe.
	Transform([]Input) (spatial.Pose, error)

	// Geometries returns the geometries attached to the frame, expressed in the parent's referenceframe. Frames
	// without geometry return an empty map.
	Geometries([]Input) (map[string]spatial.Geometry, error)

	// DoF will return a slice with length equal to the number of joints/degrees of freedom.
	// Each element describes the min and max movement limit of that joint/degree of freedom.
	// For links that don't move, it returns an empty slice.
	DoF() []Limit

	// AlmostEquals returns if the otherFrame is close to the referenceframe.
	AlmostEquals(otherFrame Frame) bool
}

// a static Frame is a simple coordinate system that encodes a fixed translation and rotation
// from the current Frame to the parent referenceframe.
type staticFrame struct {
	name      string
	transform spatial.Pose
	geometry  spatial.Geometry
}

// NewZeroStaticFrame creates a frame with no translation or orientation changes.
func NewZeroStaticFrame(name string) Frame {
	return &staticFrame{name: name, transform: spatial.NewZeroPose()}
}

// NewStaticFrameWithGeometry creates a frame given a pose relative to its parent. The geometry is expressed in the
// frame itself, i.e. after the pose has been applied.
func NewStaticFrameWithGeometry(name string, pose spatial.Pose, geometry spatial.Geometry) (Frame, error) {
	if pose == nil {
		return nil, errors.New("pose is not allowed to be nil")
	}
	return &staticFrame{name: name, transform: pose, geometry: geometry}, nil
}

func (sf *staticFrame) Name() string {
	return sf.name
}

// Transform returns the pose associated with this static referenceframe.
func (sf *staticFrame) Transform(input []Input) (spatial.Pose, error) {
	if len(input) != 0 {
		return nil, NewIncorrectDoFError(len(input), 0)
	}
	return sf.transform, nil
}

// Geometries returns the link geometry placed at the static transform.
func (sf *staticFrame) Geometries(input []Input) (map[string]spatial.Geometry, error) {
	if len(input) != 0 {
		return nil, NewIncorrectDoFError(len(input), 0)
	}
	m := make(map[string]spatial.Geometry)
	if sf.geometry != nil {
		m[sf.name] = sf.geometry.Transform(sf.transform)
	}
	return m, nil
}

func (sf *staticFrame) DoF() []Limit {
	return []Limit{}
}

func (sf *staticFrame) AlmostEquals(otherFrame Frame) bool {
	other, ok := otherFrame.(*staticFrame)
	return ok && sf.name == other.name && spatial.PoseAlmostEqual(sf.transform, other.transform)
}

// a translationalFrame is a prismatic joint: it translates along a single axis without rotation.
type translationalFrame struct {
	name      string
	transAxis r3.Vector
	limit     []Limit
	geometry  spatial.Geometry
}

// NewTranslationalFrameWithGeometry creates a prismatic frame whose geometry slides along with it.
func NewTranslationalFrameWithGeometry(name string, axis r3.Vector, limit Limit, geometry spatial.Geometry) (Frame, error) {
	if spatial.R3VectorAlmostEqual(r3.Vector{}, axis, 1e-8) {
		return nil, errors.New("cannot use zero vector as translation axis")
	}
	return &translationalFrame{name: name, transAxis: axis.Normalize(), limit: []Limit{limit}, geometry: geometry}, nil
}

func (pf *translationalFrame) Name() string {
	return pf.name
}

// Transform returns a pose translated by the amount specified in the inputs.
func (pf *translationalFrame) Transform(input []Input) (spatial.Pose, error) {
	var err error
	if len(input) != 1 {
		return nil, NewIncorrectDoFError(len(input), 1)
	}

	// We allow out-of-bounds calculations, but will return a non-nil error
	if !pf.limit[0].Contains(input[0].Value) {
		err = fmt.Errorf("%.5f %s %v", input[0].Value, OOBErrString, pf.limit[0])
	}
	return spatial.NewPoseFromPoint(pf.transAxis.Mul(input[0].Value)), err
}

func (pf *translationalFrame) Geometries(input []Input) (map[string]spatial.Geometry, error) {
	pose, err := pf.Transform(input)
	if pose == nil || (err != nil && !strings.Contains(err.Error(), OOBErrString)) {
		return nil, err
	}
	m := make(map[string]spatial.Geometry)
	if pf.geometry != nil {
		m[pf.name] = pf.geometry.Transform(pose)
	}
	return m, err
}

func (pf *translationalFrame) DoF() []Limit {
	return pf.limit
}

func (pf *translationalFrame) AlmostEquals(otherFrame Frame) bool {
	other, ok := otherFrame.(*translationalFrame)
	return ok && pf.name == other.name &&
		spatial.R3VectorAlmostEqual(pf.transAxis, other.transAxis, 1e-8) &&
		limitsAlmostEqual(pf.DoF(), other.DoF())
}

// a rotationalFrame is a revolute joint about a fixed axis.
type rotationalFrame struct {
	name    string
	rotAxis r3.Vector
	limit   []Limit
}

// NewRotationalFrame creates a new revolute frame. A standard revolute joint will have 1 DoF.
func NewRotationalFrame(name string, axis spatial.R4AA, limit Limit) (Frame, error) {
	axis.Normalize()
	return &rotationalFrame{
		name:    name,
		rotAxis: r3.Vector{X: axis.RX, Y: axis.RY, Z: axis.RZ},
		limit:   []Limit{limit},
	}, nil
}

// Transform returns the rotation about the joint axis by the input angle in radians.
func (rf *rotationalFrame) Transform(input []Input) (spatial.Pose, error) {
	var err error
	if len(input) != 1 {
		return nil, NewIncorrectDoFError(len(input), 1)
	}
	// We allow out-of-bounds calculations, but will return a non-nil error
	if !rf.limit[0].Contains(input[0].Value) {
		err = fmt.Errorf("%.5f %s %.5f", input[0].Value, OOBErrString, rf.limit[0])
	}
	// Create a copy of the r4aa for thread safety
	return spatial.NewPoseFromOrientation(&spatial.R4AA{
		Theta: input[0].Value,
		RX:    rf.rotAxis.X,
		RY:    rf.rotAxis.Y,
		RZ:    rf.rotAxis.Z,
	}), err
}

// Geometries is always empty for rotationalFrames; geometry belongs to the links around them.
func (rf *rotationalFrame) Geometries(input []Input) (map[string]spatial.Geometry, error) {
	if len(input) != 1 {
		return nil, NewIncorrectDoFError(len(input), 1)
	}
	return map[string]spatial.Geometry{}, nil
}

func (rf *rotationalFrame) DoF() []Limit {
	return rf.limit
}

func (rf *rotationalFrame) Name() string {
	return rf.name
}

func (rf *rotationalFrame) AlmostEquals(otherFrame Frame) bool {
	other, ok := otherFrame.(*rotationalFrame)
	return ok && rf.name == other.name &&
		spatial.R3VectorAlmostEqual(rf.rotAxis, other.rotAxis, 1e-8) &&
		limitsAlmostEqual(rf.DoF(), other.DoF())
}
