package referenceframe

import (
	"sync"

	"go.uber.org/multierr"

	"github.com/viam-labs/trajopt/spatialmath"
)

// A Model is a serial kinematic chain: joint frames interleaved with static links.
type Model interface {
	Frame
	// JointNames returns the names of the frames with a degree of freedom, in input order.
	JointNames() []string
	// LinkNames returns the names of the static links, base first.
	LinkNames() []string
	// LinkPoses returns the pose of every frame of the chain in the model's base frame.
	LinkPoses(inputs []Input) (map[string]spatialmath.Pose, error)
}

// SimpleModel is a Model built from an ordered list of frames.
// Generally speaking, a joint will attach a link to a frame and a link will attach a frame to a joint.
type SimpleModel struct {
	name string
	// OrdTransforms is the list of transforms ordered from base to end effector
	OrdTransforms []Frame
	limits        []Limit
	lock          sync.RWMutex
}

// NewSimpleModel constructs a new model.
func NewSimpleModel(name string) *SimpleModel {
	return &SimpleModel{name: name}
}

func (m *SimpleModel) setOrdTransforms(frames []Frame) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.OrdTransforms = frames
	m.limits = nil
}

// Name returns the name of this model.
func (m *SimpleModel) Name() string {
	return m.name
}

// Transform takes a list of joint inputs and computes the pose of the end effector.
func (m *SimpleModel) Transform(inputs []Input) (spatialmath.Pose, error) {
	frames, err := m.inputsToFrames(inputs, false)
	if err != nil && frames == nil {
		return nil, err
	}
	return frames[0].transform, err
}

// LinkPoses returns the composed pose of every frame in the chain.
func (m *SimpleModel) LinkPoses(inputs []Input) (map[string]spatialmath.Pose, error) {
	frames, err := m.inputsToFrames(inputs, true)
	if err != nil && frames == nil {
		return nil, err
	}
	poses := make(map[string]spatialmath.Pose, len(frames))
	for _, f := range frames {
		poses[f.name] = f.transform
	}
	return poses, err
}

// Geometries returns the geometry of every link that has one, keyed by link name and placed in the model's base
// frame.
func (m *SimpleModel) Geometries(inputs []Input) (map[string]spatialmath.Geometry, error) {
	frames, err := m.inputsToFrames(inputs, true)
	if err != nil && frames == nil {
		return nil, err
	}
	geometries := make(map[string]spatialmath.Geometry)
	for _, f := range frames {
		if f.geometry != nil {
			geometries[f.name] = f.geometry.Transform(f.transform)
		}
	}
	return geometries, err
}

// inputsToFrames composes the transforms from the base outwards. With collectAll it returns one frame per transform,
// each holding the composed pose and the geometry of the original link. Otherwise it returns only the end effector.
// Out-of-bounds inputs still produce poses, along with a non-nil error.
func (m *SimpleModel) inputsToFrames(inputs []Input, collectAll bool) ([]*staticFrame, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	dof := 0
	for _, transform := range m.OrdTransforms {
		dof += len(transform.DoF())
	}
	if len(inputs) != dof {
		return nil, NewIncorrectDoFError(len(inputs), dof)
	}

	var err error
	frames := make([]*staticFrame, 0, len(m.OrdTransforms))
	composed := spatialmath.NewZeroPose()
	posIdx := 0
	for _, transform := range m.OrdTransforms {
		end := len(transform.DoF()) + posIdx
		pose, errNew := transform.Transform(inputs[posIdx:end])
		posIdx = end
		if pose == nil {
			return nil, errNew
		}
		multierr.AppendInto(&err, errNew)
		composed = spatialmath.Compose(composed, pose)
		if collectAll {
			frames = append(frames, &staticFrame{name: transform.Name(), transform: composed, geometry: frameGeometry(transform)})
		}
	}
	if !collectAll {
		frames = append(frames, &staticFrame{name: "", transform: composed})
	}
	return frames, err
}

// frameGeometry returns the geometry a frame carries in its own coordinates.
func frameGeometry(f Frame) spatialmath.Geometry {
	switch frame := f.(type) {
	case *staticFrame:
		return frame.geometry
	case *translationalFrame:
		return frame.geometry
	default:
		return nil
	}
}

// DoF returns the joint limits of the model, in input order.
func (m *SimpleModel) DoF() []Limit {
	m.lock.RLock()
	if m.limits != nil {
		defer m.lock.RUnlock()
		return m.limits
	}
	m.lock.RUnlock()

	m.lock.Lock()
	defer m.lock.Unlock()
	limits := make([]Limit, 0, len(m.OrdTransforms))
	for _, transform := range m.OrdTransforms {
		limits = append(limits, transform.DoF()...)
	}
	m.limits = limits
	return limits
}

// JointNames returns the names of the moving frames.
func (m *SimpleModel) JointNames() []string {
	m.lock.RLock()
	defer m.lock.RUnlock()
	names := []string{}
	for _, transform := range m.OrdTransforms {
		if len(transform.DoF()) > 0 {
			names = append(names, transform.Name())
		}
	}
	return names
}

// LinkNames returns the names of the static frames and of any moving frame carrying a geometry.
func (m *SimpleModel) LinkNames() []string {
	m.lock.RLock()
	defer m.lock.RUnlock()
	names := []string{}
	for _, transform := range m.OrdTransforms {
		if len(transform.DoF()) == 0 || frameGeometry(transform) != nil {
			names = append(names, transform.Name())
		}
	}
	return names
}

// AreJointPositionsValid checks whether the given joint positions are within the joint limits.
func (m *SimpleModel) AreJointPositionsValid(pos []float64) bool {
	limits := m.DoF()
	if len(pos) != len(limits) {
		return false
	}
	for i, limit := range limits {
		if !limit.Contains(pos[i]) {
			return false
		}
	}
	return true
}

// AlmostEquals compares two models frame by frame.
func (m *SimpleModel) AlmostEquals(otherFrame Frame) bool {
	other, ok := otherFrame.(*SimpleModel)
	if !ok || m.name != other.name || len(m.OrdTransforms) != len(other.OrdTransforms) {
		return false
	}
	for i, f := range m.OrdTransforms {
		if !f.AlmostEquals(other.OrdTransforms[i]) {
			return false
		}
	}
	return true
}

// NewSerialModel builds a model from frames ordered from base to end effector.
func NewSerialModel(name string, frames []Frame) (*SimpleModel, error) {
	if len(frames) == 0 {
		return nil, ErrNoModelInformation
	}
	m := NewSimpleModel(name)
	m.setOrdTransforms(frames)
	return m, nil
}
