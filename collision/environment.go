// Package collision holds the planning scene: manipulators and their current state, static obstacles, and bodies
// attached to links. It answers clearance queries for states and for the motion between two states.
package collision

import (
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/viam-labs/trajopt/logging"
	"github.com/viam-labs/trajopt/referenceframe"
	"github.com/viam-labs/trajopt/spatialmath"
	"github.com/viam-labs/trajopt/utils"
)

type manipulator struct {
	model   referenceframe.Model
	base    spatialmath.Pose
	current []float64
}

// Environment is a planning scene. It is safe for concurrent use: queries take a read lock and may run in parallel.
type Environment struct {
	mu           sync.RWMutex
	logger       logging.Logger
	manipulators map[string]*manipulator
	obstacles    map[string]spatialmath.Geometry
	attachable   map[string]*AttachableObject
	attached     map[string]AttachBodyInfo
	allowed      map[[2]string]bool
	// bodies already reported as checked only at the ends of a motion
	unswept sync.Map
}

// NewEnvironment returns an empty scene.
func NewEnvironment(logger logging.Logger) *Environment {
	return &Environment{
		logger:       logger,
		manipulators: map[string]*manipulator{},
		obstacles:    map[string]spatialmath.Geometry{},
		attachable:   map[string]*AttachableObject{},
		attached:     map[string]AttachBodyInfo{},
		allowed:      map[[2]string]bool{},
	}
}

// AddManipulator adds a kinematic model to the scene under its own name, with its base at the given world pose.
// A nil base places it at the origin. Joints start at zero, clamped into their limits.
func (env *Environment) AddManipulator(model referenceframe.Model, base spatialmath.Pose) error {
	env.mu.Lock()
	defer env.mu.Unlock()
	if _, ok := env.manipulators[model.Name()]; ok {
		return errors.Errorf("manipulator %q already exists", model.Name())
	}
	if base == nil {
		base = spatialmath.NewZeroPose()
	}
	current := make([]float64, len(model.DoF()))
	for i, limit := range model.DoF() {
		current[i] = utils.Clamp(0, limit.Min, limit.Max)
	}
	env.manipulators[model.Name()] = &manipulator{model: model, base: base, current: current}
	env.logger.Debugw("added manipulator", "name", model.Name(), "joints", model.JointNames())
	return nil
}

// SetState sets the current values of the named joints, across all manipulators.
func (env *Environment) SetState(jointValues map[string]float64) error {
	env.mu.Lock()
	defer env.mu.Unlock()
	type slot struct {
		m *manipulator
		i int
	}
	slots := map[string][]slot{}
	for _, m := range env.manipulators {
		for i, name := range m.model.JointNames() {
			slots[name] = append(slots[name], slot{m, i})
		}
	}
	for joint := range jointValues {
		if len(slots[joint]) == 0 {
			return errors.Errorf("no manipulator has a joint named %q", joint)
		}
	}
	for joint, value := range jointValues {
		for _, s := range slots[joint] {
			s.m.current[s.i] = value
		}
	}
	return nil
}

// Kinematics returns a view of the named manipulator. The second return is false when no such manipulator exists.
func (env *Environment) Kinematics(name string) (Kinematics, bool) {
	env.mu.RLock()
	defer env.mu.RUnlock()
	m, ok := env.manipulators[name]
	if !ok {
		return nil, false
	}
	return &kinematics{env: env, name: name, m: m}, true
}

// ManipulatorNames returns the sorted names of every manipulator in the scene.
func (env *Environment) ManipulatorNames() []string {
	env.mu.RLock()
	defer env.mu.RUnlock()
	return sortedKeys(env.manipulators)
}

// AddObstacle adds a static geometry, expressed in the world frame, under the given name.
func (env *Environment) AddObstacle(name string, geometry spatialmath.Geometry) error {
	env.mu.Lock()
	defer env.mu.Unlock()
	if _, ok := env.obstacles[name]; ok {
		return errors.Errorf("obstacle %q already exists", name)
	}
	env.obstacles[name] = geometry
	return nil
}

// RemoveObstacle removes a static geometry. Removing a missing obstacle is not an error.
func (env *Environment) RemoveObstacle(name string) {
	env.mu.Lock()
	defer env.mu.Unlock()
	delete(env.obstacles, name)
}

// AllowCollision excludes the pair of bodies from every clearance and contact query.
func (env *Environment) AllowCollision(a, b string) {
	env.mu.Lock()
	defer env.mu.Unlock()
	env.allowed[pairKey(a, b)] = true
}

func (env *Environment) collisionAllowed(a, b string) bool {
	return env.allowed[pairKey(a, b)]
}

func pairKey(a, b string) [2]string {
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	return [2]string{a, b}
}
