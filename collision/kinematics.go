package collision

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/viam-labs/trajopt/referenceframe"
	"github.com/viam-labs/trajopt/spatialmath"
)

// Kinematics is the view of one manipulator the optimizer works against.
type Kinematics interface {
	Name() string
	// JointNames returns the joints in the order joint vectors are given.
	JointNames() []string
	// LinkNames returns the collision links: model links with geometry, followed by bodies attached to them.
	LinkNames() []string
	CurrentJointValues() []float64
	JointLimits() []referenceframe.Limit
	// LinkPoses returns the world pose of every frame of the manipulator for the joint vector q.
	LinkPoses(q []float64) (map[string]spatialmath.Pose, error)
}

type kinematics struct {
	env  *Environment
	name string
	m    *manipulator
}

func (k *kinematics) Name() string {
	return k.name
}

func (k *kinematics) JointNames() []string {
	return k.m.model.JointNames()
}

func (k *kinematics) LinkNames() []string {
	k.env.mu.RLock()
	defer k.env.mu.RUnlock()
	return k.env.collisionLinkNames(k.m)
}

func (k *kinematics) CurrentJointValues() []float64 {
	k.env.mu.RLock()
	defer k.env.mu.RUnlock()
	out := make([]float64, len(k.m.current))
	copy(out, k.m.current)
	return out
}

func (k *kinematics) JointLimits() []referenceframe.Limit {
	return k.m.model.DoF()
}

func (k *kinematics) LinkPoses(q []float64) (map[string]spatialmath.Pose, error) {
	return k.m.linkPoses(q)
}

// linkPoses places the model frames in the world. Out of bounds inputs are allowed.
func (m *manipulator) linkPoses(q []float64) (map[string]spatialmath.Pose, error) {
	poses, err := m.model.LinkPoses(referenceframe.FloatsToInputs(q))
	if err = ignoreOutOfBounds(err); err != nil {
		return nil, err
	}
	world := make(map[string]spatialmath.Pose, len(poses))
	for name, pose := range poses {
		world[name] = spatialmath.Compose(m.base, pose)
	}
	return world, nil
}

func (m *manipulator) linkGeometries(q []float64) (map[string]spatialmath.Geometry, error) {
	geometries, err := m.model.Geometries(referenceframe.FloatsToInputs(q))
	if err = ignoreOutOfBounds(err); err != nil {
		return nil, err
	}
	world := make(map[string]spatialmath.Geometry, len(geometries))
	for name, g := range geometries {
		world[name] = g.Transform(m.base)
	}
	return world, nil
}

func ignoreOutOfBounds(err error) error {
	if err != nil && strings.Contains(err.Error(), referenceframe.OOBErrString) {
		return nil
	}
	return errors.Wrap(err, "cannot place manipulator")
}

// collisionLinkNames must be called with the read lock held.
func (env *Environment) collisionLinkNames(m *manipulator) []string {
	names := []string{}
	links := m.model.LinkNames()
	geometries, err := m.linkGeometries(make([]float64, len(m.model.DoF())))
	if err == nil {
		for _, name := range links {
			if _, ok := geometries[name]; ok {
				names = append(names, name)
			}
		}
	}
	for _, name := range sortedKeys(env.attached) {
		info := env.attached[name]
		if lo.Contains(links, info.ParentLink) {
			names = append(names, name)
		}
	}
	return names
}
