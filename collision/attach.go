package collision

import (
	"slices"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/viam-labs/trajopt/spatialmath"
)

// AttachableObject is a named set of geometries, expressed in the object's own frame, that can be attached to a
// manipulator link. Once attached it moves with the link and is treated as an obstacle by every other link.
type AttachableObject struct {
	Name       string
	Geometries []spatialmath.Geometry
}

// AttachBodyInfo attaches an object to a link. Transform places the object's frame in the link's frame.
type AttachBodyInfo struct {
	ObjectName string
	ParentLink string
	Transform  spatialmath.Pose
}

// AddAttachableObject registers an object so it can later be attached.
func (env *Environment) AddAttachableObject(obj *AttachableObject) error {
	if obj == nil || obj.Name == "" {
		return errors.New("attachable object needs a name")
	}
	if len(obj.Geometries) == 0 {
		return errors.Errorf("attachable object %q has no geometry", obj.Name)
	}
	env.mu.Lock()
	defer env.mu.Unlock()
	if _, ok := env.attachable[obj.Name]; ok {
		return errors.Errorf("attachable object %q already exists", obj.Name)
	}
	env.attachable[obj.Name] = obj
	return nil
}

// AttachBody attaches a registered object to a manipulator link.
func (env *Environment) AttachBody(info AttachBodyInfo) error {
	env.mu.Lock()
	defer env.mu.Unlock()
	if _, ok := env.attachable[info.ObjectName]; !ok {
		return errors.Errorf("no attachable object named %q", info.ObjectName)
	}
	if _, ok := env.attached[info.ObjectName]; ok {
		return errors.Errorf("object %q is already attached", info.ObjectName)
	}
	if env.manipulatorWithLink(info.ParentLink) == nil {
		return errors.Errorf("no manipulator has a link named %q", info.ParentLink)
	}
	if info.Transform == nil {
		info.Transform = spatialmath.NewZeroPose()
	}
	env.attached[info.ObjectName] = info
	env.logger.Debugw("attached body", "object", info.ObjectName, "link", info.ParentLink)
	return nil
}

// DetachBody removes an attachment. The object stays registered and can be attached again.
func (env *Environment) DetachBody(name string) error {
	env.mu.Lock()
	defer env.mu.Unlock()
	if _, ok := env.attached[name]; !ok {
		return errors.Errorf("object %q is not attached", name)
	}
	delete(env.attached, name)
	return nil
}

// manipulatorWithLink must be called with the lock held.
func (env *Environment) manipulatorWithLink(link string) *manipulator {
	for _, name := range sortedKeys(env.manipulators) {
		m := env.manipulators[name]
		if lo.Contains(m.model.LinkNames(), link) {
			return m
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := lo.Keys(m)
	slices.Sort(keys)
	return keys
}
