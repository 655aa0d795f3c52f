package referenceframe

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrCircularReference is returned when the model's link graph contains a cycle.
var ErrCircularReference = errors.New("infinite loop finding path from end effector to world")

// ErrNeedOneEndEffector is returned when a model does not form a single serial chain.
var ErrNeedOneEndEffector = errors.New("need exactly one end effector")

// ErrNoModelInformation is used when there is no model information.
var ErrNoModelInformation = errors.New("no model information")

// NewIncorrectDoFError returns an error indicating that the number of inputs does not match the frame's DoF.
func NewIncorrectDoFError(actual, expected int) error {
	return errors.Errorf("number of dof is %d, expected %d", actual, expected)
}

// NewFrameNotInListOfTransformsError returns an error indicating a parent was referenced but never defined.
func NewFrameNotInListOfTransformsError(frameName string) error {
	return errors.Errorf("frame named %q not in the list of transforms", frameName)
}

// NewParentFrameNotInMapOfParentsError returns an error indicating that a frame has no recorded parent.
func NewParentFrameNotInMapOfParentsError(frameName string) error {
	return errors.Errorf("parent frame of %q is not in the map of parents", frameName)
}

// NewReservedWordError returns an error indicating a config used a reserved frame name.
func NewReservedWordError(configType, reservedWord string) error {
	return errors.Errorf("reserved word: cannot name a %s %q", configType, reservedWord)
}

// NewUnsupportedJointTypeError returns an error indicating an unknown joint type.
func NewUnsupportedJointTypeError(jointType string) error {
	return fmt.Errorf("unsupported joint type detected: %q", jointType)
}
