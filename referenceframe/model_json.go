package referenceframe

import (
	"encoding/json"
	"os"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	spatial "github.com/viam-labs/trajopt/spatialmath"
	"github.com/viam-labs/trajopt/utils"
)

// ModelConfigJSON represents all supported fields in a kinematics JSON file.
type ModelConfigJSON struct {
	Name         string        `json:"name"`
	KinParamType string        `json:"kinematic_param_type,omitempty"`
	Links        []LinkConfig  `json:"links,omitempty"`
	Joints       []JointConfig `json:"joints,omitempty"`
}

// LinkConfig is a fixed transform from its parent, optionally carrying a collision geometry expressed in the link
// frame. Translations are in meters.
type LinkConfig struct {
	ID          string                     `json:"id"`
	Translation r3.Vector                  `json:"translation"`
	Orientation *spatial.OrientationConfig `json:"orientation,omitempty"`
	Geometry    *spatial.GeometryConfig    `json:"geometry,omitempty"`
	Parent      string                     `json:"parent"`
}

// JointConfig is a single degree of freedom joint. Revolute limits are in degrees, prismatic limits in meters.
type JointConfig struct {
	ID     string    `json:"id"`
	Type   string    `json:"type"`
	Parent string    `json:"parent"`
	Axis   r3.Vector `json:"axis"`
	Max    float64   `json:"max"`
	Min    float64   `json:"min"`
	// only valid for prismatic joints
	Geometry *spatial.GeometryConfig `json:"geometry,omitempty"`
}

// Joint types understood by JointConfig.
const (
	RevoluteJoint  = "revolute"
	PrismaticJoint = "prismatic"
)

// UnmarshalModelJSON will parse the given JSON data into a kinematics model. modelName sets the name of the model,
// will use the name from the JSON if string is empty.
func UnmarshalModelJSON(jsonData []byte, modelName string) (Model, error) {
	// empty data probably means that the component has no model information
	if len(jsonData) == 0 {
		return nil, ErrNoModelInformation
	}

	m := &ModelConfigJSON{}
	if err := json.Unmarshal(jsonData, m); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal json file")
	}
	return m.ParseConfig(modelName)
}

// ParseModelJSONFile will read a given file and then parse the contained JSON data.
func ParseModelJSONFile(filename, modelName string) (Model, error) {
	//nolint:gosec
	jsonData, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read json file")
	}
	return UnmarshalModelJSON(jsonData, modelName)
}

// ParseConfig converts the ModelConfigJSON struct into a full Model with the name modelName.
func (cfg *ModelConfigJSON) ParseConfig(modelName string) (Model, error) {
	if modelName == "" {
		modelName = cfg.Name
	}
	if cfg.KinParamType != "" && cfg.KinParamType != "SVA" {
		return nil, errors.Errorf("unsupported param type: %s, supported params are SVA", cfg.KinParamType)
	}

	model := NewSimpleModel(modelName)
	transforms := map[string]Frame{}

	// Make a map of parents for each element for post-process, to allow items to be processed out of order
	parentMap := map[string]string{}

	for _, link := range cfg.Links {
		if link.ID == World {
			return nil, NewReservedWordError("link", World)
		}
		frame, err := link.ToStaticFrame()
		if err != nil {
			return nil, errors.Wrapf(err, "link %q", link.ID)
		}
		parentMap[link.ID] = link.Parent
		transforms[link.ID] = frame
	}
	for _, joint := range cfg.Joints {
		if joint.ID == World {
			return nil, NewReservedWordError("joint", World)
		}
		frame, err := joint.ToFrame()
		if err != nil {
			return nil, errors.Wrapf(err, "joint %q", joint.ID)
		}
		parentMap[joint.ID] = joint.Parent
		transforms[joint.ID] = frame
	}

	ot, err := sortTransforms(transforms, parentMap)
	if err != nil {
		return nil, err
	}
	model.setOrdTransforms(ot)
	return model, nil
}

// ToStaticFrame converts a LinkConfig into a static frame.
func (cfg *LinkConfig) ToStaticFrame() (Frame, error) {
	var o spatial.Orientation = spatial.NewZeroOrientation()
	if cfg.Orientation != nil {
		var err error
		if o, err = cfg.Orientation.ParseConfig(); err != nil {
			return nil, err
		}
	}
	geometry, err := parseLinkGeometry(cfg.Geometry, cfg.ID)
	if err != nil {
		return nil, err
	}
	return NewStaticFrameWithGeometry(cfg.ID, spatial.NewPose(cfg.Translation, o), geometry)
}

// ToFrame converts a JointConfig into a joint frame.
func (cfg *JointConfig) ToFrame() (Frame, error) {
	switch cfg.Type {
	case RevoluteJoint:
		if cfg.Geometry != nil {
			return nil, errors.New("revolute joints cannot carry a geometry")
		}
		return NewRotationalFrame(cfg.ID, spatial.R4AA{RX: cfg.Axis.X, RY: cfg.Axis.Y, RZ: cfg.Axis.Z},
			Limit{Min: utils.DegToRad(cfg.Min), Max: utils.DegToRad(cfg.Max)})
	case PrismaticJoint:
		geometry, err := parseLinkGeometry(cfg.Geometry, cfg.ID)
		if err != nil {
			return nil, err
		}
		return NewTranslationalFrameWithGeometry(cfg.ID, cfg.Axis, Limit{Min: cfg.Min, Max: cfg.Max}, geometry)
	default:
		return nil, NewUnsupportedJointTypeError(cfg.Type)
	}
}

func parseLinkGeometry(cfg *spatial.GeometryConfig, name string) (spatial.Geometry, error) {
	if cfg == nil {
		return nil, nil
	}
	withLabel := *cfg
	if withLabel.Label == "" {
		withLabel.Label = name
	}
	return withLabel.ParseConfig()
}

// Create an ordered list of transforms, base first, given a mapping of child to parent frames.
func sortTransforms(transforms map[string]Frame, parents map[string]string) ([]Frame, error) {
	// find the end effector first: the only transform that is no one's parent
	ees := lo.OmitByKeys(parents, lo.Values(parents))
	if len(ees) != 1 {
		return nil, errors.Wrapf(ErrNeedOneEndEffector, "have %v", ees)
	}

	// start the search from the end effector
	curr := lo.Keys(ees)[0]
	seen := map[string]bool{curr: true}
	orderedTransforms := []Frame{}
	for i := 0; i < len(parents); i++ {
		frame, ok := transforms[curr]
		if !ok {
			return nil, NewFrameNotInListOfTransformsError(curr)
		}
		orderedTransforms = append(orderedTransforms, frame)

		parent, ok := parents[curr]
		if !ok {
			return nil, NewParentFrameNotInMapOfParentsError(curr)
		}
		if seen[parent] {
			return nil, ErrCircularReference
		}
		seen[parent] = true
		curr = parent
	}
	if curr != World {
		return nil, NewFrameNotInListOfTransformsError(curr)
	}

	// After the above loop, the transforms are in reverse order, so we reverse the list.
	for i, j := 0, len(orderedTransforms)-1; i < j; i, j = i+1, j-1 {
		orderedTransforms[i], orderedTransforms[j] = orderedTransforms[j], orderedTransforms[i]
	}
	return orderedTransforms, nil
}
