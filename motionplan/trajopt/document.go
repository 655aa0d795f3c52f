package trajopt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/golang/geo/r3"
	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"github.com/viam-labs/trajopt/motionplan/sco"
	"github.com/viam-labs/trajopt/spatialmath"
)

// Document is the declarative form of a problem.
type Document struct {
	BasicInfo   BasicInfoDoc `json:"basic_info"`
	OptInfo     *sco.Params  `json:"opt_info,omitempty"`
	InitInfo    InitInfoDoc  `json:"init_info"`
	Costs       []TermDoc    `json:"costs,omitempty"`
	Constraints []TermDoc    `json:"constraints,omitempty"`
}

// BasicInfoDoc is the basic_info section. start_fixed defaults to true and both dt limits to 1.
type BasicInfoDoc struct {
	NumSteps    int     `json:"n_steps"`
	Manipulator string  `json:"manip"`
	StartFixed  bool    `json:"start_fixed,omitempty"`
	DofsFixed   []int   `json:"dofs_fixed,omitempty"`
	UseTime     bool    `json:"use_time,omitempty"`
	DtLowerLim  float64 `json:"dt_lower_lim,omitempty"`
	DtUpperLim  float64 `json:"dt_upper_lim,omitempty"`
}

// InitInfoDoc is the init_info section.
type InitInfoDoc struct {
	Type     string      `json:"type" jsonschema:"enum=stationary,enum=straight_line,enum=given_traj"`
	Endpoint []float64   `json:"endpoint,omitempty"`
	Data     [][]float64 `json:"data,omitempty"`
	HasTime  bool        `json:"has_time,omitempty"`
	Dt       float64     `json:"dt,omitempty"`
}

// TermDoc is one entry of costs or constraints. Params are decoded according to Type.
type TermDoc struct {
	Type   string                 `json:"type"`
	Name   string                 `json:"name,omitempty"`
	Params map[string]interface{} `json:"params"`
}

// JointVelocityParams are the params of joint_vel, joint_acc and joint_jerk terms.
type JointVelocityParams struct {
	JointName   string    `json:"joint_name"`
	Coeffs      []float64 `json:"coeffs,omitempty"`
	FirstStep   int       `json:"first_step,omitempty"`
	LastStep    int       `json:"last_step,omitempty"`
	PenaltyType string    `json:"penalty_type,omitempty" jsonschema:"enum=squared,enum=abs,enum=hinge"`
	Limit       float64   `json:"limit,omitempty"`
}

// TotalTimeParams are the params of total_time terms.
type TotalTimeParams struct {
	Weight      float64 `json:"weight,omitempty"`
	PenaltyType string  `json:"penalty_type,omitempty" jsonschema:"enum=squared,enum=abs,enum=hinge"`
	Limit       float64 `json:"limit,omitempty"`
}

// CollisionParams are the params of collision terms. Coeffs and DistPen hold one value per step of the range, or
// one for all of them.
type CollisionParams struct {
	Continuous bool      `json:"continuous,omitempty"`
	FirstStep  int       `json:"first_step,omitempty"`
	LastStep   int       `json:"last_step,omitempty"`
	Gap        int       `json:"gap,omitempty"`
	Coeffs     []float64 `json:"coeffs"`
	DistPen    []float64 `json:"dist_pen"`
}

// PoseParams are the params of static_pose terms. Wxyz is a quaternion, scalar first. The tool point offset
// defaults to none.
type PoseParams struct {
	Timestep  int        `json:"timestep,omitempty"`
	Xyz       [3]float64 `json:"xyz"`
	Wxyz      [4]float64 `json:"wxyz"`
	PosCoeffs []float64  `json:"pos_coeffs,omitempty"`
	RotCoeffs []float64  `json:"rot_coeffs,omitempty"`
	Link      string     `json:"link"`
	TcpXyz    [3]float64 `json:"tcp_xyz,omitempty"`
	TcpWxyz   [4]float64 `json:"tcp_wxyz,omitempty"`
}

// LinkPoseParams are the params of pose terms: a static_pose expressed in the frame of another link of the same
// manipulator.
type LinkPoseParams struct {
	Timestep  int        `json:"timestep,omitempty"`
	Xyz       [3]float64 `json:"xyz"`
	Wxyz      [4]float64 `json:"wxyz"`
	PosCoeffs []float64  `json:"pos_coeffs,omitempty"`
	RotCoeffs []float64  `json:"rot_coeffs,omitempty"`
	Link      string     `json:"link"`
	Target    string     `json:"target"`
	TcpXyz    [3]float64 `json:"tcp_xyz,omitempty"`
	TcpWxyz   [4]float64 `json:"tcp_wxyz,omitempty"`
}

// JointPositionParams are the params of joint_pos and joint terms.
type JointPositionParams struct {
	Vals     []float64 `json:"vals"`
	Coeffs   []float64 `json:"coeffs,omitempty"`
	Timestep int       `json:"timestep,omitempty"`
}

// CartesianVelocityParams are the params of cart_vel terms.
type CartesianVelocityParams struct {
	FirstStep       int     `json:"first_step,omitempty"`
	LastStep        int     `json:"last_step,omitempty"`
	MaxDisplacement float64 `json:"max_displacement"`
	Link            string  `json:"link"`
}

// VelocityLimitParams are the params of joint_vel_limit terms.
type VelocityLimitParams struct {
	Vals      []float64 `json:"vals"`
	FirstStep int       `json:"first_step,omitempty"`
	LastStep  int       `json:"last_step,omitempty"`
}

// termType is an entry of the term registry: where a type may appear, the shape of its params, and how to turn
// them into a descriptor. decode receives the problem's step count for step defaults.
type termType struct {
	cost       bool
	constraint bool
	params     interface{}
	decode     func(doc TermDoc, kind TermKind, numSteps int) (TermDescriptor, error)
}

var termTypes = map[string]termType{
	"joint_vel": {
		cost: true, constraint: true, params: &JointVelocityParams{},
		decode: func(doc TermDoc, kind TermKind, n int) (TermDescriptor, error) {
			p, penalty, err := decodeJointParams(doc, n)
			if err != nil {
				return nil, err
			}
			return &JointVelocityCost{
				Name: doc.Name, Kind: kind, JointName: p.JointName, Coeffs: p.Coeffs,
				FirstStep: p.FirstStep, LastStep: p.LastStep, Penalty: penalty, Limit: p.Limit,
			}, nil
		},
	},
	"joint_acc": {
		cost: true, params: &JointVelocityParams{},
		decode: func(doc TermDoc, kind TermKind, n int) (TermDescriptor, error) {
			p, penalty, err := decodeJointParams(doc, n)
			if err != nil {
				return nil, err
			}
			return &JointAccelerationCost{
				Name: doc.Name, Kind: kind, JointName: p.JointName, Coeffs: p.Coeffs,
				FirstStep: p.FirstStep, LastStep: p.LastStep, Penalty: penalty, Limit: p.Limit,
			}, nil
		},
	},
	"joint_jerk": {
		cost: true, params: &JointVelocityParams{},
		decode: func(doc TermDoc, kind TermKind, n int) (TermDescriptor, error) {
			p, penalty, err := decodeJointParams(doc, n)
			if err != nil {
				return nil, err
			}
			return &JointJerkCost{
				Name: doc.Name, Kind: kind, JointName: p.JointName, Coeffs: p.Coeffs,
				FirstStep: p.FirstStep, LastStep: p.LastStep, Penalty: penalty, Limit: p.Limit,
			}, nil
		},
	},
	"total_time": {
		cost: true, constraint: true, params: &TotalTimeParams{},
		decode: func(doc TermDoc, kind TermKind, n int) (TermDescriptor, error) {
			p := &TotalTimeParams{Weight: 1}
			if err := decodeParams(doc.Params, p); err != nil {
				return nil, err
			}
			penalty, err := parsePenalty(p.PenaltyType)
			if err != nil {
				return nil, err
			}
			return &TotalTimeCost{Name: doc.Name, Kind: kind, Weight: p.Weight, Penalty: penalty, Limit: p.Limit}, nil
		},
	},
	"collision": {
		cost: true, constraint: true, params: &CollisionParams{},
		decode: func(doc TermDoc, kind TermKind, n int) (TermDescriptor, error) {
			p := &CollisionParams{Continuous: true, LastStep: n - 1, Gap: 1}
			if err := decodeParams(doc.Params, p); err != nil {
				return nil, err
			}
			margins, err := zipMargins(p.Coeffs, p.DistPen)
			if err != nil {
				return nil, err
			}
			return &CollisionCost{
				Name: doc.Name, Kind: kind, Margins: margins, Continuous: p.Continuous,
				FirstStep: p.FirstStep, LastStep: p.LastStep, StepGap: p.Gap,
			}, nil
		},
	},
	"static_pose": {
		cost: true, constraint: true, params: &PoseParams{},
		decode: func(doc TermDoc, kind TermKind, n int) (TermDescriptor, error) {
			p := &PoseParams{Timestep: n - 1, TcpWxyz: identityWxyz}
			if err := decodeParams(doc.Params, p); err != nil {
				return nil, err
			}
			return poseDescriptor(doc, kind, LinkPoseParams{
				Timestep: p.Timestep, Xyz: p.Xyz, Wxyz: p.Wxyz, PosCoeffs: p.PosCoeffs, RotCoeffs: p.RotCoeffs,
				Link: p.Link, TcpXyz: p.TcpXyz, TcpWxyz: p.TcpWxyz,
			})
		},
	},
	"pose": {
		cost: true, constraint: true, params: &LinkPoseParams{},
		decode: func(doc TermDoc, kind TermKind, n int) (TermDescriptor, error) {
			p := &LinkPoseParams{Timestep: n - 1, TcpWxyz: identityWxyz}
			if err := decodeParams(doc.Params, p); err != nil {
				return nil, err
			}
			if p.Target == "" {
				return nil, errors.New("pose terms need a target link")
			}
			return poseDescriptor(doc, kind, *p)
		},
	},
	"joint_pos": {
		cost: true, params: &JointPositionParams{},
		decode: decodeJointPosition,
	},
	"joint": {
		constraint: true, params: &JointPositionParams{},
		decode: decodeJointPosition,
	},
	"cart_vel": {
		constraint: true, params: &CartesianVelocityParams{},
		decode: func(doc TermDoc, kind TermKind, n int) (TermDescriptor, error) {
			p := &CartesianVelocityParams{LastStep: n - 1}
			if err := decodeParams(doc.Params, p); err != nil {
				return nil, err
			}
			return &CartesianVelocityConstraint{
				Name: doc.Name, Kind: kind, LinkName: p.Link, MaxDisplacement: p.MaxDisplacement,
				FirstStep: p.FirstStep, LastStep: p.LastStep,
			}, nil
		},
	},
	"joint_vel_limit": {
		constraint: true, params: &VelocityLimitParams{},
		decode: func(doc TermDoc, kind TermKind, n int) (TermDescriptor, error) {
			p := &VelocityLimitParams{LastStep: n - 1}
			if err := decodeParams(doc.Params, p); err != nil {
				return nil, err
			}
			return &JointVelocityLimit{Name: doc.Name, Kind: kind, Limits: p.Vals, FirstStep: p.FirstStep, LastStep: p.LastStep}, nil
		},
	},
}

// TermTypes lists the term types a document may use.
func TermTypes() []string {
	names := make([]string, 0, len(termTypes))
	for name := range termTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func decodeJointParams(doc TermDoc, n int) (*JointVelocityParams, sco.PenaltyType, error) {
	p := &JointVelocityParams{LastStep: n - 1}
	if err := decodeParams(doc.Params, p); err != nil {
		return nil, 0, err
	}
	penalty, err := parsePenalty(p.PenaltyType)
	return p, penalty, err
}

func decodeJointPosition(doc TermDoc, kind TermKind, n int) (TermDescriptor, error) {
	p := &JointPositionParams{Timestep: n - 1}
	if err := decodeParams(doc.Params, p); err != nil {
		return nil, err
	}
	return &JointPositionTerm{Name: doc.Name, Kind: kind, Values: p.Vals, Coeffs: p.Coeffs, Step: p.Timestep}, nil
}

var identityWxyz = [4]float64{1, 0, 0, 0}

func poseDescriptor(doc TermDoc, kind TermKind, p LinkPoseParams) (TermDescriptor, error) {
	d := &CartesianPoseConstraint{
		Name:           doc.Name,
		Kind:           kind,
		Step:           p.Timestep,
		LinkName:       p.Link,
		TargetLink:     p.Target,
		Position:       r3.Vector{X: p.Xyz[0], Y: p.Xyz[1], Z: p.Xyz[2]},
		Orientation:    wxyzQuat(p.Wxyz),
		PositionCoeffs: p.PosCoeffs,
		RotationCoeffs: p.RotCoeffs,
	}
	if p.TcpXyz != [3]float64{} || p.TcpWxyz != identityWxyz {
		if p.TcpWxyz == [4]float64{} {
			return nil, errors.New("tcp_wxyz is a zero quaternion")
		}
		w := p.TcpWxyz
		d.TCP = spatialmath.NewPose(
			r3.Vector{X: p.TcpXyz[0], Y: p.TcpXyz[1], Z: p.TcpXyz[2]},
			spatialmath.NewQuaternion(w[0], w[1], w[2], w[3]),
		)
	}
	return d, nil
}

func wxyzQuat(wxyz [4]float64) quat.Number {
	return quat.Number{Real: wxyz[0], Imag: wxyz[1], Jmag: wxyz[2], Kmag: wxyz[3]}
}

func parsePenalty(name string) (sco.PenaltyType, error) {
	switch strings.ToLower(name) {
	case "", "squared", "sq":
		return sco.Squared, nil
	case "abs":
		return sco.Abs, nil
	case "hinge":
		return sco.Hinge, nil
	default:
		return 0, errors.Errorf("unknown penalty_type %q", name)
	}
}

// zipMargins pairs coefficients with distances, repeating a single value to match the other list.
func zipMargins(coeffs, dists []float64) ([]CollisionMargin, error) {
	n := max(len(coeffs), len(dists))
	if n == 0 || (len(coeffs) != n && len(coeffs) != 1) || (len(dists) != n && len(dists) != 1) {
		return nil, errors.Errorf("coeffs and dist_pen have %d and %d values", len(coeffs), len(dists))
	}
	at := func(vals []float64, i int) float64 {
		if len(vals) == 1 {
			return vals[0]
		}
		return vals[i]
	}
	margins := make([]CollisionMargin, n)
	for i := range margins {
		margins[i] = CollisionMargin{Distance: at(dists, i), Coeff: at(coeffs, i)}
	}
	return margins, nil
}

// decodeParams decodes into out, which holds the defaults. Unknown fields are errors.
func decodeParams(input, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "json",
		ErrorUnused: true,
		Result:      out,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}

// ParseDocument reads a problem document and fills in its defaults.
func ParseDocument(r io.Reader) (*Document, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, newParseError("", err)
	}
	params := DefaultParams()
	doc := &Document{
		BasicInfo: BasicInfoDoc{StartFixed: true, DtLowerLim: 1, DtUpperLim: 1},
		OptInfo:   &params,
		InitInfo:  InitInfoDoc{Type: InitStationary.String(), Dt: 1},
	}
	if err := decodeParams(raw, doc); err != nil {
		return nil, newParseError("", err)
	}
	return doc, nil
}

// Problem builds the document's problem against env. Term paths in errors look like "costs[2]".
func (doc *Document) Problem(env Environment) (*TrajectoryProblem, error) {
	init, err := doc.InitInfo.initInfo()
	if err != nil {
		return nil, newParseError("init_info", err)
	}
	n := doc.BasicInfo.NumSteps
	terms := make([]TermDescriptor, 0, len(doc.Costs)+len(doc.Constraints))
	for _, section := range []struct {
		name string
		kind TermKind
		docs []TermDoc
	}{
		{"costs", KindCost, doc.Costs},
		{"constraints", KindConstraint, doc.Constraints},
	} {
		for i, td := range section.docs {
			path := fmt.Sprintf("%s[%d]", section.name, i)
			term, err := td.descriptor(section.kind, n)
			if err != nil {
				return nil, newParseError(path, err)
			}
			terms = append(terms, term)
		}
	}

	basic := BasicInfo{
		NumSteps:    n,
		Manipulator: doc.BasicInfo.Manipulator,
		StartFixed:  doc.BasicInfo.StartFixed,
		DofsFixed:   doc.BasicInfo.DofsFixed,
		UseTime:     doc.BasicInfo.UseTime,
		DtLower:     doc.BasicInfo.DtLowerLim,
		DtUpper:     doc.BasicInfo.DtUpperLim,
	}
	return BuildProblem(env, basic, init, terms...)
}

// Params returns the document's optimizer settings: DefaultParams overridden by opt_info.
func (doc *Document) Params() sco.Params {
	if doc.OptInfo == nil {
		return DefaultParams()
	}
	return *doc.OptInfo
}

func (td TermDoc) descriptor(kind TermKind, numSteps int) (TermDescriptor, error) {
	tt, ok := termTypes[td.Type]
	if !ok {
		return nil, errors.Errorf("unknown term type %q, have %v", td.Type, TermTypes())
	}
	if (kind == KindCost && !tt.cost) || (kind == KindConstraint && !tt.constraint) {
		return nil, errors.Errorf("term type %q cannot be used as a %s", td.Type, kind)
	}
	params := td.Params
	if params == nil {
		params = map[string]interface{}{}
	}
	td.Params = params
	return tt.decode(td, kind, numSteps)
}

func (d InitInfoDoc) initInfo() (InitInfo, error) {
	info := InitInfo{Endpoint: d.Endpoint, Data: d.Data, HasTime: d.HasTime, Dt: d.Dt}
	switch d.Type {
	case "stationary":
		info.Type = InitStationary
	case "straight_line":
		info.Type = InitStraightLine
	case "given_traj":
		info.Type = InitGivenTraj
	default:
		return info, errors.Errorf("unknown init type %q", d.Type)
	}
	return info, nil
}

// ParseProblem reads a problem document and builds its problem against env. It also returns the document so
// callers can read its optimizer settings.
func ParseProblem(r io.Reader, env Environment) (*TrajectoryProblem, *Document, error) {
	doc, err := ParseDocument(r)
	if err != nil {
		return nil, nil, err
	}
	problem, err := doc.Problem(env)
	if err != nil {
		return nil, doc, err
	}
	return problem, doc, nil
}

// ParseProblemBytes is ParseProblem over a byte slice.
func ParseProblemBytes(data []byte, env Environment) (*TrajectoryProblem, *Document, error) {
	return ParseProblem(bytes.NewReader(data), env)
}

// DocumentSchema returns the JSON schema of a problem document.
func DocumentSchema() *jsonschema.Schema {
	return jsonschema.Reflect(&Document{})
}

// TermParamSchemas maps every term type to the JSON schema of its params.
func TermParamSchemas() map[string]*jsonschema.Schema {
	schemas := make(map[string]*jsonschema.Schema, len(termTypes))
	for name, tt := range termTypes {
		schemas[name] = jsonschema.Reflect(tt.params)
	}
	return schemas
}
