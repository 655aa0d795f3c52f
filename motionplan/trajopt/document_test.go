package trajopt

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/viam-labs/trajopt/motionplan/sco"
)

const waypointDocument = `{
  "basic_info": {"n_steps": 5, "manip": "lbr_iiwa_7", "start_fixed": false, "use_time": true, "dt_lower_lim": 0.1, "dt_upper_lim": 5},
  "opt_info": {"max_iter": 7},
  "init_info": {"type": "stationary"},
  "costs": [
    {"type": "joint_vel", "name": "joint_a1_vel", "params": {"joint_name": "joint_a1", "coeffs": [2.5]}},
    {"type": "joint_vel", "name": "joint_a2_vel", "params": {"joint_name": "joint_a2", "coeffs": [2.5]}},
    {"type": "joint_vel", "name": "joint_a3_vel", "params": {"joint_name": "joint_a3", "coeffs": [2.5]}},
    {"type": "joint_vel", "name": "joint_a4_vel", "params": {"joint_name": "joint_a4", "coeffs": [2.5]}},
    {"type": "joint_vel", "name": "joint_a5_vel", "params": {"joint_name": "joint_a5", "coeffs": [2.5]}},
    {"type": "joint_vel", "name": "joint_a6_vel", "params": {"joint_name": "joint_a6", "coeffs": [2.5]}},
    {"type": "joint_vel", "name": "joint_a7_vel", "params": {"joint_name": "joint_a7", "coeffs": [2.5]}},
    {"type": "total_time", "name": "time_cost", "params": {"penalty_type": "squared"}},
    {"type": "collision", "name": "collision", "params": {"continuous": false, "coeffs": [20], "dist_pen": [0.025]}}
  ],
  "constraints": [
    {"type": "static_pose", "name": "waypoint_cart_0", "params": {"timestep": 0, "xyz": [0.5, -0.2, 0.62], "wxyz": [0, 0, 1, 0], "link": "tool0", "pos_coeffs": [10], "rot_coeffs": [10]}},
    {"type": "static_pose", "name": "waypoint_cart_1", "params": {"timestep": 1, "xyz": [0.5, -0.1, 0.62], "wxyz": [0, 0, 1, 0], "link": "tool0", "pos_coeffs": [10], "rot_coeffs": [10]}},
    {"type": "static_pose", "name": "waypoint_cart_2", "params": {"timestep": 2, "xyz": [0.5, 0.0, 0.62], "wxyz": [0, 0, 1, 0], "link": "tool0", "pos_coeffs": [10], "rot_coeffs": [10]}},
    {"type": "static_pose", "name": "waypoint_cart_3", "params": {"timestep": 3, "xyz": [0.5, 0.1, 0.62], "wxyz": [0, 0, 1, 0], "link": "tool0", "pos_coeffs": [10], "rot_coeffs": [10]}},
    {"type": "static_pose", "name": "waypoint_cart_4", "params": {"xyz": [0.5, 0.2, 0.62], "wxyz": [0, 0, 1, 0], "link": "tool0", "pos_coeffs": [10], "rot_coeffs": [10]}}
  ]
}`

func TestDocumentMatchesProgrammaticProblem(t *testing.T) {
	env := newTestEnv(t, "lbr_iiwa_7")
	fromDoc, doc, err := ParseProblem(strings.NewReader(waypointDocument), env)
	test.That(t, err, test.ShouldBeNil)
	built := newScenarioA(t, env)

	test.That(t, fromDoc.NumVars(), test.ShouldEqual, built.NumVars())
	test.That(t, fromDoc.CostNames(), test.ShouldResemble, built.CostNames())
	test.That(t, fromDoc.ConstraintNames(), test.ShouldResemble, built.ConstraintNames())
	test.That(t, fromDoc.InitialVector(), test.ShouldResemble, built.InitialVector())

	x := built.InitialVector()
	for i, term := range built.SCOProblem().Costs() {
		want, err := term.Value(x)
		test.That(t, err, test.ShouldBeNil)
		got, err := fromDoc.SCOProblem().Costs()[i].Value(x)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got, test.ShouldAlmostEqual, want, 1e-9)
	}
	for i, term := range built.SCOProblem().Constraints() {
		want, err := term.Violation(x)
		test.That(t, err, test.ShouldBeNil)
		got, err := fromDoc.SCOProblem().Constraints()[i].Violation(x)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got, test.ShouldAlmostEqual, want, 1e-9)
	}

	params := doc.Params()
	test.That(t, params.MaxIter, test.ShouldEqual, 7)
	test.That(t, params.ImproveRatioThreshold, test.ShouldEqual, DefaultParams().ImproveRatioThreshold)
	test.That(t, params.InitialMeritErrorCoeff, test.ShouldEqual, DefaultParams().InitialMeritErrorCoeff)
}

func TestDocumentDefaults(t *testing.T) {
	doc, err := ParseDocument(strings.NewReader(`{"basic_info": {"n_steps": 4, "manip": "slider"}}`))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, doc.BasicInfo.StartFixed, test.ShouldBeTrue)
	test.That(t, doc.InitInfo.Type, test.ShouldEqual, "stationary")
	test.That(t, doc.Params(), test.ShouldResemble, DefaultParams())

	env := newTestEnv(t, "slider")
	p, err := (&Document{
		BasicInfo: BasicInfoDoc{NumSteps: 4, Manipulator: "slider", StartFixed: true},
		InitInfo:  InitInfoDoc{Type: "straight_line", Endpoint: []float64{1}},
		Costs:     []TermDoc{{Type: "joint_vel", Params: map[string]interface{}{"joint_name": "slide"}}},
		Constraints: []TermDoc{
			{Type: "joint", Params: map[string]interface{}{"vals": []interface{}{1.0}}},
		},
	}).Problem(env)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p.CostNames(), test.ShouldResemble, []string{"joint_vel_slide"})
	test.That(t, p.ConstraintNames(), test.ShouldResemble, []string{"joint_pos_3"})
	test.That(t, p.SCOProblem().Costs()[0].Vars, test.ShouldResemble, []int{0, 1, 2, 3})
	test.That(t, p.SCOProblem().Constraints()[0].Penalty, test.ShouldEqual, sco.Abs)
	test.That(t, p.InitialTrajectory()[3], test.ShouldResemble, []float64{1})
}

func TestDocumentPoseTerms(t *testing.T) {
	env := newTestEnv(t, "slider")
	p, doc, err := ParseProblemBytes([]byte(`{
		"basic_info": {"n_steps": 4, "manip": "slider"},
		"init_info": {"type": "straight_line", "endpoint": [1.5]},
		"costs": [
			{"type": "pose", "name": "ball_on_rail", "params": {
				"timestep": 2, "link": "ball", "target": "rail", "xyz": [1, 0.1, 0], "wxyz": [1, 0, 0, 0], "tcp_xyz": [0, 0.1, 0]
			}}
		],
		"constraints": [
			{"type": "static_pose", "params": {"link": "ball", "xyz": [1.5, 0, 0.2], "wxyz": [1, 0, 0, 0], "tcp_xyz": [0, 0, 0.2]}}
		]
	}`), env)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p.CostNames(), test.ShouldResemble, []string{"ball_on_rail"})
	test.That(t, p.ConstraintNames(), test.ShouldResemble, []string{"pose_3"})

	desc, err := doc.Costs[0].descriptor(KindCost, 4)
	test.That(t, err, test.ShouldBeNil)
	pose := desc.(*CartesianPoseConstraint)
	test.That(t, pose.TargetLink, test.ShouldEqual, "rail")
	test.That(t, pose.Step, test.ShouldEqual, 2)
	tool := pose.TCP.Point()
	test.That(t, tool.Sub(r3.Vector{Y: .1}).Norm(), test.ShouldBeLessThan, 1e-12)

	// the seed puts the ball exactly where both terms want its tool point
	x := p.InitialVector()
	cost, err := p.SCOProblem().Costs()[0].Value(x)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cost, test.ShouldAlmostEqual, 0, 1e-12)
	viol, err := p.SCOProblem().Constraints()[0].Violation(x)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, viol, test.ShouldAlmostEqual, 0, 1e-9)

	plain, err := (TermDoc{Type: "static_pose", Params: map[string]interface{}{
		"link": "ball", "xyz": []interface{}{0.0, 0.0, 0.0}, "wxyz": []interface{}{1.0, 0.0, 0.0, 0.0},
	}}).descriptor(KindCost, 4)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, plain.(*CartesianPoseConstraint).TCP, test.ShouldBeNil)
}

func TestDocumentErrors(t *testing.T) {
	env := newTestEnv(t, "slider")
	parse := func(t *testing.T, doc string) (*ParseError, error) {
		t.Helper()
		_, _, err := ParseProblemBytes([]byte(doc), env)
		test.That(t, err, test.ShouldNotBeNil)
		var buildErr *BuildError
		test.That(t, errors.As(err, &buildErr), test.ShouldBeTrue)
		var parseErr *ParseError
		if errors.As(err, &parseErr) {
			return parseErr, err
		}
		return nil, err
	}

	t.Run("unknown term type", func(t *testing.T) {
		parseErr, err := parse(t, `{
			"basic_info": {"n_steps": 3, "manip": "slider"},
			"costs": [
				{"type": "joint_vel", "params": {"joint_name": "slide"}},
				{"type": "joint_banana", "params": {}}
			]
		}`)
		test.That(t, parseErr, test.ShouldNotBeNil)
		test.That(t, parseErr.Path, test.ShouldEqual, "costs[1]")
		test.That(t, err.Error(), test.ShouldContainSubstring, "joint_banana")
	})

	t.Run("cost only type as constraint", func(t *testing.T) {
		parseErr, _ := parse(t, `{
			"basic_info": {"n_steps": 3, "manip": "slider"},
			"constraints": [{"type": "joint_acc", "params": {"joint_name": "slide"}}]
		}`)
		test.That(t, parseErr, test.ShouldNotBeNil)
		test.That(t, parseErr.Path, test.ShouldEqual, "constraints[0]")
	})

	t.Run("unknown field", func(t *testing.T) {
		parseErr, _ := parse(t, `{"basic_info": {"n_steps": 3, "manip": "slider", "n_stepz": 4}}`)
		test.That(t, parseErr, test.ShouldNotBeNil)
		test.That(t, parseErr.Path, test.ShouldEqual, "")

		parseErr, _ = parse(t, `{
			"basic_info": {"n_steps": 3, "manip": "slider"},
			"costs": [{"type": "joint_vel", "params": {"joint_name": "slide", "coef": [1]}}]
		}`)
		test.That(t, parseErr, test.ShouldNotBeNil)
		test.That(t, parseErr.Path, test.ShouldEqual, "costs[0]")
	})

	t.Run("fractional step count", func(t *testing.T) {
		parseErr, _ := parse(t, `{"basic_info": {"n_steps": 2.5, "manip": "slider"}}`)
		test.That(t, parseErr, test.ShouldNotBeNil)
	})

	t.Run("malformed json", func(t *testing.T) {
		parseErr, _ := parse(t, `{"basic_info": `)
		test.That(t, parseErr, test.ShouldNotBeNil)
	})

	t.Run("bad init type", func(t *testing.T) {
		parseErr, _ := parse(t, `{"basic_info": {"n_steps": 3, "manip": "slider"}, "init_info": {"type": "teleport"}}`)
		test.That(t, parseErr, test.ShouldNotBeNil)
		test.That(t, parseErr.Path, test.ShouldEqual, "init_info")
	})

	t.Run("bad penalty", func(t *testing.T) {
		parseErr, _ := parse(t, `{
			"basic_info": {"n_steps": 3, "manip": "slider"},
			"costs": [{"type": "joint_vel", "params": {"joint_name": "slide", "penalty_type": "cubic"}}]
		}`)
		test.That(t, parseErr, test.ShouldNotBeNil)
	})

	t.Run("mismatched collision lists", func(t *testing.T) {
		parseErr, _ := parse(t, `{
			"basic_info": {"n_steps": 3, "manip": "slider"},
			"costs": [{"type": "collision", "params": {"coeffs": [1, 2], "dist_pen": [0.1, 0.2, 0.3]}}]
		}`)
		test.That(t, parseErr, test.ShouldNotBeNil)
	})

	t.Run("pose terms", func(t *testing.T) {
		parseErr, _ := parse(t, `{
			"basic_info": {"n_steps": 3, "manip": "slider"},
			"costs": [{"type": "pose", "params": {"link": "ball", "xyz": [0, 0, 0], "wxyz": [1, 0, 0, 0]}}]
		}`)
		test.That(t, parseErr, test.ShouldNotBeNil)
		test.That(t, parseErr.Path, test.ShouldEqual, "costs[0]")

		parseErr, _ = parse(t, `{
			"basic_info": {"n_steps": 3, "manip": "slider"},
			"costs": [{"type": "static_pose", "params": {"link": "ball", "xyz": [0, 0, 0], "wxyz": [1, 0, 0, 0], "tcp_wxyz": [0, 0, 0, 0]}}]
		}`)
		test.That(t, parseErr, test.ShouldNotBeNil)

		parseErr, _ = parse(t, `{
			"basic_info": {"n_steps": 3, "manip": "slider"},
			"costs": [{"type": "static_pose", "params": {"link": "ball", "target": "rail", "xyz": [0, 0, 0], "wxyz": [1, 0, 0, 0]}}]
		}`)
		test.That(t, parseErr, test.ShouldNotBeNil)
	})

	t.Run("build errors pass through", func(t *testing.T) {
		parseErr, err := parse(t, `{"basic_info": {"n_steps": 3, "manip": "gantry"}}`)
		test.That(t, parseErr, test.ShouldBeNil)
		var unknown *UnknownManipulatorError
		test.That(t, errors.As(err, &unknown), test.ShouldBeTrue)

		parseErr, err = parse(t, `{
			"basic_info": {"n_steps": 3, "manip": "slider"},
			"costs": [{"type": "joint_pos", "params": {"vals": [1], "timestep": 3}}]
		}`)
		test.That(t, parseErr, test.ShouldBeNil)
		var rangeErr *InvalidRangeError
		test.That(t, errors.As(err, &rangeErr), test.ShouldBeTrue)
	})
}

func TestDocumentSchemas(t *testing.T) {
	schema, err := json.Marshal(DocumentSchema())
	test.That(t, err, test.ShouldBeNil)
	for _, field := range []string{"basic_info", "n_steps", "init_info", "straight_line", "costs"} {
		test.That(t, string(schema), test.ShouldContainSubstring, field)
	}

	schemas := TermParamSchemas()
	test.That(t, len(schemas), test.ShouldEqual, len(TermTypes()))
	for _, name := range TermTypes() {
		test.That(t, schemas[name], test.ShouldNotBeNil)
	}
	collision, err := json.Marshal(schemas["collision"])
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(collision), test.ShouldContainSubstring, "dist_pen")
}
