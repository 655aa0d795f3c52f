// Package trajopt builds collision-aware trajectory optimization problems for a manipulator, solves them with
// sequential convex optimization, and checks the results for contacts.
//
// A problem has NumSteps rows of one variable per joint. When time is free it also has one duration variable per
// segment between consecutive steps. Terms are described with the TermDescriptor variants, either in code or in a
// JSON problem document, and bound to those variables by BuildProblem.
package trajopt

import (
	"fmt"

	"github.com/samber/lo"

	"github.com/viam-labs/trajopt/collision"
	"github.com/viam-labs/trajopt/motionplan/sco"
	"github.com/viam-labs/trajopt/utils"
)

// BasicInfo describes the shape of a problem.
type BasicInfo struct {
	NumSteps    int
	Manipulator string
	// StartFixed pins the first step to the seed's first row.
	StartFixed bool
	// DofsFixed lists joint indices held at their first step value for the whole trajectory.
	DofsFixed []int
	// UseTime adds a duration variable per segment, bounded to [DtLower, DtUpper].
	UseTime bool
	DtLower float64
	DtUpper float64
}

// InitType selects how the seed trajectory is built.
type InitType int

// The seed policies.
const (
	InitStationary InitType = iota
	InitStraightLine
	InitGivenTraj
)

func (t InitType) String() string {
	switch t {
	case InitStationary:
		return "stationary"
	case InitStraightLine:
		return "straight_line"
	case InitGivenTraj:
		return "given_traj"
	default:
		return fmt.Sprintf("InitType(%d)", int(t))
	}
}

// InitInfo is the seed policy. Stationary repeats the current joint values, StraightLine interpolates from them to
// Endpoint, and GivenTraj uses Data as is. With HasTime, the last column of Data holds the duration of the segment
// ending at that row; the first row's value is ignored. Otherwise every segment starts at Dt, or 1 when Dt is zero.
type InitInfo struct {
	Type     InitType
	Endpoint []float64
	Data     [][]float64
	HasTime  bool
	Dt       float64
}

// TrajectoryProblem is a bound optimization problem over a discretized trajectory. It borrows its environment.
type TrajectoryProblem struct {
	Manipulator string
	NumSteps    int
	DoF         int
	UseTime     bool
	JointNames  []string
	LinkNames   []string

	env       Environment
	kin       collision.Kinematics
	opt       *sco.Problem
	initTraj  [][]float64
	initTimes []float64
}

// BuildProblem validates the description and binds every term to the problem variables. All failures are
// BuildErrors.
func BuildProblem(env Environment, basic BasicInfo, init InitInfo, terms ...TermDescriptor) (*TrajectoryProblem, error) {
	if basic.NumSteps < 2 {
		return nil, newBuildError(&InvalidRangeError{Field: "n_steps", Reason: fmt.Sprintf("%d is fewer than 2", basic.NumSteps)})
	}
	if basic.UseTime && (basic.DtLower <= 0 || basic.DtLower > basic.DtUpper) {
		return nil, newBuildError(&InvalidRangeError{
			Field:  "dt limits",
			Reason: fmt.Sprintf("need 0 < lower <= upper, got [%g, %g]", basic.DtLower, basic.DtUpper),
		})
	}
	if env == nil {
		return nil, newBuildErrorf("no environment")
	}
	kin, ok := env.Kinematics(basic.Manipulator)
	if !ok {
		return nil, newBuildError(&UnknownManipulatorError{Name: basic.Manipulator})
	}

	p := &TrajectoryProblem{
		Manipulator: basic.Manipulator,
		NumSteps:    basic.NumSteps,
		DoF:         len(kin.JointNames()),
		UseTime:     basic.UseTime,
		JointNames:  kin.JointNames(),
		LinkNames:   kin.LinkNames(),
		env:         env,
		kin:         kin,
	}
	if err := p.seed(init); err != nil {
		return nil, newBuildError(err)
	}

	lower, upper := p.bounds(basic)
	var err error
	if p.opt, err = sco.NewProblem(lower, upper); err != nil {
		return nil, newBuildError(err)
	}
	if err := p.fixDofs(basic.DofsFixed); err != nil {
		return nil, newBuildError(err)
	}
	for _, term := range terms {
		if term == nil {
			return nil, newBuildErrorf("nil term")
		}
		if err := term.Validate(p.NumSteps); err != nil {
			return nil, newBuildError(err)
		}
		if err := p.bind(term); err != nil {
			return nil, newBuildError(err)
		}
	}
	return p, nil
}

// seed builds the initial trajectory and durations from the policy.
func (p *TrajectoryProblem) seed(init InitInfo) error {
	n, dof := p.NumSteps, p.DoF
	current := p.kin.CurrentJointValues()
	p.initTraj = make([][]float64, n)

	switch init.Type {
	case InitStationary:
		for i := range p.initTraj {
			p.initTraj[i] = append([]float64(nil), current...)
		}
	case InitStraightLine:
		if len(init.Endpoint) != dof {
			return &InvalidRangeError{Field: "endpoint", Reason: fmt.Sprintf("has %d values for %d joints", len(init.Endpoint), dof)}
		}
		for i := range p.initTraj {
			p.initTraj[i] = make([]float64, dof)
		}
		for j := 0; j < dof; j++ {
			for i, v := range utils.Linspace(current[j], init.Endpoint[j], n) {
				p.initTraj[i][j] = v
			}
		}
	case InitGivenTraj:
		if len(init.Data) != n {
			return &InvalidRangeError{Field: "init data", Reason: fmt.Sprintf("has %d rows for %d steps", len(init.Data), n)}
		}
		cols := dof
		if init.HasTime {
			cols++
		}
		for i, row := range init.Data {
			if len(row) != cols {
				return &InvalidRangeError{Field: "init data", Reason: fmt.Sprintf("row %d has %d columns, want %d", i, len(row), cols)}
			}
			p.initTraj[i] = append([]float64(nil), row[:dof]...)
		}
	default:
		return &InvalidRangeError{Field: "init type", Reason: init.Type.String()}
	}

	if !p.UseTime {
		return nil
	}
	dt := init.Dt
	if dt == 0 {
		dt = 1
	}
	p.initTimes = make([]float64, n-1)
	for seg := range p.initTimes {
		if init.Type == InitGivenTraj && init.HasTime {
			p.initTimes[seg] = init.Data[seg+1][dof]
		} else {
			p.initTimes[seg] = dt
		}
	}
	return nil
}

// bounds returns the variable box: joint limits, the pinned first step, and the duration limits.
func (p *TrajectoryProblem) bounds(basic BasicInfo) ([]float64, []float64) {
	lower := make([]float64, p.NumVars())
	upper := make([]float64, p.NumVars())
	limits := p.kin.JointLimits()
	for i := 0; i < p.NumSteps; i++ {
		for j := 0; j < p.DoF; j++ {
			lower[p.JointVar(i, j)] = limits[j].Min
			upper[p.JointVar(i, j)] = limits[j].Max
		}
	}
	if basic.StartFixed {
		for j, v := range p.initTraj[0] {
			lower[p.JointVar(0, j)] = v
			upper[p.JointVar(0, j)] = v
		}
	}
	if p.UseTime {
		for seg := 0; seg < p.NumSteps-1; seg++ {
			lower[p.TimeVar(seg)] = basic.DtLower
			upper[p.TimeVar(seg)] = basic.DtUpper
		}
	}
	return lower, upper
}

// fixDofs adds one equality constraint per listed joint holding it at the seed's first value.
func (p *TrajectoryProblem) fixDofs(dofs []int) error {
	for _, j := range lo.Uniq(dofs) {
		if j < 0 || j >= p.DoF {
			return &InvalidRangeError{Field: "dofs_fixed", Reason: fmt.Sprintf("joint index %d is outside [0, %d]", j, p.DoF-1)}
		}
		target := p.initTraj[0][j]
		vars := p.jointColumn(0, p.NumSteps-1, j)
		err := p.opt.AddConstraint(&sco.Term{
			Name:    fmt.Sprintf("dof_fixed_%s", p.JointNames[j]),
			Penalty: sco.Abs,
			Coeffs:  []float64{1},
			Vars:    vars,
			Err: func(x []float64) ([]float64, error) {
				out := make([]float64, len(vars))
				for k, v := range vars {
					out[k] = x[v] - target
				}
				return out, nil
			},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// NumVars is NumSteps*DoF, plus NumSteps-1 when time is free.
func (p *TrajectoryProblem) NumVars() int {
	n := p.NumSteps * p.DoF
	if p.UseTime {
		n += p.NumSteps - 1
	}
	return n
}

// JointVar is the index of joint j at the given step.
func (p *TrajectoryProblem) JointVar(step, j int) int {
	return step*p.DoF + j
}

// TimeVar is the index of the duration of the segment from step seg to seg+1. Only valid when time is free.
func (p *TrajectoryProblem) TimeVar(seg int) int {
	return p.NumSteps*p.DoF + seg
}

// Kinematics returns the manipulator the problem plans for.
func (p *TrajectoryProblem) Kinematics() collision.Kinematics {
	return p.kin
}

// SCOProblem returns the underlying optimization problem.
func (p *TrajectoryProblem) SCOProblem() *sco.Problem {
	return p.opt
}

// InitialTrajectory returns a copy of the seed.
func (p *TrajectoryProblem) InitialTrajectory() [][]float64 {
	return utils.CopyMatrix(p.initTraj)
}

// InitialTimes returns a copy of the seed durations, or nil when time is not free.
func (p *TrajectoryProblem) InitialTimes() []float64 {
	if p.initTimes == nil {
		return nil
	}
	return append([]float64(nil), p.initTimes...)
}

// InitialVector lays the seed out as a variable vector.
func (p *TrajectoryProblem) InitialVector() []float64 {
	x, _ := p.Vector(p.initTraj, p.initTimes)
	return x
}

// Vector lays a trajectory, and durations when time is free, out as a variable vector.
func (p *TrajectoryProblem) Vector(traj [][]float64, times []float64) ([]float64, error) {
	if len(traj) != p.NumSteps {
		return nil, utils.NewLengthMismatchError("trajectory steps", p.NumSteps, len(traj))
	}
	x := make([]float64, p.NumVars())
	for i, row := range traj {
		if len(row) != p.DoF {
			return nil, utils.NewLengthMismatchError(fmt.Sprintf("joint values at step %d", i), p.DoF, len(row))
		}
		copy(x[p.JointVar(i, 0):], row)
	}
	if p.UseTime {
		if len(times) != p.NumSteps-1 {
			return nil, utils.NewLengthMismatchError("segment durations", p.NumSteps-1, len(times))
		}
		copy(x[p.TimeVar(0):], times)
	}
	return x, nil
}

// Trajectory extracts the joint values of a variable vector, one row per step.
func (p *TrajectoryProblem) Trajectory(x []float64) [][]float64 {
	traj := make([][]float64, p.NumSteps)
	for i := range traj {
		traj[i] = append([]float64(nil), p.step(x, i)...)
	}
	return traj
}

// Times extracts the segment durations of a variable vector, or nil when time is not free.
func (p *TrajectoryProblem) Times(x []float64) []float64 {
	if !p.UseTime {
		return nil
	}
	return append([]float64(nil), x[p.TimeVar(0):p.TimeVar(p.NumSteps-1)]...)
}

// CostNames returns the names of the bound costs, in evaluation order.
func (p *TrajectoryProblem) CostNames() []string {
	return lo.Map(p.opt.Costs(), func(t *sco.Term, _ int) string { return t.Name })
}

// ConstraintNames returns the names of the bound constraints, in evaluation order.
func (p *TrajectoryProblem) ConstraintNames() []string {
	return lo.Map(p.opt.Constraints(), func(t *sco.Term, _ int) string { return t.Name })
}

// step is a view of the joint values at step i. Callers must not modify it.
func (p *TrajectoryProblem) step(x []float64, i int) []float64 {
	return x[p.JointVar(i, 0):p.JointVar(i+1, 0)]
}

// dt is the duration of segment seg, or 1 when time is not free.
func (p *TrajectoryProblem) dt(x []float64, seg int) float64 {
	if !p.UseTime {
		return 1
	}
	return x[p.TimeVar(seg)]
}

// jointColumn lists the variables of joint j over [first, last].
func (p *TrajectoryProblem) jointColumn(first, last, j int) []int {
	vars := make([]int, 0, last-first+1)
	for i := first; i <= last; i++ {
		vars = append(vars, p.JointVar(i, j))
	}
	return vars
}

// stepVars lists every joint variable over [first, last], and the durations between them when time is free.
func (p *TrajectoryProblem) stepVars(first, last int, withTime bool) []int {
	vars := make([]int, 0, (last-first+1)*(p.DoF+1))
	for i := first; i <= last; i++ {
		for j := 0; j < p.DoF; j++ {
			vars = append(vars, p.JointVar(i, j))
		}
	}
	return append(vars, p.timeVars(first, last, withTime)...)
}

func (p *TrajectoryProblem) timeVars(first, last int, withTime bool) []int {
	if !withTime || !p.UseTime {
		return nil
	}
	vars := make([]int, 0, last-first)
	for seg := first; seg < last; seg++ {
		vars = append(vars, p.TimeVar(seg))
	}
	return vars
}
