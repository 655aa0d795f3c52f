package trajopt

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/num/quat"

	"github.com/viam-labs/trajopt/collision"
	"github.com/viam-labs/trajopt/motionplan/sco"
	"github.com/viam-labs/trajopt/spatialmath"
)

// Finite difference stencils over consecutive steps.
var (
	velocityStencil     = []float64{-1, 1}
	accelerationStencil = []float64{1, -2, 1}
	jerkStencil         = []float64{-1, 3, -3, 1}
)

// bind turns a validated descriptor into sco terms over the problem variables.
func (p *TrajectoryProblem) bind(desc TermDescriptor) error {
	switch d := desc.(type) {
	case *JointVelocityCost:
		return p.bindDifference(nameOr(d.Name, "joint_vel_"+d.JointName), d.Kind, d.JointName, d.Coeffs,
			d.FirstStep, d.LastStep, d.Penalty, d.Limit, velocityStencil)
	case *JointAccelerationCost:
		return p.bindDifference(nameOr(d.Name, "joint_acc_"+d.JointName), d.Kind, d.JointName, d.Coeffs,
			d.FirstStep, d.LastStep, d.Penalty, d.Limit, accelerationStencil)
	case *JointJerkCost:
		return p.bindDifference(nameOr(d.Name, "joint_jerk_"+d.JointName), d.Kind, d.JointName, d.Coeffs,
			d.FirstStep, d.LastStep, d.Penalty, d.Limit, jerkStencil)
	case *TotalTimeCost:
		return p.bindTotalTime(d)
	case *CollisionCost:
		return p.bindCollision(d)
	case *CartesianPoseConstraint:
		return p.bindPose(d)
	case *JointPositionTerm:
		return p.bindJointPosition(d)
	case *CartesianVelocityConstraint:
		return p.bindCartesianVelocity(d)
	case *JointVelocityLimit:
		return p.bindVelocityLimit(d)
	default:
		return errors.Errorf("unsupported term type %T", desc)
	}
}

func (p *TrajectoryProblem) add(kind TermKind, t *sco.Term) error {
	switch kind {
	case KindCost:
		return p.opt.AddCost(t)
	case KindConstraint:
		return p.opt.AddConstraint(t)
	default:
		return &InvalidRangeError{Term: t.Name, Field: "kind", Reason: kind.String()}
	}
}

func nameOr(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}

// expandCoeffs returns n coefficients: all ones when none are given, the single value repeated, or the n given.
func expandCoeffs(term, field string, coeffs []float64, n int) ([]float64, error) {
	out := make([]float64, n)
	switch len(coeffs) {
	case 0:
		for i := range out {
			out[i] = 1
		}
	case 1:
		for i := range out {
			out[i] = coeffs[0]
		}
	case n:
		copy(out, coeffs)
	default:
		return nil, &InvalidRangeError{Term: term, Field: field, Reason: fmt.Sprintf("has %d values, want 1 or %d", len(coeffs), n)}
	}
	for _, c := range out {
		if c < 0 || math.IsNaN(c) {
			return nil, &InvalidRangeError{Term: term, Field: field, Reason: fmt.Sprintf("must be nonnegative, got %g", c)}
		}
	}
	return out, nil
}

// hingePairs duplicates every coefficient for the two sided errors of a limited quantity.
func hingePairs(coeffs []float64) []float64 {
	out := make([]float64, 0, 2*len(coeffs))
	for _, c := range coeffs {
		out = append(out, c, c)
	}
	return out
}

func (p *TrajectoryProblem) jointIndex(term, joint string) (int, error) {
	j := lo.IndexOf(p.JointNames, joint)
	if j < 0 {
		return 0, errors.Errorf("term %q names unknown joint %q, have %v", term, joint, p.JointNames)
	}
	return j, nil
}

func (p *TrajectoryProblem) checkLink(term, link string) error {
	poses, err := p.kin.LinkPoses(p.initTraj[0])
	if err != nil {
		return err
	}
	if _, ok := poses[link]; !ok {
		return errors.Errorf("term %q names unknown link %q", term, link)
	}
	return nil
}

// bindDifference binds a finite difference of one joint. Velocities are divided by the segment duration when time
// is free; higher differences are taken per step. A hinge penalty, or any constraint, bounds the magnitude by limit.
func (p *TrajectoryProblem) bindDifference(
	name string, kind TermKind, joint string, coeffs []float64,
	first, last int, penalty sco.PenaltyType, limit float64, stencil []float64,
) error {
	j, err := p.jointIndex(name, joint)
	if err != nil {
		return err
	}
	count := last - first + 2 - len(stencil)
	expanded, err := expandCoeffs(name, "coeffs", coeffs, count)
	if err != nil {
		return err
	}
	timed := len(stencil) == 2
	limited := penalty == sco.Hinge || kind == KindConstraint
	if limited {
		expanded = hingePairs(expanded)
		penalty = sco.Hinge
	}
	vars := p.jointColumn(first, last, j)
	if timed {
		vars = append(vars, p.timeVars(first, last, true)...)
	}

	return p.add(kind, &sco.Term{
		Name:    name,
		Penalty: penalty,
		Coeffs:  expanded,
		Vars:    vars,
		Err: func(x []float64) ([]float64, error) {
			out := make([]float64, 0, len(expanded))
			for i := first; i < first+count; i++ {
				v := 0.
				for k, s := range stencil {
					v += s * x[p.JointVar(i+k, j)]
				}
				if timed {
					v /= p.dt(x, i)
				}
				if limited {
					out = append(out, v-limit, -v-limit)
				} else {
					out = append(out, v)
				}
			}
			return out, nil
		},
	})
}

func (p *TrajectoryProblem) bindTotalTime(d *TotalTimeCost) error {
	name := nameOr(d.Name, "total_time")
	if !p.UseTime {
		return &InvalidRangeError{Term: name, Field: "use_time", Reason: "total time needs free time variables"}
	}
	weight, err := expandCoeffs(name, "weight", []float64{d.Weight}, 1)
	if err != nil {
		return err
	}
	vars := p.timeVars(0, p.NumSteps-1, true)
	return p.add(d.Kind, &sco.Term{
		Name:    name,
		Penalty: d.Penalty,
		Coeffs:  weight,
		Vars:    vars,
		Err: func(x []float64) ([]float64, error) {
			total := 0.
			for _, v := range vars {
				total += x[v]
			}
			return []float64{total - d.Limit}, nil
		},
	})
}

// bindCollision adds one hinge term per checked step, or per checked motion when continuous. Each error is the
// shortfall of one collision link's clearance below the margin. Clearances beyond margin+1 are cut off so that far
// away and unobstructed links stay finite and flat.
func (p *TrajectoryProblem) bindCollision(d *CollisionCost) error {
	name := nameOr(d.Name, "collision")
	span := d.LastStep - d.FirstStep + 1
	if len(d.Margins) != 1 && len(d.Margins) != span {
		return &InvalidRangeError{Term: name, Field: "margins", Reason: fmt.Sprintf("has %d values, want 1 or %d", len(d.Margins), span)}
	}
	margin := func(i int) CollisionMargin {
		if len(d.Margins) == 1 {
			return d.Margins[0]
		}
		return d.Margins[i-d.FirstStep]
	}
	links := len(p.LinkNames)
	if links == 0 {
		return nil
	}

	gap := 0
	if d.Continuous {
		gap = d.stepGap()
	}
	for i := d.FirstStep; i+gap <= d.LastStep; i++ {
		i := i
		m := margin(i)
		if m.Coeff < 0 {
			return &InvalidRangeError{Term: name, Field: "coeffs", Reason: fmt.Sprintf("%g is negative", m.Coeff)}
		}
		vars := p.stepVars(i, i, false)
		if gap > 0 {
			vars = append(vars, p.stepVars(i+gap, i+gap, false)...)
		}
		err := p.add(d.Kind, &sco.Term{
			Name:    fmt.Sprintf("%s_%d", name, i),
			Penalty: sco.Hinge,
			Coeffs:  []float64{m.Coeff},
			Vars:    vars,
			Err: func(x []float64) ([]float64, error) {
				var clearances []collision.Clearance
				var err error
				if gap > 0 {
					clearances, err = p.env.SweptLinkClearances(p.Manipulator, p.step(x, i), p.step(x, i+gap))
				} else {
					clearances, err = p.env.LinkClearances(p.Manipulator, p.step(x, i))
				}
				if err != nil {
					return nil, err
				}
				if len(clearances) != links {
					return nil, errors.Errorf("expected clearances for %d links, got %d", links, len(clearances))
				}
				out := make([]float64, links)
				for k, c := range clearances {
					out[k] = m.Distance - math.Min(c.Distance, m.Distance+1)
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

// bindPose adds the six errors between a link's pose, offset by its tool point, and the goal: the position
// difference, then the rotation from the goal to the link as an axis-angle vector. Both are taken in the target
// link's frame when one is named.
func (p *TrajectoryProblem) bindPose(d *CartesianPoseConstraint) error {
	name := nameOr(d.Name, fmt.Sprintf("pose_%d", d.Step))
	if err := p.checkLink(name, d.LinkName); err != nil {
		return err
	}
	if d.TargetLink != "" {
		if err := p.checkLink(name, d.TargetLink); err != nil {
			return err
		}
		if d.TargetLink == d.LinkName {
			return &InvalidRangeError{Term: name, Field: "target", Reason: "is the constrained link itself"}
		}
	}
	if quat.Abs(d.Orientation) == 0 {
		return &InvalidRangeError{Term: name, Field: "orientation", Reason: "zero quaternion"}
	}
	posCoeffs, err := expandCoeffs(name, "pos_coeffs", d.PositionCoeffs, 3)
	if err != nil {
		return err
	}
	rotCoeffs, err := expandCoeffs(name, "rot_coeffs", d.RotationCoeffs, 3)
	if err != nil {
		return err
	}
	penalty := sco.Squared
	if d.Kind == KindConstraint {
		penalty = sco.Abs
	}
	goal := spatialmath.Normalize(d.Orientation)
	link, frame, position, tcp := d.LinkName, d.TargetLink, d.Position, d.TCP

	return p.add(d.Kind, &sco.Term{
		Name:    name,
		Penalty: penalty,
		Coeffs:  append(posCoeffs, rotCoeffs...),
		Vars:    p.stepVars(d.Step, d.Step, false),
		Err: func(x []float64) ([]float64, error) {
			poses, err := p.kin.LinkPoses(p.step(x, d.Step))
			if err != nil {
				return nil, err
			}
			pose, ok := poses[link]
			if !ok {
				return nil, errors.Errorf("no pose for link %q", link)
			}
			if tcp != nil {
				pose = spatialmath.Compose(pose, tcp)
			}
			if frame != "" {
				reference, ok := poses[frame]
				if !ok {
					return nil, errors.Errorf("no pose for link %q", frame)
				}
				pose = spatialmath.PoseBetween(reference, pose)
			}
			dp := pose.Point().Sub(position)
			rel := quat.Mul(quat.Conj(goal), spatialmath.Normalize(pose.Orientation().Quaternion()))
			aa := spatialmath.QuatToR3AA(rel)
			return []float64{dp.X, dp.Y, dp.Z, aa.X, aa.Y, aa.Z}, nil
		},
	})
}

func (p *TrajectoryProblem) bindJointPosition(d *JointPositionTerm) error {
	name := nameOr(d.Name, fmt.Sprintf("joint_pos_%d", d.Step))
	if len(d.Values) != p.DoF {
		return &InvalidRangeError{Term: name, Field: "vals", Reason: fmt.Sprintf("has %d values for %d joints", len(d.Values), p.DoF)}
	}
	coeffs, err := expandCoeffs(name, "coeffs", d.Coeffs, p.DoF)
	if err != nil {
		return err
	}
	penalty := sco.Squared
	if d.Kind == KindConstraint {
		penalty = sco.Abs
	}
	values := append([]float64(nil), d.Values...)
	return p.add(d.Kind, &sco.Term{
		Name:    name,
		Penalty: penalty,
		Coeffs:  coeffs,
		Vars:    p.stepVars(d.Step, d.Step, false),
		Err: func(x []float64) ([]float64, error) {
			q := p.step(x, d.Step)
			out := make([]float64, len(q))
			for j := range q {
				out[j] = q[j] - values[j]
			}
			return out, nil
		},
	})
}

// bindCartesianVelocity bounds the per axis displacement of a link over every segment in range.
func (p *TrajectoryProblem) bindCartesianVelocity(d *CartesianVelocityConstraint) error {
	name := nameOr(d.Name, "cart_vel")
	if err := p.checkLink(name, d.LinkName); err != nil {
		return err
	}
	if d.MaxDisplacement < 0 {
		return &InvalidRangeError{Term: name, Field: "max_displacement", Reason: fmt.Sprintf("%g is negative", d.MaxDisplacement)}
	}
	limit := d.MaxDisplacement
	return p.add(d.Kind, &sco.Term{
		Name:    name,
		Penalty: sco.Hinge,
		Coeffs:  []float64{1},
		Vars:    p.stepVars(d.FirstStep, d.LastStep, false),
		Err: func(x []float64) ([]float64, error) {
			out := make([]float64, 0, 6*(d.LastStep-d.FirstStep))
			prev, err := p.linkPoint(x, d.FirstStep, d.LinkName)
			if err != nil {
				return nil, err
			}
			for i := d.FirstStep + 1; i <= d.LastStep; i++ {
				next, err := p.linkPoint(x, i, d.LinkName)
				if err != nil {
					return nil, err
				}
				delta := next.Sub(prev)
				for _, v := range []float64{delta.X, delta.Y, delta.Z} {
					out = append(out, v-limit, -v-limit)
				}
				prev = next
			}
			return out, nil
		},
	})
}

func (p *TrajectoryProblem) linkPoint(x []float64, step int, link string) (r3.Vector, error) {
	poses, err := p.kin.LinkPoses(p.step(x, step))
	if err != nil {
		return r3.Vector{}, err
	}
	pose, ok := poses[link]
	if !ok {
		return r3.Vector{}, errors.Errorf("no pose for link %q", link)
	}
	return pose.Point(), nil
}

func (p *TrajectoryProblem) bindVelocityLimit(d *JointVelocityLimit) error {
	name := nameOr(d.Name, "joint_vel_limit")
	limits, err := expandCoeffs(name, "limits", d.Limits, p.DoF)
	if err != nil {
		return err
	}
	if len(d.Limits) == 0 {
		return &InvalidRangeError{Term: name, Field: "limits", Reason: "none given"}
	}
	first, last := d.FirstStep, d.LastStep
	return p.add(d.Kind, &sco.Term{
		Name:    name,
		Penalty: sco.Hinge,
		Coeffs:  []float64{1},
		Vars:    p.stepVars(first, last, true),
		Err: func(x []float64) ([]float64, error) {
			out := make([]float64, 0, 2*p.DoF*(last-first))
			for i := first; i < last; i++ {
				dt := p.dt(x, i)
				for j, l := range limits {
					v := (x[p.JointVar(i+1, j)] - x[p.JointVar(i, j)]) / dt
					out = append(out, v-l, -v-l)
				}
			}
			return out, nil
		},
	})
}
