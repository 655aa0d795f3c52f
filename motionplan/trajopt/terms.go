package trajopt

import (
	"fmt"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"github.com/viam-labs/trajopt/motionplan/sco"
	"github.com/viam-labs/trajopt/spatialmath"
)

// TermKind says whether a term enters the objective or defines the feasible set.
type TermKind int

// The two kinds of terms.
const (
	KindCost TermKind = iota
	KindConstraint
)

func (k TermKind) String() string {
	switch k {
	case KindCost:
		return "cost"
	case KindConstraint:
		return "constraint"
	default:
		return fmt.Sprintf("TermKind(%d)", int(k))
	}
}

// TermDescriptor describes one cost or constraint before it is bound to a problem. The set of descriptors is closed:
// BuildProblem handles every implementation in this package and nothing else.
type TermDescriptor interface {
	TermName() string
	TermKind() TermKind
	// Validate checks the descriptor's step indices against a problem of numSteps steps.
	Validate(numSteps int) error
	isTermDescriptor()
}

// validateRange checks first <= last inside [0, numSteps-1] and that the range covers at least minSteps steps.
func validateRange(name string, first, last, numSteps, minSteps int) error {
	if first < 0 || last > numSteps-1 || first > last {
		return newStepRangeError(name, first, last, numSteps)
	}
	if last-first+1 < minSteps {
		return &InvalidRangeError{
			Term:   name,
			Field:  "step range",
			Reason: fmt.Sprintf("[%d, %d] covers fewer than the %d steps this term needs", first, last, minSteps),
		}
	}
	return nil
}

func validateStep(name string, step, numSteps int) error {
	if step < 0 || step > numSteps-1 {
		return &InvalidRangeError{Term: name, Field: "step", Reason: fmt.Sprintf("%d is outside [0, %d]", step, numSteps-1)}
	}
	return nil
}

// JointVelocityCost penalizes the velocity of one joint between consecutive steps of [FirstStep, LastStep]. With a
// hinge penalty, or as a constraint, only speeds above Limit count.
type JointVelocityCost struct {
	Name      string
	Kind      TermKind
	JointName string
	Coeffs    []float64
	FirstStep int
	LastStep  int
	Penalty   sco.PenaltyType
	Limit     float64
}

// TotalTimeCost penalizes the duration of the trajectory. With a hinge penalty, or as a constraint, only time above
// Limit counts. It needs free time variables.
type TotalTimeCost struct {
	Name    string
	Kind    TermKind
	Weight  float64
	Penalty sco.PenaltyType
	Limit   float64
}

// CollisionMargin is the clearance Distance a collision term asks for and the Coeff applied to any shortfall.
type CollisionMargin struct {
	Distance float64
	Coeff    float64
}

// CollisionCost penalizes every collision link whose clearance is under the margin. Margins holds one entry per step
// of [FirstStep, LastStep], or a single entry for all of them. Continuous terms check the motion from step i to
// step i+StepGap; a StepGap of zero means one.
type CollisionCost struct {
	Name       string
	Kind       TermKind
	Margins    []CollisionMargin
	Continuous bool
	FirstStep  int
	LastStep   int
	StepGap    int
}

// CartesianPoseConstraint pins a link to a pose at one step. Orientation is a unit quaternion. The pose is in the
// world frame, or in the frame of TargetLink at the same step when one is named. A non-nil TCP is a tool offset in the
// link's frame; the offset point is what gets pinned.
type CartesianPoseConstraint struct {
	Name           string
	Kind           TermKind
	Step           int
	LinkName       string
	TargetLink     string
	Position       r3.Vector
	Orientation    quat.Number
	TCP            spatialmath.Pose
	PositionCoeffs []float64
	RotationCoeffs []float64
}

// JointPositionTerm pulls every joint toward Values at one step.
type JointPositionTerm struct {
	Name   string
	Kind   TermKind
	Values []float64
	Coeffs []float64
	Step   int
}

// JointAccelerationCost penalizes the second difference of one joint over [FirstStep, LastStep].
type JointAccelerationCost struct {
	Name      string
	Kind      TermKind
	JointName string
	Coeffs    []float64
	FirstStep int
	LastStep  int
	Penalty   sco.PenaltyType
	Limit     float64
}

// JointJerkCost penalizes the third difference of one joint over [FirstStep, LastStep].
type JointJerkCost struct {
	Name      string
	Kind      TermKind
	JointName string
	Coeffs    []float64
	FirstStep int
	LastStep  int
	Penalty   sco.PenaltyType
	Limit     float64
}

// CartesianVelocityConstraint bounds how far a link moves along each world axis between consecutive steps.
type CartesianVelocityConstraint struct {
	Name            string
	Kind            TermKind
	LinkName        string
	MaxDisplacement float64
	FirstStep       int
	LastStep        int
}

// JointVelocityLimit bounds the speed of every joint between consecutive steps. Limits has one entry per joint, or a
// single entry for all of them.
type JointVelocityLimit struct {
	Name      string
	Kind      TermKind
	Limits    []float64
	FirstStep int
	LastStep  int
}

func (t *JointVelocityCost) TermName() string           { return t.Name }
func (t *TotalTimeCost) TermName() string               { return t.Name }
func (t *CollisionCost) TermName() string               { return t.Name }
func (t *CartesianPoseConstraint) TermName() string     { return t.Name }
func (t *JointPositionTerm) TermName() string           { return t.Name }
func (t *JointAccelerationCost) TermName() string       { return t.Name }
func (t *JointJerkCost) TermName() string               { return t.Name }
func (t *CartesianVelocityConstraint) TermName() string { return t.Name }
func (t *JointVelocityLimit) TermName() string          { return t.Name }

func (t *JointVelocityCost) TermKind() TermKind           { return t.Kind }
func (t *TotalTimeCost) TermKind() TermKind               { return t.Kind }
func (t *CollisionCost) TermKind() TermKind               { return t.Kind }
func (t *CartesianPoseConstraint) TermKind() TermKind     { return t.Kind }
func (t *JointPositionTerm) TermKind() TermKind           { return t.Kind }
func (t *JointAccelerationCost) TermKind() TermKind       { return t.Kind }
func (t *JointJerkCost) TermKind() TermKind               { return t.Kind }
func (t *CartesianVelocityConstraint) TermKind() TermKind { return t.Kind }
func (t *JointVelocityLimit) TermKind() TermKind          { return t.Kind }

func (*JointVelocityCost) isTermDescriptor()           {}
func (*TotalTimeCost) isTermDescriptor()               {}
func (*CollisionCost) isTermDescriptor()               {}
func (*CartesianPoseConstraint) isTermDescriptor()     {}
func (*JointPositionTerm) isTermDescriptor()           {}
func (*JointAccelerationCost) isTermDescriptor()       {}
func (*JointJerkCost) isTermDescriptor()               {}
func (*CartesianVelocityConstraint) isTermDescriptor() {}
func (*JointVelocityLimit) isTermDescriptor()          {}

// Validate requires at least two steps so there is a velocity to penalize.
func (t *JointVelocityCost) Validate(numSteps int) error {
	return validateRange(t.Name, t.FirstStep, t.LastStep, numSteps, 2)
}

// Validate has no steps to check.
func (t *TotalTimeCost) Validate(numSteps int) error {
	return nil
}

// Validate checks the step range, and for continuous terms that the gap fits inside it.
func (t *CollisionCost) Validate(numSteps int) error {
	if err := validateRange(t.Name, t.FirstStep, t.LastStep, numSteps, 1); err != nil {
		return err
	}
	if t.StepGap < 0 {
		return &InvalidRangeError{Term: t.Name, Field: "step gap", Reason: fmt.Sprintf("%d is negative", t.StepGap)}
	}
	if t.Continuous && t.FirstStep+t.stepGap() > t.LastStep {
		return &InvalidRangeError{
			Term:   t.Name,
			Field:  "step gap",
			Reason: fmt.Sprintf("gap %d does not fit in [%d, %d]", t.stepGap(), t.FirstStep, t.LastStep),
		}
	}
	return nil
}

func (t *CollisionCost) stepGap() int {
	if t.StepGap == 0 {
		return 1
	}
	return t.StepGap
}

// Validate checks the step.
func (t *CartesianPoseConstraint) Validate(numSteps int) error {
	return validateStep(t.Name, t.Step, numSteps)
}

// Validate checks the step.
func (t *JointPositionTerm) Validate(numSteps int) error {
	return validateStep(t.Name, t.Step, numSteps)
}

// Validate requires three steps for a second difference.
func (t *JointAccelerationCost) Validate(numSteps int) error {
	return validateRange(t.Name, t.FirstStep, t.LastStep, numSteps, 3)
}

// Validate requires four steps for a third difference.
func (t *JointJerkCost) Validate(numSteps int) error {
	return validateRange(t.Name, t.FirstStep, t.LastStep, numSteps, 4)
}

// Validate requires two steps for a displacement.
func (t *CartesianVelocityConstraint) Validate(numSteps int) error {
	return validateRange(t.Name, t.FirstStep, t.LastStep, numSteps, 2)
}

// Validate requires two steps for a velocity.
func (t *JointVelocityLimit) Validate(numSteps int) error {
	return validateRange(t.Name, t.FirstStep, t.LastStep, numSteps, 2)
}
