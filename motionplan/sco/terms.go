package sco

import (
	"fmt"
	"math"

	"github.com/pkg/errors"

	"github.com/viam-labs/trajopt/utils"
)

// PenaltyType turns an error component into its contribution to the objective.
type PenaltyType int

// The supported penalties. As constraints, Squared and Abs terms are equalities (e = 0) and Hinge terms are
// inequalities (e <= 0); the violation of either is measured as |e| or max(0, e).
const (
	Squared PenaltyType = iota
	Abs
	Hinge
)

func (p PenaltyType) String() string {
	switch p {
	case Squared:
		return "squared"
	case Abs:
		return "abs"
	case Hinge:
		return "hinge"
	default:
		return fmt.Sprintf("PenaltyType(%d)", int(p))
	}
}

// apply returns the penalty of a single error component.
func (p PenaltyType) apply(e float64) float64 {
	switch p {
	case Squared:
		return e * e
	case Abs:
		return math.Abs(e)
	case Hinge:
		return utils.Hinge(e)
	default:
		return math.NaN()
	}
}

// violation is how far a constraint component is from being satisfied.
func (p PenaltyType) violation(e float64) float64 {
	if p == Hinge {
		return utils.Hinge(e)
	}
	return math.Abs(e)
}

// ErrFunc computes an error vector from the full variable vector. It must always return the same number of
// components and must be safe to call concurrently.
type ErrFunc func(x []float64) ([]float64, error)

// Term is a vector error function weighted per component. It is a cost when added with Problem.AddCost and a
// constraint when added with Problem.AddConstraint.
type Term struct {
	Name    string
	Penalty PenaltyType
	// Coeffs weights each error component. A single coefficient applies to every component.
	Coeffs []float64
	// Vars lists the variables Err depends on. Only these are perturbed when linearizing.
	Vars []int
	Err  ErrFunc
	// Step is the finite difference step for this term's jacobian. Zero uses the default.
	Step float64
}

func (t *Term) coeff(i int) float64 {
	if len(t.Coeffs) == 1 {
		return t.Coeffs[0]
	}
	return t.Coeffs[i]
}

func (t *Term) eval(x []float64) ([]float64, error) {
	errs, err := t.Err(x)
	if err != nil {
		return nil, errors.Wrapf(err, "evaluating %q", t.Name)
	}
	if len(t.Coeffs) != 1 && len(t.Coeffs) != len(errs) {
		return nil, utils.NewLengthMismatchError(fmt.Sprintf("coefficients for %q", t.Name), len(errs), len(t.Coeffs))
	}
	return errs, nil
}

// Value is the weighted penalty of the term at x.
func (t *Term) Value(x []float64) (float64, error) {
	errs, err := t.eval(x)
	if err != nil {
		return 0, err
	}
	return t.valueOf(errs), nil
}

// Violation is the weighted constraint violation of the term at x.
func (t *Term) Violation(x []float64) (float64, error) {
	errs, err := t.eval(x)
	if err != nil {
		return 0, err
	}
	return t.violationOf(errs), nil
}

func (t *Term) valueOf(errs []float64) float64 {
	total := 0.
	for i, e := range errs {
		total += t.coeff(i) * t.Penalty.apply(e)
	}
	return total
}

func (t *Term) violationOf(errs []float64) float64 {
	total := 0.
	for i, e := range errs {
		total += t.coeff(i) * t.Penalty.violation(e)
	}
	return total
}

// Problem is a set of costs and constraints over bounded variables.
type Problem struct {
	lower       []float64
	upper       []float64
	costs       []*Term
	constraints []*Term
}

// NewProblem returns a problem over len(lower) variables. Infinite bounds are allowed.
func NewProblem(lower, upper []float64) (*Problem, error) {
	if len(lower) != len(upper) {
		return nil, utils.NewLengthMismatchError("upper bounds", len(lower), len(upper))
	}
	if len(lower) == 0 {
		return nil, errors.New("problem has no variables")
	}
	for i := range lower {
		if lower[i] > upper[i] {
			return nil, errors.Errorf("variable %d has lower bound %f above upper bound %f", i, lower[i], upper[i])
		}
	}
	return &Problem{
		lower: append([]float64(nil), lower...),
		upper: append([]float64(nil), upper...),
	}, nil
}

// NumVars returns the number of variables.
func (p *Problem) NumVars() int {
	return len(p.lower)
}

// Bounds returns copies of the variable bounds.
func (p *Problem) Bounds() ([]float64, []float64) {
	return append([]float64(nil), p.lower...), append([]float64(nil), p.upper...)
}

// Costs returns the cost terms in the order they were added.
func (p *Problem) Costs() []*Term {
	return p.costs
}

// Constraints returns the constraint terms in the order they were added.
func (p *Problem) Constraints() []*Term {
	return p.constraints
}

// AddCost adds a term to the objective.
func (p *Problem) AddCost(t *Term) error {
	if err := p.checkTerm(t); err != nil {
		return err
	}
	p.costs = append(p.costs, t)
	return nil
}

// AddConstraint adds a term to the feasible set definition.
func (p *Problem) AddConstraint(t *Term) error {
	if err := p.checkTerm(t); err != nil {
		return err
	}
	p.constraints = append(p.constraints, t)
	return nil
}

func (p *Problem) checkTerm(t *Term) error {
	if t == nil || t.Err == nil {
		return errors.New("term has no error function")
	}
	if len(t.Coeffs) == 0 {
		return errors.Errorf("term %q has no coefficients", t.Name)
	}
	if t.Penalty < Squared || t.Penalty > Hinge {
		return errors.Errorf("term %q has unknown penalty %s", t.Name, t.Penalty)
	}
	for _, v := range t.Vars {
		if v < 0 || v >= p.NumVars() {
			return errors.Errorf("term %q uses variable %d, problem has %d", t.Name, v, p.NumVars())
		}
	}
	return nil
}

// ClampToBounds returns a copy of x inside the variable bounds.
func (p *Problem) ClampToBounds(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = utils.Clamp(v, p.lower[i], p.upper[i])
	}
	return out
}
