package sco

import (
	"math"

	"github.com/pkg/errors"
)

// AffineRow is the penalized affine function Weight * Penalty(Const + sum_k Coeffs[k] * x[Vars[k]]).
type AffineRow struct {
	Vars    []int
	Coeffs  []float64
	Const   float64
	Weight  float64
	Penalty PenaltyType
}

// Affine evaluates the inner affine expression.
func (r *AffineRow) Affine(x []float64) float64 {
	v := r.Const
	for k, idx := range r.Vars {
		v += r.Coeffs[k] * x[idx]
	}
	return v
}

// Value evaluates the penalized row.
func (r *AffineRow) Value(x []float64) float64 {
	return r.Weight * r.Penalty.apply(r.Affine(x))
}

// ConvexModel is the convex subproblem of one trust region step: minimize the sum of rows over the box.
type ConvexModel struct {
	Rows  []AffineRow
	Lower []float64
	Upper []float64
	// Start lies inside the box.
	Start []float64
}

// NumVars returns the dimension of the model.
func (m *ConvexModel) NumVars() int {
	return len(m.Lower)
}

// Value evaluates the model objective.
func (m *ConvexModel) Value(x []float64) float64 {
	total := 0.
	for i := range m.Rows {
		total += m.Rows[i].Value(x)
	}
	return total
}

// project clamps x into the box in place.
func (m *ConvexModel) project(x []float64) {
	for i := range x {
		x[i] = math.Max(m.Lower[i], math.Min(m.Upper[i], x[i]))
	}
}

// linearization holds a term's errors at a point and their jacobian with respect to the term's variables.
type linearization struct {
	term *Term
	at   []float64
	errs []float64
	// jac[i][k] is the derivative of error i with respect to variable vars[k].
	jac  [][]float64
	vars []int
}

// linearize computes the central difference jacobian of t about x.
func linearize(t *Term, x []float64) (*linearization, error) {
	errs, err := t.eval(x)
	if err != nil {
		return nil, err
	}
	vars := t.Vars
	if vars == nil {
		vars = make([]int, len(x))
		for i := range vars {
			vars[i] = i
		}
	}
	step := t.Step
	if step <= 0 {
		step = defaultJacobianStep
	}

	jac := make([][]float64, len(errs))
	for i := range jac {
		jac[i] = make([]float64, len(vars))
	}
	probe := append([]float64(nil), x...)
	for k, v := range vars {
		probe[v] = x[v] + step
		plus, err := t.eval(probe)
		if err != nil {
			return nil, err
		}
		probe[v] = x[v] - step
		minus, err := t.eval(probe)
		if err != nil {
			return nil, err
		}
		probe[v] = x[v]
		if len(plus) != len(errs) || len(minus) != len(errs) {
			return nil, errors.Errorf("term %q changed its error count while linearizing", t.Name)
		}
		for i := range errs {
			d := (plus[i] - minus[i]) / (2 * step)
			if math.IsNaN(d) || math.IsInf(d, 0) {
				return nil, errors.Errorf("term %q has a non-finite derivative for variable %d", t.Name, v)
			}
			jac[i][k] = d
		}
	}
	return &linearization{term: t, at: x, errs: errs, jac: jac, vars: vars}, nil
}

// rows turns the linearization into affine rows. Constraint rows are weighted by the merit coefficient and use the
// violation penalty.
func (l *linearization) rows(constraint bool, meritCoeff float64) []AffineRow {
	out := make([]AffineRow, 0, len(l.errs))
	for i, e := range l.errs {
		weight := l.term.coeff(i)
		penalty := l.term.Penalty
		if constraint {
			weight *= meritCoeff
			if penalty != Hinge {
				penalty = Abs
			}
		}
		if weight == 0 {
			continue
		}
		row := AffineRow{
			Vars:    l.vars,
			Coeffs:  l.jac[i],
			Const:   e,
			Weight:  weight,
			Penalty: penalty,
		}
		for k, v := range l.vars {
			row.Const -= l.jac[i][k] * l.at[v]
		}
		out = append(out, row)
	}
	return out
}
