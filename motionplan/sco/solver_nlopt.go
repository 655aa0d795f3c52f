//go:build !windows && !no_cgo

package sco

import (
	"context"
	"math"

	"github.com/go-nlopt/nlopt"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
)

const (
	nloptTolerance = 1e-10
	nloptMaxEval   = 2000
)

// NloptSolver solves a convex model with SLSQP. Absolute value and hinge rows become epigraph variables t with
// linear constraints a <= t (and -a <= t for absolute values), so the objective is smooth.
type NloptSolver struct {
	MaxEval int
}

// NewNloptSolver returns an SLSQP backed solver.
func NewNloptSolver() (*NloptSolver, error) {
	return &NloptSolver{MaxEval: nloptMaxEval}, nil
}

type nloptReturn struct {
	solution []float64
	err      error
}

// Solve returns the SLSQP solution, or the start when SLSQP could not improve on it.
func (s *NloptSolver) Solve(ctx context.Context, model *ConvexModel) ([]float64, error) {
	n := model.NumVars()
	if len(model.Start) != n || len(model.Upper) != n {
		return nil, errors.New("convex model start and bounds do not match its dimension")
	}
	start := append([]float64(nil), model.Start...)
	model.project(start)

	// slack[i] is the epigraph variable of row i, or -1 for squared rows.
	slack := make([]int, len(model.Rows))
	dim := n
	for i, row := range model.Rows {
		slack[i] = -1
		if row.Penalty != Squared {
			slack[i] = dim
			dim++
		}
	}

	opt, err := nlopt.NewNLopt(nlopt.LD_SLSQP, uint(dim))
	if err != nil {
		return nil, errors.Wrap(err, "nlopt creation error")
	}
	defer opt.Destroy()

	lower := make([]float64, dim)
	upper := make([]float64, dim)
	z0 := make([]float64, dim)
	copy(lower, model.Lower)
	copy(upper, model.Upper)
	copy(z0, start)
	for i, row := range model.Rows {
		if slack[i] < 0 {
			continue
		}
		upper[slack[i]] = math.Inf(1)
		a := row.Affine(start)
		if row.Penalty == Abs {
			a = math.Abs(a)
		}
		z0[slack[i]] = math.Max(a, 0) + nloptTolerance
	}

	objective := func(z, gradient []float64) float64 {
		if len(gradient) > 0 {
			for i := range gradient {
				gradient[i] = 0
			}
		}
		total := 0.
		for i := range model.Rows {
			row := &model.Rows[i]
			if slack[i] >= 0 {
				total += row.Weight * z[slack[i]]
				if len(gradient) > 0 {
					gradient[slack[i]] += row.Weight
				}
				continue
			}
			a := row.Affine(z)
			total += row.Weight * a * a
			if len(gradient) > 0 {
				for k, idx := range row.Vars {
					gradient[idx] += 2 * row.Weight * a * row.Coeffs[k]
				}
			}
		}
		return total
	}

	err = multierr.Combine(
		opt.SetFtolRel(nloptTolerance),
		opt.SetFtolAbs(nloptTolerance),
		opt.SetXtolRel(nloptTolerance),
		opt.SetLowerBounds(lower),
		opt.SetUpperBounds(upper),
		opt.SetMinObjective(objective),
		opt.SetMaxEval(s.MaxEval),
	)
	for i := range model.Rows {
		if slack[i] < 0 {
			continue
		}
		err = multierr.Combine(err, opt.AddInequalityConstraint(epigraphConstraint(&model.Rows[i], slack[i], 1), nloptTolerance))
		if model.Rows[i].Penalty == Abs {
			err = multierr.Combine(err, opt.AddInequalityConstraint(epigraphConstraint(&model.Rows[i], slack[i], -1), nloptTolerance))
		}
	}
	if err != nil {
		return nil, err
	}

	solveChan := make(chan nloptReturn, 1)
	utils.PanicCapturingGo(func() {
		solution, _, nloptErr := opt.Optimize(z0)
		solveChan <- nloptReturn{solution, nloptErr}
	})
	var solution nloptReturn
	select {
	case <-ctx.Done():
		err = opt.ForceStop()
		<-solveChan
		return nil, multierr.Combine(err, ctx.Err())
	case solution = <-solveChan:
	}

	if solution.err != nil {
		// SLSQP gives up with a roundoff error when the start is already optimal to machine precision
		if opt.LastStatus() == "ROUNDOFF_LIMITED" {
			return start, nil
		}
		return nil, errors.Wrap(solution.err, "nlopt found no solution")
	}
	if len(solution.solution) < n {
		return nil, errors.New("nlopt found no solution")
	}
	x := append([]float64(nil), solution.solution[:n]...)
	model.project(x)
	xVal := model.Value(x)
	if math.IsNaN(xVal) {
		return nil, errors.New("nlopt solution is not finite")
	}
	if xVal > model.Value(start) {
		return start, nil
	}
	return x, nil
}

// epigraphConstraint returns sign * a(x) - t <= 0.
func epigraphConstraint(row *AffineRow, slackIdx int, sign float64) nlopt.Func {
	return func(z, gradient []float64) float64 {
		if len(gradient) > 0 {
			for i := range gradient {
				gradient[i] = 0
			}
			for k, idx := range row.Vars {
				gradient[idx] += sign * row.Coeffs[k]
			}
			gradient[slackIdx] = -1
		}
		return sign*row.Affine(z) - z[slackIdx]
	}
}
