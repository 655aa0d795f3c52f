package sco

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// GradientSolver minimizes a convex model with accelerated projected gradient descent. Absolute value and hinge rows
// are replaced by Huber smoothings whose width shrinks phase by phase, each phase warm started from the last. It
// needs no cgo.
type GradientSolver struct {
	// MaxIter bounds the iterations of every smoothing phase.
	MaxIter int
	// Tolerance on the relative step length that ends a phase.
	Tolerance float64
	// Smoothing lists the Huber widths of the phases, widest first.
	Smoothing []float64
}

// NewGradientSolver returns a GradientSolver with settings that suit trajectory sized problems.
func NewGradientSolver() *GradientSolver {
	return &GradientSolver{
		MaxIter:   500,
		Tolerance: 1e-10,
		Smoothing: []float64{1e-1, 1e-2, 1e-3, 1e-4, 1e-5, 1e-6},
	}
}

// Solve returns the best point found. It never returns a point with a higher model value than the start.
func (s *GradientSolver) Solve(ctx context.Context, model *ConvexModel) ([]float64, error) {
	n := model.NumVars()
	if len(model.Start) != n || len(model.Upper) != n {
		return nil, errors.New("convex model start and bounds do not match its dimension")
	}
	x := append([]float64(nil), model.Start...)
	model.project(x)
	best := append([]float64(nil), x...)
	bestVal := model.Value(x)
	if math.IsNaN(bestVal) {
		return nil, errors.New("convex model is not finite at its start")
	}

	lipschitz := 1.
	for _, delta := range s.Smoothing {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		x, lipschitz = s.phase(model, x, delta, lipschitz)
		if v := model.Value(x); v < bestVal {
			bestVal = v
			copy(best, x)
		}
	}
	return best, nil
}

// phase runs FISTA with backtracking and adaptive restart on the model smoothed with width delta.
func (s *GradientSolver) phase(model *ConvexModel, x0 []float64, delta, lipschitz float64) ([]float64, float64) {
	n := len(x0)
	x := append([]float64(nil), x0...)
	y := append([]float64(nil), x0...)
	z := make([]float64, n)
	grad := make([]float64, n)
	diff := make([]float64, n)
	fx := smoothedValue(model, x, delta, nil)
	t := 1.

	for iter := 0; iter < s.MaxIter; iter++ {
		fy := smoothedValue(model, y, delta, grad)
		var fz float64
		for {
			for i := range z {
				z[i] = y[i] - grad[i]/lipschitz
			}
			model.project(z)
			fz = smoothedValue(model, z, delta, nil)
			floats.SubTo(diff, z, y)
			bound := fy + floats.Dot(grad, diff) + lipschitz/2*floats.Dot(diff, diff)
			if fz <= bound+1e-12*math.Abs(bound) || lipschitz > 1e30 {
				break
			}
			lipschitz *= 2
		}

		floats.SubTo(diff, z, x)
		stepLen := floats.Norm(diff, 2)
		tNext := (1 + math.Sqrt(1+4*t*t)) / 2
		if fz > fx {
			// restart momentum
			tNext = 1
			copy(y, x)
		} else {
			for i := range y {
				y[i] = z[i] + (t-1)/tNext*diff[i]
			}
			copy(x, z)
			fx = fz
		}
		t = tNext
		if stepLen <= s.Tolerance*(1+floats.Norm(x, 2)) {
			break
		}
		lipschitz *= .9
	}
	return x, lipschitz
}

// smoothedValue evaluates the Huber smoothed model at x. When grad is non-nil it is overwritten with the gradient.
func smoothedValue(model *ConvexModel, x []float64, delta float64, grad []float64) float64 {
	if grad != nil {
		for i := range grad {
			grad[i] = 0
		}
	}
	total := 0.
	for i := range model.Rows {
		row := &model.Rows[i]
		a := row.Affine(x)
		val, slope := huber(row.Penalty, a, delta)
		total += row.Weight * val
		if grad != nil && slope != 0 {
			for k, idx := range row.Vars {
				grad[idx] += row.Weight * slope * row.Coeffs[k]
			}
		}
	}
	return total
}

// huber returns the smoothed penalty of a and its derivative.
func huber(p PenaltyType, a, delta float64) (float64, float64) {
	switch p {
	case Squared:
		return a * a, 2 * a
	case Abs:
		if math.Abs(a) <= delta {
			return a * a / (2 * delta), a / delta
		}
		return math.Abs(a) - delta/2, math.Copysign(1, a)
	case Hinge:
		switch {
		case a <= 0:
			return 0, 0
		case a <= delta:
			return a * a / (2 * delta), a / delta
		default:
			return a - delta/2, 1
		}
	default:
		return math.NaN(), 0
	}
}
