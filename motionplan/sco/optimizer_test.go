package sco

import (
	"context"
	"errors"
	"math"
	"testing"

	"go.viam.com/test"

	"github.com/viam-labs/trajopt/logging"
)

func newTestProblem(t *testing.T, n int, bound float64) *Problem {
	t.Helper()
	lower := make([]float64, n)
	upper := make([]float64, n)
	for i := range lower {
		lower[i] = -bound
		upper[i] = bound
	}
	p, err := NewProblem(lower, upper)
	test.That(t, err, test.ShouldBeNil)
	return p
}

func newTestOptimizer(t *testing.T, p *Problem, params Params) *TrustRegionSQP {
	t.Helper()
	opt, err := NewTrustRegionSQP(p, NewGradientSolver(), params, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return opt
}

func TestPenalties(t *testing.T) {
	test.That(t, Squared.apply(-3), test.ShouldEqual, 9)
	test.That(t, Abs.apply(-3), test.ShouldEqual, 3)
	test.That(t, Hinge.apply(-3), test.ShouldEqual, 0)
	test.That(t, Hinge.apply(2), test.ShouldEqual, 2)
	test.That(t, Squared.violation(-3), test.ShouldEqual, 3)
	test.That(t, Hinge.violation(-3), test.ShouldEqual, 0)

	term := &Term{Name: "broadcast", Penalty: Squared, Coeffs: []float64{2}, Err: func(x []float64) ([]float64, error) {
		return []float64{1, 2}, nil
	}}
	v, err := term.Value([]float64{0})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, 10)

	term.Coeffs = []float64{1, 2, 3}
	_, err = term.Value([]float64{0})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestProblemValidation(t *testing.T) {
	_, err := NewProblem([]float64{1}, []float64{0})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewProblem([]float64{1}, []float64{1, 2})
	test.That(t, err, test.ShouldNotBeNil)

	p := newTestProblem(t, 2, 1)
	errFunc := func(x []float64) ([]float64, error) { return []float64{x[0]}, nil }
	test.That(t, p.AddCost(&Term{Name: "oob", Coeffs: []float64{1}, Vars: []int{2}, Err: errFunc}), test.ShouldNotBeNil)
	test.That(t, p.AddCost(&Term{Name: "nocoeffs", Vars: []int{0}, Err: errFunc}), test.ShouldNotBeNil)
	test.That(t, p.AddConstraint(&Term{Name: "ok", Coeffs: []float64{1}, Vars: []int{0}, Err: errFunc}), test.ShouldBeNil)
	test.That(t, len(p.Constraints()), test.ShouldEqual, 1)
	test.That(t, p.ClampToBounds([]float64{3, -3}), test.ShouldResemble, []float64{1, -1})

	params := NewParams()
	params.TrustShrinkRatio = 2
	_, err = NewTrustRegionSQP(p, NewGradientSolver(), params, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestLinearize(t *testing.T) {
	term := &Term{
		Name:    "quadratic",
		Penalty: Squared,
		Coeffs:  []float64{1},
		Vars:    []int{0, 2},
		Err: func(x []float64) ([]float64, error) {
			return []float64{x[0] * x[0], 3*x[2] - x[0]}, nil
		},
	}
	x := []float64{2, 5, -1}
	lin, err := linearize(term, x)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, lin.jac[0][0], test.ShouldAlmostEqual, 4, 1e-6)
	test.That(t, lin.jac[0][1], test.ShouldAlmostEqual, 0, 1e-6)
	test.That(t, lin.jac[1][0], test.ShouldAlmostEqual, -1, 1e-6)
	test.That(t, lin.jac[1][1], test.ShouldAlmostEqual, 3, 1e-6)

	// the affine rows reproduce the errors at the linearization point
	for i, row := range lin.rows(false, 1) {
		test.That(t, row.Affine(x), test.ShouldAlmostEqual, lin.errs[i], 1e-9)
	}
	cnt := lin.rows(true, 10)
	test.That(t, cnt[0].Penalty, test.ShouldEqual, Abs)
	test.That(t, cnt[0].Weight, test.ShouldEqual, 10)
}

func TestConstrainedQuadratic(t *testing.T) {
	p := newTestProblem(t, 2, 5)
	test.That(t, p.AddCost(&Term{
		Name: "norm", Penalty: Squared, Coeffs: []float64{1},
		Err: func(x []float64) ([]float64, error) { return []float64{x[0], x[1]}, nil },
	}), test.ShouldBeNil)
	test.That(t, p.AddConstraint(&Term{
		Name: "sum", Penalty: Abs, Coeffs: []float64{1},
		Err: func(x []float64) ([]float64, error) { return []float64{x[0] + x[1] - 1}, nil },
	}), test.ShouldBeNil)

	res, err := newTestOptimizer(t, p, NewParams()).Optimize(context.Background(), []float64{0, 0})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Status, test.ShouldEqual, StatusConverged)
	test.That(t, res.X[0], test.ShouldAlmostEqual, .5, 1e-2)
	test.That(t, res.X[1], test.ShouldAlmostEqual, .5, 1e-2)
	test.That(t, res.ConstraintViolations[0], test.ShouldBeLessThanOrEqualTo, 1e-4)
	test.That(t, len(res.CostValues), test.ShouldEqual, 1)
}

func TestMeritNeverIncreases(t *testing.T) {
	p := newTestProblem(t, 2, 5)
	test.That(t, p.AddCost(&Term{
		Name: "rosenbrock", Penalty: Squared, Coeffs: []float64{1},
		Err: func(x []float64) ([]float64, error) { return []float64{10 * (x[1] - x[0]*x[0]), 1 - x[0]}, nil },
	}), test.ShouldBeNil)
	test.That(t, p.AddConstraint(&Term{
		Name: "disk", Penalty: Hinge, Coeffs: []float64{1},
		Err: func(x []float64) ([]float64, error) { return []float64{x[0]*x[0] + x[1]*x[1] - 2}, nil },
	}), test.ShouldBeNil)

	opt := newTestOptimizer(t, p, NewParams())
	events := []IterationEvent{}
	opt.AddObserver(ObserverFunc(func(e IterationEvent) { events = append(events, e) }))
	res, err := opt.Optimize(context.Background(), []float64{-1.2, 1})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(events), test.ShouldBeGreaterThan, 0)
	for i := 1; i < len(events); i++ {
		test.That(t, events[i].Iteration, test.ShouldBeGreaterThan, events[i-1].Iteration)
		if events[i].MeritCoeff == events[i-1].MeritCoeff {
			test.That(t, events[i].Merit, test.ShouldBeLessThanOrEqualTo, events[i-1].Merit)
		}
	}
	initial := 4.4*4.4 + 2.2*2.2
	test.That(t, res.Merit, test.ShouldBeLessThan, initial)
	test.That(t, res.Iterations, test.ShouldBeLessThanOrEqualTo, NewParams().MaxIter)
}

func TestInfeasibleConstraints(t *testing.T) {
	build := func() *Problem {
		p := newTestProblem(t, 1, 5)
		test.That(t, p.AddConstraint(&Term{
			Name: "above", Penalty: Hinge, Coeffs: []float64{1},
			Err: func(x []float64) ([]float64, error) { return []float64{1 - x[0]}, nil },
		}), test.ShouldBeNil)
		test.That(t, p.AddConstraint(&Term{
			Name: "below", Penalty: Hinge, Coeffs: []float64{1},
			Err: func(x []float64) ([]float64, error) { return []float64{x[0] + 1}, nil },
		}), test.ShouldBeNil)
		return p
	}

	t.Run("iteration cap of one", func(t *testing.T) {
		params := NewParams()
		params.MaxIter = 1
		res, err := newTestOptimizer(t, build(), params).Optimize(context.Background(), []float64{0})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, res.Status, test.ShouldNotEqual, StatusConverged)
		test.That(t, res.Iterations, test.ShouldEqual, 1)
	})

	t.Run("merit coefficient exhausted", func(t *testing.T) {
		params := NewParams()
		res, err := newTestOptimizer(t, build(), params).Optimize(context.Background(), []float64{0})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, res.Status, test.ShouldEqual, StatusInfeasible)
		test.That(t, res.MeritCoeff, test.ShouldAlmostEqual,
			params.InitialMeritErrorCoeff*math.Pow(params.MeritCoeffIncreaseRatio, float64(params.MaxMeritCoeffIncreases)))
	})
}

type failingSolver struct {
	calls int
}

func (s *failingSolver) Solve(ctx context.Context, model *ConvexModel) ([]float64, error) {
	s.calls++
	return nil, errors.New("no solution")
}

func TestRepeatedSolverFailure(t *testing.T) {
	p := newTestProblem(t, 1, 5)
	test.That(t, p.AddCost(&Term{
		Name: "target", Penalty: Squared, Coeffs: []float64{1},
		Err: func(x []float64) ([]float64, error) { return []float64{x[0] - 3}, nil },
	}), test.ShouldBeNil)
	solver := &failingSolver{}
	opt, err := NewTrustRegionSQP(p, solver, NewParams(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	res, err := opt.Optimize(context.Background(), []float64{0})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Status, test.ShouldEqual, StatusInfeasible)
	test.That(t, solver.calls, test.ShouldEqual, maxConsecutiveSolverFailures)
}

func TestStopFlag(t *testing.T) {
	p := newTestProblem(t, 1, 5)
	test.That(t, p.AddCost(&Term{
		Name: "target", Penalty: Squared, Coeffs: []float64{1},
		Err: func(x []float64) ([]float64, error) { return []float64{x[0] - 3}, nil },
	}), test.ShouldBeNil)

	opt := newTestOptimizer(t, p, NewParams())
	flag := &StopFlag{}
	opt.SetStopFlag(flag)
	events := 0
	opt.AddObserver(ObserverFunc(func(e IterationEvent) {
		events++
		flag.Stop()
	}))
	res, err := opt.Optimize(context.Background(), []float64{0})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, events, test.ShouldEqual, 1)
	test.That(t, res.Iterations, test.ShouldEqual, 1)
	test.That(t, res.Status, test.ShouldEqual, StatusIterationLimit)
	test.That(t, res.X[0], test.ShouldAlmostEqual, NewParams().InitialTrustBoxSize, 1e-6)
}

func TestCancelledContext(t *testing.T) {
	p := newTestProblem(t, 1, 5)
	test.That(t, p.AddCost(&Term{
		Name: "target", Penalty: Squared, Coeffs: []float64{1},
		Err: func(x []float64) ([]float64, error) { return []float64{x[0] - 3}, nil },
	}), test.ShouldBeNil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestOptimizer(t, p, NewParams()).Optimize(ctx, []float64{0})
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
}
