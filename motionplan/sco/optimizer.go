package sco

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"github.com/viam-labs/trajopt/logging"
	"github.com/viam-labs/trajopt/utils"
)

// Status is how an optimization ended. None of them is an error; callers must inspect it.
type Status int

// The terminal states of TrustRegionSQP.
const (
	StatusConverged Status = iota
	StatusIterationLimit
	StatusInfeasible
)

func (s Status) String() string {
	switch s {
	case StatusConverged:
		return "CONVERGED"
	case StatusIterationLimit:
		return "ITERATION_LIMIT"
	case StatusInfeasible:
		return "INFEASIBLE"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// IterationEvent describes an accepted iterate.
type IterationEvent struct {
	Iteration    int
	X            []float64
	Merit        float64
	TrustBoxSize float64
	MeritCoeff   float64
}

// Observer receives every accepted iterate, on the optimizer goroutine, before the next linearization. Observers
// must not hold on to X past the call unless they copy it.
type Observer interface {
	OnIterationAccepted(event IterationEvent)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(event IterationEvent)

// OnIterationAccepted calls f.
func (f ObserverFunc) OnIterationAccepted(event IterationEvent) {
	f(event)
}

// StopFlag lets an observer, or anyone else, end an optimization early. It is checked before every linearization.
type StopFlag struct {
	stopped atomic.Bool
}

// Stop requests the optimizer to stop.
func (s *StopFlag) Stop() {
	s.stopped.Store(true)
}

// Stopped reports whether Stop was called.
func (s *StopFlag) Stopped() bool {
	return s != nil && s.stopped.Load()
}

// ConvexSolver minimizes a convex model inside its box.
type ConvexSolver interface {
	Solve(ctx context.Context, model *ConvexModel) ([]float64, error)
}

// Results is the outcome of TrustRegionSQP.Optimize.
type Results struct {
	X            []float64
	Status       Status
	Iterations   int
	Merit        float64
	MeritCoeff   float64
	TrustBoxSize float64
	// CostValues and ConstraintViolations are per term, in the order the terms were added.
	CostValues           []float64
	ConstraintViolations []float64
}

func (r *Results) update(x, costs, viols []float64) {
	r.X = x
	r.CostValues = costs
	r.ConstraintViolations = viols
	r.Merit = merit(costs, viols, r.MeritCoeff)
}

func merit(costs, viols []float64, meritCoeff float64) float64 {
	total := 0.
	for _, c := range costs {
		total += c
	}
	for _, v := range viols {
		total += meritCoeff * v
	}
	return total
}

// TrustRegionSQP minimizes the l1 merit sum(costs) + mu * sum(violations) by repeatedly solving convex models of
// the problem inside a trust box, raising mu while constraints stay violated.
type TrustRegionSQP struct {
	problem   *Problem
	solver    ConvexSolver
	params    Params
	logger    logging.Logger
	observers []Observer
	stop      *StopFlag
}

// NewTrustRegionSQP returns an optimizer for the problem.
func NewTrustRegionSQP(problem *Problem, solver ConvexSolver, params Params, logger logging.Logger) (*TrustRegionSQP, error) {
	if problem == nil {
		return nil, errors.New("no problem to optimize")
	}
	if solver == nil {
		return nil, errors.New("no convex solver")
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &TrustRegionSQP{problem: problem, solver: solver, params: params, logger: logger}, nil
}

// AddObserver registers an observer of accepted iterates.
func (opt *TrustRegionSQP) AddObserver(o Observer) {
	opt.observers = append(opt.observers, o)
}

// SetStopFlag registers a flag that ends the optimization before the next linearization once set.
func (opt *TrustRegionSQP) SetStopFlag(flag *StopFlag) {
	opt.stop = flag
}

// Optimize runs the trust region loop from x0, which is first clamped into the variable bounds. Non-converged
// outcomes are reported through Results.Status. A non-nil error means the problem could not be evaluated or the
// context ended; the partial results are still returned when there are any.
func (opt *TrustRegionSQP) Optimize(ctx context.Context, x0 []float64) (*Results, error) {
	ctx, span := trace.StartSpan(ctx, "sco::TrustRegionSQP::Optimize")
	defer span.End()

	if len(x0) != opt.problem.NumVars() {
		return nil, utils.NewLengthMismatchError("initial values", opt.problem.NumVars(), len(x0))
	}
	start := time.Now()
	params := opt.params
	res := &Results{MeritCoeff: params.InitialMeritErrorCoeff, TrustBoxSize: params.InitialTrustBoxSize}

	x := opt.problem.ClampToBounds(x0)
	costs, viols, err := opt.evaluate(ctx, x)
	if err != nil {
		return nil, err
	}
	res.update(x, costs, viols)
	failures := 0

	for meritIncreases := 0; ; meritIncreases++ {
		converged := false
		for !converged {
			if err := ctx.Err(); err != nil {
				res.Status = StatusIterationLimit
				return res, err
			}
			if stopped, why := opt.budgetSpent(res, start); stopped {
				opt.logger.Debugw("stopping", "reason", why, "iterations", res.Iterations, "merit", res.Merit)
				res.Status = StatusIterationLimit
				return res, nil
			}

			res.Iterations++
			lins, err := opt.linearize(ctx, res.X)
			if err != nil {
				return res, err
			}

			for {
				oldMerit := res.Merit
				model := opt.model(lins, res.X, res.MeritCoeff, res.TrustBoxSize)
				xNew, err := opt.solver.Solve(ctx, model)
				if err != nil {
					if ctx.Err() != nil {
						res.Status = StatusIterationLimit
						return res, ctx.Err()
					}
					failures++
					opt.logger.Warnw("convex solver failed", "error", err, "consecutive", failures)
					if failures >= maxConsecutiveSolverFailures {
						res.Status = StatusInfeasible
						return res, nil
					}
					res.TrustBoxSize *= params.TrustShrinkRatio
					if res.TrustBoxSize < params.MinTrustBoxSize {
						converged = true
						break
					}
					continue
				}
				failures = 0

				approxImprove := oldMerit - model.Value(xNew)
				if approxImprove < -1e-5 {
					opt.logger.Debugw("convex model got worse", "improvement", approxImprove)
				}
				if approxImprove < params.MinApproxImprove || approxImprove/oldMerit < params.MinApproxImproveFrac {
					opt.logger.Debugw("converged because improvement was small", "improvement", approxImprove)
					converged = true
					break
				}

				newCosts, newViols, err := opt.evaluate(ctx, xNew)
				if err != nil {
					return res, err
				}
				exactImprove := oldMerit - merit(newCosts, newViols, res.MeritCoeff)
				ratio := exactImprove / approxImprove
				opt.logger.Debugw("trust region step",
					"iteration", res.Iterations,
					"approx_improve", approxImprove,
					"exact_improve", exactImprove,
					"ratio", ratio,
					"trust_box", res.TrustBoxSize,
				)

				if exactImprove > 0 && ratio >= params.ImproveRatioThreshold {
					res.update(xNew, newCosts, newViols)
					res.TrustBoxSize *= params.TrustExpandRatio
					opt.notify(res)
					break
				}
				res.TrustBoxSize *= params.TrustShrinkRatio
				if res.TrustBoxSize < params.MinTrustBoxSize {
					opt.logger.Debugw("converged because trust region is tiny", "trust_box", res.TrustBoxSize)
					converged = true
					break
				}
			}
		}

		if opt.constraintsSatisfied(res.ConstraintViolations) {
			res.Status = StatusConverged
			return res, nil
		}
		if meritIncreases >= params.MaxMeritCoeffIncreases {
			opt.logger.Debugw("constraints still violated after raising the merit coefficient",
				"merit_coeff", res.MeritCoeff, "violations", res.ConstraintViolations)
			res.Status = StatusInfeasible
			return res, nil
		}
		res.MeritCoeff *= params.MeritCoeffIncreaseRatio
		res.TrustBoxSize = math.Max(res.TrustBoxSize, params.MinTrustBoxSize/params.TrustShrinkRatio*1.5)
		res.Merit = merit(res.CostValues, res.ConstraintViolations, res.MeritCoeff)
		opt.logger.Debugw("raising merit coefficient", "merit_coeff", res.MeritCoeff)
	}
}

// budgetSpent reports whether the iteration, time, or caller budget is used up.
func (opt *TrustRegionSQP) budgetSpent(res *Results, start time.Time) (bool, string) {
	switch {
	case opt.stop.Stopped():
		return true, "stop requested"
	case res.Iterations >= opt.params.MaxIter:
		return true, "iteration limit"
	case opt.params.MaxTime > 0 && time.Since(start) > opt.params.MaxTime:
		return true, "time limit"
	}
	return false, ""
}

func (opt *TrustRegionSQP) notify(res *Results) {
	for _, o := range opt.observers {
		o.OnIterationAccepted(IterationEvent{
			Iteration:    res.Iterations,
			X:            append([]float64(nil), res.X...),
			Merit:        res.Merit,
			TrustBoxSize: res.TrustBoxSize,
			MeritCoeff:   res.MeritCoeff,
		})
	}
}

func (opt *TrustRegionSQP) constraintsSatisfied(viols []float64) bool {
	for _, v := range viols {
		if v > opt.params.CntTolerance {
			return false
		}
	}
	return true
}

// evaluate computes every cost value and constraint violation at x. Terms are evaluated in parallel.
func (opt *TrustRegionSQP) evaluate(ctx context.Context, x []float64) ([]float64, []float64, error) {
	costs := make([]float64, len(opt.problem.costs))
	viols := make([]float64, len(opt.problem.constraints))
	nCosts := len(costs)
	err := utils.GroupWorkParallel(ctx, nCosts+len(viols), func(i int) error {
		var err error
		if i < nCosts {
			costs[i], err = opt.problem.costs[i].Value(x)
		} else {
			viols[i-nCosts], err = opt.problem.constraints[i-nCosts].Violation(x)
		}
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return costs, viols, nil
}

// linearize computes every term's jacobian at x in parallel. The results are only read after every worker is done.
func (opt *TrustRegionSQP) linearize(ctx context.Context, x []float64) ([]*linearization, error) {
	ctx, span := trace.StartSpan(ctx, "sco::linearize")
	defer span.End()

	terms := append(append([]*Term{}, opt.problem.costs...), opt.problem.constraints...)
	lins := make([]*linearization, len(terms))
	err := utils.GroupWorkParallel(ctx, len(terms), func(i int) error {
		var err error
		lins[i], err = linearize(terms[i], x)
		return err
	})
	if err != nil {
		return nil, err
	}
	return lins, nil
}

// model builds the convex model at x with the given merit coefficient, boxed by the trust region and the bounds.
func (opt *TrustRegionSQP) model(lins []*linearization, x []float64, meritCoeff, trustBox float64) *ConvexModel {
	n := opt.problem.NumVars()
	model := &ConvexModel{
		Lower: make([]float64, n),
		Upper: make([]float64, n),
		Start: append([]float64(nil), x...),
	}
	for i := 0; i < n; i++ {
		model.Lower[i] = math.Max(opt.problem.lower[i], x[i]-trustBox)
		model.Upper[i] = math.Min(opt.problem.upper[i], x[i]+trustBox)
	}
	nCosts := len(opt.problem.costs)
	for i, lin := range lins {
		model.Rows = append(model.Rows, lin.rows(i >= nCosts, meritCoeff)...)
	}
	return model
}

// NewDefaultSolver returns the SLSQP solver when this build has cgo and the gradient solver otherwise.
func NewDefaultSolver() ConvexSolver {
	if s, err := NewNloptSolver(); err == nil {
		return s
	}
	return NewGradientSolver()
}
