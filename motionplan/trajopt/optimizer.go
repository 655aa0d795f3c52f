package trajopt

import (
	"context"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"github.com/viam-labs/trajopt/logging"
	"github.com/viam-labs/trajopt/motionplan/sco"
)

// DefaultParams returns the optimizer settings used for trajectory problems. They converge sooner than the generic
// sco defaults and start with a heavier constraint penalty.
func DefaultParams() sco.Params {
	params := sco.NewParams()
	params.MaxIter = 40
	params.MinApproxImproveFrac = .001
	params.ImproveRatioThreshold = .2
	params.InitialMeritErrorCoeff = 20
	return params
}

// TermValue is the value of one bound term: a cost, or the violation of a constraint.
type TermValue struct {
	Name  string
	Value float64
}

// OptimizationResult is the outcome of Optimize. A non-converged status is not an error.
type OptimizationResult struct {
	Trajectory [][]float64
	// Times holds the segment durations when time is free.
	Times                []float64
	Status               sco.Status
	Iterations           int
	Merit                float64
	CostValues           []TermValue
	ConstraintViolations []TermValue
}

// TrajectorySnapshot is an accepted iterate, laid out as a trajectory.
type TrajectorySnapshot struct {
	Iteration  int
	Trajectory [][]float64
	Times      []float64
	Merit      float64
}

type optimizeOptions struct {
	params       sco.Params
	solver       sco.ConvexSolver
	logger       logging.Logger
	observers    []sco.Observer
	snapshots    []func(TrajectorySnapshot)
	stop         *sco.StopFlag
	initialTraj  [][]float64
	initialTimes []float64
}

// OptimizeOption configures Optimize.
type OptimizeOption func(*optimizeOptions)

// WithParams replaces DefaultParams.
func WithParams(params sco.Params) OptimizeOption {
	return func(o *optimizeOptions) { o.params = params }
}

// WithSolver sets the convex subproblem solver. The default is sco.NewDefaultSolver.
func WithSolver(solver sco.ConvexSolver) OptimizeOption {
	return func(o *optimizeOptions) { o.solver = solver }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger logging.Logger) OptimizeOption {
	return func(o *optimizeOptions) { o.logger = logger }
}

// WithObserver registers an observer of accepted iterates.
func WithObserver(observer sco.Observer) OptimizeOption {
	return func(o *optimizeOptions) { o.observers = append(o.observers, observer) }
}

// WithTrajectoryObserver registers a callback receiving every accepted iterate as a trajectory.
func WithTrajectoryObserver(fn func(TrajectorySnapshot)) OptimizeOption {
	return func(o *optimizeOptions) { o.snapshots = append(o.snapshots, fn) }
}

// WithStopFlag lets the caller end the optimization before its next linearization.
func WithStopFlag(flag *sco.StopFlag) OptimizeOption {
	return func(o *optimizeOptions) { o.stop = flag }
}

// WithInitialGuess starts from the given trajectory instead of the problem's seed. times is ignored unless time is
// free, in which case it must have one entry per segment.
func WithInitialGuess(traj [][]float64, times []float64) OptimizeOption {
	return func(o *optimizeOptions) {
		o.initialTraj = traj
		o.initialTimes = times
	}
}

// Optimize runs trust region SQP on the problem. Observers are called synchronously, once per accepted iterate.
// The returned error is non-nil only when the problem could not be evaluated or ctx ended; in the latter case the
// best result so far is returned too.
func Optimize(ctx context.Context, problem *TrajectoryProblem, opts ...OptimizeOption) (*OptimizationResult, error) {
	ctx, span := trace.StartSpan(ctx, "trajopt::Optimize")
	defer span.End()

	if problem == nil {
		return nil, errors.New("no problem to optimize")
	}
	o := &optimizeOptions{params: DefaultParams()}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logging.NewBlankLogger("trajopt")
	}
	if o.solver == nil {
		o.solver = sco.NewDefaultSolver()
	}

	x0 := problem.InitialVector()
	if o.initialTraj != nil {
		times := o.initialTimes
		if times == nil {
			times = problem.InitialTimes()
		}
		var err error
		if x0, err = problem.Vector(o.initialTraj, times); err != nil {
			return nil, errors.Wrap(err, "bad initial guess")
		}
	}

	sqp, err := sco.NewTrustRegionSQP(problem.opt, o.solver, o.params, o.logger)
	if err != nil {
		return nil, err
	}
	for _, obs := range o.observers {
		sqp.AddObserver(obs)
	}
	for _, fn := range o.snapshots {
		fn := fn
		sqp.AddObserver(sco.ObserverFunc(func(e sco.IterationEvent) {
			fn(TrajectorySnapshot{
				Iteration:  e.Iteration,
				Trajectory: problem.Trajectory(e.X),
				Times:      problem.Times(e.X),
				Merit:      e.Merit,
			})
		}))
	}
	sqp.SetStopFlag(o.stop)

	o.logger.Debugw("optimizing",
		"manipulator", problem.Manipulator,
		"steps", problem.NumSteps,
		"variables", problem.NumVars(),
		"costs", len(problem.opt.Costs()),
		"constraints", len(problem.opt.Constraints()),
	)
	res, err := sqp.Optimize(ctx, x0)
	if res == nil {
		return nil, err
	}
	result := problem.result(res)
	o.logger.Debugw("optimization finished", "status", result.Status, "iterations", result.Iterations, "merit", result.Merit)
	return result, err
}

func (p *TrajectoryProblem) result(res *sco.Results) *OptimizationResult {
	named := func(names []string, values []float64) []TermValue {
		out := make([]TermValue, len(values))
		for i, v := range values {
			out[i] = TermValue{Name: names[i], Value: v}
		}
		return out
	}
	return &OptimizationResult{
		Trajectory:           p.Trajectory(res.X),
		Times:                p.Times(res.X),
		Status:               res.Status,
		Iterations:           res.Iterations,
		Merit:                res.Merit,
		CostValues:           named(p.CostNames(), res.CostValues),
		ConstraintViolations: named(p.ConstraintNames(), res.ConstraintViolations),
	}
}
