package trajopt

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/viam-labs/trajopt/logging"
	"github.com/viam-labs/trajopt/motionplan/sco"
)

// WorkflowState is a stage of a Workflow run.
type WorkflowState int

// A run moves from StateBuilt through StateValidatedInitial and StateOptimizing to one of the three optimizer
// outcomes, and ends in StateValidatedFinal.
const (
	StateBuilt WorkflowState = iota
	StateValidatedInitial
	StateOptimizing
	StateConverged
	StateIterationLimit
	StateInfeasible
	StateValidatedFinal
)

func (s WorkflowState) String() string {
	switch s {
	case StateBuilt:
		return "BUILT"
	case StateValidatedInitial:
		return "VALIDATED_INITIAL"
	case StateOptimizing:
		return "OPTIMIZING"
	case StateConverged:
		return "CONVERGED"
	case StateIterationLimit:
		return "ITERATION_LIMIT"
	case StateInfeasible:
		return "INFEASIBLE"
	case StateValidatedFinal:
		return "VALIDATED_FINAL"
	default:
		return fmt.Sprintf("WorkflowState(%d)", int(s))
	}
}

func stateFromStatus(s sco.Status) WorkflowState {
	switch s {
	case sco.StatusConverged:
		return StateConverged
	case sco.StatusInfeasible:
		return StateInfeasible
	case sco.StatusIterationLimit:
		return StateIterationLimit
	default:
		return StateIterationLimit
	}
}

// WorkflowConfig holds everything a run needs besides the problem.
type WorkflowConfig struct {
	Logger logging.Logger
	// RejectCollidingSeed stops the run before optimizing when the seed has contacts. Otherwise they are only logged.
	RejectCollidingSeed bool
	ContactDistance     float64
	// Continuous selects swept checks over StepGap for both validations.
	Continuous bool
	StepGap    int
	// Params left at the zero value means DefaultParams.
	Params    sco.Params
	Solver    sco.ConvexSolver
	Observers []sco.Observer
	StopFlag  *sco.StopFlag
}

// NewWorkflowConfig returns a config with continuous checks and the default optimizer settings.
func NewWorkflowConfig(logger logging.Logger) WorkflowConfig {
	return WorkflowConfig{
		Logger:     logger,
		Continuous: true,
		StepGap:    1,
		Params:     DefaultParams(),
	}
}

// SeedCollisionError is returned when RejectCollidingSeed is set and the seed has contacts.
type SeedCollisionError struct {
	Contacts int
}

func (e *SeedCollisionError) Error() string {
	return fmt.Sprintf("seed trajectory has %d contacts", e.Contacts)
}

// WorkflowResult is what a run produced. Fields are filled as far as the run got.
type WorkflowResult struct {
	RunID           string
	InitialContacts ContactReport
	Result          *OptimizationResult
	FinalContacts   ContactReport
	States          []WorkflowState
}

// Workflow checks the seed of a problem, optimizes it, and checks the result.
type Workflow struct {
	id      uuid.UUID
	problem *TrajectoryProblem
	cfg     WorkflowConfig
	logger  logging.Logger
	states  []WorkflowState
}

// NewWorkflow returns a workflow in StateBuilt.
func NewWorkflow(problem *TrajectoryProblem, cfg WorkflowConfig) *Workflow {
	id := uuid.New()
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewBlankLogger("workflow")
	}
	return &Workflow{
		id:      id,
		problem: problem,
		cfg:     cfg,
		logger:  logger.Sublogger("workflow").WithFields("run_id", id.String()),
		states:  []WorkflowState{StateBuilt},
	}
}

// ID identifies the run in logs.
func (w *Workflow) ID() string {
	return w.id.String()
}

// AddObserver adds an observer of the optimization. Observers added after Run started are not called.
func (w *Workflow) AddObserver(obs sco.Observer) {
	w.cfg.Observers = append(w.cfg.Observers[:len(w.cfg.Observers):len(w.cfg.Observers)], obs)
}

// State is the current state.
func (w *Workflow) State() WorkflowState {
	return w.states[len(w.states)-1]
}

func (w *Workflow) transition(to WorkflowState) {
	w.logger.Infow("workflow state", "from", w.State(), "to", to)
	w.states = append(w.states, to)
}

// Run executes the workflow once. It returns a SeedCollisionError when the seed is rejected, and otherwise only
// fails when checking or optimizing could not be carried out.
func (w *Workflow) Run(ctx context.Context) (*WorkflowResult, error) {
	if w.State() != StateBuilt {
		return nil, errors.Errorf("workflow %s already ran", w.id)
	}
	p := w.problem
	res := &WorkflowResult{RunID: w.id.String()}
	defer func() { res.States = append([]WorkflowState(nil), w.states...) }()

	initial, err := w.check(ctx, p.InitialTrajectory())
	if err != nil {
		return res, errors.Wrap(err, "checking seed trajectory")
	}
	res.InitialContacts = initial
	w.logContacts(ctx, "seed trajectory", initial)
	w.transition(StateValidatedInitial)
	if len(initial) > 0 && w.cfg.RejectCollidingSeed {
		return res, &SeedCollisionError{Contacts: len(initial)}
	}

	w.transition(StateOptimizing)
	params := w.cfg.Params
	if params == (sco.Params{}) {
		params = DefaultParams()
	}
	opts := []OptimizeOption{
		WithParams(params),
		WithLogger(w.logger.Sublogger("optimizer")),
		WithStopFlag(w.cfg.StopFlag),
	}
	if w.cfg.Solver != nil {
		opts = append(opts, WithSolver(w.cfg.Solver))
	}
	for _, obs := range w.cfg.Observers {
		opts = append(opts, WithObserver(obs))
	}
	result, err := Optimize(ctx, p, opts...)
	res.Result = result
	if err != nil {
		return res, err
	}
	w.transition(stateFromStatus(result.Status))
	w.logger.Infow("optimization result", "status", result.Status, "iterations", result.Iterations, "merit", result.Merit)

	final, err := w.check(ctx, result.Trajectory)
	if err != nil {
		return res, errors.Wrap(err, "checking optimized trajectory")
	}
	res.FinalContacts = final
	w.logContacts(ctx, "optimized trajectory", final)
	w.transition(StateValidatedFinal)
	return res, nil
}

func (w *Workflow) check(ctx context.Context, traj [][]float64) (ContactReport, error) {
	opts := []CheckOption{WithContactDistance(w.cfg.ContactDistance)}
	if w.cfg.StepGap > 0 {
		opts = append(opts, WithStepGap(w.cfg.StepGap))
	}
	return CheckTrajectory(ctx, w.problem.env, w.problem.JointNames, w.problem.LinkNames, traj, w.cfg.Continuous, opts...)
}

// logContacts summarizes a report. Individual contacts are logged at debug level or when ctx is in debug mode.
func (w *Workflow) logContacts(ctx context.Context, what string, report ContactReport) {
	summary, err := report.Summary()
	if err != nil {
		w.logger.Warnw("cannot summarize contacts", "error", err)
		return
	}
	if summary.Count == 0 {
		w.logger.Infow("no contacts", "trajectory", what)
		return
	}
	w.logger.Infow("contacts found",
		"trajectory", what,
		"count", summary.Count,
		"min_distance", summary.MinDistance,
		"steps", summary.Steps,
		"links", summary.Links,
	)
	for _, c := range report {
		w.logger.CDebugw(ctx, "contact", "contact", c.String())
	}
}
