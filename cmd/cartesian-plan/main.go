// Package main plans a Cartesian waypoint trajectory for a seven joint arm next to a point cloud obstacle.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/viam-labs/trajopt/internal/history"
	"github.com/viam-labs/trajopt/logging"
	"github.com/viam-labs/trajopt/motionplan/sco"
	"github.com/viam-labs/trajopt/motionplan/trajopt"
)

const (
	// Flags.
	flagConfig      = "config"
	flagCloud       = "cloud"
	flagModel       = "model"
	flagMethod      = "method"
	flagSteps       = "steps"
	flagDebug       = "debug"
	flagLogFile     = "log-file"
	flagLogPattern  = "log-pattern"
	flagHistoryDB   = "history-db"
	flagSolver      = "solver"
	flagMaxIter     = "max-iter"
	flagRejectSeed  = "reject-colliding-seed"
	flagDiscrete    = "discrete"
	flagLogContacts = "log-contacts"
	flagTermSchemas = "terms"

	methodJSON     = "json"
	methodCode     = "programmatic"
	solverDefault  = "default"
	solverNlopt    = "nlopt"
	solverGradient = "gradient"

	defaultNumSteps = 5
	loggerName      = "cartesian-plan"
)

func main() {
	if err := newApp(os.Stdout, os.Stderr).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error: %v", err))
		os.Exit(1)
	}
}

func newApp(out, errOut io.Writer) *cli.App {
	return &cli.App{
		Name:      "cartesian-plan",
		Usage:     "plan a collision aware trajectory through Cartesian waypoints",
		Writer:    out,
		ErrWriter: errOut,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: flagDebug, Usage: "log at debug level"},
			&cli.StringFlag{Name: flagLogFile, Usage: "also write logs to this file, rotated by size"},
			&cli.StringSliceFlag{
				Name:  flagLogPattern,
				Usage: "set the level of matching loggers, as pattern=level, e.g. cartesian-plan.workflow.optimizer=debug",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "plan",
				Usage: "build the example problem, optimize it and validate the result",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  flagMethod,
						Value: methodJSON,
						Usage: "how to build the problem: " + methodJSON + " or " + methodCode,
					},
					&cli.StringFlag{
						Name:  flagConfig,
						Usage: "problem document for the json method; the bundled example when empty",
					},
					&cli.StringFlag{
						Name:  flagModel,
						Usage: "model JSON of the arm; the builtin KUKA iiwa when empty",
					},
					&cli.StringFlag{
						Name:  flagCloud,
						Usage: "PCD file of obstacle points; a one meter cube of points when empty",
					},
					&cli.IntFlag{
						Name:  flagSteps,
						Value: defaultNumSteps,
						Usage: "number of steps for the programmatic method",
					},
					&cli.StringFlag{
						Name:  flagSolver,
						Value: solverDefault,
						Usage: "convex subproblem solver: " + strings.Join([]string{solverDefault, solverNlopt, solverGradient}, ", "),
					},
					&cli.IntFlag{Name: flagMaxIter, Usage: "override the iteration limit when positive"},
					&cli.BoolFlag{Name: flagRejectSeed, Usage: "stop before optimizing when the seed trajectory collides"},
					&cli.BoolFlag{Name: flagDiscrete, Usage: "validate states only instead of the motion between them"},
					&cli.BoolFlag{Name: flagLogContacts, Usage: "log every contact found, whatever the log level"},
					&cli.StringFlag{Name: flagHistoryDB, Usage: "record the run and its iterates in this SQLite database"},
				},
				Action: PlanAction,
			},
			{
				Name:  "schema",
				Usage: "print the JSON schema of problem documents",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: flagTermSchemas, Usage: "print the schema of each term type's params instead"},
				},
				Action: SchemaAction,
			},
		},
	}
}

// newLogger builds the program logger from the global flags. The returned closer flushes the log file, if any.
func newLogger(c *cli.Context) (logging.Logger, io.Closer, error) {
	logger := logging.NewLogger(loggerName)
	if c.Bool(flagDebug) {
		logger.SetLevel(logging.DEBUG)
	}
	patterns, err := parseLogPatterns(c.StringSlice(flagLogPattern))
	if err != nil {
		return nil, nil, err
	}
	if err := logging.ApplyPatterns(logger, patterns); err != nil {
		return nil, nil, err
	}
	if path := c.String(flagLogFile); path != "" {
		appender, closer := logging.NewFileAppender(path)
		logger.AddAppender(appender)
		return logger, closer, nil
	}
	return logger, io.NopCloser(nil), nil
}

func parseLogPatterns(flags []string) ([]logging.LoggerPatternConfig, error) {
	patterns := make([]logging.LoggerPatternConfig, 0, len(flags))
	for _, f := range flags {
		pattern, level, ok := strings.Cut(f, "=")
		if !ok {
			return nil, errors.Errorf("log pattern %q is not pattern=level", f)
		}
		patterns = append(patterns, logging.LoggerPatternConfig{Pattern: pattern, Level: level})
	}
	return patterns, nil
}

func newSolver(name string) (sco.ConvexSolver, error) {
	switch name {
	case solverDefault:
		return sco.NewDefaultSolver(), nil
	case solverNlopt:
		return sco.NewNloptSolver()
	case solverGradient:
		return sco.NewGradientSolver(), nil
	default:
		return nil, errors.Errorf("unknown solver %q", name)
	}
}

// buildProblem builds the problem with the selected method and returns the optimizer settings that go with it.
func buildProblem(c *cli.Context, env trajopt.Environment) (*trajopt.TrajectoryProblem, sco.Params, error) {
	switch method := c.String(flagMethod); method {
	case methodJSON:
		data := defaultDocument
		if path := c.String(flagConfig); path != "" {
			var err error
			if data, err = os.ReadFile(path); err != nil {
				return nil, sco.Params{}, errors.Wrap(err, "reading problem document")
			}
		}
		problem, doc, err := trajopt.ParseProblemBytes(data, env)
		if err != nil {
			return nil, sco.Params{}, err
		}
		return problem, doc.Params(), nil
	case methodCode:
		return programmaticProblem(env, c.Int(flagSteps))
	default:
		return nil, sco.Params{}, errors.Errorf("unknown method %q, want %s or %s", method, methodJSON, methodCode)
	}
}

// PlanAction runs the plan command.
func PlanAction(c *cli.Context) error {
	logger, closer, err := newLogger(c)
	if err != nil {
		return err
	}
	return multierr.Combine(plan(c, logger), closer.Close())
}

func plan(c *cli.Context, logger logging.Logger) (err error) {
	ctx := c.Context
	if c.Bool(flagLogContacts) {
		ctx = logging.EnableDebugMode(ctx, "")
	}
	env, err := newExampleEnvironment(logger.Sublogger("environment"), c.String(flagModel), c.String(flagCloud))
	if err != nil {
		return err
	}
	problem, params, err := buildProblem(c, env)
	if err != nil {
		return err
	}
	if maxIter := c.Int(flagMaxIter); maxIter > 0 {
		params.MaxIter = maxIter
	}
	solver, err := newSolver(c.String(flagSolver))
	if err != nil {
		return err
	}

	// an interrupt ends the optimization early; the partial result is still validated and reported
	stopFlag := &sco.StopFlag{}
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)
	done := make(chan struct{})
	defer close(done)
	goutils.PanicCapturingGo(func() {
		select {
		case <-interrupts:
			logger.Warn("interrupted, stopping the optimizer")
			stopFlag.Stop()
		case <-done:
		}
	})

	cfg := trajopt.NewWorkflowConfig(logger)
	cfg.Params = params
	cfg.Solver = solver
	cfg.StopFlag = stopFlag
	cfg.RejectCollidingSeed = c.Bool(flagRejectSeed)
	cfg.Continuous = !c.Bool(flagDiscrete)
	w := trajopt.NewWorkflow(problem, cfg)

	var (
		store    *history.Store
		recorder *history.Recorder
	)
	if path := c.String(flagHistoryDB); path != "" {
		if store, err = history.Open(path); err != nil {
			return err
		}
		defer func() {
			err = multierr.Combine(err, store.Close())
		}()
		recorder = store.Recorder(ctx, w.ID())
		w.AddObserver(recorder)
		if err := store.StartRun(ctx, w.ID(), problem); err != nil {
			return err
		}
	}

	res, runErr := w.Run(ctx)
	if res != nil {
		printReport(c.App.Writer, problem, res)
	}
	if store != nil && res != nil {
		if err := multierr.Combine(recorder.Err(), store.FinishRun(ctx, res)); err != nil {
			logger.Warnw("history is incomplete", "run_id", w.ID(), "error", err)
		}
	}
	return runErr
}

func contactLine(what string, report trajopt.ContactReport) string {
	line := fmt.Sprintf("%s: %d contacts", what, len(report))
	if len(report) == 0 {
		return color.GreenString("%s", line)
	}
	summary, err := report.Summary()
	if err == nil {
		line += fmt.Sprintf(" (closest %.4f at steps %v)", summary.MinDistance, summary.Steps)
	}
	return color.YellowString("%s", line)
}

func statusColor(status sco.Status) func(format string, a ...interface{}) string {
	switch status {
	case sco.StatusConverged:
		return color.GreenString
	case sco.StatusInfeasible:
		return color.RedString
	default:
		return color.YellowString
	}
}

func printReport(w io.Writer, problem *trajopt.TrajectoryProblem, res *trajopt.WorkflowResult) {
	fmt.Fprintf(w, "run %s\n", res.RunID)
	fmt.Fprintln(w, contactLine("seed trajectory", res.InitialContacts))
	if res.Result == nil {
		return
	}
	r := res.Result
	fmt.Fprintln(w, statusColor(r.Status)("status %s after %d iterations, merit %.6f", r.Status, r.Iterations, r.Merit))
	for _, v := range r.ConstraintViolations {
		if v.Value > 0 {
			fmt.Fprintf(w, "  %s violated by %.6f\n", v.Name, v.Value)
		}
	}
	if res.FinalContacts != nil {
		fmt.Fprintln(w, contactLine("optimized trajectory", res.FinalContacts))
	}

	header := color.New(color.Bold)
	header.Fprintf(w, "%-6s", "step")
	for _, joint := range problem.JointNames {
		header.Fprintf(w, " %10s", joint)
	}
	if r.Times != nil {
		header.Fprintf(w, " %10s", "dt")
	}
	fmt.Fprintln(w)
	for i, row := range r.Trajectory {
		fmt.Fprintf(w, "%-6d", i)
		for _, v := range row {
			fmt.Fprintf(w, " %10.4f", v)
		}
		if r.Times != nil && i > 0 {
			fmt.Fprintf(w, " %10.4f", r.Times[i-1])
		}
		fmt.Fprintln(w)
	}
}

// SchemaAction prints the document schema, or the schema of every term type's params.
func SchemaAction(c *cli.Context) error {
	var v interface{} = trajopt.DocumentSchema()
	if c.Bool(flagTermSchemas) {
		v = trajopt.TermParamSchemas()
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.App.Writer, string(out))
	return err
}
