// Package history persists optimization runs and their accepted iterates to SQLite.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	// registers the "sqlite" driver.
	_ "modernc.org/sqlite"

	"github.com/viam-labs/trajopt/motionplan/sco"
	"github.com/viam-labs/trajopt/motionplan/trajopt"
)

const schemaV1 = `
CREATE TABLE IF NOT EXISTS runs (
	run_id           TEXT PRIMARY KEY,
	manipulator      TEXT NOT NULL,
	n_steps          INTEGER NOT NULL,
	status           TEXT NOT NULL DEFAULT '',
	final_state      TEXT NOT NULL DEFAULT '',
	iterations       INTEGER NOT NULL DEFAULT 0,
	merit            REAL NOT NULL DEFAULT 0.0,
	initial_contacts INTEGER NOT NULL DEFAULT 0,
	final_contacts   INTEGER NOT NULL DEFAULT 0,
	started_at_unix  INTEGER NOT NULL,
	finished_at_unix INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS iterations (
	run_id         TEXT NOT NULL,
	iteration      INTEGER NOT NULL,
	merit          REAL NOT NULL,
	trust_box_size REAL NOT NULL,
	merit_coeff    REAL NOT NULL,
	x_json         TEXT NOT NULL DEFAULT '[]',
	PRIMARY KEY (run_id, iteration)
);
CREATE INDEX IF NOT EXISTS idx_iterations_run ON iterations(run_id);
`

// Store is a SQLite database of runs.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and migrates it.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open history database")
	}
	// single writer
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(context.Background(), schemaV1); err != nil {
		return nil, multierr.Combine(errors.Wrap(err, "migrate history schema"), db.Close())
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// StartRun records a new run.
func (s *Store) StartRun(ctx context.Context, runID string, problem *trajopt.TrajectoryProblem) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, manipulator, n_steps, started_at_unix) VALUES (?, ?, ?, ?)`,
		runID, problem.Manipulator, problem.NumSteps, time.Now().Unix())
	return errors.Wrapf(err, "start run %s", runID)
}

// FinishRun stores the outcome of a run. Fields the run never reached are stored as zero values.
func (s *Store) FinishRun(ctx context.Context, res *trajopt.WorkflowResult) error {
	var (
		status     string
		iterations int
		merit      float64
		finalState string
	)
	if res.Result != nil {
		status = res.Result.Status.String()
		iterations = res.Result.Iterations
		merit = res.Result.Merit
	}
	if len(res.States) > 0 {
		finalState = res.States[len(res.States)-1].String()
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, final_state = ?, iterations = ?, merit = ?, initial_contacts = ?,
			final_contacts = ?, finished_at_unix = ? WHERE run_id = ?`,
		status, finalState, iterations, merit, len(res.InitialContacts), len(res.FinalContacts), time.Now().Unix(), res.RunID)
	return errors.Wrapf(err, "finish run %s", res.RunID)
}

// Run is a stored run.
type Run struct {
	ID              string
	Manipulator     string
	NumSteps        int
	Status          string
	FinalState      string
	Iterations      int
	Merit           float64
	InitialContacts int
	FinalContacts   int
}

// GetRun loads a run.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	r := &Run{}
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, manipulator, n_steps, status, final_state, iterations, merit, initial_contacts, final_contacts
			FROM runs WHERE run_id = ?`, runID).
		Scan(&r.ID, &r.Manipulator, &r.NumSteps, &r.Status, &r.FinalState, &r.Iterations, &r.Merit,
			&r.InitialContacts, &r.FinalContacts)
	if err != nil {
		return nil, errors.Wrapf(err, "get run %s", runID)
	}
	return r, nil
}

// Iteration is a stored accepted iterate.
type Iteration struct {
	Iteration    int
	Merit        float64
	TrustBoxSize float64
	MeritCoeff   float64
	X            []float64
}

// Iterations lists the accepted iterates of a run in order.
func (s *Store) Iterations(ctx context.Context, runID string) ([]Iteration, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT iteration, merit, trust_box_size, merit_coeff, x_json FROM iterations WHERE run_id = ? ORDER BY iteration`,
		runID)
	if err != nil {
		return nil, errors.Wrapf(err, "list iterations of %s", runID)
	}
	defer rows.Close()

	var out []Iteration
	for rows.Next() {
		var (
			it   Iteration
			xRaw string
		)
		if err := rows.Scan(&it.Iteration, &it.Merit, &it.TrustBoxSize, &it.MeritCoeff, &xRaw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(xRaw), &it.X); err != nil {
			return nil, errors.Wrapf(err, "decode iterate %d", it.Iteration)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// Recorder is an sco.Observer writing every accepted iterate of one run. Observers cannot fail, so write errors
// are kept and reported by Err.
type Recorder struct {
	store *Store
	ctx   context.Context
	runID string

	mu  sync.Mutex
	err error
}

// Recorder returns an observer recording iterates under runID.
func (s *Store) Recorder(ctx context.Context, runID string) *Recorder {
	return &Recorder{store: s, ctx: ctx, runID: runID}
}

// OnIterationAccepted stores the event.
func (r *Recorder) OnIterationAccepted(event sco.IterationEvent) {
	x, err := json.Marshal(event.X)
	if err == nil {
		_, err = r.store.db.ExecContext(r.ctx,
			`INSERT INTO iterations (run_id, iteration, merit, trust_box_size, merit_coeff, x_json) VALUES (?, ?, ?, ?, ?, ?)`,
			r.runID, event.Iteration, event.Merit, event.TrustBoxSize, event.MeritCoeff, string(x))
	}
	if err != nil {
		r.mu.Lock()
		r.err = multierr.Append(r.err, errors.Wrapf(err, "record iteration %d", event.Iteration))
		r.mu.Unlock()
	}
}

// Err returns every write error so far.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}
