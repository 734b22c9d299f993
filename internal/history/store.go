// Package history persists completed pipeline runs to SQLite so past
// outcomes can be inspected from the CLI.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"git.home.luguber.info/inful/cirunner/internal/runner"
)

// RunRecord is one persisted pipeline run.
type RunRecord struct {
	RunID    string
	Branch   string
	Commit   string
	Runtime  string
	Outcome  string
	Coverage float64 // -1 when no coverage was collected
	Deployed bool
	Started  time.Time
	Finished time.Time
}

// Duration returns the wall-clock duration of the run.
func (r RunRecord) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// StepRecord is one persisted step of a run.
type StepRecord struct {
	RunID    string
	Phase    string
	Index    int
	Command  string
	Status   string
	ExitCode int
	Duration time.Duration
}

// Store persists runs and their steps.
// Use ":memory:" for an in-memory database, or a file path for
// persistent storage.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewStore opens (or creates) the run history database.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	store := &Store{db: db}
	if err := store.initialize(); err != nil {
		_ = db.Close() // Best effort cleanup on initialization error
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		branch TEXT NOT NULL,
		commit_sha TEXT NOT NULL,
		runtime TEXT NOT NULL,
		outcome TEXT NOT NULL,
		coverage REAL NOT NULL,
		deployed INTEGER NOT NULL,
		started INTEGER NOT NULL,
		finished INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS steps (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		phase TEXT NOT NULL,
		step_index INTEGER NOT NULL,
		command TEXT NOT NULL,
		status TEXT NOT NULL,
		exit_code INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(run_id)
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started);
	CREATE INDEX IF NOT EXISTS idx_steps_run_id ON steps(run_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordRun persists a completed run and its steps in one transaction.
func (s *Store) RecordRun(ctx context.Context, run *runner.RunResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx,
		"INSERT INTO runs (run_id, branch, commit_sha, runtime, outcome, coverage, deployed, started, finished) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		run.RunID, run.Branch, run.Commit, run.Runtime, string(run.Outcome),
		run.Coverage, boolToInt(run.Deployed), run.Started.Unix(), run.Finished.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, sr := range run.Steps {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO steps (run_id, phase, step_index, command, status, exit_code, duration_ms) VALUES (?, ?, ?, ?, ?, ?, ?)",
			run.RunID, string(sr.Step.Phase), sr.Step.Index, sr.Step.Command,
			string(sr.Status), sr.ExitCode, sr.Duration.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("insert step: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

// RecentRuns returns up to limit runs, most recent first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT run_id, branch, commit_sha, runtime, outcome, coverage, deployed, started, finished FROM runs ORDER BY started DESC, run_id LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		var deployed int
		var started, finished int64

		err := rows.Scan(&r.RunID, &r.Branch, &r.Commit, &r.Runtime, &r.Outcome,
			&r.Coverage, &deployed, &started, &finished)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}

		r.Deployed = deployed != 0
		r.Started = time.Unix(started, 0)
		r.Finished = time.Unix(finished, 0)
		runs = append(runs, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return runs, nil
}

// RunSteps returns the steps of a run in execution order.
func (s *Store) RunSteps(ctx context.Context, runID string) ([]StepRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT run_id, phase, step_index, command, status, exit_code, duration_ms FROM steps WHERE run_id = ? ORDER BY id",
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	var steps []StepRecord
	for rows.Next() {
		var st StepRecord
		var durationMS int64

		err := rows.Scan(&st.RunID, &st.Phase, &st.Index, &st.Command,
			&st.Status, &st.ExitCode, &durationMS)
		if err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}

		st.Duration = time.Duration(durationMS) * time.Millisecond
		steps = append(steps, st)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return steps, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
