// Package store keeps the run history in SQLite.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/entrhq/testpilot/pkg/types"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned when a run is not in the history.
var ErrNotFound = errors.New("run not found")

// migration is a schema change applied once, in version order.
type migration struct {
	Version int
	Name    string
	SQL     string
}

var migrations = []migration{
	{Version: 1, Name: "index runs by start time", SQL: `CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC)`},
	{Version: 2, Name: "index runs by name", SQL: `CREATE INDEX IF NOT EXISTS idx_runs_name ON runs(name, started_at DESC)`},
}

// Run is one row of the history.
type Run struct {
	StartedAt    time.Time
	FinishedAt   time.Time
	RunID        string
	Name         string
	Environment  string
	FatalError   string
	ArtifactsDir string
	Elapsed      time.Duration
	StepsTotal   int
	StepsPassed  int
	Success      bool
	Aborted      bool
}

// Store manages the history database.
type Store struct {
	db *sql.DB
}

// New opens the database at path, creating it and applying migrations as
// needed. ":memory:" opens a private in-memory database.
func New(path string) (*Store, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Pragmas are per connection, and an in-memory database is private to
	// its connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func runMigrations(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply base schema: %w", err)
	}

	var current int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if _, err := db.Exec(m.SQL); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}
		if _, err := db.Exec("INSERT INTO schema_migrations (version, name) VALUES (?, ?)", m.Version, m.Name); err != nil {
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// SaveRun records result and its steps. Saving the same run again replaces it.
func (s *Store) SaveRun(ctx context.Context, result *types.TestResult, artifactsDir string) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	passed := 0
	for i := range result.Steps {
		if result.Steps[i].Passed() {
			passed++
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM steps WHERE run_id = ?`, result.RunID); err != nil {
		return fmt.Errorf("failed to replace steps: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, result.RunID); err != nil {
		return fmt.Errorf("failed to replace run: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, name, environment, success, aborted, started_at, finished_at,
			elapsed_ms, steps_total, steps_passed, fatal_error, artifacts_dir, result_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.RunID, result.Name, result.Environment, result.Success, result.Aborted,
		formatTime(result.StartedAt), formatTime(result.FinishedAt), result.Elapsed.Milliseconds(),
		len(result.Steps), passed, result.FatalError, artifactsDir, string(data))
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for _, step := range result.Steps {
		kind := ""
		if step.Failure != nil {
			kind = string(step.Failure.Kind)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO steps (run_id, number, title, outcome, attempts, failure_kind, interventions)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			result.RunID, step.Number, step.Title, string(step.Outcome), step.Attempts, kind, len(step.Interventions))
		if err != nil {
			return fmt.Errorf("failed to insert step %d: %w", step.Number, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

const runColumns = `run_id, name, environment, success, aborted, started_at, finished_at,
	elapsed_ms, steps_total, steps_passed, fatal_error, artifacts_dir`

// ListRuns returns the most recent runs first. name filters by case name
// when not empty.
func (s *Store) ListRuns(ctx context.Context, name string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + runColumns + ` FROM runs`
	args := []any{}
	if name != "" {
		query += ` WHERE name = ?`
		args = append(args, name)
	}
	query += ` ORDER BY started_at DESC, run_id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// GetRun returns the stored result of runID.
func (s *Store) GetRun(ctx context.Context, runID string) (*types.TestResult, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT result_json FROM runs WHERE run_id = ?`, runID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}

	var result types.TestResult
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		return nil, fmt.Errorf("failed to decode run %s: %w", runID, err)
	}
	return &result, nil
}

// FailureCounts tallies the final failure kinds of steps across all runs.
func (s *Store) FailureCounts(ctx context.Context) (map[types.FailureKind]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT failure_kind, COUNT(*) FROM steps
		WHERE failure_kind != '' GROUP BY failure_kind`)
	if err != nil {
		return nil, fmt.Errorf("failed to count failures: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.FailureKind]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[types.FailureKind(kind)] = n
	}
	return counts, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		run               Run
		started, finished string
		elapsedMS         int64
		success, aborted  int
	)
	err := row.Scan(&run.RunID, &run.Name, &run.Environment, &success, &aborted, &started, &finished,
		&elapsedMS, &run.StepsTotal, &run.StepsPassed, &run.FatalError, &run.ArtifactsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	run.Success = success != 0
	run.Aborted = aborted != 0
	run.Elapsed = time.Duration(elapsedMS) * time.Millisecond
	run.StartedAt = parseTime(started)
	run.FinishedAt = parseTime(finished)
	return &run, nil
}

// timeLayout keeps a fixed width so stored times sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}
	}
	return t
}
