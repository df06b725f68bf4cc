// Package runstore persists training runs and per-epoch metrics in SQLite.
package runstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"egotrain/meters"
)

// ErrRunNotFound is returned when a run id is not in the store.
var ErrRunNotFound = errors.New("runstore: run not found")

// Run is one training or evaluation run.
type Run struct {
	ID         string
	ConfigTOML string
	StartedAt  time.Time
	FinishedAt time.Time // zero while running
	Status     string    // running, finished, failed
	BestEpoch  int
	BestAction float64
}

// Store manages run persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	config_toml TEXT NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT,
	status TEXT NOT NULL,
	best_epoch INTEGER NOT NULL DEFAULT -1,
	best_action REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS epoch_metrics (
	run_id TEXT NOT NULL REFERENCES runs(id),
	epoch INTEGER NOT NULL,
	split TEXT NOT NULL,
	loss REAL NOT NULL,
	lr REAL NOT NULL,
	verb_top1 REAL NOT NULL,
	verb_top5 REAL NOT NULL,
	noun_top1 REAL NOT NULL,
	noun_top5 REAL NOT NULL,
	action_top1 REAL NOT NULL,
	action_top5 REAL NOT NULL,
	duration_seconds REAL NOT NULL,
	PRIMARY KEY (run_id, epoch, split)
);
`

// Open opens (creating if needed) the store at dbPath.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, path: dbPath}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// CreateRun registers a new run and returns its id.
func (s *Store) CreateRun(ctx context.Context, configTOML string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, config_toml, started_at, status) VALUES (?, ?, ?, 'running')`,
		id, configTOML, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}
	return id, nil
}

// RecordEpoch persists one epoch summary for a run. Re-recording the same
// epoch and split overwrites the previous row, which happens on resume.
func (s *Store) RecordEpoch(ctx context.Context, runID string, sum meters.EpochSummary) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO epoch_metrics
	(run_id, epoch, split, loss, lr, verb_top1, verb_top5, noun_top1, noun_top5,
	 action_top1, action_top5, duration_seconds)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (run_id, epoch, split) DO UPDATE SET
	loss = excluded.loss,
	lr = excluded.lr,
	verb_top1 = excluded.verb_top1,
	verb_top5 = excluded.verb_top5,
	noun_top1 = excluded.noun_top1,
	noun_top5 = excluded.noun_top5,
	action_top1 = excluded.action_top1,
	action_top5 = excluded.action_top5,
	duration_seconds = excluded.duration_seconds`,
		runID, sum.Epoch, sum.Split, sum.Loss, sum.LR,
		sum.VerbTop1, sum.VerbTop5, sum.NounTop1, sum.NounTop5,
		sum.ActionTop1, sum.ActionTop5, sum.Duration.Seconds())
	if err != nil {
		return fmt.Errorf("record epoch %d: %w", sum.Epoch, err)
	}
	return nil
}

// SetBest updates the best-epoch marker for a run.
func (s *Store) SetBest(ctx context.Context, runID string, epoch int, actionTop1 float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET best_epoch = ?, best_action = ? WHERE id = ?`,
		epoch, actionTop1, runID)
	if err != nil {
		return fmt.Errorf("set best: %w", err)
	}
	return requireRun(res)
}

// FinishRun marks a run finished or failed.
func (s *Store) FinishRun(ctx context.Context, runID, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, status = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), status, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return requireRun(res)
}

// GetRun loads one run by id.
func (s *Store) GetRun(ctx context.Context, runID string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, config_toml, started_at, COALESCE(finished_at, ''), status, best_epoch, best_action
FROM runs WHERE id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrRunNotFound
	}
	return run, err
}

// ListRuns returns every run, most recent first.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, config_toml, started_at, COALESCE(finished_at, ''), status, best_epoch, best_action
FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// EpochHistory returns the recorded summaries for one run and split in epoch
// order.
func (s *Store) EpochHistory(ctx context.Context, runID, split string) ([]meters.EpochSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT epoch, loss, lr, verb_top1, verb_top5, noun_top1, noun_top5,
	action_top1, action_top5, duration_seconds
FROM epoch_metrics WHERE run_id = ? AND split = ? ORDER BY epoch`, runID, split)
	if err != nil {
		return nil, fmt.Errorf("epoch history: %w", err)
	}
	defer rows.Close()

	var history []meters.EpochSummary
	for rows.Next() {
		sum := meters.EpochSummary{Split: split}
		var seconds float64
		if err := rows.Scan(&sum.Epoch, &sum.Loss, &sum.LR,
			&sum.VerbTop1, &sum.VerbTop5, &sum.NounTop1, &sum.NounTop5,
			&sum.ActionTop1, &sum.ActionTop5, &seconds); err != nil {
			return nil, fmt.Errorf("scan epoch row: %w", err)
		}
		sum.Duration = time.Duration(seconds * float64(time.Second))
		history = append(history, sum)
	}
	return history, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		run      Run
		started  string
		finished string
	)
	if err := row.Scan(&run.ID, &run.ConfigTOML, &started, &finished,
		&run.Status, &run.BestEpoch, &run.BestAction); err != nil {
		return Run{}, err
	}
	run.StartedAt, _ = time.Parse(time.RFC3339, started)
	if finished != "" {
		run.FinishedAt, _ = time.Parse(time.RFC3339, finished)
	}
	return run, nil
}

func requireRun(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRunNotFound
	}
	return nil
}
