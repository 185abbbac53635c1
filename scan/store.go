package scan

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const runsSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	started     INTEGER NOT NULL,
	finished    INTEGER NOT NULL,
	state       TEXT NOT NULL,
	iterations  INTEGER NOT NULL,
	completion  REAL NOT NULL,
	complete    INTEGER NOT NULL,
	points      INTEGER NOT NULL,
	model_path  TEXT NOT NULL DEFAULT '',
	report_path TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs (started);
`

// RunRecord is one row of the run history
type RunRecord struct {
	ID         uuid.UUID `json:"id"`
	Started    time.Time `json:"started"`
	Finished   time.Time `json:"finished"`
	State      string    `json:"state"`
	Iterations int       `json:"iterations"`
	Completion float64   `json:"completion"`
	Complete   bool      `json:"complete"`
	Points     int       `json:"points"`
	ModelPath  string    `json:"modelPath,omitempty"`
	ReportPath string    `json:"reportPath,omitempty"`
}

// RunStore keeps the history of finished runs in sqlite
type RunStore struct {
	db *sql.DB
}

// OpenRunStore opens (or creates) the database at path. ":memory:" works
// for tests.
func OpenRunStore(path string) (*RunStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening run database: %w", err)
	}
	// a single connection keeps ":memory:" databases alive and serializes writers
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(runsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating runs table: %w", err)
	}
	return &RunStore{db: db}, nil
}

// Close closes the database
func (s *RunStore) Close() error {
	return s.db.Close()
}

// Record inserts or replaces the row for result
func (s *RunStore) Record(ctx context.Context, result *RunResult, saved SavedRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs
			(id, started, finished, state, iterations, completion, complete, points, model_path, report_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.SessionID.String(),
		result.Started.UnixNano(),
		result.Finished.UnixNano(),
		result.State.String(),
		result.Iterations,
		result.Completion,
		result.Complete,
		len(result.Model),
		saved.ModelPath,
		saved.ReportPath,
	)
	if err != nil {
		return fmt.Errorf("recording run %s: %w", result.SessionID, err)
	}
	return nil
}

// Recent returns up to limit runs, newest first
func (s *RunStore) Recent(ctx context.Context, limit int) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started, finished, state, iterations, completion, complete, points, model_path, report_path
		FROM runs ORDER BY started DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			rec               RunRecord
			id                string
			started, finished int64
		)
		if err := rows.Scan(&id, &started, &finished, &rec.State, &rec.Iterations,
			&rec.Completion, &rec.Complete, &rec.Points, &rec.ModelPath, &rec.ReportPath); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		if rec.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("run id %q: %w", id, err)
		}
		rec.Started = time.Unix(0, started).UTC()
		rec.Finished = time.Unix(0, finished).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}
