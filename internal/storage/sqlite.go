package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/san-kum/mastersim/internal/slave"
)

//go:embed schema.sql
var schemaSQL string

// Schema versions:
// 0 - tables only
// 1 - index on samples(run_id, t)
const currentSchemaVersion = 1

// SQLite persists runs into a single database file. It is a Sink; rows of
// one run are written in their own transaction so that they survive a
// later failure.
type SQLite struct {
	db *sql.DB

	mu    sync.Mutex
	runID string
	cols  []Column
}

// OpenSQLite creates or opens the database at path and applies the
// schema.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < 1 {
		if _, err := db.Exec("CREATE INDEX IF NOT EXISTS samples_by_time ON samples(run_id, t)"); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

func (s *SQLite) Begin(runID string, cols []Column) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO runs (id, started_at) VALUES (?, ?)`,
		runID, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("begin run %s: %w", runID, err)
	}
	for i, c := range cols {
		if _, err := tx.Exec(`INSERT INTO columns (run_id, idx, slave, variable, unit, type) VALUES (?, ?, ?, ?, ?, ?)`,
			runID, i, c.Slave, c.Variable, c.Unit, c.Type.String()); err != nil {
			return fmt.Errorf("begin run %s: %w", runID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.runID = runID
	s.cols = append([]Column(nil), cols...)
	return nil
}

func (s *SQLite) Write(t float64, row []slave.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runID == "" {
		return errors.New("storage: write before begin")
	}
	if len(row) != len(s.cols) {
		return fmt.Errorf("storage: row has %d values, expected %d", len(row), len(s.cols))
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.Prepare(`INSERT INTO samples (run_id, t, idx, num, text) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id, idx, t) DO UPDATE SET num = excluded.num, text = excluded.text`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, v := range row {
		var num, text any
		if v.Type == slave.String {
			text = v.Str
		} else {
			num = v.Float()
		}
		if _, err := stmt.Exec(s.runID, t, i, num, text); err != nil {
			return fmt.Errorf("write t=%g: %w", t, err)
		}
	}
	return tx.Commit()
}

// Finish records the final status of the current run.
func (s *SQLite) Finish(status string, runErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var msg any
	if runErr != nil {
		msg = runErr.Error()
	}
	_, err := s.db.Exec(`UPDATE runs SET finished_at = ?, status = ?, error = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), status, msg, s.runID)
	return err
}

// Status returns the recorded status of a run.
func (s *SQLite) Status(ctx context.Context, runID string) (string, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM runs WHERE id = ?`, runID).Scan(&status)
	return status, err
}

// Series reads the numeric history of one variable of a run, ordered by
// time. String variables read as NaN.
func (s *SQLite) Series(ctx context.Context, runID, slaveName, variable string) ([]float64, []float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.t, s.num FROM samples s
		JOIN columns c ON c.run_id = s.run_id AND c.idx = s.idx
		WHERE s.run_id = ? AND c.slave = ? AND c.variable = ?
		ORDER BY s.t`, runID, slaveName, variable)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var times, values []float64
	for rows.Next() {
		var (
			t   float64
			num sql.NullFloat64
		)
		if err := rows.Scan(&t, &num); err != nil {
			return nil, nil, err
		}
		v := math.NaN()
		if num.Valid {
			v = num.Float64
		}
		times = append(times, t)
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	if len(times) == 0 {
		return nil, nil, fmt.Errorf("%w: %s.%s in run %s", ErrUnknownColumn, slaveName, variable, runID)
	}
	return times, values, nil
}
