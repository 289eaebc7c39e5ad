package backtest

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/convexfolio/convexfolio/internal/modules/optimizer"
	"github.com/convexfolio/convexfolio/internal/modules/solver"
	"github.com/convexfolio/convexfolio/internal/modules/spec"
)

// Store persists backtest runs to sqlite. Weight vectors are stored as
// msgpack blobs; everything queried on (status, dates, run id) gets its
// own column.
type Store struct {
	db *sql.DB
}

// NewStore creates a store over an open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Init creates the run tables if they do not exist.
func (s *Store) Init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS backtest_runs (
			id         TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL,
			universe   TEXT NOT NULL,
			frequency  TEXT NOT NULL,
			mode       TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS backtest_entries (
			run_id     TEXT NOT NULL REFERENCES backtest_runs(id) ON DELETE CASCADE,
			seq        INTEGER NOT NULL,
			date       INTEGER NOT NULL,
			status     INTEGER NOT NULL,
			solver     TEXT NOT NULL,
			mean       REAL NOT NULL,
			risk       REAL NOT NULL,
			objective  REAL NOT NULL,
			failed     INTEGER NOT NULL,
			reason     TEXT NOT NULL,
			weights    BLOB NOT NULL,
			PRIMARY KEY (run_id, seq)
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create backtest tables: %w", err)
	}
	return nil
}

// SaveRun persists one run and returns its generated id.
func (s *Store) SaveRun(model spec.Model, opts Options, result *Result) (string, error) {
	id := uuid.New().String()

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		"INSERT INTO backtest_runs (id, created_at, universe, frequency, mode) VALUES (?, ?, ?, ?, ?)",
		id, time.Now().Unix(), strings.Join(model.Universe(), ","), opts.Frequency.String(), opts.Mode.String(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}

	for seq, e := range result.Entries {
		blob, err := msgpack.Marshal(e.Result.Weights)
		if err != nil {
			return "", fmt.Errorf("failed to marshal weights: %w", err)
		}
		_, err = tx.Exec(
			`INSERT INTO backtest_entries
			 (run_id, seq, date, status, solver, mean, risk, objective, failed, reason, weights)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, seq, e.Date.Unix(), int(e.Result.Status), e.Result.Solver,
			e.Result.Mean, e.Result.Risk, e.Result.Objective, boolToInt(e.Failed), e.Reason, blob,
		)
		if err != nil {
			return "", fmt.Errorf("failed to insert entry %d: %w", seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit run: %w", err)
	}
	return id, nil
}

// LoadRun reads back the entries of a persisted run in chronological order.
func (s *Store) LoadRun(id string) (*Result, error) {
	rows, err := s.db.Query(
		`SELECT date, status, solver, mean, risk, objective, failed, reason, weights
		 FROM backtest_entries WHERE run_id = ? ORDER BY seq`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query run %s: %w", id, err)
	}
	defer rows.Close()

	var result Result
	for rows.Next() {
		var (
			date      int64
			status    int
			solverStr string
			mean      float64
			risk      float64
			objective float64
			failed    int
			reason    string
			blob      []byte
		)
		if err := rows.Scan(&date, &status, &solverStr, &mean, &risk, &objective, &failed, &reason, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		var weights []float64
		if err := msgpack.Unmarshal(blob, &weights); err != nil {
			return nil, fmt.Errorf("failed to unmarshal weights: %w", err)
		}
		result.Entries = append(result.Entries, Entry{
			Date:   time.Unix(date, 0).UTC(),
			Failed: failed != 0,
			Reason: reason,
			Result: optimizer.Result{
				Weights:   weights,
				Mean:      mean,
				Risk:      risk,
				Objective: objective,
				Solver:    solverStr,
				Status:    solver.Status(status),
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read run %s: %w", id, err)
	}
	if len(result.Entries) == 0 {
		return nil, fmt.Errorf("run %s not found", id)
	}
	return &result, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
