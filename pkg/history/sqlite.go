//go:build sqlite

package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps the entries of every run in one database file. Entries
// are inserted by batches of SaveInterval in one transaction.
type SQLiteStore struct {
	path     string
	runID    string
	interval int

	mu      sync.Mutex
	db      *sql.DB
	next    int
	pending []Entry
}

func newSQLiteStore(opts Options) (Store, error) {
	s := NewSQLiteStore(opts)
	if err := s.Init(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func NewSQLiteStore(opts Options) *SQLiteStore {
	opts = opts.withDefaults()
	return &SQLiteStore{path: opts.Path, runID: opts.RunID, interval: opts.SaveInterval}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM evaluations WHERE run_id = ?`, s.runID).Scan(&s.next); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) RunID() string { return s.runID }

func (s *SQLiteStore) Record(x, residuals, constraints []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = append(s.pending, Entry{
		Index:       s.next,
		RunID:       s.runID,
		X:           copyOf(x),
		Residuals:   copyOf(residuals),
		Constraints: copyOf(constraints),
	})
	s.next++
	if len(s.pending) >= s.interval {
		return s.flush(context.Background())
	}
	return nil
}

func (s *SQLiteStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flush(context.Background())
}

func (s *SQLiteStore) flush(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}
	if s.db == nil {
		return errors.New("store is not initialized")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO evaluations (run_id, idx, x, residuals, constraints)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id, idx) DO UPDATE SET
			x = excluded.x,
			residuals = excluded.residuals,
			constraints = excluded.constraints
	`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, e := range s.pending {
		if _, err := stmt.ExecContext(ctx, e.RunID, e.Index, encode(e.X), encode(e.Residuals), encode(e.Constraints)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert evaluation %d: %w", e.Index, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.pending = s.pending[:0]
	return nil
}

// Entries returns the flushed entries of runID in order.
func (s *SQLiteStore) Entries(ctx context.Context, runID string) ([]Entry, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, errors.New("store is not initialized")
	}

	rows, err := db.QueryContext(ctx, `
		SELECT idx, x, residuals, constraints FROM evaluations
		WHERE run_id = ? ORDER BY idx
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e := Entry{RunID: runID}
		var x, r, g string
		if err := rows.Scan(&e.Index, &x, &r, &g); err != nil {
			return nil, err
		}
		for _, f := range []struct {
			src string
			dst *[]float64
		}{{x, &e.X}, {r, &e.Residuals}, {g, &e.Constraints}} {
			vals, err := decode(f.src)
			if err != nil {
				return nil, fmt.Errorf("decode evaluation %d: %w", e.Index, err)
			}
			*f.dst = vals
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	if err := s.Flush(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// encode writes the values as a comma separated list. NaN and infinities
// are kept.
func encode(v []float64) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.FormatFloat(x, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

func decode(s string) ([]float64, error) {
	if s == "" {
		return nil, nil
	}
	return parseValues(strings.Split(s, ","))
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS evaluations (
			run_id TEXT NOT NULL,
			idx INTEGER NOT NULL,
			x TEXT NOT NULL,
			residuals TEXT NOT NULL,
			constraints TEXT NOT NULL,
			PRIMARY KEY (run_id, idx)
		);
	`)
	return err
}
