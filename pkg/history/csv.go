package history

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// File names of the csv backend.
const (
	SettingsFile    = "settings.csv"
	ObjectivesFile  = "objectives.csv"
	ConstraintsFile = "constraints.csv"
)

// CSVStore buffers the entries and appends them to three files every
// SaveInterval records and on Flush. Files left by a previous run in the
// same directory are replaced.
type CSVStore struct {
	dir      string
	runID    string
	interval int
	names    [3][]string

	mu      sync.Mutex
	next    int
	pending []Entry
	headers bool
}

func NewCSVStore(opts Options) (*CSVStore, error) {
	opts = opts.withDefaults()
	if opts.Path == "" {
		return nil, errors.New("csv history needs a directory")
	}
	if err := os.MkdirAll(opts.Path, 0o755); err != nil {
		return nil, err
	}
	for _, name := range []string{SettingsFile, ObjectivesFile, ConstraintsFile} {
		if err := os.Remove(filepath.Join(opts.Path, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return &CSVStore{
		dir:      opts.Path,
		runID:    opts.RunID,
		interval: opts.SaveInterval,
		names:    [3][]string{opts.Variables, opts.Objectives, nil},
	}, nil
}

func (s *CSVStore) RunID() string { return s.runID }

func (s *CSVStore) Record(x, residuals, constraints []float64) error {
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
		return s.flush()
	}
	return nil
}

func (s *CSVStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flush()
}

func (s *CSVStore) Close() error { return s.Flush() }

func (s *CSVStore) flush() error {
	if len(s.pending) == 0 {
		return nil
	}
	files := []string{SettingsFile, ObjectivesFile, ConstraintsFile}
	prefixes := []string{"x", "f", "g"}
	for k, name := range files {
		rows := make([][]string, 0, len(s.pending)+1)
		if !s.headers {
			rows = append(rows, header(s.names[k], prefixes[k], len(column(s.pending[0], k))))
		}
		for _, e := range s.pending {
			rows = append(rows, row(e, column(e, k)))
		}
		if err := appendRows(filepath.Join(s.dir, name), rows); err != nil {
			return fmt.Errorf("history %s: %w", name, err)
		}
	}
	s.headers = true
	s.pending = s.pending[:0]
	return nil
}

func column(e Entry, k int) []float64 {
	switch k {
	case 0:
		return e.X
	case 1:
		return e.Residuals
	}
	return e.Constraints
}

func header(names []string, prefix string, n int) []string {
	h := []string{"index", "run_id"}
	if len(names) == n {
		return append(h, names...)
	}
	for i := 0; i < n; i++ {
		h = append(h, fmt.Sprintf("%s_%d", prefix, i))
	}
	return h
}

func row(e Entry, values []float64) []string {
	r := make([]string, 0, len(values)+2)
	r = append(r, strconv.Itoa(e.Index), e.RunID)
	for _, v := range values {
		r = append(r, strconv.FormatFloat(v, 'g', -1, 64))
	}
	return r
}

func appendRows(path string, rows [][]string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadCSV reads back the entries written in dir by a CSVStore.
func LoadCSV(dir string) ([]Entry, error) {
	var tables [3][][]string
	for k, name := range []string{SettingsFile, ObjectivesFile, ConstraintsFile} {
		rows, err := readRows(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		tables[k] = rows
	}
	n := len(tables[0])
	if len(tables[1]) != n || len(tables[2]) != n {
		return nil, fmt.Errorf("history: %s has %d rows, %s %d and %s %d",
			SettingsFile, n, ObjectivesFile, len(tables[1]), ConstraintsFile, len(tables[2]))
	}

	entries := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		idx, err := strconv.Atoi(tables[0][i][0])
		if err != nil {
			return nil, fmt.Errorf("history: row %d: %w", i+1, err)
		}
		e := Entry{Index: idx, RunID: tables[0][i][1]}
		for k, dst := range []*[]float64{&e.X, &e.Residuals, &e.Constraints} {
			vals, err := parseValues(tables[k][i][2:])
			if err != nil {
				return nil, fmt.Errorf("history: row %d: %w", i+1, err)
			}
			*dst = vals
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// readRows returns the data rows, without the header.
func readRows(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	for i, row := range rows[1:] {
		if len(row) < 2 {
			return nil, fmt.Errorf("%s:%d: expected index and run id", path, i+2)
		}
	}
	return rows[1:], nil
}

func parseValues(fields []string) ([]float64, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	out := make([]float64, len(fields))
	for i, s := range fields {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
