// Package history keeps every point an optimisation evaluated, with its
// objective and constraint values.
package history

import (
	"fmt"

	"github.com/google/uuid"
)

// Backend names.
const (
	Memory = "memory"
	CSV    = "csv"
	SQLite = "sqlite"
)

const defaultSaveInterval = 50

// Entry is one evaluation.
type Entry struct {
	Index       int
	RunID       string
	X           []float64
	Residuals   []float64
	Constraints []float64
}

// Store receives the evaluations of one run.
type Store interface {
	Record(x, residuals, constraints []float64) error
	// Flush writes the buffered entries.
	Flush() error
	Close() error
	RunID() string
}

// Options configure a store.
type Options struct {
	// Path is the output directory of the csv backend and the database file
	// of the sqlite backend.
	Path string
	// RunID tells runs sharing files apart. A random id is used when empty.
	RunID string
	// SaveInterval is the number of entries buffered between two writes.
	SaveInterval int
	// Names of the columns of the csv backend.
	Variables  []string
	Objectives []string
}

func (o Options) withDefaults() Options {
	if o.RunID == "" {
		o.RunID = uuid.NewString()
	}
	if o.SaveInterval <= 0 {
		o.SaveInterval = defaultSaveInterval
	}
	return o
}

// Open returns the store of the given backend.
func Open(kind string, opts Options) (Store, error) {
	opts = opts.withDefaults()
	switch kind {
	case "", Memory:
		return NewMemoryStore(opts.RunID), nil
	case CSV:
		return NewCSVStore(opts)
	case SQLite:
		return newSQLiteStore(opts)
	default:
		return nil, fmt.Errorf("unsupported history backend: %s", kind)
	}
}

func copyOf(v []float64) []float64 {
	if v == nil {
		return nil
	}
	return append([]float64(nil), v...)
}
