package history

import "sync"

type MemoryStore struct {
	runID string

	mu      sync.RWMutex
	entries []Entry
}

func NewMemoryStore(runID string) *MemoryStore {
	return &MemoryStore{runID: runID}
}

func (s *MemoryStore) RunID() string { return s.runID }

func (s *MemoryStore) Record(x, residuals, constraints []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, Entry{
		Index:       len(s.entries),
		RunID:       s.runID,
		X:           copyOf(x),
		Residuals:   copyOf(residuals),
		Constraints: copyOf(constraints),
	})
	return nil
}

// Entries returns the recorded evaluations in order.
func (s *MemoryStore) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]Entry(nil), s.entries...)
}

func (s *MemoryStore) Flush() error { return nil }

func (s *MemoryStore) Close() error { return nil }
