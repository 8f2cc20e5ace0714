package failures

import (
	"sync"
	"time"

	"storemon/internal/model"
)

// Store is a bounded log of per-store failures; the oldest entries are
// dropped first.
type Store struct {
	mu    sync.RWMutex
	buf   []model.StoreFailure
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit}
}

func (s *Store) Add(f model.StoreFailure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, f)
		return
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = f
}

// List returns up to limit of the most recent failures, oldest first.
func (s *Store) List(limit int) []model.StoreFailure {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]model.StoreFailure, 0, limit)
	for i := len(s.buf) - limit; i < len(s.buf); i++ {
		out = append(out, s.buf[i])
	}
	return out
}

func (s *Store) Since(ts time.Time) []model.StoreFailure {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.StoreFailure, 0)
	for _, f := range s.buf {
		if !f.Timestamp.Before(ts) {
			out = append(out, f)
		}
	}
	return out
}

// ForReport returns the failures recorded for one report run.
func (s *Store) ForReport(reportID string) []model.StoreFailure {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.StoreFailure
	for _, f := range s.buf {
		if f.ReportID == reportID {
			out = append(out, f)
		}
	}
	return out
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}
