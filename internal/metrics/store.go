package metrics

import (
	"sort"
	"sync"
	"time"

	"storemon/internal/model"
)

// Store keeps the latest metrics per store, evicting the least recently
// updated store once limit is exceeded.
type Store struct {
	mu      sync.RWMutex
	byStore map[string]model.StoreMetrics
	limit   int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 50000
	}
	return &Store{
		byStore: make(map[string]model.StoreMetrics),
		limit:   limit,
	}
}

// Update records the rows of one report run.
func (s *Store) Update(reportID string, now time.Time, rows []model.ReportRow) {
	if len(rows) == 0 {
		return
	}
	updated := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		if row.StoreID == "" {
			continue
		}
		s.byStore[row.StoreID] = model.StoreMetrics{
			StoreID:   row.StoreID,
			ReportID:  reportID,
			Now:       now,
			Metrics:   row.MetricsResult,
			UpdatedAt: updated,
		}
	}
	for len(s.byStore) > s.limit {
		s.evictOldest()
	}
}

func (s *Store) Get(storeID string) (model.StoreMetrics, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byStore[storeID]
	return m, ok
}

// GetAll returns every cached entry sorted by store id.
func (s *Store) GetAll() []model.StoreMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.StoreMetrics, 0, len(s.byStore))
	for _, m := range s.byStore {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StoreID < out[j].StoreID })
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byStore)
}

func (s *Store) evictOldest() {
	var oldestStore string
	var oldest time.Time
	for id, m := range s.byStore {
		if oldestStore == "" || m.UpdatedAt.Before(oldest) || (m.UpdatedAt.Equal(oldest) && id < oldestStore) {
			oldestStore = id
			oldest = m.UpdatedAt
		}
	}
	if oldestStore != "" {
		delete(s.byStore, oldestStore)
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byStore = make(map[string]model.StoreMetrics)
}
