package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps everything in process memory. It does not survive a
// restart and is meant for tests and ephemeral runs.
type MemoryStore struct {
	mu          sync.Mutex
	values      map[string][]byte
	completions []CompletionRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string][]byte)}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.values[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = append([]byte(nil), value...)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)
	return nil
}

func (s *MemoryStore) SaveCompletion(_ context.Context, record *CompletionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.completions = append(s.completions, *record)
	return nil
}

func (s *MemoryStore) GetCompletionsByStep(_ context.Context, stepID int, since time.Time) ([]CompletionRecord, error) {
	return s.filter(func(r CompletionRecord) bool {
		return r.StepID == stepID && !r.CompletedAt.Before(since)
	}), nil
}

func (s *MemoryStore) GetRecentCompletions(_ context.Context, since time.Time) ([]CompletionRecord, error) {
	return s.filter(func(r CompletionRecord) bool {
		return !r.CompletedAt.Before(since)
	}), nil
}

func (s *MemoryStore) GetProgressStats(context.Context) (*ProgressStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return statsOf(s.completions), nil
}

func (s *MemoryStore) filter(keep func(CompletionRecord) bool) []CompletionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []CompletionRecord
	for _, r := range s.completions {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CompletedAt.After(out[j].CompletedAt)
	})
	return out
}

func (s *MemoryStore) Close() error {
	return nil
}
