package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileVersion is the current version of the state file format.
const FileVersion = 1

type fileState struct {
	Version     int                `json:"version"`
	SavedAt     time.Time          `json:"saved_at"`
	Values      map[string][]byte  `json:"values,omitempty"`
	Completions []CompletionRecord `json:"completions,omitempty"`
}

// FileStore keeps state in a single JSON file. Every mutation rewrites the
// file through a temp file and rename so readers never see a partial write.
type FileStore struct {
	mu   sync.Mutex
	path string
	mem  *MemoryStore
}

// NewFileStore loads path if it exists. A missing file is an empty store.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, mem: NewMemoryStore()}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}

	var state fileState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	for k, v := range state.Values {
		s.mem.values[k] = v
	}
	s.mem.completions = state.Completions

	return s, nil
}

func (s *FileStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return s.mem.Get(ctx, key)
}

// Set, Delete and SaveCompletion persist a copy of the state with the change
// applied and only then commit it to memory, so a failed write leaves both
// unchanged.
func (s *FileStore) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.snapshot()
	state.Values[key] = value
	if err := s.write(state); err != nil {
		return err
	}
	return s.mem.Set(ctx, key, value)
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.snapshot()
	delete(state.Values, key)
	if err := s.write(state); err != nil {
		return err
	}
	return s.mem.Delete(ctx, key)
}

func (s *FileStore) SaveCompletion(ctx context.Context, record *CompletionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.snapshot()
	state.Completions = append(state.Completions, *record)
	if err := s.write(state); err != nil {
		return err
	}
	return s.mem.SaveCompletion(ctx, record)
}

func (s *FileStore) GetCompletionsByStep(ctx context.Context, stepID int, since time.Time) ([]CompletionRecord, error) {
	return s.mem.GetCompletionsByStep(ctx, stepID, since)
}

func (s *FileStore) GetRecentCompletions(ctx context.Context, since time.Time) ([]CompletionRecord, error) {
	return s.mem.GetRecentCompletions(ctx, since)
}

func (s *FileStore) GetProgressStats(ctx context.Context) (*ProgressStats, error) {
	return s.mem.GetProgressStats(ctx)
}

func (s *FileStore) Close() error {
	return nil
}

// snapshot copies the committed state.
func (s *FileStore) snapshot() fileState {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()

	values := make(map[string][]byte, len(s.mem.values)+1)
	for k, v := range s.mem.values {
		values[k] = v
	}
	return fileState{
		Version:     FileVersion,
		Values:      values,
		Completions: append([]CompletionRecord(nil), s.mem.completions...),
	}
}

func (s *FileStore) write(state fileState) error {
	state.SavedAt = time.Now()
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
