package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is a process-local Store used by tests, examples, and the
// interactive CLI. Snapshots are deep-copied through their JSON-equivalent
// clone so callers cannot mutate stored state.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]*Progress
}

// NewMemoryStore returns an empty in-memory progress store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]*Progress)}
}

// Create assigns a fresh id and stores the snapshot.
func (s *MemoryStore) Create(_ context.Context, progress *Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if progress.ID == "" {
		progress.ID = uuid.NewString()
	}
	s.rows[progress.ID] = copyProgress(progress)
	return nil
}

// Update overwrites the stored snapshot for the progress id.
func (s *MemoryStore) Update(_ context.Context, progress *Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[progress.ID]; !ok {
		return ErrProgressNotFound
	}
	s.rows[progress.ID] = copyProgress(progress)
	return nil
}

// GetByID returns a snapshot together with its direct children.
func (s *MemoryStore) GetByID(_ context.Context, id string) (*Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, ErrProgressNotFound
	}
	out := copyProgress(row)
	for _, candidate := range s.rows {
		if candidate.ParentProgressID == id {
			out.Children = append(out.Children, copyProgress(candidate))
		}
	}
	return out, nil
}

func copyProgress(in *Progress) *Progress {
	out := *in
	out.CurrentStepData = in.CurrentStepData.Clone()
	out.AllStepsData = in.AllStepsData.Clone()
	out.Children = nil
	return &out
}
