package storage

import (
	"context"
	"errors"
	"sync"

	"likeness/internal/model"
)

type MemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]model.SessionSummary
	snapshots map[string]model.KnowledgeSnapshot
	snapOrder []string
	history   map[string][]float64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions = make(map[string]model.SessionSummary)
	s.snapshots = make(map[string]model.KnowledgeSnapshot)
	s.snapOrder = nil
	s.history = make(map[string][]float64)
	return nil
}

// ready reports whether Init has run; both backends answer misuse with the
// same error instead of a nil-map panic.
func (s *MemoryStore) ready() error {
	if s.sessions == nil {
		return errors.New("store is not initialized")
	}
	return nil
}

func (s *MemoryStore) SaveSessionSummary(_ context.Context, summary model.SessionSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return err
	}
	s.sessions[summary.ID] = summary
	return nil
}

func (s *MemoryStore) GetSessionSummary(_ context.Context, id string) (model.SessionSummary, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.ready(); err != nil {
		return model.SessionSummary{}, false, err
	}
	summary, ok := s.sessions[id]
	return summary, ok, nil
}

func (s *MemoryStore) ListSessionSummaries(_ context.Context) ([]model.SessionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.ready(); err != nil {
		return nil, err
	}
	out := make([]model.SessionSummary, 0, len(s.sessions))
	for _, summary := range s.sessions {
		out = append(out, summary)
	}
	return out, nil
}

func (s *MemoryStore) SaveKnowledgeSnapshot(_ context.Context, snapshot model.KnowledgeSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return err
	}
	if _, exists := s.snapshots[snapshot.ID]; !exists {
		s.snapOrder = append(s.snapOrder, snapshot.ID)
	}
	copied := snapshot
	copied.Blob = append([]byte(nil), snapshot.Blob...)
	s.snapshots[snapshot.ID] = copied
	return nil
}

func (s *MemoryStore) GetKnowledgeSnapshot(_ context.Context, id string) (model.KnowledgeSnapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.ready(); err != nil {
		return model.KnowledgeSnapshot{}, false, err
	}
	snapshot, ok := s.snapshots[id]
	if !ok {
		return model.KnowledgeSnapshot{}, false, nil
	}
	copied := snapshot
	copied.Blob = append([]byte(nil), snapshot.Blob...)
	return copied, true, nil
}

func (s *MemoryStore) LatestKnowledgeSnapshot(_ context.Context) (model.KnowledgeSnapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.ready(); err != nil {
		return model.KnowledgeSnapshot{}, false, err
	}
	if len(s.snapOrder) == 0 {
		return model.KnowledgeSnapshot{}, false, nil
	}
	snapshot := s.snapshots[s.snapOrder[len(s.snapOrder)-1]]
	copied := snapshot
	copied.Blob = append([]byte(nil), snapshot.Blob...)
	return copied, true, nil
}

func (s *MemoryStore) SaveScoreHistory(_ context.Context, sessionID string, history []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return err
	}
	s.history[sessionID] = append([]float64(nil), history...)
	return nil
}

func (s *MemoryStore) GetScoreHistory(_ context.Context, sessionID string) ([]float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.ready(); err != nil {
		return nil, false, err
	}
	history, ok := s.history[sessionID]
	if !ok {
		return nil, false, nil
	}
	return append([]float64(nil), history...), true, nil
}
