package store

import (
	"context"
	"slices"
	"sync"

	"passing.thoughts/internal/models"
)

// Compile-time interface check
var _ Store = (*MemoryStore)(nil)

type MemoryStore struct {
	thoughts []models.Thought
	index    map[string]struct{}
	mu       sync.RWMutex
	closed   bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		index: make(map[string]struct{}),
	}
}

func (s *MemoryStore) Add(ctx context.Context, thought models.Thought) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrClosed
	}
	if _, ok := s.index[thought.ID]; ok {
		return false, nil
	}

	s.thoughts = append(s.thoughts, thought)
	s.index[thought.ID] = struct{}{}
	return true, nil
}

func (s *MemoryStore) Remove(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrClosed
	}
	if _, ok := s.index[id]; !ok {
		return false, nil
	}

	delete(s.index, id)
	s.thoughts = slices.DeleteFunc(s.thoughts, func(t models.Thought) bool {
		return t.ID == id
	})
	return true, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]models.Thought, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	return slices.Clone(s.thoughts), nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.thoughts)
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.thoughts = nil
	s.index = nil
	return nil
}
