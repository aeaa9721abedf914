package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Store persists security policies.
type Store interface {
	Create(ctx context.Context, p Policy) error
	Get(ctx context.Context, id string) (Policy, error)
	List(ctx context.Context) ([]Policy, error)
	Update(ctx context.Context, p Policy) error
	Delete(ctx context.Context, id string) error
}

type memoryStore struct {
	mu       sync.RWMutex
	policies map[string]Policy
}

// NewMemoryStore creates an in-memory policy store.
func NewMemoryStore() Store {
	return &memoryStore{policies: make(map[string]Policy)}
}

func (s *memoryStore) Create(_ context.Context, p Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policies[p.ID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, p.ID)
	}
	s.policies[p.ID] = p.clone()
	return nil
}

func (s *memoryStore) Get(_ context.Context, id string) (Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[id]
	if !ok {
		return Policy{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return p.clone(), nil
}

// List returns policies ordered by id.
func (s *memoryStore) List(_ context.Context) ([]Policy, error) {
	s.mu.RLock()
	out := make([]Policy, 0, len(s.policies))
	for _, p := range s.policies {
		out = append(out, p.clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) Update(_ context.Context, p Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policies[p.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, p.ID)
	}
	s.policies[p.ID] = p.clone()
	return nil
}

func (s *memoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policies[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.policies, id)
	return nil
}
