package governance

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Store persists access requests.
type Store interface {
	Create(ctx context.Context, r AccessRequest) error
	Get(ctx context.Context, id string) (AccessRequest, error)
	// List returns requests oldest first; an empty status lists all.
	List(ctx context.Context, status Status) ([]AccessRequest, error)
	// Transition writes r only if the stored request is still pending and
	// returns ErrInvalidState otherwise.
	Transition(ctx context.Context, r AccessRequest) error
}

type memoryStore struct {
	mu       sync.RWMutex
	requests map[string]AccessRequest
}

// NewMemoryStore creates an in-memory request store.
func NewMemoryStore() Store {
	return &memoryStore{requests: make(map[string]AccessRequest)}
}

func (s *memoryStore) Create(_ context.Context, r AccessRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[r.ID]; ok {
		return fmt.Errorf("%w: request %s already exists", ErrInvalidState, r.ID)
	}
	s.requests[r.ID] = r.clone()
	return nil
}

func (s *memoryStore) Get(_ context.Context, id string) (AccessRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[id]
	if !ok {
		return AccessRequest{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r.clone(), nil
}

func (s *memoryStore) List(_ context.Context, status Status) ([]AccessRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AccessRequest, 0, len(s.requests))
	for _, r := range s.requests {
		if status == "" || r.Status == status {
			out = append(out, r.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *memoryStore) Transition(_ context.Context, r AccessRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.requests[r.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, r.ID)
	}
	if !cur.Pending() {
		return fmt.Errorf("%w: request %s is %s", ErrInvalidState, r.ID, cur.Status)
	}
	s.requests[r.ID] = r.clone()
	return nil
}
