package rbac

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Store defines RBAC storage operations. Each method is atomic.
type Store interface {
	// Roles
	CreateRole(ctx context.Context, r Role) error
	GetRole(ctx context.Context, id string) (Role, error)
	GetRoleByName(ctx context.Context, name string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	UpdateRole(ctx context.Context, r Role) error
	DeleteRole(ctx context.Context, id string) error

	// Assignments
	// UpsertAssignment soft-deletes any active assignment for the same
	// (user, role) pair and appends a. It returns the superseded entries.
	UpsertAssignment(ctx context.Context, a Assignment, superseded Removal) ([]Assignment, error)
	// RemoveAssignment soft-deletes the active assignment for the pair and
	// reports whether one existed.
	RemoveAssignment(ctx context.Context, userID, roleID string, rm Removal) (Assignment, bool, error)
	ListAssignments(ctx context.Context, f AssignmentFilter) ([]Assignment, error)
	// ExpireLapsed soft-deletes every active assignment whose expiry is at or
	// before now and returns them.
	ExpireLapsed(ctx context.Context, now time.Time, rm Removal) ([]Assignment, error)
}

type memoryStore struct {
	mu          sync.RWMutex
	roles       map[string]Role
	assignments []Assignment
}

// NewMemoryStore creates an in-memory RBAC store.
func NewMemoryStore() Store {
	return &memoryStore{roles: make(map[string]Role)}
}

func (s *memoryStore) CreateRole(_ context.Context, r Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[r.ID]; ok {
		return fmt.Errorf("%w: role %s", ErrAlreadyExists, r.ID)
	}
	if s.nameTaken(r.Name, r.ID) {
		return fmt.Errorf("%w: role name %q", ErrAlreadyExists, r.Name)
	}
	s.roles[r.ID] = r.clone()
	return nil
}

// nameTaken compares case-insensitively. Caller holds the lock.
func (s *memoryStore) nameTaken(name, exceptID string) bool {
	for id, existing := range s.roles {
		if id != exceptID && strings.EqualFold(existing.Name, name) {
			return true
		}
	}
	return false
}

func (s *memoryStore) GetRole(_ context.Context, id string) (Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[id]
	if !ok {
		return Role{}, fmt.Errorf("%w: role %s", ErrNotFound, id)
	}
	return r.clone(), nil
}

func (s *memoryStore) GetRoleByName(_ context.Context, name string) (Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.roles {
		if strings.EqualFold(r.Name, name) {
			return r.clone(), nil
		}
	}
	return Role{}, fmt.Errorf("%w: role name %q", ErrNotFound, name)
}

// ListRoles orders by hierarchy descending, then id.
func (s *memoryStore) ListRoles(_ context.Context) ([]Role, error) {
	s.mu.RLock()
	out := make([]Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, r.clone())
	}
	s.mu.RUnlock()
	SortRoles(out)
	return out, nil
}

func (s *memoryStore) UpdateRole(_ context.Context, r Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[r.ID]; !ok {
		return fmt.Errorf("%w: role %s", ErrNotFound, r.ID)
	}
	if s.nameTaken(r.Name, r.ID) {
		return fmt.Errorf("%w: role name %q", ErrAlreadyExists, r.Name)
	}
	s.roles[r.ID] = r.clone()
	return nil
}

func (s *memoryStore) DeleteRole(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[id]; !ok {
		return fmt.Errorf("%w: role %s", ErrNotFound, id)
	}
	delete(s.roles, id)
	return nil
}

func (s *memoryStore) UpsertAssignment(_ context.Context, a Assignment, rm Removal) ([]Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var superseded []Assignment
	for i := range s.assignments {
		cur := &s.assignments[i]
		if cur.IsActive && cur.UserID == a.UserID && cur.RoleID == a.RoleID {
			softDelete(cur, rm)
			superseded = append(superseded, cur.clone())
		}
	}
	s.assignments = append(s.assignments, a.clone())
	return superseded, nil
}

func (s *memoryStore) RemoveAssignment(_ context.Context, userID, roleID string, rm Removal) (Assignment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		removed Assignment
		found   bool
	)
	for i := range s.assignments {
		cur := &s.assignments[i]
		if cur.IsActive && cur.UserID == userID && cur.RoleID == roleID {
			softDelete(cur, rm)
			removed, found = cur.clone(), true
		}
	}
	return removed, found, nil
}

func (s *memoryStore) ListAssignments(_ context.Context, f AssignmentFilter) ([]Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Assignment
	for _, a := range s.assignments {
		if f.match(a) {
			out = append(out, a.clone())
		}
	}
	return out, nil
}

func (s *memoryStore) ExpireLapsed(_ context.Context, now time.Time, rm Removal) ([]Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []Assignment
	for i := range s.assignments {
		cur := &s.assignments[i]
		if cur.Lapsed(now) {
			softDelete(cur, rm)
			expired = append(expired, cur.clone())
		}
	}
	return expired, nil
}

func softDelete(a *Assignment, rm Removal) {
	at := rm.At
	a.IsActive = false
	a.RemovedBy = rm.By
	a.RemovedAt = &at
	if rm.Reason != "" {
		a.Metadata.RemovalReason = rm.Reason
	}
}

// SortRoles orders roles by hierarchy descending, then id.
func SortRoles(roles []Role) {
	sort.SliceStable(roles, func(i, j int) bool {
		if roles[i].Hierarchy != roles[j].Hierarchy {
			return roles[i].Hierarchy > roles[j].Hierarchy
		}
		return roles[i].ID < roles[j].ID
	})
}
