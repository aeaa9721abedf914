package identity

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryDirectory is an in-process Directory for embedded use and tests.
type MemoryDirectory struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewMemoryDirectory creates a directory holding users.
func NewMemoryDirectory(users ...User) *MemoryDirectory {
	d := &MemoryDirectory{users: make(map[string]User, len(users))}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

// Put inserts or replaces a user.
func (d *MemoryDirectory) Put(u User) {
	d.mu.Lock()
	d.users[u.ID] = u
	d.mu.Unlock()
}

// SetStatus changes a user's status in place.
func (d *MemoryDirectory) SetStatus(id string, status Status) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	u.Status = status
	d.users[id] = u
	return nil
}

// Delete removes a user.
func (d *MemoryDirectory) Delete(id string) {
	d.mu.Lock()
	delete(d.users, id)
	d.mu.Unlock()
}

func (d *MemoryDirectory) GetUser(_ context.Context, id string) (User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	if !ok {
		return User{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return u, nil
}

func (d *MemoryDirectory) ListUsers(_ context.Context) ([]User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]User, 0, len(d.users))
	for _, u := range d.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
