package catalog

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrNotFound indicates the permission id is not registered.
	ErrNotFound = errors.New("catalog: permission not found")
	// ErrAlreadyExists indicates an id is already bound to a different definition.
	ErrAlreadyExists = errors.New("catalog: permission already exists")
)

// Catalog is the registry of permission definitions.
type Catalog interface {
	Register(p Permission) error
	Get(id string) (Permission, error)
	List() []Permission
	Resolve(ids []string) ([]Permission, error)
}

type registry struct {
	mu    sync.RWMutex
	perms map[string]Permission
}

// New creates a catalog pre-loaded with the given definitions.
func New(perms ...Permission) (Catalog, error) {
	r := &registry{perms: make(map[string]Permission, len(perms))}
	for _, p := range perms {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// NewDefault creates a catalog holding the built-in definitions.
func NewDefault() Catalog {
	c, err := New(Defaults()...)
	if err != nil {
		panic(fmt.Sprintf("catalog: invalid built-in permissions: %v", err))
	}
	return c
}

// Register adds a definition. Registering an identical definition again is a
// no-op; a different definition under an existing id is rejected because
// definitions are immutable once published.
func (r *registry) Register(p Permission) error {
	if err := p.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.perms[p.ID]; ok {
		if existing.Equal(p) {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrAlreadyExists, p.ID)
	}
	r.perms[p.ID] = p
	return nil
}

func (r *registry) Get(id string) (Permission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.perms[id]
	if !ok {
		return Permission{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return p, nil
}

// List returns every definition ordered by id.
func (r *registry) List() []Permission {
	r.mu.RLock()
	out := make([]Permission, 0, len(r.perms))
	for _, p := range r.perms {
		out = append(out, p)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Resolve looks up each id in order.
func (r *registry) Resolve(ids []string) ([]Permission, error) {
	out := make([]Permission, 0, len(ids))
	for _, id := range ids {
		p, err := r.Get(id)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
