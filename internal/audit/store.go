package audit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Store defines audit log storage operations.
type Store interface {
	// Append stores e. Stores that evict cheaply may drop the oldest entries
	// beyond maxEntries; others leave that to Trim.
	Append(ctx context.Context, e Entry, maxEntries int) error
	// Query returns matching entries newest-first and the total match count.
	Query(ctx context.Context, f Filter) ([]Entry, int, error)
	GetEvent(ctx context.Context, id string) (Entry, error)
	// PruneBefore removes entries older than cutoff.
	PruneBefore(ctx context.Context, cutoff time.Time) (int, error)
	// Trim removes the oldest entries beyond maxEntries.
	Trim(ctx context.Context, maxEntries int) (int, error)
	Count(ctx context.Context) (int, error)
}

// memoryStore is a ring buffer. Appends overwrite the oldest slot once full.
type memoryStore struct {
	mu       sync.RWMutex
	buf      []Entry
	next     int
	capacity int
}

// NewMemoryStore creates a bounded in-memory audit store.
func NewMemoryStore(capacity int) Store {
	if capacity <= 0 {
		capacity = DefaultMaxEntries
	}
	return &memoryStore{capacity: capacity}
}

func (s *memoryStore) Append(_ context.Context, e Entry, maxEntries int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if maxEntries > 0 && maxEntries != s.capacity {
		s.resize(maxEntries)
	}
	if len(s.buf) < s.capacity {
		s.buf = append(s.buf, e)
		s.next = len(s.buf) % s.capacity
		return nil
	}
	s.buf[s.next] = e
	s.next = (s.next + 1) % s.capacity
	return nil
}

// at returns the i-th newest entry. Caller holds the lock.
func (s *memoryStore) at(i int) Entry {
	n := len(s.buf)
	return s.buf[((s.next-1-i)%n+n)%n]
}

// resize rebuilds the ring keeping the newest entries. Caller holds the lock.
func (s *memoryStore) resize(capacity int) {
	keep := len(s.buf)
	if keep > capacity {
		keep = capacity
	}
	rebuilt := make([]Entry, keep)
	for i := 0; i < keep; i++ {
		rebuilt[keep-1-i] = s.at(i)
	}
	s.buf = rebuilt
	s.capacity = capacity
	s.next = len(s.buf) % s.capacity
}

func (s *memoryStore) Query(_ context.Context, f Filter) ([]Entry, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	total := 0
	for i := 0; i < len(s.buf); i++ {
		e := s.at(i)
		if !f.Match(e) {
			continue
		}
		total++
		if total <= f.Offset {
			continue
		}
		if f.Limit > 0 && len(out) >= f.Limit {
			continue
		}
		out = append(out, e.clone())
	}
	return out, total, nil
}

func (s *memoryStore) GetEvent(_ context.Context, id string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := 0; i < len(s.buf); i++ {
		if e := s.at(i); e.ID == id {
			return e.clone(), nil
		}
	}
	return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (s *memoryStore) PruneBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := make([]Entry, 0, len(s.buf))
	for i := len(s.buf) - 1; i >= 0; i-- {
		if e := s.at(i); !e.Timestamp.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	removed := len(s.buf) - len(kept)
	s.buf = kept
	s.next = len(s.buf) % s.capacity
	return removed, nil
}

func (s *memoryStore) Trim(_ context.Context, maxEntries int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if maxEntries <= 0 || len(s.buf) <= maxEntries {
		return 0, nil
	}
	removed := len(s.buf) - maxEntries
	s.resize(maxEntries)
	return removed, nil
}

func (s *memoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buf), nil
}
