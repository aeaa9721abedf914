package events

import (
	"context"
	"sync"
)

// Collector is a synchronous Publisher that keeps every event in memory.
// Embedded deployments use it to inspect activity without running sinks.
type Collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *Collector) Publish(_ context.Context, event Event) {
	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()
}

// Events returns a copy of the collected events in publish order.
func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

// OfType returns the collected events whose Type equals t.
func (c *Collector) OfType(t string) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Event
	for _, e := range c.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Reset discards collected events.
func (c *Collector) Reset() {
	c.mu.Lock()
	c.events = nil
	c.mu.Unlock()
}
