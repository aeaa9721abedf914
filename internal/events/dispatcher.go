package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Event is a denormalized record handed to activity-tracking consumers.
type Event struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"` // e.g. "audit.role_assigned"
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// Publisher accepts events without blocking the caller.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// Sink receives events from the dispatcher's workers.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event Event) error
}

type discard struct{}

func (discard) Publish(context.Context, Event) {}

// Discard is a Publisher that drops every event.
var Discard Publisher = discard{}

// DispatcherOptions tunes the delivery queue.
type DispatcherOptions struct {
	QueueSize       int
	Workers         int
	DeliveryTimeout time.Duration
}

// Dispatcher fans events out to sinks on background workers. Delivery is best
// effort: when the queue is full the event is dropped and counted.
type Dispatcher struct {
	sinks   []Sink
	logger  *zap.Logger
	opts    DispatcherOptions
	queue   chan Event
	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

// NewDispatcher creates a new event dispatcher.
func NewDispatcher(logger *zap.Logger, opts DispatcherOptions, sinks ...Sink) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		sinks:  sinks,
		logger: logger,
		opts:   opts,
		queue:  make(chan Event, opts.QueueSize),
	}
}

// Start launches the delivery workers. Calling it more than once is harmless.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	for i := 0; i < d.opts.Workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
}

// Publish enqueues an event. It never blocks.
func (d *Dispatcher) Publish(ctx context.Context, event Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed || len(d.sinks) == 0 {
		return
	}
	select {
	case d.queue <- event:
	default:
		d.dropped.Add(1)
		d.logger.Warn("Event queue full, dropping event", zap.String("type", event.Type), zap.String("id", event.ID))
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Close stops accepting events and waits for queued ones to drain or ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if !started {
		return nil
	}
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for event := range d.queue {
		d.processEvent(event)
	}
}

func (d *Dispatcher) processEvent(event Event) {
	for _, sink := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.opts.DeliveryTimeout)
		if err := sink.Deliver(ctx, event); err != nil {
			d.logger.Error("Event delivery failed",
				zap.String("sink", sink.Name()),
				zap.String("type", event.Type),
				zap.Error(err))
		}
		cancel()
	}
}
