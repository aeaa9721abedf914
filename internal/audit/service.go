package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/dhawalhost/wardgate/internal/events"
)

// Recorder is the write side of the audit log used by the other components.
type Recorder interface {
	Log(ctx context.Context, e Entry) (Entry, error)
}

// Service defines audit service operations.
type Service interface {
	Recorder

	// Query retrieves audit logs newest-first with filtering.
	Query(ctx context.Context, f Filter) ([]Entry, int, error)

	// Export retrieves matching audit logs for export.
	Export(ctx context.Context, f Filter) ([]Entry, error)

	// GetEvent retrieves a single audit entry.
	GetEvent(ctx context.Context, id string) (Entry, error)

	// Prune removes entries older than the configured retention window and
	// trims the log to the configured cap.
	Prune(ctx context.Context) (int, error)
}

// Options configures the audit service.
type Options struct {
	Store     Store
	Publisher events.Publisher
	Clock     clockwork.Clock
	Logger    *zap.Logger
	// Policy is consulted on every append so administrative updates apply immediately.
	Policy func() Policy
}

type service struct {
	store     Store
	publisher events.Publisher
	clock     clockwork.Clock
	logger    *zap.Logger
	policy    func() Policy
}

// NewService creates a new audit service.
func NewService(opts Options) Service {
	s := &service{
		store:     opts.Store,
		publisher: opts.Publisher,
		clock:     opts.Clock,
		logger:    opts.Logger,
		policy:    opts.Policy,
	}
	if s.store == nil {
		s.store = NewMemoryStore(DefaultMaxEntries)
	}
	if s.publisher == nil {
		s.publisher = events.Discard
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.policy == nil {
		s.policy = DefaultPolicy
	}
	return s
}

func (s *service) Log(ctx context.Context, e Entry) (Entry, error) {
	if e.Action == "" {
		return Entry{}, fmt.Errorf("%w: action is required", ErrInvalidEntry)
	}
	if e.UserID == "" {
		e.UserID = SystemActor
	}
	e = e.clone()
	e.ID = uuid.NewString()
	e.Timestamp = s.clock.Now().UTC()

	p := s.policy()
	if err := s.store.Append(ctx, e, p.MaxEntries); err != nil {
		s.logger.Error("Failed to append audit entry",
			zap.String("action", string(e.Action)),
			zap.String("user_id", e.UserID),
			zap.Error(err))
		return Entry{}, fmt.Errorf("failed to append audit entry: %w", err)
	}

	s.forward(ctx, e, p)
	return e, nil
}

// forward hands a copy to the activity hook and raises alerts; neither can
// fail the append.
func (s *service) forward(ctx context.Context, e Entry, p Policy) {
	if p.AlertOnSuspiciousActivity && !e.Success && e.RiskScore != nil && *e.RiskScore >= p.AlertRiskThreshold {
		s.logger.Warn("Suspicious activity",
			zap.String("user_id", e.UserID),
			zap.String("action", string(e.Action)),
			zap.String("resource", e.Resource),
			zap.Int("risk_score", *e.RiskScore),
			zap.String("reason", e.FailureReason))
		s.publisher.Publish(ctx, events.Event{
			ID:        e.ID,
			Type:      "security.alert",
			Payload:   e.clone(),
			Timestamp: e.Timestamp,
		})
	}

	if p.LogFailedOnly && e.Success {
		return
	}
	if !p.LogAllActions && e.Action == ActionPermissionGranted {
		return
	}
	s.publisher.Publish(ctx, events.Event{
		ID:        e.ID,
		Type:      "audit." + string(e.Action),
		Payload:   e.clone(),
		Timestamp: e.Timestamp,
	})
}

func (s *service) Query(ctx context.Context, f Filter) ([]Entry, int, error) {
	return s.store.Query(ctx, f)
}

func (s *service) Export(ctx context.Context, f Filter) ([]Entry, error) {
	f.Limit = DefaultMaxEntries
	f.Offset = 0
	entries, _, err := s.store.Query(ctx, f)
	return entries, err
}

func (s *service) GetEvent(ctx context.Context, id string) (Entry, error) {
	return s.store.GetEvent(ctx, id)
}

func (s *service) Prune(ctx context.Context) (int, error) {
	p := s.policy()
	removed := 0
	if p.RetentionDays > 0 {
		cutoff := s.clock.Now().Add(-time.Duration(p.RetentionDays) * 24 * time.Hour)
		n, err := s.store.PruneBefore(ctx, cutoff)
		if err != nil {
			return 0, fmt.Errorf("failed to prune audit log: %w", err)
		}
		if n > 0 {
			s.logger.Info("Pruned audit entries", zap.Int("removed", n), zap.Time("cutoff", cutoff))
		}
		removed += n
	}
	n, err := s.store.Trim(ctx, p.MaxEntries)
	if err != nil {
		return removed, err
	}
	if n > 0 {
		s.logger.Info("Trimmed audit log", zap.Int("removed", n), zap.Int("max_entries", p.MaxEntries))
	}
	return removed + n, nil
}
