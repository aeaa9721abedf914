package policy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/dhawalhost/wardgate/internal/attr"
	"github.com/dhawalhost/wardgate/internal/audit"
	"github.com/dhawalhost/wardgate/pkg/lock"
)

// Service defines policy administration and evaluation.
type Service interface {
	Evaluator

	CreatePolicy(ctx context.Context, in CreatePolicyInput, actorID string) (Policy, error)
	GetPolicy(ctx context.Context, id string) (Policy, error)
	ListPolicies(ctx context.Context) ([]Policy, error)
	UpdatePolicy(ctx context.Context, id string, in UpdatePolicyInput, actorID string) (Policy, error)
	DeletePolicy(ctx context.Context, id, actorID string) error

	// SeedDefaults stores the built-in policies that are missing.
	SeedDefaults(ctx context.Context) error
	// Reload recompiles the engine from the store.
	Reload(ctx context.Context) error
}

// Options wires the service's collaborators. Nil fields get in-memory defaults.
type Options struct {
	Store    Store
	Recorder audit.Recorder
	Locker   lock.Locker
	Clock    clockwork.Clock
	Logger   *zap.Logger
}

type service struct {
	store    Store
	engine   *Engine
	recorder audit.Recorder
	locker   lock.Locker
	clock    clockwork.Clock
	logger   *zap.Logger
	validate *validator.Validate
}

// NewService creates a policy service with an empty engine; call Reload or
// SeedDefaults before evaluating.
func NewService(opts Options) Service {
	s := &service{
		store:    opts.Store,
		recorder: opts.Recorder,
		locker:   opts.Locker,
		clock:    opts.Clock,
		logger:   opts.Logger,
		validate: validator.New(),
	}
	if s.store == nil {
		s.store = NewMemoryStore()
	}
	if s.recorder == nil {
		s.recorder = audit.NewService(audit.Options{})
	}
	if s.locker == nil {
		s.locker = lock.NewKeyedMutex()
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.engine = NewEngine(s.clock, s.logger)
	return s
}

func (s *service) Evaluate(ctx context.Context, vars attr.Bag) (Outcome, error) {
	return s.engine.Evaluate(ctx, vars)
}

func (s *service) audit(ctx context.Context, actorID string, action audit.Action, id string, err error, md map[string]any) {
	e := audit.Entry{
		UserID:     actorID,
		Action:     action,
		Resource:   "policies",
		ResourceID: id,
		Success:    err == nil,
		Metadata:   md,
	}
	if err != nil {
		e.FailureReason = err.Error()
	}
	if _, lerr := s.recorder.Log(context.WithoutCancel(ctx), e); lerr != nil {
		s.logger.Error("Failed to write audit entry", zap.String("action", string(action)), zap.Error(lerr))
	}
}

func buildRules(in []RuleInput) ([]Rule, error) {
	rules := make([]Rule, 0, len(in))
	seen := map[string]bool{}
	for i, r := range in {
		id := strings.TrimSpace(r.ID)
		if id == "" {
			id = fmt.Sprintf("rule-%d", i+1)
		}
		if seen[id] {
			return nil, fmt.Errorf("%w: duplicate rule id %s", ErrValidation, id)
		}
		seen[id] = true
		sev := r.Severity
		if sev == "" {
			sev = SeverityMedium
		}
		active := true
		if r.IsActive != nil {
			active = *r.IsActive
		}
		rules = append(rules, Rule{
			ID:        id,
			Condition: r.Condition,
			Action:    r.Action,
			Severity:  sev,
			Message:   r.Message,
			IsActive:  active,
		})
	}
	return rules, nil
}

func (s *service) CreatePolicy(ctx context.Context, in CreatePolicyInput, actorID string) (Policy, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := s.validate.Struct(in); err != nil {
		return Policy{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = uuid.NewString()
	}

	unlock, err := s.locker.Lock(ctx, lock.PolicyKey(id))
	if err != nil {
		return Policy{}, err
	}
	defer unlock()

	rules, err := buildRules(in.Rules)
	if err != nil {
		return Policy{}, err
	}
	now := s.clock.Now().UTC()
	p := Policy{
		ID:               id,
		Name:             in.Name,
		Description:      in.Description,
		Type:             in.Type,
		Rules:            rules,
		IsActive:         in.IsActive == nil || *in.IsActive,
		EnforcementLevel: in.EnforcementLevel,
		CreatedBy:        actorID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if p.EnforcementLevel == "" {
		p.EnforcementLevel = EnforcementBlocking
	}
	cp, err := compile(p)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrValidation, err)
		s.audit(ctx, actorID, audit.ActionPolicyCreated, id, err, map[string]any{"name": p.Name})
		return Policy{}, err
	}
	if err := s.store.Create(ctx, p); err != nil {
		s.audit(ctx, actorID, audit.ActionPolicyCreated, id, err, map[string]any{"name": p.Name})
		return Policy{}, fmt.Errorf("failed to create policy: %w", err)
	}
	s.engine.put(cp)

	s.logger.Info("Policy created", zap.String("policy_id", id), zap.String("actor_id", actorID))
	s.audit(ctx, actorID, audit.ActionPolicyCreated, id, nil, map[string]any{
		"name":              p.Name,
		"rules":             len(p.Rules),
		"enforcement_level": string(p.EnforcementLevel),
	})
	return p, nil
}

func (s *service) GetPolicy(ctx context.Context, id string) (Policy, error) {
	return s.store.Get(ctx, id)
}

func (s *service) ListPolicies(ctx context.Context) ([]Policy, error) {
	return s.store.List(ctx)
}

func (s *service) UpdatePolicy(ctx context.Context, id string, in UpdatePolicyInput, actorID string) (Policy, error) {
	if err := s.validate.Struct(in); err != nil {
		return Policy{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	unlock, err := s.locker.Lock(ctx, lock.PolicyKey(id))
	if err != nil {
		return Policy{}, err
	}
	defer unlock()

	p, err := s.store.Get(ctx, id)
	if err != nil {
		return Policy{}, err
	}

	changed := []string{}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return Policy{}, fmt.Errorf("%w: name cannot be empty", ErrValidation)
		}
		p.Name = name
		changed = append(changed, "name")
	}
	if in.Description != nil {
		p.Description = *in.Description
		changed = append(changed, "description")
	}
	if in.Type != nil {
		p.Type = *in.Type
		changed = append(changed, "type")
	}
	if in.IsActive != nil {
		p.IsActive = *in.IsActive
		changed = append(changed, "is_active")
	}
	if in.EnforcementLevel != nil {
		p.EnforcementLevel = *in.EnforcementLevel
		changed = append(changed, "enforcement_level")
	}
	if in.Rules != nil {
		rules, err := buildRules(*in.Rules)
		if err != nil {
			return Policy{}, err
		}
		p.Rules = rules
		changed = append(changed, "rules")
	}
	p.UpdatedAt = s.clock.Now().UTC()

	cp, err := compile(p)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrValidation, err)
		s.audit(ctx, actorID, audit.ActionPolicyUpdated, id, err, nil)
		return Policy{}, err
	}
	if err := s.store.Update(ctx, p); err != nil {
		s.audit(ctx, actorID, audit.ActionPolicyUpdated, id, err, nil)
		return Policy{}, fmt.Errorf("failed to update policy: %w", err)
	}
	s.engine.put(cp)

	s.logger.Info("Policy updated", zap.String("policy_id", id), zap.Strings("fields", changed), zap.String("actor_id", actorID))
	s.audit(ctx, actorID, audit.ActionPolicyUpdated, id, nil, map[string]any{"fields": changed})
	return p, nil
}

func (s *service) DeletePolicy(ctx context.Context, id, actorID string) error {
	unlock, err := s.locker.Lock(ctx, lock.PolicyKey(id))
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.store.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			s.audit(ctx, actorID, audit.ActionPolicyDeleted, id, err, nil)
			return err
		}
		return fmt.Errorf("failed to delete policy: %w", err)
	}
	s.engine.remove(id)

	s.logger.Info("Policy deleted", zap.String("policy_id", id), zap.String("actor_id", actorID))
	s.audit(ctx, actorID, audit.ActionPolicyDeleted, id, nil, nil)
	return nil
}

func (s *service) SeedDefaults(ctx context.Context) error {
	now := s.clock.Now().UTC()
	for _, p := range DefaultPolicies() {
		if _, err := s.store.Get(ctx, p.ID); err == nil {
			continue
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		p.CreatedBy = audit.SystemActor
		p.CreatedAt = now
		p.UpdatedAt = now
		if err := s.store.Create(ctx, p); err != nil {
			if errors.Is(err, ErrAlreadyExists) {
				continue
			}
			return fmt.Errorf("failed to seed policy %s: %w", p.ID, err)
		}
		s.logger.Info("Seeded security policy", zap.String("policy_id", p.ID))
		s.audit(ctx, audit.SystemActor, audit.ActionPolicyCreated, p.ID, nil, map[string]any{"seed": true})
	}
	return s.Reload(ctx)
}

func (s *service) Reload(ctx context.Context) error {
	policies, err := s.store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list policies: %w", err)
	}
	if err := s.engine.Load(policies); err != nil {
		return fmt.Errorf("failed to compile policies: %w", err)
	}
	return nil
}
