package governance

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/dhawalhost/wardgate/internal/audit"
	"github.com/dhawalhost/wardgate/internal/catalog"
	"github.com/dhawalhost/wardgate/internal/config"
	"github.com/dhawalhost/wardgate/internal/identity"
	"github.com/dhawalhost/wardgate/internal/rbac"
	"github.com/dhawalhost/wardgate/pkg/lock"
)

// Service defines the access request workflow.
type Service interface {
	Create(ctx context.Context, in CreateRequestInput, actorID string) (AccessRequest, error)
	Get(ctx context.Context, id string) (AccessRequest, error)
	List(ctx context.Context, status Status) ([]AccessRequest, error)
	// Approve grants the requested roles and reports whether the request
	// moved; a request that is no longer pending yields false.
	Approve(ctx context.Context, id, approvedBy string) (bool, error)
	Reject(ctx context.Context, id, rejectedBy, reason string) (bool, error)
	// ExpireStale expires pending requests older than the configured TTL.
	ExpireStale(ctx context.Context) (int, error)
}

// RoleAssigner is the part of the RBAC service an approval needs.
type RoleAssigner interface {
	GetRole(ctx context.Context, id string) (rbac.Role, error)
	AssignRole(ctx context.Context, userID, roleID, assignedBy string, opts rbac.AssignOptions) (rbac.Assignment, error)
	RemoveRole(ctx context.Context, userID, roleID, removedBy, reason string) (bool, error)
	ListAssignments(ctx context.Context, userID string) ([]rbac.Assignment, error)
}

// Options wires the service's collaborators. Roles is required; other nil
// fields get in-memory defaults.
type Options struct {
	Store     Store
	Roles     RoleAssigner
	Catalog   catalog.Catalog
	Directory identity.Directory
	Recorder  audit.Recorder
	Locker    lock.Locker
	Clock     clockwork.Clock
	Logger    *zap.Logger
	Config    func() config.Config
}

type service struct {
	store     Store
	roles     RoleAssigner
	catalog   catalog.Catalog
	directory identity.Directory
	recorder  audit.Recorder
	locker    lock.Locker
	clock     clockwork.Clock
	logger    *zap.Logger
	config    func() config.Config
	validate  *validator.Validate
}

// NewService creates a new access request service.
func NewService(opts Options) (Service, error) {
	if opts.Roles == nil {
		return nil, errors.New("governance: role service is required")
	}
	s := &service{
		store:     opts.Store,
		roles:     opts.Roles,
		catalog:   opts.Catalog,
		directory: opts.Directory,
		recorder:  opts.Recorder,
		locker:    opts.Locker,
		clock:     opts.Clock,
		logger:    opts.Logger,
		config:    opts.Config,
		validate:  validator.New(),
	}
	if s.store == nil {
		s.store = NewMemoryStore()
	}
	if s.catalog == nil {
		s.catalog = catalog.NewDefault()
	}
	if s.directory == nil {
		s.directory = identity.NewMemoryDirectory()
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
	if s.config == nil {
		s.config = config.Default
	}
	return s, nil
}

func (s *service) audit(ctx context.Context, actorID string, action audit.Action, r AccessRequest, failure error, md map[string]any) {
	if md == nil {
		md = map[string]any{}
	}
	if r.UserID != "" {
		md["target_user_id"] = r.UserID
	}
	if len(r.RequestedRoles) > 0 {
		md["roles"] = r.RequestedRoles
	}
	e := audit.Entry{
		UserID:     actorID,
		Action:     action,
		Resource:   "access_requests",
		ResourceID: r.ID,
		Success:    failure == nil,
		Metadata:   md,
	}
	if failure != nil {
		e.FailureReason = failure.Error()
	}
	if _, err := s.recorder.Log(context.WithoutCancel(ctx), e); err != nil {
		s.logger.Error("Failed to write audit entry", zap.String("action", string(action)), zap.Error(err))
	}
}

func (s *service) Create(ctx context.Context, in CreateRequestInput, actorID string) (AccessRequest, error) {
	in.RequestedRoles = dedupe(in.RequestedRoles)
	in.RequestedPermissions = dedupe(in.RequestedPermissions)
	draft := AccessRequest{UserID: in.UserID, RequestedRoles: in.RequestedRoles}

	if err := s.validateInput(ctx, in); err != nil {
		if errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) {
			s.audit(ctx, actorID, audit.ActionAccessRequested, draft, err, nil)
		}
		return AccessRequest{}, err
	}

	urgency := in.Urgency
	if urgency == "" {
		urgency = UrgencyMedium
	}
	now := s.clock.Now().UTC()
	r := AccessRequest{
		ID:                   uuid.NewString(),
		UserID:               in.UserID,
		RequestedBy:          actorID,
		RequestedPermissions: in.RequestedPermissions,
		RequestedRoles:       in.RequestedRoles,
		Reason:               strings.TrimSpace(in.Reason),
		Justification:        in.Justification,
		Status:               StatusPending,
		CreatedAt:            now,
		UpdatedAt:            now,
		Metadata: RequestMetadata{
			Urgency:            urgency,
			TemporaryAccess:    in.TemporaryAccess,
			AccessDurationDays: in.AccessDurationDays,
		},
	}
	if err := s.store.Create(ctx, r); err != nil {
		return AccessRequest{}, fmt.Errorf("failed to store request: %w", err)
	}

	s.logger.Info("Access requested",
		zap.String("request_id", r.ID),
		zap.String("user_id", r.UserID),
		zap.Strings("roles", r.RequestedRoles),
		zap.String("urgency", string(urgency)))
	s.audit(ctx, actorID, audit.ActionAccessRequested, r, nil, map[string]any{
		"urgency":          string(urgency),
		"temporary_access": in.TemporaryAccess,
		"permissions":      r.RequestedPermissions,
	})
	return r, nil
}

func (s *service) validateInput(ctx context.Context, in CreateRequestInput) error {
	if err := s.validate.Struct(in); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if strings.TrimSpace(in.Reason) == "" {
		return fmt.Errorf("%w: reason is required", ErrValidation)
	}
	if len(in.RequestedRoles) == 0 && len(in.RequestedPermissions) == 0 {
		return fmt.Errorf("%w: request names no roles or permissions", ErrValidation)
	}
	if in.TemporaryAccess && in.AccessDurationDays == 0 {
		return fmt.Errorf("%w: temporary access needs a duration", ErrValidation)
	}

	if _, err := s.directory.GetUser(ctx, in.UserID); err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return fmt.Errorf("%w: user %s", ErrValidation, in.UserID)
		}
		return fmt.Errorf("failed to look up user: %w", err)
	}
	for _, id := range in.RequestedRoles {
		role, err := s.roles.GetRole(ctx, id)
		if err != nil {
			if errors.Is(err, rbac.ErrNotFound) {
				return fmt.Errorf("%w: role %s", ErrValidation, id)
			}
			return fmt.Errorf("failed to look up role: %w", err)
		}
		if !role.IsActive {
			return fmt.Errorf("%w: role %s is inactive", ErrValidation, id)
		}
	}
	if _, err := s.catalog.Resolve(in.RequestedPermissions); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

func (s *service) Get(ctx context.Context, id string) (AccessRequest, error) {
	return s.store.Get(ctx, id)
}

func (s *service) List(ctx context.Context, status Status) ([]AccessRequest, error) {
	switch status {
	case "", StatusPending, StatusApproved, StatusRejected, StatusExpired:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}
	return s.store.List(ctx, status)
}

func (s *service) Approve(ctx context.Context, id, approvedBy string) (bool, error) {
	unlock, err := s.locker.Lock(ctx, lock.RequestKey(id))
	if err != nil {
		return false, err
	}
	defer unlock()

	r, err := s.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if !r.Pending() {
		s.audit(ctx, approvedBy, audit.ActionAccessRequestApproved, r,
			fmt.Errorf("request is %s", r.Status), nil)
		return false, nil
	}
	if approvedBy == r.UserID || approvedBy == r.RequestedBy {
		err := fmt.Errorf("%w: %s cannot approve their own request", ErrInvalidState, approvedBy)
		s.audit(ctx, approvedBy, audit.ActionAccessRequestApproved, r, err, nil)
		return false, err
	}

	// Every role must still be grantable before any is assigned.
	for _, roleID := range r.RequestedRoles {
		role, err := s.roles.GetRole(ctx, roleID)
		if err == nil && !role.IsActive {
			err = fmt.Errorf("%w: role %s is inactive", ErrInvalidState, roleID)
		}
		if err != nil {
			if errors.Is(err, rbac.ErrNotFound) {
				err = fmt.Errorf("%w: role %s no longer exists", ErrInvalidState, roleID)
			}
			s.audit(ctx, approvedBy, audit.ActionAccessRequestApproved, r, err, nil)
			return false, err
		}
	}

	now := s.clock.Now().UTC()
	prior, err := s.heldAssignments(ctx, r.UserID, now)
	if err != nil {
		s.audit(ctx, approvedBy, audit.ActionAccessRequestApproved, r, err, nil)
		return false, fmt.Errorf("failed to load current assignments: %w", err)
	}
	expires := r.AccessExpiry(now)
	granted := make([]string, 0, len(r.RequestedRoles))
	for _, roleID := range r.RequestedRoles {
		_, err := s.roles.AssignRole(ctx, r.UserID, roleID, approvedBy, rbac.AssignOptions{
			Reason:          "access request " + r.ID,
			ExpiresAt:       expires,
			TemporaryAccess: r.Metadata.TemporaryAccess,
			RequestID:       r.ID,
		})
		if err != nil {
			s.rollback(ctx, r, granted, prior, approvedBy)
			s.audit(ctx, approvedBy, audit.ActionAccessRequestApproved, r, err, nil)
			return false, fmt.Errorf("failed to assign role %s: %w", roleID, err)
		}
		granted = append(granted, roleID)
	}

	r.Status = StatusApproved
	r.ApprovedBy = approvedBy
	r.ApprovedAt = &now
	r.UpdatedAt = now
	if err := s.store.Transition(ctx, r); err != nil {
		s.rollback(ctx, r, granted, prior, approvedBy)
		if errors.Is(err, ErrInvalidState) {
			s.audit(ctx, approvedBy, audit.ActionAccessRequestApproved, r, err, nil)
			return false, nil
		}
		return false, fmt.Errorf("failed to approve request: %w", err)
	}

	md := map[string]any{"granted_roles": granted}
	if expires != nil {
		md["expires_at"] = *expires
	}
	s.logger.Info("Access request approved",
		zap.String("request_id", r.ID),
		zap.String("user_id", r.UserID),
		zap.String("approved_by", approvedBy))
	s.audit(ctx, approvedBy, audit.ActionAccessRequestApproved, r, nil, md)
	return true, nil
}

// rollback removes roles assigned before an approval failed part way.
// heldAssignments maps role id to the user's assignment in force at now.
func (s *service) heldAssignments(ctx context.Context, userID string, now time.Time) (map[string]rbac.Assignment, error) {
	all, err := s.roles.ListAssignments(ctx, userID)
	if err != nil {
		return nil, err
	}
	held := make(map[string]rbac.Assignment, len(all))
	for _, a := range all {
		if a.Effective(now) {
			held[a.RoleID] = a
		}
	}
	return held, nil
}

// rollback undoes the grants of a failed approval. A role the user already
// held before the approval gets its previous terms back instead of being
// removed.
func (s *service) rollback(ctx context.Context, r AccessRequest, granted []string, prior map[string]rbac.Assignment, actorID string) {
	ctx = context.WithoutCancel(ctx)
	for _, roleID := range granted {
		var err error
		if p, ok := prior[roleID]; ok {
			_, err = s.roles.AssignRole(ctx, r.UserID, roleID, actorID, rbac.AssignOptions{
				Reason:          p.Metadata.Reason,
				ExpiresAt:       p.ExpiresAt,
				TemporaryAccess: p.Metadata.TemporaryAccess,
				RequestID:       p.Metadata.RequestID,
			})
		} else {
			_, err = s.roles.RemoveRole(ctx, r.UserID, roleID, actorID, "approval rolled back")
		}
		if err != nil {
			s.logger.Error("Failed to roll back role assignment",
				zap.String("request_id", r.ID),
				zap.String("role_id", roleID),
				zap.Error(err))
		}
	}
}

func (s *service) Reject(ctx context.Context, id, rejectedBy, reason string) (bool, error) {
	unlock, err := s.locker.Lock(ctx, lock.RequestKey(id))
	if err != nil {
		return false, err
	}
	defer unlock()

	r, err := s.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if !r.Pending() {
		s.audit(ctx, rejectedBy, audit.ActionAccessRequestRejected, r,
			fmt.Errorf("request is %s", r.Status), nil)
		return false, nil
	}

	now := s.clock.Now().UTC()
	r.Status = StatusRejected
	r.RejectedBy = rejectedBy
	r.RejectedAt = &now
	r.RejectionReason = strings.TrimSpace(reason)
	r.UpdatedAt = now
	if err := s.store.Transition(ctx, r); err != nil {
		if errors.Is(err, ErrInvalidState) {
			return false, nil
		}
		return false, fmt.Errorf("failed to reject request: %w", err)
	}

	s.logger.Info("Access request rejected",
		zap.String("request_id", r.ID),
		zap.String("rejected_by", rejectedBy))
	md := map[string]any{}
	if r.RejectionReason != "" {
		md["reason"] = r.RejectionReason
	}
	s.audit(ctx, rejectedBy, audit.ActionAccessRequestRejected, r, nil, md)
	return true, nil
}

func (s *service) ExpireStale(ctx context.Context) (int, error) {
	ttl := s.config().Access.RequestTTL
	if ttl <= 0 {
		return 0, nil
	}
	pending, err := s.store.List(ctx, StatusPending)
	if err != nil {
		return 0, err
	}

	now := s.clock.Now().UTC()
	expired := 0
	for _, r := range pending {
		if now.Sub(r.CreatedAt) < ttl {
			// List is oldest first.
			break
		}
		ok, err := s.expire(ctx, r.ID, now)
		if err != nil {
			return expired, err
		}
		if ok {
			expired++
		}
	}
	if expired > 0 {
		s.logger.Info("Expired stale access requests", zap.Int("count", expired))
	}
	return expired, nil
}

func (s *service) expire(ctx context.Context, id string, now time.Time) (bool, error) {
	unlock, err := s.locker.Lock(ctx, lock.RequestKey(id))
	if err != nil {
		return false, err
	}
	defer unlock()

	r, err := s.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if !r.Pending() {
		return false, nil
	}
	r.Status = StatusExpired
	r.ExpiredAt = &now
	r.UpdatedAt = now
	if err := s.store.Transition(ctx, r); err != nil {
		if errors.Is(err, ErrInvalidState) {
			return false, nil
		}
		return false, fmt.Errorf("failed to expire request %s: %w", id, err)
	}
	s.audit(ctx, audit.SystemActor, audit.ActionAccessRequestExpired, r, nil, map[string]any{
		"created_at": r.CreatedAt,
	})
	return true, nil
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
