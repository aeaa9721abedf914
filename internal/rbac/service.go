package rbac

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/dhawalhost/wardgate/internal/audit"
	"github.com/dhawalhost/wardgate/internal/catalog"
	"github.com/dhawalhost/wardgate/internal/config"
	"github.com/dhawalhost/wardgate/internal/identity"
	"github.com/dhawalhost/wardgate/pkg/lock"
)

// Service defines RBAC service operations.
type Service interface {
	// Roles
	CreateRole(ctx context.Context, in CreateRoleInput, createdBy string) (Role, error)
	GetRole(ctx context.Context, id string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	UpdateRole(ctx context.Context, id string, in UpdateRoleInput, updatedBy string) (Role, error)
	DeleteRole(ctx context.Context, id, deletedBy string) error
	GetEffectivePermissions(ctx context.Context, roleID string) ([]catalog.Permission, error)
	UserCount(ctx context.Context, roleID string) (int, error)
	SeedSystemRoles(ctx context.Context) error

	// Assignments
	AssignRole(ctx context.Context, userID, roleID, assignedBy string, opts AssignOptions) (Assignment, error)
	RemoveRole(ctx context.Context, userID, roleID, removedBy, reason string) (bool, error)
	GetUserRoles(ctx context.Context, userID string) ([]string, error)
	ListAssignments(ctx context.Context, userID string) ([]Assignment, error)
	EffectiveAssignments(ctx context.Context) ([]Assignment, error)
	ExpireLapsed(ctx context.Context) (int, error)
	EnsureDefaultRole(ctx context.Context, userID, actorID string) (bool, error)

	// Resolution for the decision path
	ResolveUser(ctx context.Context, userID string) (Resolution, error)
}

// Resolution is the permission set a user holds right now.
type Resolution struct {
	// Roles ordered by hierarchy descending, then id.
	Roles []Role
	// Permissions merged across Roles, de-duplicated by (resource, action,
	// scope); the first occurrence wins.
	Permissions []catalog.Permission
}

// RoleIDs returns the ids of the resolved roles in order.
func (r Resolution) RoleIDs() []string {
	out := make([]string, len(r.Roles))
	for i, role := range r.Roles {
		out[i] = role.ID
	}
	return out
}

// Options wires the service's collaborators. Nil fields get in-memory defaults.
type Options struct {
	Store     Store
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
	catalog   catalog.Catalog
	directory identity.Directory
	recorder  audit.Recorder
	locker    lock.Locker
	clock     clockwork.Clock
	logger    *zap.Logger
	config    func() config.Config
	validate  *validator.Validate
}

// NewService creates a new RBAC service.
func NewService(opts Options) Service {
	s := &service{
		store:     opts.Store,
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
	return s
}

func (s *service) audit(ctx context.Context, e audit.Entry) {
	if _, err := s.recorder.Log(context.WithoutCancel(ctx), e); err != nil {
		s.logger.Error("Failed to write audit entry", zap.String("action", string(e.Action)), zap.Error(err))
	}
}

func (s *service) auditFailure(ctx context.Context, actorID string, action audit.Action, resourceID string, err error, md map[string]any) {
	s.audit(ctx, audit.Entry{
		UserID:        actorID,
		Action:        action,
		Resource:      "roles",
		ResourceID:    resourceID,
		Success:       false,
		FailureReason: err.Error(),
		Metadata:      md,
	})
}

// resolvePermissions snapshots catalog definitions and checks custom ones
// without publishing them.
func (s *service) resolvePermissions(ids []string, custom []catalog.Permission) ([]catalog.Permission, error) {
	perms, err := s.catalog.Resolve(ids)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	for _, p := range custom {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		if existing, err := s.catalog.Get(p.ID); err == nil && !existing.Equal(p) {
			return nil, fmt.Errorf("%w: permission %s is already defined differently", ErrAlreadyExists, p.ID)
		}
		perms = append(perms, p)
	}
	return perms, nil
}

// publish registers custom definitions once the role holding them is stored.
func (s *service) publish(custom []catalog.Permission) error {
	for _, p := range custom {
		if err := s.catalog.Register(p); err != nil {
			if errors.Is(err, catalog.ErrAlreadyExists) {
				return fmt.Errorf("%w: %v", ErrAlreadyExists, err)
			}
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}
	return nil
}

func (s *service) CreateRole(ctx context.Context, in CreateRoleInput, createdBy string) (Role, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := s.validate.Struct(in); err != nil {
		return Role{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	unlock, err := s.locker.Lock(ctx, lock.RoleKey("name:"+strings.ToLower(in.Name)))
	if err != nil {
		return Role{}, err
	}
	defer unlock()

	perms, err := s.resolvePermissions(in.Permissions, in.CustomPermissions)
	if err != nil {
		s.auditFailure(ctx, createdBy, audit.ActionRoleCreated, "", err, map[string]any{"name": in.Name})
		return Role{}, err
	}

	now := s.clock.Now().UTC()
	role := Role{
		ID:           uuid.NewString(),
		Name:         in.Name,
		Description:  in.Description,
		Type:         RoleTypeCustom,
		Permissions:  perms,
		Hierarchy:    in.Hierarchy,
		InheritsFrom: dedupe(in.InheritsFrom),
		IsActive:     true,
		CreatedBy:    createdBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.checkInheritance(ctx, role.ID, role.InheritsFrom); err != nil {
		s.auditFailure(ctx, createdBy, audit.ActionRoleCreated, "", err, map[string]any{"name": in.Name})
		return Role{}, err
	}

	if err := s.store.CreateRole(ctx, role); err != nil {
		s.auditFailure(ctx, createdBy, audit.ActionRoleCreated, "", err, map[string]any{"name": in.Name})
		return Role{}, fmt.Errorf("failed to create role: %w", err)
	}
	if err := s.publish(in.CustomPermissions); err != nil {
		// Lost a race for the same id with a different definition.
		if derr := s.store.DeleteRole(context.WithoutCancel(ctx), role.ID); derr != nil {
			s.logger.Error("Failed to discard role after catalog conflict", zap.String("role_id", role.ID), zap.Error(derr))
		}
		s.auditFailure(ctx, createdBy, audit.ActionRoleCreated, "", err, map[string]any{"name": in.Name})
		return Role{}, err
	}

	s.logger.Info("Role created", zap.String("role_id", role.ID), zap.String("name", role.Name), zap.String("actor_id", createdBy))
	s.audit(ctx, audit.Entry{
		UserID:     createdBy,
		Action:     audit.ActionRoleCreated,
		Resource:   "roles",
		ResourceID: role.ID,
		Success:    true,
		Metadata: map[string]any{
			"name":          role.Name,
			"hierarchy":     role.Hierarchy,
			"permissions":   permissionIDs(role.Permissions),
			"inherits_from": role.InheritsFrom,
		},
	})
	return role, nil
}

// checkInheritance verifies every parent exists and that none of them can
// reach roleID through its own inheritance chain.
func (s *service) checkInheritance(ctx context.Context, roleID string, parents []string) error {
	for _, p := range parents {
		if p == roleID {
			return fmt.Errorf("%w: role %s cannot inherit from itself", ErrInvalidState, roleID)
		}
		if _, err := s.store.GetRole(ctx, p); err != nil {
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("%w: parent role %s does not exist", ErrValidation, p)
			}
			return err
		}
	}

	visited := map[string]bool{}
	stack := slices.Clone(parents)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == roleID {
			return fmt.Errorf("%w: inheritance cycle through %s", ErrInvalidState, roleID)
		}
		if visited[id] {
			continue
		}
		visited[id] = true
		r, err := s.store.GetRole(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		stack = append(stack, r.InheritsFrom...)
	}
	return nil
}

func (s *service) GetRole(ctx context.Context, id string) (Role, error) {
	return s.store.GetRole(ctx, id)
}

func (s *service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

func (s *service) UpdateRole(ctx context.Context, id string, in UpdateRoleInput, updatedBy string) (Role, error) {
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		in.Name = &name
	}
	if err := s.validate.Struct(in); err != nil {
		return Role{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	unlock, err := s.locker.Lock(ctx, lock.RoleKey(id))
	if err != nil {
		return Role{}, err
	}
	defer unlock()

	role, err := s.store.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}
	if role.System() {
		err := fmt.Errorf("%w: system role %s cannot be edited", ErrRoleProtected, id)
		s.auditFailure(ctx, updatedBy, audit.ActionRoleUpdated, id, err, nil)
		return Role{}, err
	}

	changed := []string{}
	if in.Name != nil {
		role.Name = *in.Name
		changed = append(changed, "name")
	}
	if in.Description != nil {
		role.Description = *in.Description
		changed = append(changed, "description")
	}
	if in.Hierarchy != nil {
		role.Hierarchy = *in.Hierarchy
		changed = append(changed, "hierarchy")
	}
	if in.IsActive != nil {
		role.IsActive = *in.IsActive
		changed = append(changed, "is_active")
	}
	if in.Permissions != nil {
		perms, err := s.resolvePermissions(*in.Permissions, nil)
		if err != nil {
			s.auditFailure(ctx, updatedBy, audit.ActionRoleUpdated, id, err, nil)
			return Role{}, err
		}
		role.Permissions = perms
		changed = append(changed, "permissions")
	}
	if in.InheritsFrom != nil {
		parents := dedupe(*in.InheritsFrom)
		if err := s.checkInheritance(ctx, id, parents); err != nil {
			s.auditFailure(ctx, updatedBy, audit.ActionRoleUpdated, id, err, nil)
			return Role{}, err
		}
		role.InheritsFrom = parents
		changed = append(changed, "inherits_from")
	}
	role.UpdatedAt = s.clock.Now().UTC()

	if err := s.store.UpdateRole(ctx, role); err != nil {
		s.auditFailure(ctx, updatedBy, audit.ActionRoleUpdated, id, err, nil)
		return Role{}, fmt.Errorf("failed to update role: %w", err)
	}

	s.logger.Info("Role updated", zap.String("role_id", id), zap.Strings("fields", changed), zap.String("actor_id", updatedBy))
	s.audit(ctx, audit.Entry{
		UserID:     updatedBy,
		Action:     audit.ActionRoleUpdated,
		Resource:   "roles",
		ResourceID: id,
		Success:    true,
		Metadata:   map[string]any{"fields": changed},
	})
	return role, nil
}

func (s *service) DeleteRole(ctx context.Context, id, deletedBy string) error {
	unlock, err := s.locker.Lock(ctx, lock.RoleKey(id))
	if err != nil {
		return err
	}
	defer unlock()

	role, err := s.store.GetRole(ctx, id)
	if err != nil {
		return err
	}
	if role.System() {
		err := fmt.Errorf("%w: system role %s cannot be deleted", ErrRoleProtected, id)
		s.auditFailure(ctx, deletedBy, audit.ActionRoleDeleted, id, err, nil)
		return err
	}
	n, err := s.UserCount(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		err := fmt.Errorf("%w: role %s has %d assigned users", ErrRoleInUse, id, n)
		s.auditFailure(ctx, deletedBy, audit.ActionRoleDeleted, id, err, map[string]any{"user_count": n})
		return err
	}

	if err := s.store.DeleteRole(ctx, id); err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	s.logger.Info("Role deleted", zap.String("role_id", id), zap.String("actor_id", deletedBy))
	s.audit(ctx, audit.Entry{
		UserID:     deletedBy,
		Action:     audit.ActionRoleDeleted,
		Resource:   "roles",
		ResourceID: id,
		Success:    true,
		Metadata:   map[string]any{"name": role.Name},
	})
	return nil
}

// GetEffectivePermissions returns the role's own permissions followed by
// those of its parents. Only direct parents contribute unless transitive
// inheritance is enabled.
func (s *service) GetEffectivePermissions(ctx context.Context, roleID string) ([]catalog.Permission, error) {
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	return s.effective(ctx, role)
}

func (s *service) effective(ctx context.Context, role Role) ([]catalog.Permission, error) {
	perms := slices.Clone(role.Permissions)
	transitive := s.config().Access.TransitiveInheritance

	visited := map[string]bool{role.ID: true}
	queue := slices.Clone(role.InheritsFrom)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true
		parent, err := s.store.GetRole(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// Parent deleted after the child was created.
			continue
		}
		if err != nil {
			return nil, err
		}
		if !parent.IsActive {
			continue
		}
		perms = append(perms, parent.Permissions...)
		if transitive {
			queue = append(queue, parent.InheritsFrom...)
		}
	}
	return perms, nil
}

func (s *service) UserCount(ctx context.Context, roleID string) (int, error) {
	active, err := s.store.ListAssignments(ctx, AssignmentFilter{RoleID: roleID, ActiveOnly: true})
	if err != nil {
		return 0, err
	}
	now := s.clock.Now()
	users := map[string]bool{}
	for _, a := range active {
		if a.Effective(now) {
			users[a.UserID] = true
		}
	}
	return len(users), nil
}

// SeedSystemRoles creates missing system roles. Existing ones are left as
// they are, so repeated initialization never duplicates or resets them.
// Custom permissions held by stored roles are published back into the
// catalog so a restarted process can resolve them again.
func (s *service) SeedSystemRoles(ctx context.Context) error {
	if err := s.seedSystemRoles(ctx); err != nil {
		return err
	}
	return s.restoreCatalog(ctx)
}

func (s *service) restoreCatalog(ctx context.Context) error {
	roles, err := s.store.ListRoles(ctx)
	if err != nil {
		return fmt.Errorf("failed to list roles: %w", err)
	}
	restored := 0
	for _, role := range roles {
		for _, p := range role.Permissions {
			if _, err := s.catalog.Get(p.ID); err == nil {
				continue
			}
			if err := s.catalog.Register(p); err != nil {
				s.logger.Warn("Skipping stored permission",
					zap.String("role_id", role.ID),
					zap.String("permission_id", p.ID),
					zap.Error(err))
				continue
			}
			restored++
		}
	}
	if restored > 0 {
		s.logger.Info("Restored custom permissions", zap.Int("count", restored))
	}
	return nil
}

func (s *service) seedSystemRoles(ctx context.Context) error {
	now := s.clock.Now().UTC()
	for _, def := range SystemRoles() {
		if _, err := s.store.GetRole(ctx, def.ID); err == nil {
			continue
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		perms, err := s.catalog.Resolve(def.Permissions)
		if err != nil {
			return fmt.Errorf("failed to resolve permissions for %s: %w", def.ID, err)
		}
		role := Role{
			ID:          def.ID,
			Name:        def.ID,
			Description: def.Description,
			Type:        RoleTypeSystem,
			Permissions: perms,
			Hierarchy:   def.Hierarchy,
			IsActive:    true,
			CreatedBy:   audit.SystemActor,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.store.CreateRole(ctx, role); err != nil {
			if errors.Is(err, ErrAlreadyExists) {
				continue
			}
			return fmt.Errorf("failed to seed role %s: %w", def.ID, err)
		}
		s.logger.Info("Seeded system role", zap.String("role_id", def.ID))
		s.audit(ctx, audit.Entry{
			UserID:     audit.SystemActor,
			Action:     audit.ActionRoleCreated,
			Resource:   "roles",
			ResourceID: def.ID,
			Success:    true,
			Metadata:   map[string]any{"seed": true, "hierarchy": def.Hierarchy},
		})
	}
	return nil
}

func (s *service) AssignRole(ctx context.Context, userID, roleID, assignedBy string, opts AssignOptions) (Assignment, error) {
	unlock, err := s.locker.Lock(ctx, lock.UserKey(userID))
	if err != nil {
		return Assignment{}, err
	}
	defer unlock()
	// User before role. DeleteRole holds the role key while it counts holders.
	unlockRole, err := s.locker.Lock(ctx, lock.RoleKey(roleID))
	if err != nil {
		return Assignment{}, err
	}
	defer unlockRole()

	md := map[string]any{"target_user_id": userID}
	if _, err := s.directory.GetUser(ctx, userID); err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			err = fmt.Errorf("%w: user %s", ErrNotFound, userID)
			s.auditFailure(ctx, assignedBy, audit.ActionRoleAssigned, roleID, err, md)
			return Assignment{}, err
		}
		return Assignment{}, fmt.Errorf("failed to look up user: %w", err)
	}
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.auditFailure(ctx, assignedBy, audit.ActionRoleAssigned, roleID, err, md)
		}
		return Assignment{}, err
	}

	now := s.clock.Now().UTC()
	if opts.ExpiresAt != nil && !opts.ExpiresAt.After(now) {
		return Assignment{}, fmt.Errorf("%w: expiry must be in the future", ErrValidation)
	}

	a := Assignment{
		ID:         uuid.NewString(),
		UserID:     userID,
		RoleID:     role.ID,
		AssignedBy: assignedBy,
		AssignedAt: now,
		ExpiresAt:  opts.ExpiresAt,
		IsActive:   true,
		Metadata: AssignmentMetadata{
			Reason:          opts.Reason,
			TemporaryAccess: opts.TemporaryAccess || opts.ExpiresAt != nil,
			RequestID:       opts.RequestID,
		},
	}
	superseded, err := s.store.UpsertAssignment(ctx, a, Removal{By: assignedBy, At: now, Reason: "superseded"})
	if err != nil {
		return Assignment{}, fmt.Errorf("failed to assign role: %w", err)
	}

	if opts.ExpiresAt != nil {
		md["expires_at"] = opts.ExpiresAt.UTC()
	}
	if opts.Reason != "" {
		md["reason"] = opts.Reason
	}
	if opts.RequestID != "" {
		md["request_id"] = opts.RequestID
	}
	md["superseded"] = len(superseded)
	s.logger.Info("Role assigned",
		zap.String("user_id", userID),
		zap.String("role_id", role.ID),
		zap.String("actor_id", assignedBy))
	s.audit(ctx, audit.Entry{
		UserID:     assignedBy,
		Action:     audit.ActionRoleAssigned,
		Resource:   "roles",
		ResourceID: role.ID,
		Success:    true,
		Metadata:   md,
	})
	return a, nil
}

func (s *service) RemoveRole(ctx context.Context, userID, roleID, removedBy, reason string) (bool, error) {
	unlock, err := s.locker.Lock(ctx, lock.UserKey(userID))
	if err != nil {
		return false, err
	}
	defer unlock()

	now := s.clock.Now().UTC()
	_, removed, err := s.store.RemoveAssignment(ctx, userID, roleID, Removal{By: removedBy, At: now, Reason: reason})
	if err != nil {
		return false, fmt.Errorf("failed to remove role: %w", err)
	}

	md := map[string]any{"target_user_id": userID}
	if reason != "" {
		md["reason"] = reason
	}
	e := audit.Entry{
		UserID:     removedBy,
		Action:     audit.ActionRoleRemoved,
		Resource:   "roles",
		ResourceID: roleID,
		Success:    removed,
		Metadata:   md,
	}
	if !removed {
		e.FailureReason = "no active assignment"
	}
	s.audit(ctx, e)
	if removed {
		s.logger.Info("Role removed", zap.String("user_id", userID), zap.String("role_id", roleID), zap.String("actor_id", removedBy))
	}
	return removed, nil
}

// GetUserRoles returns the ids of the user's effective assignments, checking
// expiry against the clock on every call.
func (s *service) GetUserRoles(ctx context.Context, userID string) ([]string, error) {
	active, err := s.store.ListAssignments(ctx, AssignmentFilter{UserID: userID, ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	var roles []string
	for _, a := range active {
		if a.Effective(now) && !slices.Contains(roles, a.RoleID) {
			roles = append(roles, a.RoleID)
		}
	}
	slices.Sort(roles)
	return roles, nil
}

func (s *service) ListAssignments(ctx context.Context, userID string) ([]Assignment, error) {
	return s.store.ListAssignments(ctx, AssignmentFilter{UserID: userID})
}

func (s *service) EffectiveAssignments(ctx context.Context) ([]Assignment, error) {
	active, err := s.store.ListAssignments(ctx, AssignmentFilter{ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	out := active[:0]
	for _, a := range active {
		if a.Effective(now) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *service) ExpireLapsed(ctx context.Context) (int, error) {
	now := s.clock.Now().UTC()
	expired, err := s.store.ExpireLapsed(ctx, now, Removal{By: audit.SystemActor, At: now, Reason: "expired"})
	if err != nil {
		return 0, fmt.Errorf("failed to expire assignments: %w", err)
	}
	for _, a := range expired {
		md := map[string]any{"target_user_id": a.UserID, "assignment_id": a.ID}
		if a.ExpiresAt != nil {
			md["expires_at"] = a.ExpiresAt.UTC()
		}
		s.audit(ctx, audit.Entry{
			UserID:     audit.SystemActor,
			Action:     audit.ActionAssignmentExpired,
			Resource:   "roles",
			ResourceID: a.RoleID,
			Success:    true,
			Metadata:   md,
		})
	}
	if len(expired) > 0 {
		s.logger.Info("Expired lapsed assignments", zap.Int("count", len(expired)))
	}
	return len(expired), nil
}

// EnsureDefaultRole assigns the configured default role when the user holds
// no effective role. It reports whether an assignment was made.
func (s *service) EnsureDefaultRole(ctx context.Context, userID, actorID string) (bool, error) {
	roles, err := s.GetUserRoles(ctx, userID)
	if err != nil {
		return false, err
	}
	if len(roles) > 0 {
		return false, nil
	}
	def := s.config().DefaultUserRole
	if _, err := s.AssignRole(ctx, userID, def, actorID, AssignOptions{Reason: "default role"}); err != nil {
		return false, err
	}
	return true, nil
}

func (s *service) ResolveUser(ctx context.Context, userID string) (Resolution, error) {
	ids, err := s.GetUserRoles(ctx, userID)
	if err != nil {
		return Resolution{}, err
	}
	var res Resolution
	for _, id := range ids {
		role, err := s.store.GetRole(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return Resolution{}, err
		}
		if !role.IsActive {
			continue
		}
		res.Roles = append(res.Roles, role)
	}
	SortRoles(res.Roles)

	seen := map[string]bool{}
	for _, role := range res.Roles {
		perms, err := s.effective(ctx, role)
		if err != nil {
			return Resolution{}, err
		}
		for _, p := range perms {
			if seen[p.Key()] {
				continue
			}
			seen[p.Key()] = true
			res.Permissions = append(res.Permissions, p)
		}
	}
	return res, nil
}

func permissionIDs(perms []catalog.Permission) []string {
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = p.ID
	}
	return out
}

func dedupe(ids []string) []string {
	var out []string
	for _, id := range ids {
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
