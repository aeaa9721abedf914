package rbac

import (
	"errors"
	"slices"
	"time"

	"github.com/dhawalhost/wardgate/internal/catalog"
)

var (
	ErrNotFound      = errors.New("rbac: not found")
	ErrAlreadyExists = errors.New("rbac: already exists")
	ErrInvalidState  = errors.New("rbac: invalid state")
	ErrRoleInUse     = errors.New("rbac: role in use")
	ErrRoleProtected = errors.New("rbac: role protected")
	ErrValidation    = errors.New("rbac: validation failed")
)

// RoleType distinguishes seeded roles from administrator-defined ones.
type RoleType string

const (
	RoleTypeSystem RoleType = "system"
	RoleTypeCustom RoleType = "custom"
)

// Role represents an RBAC role.
type Role struct {
	ID           string               `json:"id"`
	Name         string               `json:"name"`
	Description  string               `json:"description,omitempty"`
	Type         RoleType             `json:"type"`
	Permissions  []catalog.Permission `json:"permissions"`
	Hierarchy    int                  `json:"hierarchy"`
	InheritsFrom []string             `json:"inherits_from,omitempty"`
	IsActive     bool                 `json:"is_active"`
	CreatedBy    string               `json:"created_by"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// System reports whether the role is protected from edits and deletion.
func (r Role) System() bool { return r.Type == RoleTypeSystem }

func (r Role) clone() Role {
	r.Permissions = slices.Clone(r.Permissions)
	r.InheritsFrom = slices.Clone(r.InheritsFrom)
	return r
}

// AssignmentMetadata records why an assignment exists or ended.
type AssignmentMetadata struct {
	Reason          string `json:"reason,omitempty"`
	TemporaryAccess bool   `json:"temporary_access,omitempty"`
	RemovalReason   string `json:"removal_reason,omitempty"`
	// RequestID links assignments granted through an access request.
	RequestID string `json:"request_id,omitempty"`
}

// Assignment binds a user to a role. Assignments are never deleted; removal
// clears IsActive and stamps RemovedBy/RemovedAt.
type Assignment struct {
	ID         string             `json:"id"`
	UserID     string             `json:"user_id"`
	RoleID     string             `json:"role_id"`
	AssignedBy string             `json:"assigned_by"`
	AssignedAt time.Time          `json:"assigned_at"`
	ExpiresAt  *time.Time         `json:"expires_at,omitempty"`
	IsActive   bool               `json:"is_active"`
	RemovedBy  string             `json:"removed_by,omitempty"`
	RemovedAt  *time.Time         `json:"removed_at,omitempty"`
	Metadata   AssignmentMetadata `json:"metadata"`
}

// Effective reports whether the assignment grants its role at now.
func (a Assignment) Effective(now time.Time) bool {
	return a.IsActive && (a.ExpiresAt == nil || a.ExpiresAt.After(now))
}

// Lapsed reports an assignment that is still flagged active but has expired.
func (a Assignment) Lapsed(now time.Time) bool {
	return a.IsActive && a.ExpiresAt != nil && !a.ExpiresAt.After(now)
}

func (a Assignment) clone() Assignment {
	if a.ExpiresAt != nil {
		t := *a.ExpiresAt
		a.ExpiresAt = &t
	}
	if a.RemovedAt != nil {
		t := *a.RemovedAt
		a.RemovedAt = &t
	}
	return a
}

// CreateRoleInput describes a new custom role. Permissions lists catalog ids;
// CustomPermissions are registered in the catalog before being attached.
type CreateRoleInput struct {
	Name              string               `json:"name" validate:"required,max=100"`
	Description       string               `json:"description" validate:"max=500"`
	Permissions       []string             `json:"permissions"`
	CustomPermissions []catalog.Permission `json:"custom_permissions"`
	Hierarchy         int                  `json:"hierarchy" validate:"gte=0,lte=10"`
	InheritsFrom      []string             `json:"inherits_from"`
}

// UpdateRoleInput carries the fields to change; nil leaves a field untouched.
type UpdateRoleInput struct {
	Name         *string   `json:"name" validate:"omitnil,min=1,max=100"`
	Description  *string   `json:"description" validate:"omitempty,max=500"`
	Permissions  *[]string `json:"permissions"`
	Hierarchy    *int      `json:"hierarchy" validate:"omitempty,gte=0,lte=10"`
	InheritsFrom *[]string `json:"inherits_from"`
	IsActive     *bool     `json:"is_active"`
}

// AssignOptions tunes AssignRole.
type AssignOptions struct {
	Reason          string
	ExpiresAt       *time.Time
	TemporaryAccess bool
	RequestID       string
}

// AssignmentFilter selects assignments from the store.
type AssignmentFilter struct {
	UserID     string
	RoleID     string
	ActiveOnly bool
}

func (f AssignmentFilter) match(a Assignment) bool {
	if f.UserID != "" && a.UserID != f.UserID {
		return false
	}
	if f.RoleID != "" && a.RoleID != f.RoleID {
		return false
	}
	if f.ActiveOnly && !a.IsActive {
		return false
	}
	return true
}

// Removal describes a soft delete.
type Removal struct {
	By     string
	At     time.Time
	Reason string
}
