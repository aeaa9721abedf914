// Package governance runs the access request workflow: users ask for roles,
// an approver grants or rejects them, and stale requests expire.
package governance

import (
	"errors"
	"slices"
	"time"
)

var (
	ErrNotFound     = errors.New("governance: request not found")
	ErrInvalidState = errors.New("governance: invalid state")
	ErrValidation   = errors.New("governance: validation failed")
)

// Status is the lifecycle state of an access request. Only pending requests
// transition.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// Urgency is advisory; it does not change how a request is processed.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// RequestMetadata tunes what an approval grants.
type RequestMetadata struct {
	Urgency            Urgency `json:"urgency"`
	TemporaryAccess    bool    `json:"temporary_access"`
	AccessDurationDays int     `json:"access_duration_days,omitempty"`
}

// AccessRequest asks for roles, and optionally names the permissions the
// requester is after. Approval grants roles only.
type AccessRequest struct {
	ID                   string          `json:"id"`
	UserID               string          `json:"user_id"`
	RequestedBy          string          `json:"requested_by"`
	RequestedPermissions []string        `json:"requested_permissions"`
	RequestedRoles       []string        `json:"requested_roles"`
	Reason               string          `json:"reason"`
	Justification        string          `json:"justification,omitempty"`
	Status               Status          `json:"status"`
	ApprovedBy           string          `json:"approved_by,omitempty"`
	ApprovedAt           *time.Time      `json:"approved_at,omitempty"`
	RejectedBy           string          `json:"rejected_by,omitempty"`
	RejectedAt           *time.Time      `json:"rejected_at,omitempty"`
	RejectionReason      string          `json:"rejection_reason,omitempty"`
	ExpiredAt            *time.Time      `json:"expired_at,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
	Metadata             RequestMetadata `json:"metadata"`
}

// Pending reports whether the request can still be decided.
func (r AccessRequest) Pending() bool { return r.Status == StatusPending }

// AccessExpiry returns when roles granted by this request should lapse, or
// nil for permanent access.
func (r AccessRequest) AccessExpiry(approvedAt time.Time) *time.Time {
	if !r.Metadata.TemporaryAccess || r.Metadata.AccessDurationDays <= 0 {
		return nil
	}
	t := approvedAt.AddDate(0, 0, r.Metadata.AccessDurationDays)
	return &t
}

func (r AccessRequest) clone() AccessRequest {
	r.RequestedPermissions = slices.Clone(r.RequestedPermissions)
	r.RequestedRoles = slices.Clone(r.RequestedRoles)
	for _, p := range []**time.Time{&r.ApprovedAt, &r.RejectedAt, &r.ExpiredAt} {
		if *p != nil {
			t := **p
			*p = &t
		}
	}
	return r
}

// CreateRequestInput describes a new access request.
type CreateRequestInput struct {
	UserID               string   `json:"user_id" binding:"required" validate:"required,max=128"`
	RequestedPermissions []string `json:"requested_permissions"`
	RequestedRoles       []string `json:"requested_roles"`
	Reason               string   `json:"reason" binding:"required" validate:"required,max=500"`
	Justification        string   `json:"justification" validate:"max=2000"`
	Urgency              Urgency  `json:"urgency" validate:"omitempty,oneof=low medium high critical"`
	TemporaryAccess      bool     `json:"temporary_access"`
	AccessDurationDays   int      `json:"access_duration_days" validate:"gte=0,lte=365"`
}
