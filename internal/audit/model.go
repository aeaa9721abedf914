package audit

import (
	"errors"
	"time"
)

// Action enumerates the audit event kinds.
type Action string

const (
	ActionPermissionGranted     Action = "permission_granted"
	ActionAccessDenied          Action = "access_denied"
	ActionSystemError           Action = "system_error"
	ActionRoleCreated           Action = "role_created"
	ActionRoleUpdated           Action = "role_updated"
	ActionRoleDeleted           Action = "role_deleted"
	ActionRoleAssigned          Action = "role_assigned"
	ActionRoleRemoved           Action = "role_removed"
	ActionAssignmentExpired     Action = "assignment_expired"
	ActionAccessRequested       Action = "access_requested"
	ActionAccessRequestApproved Action = "access_request_approved"
	ActionAccessRequestRejected Action = "access_request_rejected"
	ActionAccessRequestExpired  Action = "access_request_expired"
	ActionPolicyCreated         Action = "policy_created"
	ActionPolicyUpdated         Action = "policy_updated"
	ActionPolicyDeleted         Action = "policy_deleted"
	ActionConfigUpdated         Action = "config_updated"
	ActionLogin                 Action = "login"
	ActionLogout                Action = "logout"
)

// Decision reports whether the action is produced by the decision path rather
// than an administrative flow.
func (a Action) Decision() bool {
	return a == ActionPermissionGranted || a == ActionAccessDenied || a == ActionSystemError
}

// SystemActor is recorded when the engine itself performs an action.
const SystemActor = "system"

var (
	// ErrNotFound indicates the audit entry does not exist.
	ErrNotFound = errors.New("audit: entry not found")
	// ErrInvalidEntry is returned for entries missing required fields.
	ErrInvalidEntry = errors.New("audit: invalid entry")
)

// Entry is one immutable audit record.
type Entry struct {
	ID            string         `json:"id"`
	Timestamp     time.Time      `json:"timestamp"`
	UserID        string         `json:"user_id"` // actor
	Action        Action         `json:"action"`
	Resource      string         `json:"resource,omitempty"`
	ResourceID    string         `json:"resource_id,omitempty"`
	Success       bool           `json:"success"`
	FailureReason string         `json:"failure_reason,omitempty"`
	RiskScore     *int           `json:"risk_score,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	IPAddress     string         `json:"ip_address,omitempty"`
	UserAgent     string         `json:"user_agent,omitempty"`
}

func (e Entry) clone() Entry {
	if e.RiskScore != nil {
		score := *e.RiskScore
		e.RiskScore = &score
	}
	if e.Metadata != nil {
		md := make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			md[k] = v
		}
		e.Metadata = md
	}
	return e
}

// Filter selects audit entries. All set fields are ANDed.
type Filter struct {
	UserID     string
	Resource   string
	ResourceID string
	Action     Action
	From       time.Time
	To         time.Time
	Success    *bool
	Limit      int // 0 means unlimited
	Offset     int
}

// Match reports whether e satisfies every set criterion.
func (f Filter) Match(e Entry) bool {
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.Resource != "" && e.Resource != f.Resource {
		return false
	}
	if f.ResourceID != "" && e.ResourceID != f.ResourceID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	if f.Success != nil && e.Success != *f.Success {
		return false
	}
	return true
}

// Policy holds the retention and forwarding settings applied by the service.
type Policy struct {
	MaxEntries                int
	RetentionDays             int
	LogAllActions             bool
	LogFailedOnly             bool
	AlertOnSuspiciousActivity bool
	AlertRiskThreshold        int
}

// DefaultMaxEntries is the retention cap used when none is configured.
const DefaultMaxEntries = 10000

// DefaultPolicy returns the retention defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxEntries:                DefaultMaxEntries,
		RetentionDays:             90,
		LogAllActions:             true,
		AlertOnSuspiciousActivity: true,
		AlertRiskThreshold:        70,
	}
}

// BoolPtr is a helper for building filters.
func BoolPtr(b bool) *bool { return &b }

// IntPtr is a helper for risk scores.
func IntPtr(i int) *int { return &i }
