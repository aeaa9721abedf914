// Package catalog holds the permission definitions roles are built from.
package catalog

import (
	"errors"
	"fmt"

	"github.com/dhawalhost/wardgate/internal/attr"
)

// Sentinel values recognised before any literal comparison.
const (
	// WildcardResource matches every resource.
	WildcardResource = "*"
	// ActionManage matches every action on its resource.
	ActionManage = "manage"
)

// Scope restricts which resource instances a permission applies to.
type Scope string

const (
	ScopeAll      Scope = "all"
	ScopeOwn      Scope = "own"
	ScopeTeam     Scope = "team"
	ScopeAssigned Scope = "assigned"
	ScopeCustom   Scope = "custom"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	switch s {
	case ScopeAll, ScopeOwn, ScopeTeam, ScopeAssigned, ScopeCustom:
		return true
	}
	return false
}

// RiskLevel classifies the blast radius of a permission.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Score maps a risk level onto the 0-100 risk scale used by audit entries.
func (r RiskLevel) Score() int {
	switch r {
	case RiskMedium:
		return 30
	case RiskHigh:
		return 60
	case RiskCritical:
		return 90
	default:
		return 10
	}
}

// Metadata describes a permission for humans and for risk scoring.
type Metadata struct {
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category,omitempty"`
	RiskLevel   RiskLevel `json:"risk_level,omitempty"`
}

// Permission grants an action on a resource within a scope.
type Permission struct {
	ID         string      `json:"id"`
	Resource   string      `json:"resource"`
	Action     string      `json:"action"`
	Scope      Scope       `json:"scope"`
	Conditions []Condition `json:"conditions,omitempty"`
	Metadata   Metadata    `json:"metadata"`
}

// ErrInvalidPermission is returned for malformed permission definitions.
var ErrInvalidPermission = errors.New("catalog: invalid permission")

// Key is the de-duplication key used when merging permissions from several roles.
func (p Permission) Key() string {
	return p.Resource + "|" + p.Action + "|" + string(p.Scope)
}

// Matches reports whether the permission covers resource and action. The
// wildcard resource and the manage action are checked before literal equality.
func (p Permission) Matches(resource, action string) bool {
	if p.Resource != WildcardResource && p.Resource != resource {
		return false
	}
	return p.Action == ActionManage || p.Action == action
}

// ConditionsHold evaluates every condition against the resource data, falling
// back to the request context for fields the resource does not carry.
func (p Permission) ConditionsHold(resourceData, context attr.Bag) bool {
	for _, c := range p.Conditions {
		if !c.Evaluate(resourceData, context) {
			return false
		}
	}
	return true
}

// Validate checks the definition is complete.
func (p Permission) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidPermission)
	}
	if p.Resource == "" || p.Action == "" {
		return fmt.Errorf("%w: %s: resource and action are required", ErrInvalidPermission, p.ID)
	}
	if !p.Scope.Valid() {
		return fmt.Errorf("%w: %s: unknown scope %q", ErrInvalidPermission, p.ID, p.Scope)
	}
	for _, c := range p.Conditions {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidPermission, p.ID, err)
		}
	}
	return nil
}

// Equal compares two definitions field by field.
func (p Permission) Equal(o Permission) bool {
	if p.ID != o.ID || p.Resource != o.Resource || p.Action != o.Action || p.Scope != o.Scope || p.Metadata != o.Metadata {
		return false
	}
	if len(p.Conditions) != len(o.Conditions) {
		return false
	}
	for i := range p.Conditions {
		if !p.Conditions[i].Equal(o.Conditions[i]) {
			return false
		}
	}
	return true
}
