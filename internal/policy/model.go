// Package policy evaluates supplementary security policies during access
// decisions. Rule conditions are written in a small expression language that
// is compiled when a policy is registered.
package policy

import (
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("policy: not found")
	ErrAlreadyExists = errors.New("policy: already exists")
	ErrValidation    = errors.New("policy: validation failed")
)

// RuleAction is what a matching rule asks the decision engine to do.
type RuleAction string

const (
	ActionAllow           RuleAction = "allow"
	ActionDeny            RuleAction = "deny"
	ActionRequireApproval RuleAction = "require_approval"
	ActionLogOnly         RuleAction = "log_only"
	ActionMFARequired     RuleAction = "mfa_required"
)

// Severity ranks a rule for reporting and risk scoring.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities; unknown values rank lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	case SeverityLow:
		return 1
	}
	return 0
}

// EnforcementLevel describes how strictly a policy is meant to be applied.
// It is reported with every match; it does not change what a rule does.
type EnforcementLevel string

const (
	EnforcementAdvisory EnforcementLevel = "advisory"
	EnforcementWarning  EnforcementLevel = "warning"
	EnforcementBlocking EnforcementLevel = "blocking"
)

// Type groups policies by purpose.
type Type string

const (
	TypeAccessControl  Type = "access_control"
	TypeDataProtection Type = "data_protection"
	TypeAuthentication Type = "authentication"
	TypeTimeBased      Type = "time_based"
)

// Rule is a single condition and the action taken when it holds.
type Rule struct {
	ID        string     `json:"id"`
	Condition string     `json:"condition" validate:"required"`
	Action    RuleAction `json:"action" validate:"required,oneof=allow deny require_approval log_only mfa_required"`
	Severity  Severity   `json:"severity" validate:"required,oneof=low medium high critical"`
	Message   string     `json:"message"`
	IsActive  bool       `json:"is_active"`
}

// Policy is a named, ordered list of rules.
type Policy struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	Description      string           `json:"description,omitempty"`
	Type             Type             `json:"type"`
	Rules            []Rule           `json:"rules"`
	IsActive         bool             `json:"is_active"`
	EnforcementLevel EnforcementLevel `json:"enforcement_level"`
	CreatedBy        string           `json:"created_by"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

func (p Policy) clone() Policy {
	p.Rules = append([]Rule(nil), p.Rules...)
	return p
}

// RuleInput is a rule as supplied by an administrator. IsActive defaults to true.
type RuleInput struct {
	ID        string     `json:"id" validate:"omitempty,max=64"`
	Condition string     `json:"condition" validate:"required"`
	Action    RuleAction `json:"action" validate:"required,oneof=allow deny require_approval log_only mfa_required"`
	Severity  Severity   `json:"severity" validate:"omitempty,oneof=low medium high critical"`
	Message   string     `json:"message"`
	IsActive  *bool      `json:"is_active"`
}

// CreatePolicyInput describes a new policy. ID is generated when empty.
type CreatePolicyInput struct {
	ID               string           `json:"id" validate:"omitempty,max=64"`
	Name             string           `json:"name" validate:"required,max=128"`
	Description      string           `json:"description"`
	Type             Type             `json:"type" validate:"required"`
	Rules            []RuleInput      `json:"rules" validate:"required,min=1,dive"`
	IsActive         *bool            `json:"is_active"`
	EnforcementLevel EnforcementLevel `json:"enforcement_level" validate:"omitempty,oneof=advisory warning blocking"`
}

// UpdatePolicyInput changes the fields that are set.
type UpdatePolicyInput struct {
	Name             *string           `json:"name" validate:"omitempty,max=128"`
	Description      *string           `json:"description"`
	Type             *Type             `json:"type"`
	Rules            *[]RuleInput      `json:"rules" validate:"omitempty,min=1,dive"`
	IsActive         *bool             `json:"is_active"`
	EnforcementLevel *EnforcementLevel `json:"enforcement_level" validate:"omitempty,oneof=advisory warning blocking"`
}

// Match records one rule whose condition held.
type Match struct {
	PolicyID    string           `json:"policy_id"`
	RuleID      string           `json:"rule_id"`
	Action      RuleAction       `json:"action"`
	Severity    Severity         `json:"severity"`
	Message     string           `json:"message,omitempty"`
	Enforcement EnforcementLevel `json:"enforcement"`
}

// Outcome aggregates the matches of one evaluation.
type Outcome struct {
	// Deny is the first matching deny rule. Evaluation stops there.
	Deny             *Match
	RequiresMFA      bool
	RequiresApproval bool
	Matches          []Match
}

// Denied reports whether a deny rule matched.
func (o Outcome) Denied() bool { return o.Deny != nil }

// MaxSeverity returns the highest severity among the matches.
func (o Outcome) MaxSeverity() Severity {
	var max Severity
	for _, m := range o.Matches {
		if m.Severity.Rank() > max.Rank() {
			max = m.Severity
		}
	}
	return max
}

// OfAction returns the matches with the given action.
func (o Outcome) OfAction(a RuleAction) []Match {
	var out []Match
	for _, m := range o.Matches {
		if m.Action == a {
			out = append(out, m)
		}
	}
	return out
}
