package policy

// Built-in policy ids.
const (
	PolicyAuditIntegrity      = "audit-integrity"
	PolicySensitiveOperations = "sensitive-operations"
	PolicyAfterHours          = "after-hours"
)

// DefaultPolicies returns the policies seeded on first start.
func DefaultPolicies() []Policy {
	return []Policy{
		{
			ID:               PolicyAfterHours,
			Name:             "After-hours activity",
			Description:      "Flags destructive operations outside 06:00-22:00 UTC.",
			Type:             TypeTimeBased,
			IsActive:         true,
			EnforcementLevel: EnforcementAdvisory,
			Rules: []Rule{{
				ID:        "after-hours-destructive",
				Condition: `action in ["manage", "delete"] && (hour() < 6 || hour() >= 22)`,
				Action:    ActionLogOnly,
				Severity:  SeverityMedium,
				Message:   "Destructive operation outside business hours",
				IsActive:  true,
			}},
		},
		{
			ID:               PolicyAuditIntegrity,
			Name:             "Audit log integrity",
			Description:      "Audit entries are immutable.",
			Type:             TypeDataProtection,
			IsActive:         true,
			EnforcementLevel: EnforcementBlocking,
			Rules: []Rule{{
				ID:        "audit-immutable",
				Condition: `resource == "audit_logs" && action in ["create", "update", "delete", "manage"]`,
				Action:    ActionDeny,
				Severity:  SeverityCritical,
				Message:   "Audit logs cannot be modified",
				IsActive:  true,
			}},
		},
		{
			ID:               PolicySensitiveOperations,
			Name:             "Sensitive operations",
			Description:      "Deleting users, roles or settings needs a second factor.",
			Type:             TypeAuthentication,
			IsActive:         true,
			EnforcementLevel: EnforcementWarning,
			Rules: []Rule{{
				ID:        "sensitive-delete-mfa",
				Condition: `action == "delete" && resource in ["users", "roles", "settings"]`,
				Action:    ActionMFARequired,
				Severity:  SeverityHigh,
				Message:   "Deleting this resource requires MFA",
				IsActive:  true,
			}},
		},
	}
}
