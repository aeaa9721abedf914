package catalog

import "github.com/dhawalhost/wardgate/internal/attr"

// ID builds the canonical permission id "resource:action:scope".
func ID(resource, action string, scope Scope) string {
	return resource + ":" + action + ":" + string(scope)
}

func define(resource, action string, scope Scope, risk RiskLevel, category, description string, conds ...Condition) Permission {
	return Permission{
		ID:         ID(resource, action, scope),
		Resource:   resource,
		Action:     action,
		Scope:      scope,
		Conditions: conds,
		Metadata:   Metadata{Description: description, Category: category, RiskLevel: risk},
	}
}

// RefundLimit is the largest refund amount the limited refund permission covers.
const RefundLimit = 1000

// Defaults returns the built-in permission definitions.
func Defaults() []Permission {
	return []Permission{
		define(WildcardResource, ActionManage, ScopeAll, RiskCritical, "system", "Full control over every resource"),

		define("users", ActionManage, ScopeAll, RiskHigh, "administration", "Manage all user accounts"),
		define("users", "read", ScopeTeam, RiskLow, "administration", "View users in the same department"),
		define("roles", ActionManage, ScopeAll, RiskCritical, "administration", "Manage roles and assignments"),
		define("settings", ActionManage, ScopeAll, RiskHigh, "administration", "Change system settings"),
		define("audit_logs", "read", ScopeAll, RiskMedium, "security", "Read the audit trail"),

		define("properties", ActionManage, ScopeAll, RiskHigh, "properties", "Manage all properties"),
		define("properties", ActionManage, ScopeAssigned, RiskMedium, "properties", "Manage assigned properties"),
		define("properties", "read", ScopeAll, RiskLow, "properties", "View property listings"),
		define("properties", "update", ScopeTeam, RiskMedium, "properties", "Update properties in the same department"),

		define("leases", ActionManage, ScopeAll, RiskHigh, "leasing", "Manage all leases"),
		define("leases", ActionManage, ScopeTeam, RiskMedium, "leasing", "Manage leases in the same department"),
		define("leases", ActionManage, ScopeAssigned, RiskMedium, "leasing", "Manage leases on assigned properties"),
		define("leases", "read", ScopeOwn, RiskLow, "leasing", "View own leases"),

		define("tenants", ActionManage, ScopeAll, RiskHigh, "leasing", "Manage all tenant records"),
		define("tenants", ActionManage, ScopeTeam, RiskMedium, "leasing", "Manage tenant records in the same department"),
		define("tenants", "read", ScopeAssigned, RiskLow, "leasing", "View tenants of assigned properties"),

		define("maintenance", ActionManage, ScopeAll, RiskMedium, "maintenance", "Manage all maintenance requests"),
		define("maintenance", ActionManage, ScopeTeam, RiskMedium, "maintenance", "Manage maintenance in the same department"),
		define("maintenance", ActionManage, ScopeAssigned, RiskLow, "maintenance", "Manage maintenance on assigned properties"),
		define("maintenance", "create", ScopeOwn, RiskLow, "maintenance", "Open maintenance requests"),
		define("maintenance", "read", ScopeOwn, RiskLow, "maintenance", "View own maintenance requests"),

		define("payments", ActionManage, ScopeAll, RiskCritical, "finance", "Manage all payments"),
		define("payments", "read", ScopeTeam, RiskMedium, "finance", "View payments in the same department"),
		define("payments", "read", ScopeAssigned, RiskMedium, "finance", "View payments on assigned properties"),
		define("payments", "read", ScopeOwn, RiskLow, "finance", "View own payments"),
		define("payments", "create", ScopeOwn, RiskMedium, "finance", "Make payments"),
		define("payments", "refund", ScopeAll, RiskHigh, "finance", "Refund payments below the approval limit",
			Condition{Field: "amount", Operator: OpLessThan, Value: attr.Number(RefundLimit)}),

		define("reports", "read", ScopeAll, RiskMedium, "reporting", "View all reports"),
		define("reports", "read", ScopeTeam, RiskLow, "reporting", "View department reports"),
		define("reports", "read", ScopeAssigned, RiskLow, "reporting", "View reports for assigned properties"),

		define("documents", ActionManage, ScopeAll, RiskHigh, "documents", "Manage all documents"),
		define("documents", ActionManage, ScopeTeam, RiskMedium, "documents", "Manage department documents"),
		define("documents", ActionManage, ScopeAssigned, RiskLow, "documents", "Manage documents of assigned properties"),
		define("documents", "read", ScopeOwn, RiskLow, "documents", "View own documents"),

		define("profile", "read", ScopeOwn, RiskLow, "account", "View own profile"),
		define("profile", "update", ScopeOwn, RiskLow, "account", "Update own profile"),
	}
}
