package rbac

import "github.com/dhawalhost/wardgate/internal/catalog"

// System role ids. System roles use their name as id.
const (
	RoleSuperAdmin      = "super_admin"
	RoleAdmin           = "admin"
	RoleManager         = "manager"
	RolePropertyManager = "property_manager"
	RoleUser            = "user"
	RoleTenant          = "tenant"
)

// SystemRole is the seed definition of a protected role.
type SystemRole struct {
	ID          string
	Description string
	Hierarchy   int
	Permissions []string
}

func ids(pairs ...[3]string) []string {
	out := make([]string, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, catalog.ID(p[0], p[1], catalog.Scope(p[2])))
	}
	return out
}

// SystemRoles returns the seeded role definitions, highest hierarchy first.
func SystemRoles() []SystemRole {
	const (
		all      = string(catalog.ScopeAll)
		own      = string(catalog.ScopeOwn)
		team     = string(catalog.ScopeTeam)
		assigned = string(catalog.ScopeAssigned)
		manage   = catalog.ActionManage
	)
	return []SystemRole{
		{
			ID:          RoleSuperAdmin,
			Description: "Unrestricted access to every resource",
			Hierarchy:   10,
			Permissions: ids([3]string{catalog.WildcardResource, manage, all}),
		},
		{
			ID:          RoleAdmin,
			Description: "Administers users, roles and all operational data",
			Hierarchy:   8,
			Permissions: ids(
				[3]string{"users", manage, all},
				[3]string{"roles", manage, all},
				[3]string{"properties", manage, all},
				[3]string{"leases", manage, all},
				[3]string{"tenants", manage, all},
				[3]string{"maintenance", manage, all},
				[3]string{"payments", manage, all},
				[3]string{"settings", manage, all},
				[3]string{"documents", manage, all},
				[3]string{"reports", "read", all},
				[3]string{"audit_logs", "read", all},
			),
		},
		{
			ID:          RoleManager,
			Description: "Runs a department",
			Hierarchy:   6,
			Permissions: ids(
				[3]string{"properties", "read", all},
				[3]string{"properties", "update", team},
				[3]string{"leases", manage, team},
				[3]string{"tenants", manage, team},
				[3]string{"maintenance", manage, team},
				[3]string{"documents", manage, team},
				[3]string{"payments", "read", team},
				[3]string{"payments", "refund", all},
				[3]string{"reports", "read", team},
				[3]string{"users", "read", team},
			),
		},
		{
			ID:          RolePropertyManager,
			Description: "Manages the properties assigned to them",
			Hierarchy:   4,
			Permissions: ids(
				[3]string{"properties", manage, assigned},
				[3]string{"leases", manage, assigned},
				[3]string{"maintenance", manage, assigned},
				[3]string{"documents", manage, assigned},
				[3]string{"tenants", "read", assigned},
				[3]string{"payments", "read", assigned},
				[3]string{"reports", "read", assigned},
			),
		},
		{
			ID:          RoleUser,
			Description: "Default role for registered users",
			Hierarchy:   2,
			Permissions: ids(
				[3]string{"profile", "read", own},
				[3]string{"profile", "update", own},
				[3]string{"properties", "read", all},
				[3]string{"maintenance", "create", own},
				[3]string{"maintenance", "read", own},
				[3]string{"documents", "read", own},
			),
		},
		{
			ID:          RoleTenant,
			Description: "Leaseholder access to their own records",
			Hierarchy:   1,
			Permissions: ids(
				[3]string{"leases", "read", own},
				[3]string{"payments", "create", own},
				[3]string{"payments", "read", own},
				[3]string{"maintenance", "create", own},
				[3]string{"maintenance", "read", own},
				[3]string{"profile", "read", own},
				[3]string{"profile", "update", own},
			),
		},
	}
}
