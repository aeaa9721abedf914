package authz

import (
	"context"

	"github.com/dhawalhost/wardgate/internal/attr"
	"github.com/dhawalhost/wardgate/internal/catalog"
	"github.com/dhawalhost/wardgate/internal/identity"
)

// checkScope applies the matched permission's scope to the resource data.
func (a *authorizer) checkScope(ctx context.Context, req Request, user identity.User, p catalog.Permission) (bool, error) {
	rd := attr.Bag(req.ResourceData)
	self := attr.String(req.UserID)

	switch p.Scope {
	case catalog.ScopeAll, "":
		return true, nil
	case catalog.ScopeOwn:
		return valueIs(rd, "ownerId", self) || valueIs(rd, "createdBy", self), nil
	case catalog.ScopeTeam:
		// Both sides must name a department; two blanks are not a match.
		return user.Department != "" && rd.Text("department") == user.Department, nil
	case catalog.ScopeAssigned:
		if valueIs(rd, "assignedTo", self) {
			return true, nil
		}
		users, ok := rd.Lookup("assignedUsers")
		return ok && self.In(users), nil
	case catalog.ScopeCustom:
		if a.scopeHook == nil {
			return true, nil
		}
		return a.scopeHook(ctx, req, user, p)
	}
	return false, nil
}

func valueIs(b attr.Bag, path string, want attr.Value) bool {
	v, ok := b.Lookup(path)
	return ok && v.Equal(want)
}
