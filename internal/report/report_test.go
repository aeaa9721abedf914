package report

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/dhawalhost/wardgate/internal/audit"
	"github.com/dhawalhost/wardgate/internal/catalog"
	"github.com/dhawalhost/wardgate/internal/governance"
	"github.com/dhawalhost/wardgate/internal/identity"
	"github.com/dhawalhost/wardgate/internal/rbac"
)

type fixture struct {
	report   Service
	rbac     rbac.Service
	requests governance.Service
	audit    audit.Service
	clock    clockwork.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{clock: clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))}
	dir := identity.NewMemoryDirectory(identity.User{ID: "gone", Status: identity.StatusSuspended})
	for i := 0; i < 10; i++ {
		dir.Put(identity.User{ID: fmt.Sprintf("u%d", i), Status: identity.StatusActive})
	}
	cat := catalog.NewDefault()
	f.audit = audit.NewService(audit.Options{Clock: f.clock})
	f.rbac = rbac.NewService(rbac.Options{Catalog: cat, Directory: dir, Recorder: f.audit, Clock: f.clock})
	if err := f.rbac.SeedSystemRoles(context.Background()); err != nil {
		t.Fatalf("SeedSystemRoles: %v", err)
	}
	var err error
	f.requests, err = governance.NewService(governance.Options{Roles: f.rbac, Catalog: cat, Directory: dir, Recorder: f.audit, Clock: f.clock})
	if err != nil {
		t.Fatalf("governance.NewService: %v", err)
	}
	f.report, err = NewService(Options{
		Directory: dir,
		Roles:     f.rbac,
		Catalog:   cat,
		Requests:  f.requests,
		Audit:     f.audit,
		Clock:     f.clock,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return f
}

func (f *fixture) log(t *testing.T, action audit.Action, success bool, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := f.audit.Log(context.Background(), audit.Entry{UserID: "u9", Action: action, Success: success}); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}
}

func TestGenerateFlagsEveryBreachedThreshold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Outside the activity window.
	f.log(t, audit.ActionLogin, false, 1)
	f.clock.Advance(25 * time.Hour)

	for _, u := range []string{"u0", "u1", "gone"} {
		if _, err := f.rbac.AssignRole(ctx, u, rbac.RoleAdmin, "root", rbac.AssignOptions{}); err != nil {
			t.Fatalf("AssignRole(%s): %v", u, err)
		}
	}
	for i := 2; i < 8; i++ {
		u := fmt.Sprintf("u%d", i)
		if _, err := f.requests.Create(ctx, governance.CreateRequestInput{UserID: u, Reason: "onboarding", RequestedRoles: []string{rbac.RoleUser}}, u); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	f.log(t, audit.ActionLogin, false, 11)
	f.log(t, audit.ActionLogin, true, 4)
	f.log(t, audit.ActionAccessDenied, false, 3)

	r, err := f.report.Generate(ctx)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	checks := map[string][2]int{
		"total users":        {r.TotalUsers, 11},
		"active users":       {r.ActiveUsers, 10},
		"total roles":        {r.TotalRoles, 6},
		"system roles":       {r.SystemRoles, 6},
		"custom roles":       {r.CustomRoles, 0},
		"permissions":        {r.TotalPermissions, len(catalog.Defaults())},
		"active assignments": {r.ActiveAssignments, 3},
		"pending requests":   {r.PendingRequests, 6},
		"failed actions":     {r.FailedActions, 15},
		"suspicious":         {r.SuspiciousActivity, 3},
		"failed logins":      {r.FailedLogins, 11},
		"privileged users":   {r.PrivilegedUsers, 2},
	}
	for name, c := range checks {
		if c[0] != c[1] {
			t.Fatalf("%s = %d, want %d", name, c[0], c[1])
		}
	}
	if r.PrivilegedRatio != 0.2 {
		t.Fatalf("privileged ratio = %v, want 0.2", r.PrivilegedRatio)
	}
	if r.RiskLevel != RiskCritical || len(r.Recommendations) != 3 {
		t.Fatalf("risk %s with recommendations %v", r.RiskLevel, r.Recommendations)
	}
}

func TestGenerateQuietSystem(t *testing.T) {
	f := newFixture(t)
	r, err := f.report.Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if r.RiskLevel != RiskLow || r.Recommendations == nil || len(r.Recommendations) != 0 {
		t.Fatalf("unexpected report %+v", r)
	}
	if !r.GeneratedAt.Equal(f.clock.Now()) {
		t.Fatalf("generated at %v, want %v", r.GeneratedAt, f.clock.Now())
	}
}
