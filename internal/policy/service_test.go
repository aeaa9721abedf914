package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/dhawalhost/wardgate/internal/attr"
	"github.com/dhawalhost/wardgate/internal/audit"
)

type fixture struct {
	svc   Service
	clock clockwork.FakeClock
	audit audit.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{clock: clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))}
	f.audit = audit.NewService(audit.Options{Clock: f.clock})
	f.svc = NewService(Options{Recorder: f.audit, Clock: f.clock})
	if err := f.svc.SeedDefaults(context.Background()); err != nil {
		t.Fatalf("SeedDefaults: %v", err)
	}
	return f
}

func decisionVars(resource, action string) attr.Bag {
	return attr.Bag{
		"userId":       "u1",
		"resource":     resource,
		"action":       action,
		"resourceData": map[string]any{},
		"context":      map[string]any{},
		"user":         map[string]any{"department": "ops"},
	}
}

func TestSeedDefaultsIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.svc.SeedDefaults(ctx); err != nil {
		t.Fatalf("second seed: %v", err)
	}
	policies, err := f.svc.ListPolicies(ctx)
	if err != nil {
		t.Fatalf("ListPolicies: %v", err)
	}
	if len(policies) != 3 {
		t.Fatalf("expected 3 policies, got %d", len(policies))
	}
	if policies[0].ID != PolicyAfterHours || policies[1].ID != PolicyAuditIntegrity || policies[2].ID != PolicySensitiveOperations {
		t.Fatalf("unexpected order: %s, %s, %s", policies[0].ID, policies[1].ID, policies[2].ID)
	}
	_, total, _ := f.audit.Query(ctx, audit.Filter{Action: audit.ActionPolicyCreated})
	if total != 3 {
		t.Fatalf("expected 3 seed audit entries, got %d", total)
	}
}

func TestSeededPolicies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.svc.Evaluate(ctx, decisionVars("audit_logs", "delete"))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !out.Denied() || out.Deny.PolicyID != PolicyAuditIntegrity {
		t.Fatalf("expected audit-integrity deny, got %+v", out)
	}
	if out.Deny.Message != "Audit logs cannot be modified" {
		t.Fatalf("unexpected message %q", out.Deny.Message)
	}

	out, err = f.svc.Evaluate(ctx, decisionVars("audit_logs", "read"))
	if err != nil || out.Denied() {
		t.Fatalf("reading audit logs should pass: %+v %v", out, err)
	}

	out, _ = f.svc.Evaluate(ctx, decisionVars("roles", "delete"))
	if !out.RequiresMFA || out.Denied() {
		t.Fatalf("deleting roles should require MFA: %+v", out)
	}
	if len(out.OfAction(ActionLogOnly)) != 0 {
		t.Fatalf("09:00 is inside business hours: %+v", out.Matches)
	}

	f.clock.Advance(14 * time.Hour) // 23:00
	out, _ = f.svc.Evaluate(ctx, decisionVars("roles", "delete"))
	if len(out.OfAction(ActionLogOnly)) != 1 {
		t.Fatalf("expected after-hours log_only match, got %+v", out.Matches)
	}
	if out.MaxSeverity() != SeverityHigh {
		t.Fatalf("MaxSeverity = %s, want high", out.MaxSeverity())
	}
}

func TestFirstDenyWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.CreatePolicy(ctx, CreatePolicyInput{
		ID:   "aa-freeze",
		Name: "Change freeze",
		Type: TypeAccessControl,
		Rules: []RuleInput{
			{Condition: `resource == "audit_logs"`, Action: ActionDeny, Message: "Frozen"},
			{Condition: `true`, Action: ActionRequireApproval},
		},
	}, "admin-1")
	if err != nil {
		t.Fatalf("CreatePolicy: %v", err)
	}

	out, err := f.svc.Evaluate(ctx, decisionVars("audit_logs", "delete"))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if out.Deny == nil || out.Deny.PolicyID != "aa-freeze" || out.Deny.RuleID != "rule-1" {
		t.Fatalf("expected aa-freeze rule-1 to deny first, got %+v", out.Deny)
	}
	if out.RequiresApproval {
		t.Fatal("evaluation should stop at the first deny")
	}

	out, _ = f.svc.Evaluate(ctx, decisionVars("properties", "read"))
	if !out.RequiresApproval || out.Denied() {
		t.Fatalf("expected approval requirement only, got %+v", out)
	}
}

func TestInactivePoliciesAndRulesAreSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	off := false
	if _, err := f.svc.UpdatePolicy(ctx, PolicyAuditIntegrity, UpdatePolicyInput{IsActive: &off}, "admin-1"); err != nil {
		t.Fatalf("UpdatePolicy: %v", err)
	}
	out, _ := f.svc.Evaluate(ctx, decisionVars("audit_logs", "delete"))
	if out.Denied() {
		t.Fatal("inactive policy should not deny")
	}

	_, err := f.svc.CreatePolicy(ctx, CreatePolicyInput{
		Name:  "Dormant",
		Type:  TypeAccessControl,
		Rules: []RuleInput{{Condition: `true`, Action: ActionDeny, IsActive: &off}},
	}, "admin-1")
	if err != nil {
		t.Fatalf("CreatePolicy: %v", err)
	}
	out, _ = f.svc.Evaluate(ctx, decisionVars("properties", "read"))
	if out.Denied() {
		t.Fatal("inactive rule should not deny")
	}
}

func TestCreatePolicyRejectsBadConditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.CreatePolicy(ctx, CreatePolicyInput{
		ID:    "broken",
		Name:  "Broken",
		Type:  TypeAccessControl,
		Rules: []RuleInput{{Condition: `action ==`, Action: ActionDeny}},
	}, "admin-1")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := f.svc.GetPolicy(ctx, "broken"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("broken policy must not be stored: %v", err)
	}
	failed, _, _ := f.audit.Query(ctx, audit.Filter{Action: audit.ActionPolicyCreated, Success: audit.BoolPtr(false)})
	if len(failed) != 1 {
		t.Fatalf("expected one failed audit entry, got %d", len(failed))
	}

	_, err = f.svc.CreatePolicy(ctx, CreatePolicyInput{
		Name:  "Dup rules",
		Type:  TypeAccessControl,
		Rules: []RuleInput{{ID: "r", Condition: `true`, Action: ActionAllow}, {ID: "r", Condition: `true`, Action: ActionAllow}},
	}, "admin-1")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for duplicate rule ids, got %v", err)
	}

	_, err = f.svc.CreatePolicy(ctx, CreatePolicyInput{
		ID:    PolicyAuditIntegrity,
		Name:  "Again",
		Type:  TypeAccessControl,
		Rules: []RuleInput{{Condition: `true`, Action: ActionAllow}},
	}, "admin-1")
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestEvaluationErrorAborts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.CreatePolicy(ctx, CreatePolicyInput{
		ID:    "typed",
		Name:  "Typed",
		Type:  TypeAccessControl,
		Rules: []RuleInput{{Condition: `resourceData.amount > 10`, Action: ActionDeny}},
	}, "admin-1")
	if err != nil {
		t.Fatalf("CreatePolicy: %v", err)
	}
	vars := decisionVars("payments", "read")
	vars["resourceData"] = map[string]any{"amount": "lots"}
	if _, err := f.svc.Evaluate(ctx, vars); !errors.Is(err, ErrEvaluation) {
		t.Fatalf("expected ErrEvaluation, got %v", err)
	}
}

func TestEvaluateHonoursCancellation(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.svc.Evaluate(ctx, decisionVars("roles", "delete")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDeletePolicy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.svc.DeletePolicy(ctx, PolicyAuditIntegrity, "admin-1"); err != nil {
		t.Fatalf("DeletePolicy: %v", err)
	}
	out, _ := f.svc.Evaluate(ctx, decisionVars("audit_logs", "delete"))
	if out.Denied() {
		t.Fatal("deleted policy still denies")
	}
	if err := f.svc.DeletePolicy(ctx, PolicyAuditIntegrity, "admin-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	_, total, _ := f.audit.Query(ctx, audit.Filter{Action: audit.ActionPolicyDeleted})
	if total != 2 {
		t.Fatalf("expected 2 delete audit entries, got %d", total)
	}
}

func TestReloadPicksUpStoreChanges(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(Options{Store: store})
	ctx := context.Background()
	if err := store.Create(ctx, Policy{
		ID:       "external",
		IsActive: true,
		Rules:    []Rule{{ID: "r1", Condition: `action == "read"`, Action: ActionDeny, IsActive: true}},
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	out, _ := svc.Evaluate(ctx, decisionVars("x", "read"))
	if out.Denied() {
		t.Fatal("engine should be empty before Reload")
	}
	if err := svc.Reload(ctx); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	out, _ = svc.Evaluate(ctx, decisionVars("x", "read"))
	if !out.Denied() {
		t.Fatal("expected deny after Reload")
	}
}
