package catalog

import (
	"errors"
	"testing"

	"github.com/dhawalhost/wardgate/internal/attr"
)

func TestPermissionMatchesSentinels(t *testing.T) {
	wild := Permission{ID: "w", Resource: WildcardResource, Action: ActionManage, Scope: ScopeAll}
	if !wild.Matches("leases", "delete") {
		t.Fatalf("wildcard permission should match everything")
	}

	manage := Permission{ID: "m", Resource: "leases", Action: ActionManage, Scope: ScopeAll}
	if !manage.Matches("leases", "update") {
		t.Fatalf("manage should match any action on its resource")
	}
	if manage.Matches("payments", "update") {
		t.Fatalf("manage must not cross resources")
	}

	read := Permission{ID: "r", Resource: "leases", Action: "read", Scope: ScopeOwn}
	if read.Matches("leases", "update") {
		t.Fatalf("read must not match update")
	}
}

func TestConditionOperators(t *testing.T) {
	data := attr.Bag{"amount": 500, "status": "open", "tags": []any{"urgent", "hvac"}}
	ctx := attr.Bag{"channel": "web"}

	cases := []struct {
		name string
		cond Condition
		want bool
	}{
		{"equals", Condition{Field: "status", Operator: OpEquals, Value: attr.String("open")}, true},
		{"equals type strict", Condition{Field: "amount", Operator: OpEquals, Value: attr.String("500")}, false},
		{"not equals", Condition{Field: "status", Operator: OpNotEquals, Value: attr.String("closed")}, true},
		{"in", Condition{Field: "status", Operator: OpIn, Value: attr.Strings("open", "pending")}, true},
		{"not in", Condition{Field: "status", Operator: OpNotIn, Value: attr.Strings("closed")}, true},
		{"greater than", Condition{Field: "amount", Operator: OpGreaterThan, Value: attr.Number(100)}, true},
		{"less than", Condition{Field: "amount", Operator: OpLessThan, Value: attr.Number(100)}, false},
		{"contains", Condition{Field: "tags", Operator: OpContains, Value: attr.String("hvac")}, true},
		{"context fallback", Condition{Field: "channel", Operator: OpEquals, Value: attr.String("web")}, true},
		{"missing field fails", Condition{Field: "missing", Operator: OpNotEquals, Value: attr.String("x")}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.cond.Evaluate(data, ctx); got != tc.want {
				t.Fatalf("Evaluate() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRegisterIsImmutable(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}
	p := Permission{ID: "leases:read:own", Resource: "leases", Action: "read", Scope: ScopeOwn}
	if err := c.Register(p); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := c.Register(p); err != nil {
		t.Fatalf("identical re-register should be a no-op: %v", err)
	}
	changed := p
	changed.Scope = ScopeAll
	if err := c.Register(changed); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestRegisterRejectsInvalid(t *testing.T) {
	c, _ := New()
	err := c.Register(Permission{ID: "bad", Resource: "leases", Action: "read", Scope: "everywhere"})
	if !errors.Is(err, ErrInvalidPermission) {
		t.Fatalf("expected ErrInvalidPermission, got %v", err)
	}
	err = c.Register(Permission{ID: "bad2", Resource: "leases", Action: "read", Scope: ScopeAll,
		Conditions: []Condition{{Field: "status", Operator: OpIn, Value: attr.String("open")}}})
	if !errors.Is(err, ErrInvalidPermission) {
		t.Fatalf("expected list operator validation, got %v", err)
	}
}

func TestDefaultsResolve(t *testing.T) {
	c := NewDefault()
	perms, err := c.Resolve([]string{ID("leases", "read", ScopeOwn), ID(WildcardResource, ActionManage, ScopeAll)})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(perms) != 2 {
		t.Fatalf("expected 2 permissions, got %d", len(perms))
	}
	if _, err := c.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
