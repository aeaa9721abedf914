package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dhawalhost/wardgate/internal/audit"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestParseOverlaysDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
default_user_role: tenant
mfa:
  required: false
access:
  evaluation_timeout: 500ms
  transitive_inheritance: true
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.DefaultUserRole != "tenant" || cfg.MFA.Required {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Access.EvaluationTimeout != 500*time.Millisecond || !cfg.Access.TransitiveInheritance {
		t.Fatalf("access overrides not applied: %+v", cfg.Access)
	}
	if cfg.Audit.MaxEntries != audit.DefaultMaxEntries || cfg.Report.PrivilegedHierarchy != 8 {
		t.Fatalf("defaults lost: %+v", cfg.Audit)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*Config)
	}{
		{"empty default role", func(c *Config) { c.DefaultUserRole = "" }},
		{"unknown mfa method", func(c *Config) { c.MFA.Methods = []string{"carrier-pigeon"} }},
		{"bad schedule", func(c *Config) { c.Access.SweepSchedule = "every tuesday" }},
		{"zero timeout", func(c *Config) { c.Access.EvaluationTimeout = 0 }},
		{"ratio above one", func(c *Config) { c.Report.MaxPrivilegedRatio = 1.5 }},
		{"no retention cap", func(c *Config) { c.Audit.MaxEntries = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mut(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wardgate.yaml")
	store := FileStore{Path: path}
	ctx := context.Background()

	cfg, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load missing file: %v", err)
	}
	cfg.MFA.RequiredForRoles = []string{"manager"}
	cfg.Access.RequestTTL = 48 * time.Hour
	if err := store.Save(ctx, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Access.RequestTTL != 48*time.Hour || len(loaded.MFA.RequiredForRoles) != 1 {
		t.Fatalf("round trip lost values: %+v", loaded)
	}
}

type recorderFunc func(audit.Entry)

func (f recorderFunc) Log(_ context.Context, e audit.Entry) (audit.Entry, error) {
	f(e)
	return e, nil
}

func TestManagerUpdateAudits(t *testing.T) {
	ctx := context.Background()
	mgr, err := NewManager(ctx, &MemoryStore{}, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	var entries []audit.Entry
	mgr.SetRecorder(recorderFunc(func(e audit.Entry) { entries = append(entries, e) }))

	updated, err := mgr.Update(ctx, "admin-1", func(c *Config) error {
		c.MFA.Required = false
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.MFA.Required || mgr.Get().MFA.Required {
		t.Fatalf("update not applied")
	}

	_, err = mgr.Update(ctx, "admin-1", func(c *Config) error {
		c.DefaultUserRole = ""
		return nil
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if mgr.Get().DefaultUserRole != "user" {
		t.Fatalf("failed update must not change live config")
	}

	if len(entries) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(entries))
	}
	if !entries[0].Success || entries[0].Action != audit.ActionConfigUpdated || entries[0].UserID != "admin-1" {
		t.Fatalf("unexpected success entry: %+v", entries[0])
	}
	sections, _ := entries[0].Metadata["sections"].([]string)
	if len(sections) != 1 || sections[0] != "mfa" {
		t.Fatalf("unexpected changed sections: %v", sections)
	}
	if entries[1].Success || entries[1].FailureReason == "" {
		t.Fatalf("unexpected failure entry: %+v", entries[1])
	}
}

func TestManagerGetReturnsCopy(t *testing.T) {
	mgr, _ := NewManager(context.Background(), nil, nil)
	cfg := mgr.Get()
	cfg.MFA.RequiredForRoles[0] = "tampered"
	if mgr.Get().MFA.RequiredForRoles[0] == "tampered" {
		t.Fatalf("Get must not expose internal slices")
	}
}

func TestAuditPolicyConversion(t *testing.T) {
	cfg := Default()
	cfg.Audit.LogFailedOnly = true
	cfg.Audit.MaxEntries = 42
	p := cfg.AuditPolicy()
	if !p.LogFailedOnly || p.MaxEntries != 42 || p.AlertRiskThreshold != 70 {
		t.Fatalf("unexpected policy: %+v", p)
	}
}
