// Package report summarizes the security posture of the engine.
package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/dhawalhost/wardgate/internal/audit"
	"github.com/dhawalhost/wardgate/internal/catalog"
	"github.com/dhawalhost/wardgate/internal/config"
	"github.com/dhawalhost/wardgate/internal/governance"
	"github.com/dhawalhost/wardgate/internal/identity"
	"github.com/dhawalhost/wardgate/internal/rbac"
)

// RiskLevel grades the overall report.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Window bounds the activity counters.
const Window = 24 * time.Hour

// SecurityReport is a point-in-time snapshot.
type SecurityReport struct {
	GeneratedAt        time.Time `json:"generated_at"`
	TotalUsers         int       `json:"total_users"`
	ActiveUsers        int       `json:"active_users"`
	TotalRoles         int       `json:"total_roles"`
	SystemRoles        int       `json:"system_roles"`
	CustomRoles        int       `json:"custom_roles"`
	TotalPermissions   int       `json:"total_permissions"`
	ActiveAssignments  int       `json:"active_assignments"`
	PendingRequests    int       `json:"pending_requests"`
	FailedActions      int       `json:"failed_actions"`
	SuspiciousActivity int       `json:"suspicious_activity"`
	FailedLogins       int       `json:"failed_logins"`
	PrivilegedUsers    int       `json:"privileged_users"`
	PrivilegedRatio    float64   `json:"privileged_ratio"`
	RiskLevel          RiskLevel `json:"risk_level"`
	Recommendations    []string  `json:"recommendations"`
}

// Roles is the part of the RBAC service the report reads.
type Roles interface {
	ListRoles(ctx context.Context) ([]rbac.Role, error)
	EffectiveAssignments(ctx context.Context) ([]rbac.Assignment, error)
}

// Requests is the part of the access request workflow the report reads.
type Requests interface {
	List(ctx context.Context, status governance.Status) ([]governance.AccessRequest, error)
}

// AuditLog is the part of the audit service the report reads.
type AuditLog interface {
	Query(ctx context.Context, f audit.Filter) ([]audit.Entry, int, error)
}

// Service generates security reports.
type Service interface {
	Generate(ctx context.Context) (SecurityReport, error)
}

// Options wires the report's sources. Roles, Requests, Audit and Directory
// are required.
type Options struct {
	Directory identity.Directory
	Roles     Roles
	Catalog   catalog.Catalog
	Requests  Requests
	Audit     AuditLog
	Config    func() config.Config
	Clock     clockwork.Clock
	Logger    *zap.Logger
}

type service struct {
	directory identity.Directory
	roles     Roles
	catalog   catalog.Catalog
	requests  Requests
	audit     AuditLog
	config    func() config.Config
	clock     clockwork.Clock
	logger    *zap.Logger
}

// NewService creates a report service.
func NewService(opts Options) (Service, error) {
	if opts.Directory == nil || opts.Roles == nil || opts.Requests == nil || opts.Audit == nil {
		return nil, errors.New("report: directory, roles, requests and audit are required")
	}
	s := &service{
		directory: opts.Directory,
		roles:     opts.Roles,
		catalog:   opts.Catalog,
		requests:  opts.Requests,
		audit:     opts.Audit,
		config:    opts.Config,
		clock:     opts.Clock,
		logger:    opts.Logger,
	}
	if s.catalog == nil {
		s.catalog = catalog.NewDefault()
	}
	if s.config == nil {
		s.config = config.Default
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s, nil
}

func (s *service) Generate(ctx context.Context) (SecurityReport, error) {
	now := s.clock.Now().UTC()
	cfg := s.config()
	r := SecurityReport{GeneratedAt: now, Recommendations: []string{}}

	users, err := s.directory.ListUsers(ctx)
	if err != nil {
		return SecurityReport{}, fmt.Errorf("failed to list users: %w", err)
	}
	active := make(map[string]bool, len(users))
	r.TotalUsers = len(users)
	for _, u := range users {
		if u.Active() {
			active[u.ID] = true
		}
	}
	r.ActiveUsers = len(active)

	roles, err := s.roles.ListRoles(ctx)
	if err != nil {
		return SecurityReport{}, fmt.Errorf("failed to list roles: %w", err)
	}
	hierarchy := make(map[string]int, len(roles))
	r.TotalRoles = len(roles)
	for _, role := range roles {
		hierarchy[role.ID] = role.Hierarchy
		if role.System() {
			r.SystemRoles++
		} else {
			r.CustomRoles++
		}
	}
	r.TotalPermissions = len(s.catalog.List())

	assignments, err := s.roles.EffectiveAssignments(ctx)
	if err != nil {
		return SecurityReport{}, fmt.Errorf("failed to list assignments: %w", err)
	}
	r.ActiveAssignments = len(assignments)
	privileged := make(map[string]bool)
	for _, a := range assignments {
		if active[a.UserID] && hierarchy[a.RoleID] >= cfg.Report.PrivilegedHierarchy {
			privileged[a.UserID] = true
		}
	}
	r.PrivilegedUsers = len(privileged)
	if r.ActiveUsers > 0 {
		r.PrivilegedRatio = float64(r.PrivilegedUsers) / float64(r.ActiveUsers)
	}

	pending, err := s.requests.List(ctx, governance.StatusPending)
	if err != nil {
		return SecurityReport{}, fmt.Errorf("failed to list access requests: %w", err)
	}
	r.PendingRequests = len(pending)

	failed := false
	if r.FailedActions, err = s.count(ctx, audit.Filter{Success: &failed}); err != nil {
		return SecurityReport{}, err
	}
	since := now.Add(-Window)
	if r.SuspiciousActivity, err = s.count(ctx, audit.Filter{Action: audit.ActionAccessDenied, From: since}); err != nil {
		return SecurityReport{}, err
	}
	if r.FailedLogins, err = s.count(ctx, audit.Filter{Action: audit.ActionLogin, Success: &failed, From: since}); err != nil {
		return SecurityReport{}, err
	}

	r.RiskLevel, r.Recommendations = assess(r, cfg.Report)
	s.logger.Info("Security report generated",
		zap.String("risk_level", string(r.RiskLevel)),
		zap.Int("recommendations", len(r.Recommendations)))
	return r, nil
}

func (s *service) count(ctx context.Context, f audit.Filter) (int, error) {
	f.Limit = 1
	_, total, err := s.audit.Query(ctx, f)
	if err != nil {
		return 0, fmt.Errorf("failed to query audit log: %w", err)
	}
	return total, nil
}

// assess grades the report by how many thresholds it breaches.
func assess(r SecurityReport, t config.Thresholds) (RiskLevel, []string) {
	recs := []string{}
	if r.PendingRequests > t.MaxPendingRequests {
		recs = append(recs, fmt.Sprintf("Review %d pending access requests", r.PendingRequests))
	}
	if r.FailedLogins > t.MaxFailedLogins {
		recs = append(recs, fmt.Sprintf("Investigate %d failed logins in the last 24 hours", r.FailedLogins))
	}
	if r.PrivilegedRatio > t.MaxPrivilegedRatio {
		recs = append(recs, fmt.Sprintf("Reduce privileged access: %.0f%% of active users hold privileged roles", r.PrivilegedRatio*100))
	}
	if r.SuspiciousActivity > t.MaxSuspiciousActivity {
		recs = append(recs, fmt.Sprintf("Investigate %d denied access attempts in the last 24 hours", r.SuspiciousActivity))
	}

	switch len(recs) {
	case 0:
		return RiskLow, recs
	case 1:
		return RiskMedium, recs
	case 2:
		return RiskHigh, recs
	}
	return RiskCritical, recs
}
