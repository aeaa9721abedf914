// Package authz implements the access decision path.
package authz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/dhawalhost/wardgate/internal/attr"
	"github.com/dhawalhost/wardgate/internal/audit"
	"github.com/dhawalhost/wardgate/internal/catalog"
	"github.com/dhawalhost/wardgate/internal/config"
	"github.com/dhawalhost/wardgate/internal/identity"
	"github.com/dhawalhost/wardgate/internal/policy"
	"github.com/dhawalhost/wardgate/internal/rbac"
	"github.com/dhawalhost/wardgate/pkg/observability"
)

// Denial and grant reasons reported in decisions and audit entries.
const (
	ReasonUserInactive     = "User not found or inactive"
	ReasonInsufficient     = "Insufficient permissions"
	ReasonScope            = "Access scope restrictions"
	ReasonPolicyDenied     = "Denied by security policy"
	ReasonMFARequired      = "MFA verification required"
	ReasonSystemError      = "Authorization unavailable"
	ReasonApprovalRequired = "Approval required"
)

// DefaultEvaluationTimeout bounds a decision when the configuration leaves it unset.
const DefaultEvaluationTimeout = 2 * time.Second

// Request is one access check.
type Request struct {
	UserID       string         `json:"user_id" binding:"required"`
	Resource     string         `json:"resource" binding:"required"`
	Action       string         `json:"action" binding:"required"`
	ResourceData map[string]any `json:"resource_data,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
	IPAddress    string         `json:"ip_address,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
}

// Decision is the result of an access check. Denials are values, never errors.
type Decision struct {
	Allowed           bool   `json:"allowed"`
	Reason            string `json:"reason,omitempty"`
	RequiresMFA       bool   `json:"requires_mfa"`
	RequiresApproval  bool   `json:"requires_approval"`
	MatchedPermission string `json:"matched_permission,omitempty"`
	RiskScore         int    `json:"risk_score"`
	AuditID           string `json:"audit_id,omitempty"`
}

// Authorizer decides access requests. Every call writes exactly one audit entry.
type Authorizer interface {
	HasPermission(ctx context.Context, req Request) Decision
}

// RoleResolver supplies the user's current roles and merged permissions.
type RoleResolver interface {
	ResolveUser(ctx context.Context, userID string) (rbac.Resolution, error)
}

// ScopeHook decides custom-scoped permissions.
type ScopeHook func(ctx context.Context, req Request, user identity.User, p catalog.Permission) (bool, error)

// Options wires the authorizer.
type Options struct {
	Roles     RoleResolver
	Directory identity.Directory
	Policies  policy.Evaluator
	Recorder  audit.Recorder
	Config    func() config.Config
	Clock     clockwork.Clock
	Logger    *zap.Logger
	Metrics   *observability.Metrics
	ScopeHook ScopeHook
}

type authorizer struct {
	roles     RoleResolver
	directory identity.Directory
	policies  policy.Evaluator
	recorder  audit.Recorder
	config    func() config.Config
	clock     clockwork.Clock
	logger    *zap.Logger
	metrics   *observability.Metrics
	scopeHook ScopeHook
	tracer    trace.Tracer
}

// New creates an Authorizer. Roles, Directory and Recorder are required.
func New(opts Options) (Authorizer, error) {
	if opts.Roles == nil || opts.Directory == nil || opts.Recorder == nil {
		return nil, errors.New("authz: roles, directory and recorder are required")
	}
	a := &authorizer{
		roles:     opts.Roles,
		directory: opts.Directory,
		policies:  opts.Policies,
		recorder:  opts.Recorder,
		config:    opts.Config,
		clock:     opts.Clock,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		scopeHook: opts.ScopeHook,
		tracer:    observability.Tracer("wardgate/authz"),
	}
	if a.policies == nil {
		a.policies = policy.NewEngine(opts.Clock, opts.Logger)
	}
	if a.config == nil {
		a.config = config.Default
	}
	if a.clock == nil {
		a.clock = clockwork.NewRealClock()
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	return a, nil
}

// verdict is a decision plus what gets written to the audit log.
type verdict struct {
	Decision
	action   audit.Action
	failure  string
	metadata map[string]any
}

func deny(reason string, md map[string]any) verdict {
	return verdict{
		Decision: Decision{Reason: reason},
		action:   audit.ActionAccessDenied,
		failure:  reason,
		metadata: md,
	}
}

func (a *authorizer) HasPermission(ctx context.Context, req Request) Decision {
	start := a.clock.Now()
	ctx, span := a.tracer.Start(ctx, "authz.HasPermission", trace.WithAttributes(
		attribute.String("authz.user_id", req.UserID),
		attribute.String("authz.resource", req.Resource),
		attribute.String("authz.action", req.Action),
	))
	defer span.End()

	cfg := a.config()
	v, err := a.run(ctx, req, cfg)
	if err != nil {
		a.logger.Error("Authorization failed closed",
			zap.String("user_id", req.UserID),
			zap.String("resource", req.Resource),
			zap.String("action", req.Action),
			zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "evaluation failed")
		v = verdict{
			Decision: Decision{Reason: ReasonSystemError},
			action:   audit.ActionSystemError,
			failure:  err.Error(),
			metadata: map[string]any{},
		}
		v.RiskScore, v.metadata["risk_factors"] = score(riskInput{kind: audit.ActionSystemError})
	}

	entry := audit.Entry{
		UserID:        req.UserID,
		Action:        v.action,
		Resource:      req.Resource,
		ResourceID:    attr.Bag(req.ResourceData).Text("id"),
		Success:       v.Allowed,
		FailureReason: v.failure,
		RiskScore:     audit.IntPtr(v.RiskScore),
		Metadata:      v.metadata,
		IPAddress:     req.IPAddress,
		UserAgent:     req.UserAgent,
	}
	entry.Metadata["requested_action"] = req.Action
	logged, lerr := a.recorder.Log(context.WithoutCancel(ctx), entry)
	if lerr != nil {
		// An unrecorded grant is not a grant.
		a.logger.Error("Failed to audit decision", zap.String("user_id", req.UserID), zap.Error(lerr))
		v.Decision = Decision{Reason: ReasonSystemError, RiskScore: v.RiskScore}
		v.action = audit.ActionSystemError
	}
	v.AuditID = logged.ID

	outcome := "denied"
	switch {
	case v.action == audit.ActionSystemError:
		outcome = "error"
	case v.Allowed:
		outcome = "allowed"
	}
	a.metrics.ObserveDecision(outcome, a.clock.Since(start))
	span.SetAttributes(
		attribute.Bool("authz.allowed", v.Allowed),
		attribute.String("authz.reason", v.Reason),
		attribute.Int("authz.risk_score", v.RiskScore),
	)
	return v.Decision
}

// run evaluates under the configured timeout. The caller's cancellation is
// ignored; only the deadline stops an evaluation, and a late result is
// discarded.
func (a *authorizer) run(ctx context.Context, req Request, cfg config.Config) (verdict, error) {
	timeout := cfg.Access.EvaluationTimeout
	if timeout <= 0 {
		timeout = DefaultEvaluationTimeout
	}
	evalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	type result struct {
		v   verdict
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("panic during evaluation: %v", r)}
			}
		}()
		v, err := a.evaluate(evalCtx, req, cfg)
		done <- result{v: v, err: err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-evalCtx.Done():
		return verdict{}, fmt.Errorf("evaluation timed out after %s: %w", timeout, evalCtx.Err())
	}
}

func (a *authorizer) evaluate(ctx context.Context, req Request, cfg config.Config) (verdict, error) {
	if req.UserID == "" || req.Resource == "" || req.Action == "" {
		return verdict{}, errors.New("user id, resource and action are required")
	}

	// 1. Identity.
	user, err := a.directory.GetUser(ctx, req.UserID)
	if err != nil && !errors.Is(err, identity.ErrNotFound) {
		return verdict{}, fmt.Errorf("failed to look up user: %w", err)
	}
	if err != nil || !user.Active() {
		md := map[string]any{}
		if err == nil {
			md["user_status"] = string(user.Status)
		}
		v := deny(ReasonUserInactive, md)
		v.RiskScore, md["risk_factors"] = score(riskInput{kind: audit.ActionAccessDenied, reason: ReasonUserInactive})
		return v, nil
	}

	// 2. Effective permissions.
	res, err := a.roles.ResolveUser(ctx, req.UserID)
	if err != nil {
		return verdict{}, fmt.Errorf("failed to resolve roles: %w", err)
	}
	roleIDs := res.RoleIDs()
	md := map[string]any{"roles": roleIDs}

	// 3. Permission match.
	resourceData := attr.Bag(req.ResourceData)
	reqContext := attr.Bag(req.Context)
	var matched *catalog.Permission
	for i := range res.Permissions {
		p := res.Permissions[i]
		if p.Matches(req.Resource, req.Action) && p.ConditionsHold(resourceData, reqContext) {
			matched = &p
			break
		}
	}
	if matched == nil {
		v := deny(ReasonInsufficient, md)
		v.RiskScore, md["risk_factors"] = score(riskInput{kind: audit.ActionAccessDenied, reason: ReasonInsufficient})
		return v, nil
	}
	md["permission_id"] = matched.ID
	md["scope"] = string(matched.Scope)

	// 4. Scope.
	ok, err := a.checkScope(ctx, req, user, *matched)
	if err != nil {
		return verdict{}, fmt.Errorf("scope check: %w", err)
	}
	if !ok {
		v := deny(ReasonScope, md)
		v.MatchedPermission = matched.ID
		v.RiskScore, md["risk_factors"] = score(riskInput{kind: audit.ActionAccessDenied, reason: ReasonScope, perm: matched})
		return v, nil
	}

	// 5. Security policies.
	out, err := a.policies.Evaluate(ctx, attr.Bag{
		"userId":       req.UserID,
		"resource":     req.Resource,
		"action":       req.Action,
		"resourceData": map[string]any(resourceData),
		"context":      map[string]any(reqContext),
		"user":         user.Bag(),
		"roles":        roleIDs,
	})
	if err != nil {
		return verdict{}, err
	}
	if len(out.Matches) > 0 {
		md["policy_matches"] = matchRecords(out.Matches)
	}
	if logged := out.OfAction(policy.ActionLogOnly); len(logged) > 0 {
		md["log_only"] = matchRecords(logged)
	}
	if out.Denied() {
		reason := out.Deny.Message
		if reason == "" {
			reason = ReasonPolicyDenied
		}
		md["policy_id"] = out.Deny.PolicyID
		md["rule_id"] = out.Deny.RuleID
		v := deny(reason, md)
		v.MatchedPermission = matched.ID
		v.RiskScore, md["risk_factors"] = score(riskInput{kind: audit.ActionAccessDenied, reason: ReasonPolicyDenied, perm: matched, outcome: out})
		return v, nil
	}

	// 6. MFA.
	requiresMFA := out.RequiresMFA || mfaRequired(cfg.MFA, roleIDs, req.Action)

	// 7. Grant.
	md["requires_mfa"] = requiresMFA
	md["requires_approval"] = out.RequiresApproval
	v := verdict{
		Decision: Decision{
			Allowed:           true,
			RequiresMFA:       requiresMFA,
			RequiresApproval:  out.RequiresApproval,
			MatchedPermission: matched.ID,
		},
		action:   audit.ActionPermissionGranted,
		metadata: md,
	}
	switch {
	case requiresMFA:
		v.Reason = ReasonMFARequired
	case out.RequiresApproval:
		v.Reason = ReasonApprovalRequired
	}
	v.RiskScore, md["risk_factors"] = score(riskInput{kind: audit.ActionPermissionGranted, perm: matched, outcome: out, mfa: requiresMFA})
	return v, nil
}

func mfaRequired(p config.MFAPolicy, roles []string, action string) bool {
	if !p.Required {
		return false
	}
	for _, r := range roles {
		for _, want := range p.RequiredForRoles {
			if r == want {
				return true
			}
		}
	}
	for _, want := range p.RequiredForActions {
		if action == want {
			return true
		}
	}
	return false
}

func matchRecords(ms []policy.Match) []map[string]any {
	out := make([]map[string]any, 0, len(ms))
	for _, m := range ms {
		out = append(out, map[string]any{
			"policy_id": m.PolicyID,
			"rule_id":   m.RuleID,
			"action":    string(m.Action),
			"severity":  string(m.Severity),
		})
	}
	return out
}
