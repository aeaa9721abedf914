// Package engine assembles the authorization services into one embeddable
// unit and owns their lifecycle.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/dhawalhost/wardgate/internal/audit"
	"github.com/dhawalhost/wardgate/internal/authz"
	"github.com/dhawalhost/wardgate/internal/catalog"
	"github.com/dhawalhost/wardgate/internal/config"
	"github.com/dhawalhost/wardgate/internal/events"
	"github.com/dhawalhost/wardgate/internal/governance"
	"github.com/dhawalhost/wardgate/internal/identity"
	"github.com/dhawalhost/wardgate/internal/policy"
	"github.com/dhawalhost/wardgate/internal/rbac"
	"github.com/dhawalhost/wardgate/internal/report"
	"github.com/dhawalhost/wardgate/internal/sweeper"
	"github.com/dhawalhost/wardgate/pkg/lock"
	"github.com/dhawalhost/wardgate/pkg/middleware"
	"github.com/dhawalhost/wardgate/pkg/observability"
)

// Options wires the engine. Directory is required. A nil DB keeps every
// store in memory.
type Options struct {
	Directory   identity.Directory
	DB          *sqlx.DB
	ConfigStore config.Store
	Locker      lock.Locker
	// Publisher receives activity events for every audit entry.
	Publisher events.Publisher
	Clock     clockwork.Clock
	Logger    *zap.Logger
	Metrics   *observability.Metrics
	ScopeHook authz.ScopeHook
	// RateLimiter, when set, has its idle keys swept with the other jobs.
	RateLimiter *middleware.KeyedRateLimiter
	// BootstrapAdmins are granted super_admin at Init so the guarded
	// administrative routes have someone able to use them.
	BootstrapAdmins []string
}

// Engine holds the assembled services. Call Init before serving traffic.
type Engine struct {
	Config   *config.Manager
	Catalog  catalog.Catalog
	Audit    audit.Service
	Roles    rbac.Service
	Policies policy.Service
	Requests governance.Service
	Reports  report.Service
	Authz    authz.Authorizer

	sweeper *sweeper.Sweeper
	metrics *observability.Metrics
	logger  *zap.Logger
	admins  []string

	mu          sync.Mutex
	initialized bool
	started     bool
}

// New builds every service. No data is written until Init.
func New(ctx context.Context, opts Options) (*Engine, error) {
	if opts.Directory == nil {
		return nil, errors.New("engine: directory is required")
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Locker == nil {
		opts.Locker = lock.NewKeyedMutex()
	}

	mgr, err := config.NewManager(ctx, opts.ConfigStore, opts.Logger.Named("config"))
	if err != nil {
		return nil, err
	}

	var (
		auditStore   = audit.NewMemoryStore(mgr.Get().Audit.MaxEntries)
		roleStore    = rbac.NewMemoryStore()
		policyStore  = policy.NewMemoryStore()
		requestStore = governance.NewMemoryStore()
	)
	if opts.DB != nil {
		auditStore = audit.NewSQLStore(opts.DB)
		roleStore = rbac.NewSQLStore(opts.DB)
		policyStore = policy.NewSQLStore(opts.DB)
		requestStore = governance.NewSQLStore(opts.DB)
	}

	e := &Engine{
		Config:  mgr,
		Catalog: catalog.NewDefault(),
		metrics: opts.Metrics,
		logger:  opts.Logger,
		admins:  opts.BootstrapAdmins,
	}
	e.Audit = audit.NewService(audit.Options{
		Store:     auditStore,
		Publisher: opts.Publisher,
		Clock:     opts.Clock,
		Logger:    opts.Logger.Named("audit"),
		Policy:    mgr.AuditPolicy,
	})
	mgr.SetRecorder(e.Audit)

	e.Roles = rbac.NewService(rbac.Options{
		Store:     roleStore,
		Catalog:   e.Catalog,
		Directory: opts.Directory,
		Recorder:  e.Audit,
		Locker:    opts.Locker,
		Clock:     opts.Clock,
		Logger:    opts.Logger.Named("rbac"),
		Config:    mgr.Get,
	})
	e.Policies = policy.NewService(policy.Options{
		Store:    policyStore,
		Recorder: e.Audit,
		Locker:   opts.Locker,
		Clock:    opts.Clock,
		Logger:   opts.Logger.Named("policy"),
	})
	if e.Requests, err = governance.NewService(governance.Options{
		Store:     requestStore,
		Roles:     e.Roles,
		Catalog:   e.Catalog,
		Directory: opts.Directory,
		Recorder:  e.Audit,
		Locker:    opts.Locker,
		Clock:     opts.Clock,
		Logger:    opts.Logger.Named("governance"),
		Config:    mgr.Get,
	}); err != nil {
		return nil, err
	}
	if e.Reports, err = report.NewService(report.Options{
		Directory: opts.Directory,
		Roles:     e.Roles,
		Catalog:   e.Catalog,
		Requests:  e.Requests,
		Audit:     e.Audit,
		Config:    mgr.Get,
		Clock:     opts.Clock,
		Logger:    opts.Logger.Named("report"),
	}); err != nil {
		return nil, err
	}
	if e.Authz, err = authz.New(authz.Options{
		Roles:     e.Roles,
		Directory: opts.Directory,
		Policies:  e.Policies,
		Recorder:  e.Audit,
		Config:    mgr.Get,
		Clock:     opts.Clock,
		Logger:    opts.Logger.Named("authz"),
		Metrics:   opts.Metrics,
		ScopeHook: opts.ScopeHook,
	}); err != nil {
		return nil, err
	}

	if e.sweeper, err = sweeper.New(mgr.Get().Access.SweepSchedule, opts.Metrics, opts.Logger.Named("sweeper")); err != nil {
		return nil, err
	}
	e.sweeper.Add("access_requests", e.expireRequests)
	e.sweeper.Add("assignments", e.Roles.ExpireLapsed)
	e.sweeper.Add("audit_retention", e.Audit.Prune)
	e.sweeper.Add("policies", func(ctx context.Context) (int, error) {
		return 0, e.Policies.Reload(ctx)
	})
	if opts.RateLimiter != nil {
		e.sweeper.Add("rate_limiter", func(context.Context) (int, error) {
			return opts.RateLimiter.Cleanup(), nil
		})
	}
	return e, nil
}

// Init seeds the system roles and default policies. It is idempotent.
func (e *Engine) Init(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.Roles.SeedSystemRoles(ctx); err != nil {
		return fmt.Errorf("failed to seed roles: %w", err)
	}
	if err := e.Policies.SeedDefaults(ctx); err != nil {
		return fmt.Errorf("failed to seed policies: %w", err)
	}
	if err := e.bootstrapAdmins(ctx); err != nil {
		return err
	}
	if err := e.refreshPending(ctx); err != nil {
		return err
	}
	e.initialized = true
	e.logger.Info("Engine initialized")
	return nil
}

func (e *Engine) bootstrapAdmins(ctx context.Context) error {
	for _, id := range e.admins {
		held, err := e.Roles.GetUserRoles(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to read roles of %s: %w", id, err)
		}
		if slices.Contains(held, rbac.RoleSuperAdmin) {
			continue
		}
		if _, err := e.Roles.AssignRole(ctx, id, rbac.RoleSuperAdmin, audit.SystemActor, rbac.AssignOptions{Reason: "bootstrap administrator"}); err != nil {
			return fmt.Errorf("failed to bootstrap administrator %s: %w", id, err)
		}
		e.logger.Info("Bootstrapped administrator", zap.String("user_id", id))
	}
	return nil
}

// Start launches the background sweep.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return errors.New("engine: Init must run before Start")
	}
	if e.started {
		return nil
	}
	e.sweeper.Start(ctx)
	e.started = true
	return nil
}

// Close stops the sweep and waits for a running pass to finish.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		e.sweeper.Stop()
		e.started = false
	}
	return nil
}

// Sweep runs every housekeeping job once.
func (e *Engine) Sweep(ctx context.Context) error {
	return e.sweeper.RunOnce(ctx)
}

func (e *Engine) expireRequests(ctx context.Context) (int, error) {
	n, err := e.Requests.ExpireStale(ctx)
	if err != nil {
		return n, err
	}
	return n, e.refreshPending(ctx)
}

func (e *Engine) refreshPending(ctx context.Context) error {
	if e.metrics == nil {
		return nil
	}
	pending, err := e.Requests.List(ctx, governance.StatusPending)
	if err != nil {
		return fmt.Errorf("failed to count pending requests: %w", err)
	}
	e.metrics.PendingRequests.Set(float64(len(pending)))
	return nil
}

// RegisterRoutes mounts every service's HTTP routes on rg. Administrative
// mutations pass through the decision path first; see adminPermission.
func (e *Engine) RegisterRoutes(rg *gin.RouterGroup) {
	logger := e.logger.Named("http")
	base := rg.BasePath()
	g := rg.Group("", authz.Guard(e.Authz, func(c *gin.Context) (string, string, bool) {
		return adminPermission(c.Request.Method, strings.TrimPrefix(c.FullPath(), base))
	}, logger))

	authz.NewHTTPHandler(e.Authz, logger).RegisterRoutes(g)
	rbac.NewHTTPHandler(e.Roles, e.Catalog, logger).RegisterRoutes(g)
	policy.NewHTTPHandler(e.Policies, logger).RegisterRoutes(g)
	governance.NewHTTPHandler(e.Requests, logger).RegisterRoutes(g)
	audit.NewHTTPHandler(e.Audit, logger).RegisterRoutes(g)
	report.NewHTTPHandler(e.Reports, logger).RegisterRoutes(g)
	config.NewHTTPHandler(e.Config, logger).RegisterRoutes(g)
}

// adminPermission names the permission a route needs, relative to the mount
// point. Reads, checks and request submission stay open.
func adminPermission(method, route string) (resource, action string, ok bool) {
	if method == http.MethodGet || method == http.MethodHead {
		return "", "", false
	}
	switch {
	case strings.HasPrefix(route, "/roles"), strings.HasPrefix(route, "/users/"):
		return "roles", catalog.ActionManage, true
	case strings.HasPrefix(route, "/access-requests/"):
		// approve and reject grant or withhold roles
		return "roles", catalog.ActionManage, true
	case route == "/policies/validate":
		return "", "", false
	case strings.HasPrefix(route, "/policies"), strings.HasPrefix(route, "/config"):
		return "settings", catalog.ActionManage, true
	}
	return "", "", false
}

// CheckAccess decides whether the request is allowed. It never fails; errors
// surface as denied decisions.
func (e *Engine) CheckAccess(ctx context.Context, req authz.Request) authz.Decision {
	return e.Authz.HasPermission(ctx, req)
}

func (e *Engine) AssignRole(ctx context.Context, userID, roleID, actorID string, opts rbac.AssignOptions) (rbac.Assignment, error) {
	return e.Roles.AssignRole(ctx, userID, roleID, actorID, opts)
}

func (e *Engine) RemoveRole(ctx context.Context, userID, roleID, actorID, reason string) (bool, error) {
	return e.Roles.RemoveRole(ctx, userID, roleID, actorID, reason)
}

func (e *Engine) CreateRole(ctx context.Context, in rbac.CreateRoleInput, actorID string) (rbac.Role, error) {
	return e.Roles.CreateRole(ctx, in, actorID)
}

// EnsureDefaultRole gives a user with no effective role the configured default.
func (e *Engine) EnsureDefaultRole(ctx context.Context, userID, actorID string) (bool, error) {
	return e.Roles.EnsureDefaultRole(ctx, userID, actorID)
}

func (e *Engine) CreateAccessRequest(ctx context.Context, in governance.CreateRequestInput, actorID string) (governance.AccessRequest, error) {
	r, err := e.Requests.Create(ctx, in, actorID)
	if err == nil && e.metrics != nil {
		e.metrics.PendingRequests.Inc()
	}
	return r, err
}

func (e *Engine) ApproveAccessRequest(ctx context.Context, id, actorID string) (bool, error) {
	ok, err := e.Requests.Approve(ctx, id, actorID)
	if ok && e.metrics != nil {
		e.metrics.PendingRequests.Dec()
	}
	return ok, err
}

func (e *Engine) RejectAccessRequest(ctx context.Context, id, actorID, reason string) (bool, error) {
	ok, err := e.Requests.Reject(ctx, id, actorID, reason)
	if ok && e.metrics != nil {
		e.metrics.PendingRequests.Dec()
	}
	return ok, err
}

func (e *Engine) QueryAuditLog(ctx context.Context, f audit.Filter) ([]audit.Entry, int, error) {
	return e.Audit.Query(ctx, f)
}

func (e *Engine) GenerateSecurityReport(ctx context.Context) (report.SecurityReport, error) {
	return e.Reports.Generate(ctx)
}
