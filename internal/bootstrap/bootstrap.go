// Package bootstrap assembles the policy core's domain components from a
// loaded Config and its on-disk state documents, the way the teacher's
// cmd/*.go assembled its gateway from config at process start — only here
// the composition root is a small library function rather than an HTTP
// server, since the core is a library-level decision/admin surface.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/policy-core/permissioncore/internal/adapter/outbound/changesink"
	"github.com/policy-core/permissioncore/internal/adapter/outbound/memory"
	"github.com/policy-core/permissioncore/internal/adapter/outbound/sqlstore"
	"github.com/policy-core/permissioncore/internal/adapter/outbound/state"
	"github.com/policy-core/permissioncore/internal/config"
	"github.com/policy-core/permissioncore/internal/domain/cache"
	"github.com/policy-core/permissioncore/internal/domain/emergency"
	"github.com/policy-core/permissioncore/internal/domain/invalidation"
	"github.com/policy-core/permissioncore/internal/domain/policy"
	"github.com/policy-core/permissioncore/internal/domain/rbac"
	"github.com/policy-core/permissioncore/internal/observability"
	"github.com/policy-core/permissioncore/internal/service"

	"github.com/prometheus/client_golang/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const serviceName = "policycored"

// Runtime bundles every constructed component a CLI command needs. It owns
// nothing beyond what bootstrap.New wires together; callers are
// responsible for calling Close when done.
type Runtime struct {
	Cfg *config.Config

	RoleStore rbac.RoleStore
	roleDB    *sqlstore.Store // non-nil only when State.Backend == "sqlite"
	Evaluator *policy.Evaluator
	Latch     *emergency.Latch
	CacheMgr  *cache.Manager
	Handler   *invalidation.Handler
	Sink      *changesink.FileSink

	Decisions *service.DecisionService
	Admin     *service.AdminService
	auditSvc  *service.AuditService

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider

	// PromRegistry and CacheMetrics back an optional "/metrics" endpoint a
	// caller can serve alongside the CLI's one-shot commands; bootstrap.New
	// always wires them, whether or not anything ever scrapes them.
	PromRegistry *prometheus.Registry
	CacheMetrics *observability.CacheMetrics

	logger *slog.Logger
}

// New loads persisted state from disk under cfg.State and constructs a
// fully wired Runtime: role store and rule evaluator seeded from their
// documents, the cache/invalidation pair running, and the change-tracker
// sink open. catalog supplies the tool universe decisions are evaluated
// and listed against.
func New(cfg *config.Config, logger *slog.Logger, catalog service.ToolCatalog) (*Runtime, error) {
	rolesStore := state.NewRolesStore(filepath.Join(cfg.State.Dir, cfg.State.RolesFile), logger)
	rolesDoc, err := rolesStore.Load()
	if err != nil {
		return nil, fmt.Errorf("load roles document: %w", err)
	}

	roleStore, roleDB, err := newRoleStore(cfg, rolesDoc, logger)
	if err != nil {
		return nil, err
	}

	ruleSetStore := state.NewRuleSetStore(filepath.Join(cfg.State.Dir, cfg.State.RulesFile), logger)
	ruleSetDoc, err := ruleSetStore.Load()
	if err != nil {
		return nil, fmt.Errorf("load rule set document: %w", err)
	}
	src, err := toRuleSetSource(*ruleSetDoc)
	if err != nil {
		return nil, fmt.Errorf("convert rule set document: %w", err)
	}
	if ruleSetDoc.DefaultAction == "" {
		src.DefaultAction = policy.Action(cfg.Allowlist.DefaultAction)
	}
	ruleSet, err := policy.Compile(src, 1)
	if err != nil {
		return nil, fmt.Errorf("compile rule set: %w", err)
	}
	evaluator := policy.NewEvaluator(ruleSet)

	latch := emergency.New()

	cacheMgr := cache.NewManager(cache.Config{
		MaxCachedPrincipals: int(cfg.PermissionCache.MaxCachedPrincipals),
		DefaultTTL:          time.Duration(cfg.PermissionCache.DefaultTTLSeconds) * time.Second,
		AdminTTL:            time.Duration(cfg.PermissionCache.AdminTTLSeconds) * time.Second,
	})

	handler := invalidation.NewHandler(cacheMgr, logger)
	go handler.Run()

	sink, err := changesink.NewFileSink(changesink.Config{Dir: filepath.Join(cfg.State.Dir, cfg.State.ChangeHistoryDir)}, logger)
	if err != nil {
		return nil, fmt.Errorf("open change-history sink: %w", err)
	}

	rbacEval := rbac.NewEvaluator(roleStore, cfg.RBAC.InheritPermissions)

	auditStore := memory.NewAuditStore()
	auditSvc := service.NewAuditService(auditStore, logger)
	auditSvc.Start(context.Background())

	tracerProvider, err := observability.NewTracerProvider(context.Background(), serviceName)
	if err != nil {
		return nil, fmt.Errorf("start tracer provider: %w", err)
	}
	meterProvider, err := observability.NewMeterProvider(serviceName)
	if err != nil {
		return nil, fmt.Errorf("start meter provider: %w", err)
	}
	decisionMetrics, err := observability.NewDecisionMetrics()
	if err != nil {
		return nil, fmt.Errorf("create decision metrics: %w", err)
	}

	decisions := service.NewDecisionService(latch, cacheMgr, evaluator, rbacEval, roleStore, auditSvc, catalog, service.Config{
		ListingTimeout:    time.Duration(cfg.Listing.MaxFilteringMS) * time.Millisecond,
		FailOpenOnTimeout: cfg.Listing.FailOpenOnTimeout,
	}, service.WithMetrics(decisionMetrics))
	admin := service.NewAdminService(roleStore, evaluator, latch, handler, sink)

	promRegistry := observability.NewRegistry()
	cacheMetrics := observability.NewCacheMetrics(promRegistry, cacheMgr)

	return &Runtime{
		Cfg:            cfg,
		RoleStore:      roleStore,
		roleDB:         roleDB,
		Evaluator:      evaluator,
		Latch:          latch,
		CacheMgr:       cacheMgr,
		Handler:        handler,
		Sink:           sink,
		Decisions:      decisions,
		Admin:          admin,
		auditSvc:       auditSvc,
		tracerProvider: tracerProvider,
		meterProvider:  meterProvider,
		PromRegistry:   promRegistry,
		CacheMetrics:   cacheMetrics,
		logger:         logger,
	}, nil
}

// Close releases the runtime's background goroutines and open files,
// flushing any buffered trace spans and metrics before returning.
func (r *Runtime) Close() error {
	r.auditSvc.Stop()
	r.Handler.Stop()
	ctx := context.Background()
	if r.tracerProvider != nil {
		if err := r.tracerProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown tracer provider: %w", err)
		}
	}
	if r.meterProvider != nil {
		if err := r.meterProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown meter provider: %w", err)
		}
	}
	if r.roleDB != nil {
		if err := r.roleDB.Close(); err != nil {
			return err
		}
	}
	return r.Sink.Close()
}

// newRoleStore builds the role store selected by cfg.State.Backend, seeded
// from the roles document loaded from disk either way — "sqlite" only
// changes where subsequent mutations persist to, not where the initial
// seed comes from, so an operator can switch backends without hand-writing
// a second seed document. Default roles come from the document, or from
// cfg.RBAC.DefaultRoles when the document names none.
func newRoleStore(cfg *config.Config, doc *state.RolesDocument, logger *slog.Logger) (rbac.RoleStore, *sqlstore.Store, error) {
	var (
		roleStore rbac.RoleStore
		db        *sqlstore.Store
	)

	defaultRoles := doc.Assignments.DefaultRoles
	if len(defaultRoles) == 0 {
		defaultRoles = cfg.RBAC.DefaultRoles
	}

	switch cfg.State.Backend {
	case "sqlite":
		var err error
		db, err = sqlstore.New(filepath.Join(cfg.State.Dir, cfg.State.RolesDBFile))
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite role store: %w", err)
		}
		sqlRoleStore := sqlstore.NewRoleStore(db)
		if err := sqlRoleStore.SetDefaultRoles(defaultRoles); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("seed default roles: %w", err)
		}
		roleStore = sqlRoleStore
	default:
		memStore := memory.NewRoleStore()
		memStore.SetDefaultRoles(defaultRoles)
		roleStore = memStore
	}

	for name, entry := range doc.Roles {
		if err := roleStore.PutRole(rbac.Role{
			Name:        name,
			Description: entry.Description,
			Permissions: entry.Permissions,
			ParentRoles: entry.ParentRoles,
			Active:      entry.Active,
			CreatedAt:   entry.CreatedAt,
			ModifiedAt:  entry.ModifiedAt,
		}); err != nil {
			closeIfSQLite(db)
			return nil, nil, fmt.Errorf("seed role %q: %w", name, err)
		}
	}
	for userID, roles := range doc.Assignments.ByUserID {
		for _, r := range roles {
			if err := roleStore.AssignRole(userID, false, r); err != nil {
				closeIfSQLite(db)
				return nil, nil, fmt.Errorf("seed user assignment %q: %w", userID, err)
			}
		}
	}
	for apiKey, roles := range doc.Assignments.ByAPIKey {
		for _, r := range roles {
			if err := roleStore.AssignRole(apiKey, true, r); err != nil {
				closeIfSQLite(db)
				return nil, nil, fmt.Errorf("seed api-key assignment %q: %w", apiKey, err)
			}
		}
	}

	return roleStore, db, nil
}

func closeIfSQLite(db *sqlstore.Store) {
	if db != nil {
		db.Close()
	}
}

func toRuleSetSource(doc state.RuleSetDocument) (policy.RuleSetSource, error) {
	toolRules, err := toExactRuleMap(doc.Tool.Rules)
	if err != nil {
		return policy.RuleSetSource{}, err
	}
	capRules, err := toExactRuleMap(doc.Capability.Rules)
	if err != nil {
		return policy.RuleSetSource{}, err
	}
	toolPatterns, err := toPatternRules(doc.Tool.Patterns)
	if err != nil {
		return policy.RuleSetSource{}, err
	}
	capPatterns, err := toPatternRules(doc.Capability.Patterns)
	if err != nil {
		return policy.RuleSetSource{}, err
	}
	globalPatterns, err := toPatternRules(doc.Global)
	if err != nil {
		return policy.RuleSetSource{}, err
	}

	action, err := toAction(doc.DefaultAction)
	if err != nil {
		return policy.RuleSetSource{}, err
	}

	return policy.RuleSetSource{
		ToolRules:          toolRules,
		CapabilityRules:    capRules,
		ToolPatterns:       toolPatterns,
		CapabilityPatterns: capPatterns,
		GlobalPatterns:     globalPatterns,
		DefaultAction:      action,
	}, nil
}

func toExactRuleMap(entries []state.RuleEntry) (map[string][]policy.AllowlistRule, error) {
	out := make(map[string][]policy.AllowlistRule, len(entries))
	for _, e := range entries {
		action, err := toAction(e.Action)
		if err != nil {
			return nil, err
		}
		out[e.Target] = append(out[e.Target], policy.AllowlistRule{
			Name:    e.Target,
			Action:  action,
			Reason:  e.Reason,
			Enabled: e.Enabled,
		})
	}
	return out, nil
}

func toPatternRules(entries []state.PatternEntry) ([]policy.AllowlistRule, error) {
	out := make([]policy.AllowlistRule, 0, len(entries))
	for _, e := range entries {
		action, err := toAction(e.Action)
		if err != nil {
			return nil, err
		}
		kind, err := toPatternKind(e.PatternKind)
		if err != nil {
			return nil, err
		}
		out = append(out, policy.AllowlistRule{
			Name:    e.Name,
			Pattern: &policy.Pattern{Kind: kind, Value: e.Value},
			Action:  action,
			Reason:  e.Reason,
			Enabled: e.Enabled,
		})
	}
	return out, nil
}

func toAction(raw string) (policy.Action, error) {
	switch raw {
	case "", "deny":
		return policy.ActionDeny, nil
	case "allow":
		return policy.ActionAllow, nil
	default:
		return "", fmt.Errorf("unknown action %q", raw)
	}
}

func toPatternKind(raw string) (policy.PatternKind, error) {
	switch raw {
	case "exact":
		return policy.PatternExact, nil
	case "wildcard":
		return policy.PatternWildcard, nil
	case "regex":
		return policy.PatternRegex, nil
	default:
		return 0, fmt.Errorf("unknown pattern kind %q", raw)
	}
}
