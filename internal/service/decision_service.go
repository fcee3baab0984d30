package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/policy-core/permissioncore/internal/domain/audit"
	"github.com/policy-core/permissioncore/internal/domain/cache"
	"github.com/policy-core/permissioncore/internal/domain/emergency"
	"github.com/policy-core/permissioncore/internal/domain/policy"
	"github.com/policy-core/permissioncore/internal/domain/principal"
	"github.com/policy-core/permissioncore/internal/domain/rbac"
	"github.com/policy-core/permissioncore/internal/domain/tool"
	"github.com/policy-core/permissioncore/internal/observability"
)

// ToolCatalog is the boundary the decision service consults to list and
// describe tools; ingestion and transport are out of scope here (spec §1),
// this is only the narrow read surface the service needs.
type ToolCatalog interface {
	ListTools() []tool.Tool
}

// DecisionService wires C1 (principal, supplied by callers), C8
// (emergency latch), C6 (permission cache), C3 (allowlist evaluator), C4
// (RBAC evaluator), and C9 (audit trail builder) into the top-level
// operations a caller of the policy core invokes: evaluating a single tool
// call, checking an arbitrary permission, and listing the tools a
// principal may see.
//
// Emergency is consulted first and short-circuits every other component
// when active (spec §4.8/§4.3: emergency is checked before the allowlist
// walk runs). The permission cache's fast path is consulted next; a miss
// builds a fresh entry via the allowlist and RBAC evaluators, generalizing
// the teacher's single-flight builder pattern already embedded in
// cache.Manager.
type DecisionService struct {
	latch     *emergency.Latch
	cacheMgr  *cache.Manager
	index     *policy.Evaluator
	rbacEval  *rbac.Evaluator
	roleStore rbac.RoleStore
	auditSvc  *AuditService
	catalog   ToolCatalog
	metrics   *observability.DecisionMetrics

	listingTimeout    time.Duration
	failOpenOnTimeout bool
}

// Config configures a DecisionService's non-component behavior.
type Config struct {
	ListingTimeout    time.Duration
	FailOpenOnTimeout bool
}

// DecisionOption configures a DecisionService.
type DecisionOption func(*DecisionService)

// WithMetrics attaches the OpenTelemetry instruments decisions are
// reported against. Without this option, EvaluateTool still produces
// trace spans (the global tracer no-ops if no provider is configured) but
// records no metrics.
func WithMetrics(m *observability.DecisionMetrics) DecisionOption {
	return func(s *DecisionService) { s.metrics = m }
}

// NewDecisionService builds a DecisionService over the already-constructed
// domain components. Each component owns its own concurrency control;
// DecisionService only sequences calls between them.
func NewDecisionService(
	latch *emergency.Latch,
	cacheMgr *cache.Manager,
	index *policy.Evaluator,
	rbacEval *rbac.Evaluator,
	roleStore rbac.RoleStore,
	auditSvc *AuditService,
	catalog ToolCatalog,
	cfg Config,
	opts ...DecisionOption,
) *DecisionService {
	s := &DecisionService{
		latch:             latch,
		cacheMgr:          cacheMgr,
		index:             index,
		rbacEval:          rbacEval,
		roleStore:         roleStore,
		auditSvc:          auditSvc,
		catalog:           catalog,
		listingTimeout:    cfg.ListingTimeout,
		failOpenOnTimeout: cfg.FailOpenOnTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EvaluateTool decides whether p may invoke toolID (with optional
// capabilityID), consulting the emergency latch, then the permission
// cache, then the allowlist/RBAC evaluators on a cache miss. The decision
// is recorded to the audit trail before returning, regardless of outcome
// (spec §4.9: "every decision is audited, allow or deny").
func (s *DecisionService) EvaluateTool(p principal.Principal, toolID, capabilityID string) audit.AuditRecord {
	ctx, span := observability.Tracer().Start(context.Background(), "policycore.decision.evaluate_tool")
	span.SetAttributes(observability.AttrToolID.String(toolID), observability.AttrCapabilityID.String(capabilityID))
	defer span.End()

	start := time.Now()
	var timings audit.ComponentTimings

	rec := audit.AuditRecord{
		RequestID:    uuid.NewString(),
		Timestamp:    start,
		PrincipalID:  audit.RedactIdentifier(p.ID),
		APIKeyName:   audit.RedactIdentifier(p.APIKeyName),
		ToolID:       toolID,
		CapabilityID: capabilityID,
	}

	emergencyStart := time.Now()
	if s.latch.IsActive() {
		s.latch.RecordBlocked()
		timings.EmergencyCheckNanos = time.Since(emergencyStart).Nanoseconds()
		rec.Decision = audit.DecisionDeny
		rec.Level = string(policy.LevelEmergency)
		rec.Reason = "emergency lockdown active"
		timings.TotalNanos = time.Since(start).Nanoseconds()
		rec.Timings = timings
		rec.LatencyMicros = time.Since(start).Microseconds()
		s.auditSvc.Record(rec)
		s.recordDecisionMetrics(ctx, span, rec)
		return rec
	}
	timings.EmergencyCheckNanos = time.Since(emergencyStart).Nanoseconds()

	cacheStart := time.Now()
	build := s.buildCacheEntry(toolID, capabilityID, &timings)
	built := false
	entry, err := s.cacheMgr.GetOrBuild(p, func(p principal.Principal) (cache.BuildResult, error) {
		built = true
		return build(p)
	})
	timings.CacheLookupNanos = time.Since(cacheStart).Nanoseconds()

	if err != nil {
		rec.Decision = audit.DecisionDeny
		rec.Level = string(policy.LevelDefault)
		rec.Reason = fmt.Sprintf("permission resolution failed: %v", err)
		timings.TotalNanos = time.Since(start).Nanoseconds()
		rec.Timings = timings
		rec.LatencyMicros = time.Since(start).Microseconds()
		s.auditSvc.Record(rec)
		s.recordDecisionMetrics(ctx, span, rec)
		return rec
	}

	rec.Roles = entry.RolesSnapshot
	rec.CacheHit = !built

	if entry.AllowsTool(toolID) {
		rec.Decision = audit.DecisionAllow
		rec.Reason = "tool present in cached allow set"
	} else {
		rec.Decision = audit.DecisionDeny
		rec.Reason = "tool not present in cached allow set"
	}

	timings.TotalNanos = time.Since(start).Nanoseconds()
	rec.Timings = timings
	rec.LatencyMicros = time.Since(start).Microseconds()
	s.auditSvc.Record(rec)
	s.recordDecisionMetrics(ctx, span, rec)
	return rec
}

// recordDecisionMetrics annotates the active span and, if metrics were
// configured via WithMetrics, records the decision's outcome against them.
// Safe to call with a nil s.metrics.
func (s *DecisionService) recordDecisionMetrics(ctx context.Context, span trace.Span, rec audit.AuditRecord) {
	span.SetAttributes(
		observability.AttrDecision.String(rec.Decision),
		observability.AttrLevel.String(rec.Level),
		observability.AttrCacheHit.Bool(rec.CacheHit),
	)
	s.metrics.RecordDecision(ctx, rec.Decision, rec.LatencyMicros, rec.CacheHit)
}

// buildCacheEntry returns a cache.Builder that evaluates the allowlist and
// RBAC evaluators for every tool in the catalog once, producing the
// allow-set/bitmap/roles snapshot cache.Manager stores for the principal's
// fingerprint (spec §4.6: builds once per fingerprint per generation).
//
// Permission grants for the first cache.MaxBitmapTools catalog tools are
// resolved through a cache.PermissionIndex: each of the principal's
// effective roles contributes a precomputed per-role bitmap, unioned once
// via PrincipalBitmap, rather than re-walking every role's permission list
// (and parent chain) for every catalog tool via CheckPermission. Tools
// beyond that ceiling still fall back to a direct CheckPermission call per
// spec §8's bitmap-overflow boundary ("fast path must defer to slow path
// and remain correct").
func (s *DecisionService) buildCacheEntry(_, _ string, timings *audit.ComponentTimings) cache.Builder {
	return func(p principal.Principal) (cache.BuildResult, error) {
		roles, err := s.rbacEval.EffectiveRoles(p)
		if err != nil {
			return cache.BuildResult{}, err
		}

		allRoles, err := s.roleStore.ListRoles()
		if err != nil {
			return cache.BuildResult{}, err
		}
		tools := s.catalog.ListTools()
		idx := cache.BuildPermissionIndex(tools, allRoles, 0)
		principalBitmap := idx.PrincipalBitmap(roles)

		allowlistStart := time.Now()
		allowed := make(map[string]struct{})
		var bitmap uint64
		for i, t := range tools {
			d := s.index.EvaluateTool(t.ID, t.CapabilityID)
			if !d.Allowed {
				continue
			}

			var granted bool
			if i < cache.MaxBitmapTools {
				granted = principalBitmap&idx.BitmapFor(t.ID) != 0
			} else {
				result, err := s.rbacEval.CheckPermission(p, "tool:"+t.ID)
				granted = err == nil && result.Granted
			}
			if !granted {
				continue
			}

			allowed[t.ID] = struct{}{}
			if i < cache.MaxBitmapTools {
				bitmap |= 1 << uint(i)
			}
		}
		timings.AllowlistEvalNanos = time.Since(allowlistStart).Nanoseconds()

		return cache.BuildResult{
			AllowedToolIDs:    allowed,
			PermissionsBitmap: bitmap,
			RolesSnapshot:     roles,
		}, nil
	}
}

// CheckPermission evaluates an arbitrary permission string for p, bypassing
// the tool allow-set cache entirely — this is C4's direct surface, used by
// callers that need a yes/no on a permission rather than a tool decision.
func (s *DecisionService) CheckPermission(p principal.Principal, permission string) (rbac.PermissionResult, error) {
	if s.latch.IsActive() {
		s.latch.RecordBlocked()
		return rbac.PermissionResult{Granted: false, Reason: "emergency lockdown active"}, nil
	}
	return s.rbacEval.CheckPermission(p, permission)
}

// ListTools returns every tool p is permitted to see, built from the same
// cache entry EvaluateTool uses. If building the entry takes longer than
// the configured listing timeout, the result depends on FailOpenOnTimeout:
// when false (the default), listing fails closed and returns no tools;
// when true, every catalog tool is returned unfiltered (spec §6 listing
// timeout/fail-open note).
func (s *DecisionService) ListTools(p principal.Principal) ([]tool.Tool, error) {
	if s.latch.IsActive() {
		return nil, nil
	}

	type result struct {
		entry *cache.Entry
		err   error
	}
	done := make(chan result, 1)
	go func() {
		var timings audit.ComponentTimings
		entry, err := s.cacheMgr.GetOrBuild(p, s.buildCacheEntry("", "", &timings))
		done <- result{entry: entry, err: err}
	}()

	timeout := s.listingTimeout
	if timeout <= 0 {
		timeout = 50 * time.Millisecond
	}

	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		return s.filterCatalog(r.entry), nil
	case <-time.After(timeout):
		if s.failOpenOnTimeout {
			return s.catalog.ListTools(), nil
		}
		return nil, nil
	}
}

func (s *DecisionService) filterCatalog(entry *cache.Entry) []tool.Tool {
	all := s.catalog.ListTools()
	out := make([]tool.Tool, 0, len(all))
	for _, t := range all {
		if entry.AllowsTool(t.ID) {
			out = append(out, t)
		}
	}
	return out
}
