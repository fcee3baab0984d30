// Package invalidation implements the cache invalidator (spec component
// C7): a tagged-union event stream consumed by a single-threaded command
// handler that owns the permission cache, fed by an unbounded producer
// queue and observed via a best-effort broadcast channel.
package invalidation

import "time"

// Event is the tagged union of invalidation triggers. Each concrete type
// below implements Event by naming itself; the command handler switches on
// concrete type rather than modeling a class hierarchy (spec §9).
type Event interface {
	eventKind() string
}

// UserPermissionsChanged fires when a principal's role bindings change.
// ByAPIKey distinguishes whether UserID names a user ID or an API-key name,
// since role bindings (and therefore cached entries) are indexed separately
// by the two (rbac.RoleStore.AssignRole/RevokeRole take the same flag).
type UserPermissionsChanged struct {
	UserID   string
	ByAPIKey bool
	OldRoles []string
	NewRoles []string
}

func (UserPermissionsChanged) eventKind() string { return "user_permissions_changed" }

// ToolPermissionsChanged fires when a tool's required permissions/rules change.
type ToolPermissionsChanged struct {
	ToolID string
}

func (ToolPermissionsChanged) eventKind() string { return "tool_permissions_changed" }

// RoleDefinitionChanged fires when a role's permission set or parent list changes.
type RoleDefinitionChanged struct {
	RoleName string
}

func (RoleDefinitionChanged) eventKind() string { return "role_definition_changed" }

// AllowlistRuleChanged fires when an allowlist rule is added, edited, or removed.
type AllowlistRuleChanged struct {
	RuleName      string
	AffectedTools []string
}

func (AllowlistRuleChanged) eventKind() string { return "allowlist_rule_changed" }

// EmergencyCacheClear fires when the emergency latch activates. AffectedUsers
// is nil to mean "all users".
type EmergencyCacheClear struct {
	Reason         string
	AffectedUsers  []string
}

func (EmergencyCacheClear) eventKind() string { return "emergency_cache_clear" }

// TtlCleanup fires after a background sweep expires entries.
type TtlCleanup struct {
	ExpiredUserIDs []string
	CleanupTime    time.Time
}

func (TtlCleanup) eventKind() string { return "ttl_cleanup" }

// Applied records that an event was processed and the generation of the
// cache it was applied against, for observers that need to confirm
// invalidation took effect before relying on fresh reads.
type Applied struct {
	Event      Event
	Generation uint64
	AppliedAt  time.Time
}
