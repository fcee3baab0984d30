// Package state provides file-based persistence for the policy core's
// durable documents: roles+assignments, the permission registry, and
// the allowlist rule set. It provides atomic writes, file locking, and
// backup functionality -- the same mechanics regardless of which
// document is being persisted.
package state

import "time"

// RolesDocument is the JSON document holding every role definition and
// every role assignment (spec §6: "Roles and assignments: one JSON
// document keyed at a stable path").
type RolesDocument struct {
	// Version is the schema version for forward compatibility.
	Version string `json:"version"`

	// Roles are the defined roles, keyed by role name.
	Roles map[string]RoleEntry `json:"roles"`

	// Assignments holds the user/API-key-to-role mapping.
	Assignments AssignmentsEntry `json:"assignments"`

	// UpdatedAt is when this document was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// RoleEntry is a persisted role definition.
type RoleEntry struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Permissions []string  `json:"permissions"`
	ParentRoles []string  `json:"parent_roles,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	ModifiedAt  time.Time `json:"modified_at"`
}

// AssignmentsEntry is the persisted role-assignment mapping.
type AssignmentsEntry struct {
	ByUserID     map[string][]string `json:"by_user_id,omitempty"`
	ByAPIKey     map[string][]string `json:"by_api_key,omitempty"`
	DefaultRoles []string            `json:"default_roles,omitempty"`
}

// PermissionRegistryDocument is the JSON document backing the
// permission-index cache primitive (spec §4.6): which tools a role
// grants, and the bitmap assignment for each tool (capped at 64 bits).
type PermissionRegistryDocument struct {
	Version string `json:"version"`

	// RoleToToolIDs maps a role name to the tool IDs it grants access to.
	RoleToToolIDs map[string][]string `json:"role_to_tool_ids"`

	// ToolIDToBit assigns each tool a bit position in the fast-path
	// bitmap, 0-63. Tools beyond the first 64 are omitted here and
	// fall back to the slow path.
	ToolIDToBit map[string]uint8 `json:"tool_id_to_bit"`

	UpdatedAt time.Time `json:"updated_at"`
}

// RuleSetDocument is the YAML document holding the allowlist rule set's
// four levels in separate sections (spec §6). Emergency is a runtime
// latch (C8), not a configured level, so it has no section here; Global
// has no exact-match section because §4.3 only scans global patterns.
type RuleSetDocument struct {
	DefaultAction string        `yaml:"default_action"`
	Tool          LevelSection  `yaml:"tool"`
	Capability    LevelSection  `yaml:"capability"`
	Global        []PatternEntry `yaml:"global"`
}

// LevelSection holds the exact-match rules and pattern rules for one
// precedence level (Tool or Capability).
type LevelSection struct {
	Rules    []RuleEntry    `yaml:"rules"`
	Patterns []PatternEntry `yaml:"patterns"`
}

// RuleEntry is a single exact-match allowlist rule (tool or capability
// level), keyed by its container (tool name or capability name).
type RuleEntry struct {
	Name    string `yaml:"name"`
	Target  string `yaml:"target"`
	Action  string `yaml:"action"`
	Reason  string `yaml:"reason,omitempty"`
	Enabled bool   `yaml:"enabled"`
}

// PatternDocument is one of the two optional pattern YAML files
// (capability-patterns.yaml, global-patterns.yaml): an ordered list of
// pattern rules (spec §6).
type PatternDocument struct {
	Patterns []PatternEntry `yaml:"patterns"`
}

// PatternEntry is a single pattern-matched allowlist rule.
type PatternEntry struct {
	Name        string `yaml:"name"`
	PatternKind string `yaml:"pattern_kind"`
	Value       string `yaml:"value"`
	Action      string `yaml:"action"`
	Reason      string `yaml:"reason,omitempty"`
	Enabled     bool   `yaml:"enabled"`
}
