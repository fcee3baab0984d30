// Package rbac implements the role model and RBAC evaluator (spec components
// C2/C4): role definitions with inheritance, permission-string wildcard
// matching, and role-assignment resolution.
package rbac

import (
	"strings"
	"time"
)

// Role is a named bundle of permissions that may inherit from parent roles.
// The parent graph must be a DAG; cycles are rejected at load time by
// RoleStore implementations and defended against again at evaluation time.
type Role struct {
	Name        string
	Description string
	Permissions []string // permission strings, see MatchesPermission
	ParentRoles []string // names of roles this role inherits from
	Active      bool
	CreatedAt   time.Time
	ModifiedAt  time.Time
}

// IsAdminLike reports whether the role's name marks it as an implicit
// holder of every permission (spec §4.4 admin heuristic). Must stay
// equivalent to a role that holds an explicit "*" permission.
func (r Role) IsAdminLike() bool {
	lower := strings.ToLower(r.Name)
	return strings.Contains(lower, "admin") || strings.Contains(lower, "superuser")
}

// HasWildcardAll reports whether the role explicitly lists "*".
func (r Role) HasWildcardAll() bool {
	for _, p := range r.Permissions {
		if p == "*" {
			return true
		}
	}
	return false
}

// GrantsAll reports whether the role should be treated as holding every
// permission, either explicitly ("*") or via the admin/superuser name
// heuristic.
func (r Role) GrantsAll() bool {
	return r.HasWildcardAll() || r.IsAdminLike()
}

// Assignments maps principals to role names. Resolution falls back to
// DefaultRoles only when both the id-bound and api-key-bound sets are empty.
type Assignments struct {
	ByUserID   map[string][]string
	ByAPIKey   map[string][]string
	DefaultRoles []string
}

// MatchesPermission reports whether a held permission string grants the
// required permission string. Matching is case-sensitive and supports three
// forms: exact match, the universal wildcard "*", and a "prefix:*" wildcard
// that matches any permission sharing the given colon/dot-delimited prefix.
func MatchesPermission(held, required string) bool {
	if held == "*" {
		return true
	}
	if held == required {
		return true
	}
	if strings.HasSuffix(held, ":*") {
		prefix := strings.TrimSuffix(held, "*")
		return strings.HasPrefix(required, prefix)
	}
	return false
}
