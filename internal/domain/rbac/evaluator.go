package rbac

import (
	"github.com/policy-core/permissioncore/internal/domain/principal"
)

// PermissionResult is the outcome of a CheckPermission call: a total
// function that never errors, mirroring spec §4.4.
type PermissionResult struct {
	Granted       bool
	GrantingRoles []string
	Reason        string
}

// Evaluator resolves effective roles for a principal and checks permission
// strings against them, honoring role inheritance and the admin/superuser
// name heuristic.
type Evaluator struct {
	store             RoleStore
	inheritPermissions bool
}

// NewEvaluator builds an Evaluator over the given role store.
// inheritPermissions toggles whether a role's effective permission set
// includes those of its (transitive) parent roles.
func NewEvaluator(store RoleStore, inheritPermissions bool) *Evaluator {
	return &Evaluator{store: store, inheritPermissions: inheritPermissions}
}

// EffectiveRoles resolves the set of role names that apply to p: the union
// of p.Roles, roles bound to p.ID, and roles bound to p.APIKeyName. If that
// union is empty, the assignment store's DefaultRoles are used instead. When
// inheritance is enabled, parent roles are added transitively, guarded by a
// visited set against cycles that might slip past load-time validation.
func (e *Evaluator) EffectiveRoles(p principal.Principal) ([]string, error) {
	assignments, err := e.store.Assignments()
	if err != nil {
		return nil, err
	}

	seed := make(map[string]bool)
	for _, r := range p.Roles {
		seed[r] = true
	}
	if p.ID != "" {
		for _, r := range assignments.ByUserID[p.ID] {
			seed[r] = true
		}
	}
	if p.APIKeyName != "" {
		for _, r := range assignments.ByAPIKey[p.APIKeyName] {
			seed[r] = true
		}
	}

	if len(seed) == 0 {
		for _, r := range assignments.DefaultRoles {
			seed[r] = true
		}
	}

	if e.inheritPermissions {
		e.addParents(seed)
	}

	roles := make([]string, 0, len(seed))
	for r := range seed {
		roles = append(roles, r)
	}
	return roles, nil
}

// addParents mutates seed in place, adding transitive parent roles guarded
// by a visited set so a cycle that evaded load-time rejection cannot loop
// forever at evaluation time (defense in depth, per spec §9).
func (e *Evaluator) addParents(seed map[string]bool) {
	visited := make(map[string]bool)
	queue := make([]string, 0, len(seed))
	for r := range seed {
		queue = append(queue, r)
	}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if visited[name] {
			continue
		}
		visited[name] = true

		role, ok, err := e.store.GetRole(name)
		if err != nil || !ok {
			continue
		}
		for _, parent := range role.ParentRoles {
			if !seed[parent] {
				seed[parent] = true
			}
			if !visited[parent] {
				queue = append(queue, parent)
			}
		}
	}
}

// CheckPermission reports whether p holds required, considering every
// effective role's own permissions (and, if inheritance is enabled, its
// parents' permissions). A role named as admin/superuser or holding the
// literal "*" permission grants every permission.
func (e *Evaluator) CheckPermission(p principal.Principal, required string) (PermissionResult, error) {
	roles, err := e.EffectiveRoles(p)
	if err != nil {
		return PermissionResult{}, err
	}
	if len(roles) == 0 {
		return PermissionResult{Granted: false, Reason: "no effective roles"}, nil
	}

	var granting []string
	for _, name := range roles {
		if e.roleGrants(name, required, make(map[string]bool)) {
			granting = append(granting, name)
		}
	}

	if len(granting) == 0 {
		return PermissionResult{Granted: false, Reason: "no role grants " + required}, nil
	}
	return PermissionResult{Granted: true, GrantingRoles: granting, Reason: "granted by " + granting[0]}, nil
}

// roleGrants reports whether role (and, if inheritance is enabled, its
// transitive parents) grants required. visited guards against cycles.
func (e *Evaluator) roleGrants(name, required string, visited map[string]bool) bool {
	if visited[name] {
		return false
	}
	visited[name] = true

	role, ok, err := e.store.GetRole(name)
	if err != nil || !ok {
		return false
	}
	if role.GrantsAll() {
		return true
	}
	for _, perm := range role.Permissions {
		if MatchesPermission(perm, required) {
			return true
		}
	}
	if !e.inheritPermissions {
		return false
	}
	for _, parent := range role.ParentRoles {
		if e.roleGrants(parent, required, visited) {
			return true
		}
	}
	return false
}
