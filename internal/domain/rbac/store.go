package rbac

// RoleStore owns role definitions and role assignments. Implementations must
// reject mutations that would introduce a cycle in the parent-role graph or
// that reference an undefined parent role, and must reject deleting a role
// that is still named as a parent by another active role.
type RoleStore interface {
	GetRole(name string) (Role, bool, error)
	ListRoles() ([]Role, error)
	PutRole(role Role) error
	DeleteRole(name string) error

	Assignments() (Assignments, error)
	AssignRole(subject string, byAPIKey bool, role string) error
	RevokeRole(subject string, byAPIKey bool, role string) error
}

// DetectCycle reports whether adding candidate (with the given parents) to
// roles would create a cycle in the parent-role graph. candidate may already
// exist in roles (an update); its new parent list is passed explicitly.
// Exported for reuse by RoleStore implementations outside this package.
func DetectCycle(roles map[string]Role, candidate string, parents []string) bool {
	visited := make(map[string]bool)
	var walk func(name string) bool
	walk = func(name string) bool {
		if name == candidate {
			return true
		}
		if visited[name] {
			return false
		}
		visited[name] = true
		role, ok := roles[name]
		if !ok {
			return false
		}
		for _, p := range role.ParentRoles {
			if walk(p) {
				return true
			}
		}
		return false
	}
	for _, p := range parents {
		if p == candidate {
			return true
		}
		if walk(p) {
			return true
		}
	}
	return false
}

// ValidateParents reports whether every name in parents exists in roles.
func ValidateParents(roles map[string]Role, parents []string) (missing string, ok bool) {
	for _, p := range parents {
		if _, exists := roles[p]; !exists {
			return p, false
		}
	}
	return "", true
}

// ReferencedAsParent reports whether any role in roles (other than except)
// lists name as a parent.
func ReferencedAsParent(roles map[string]Role, name, except string) bool {
	for other, role := range roles {
		if other == except {
			continue
		}
		for _, p := range role.ParentRoles {
			if p == name {
				return true
			}
		}
	}
	return false
}
