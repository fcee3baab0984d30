package memory

import (
	"sync"

	"github.com/policy-core/permissioncore/internal/domain/rbac"
)

// RoleStore implements rbac.RoleStore with in-memory maps, deep-copying on
// every read and write so callers can never mutate stored state through a
// returned value. Mutations are rejected (without applying any change) when
// they would introduce a cycle in the parent-role graph, reference an
// undefined parent role, or delete a role still referenced as a parent.
type RoleStore struct {
	mu    sync.RWMutex
	roles map[string]rbac.Role

	byUserID map[string][]string
	byAPIKey map[string][]string
	defaults []string
}

// NewRoleStore creates an empty in-memory role store.
func NewRoleStore() *RoleStore {
	return &RoleStore{
		roles:    make(map[string]rbac.Role),
		byUserID: make(map[string][]string),
		byAPIKey: make(map[string][]string),
	}
}

// SetDefaultRoles configures the fallback roles used when a principal has no
// directly- or API-key-bound roles.
func (s *RoleStore) SetDefaultRoles(roles []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaults = append([]string(nil), roles...)
}

func (s *RoleStore) GetRole(name string) (rbac.Role, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[name]
	return copyRole(r), ok, nil
}

func (s *RoleStore) ListRoles() ([]rbac.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]rbac.Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, copyRole(r))
	}
	return out, nil
}

func (s *RoleStore) PutRole(role rbac.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if missing, ok := rbac.ValidateParents(s.roles, role.ParentRoles); !ok {
		return &rbac.RoleValidationError{Role: role.Name, Err: rbac.ErrUnknownParentRole, Detail: missing}
	}
	if rbac.DetectCycle(s.roles, role.Name, role.ParentRoles) {
		return &rbac.RoleValidationError{Role: role.Name, Err: rbac.ErrRoleCycle}
	}

	s.roles[role.Name] = copyRole(role)
	return nil
}

func (s *RoleStore) DeleteRole(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.roles[name]; !ok {
		return rbac.ErrRoleNotFound
	}
	if rbac.ReferencedAsParent(s.roles, name, name) {
		return &rbac.RoleValidationError{Role: name, Err: rbac.ErrRoleReferenced}
	}
	delete(s.roles, name)
	return nil
}

func (s *RoleStore) Assignments() (rbac.Assignments, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byUser := make(map[string][]string, len(s.byUserID))
	for k, v := range s.byUserID {
		byUser[k] = append([]string(nil), v...)
	}
	byKey := make(map[string][]string, len(s.byAPIKey))
	for k, v := range s.byAPIKey {
		byKey[k] = append([]string(nil), v...)
	}

	return rbac.Assignments{
		ByUserID:     byUser,
		ByAPIKey:     byKey,
		DefaultRoles: append([]string(nil), s.defaults...),
	}, nil
}

func (s *RoleStore) AssignRole(subject string, byAPIKey bool, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.roles[role]; !ok {
		return rbac.ErrRoleNotFound
	}

	target := s.byUserID
	if byAPIKey {
		target = s.byAPIKey
	}
	for _, existing := range target[subject] {
		if existing == role {
			return nil
		}
	}
	target[subject] = append(target[subject], role)
	return nil
}

func (s *RoleStore) RevokeRole(subject string, byAPIKey bool, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.byUserID
	if byAPIKey {
		target = s.byAPIKey
	}
	roles := target[subject]
	for i, existing := range roles {
		if existing == role {
			target[subject] = append(roles[:i], roles[i+1:]...)
			return nil
		}
	}
	return nil
}

func copyRole(r rbac.Role) rbac.Role {
	cp := r
	cp.Permissions = append([]string(nil), r.Permissions...)
	cp.ParentRoles = append([]string(nil), r.ParentRoles...)
	return cp
}

var _ rbac.RoleStore = (*RoleStore)(nil)
