package sqlstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/policy-core/permissioncore/internal/domain/rbac"
)

// RoleStore implements rbac.RoleStore against the SQLite-backed Store.
// Permission and parent-role lists are stored as JSON text columns rather
// than a normalized join table — the RBAC evaluator only ever needs the
// whole list at once (spec §4.4: roles are read in full, never queried by
// individual permission), so a join table would add write-path complexity
// with no read-path benefit here.
type RoleStore struct {
	store *Store
}

// NewRoleStore wraps store as an rbac.RoleStore.
func NewRoleStore(store *Store) *RoleStore {
	return &RoleStore{store: store}
}

func (s *RoleStore) GetRole(name string) (rbac.Role, bool, error) {
	row := s.store.db.QueryRow(
		`SELECT name, description, permissions, parent_roles, active, created_at, modified_at
		 FROM roles WHERE name = ?`, name)

	role, err := scanRole(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.Role{}, false, nil
	}
	if err != nil {
		return rbac.Role{}, false, err
	}
	return role, true, nil
}

func (s *RoleStore) ListRoles() ([]rbac.Role, error) {
	rows, err := s.store.db.Query(
		`SELECT name, description, permissions, parent_roles, active, created_at, modified_at FROM roles`)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	defer rows.Close()

	var out []rbac.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

func (s *RoleStore) PutRole(role rbac.Role) error {
	existing, err := s.allRolesByName()
	if err != nil {
		return err
	}

	if missing, ok := rbac.ValidateParents(existing, role.ParentRoles); !ok {
		return &rbac.RoleValidationError{Role: role.Name, Err: rbac.ErrUnknownParentRole, Detail: missing}
	}
	if rbac.DetectCycle(existing, role.Name, role.ParentRoles) {
		return &rbac.RoleValidationError{Role: role.Name, Err: rbac.ErrRoleCycle}
	}

	perms, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("marshal permissions: %w", err)
	}
	parents, err := json.Marshal(role.ParentRoles)
	if err != nil {
		return fmt.Errorf("marshal parent roles: %w", err)
	}

	now := time.Now().UTC()
	createdAt := role.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	modifiedAt := role.ModifiedAt
	if modifiedAt.IsZero() {
		modifiedAt = now
	}

	_, err = s.store.db.Exec(`
		INSERT INTO roles (name, description, permissions, parent_roles, active, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			description  = excluded.description,
			permissions  = excluded.permissions,
			parent_roles = excluded.parent_roles,
			active       = excluded.active,
			modified_at  = excluded.modified_at`,
		role.Name, role.Description, string(perms), string(parents), role.Active,
		createdAt.Format(time.RFC3339Nano), modifiedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("put role %q: %w", role.Name, err)
	}
	return nil
}

func (s *RoleStore) DeleteRole(name string) error {
	existing, err := s.allRolesByName()
	if err != nil {
		return err
	}
	if _, ok := existing[name]; !ok {
		return rbac.ErrRoleNotFound
	}
	if rbac.ReferencedAsParent(existing, name, name) {
		return &rbac.RoleValidationError{Role: name, Err: rbac.ErrRoleReferenced}
	}

	_, err = s.store.db.Exec(`DELETE FROM roles WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete role %q: %w", name, err)
	}
	return nil
}

func (s *RoleStore) Assignments() (rbac.Assignments, error) {
	byUser := make(map[string][]string)
	byKey := make(map[string][]string)

	rows, err := s.store.db.Query(`SELECT subject, by_api_key, role FROM role_assignments`)
	if err != nil {
		return rbac.Assignments{}, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var subject, role string
		var byAPIKey bool
		if err := rows.Scan(&subject, &byAPIKey, &role); err != nil {
			return rbac.Assignments{}, fmt.Errorf("scan assignment: %w", err)
		}
		target := byUser
		if byAPIKey {
			target = byKey
		}
		target[subject] = append(target[subject], role)
	}
	if err := rows.Err(); err != nil {
		return rbac.Assignments{}, err
	}

	defaults, err := s.defaultRoles()
	if err != nil {
		return rbac.Assignments{}, err
	}

	return rbac.Assignments{ByUserID: byUser, ByAPIKey: byKey, DefaultRoles: defaults}, nil
}

func (s *RoleStore) AssignRole(subject string, byAPIKey bool, role string) error {
	var exists int
	if err := s.store.db.QueryRow(`SELECT 1 FROM roles WHERE name = ?`, role).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rbac.ErrRoleNotFound
		}
		return fmt.Errorf("check role %q: %w", role, err)
	}

	_, err := s.store.db.Exec(
		`INSERT INTO role_assignments (subject, by_api_key, role) VALUES (?, ?, ?)
		 ON CONFLICT(subject, by_api_key, role) DO NOTHING`,
		subject, byAPIKey, role)
	if err != nil {
		return fmt.Errorf("assign role %q to %q: %w", role, subject, err)
	}
	return nil
}

func (s *RoleStore) RevokeRole(subject string, byAPIKey bool, role string) error {
	_, err := s.store.db.Exec(
		`DELETE FROM role_assignments WHERE subject = ? AND by_api_key = ? AND role = ?`,
		subject, byAPIKey, role)
	if err != nil {
		return fmt.Errorf("revoke role %q from %q: %w", role, subject, err)
	}
	return nil
}

// SetDefaultRoles replaces the fallback roles used when a principal has no
// directly- or API-key-bound roles.
func (s *RoleStore) SetDefaultRoles(roles []string) error {
	tx, err := s.store.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM default_roles`); err != nil {
		return fmt.Errorf("clear default roles: %w", err)
	}
	for _, r := range roles {
		if _, err := tx.Exec(`INSERT INTO default_roles (role) VALUES (?)`, r); err != nil {
			return fmt.Errorf("insert default role %q: %w", r, err)
		}
	}
	return tx.Commit()
}

func (s *RoleStore) defaultRoles() ([]string, error) {
	rows, err := s.store.db.Query(`SELECT role FROM default_roles`)
	if err != nil {
		return nil, fmt.Errorf("list default roles: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, fmt.Errorf("scan default role: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *RoleStore) allRolesByName() (map[string]rbac.Role, error) {
	roles, err := s.ListRoles()
	if err != nil {
		return nil, err
	}
	out := make(map[string]rbac.Role, len(roles))
	for _, r := range roles {
		out[r.Name] = r
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRole(row rowScanner) (rbac.Role, error) {
	var (
		name, description, permsJSON, parentsJSON string
		active                                     bool
		createdAtRaw, modifiedAtRaw                string
	)
	if err := row.Scan(&name, &description, &permsJSON, &parentsJSON, &active, &createdAtRaw, &modifiedAtRaw); err != nil {
		return rbac.Role{}, err
	}

	var perms, parents []string
	if err := json.Unmarshal([]byte(permsJSON), &perms); err != nil {
		return rbac.Role{}, fmt.Errorf("unmarshal permissions for role %q: %w", name, err)
	}
	if err := json.Unmarshal([]byte(parentsJSON), &parents); err != nil {
		return rbac.Role{}, fmt.Errorf("unmarshal parent roles for role %q: %w", name, err)
	}

	createdAt, err := time.Parse(time.RFC3339Nano, createdAtRaw)
	if err != nil {
		return rbac.Role{}, fmt.Errorf("parse created_at for role %q: %w", name, err)
	}
	modifiedAt, err := time.Parse(time.RFC3339Nano, modifiedAtRaw)
	if err != nil {
		return rbac.Role{}, fmt.Errorf("parse modified_at for role %q: %w", name, err)
	}

	return rbac.Role{
		Name:        name,
		Description: description,
		Permissions: perms,
		ParentRoles: parents,
		Active:      active,
		CreatedAt:   createdAt,
		ModifiedAt:  modifiedAt,
	}, nil
}

var _ rbac.RoleStore = (*RoleStore)(nil)
