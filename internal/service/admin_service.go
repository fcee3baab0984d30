package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/policy-core/permissioncore/internal/domain/audit"
	"github.com/policy-core/permissioncore/internal/domain/emergency"
	"github.com/policy-core/permissioncore/internal/domain/invalidation"
	"github.com/policy-core/permissioncore/internal/domain/policy"
	"github.com/policy-core/permissioncore/internal/domain/rbac"
)

// MutationRejected is returned when an admin mutation fails validation
// before any store is touched — mirroring the config package's
// validator-backed rejection shape (spec §7: mutations either fully apply
// or are fully rejected, never partially).
type MutationRejected struct {
	Field  string
	Reason string
}

func (e *MutationRejected) Error() string {
	return fmt.Sprintf("mutation rejected: %s: %s", e.Field, e.Reason)
}

// roleMutation is validated with struct tags before touching the role
// store, reusing the same go-playground/validator instance the config
// package uses.
type roleMutation struct {
	Name        string   `validate:"required"`
	Permissions []string `validate:"dive,required"`
	ParentRoles []string `validate:"dive,required"`
}

// AdminService implements the admin-facing mutation surface (spec §6):
// rule-set/pattern/role CRUD, role assignment, and emergency activation.
// Every mutation that affects decisions produces a ChangeRecord for the
// change-tracker sink and an invalidation.Event for the cache invalidator,
// in that order — the audit write happens first so a crash between the two
// never hides a change that already took effect.
type AdminService struct {
	roleStore rbac.RoleStore
	evaluator *policy.Evaluator
	latch     *emergency.Latch
	invalider *invalidation.Handler
	sink      audit.ChangeSink
	validate  *validator.Validate

	generation uint64
}

// NewAdminService builds an AdminService over its collaborators. evaluator
// must be the same *policy.Evaluator instance the decision service reads
// from, so Publish takes effect immediately for new decisions.
func NewAdminService(
	roleStore rbac.RoleStore,
	evaluator *policy.Evaluator,
	latch *emergency.Latch,
	invalider *invalidation.Handler,
	sink audit.ChangeSink,
) *AdminService {
	return &AdminService{
		roleStore: roleStore,
		evaluator: evaluator,
		latch:     latch,
		invalider: invalider,
		sink:      sink,
		validate:  validator.New(),
	}
}

func (s *AdminService) record(ctx context.Context, changeType string, op audit.Operation, user, target string) {
	rec := audit.ChangeRecord{
		ID:         uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		ChangeType: changeType,
		Operation:  op,
		User:       audit.RedactIdentifier(user),
		Target:     target,
	}
	if err := s.sink.Append(ctx, rec); err != nil {
		// The sink's own retry/backoff policy is its responsibility (spec
		// §6); the admin mutation itself has already applied and must not
		// be rolled back because the change record failed to persist.
		_ = err
	}
}

// PutRole creates or replaces a role definition. Cycle and missing-parent
// validation is the role store's responsibility (spec §4.4); this method
// only validates the mutation's own shape before delegating.
func (s *AdminService) PutRole(ctx context.Context, user string, role rbac.Role) error {
	m := roleMutation{Name: role.Name, Permissions: role.Permissions, ParentRoles: role.ParentRoles}
	if err := s.validate.Struct(m); err != nil {
		return &MutationRejected{Field: "role", Reason: err.Error()}
	}

	if err := s.roleStore.PutRole(role); err != nil {
		return err
	}

	s.record(ctx, "role", audit.OperationUpdate, user, role.Name)
	s.invalider.Emit(invalidation.RoleDefinitionChanged{RoleName: role.Name})
	return nil
}

// DeleteRole removes a role definition.
func (s *AdminService) DeleteRole(ctx context.Context, user, name string) error {
	if name == "" {
		return &MutationRejected{Field: "name", Reason: "must not be empty"}
	}
	if err := s.roleStore.DeleteRole(name); err != nil {
		return err
	}

	s.record(ctx, "role", audit.OperationDelete, user, name)
	s.invalider.Emit(invalidation.RoleDefinitionChanged{RoleName: name})
	return nil
}

// AssignRole binds role to subject (a user ID or API-key name).
func (s *AdminService) AssignRole(ctx context.Context, user, subject string, byAPIKey bool, role string) error {
	if subject == "" || role == "" {
		return &MutationRejected{Field: "subject/role", Reason: "must not be empty"}
	}
	if err := s.roleStore.AssignRole(subject, byAPIKey, role); err != nil {
		return err
	}

	s.record(ctx, "role_assignment", audit.OperationCreate, user, subject)
	s.invalider.Emit(invalidation.UserPermissionsChanged{UserID: subject, ByAPIKey: byAPIKey, NewRoles: []string{role}})
	return nil
}

// RevokeRole unbinds role from subject.
func (s *AdminService) RevokeRole(ctx context.Context, user, subject string, byAPIKey bool, role string) error {
	if subject == "" || role == "" {
		return &MutationRejected{Field: "subject/role", Reason: "must not be empty"}
	}
	if err := s.roleStore.RevokeRole(subject, byAPIKey, role); err != nil {
		return err
	}

	s.record(ctx, "role_assignment", audit.OperationDelete, user, subject)
	s.invalider.Emit(invalidation.UserPermissionsChanged{UserID: subject, ByAPIKey: byAPIKey, OldRoles: []string{role}})
	return nil
}

// PutRuleSet compiles src and publishes it as the new allowlist snapshot.
// On a compile error, the previously published RuleSet remains in effect
// (spec §7 ConfigLoadError: "previous snapshot retained") and no change
// record or invalidation event is produced.
func (s *AdminService) PutRuleSet(ctx context.Context, user string, src policy.RuleSetSource) error {
	s.generation++
	next, err := policy.Compile(src, s.generation)
	if err != nil {
		s.generation--
		return &MutationRejected{Field: "rule_set", Reason: err.Error()}
	}

	s.evaluator.Publish(next)

	s.record(ctx, "rule_set", audit.OperationUpdate, user, "allowlist")
	s.invalider.Emit(invalidation.AllowlistRuleChanged{})
	return nil
}

// ActivateEmergency engages the lockdown latch, clearing every cache entry
// immediately (spec §4.8: activation is a cache-wide event, not scoped to
// one principal).
func (s *AdminService) ActivateEmergency(ctx context.Context, by, reason, sessionID string) emergency.State {
	state := s.latch.Activate(by, reason, sessionID)

	s.record(ctx, "emergency", audit.OperationEnable, by, sessionID)
	s.invalider.Emit(invalidation.EmergencyCacheClear{Reason: reason})
	return state
}

// DeactivateEmergency disengages the lockdown latch.
func (s *AdminService) DeactivateEmergency(ctx context.Context, by string) emergency.State {
	state := s.latch.Deactivate(by)

	s.record(ctx, "emergency", audit.OperationDisable, by, "")
	return state
}
