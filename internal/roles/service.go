package roles

import (
	"context"
	"errors"
	"fmt"

	"github.com/atrium-hq/atrium/internal/perm"
	"github.com/atrium-hq/atrium/internal/shared"
)

// Service errors surfaced to handlers.
var (
	ErrSystemRole = errors.New("roles: system roles cannot be modified")
	ErrNonOrgBits = errors.New("roles: role permissions must stay within organization scope")
)

// RepositoryPort defines data access methods for roles.
type RepositoryPort interface {
	ListRoles(ctx context.Context, orgID int64) ([]Role, error)
	GetRole(ctx context.Context, orgID, roleID int64) (Role, error)
	CreateRole(ctx context.Context, orgID int64, name string, permissions perm.Bits, position int) (Role, error)
	UpdateRole(ctx context.Context, orgID, roleID int64, name string, permissions perm.Bits, position int) (Role, error)
	DeleteRole(ctx context.Context, orgID, roleID int64) error
	AssignRole(ctx context.Context, orgID, membershipID, roleID int64) (Assignment, error)
	UnassignRole(ctx context.Context, orgID, membershipID, roleID int64) error
	ListAssignments(ctx context.Context, orgID, membershipID int64) ([]Role, error)
}

// Invalidator schedules permission-cache invalidation after mutations.
type Invalidator interface {
	InvalidateRole(ctx context.Context, roleID int64) error
	InvalidateMembership(ctx context.Context, membershipID int64) error
}

// Service handles role business logic.
type Service struct {
	repo        RepositoryPort
	audit       *shared.AuditLogger
	invalidator Invalidator
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, audit *shared.AuditLogger, invalidator Invalidator) *Service {
	return &Service{repo: repo, audit: audit, invalidator: invalidator}
}

func (s *Service) ListRoles(ctx context.Context, orgID int64) ([]Role, error) {
	return s.repo.ListRoles(ctx, orgID)
}

func (s *Service) GetRole(ctx context.Context, orgID, roleID int64) (Role, error) {
	return s.repo.GetRole(ctx, orgID, roleID)
}

// CreateRole adds a custom role. Permission masks are confined to the
// organization scope so a role can never mint personal, feature or system
// bits.
func (s *Service) CreateRole(ctx context.Context, actorID, orgID int64, name string, permissions perm.Bits, position int) (Role, error) {
	if permissions&^perm.OrgRoleMask != 0 {
		return Role{}, ErrNonOrgBits
	}
	role, err := s.repo.CreateRole(ctx, orgID, name, permissions, position)
	if err != nil {
		return Role{}, err
	}
	s.record(ctx, actorID, "role.created", role.ID, map[string]any{"org_id": orgID, "name": name})
	return role, nil
}

// UpdateRole edits a custom role. Changing the mask widens or narrows every
// holder's grant, so all memberships carrying the role are marked stale.
func (s *Service) UpdateRole(ctx context.Context, actorID, orgID, roleID int64, name string, permissions perm.Bits, position int) (Role, error) {
	existing, err := s.repo.GetRole(ctx, orgID, roleID)
	if err != nil {
		return Role{}, err
	}
	if existing.IsSystem {
		return Role{}, ErrSystemRole
	}
	if permissions&^perm.OrgRoleMask != 0 {
		return Role{}, ErrNonOrgBits
	}
	role, err := s.repo.UpdateRole(ctx, orgID, roleID, name, permissions, position)
	if err != nil {
		return Role{}, err
	}
	if err := s.invalidator.InvalidateRole(ctx, roleID); err != nil {
		return Role{}, fmt.Errorf("invalidate role %d: %w", roleID, err)
	}
	s.record(ctx, actorID, "role.updated", roleID, map[string]any{"org_id": orgID, "name": name})
	return role, nil
}

// DeleteRole removes a custom role and its assignments. Holders are staled
// before the delete since the assignment rows vanish with the role.
func (s *Service) DeleteRole(ctx context.Context, actorID, orgID, roleID int64) error {
	existing, err := s.repo.GetRole(ctx, orgID, roleID)
	if err != nil {
		return err
	}
	if existing.IsSystem {
		return ErrSystemRole
	}
	if err := s.invalidator.InvalidateRole(ctx, roleID); err != nil {
		return fmt.Errorf("invalidate role %d: %w", roleID, err)
	}
	if err := s.repo.DeleteRole(ctx, orgID, roleID); err != nil {
		return err
	}
	s.record(ctx, actorID, "role.deleted", roleID, map[string]any{"org_id": orgID, "name": existing.Name})
	return nil
}

func (s *Service) AssignRole(ctx context.Context, actorID, orgID, membershipID, roleID int64) (Assignment, error) {
	a, err := s.repo.AssignRole(ctx, orgID, membershipID, roleID)
	if err != nil {
		return Assignment{}, err
	}
	if err := s.invalidator.InvalidateMembership(ctx, membershipID); err != nil {
		return Assignment{}, fmt.Errorf("invalidate membership %d: %w", membershipID, err)
	}
	s.record(ctx, actorID, "role.assigned", roleID, map[string]any{"org_id": orgID, "membership_id": membershipID})
	return a, nil
}

func (s *Service) UnassignRole(ctx context.Context, actorID, orgID, membershipID, roleID int64) error {
	if err := s.repo.UnassignRole(ctx, orgID, membershipID, roleID); err != nil {
		return err
	}
	if err := s.invalidator.InvalidateMembership(ctx, membershipID); err != nil {
		return fmt.Errorf("invalidate membership %d: %w", membershipID, err)
	}
	s.record(ctx, actorID, "role.unassigned", roleID, map[string]any{"org_id": orgID, "membership_id": membershipID})
	return nil
}

func (s *Service) ListAssignments(ctx context.Context, orgID, membershipID int64) ([]Role, error) {
	return s.repo.ListAssignments(ctx, orgID, membershipID)
}

func (s *Service) record(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "role",
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
	})
}
