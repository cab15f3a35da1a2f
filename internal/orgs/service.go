package orgs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/atrium-hq/atrium/internal/perm"
	"github.com/atrium-hq/atrium/internal/shared"
)

// Service errors surfaced to handlers.
var (
	ErrOrgLimitReached    = errors.New("orgs: organization limit reached for tier")
	ErrMemberLimitReached = errors.New("orgs: member limit reached for tier")
	ErrNotAMember         = errors.New("orgs: user is not an active member")
	ErrOwnerImmutable     = errors.New("orgs: owner membership cannot be changed")
	ErrUnknownPermission  = errors.New("orgs: unknown permission code")
	ErrSystemOverride     = errors.New("orgs: system permissions cannot be overridden")
)

// RepositoryPort defines data access methods for organizations.
type RepositoryPort interface {
	CreateOrganization(ctx context.Context, name string, ownerID int64, seeds []RoleSeed) (Organization, error)
	GetOrganization(ctx context.Context, id int64) (*Organization, error)
	ListForUser(ctx context.Context, userID int64) ([]Organization, error)
	CountOwned(ctx context.Context, ownerID int64) (int, error)
	CountMembers(ctx context.Context, orgID int64) (int, error)
	OwnerLimits(ctx context.Context, userID int64) (maxOrgs, maxMembers int, err error)
	CreateMembership(ctx context.Context, orgID, userID int64) (Membership, error)
	GetMembership(ctx context.Context, orgID, membershipID int64) (*Membership, error)
	GetMembershipByUser(ctx context.Context, orgID, userID int64) (*Membership, error)
	ListMembers(ctx context.Context, orgID int64) ([]Membership, error)
	UpdateMembershipStatus(ctx context.Context, membershipID int64, status string) error
	TransferOwnership(ctx context.Context, orgID, newOwnerID int64) error
	AddOverride(ctx context.Context, membershipID int64, code string, allow bool, expiresAt *time.Time) (Override, error)
	ListOverrides(ctx context.Context, membershipID int64) ([]Override, error)
	DeleteOverride(ctx context.Context, overrideID int64) (int64, error)
	PurgeExpiredOverrides(ctx context.Context, now time.Time) ([]int64, error)
}

// Invalidator schedules permission-cache invalidation after mutations.
type Invalidator interface {
	InvalidateMembership(ctx context.Context, membershipID int64) error
	InvalidateOrg(ctx context.Context, orgID int64) error
}

// Service handles organization business logic.
type Service struct {
	repo        RepositoryPort
	registry    *perm.Registry
	audit       *shared.AuditLogger
	invalidator Invalidator
	seeds       []RoleSeed
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, registry *perm.Registry, audit *shared.AuditLogger, invalidator Invalidator) *Service {
	return &Service{
		repo:        repo,
		registry:    registry,
		audit:       audit,
		invalidator: invalidator,
		seeds:       systemRoleSeeds(registry),
	}
}

// systemRoleSeeds builds the four built-in roles from catalog codes. The
// masks are fixed at organization creation; admins may edit copies but the
// seeds themselves never change.
func systemRoleSeeds(reg *perm.Registry) []RoleSeed {
	return []RoleSeed{
		{Name: "Owner", Position: 0, Permissions: perm.OwnerFullOrgMask},
		{Name: "Admin", Position: 1, Permissions: bitsFor(reg,
			"org.view", "org.edit", "members.view", "members.invite", "members.remove",
			"members.suspend", "members.overrides", "roles.view", "roles.edit",
			"projects.view", "projects.edit", "projects.delete")},
		{Name: "Moderator", Position: 2, Permissions: bitsFor(reg,
			"org.view", "members.view", "members.invite", "members.suspend",
			"projects.view", "projects.edit")},
		{Name: "Member", Position: 3, Permissions: bitsFor(reg,
			"org.view", "members.view", "projects.view")},
	}
}

func bitsFor(reg *perm.Registry, codes ...string) perm.Bits {
	var mask perm.Bits
	for _, code := range codes {
		if bit, ok := reg.Bit(code); ok {
			mask = mask.Set(bit)
		}
	}
	return mask
}

// CreateOrganization creates a tenant for the owner, enforcing the owner's
// tier organization limit.
func (s *Service) CreateOrganization(ctx context.Context, ownerID int64, name string) (Organization, error) {
	maxOrgs, _, err := s.repo.OwnerLimits(ctx, ownerID)
	if err != nil {
		return Organization{}, err
	}
	owned, err := s.repo.CountOwned(ctx, ownerID)
	if err != nil {
		return Organization{}, err
	}
	if owned >= maxOrgs {
		return Organization{}, ErrOrgLimitReached
	}
	org, err := s.repo.CreateOrganization(ctx, name, ownerID, s.seeds)
	if err != nil {
		return Organization{}, err
	}
	s.record(ctx, ownerID, "org.created", org.ID, nil)
	return org, nil
}

// GetOrganization fetches a single organization.
func (s *Service) GetOrganization(ctx context.Context, id int64) (*Organization, error) {
	return s.repo.GetOrganization(ctx, id)
}

// ListMine returns the caller's organizations.
func (s *Service) ListMine(ctx context.Context, userID int64) ([]Organization, error) {
	return s.repo.ListForUser(ctx, userID)
}

// ListMembers returns the organization's memberships.
func (s *Service) ListMembers(ctx context.Context, orgID int64) ([]Membership, error) {
	return s.repo.ListMembers(ctx, orgID)
}

// InviteMember creates an invited membership, enforcing the owner tier's
// member limit.
func (s *Service) InviteMember(ctx context.Context, actorID, orgID, userID int64) (Membership, error) {
	org, err := s.repo.GetOrganization(ctx, orgID)
	if err != nil {
		return Membership{}, err
	}
	_, maxMembers, err := s.repo.OwnerLimits(ctx, org.OwnerID)
	if err != nil {
		return Membership{}, err
	}
	current, err := s.repo.CountMembers(ctx, orgID)
	if err != nil {
		return Membership{}, err
	}
	if current >= maxMembers {
		return Membership{}, ErrMemberLimitReached
	}
	m, err := s.repo.CreateMembership(ctx, orgID, userID)
	if err != nil {
		return Membership{}, err
	}
	s.record(ctx, actorID, "member.invited", orgID, map[string]any{"user_id": userID})
	return m, nil
}

// AcceptInvite activates the caller's invited membership.
func (s *Service) AcceptInvite(ctx context.Context, userID, orgID int64) error {
	m, err := s.repo.GetMembershipByUser(ctx, orgID, userID)
	if err != nil {
		return err
	}
	if m.Status != StatusInvited {
		return shared.ErrNotFound
	}
	if err := s.repo.UpdateMembershipStatus(ctx, m.ID, StatusActive); err != nil {
		return err
	}
	return s.invalidateMembership(ctx, m.ID)
}

// SetMemberStatus suspends, reactivates, or removes a membership. The
// owner's membership is immutable: ownership moves via TransferOwnership.
func (s *Service) SetMemberStatus(ctx context.Context, actorID, orgID, membershipID int64, status string) error {
	if status != StatusActive && status != StatusSuspended && status != StatusLeft {
		return fmt.Errorf("orgs: invalid status %q", status)
	}
	org, err := s.repo.GetOrganization(ctx, orgID)
	if err != nil {
		return err
	}
	m, err := s.repo.GetMembership(ctx, orgID, membershipID)
	if err != nil {
		return err
	}
	if m.UserID == org.OwnerID {
		return ErrOwnerImmutable
	}
	if err := s.repo.UpdateMembershipStatus(ctx, membershipID, status); err != nil {
		return err
	}
	s.record(ctx, actorID, "member.status_changed", orgID, map[string]any{
		"membership_id": membershipID, "status": status,
	})
	return s.invalidateMembership(ctx, membershipID)
}

// TransferOwnership hands the organization to an active member. Every
// membership's cache is invalidated: the ceiling now derives from the new
// owner's tier.
func (s *Service) TransferOwnership(ctx context.Context, actorID, orgID, newOwnerID int64) error {
	m, err := s.repo.GetMembershipByUser(ctx, orgID, newOwnerID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return ErrNotAMember
		}
		return err
	}
	if m.Status != StatusActive {
		return ErrNotAMember
	}
	if err := s.repo.TransferOwnership(ctx, orgID, newOwnerID); err != nil {
		return err
	}
	s.record(ctx, actorID, "org.ownership_transferred", orgID, map[string]any{"new_owner_id": newOwnerID})
	if s.invalidator != nil {
		return s.invalidator.InvalidateOrg(ctx, orgID)
	}
	return nil
}

// AddOverride attaches a time-limited allow/deny to a membership. System
// permissions cannot be overridden for anyone: the staff bypass is the only
// path to them.
func (s *Service) AddOverride(ctx context.Context, actorID, orgID, membershipID int64, code string, allow bool, expiresAt *time.Time) (Override, error) {
	def, ok := s.registry.Definition(code)
	if !ok {
		return Override{}, ErrUnknownPermission
	}
	if def.Bit >= perm.SystemScopeStart {
		return Override{}, ErrSystemOverride
	}
	if _, err := s.repo.GetMembership(ctx, orgID, membershipID); err != nil {
		return Override{}, err
	}
	ov, err := s.repo.AddOverride(ctx, membershipID, code, allow, expiresAt)
	if err != nil {
		return Override{}, err
	}
	s.record(ctx, actorID, "override.added", orgID, map[string]any{
		"membership_id": membershipID, "code": code, "allow": allow,
	})
	return ov, s.invalidateMembership(ctx, membershipID)
}

// ListOverrides returns a membership's overrides.
func (s *Service) ListOverrides(ctx context.Context, orgID, membershipID int64) ([]Override, error) {
	if _, err := s.repo.GetMembership(ctx, orgID, membershipID); err != nil {
		return nil, err
	}
	return s.repo.ListOverrides(ctx, membershipID)
}

// RemoveOverride deletes an override and invalidates its membership.
func (s *Service) RemoveOverride(ctx context.Context, actorID, orgID, overrideID int64) error {
	membershipID, err := s.repo.DeleteOverride(ctx, overrideID)
	if err != nil {
		return err
	}
	s.record(ctx, actorID, "override.removed", orgID, map[string]any{"override_id": overrideID})
	return s.invalidateMembership(ctx, membershipID)
}

// SweepExpiredOverrides purges expired override rows and invalidates the
// memberships that carried them. Safe to run repeatedly; a second run is a
// no-op. Returns the number of memberships touched.
func (s *Service) SweepExpiredOverrides(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.repo.PurgeExpiredOverrides(ctx, now)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err := s.invalidateMembership(ctx, id); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

func (s *Service) invalidateMembership(ctx context.Context, membershipID int64) error {
	if s.invalidator == nil {
		return nil
	}
	return s.invalidator.InvalidateMembership(ctx, membershipID)
}

func (s *Service) record(ctx context.Context, actorID int64, action string, orgID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "organization",
		EntityID: fmt.Sprintf("%d", orgID),
		Meta:     meta,
	})
}
