package orgs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/atrium-hq/atrium/internal/perm"
	"github.com/atrium-hq/atrium/internal/shared"
)

type memoryOrgRepo struct {
	orgs        map[int64]*Organization
	memberships map[int64]*Membership
	overrides   map[int64]*Override

	maxOrgs    int
	maxMembers int

	nextOrgID        int64
	nextMembershipID int64
	nextOverrideID   int64

	seededRoles []RoleSeed
}

func newMemoryOrgRepo() *memoryOrgRepo {
	return &memoryOrgRepo{
		orgs:        make(map[int64]*Organization),
		memberships: make(map[int64]*Membership),
		overrides:   make(map[int64]*Override),
		maxOrgs:     1,
		maxMembers:  3,
	}
}

func (r *memoryOrgRepo) CreateOrganization(ctx context.Context, name string, ownerID int64, seeds []RoleSeed) (Organization, error) {
	r.nextOrgID++
	org := Organization{ID: r.nextOrgID, Name: name, OwnerID: ownerID, CreatedAt: time.Now()}
	r.orgs[org.ID] = &org
	r.seededRoles = seeds
	r.nextMembershipID++
	r.memberships[r.nextMembershipID] = &Membership{
		ID: r.nextMembershipID, OrgID: org.ID, UserID: ownerID, Status: StatusActive,
	}
	return org, nil
}

func (r *memoryOrgRepo) GetOrganization(ctx context.Context, id int64) (*Organization, error) {
	org, ok := r.orgs[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return org, nil
}

func (r *memoryOrgRepo) ListForUser(ctx context.Context, userID int64) ([]Organization, error) {
	var out []Organization
	for _, m := range r.memberships {
		if m.UserID == userID && m.Status != StatusLeft {
			out = append(out, *r.orgs[m.OrgID])
		}
	}
	return out, nil
}

func (r *memoryOrgRepo) CountOwned(ctx context.Context, ownerID int64) (int, error) {
	n := 0
	for _, org := range r.orgs {
		if org.OwnerID == ownerID {
			n++
		}
	}
	return n, nil
}

func (r *memoryOrgRepo) CountMembers(ctx context.Context, orgID int64) (int, error) {
	n := 0
	for _, m := range r.memberships {
		if m.OrgID == orgID && m.Status != StatusLeft {
			n++
		}
	}
	return n, nil
}

func (r *memoryOrgRepo) OwnerLimits(ctx context.Context, userID int64) (int, int, error) {
	return r.maxOrgs, r.maxMembers, nil
}

func (r *memoryOrgRepo) CreateMembership(ctx context.Context, orgID, userID int64) (Membership, error) {
	r.nextMembershipID++
	m := Membership{ID: r.nextMembershipID, OrgID: orgID, UserID: userID, Status: StatusInvited}
	r.memberships[m.ID] = &m
	return m, nil
}

func (r *memoryOrgRepo) GetMembership(ctx context.Context, orgID, membershipID int64) (*Membership, error) {
	m, ok := r.memberships[membershipID]
	if !ok || m.OrgID != orgID {
		return nil, shared.ErrNotFound
	}
	return m, nil
}

func (r *memoryOrgRepo) GetMembershipByUser(ctx context.Context, orgID, userID int64) (*Membership, error) {
	for _, m := range r.memberships {
		if m.OrgID == orgID && m.UserID == userID {
			return m, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *memoryOrgRepo) ListMembers(ctx context.Context, orgID int64) ([]Membership, error) {
	var out []Membership
	for _, m := range r.memberships {
		if m.OrgID == orgID {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (r *memoryOrgRepo) UpdateMembershipStatus(ctx context.Context, membershipID int64, status string) error {
	m, ok := r.memberships[membershipID]
	if !ok {
		return shared.ErrNotFound
	}
	m.Status = status
	return nil
}

func (r *memoryOrgRepo) TransferOwnership(ctx context.Context, orgID, newOwnerID int64) error {
	org, ok := r.orgs[orgID]
	if !ok {
		return shared.ErrNotFound
	}
	org.OwnerID = newOwnerID
	return nil
}

func (r *memoryOrgRepo) AddOverride(ctx context.Context, membershipID int64, code string, allow bool, expiresAt *time.Time) (Override, error) {
	r.nextOverrideID++
	ov := Override{ID: r.nextOverrideID, MembershipID: membershipID, Code: code, Allow: allow, ExpiresAt: expiresAt}
	r.overrides[ov.ID] = &ov
	return ov, nil
}

func (r *memoryOrgRepo) ListOverrides(ctx context.Context, membershipID int64) ([]Override, error) {
	var out []Override
	for _, ov := range r.overrides {
		if ov.MembershipID == membershipID {
			out = append(out, *ov)
		}
	}
	return out, nil
}

func (r *memoryOrgRepo) DeleteOverride(ctx context.Context, overrideID int64) (int64, error) {
	ov, ok := r.overrides[overrideID]
	if !ok {
		return 0, shared.ErrNotFound
	}
	delete(r.overrides, overrideID)
	return ov.MembershipID, nil
}

func (r *memoryOrgRepo) PurgeExpiredOverrides(ctx context.Context, now time.Time) ([]int64, error) {
	var ids []int64
	for id, ov := range r.overrides {
		if ov.ExpiresAt != nil && !ov.ExpiresAt.After(now) {
			ids = append(ids, ov.MembershipID)
			delete(r.overrides, id)
		}
	}
	return ids, nil
}

type fakeInvalidator struct {
	memberships []int64
	orgs        []int64
}

func (f *fakeInvalidator) InvalidateMembership(ctx context.Context, membershipID int64) error {
	f.memberships = append(f.memberships, membershipID)
	return nil
}

func (f *fakeInvalidator) InvalidateOrg(ctx context.Context, orgID int64) error {
	f.orgs = append(f.orgs, orgID)
	return nil
}

func newOrgService(t *testing.T) (*Service, *memoryOrgRepo, *fakeInvalidator) {
	t.Helper()
	reg, err := perm.NewRegistry(perm.DefaultCatalog())
	require.NoError(t, err)
	repo := newMemoryOrgRepo()
	inv := &fakeInvalidator{}
	return NewService(repo, reg, nil, inv), repo, inv
}

func TestCreateOrganizationSeedsSystemRoles(t *testing.T) {
	svc, repo, _ := newOrgService(t)

	org, err := svc.CreateOrganization(context.Background(), 1, "Acme")
	require.NoError(t, err)
	require.Equal(t, int64(1), org.OwnerID)

	require.Len(t, repo.seededRoles, 4)
	require.Equal(t, "Owner", repo.seededRoles[0].Name)
	require.Equal(t, perm.OwnerFullOrgMask, repo.seededRoles[0].Permissions)
	for _, seed := range repo.seededRoles {
		require.Zero(t, seed.Permissions&^perm.OrgRoleMask, "seed %s must stay in org scope", seed.Name)
	}
}

func TestCreateOrganizationEnforcesTierLimit(t *testing.T) {
	svc, repo, _ := newOrgService(t)
	repo.maxOrgs = 1

	_, err := svc.CreateOrganization(context.Background(), 1, "First")
	require.NoError(t, err)

	_, err = svc.CreateOrganization(context.Background(), 1, "Second")
	require.ErrorIs(t, err, ErrOrgLimitReached)
}

func TestInviteMemberEnforcesMemberLimit(t *testing.T) {
	svc, repo, _ := newOrgService(t)
	repo.maxMembers = 2

	org, err := svc.CreateOrganization(context.Background(), 1, "Acme")
	require.NoError(t, err)

	_, err = svc.InviteMember(context.Background(), 1, org.ID, 2)
	require.NoError(t, err)

	_, err = svc.InviteMember(context.Background(), 1, org.ID, 3)
	require.ErrorIs(t, err, ErrMemberLimitReached)
}

func TestAcceptInviteActivatesAndInvalidates(t *testing.T) {
	svc, _, inv := newOrgService(t)

	org, err := svc.CreateOrganization(context.Background(), 1, "Acme")
	require.NoError(t, err)
	m, err := svc.InviteMember(context.Background(), 1, org.ID, 2)
	require.NoError(t, err)

	require.NoError(t, svc.AcceptInvite(context.Background(), 2, org.ID))
	require.Contains(t, inv.memberships, m.ID)

	// A second accept finds no invited membership.
	require.ErrorIs(t, svc.AcceptInvite(context.Background(), 2, org.ID), shared.ErrNotFound)
}

func TestSetMemberStatusProtectsOwner(t *testing.T) {
	svc, repo, _ := newOrgService(t)

	org, err := svc.CreateOrganization(context.Background(), 1, "Acme")
	require.NoError(t, err)
	owner, err := repo.GetMembershipByUser(context.Background(), org.ID, 1)
	require.NoError(t, err)

	err = svc.SetMemberStatus(context.Background(), 1, org.ID, owner.ID, StatusSuspended)
	require.ErrorIs(t, err, ErrOwnerImmutable)
}

func TestSetMemberStatusRejectsUnknownStatus(t *testing.T) {
	svc, _, _ := newOrgService(t)

	org, err := svc.CreateOrganization(context.Background(), 1, "Acme")
	require.NoError(t, err)
	m, err := svc.InviteMember(context.Background(), 1, org.ID, 2)
	require.NoError(t, err)

	require.Error(t, svc.SetMemberStatus(context.Background(), 1, org.ID, m.ID, "banned"))
}

func TestSetMemberStatusInvalidates(t *testing.T) {
	svc, _, inv := newOrgService(t)

	org, err := svc.CreateOrganization(context.Background(), 1, "Acme")
	require.NoError(t, err)
	m, err := svc.InviteMember(context.Background(), 1, org.ID, 2)
	require.NoError(t, err)

	require.NoError(t, svc.SetMemberStatus(context.Background(), 1, org.ID, m.ID, StatusSuspended))
	require.Contains(t, inv.memberships, m.ID)
}

func TestTransferOwnershipRequiresActiveMember(t *testing.T) {
	svc, _, inv := newOrgService(t)

	org, err := svc.CreateOrganization(context.Background(), 1, "Acme")
	require.NoError(t, err)

	// User 2 is not a member at all.
	err = svc.TransferOwnership(context.Background(), 1, org.ID, 2)
	require.ErrorIs(t, err, ErrNotAMember)

	// Invited but not yet active.
	_, err = svc.InviteMember(context.Background(), 1, org.ID, 2)
	require.NoError(t, err)
	err = svc.TransferOwnership(context.Background(), 1, org.ID, 2)
	require.ErrorIs(t, err, ErrNotAMember)

	require.NoError(t, svc.AcceptInvite(context.Background(), 2, org.ID))
	require.NoError(t, svc.TransferOwnership(context.Background(), 1, org.ID, 2))
	require.Contains(t, inv.orgs, org.ID)
}

func TestAddOverrideValidation(t *testing.T) {
	svc, repo, inv := newOrgService(t)

	org, err := svc.CreateOrganization(context.Background(), 1, "Acme")
	require.NoError(t, err)
	m, err := svc.InviteMember(context.Background(), 1, org.ID, 2)
	require.NoError(t, err)

	_, err = svc.AddOverride(context.Background(), 1, org.ID, m.ID, "no.such.code", true, nil)
	require.ErrorIs(t, err, ErrUnknownPermission)

	_, err = svc.AddOverride(context.Background(), 1, org.ID, m.ID, "system.users", true, nil)
	require.ErrorIs(t, err, ErrSystemOverride)

	ov, err := svc.AddOverride(context.Background(), 1, org.ID, m.ID, "members.invite", true, nil)
	require.NoError(t, err)
	require.Contains(t, inv.memberships, m.ID)
	require.Len(t, repo.overrides, 1)

	require.NoError(t, svc.RemoveOverride(context.Background(), 1, org.ID, ov.ID))
	require.Empty(t, repo.overrides)
}

func TestSweepExpiredOverrides(t *testing.T) {
	svc, _, inv := newOrgService(t)

	org, err := svc.CreateOrganization(context.Background(), 1, "Acme")
	require.NoError(t, err)
	m, err := svc.InviteMember(context.Background(), 1, org.ID, 2)
	require.NoError(t, err)

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	_, err = svc.AddOverride(context.Background(), 1, org.ID, m.ID, "members.invite", true, &past)
	require.NoError(t, err)
	_, err = svc.AddOverride(context.Background(), 1, org.ID, m.ID, "members.view", true, &future)
	require.NoError(t, err)

	inv.memberships = nil
	purged, err := svc.SweepExpiredOverrides(context.Background(), time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, purged)
	require.Equal(t, []int64{m.ID}, inv.memberships)

	// Idempotent on re-run.
	purged, err = svc.SweepExpiredOverrides(context.Background(), time.Now())
	require.NoError(t, err)
	require.Zero(t, purged)
}
