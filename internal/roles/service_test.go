package roles

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/atrium-hq/atrium/internal/perm"
	"github.com/atrium-hq/atrium/internal/shared"
)

type memoryRoleRepo struct {
	roles       map[int64]*Role
	assignments map[int64]*Assignment

	nextRoleID       int64
	nextAssignmentID int64
}

func newMemoryRoleRepo() *memoryRoleRepo {
	return &memoryRoleRepo{
		roles:       make(map[int64]*Role),
		assignments: make(map[int64]*Assignment),
	}
}

func (r *memoryRoleRepo) seedSystemRole(orgID int64, name string, mask perm.Bits) *Role {
	r.nextRoleID++
	role := &Role{ID: r.nextRoleID, OrgID: orgID, Name: name, Permissions: mask, IsSystem: true}
	r.roles[role.ID] = role
	return role
}

func (r *memoryRoleRepo) ListRoles(ctx context.Context, orgID int64) ([]Role, error) {
	var out []Role
	for _, role := range r.roles {
		if role.OrgID == orgID {
			out = append(out, *role)
		}
	}
	return out, nil
}

func (r *memoryRoleRepo) GetRole(ctx context.Context, orgID, roleID int64) (Role, error) {
	role, ok := r.roles[roleID]
	if !ok || role.OrgID != orgID {
		return Role{}, shared.ErrNotFound
	}
	return *role, nil
}

func (r *memoryRoleRepo) CreateRole(ctx context.Context, orgID int64, name string, permissions perm.Bits, position int) (Role, error) {
	r.nextRoleID++
	role := &Role{ID: r.nextRoleID, OrgID: orgID, Name: name, Permissions: permissions, Position: position, CreatedAt: time.Now()}
	r.roles[role.ID] = role
	return *role, nil
}

func (r *memoryRoleRepo) UpdateRole(ctx context.Context, orgID, roleID int64, name string, permissions perm.Bits, position int) (Role, error) {
	role, ok := r.roles[roleID]
	if !ok || role.OrgID != orgID {
		return Role{}, shared.ErrNotFound
	}
	role.Name = name
	role.Permissions = permissions
	role.Position = position
	return *role, nil
}

func (r *memoryRoleRepo) DeleteRole(ctx context.Context, orgID, roleID int64) error {
	role, ok := r.roles[roleID]
	if !ok || role.OrgID != orgID || role.IsSystem {
		return shared.ErrNotFound
	}
	delete(r.roles, roleID)
	return nil
}

func (r *memoryRoleRepo) AssignRole(ctx context.Context, orgID, membershipID, roleID int64) (Assignment, error) {
	if _, ok := r.roles[roleID]; !ok {
		return Assignment{}, shared.ErrNotFound
	}
	r.nextAssignmentID++
	a := &Assignment{ID: r.nextAssignmentID, MembershipID: membershipID, RoleID: roleID}
	r.assignments[a.ID] = a
	return *a, nil
}

func (r *memoryRoleRepo) UnassignRole(ctx context.Context, orgID, membershipID, roleID int64) error {
	for id, a := range r.assignments {
		if a.MembershipID == membershipID && a.RoleID == roleID {
			delete(r.assignments, id)
			return nil
		}
	}
	return shared.ErrNotFound
}

func (r *memoryRoleRepo) ListAssignments(ctx context.Context, orgID, membershipID int64) ([]Role, error) {
	var out []Role
	for _, a := range r.assignments {
		if a.MembershipID == membershipID {
			out = append(out, *r.roles[a.RoleID])
		}
	}
	return out, nil
}

type roleInvalidator struct {
	roles       []int64
	memberships []int64
}

func (f *roleInvalidator) InvalidateRole(ctx context.Context, roleID int64) error {
	f.roles = append(f.roles, roleID)
	return nil
}

func (f *roleInvalidator) InvalidateMembership(ctx context.Context, membershipID int64) error {
	f.memberships = append(f.memberships, membershipID)
	return nil
}

func newRoleService() (*Service, *memoryRoleRepo, *roleInvalidator) {
	repo := newMemoryRoleRepo()
	inv := &roleInvalidator{}
	return NewService(repo, nil, inv), repo, inv
}

func TestCreateRoleRejectsNonOrgBits(t *testing.T) {
	svc, _, _ := newRoleService()

	_, err := svc.CreateRole(context.Background(), 1, 1, "Support", perm.Bits(0).Set(5), 1)
	require.ErrorIs(t, err, ErrNonOrgBits)

	_, err = svc.CreateRole(context.Background(), 1, 1, "Support", perm.Bits(0).Set(50), 1)
	require.ErrorIs(t, err, ErrNonOrgBits)

	role, err := svc.CreateRole(context.Background(), 1, 1, "Support", perm.Bits(0).Set(24).Set(25), 1)
	require.NoError(t, err)
	require.True(t, role.Permissions.Has(24))
}

func TestUpdateRoleInvalidatesHolders(t *testing.T) {
	svc, _, inv := newRoleService()

	role, err := svc.CreateRole(context.Background(), 1, 1, "Support", perm.Bits(0).Set(24), 1)
	require.NoError(t, err)

	updated, err := svc.UpdateRole(context.Background(), 1, 1, role.ID, "Support", perm.Bits(0).Set(24).Set(25), 1)
	require.NoError(t, err)
	require.True(t, updated.Permissions.Has(25))
	require.Equal(t, []int64{role.ID}, inv.roles)
}

func TestUpdateRoleRejectsSystemRole(t *testing.T) {
	svc, repo, _ := newRoleService()
	owner := repo.seedSystemRole(1, "Owner", perm.OwnerFullOrgMask)

	_, err := svc.UpdateRole(context.Background(), 1, 1, owner.ID, "Renamed", perm.Bits(0).Set(20), 0)
	require.ErrorIs(t, err, ErrSystemRole)
}

func TestDeleteRole(t *testing.T) {
	svc, repo, inv := newRoleService()
	system := repo.seedSystemRole(1, "Member", perm.Bits(0).Set(20))

	require.ErrorIs(t, svc.DeleteRole(context.Background(), 1, 1, system.ID), ErrSystemRole)

	custom, err := svc.CreateRole(context.Background(), 1, 1, "Support", perm.Bits(0).Set(24), 1)
	require.NoError(t, err)
	require.NoError(t, svc.DeleteRole(context.Background(), 1, 1, custom.ID))
	require.Contains(t, inv.roles, custom.ID)
	require.NotContains(t, repo.roles, custom.ID)
}

func TestAssignAndUnassignRoleInvalidateMembership(t *testing.T) {
	svc, _, inv := newRoleService()

	role, err := svc.CreateRole(context.Background(), 1, 1, "Support", perm.Bits(0).Set(24), 1)
	require.NoError(t, err)

	_, err = svc.AssignRole(context.Background(), 1, 1, 42, role.ID)
	require.NoError(t, err)
	require.Equal(t, []int64{42}, inv.memberships)

	held, err := svc.ListAssignments(context.Background(), 1, 42)
	require.NoError(t, err)
	require.Len(t, held, 1)

	require.NoError(t, svc.UnassignRole(context.Background(), 1, 1, 42, role.ID))
	require.Equal(t, []int64{42, 42}, inv.memberships)
}
