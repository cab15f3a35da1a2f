package tiers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/atrium-hq/atrium/internal/perm"
	"github.com/atrium-hq/atrium/internal/shared"
)

type memoryTierRepo struct {
	tiers   map[int64]*Tier
	holders map[int64][]int64
	nextID  int64
}

func newMemoryTierRepo() *memoryTierRepo {
	return &memoryTierRepo{
		tiers:   make(map[int64]*Tier),
		holders: make(map[int64][]int64),
	}
}

func (r *memoryTierRepo) ListTiers(ctx context.Context) ([]Tier, error) {
	var out []Tier
	for _, t := range r.tiers {
		out = append(out, *t)
	}
	return out, nil
}

func (r *memoryTierRepo) GetTier(ctx context.Context, id int64) (*Tier, error) {
	t, ok := r.tiers[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return t, nil
}

func (r *memoryTierRepo) CreateTier(ctx context.Context, tier Tier) (Tier, error) {
	r.nextID++
	tier.ID = r.nextID
	r.tiers[tier.ID] = &tier
	return tier, nil
}

func (r *memoryTierRepo) UpdateTier(ctx context.Context, tier Tier) (Tier, error) {
	if _, ok := r.tiers[tier.ID]; !ok {
		return Tier{}, shared.ErrNotFound
	}
	r.tiers[tier.ID] = &tier
	return tier, nil
}

func (r *memoryTierRepo) TierHolders(ctx context.Context, tierID int64) ([]int64, error) {
	return r.holders[tierID], nil
}

type userInvalidator struct {
	users []int64
}

func (f *userInvalidator) InvalidateUser(ctx context.Context, userID int64) error {
	f.users = append(f.users, userID)
	return nil
}

func TestCreateTierRejectsSystemBitsForNonStaff(t *testing.T) {
	svc := NewService(newMemoryTierRepo(), nil, &userInvalidator{})

	_, err := svc.CreateTier(context.Background(), 1, Tier{
		Name:            "rogue",
		BasePermissions: perm.Bits(0).Set(50),
	})
	require.Error(t, err)

	created, err := svc.CreateTier(context.Background(), 1, Tier{
		Name:            "staff",
		BasePermissions: perm.Bits(0).Set(50),
		IsStaff:         true,
	})
	require.NoError(t, err)
	require.True(t, created.IsStaff)
}

func TestUpdateTierPinsStaffFlag(t *testing.T) {
	repo := newMemoryTierRepo()
	svc := NewService(repo, nil, &userInvalidator{})

	created, err := svc.CreateTier(context.Background(), 1, Tier{
		Name:            "free",
		BasePermissions: perm.Bits(3),
	})
	require.NoError(t, err)

	// An update cannot smuggle in the staff flag and system bits: IsStaff
	// is pinned from the stored row, so the system bit fails validation.
	sneaky := Tier{ID: created.ID, Name: "free", BasePermissions: perm.Bits(0).Set(63), IsStaff: true}
	_, err = svc.UpdateTier(context.Background(), 1, sneaky)
	require.Error(t, err)
	require.False(t, repo.tiers[created.ID].IsStaff)
}

func TestUpdateTierInvalidatesEveryHolder(t *testing.T) {
	repo := newMemoryTierRepo()
	inv := &userInvalidator{}
	svc := NewService(repo, nil, inv)

	created, err := svc.CreateTier(context.Background(), 1, Tier{
		Name:            "pro",
		BasePermissions: perm.Bits(3),
	})
	require.NoError(t, err)
	repo.holders[created.ID] = []int64{10, 11, 12}

	created.MaxOrganizations = 5
	_, err = svc.UpdateTier(context.Background(), 1, created)
	require.NoError(t, err)
	require.Equal(t, []int64{10, 11, 12}, inv.users)
}
