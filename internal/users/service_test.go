package users

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/atrium-hq/atrium/internal/shared"
)

type memoryUserRepo struct {
	users map[int64]*User
}

func newMemoryUserRepo() *memoryUserRepo {
	return &memoryUserRepo{users: make(map[int64]*User)}
}

func (r *memoryUserRepo) ListUsers(ctx context.Context, limit, offset int) ([]User, int, error) {
	var out []User
	for _, u := range r.users {
		out = append(out, *u)
	}
	total := len(out)
	if offset >= len(out) {
		return nil, total, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

func (r *memoryUserRepo) GetUser(ctx context.Context, id int64) (*User, error) {
	u, ok := r.users[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return u, nil
}

func (r *memoryUserRepo) SetTier(ctx context.Context, userID int64, tierID *int64) error {
	u, ok := r.users[userID]
	if !ok {
		return shared.ErrNotFound
	}
	u.TierID = tierID
	return nil
}

func (r *memoryUserRepo) SetActive(ctx context.Context, userID int64, active bool) error {
	u, ok := r.users[userID]
	if !ok {
		return shared.ErrNotFound
	}
	u.IsActive = active
	return nil
}

type recordingInvalidator struct {
	users []int64
}

func (f *recordingInvalidator) InvalidateUser(ctx context.Context, userID int64) error {
	f.users = append(f.users, userID)
	return nil
}

func TestAssignTierInvalidatesUser(t *testing.T) {
	repo := newMemoryUserRepo()
	repo.users[7] = &User{ID: 7, Email: "seven@example.com", IsActive: true}
	inv := &recordingInvalidator{}
	svc := NewService(repo, nil, inv)

	tier := int64(2)
	require.NoError(t, svc.AssignTier(context.Background(), 1, 7, &tier))
	require.Equal(t, []int64{7}, inv.users)
	require.Equal(t, &tier, repo.users[7].TierID)

	// Clearing the tier also invalidates.
	require.NoError(t, svc.AssignTier(context.Background(), 1, 7, nil))
	require.Equal(t, []int64{7, 7}, inv.users)
	require.Nil(t, repo.users[7].TierID)
}

func TestAssignTierUnknownUser(t *testing.T) {
	svc := NewService(newMemoryUserRepo(), nil, &recordingInvalidator{})
	tier := int64(2)
	require.ErrorIs(t, svc.AssignTier(context.Background(), 1, 404, &tier), shared.ErrNotFound)
}

func TestListUsersPagination(t *testing.T) {
	repo := newMemoryUserRepo()
	for i := int64(1); i <= 25; i++ {
		repo.users[i] = &User{ID: i}
	}
	svc := NewService(repo, nil, &recordingInvalidator{})

	users, page, err := svc.ListUsers(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Len(t, users, 10)
	require.Equal(t, 25, page.Total)
	require.Equal(t, 3, page.TotalPages)

	// Out-of-range inputs fall back to defaults.
	users, page, err = svc.ListUsers(context.Background(), 0, 1000)
	require.NoError(t, err)
	require.Len(t, users, 20)
	require.Equal(t, 1, page.Page)
}

func TestSetActive(t *testing.T) {
	repo := newMemoryUserRepo()
	repo.users[7] = &User{ID: 7, IsActive: true}
	svc := NewService(repo, nil, &recordingInvalidator{})

	require.NoError(t, svc.SetActive(context.Background(), 1, 7, false))
	require.False(t, repo.users[7].IsActive)
}
