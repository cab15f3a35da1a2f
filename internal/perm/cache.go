package perm

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Cache manages the denormalized computed-permission fields on membership
// rows. The contract is push-invalidate / pull-recompute: mutations clear
// permissions_computed_at on affected memberships and nothing recomputes
// eagerly. Every invalidation is idempotent (clearing a cleared field is a
// no-op), so partial failure plus retry-to-completion is safe without
// coordination.
type Cache struct {
	pool *pgxpool.Pool
}

// NewCache constructs the cache over the memberships table.
func NewCache(pool *pgxpool.Pool) *Cache {
	return &Cache{pool: pool}
}

// Store persists a resolution against its membership. Callers that tolerate
// staleness read computed_permissions directly; callers that need freshness
// re-resolve and Store the result.
func (c *Cache) Store(ctx context.Context, res Resolution) error {
	if res.MembershipID == 0 {
		return nil
	}
	_, err := c.pool.Exec(ctx, `
		UPDATE memberships
		SET computed_permissions = $2, permissions_computed_at = $3
		WHERE id = $1`,
		res.MembershipID, res.Mask.Int64(), res.ComputedAt)
	return err
}

// Cached reads the stored mask for a membership. ok is false when the cache
// has been invalidated (or never populated).
func (c *Cache) Cached(ctx context.Context, membershipID int64) (Bits, bool, error) {
	var raw *int64
	err := c.pool.QueryRow(ctx, `
		SELECT CASE WHEN permissions_computed_at IS NULL THEN NULL ELSE computed_permissions END
		FROM memberships WHERE id = $1`, membershipID).Scan(&raw)
	if err != nil || raw == nil {
		return 0, false, err
	}
	return FromInt64(*raw), true, nil
}

// InvalidateMembership clears one membership's cache. Returns the number of
// rows touched (0 or 1).
func (c *Cache) InvalidateMembership(ctx context.Context, membershipID int64) (int64, error) {
	return c.clear(ctx, `id = $1`, membershipID)
}

// InvalidateRole clears every membership holding an assignment of the role.
// This is the documented fan-out for role edits and deletions; the count is
// surfaced so callers can log the blast radius.
func (c *Cache) InvalidateRole(ctx context.Context, roleID int64) (int64, error) {
	return c.clear(ctx, `id IN (SELECT membership_id FROM role_assignments WHERE role_id = $1)`, roleID)
}

// InvalidateOrg clears every membership of an organization. Used for
// ownership transfers, where the ceiling source changes for everyone.
func (c *Cache) InvalidateOrg(ctx context.Context, orgID int64) (int64, error) {
	return c.clear(ctx, `org_id = $1`, orgID)
}

// InvalidateUser clears the user's own memberships plus every membership of
// organizations the user owns: a tier change moves both the user's base
// grant and the ceiling of their organizations.
func (c *Cache) InvalidateUser(ctx context.Context, userID int64) (int64, error) {
	return c.clear(ctx, `
		user_id = $1
		OR org_id IN (SELECT id FROM organizations WHERE owner_id = $1)`, userID)
}

func (c *Cache) clear(ctx context.Context, where string, arg any) (int64, error) {
	tag, err := c.pool.Exec(ctx, `
		UPDATE memberships
		SET permissions_computed_at = NULL
		WHERE (`+where+`) AND permissions_computed_at IS NOT NULL`, arg)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
