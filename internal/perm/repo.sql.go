package perm

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGSources implements Sources against PostgreSQL. Masks are stored in
// BIGINT columns; the signed representation is reinterpreted on scan so bit
// 63 round-trips without corruption.
type PGSources struct {
	pool *pgxpool.Pool
}

// NewPGSources constructs the PostgreSQL grant sources.
func NewPGSources(pool *pgxpool.Pool) *PGSources {
	return &PGSources{pool: pool}
}

// BaseGrant returns the user's tier base mask. A user without a tier, or a
// missing user row, yields 0.
func (s *PGSources) BaseGrant(ctx context.Context, userID int64) (Bits, error) {
	const query = `
		SELECT COALESCE(t.base_permissions, 0)
		FROM users u
		LEFT JOIN tiers t ON t.id = u.tier_id
		WHERE u.id = $1`
	var raw int64
	if err := s.pool.QueryRow(ctx, query, userID).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return FromInt64(raw), nil
}

// OrgGrant returns the organization owner and the org-feature ceiling taken
// from the current owner's current tier. The ceiling is never cached here:
// ownership transfers and tier changes must take effect on the next
// resolution.
func (s *PGSources) OrgGrant(ctx context.Context, orgID int64) (OrgGrant, error) {
	const query = `
		SELECT o.owner_id, COALESCE(t.org_features, 0)
		FROM organizations o
		LEFT JOIN users u ON u.id = o.owner_id
		LEFT JOIN tiers t ON t.id = u.tier_id
		WHERE o.id = $1`
	var grant OrgGrant
	var raw int64
	if err := s.pool.QueryRow(ctx, query, orgID).Scan(&grant.OwnerID, &raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return OrgGrant{}, nil
		}
		return OrgGrant{}, err
	}
	grant.Ceiling = FromInt64(raw)
	grant.Found = true
	return grant, nil
}

// MemberGrant returns the membership row plus the union of its assigned role
// masks, or nil when no membership exists.
func (s *PGSources) MemberGrant(ctx context.Context, userID, orgID int64) (*MemberGrant, error) {
	const query = `
		SELECT m.id, m.status, COALESCE(bit_or(r.permissions), 0)
		FROM memberships m
		LEFT JOIN role_assignments ra ON ra.membership_id = m.id
		LEFT JOIN roles r ON r.id = ra.role_id
		WHERE m.user_id = $1 AND m.org_id = $2
		GROUP BY m.id, m.status`
	var (
		grant  MemberGrant
		status string
		raw    int64
	)
	if err := s.pool.QueryRow(ctx, query, userID, orgID).Scan(&grant.MembershipID, &status, &raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	grant.Active = status == "active"
	grant.RoleGrant = FromInt64(raw)
	return &grant, nil
}

// ActiveOverrides returns non-expired overrides for a membership. Expiry is
// evaluated in SQL so an expired row is indistinguishable from no row.
func (s *PGSources) ActiveOverrides(ctx context.Context, membershipID int64, now time.Time) ([]Override, error) {
	const query = `
		SELECT p.bit, o.allow
		FROM membership_overrides o
		JOIN permissions p ON p.id = o.permission_id
		WHERE o.membership_id = $1
		  AND (o.expires_at IS NULL OR o.expires_at > $2)
		ORDER BY o.id`
	rows, err := s.pool.Query(ctx, query, membershipID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var overrides []Override
	for rows.Next() {
		var ov Override
		if err := rows.Scan(&ov.Bit, &ov.Allow); err != nil {
			return nil, err
		}
		overrides = append(overrides, ov)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return overrides, nil
}

var _ Sources = (*PGSources)(nil)
