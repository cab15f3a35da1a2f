package tiers

import (
	"context"
	"errors"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atrium-hq/atrium/internal/perm"
	"github.com/atrium-hq/atrium/internal/platform/httpx"
	"github.com/atrium-hq/atrium/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const tierColumns = `id, name, base_permissions, org_features, max_organizations, max_members, is_staff, created_at, updated_at`

func scanTier(row pgx.Row) (Tier, error) {
	var (
		tier     Tier
		base     int64
		features int64
	)
	err := row.Scan(&tier.ID, &tier.Name, &base, &features, &tier.MaxOrganizations, &tier.MaxMembers, &tier.IsStaff, &tier.CreatedAt, &tier.UpdatedAt)
	if err != nil {
		return Tier{}, err
	}
	tier.BasePermissions = perm.FromInt64(base)
	tier.OrgFeatures = perm.FromInt64(features)
	return tier, nil
}

// ListTiers returns all tiers ordered by id.
func (r *Repository) ListTiers(ctx context.Context) ([]Tier, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+tierColumns+` FROM tiers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tiers []Tier
	for rows.Next() {
		tier, err := scanTier(rows)
		if err != nil {
			return nil, err
		}
		tiers = append(tiers, tier)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tiers, nil
}

// GetTier fetches a tier by id.
func (r *Repository) GetTier(ctx context.Context, id int64) (*Tier, error) {
	tier, err := scanTier(r.pool.QueryRow(ctx, `SELECT `+tierColumns+` FROM tiers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &tier, nil
}

// CreateTier inserts a tier.
func (r *Repository) CreateTier(ctx context.Context, tier Tier) (Tier, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO tiers (name, base_permissions, org_features, max_organizations, max_members, is_staff)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+tierColumns,
		tier.Name, tier.BasePermissions.Int64(), tier.OrgFeatures.Int64(),
		tier.MaxOrganizations, tier.MaxMembers, tier.IsStaff)
	created, err := scanTier(row)
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.ConstraintName == "uq_tiers_name" {
			return Tier{}, httpx.ErrDuplicate
		}
		return Tier{}, err
	}
	return created, nil
}

// UpdateTier updates a tier's masks and limits.
func (r *Repository) UpdateTier(ctx context.Context, tier Tier) (Tier, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE tiers
		SET name = $2, base_permissions = $3, org_features = $4,
		    max_organizations = $5, max_members = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING `+tierColumns,
		tier.ID, tier.Name, tier.BasePermissions.Int64(), tier.OrgFeatures.Int64(),
		tier.MaxOrganizations, tier.MaxMembers)
	updated, err := scanTier(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Tier{}, shared.ErrNotFound
		}
		return Tier{}, err
	}
	return updated, nil
}

// TierHolders returns the ids of users currently on the tier.
func (r *Repository) TierHolders(ctx context.Context, tierID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM users WHERE tier_id = $1`, tierID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
