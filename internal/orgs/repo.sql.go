package orgs

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atrium-hq/atrium/internal/perm"
	"github.com/atrium-hq/atrium/internal/platform/db"
	"github.com/atrium-hq/atrium/internal/platform/httpx"
	"github.com/atrium-hq/atrium/internal/shared"
)

// RoleSeed describes one built-in role created alongside an organization.
type RoleSeed struct {
	Name        string
	Permissions perm.Bits
	Position    int
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateOrganization inserts the organization, seeds its system roles, and
// enrolls the owner as an active member holding the first seeded role, all
// in one transaction.
func (r *Repository) CreateOrganization(ctx context.Context, name string, ownerID int64, seeds []RoleSeed) (Organization, error) {
	var org Organization
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO organizations (name, owner_id)
			VALUES ($1, $2)
			RETURNING id, name, owner_id, created_at, updated_at`,
			name, ownerID).
			Scan(&org.ID, &org.Name, &org.OwnerID, &org.CreatedAt, &org.UpdatedAt)
		if err != nil {
			return err
		}

		var ownerRoleID int64
		for i, seed := range seeds {
			var roleID int64
			err := tx.QueryRow(ctx, `
				INSERT INTO roles (org_id, name, permissions, position, is_system)
				VALUES ($1, $2, $3, $4, TRUE)
				RETURNING id`,
				org.ID, seed.Name, seed.Permissions.Int64(), seed.Position).Scan(&roleID)
			if err != nil {
				return err
			}
			if i == 0 {
				ownerRoleID = roleID
			}
		}

		var membershipID int64
		err = tx.QueryRow(ctx, `
			INSERT INTO memberships (org_id, user_id, status)
			VALUES ($1, $2, $3)
			RETURNING id`,
			org.ID, ownerID, StatusActive).Scan(&membershipID)
		if err != nil {
			return err
		}
		if ownerRoleID != 0 {
			_, err = tx.Exec(ctx, `
				INSERT INTO role_assignments (membership_id, role_id)
				VALUES ($1, $2)`, membershipID, ownerRoleID)
		}
		return err
	})
	if err != nil {
		return Organization{}, err
	}
	return org, nil
}

// GetOrganization fetches an organization by id.
func (r *Repository) GetOrganization(ctx context.Context, id int64) (*Organization, error) {
	var org Organization
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, owner_id, created_at, updated_at
		FROM organizations WHERE id = $1`, id).
		Scan(&org.ID, &org.Name, &org.OwnerID, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &org, nil
}

// ListForUser returns organizations where the user holds any membership.
func (r *Repository) ListForUser(ctx context.Context, userID int64) ([]Organization, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT o.id, o.name, o.owner_id, o.created_at, o.updated_at
		FROM organizations o
		JOIN memberships m ON m.org_id = o.id
		WHERE m.user_id = $1 AND m.status <> $2
		ORDER BY o.id`, userID, StatusLeft)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Organization
	for rows.Next() {
		var org Organization
		if err := rows.Scan(&org.ID, &org.Name, &org.OwnerID, &org.CreatedAt, &org.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, org)
	}
	return list, rows.Err()
}

// CountOwned returns how many organizations the user owns.
func (r *Repository) CountOwned(ctx context.Context, ownerID int64) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM organizations WHERE owner_id = $1`, ownerID).Scan(&n)
	return n, err
}

// CountMembers returns how many non-left memberships the organization has.
func (r *Repository) CountMembers(ctx context.Context, orgID int64) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM memberships WHERE org_id = $1 AND status <> $2`, orgID, StatusLeft).Scan(&n)
	return n, err
}

// OwnerLimits returns the org/member limits from the user's tier. A user
// without a tier gets zero limits.
func (r *Repository) OwnerLimits(ctx context.Context, userID int64) (maxOrgs, maxMembers int, err error) {
	err = r.pool.QueryRow(ctx, `
		SELECT COALESCE(t.max_organizations, 0), COALESCE(t.max_members, 0)
		FROM users u
		LEFT JOIN tiers t ON t.id = u.tier_id
		WHERE u.id = $1`, userID).Scan(&maxOrgs, &maxMembers)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, nil
	}
	return maxOrgs, maxMembers, err
}

const membershipColumns = `id, org_id, user_id, status, computed_permissions, permissions_computed_at, created_at, updated_at`

func scanMembership(row pgx.Row) (Membership, error) {
	var (
		m   Membership
		raw int64
	)
	err := row.Scan(&m.ID, &m.OrgID, &m.UserID, &m.Status, &raw, &m.PermissionsComputedAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return Membership{}, err
	}
	m.ComputedPermissions = perm.FromInt64(raw)
	return m, nil
}

// CreateMembership inserts an invited membership.
func (r *Repository) CreateMembership(ctx context.Context, orgID, userID int64) (Membership, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO memberships (org_id, user_id, status)
		VALUES ($1, $2, $3)
		RETURNING `+membershipColumns, orgID, userID, StatusInvited)
	m, err := scanMembership(row)
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.ConstraintName == "uq_memberships_org_user" {
			return Membership{}, httpx.ErrDuplicate
		}
		return Membership{}, err
	}
	return m, nil
}

// GetMembership fetches a membership by id within an organization.
func (r *Repository) GetMembership(ctx context.Context, orgID, membershipID int64) (*Membership, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+membershipColumns+` FROM memberships WHERE id = $1 AND org_id = $2`,
		membershipID, orgID)
	m, err := scanMembership(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

// GetMembershipByUser fetches a user's membership in an organization.
func (r *Repository) GetMembershipByUser(ctx context.Context, orgID, userID int64) (*Membership, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+membershipColumns+` FROM memberships WHERE org_id = $1 AND user_id = $2`,
		orgID, userID)
	m, err := scanMembership(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

// ListMembers returns all memberships of an organization.
func (r *Repository) ListMembers(ctx context.Context, orgID int64) ([]Membership, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+membershipColumns+` FROM memberships WHERE org_id = $1 ORDER BY id`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var members []Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// UpdateMembershipStatus moves a membership to a new status.
func (r *Repository) UpdateMembershipStatus(ctx context.Context, membershipID int64, status string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE memberships SET status = $2, updated_at = NOW() WHERE id = $1`, membershipID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// TransferOwnership points the organization at a new owner.
func (r *Repository) TransferOwnership(ctx context.Context, orgID, newOwnerID int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE organizations SET owner_id = $2, updated_at = NOW() WHERE id = $1`, orgID, newOwnerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// AddOverride attaches an allow/deny override to a membership, resolving
// the permission code through the catalog mirror table.
func (r *Repository) AddOverride(ctx context.Context, membershipID int64, code string, allow bool, expiresAt *time.Time) (Override, error) {
	var ov Override
	err := r.pool.QueryRow(ctx, `
		INSERT INTO membership_overrides (membership_id, permission_id, allow, expires_at)
		SELECT $1, p.id, $3, $4 FROM permissions p WHERE p.code = $2
		RETURNING id, membership_id, permission_id, allow, expires_at, created_at`,
		membershipID, code, allow, expiresAt).
		Scan(&ov.ID, &ov.MembershipID, &ov.PermissionID, &ov.Allow, &ov.ExpiresAt, &ov.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Override{}, shared.ErrNotFound
		}
		return Override{}, err
	}
	ov.Code = code
	return ov, nil
}

// ListOverrides returns all overrides on a membership, expired included:
// the admin surface shows history, only resolution filters by expiry.
func (r *Repository) ListOverrides(ctx context.Context, membershipID int64) ([]Override, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT o.id, o.membership_id, o.permission_id, p.code, o.allow, o.expires_at, o.created_at
		FROM membership_overrides o
		JOIN permissions p ON p.id = o.permission_id
		WHERE o.membership_id = $1
		ORDER BY o.id`, membershipID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var overrides []Override
	for rows.Next() {
		var ov Override
		if err := rows.Scan(&ov.ID, &ov.MembershipID, &ov.PermissionID, &ov.Code, &ov.Allow, &ov.ExpiresAt, &ov.CreatedAt); err != nil {
			return nil, err
		}
		overrides = append(overrides, ov)
	}
	return overrides, rows.Err()
}

// DeleteOverride removes an override, returning its membership id so the
// caller can invalidate.
func (r *Repository) DeleteOverride(ctx context.Context, overrideID int64) (int64, error) {
	var membershipID int64
	err := r.pool.QueryRow(ctx, `
		DELETE FROM membership_overrides WHERE id = $1 RETURNING membership_id`, overrideID).
		Scan(&membershipID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, shared.ErrNotFound
		}
		return 0, err
	}
	return membershipID, nil
}

// PurgeExpiredOverrides deletes overrides whose expiry has passed and
// returns the affected membership ids for invalidation. Expired rows are
// already inert for resolution; the sweep just keeps the table tidy.
func (r *Repository) PurgeExpiredOverrides(ctx context.Context, now time.Time) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
		DELETE FROM membership_overrides
		WHERE expires_at IS NOT NULL AND expires_at <= $1
		RETURNING membership_id`, now)
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
