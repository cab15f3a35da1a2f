package roles

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

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const roleColumns = `id, org_id, name, permissions, position, is_system, created_at, updated_at`

func scanRole(row pgx.Row) (Role, error) {
	var (
		r    Role
		mask int64
	)
	err := row.Scan(&r.ID, &r.OrgID, &r.Name, &mask, &r.Position, &r.IsSystem, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return Role{}, err
	}
	r.Permissions = perm.FromInt64(mask)
	return r, nil
}

func (r *Repository) ListRoles(ctx context.Context, orgID int64) ([]Role, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE org_id = $1 ORDER BY position, id`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

func (r *Repository) GetRole(ctx context.Context, orgID, roleID int64) (Role, error) {
	role, err := scanRole(r.db.QueryRow(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE id = $1 AND org_id = $2`, roleID, orgID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, shared.ErrNotFound
	}
	return role, err
}

func (r *Repository) CreateRole(ctx context.Context, orgID int64, name string, permissions perm.Bits, position int) (Role, error) {
	role, err := scanRole(r.db.QueryRow(ctx,
		`INSERT INTO roles (org_id, name, permissions, position, is_system)
		 VALUES ($1, $2, $3, $4, FALSE)
		 RETURNING `+roleColumns,
		orgID, name, permissions.Int64(), position))
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.ConstraintName == "uq_roles_org_name" {
		return Role{}, httpx.ErrDuplicate
	}
	return role, err
}

func (r *Repository) UpdateRole(ctx context.Context, orgID, roleID int64, name string, permissions perm.Bits, position int) (Role, error) {
	role, err := scanRole(r.db.QueryRow(ctx,
		`UPDATE roles
		    SET name = $3, permissions = $4, position = $5, updated_at = now()
		  WHERE id = $1 AND org_id = $2
		 RETURNING `+roleColumns,
		roleID, orgID, name, permissions.Int64(), position))
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, shared.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.ConstraintName == "uq_roles_org_name" {
		return Role{}, httpx.ErrDuplicate
	}
	return role, err
}

func (r *Repository) DeleteRole(ctx context.Context, orgID, roleID int64) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM roles WHERE id = $1 AND org_id = $2 AND is_system = FALSE`, roleID, orgID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// AssignRole links a role to a membership of the same organization. The
// membership check keeps cross-org role grants out even when IDs are guessed.
func (r *Repository) AssignRole(ctx context.Context, orgID, membershipID, roleID int64) (Assignment, error) {
	var a Assignment
	err := r.db.QueryRow(ctx,
		`INSERT INTO role_assignments (membership_id, role_id)
		 SELECT m.id, r.id
		   FROM memberships m
		   JOIN roles r ON r.org_id = m.org_id
		  WHERE m.id = $1 AND m.org_id = $2 AND r.id = $3
		 RETURNING id, membership_id, role_id, created_at`,
		membershipID, orgID, roleID).
		Scan(&a.ID, &a.MembershipID, &a.RoleID, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Assignment{}, shared.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.ConstraintName == "uq_role_assignments_membership_role" {
		return Assignment{}, httpx.ErrDuplicate
	}
	return a, err
}

func (r *Repository) UnassignRole(ctx context.Context, orgID, membershipID, roleID int64) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM role_assignments ra
		  USING memberships m
		  WHERE ra.membership_id = m.id
		    AND ra.membership_id = $1 AND m.org_id = $2 AND ra.role_id = $3`,
		membershipID, orgID, roleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *Repository) ListAssignments(ctx context.Context, orgID, membershipID int64) ([]Role, error) {
	rows, err := r.db.Query(ctx,
		`SELECT r.id, r.org_id, r.name, r.permissions, r.position, r.is_system, r.created_at, r.updated_at
		   FROM role_assignments ra
		   JOIN roles r ON r.id = ra.role_id
		   JOIN memberships m ON m.id = ra.membership_id
		  WHERE ra.membership_id = $1 AND m.org_id = $2
		  ORDER BY r.position, r.id`,
		membershipID, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, rows.Err()
}
