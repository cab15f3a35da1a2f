package auth

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Account is the slice of the users table login cares about.
type Account struct {
	ID       int64
	Email    string
	IsActive bool
}

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// FindOrCreateByEmail returns the account for an email, registering it on
// first login. The upsert keeps concurrent first logins from racing.
func (r *Repository) FindOrCreateByEmail(ctx context.Context, email string) (Account, error) {
	var a Account
	err := r.db.QueryRow(ctx,
		`INSERT INTO users (email)
		 VALUES ($1)
		 ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		 RETURNING id, email, is_active`,
		email).Scan(&a.ID, &a.Email, &a.IsActive)
	return a, err
}
