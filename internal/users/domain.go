package users

import "time"

// User represents a user account. TierID is nil for users on the implicit
// default tier (no privileges beyond viewing their own profile).
type User struct {
	ID        int64
	Email     string
	Name      string
	IsActive  bool
	TierID    *int64
	CreatedAt time.Time
	UpdatedAt time.Time
}
