package roles

import (
	"time"

	"github.com/atrium-hq/atrium/internal/perm"
)

// Role carries an org-scoped permission bundle. System roles are seeded at
// organization creation and cannot be renamed or deleted.
type Role struct {
	ID          int64
	OrgID       int64
	Name        string
	Permissions perm.Bits
	Position    int
	IsSystem    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Assignment links a membership to a role. A membership may hold several
// roles; its effective grant is the union of their permission masks.
type Assignment struct {
	ID           int64
	MembershipID int64
	RoleID       int64
	CreatedAt    time.Time
}
