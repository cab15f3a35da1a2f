package orgs

import (
	"time"

	"github.com/atrium-hq/atrium/internal/perm"
)

// Membership statuses. Only active memberships participate in permission
// resolution.
const (
	StatusInvited   = "invited"
	StatusActive    = "active"
	StatusSuspended = "suspended"
	StatusLeft      = "left"
)

// Organization is a tenant. It has exactly one owner; the owner's tier is
// the sole source of the organization's feature ceiling; organizations do
// not carry a subscription of their own.
type Organization struct {
	ID        int64
	Name      string
	OwnerID   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Membership ties a user to an organization. ComputedPermissions and
// PermissionsComputedAt are the write-behind resolution cache; a nil
// PermissionsComputedAt marks the cache stale.
type Membership struct {
	ID                    int64
	OrgID                 int64
	UserID                int64
	Status                string
	ComputedPermissions   perm.Bits
	PermissionsComputedAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Override is a per-member, optionally time-limited allow/deny of one
// permission. Expired overrides are inert.
type Override struct {
	ID           int64
	MembershipID int64
	PermissionID int64
	Code         string
	Allow        bool
	ExpiresAt    *time.Time
	CreatedAt    time.Time
}
