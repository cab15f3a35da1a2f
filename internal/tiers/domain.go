package tiers

import (
	"time"

	"github.com/atrium-hq/atrium/internal/perm"
)

// Tier represents a commercial or internal access level. BasePermissions is
// granted to every holder regardless of organization context; OrgFeatures is
// the ceiling an organization owned by a holder imposes on all org-role
// grants.
type Tier struct {
	ID               int64
	Name             string
	BasePermissions  perm.Bits
	OrgFeatures      perm.Bits
	MaxOrganizations int
	MaxMembers       int
	IsStaff          bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
