package perm

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Sources supplies the independent grant lookups feeding a resolution.
// Implementations must not cache internally; caching is the Cache's job.
// Missing rows degrade to zero values, never errors: only storage failures
// surface as errors.
type Sources interface {
	// BaseGrant returns the user's tier base mask, or 0 when the user has
	// no tier (or no user row exists).
	BaseGrant(ctx context.Context, userID int64) (Bits, error)
	// OrgGrant returns the organization's owner and the feature ceiling
	// derived from the current owner's current tier. Found is false when
	// the organization does not exist.
	OrgGrant(ctx context.Context, orgID int64) (OrgGrant, error)
	// MemberGrant returns the caller's membership in the organization along
	// with the union of its assigned role masks, or nil when no membership
	// exists.
	MemberGrant(ctx context.Context, userID, orgID int64) (*MemberGrant, error)
	// ActiveOverrides returns the membership's overrides whose expiry is
	// absent or after now. Expired rows are filtered here, not by the
	// resolver.
	ActiveOverrides(ctx context.Context, membershipID int64, now time.Time) ([]Override, error)
}

// OrgGrant is the organization half of a resolution: who owns it and what
// ceiling the owner's tier imposes on every org-role grant.
type OrgGrant struct {
	OwnerID int64
	Ceiling Bits
	Found   bool
}

// MemberGrant is the membership half of a resolution.
type MemberGrant struct {
	MembershipID int64
	Active       bool
	RoleGrant    Bits
}

// Override is one time-bounded allow/deny of a single bit.
type Override struct {
	Bit   int
	Allow bool
}

// Resolution carries a resolved mask together with the membership it should
// be cached against (0 when the resolution had no membership).
type Resolution struct {
	Mask         Bits
	MembershipID int64
	ComputedAt   time.Time
}

// Resolver computes effective permission masks from the four grant sources.
// It holds no mutable state and is safe for concurrent use.
type Resolver struct {
	sources  Sources
	registry *Registry
	staffBit int
	logger   *slog.Logger
	now      func() time.Time
}

// NewResolver constructs a Resolver bound to a catalog and grant sources.
func NewResolver(registry *Registry, sources Sources, logger *slog.Logger) *Resolver {
	return &Resolver{
		sources:  sources,
		registry: registry,
		staffBit: registry.StaffBit(),
		logger:   logger,
		now:      time.Now,
	}
}

// Registry exposes the catalog the resolver was built with.
func (r *Resolver) Registry() *Registry {
	return r.registry
}

// Resolve computes the caller's effective mask, optionally within an
// organization context. Missing tier, organization, or membership are valid
// inputs that degrade to a reduced grant; Resolve only fails on storage
// errors. Callers must treat "no such user" as an authentication failure
// before invoking Resolve, not as a zero-permission result.
func (r *Resolver) Resolve(ctx context.Context, userID int64, orgID *int64) (Resolution, error) {
	in := resolution{orgRequested: orgID != nil}

	// The base, organization, and membership lookups are independent.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		base, err := r.sources.BaseGrant(gctx, userID)
		in.base = base
		return err
	})
	var member *MemberGrant
	if orgID != nil {
		id := *orgID
		g.Go(func() error {
			org, err := r.sources.OrgGrant(gctx, id)
			in.org = org
			return err
		})
		g.Go(func() error {
			var err error
			member, err = r.sources.MemberGrant(gctx, userID, id)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return Resolution{}, err
	}

	now := r.now()
	res := Resolution{ComputedAt: now}
	if member != nil {
		in.member = true
		in.active = member.Active
		in.roleGrant = member.RoleGrant
		in.isOwner = in.org.Found && in.org.OwnerID == userID
		res.MembershipID = member.MembershipID

		// Overrides only matter for active memberships inside an org
		// context, and need the membership id, so they are fetched after
		// the fan-out.
		if in.active {
			overrides, err := r.sources.ActiveOverrides(ctx, member.MembershipID, now)
			if err != nil {
				return Resolution{}, err
			}
			in.overrides = overrides
		}
	}

	res.Mask = r.compute(in)
	return res, nil
}

// Has resolves the caller and tests a single permission code. Unknown codes
// fail closed: the caller cannot distinguish "code does not exist" from
// "permission not held".
func (r *Resolver) Has(ctx context.Context, userID int64, orgID *int64, code string) (bool, error) {
	bit, ok := r.registry.Bit(code)
	if !ok {
		if r.logger != nil {
			r.logger.Warn("permission check for unknown code", slog.String("code", code))
		}
		return false, nil
	}
	res, err := r.Resolve(ctx, userID, orgID)
	if err != nil {
		return false, err
	}
	return res.Mask.Has(bit), nil
}

type resolution struct {
	base         Bits
	orgRequested bool
	org          OrgGrant
	member       bool
	active       bool
	isOwner      bool
	roleGrant    Bits
	overrides    []Override
}

// compute is the pure resolution pipeline. Each step strictly refines the
// previous one; the order is load-bearing.
func (r *Resolver) compute(in resolution) Bits {
	// Staff bypass skips every capping rule below.
	if in.base.Has(r.staffBit) {
		return AllBits
	}

	perms := in.base

	// Org-role bits are only attainable inside an org context with an
	// active membership.
	if !in.orgRequested || !in.member || !in.active {
		return perms & PublicMask
	}

	roleGrant := in.roleGrant
	if in.isOwner {
		roleGrant = OwnerFullOrgMask
	}

	// Two-key lock: a role grant is usable only where the owner's tier
	// ceiling also provides the capability.
	capped := roleGrant & in.org.Ceiling
	if in.isOwner {
		// Self-lockout guard: management bits survive any ceiling so an
		// owner whose tier was downgraded can still run the organization.
		capped |= OwnerFullOrgMask & OwnerGuaranteedMask
	}
	perms |= capped

	for _, ov := range in.overrides {
		bit := Bits(0).Set(ov.Bit)
		if ov.Allow {
			// An allow cannot push an org-role bit past the ceiling.
			if bit&OrgRoleMask == 0 || bit&in.org.Ceiling != 0 {
				perms |= bit
			}
		} else {
			// Deny wins over every other source.
			perms &^= bit
		}
	}

	// No path above may leak a system bit; the staff bypass is the only
	// route to them.
	return perms & PublicMask
}
