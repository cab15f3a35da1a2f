package perm

import (
	"context"
	"errors"
	"testing"
	"time"

	"log/slog"

	"github.com/stretchr/testify/require"
)

type stubSources struct {
	base      Bits
	baseErr   error
	org       OrgGrant
	orgErr    error
	member    *MemberGrant
	memberErr error
	overrides []Override
	ovErr     error

	overrideCalls int
}

func (s *stubSources) BaseGrant(ctx context.Context, userID int64) (Bits, error) {
	return s.base, s.baseErr
}

func (s *stubSources) OrgGrant(ctx context.Context, orgID int64) (OrgGrant, error) {
	return s.org, s.orgErr
}

func (s *stubSources) MemberGrant(ctx context.Context, userID, orgID int64) (*MemberGrant, error) {
	return s.member, s.memberErr
}

func (s *stubSources) ActiveOverrides(ctx context.Context, membershipID int64, now time.Time) ([]Override, error) {
	s.overrideCalls++
	return s.overrides, s.ovErr
}

func testResolver(t *testing.T, sources Sources) *Resolver {
	t.Helper()
	reg, err := NewRegistry(DefaultCatalog())
	require.NoError(t, err)
	return NewResolver(reg, sources, slog.Default())
}

func orgRef(id int64) *int64 { return &id }

func TestResolveGlobalScopeClampsToPublicMask(t *testing.T) {
	// A base mask of 3 grants bits 0 and 1; org bits are unreachable
	// without an org context.
	src := &stubSources{base: Bits(3)}
	r := testResolver(t, src)

	res, err := r.Resolve(context.Background(), 7, nil)
	require.NoError(t, err)
	require.Equal(t, Bits(3), res.Mask)
	require.False(t, res.Mask.Has(21))
	require.Zero(t, res.MembershipID)
}

func TestResolveStaffBypass(t *testing.T) {
	src := &stubSources{base: Bits(0).Set(63)}
	r := testResolver(t, src)

	res, err := r.Resolve(context.Background(), 7, nil)
	require.NoError(t, err)
	require.Equal(t, AllBits, res.Mask)
	require.True(t, res.Mask.Has(60))

	// The bypass also wins inside an org context with no membership.
	res, err = r.Resolve(context.Background(), 7, orgRef(1))
	require.NoError(t, err)
	require.Equal(t, AllBits, res.Mask)
}

func TestResolveNonMemberGetsBaseOnly(t *testing.T) {
	src := &stubSources{
		base: Bits(3),
		org:  OrgGrant{OwnerID: 99, Ceiling: OrgRoleMask, Found: true},
	}
	r := testResolver(t, src)

	res, err := r.Resolve(context.Background(), 7, orgRef(1))
	require.NoError(t, err)
	require.Equal(t, Bits(3), res.Mask)
	require.Zero(t, src.overrideCalls)
}

func TestResolveSuspendedMemberLosesOrgBits(t *testing.T) {
	src := &stubSources{
		base:   Bits(3),
		org:    OrgGrant{OwnerID: 99, Ceiling: OrgRoleMask, Found: true},
		member: &MemberGrant{MembershipID: 11, Active: false, RoleGrant: OrgRoleMask},
	}
	r := testResolver(t, src)

	res, err := r.Resolve(context.Background(), 7, orgRef(1))
	require.NoError(t, err)
	require.Equal(t, Bits(3), res.Mask)
	require.Equal(t, int64(11), res.MembershipID)
	require.Zero(t, src.overrideCalls)
}

func TestResolveRoleGrantCappedByCeiling(t *testing.T) {
	role := Bits(0).Set(21).Set(24)
	src := &stubSources{
		base:   Bits(3),
		org:    OrgGrant{OwnerID: 99, Ceiling: Bits(0).Set(21), Found: true},
		member: &MemberGrant{MembershipID: 11, Active: true, RoleGrant: role},
	}
	r := testResolver(t, src)

	res, err := r.Resolve(context.Background(), 7, orgRef(1))
	require.NoError(t, err)
	require.True(t, res.Mask.Has(21))
	require.False(t, res.Mask.Has(24), "ceiling must strip unprovided bits")
	require.True(t, res.Mask.Has(0))
}

func TestResolveOwnerFullGrantAndGuarantee(t *testing.T) {
	// Owner with a zero ceiling keeps the guaranteed member-management
	// bits but nothing else from the org scope.
	src := &stubSources{
		base:   Bits(3),
		org:    OrgGrant{OwnerID: 7, Ceiling: 0, Found: true},
		member: &MemberGrant{MembershipID: 11, Active: true},
	}
	r := testResolver(t, src)

	res, err := r.Resolve(context.Background(), 7, orgRef(1))
	require.NoError(t, err)
	require.True(t, res.Mask.Has(24))
	require.True(t, res.Mask.Has(29))
	require.False(t, res.Mask.Has(21))
	require.False(t, res.Mask.Has(30))
}

func TestResolveOwnerWithFullCeiling(t *testing.T) {
	src := &stubSources{
		base:   Bits(3),
		org:    OrgGrant{OwnerID: 7, Ceiling: OrgRoleMask, Found: true},
		member: &MemberGrant{MembershipID: 11, Active: true},
	}
	r := testResolver(t, src)

	res, err := r.Resolve(context.Background(), 7, orgRef(1))
	require.NoError(t, err)
	for bit := 20; bit <= 32; bit++ {
		require.True(t, res.Mask.Has(bit), "owner should hold bit %d", bit)
	}
	// Ownership alone never implies custom-role bits above 32.
	require.False(t, res.Mask.Has(33))
}

func TestResolveOverrides(t *testing.T) {
	ceiling := Bits(0).Set(21)
	src := &stubSources{
		base:   Bits(3),
		org:    OrgGrant{OwnerID: 99, Ceiling: ceiling, Found: true},
		member: &MemberGrant{MembershipID: 11, Active: true, RoleGrant: Bits(0).Set(21)},
		overrides: []Override{
			{Bit: 21, Allow: false},
			{Bit: 24, Allow: true},
			{Bit: 41, Allow: true},
		},
	}
	r := testResolver(t, src)

	res, err := r.Resolve(context.Background(), 7, orgRef(1))
	require.NoError(t, err)
	require.False(t, res.Mask.Has(21), "deny override must strip the role grant")
	require.False(t, res.Mask.Has(24), "allow override cannot pass the ceiling")
	require.True(t, res.Mask.Has(41), "non-org allows are not ceiling gated")
}

func TestResolveDenyBeatsBaseGrant(t *testing.T) {
	src := &stubSources{
		base:      Bits(0).Set(0).Set(1),
		org:       OrgGrant{OwnerID: 99, Ceiling: OrgRoleMask, Found: true},
		member:    &MemberGrant{MembershipID: 11, Active: true},
		overrides: []Override{{Bit: 1, Allow: false}},
	}
	r := testResolver(t, src)

	res, err := r.Resolve(context.Background(), 7, orgRef(1))
	require.NoError(t, err)
	require.True(t, res.Mask.Has(0))
	require.False(t, res.Mask.Has(1))
}

func TestResolveNeverLeaksSystemBits(t *testing.T) {
	// A corrupt base mask with system bits set (but not the staff bit)
	// still resolves to a public-only mask.
	src := &stubSources{
		base:      Bits(0).Set(50).Set(54).Set(3),
		org:       OrgGrant{OwnerID: 99, Ceiling: OrgRoleMask, Found: true},
		member:    &MemberGrant{MembershipID: 11, Active: true},
		overrides: []Override{{Bit: 52, Allow: true}},
	}
	r := testResolver(t, src)

	res, err := r.Resolve(context.Background(), 7, orgRef(1))
	require.NoError(t, err)
	require.Zero(t, res.Mask&SystemMask)
	require.True(t, res.Mask.Has(3))
}

func TestResolvePropagatesSourceErrors(t *testing.T) {
	boom := errors.New("boom")

	src := &stubSources{baseErr: boom}
	r := testResolver(t, src)
	_, err := r.Resolve(context.Background(), 7, nil)
	require.ErrorIs(t, err, boom)

	src = &stubSources{
		org:    OrgGrant{Found: true},
		member: &MemberGrant{MembershipID: 11, Active: true},
		ovErr:  boom,
	}
	r = testResolver(t, src)
	_, err = r.Resolve(context.Background(), 7, orgRef(1))
	require.ErrorIs(t, err, boom)
}

func TestHasFailsClosedOnUnknownCode(t *testing.T) {
	src := &stubSources{base: AllBits}
	r := testResolver(t, src)

	ok, err := r.Has(context.Background(), 7, nil, "no.such.code")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHasChecksResolvedMask(t *testing.T) {
	src := &stubSources{base: Bits(0).Set(2)}
	r := testResolver(t, src)

	ok, err := r.Has(context.Background(), 7, nil, "orgs.create")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = r.Has(context.Background(), 7, nil, "orgs.list")
	require.NoError(t, err)
	require.False(t, ok)
}
