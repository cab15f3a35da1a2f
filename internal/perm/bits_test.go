package perm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBitsSetHasClear(t *testing.T) {
	var b Bits
	b = b.Set(0).Set(21).Set(63)

	require.True(t, b.Has(0))
	require.True(t, b.Has(21))
	require.True(t, b.Has(63))
	require.False(t, b.Has(1))

	b = b.Clear(21)
	require.False(t, b.Has(21))
	require.True(t, b.Has(63))
}

func TestBitsOutOfRangePositions(t *testing.T) {
	var b Bits
	require.Equal(t, b, b.Set(-1))
	require.Equal(t, b, b.Set(64))
	require.False(t, b.Has(-1))
	require.False(t, b.Has(64))

	full := AllBits
	require.Equal(t, full, full.Clear(-1))
	require.Equal(t, full, full.Clear(64))
}

func TestBitsInt64RoundTrip(t *testing.T) {
	cases := []Bits{
		0,
		1,
		Bits(1) << 62,
		Bits(1) << 63,
		AllBits,
		PublicMask,
	}
	for _, c := range cases {
		require.Equal(t, c, FromInt64(c.Int64()))
	}

	// Bit 63 maps onto the sign bit of the stored integer.
	require.Equal(t, int64(math.MinInt64), (Bits(1) << 63).Int64())
}

func TestPolicyMaskBoundaries(t *testing.T) {
	require.True(t, PublicMask.Has(0))
	require.True(t, PublicMask.Has(49))
	require.False(t, PublicMask.Has(50))

	require.False(t, OrgRoleMask.Has(19))
	require.True(t, OrgRoleMask.Has(20))
	require.True(t, OrgRoleMask.Has(39))
	require.False(t, OrgRoleMask.Has(40))

	require.True(t, OwnerFullOrgMask.Has(20))
	require.True(t, OwnerFullOrgMask.Has(32))
	require.False(t, OwnerFullOrgMask.Has(33))

	require.False(t, OwnerGuaranteedMask.Has(23))
	require.True(t, OwnerGuaranteedMask.Has(24))
	require.True(t, OwnerGuaranteedMask.Has(29))
	require.False(t, OwnerGuaranteedMask.Has(30))

	require.True(t, SystemMask.Has(50))
	require.True(t, SystemMask.Has(63))
	require.False(t, SystemMask.Has(49))

	// The guaranteed bits sit inside the owner grant, which sits inside
	// the org scope.
	require.Equal(t, OwnerGuaranteedMask, OwnerFullOrgMask&OwnerGuaranteedMask)
	require.Equal(t, OwnerFullOrgMask, OrgRoleMask&OwnerFullOrgMask)
}
