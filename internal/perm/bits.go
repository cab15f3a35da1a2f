package perm

// Bits is a 64-bit permission mask. Each bit position represents one
// capability from the registry catalog.
type Bits uint64

// AllBits has every bit set. Returned by the resolver for staff accounts.
const AllBits = Bits(^uint64(0))

// Scope boundaries. Bit positions are partitioned into four contiguous
// ranges; changing these is a catalog-versioning concern, not a resolver one.
const (
	PersonalScopeStart = 0
	PersonalScopeEnd   = 19
	OrgScopeStart      = 20
	OrgScopeEnd        = 39
	AppScopeStart      = 40
	AppScopeEnd        = 49
	SystemScopeStart   = 50
	SystemScopeEnd     = 63
)

// Policy masks derived from the scope boundaries.
var (
	// PublicMask covers every bit a non-staff result may carry (0-49).
	PublicMask = rangeMask(PersonalScopeStart, AppScopeEnd)
	// OrgRoleMask covers the organization-role scope (20-39).
	OrgRoleMask = rangeMask(OrgScopeStart, OrgScopeEnd)
	// OwnerFullOrgMask is the role grant an organization owner receives
	// without any explicit role assignment (20-32). Deliberately narrower
	// than OrgRoleMask: custom-role bits above 32 are never implied by
	// ownership alone.
	OwnerFullOrgMask = rangeMask(OrgScopeStart, 32)
	// OwnerGuaranteedMask holds the member-management bits (24-29) an owner
	// keeps even when the tier ceiling would strip them, so an owner can
	// never be locked out of their own organization.
	OwnerGuaranteedMask = rangeMask(24, 29)
	// SystemMask covers staff-only bits (50-63).
	SystemMask = rangeMask(SystemScopeStart, SystemScopeEnd)
)

func rangeMask(lo, hi int) Bits {
	var m Bits
	for pos := lo; pos <= hi; pos++ {
		m = m.Set(pos)
	}
	return m
}

// Has reports whether the bit at pos is set. Out-of-range positions are false.
func (b Bits) Has(pos int) bool {
	if pos < 0 || pos > 63 {
		return false
	}
	return b&(1<<pos) != 0
}

// Set returns b with the bit at pos set. Out-of-range positions are ignored.
func (b Bits) Set(pos int) Bits {
	if pos < 0 || pos > 63 {
		return b
	}
	return b | 1<<pos
}

// Clear returns b with the bit at pos cleared. Out-of-range positions are ignored.
func (b Bits) Clear(pos int) Bits {
	if pos < 0 || pos > 63 {
		return b
	}
	return b &^ (1 << pos)
}

// Int64 reinterprets the mask as a signed integer for storage in a BIGINT
// column. Bit 63 survives the round-trip through FromInt64 unchanged.
func (b Bits) Int64() int64 {
	return int64(b)
}

// FromInt64 is the inverse of Int64.
func FromInt64(v int64) Bits {
	return Bits(v)
}
