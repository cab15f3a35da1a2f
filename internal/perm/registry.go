package perm

import (
	"fmt"
	"sort"
)

// SystemAdminCode is the designated staff bypass permission. A tier whose
// base mask carries this bit resolves to AllBits unconditionally.
const SystemAdminCode = "system.admin"

// Definition is one immutable catalog entry mapping a permission code to a
// bit position plus display and commercial metadata. AddonPrice is in cents
// and, like MinTier, is advisory only: neither participates in resolution.
type Definition struct {
	Code       string
	Bit        int
	Category   string
	Dangerous  bool
	Addon      bool
	AddonPrice int64
	MinTier    string
}

// Registry is the immutable permission catalog. It is built once at startup
// and injected wherever code-to-bit mapping is needed; it is never mutated
// afterwards.
type Registry struct {
	byCode map[string]Definition
	byBit  map[int]Definition
	defs   []Definition
}

// NewRegistry validates the catalog and builds the lookup tables. Duplicate
// bit positions, duplicate codes, and out-of-range bits are configuration
// errors caught here rather than at resolution time.
func NewRegistry(defs []Definition) (*Registry, error) {
	r := &Registry{
		byCode: make(map[string]Definition, len(defs)),
		byBit:  make(map[int]Definition, len(defs)),
		defs:   make([]Definition, 0, len(defs)),
	}
	for _, def := range defs {
		if def.Code == "" {
			return nil, fmt.Errorf("perm: definition at bit %d has empty code", def.Bit)
		}
		if def.Bit < 0 || def.Bit > 63 {
			return nil, fmt.Errorf("perm: %s: bit %d out of range", def.Code, def.Bit)
		}
		if prev, ok := r.byCode[def.Code]; ok {
			return nil, fmt.Errorf("perm: duplicate code %s (bits %d and %d)", def.Code, prev.Bit, def.Bit)
		}
		if prev, ok := r.byBit[def.Bit]; ok {
			return nil, fmt.Errorf("perm: bit %d claimed by both %s and %s", def.Bit, prev.Code, def.Code)
		}
		r.byCode[def.Code] = def
		r.byBit[def.Bit] = def
		r.defs = append(r.defs, def)
	}
	sort.Slice(r.defs, func(i, j int) bool { return r.defs[i].Bit < r.defs[j].Bit })
	return r, nil
}

// Bit returns the bit position for a permission code.
func (r *Registry) Bit(code string) (int, bool) {
	def, ok := r.byCode[code]
	return def.Bit, ok
}

// Definition returns the catalog entry for a permission code.
func (r *Registry) Definition(code string) (Definition, bool) {
	def, ok := r.byCode[code]
	return def, ok
}

// DefinitionAt returns the catalog entry occupying a bit position.
func (r *Registry) DefinitionAt(bit int) (Definition, bool) {
	def, ok := r.byBit[bit]
	return def, ok
}

// Definitions returns all catalog entries ordered by bit position.
func (r *Registry) Definitions() []Definition {
	out := make([]Definition, len(r.defs))
	copy(out, r.defs)
	return out
}

// StaffBit returns the bit position of the staff bypass permission.
func (r *Registry) StaffBit() int {
	if def, ok := r.byCode[SystemAdminCode]; ok {
		return def.Bit
	}
	return SystemScopeEnd
}

// ValidateTierBase rejects a tier base mask that carries system bits unless
// the tier is the designated staff tier. Enforced at tier-write time so the
// resolver never has to second-guess its inputs.
func ValidateTierBase(base Bits, isStaff bool) error {
	if isStaff {
		return nil
	}
	if base&SystemMask != 0 {
		return fmt.Errorf("perm: non-staff tier base mask carries system bits (%#x)", uint64(base&SystemMask))
	}
	return nil
}

// DefaultCatalog is the built-in permission catalog. Bit assignments are
// stable; new permissions take the next free bit inside their scope.
func DefaultCatalog() []Definition {
	return []Definition{
		// Personal / global scope (0-19).
		{Code: "profile.view", Bit: 0, Category: "profile", MinTier: "free"},
		{Code: "profile.edit", Bit: 1, Category: "profile", MinTier: "free"},
		{Code: "orgs.create", Bit: 2, Category: "workspace", MinTier: "free"},
		{Code: "orgs.list", Bit: 3, Category: "workspace", MinTier: "free"},
		{Code: "avatar.upload", Bit: 4, Category: "profile", MinTier: "free"},
		{Code: "sessions.manage", Bit: 5, Category: "security", MinTier: "free"},
		{Code: "apikeys.manage", Bit: 6, Category: "security", MinTier: "pro"},

		// Organization-role scope (20-39).
		{Code: "org.view", Bit: 20, Category: "organization", MinTier: "free"},
		{Code: "org.edit", Bit: 21, Category: "organization", MinTier: "free"},
		{Code: "org.delete", Bit: 22, Category: "organization", MinTier: "free"},
		{Code: "org.billing", Bit: 23, Category: "organization", MinTier: "pro"},
		{Code: "members.view", Bit: 24, Category: "members", MinTier: "free"},
		{Code: "members.invite", Bit: 25, Category: "members", MinTier: "free"},
		{Code: "members.remove", Bit: 26, Category: "members", MinTier: "free"},
		{Code: "members.admin.remove", Bit: 27, Category: "members", MinTier: "free"},
		{Code: "members.suspend", Bit: 28, Category: "members", MinTier: "free"},
		{Code: "members.overrides", Bit: 29, Category: "members", MinTier: "pro"},
		{Code: "roles.view", Bit: 30, Category: "roles", MinTier: "free"},
		{Code: "roles.edit", Bit: 31, Category: "roles", MinTier: "pro"},
		{Code: "roles.delete", Bit: 32, Category: "roles", MinTier: "pro"},
		{Code: "projects.view", Bit: 33, Category: "projects", MinTier: "free"},
		{Code: "projects.edit", Bit: 34, Category: "projects", MinTier: "free"},
		{Code: "projects.delete", Bit: 35, Category: "projects", MinTier: "pro"},

		// App / feature scope (40-49).
		{Code: "reports.view", Bit: 40, Category: "features", MinTier: "pro"},
		{Code: "exports.create", Bit: 41, Category: "features", MinTier: "pro"},
		{Code: "api.access", Bit: 42, Category: "features", MinTier: "pro"},
		{Code: "integrations.manage", Bit: 43, Category: "features", Addon: true, AddonPrice: 900, MinTier: "pro"},

		// System / staff scope (50-63).
		{Code: "system.tiers", Bit: 50, Category: "system", Dangerous: true, MinTier: "staff"},
		{Code: "system.users", Bit: 51, Category: "system", Dangerous: true, MinTier: "staff"},
		{Code: "system.impersonate", Bit: 52, Category: "system", Dangerous: true, MinTier: "staff"},
		{Code: "system.catalog", Bit: 53, Category: "system", Dangerous: true, MinTier: "staff"},
		{Code: "system.audit", Bit: 54, Category: "system", Dangerous: true, MinTier: "staff"},
		{Code: SystemAdminCode, Bit: 63, Category: "system", Dangerous: true, MinTier: "staff"},
	}
}
