package auth

import (
	"fmt"
	"strings"
)

// Role represents a tenant-level role
type Role string

const (
	RoleOwner          Role = "owner"           // Full access to the tenant
	RoleCompanyManager Role = "company_manager" // Manages every store in the tenant
	RoleStoreManager   Role = "store_manager"   // Manages assigned stores
	RoleSalesperson    Role = "salesperson"     // Point-of-sale staff
)

// roleLevels maps each role to its authority level. Higher is more authority.
var roleLevels = map[Role]int{
	RoleOwner:          4,
	RoleCompanyManager: 3,
	RoleStoreManager:   2,
	RoleSalesperson:    1,
}

// AllRoles returns every role in descending authority order
func AllRoles() []Role {
	return []Role{RoleOwner, RoleCompanyManager, RoleStoreManager, RoleSalesperson}
}

// ParseRole converts a raw role string into a Role, rejecting unknown values
func ParseRole(s string) (Role, error) {
	r := Role(strings.TrimSpace(s))
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
	return r, nil
}

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	_, ok := roleLevels[r]
	return ok
}

// String returns the wire form of the role
func (r Role) String() string {
	return string(r)
}

// Level returns the authority level of a role. Unknown roles have level 0.
func Level(r Role) int {
	return roleLevels[r]
}

// HasAuthority reports whether a has at least the authority of b
func HasAuthority(a, b Role) bool {
	if !a.Valid() || !b.Valid() {
		return false
	}
	return Level(a) >= Level(b)
}

// CanManage reports whether actor may create, edit, or remove users holding target.
//
// Owners manage everyone, other owners included. Company managers manage their
// peers and everything below. Every other role manages strictly lower roles only.
func CanManage(actor, target Role) bool {
	if !actor.Valid() || !target.Valid() {
		return false
	}

	switch actor {
	case RoleOwner:
		return true
	case RoleCompanyManager:
		return Level(actor) >= Level(target)
	default:
		return Level(actor) > Level(target)
	}
}

// ManageableRoles returns every role actor can manage, highest authority first
func ManageableRoles(actor Role) []Role {
	roles := make([]Role, 0, len(roleLevels))
	for _, r := range AllRoles() {
		if CanManage(actor, r) {
			roles = append(roles, r)
		}
	}
	return roles
}

// CanView reports whether actor may see users holding target in user listings.
//
// Visibility is a separate rule from CanManage: store managers list their peers
// (other store managers) even though they cannot modify them.
func CanView(actor, target Role) bool {
	if !actor.Valid() || !target.Valid() {
		return false
	}

	switch actor {
	case RoleOwner, RoleCompanyManager:
		return true
	case RoleStoreManager:
		return Level(target) <= Level(RoleStoreManager)
	default:
		return target == actor
	}
}

// VisibleRoles returns every role actor can see, highest authority first
func VisibleRoles(actor Role) []Role {
	roles := make([]Role, 0, len(roleLevels))
	for _, r := range AllRoles() {
		if CanView(actor, r) {
			roles = append(roles, r)
		}
	}
	return roles
}

// HasImplicitStoreAccess reports whether the role can reach every store in its tenant
func HasImplicitStoreAccess(r Role) bool {
	return r == RoleOwner || r == RoleCompanyManager
}
