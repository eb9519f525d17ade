package permission

import (
	"slices"

	"github.com/platinummonkey/tenantauth/pkg/auth"
)

// Module is a business capability area that permissions are granted on
type Module string

const (
	ModuleDashboard  Module = "dashboard"
	ModulePOS        Module = "pos"
	ModuleProducts   Module = "products"
	ModuleCategories Module = "categories"
	ModuleInventory  Module = "inventory"
	ModuleSales      Module = "sales"
	ModuleCustomers  Module = "customers"
	ModuleSuppliers  Module = "suppliers"
	ModuleShifts     Module = "shifts"
	ModuleVouchers   Module = "vouchers"
	ModuleReports    Module = "reports"
	ModuleUsers      Module = "users"
	ModuleStores     Module = "stores"
	ModuleSettings   Module = "settings"
)

// AllModules returns every known module
func AllModules() []Module {
	return []Module{
		ModuleDashboard, ModulePOS, ModuleProducts, ModuleCategories,
		ModuleInventory, ModuleSales, ModuleCustomers, ModuleSuppliers,
		ModuleShifts, ModuleVouchers, ModuleReports, ModuleUsers,
		ModuleStores, ModuleSettings,
	}
}

// Action is an operation on a module
type Action string

const (
	ActionView   Action = "view"
	ActionAdd    Action = "add"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
)

// AllActions returns every known action
func AllActions() []Action {
	return []Action{ActionView, ActionAdd, ActionEdit, ActionDelete}
}

// ActionSet is a set of actions granted on one module
type ActionSet []Action

// Has reports whether the set contains a
func (s ActionSet) Has(a Action) bool {
	return slices.Contains(s, a)
}

// ModulePermissions maps modules to the actions granted on them
type ModulePermissions map[Module]ActionSet

// PermissionContext is the resolved authorization state of one user in one tenant.
//
// CustomPermissions distinguishes nil (use role defaults) from a non-nil map.
// A non-nil map replaces the role defaults entirely, so a module missing from
// it, or mapped to an empty set, grants nothing.
type PermissionContext struct {
	UserID             string                       `json:"user_id"`
	TenantID           string                       `json:"tenant_id"`
	Role               auth.Role                    `json:"role"`
	CustomPermissions  ModulePermissions            `json:"custom_permissions,omitempty"`
	StorePermissions   map[string]ModulePermissions `json:"store_permissions,omitempty"`
	AccessibleStoreIDs []string                     `json:"accessible_store_ids"`
}

// Effective returns the actions granted on module, optionally scoped to storeID.
//
// Tiers shadow each other rather than merge: a store override for the module
// wins over custom permissions, which win over role defaults.
func (pc *PermissionContext) Effective(module Module, storeID string) ActionSet {
	if storeID != "" {
		if overrides, ok := pc.StorePermissions[storeID]; ok {
			if set, ok := overrides[module]; ok {
				return set
			}
		}
	}

	if pc.CustomPermissions != nil {
		return pc.CustomPermissions[module]
	}

	return DefaultPermissions(pc.Role, module)
}

// HasStore reports whether storeID is one of the user's assigned stores
func (pc *PermissionContext) HasStore(storeID string) bool {
	return slices.Contains(pc.AccessibleStoreIDs, storeID)
}

// referencesStore reports whether the context depends on storeID in any way
func (pc *PermissionContext) referencesStore(storeID string) bool {
	if pc.HasStore(storeID) {
		return true
	}
	_, ok := pc.StorePermissions[storeID]
	return ok
}

// Reason is a stable machine-readable explanation of a decision
type Reason string

const (
	ReasonOwner              Reason = "owner"
	ReasonGranted            Reason = "granted"
	ReasonImplicitStore      Reason = "implicit_store_access"
	ReasonAssignedStore      Reason = "assigned_store"
	ReasonNoContext          Reason = "no_context"
	ReasonTenantMismatch     Reason = "tenant_mismatch"
	ReasonDirectoryError     Reason = "directory_error"
	ReasonActionNotPermitted Reason = "action_not_permitted"
	ReasonMissingStore       Reason = "missing_store"
	ReasonStoreNotAccessible Reason = "store_not_accessible"
)

// Result is the outcome of an authorization check. ErrorCode is set only on denial.
type Result struct {
	Allowed   bool           `json:"allowed"`
	Reason    Reason         `json:"reason,omitempty"`
	ErrorCode auth.ErrorCode `json:"error_code,omitempty"`
}

func allow(reason Reason) Result {
	return Result{Allowed: true, Reason: reason}
}

func deny(reason Reason, code auth.ErrorCode) Result {
	return Result{Allowed: false, Reason: reason, ErrorCode: code}
}

// CacheKey returns the cache key for a user within a tenant. Ids containing
// ":" can collide, so cache hits are checked against the context's own ids.
func CacheKey(tenantID, userID string) string {
	return tenantID + ":" + userID
}
