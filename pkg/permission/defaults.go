package permission

import "github.com/platinummonkey/tenantauth/pkg/auth"

var (
	viewOnly = ActionSet{ActionView}
	viewAdd  = ActionSet{ActionView, ActionAdd}
	viewEdit = ActionSet{ActionView, ActionEdit}
	noDelete = ActionSet{ActionView, ActionAdd, ActionEdit}
	full     = ActionSet{ActionView, ActionAdd, ActionEdit, ActionDelete}
)

// defaultPermissions is the baseline module to action table per role. Owners are
// not listed; they are allowed unconditionally.
var defaultPermissions = map[auth.Role]ModulePermissions{
	auth.RoleCompanyManager: {
		ModuleDashboard:  viewOnly,
		ModulePOS:        full,
		ModuleProducts:   full,
		ModuleCategories: full,
		ModuleInventory:  full,
		ModuleSales:      noDelete,
		ModuleCustomers:  full,
		ModuleSuppliers:  full,
		ModuleShifts:     full,
		ModuleVouchers:   full,
		ModuleReports:    viewOnly,
		ModuleUsers:      full,
		ModuleStores:     noDelete,
		ModuleSettings:   viewEdit,
	},
	auth.RoleStoreManager: {
		ModuleDashboard:  viewOnly,
		ModulePOS:        noDelete,
		ModuleProducts:   noDelete,
		ModuleCategories: viewAdd,
		ModuleInventory:  noDelete,
		ModuleSales:      viewEdit,
		ModuleCustomers:  noDelete,
		ModuleSuppliers:  viewOnly,
		ModuleShifts:     noDelete,
		ModuleVouchers:   viewAdd,
		ModuleReports:    viewOnly,
		ModuleUsers:      viewAdd,
		ModuleStores:     viewOnly,
	},
	auth.RoleSalesperson: {
		ModuleDashboard: viewOnly,
		ModulePOS:       viewAdd,
		ModuleProducts:  viewOnly,
		ModuleSales:     viewAdd,
		ModuleCustomers: viewAdd,
		ModuleShifts:    viewAdd,
		ModuleVouchers:  viewOnly,
	},
}

// DefaultPermissions returns the baseline actions role has on module. Owners
// get every action.
func DefaultPermissions(role auth.Role, module Module) ActionSet {
	if role == auth.RoleOwner {
		return full
	}
	return defaultPermissions[role][module]
}
