package rfq

import "github.com/odyssey-erp/rfq-portal/internal/shared"

// EditView names the screen an edit is attempted from. Back-office list
// views have their own, stricter rule than the Sales detail view.
type EditView string

const (
	EditViewSales      EditView = "SALES"
	EditViewCustomer   EditView = "CUSTOMER"
	EditViewBackOffice EditView = "BACK_OFFICE"
)

var editable = map[EditView]map[Status]struct{}{
	EditViewSales: {
		StatusDraft:                {},
		StatusSent:                 {},
		StatusCapacityInsufficient: {},
	},
	EditViewCustomer: {
		StatusDraft: {},
	},
	EditViewBackOffice: {
		StatusDraft: {},
		StatusSent:  {},
	},
}

// CanEdit reports whether contact, items and delivery date are mutable from view.
func CanEdit(view EditView, status Status) bool {
	_, ok := editable[view][status]
	return ok
}

// EditViewFor returns the detail view used by role, if the role may edit at all.
func EditViewFor(role shared.Role) (EditView, bool) {
	switch role {
	case shared.RoleSales:
		return EditViewSales, true
	case shared.RoleCustomer:
		return EditViewCustomer, true
	}
	return "", false
}
