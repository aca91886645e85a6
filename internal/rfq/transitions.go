package rfq

import (
	"fmt"

	"github.com/odyssey-erp/rfq-portal/internal/shared"
)

// Action names a requested transition.
type Action string

const (
	ActionCreate                 Action = "create"
	ActionEdit                   Action = "edit"
	ActionSend                   Action = "send"
	ActionAssign                 Action = "assign"
	ActionPreliminaryCheck       Action = "preliminary-check"
	ActionForwardToPlanning      Action = "forward-to-planning"
	ActionReceiveByPlanning      Action = "receive-by-planning"
	ActionCheckMachineCapacity   Action = "check-machine-capacity"
	ActionCheckWarehouseCapacity Action = "check-warehouse-capacity"
	ActionConfirmSufficient      Action = "capacity-sufficient"
	ActionReportInsufficient     Action = "capacity-insufficient"
	ActionReconfirm              Action = "reconfirm"
	ActionCancel                 Action = "cancel"
	ActionQuote                  Action = "quote"
	ActionAccept                 Action = "accept"
	ActionReject                 Action = "reject"
	ActionCreateOrder            Action = "create-order"
)

type rule struct {
	from  []Status
	to    Status // empty keeps the current status
	roles []shared.Role
}

var transitionMap = map[Action]rule{
	ActionEdit: {
		from:  []Status{StatusDraft, StatusSent, StatusCapacityInsufficient},
		roles: []shared.Role{shared.RoleSales, shared.RoleCustomer},
	},
	ActionSend: {
		from:  []Status{StatusDraft},
		to:    StatusSent,
		roles: []shared.Role{shared.RoleSales, shared.RoleDirector},
	},
	ActionAssign: {
		from:  []Status{StatusDraft, StatusSent},
		roles: []shared.Role{shared.RoleDirector},
	},
	ActionPreliminaryCheck: {
		from:  []Status{StatusSent},
		to:    StatusPreliminaryChecked,
		roles: []shared.Role{shared.RoleSales},
	},
	ActionForwardToPlanning: {
		from:  []Status{StatusPreliminaryChecked},
		to:    StatusForwardedToPlanning,
		roles: []shared.Role{shared.RoleSales},
	},
	ActionReceiveByPlanning: {
		from:  []Status{StatusForwardedToPlanning},
		to:    StatusReceivedByPlanning,
		roles: []shared.Role{shared.RolePlanning},
	},
	ActionCheckMachineCapacity: {
		from:  []Status{StatusReceivedByPlanning},
		roles: []shared.Role{shared.RolePlanning},
	},
	ActionCheckWarehouseCapacity: {
		from:  []Status{StatusReceivedByPlanning},
		roles: []shared.Role{shared.RolePlanning},
	},
	ActionConfirmSufficient: {
		from:  []Status{StatusReceivedByPlanning},
		roles: []shared.Role{shared.RolePlanning},
	},
	ActionReportInsufficient: {
		from:  []Status{StatusReceivedByPlanning},
		to:    StatusCapacityInsufficient,
		roles: []shared.Role{shared.RolePlanning},
	},
	ActionReconfirm: {
		from:  []Status{StatusCapacityInsufficient},
		to:    StatusForwardedToPlanning,
		roles: []shared.Role{shared.RoleSales},
	},
	ActionCancel: {
		from:  []Status{StatusDraft, StatusSent, StatusCapacityInsufficient},
		to:    StatusCanceled,
		roles: []shared.Role{shared.RoleSales},
	},
	ActionQuote: {
		from:  []Status{StatusReceivedByPlanning},
		to:    StatusQuoted,
		roles: []shared.Role{shared.RolePlanning},
	},
	ActionAccept: {
		from:  []Status{StatusQuoted},
		to:    StatusAccepted,
		roles: []shared.Role{shared.RoleCustomer},
	},
	ActionReject: {
		from:  []Status{StatusQuoted},
		to:    StatusRejected,
		roles: []shared.Role{shared.RoleCustomer},
	},
	ActionCreateOrder: {
		from:  []Status{StatusAccepted},
		to:    StatusOrderCreated,
		roles: []shared.Role{shared.RoleCustomer, shared.RoleSales},
	},
}

// ValidTransition reports whether action may run from status.
func ValidTransition(action Action, from Status) bool {
	r, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range r.from {
		if status == from {
			return true
		}
	}
	return false
}

// Permitted reports whether role may request action at all.
func Permitted(role shared.Role, action Action) bool {
	r, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, allowed := range r.roles {
		if allowed == role {
			return true
		}
	}
	return false
}

// Target returns the status action leads to from from.
func Target(action Action, from Status) (Status, error) {
	if !ValidTransition(action, from) {
		if from.Terminal() {
			return "", fmt.Errorf("cannot %s: %w", action, ErrTerminal)
		}
		return "", fmt.Errorf("cannot %s an RFQ in status %s: %w", action, from, ErrInvalidTransition)
	}
	if to := transitionMap[action].to; to != "" {
		return to, nil
	}
	return from, nil
}

// Actions lists what role may request on r right now. Capacity gating and the
// per-view edit rule are applied, so the result drives enable/disable state.
func Actions(role shared.Role, r *RFQ, checks CheckState) []Action {
	ordered := []Action{
		ActionEdit, ActionSend, ActionAssign, ActionPreliminaryCheck, ActionForwardToPlanning,
		ActionReceiveByPlanning, ActionCheckMachineCapacity, ActionCheckWarehouseCapacity,
		ActionConfirmSufficient, ActionReportInsufficient, ActionReconfirm, ActionCancel,
		ActionQuote, ActionAccept, ActionReject, ActionCreateOrder,
	}
	var out []Action
	for _, action := range ordered {
		if !Permitted(role, action) || !ValidTransition(action, r.Status) {
			continue
		}
		switch action {
		case ActionEdit:
			view, ok := EditViewFor(role)
			if !ok || !CanEdit(view, r.Status) {
				continue
			}
		case ActionAssign:
			if r.AssignedSalesID != nil || r.AssignedPlanningID != nil {
				continue
			}
		case ActionCheckMachineCapacity:
			if checks.Machine.Checked() {
				continue
			}
		case ActionCheckWarehouseCapacity:
			if checks.Warehouse.Checked() {
				continue
			}
		case ActionConfirmSufficient, ActionQuote:
			if !checks.QuotationUnlocked() {
				continue
			}
		}
		out = append(out, action)
	}
	return out
}
