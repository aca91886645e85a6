package rfq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/rfq-portal/internal/platform/httpx"
	"github.com/odyssey-erp/rfq-portal/internal/shared"
)

func TestTargetFollowsTable(t *testing.T) {
	cases := []struct {
		action Action
		from   Status
		to     Status
	}{
		{ActionSend, StatusDraft, StatusSent},
		{ActionPreliminaryCheck, StatusSent, StatusPreliminaryChecked},
		{ActionForwardToPlanning, StatusPreliminaryChecked, StatusForwardedToPlanning},
		{ActionReceiveByPlanning, StatusForwardedToPlanning, StatusReceivedByPlanning},
		{ActionCheckMachineCapacity, StatusReceivedByPlanning, StatusReceivedByPlanning},
		{ActionReportInsufficient, StatusReceivedByPlanning, StatusCapacityInsufficient},
		{ActionReconfirm, StatusCapacityInsufficient, StatusForwardedToPlanning},
		{ActionQuote, StatusReceivedByPlanning, StatusQuoted},
		{ActionAccept, StatusQuoted, StatusAccepted},
		{ActionReject, StatusQuoted, StatusRejected},
		{ActionCreateOrder, StatusAccepted, StatusOrderCreated},
		{ActionCancel, StatusCapacityInsufficient, StatusCanceled},
	}
	for _, tc := range cases {
		got, err := Target(tc.action, tc.from)
		require.NoError(t, err, "%s from %s", tc.action, tc.from)
		assert.Equal(t, tc.to, got, "%s from %s", tc.action, tc.from)
	}
}

func TestTargetRejectsIllegalMoves(t *testing.T) {
	_, err := Target(ActionSend, StatusQuoted)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.ErrorIs(t, err, httpx.ErrConflict)

	_, err = Target(ActionSend, StatusCanceled)
	assert.ErrorIs(t, err, ErrTerminal)

	// Planning can never clear a capacity rejection.
	_, err = Target(ActionReceiveByPlanning, StatusCapacityInsufficient)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = Target(ActionQuote, StatusCapacityInsufficient)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTerminalStatusesAcceptNoUserTransitions(t *testing.T) {
	for _, status := range AllStatuses {
		if !status.Terminal() {
			continue
		}
		for action := range transitionMap {
			if action == ActionCreateOrder && status == StatusAccepted {
				continue
			}
			assert.False(t, ValidTransition(action, status), "%s from %s", action, status)
		}
	}
}

func TestActionsForCapacityRejectedSales(t *testing.T) {
	r := &RFQ{Status: StatusCapacityInsufficient}
	got := Actions(shared.RoleSales, r, CheckState{})
	assert.Equal(t, []Action{ActionEdit, ActionReconfirm, ActionCancel}, got)
	assert.NotContains(t, got, ActionSend)
	assert.NotContains(t, got, ActionPreliminaryCheck)
}

func TestActionsGateQuotationOnBothChecks(t *testing.T) {
	r := &RFQ{Status: StatusReceivedByPlanning}

	got := Actions(shared.RolePlanning, r, CheckState{})
	assert.Equal(t, []Action{ActionCheckMachineCapacity, ActionCheckWarehouseCapacity, ActionReportInsufficient}, got)

	got = Actions(shared.RolePlanning, r, CheckState{Machine: Mark(OutcomeSufficient)})
	assert.Equal(t, []Action{ActionCheckWarehouseCapacity, ActionReportInsufficient}, got)

	got = Actions(shared.RolePlanning, r, CheckState{Machine: Mark(OutcomeSufficient), Warehouse: Mark(OutcomeSufficient)})
	assert.Equal(t, []Action{ActionConfirmSufficient, ActionReportInsufficient, ActionQuote}, got)

	got = Actions(shared.RolePlanning, r, CheckState{Machine: Mark(OutcomeSufficient), Warehouse: Mark(OutcomeInsufficient)})
	assert.NotContains(t, got, ActionQuote)
	assert.Contains(t, got, ActionReportInsufficient)
}

func TestActionsHideAssignOnceAssigned(t *testing.T) {
	id := int64(7)
	r := &RFQ{Status: StatusSent}
	assert.Contains(t, Actions(shared.RoleDirector, r, CheckState{}), ActionAssign)

	r.AssignedSalesID = &id
	r.AssignedPlanningID = &id
	assert.NotContains(t, Actions(shared.RoleDirector, r, CheckState{}), ActionAssign)
}

func TestCustomerEditOnlyInDraft(t *testing.T) {
	assert.Contains(t, Actions(shared.RoleCustomer, &RFQ{Status: StatusDraft}, CheckState{}), ActionEdit)
	assert.NotContains(t, Actions(shared.RoleCustomer, &RFQ{Status: StatusSent}, CheckState{}), ActionEdit)
}
