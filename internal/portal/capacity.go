package portal

import (
	"context"
	"errors"
	"time"

	"github.com/odyssey-erp/rfq-portal/internal/platform/httpx"
	"github.com/odyssey-erp/rfq-portal/internal/platform/i18n"
	"github.com/odyssey-erp/rfq-portal/internal/rfq"
)

// actionEvaluate is the endpoint recording either verdict.
const actionEvaluate rfq.Action = "capacity-evaluate"

// CapacityStep is the result of one capacity check as the screen shows it.
type CapacityStep struct {
	Result *rfq.CapacityResult
	// Evaluated is set when this check completed a sufficient pair and the
	// verdict was recorded automatically.
	Evaluated *rfq.View
}

// CheckMachineCapacity probes machine capacity.
func (d *Dispatcher) CheckMachineCapacity(ctx context.Context, id int64) (*CapacityStep, error) {
	return d.checkCapacity(ctx, id, rfq.ActionCheckMachineCapacity)
}

// CheckWarehouseCapacity probes warehouse capacity.
func (d *Dispatcher) CheckWarehouseCapacity(ctx context.Context, id int64) (*CapacityStep, error) {
	return d.checkCapacity(ctx, id, rfq.ActionCheckWarehouseCapacity)
}

// checkCapacity runs a probe. Probe faults come back as an APIError carrying
// the capacity fault message and never as an insufficient verdict. Once both
// dimensions are sufficient the SUFFICIENT verdict is recorded.
func (d *Dispatcher) checkCapacity(ctx context.Context, id int64, action rfq.Action) (*CapacityStep, error) {
	release, err := d.guard(string(action), id)
	if err != nil {
		return nil, err
	}
	var result rfq.CapacityResult
	err = d.client.post(ctx, rfqPath(id, string(action)), nil, &result)
	release()
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && errors.Is(apiErr.Err, httpx.ErrUnavailable) {
			apiErr.Message = i18n.Text(d.client.lang, i18n.MsgCapacityFault)
		}
		return nil, err
	}

	step := &CapacityStep{Result: &result}
	if result.State.QuotationUnlocked() {
		view, err := d.EvaluateCapacity(ctx, id, rfq.CapacityVerdict{Status: rfq.CapacitySufficient})
		if err != nil {
			return step, err
		}
		step.Evaluated = view
	}
	return step, nil
}

// EvaluateCapacity records a verdict. INSUFFICIENT needs a reason and a
// proposed date on or after the current delivery date; both are checked
// before the request.
func (d *Dispatcher) EvaluateCapacity(ctx context.Context, id int64, v rfq.CapacityVerdict) (*rfq.View, error) {
	if v.Status == rfq.CapacityInsufficient {
		current, err := d.client.refreshRFQ(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := rfq.ValidateVerdict(v, current.ExpectedDeliveryDate); err != nil {
			return nil, d.client.validationError(err)
		}
	}
	return d.transition(ctx, id, actionEvaluate, v)
}

// ReportInsufficient is the escape hatch after a failed check.
func (d *Dispatcher) ReportInsufficient(ctx context.Context, id int64, reason string, proposed *time.Time) (*rfq.View, error) {
	v := rfq.CapacityVerdict{Status: rfq.CapacityInsufficient, Reason: &reason}
	if proposed != nil {
		day := rfq.DateOnly(*proposed)
		v.ProposedNewDate = &day
	}
	return d.EvaluateCapacity(ctx, id, v)
}
