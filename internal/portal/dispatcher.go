package portal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/rfq-portal/internal/orders"
	"github.com/odyssey-erp/rfq-portal/internal/platform/i18n"
	"github.com/odyssey-erp/rfq-portal/internal/quotations"
	"github.com/odyssey-erp/rfq-portal/internal/rfq"
)

var (
	// ErrInFlight rejects a second invocation of an action still running on
	// the same entity.
	ErrInFlight = errors.New("action already in progress")
	// ErrConfirmationRequired guards irreversible actions.
	ErrConfirmationRequired = errors.New("explicit confirmation required")
	// ErrResponseWindowClosed is returned locally once a quotation can no
	// longer be accepted.
	ErrResponseWindowClosed = errors.New("quotation response window has closed")
	// ErrNotEditable is returned locally when the caller's view may not edit
	// the RFQ in its current status.
	ErrNotEditable = errors.New("rfq cannot be edited in its current status")
)

// PartialTransitionError reports a multi-step transition that stopped after
// some steps committed. The entity stays in the intermediate status until
// Resume is run.
type PartialTransitionError struct {
	EntityID  int64
	Completed string
	Failed    string
	Resume    string
	Message   string
	Err       error
}

func (e *PartialTransitionError) Error() string {
	return e.Message
}

func (e *PartialTransitionError) Unwrap() error {
	return e.Err
}

// Dispatcher runs role-scoped transitions. Every call is a request that may
// fail; successful RFQ transitions return the re-fetched projection.
type Dispatcher struct {
	client *Client
	now    func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewDispatcher constructs a dispatcher on c.
func NewDispatcher(c *Client) *Dispatcher {
	return &Dispatcher{client: c, now: time.Now, inFlight: map[string]struct{}{}}
}

func (d *Dispatcher) guard(action string, id int64) (func(), error) {
	key := action + ":" + strconv.FormatInt(id, 10)
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.inFlight[key]; busy {
		return nil, fmt.Errorf("%s %d: %w", action, id, ErrInFlight)
	}
	d.inFlight[key] = struct{}{}
	return func() {
		d.mu.Lock()
		delete(d.inFlight, key)
		d.mu.Unlock()
	}, nil
}

// transition posts one RFQ action and re-fetches the RFQ.
func (d *Dispatcher) transition(ctx context.Context, id int64, action rfq.Action, body any) (*rfq.View, error) {
	release, err := d.guard(string(action), id)
	if err != nil {
		return nil, err
	}
	defer release()
	if err := d.client.post(ctx, rfqPath(id, string(action)), body, nil); err != nil {
		return nil, err
	}
	return d.client.refreshRFQ(ctx, id)
}

// sequence runs two RFQ actions one after the other. A failure of the second
// is reported as a PartialTransitionError; nothing is rolled back.
func (d *Dispatcher) sequence(ctx context.Context, id int64, first, second rfq.Action, firstBody any) (*rfq.View, error) {
	release, err := d.guard(string(first)+"+"+string(second), id)
	if err != nil {
		return nil, err
	}
	defer release()
	if err := d.client.post(ctx, rfqPath(id, string(first)), firstBody, nil); err != nil {
		return nil, err
	}
	if err := d.client.post(ctx, rfqPath(id, string(second)), nil, nil); err != nil {
		return nil, d.partial(id, string(first), string(second), err)
	}
	return d.client.refreshRFQ(ctx, id)
}

func (d *Dispatcher) partial(id int64, completed, failed string, err error) error {
	return &PartialTransitionError{
		EntityID:  id,
		Completed: completed,
		Failed:    failed,
		Resume:    failed,
		Message:   i18n.Text(d.client.lang, i18n.MsgPartialStep, completed, failed, failed) + " " + err.Error(),
		Err:       err,
	}
}

// ============================================================================
// SALES
// ============================================================================

// Edit validates req against the RFQ's creation date and the caller's edit
// view, then saves it.
func (d *Dispatcher) Edit(ctx context.Context, id int64, req rfq.UpdateRFQRequest) (*rfq.View, error) {
	current, err := d.client.refreshRFQ(ctx, id)
	if err != nil {
		return nil, err
	}
	view, ok := rfq.EditViewFor(d.client.Role())
	if !ok || !rfq.CanEdit(view, current.Status) {
		return nil, ErrNotEditable
	}
	if err := rfq.ValidateUpdate(req, current.CreatedAt); err != nil {
		return nil, d.client.validationError(err)
	}
	release, err := d.guard(string(rfq.ActionEdit), id)
	if err != nil {
		return nil, err
	}
	defer release()
	if err := d.client.do(ctx, http.MethodPut, rfqPath(id, ""), req, nil, nil); err != nil {
		return nil, err
	}
	return d.client.refreshRFQ(ctx, id)
}

// Send moves a DRAFT RFQ to SENT.
func (d *Dispatcher) Send(ctx context.Context, id int64) (*rfq.View, error) {
	return d.transition(ctx, id, rfq.ActionSend, nil)
}

// ConfirmAndForward runs the preliminary check and then the forward.
func (d *Dispatcher) ConfirmAndForward(ctx context.Context, id int64) (*rfq.View, error) {
	return d.sequence(ctx, id, rfq.ActionPreliminaryCheck, rfq.ActionForwardToPlanning, nil)
}

// ResumeForward retries only the forward of a PRELIMINARY_CHECKED RFQ.
func (d *Dispatcher) ResumeForward(ctx context.Context, id int64) (*rfq.View, error) {
	return d.transition(ctx, id, rfq.ActionForwardToPlanning, nil)
}

// ReconfirmAfterInsufficient resubmits an RFQ returned for capacity. The new
// delivery date is checked against the rejected one before the request.
func (d *Dispatcher) ReconfirmAfterInsufficient(ctx context.Context, id int64, delivery time.Time) (*rfq.View, error) {
	current, err := d.client.refreshRFQ(ctx, id)
	if err != nil {
		return nil, err
	}
	req := rfq.ReconfirmRequest{ExpectedDeliveryDate: rfq.DateOnly(delivery)}
	if err := rfq.ValidateReconfirm(req, &current.RFQ); err != nil {
		return nil, d.client.validationError(err)
	}
	return d.transition(ctx, id, rfq.ActionReconfirm, req)
}

// Cancel ends an RFQ. It is irreversible, so confirmed must be true.
func (d *Dispatcher) Cancel(ctx context.Context, id int64, confirmed bool, reason string) (*rfq.View, error) {
	if !confirmed {
		return nil, ErrConfirmationRequired
	}
	var req rfq.CancelRequest
	if reason != "" {
		req.Reason = &reason
	}
	return d.transition(ctx, id, rfq.ActionCancel, req)
}

// SendQuotation sends a drafted quotation to the customer.
func (d *Dispatcher) SendQuotation(ctx context.Context, quotationID int64) (*quotations.View, error) {
	return d.quotationAction(ctx, quotationID, "send-to-customer", nil)
}

// ============================================================================
// DIRECTOR
// ============================================================================

// AssignAndSend assigns owners and then sends the RFQ. An RFQ that is already
// SENT is only assigned.
func (d *Dispatcher) AssignAndSend(ctx context.Context, id int64, salesID, planningID int64) (*rfq.View, error) {
	req := rfq.AssignRequest{SalesID: salesID, PlanningID: planningID}
	current, err := d.client.refreshRFQ(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != rfq.StatusDraft {
		return d.transition(ctx, id, rfq.ActionAssign, req)
	}
	return d.sequence(ctx, id, rfq.ActionAssign, rfq.ActionSend, req)
}

// ResumeSend retries only the send of an assigned DRAFT RFQ.
func (d *Dispatcher) ResumeSend(ctx context.Context, id int64) (*rfq.View, error) {
	return d.transition(ctx, id, rfq.ActionSend, nil)
}

// ============================================================================
// PLANNING
// ============================================================================

// Receive acknowledges an RFQ forwarded to Planning.
func (d *Dispatcher) Receive(ctx context.Context, id int64) (*rfq.View, error) {
	return d.transition(ctx, id, rfq.ActionReceiveByPlanning, nil)
}

// CreateQuotation prices an RFQ whose capacity was verified. The local check
// state must unlock quotation creation before any request is made.
func (d *Dispatcher) CreateQuotation(ctx context.Context, id int64, margin decimal.Decimal, notes string) (*quotations.View, error) {
	current, err := d.client.refreshRFQ(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.Capacity.QuotationUnlocked() {
		return nil, rfq.ErrCapacityNotVerified
	}
	release, err := d.guard("create-quotation", id)
	if err != nil {
		return nil, err
	}
	defer release()
	req := quotations.CreateFromRFQRequest{RFQID: id, ProfitMargin: margin}
	if notes != "" {
		req.Notes = &notes
	}
	var out quotations.View
	if err := d.client.post(ctx, "/v1/quotations/create-from-rfq", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ============================================================================
// CUSTOMER
// ============================================================================

// Accept approves a quotation and then creates its order. The accept button
// is disabled locally once the window has closed; the server stays
// authoritative. When the order step fails the quotation remains ACCEPTED
// and ResumeCreateOrder finishes the job.
func (d *Dispatcher) Accept(ctx context.Context, quotationID int64) (*orders.Order, error) {
	q, err := d.client.refreshQuotation(ctx, quotationID)
	if err != nil {
		return nil, err
	}
	if !d.AcceptEnabled(q) {
		return nil, ErrResponseWindowClosed
	}
	release, err := d.guard("accept", quotationID)
	if err != nil {
		return nil, err
	}
	defer release()
	if err := d.client.post(ctx, quotationPath(quotationID, "approve"), nil, nil); err != nil {
		return nil, err
	}
	order, err := d.createOrder(ctx, quotationID)
	if err != nil {
		return nil, d.partial(quotationID, "approve", "create-order", err)
	}
	return order, nil
}

// AcceptEnabled reports whether the accept action is offered for q now.
func (d *Dispatcher) AcceptEnabled(q *quotations.View) bool {
	if q.Status != quotations.StatusSent {
		return false
	}
	return q.Deadline == nil || d.now().Before(*q.Deadline)
}

// ResumeCreateOrder retries the order of an accepted quotation. The server
// returns the existing order when one was already created.
func (d *Dispatcher) ResumeCreateOrder(ctx context.Context, quotationID int64) (*orders.Order, error) {
	release, err := d.guard("create-order", quotationID)
	if err != nil {
		return nil, err
	}
	defer release()
	return d.createOrder(ctx, quotationID)
}

func (d *Dispatcher) createOrder(ctx context.Context, quotationID int64) (*orders.Order, error) {
	var out orders.Order
	headers := map[string]string{"Idempotency-Key": "order-" + strconv.FormatInt(quotationID, 10)}
	if err := d.client.do(ctx, http.MethodPost, quotationPath(quotationID, "create-order"), nil, &out, headers); err != nil {
		return nil, err
	}
	return &out, nil
}

// Reject declines a quotation.
func (d *Dispatcher) Reject(ctx context.Context, quotationID int64, reason string) (*quotations.View, error) {
	var req quotations.RejectRequest
	if reason != "" {
		req.Reason = &reason
	}
	return d.quotationAction(ctx, quotationID, "reject", req)
}

func (d *Dispatcher) quotationAction(ctx context.Context, id int64, action string, body any) (*quotations.View, error) {
	release, err := d.guard(action, id)
	if err != nil {
		return nil, err
	}
	defer release()
	var out quotations.View
	if err := d.client.post(ctx, quotationPath(id, action), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
