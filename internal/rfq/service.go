package rfq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/rfq-portal/internal/observability"
	"github.com/odyssey-erp/rfq-portal/internal/platform/cache"
	"github.com/odyssey-erp/rfq-portal/internal/platform/httpx"
	"github.com/odyssey-erp/rfq-portal/internal/shared"
)

// TopicRFQUpdated is published after every committed RFQ change.
const TopicRFQUpdated = "rfq.updated"

// Locker serialises transitions of one RFQ across service instances.
type Locker interface {
	Acquire(ctx context.Context, key, token string) (func(), error)
}

// Publisher announces committed changes to live subscribers.
type Publisher interface {
	Publish(ctx context.Context, topic string, id int64, status string) error
}

// Service owns RFQ state and validates every transition.
type Service struct {
	repo      Repository
	checks    CheckStore
	prober    Prober
	locker    Locker
	publisher Publisher
	metrics   *observability.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs the RFQ service. locker, publisher and metrics may be nil.
func NewService(
	repo Repository,
	checks CheckStore,
	prober Prober,
	locker Locker,
	publisher Publisher,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		checks:    checks,
		prober:    prober,
		locker:    locker,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// ============================================================================
// READS
// ============================================================================

// Find returns the raw RFQ without access checks.
func (s *Service) Find(ctx context.Context, id int64) (*RFQ, error) {
	return s.repo.Get(ctx, id)
}

// Checks returns the capacity check progress of an RFQ.
func (s *Service) Checks(ctx context.Context, id int64) (CheckState, error) {
	return s.checks.Load(ctx, id)
}

// ClearChecks forgets capacity check progress, used once an RFQ leaves review.
func (s *Service) ClearChecks(ctx context.Context, id int64) {
	if err := s.checks.Clear(ctx, id); err != nil {
		s.logger.Warn("clear capacity checks", slog.Int64("rfq_id", id), slog.Any("error", err))
	}
}

// Get returns the caller's projection of an RFQ.
func (s *Service) Get(ctx context.Context, p shared.Principal, id int64) (*View, error) {
	r, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canRead(p, r) {
		return nil, ErrNotFound
	}
	return s.Project(ctx, p, r), nil
}

// Project builds the caller's view of r, loading capacity progress while
// the RFQ is under review.
func (s *Service) Project(ctx context.Context, p shared.Principal, r *RFQ) *View {
	var checks CheckState
	if r.Status == StatusReceivedByPlanning {
		loaded, err := s.checks.Load(ctx, r.ID)
		if err != nil {
			s.logger.Warn("load capacity checks", slog.Int64("rfq_id", r.ID), slog.Any("error", err))
		} else {
			checks = loaded
		}
	}
	actions := []Action{}
	if mayAct(p, r) == nil {
		actions = append(actions, Actions(p.Role, r, checks)...)
	}
	return &View{
		RFQ:      *r,
		Capacity: checks,
		Phase:    checks.Phase(),
		Display:  Classify(p.Role, r.Subject()),
		Actions:  actions,
	}
}

// List returns RFQs visible to the caller. Customers only see their own.
func (s *Service) List(ctx context.Context, p shared.Principal, req ListRFQsRequest) ([]Summary, int, error) {
	verr := &ValidationError{}
	collect(verr, validate.Struct(req))
	if err := verr.orNil(); err != nil {
		return nil, 0, err
	}
	if p.Role == shared.RoleCustomer {
		if p.CustomerID == nil {
			return []Summary{}, 0, nil
		}
		req.CustomerID = p.CustomerID
	}
	items, total, err := s.repo.List(ctx, req)
	if err != nil {
		return nil, 0, fmt.Errorf("list rfqs: %w", err)
	}
	out := make([]Summary, 0, len(items))
	for _, item := range items {
		out = append(out, Summary{RFQ: item, Display: Classify(p.Role, item.Subject())})
	}
	return out, total, nil
}

// Events returns the transition history of an RFQ.
func (s *Service) Events(ctx context.Context, p shared.Principal, id int64) ([]Event, error) {
	r, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canRead(p, r) {
		return nil, ErrNotFound
	}
	return s.repo.Events(ctx, id)
}

// ============================================================================
// CREATE / EDIT
// ============================================================================

// Create stores a new RFQ. p is nil for guest submissions. A valid sales
// employee code sends the RFQ immediately.
func (s *Service) Create(ctx context.Context, p *shared.Principal, req CreateRFQRequest) (*RFQ, error) {
	now := s.now()
	if err := ValidateCreate(req, now); err != nil {
		s.observe(ActionCreate, err)
		return nil, err
	}
	if err := s.checkProducts(ctx, s.repo, req.Items); err != nil {
		s.observe(ActionCreate, err)
		return nil, err
	}

	in := &RFQ{
		Status:               StatusDraft,
		Contact:              normalizeContact(req.Contact),
		Items:                req.Items,
		ExpectedDeliveryDate: DateOnly(req.ExpectedDeliveryDate),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if req.EmployeeCode != nil {
		if code := strings.TrimSpace(*req.EmployeeCode); code != "" {
			if _, err := s.repo.SalesIDByEmployeeCode(ctx, code); err != nil {
				if errors.Is(err, ErrUnknownEmployeeCode) {
					err = &ValidationError{Fields: map[string]string{"employee_code": "is not a valid sales employee code"}}
				}
				s.observe(ActionCreate, err)
				return nil, err
			}
			in.EmployeeCode = &code
			in.Status = StatusSent
		}
	}
	if p != nil {
		in.CreatedBy = actor(*p)
		if p.Role == shared.RoleCustomer {
			in.CustomerID = p.CustomerID
		}
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		number, err := tx.NextNumber(ctx, now)
		if err != nil {
			return err
		}
		in.Number = number
		id, err := tx.Create(ctx, in)
		if err != nil {
			return err
		}
		in.ID = id
		return nil
	})
	s.observe(ActionCreate, err)
	if err != nil {
		return nil, fmt.Errorf("create rfq: %w", err)
	}

	s.logger.Info("rfq created", slog.Int64("rfq_id", in.ID), slog.String("number", in.Number), slog.String("status", string(in.Status)))
	s.notify(ctx, in.ID, in.Status)
	return in, nil
}

// Update replaces the editable content of an RFQ. The full rule set runs
// again against the RFQ's creation date.
func (s *Service) Update(ctx context.Context, p shared.Principal, id int64, req UpdateRFQRequest) (*RFQ, error) {
	view, ok := EditViewFor(p.Role)
	if !ok {
		s.observe(ActionEdit, ErrForbidden)
		return nil, ErrForbidden
	}
	return s.run(ctx, p, id, step{
		action: ActionEdit,
		apply: func(ctx context.Context, tx Repository, r *RFQ) error {
			if !CanEdit(view, r.Status) {
				if r.Status.Terminal() {
					return ErrTerminal
				}
				return ErrNotEditable
			}
			if err := ValidateUpdate(req, r.CreatedAt); err != nil {
				return err
			}
			if r.Status == StatusCapacityInsufficient && !DateOnly(req.ExpectedDeliveryDate).Equal(DateOnly(r.ExpectedDeliveryDate)) {
				return &ValidationError{Fields: map[string]string{"expected_delivery_date": "is changed by reconfirming"}}
			}
			if err := s.checkProducts(ctx, tx, req.Items); err != nil {
				return err
			}
			req.Contact = normalizeContact(req.Contact)
			return tx.UpdateContent(ctx, id, r.Status, req)
		},
	})
}

func (s *Service) checkProducts(ctx context.Context, repo Repository, items []LineItem) error {
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	missing, err := repo.MissingProducts(ctx, ids)
	if err != nil {
		return err
	}
	if len(missing) == 0 {
		return nil
	}
	unknown := make(map[int64]bool, len(missing))
	for _, id := range missing {
		unknown[id] = true
	}
	verr := &ValidationError{}
	for i, item := range items {
		if unknown[item.ProductID] {
			verr.add(fmt.Sprintf("items[%d].product_id", i), "does not exist")
		}
	}
	return verr.orNil()
}

func normalizeContact(c Contact) Contact {
	c.Name = strings.TrimSpace(c.Name)
	c.Phone = NormalizePhone(c.Phone)
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	c.Address = strings.TrimSpace(c.Address)
	return c
}

// ============================================================================
// TRANSITIONS
// ============================================================================

// Send moves a DRAFT RFQ to SENT.
func (s *Service) Send(ctx context.Context, p shared.Principal, id int64) (*RFQ, error) {
	return s.run(ctx, p, id, step{action: ActionSend})
}

// Assign records the Sales and Planning owners. Assignment happens once.
func (s *Service) Assign(ctx context.Context, p shared.Principal, id int64, req AssignRequest) (*RFQ, error) {
	if err := validateAssign(req); err != nil {
		s.observe(ActionAssign, err)
		return nil, err
	}
	return s.run(ctx, p, id, s.assignStep(req))
}

// AssignAndSend assigns owners and sends the RFQ in one transaction. An RFQ
// that is already SENT is only assigned.
func (s *Service) AssignAndSend(ctx context.Context, p shared.Principal, id int64, req AssignRequest) (*RFQ, error) {
	if err := validateAssign(req); err != nil {
		s.observe(ActionAssign, err)
		return nil, err
	}
	return s.run(ctx, p, id, s.assignStep(req), step{
		action: ActionSend,
		skip:   func(r *RFQ) bool { return r.Status == StatusSent },
	})
}

func validateAssign(req AssignRequest) error {
	verr := &ValidationError{}
	collect(verr, validate.Struct(req))
	return verr.orNil()
}

func (s *Service) assignStep(req AssignRequest) step {
	note := fmt.Sprintf("sales=%d planning=%d", req.SalesID, req.PlanningID)
	return step{
		action: ActionAssign,
		note:   &note,
		apply: func(ctx context.Context, tx Repository, r *RFQ) error {
			if r.AssignedSalesID != nil || r.AssignedPlanningID != nil {
				return ErrAlreadyAssigned
			}
			verr := &ValidationError{}
			s.expectRole(ctx, tx, verr, "sales_id", req.SalesID, shared.RoleSales)
			s.expectRole(ctx, tx, verr, "planning_id", req.PlanningID, shared.RolePlanning)
			if err := verr.orNil(); err != nil {
				return err
			}
			if err := tx.Assign(ctx, r.ID, req.SalesID, req.PlanningID); err != nil {
				return err
			}
			r.AssignedSalesID, r.AssignedPlanningID = &req.SalesID, &req.PlanningID
			return nil
		},
	}
}

func (s *Service) expectRole(ctx context.Context, tx Repository, verr *ValidationError, field string, userID int64, want shared.Role) {
	role, err := tx.UserRole(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrUnknownUser) {
			s.logger.Warn("lookup assignee", slog.Int64("user_id", userID), slog.Any("error", err))
		}
		verr.add(field, "does not reference an active user")
		return
	}
	if role != want {
		verr.add(field, "must reference a "+strings.ToLower(string(want))+" user")
	}
}

// PreliminaryCheck confirms a SENT RFQ on the Sales side.
func (s *Service) PreliminaryCheck(ctx context.Context, p shared.Principal, id int64) (*RFQ, error) {
	return s.run(ctx, p, id, step{action: ActionPreliminaryCheck})
}

// ForwardToPlanning hands a confirmed RFQ to Planning.
func (s *Service) ForwardToPlanning(ctx context.Context, p shared.Principal, id int64) (*RFQ, error) {
	return s.run(ctx, p, id, step{action: ActionForwardToPlanning})
}

// ConfirmAndForward runs the preliminary check and the forward in one
// transaction.
func (s *Service) ConfirmAndForward(ctx context.Context, p shared.Principal, id int64) (*RFQ, error) {
	return s.run(ctx, p, id, step{action: ActionPreliminaryCheck}, step{action: ActionForwardToPlanning})
}

// ReceiveByPlanning acknowledges receipt and starts a fresh capacity review.
func (s *Service) ReceiveByPlanning(ctx context.Context, p shared.Principal, id int64) (*RFQ, error) {
	return s.run(ctx, p, id, step{action: ActionReceiveByPlanning})
}

// Reconfirm resubmits an RFQ rejected for capacity with a new delivery date.
func (s *Service) Reconfirm(ctx context.Context, p shared.Principal, id int64, req ReconfirmRequest) (*RFQ, error) {
	return s.run(ctx, p, id, step{
		action: ActionReconfirm,
		apply: func(ctx context.Context, tx Repository, r *RFQ) error {
			if err := ValidateReconfirm(req, r); err != nil {
				return err
			}
			return tx.Reschedule(ctx, r.ID, req.ExpectedDeliveryDate)
		},
	})
}

// Cancel ends an RFQ. It cannot be undone.
func (s *Service) Cancel(ctx context.Context, p shared.Principal, id int64, req CancelRequest) (*RFQ, error) {
	verr := &ValidationError{}
	collect(verr, validate.Struct(req))
	if err := verr.orNil(); err != nil {
		s.observe(ActionCancel, err)
		return nil, err
	}
	return s.run(ctx, p, id, step{action: ActionCancel, note: req.Reason})
}

// ============================================================================
// CAPACITY
// ============================================================================

func checkAction(dim Dimension) (Action, bool) {
	switch dim {
	case DimensionMachine:
		return ActionCheckMachineCapacity, true
	case DimensionWarehouse:
		return ActionCheckWarehouseCapacity, true
	}
	return "", false
}

// CheckCapacity probes one dimension and records its verdict. A dimension
// that already has a verdict is not probed again. Probe faults are returned
// as errors and leave the progress untouched.
func (s *Service) CheckCapacity(ctx context.Context, p shared.Principal, id int64, dim Dimension) (*CapacityResult, error) {
	action, ok := checkAction(dim)
	if !ok {
		return nil, &ValidationError{Fields: map[string]string{"dimension": "must be MACHINE or WAREHOUSE"}}
	}
	if !Permitted(p.Role, action) {
		s.observe(action, ErrForbidden)
		return nil, ErrForbidden
	}
	release, err := s.lock(ctx, id)
	if err != nil {
		s.observe(action, err)
		return nil, err
	}
	defer release()

	r, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := mayAct(p, r); err != nil {
		s.observe(action, err)
		return nil, err
	}
	if _, err := Target(action, r.Status); err != nil {
		s.observe(action, err)
		return nil, err
	}

	state, err := s.checks.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if mark := state.mark(dim); mark.Checked() {
		return &CapacityResult{Dimension: dim, Outcome: Outcome(mark), State: state}, nil
	}

	outcome, reason, err := s.prober.Probe(ctx, dim, r)
	if err != nil || outcome == OutcomeError {
		s.metrics.ObserveCapacityCheck(string(dim), string(OutcomeError))
		s.logger.Error("capacity probe failed", slog.Int64("rfq_id", id), slog.String("dimension", string(dim)), slog.Any("error", err))
		return nil, fmt.Errorf("%s check: %w", strings.ToLower(string(dim)), ErrProbeUnavailable)
	}
	s.metrics.ObserveCapacityCheck(string(dim), string(outcome))

	note := string(outcome)
	if reason != "" {
		note += ": " + reason
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		return tx.Transition(ctx, id, r.Status, r.Status, action, actor(p), &note)
	})
	s.observe(action, err)
	if err != nil {
		return nil, err
	}

	state = state.Record(dim, outcome)
	if err := s.checks.Save(ctx, id, state); err != nil {
		return nil, err
	}
	s.notify(ctx, id, r.Status)
	return &CapacityResult{Dimension: dim, Outcome: outcome, Reason: reason, State: state}, nil
}

func (c CheckState) mark(dim Dimension) Mark {
	if dim == DimensionMachine {
		return c.Machine
	}
	return c.Warehouse
}

// EvaluateCapacity records Planning's verdict. SUFFICIENT requires both
// dimensions to have been checked sufficient and keeps the RFQ in review.
// INSUFFICIENT needs a reason and returns the RFQ to Sales.
func (s *Service) EvaluateCapacity(ctx context.Context, p shared.Principal, id int64, v CapacityVerdict) (*RFQ, error) {
	verr := &ValidationError{}
	collect(verr, validate.Struct(v))
	if err := verr.orNil(); err != nil {
		return nil, err
	}
	if v.Status == CapacitySufficient {
		return s.run(ctx, p, id, step{
			action: ActionConfirmSufficient,
			apply: func(ctx context.Context, tx Repository, r *RFQ) error {
				if err := ValidateVerdict(v, r.ExpectedDeliveryDate); err != nil {
					return err
				}
				state, err := s.checks.Load(ctx, r.ID)
				if err != nil {
					return err
				}
				if !state.QuotationUnlocked() {
					return ErrCapacityNotVerified
				}
				return tx.RecordCapacity(ctx, r.ID, CapacitySufficient, nil, nil)
			},
		})
	}
	return s.run(ctx, p, id, step{
		action: ActionReportInsufficient,
		note:   v.Reason,
		apply: func(ctx context.Context, tx Repository, r *RFQ) error {
			if err := ValidateVerdict(v, r.ExpectedDeliveryDate); err != nil {
				return err
			}
			return tx.RecordCapacity(ctx, r.ID, CapacityInsufficient, v.Reason, v.ProposedNewDate)
		},
	})
}

// ============================================================================
// PLUMBING
// ============================================================================

// step is one transition inside a run. apply executes before the status
// change; skip drops the step for RFQs that already satisfy it.
type step struct {
	action Action
	note   *string
	apply  func(ctx context.Context, tx Repository, r *RFQ) error
	skip   func(r *RFQ) bool
}

// run executes steps under the RFQ lock in a single transaction. Either all
// steps commit or none do.
func (s *Service) run(ctx context.Context, p shared.Principal, id int64, steps ...step) (*RFQ, error) {
	last := steps[len(steps)-1].action
	for _, st := range steps {
		if !Permitted(p.Role, st.action) {
			s.observe(st.action, ErrForbidden)
			return nil, ErrForbidden
		}
	}

	release, err := s.lock(ctx, id)
	if err != nil {
		s.observe(last, err)
		return nil, err
	}
	defer release()

	var final Status
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		r, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := mayAct(p, r); err != nil {
			return err
		}
		for _, st := range steps {
			if st.skip != nil && st.skip(r) {
				continue
			}
			to, err := Target(st.action, r.Status)
			if err != nil {
				return err
			}
			if st.apply != nil {
				if err := st.apply(ctx, tx, r); err != nil {
					return err
				}
			}
			if err := tx.Transition(ctx, id, r.Status, to, st.action, actor(p), st.note); err != nil {
				return err
			}
			r.Status = to
		}
		final = r.Status
		return nil
	})
	s.observe(last, err)
	if err != nil {
		return nil, err
	}

	if final != StatusReceivedByPlanning || steps[0].action == ActionReceiveByPlanning {
		s.ClearChecks(ctx, id)
	}
	s.logger.Info("rfq transition", slog.Int64("rfq_id", id), slog.String("action", string(last)), slog.String("status", string(final)))
	s.notify(ctx, id, final)
	return s.repo.Get(ctx, id)
}

func (s *Service) lock(ctx context.Context, id int64) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	release, err := s.locker.Acquire(ctx, shared.RFQLockKey(id), uuid.NewString())
	if err != nil {
		if errors.Is(err, cache.ErrLockHeld) {
			return nil, ErrConcurrentUpdate
		}
		return nil, fmt.Errorf("lock rfq %d: %w", id, err)
	}
	return release, nil
}

func (s *Service) notify(ctx context.Context, id int64, status Status) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, TopicRFQUpdated, id, string(status)); err != nil {
		s.logger.Warn("publish rfq update", slog.Int64("rfq_id", id), slog.Any("error", err))
	}
}

func (s *Service) observe(action Action, err error) {
	s.metrics.ObserveTransition(string(action), ResultLabel(err))
}

// ResultLabel classifies an error for metrics.
func ResultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, httpx.ErrValidation):
		return "invalid"
	case errors.Is(err, httpx.ErrForbidden):
		return "forbidden"
	case errors.Is(err, httpx.ErrNotFound):
		return "not_found"
	case errors.Is(err, httpx.ErrConflict):
		return "conflict"
	}
	return "error"
}

func actor(p shared.Principal) *int64 {
	if p.UserID == 0 {
		return nil
	}
	id := p.UserID
	return &id
}

func canRead(p shared.Principal, r *RFQ) bool {
	if p.Role == shared.RoleCustomer {
		return p.CustomerID != nil && r.CustomerID != nil && *p.CustomerID == *r.CustomerID
	}
	return p.Role.IsStaff()
}

// mayAct rejects staff acting on an RFQ assigned to a colleague.
func mayAct(p shared.Principal, r *RFQ) error {
	if !canRead(p, r) {
		return ErrNotFound
	}
	switch p.Role {
	case shared.RoleSales:
		if r.AssignedSalesID != nil && *r.AssignedSalesID != p.UserID {
			return ErrForbidden
		}
	case shared.RolePlanning:
		if r.AssignedPlanningID != nil && *r.AssignedPlanningID != p.UserID {
			return ErrForbidden
		}
	}
	return nil
}
