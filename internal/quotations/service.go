package quotations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/rfq-portal/internal/observability"
	"github.com/odyssey-erp/rfq-portal/internal/platform/cache"
	"github.com/odyssey-erp/rfq-portal/internal/rfq"
	"github.com/odyssey-erp/rfq-portal/internal/shared"
)

// TopicQuotationUpdated is published after every committed quotation change.
const TopicQuotationUpdated = "quotation.updated"

const defaultCurrency = "VND"

// RFQSource is the part of the RFQ service quotations depend on.
type RFQSource interface {
	Find(ctx context.Context, id int64) (*rfq.RFQ, error)
	Checks(ctx context.Context, id int64) (rfq.CheckState, error)
	ClearChecks(ctx context.Context, id int64)
}

// Notifier tells the customer a quotation awaits their decision.
type Notifier interface {
	QuotationSent(ctx context.Context, quotationID int64) error
}

// Service drives quotations from creation to the customer's decision.
type Service struct {
	repo      Repository
	rfqs      RFQSource
	pricer    Pricer
	locker    rfq.Locker
	publisher rfq.Publisher
	notifier  Notifier
	metrics   *observability.Metrics
	logger    *slog.Logger
	window    Window
	now       func() time.Time
}

// Options carries the optional collaborators of Service.
type Options struct {
	Locker    rfq.Locker
	Publisher rfq.Publisher
	Notifier  Notifier
	Metrics   *observability.Metrics
	Logger    *slog.Logger
	Window    time.Duration
}

// NewService constructs the quotation service.
func NewService(repo Repository, rfqs RFQSource, pricer Pricer, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		rfqs:      rfqs,
		pricer:    pricer,
		locker:    opts.Locker,
		publisher: opts.Publisher,
		notifier:  opts.Notifier,
		metrics:   opts.Metrics,
		logger:    logger,
		window:    NewWindow(opts.Window),
		now:       time.Now,
	}
}

// Window exposes the response window used for deadlines.
func (s *Service) Window() Window {
	return s.window
}

// Get returns a quotation with its deadline. Customers only see quotations
// of their own RFQs once they have been sent.
func (s *Service) Get(ctx context.Context, p shared.Principal, id int64) (*View, error) {
	q, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.readable(ctx, p, q); err != nil {
		return nil, err
	}
	return s.Project(q), nil
}

// Project builds the customer-facing view of q at the current time.
func (s *Service) Project(q *Quotation) *View {
	view := &View{Quotation: *q, Display: ClassifyForCustomer(q, s.now(), s.window)}
	if q.Status == StatusSent {
		deadline := s.window.Deadline(q)
		view.Deadline = &deadline
	}
	return view
}

// CreateFromRFQ prices an RFQ whose capacity was verified and moves the RFQ
// to QUOTED in the same transaction.
func (s *Service) CreateFromRFQ(ctx context.Context, p shared.Principal, req CreateFromRFQRequest) (*Quotation, error) {
	const action = "quotation.create"
	if !rfq.Permitted(p.Role, rfq.ActionQuote) {
		s.observe(action, rfq.ErrForbidden)
		return nil, rfq.ErrForbidden
	}
	if req.RFQID <= 0 {
		return nil, &rfq.ValidationError{Fields: map[string]string{"rfq_id": "is required"}}
	}
	if req.ProfitMargin.IsNegative() || req.ProfitMargin.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		err := &rfq.ValidationError{Fields: map[string]string{"profit_margin": "must be at least 0 and below 1"}}
		s.observe(action, err)
		return nil, err
	}

	release, err := s.lock(ctx, shared.RFQLockKey(req.RFQID))
	if err != nil {
		s.observe(action, err)
		return nil, err
	}
	defer release()

	r, err := s.rfqs.Find(ctx, req.RFQID)
	if err != nil {
		return nil, err
	}
	if r.AssignedPlanningID != nil && *r.AssignedPlanningID != p.UserID {
		s.observe(action, rfq.ErrForbidden)
		return nil, rfq.ErrForbidden
	}
	to, err := rfq.Target(rfq.ActionQuote, r.Status)
	if err != nil {
		s.observe(action, err)
		return nil, err
	}
	checks, err := s.rfqs.Checks(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	if !checks.QuotationUnlocked() {
		s.observe(action, rfq.ErrCapacityNotVerified)
		return nil, rfq.ErrCapacityNotVerified
	}

	items := make([]PriceItem, 0, len(r.Items))
	for _, item := range r.Items {
		items = append(items, PriceItem{ProductID: item.ProductID, Quantity: item.Quantity, Unit: item.Unit})
	}
	priced, err := s.pricer.Price(ctx, PriceRequest{
		Reference:    r.Number,
		ProfitMargin: req.ProfitMargin,
		DeliveryDate: r.ExpectedDeliveryDate.Format(time.DateOnly),
		Items:        items,
	})
	if err != nil {
		s.logger.Error("pricing failed", slog.Int64("rfq_id", r.ID), slog.Any("error", err))
		s.observe(action, ErrPricing)
		return nil, ErrPricing
	}
	lines, total, err := buildLines(items, priced)
	if err != nil {
		s.logger.Error("pricing response rejected", slog.Int64("rfq_id", r.ID), slog.Any("error", err))
		s.observe(action, ErrPricing)
		return nil, ErrPricing
	}
	currency := priced.Currency
	if currency == "" {
		currency = defaultCurrency
	}

	now := s.now()
	q := &Quotation{
		RFQID:        r.ID,
		Status:       StatusDraft,
		ProfitMargin: req.ProfitMargin,
		TotalPrice:   total,
		Currency:     currency,
		Notes:        req.Notes,
		Lines:        lines,
		CreatedBy:    actor(p),
		CreatedAt:    now,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		number, err := tx.NextNumber(ctx, now)
		if err != nil {
			return err
		}
		q.Number = number
		id, err := tx.Create(ctx, q)
		if err != nil {
			return err
		}
		q.ID = id
		return tx.TransitionRFQ(ctx, r.ID, r.Status, to, rfq.ActionQuote, actor(p), &number)
	})
	s.observe(action, err)
	if err != nil {
		return nil, err
	}

	s.rfqs.ClearChecks(ctx, r.ID)
	s.logger.Info("quotation created", slog.Int64("quotation_id", q.ID), slog.Int64("rfq_id", r.ID),
		slog.String("number", q.Number), slog.String("total", q.TotalPrice.StringFixed(2)))
	s.notify(ctx, rfq.TopicRFQUpdated, r.ID, string(to))
	s.notify(ctx, TopicQuotationUpdated, q.ID, string(q.Status))
	return q, nil
}

// SendToCustomer opens the response window and queues the customer email.
func (s *Service) SendToCustomer(ctx context.Context, p shared.Principal, id int64) (*Quotation, error) {
	const action = "quotation.send"
	if p.Role != shared.RoleSales {
		s.observe(action, rfq.ErrForbidden)
		return nil, rfq.ErrForbidden
	}
	q, err := s.decide(ctx, p, id, action, func(ctx context.Context, tx Repository, q *Quotation, r *rfq.RFQ, now time.Time) error {
		if r.AssignedSalesID != nil && *r.AssignedSalesID != p.UserID {
			return rfq.ErrForbidden
		}
		if q.Status != StatusDraft {
			return fmt.Errorf("cannot send a %s quotation: %w", q.Status, ErrInvalidStatus)
		}
		return tx.UpdateStatus(ctx, q.ID, StatusDraft, StatusSent, now)
	})
	if err != nil {
		return nil, err
	}
	if s.notifier != nil {
		if err := s.notifier.QuotationSent(ctx, q.ID); err != nil {
			s.logger.Warn("queue quotation email", slog.Int64("quotation_id", q.ID), slog.Any("error", err))
		}
	}
	return q, nil
}

// Approve accepts a sent quotation inside its response window. The RFQ moves
// to ACCEPTED with it.
func (s *Service) Approve(ctx context.Context, p shared.Principal, id int64) (*Quotation, error) {
	const action = "quotation.approve"
	if !rfq.Permitted(p.Role, rfq.ActionAccept) {
		s.observe(action, rfq.ErrForbidden)
		return nil, rfq.ErrForbidden
	}
	return s.decide(ctx, p, id, action, func(ctx context.Context, tx Repository, q *Quotation, r *rfq.RFQ, now time.Time) error {
		if err := s.respondable(q, now); err != nil {
			return err
		}
		to, err := rfq.Target(rfq.ActionAccept, r.Status)
		if err != nil {
			return err
		}
		if err := tx.UpdateStatus(ctx, q.ID, StatusSent, StatusAccepted, now); err != nil {
			return err
		}
		return tx.TransitionRFQ(ctx, r.ID, r.Status, to, rfq.ActionAccept, actor(p), &q.Number)
	})
}

// Reject declines a sent quotation and closes the RFQ.
func (s *Service) Reject(ctx context.Context, p shared.Principal, id int64, req RejectRequest) (*Quotation, error) {
	const action = "quotation.reject"
	if !rfq.Permitted(p.Role, rfq.ActionReject) {
		s.observe(action, rfq.ErrForbidden)
		return nil, rfq.ErrForbidden
	}
	return s.decide(ctx, p, id, action, func(ctx context.Context, tx Repository, q *Quotation, r *rfq.RFQ, now time.Time) error {
		if q.Status != StatusSent {
			return fmt.Errorf("cannot reject a %s quotation: %w", q.Status, ErrInvalidStatus)
		}
		to, err := rfq.Target(rfq.ActionReject, r.Status)
		if err != nil {
			return err
		}
		if err := tx.UpdateStatus(ctx, q.ID, StatusSent, StatusRejected, now); err != nil {
			return err
		}
		note := q.Number
		if req.Reason != nil && *req.Reason != "" {
			note += ": " + *req.Reason
		}
		return tx.TransitionRFQ(ctx, r.ID, r.Status, to, rfq.ActionReject, actor(p), &note)
	})
}

// ExpireOverdue marks sent quotations whose window has closed as EXPIRED.
// The RFQ keeps its QUOTED status.
func (s *Service) ExpireOverdue(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.window.Length)
	expired, err := s.repo.ExpireSent(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	for _, e := range expired {
		s.logger.Info("quotation expired", slog.Int64("quotation_id", e.ID), slog.Int64("rfq_id", e.RFQID))
		s.notify(ctx, TopicQuotationUpdated, e.ID, string(StatusExpired))
	}
	return len(expired), nil
}

// respondable reports whether the customer may still answer q at now.
func (s *Service) respondable(q *Quotation, now time.Time) error {
	switch q.Status {
	case StatusSent:
		if s.window.Expired(q, now) {
			return ErrExpired
		}
		return nil
	case StatusExpired:
		return ErrExpired
	}
	return fmt.Errorf("cannot answer a %s quotation: %w", q.Status, ErrInvalidStatus)
}

// ============================================================================
// PLUMBING
// ============================================================================

type decision func(ctx context.Context, tx Repository, q *Quotation, r *rfq.RFQ, now time.Time) error

// decide runs fn under the quotation lock inside one transaction and
// returns the reloaded quotation.
func (s *Service) decide(ctx context.Context, p shared.Principal, id int64, action string, fn decision) (*Quotation, error) {
	release, err := s.lock(ctx, shared.QuotationLockKey(id))
	if err != nil {
		s.observe(action, err)
		return nil, err
	}
	defer release()

	var rfqID int64
	var final Status
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		q, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		r, err := s.readable(ctx, p, q)
		if err != nil {
			return err
		}
		if err := fn(ctx, tx, q, r, s.now()); err != nil {
			return err
		}
		updated, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		rfqID, final = r.ID, updated.Status
		return nil
	})
	s.observe(action, err)
	if err != nil {
		return nil, err
	}

	s.logger.Info("quotation transition", slog.Int64("quotation_id", id), slog.String("action", action), slog.String("status", string(final)))
	s.notify(ctx, TopicQuotationUpdated, id, string(final))
	if r, err := s.rfqs.Find(ctx, rfqID); err == nil {
		s.notify(ctx, rfq.TopicRFQUpdated, r.ID, string(r.Status))
	}
	return s.repo.Get(ctx, id)
}

// readable loads the RFQ behind q and hides quotations the caller may not see.
func (s *Service) readable(ctx context.Context, p shared.Principal, q *Quotation) (*rfq.RFQ, error) {
	r, err := s.rfqs.Find(ctx, q.RFQID)
	if err != nil {
		if errors.Is(err, rfq.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if p.Role == shared.RoleCustomer {
		owned := p.CustomerID != nil && r.CustomerID != nil && *p.CustomerID == *r.CustomerID
		if !owned || q.Status == StatusDraft {
			return nil, ErrNotFound
		}
		return r, nil
	}
	if !p.Role.IsStaff() {
		return nil, ErrNotFound
	}
	return r, nil
}

func (s *Service) lock(ctx context.Context, key string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	release, err := s.locker.Acquire(ctx, key, uuid.NewString())
	if err != nil {
		if errors.Is(err, cache.ErrLockHeld) {
			return nil, ErrConcurrentEdit
		}
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}
	return release, nil
}

func (s *Service) notify(ctx context.Context, topic string, id int64, status string) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, topic, id, status); err != nil {
		s.logger.Warn("publish update", slog.String("topic", topic), slog.Int64("id", id), slog.Any("error", err))
	}
}

func (s *Service) observe(action string, err error) {
	s.metrics.ObserveTransition(action, rfq.ResultLabel(err))
}

func actor(p shared.Principal) *int64 {
	if p.UserID == 0 {
		return nil
	}
	id := p.UserID
	return &id
}
