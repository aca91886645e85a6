package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/rfq-portal/internal/observability"
	"github.com/odyssey-erp/rfq-portal/internal/platform/cache"
	"github.com/odyssey-erp/rfq-portal/internal/quotations"
	"github.com/odyssey-erp/rfq-portal/internal/rfq"
	"github.com/odyssey-erp/rfq-portal/internal/shared"
)

// TopicOrderCreated is published once an order has been committed.
const TopicOrderCreated = "order.created"

const metricAction = "order.create"

// RFQFinder loads the RFQ behind a quotation.
type RFQFinder interface {
	Find(ctx context.Context, id int64) (*rfq.RFQ, error)
}

// Service turns accepted quotations into orders.
type Service struct {
	repo      Repository
	rfqs      RFQFinder
	locker    rfq.Locker
	publisher rfq.Publisher
	metrics   *observability.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs the order service. locker, publisher and metrics may be nil.
func NewService(repo Repository, rfqs RFQFinder, locker rfq.Locker, publisher rfq.Publisher, metrics *observability.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		rfqs:      rfqs,
		locker:    locker,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// Get returns an order the caller may see.
func (s *Service) Get(ctx context.Context, p shared.Principal, id int64) (*Order, error) {
	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !visible(p, o) {
		return nil, ErrNotFound
	}
	return o, nil
}

// CreateFromQuotation creates the single order of an accepted quotation. When
// the order already exists it is returned with created=false.
func (s *Service) CreateFromQuotation(ctx context.Context, p shared.Principal, quotationID int64) (*Order, bool, error) {
	if !rfq.Permitted(p.Role, rfq.ActionCreateOrder) {
		s.metrics.ObserveTransition(metricAction, rfq.ResultLabel(rfq.ErrForbidden))
		return nil, false, rfq.ErrForbidden
	}
	release, err := s.lock(ctx, quotationID)
	if err != nil {
		s.metrics.ObserveTransition(metricAction, rfq.ResultLabel(err))
		return nil, false, err
	}
	defer release()

	var (
		out     *Order
		created bool
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		q, err := tx.LockQuotation(ctx, quotationID)
		if err != nil {
			if errors.Is(err, quotations.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}
		r, err := s.rfqs.Find(ctx, q.RFQID)
		if err != nil {
			return err
		}
		if err := mayOrder(p, r); err != nil {
			return err
		}

		existing, err := tx.GetByQuotation(ctx, quotationID)
		if err == nil {
			out = existing
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}

		if q.Status != quotations.StatusAccepted {
			return fmt.Errorf("quotation %s is %s: %w", q.Number, q.Status, ErrNotAccepted)
		}
		to, err := rfq.Target(rfq.ActionCreateOrder, r.Status)
		if err != nil {
			return err
		}

		now := s.now()
		number, err := tx.NextNumber(ctx, now)
		if err != nil {
			return err
		}
		o := &Order{
			Number:      number,
			QuotationID: q.ID,
			RFQID:       r.ID,
			CustomerID:  r.CustomerID,
			Status:      StatusCreated,
			TotalPrice:  q.TotalPrice,
			Currency:    q.Currency,
			CreatedBy:   actor(p),
			CreatedAt:   now,
		}
		if o.ID, err = tx.Create(ctx, o); err != nil {
			return err
		}
		if err := tx.MarkQuotationOrdered(ctx, q.ID, now); err != nil {
			return err
		}
		if err := tx.TransitionRFQ(ctx, r.ID, r.Status, to, actor(p), &number); err != nil {
			return err
		}
		out, created = o, true
		return nil
	})
	s.metrics.ObserveTransition(metricAction, rfq.ResultLabel(err))
	if err != nil {
		return nil, false, err
	}

	if created {
		s.logger.Info("order created", slog.Int64("order_id", out.ID), slog.String("number", out.Number),
			slog.Int64("quotation_id", quotationID), slog.Int64("rfq_id", out.RFQID))
		s.notify(ctx, TopicOrderCreated, out.ID, string(out.Status))
		s.notify(ctx, quotations.TopicQuotationUpdated, quotationID, string(quotations.StatusOrderCreated))
		s.notify(ctx, rfq.TopicRFQUpdated, out.RFQID, string(rfq.StatusOrderCreated))
	}
	return out, created, nil
}

func (s *Service) lock(ctx context.Context, quotationID int64) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	release, err := s.locker.Acquire(ctx, shared.QuotationLockKey(quotationID), uuid.NewString())
	if err != nil {
		if errors.Is(err, cache.ErrLockHeld) {
			return nil, ErrConcurrentCreate
		}
		return nil, fmt.Errorf("lock quotation %d: %w", quotationID, err)
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

func mayOrder(p shared.Principal, r *rfq.RFQ) error {
	switch p.Role {
	case shared.RoleCustomer:
		if p.CustomerID == nil || r.CustomerID == nil || *p.CustomerID != *r.CustomerID {
			return ErrNotFound
		}
	case shared.RoleSales:
		if r.AssignedSalesID != nil && *r.AssignedSalesID != p.UserID {
			return rfq.ErrForbidden
		}
	}
	return nil
}

func visible(p shared.Principal, o *Order) bool {
	if p.Role == shared.RoleCustomer {
		return p.CustomerID != nil && o.CustomerID != nil && *p.CustomerID == *o.CustomerID
	}
	return p.Role.IsStaff()
}

func actor(p shared.Principal) *int64 {
	if p.UserID == 0 {
		return nil
	}
	id := p.UserID
	return &id
}
