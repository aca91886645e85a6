package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/rfq-portal/internal/platform/db"
	"github.com/odyssey-erp/rfq-portal/internal/quotations"
	"github.com/odyssey-erp/rfq-portal/internal/rfq"
)

// Repository persists orders and performs the status moves that create one.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Get(ctx context.Context, id int64) (*Order, error)
	GetByQuotation(ctx context.Context, quotationID int64) (*Order, error)
	Create(ctx context.Context, o *Order) (int64, error)
	LockQuotation(ctx context.Context, quotationID int64) (*quotations.Quotation, error)
	MarkQuotationOrdered(ctx context.Context, quotationID int64, at time.Time) error
	TransitionRFQ(ctx context.Context, rfqID int64, from, to rfq.Status, actorID *int64, note *string) error
	NextNumber(ctx context.Context, day time.Time) (string, error)
}

type repository struct {
	db   db.DBTX
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

const selectOrder = `
	SELECT id, number, quotation_id, rfq_id, customer_id, status, total_price::text, currency,
		created_by, created_at
	FROM orders`

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		o      Order
		status string
		total  string
	)
	if err := row.Scan(&o.ID, &o.Number, &o.QuotationID, &o.RFQID, &o.CustomerID, &status, &total,
		&o.Currency, &o.CreatedBy, &o.CreatedAt); err != nil {
		return nil, err
	}
	o.Status = Status(status)
	amount, err := decimal.NewFromString(total)
	if err != nil {
		return nil, fmt.Errorf("parse order total: %w", err)
	}
	o.TotalPrice = amount
	return &o, nil
}

func (r *repository) Get(ctx context.Context, id int64) (*Order, error) {
	o, err := scanOrder(r.db.QueryRow(ctx, selectOrder+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get order %d: %w", id, err)
	}
	return o, nil
}

func (r *repository) GetByQuotation(ctx context.Context, quotationID int64) (*Order, error) {
	o, err := scanOrder(r.db.QueryRow(ctx, selectOrder+` WHERE quotation_id = $1`, quotationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get order by quotation %d: %w", quotationID, err)
	}
	return o, nil
}

func (r *repository) Create(ctx context.Context, o *Order) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO orders (number, quotation_id, rfq_id, customer_id, status, total_price, currency,
			created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9)
		RETURNING id`,
		o.Number, o.QuotationID, o.RFQID, o.CustomerID, string(o.Status), o.TotalPrice.String(), o.Currency,
		o.CreatedBy, o.CreatedAt).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return 0, ErrAlreadyCreated
		}
		return 0, fmt.Errorf("create order: %w", err)
	}
	return id, nil
}

func (r *repository) LockQuotation(ctx context.Context, quotationID int64) (*quotations.Quotation, error) {
	return quotations.Load(ctx, r.db, quotationID, true)
}

func (r *repository) MarkQuotationOrdered(ctx context.Context, quotationID int64, at time.Time) error {
	return quotations.TransitionStatus(ctx, r.db, quotationID, quotations.StatusAccepted, quotations.StatusOrderCreated, at)
}

func (r *repository) TransitionRFQ(ctx context.Context, rfqID int64, from, to rfq.Status, actorID *int64, note *string) error {
	return rfq.TransitionStatus(ctx, r.db, rfqID, from, to, rfq.ActionCreateOrder, actorID, note)
}

func (r *repository) NextNumber(ctx context.Context, day time.Time) (string, error) {
	return db.NextNumber(ctx, r.db, "SO", day)
}
