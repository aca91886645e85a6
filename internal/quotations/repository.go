package quotations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/rfq-portal/internal/platform/db"
	"github.com/odyssey-erp/rfq-portal/internal/rfq"
)

// Expiry identifies a quotation moved to EXPIRED by the sweep.
type Expiry struct {
	ID    int64
	RFQID int64
}

// Repository persists quotations and their lines.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Get(ctx context.Context, id int64) (*Quotation, error)
	GetByRFQ(ctx context.Context, rfqID int64) (*Quotation, error)
	Create(ctx context.Context, q *Quotation) (int64, error)
	UpdateStatus(ctx context.Context, id int64, from, to Status, at time.Time) error
	ExpireSent(ctx context.Context, sentBefore time.Time) ([]Expiry, error)
	TransitionRFQ(ctx context.Context, rfqID int64, from, to rfq.Status, action rfq.Action, actorID *int64, note *string) error
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

const selectQuotation = `
	SELECT id, number, rfq_id, status, profit_margin::text, total_price::text, currency,
		notes, created_by, created_at, sent_at, decided_at
	FROM quotations`

func scanQuotation(row pgx.Row) (*Quotation, error) {
	var (
		q             Quotation
		status        string
		margin, total string
	)
	err := row.Scan(&q.ID, &q.Number, &q.RFQID, &status, &margin, &total, &q.Currency,
		&q.Notes, &q.CreatedBy, &q.CreatedAt, &q.SentAt, &q.DecidedAt)
	if err != nil {
		return nil, err
	}
	q.Status = Status(status)
	if q.ProfitMargin, err = decimal.NewFromString(margin); err != nil {
		return nil, fmt.Errorf("parse profit margin: %w", err)
	}
	if q.TotalPrice, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("parse total price: %w", err)
	}
	return &q, nil
}

// Load reads a quotation with its lines on any DBTX. forUpdate locks the row
// for the rest of the surrounding transaction.
func Load(ctx context.Context, q db.DBTX, id int64, forUpdate bool) (*Quotation, error) {
	query := selectQuotation + ` WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	out, err := scanQuotation(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get quotation %d: %w", id, err)
	}
	if out.Lines, err = loadLines(ctx, q, id); err != nil {
		return nil, err
	}
	return out, nil
}

func loadLines(ctx context.Context, q db.DBTX, id int64) ([]Line, error) {
	rows, err := q.Query(ctx, `
		SELECT product_id, quantity, unit, unit_price::text, line_total::text
		FROM quotation_lines
		WHERE quotation_id = $1
		ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("load quotation lines: %w", err)
	}
	defer rows.Close()

	var lines []Line
	for rows.Next() {
		var (
			line        Line
			unit, total string
		)
		if err := rows.Scan(&line.ProductID, &line.Quantity, &line.Unit, &unit, &total); err != nil {
			return nil, fmt.Errorf("scan quotation line: %w", err)
		}
		if line.UnitPrice, err = decimal.NewFromString(unit); err != nil {
			return nil, err
		}
		if line.LineTotal, err = decimal.NewFromString(total); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// TransitionStatus moves a quotation between statuses with a compare-and-set
// on the current one. Decision timestamps are stamped for terminal moves.
func TransitionStatus(ctx context.Context, q db.DBTX, id int64, from, to Status, at time.Time) error {
	query := `UPDATE quotations SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`
	switch to {
	case StatusSent:
		query = `UPDATE quotations SET status = $3, sent_at = $4, updated_at = $4 WHERE id = $1 AND status = $2`
	case StatusAccepted, StatusRejected:
		query = `UPDATE quotations SET status = $3, decided_at = $4, updated_at = $4 WHERE id = $1 AND status = $2`
	}
	tag, err := q.Exec(ctx, query, id, string(from), string(to), at)
	if err != nil {
		return fmt.Errorf("transition quotation %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConcurrentEdit
	}
	return nil
}

func (r *repository) Get(ctx context.Context, id int64) (*Quotation, error) {
	return Load(ctx, r.db, id, false)
}

func (r *repository) GetByRFQ(ctx context.Context, rfqID int64) (*Quotation, error) {
	var id int64
	err := r.db.QueryRow(ctx, `SELECT id FROM quotations WHERE rfq_id = $1`, rfqID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get quotation by rfq %d: %w", rfqID, err)
	}
	return r.Get(ctx, id)
}

func (r *repository) Create(ctx context.Context, q *Quotation) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO quotations (number, rfq_id, status, profit_margin, total_price, currency, notes,
			created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7, $8, $9, $9)
		RETURNING id`,
		q.Number, q.RFQID, string(q.Status), q.ProfitMargin.String(), q.TotalPrice.String(), q.Currency, q.Notes,
		q.CreatedBy, q.CreatedAt).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return 0, ErrAlreadyQuoted
		}
		return 0, fmt.Errorf("create quotation: %w", err)
	}
	for i, line := range q.Lines {
		if _, err := r.db.Exec(ctx, `
			INSERT INTO quotation_lines (quotation_id, position, product_id, quantity, unit, unit_price, line_total)
			VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric)`,
			id, i+1, line.ProductID, line.Quantity, line.Unit, line.UnitPrice.String(), line.LineTotal.String()); err != nil {
			return 0, fmt.Errorf("insert quotation line %d: %w", i+1, err)
		}
	}
	return id, nil
}

func (r *repository) UpdateStatus(ctx context.Context, id int64, from, to Status, at time.Time) error {
	return TransitionStatus(ctx, r.db, id, from, to, at)
}

func (r *repository) ExpireSent(ctx context.Context, sentBefore time.Time) ([]Expiry, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE quotations SET status = $1, updated_at = NOW()
		WHERE status = $2 AND COALESCE(sent_at, created_at) <= $3
		RETURNING id, rfq_id`, string(StatusExpired), string(StatusSent), sentBefore)
	if err != nil {
		return nil, fmt.Errorf("expire quotations: %w", err)
	}
	defer rows.Close()

	var out []Expiry
	for rows.Next() {
		var e Expiry
		if err := rows.Scan(&e.ID, &e.RFQID); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *repository) TransitionRFQ(ctx context.Context, rfqID int64, from, to rfq.Status, action rfq.Action, actorID *int64, note *string) error {
	return rfq.TransitionStatus(ctx, r.db, rfqID, from, to, action, actorID, note)
}

func (r *repository) NextNumber(ctx context.Context, day time.Time) (string, error) {
	return db.NextNumber(ctx, r.db, "QUO", day)
}
