package rfq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/rfq-portal/internal/platform/db"
	"github.com/odyssey-erp/rfq-portal/internal/shared"
)

var (
	// ErrUnknownEmployeeCode is returned when no sales user carries the code.
	ErrUnknownEmployeeCode = errors.New("unknown sales employee code")
	// ErrUnknownUser is returned when a referenced user does not exist or has no portal role.
	ErrUnknownUser = errors.New("unknown user")
	// ErrDuplicateNumber is returned when a document number was allocated twice.
	ErrDuplicateNumber = errors.New("duplicate rfq number")
)

// Repository persists RFQs, their line items and transition events.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Get(ctx context.Context, id int64) (*RFQ, error)
	List(ctx context.Context, req ListRFQsRequest) ([]RFQ, int, error)
	Create(ctx context.Context, r *RFQ) (int64, error)
	UpdateContent(ctx context.Context, id int64, expected Status, req UpdateRFQRequest) error
	Transition(ctx context.Context, id int64, from, to Status, action Action, actorID *int64, note *string) error
	Assign(ctx context.Context, id, salesID, planningID int64) error
	RecordCapacity(ctx context.Context, id int64, status CapacityStatus, reason *string, proposed *time.Time) error
	Reschedule(ctx context.Context, id int64, delivery time.Time) error
	NextNumber(ctx context.Context, day time.Time) (string, error)
	MissingProducts(ctx context.Context, ids []int64) ([]int64, error)
	SalesIDByEmployeeCode(ctx context.Context, code string) (int64, error)
	UserRole(ctx context.Context, userID int64) (shared.Role, error)
	Events(ctx context.Context, id int64) ([]Event, error)
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

// ============================================================================
// READS
// ============================================================================

const selectRFQ = `
	SELECT id, number, status, customer_id, employee_code,
		contact_name, contact_phone, contact_email, contact_address,
		expected_delivery_date, capacity_status, capacity_reason, proposed_new_delivery_date,
		assigned_sales_id, assigned_planning_id, created_by, created_at, updated_at
	FROM rfqs`

func scanRFQ(row pgx.Row) (*RFQ, error) {
	var (
		out      RFQ
		status   string
		capacity *string
	)
	err := row.Scan(
		&out.ID, &out.Number, &status, &out.CustomerID, &out.EmployeeCode,
		&out.Contact.Name, &out.Contact.Phone, &out.Contact.Email, &out.Contact.Address,
		&out.ExpectedDeliveryDate, &capacity, &out.CapacityReason, &out.ProposedNewDeliveryDate,
		&out.AssignedSalesID, &out.AssignedPlanningID, &out.CreatedBy, &out.CreatedAt, &out.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	out.Status = Status(status)
	if capacity != nil {
		cs := CapacityStatus(*capacity)
		out.CapacityStatus = &cs
	}
	return &out, nil
}

func (r *repository) Get(ctx context.Context, id int64) (*RFQ, error) {
	out, err := scanRFQ(r.db.QueryRow(ctx, selectRFQ+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get rfq %d: %w", id, err)
	}
	items, err := r.items(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	out.Items = items[id]
	return out, nil
}

func (r *repository) items(ctx context.Context, ids []int64) (map[int64][]LineItem, error) {
	rows, err := r.db.Query(ctx, `
		SELECT rfq_id, product_id, quantity, unit, notes
		FROM rfq_items
		WHERE rfq_id = ANY($1)
		ORDER BY rfq_id, position`, ids)
	if err != nil {
		return nil, fmt.Errorf("load rfq items: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]LineItem, len(ids))
	for rows.Next() {
		var (
			rfqID int64
			item  LineItem
		)
		if err := rows.Scan(&rfqID, &item.ProductID, &item.Quantity, &item.Unit, &item.Notes); err != nil {
			return nil, fmt.Errorf("scan rfq item: %w", err)
		}
		out[rfqID] = append(out[rfqID], item)
	}
	return out, rows.Err()
}

func (r *repository) List(ctx context.Context, req ListRFQsRequest) ([]RFQ, int, error) {
	var conditions []string
	var args []any
	argPos := 1

	if req.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argPos))
		args = append(args, string(*req.Status))
		argPos++
	}
	if req.CustomerID != nil {
		conditions = append(conditions, fmt.Sprintf("customer_id = $%d", argPos))
		args = append(args, *req.CustomerID)
		argPos++
	}
	if req.SalesID != nil {
		conditions = append(conditions, fmt.Sprintf("assigned_sales_id = $%d", argPos))
		args = append(args, *req.SalesID)
		argPos++
	}
	if req.PlanningID != nil {
		conditions = append(conditions, fmt.Sprintf("assigned_planning_id = $%d", argPos))
		args = append(args, *req.PlanningID)
		argPos++
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM rfqs"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count rfqs: %w", err)
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	query := selectRFQ + where + fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, req.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list rfqs: %w", err)
	}
	defer rows.Close()

	var out []RFQ
	var ids []int64
	for rows.Next() {
		item, err := scanRFQ(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan rfq: %w", err)
		}
		out = append(out, *item)
		ids = append(ids, item.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if len(ids) == 0 {
		return out, total, nil
	}

	items, err := r.items(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range out {
		out[i].Items = items[out[i].ID]
	}
	return out, total, nil
}

func (r *repository) Events(ctx context.Context, id int64) ([]Event, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, rfq_id, action, from_status, to_status, actor_id, note, created_at
		FROM rfq_events
		WHERE rfq_id = $1
		ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("list rfq events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			ev           Event
			action, from string
			to           string
		)
		if err := rows.Scan(&ev.ID, &ev.RFQID, &action, &from, &to, &ev.ActorID, &ev.Note, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan rfq event: %w", err)
		}
		ev.Action, ev.From, ev.To = Action(action), Status(from), Status(to)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ============================================================================
// WRITES
// ============================================================================

func (r *repository) Create(ctx context.Context, in *RFQ) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO rfqs (number, status, customer_id, employee_code,
			contact_name, contact_phone, contact_email, contact_address,
			expected_delivery_date, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		RETURNING id`,
		in.Number, string(in.Status), in.CustomerID, in.EmployeeCode,
		in.Contact.Name, in.Contact.Phone, in.Contact.Email, in.Contact.Address,
		DateOnly(in.ExpectedDeliveryDate), in.CreatedBy, in.CreatedAt,
	).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return 0, fmt.Errorf("create rfq %s: %w", in.Number, ErrDuplicateNumber)
		}
		return 0, fmt.Errorf("create rfq: %w", err)
	}
	if err := r.replaceItems(ctx, id, in.Items); err != nil {
		return 0, err
	}
	if _, err := r.db.Exec(ctx, `
		INSERT INTO rfq_events (rfq_id, action, from_status, to_status, actor_id, created_at)
		VALUES ($1, $2, '', $3, $4, $5)`, id, string(ActionCreate), string(in.Status), in.CreatedBy, in.CreatedAt); err != nil {
		return 0, fmt.Errorf("record rfq creation: %w", err)
	}
	return id, nil
}

func (r *repository) replaceItems(ctx context.Context, id int64, items []LineItem) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM rfq_items WHERE rfq_id = $1`, id); err != nil {
		return fmt.Errorf("clear rfq items: %w", err)
	}
	for i, item := range items {
		if _, err := r.db.Exec(ctx, `
			INSERT INTO rfq_items (rfq_id, position, product_id, quantity, unit, notes)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			id, i+1, item.ProductID, item.Quantity, item.Unit, item.Notes); err != nil {
			return fmt.Errorf("insert rfq item %d: %w", i+1, err)
		}
	}
	return nil
}

func (r *repository) UpdateContent(ctx context.Context, id int64, expected Status, req UpdateRFQRequest) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE rfqs
		SET contact_name = $3, contact_phone = $4, contact_email = $5, contact_address = $6,
			expected_delivery_date = $7, updated_at = NOW()
		WHERE id = $1 AND status = $2`,
		id, string(expected), req.Contact.Name, req.Contact.Phone, req.Contact.Email, req.Contact.Address,
		DateOnly(req.ExpectedDeliveryDate))
	if err != nil {
		return fmt.Errorf("update rfq %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConcurrentUpdate
	}
	return r.replaceItems(ctx, id, req.Items)
}

func (r *repository) Transition(ctx context.Context, id int64, from, to Status, action Action, actorID *int64, note *string) error {
	return TransitionStatus(ctx, r.db, id, from, to, action, actorID, note)
}

// TransitionStatus moves an RFQ from one status to another with a
// compare-and-set on the current status and appends the audit event. It runs
// on any DBTX so callers in other packages can use it inside their own
// transaction.
func TransitionStatus(ctx context.Context, q db.DBTX, id int64, from, to Status, action Action, actorID *int64, note *string) error {
	tag, err := q.Exec(ctx, `
		UPDATE rfqs SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2`, id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("transition rfq %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConcurrentUpdate
	}
	if _, err := q.Exec(ctx, `
		INSERT INTO rfq_events (rfq_id, action, from_status, to_status, actor_id, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		id, string(action), string(from), string(to), actorID, note); err != nil {
		return fmt.Errorf("record rfq event: %w", err)
	}
	return nil
}

func (r *repository) Assign(ctx context.Context, id, salesID, planningID int64) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE rfqs SET assigned_sales_id = $2, assigned_planning_id = $3, updated_at = NOW()
		WHERE id = $1 AND assigned_sales_id IS NULL AND assigned_planning_id IS NULL`,
		id, salesID, planningID)
	if err != nil {
		return fmt.Errorf("assign rfq %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyAssigned
	}
	return nil
}

func (r *repository) RecordCapacity(ctx context.Context, id int64, status CapacityStatus, reason *string, proposed *time.Time) error {
	var proposedDate *time.Time
	if proposed != nil {
		d := DateOnly(*proposed)
		proposedDate = &d
	}
	_, err := r.db.Exec(ctx, `
		UPDATE rfqs SET capacity_status = $2, capacity_reason = $3, proposed_new_delivery_date = $4, updated_at = NOW()
		WHERE id = $1`, id, string(status), reason, proposedDate)
	if err != nil {
		return fmt.Errorf("record capacity verdict for rfq %d: %w", id, err)
	}
	return nil
}

func (r *repository) Reschedule(ctx context.Context, id int64, delivery time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE rfqs
		SET expected_delivery_date = $2, capacity_status = NULL, capacity_reason = NULL,
			proposed_new_delivery_date = NULL, updated_at = NOW()
		WHERE id = $1`, id, DateOnly(delivery))
	if err != nil {
		return fmt.Errorf("reschedule rfq %d: %w", id, err)
	}
	return nil
}

// ============================================================================
// LOOKUPS
// ============================================================================

func (r *repository) NextNumber(ctx context.Context, day time.Time) (string, error) {
	return db.NextNumber(ctx, r.db, "RFQ", day)
}

func (r *repository) MissingProducts(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `
		SELECT want.id
		FROM unnest($1::bigint[]) AS want(id)
		LEFT JOIN products p ON p.id = want.id AND p.is_active
		WHERE p.id IS NULL`, ids)
	if err != nil {
		return nil, fmt.Errorf("check products: %w", err)
	}
	defer rows.Close()

	var missing []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		missing = append(missing, id)
	}
	return missing, rows.Err()
}

func (r *repository) SalesIDByEmployeeCode(ctx context.Context, code string) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		SELECT id FROM users
		WHERE employee_code = $1 AND role = $2 AND is_active`, code, string(shared.RoleSales)).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUnknownEmployeeCode
		}
		return 0, fmt.Errorf("lookup employee code: %w", err)
	}
	return id, nil
}

func (r *repository) UserRole(ctx context.Context, userID int64) (shared.Role, error) {
	var role string
	err := r.db.QueryRow(ctx, `SELECT role FROM users WHERE id = $1 AND is_active`, userID).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrUnknownUser
		}
		return "", fmt.Errorf("lookup user %d: %w", userID, err)
	}
	parsed, ok := shared.ParseRole(role)
	if !ok {
		return "", ErrUnknownUser
	}
	return parsed, nil
}
