package rfq

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/rfq-portal/internal/platform/db"
)

// Prober answers a capacity question for one dimension. A returned error means
// the probe could not run; it is never a verdict.
type Prober interface {
	Probe(ctx context.Context, dim Dimension, r *RFQ) (Outcome, string, error)
}

// PlanningProber evaluates capacity against the planning tables.
type PlanningProber struct {
	db  db.DBTX
	now func() time.Time
}

// NewPlanningProber constructs a prober reading from pool.
func NewPlanningProber(pool *pgxpool.Pool) *PlanningProber {
	return &PlanningProber{db: pool, now: time.Now}
}

// Probe implements Prober.
func (p *PlanningProber) Probe(ctx context.Context, dim Dimension, r *RFQ) (Outcome, string, error) {
	switch dim {
	case DimensionMachine:
		return p.machine(ctx, r)
	case DimensionWarehouse:
		return p.warehouse(ctx, r)
	}
	return OutcomeError, "", fmt.Errorf("unknown capacity dimension %q", dim)
}

type machineLine struct {
	dailyOutput int
	booked      int
}

func (p *PlanningProber) machine(ctx context.Context, r *RFQ) (Outcome, string, error) {
	lines := make(map[int64]machineLine, len(r.Items))
	for _, item := range r.Items {
		if _, seen := lines[item.ProductID]; seen {
			continue
		}
		var line machineLine
		err := p.db.QueryRow(ctx, `
			SELECT mc.daily_output,
				COALESCE((SELECT SUM(b.quantity) FROM machine_bookings b
					WHERE b.product_id = mc.product_id AND b.due_date <= $2), 0)
			FROM machine_capacity mc
			WHERE mc.product_id = $1`, item.ProductID, DateOnly(r.ExpectedDeliveryDate)).Scan(&line.dailyOutput, &line.booked)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				continue
			}
			return OutcomeError, "", fmt.Errorf("probe machine capacity: %w", err)
		}
		lines[item.ProductID] = line
	}
	outcome, reason := machineVerdict(r.Items, lines, productionDays(p.now(), r.ExpectedDeliveryDate))
	return outcome, reason, nil
}

func (p *PlanningProber) warehouse(ctx context.Context, r *RFQ) (Outcome, string, error) {
	free := map[string]int{}
	for unit := range demandByUnit(r.Items) {
		var units int
		err := p.db.QueryRow(ctx, `
			SELECT COALESCE(SUM(capacity - occupied), 0)
			FROM warehouse_capacity
			WHERE unit = $1`, unit).Scan(&units)
		if err != nil {
			return OutcomeError, "", fmt.Errorf("probe warehouse capacity: %w", err)
		}
		free[unit] = units
	}
	outcome, reason := warehouseVerdict(r.Items, free)
	return outcome, reason, nil
}

func productionDays(now, delivery time.Time) int {
	days := int(DateOnly(delivery).Sub(DateOnly(now)).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// machineVerdict sums demand per product and compares it with what the
// product's line can still produce before delivery.
func machineVerdict(items []LineItem, lines map[int64]machineLine, days int) (Outcome, string) {
	demand := map[int64]int{}
	var order []int64
	for _, item := range items {
		if _, seen := demand[item.ProductID]; !seen {
			order = append(order, item.ProductID)
		}
		demand[item.ProductID] += item.Quantity
	}
	for _, productID := range order {
		line, ok := lines[productID]
		if !ok {
			return OutcomeInsufficient, fmt.Sprintf("no machine line is configured for product %d", productID)
		}
		available := line.dailyOutput*days - line.booked
		if demand[productID] > available {
			if available < 0 {
				available = 0
			}
			return OutcomeInsufficient, fmt.Sprintf("machine line for product %d can deliver %d of %d units in time", productID, available, demand[productID])
		}
	}
	return OutcomeSufficient, ""
}

func demandByUnit(items []LineItem) map[string]int {
	out := map[string]int{}
	for _, item := range items {
		out[item.Unit] += item.Quantity
	}
	return out
}

func warehouseVerdict(items []LineItem, free map[string]int) (Outcome, string) {
	demand := demandByUnit(items)
	units := make([]string, 0, len(demand))
	for unit := range demand {
		units = append(units, unit)
	}
	sort.Strings(units)
	for _, unit := range units {
		if demand[unit] > free[unit] {
			return OutcomeInsufficient, fmt.Sprintf("warehouse has room for %d of %d %s", max(free[unit], 0), demand[unit], unit)
		}
	}
	return OutcomeSufficient, ""
}
