package rfq

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Dimension is one of the two capacity checks Planning performs.
type Dimension string

const (
	DimensionMachine   Dimension = "MACHINE"
	DimensionWarehouse Dimension = "WAREHOUSE"
)

// Outcome is the tagged result of a capacity probe. ERROR means the probe
// itself failed and carries no verdict.
type Outcome string

const (
	OutcomeSufficient   Outcome = "SUFFICIENT"
	OutcomeInsufficient Outcome = "INSUFFICIENT"
	OutcomeError        Outcome = "ERROR"
)

// CapacityResult is returned by the check endpoints.
type CapacityResult struct {
	Dimension Dimension  `json:"dimension"`
	Outcome   Outcome    `json:"outcome"`
	Reason    string     `json:"reason,omitempty"`
	State     CheckState `json:"state"`
}

// Mark records the outcome of one dimension; empty means not yet checked.
type Mark string

// Checked reports whether the dimension has a verdict.
func (m Mark) Checked() bool { return m != "" }

// Phase names the sub-flow state derived from the two marks.
type Phase string

const (
	PhaseNone                  Phase = "NONE"
	PhaseMachineChecked        Phase = "MACHINE_CHECKED"
	PhaseWarehouseChecked      Phase = "WAREHOUSE_CHECKED"
	PhaseBothCheckedSufficient Phase = "BOTH_CHECKED_SUFFICIENT"
	PhaseAnyCheckFailed        Phase = "ANY_CHECK_FAILED"
)

// CheckState is the per-RFQ capacity check progress.
type CheckState struct {
	Machine   Mark `json:"machine,omitempty"`
	Warehouse Mark `json:"warehouse,omitempty"`
}

// QuotationUnlocked is true iff both dimensions were confirmed sufficient.
func (c CheckState) QuotationUnlocked() bool {
	return c.Machine == Mark(OutcomeSufficient) && c.Warehouse == Mark(OutcomeSufficient)
}

// Failed reports whether any dimension came back insufficient.
func (c CheckState) Failed() bool {
	return c.Machine == Mark(OutcomeInsufficient) || c.Warehouse == Mark(OutcomeInsufficient)
}

// Phase derives the sub-flow state. The first failure wins.
func (c CheckState) Phase() Phase {
	switch {
	case c.Failed():
		return PhaseAnyCheckFailed
	case c.QuotationUnlocked():
		return PhaseBothCheckedSufficient
	case c.Machine.Checked():
		return PhaseMachineChecked
	case c.Warehouse.Checked():
		return PhaseWarehouseChecked
	}
	return PhaseNone
}

// Record applies a probe outcome. ERROR outcomes leave the state untouched.
func (c CheckState) Record(dim Dimension, outcome Outcome) CheckState {
	if outcome == OutcomeError {
		return c
	}
	switch dim {
	case DimensionMachine:
		c.Machine = Mark(outcome)
	case DimensionWarehouse:
		c.Warehouse = Mark(outcome)
	}
	return c
}

// CheckStore persists capacity check progress between requests.
type CheckStore interface {
	Load(ctx context.Context, rfqID int64) (CheckState, error)
	Save(ctx context.Context, rfqID int64, state CheckState) error
	Clear(ctx context.Context, rfqID int64) error
}

// RedisCheckStore keeps check progress in a Redis hash that expires after ttl,
// so a reload within the window resumes where Planning left off.
type RedisCheckStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCheckStore constructs the store.
func NewRedisCheckStore(client *redis.Client, ttl time.Duration) *RedisCheckStore {
	return &RedisCheckStore{client: client, ttl: ttl}
}

func checkKey(rfqID int64) string {
	return "rfq:" + strconv.FormatInt(rfqID, 10) + ":capacity"
}

// Load returns the stored progress; a missing key is an empty state.
func (s *RedisCheckStore) Load(ctx context.Context, rfqID int64) (CheckState, error) {
	values, err := s.client.HGetAll(ctx, checkKey(rfqID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return CheckState{}, nil
		}
		return CheckState{}, fmt.Errorf("load capacity checks: %w", err)
	}
	return CheckState{
		Machine:   Mark(values[string(DimensionMachine)]),
		Warehouse: Mark(values[string(DimensionWarehouse)]),
	}, nil
}

// Save writes the progress and refreshes its expiry.
func (s *RedisCheckStore) Save(ctx context.Context, rfqID int64, state CheckState) error {
	key := checkKey(rfqID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		fields := map[string]any{}
		if state.Machine.Checked() {
			fields[string(DimensionMachine)] = string(state.Machine)
		}
		if state.Warehouse.Checked() {
			fields[string(DimensionWarehouse)] = string(state.Warehouse)
		}
		if len(fields) > 0 {
			pipe.HSet(ctx, key, fields)
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save capacity checks: %w", err)
	}
	return nil
}

// Clear forgets the progress of rfqID.
func (s *RedisCheckStore) Clear(ctx context.Context, rfqID int64) error {
	if err := s.client.Del(ctx, checkKey(rfqID)).Err(); err != nil {
		return fmt.Errorf("clear capacity checks: %w", err)
	}
	return nil
}
