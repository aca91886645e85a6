package rfq

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/odyssey-erp/rfq-portal/internal/platform/cache"
	"github.com/odyssey-erp/rfq-portal/internal/shared"
)

type memState struct {
	rfqs     map[int64]RFQ
	events   []Event
	nextID   int64
	numbers  map[string]int
	products map[int64]bool
	users    map[int64]shared.Role
	codes    map[string]int64
}

func (s *memState) clone() *memState {
	out := *s
	out.rfqs = make(map[int64]RFQ, len(s.rfqs))
	for k, v := range s.rfqs {
		out.rfqs[k] = v
	}
	out.events = append([]Event(nil), s.events...)
	out.numbers = make(map[string]int, len(s.numbers))
	for k, v := range s.numbers {
		out.numbers[k] = v
	}
	return &out
}

// mockRepo is an in-memory Repository. WithTx works on a copy that is only
// written back when fn succeeds.
type mockRepo struct {
	state   *memState
	failOn  map[Action]error
	creates int
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		state: &memState{
			rfqs:     map[int64]RFQ{},
			numbers:  map[string]int{},
			products: map[int64]bool{1: true, 2: true, 3: true},
			users: map[int64]shared.Role{
				10: shared.RoleSales,
				11: shared.RoleSales,
				20: shared.RolePlanning,
				30: shared.RoleDirector,
			},
			codes: map[string]int64{"NV001": 10},
		},
		failOn: map[Action]error{},
	}
}

func (m *mockRepo) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	tx := &mockRepo{state: m.state.clone(), failOn: m.failOn}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	*m.state = *tx.state
	m.creates += tx.creates
	return nil
}

func (m *mockRepo) Get(_ context.Context, id int64) (*RFQ, error) {
	r, ok := m.state.rfqs[id]
	if !ok {
		return nil, ErrNotFound
	}
	r.Items = append([]LineItem(nil), r.Items...)
	return &r, nil
}

func (m *mockRepo) List(_ context.Context, req ListRFQsRequest) ([]RFQ, int, error) {
	var out []RFQ
	for _, r := range m.state.rfqs {
		if req.Status != nil && r.Status != *req.Status {
			continue
		}
		if req.CustomerID != nil && (r.CustomerID == nil || *r.CustomerID != *req.CustomerID) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (m *mockRepo) Create(_ context.Context, r *RFQ) (int64, error) {
	m.state.nextID++
	r.ID = m.state.nextID
	m.state.rfqs[r.ID] = *r
	m.state.events = append(m.state.events, Event{RFQID: r.ID, Action: ActionCreate, To: r.Status})
	m.creates++
	return r.ID, nil
}

func (m *mockRepo) UpdateContent(_ context.Context, id int64, expected Status, req UpdateRFQRequest) error {
	r, ok := m.state.rfqs[id]
	if !ok || r.Status != expected {
		return ErrConcurrentUpdate
	}
	r.Contact = req.Contact
	r.Items = req.Items
	r.ExpectedDeliveryDate = DateOnly(req.ExpectedDeliveryDate)
	m.state.rfqs[id] = r
	return nil
}

func (m *mockRepo) Transition(_ context.Context, id int64, from, to Status, action Action, actorID *int64, note *string) error {
	if err := m.failOn[action]; err != nil {
		return err
	}
	r, ok := m.state.rfqs[id]
	if !ok || r.Status != from {
		return ErrConcurrentUpdate
	}
	r.Status = to
	m.state.rfqs[id] = r
	m.state.events = append(m.state.events, Event{RFQID: id, Action: action, From: from, To: to, ActorID: actorID, Note: note})
	return nil
}

func (m *mockRepo) Assign(_ context.Context, id, salesID, planningID int64) error {
	r := m.state.rfqs[id]
	if r.AssignedSalesID != nil || r.AssignedPlanningID != nil {
		return ErrAlreadyAssigned
	}
	r.AssignedSalesID, r.AssignedPlanningID = &salesID, &planningID
	m.state.rfqs[id] = r
	return nil
}

func (m *mockRepo) RecordCapacity(_ context.Context, id int64, status CapacityStatus, reason *string, proposed *time.Time) error {
	r := m.state.rfqs[id]
	r.CapacityStatus, r.CapacityReason, r.ProposedNewDeliveryDate = &status, reason, proposed
	m.state.rfqs[id] = r
	return nil
}

func (m *mockRepo) Reschedule(_ context.Context, id int64, delivery time.Time) error {
	r := m.state.rfqs[id]
	r.ExpectedDeliveryDate = DateOnly(delivery)
	r.CapacityStatus, r.CapacityReason, r.ProposedNewDeliveryDate = nil, nil, nil
	m.state.rfqs[id] = r
	return nil
}

func (m *mockRepo) NextNumber(_ context.Context, day time.Time) (string, error) {
	key := day.Format("20060102")
	m.state.numbers[key]++
	return fmt.Sprintf("RFQ-%s-%03d", key, m.state.numbers[key]), nil
}

func (m *mockRepo) MissingProducts(_ context.Context, ids []int64) ([]int64, error) {
	var missing []int64
	for _, id := range ids {
		if !m.state.products[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func (m *mockRepo) SalesIDByEmployeeCode(_ context.Context, code string) (int64, error) {
	id, ok := m.state.codes[code]
	if !ok {
		return 0, ErrUnknownEmployeeCode
	}
	return id, nil
}

func (m *mockRepo) UserRole(_ context.Context, userID int64) (shared.Role, error) {
	role, ok := m.state.users[userID]
	if !ok {
		return "", ErrUnknownUser
	}
	return role, nil
}

func (m *mockRepo) Events(_ context.Context, id int64) ([]Event, error) {
	var out []Event
	for _, ev := range m.state.events {
		if ev.RFQID == id {
			out = append(out, ev)
		}
	}
	return out, nil
}

type memChecks struct {
	states map[int64]CheckState
}

func newMemChecks() *memChecks { return &memChecks{states: map[int64]CheckState{}} }

func (c *memChecks) Load(_ context.Context, id int64) (CheckState, error) { return c.states[id], nil }

func (c *memChecks) Save(_ context.Context, id int64, state CheckState) error {
	c.states[id] = state
	return nil
}

func (c *memChecks) Clear(_ context.Context, id int64) error {
	delete(c.states, id)
	return nil
}

type stubProber struct {
	outcomes map[Dimension]Outcome
	reasons  map[Dimension]string
	err      error
	calls    int
}

func (p *stubProber) Probe(_ context.Context, dim Dimension, _ *RFQ) (Outcome, string, error) {
	p.calls++
	if p.err != nil {
		return OutcomeError, "", p.err
	}
	outcome, ok := p.outcomes[dim]
	if !ok {
		outcome = OutcomeSufficient
	}
	return outcome, p.reasons[dim], nil
}

type heldLocker struct{}

func (heldLocker) Acquire(context.Context, string, string) (func(), error) {
	return nil, cache.ErrLockHeld
}

type recordingPublisher struct {
	published []string
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, id int64, status string) error {
	p.published = append(p.published, fmt.Sprintf("%s:%d:%s", topic, id, status))
	return nil
}
