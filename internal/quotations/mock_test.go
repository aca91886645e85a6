package quotations

import (
	"context"
	"fmt"
	"time"

	"github.com/odyssey-erp/rfq-portal/internal/rfq"
)

type store struct {
	quotes  map[int64]Quotation
	rfqs    map[int64]rfq.RFQ
	checks  map[int64]rfq.CheckState
	nextID  int64
	numbers int
}

func (s *store) clone() *store {
	out := *s
	out.quotes = make(map[int64]Quotation, len(s.quotes))
	for k, v := range s.quotes {
		out.quotes[k] = v
	}
	out.rfqs = make(map[int64]rfq.RFQ, len(s.rfqs))
	for k, v := range s.rfqs {
		out.rfqs[k] = v
	}
	return &out
}

// mockRepo keeps quotations and the RFQs they quote in memory. WithTx runs
// on a copy written back only when fn succeeds.
type mockRepo struct {
	st *store
}

func newMockRepo() *mockRepo {
	return &mockRepo{st: &store{
		quotes: map[int64]Quotation{},
		rfqs:   map[int64]rfq.RFQ{},
		checks: map[int64]rfq.CheckState{},
	}}
}

func (m *mockRepo) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	tx := &mockRepo{st: m.st.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	*m.st = *tx.st
	return nil
}

func (m *mockRepo) Get(_ context.Context, id int64) (*Quotation, error) {
	q, ok := m.st.quotes[id]
	if !ok {
		return nil, ErrNotFound
	}
	q.Lines = append([]Line(nil), q.Lines...)
	return &q, nil
}

func (m *mockRepo) GetByRFQ(ctx context.Context, rfqID int64) (*Quotation, error) {
	for id, q := range m.st.quotes {
		if q.RFQID == rfqID {
			return m.Get(ctx, id)
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) Create(_ context.Context, q *Quotation) (int64, error) {
	for _, existing := range m.st.quotes {
		if existing.RFQID == q.RFQID {
			return 0, ErrAlreadyQuoted
		}
	}
	m.st.nextID++
	q.ID = m.st.nextID
	m.st.quotes[q.ID] = *q
	return q.ID, nil
}

func (m *mockRepo) UpdateStatus(_ context.Context, id int64, from, to Status, at time.Time) error {
	q, ok := m.st.quotes[id]
	if !ok || q.Status != from {
		return ErrConcurrentEdit
	}
	q.Status = to
	switch to {
	case StatusSent:
		q.SentAt = &at
	case StatusAccepted, StatusRejected:
		q.DecidedAt = &at
	}
	m.st.quotes[id] = q
	return nil
}

func (m *mockRepo) ExpireSent(_ context.Context, sentBefore time.Time) ([]Expiry, error) {
	var out []Expiry
	for id, q := range m.st.quotes {
		if q.Status != StatusSent || q.SentAt == nil || q.SentAt.After(sentBefore) {
			continue
		}
		q.Status = StatusExpired
		m.st.quotes[id] = q
		out = append(out, Expiry{ID: id, RFQID: q.RFQID})
	}
	return out, nil
}

func (m *mockRepo) TransitionRFQ(_ context.Context, rfqID int64, from, to rfq.Status, _ rfq.Action, _ *int64, _ *string) error {
	r, ok := m.st.rfqs[rfqID]
	if !ok || r.Status != from {
		return rfq.ErrConcurrentUpdate
	}
	r.Status = to
	m.st.rfqs[rfqID] = r
	return nil
}

func (m *mockRepo) NextNumber(_ context.Context, day time.Time) (string, error) {
	m.st.numbers++
	return fmt.Sprintf("QUO-%s-%03d", day.Format("20060102"), m.st.numbers), nil
}

// rfqSource reads the RFQs held by the same store.
type rfqSource struct {
	repo    *mockRepo
	cleared []int64
}

func (s *rfqSource) Find(_ context.Context, id int64) (*rfq.RFQ, error) {
	r, ok := s.repo.st.rfqs[id]
	if !ok {
		return nil, rfq.ErrNotFound
	}
	return &r, nil
}

func (s *rfqSource) Checks(_ context.Context, id int64) (rfq.CheckState, error) {
	return s.repo.st.checks[id], nil
}

func (s *rfqSource) ClearChecks(_ context.Context, id int64) {
	delete(s.repo.st.checks, id)
	s.cleared = append(s.cleared, id)
}

type stubPricer struct {
	prices   map[int64]string
	currency string
	err      error
	calls    int
	last     PriceRequest
}

func (p *stubPricer) Price(_ context.Context, req PriceRequest) (*PriceResponse, error) {
	p.calls++
	p.last = req
	if p.err != nil {
		return nil, p.err
	}
	out := &PriceResponse{Currency: p.currency}
	for _, item := range req.Items {
		raw, ok := p.prices[item.ProductID]
		if !ok {
			continue
		}
		out.Items = append(out.Items, PricedItem{ProductID: item.ProductID, UnitPrice: mustDecimal(raw)})
	}
	return out, nil
}

type recordingNotifier struct {
	sent []int64
	err  error
}

func (n *recordingNotifier) QuotationSent(_ context.Context, id int64) error {
	n.sent = append(n.sent, id)
	return n.err
}

type published struct {
	topic  string
	id     int64
	status string
}

type recordingPublisher struct {
	events []published
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, id int64, status string) error {
	p.events = append(p.events, published{topic: topic, id: id, status: status})
	return nil
}
