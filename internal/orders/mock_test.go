package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/odyssey-erp/rfq-portal/internal/quotations"
	"github.com/odyssey-erp/rfq-portal/internal/rfq"
)

type store struct {
	orders  map[int64]Order
	quotes  map[int64]quotations.Quotation
	rfqs    map[int64]rfq.RFQ
	nextID  int64
	numbers int
}

func (s *store) clone() *store {
	out := *s
	out.orders = make(map[int64]Order, len(s.orders))
	for k, v := range s.orders {
		out.orders[k] = v
	}
	out.quotes = make(map[int64]quotations.Quotation, len(s.quotes))
	for k, v := range s.quotes {
		out.quotes[k] = v
	}
	out.rfqs = make(map[int64]rfq.RFQ, len(s.rfqs))
	for k, v := range s.rfqs {
		out.rfqs[k] = v
	}
	return &out
}

type mockRepo struct {
	st     *store
	failRF error
}

func newMockRepo() *mockRepo {
	return &mockRepo{st: &store{
		orders: map[int64]Order{},
		quotes: map[int64]quotations.Quotation{},
		rfqs:   map[int64]rfq.RFQ{},
	}}
}

func (m *mockRepo) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	tx := &mockRepo{st: m.st.clone(), failRF: m.failRF}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	*m.st = *tx.st
	return nil
}

func (m *mockRepo) Get(_ context.Context, id int64) (*Order, error) {
	o, ok := m.st.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (m *mockRepo) GetByQuotation(_ context.Context, quotationID int64) (*Order, error) {
	for _, o := range m.st.orders {
		if o.QuotationID == quotationID {
			return &o, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) Create(_ context.Context, o *Order) (int64, error) {
	for _, existing := range m.st.orders {
		if existing.QuotationID == o.QuotationID {
			return 0, ErrAlreadyCreated
		}
	}
	m.st.nextID++
	o.ID = m.st.nextID
	m.st.orders[o.ID] = *o
	return o.ID, nil
}

func (m *mockRepo) LockQuotation(_ context.Context, quotationID int64) (*quotations.Quotation, error) {
	q, ok := m.st.quotes[quotationID]
	if !ok {
		return nil, quotations.ErrNotFound
	}
	return &q, nil
}

func (m *mockRepo) MarkQuotationOrdered(_ context.Context, quotationID int64, _ time.Time) error {
	q, ok := m.st.quotes[quotationID]
	if !ok || q.Status != quotations.StatusAccepted {
		return quotations.ErrConcurrentEdit
	}
	q.Status = quotations.StatusOrderCreated
	m.st.quotes[quotationID] = q
	return nil
}

func (m *mockRepo) TransitionRFQ(_ context.Context, rfqID int64, from, to rfq.Status, _ *int64, _ *string) error {
	if m.failRF != nil {
		return m.failRF
	}
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
	return fmt.Sprintf("SO-%s-%03d", day.Format("20060102"), m.st.numbers), nil
}

type rfqFinder struct {
	repo *mockRepo
}

func (f rfqFinder) Find(_ context.Context, id int64) (*rfq.RFQ, error) {
	r, ok := f.repo.st.rfqs[id]
	if !ok {
		return nil, rfq.ErrNotFound
	}
	return &r, nil
}
