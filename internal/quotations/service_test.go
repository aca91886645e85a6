package quotations

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/rfq-portal/internal/platform/cache"
	"github.com/odyssey-erp/rfq-portal/internal/platform/httpx"
	"github.com/odyssey-erp/rfq-portal/internal/rfq"
	"github.com/odyssey-erp/rfq-portal/internal/shared"
)

var (
	quotedAt = time.Date(2025, 2, 10, 8, 0, 0, 0, time.UTC)

	customerID = int64(500)
	otherID    = int64(501)
	customer   = shared.Principal{UserID: 1, Role: shared.RoleCustomer, CustomerID: &customerID}
	stranger   = shared.Principal{UserID: 2, Role: shared.RoleCustomer, CustomerID: &otherID}
	sales      = shared.Principal{UserID: 10, Role: shared.RoleSales}
	planning   = shared.Principal{UserID: 20, Role: shared.RolePlanning}
	director   = shared.Principal{UserID: 30, Role: shared.RoleDirector}
)

func mustDecimal(raw string) decimal.Decimal {
	return decimal.RequireFromString(raw)
}

type fixture struct {
	svc       *Service
	repo      *mockRepo
	rfqs      *rfqSource
	pricer    *stubPricer
	notifier  *recordingNotifier
	publisher *recordingPublisher
	clock     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:      newMockRepo(),
		pricer:    &stubPricer{prices: map[int64]string{1: "12500", 2: "8000.50"}, currency: "VND"},
		notifier:  &recordingNotifier{},
		publisher: &recordingPublisher{},
		clock:     quotedAt,
	}
	f.rfqs = &rfqSource{repo: f.repo}
	f.svc = NewService(f.repo, f.rfqs, f.pricer, Options{
		Publisher: f.publisher,
		Notifier:  f.notifier,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	f.svc.now = func() time.Time { return f.clock }
	return f
}

// reviewed seeds an RFQ under review with both capacity checks sufficient.
func (f *fixture) reviewed(id int64) {
	f.repo.st.rfqs[id] = rfq.RFQ{
		ID:                   id,
		Number:               "RFQ-20250201-001",
		Status:               rfq.StatusReceivedByPlanning,
		CustomerID:           &customerID,
		ExpectedDeliveryDate: time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC),
		Items: []rfq.LineItem{
			{ProductID: 1, Quantity: 150, Unit: "m"},
			{ProductID: 2, Quantity: 200, Unit: "kg"},
		},
	}
	f.repo.st.checks[id] = rfq.CheckState{
		Machine:   rfq.Mark(rfq.OutcomeSufficient),
		Warehouse: rfq.Mark(rfq.OutcomeSufficient),
	}
}

func (f *fixture) quote(t *testing.T, rfqID int64) *Quotation {
	t.Helper()
	f.reviewed(rfqID)
	q, err := f.svc.CreateFromRFQ(context.Background(), planning, CreateFromRFQRequest{
		RFQID:        rfqID,
		ProfitMargin: mustDecimal("0.15"),
	})
	require.NoError(t, err)
	return q
}

func (f *fixture) sent(t *testing.T, rfqID int64) *Quotation {
	t.Helper()
	q := f.quote(t, rfqID)
	out, err := f.svc.SendToCustomer(context.Background(), sales, q.ID)
	require.NoError(t, err)
	return out
}

func TestCreateFromRFQPricesLinesAndQuotesRFQ(t *testing.T) {
	f := newFixture(t)

	q := f.quote(t, 7)

	assert.Equal(t, StatusDraft, q.Status)
	assert.Equal(t, "QUO-20250210-001", q.Number)
	require.Len(t, q.Lines, 2)
	assert.True(t, mustDecimal("1875000").Equal(q.Lines[0].LineTotal))
	assert.True(t, mustDecimal("1600100").Equal(q.Lines[1].LineTotal))
	assert.True(t, mustDecimal("3475100").Equal(q.TotalPrice))
	assert.Equal(t, "VND", q.Currency)
	assert.Equal(t, "RFQ-20250201-001", f.pricer.last.Reference)
	assert.Equal(t, "2025-03-20", f.pricer.last.DeliveryDate)
	assert.Equal(t, rfq.StatusQuoted, f.repo.st.rfqs[7].Status)
	assert.Equal(t, []int64{7}, f.rfqs.cleared)
	assert.Contains(t, f.publisher.events, published{topic: rfq.TopicRFQUpdated, id: 7, status: string(rfq.StatusQuoted)})
}

func TestCreateFromRFQRequiresBothChecksSufficient(t *testing.T) {
	f := newFixture(t)
	f.reviewed(7)
	f.repo.st.checks[7] = rfq.CheckState{Machine: rfq.Mark(rfq.OutcomeSufficient)}

	_, err := f.svc.CreateFromRFQ(context.Background(), planning, CreateFromRFQRequest{RFQID: 7, ProfitMargin: mustDecimal("0.1")})

	require.ErrorIs(t, err, rfq.ErrCapacityNotVerified)
	assert.Zero(t, f.pricer.calls)
	assert.Equal(t, rfq.StatusReceivedByPlanning, f.repo.st.rfqs[7].Status)
}

func TestCreateFromRFQRejectsBadMargin(t *testing.T) {
	f := newFixture(t)
	f.reviewed(7)

	for _, raw := range []string{"-0.01", "1", "2.5"} {
		_, err := f.svc.CreateFromRFQ(context.Background(), planning, CreateFromRFQRequest{RFQID: 7, ProfitMargin: mustDecimal(raw)})
		require.ErrorIs(t, err, httpx.ErrValidation, raw)
	}
	assert.Zero(t, f.pricer.calls)
}

func TestCreateFromRFQOnlyPlanning(t *testing.T) {
	f := newFixture(t)
	f.reviewed(7)

	_, err := f.svc.CreateFromRFQ(context.Background(), sales, CreateFromRFQRequest{RFQID: 7, ProfitMargin: mustDecimal("0.1")})

	require.ErrorIs(t, err, httpx.ErrForbidden)
}

func TestCreateFromRFQPricingFailureLeavesRFQUnderReview(t *testing.T) {
	f := newFixture(t)
	f.reviewed(7)
	f.pricer.err = errors.New("connection refused")

	_, err := f.svc.CreateFromRFQ(context.Background(), planning, CreateFromRFQRequest{RFQID: 7, ProfitMargin: mustDecimal("0.1")})

	require.ErrorIs(t, err, ErrPricing)
	require.ErrorIs(t, err, httpx.ErrUnavailable)
	assert.Empty(t, f.repo.st.quotes)
	assert.Equal(t, rfq.StatusReceivedByPlanning, f.repo.st.rfqs[7].Status)
}

func TestCreateFromRFQMissingPriceIsPricingError(t *testing.T) {
	f := newFixture(t)
	f.reviewed(7)
	delete(f.pricer.prices, 2)

	_, err := f.svc.CreateFromRFQ(context.Background(), planning, CreateFromRFQRequest{RFQID: 7, ProfitMargin: mustDecimal("0.1")})

	require.ErrorIs(t, err, ErrPricing)
}

func TestSecondQuotationForSameRFQIsRejected(t *testing.T) {
	f := newFixture(t)
	f.quote(t, 7)

	_, err := f.svc.CreateFromRFQ(context.Background(), planning, CreateFromRFQRequest{RFQID: 7, ProfitMargin: mustDecimal("0.1")})

	require.ErrorIs(t, err, rfq.ErrInvalidTransition)
	assert.Len(t, f.repo.st.quotes, 1)
}

func TestSendToCustomerOpensWindowAndNotifies(t *testing.T) {
	f := newFixture(t)

	q := f.sent(t, 7)

	assert.Equal(t, StatusSent, q.Status)
	require.NotNil(t, q.SentAt)
	assert.Equal(t, quotedAt, *q.SentAt)
	assert.Equal(t, []int64{q.ID}, f.notifier.sent)
}

func TestSendToCustomerTwiceConflicts(t *testing.T) {
	f := newFixture(t)
	q := f.sent(t, 7)

	_, err := f.svc.SendToCustomer(context.Background(), sales, q.ID)

	require.ErrorIs(t, err, ErrInvalidStatus)
	assert.Len(t, f.notifier.sent, 1)
}

func TestSendToCustomerRespectsAssignedSales(t *testing.T) {
	f := newFixture(t)
	q := f.quote(t, 7)
	other := int64(11)
	r := f.repo.st.rfqs[7]
	r.AssignedSalesID = &other
	f.repo.st.rfqs[7] = r

	_, err := f.svc.SendToCustomer(context.Background(), sales, q.ID)

	require.ErrorIs(t, err, httpx.ErrForbidden)
}

func TestApproveWithinWindowAcceptsRFQ(t *testing.T) {
	f := newFixture(t)
	q := f.sent(t, 7)
	f.clock = quotedAt.Add(11*time.Hour + 59*time.Minute)

	out, err := f.svc.Approve(context.Background(), customer, q.ID)

	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, out.Status)
	require.NotNil(t, out.DecidedAt)
	assert.Equal(t, rfq.StatusAccepted, f.repo.st.rfqs[7].Status)
}

func TestScenarioDResponseWindowCloses(t *testing.T) {
	f := newFixture(t)
	q := f.sent(t, 7)
	ctx := context.Background()

	f.clock = quotedAt.Add(12 * time.Hour)
	view, err := f.svc.Get(ctx, customer, q.ID)
	require.NoError(t, err)
	assert.Equal(t, "EXPIRED", view.Display.Value)
	assert.Zero(t, view.Display.Remaining)
	assert.Equal(t, "00:00:00", FormatCountdown(view.Display.Remaining))

	f.clock = quotedAt.Add(13 * time.Hour)
	_, err = f.svc.Approve(ctx, customer, q.ID)
	require.ErrorIs(t, err, ErrExpired)
	require.ErrorIs(t, err, httpx.ErrConflict)
	assert.Equal(t, StatusSent, f.repo.st.quotes[q.ID].Status)
	assert.Equal(t, rfq.StatusQuoted, f.repo.st.rfqs[7].Status)
}

func TestRejectClosesRFQ(t *testing.T) {
	f := newFixture(t)
	q := f.sent(t, 7)
	reason := "giá cao"

	out, err := f.svc.Reject(context.Background(), customer, q.ID, RejectRequest{Reason: &reason})

	require.NoError(t, err)
	assert.Equal(t, StatusRejected, out.Status)
	assert.Equal(t, rfq.StatusRejected, f.repo.st.rfqs[7].Status)
}

func TestCustomerCannotDecideForeignQuotation(t *testing.T) {
	f := newFixture(t)
	q := f.sent(t, 7)

	_, err := f.svc.Approve(context.Background(), stranger, q.ID)

	require.ErrorIs(t, err, ErrNotFound)
}

func TestCustomerDoesNotSeeDrafts(t *testing.T) {
	f := newFixture(t)
	q := f.quote(t, 7)

	_, err := f.svc.Get(context.Background(), customer, q.ID)
	require.ErrorIs(t, err, ErrNotFound)

	view, err := f.svc.Get(context.Background(), director, q.ID)
	require.NoError(t, err)
	assert.Equal(t, "PREPARING", view.Display.Value)
	assert.Nil(t, view.Deadline)
}

func TestPendingViewCarriesDeadline(t *testing.T) {
	f := newFixture(t)
	q := f.sent(t, 7)
	f.clock = quotedAt.Add(2 * time.Hour)

	view, err := f.svc.Get(context.Background(), customer, q.ID)

	require.NoError(t, err)
	assert.Equal(t, "PENDING_APPROVAL", view.Display.Value)
	assert.Equal(t, 10*time.Hour, view.Display.Remaining)
	require.NotNil(t, view.Deadline)
	assert.Equal(t, quotedAt.Add(12*time.Hour), *view.Deadline)
}

func TestExpireOverdueMarksOnlyClosedWindows(t *testing.T) {
	f := newFixture(t)
	old := f.sent(t, 7)
	f.clock = quotedAt.Add(6 * time.Hour)
	fresh := f.sent(t, 8)

	f.clock = quotedAt.Add(12*time.Hour + time.Minute)
	n, err := f.svc.ExpireOverdue(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, StatusExpired, f.repo.st.quotes[old.ID].Status)
	assert.Equal(t, StatusSent, f.repo.st.quotes[fresh.ID].Status)
	assert.Equal(t, rfq.StatusQuoted, f.repo.st.rfqs[7].Status)

	_, err = f.svc.Approve(context.Background(), customer, old.ID)
	require.ErrorIs(t, err, ErrExpired)
}

type heldLocker struct{}

func (heldLocker) Acquire(context.Context, string, string) (func(), error) {
	return nil, cache.ErrLockHeld
}

func TestLockHeldIsConflict(t *testing.T) {
	f := newFixture(t)
	q := f.sent(t, 7)
	f.svc.locker = heldLocker{}

	_, err := f.svc.Approve(context.Background(), customer, q.ID)

	require.ErrorIs(t, err, ErrConcurrentEdit)
}
