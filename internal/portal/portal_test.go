package portal

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/rfq-portal/internal/live"
	"github.com/odyssey-erp/rfq-portal/internal/orders"
	"github.com/odyssey-erp/rfq-portal/internal/platform/httpx"
	"github.com/odyssey-erp/rfq-portal/internal/quotations"
	"github.com/odyssey-erp/rfq-portal/internal/rfq"
	"github.com/odyssey-erp/rfq-portal/internal/shared"
)

// fakeAPI records calls and serves canned responses.
type fakeAPI struct {
	t      *testing.T
	mu     sync.Mutex
	calls  []string
	router chi.Router
	srv    *httptest.Server
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{t: t, router: chi.NewRouter()}
	f.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			f.mu.Lock()
			f.calls = append(f.calls, r.Method+" "+r.URL.Path)
			f.mu.Unlock()
			next.ServeHTTP(w, r)
		})
	})
	f.srv = httptest.NewServer(f.router)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeAPI) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeAPI) client(role shared.Role, opts ...Option) *Client {
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	c := NewClient(f.srv.URL, opts...)
	c.SetSession("token", role)
	return c
}

func ok(body any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, body)
	}
}

func problem(status int, detail string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, status, http.StatusText(status), detail)
	}
}

func rfqView(id int64, status rfq.Status) *rfq.View {
	return &rfq.View{RFQ: rfq.RFQ{
		ID:                   id,
		Status:               status,
		CreatedAt:            time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC),
		ExpectedDeliveryDate: time.Date(2025, 2, 5, 0, 0, 0, 0, time.UTC),
	}}
}

func TestUnauthorizedClearsSessionAndRedirects(t *testing.T) {
	api := newFakeAPI(t)
	api.router.Get("/v1/rfqs/{id}", problem(http.StatusUnauthorized, ""))
	var redirected string
	c := api.client(shared.RoleSales, WithUnauthorizedHandler(func(path string) { redirected = path }))

	_, err := c.GetRFQ(context.Background(), 1)

	require.ErrorIs(t, err, httpx.ErrUnauthorized)
	assert.Empty(t, c.Token())
	assert.Equal(t, "/internal/login", redirected)
}

func TestCustomerUnauthorizedGoesToCustomerLogin(t *testing.T) {
	api := newFakeAPI(t)
	api.router.Get("/v1/rfqs/{id}", problem(http.StatusUnauthorized, "token expired"))
	var redirected string
	c := api.client(shared.RoleCustomer, WithUnauthorizedHandler(func(path string) { redirected = path }))

	_, err := c.GetRFQ(context.Background(), 1)

	require.Error(t, err)
	assert.Equal(t, "/login", redirected)
}

func TestServerMessageIsSurfaced(t *testing.T) {
	api := newFakeAPI(t)
	api.router.Post("/v1/rfqs/{id}/send", problem(http.StatusConflict, "cannot send an RFQ in status QUOTED"))
	d := NewDispatcher(api.client(shared.RoleSales))

	_, err := d.Send(context.Background(), 1)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "cannot send an RFQ in status QUOTED", apiErr.Message)
	require.ErrorIs(t, err, httpx.ErrConflict)
}

func TestFallbackMessageIsLocalized(t *testing.T) {
	api := newFakeAPI(t)
	api.router.Post("/v1/rfqs/{id}/send", problem(http.StatusConflict, ""))

	_, err := NewDispatcher(api.client(shared.RoleSales)).Send(context.Background(), 1)
	assert.Contains(t, err.Error(), "Dữ liệu đã được thay đổi")

	_, err = NewDispatcher(api.client(shared.RoleSales, WithLanguage("en"))).Send(context.Background(), 1)
	assert.Contains(t, err.Error(), "changed by someone else")
}

func TestTransitionRefetches(t *testing.T) {
	api := newFakeAPI(t)
	api.router.Post("/v1/rfqs/{id}/send", ok(map[string]string{}))
	api.router.Get("/v1/rfqs/{id}", ok(rfqView(1, rfq.StatusSent)))

	view, err := NewDispatcher(api.client(shared.RoleSales)).Send(context.Background(), 1)

	require.NoError(t, err)
	assert.Equal(t, rfq.StatusSent, view.Status)
	assert.Equal(t, []string{"POST /v1/rfqs/1/send", "GET /v1/rfqs/1"}, api.called())
}

func TestCreateRFQInvalidIsNeverSent(t *testing.T) {
	api := newFakeAPI(t)
	c := api.client(shared.RoleCustomer)
	req := rfq.CreateRFQRequest{
		Contact:              rfq.Contact{Name: "Lan", Phone: "0912345678", Email: "lan@example.com", Address: "HCM"},
		Items:                []rfq.LineItem{{ProductID: 1, Quantity: 99, Unit: "m"}},
		ExpectedDeliveryDate: rfq.DateOnly(time.Now()).AddDate(0, 0, 40),
	}

	_, err := c.CreateRFQ(context.Background(), req)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "must be at least 100", apiErr.Fields["items[0].quantity"])
	assert.Empty(t, api.called())
}

func TestCreateRFQGuestUsesPublicEndpoint(t *testing.T) {
	api := newFakeAPI(t)
	var key string
	api.router.Post("/v1/rfqs/public", func(w http.ResponseWriter, r *http.Request) {
		key = r.Header.Get("Idempotency-Key")
		assert.Empty(t, r.Header.Get("Authorization"))
		httpx.JSON(w, http.StatusCreated, rfq.RFQ{ID: 3, Status: rfq.StatusDraft})
	})
	c := NewClient(api.srv.URL)
	req := rfq.CreateRFQRequest{
		Contact:              rfq.Contact{Name: "Lan", Phone: "0912345678", Email: "lan@example.com", Address: "HCM"},
		Items:                []rfq.LineItem{{ProductID: 1, Quantity: 150, Unit: "m"}},
		ExpectedDeliveryDate: rfq.DateOnly(time.Now()).AddDate(0, 0, 40),
	}

	out, err := c.CreateRFQ(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, int64(3), out.ID)
	assert.NotEmpty(t, key)
}

func TestConfirmAndForwardReportsPartialProgress(t *testing.T) {
	api := newFakeAPI(t)
	forwardFails := true
	api.router.Post("/v1/rfqs/{id}/preliminary-check", ok(map[string]string{}))
	api.router.Post("/v1/rfqs/{id}/forward-to-planning", func(w http.ResponseWriter, r *http.Request) {
		if forwardFails {
			problem(http.StatusInternalServerError, "")(w, r)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]string{})
	})
	api.router.Get("/v1/rfqs/{id}", ok(rfqView(1, rfq.StatusForwardedToPlanning)))
	d := NewDispatcher(api.client(shared.RoleSales, WithLanguage("en")))

	_, err := d.ConfirmAndForward(context.Background(), 1)

	var partial *PartialTransitionError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, "preliminary-check", partial.Completed)
	assert.Equal(t, "forward-to-planning", partial.Resume)
	assert.Contains(t, partial.Error(), `"preliminary-check" completed`)

	forwardFails = false
	view, err := d.ResumeForward(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, rfq.StatusForwardedToPlanning, view.Status)
	assert.Equal(t, 1, strings.Count(strings.Join(api.called(), ","), "preliminary-check"))
}

func TestAssignAndSendSkipsSendWhenAlreadySent(t *testing.T) {
	api := newFakeAPI(t)
	api.router.Get("/v1/rfqs/{id}", ok(rfqView(1, rfq.StatusSent)))
	api.router.Post("/v1/rfqs/{id}/assign", ok(map[string]string{}))

	_, err := NewDispatcher(api.client(shared.RoleDirector)).AssignAndSend(context.Background(), 1, 10, 20)

	require.NoError(t, err)
	assert.NotContains(t, api.called(), "POST /v1/rfqs/1/send")
}

func TestCancelRequiresConfirmation(t *testing.T) {
	api := newFakeAPI(t)
	d := NewDispatcher(api.client(shared.RoleSales))

	_, err := d.Cancel(context.Background(), 1, false, "")

	require.ErrorIs(t, err, ErrConfirmationRequired)
	assert.Empty(t, api.called())
}

func TestInFlightGuard(t *testing.T) {
	api := newFakeAPI(t)
	entered := make(chan struct{})
	unblock := make(chan struct{})
	api.router.Post("/v1/rfqs/{id}/send", func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-unblock
		httpx.JSON(w, http.StatusOK, map[string]string{})
	})
	api.router.Get("/v1/rfqs/{id}", ok(rfqView(1, rfq.StatusSent)))
	d := NewDispatcher(api.client(shared.RoleSales))

	done := make(chan error, 1)
	go func() {
		_, err := d.Send(context.Background(), 1)
		done <- err
	}()
	<-entered

	_, err := d.Send(context.Background(), 1)
	require.ErrorIs(t, err, ErrInFlight)

	close(unblock)
	require.NoError(t, <-done)
}

func TestCapacityChecksAutoEvaluateWhenBothSufficient(t *testing.T) {
	api := newFakeAPI(t)
	sufficient := rfq.Mark(rfq.OutcomeSufficient)
	api.router.Post("/v1/rfqs/{id}/check-machine-capacity", ok(rfq.CapacityResult{
		Dimension: rfq.DimensionMachine, Outcome: rfq.OutcomeSufficient,
		State: rfq.CheckState{Machine: sufficient},
	}))
	api.router.Post("/v1/rfqs/{id}/check-warehouse-capacity", ok(rfq.CapacityResult{
		Dimension: rfq.DimensionWarehouse, Outcome: rfq.OutcomeSufficient,
		State: rfq.CheckState{Machine: sufficient, Warehouse: sufficient},
	}))
	var verdict rfq.CapacityVerdict
	api.router.Post("/v1/rfqs/{id}/capacity-evaluate", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&verdict))
		httpx.JSON(w, http.StatusOK, map[string]string{})
	})
	api.router.Get("/v1/rfqs/{id}", ok(rfqView(1, rfq.StatusReceivedByPlanning)))
	d := NewDispatcher(api.client(shared.RolePlanning))
	ctx := context.Background()

	step, err := d.CheckMachineCapacity(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, step.Evaluated)

	step, err = d.CheckWarehouseCapacity(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, step.Evaluated)
	assert.Equal(t, rfq.CapacitySufficient, verdict.Status)
}

func TestCapacityProbeFaultIsNotAVerdict(t *testing.T) {
	api := newFakeAPI(t)
	api.router.Post("/v1/rfqs/{id}/check-machine-capacity", problem(http.StatusBadGateway, "machine check: capacity probe unavailable"))
	d := NewDispatcher(api.client(shared.RolePlanning, WithLanguage("en")))

	_, err := d.CheckMachineCapacity(context.Background(), 1)

	require.ErrorIs(t, err, httpx.ErrUnavailable)
	assert.Contains(t, err.Error(), "not a capacity verdict")
	assert.NotContains(t, api.called(), "POST /v1/rfqs/1/capacity-evaluate")
}

func TestReportInsufficientValidatesBeforeSending(t *testing.T) {
	api := newFakeAPI(t)
	api.router.Get("/v1/rfqs/{id}", ok(rfqView(1, rfq.StatusReceivedByPlanning)))
	api.router.Post("/v1/rfqs/{id}/capacity-evaluate", ok(map[string]string{}))
	d := NewDispatcher(api.client(shared.RolePlanning))
	earlier := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	_, err := d.ReportInsufficient(context.Background(), 1, "lịch máy đầy", &earlier)

	require.ErrorIs(t, err, httpx.ErrValidation)
	assert.NotContains(t, api.called(), "POST /v1/rfqs/1/capacity-evaluate")

	later := time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)
	_, err = d.ReportInsufficient(context.Background(), 1, "lịch máy đầy", &later)
	require.NoError(t, err)
}

func TestCreateQuotationRequiresUnlockedChecks(t *testing.T) {
	api := newFakeAPI(t)
	api.router.Get("/v1/rfqs/{id}", ok(rfqView(1, rfq.StatusReceivedByPlanning)))
	d := NewDispatcher(api.client(shared.RolePlanning))

	_, err := d.CreateQuotation(context.Background(), 1, decimal.RequireFromString("0.1"), "")

	require.ErrorIs(t, err, rfq.ErrCapacityNotVerified)
	assert.NotContains(t, api.called(), "POST /v1/quotations/create-from-rfq")
}

func sentQuotation(deadline time.Time) *quotations.View {
	return &quotations.View{Quotation: quotations.Quotation{ID: 40, Status: quotations.StatusSent}, Deadline: &deadline}
}

func TestAcceptDisabledAfterWindow(t *testing.T) {
	api := newFakeAPI(t)
	sentAt := time.Date(2025, 2, 10, 8, 0, 0, 0, time.UTC)
	api.router.Get("/v1/quotations/{id}", ok(sentQuotation(sentAt.Add(12*time.Hour))))
	d := NewDispatcher(api.client(shared.RoleCustomer))
	d.now = func() time.Time { return sentAt.Add(12 * time.Hour) }

	_, err := d.Accept(context.Background(), 40)

	require.ErrorIs(t, err, ErrResponseWindowClosed)
	assert.NotContains(t, api.called(), "POST /v1/quotations/40/approve")
}

func TestAcceptCreatesOrder(t *testing.T) {
	api := newFakeAPI(t)
	sentAt := time.Now().Add(-time.Hour)
	api.router.Get("/v1/quotations/{id}", ok(sentQuotation(sentAt.Add(12*time.Hour))))
	api.router.Post("/v1/quotations/{id}/approve", ok(map[string]string{}))
	api.router.Post("/v1/quotations/{id}/create-order", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "order-40", r.Header.Get("Idempotency-Key"))
		httpx.JSON(w, http.StatusCreated, orders.Order{ID: 5, Number: "SO-20250210-001", QuotationID: 40})
	})

	order, err := NewDispatcher(api.client(shared.RoleCustomer)).Accept(context.Background(), 40)

	require.NoError(t, err)
	assert.Equal(t, "SO-20250210-001", order.Number)
}

func TestAcceptWithFailedOrderIsPartial(t *testing.T) {
	api := newFakeAPI(t)
	api.router.Get("/v1/quotations/{id}", ok(sentQuotation(time.Now().Add(time.Hour))))
	api.router.Post("/v1/quotations/{id}/approve", ok(map[string]string{}))
	api.router.Post("/v1/quotations/{id}/create-order", problem(http.StatusBadGateway, ""))

	_, err := NewDispatcher(api.client(shared.RoleCustomer)).Accept(context.Background(), 40)

	var partial *PartialTransitionError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, "approve", partial.Completed)
	assert.Equal(t, "create-order", partial.Resume)
	require.ErrorIs(t, err, httpx.ErrUnavailable)
}

func TestCountdownReachesZero(t *testing.T) {
	start := time.Now()
	c := NewCountdown(start.Add(30 * time.Millisecond))
	c.interval = 5 * time.Millisecond

	var texts []string
	err := c.Run(context.Background(), func(_ time.Duration, text string) { texts = append(texts, text) })

	require.NoError(t, err)
	require.NotEmpty(t, texts)
	assert.Equal(t, "00:00:00", texts[len(texts)-1])
}

func TestCountdownStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := NewCountdown(time.Now().Add(time.Hour))
	c.interval = time.Millisecond

	ticks := 0
	err := c.Run(ctx, func(time.Duration, string) {
		ticks++
		if ticks == 3 {
			cancel()
		}
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, ticks)
}

func TestCountdownForWithoutDeadline(t *testing.T) {
	assert.Nil(t, CountdownFor(&quotations.View{}))
}

func TestWatchRFQRefetchesOnNotification(t *testing.T) {
	api := newFakeAPI(t)
	hub := live.NewHub(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	api.router.Get("/v1/live", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		ctx := shared.ContextWithPrincipal(r.Context(), shared.Principal{UserID: 10, Role: shared.RoleSales})
		hub.ServeHTTP(w, r.WithContext(ctx))
	})
	api.router.Get("/v1/rfqs/{id}", ok(rfqView(7, rfq.StatusQuoted)))
	c := api.client(shared.RoleSales)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	views := make(chan *rfq.View, 1)
	errs := make(chan error, 1)
	go func() {
		errs <- c.WatchRFQ(ctx, 7, func(v *rfq.View) { views <- v })
	}()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Broadcast(live.Event{Topic: rfq.TopicRFQUpdated, ID: 8, Status: "SENT"})
	hub.Broadcast(live.Event{Topic: rfq.TopicRFQUpdated, ID: 7, Status: "QUOTED"})

	select {
	case v := <-views:
		assert.Equal(t, rfq.StatusQuoted, v.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("no refresh after notification")
	}

	cancel()
	err := <-errs
	assert.True(t, errors.Is(err, context.Canceled), "%v", err)
}

func TestTransitionRefetchIgnoresEarlierRead(t *testing.T) {
	api := newFakeAPI(t)
	var mu sync.Mutex
	status := rfq.StatusDraft
	entered := make(chan struct{})
	release := make(chan struct{})
	releaseAll := sync.OnceFunc(func() { close(release) })
	t.Cleanup(releaseAll)
	var reads atomic.Int32
	api.router.Get("/v1/rfqs/{id}", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		current := status
		mu.Unlock()
		if reads.Add(1) == 1 {
			close(entered)
			<-release
		}
		httpx.JSON(w, http.StatusOK, rfqView(1, current))
	})
	api.router.Post("/v1/rfqs/{id}/send", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		status = rfq.StatusSent
		mu.Unlock()
		httpx.JSON(w, http.StatusOK, map[string]string{})
	})
	c := api.client(shared.RoleSales)

	background := make(chan *rfq.View, 1)
	go func() {
		v, err := c.GetRFQ(context.Background(), 1)
		assert.NoError(t, err)
		background <- v
	}()
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("background read never reached the server")
	}

	view, err := NewDispatcher(c).Send(context.Background(), 1)
	releaseAll()

	require.NoError(t, err)
	assert.Equal(t, rfq.StatusSent, view.Status)
	if old := <-background; old != nil {
		assert.Equal(t, rfq.StatusDraft, old.Status)
	}
}

func TestReconfirmNeedsLaterDateBeforeSending(t *testing.T) {
	api := newFakeAPI(t)
	api.router.Get("/v1/rfqs/{id}", ok(rfqView(1, rfq.StatusCapacityInsufficient)))
	api.router.Post("/v1/rfqs/{id}/reconfirm", ok(map[string]string{}))
	d := NewDispatcher(api.client(shared.RoleSales))

	_, err := d.ReconfirmAfterInsufficient(context.Background(), 1, time.Date(2025, 2, 5, 0, 0, 0, 0, time.UTC))

	require.ErrorIs(t, err, httpx.ErrValidation)
	assert.NotContains(t, api.called(), "POST /v1/rfqs/1/reconfirm")

	_, err = d.ReconfirmAfterInsufficient(context.Background(), 1, time.Date(2025, 2, 12, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Contains(t, api.called(), "POST /v1/rfqs/1/reconfirm")
}

func TestWatchReleasesResourcesWhenConnectionDrops(t *testing.T) {
	api := newFakeAPI(t)
	upgrader := websocket.Upgrader{}
	api.router.Get("/v1/live", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		_ = conn.Close()
	})
	c := api.client(shared.RoleSales)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	baseline := runtime.NumGoroutine()

	for i := 0; i < 5; i++ {
		err := c.Watch(ctx, func(live.Event) {})
		require.Error(t, err)
		assert.NotErrorIs(t, err, context.Canceled)
	}

	assert.Eventually(t, func() bool { return runtime.NumGoroutine() <= baseline+1 }, 2*time.Second, 20*time.Millisecond)
}
