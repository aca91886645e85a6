package live

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/rfq-portal/internal/observability"
	"github.com/odyssey-erp/rfq-portal/internal/shared"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBrokerPublishSubscribe(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	broker := NewBroker(client, "", discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan Event, 1)
	go func() {
		_ = broker.Subscribe(ctx, func(evt Event) { got <- evt })
	}()
	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(DefaultChannel)[DefaultChannel] == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, broker.Publish(ctx, "rfq.updated", 42, "SENT"))

	select {
	case evt := <-got:
		assert.Equal(t, "rfq.updated", evt.Topic)
		assert.Equal(t, int64(42), evt.ID)
		assert.Equal(t, "SENT", evt.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBrokerWithoutClientIsNoop(t *testing.T) {
	broker := NewBroker(nil, "", discard())
	require.NoError(t, broker.Publish(context.Background(), "rfq.updated", 1, "DRAFT"))

	var nilBroker *Broker
	require.NoError(t, nilBroker.Publish(context.Background(), "rfq.updated", 1, "DRAFT"))
}

func TestHubBroadcastsToWebSocketClients(t *testing.T) {
	metrics := observability.NewMetrics()
	hub := NewHub(metrics, discard())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := shared.ContextWithPrincipal(r.Context(), shared.Principal{UserID: 10, Role: shared.RoleSales})
		hub.ServeHTTP(w, r.WithContext(ctx))
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	hub.Broadcast(Event{Topic: "quotation.updated", ID: 9, Status: "SENT"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var evt Event
	require.NoError(t, json.Unmarshal(data, &evt))
	assert.Equal(t, "quotation.updated", evt.Topic)
	assert.Equal(t, int64(9), evt.ID)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubRequiresPrincipal(t *testing.T) {
	hub := NewHub(nil, discard())
	rr := httptest.NewRecorder()

	hub.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/live", nil))

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestHubFiltersCustomerEvents(t *testing.T) {
	hub := NewHub(nil, discard())
	owners := map[int64]int64{1: 500, 3: 600}
	hub.Authorize("rfq.updated", func(_ context.Context, p shared.Principal, id int64) error {
		if p.CustomerID == nil || owners[id] != *p.CustomerID {
			return errors.New("not found")
		}
		return nil
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		customerID, err := strconv.ParseInt(r.URL.Query().Get("customer"), 10, 64)
		if !assert.NoError(t, err) {
			return
		}
		p := shared.Principal{UserID: customerID, Role: shared.RoleCustomer, CustomerID: &customerID}
		hub.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(r.Context(), p)))
	}))
	defer srv.Close()

	dial := func(customer string) *websocket.Conn {
		url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?customer=" + customer
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = conn.Close() })
		return conn
	}
	first := dial("500")
	second := dial("600")
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 10*time.Millisecond)

	hub.Broadcast(Event{Topic: "rfq.updated", ID: 1, Status: "SENT"})
	hub.Broadcast(Event{Topic: "order.created", ID: 1, Status: "CREATED"})
	hub.Broadcast(Event{Topic: "rfq.updated", ID: 3, Status: "QUOTED"})

	next := func(conn *websocket.Conn) Event {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var evt Event
		require.NoError(t, json.Unmarshal(data, &evt))
		return evt
	}
	assert.Equal(t, int64(1), next(first).ID)
	got := next(second)
	assert.Equal(t, "rfq.updated", got.Topic)
	assert.Equal(t, int64(3), got.ID, "events about other customers are not delivered")
}
