package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/odyssey-erp/rfq-portal/internal/live"
	"github.com/odyssey-erp/rfq-portal/internal/quotations"
	"github.com/odyssey-erp/rfq-portal/internal/rfq"
)

// Watch subscribes to live change notifications and calls fn for each one
// until ctx is cancelled or the connection drops.
func (c *Client) Watch(ctx context.Context, fn func(live.Event)) error {
	url := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/v1/live"
	header := http.Header{}
	if token := c.Token(); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return c.failure(resp)
		}
		return fmt.Errorf("dial live updates: %w", err)
	}
	defer func() {
		_ = conn.Close()
	}()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read live update: %w", err)
		}
		var evt live.Event
		if err := json.Unmarshal(data, &evt); err != nil {
			c.logger.Warn("drop malformed live event", slog.Any("error", err))
			continue
		}
		fn(evt)
	}
}

// WatchRFQ re-fetches an RFQ whenever it changes and hands the fresh view to
// fn. Failed refreshes are logged and skipped.
func (c *Client) WatchRFQ(ctx context.Context, id int64, fn func(*rfq.View)) error {
	return c.Watch(ctx, func(evt live.Event) {
		if evt.Topic != rfq.TopicRFQUpdated || evt.ID != id {
			return
		}
		view, err := c.GetRFQ(ctx, id)
		if err != nil {
			c.logger.Warn("refresh rfq", slog.Int64("rfq_id", id), slog.Any("error", err))
			return
		}
		fn(view)
	})
}

// WatchQuotation re-fetches a quotation whenever it changes.
func (c *Client) WatchQuotation(ctx context.Context, id int64, fn func(*quotations.View)) error {
	return c.Watch(ctx, func(evt live.Event) {
		if evt.Topic != quotations.TopicQuotationUpdated || evt.ID != id {
			return
		}
		view, err := c.GetQuotation(ctx, id)
		if err != nil {
			c.logger.Warn("refresh quotation", slog.Int64("quotation_id", id), slog.Any("error", err))
			return
		}
		fn(view)
	})
}
