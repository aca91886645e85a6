// Package portal is the Go client of the RFQ portal API. It carries the
// role-aware workflow the web screens drive: transitions with partial
// progress reporting, the capacity check sub-flow, the quotation countdown
// and live refresh.
package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/rfq-portal/internal/orders"
	"github.com/odyssey-erp/rfq-portal/internal/platform/httpx"
	"github.com/odyssey-erp/rfq-portal/internal/platform/i18n"
	"github.com/odyssey-erp/rfq-portal/internal/quotations"
	"github.com/odyssey-erp/rfq-portal/internal/rfq"
	"github.com/odyssey-erp/rfq-portal/internal/shared"
)

// APIError is a failed API call. Message is the server's detail when it sent
// one, otherwise a localized generic text.
type APIError struct {
	Status  int
	Message string
	Fields  map[string]string
	Err     error
}

func (e *APIError) Error() string {
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Client talks to the portal API on behalf of one signed-in user.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	lang           string
	logger         *slog.Logger
	onUnauthorized func(loginPath string)

	mu    sync.RWMutex
	token string
	role  shared.Role

	reads singleflight.Group
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLanguage selects the language of fallback error messages.
func WithLanguage(lang string) Option {
	return func(c *Client) { c.lang = lang }
}

// WithLogger sets the logger used for background refreshes.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithUnauthorizedHandler is called with the role's login path after the
// server rejected the session.
func WithUnauthorizedHandler(fn func(loginPath string)) Option {
	return func(c *Client) { c.onUnauthorized = fn }
}

// NewClient constructs a client for the API at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		lang:       "vi",
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetSession stores the bearer token and role of the signed-in user.
func (c *Client) SetSession(token string, role shared.Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token, c.role = token, role
}

// Role returns the cached role of the session.
func (c *Client) Role() shared.Role {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}

// Token returns the current bearer token, empty after a 401.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// ============================================================================
// RFQS
// ============================================================================

// CreateRFQ validates req locally and submits it. Invalid payloads are never
// sent. Without a session the public endpoint is used.
func (c *Client) CreateRFQ(ctx context.Context, req rfq.CreateRFQRequest) (*rfq.RFQ, error) {
	if err := rfq.ValidateCreate(req, time.Now()); err != nil {
		return nil, c.validationError(err)
	}
	path := "/v1/rfqs"
	if c.Token() == "" {
		path = "/v1/rfqs/public"
	}
	var out rfq.RFQ
	headers := map[string]string{"Idempotency-Key": uuid.NewString()}
	if err := c.do(ctx, http.MethodPost, path, req, &out, headers); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetRFQ reads the caller's view of an RFQ. Concurrent reads of the same RFQ
// share one request, so it suits passive refreshes only.
func (c *Client) GetRFQ(ctx context.Context, id int64) (*rfq.View, error) {
	v, err, _ := c.reads.Do(rfqReadKey(id), func() (any, error) {
		return c.fetchRFQ(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	view := *v.(*rfq.View)
	return &view, nil
}

// refreshRFQ reads an RFQ without joining a shared read that may have
// started before the caller's last mutation.
func (c *Client) refreshRFQ(ctx context.Context, id int64) (*rfq.View, error) {
	c.reads.Forget(rfqReadKey(id))
	return c.fetchRFQ(ctx, id)
}

func (c *Client) fetchRFQ(ctx context.Context, id int64) (*rfq.View, error) {
	var out rfq.View
	if err := c.do(ctx, http.MethodGet, rfqPath(id, ""), nil, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

func rfqReadKey(id int64) string {
	return "rfq:" + strconv.FormatInt(id, 10)
}

// ListRFQs lists RFQs visible to the caller, optionally by status.
func (c *Client) ListRFQs(ctx context.Context, status rfq.Status) ([]rfq.Summary, int, error) {
	path := "/v1/rfqs"
	if status != "" {
		path += "?status=" + string(status)
	}
	var out struct {
		Items []rfq.Summary `json:"items"`
		Total int           `json:"total"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out, nil); err != nil {
		return nil, 0, err
	}
	return out.Items, out.Total, nil
}

// ============================================================================
// QUOTATIONS / ORDERS
// ============================================================================

// GetQuotation reads a quotation with its response deadline. Concurrent
// reads share one request.
func (c *Client) GetQuotation(ctx context.Context, id int64) (*quotations.View, error) {
	v, err, _ := c.reads.Do(quotationReadKey(id), func() (any, error) {
		return c.fetchQuotation(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	view := *v.(*quotations.View)
	return &view, nil
}

func (c *Client) refreshQuotation(ctx context.Context, id int64) (*quotations.View, error) {
	c.reads.Forget(quotationReadKey(id))
	return c.fetchQuotation(ctx, id)
}

func (c *Client) fetchQuotation(ctx context.Context, id int64) (*quotations.View, error) {
	var out quotations.View
	if err := c.do(ctx, http.MethodGet, quotationPath(id, ""), nil, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

func quotationReadKey(id int64) string {
	return "quotation:" + strconv.FormatInt(id, 10)
}

// GetOrder reads an order.
func (c *Client) GetOrder(ctx context.Context, id int64) (*orders.Order, error) {
	var out orders.Order
	if err := c.do(ctx, http.MethodGet, "/v1/orders/"+strconv.FormatInt(id, 10), nil, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// ============================================================================
// TRANSPORT
// ============================================================================

func rfqPath(id int64, action string) string {
	out := "/v1/rfqs/" + strconv.FormatInt(id, 10)
	if action != "" {
		out += "/" + action
	}
	return out
}

func quotationPath(id int64, action string) string {
	out := "/v1/quotations/" + strconv.FormatInt(id, 10)
	if action != "" {
		out += "/" + action
	}
	return out
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, headers map[string]string) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &APIError{Message: i18n.Text(c.lang, i18n.MsgNetwork), Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 400 {
		return c.failure(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &APIError{Status: resp.StatusCode, Message: i18n.Text(c.lang, i18n.MsgGeneric), Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// failure converts an error response. A 401 ends the session.
func (c *Client) failure(resp *http.Response) error {
	var problem httpx.ProblemDetail
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(raw, &problem)

	apiErr := &APIError{
		Status:  resp.StatusCode,
		Message: strings.TrimSpace(problem.Detail),
		Fields:  problem.Errors,
		Err:     statusSentinel(resp.StatusCode),
	}
	if apiErr.Message == "" {
		apiErr.Message = i18n.Text(c.lang, fallbackKey(resp.StatusCode))
	}

	if resp.StatusCode == http.StatusUnauthorized {
		c.mu.Lock()
		role := c.role
		c.token = ""
		c.mu.Unlock()
		if c.onUnauthorized != nil {
			c.onUnauthorized(role.LoginPath())
		}
	}
	return apiErr
}

func (c *Client) validationError(err error) error {
	out := &APIError{Status: http.StatusUnprocessableEntity, Message: i18n.Text(c.lang, i18n.MsgValidation), Err: err}
	var fe httpx.FieldErrorer
	if errors.As(err, &fe) {
		out.Fields = fe.FieldErrors()
	}
	return out
}

func statusSentinel(status int) error {
	switch status {
	case http.StatusNotFound:
		return httpx.ErrNotFound
	case http.StatusConflict:
		return httpx.ErrConflict
	case http.StatusUnprocessableEntity:
		return httpx.ErrValidation
	case http.StatusForbidden:
		return httpx.ErrForbidden
	case http.StatusUnauthorized:
		return httpx.ErrUnauthorized
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return httpx.ErrUnavailable
	}
	return nil
}

func fallbackKey(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return i18n.MsgUnauthorized
	case http.StatusForbidden:
		return i18n.MsgForbidden
	case http.StatusNotFound:
		return i18n.MsgNotFound
	case http.StatusConflict:
		return i18n.MsgConflict
	case http.StatusUnprocessableEntity:
		return i18n.MsgValidation
	}
	return i18n.MsgGeneric
}
