package quotations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PriceItem is one product to price.
type PriceItem struct {
	ProductID int64  `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Unit      string `json:"unit"`
}

// PriceRequest asks the pricing service for unit prices including margin.
type PriceRequest struct {
	Reference    string          `json:"reference"`
	ProfitMargin decimal.Decimal `json:"profit_margin"`
	DeliveryDate string          `json:"delivery_date"`
	Items        []PriceItem     `json:"items"`
}

// PricedItem is the unit price returned for one product.
type PricedItem struct {
	ProductID int64           `json:"product_id"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// PriceResponse is the pricing service answer.
type PriceResponse struct {
	Currency string       `json:"currency"`
	Items    []PricedItem `json:"items"`
}

// Pricer prices RFQ items. Price formulas live behind this interface.
type Pricer interface {
	Price(ctx context.Context, req PriceRequest) (*PriceResponse, error)
}

// PricingClient calls the external pricing service over HTTP.
type PricingClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewPricingClient constructs a new client.
func NewPricingClient(baseURL string, timeout time.Duration) *PricingClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PricingClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Ping checks if the pricing service is available.
func (c *PricingClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/health", c.baseURL), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("pricing returned status %d", resp.StatusCode)
	}
	return nil
}

// Price implements Pricer.
func (c *PricingClient) Price(ctx context.Context, in PriceRequest) (*PriceResponse, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/v1/prices", c.baseURL), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("pricing failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out PriceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode pricing response: %w", err)
	}
	return &out, nil
}

// buildLines joins the RFQ items with their unit prices and totals them.
func buildLines(items []PriceItem, priced *PriceResponse) ([]Line, decimal.Decimal, error) {
	prices := make(map[int64]decimal.Decimal, len(priced.Items))
	for _, p := range priced.Items {
		prices[p.ProductID] = p.UnitPrice
	}
	lines := make([]Line, 0, len(items))
	total := decimal.Zero
	for _, item := range items {
		unit, ok := prices[item.ProductID]
		if !ok {
			return nil, decimal.Zero, fmt.Errorf("no price for product %d", item.ProductID)
		}
		if unit.IsNegative() {
			return nil, decimal.Zero, fmt.Errorf("negative price for product %d", item.ProductID)
		}
		lineTotal := unit.Mul(decimal.NewFromInt(int64(item.Quantity))).Round(2)
		lines = append(lines, Line{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Unit:      item.Unit,
			UnitPrice: unit,
			LineTotal: lineTotal,
		})
		total = total.Add(lineTotal)
	}
	return lines, total, nil
}
