package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an order.
type Status string

const StatusCreated Status = "CREATED"

// Order materialises an accepted quotation.
type Order struct {
	ID          int64           `json:"id"`
	Number      string          `json:"number"`
	QuotationID int64           `json:"quotation_id"`
	RFQID       int64           `json:"rfq_id"`
	CustomerID  *int64          `json:"customer_id,omitempty"`
	Status      Status          `json:"status"`
	TotalPrice  decimal.Decimal `json:"total_price"`
	Currency    string          `json:"currency"`
	CreatedBy   *int64          `json:"created_by,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}
