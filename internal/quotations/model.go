package quotations

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a quotation.
type Status string

const (
	StatusDraft        Status = "DRAFT"
	StatusSent         Status = "SENT"
	StatusAccepted     Status = "ACCEPTED"
	StatusRejected     Status = "REJECTED"
	StatusExpired      Status = "EXPIRED"
	StatusOrderCreated Status = "ORDER_CREATED"
)

// Line is one priced item of a quotation.
type Line struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Unit      string          `json:"unit"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// Quotation is the priced answer to an RFQ.
type Quotation struct {
	ID           int64           `json:"id"`
	Number       string          `json:"number"`
	RFQID        int64           `json:"rfq_id"`
	Status       Status          `json:"status"`
	ProfitMargin decimal.Decimal `json:"profit_margin"`
	TotalPrice   decimal.Decimal `json:"total_price"`
	Currency     string          `json:"currency"`
	Notes        *string         `json:"notes,omitempty"`
	Lines        []Line          `json:"lines"`
	CreatedBy    *int64          `json:"created_by,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	SentAt       *time.Time      `json:"sent_at,omitempty"`
	DecidedAt    *time.Time      `json:"decided_at,omitempty"`
}

// CreateFromRFQRequest is the payload of POST /v1/quotations/create-from-rfq.
type CreateFromRFQRequest struct {
	RFQID        int64           `json:"rfq_id"`
	ProfitMargin decimal.Decimal `json:"profit_margin"`
	Notes        *string         `json:"notes,omitempty"`
}

// RejectRequest is the optional payload of POST /v1/quotations/{id}/reject.
type RejectRequest struct {
	Reason *string `json:"reason,omitempty"`
}

// View is a quotation with its customer-facing state and response deadline.
type View struct {
	Quotation
	Display  Display    `json:"display"`
	Deadline *time.Time `json:"deadline,omitempty"`
}
