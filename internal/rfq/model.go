package rfq

import "time"

// Status is the canonical lifecycle state of an RFQ.
type Status string

const (
	StatusDraft                Status = "DRAFT"
	StatusSent                 Status = "SENT"
	StatusPreliminaryChecked   Status = "PRELIMINARY_CHECKED"
	StatusForwardedToPlanning  Status = "FORWARDED_TO_PLANNING"
	StatusReceivedByPlanning   Status = "RECEIVED_BY_PLANNING"
	StatusQuoted               Status = "QUOTED"
	StatusCapacityInsufficient Status = "CAPACITY_INSUFFICIENT"
	StatusAccepted             Status = "ACCEPTED"
	StatusRejected             Status = "REJECTED"
	StatusCanceled             Status = "CANCELED"
	StatusOrderCreated         Status = "ORDER_CREATED"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusDraft,
	StatusSent,
	StatusPreliminaryChecked,
	StatusForwardedToPlanning,
	StatusReceivedByPlanning,
	StatusQuoted,
	StatusCapacityInsufficient,
	StatusAccepted,
	StatusRejected,
	StatusCanceled,
	StatusOrderCreated,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no further edits or user transitions are allowed.
func (s Status) Terminal() bool {
	switch s {
	case StatusAccepted, StatusRejected, StatusCanceled, StatusOrderCreated:
		return true
	}
	return false
}

// CapacityStatus is the Planning verdict recorded on an RFQ.
type CapacityStatus string

const (
	CapacitySufficient   CapacityStatus = "SUFFICIENT"
	CapacityInsufficient CapacityStatus = "INSUFFICIENT"
)

// Contact is the requester snapshot captured at submission time.
type Contact struct {
	Name    string `json:"name" validate:"required,max=200"`
	Phone   string `json:"phone" validate:"required,vnphone"`
	Email   string `json:"email" validate:"required,email,max=200"`
	Address string `json:"address" validate:"required,max=500"`
}

// LineItem is one requested product.
type LineItem struct {
	ProductID int64   `json:"product_id" validate:"required,gt=0"`
	Quantity  int     `json:"quantity" validate:"minqty"`
	Unit      string  `json:"unit" validate:"required,max=20"`
	Notes     *string `json:"notes,omitempty" validate:"omitempty,max=1000"`
}

// RFQ is a customer's request for quotation.
type RFQ struct {
	ID                      int64           `json:"id"`
	Number                  string          `json:"number"`
	Status                  Status          `json:"status"`
	CustomerID              *int64          `json:"customer_id,omitempty"`
	EmployeeCode            *string         `json:"employee_code,omitempty"`
	Contact                 Contact         `json:"contact"`
	Items                   []LineItem      `json:"items"`
	ExpectedDeliveryDate    time.Time       `json:"expected_delivery_date"`
	CapacityStatus          *CapacityStatus `json:"capacity_status,omitempty"`
	CapacityReason          *string         `json:"capacity_reason,omitempty"`
	ProposedNewDeliveryDate *time.Time      `json:"proposed_new_delivery_date,omitempty"`
	AssignedSalesID         *int64          `json:"assigned_sales_id,omitempty"`
	AssignedPlanningID      *int64          `json:"assigned_planning_id,omitempty"`
	CreatedBy               *int64          `json:"created_by,omitempty"`
	CreatedAt               time.Time       `json:"created_at"`
	UpdatedAt               time.Time       `json:"updated_at"`
}

// Assigned reports whether the Director has assigned staff.
func (r *RFQ) Assigned() bool {
	return r.AssignedSalesID != nil && r.AssignedPlanningID != nil
}

// Subject projects the RFQ into classifier input.
func (r *RFQ) Subject() Subject {
	s := Subject{Status: string(r.Status), Assigned: r.Assigned()}
	if r.CapacityStatus != nil {
		s.CapacityStatus = string(*r.CapacityStatus)
	}
	return s
}

// Event is one recorded transition of an RFQ.
type Event struct {
	ID        int64     `json:"id"`
	RFQID     int64     `json:"rfq_id"`
	Action    Action    `json:"action"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	ActorID   *int64    `json:"actor_id,omitempty"`
	Note      *string   `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
