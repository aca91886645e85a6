package rfq

import "time"

// CreateRFQRequest is the payload of POST /v1/rfqs and /v1/rfqs/public.
type CreateRFQRequest struct {
	Contact              Contact    `json:"contact"`
	Items                []LineItem `json:"items" validate:"required,min=1,dive"`
	ExpectedDeliveryDate time.Time  `json:"expected_delivery_date" validate:"required"`
	EmployeeCode         *string    `json:"employee_code,omitempty" validate:"omitempty,max=50"`
}

// UpdateRFQRequest is the payload of PUT /v1/rfqs/{id}. The full editable
// content is resent on every commit.
type UpdateRFQRequest struct {
	Contact              Contact    `json:"contact"`
	Items                []LineItem `json:"items" validate:"required,min=1,dive"`
	ExpectedDeliveryDate time.Time  `json:"expected_delivery_date" validate:"required"`
}

// AssignRequest is the payload of POST /v1/rfqs/{id}/assign.
type AssignRequest struct {
	SalesID    int64 `json:"sales_id" validate:"required,gt=0"`
	PlanningID int64 `json:"planning_id" validate:"required,gt=0"`
}

// CapacityVerdict is the payload of POST /v1/rfqs/{id}/capacity-evaluate.
type CapacityVerdict struct {
	Status          CapacityStatus `json:"status" validate:"required,oneof=SUFFICIENT INSUFFICIENT"`
	Reason          *string        `json:"reason,omitempty" validate:"omitempty,max=1000"`
	ProposedNewDate *time.Time     `json:"proposed_new_date,omitempty"`
}

// ReconfirmRequest is the payload of POST /v1/rfqs/{id}/reconfirm.
type ReconfirmRequest struct {
	ExpectedDeliveryDate time.Time `json:"expected_delivery_date" validate:"required"`
}

// ListRFQsRequest filters GET /v1/rfqs.
type ListRFQsRequest struct {
	Status     *Status `json:"status,omitempty"`
	CustomerID *int64  `json:"customer_id,omitempty"`
	SalesID    *int64  `json:"sales_id,omitempty"`
	PlanningID *int64  `json:"planning_id,omitempty"`
	Limit      int     `json:"limit" validate:"gte=0,lte=200"`
	Offset     int     `json:"offset" validate:"gte=0"`
}

// View is the GET /v1/rfqs/{id} response: the entity plus the server-held
// capacity check progress and what the caller may do next.
type View struct {
	RFQ
	Capacity CheckState `json:"capacity"`
	Phase    Phase      `json:"capacity_phase"`
	Display  Display    `json:"display"`
	Actions  []Action   `json:"actions"`
}

// Summary is one row of GET /v1/rfqs.
type Summary struct {
	RFQ
	Display Display `json:"display"`
}

// CancelRequest is the optional payload of POST /v1/rfqs/{id}/cancel.
type CancelRequest struct {
	Reason *string `json:"reason,omitempty" validate:"omitempty,max=1000"`
}
