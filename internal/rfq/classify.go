package rfq

import (
	"strings"

	"github.com/odyssey-erp/rfq-portal/internal/shared"
)

// Severity is the visual weight of a classified status.
type Severity string

const (
	SeverityDefault    Severity = "default"
	SeverityInfo       Severity = "info"
	SeverityProcessing Severity = "processing"
	SeveritySuccess    Severity = "success"
	SeverityWarning    Severity = "warning"
	SeverityError      Severity = "error"
)

// Bucket values shared by several role vocabularies.
const (
	BucketUnknown = "UNKNOWN"
)

// Subject is the raw classifier input. Status and CapacityStatus are kept as
// strings so values unknown to this build can still be classified.
type Subject struct {
	Status         string
	CapacityStatus string
	Assigned       bool
}

// Display is the role-specific projection of a status.
type Display struct {
	Value    string   `json:"value"`
	Label    string   `json:"label"`
	Severity Severity `json:"severity"`
}

// Classify maps a subject into the vocabulary of role. It is total: unknown
// statuses and roles yield the UNKNOWN bucket labelled with the raw status.
func Classify(role shared.Role, in Subject) Display {
	status := Status(strings.ToUpper(strings.TrimSpace(in.Status)))
	if !status.Valid() {
		return unknown(in.Status)
	}
	switch role {
	case shared.RoleSales:
		return classifySales(status, in)
	case shared.RoleCustomer:
		return classifyCustomer(status)
	case shared.RoleDirector:
		return classifyDirector(status, in)
	case shared.RolePlanning:
		return classifyPlanning(status, in)
	}
	return unknown(in.Status)
}

func unknown(raw string) Display {
	label := strings.TrimSpace(raw)
	if label == "" {
		label = "Unknown"
	}
	return Display{Value: BucketUnknown, Label: label, Severity: SeverityDefault}
}

func capacityRejected(status Status, in Subject) bool {
	if status == StatusCapacityInsufficient {
		return true
	}
	return status == StatusReceivedByPlanning &&
		CapacityStatus(strings.ToUpper(in.CapacityStatus)) == CapacityInsufficient
}

func classifySales(status Status, in Subject) Display {
	if capacityRejected(status, in) {
		return Display{Value: "CAPACITY_INSUFFICIENT", Label: "Insufficient capacity, edit and resend", Severity: SeverityWarning}
	}
	switch status {
	case StatusDraft, StatusSent:
		return Display{Value: "WAITING_CONFIRMATION", Label: "Waiting confirmation", Severity: SeverityInfo}
	case StatusPreliminaryChecked, StatusForwardedToPlanning, StatusReceivedByPlanning:
		return Display{Value: "CONFIRMED", Label: "Confirmed", Severity: SeverityProcessing}
	case StatusQuoted:
		return Display{Value: "QUOTED", Label: "Quoted", Severity: SeveritySuccess}
	case StatusRejected, StatusCanceled:
		return Display{Value: "CANCELED", Label: "Canceled", Severity: SeverityError}
	case StatusAccepted:
		return Display{Value: "ACCEPTED", Label: "Accepted", Severity: SeveritySuccess}
	case StatusOrderCreated:
		return Display{Value: "ORDER_CREATED", Label: "Order created", Severity: SeveritySuccess}
	}
	return unknown(string(status))
}

func classifyCustomer(status Status) Display {
	switch status {
	case StatusDraft:
		return Display{Value: "AWAITING_QUOTATION", Label: "Awaiting quotation", Severity: SeverityInfo}
	case StatusSent, StatusPreliminaryChecked, StatusForwardedToPlanning,
		StatusReceivedByPlanning, StatusCapacityInsufficient:
		return Display{Value: "PROCESSING", Label: "Processing", Severity: SeverityProcessing}
	case StatusQuoted:
		return Display{Value: "QUOTED", Label: "Quotation available", Severity: SeverityWarning}
	case StatusAccepted, StatusOrderCreated:
		return Display{Value: "APPROVED", Label: "Approved", Severity: SeveritySuccess}
	case StatusRejected:
		return Display{Value: "REJECTED", Label: "Rejected", Severity: SeverityError}
	case StatusCanceled:
		return Display{Value: "CANCELED", Label: "Canceled", Severity: SeverityDefault}
	}
	return unknown(string(status))
}

func classifyDirector(status Status, in Subject) Display {
	switch {
	case status.Terminal():
		return Display{Value: "DONE", Label: "Done", Severity: SeveritySuccess}
	case (status == StatusDraft || status == StatusSent) && !in.Assigned:
		return Display{Value: "PENDING_ASSIGNMENT", Label: "Pending assignment", Severity: SeverityWarning}
	default:
		return Display{Value: "IN_PROGRESS", Label: "In progress", Severity: SeverityProcessing}
	}
}

func classifyPlanning(status Status, in Subject) Display {
	if capacityRejected(status, in) {
		return Display{Value: "RETURNED_TO_SALES", Label: "Returned to sales", Severity: SeverityWarning}
	}
	switch status {
	case StatusDraft, StatusSent, StatusPreliminaryChecked:
		return Display{Value: "WITH_SALES", Label: "With sales", Severity: SeverityDefault}
	case StatusForwardedToPlanning:
		return Display{Value: "AWAITING_RECEIPT", Label: "Awaiting receipt", Severity: SeverityInfo}
	case StatusReceivedByPlanning:
		return Display{Value: "IN_REVIEW", Label: "In review", Severity: SeverityProcessing}
	case StatusQuoted:
		return Display{Value: "QUOTED", Label: "Quoted", Severity: SeveritySuccess}
	}
	return Display{Value: "CLOSED", Label: "Closed", Severity: SeverityDefault}
}
