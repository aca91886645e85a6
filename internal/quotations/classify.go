package quotations

import (
	"strings"
	"time"
)

// Display is the customer-facing projection of a quotation.
type Display struct {
	Value     string        `json:"value"`
	Label     string        `json:"label"`
	Severity  string        `json:"severity"`
	Remaining time.Duration `json:"remaining_ns,omitempty"`
}

// ClassifyForCustomer maps a quotation into the customer vocabulary. SENT
// quotations carry the remaining response time until the window closes.
func ClassifyForCustomer(q *Quotation, now time.Time, w Window) Display {
	switch Status(strings.ToUpper(string(q.Status))) {
	case StatusDraft:
		return Display{Value: "PREPARING", Label: "Being prepared", Severity: "default"}
	case StatusSent:
		if w.Expired(q, now) {
			return Display{Value: "EXPIRED", Label: "Expired", Severity: "default"}
		}
		return Display{Value: "PENDING_APPROVAL", Label: "Awaiting your approval", Severity: "warning", Remaining: w.Remaining(q, now)}
	case StatusExpired:
		return Display{Value: "EXPIRED", Label: "Expired", Severity: "default"}
	case StatusAccepted, StatusOrderCreated:
		return Display{Value: "APPROVED", Label: "Approved", Severity: "success"}
	case StatusRejected:
		return Display{Value: "REJECTED", Label: "Rejected", Severity: "error"}
	}
	label := strings.TrimSpace(string(q.Status))
	if label == "" {
		label = "Unknown"
	}
	return Display{Value: "UNKNOWN", Label: label, Severity: "default"}
}
