package jobs

import (
	"encoding/json"
	"errors"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskQuotationNotify emails the customer that a quotation awaits a decision.
	TaskQuotationNotify = "quotation:notify"
	// TaskQuotationExpire moves overdue sent quotations to EXPIRED.
	TaskQuotationExpire = "quotation:expire"
)

// QuotationNotifyPayload identifies the quotation to announce.
type QuotationNotifyPayload struct {
	QuotationID int64 `json:"quotation_id"`
}

// NewQuotationNotifyTask constructs an Asynq task.
func NewQuotationNotifyTask(quotationID int64) (*asynq.Task, error) {
	if quotationID <= 0 {
		return nil, errors.New("jobs: quotation id required")
	}
	data, err := json.Marshal(QuotationNotifyPayload{QuotationID: quotationID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskQuotationNotify, data), nil
}

// NewQuotationExpireTask constructs the periodic expiry sweep task.
func NewQuotationExpireTask() *asynq.Task {
	return asynq.NewTask(TaskQuotationExpire, nil)
}
