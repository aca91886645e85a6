package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"text/template"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/rfq-portal/internal/jobs"
	"github.com/odyssey-erp/rfq-portal/internal/quotations"
	"github.com/odyssey-erp/rfq-portal/internal/rfq"
)

// QuotationReader loads a quotation by id.
type QuotationReader interface {
	Get(ctx context.Context, id int64) (*quotations.Quotation, error)
}

// RFQReader loads an RFQ by id.
type RFQReader interface {
	Get(ctx context.Context, id int64) (*rfq.RFQ, error)
}

var quotationMail = template.Must(template.New("quotation").Parse(`Kính gửi {{.Name}},

Báo giá {{.Number}} cho yêu cầu {{.RFQNumber}} đã sẵn sàng.
Tổng giá trị: {{.Total}} {{.Currency}}
Vui lòng phản hồi trước {{.Deadline}} (UTC). Sau thời điểm này báo giá sẽ hết hiệu lực.
`))

type quotationMailData struct {
	Name      string
	Number    string
	RFQNumber string
	Total     string
	Currency  string
	Deadline  string
}

// QuotationNotifyJob emails the RFQ contact once a quotation is sent.
type QuotationNotifyJob struct {
	Quotations QuotationReader
	RFQs       RFQReader
	Mailer     Mailer
	Window     quotations.Window
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
}

// Handle processes TaskQuotationNotify tasks.
func (j *QuotationNotifyJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Quotations == nil || j.RFQs == nil || j.Mailer == nil {
		return errors.New("quotation notify: handler not configured")
	}
	var payload QuotationNotifyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.QuotationID <= 0 {
		return fmt.Errorf("quotation notify: bad payload: %w", asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskQuotationNotify)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.Int64("quotation_id", payload.QuotationID))

	q, err := j.Quotations.Get(ctx, payload.QuotationID)
	if err != nil {
		if errors.Is(err, quotations.ErrNotFound) {
			logger.Warn("quotation vanished before notification")
			return fmt.Errorf("quotation notify: %w", asynq.SkipRetry)
		}
		return err
	}
	if q.Status != quotations.StatusSent {
		logger.Info("quotation no longer awaiting decision", slog.String("status", string(q.Status)))
		return nil
	}
	r, err := j.RFQs.Get(ctx, q.RFQID)
	if err != nil {
		return err
	}

	var body bytes.Buffer
	if err := quotationMail.Execute(&body, quotationMailData{
		Name:      r.Contact.Name,
		Number:    q.Number,
		RFQNumber: r.Number,
		Total:     q.TotalPrice.StringFixed(2),
		Currency:  q.Currency,
		Deadline:  j.Window.Deadline(q).UTC().Format(time.DateTime),
	}); err != nil {
		return fmt.Errorf("quotation notify: render: %w", err)
	}
	if err := j.Mailer.Send(ctx, Message{
		To:      r.Contact.Email,
		Subject: "Báo giá " + q.Number,
		Body:    body.String(),
	}); err != nil {
		logger.Error("send quotation mail", slog.Any("error", err))
		return err
	}
	logger.Info("quotation mail sent", slog.String("to", r.Contact.Email))
	return nil
}

func (j *QuotationNotifyJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskQuotationNotify))
	}
	return slog.Default().With(slog.String("job", TaskQuotationNotify))
}
