package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/rfq-portal/internal/jobs"
)

// Expirer closes quotations whose response window has passed.
type Expirer interface {
	ExpireOverdue(ctx context.Context) (int, error)
}

// QuotationExpiryJob runs the periodic expiry sweep.
type QuotationExpiryJob struct {
	Quotations Expirer
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
}

// Handle processes TaskQuotationExpire tasks.
func (j *QuotationExpiryJob) Handle(ctx context.Context, _ *asynq.Task) (resultErr error) {
	if j == nil || j.Quotations == nil {
		return errors.New("quotation expiry: handler not configured")
	}
	tracker := j.Metrics.Track(TaskQuotationExpire)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("job", TaskQuotationExpire))

	// Tighten the sweep with a timeout so a stuck query does not pin a worker slot.
	sweepCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	start := time.Now()
	n, err := j.Quotations.ExpireOverdue(sweepCtx)
	if err != nil {
		logger.Error("expire overdue quotations", slog.Any("error", err))
		return err
	}
	j.Metrics.AddAffected(TaskQuotationExpire, n)
	logger.Info("completed quotation expiry sweep", slog.Int("expired", n), slog.Duration("duration", time.Since(start)))
	return nil
}
