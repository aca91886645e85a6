package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/rfq-portal/internal/app"
	jobmetrics "github.com/odyssey-erp/rfq-portal/internal/jobs"
	"github.com/odyssey-erp/rfq-portal/internal/live"
	"github.com/odyssey-erp/rfq-portal/internal/observability"
	"github.com/odyssey-erp/rfq-portal/internal/platform/cache"
	"github.com/odyssey-erp/rfq-portal/internal/platform/db"
	"github.com/odyssey-erp/rfq-portal/internal/quotations"
	"github.com/odyssey-erp/rfq-portal/internal/rfq"
	"github.com/odyssey-erp/rfq-portal/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	jobMetrics := jobmetrics.NewMetrics(metrics)
	locker := cache.NewLocker(redisClient, cfg.LockTTL)
	broker := live.NewBroker(redisClient, live.DefaultChannel, logger)

	rfqRepo := rfq.NewRepository(pool)
	rfqService := rfq.NewService(
		rfqRepo,
		rfq.NewRedisCheckStore(redisClient, cfg.CapacityCheckTTL),
		rfq.NewPlanningProber(pool),
		locker,
		broker,
		metrics,
		logger,
	)
	quotationRepo := quotations.NewRepository(pool)
	quotationService := quotations.NewService(quotationRepo, rfqService, quotations.NewPricingClient(cfg.PricingURL, cfg.PricingTimeout), quotations.Options{
		Locker:    locker,
		Publisher: broker,
		Metrics:   metrics,
		Logger:    logger,
		Window:    cfg.QuotationResponseWindow,
	})

	notifyJob := &jobs.QuotationNotifyJob{
		Quotations: quotationRepo,
		RFQs:       rfqRepo,
		Mailer:     jobs.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom),
		Window:     quotationService.Window(),
		Logger:     logger,
		Metrics:    jobMetrics,
	}
	expiryJob := &jobs.QuotationExpiryJob{
		Quotations: quotationService,
		Logger:     logger,
		Metrics:    jobMetrics,
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskQuotationNotify, Handler: notifyJob.Handle},
			{Type: jobs.TaskQuotationExpire, Handler: expiryJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ExpirySweepCron, Task: jobs.NewQuotationExpireTask(), Options: []asynq.Option{asynq.MaxRetry(1), asynq.Unique(time.Minute)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsServer := &http.Server{
		Addr:              cfg.WorkerMetricsAddr,
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("starting worker metrics", slog.String("addr", cfg.WorkerMetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("worker metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
