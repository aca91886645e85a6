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
	"github.com/odyssey-erp/rfq-portal/internal/auth"
	"github.com/odyssey-erp/rfq-portal/internal/live"
	"github.com/odyssey-erp/rfq-portal/internal/observability"
	"github.com/odyssey-erp/rfq-portal/internal/orders"
	"github.com/odyssey-erp/rfq-portal/internal/platform/cache"
	"github.com/odyssey-erp/rfq-portal/internal/platform/db"
	"github.com/odyssey-erp/rfq-portal/internal/quotations"
	"github.com/odyssey-erp/rfq-portal/internal/rfq"
	"github.com/odyssey-erp/rfq-portal/internal/shared"
	"github.com/odyssey-erp/rfq-portal/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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
	locker := cache.NewLocker(redisClient, cfg.LockTTL)
	idempotency := shared.NewIdempotencyStore(redisClient, cfg.IdempotencyTTL)
	broker := live.NewBroker(redisClient, live.DefaultChannel, logger)
	hub := live.NewHub(metrics, logger)

	jobClient := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	tokens := auth.NewTokens(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL)
	authMW := auth.Middleware{Tokens: tokens, Logger: logger}

	rfqRepo := rfq.NewRepository(dbpool)
	checkStore := rfq.NewRedisCheckStore(redisClient, cfg.CapacityCheckTTL)
	prober := rfq.NewPlanningProber(dbpool)
	rfqService := rfq.NewService(rfqRepo, checkStore, prober, locker, broker, metrics, logger)
	rfqHandler := rfq.NewHandler(logger, rfqService, authMW, idempotency, app.PublicRFQLimit(cfg))

	pricer := quotations.NewPricingClient(cfg.PricingURL, cfg.PricingTimeout)
	if err := pricer.Ping(ctx); err != nil {
		logger.Warn("pricing service ping", slog.String("url", cfg.PricingURL), slog.Any("error", err))
	}
	quotationService := quotations.NewService(quotations.NewRepository(dbpool), rfqService, pricer, quotations.Options{
		Locker:    locker,
		Publisher: broker,
		Notifier:  jobClient,
		Metrics:   metrics,
		Logger:    logger,
		Window:    cfg.QuotationResponseWindow,
	})
	quotationHandler := quotations.NewHandler(logger, quotationService, authMW)

	orderService := orders.NewService(orders.NewRepository(dbpool), rfqService, locker, broker, metrics, logger)
	hub.Authorize(rfq.TopicRFQUpdated, func(ctx context.Context, p shared.Principal, id int64) error {
		_, err := rfqService.Get(ctx, p, id)
		return err
	})
	hub.Authorize(quotations.TopicQuotationUpdated, func(ctx context.Context, p shared.Principal, id int64) error {
		_, err := quotationService.Get(ctx, p, id)
		return err
	})
	hub.Authorize(orders.TopicOrderCreated, func(ctx context.Context, p shared.Principal, id int64) error {
		_, err := orderService.Get(ctx, p, id)
		return err
	})
	orderHandler := orders.NewHandler(logger, orderService, authMW, idempotency)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		Auth:             authMW,
		RFQHandler:       rfqHandler,
		QuotationHandler: quotationHandler,
		OrderHandler:     orderHandler,
		JobHandler:       jobs.NewHandler(inspector, logger),
		Hub:              hub,
		Metrics:          metrics,
	})

	go func() {
		if err := hub.Run(ctx, broker); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("live hub stopped", slog.Any("error", err))
		}
	}()

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
