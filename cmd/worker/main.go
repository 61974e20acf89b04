package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/bulkjob-engine/internal/config"
	"github.com/kursadbilgin/bulkjob-engine/internal/handler"
	"github.com/kursadbilgin/bulkjob-engine/internal/infra/postgresql"
	infraredis "github.com/kursadbilgin/bulkjob-engine/internal/infra/redis"
	"github.com/kursadbilgin/bulkjob-engine/internal/messaging"
	"github.com/kursadbilgin/bulkjob-engine/internal/observability"
	"github.com/kursadbilgin/bulkjob-engine/internal/processor"
	"github.com/kursadbilgin/bulkjob-engine/internal/queue"
	"github.com/kursadbilgin/bulkjob-engine/internal/relay"
	"github.com/kursadbilgin/bulkjob-engine/internal/repository"
	"github.com/kursadbilgin/bulkjob-engine/internal/service"
	"github.com/kursadbilgin/bulkjob-engine/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	// Every consumer may hold a connection while its row is recorded.
	db, err := postgresql.NewPostgres(cfg.DatabaseDSN, cfg.WorkerConcurrency+4)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}
	defer postgresql.Close(db) //nolint:errcheck

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	broker, err := queue.NewRabbitMQ(cfg.RabbitMQURL, logger)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer broker.Close()

	metrics := observability.NewMetrics()
	publisher := queue.NewRabbitMQPublisher(broker)
	consumer := queue.NewRabbitMQConsumer(broker, cfg.WorkerPrefetch, cfg.MaxDeliveryAttempts, logger)

	flagNotifier, err := infraredis.NewFlagNotifier(rdb, logger)
	if err != nil {
		logger.Fatal("flag notifier initialization failed", zap.Error(err))
	}
	flags, err := service.NewFlagSnapshot(repository.NewGormFlagRepo(db), flagNotifier, cfg.FlagRefreshInterval(), logger)
	if err != nil {
		logger.Fatal("flag snapshot initialization failed", zap.Error(err))
	}

	limiter, err := infraredis.NewRedisRateLimiter(rdb, infraredis.SendThrottlePrefix, cfg.SendRatePerSec)
	if err != nil {
		logger.Fatal("send throttle initialization failed", zap.Error(err))
	}
	gateway, err := messaging.NewWebhookGateway(cfg.MessagingWebhookURL)
	if err != nil {
		logger.Fatal("messaging gateway initialization failed", zap.Error(err))
	}
	dispatcher, err := messaging.NewDispatcher(gateway, limiter, flags, logger)
	if err != nil {
		logger.Fatal("messaging dispatcher initialization failed", zap.Error(err))
	}

	registry, err := processor.NewDefaultRegistry(processor.Deps{
		Codes:         repository.NewGormCodeRepo(db),
		Invitations:   repository.NewGormInvitationRepo(db),
		Users:         repository.NewGormUserRepo(db),
		Subscriptions: repository.NewGormSubscriptionRepo(db),
		Messages:      dispatcher,
		RedeemBaseURL: cfg.RedeemBaseURL,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal("processor registry initialization failed", zap.Error(err))
	}

	relayClient, err := relay.NewClient(cfg.RelayBaseURL, cfg.RelayInternalSecret, cfg.RelayTimeout())
	if err != nil {
		logger.Fatal("relay client initialization failed", zap.Error(err))
	}
	liveRelay := relay.NewAsyncRelay(relayClient, relay.Options{
		BufferSize: cfg.RelayBufferSize,
		RatePerSec: cfg.RelayRatePerSec,
		Timeout:    cfg.RelayTimeout(),
	}, logger, metrics)

	jobs := repository.NewGormBulkJobRepo(db)
	recorder := service.NewRecorder(service.NewTracker(jobs), service.NewCoordinator(jobs), liveRelay, publisher, logger)
	recorder.SetMetrics(metrics)

	worker, err := service.NewWorkerService(jobs, registry, recorder, consumer, cfg.WorkerConcurrency, logger)
	if err != nil {
		logger.Fatal("worker service initialization failed", zap.Error(err))
	}
	worker.SetMetrics(metrics)
	consumer.OnDeadLetter(worker.HandleDeadLetter)

	reconciler, err := service.NewReconciler(jobs, recorder, cfg.StaleJobTimeout(), cfg.ReconcileInterval(), logger)
	if err != nil {
		logger.Fatal("reconciler initialization failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loadCtx, cancelLoad := context.WithTimeout(ctx, shutdownTimeout)
	err = flags.Refresh(loadCtx)
	cancelLoad()
	if err != nil {
		logger.Fatal("initial messaging flag load failed", zap.Error(err))
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return flags.Start(groupCtx) })
	g.Go(func() error { return liveRelay.Start(groupCtx) })
	g.Go(func() error { return reconciler.Start(groupCtx) })
	g.Go(func() error { return worker.Start(groupCtx) })

	if cfg.WorkerMetricsPort > 0 {
		app := fiber.New(fiber.Config{
			AppName:               "bulkjob-engine-worker",
			DisableStartupMessage: true,
			ErrorHandler:          transport.ErrorHandler(logger),
		})
		app.Get("/livez", handler.LivezHandler())
		app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

		g.Go(func() error {
			if err := app.Listen(fmt.Sprintf(":%d", cfg.WorkerMetricsPort)); err != nil {
				return fmt.Errorf("metrics server stopped: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-groupCtx.Done()
			return app.ShutdownWithTimeout(shutdownTimeout)
		})
	}

	logger.Info("bulkjob-engine worker started",
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.Int("maxDeliveryAttempts", cfg.MaxDeliveryAttempts),
		zap.Duration("staleJobTimeout", cfg.StaleJobTimeout()),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped with error", zap.Error(err))
	}
	logger.Info("bulkjob-engine worker stopped")
}
