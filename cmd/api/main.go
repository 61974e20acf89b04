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
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/bulkjob-engine/internal/config"
	"github.com/kursadbilgin/bulkjob-engine/internal/handler"
	"github.com/kursadbilgin/bulkjob-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/bulkjob-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/bulkjob-engine/internal/infra/redis"
	"github.com/kursadbilgin/bulkjob-engine/internal/observability"
	"github.com/kursadbilgin/bulkjob-engine/internal/queue"
	"github.com/kursadbilgin/bulkjob-engine/internal/relay"
	"github.com/kursadbilgin/bulkjob-engine/internal/repository"
	"github.com/kursadbilgin/bulkjob-engine/internal/service"
	"github.com/kursadbilgin/bulkjob-engine/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	apiMaxOpenConns = 20
	apiBodyLimit    = 16 * 1024 * 1024
	shutdownTimeout = 10 * time.Second
)

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

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN, apiMaxOpenConns)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

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

	publisher := queue.NewRabbitMQPublisher(broker)
	metrics := observability.NewMetrics()

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

	jobService, err := service.NewJobService(jobs, repository.NewGormCodeRepo(db), publisher, recorder, cfg.MaxRowsPerJob, logger)
	if err != nil {
		logger.Fatal("job service initialization failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		AppName:      "bulkjob-engine",
		BodyLimit:    apiBodyLimit,
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb, broker)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	if err := handler.RegisterJobRoutes(app, jobService); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return liveRelay.Start(groupCtx)
	})
	g.Go(func() error {
		logger.Info("bulkjob-engine api started", zap.Int("port", cfg.APIPort))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("http server stopped: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down api")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("api stopped with error", zap.Error(err))
	}
}
