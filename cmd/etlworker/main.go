// Package main provides the worker application entry point.
// The worker drives the Extract -> Transform -> Load -> Cleanup
// workflow (§4.8) by consuming activity tasks from Redpanda.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/prinquiel/messaging-analytics-etl/internal/adapter/httpclient"
	"github.com/prinquiel/messaging-analytics-etl/internal/adapter/observability"
	"github.com/prinquiel/messaging-analytics-etl/internal/adapter/queue/redpanda"
	"github.com/prinquiel/messaging-analytics-etl/internal/adapter/repo/postgres"
	"github.com/prinquiel/messaging-analytics-etl/internal/adapter/sourceapi"
	"github.com/prinquiel/messaging-analytics-etl/internal/aggregate"
	"github.com/prinquiel/messaging-analytics-etl/internal/app"
	"github.com/prinquiel/messaging-analytics-etl/internal/cleanup"
	"github.com/prinquiel/messaging-analytics-etl/internal/config"
	"github.com/prinquiel/messaging-analytics-etl/internal/extract"
	"github.com/prinquiel/messaging-analytics-etl/internal/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting worker", slog.String("env", cfg.AppEnv))

	ctx := context.Background()

	pool, err := postgres.NewPool(ctx, cfg.AnalyticsDSN())
	if err != nil {
		slog.Error("analytics database connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	if err := postgres.NewSchemaManager(pool).Ensure(ctx); err != nil {
		slog.Error("analytics schema bootstrap failed", slog.Any("error", err))
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer func() { _ = rdb.Close() }()

	runs := workflow.NewRunStateStore(rdb, 7*24*time.Hour)

	httpPool := httpclient.NewPool(cfg, logger)
	sourceClient := sourceapi.NewClient(cfg.APIURL, httpPool)

	extractor := extract.New(sourceClient, cfg.MaxPageSize, cfg.MaxChatMessageChats, cfg.HeartbeatEveryPages, cfg.SpillDir, logger)
	transformer := aggregate.New(cfg.HeartbeatEveryRows, logger)
	loader := postgres.NewLoader(pool, cfg.LoaderBatchSize, cfg.LoaderSmallBatchSize)
	cleaner := cleanup.NewService(cfg.SpillDir, cfg.SpillRetention)

	producer, err := redpanda.NewProducerWithTransactionalID(cfg.KafkaBrokers, "etl-worker-producer", cfg.ActivityTopic, cfg.ActivityDLQTopic)
	if err != nil {
		slog.Error("queue producer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := producer.Close(); err != nil {
			slog.Error("failed to close queue producer", slog.Any("error", err))
		}
	}()

	driver := workflow.NewDriver(extractor, transformer, loader, cleaner, runs, producer, logger)

	retryManager := redpanda.NewRetryManager(producer, driver)

	minWorkers := cfg.ActivityWorkers / 2
	if minWorkers < 1 {
		minWorkers = 1
	}
	maxWorkers := cfg.ActivityWorkers
	if maxWorkers < minWorkers {
		maxWorkers = minWorkers
	}

	consumer, err := redpanda.NewActivityConsumerWithConfig(cfg.KafkaBrokers, "etl-workers", driver, minWorkers, maxWorkers)
	if err != nil {
		slog.Error("redpanda consumer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	consumer.WithRetryManager(retryManager)
	defer func() {
		if err := consumer.Close(); err != nil {
			slog.Error("failed to close consumer", slog.Any("error", err))
		}
	}()

	dlqConsumer, err := redpanda.NewDLQConsumer(cfg.KafkaBrokers, "etl-dlq-workers", producer, cfg.ActivityDLQTopic)
	if err != nil {
		slog.Error("DLQ consumer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer dlqConsumer.Stop()
	if err := dlqConsumer.Start(ctx); err != nil {
		slog.Error("DLQ consumer start error", slog.Any("error", err))
	}

	dbCheck, redisCheck, kafkaCheck := app.BuildReadinessChecks(cfg, pool, rdb)
	checks := []app.ReadinessCheck{
		{Name: "database", Check: dbCheck},
		{Name: "redis", Check: redisCheck},
		{Name: "kafka", Check: kafkaCheck},
	}
	router := app.BuildRouter(cfg, checks)
	go func() {
		addr := ":9090"
		slog.Info("worker ambient http server listening", slog.String("addr", addr))
		if err := http.ListenAndServe(addr, router); err != nil {
			slog.Error("worker ambient http server error", slog.Any("error", err))
		}
	}()

	if sweeper := app.NewStuckRunSweeper(runs, driver, 3*time.Minute, time.Minute); sweeper != nil {
		go sweeper.Run(ctx)
	}

	slog.Info("starting redpanda consumer")
	go func() {
		if err := consumer.Start(ctx); err != nil {
			slog.Error("consumer error", slog.Any("error", err))
		}
	}()

	slog.Info("worker started successfully, waiting for shutdown signal")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	slog.Info("signal received, shutting down", slog.String("signal", sig.String()))
}
