// Package main provides a standalone CLI to trigger one ETL workflow
// run without waiting for a scheduler, mirroring the ad hoc trigger
// script shipped alongside the source system's worker.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/prinquiel/messaging-analytics-etl/internal/adapter/queue/redpanda"
	"github.com/prinquiel/messaging-analytics-etl/internal/config"
	"github.com/prinquiel/messaging-analytics-etl/internal/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer func() { _ = rdb.Close() }()

	producer, err := redpanda.NewProducer(cfg.KafkaBrokers, cfg.ActivityTopic, cfg.ActivityDLQTopic)
	if err != nil {
		fmt.Fprintf(os.Stderr, "queue producer init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := producer.Close(); err != nil {
			slog.Error("failed to close queue producer", slog.Any("error", err))
		}
	}()

	runs := workflow.NewRunStateStore(rdb, 7*24*time.Hour)
	driver := workflow.NewDriver(nil, nil, nil, nil, runs, producer, slog.Default())

	runID := fmt.Sprintf("etl-%s", uuid.New().String())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := driver.StartRun(ctx, runID); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start workflow run: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("workflow run started: %s\n", runID)
}
