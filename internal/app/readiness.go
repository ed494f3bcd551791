// Package app wires application components and startup helpers.
//
// It provides dependency injection and application initialization.
// The package coordinates between different layers and provides
// a clean application bootstrap process.
package app

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/prinquiel/messaging-analytics-etl/internal/config"
)

// Pinger is the minimal interface for the analytics DB pool capable of Ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BuildReadinessChecks returns three readiness checks run by /readyz:
// the analytics database, the Redis run-state store, and at least one
// reachable Kafka/Redpanda broker (§4.8, §6.2, §10.6).
func BuildReadinessChecks(cfg config.Config, pool Pinger, rdb *redis.Client) (
	func(ctx context.Context) error,
	func(ctx context.Context) error,
	func(ctx context.Context) error,
) {
	dbCheck := func(ctx context.Context) error {
		if pool == nil {
			return fmt.Errorf("analytics db not configured")
		}
		return pool.Ping(ctx)
	}
	redisCheck := func(ctx context.Context) error {
		if rdb == nil {
			return fmt.Errorf("redis not configured")
		}
		return rdb.Ping(ctx).Err()
	}
	kafkaCheck := func(ctx context.Context) error {
		if len(cfg.KafkaBrokers) == 0 {
			return fmt.Errorf("no kafka brokers configured")
		}
		dialer := net.Dialer{Timeout: 2 * time.Second}
		var lastErr error
		for _, broker := range cfg.KafkaBrokers {
			conn, err := dialer.DialContext(ctx, "tcp", broker)
			if err != nil {
				lastErr = err
				continue
			}
			_ = conn.Close()
			return nil
		}
		return fmt.Errorf("no kafka broker reachable: %w", lastErr)
	}
	return dbCheck, redisCheck, kafkaCheck
}
