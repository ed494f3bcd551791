package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxPool is the minimal pgx surface the schema manager and loader
// need. *pgxpool.Pool satisfies it directly; pgxmock.NewPool() stands
// in for it in tests.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// schemaStatements are the idempotent CREATE TABLE IF NOT EXISTS
// statements for every §3.2 aggregate table. Integer PKs are 32-bit,
// listing/avg money columns are NUMERIC(10,2), cumulative money
// columns are NUMERIC(12,2), every aggregate table carries
// updated_at with a CURRENT_TIMESTAMP default.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS user_statistics (
		user_id INTEGER PRIMARY KEY,
		username TEXT NOT NULL,
		total_messages_sent INTEGER NOT NULL DEFAULT 0,
		chats_participated INTEGER NOT NULL DEFAULT 0,
		last_message_date TIMESTAMP,
		is_active BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS chat_statistics (
		chat_id INTEGER PRIMARY KEY,
		chat_name TEXT,
		chat_type TEXT NOT NULL,
		total_messages INTEGER NOT NULL DEFAULT 0,
		unique_senders INTEGER NOT NULL DEFAULT 0,
		first_message_date TIMESTAMP,
		last_message_date TIMESTAMP,
		created_at TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS daily_message_stats (
		date DATE PRIMARY KEY,
		total_messages INTEGER NOT NULL DEFAULT 0,
		unique_users INTEGER NOT NULL DEFAULT 0,
		unique_chats INTEGER NOT NULL DEFAULT 0,
		private_messages INTEGER NOT NULL DEFAULT 0,
		group_messages INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS hourly_message_stats (
		hour INTEGER PRIMARY KEY,
		total_messages INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS weekday_message_stats (
		weekday INTEGER PRIMARY KEY,
		weekday_name TEXT NOT NULL,
		total_messages INTEGER NOT NULL DEFAULT 0,
		unique_users INTEGER NOT NULL DEFAULT 0,
		unique_chats INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS message_type_summary (
		message_type TEXT PRIMARY KEY,
		total_count INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS marketplace_statistics (
		id BIGSERIAL PRIMARY KEY,
		total_items INTEGER NOT NULL DEFAULT 0,
		active_items INTEGER NOT NULL DEFAULT 0,
		sold_items INTEGER NOT NULL DEFAULT 0,
		cancelled_items INTEGER NOT NULL DEFAULT 0,
		total_revenue NUMERIC(12,2) NOT NULL DEFAULT 0,
		average_price NUMERIC(10,2) NOT NULL DEFAULT 0,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS top_sellers (
		seller_id INTEGER PRIMARY KEY,
		username TEXT NOT NULL,
		items_sold INTEGER NOT NULL DEFAULT 0,
		total_revenue NUMERIC(12,2) NOT NULL DEFAULT 0,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS category_statistics (
		category_id INTEGER PRIMARY KEY,
		category_name TEXT NOT NULL,
		total_items INTEGER NOT NULL DEFAULT 0,
		active_items INTEGER NOT NULL DEFAULT 0,
		sold_items INTEGER NOT NULL DEFAULT 0,
		cancelled_items INTEGER NOT NULL DEFAULT 0,
		avg_price NUMERIC(10,2) NOT NULL DEFAULT 0,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS seller_statistics (
		seller_id INTEGER PRIMARY KEY,
		username TEXT NOT NULL,
		total_items_listed INTEGER NOT NULL DEFAULT 0,
		active_items INTEGER NOT NULL DEFAULT 0,
		sold_items INTEGER NOT NULL DEFAULT 0,
		avg_listing_price NUMERIC(10,2) NOT NULL DEFAULT 0,
		total_listed_value NUMERIC(12,2) NOT NULL DEFAULT 0,
		total_sold_value NUMERIC(12,2) NOT NULL DEFAULT 0,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS chat_marketplace_stats (
		chat_id INTEGER PRIMARY KEY,
		chat_name TEXT,
		total_items INTEGER NOT NULL DEFAULT 0,
		active_items INTEGER NOT NULL DEFAULT 0,
		sold_items INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS daily_marketplace_stats (
		date DATE PRIMARY KEY,
		items_listed INTEGER NOT NULL DEFAULT 0,
		items_sold INTEGER NOT NULL DEFAULT 0,
		avg_listing_price NUMERIC(10,2) NOT NULL DEFAULT 0,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS seller_category_stats (
		category_id INTEGER PRIMARY KEY,
		category_name TEXT NOT NULL,
		sellers_count INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS etl_runs (
		id BIGSERIAL PRIMARY KEY,
		run_id TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP NOT NULL,
		status TEXT NOT NULL,
		notes TEXT
	)`,
}

// SchemaManager issues the idempotent DDL of §4.6.
type SchemaManager struct {
	pool PgxPool
}

// NewSchemaManager builds a SchemaManager over pool.
func NewSchemaManager(pool PgxPool) *SchemaManager {
	return &SchemaManager{pool: pool}
}

// Ensure creates every analytics table if it does not already exist,
// inside a single transaction (§4.6).
func (m *SchemaManager) Ensure(ctx context.Context) error {
	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("op=schema.Ensure begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, stmt := range schemaStatements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("op=schema.Ensure exec: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=schema.Ensure commit: %w", err)
	}
	return nil
}
