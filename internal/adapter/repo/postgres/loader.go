package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/prinquiel/messaging-analytics-etl/internal/domain"
)

// Loader implements domain.Loader: it owns the analytics schema and
// performs the batched upsert load of a transformed spill file (§4.6,
// §4.7).
type Loader struct {
	pool           PgxPool
	schema         *SchemaManager
	batchSize      int
	smallBatchSize int
}

var _ domain.Loader = (*Loader)(nil)

// NewLoader builds a Loader over pool, batching upserts at batchSize
// rows (default 1000) for the larger aggregate tables and
// smallBatchSize (default 100) for low-cardinality dimension tables.
func NewLoader(pool PgxPool, batchSize, smallBatchSize int) *Loader {
	if batchSize <= 0 {
		batchSize = 1000
	}
	if smallBatchSize <= 0 {
		smallBatchSize = 100
	}
	return &Loader{pool: pool, schema: NewSchemaManager(pool), batchSize: batchSize, smallBatchSize: smallBatchSize}
}

// Run reads the transformed-JSON spill at transformedPath, ensures the
// analytics schema exists, and upserts every aggregate table inside a
// single transaction. On success it appends one etl_runs row; on any
// failure the transaction rolls back and no etl_runs row is written,
// leaving the run retryable (§8 S1).
func (l *Loader) Run(ctx domain.Context, runID, transformedPath string) error {
	startedAt := time.Now()

	data, err := os.ReadFile(transformedPath)
	if err != nil {
		return fmt.Errorf("op=loader.Run read: %w", err)
	}
	var out domain.TransformedOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("op=loader.Run decode: %w", err)
	}

	if err := l.schema.Ensure(ctx); err != nil {
		return fmt.Errorf("op=loader.Run schema: %w", err)
	}

	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("op=loader.Run begin: %w", err)
	}
	defer tx.Rollback(ctx)

	loaders := []func(context.Context, pgx.Tx) error{
		func(c context.Context, tx pgx.Tx) error { return l.loadUserStatistics(c, tx, out.UserStatistics) },
		func(c context.Context, tx pgx.Tx) error { return l.loadChatStatistics(c, tx, out.ChatStatistics) },
		func(c context.Context, tx pgx.Tx) error { return l.loadDailyMessageStats(c, tx, out.DailyMessageStats) },
		func(c context.Context, tx pgx.Tx) error { return l.loadHourlyMessageStats(c, tx, out.HourlyMessageStats) },
		func(c context.Context, tx pgx.Tx) error { return l.loadWeekdayMessageStats(c, tx, out.WeekdayMessageStats) },
		func(c context.Context, tx pgx.Tx) error { return l.loadMessageTypeSummary(c, tx, out.MessageTypeSummary) },
		func(c context.Context, tx pgx.Tx) error { return l.loadTopSellers(c, tx, out.TopSellers) },
		func(c context.Context, tx pgx.Tx) error { return l.loadCategoryStatistics(c, tx, out.CategoryStatistics) },
		func(c context.Context, tx pgx.Tx) error { return l.loadSellerStatistics(c, tx, out.SellerStatistics) },
		func(c context.Context, tx pgx.Tx) error { return l.loadChatMarketplaceStats(c, tx, out.ChatMarketplaceStats) },
		func(c context.Context, tx pgx.Tx) error { return l.loadDailyMarketplaceStats(c, tx, out.DailyMarketplaceStats) },
		func(c context.Context, tx pgx.Tx) error { return l.loadSellerCategoryStats(c, tx, out.SellerCategoryStats) },
		func(c context.Context, tx pgx.Tx) error { return l.insertMarketplaceStatistics(c, tx, out.MarketplaceStatistics) },
	}
	for _, step := range loaders {
		if err := step(ctx, tx); err != nil {
			return err
		}
	}

	if err := l.insertEtlRun(ctx, tx, runID, startedAt, time.Now(), "success", ""); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=loader.Run commit: %w", err)
	}
	return nil
}

func (l *Loader) loadUserStatistics(ctx context.Context, tx pgx.Tx, rows []domain.UserStatistics) error {
	cols := []string{"user_id", "username", "total_messages_sent", "chats_participated", "last_message_date", "is_active", "created_at"}
	data := make([][]any, 0, len(rows))
	for _, r := range rows {
		data = append(data, []any{r.UserID, r.Username, r.TotalMessagesSent, r.ChatsParticipated, r.LastMessageDate, r.IsActive, r.CreatedAt})
	}
	return upsertRows(ctx, tx, "user_statistics", "user_id", cols, data, l.batchSize)
}

func (l *Loader) loadChatStatistics(ctx context.Context, tx pgx.Tx, rows []domain.ChatStatistics) error {
	cols := []string{"chat_id", "chat_name", "chat_type", "total_messages", "unique_senders", "first_message_date", "last_message_date", "created_at"}
	data := make([][]any, 0, len(rows))
	for _, r := range rows {
		data = append(data, []any{r.ChatID, r.ChatName, r.ChatType, r.TotalMessages, r.UniqueSenders, r.FirstMessageDate, r.LastMessageDate, r.CreatedAt})
	}
	return upsertRows(ctx, tx, "chat_statistics", "chat_id", cols, data, l.batchSize)
}

func (l *Loader) loadDailyMessageStats(ctx context.Context, tx pgx.Tx, rows []domain.DailyMessageStats) error {
	cols := []string{"date", "total_messages", "unique_users", "unique_chats", "private_messages", "group_messages"}
	data := make([][]any, 0, len(rows))
	for _, r := range rows {
		data = append(data, []any{r.Date, r.TotalMessages, r.UniqueUsers, r.UniqueChats, r.PrivateMessages, r.GroupMessages})
	}
	return upsertRows(ctx, tx, "daily_message_stats", "date", cols, data, l.batchSize)
}

func (l *Loader) loadHourlyMessageStats(ctx context.Context, tx pgx.Tx, rows []domain.HourlyMessageStats) error {
	cols := []string{"hour", "total_messages"}
	data := make([][]any, 0, len(rows))
	for _, r := range rows {
		data = append(data, []any{r.Hour, r.TotalMessages})
	}
	return upsertRows(ctx, tx, "hourly_message_stats", "hour", cols, data, l.smallBatchSize)
}

func (l *Loader) loadWeekdayMessageStats(ctx context.Context, tx pgx.Tx, rows []domain.WeekdayMessageStats) error {
	cols := []string{"weekday", "weekday_name", "total_messages", "unique_users", "unique_chats"}
	data := make([][]any, 0, len(rows))
	for _, r := range rows {
		data = append(data, []any{r.Weekday, r.WeekdayName, r.TotalMessages, r.UniqueUsers, r.UniqueChats})
	}
	return upsertRows(ctx, tx, "weekday_message_stats", "weekday", cols, data, l.smallBatchSize)
}

func (l *Loader) loadMessageTypeSummary(ctx context.Context, tx pgx.Tx, rows []domain.MessageTypeSummary) error {
	cols := []string{"message_type", "total_count"}
	data := make([][]any, 0, len(rows))
	for _, r := range rows {
		data = append(data, []any{r.MessageType, r.TotalCount})
	}
	return upsertRows(ctx, tx, "message_type_summary", "message_type", cols, data, l.smallBatchSize)
}

func (l *Loader) loadTopSellers(ctx context.Context, tx pgx.Tx, rows []domain.TopSeller) error {
	cols := []string{"seller_id", "username", "items_sold", "total_revenue"}
	data := make([][]any, 0, len(rows))
	for _, r := range rows {
		data = append(data, []any{r.SellerID, r.Username, r.ItemsSold, r.TotalRevenue})
	}
	return upsertRows(ctx, tx, "top_sellers", "seller_id", cols, data, l.smallBatchSize)
}

// loadCategoryStatistics skips the synthetic "uncategorized" bucket;
// domain.CategoryStatistics.CategoryID is a plain int64 (the
// aggregator never emits a row for nil category_id, §3.2), so there is
// no null-PK case to filter here on the Go side.
func (l *Loader) loadCategoryStatistics(ctx context.Context, tx pgx.Tx, rows []domain.CategoryStatistics) error {
	cols := []string{"category_id", "category_name", "total_items", "active_items", "sold_items", "cancelled_items", "avg_price"}
	data := make([][]any, 0, len(rows))
	for _, r := range rows {
		data = append(data, []any{r.CategoryID, r.CategoryName, r.TotalItems, r.ActiveItems, r.SoldItems, r.CancelledItems, r.AvgPrice})
	}
	return upsertRows(ctx, tx, "category_statistics", "category_id", cols, data, l.smallBatchSize)
}

func (l *Loader) loadSellerStatistics(ctx context.Context, tx pgx.Tx, rows []domain.SellerStatistics) error {
	cols := []string{"seller_id", "username", "total_items_listed", "active_items", "sold_items", "avg_listing_price", "total_listed_value", "total_sold_value"}
	data := make([][]any, 0, len(rows))
	for _, r := range rows {
		data = append(data, []any{r.SellerID, r.Username, r.TotalItemsListed, r.ActiveItems, r.SoldItems, r.AvgListingPrice, r.TotalListedValue, r.TotalSoldValue})
	}
	return upsertRows(ctx, tx, "seller_statistics", "seller_id", cols, data, l.batchSize)
}

func (l *Loader) loadChatMarketplaceStats(ctx context.Context, tx pgx.Tx, rows []domain.ChatMarketplaceStats) error {
	cols := []string{"chat_id", "chat_name", "total_items", "active_items", "sold_items"}
	data := make([][]any, 0, len(rows))
	for _, r := range rows {
		data = append(data, []any{r.ChatID, r.ChatName, r.TotalItems, r.ActiveItems, r.SoldItems})
	}
	return upsertRows(ctx, tx, "chat_marketplace_stats", "chat_id", cols, data, l.smallBatchSize)
}

func (l *Loader) loadDailyMarketplaceStats(ctx context.Context, tx pgx.Tx, rows []domain.DailyMarketplaceStats) error {
	cols := []string{"date", "items_listed", "items_sold", "avg_listing_price"}
	data := make([][]any, 0, len(rows))
	for _, r := range rows {
		data = append(data, []any{r.Date, r.ItemsListed, r.ItemsSold, r.AvgListingPrice})
	}
	return upsertRows(ctx, tx, "daily_marketplace_stats", "date", cols, data, l.batchSize)
}

// loadSellerCategoryStats skips the uncategorized bucket for the same
// reason as loadCategoryStatistics: CategoryID is never nil here.
func (l *Loader) loadSellerCategoryStats(ctx context.Context, tx pgx.Tx, rows []domain.SellerCategoryStats) error {
	cols := []string{"category_id", "category_name", "sellers_count"}
	data := make([][]any, 0, len(rows))
	for _, r := range rows {
		data = append(data, []any{r.CategoryID, r.CategoryName, r.SellersCount})
	}
	return upsertRows(ctx, tx, "seller_category_stats", "category_id", cols, data, l.smallBatchSize)
}

// insertMarketplaceStatistics appends a fresh row every run rather
// than upserting, producing a history (§4.7).
func (l *Loader) insertMarketplaceStatistics(ctx context.Context, tx pgx.Tx, m domain.MarketplaceStatistics) error {
	_, err := tx.Exec(ctx, `INSERT INTO marketplace_statistics
		(total_items, active_items, sold_items, cancelled_items, total_revenue, average_price)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		m.TotalItems, m.ActiveItems, m.SoldItems, m.CancelledItems, m.TotalRevenue, m.AveragePrice)
	if err != nil {
		return fmt.Errorf("op=loader.insertMarketplaceStatistics: %w", err)
	}
	return nil
}

func (l *Loader) insertEtlRun(ctx context.Context, tx pgx.Tx, runID string, startedAt, finishedAt time.Time, status, notes string) error {
	_, err := tx.Exec(ctx, `INSERT INTO etl_runs
		(run_id, started_at, finished_at, status, notes)
		VALUES ($1, $2, $3, $4, $5)`,
		runID, startedAt, finishedAt, status, notes)
	if err != nil {
		return fmt.Errorf("op=loader.insertEtlRun: %w", err)
	}
	return nil
}

// upsertRows issues INSERT ... ON CONFLICT (pkCol) DO UPDATE in chunks
// of at most batchSize rows (§4.7).
func upsertRows(ctx context.Context, tx pgx.Tx, table, pkCol string, cols []string, rows [][]any, batchSize int) error {
	if len(rows) == 0 {
		return nil
	}
	updateCols := make([]string, 0, len(cols))
	for _, c := range cols {
		if c == pkCol {
			continue
		}
		updateCols = append(updateCols, c)
	}
	for start := 0; start < len(rows); start += batchSize {
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		sql, args := buildUpsertSQL(table, pkCol, cols, updateCols, rows[start:end])
		if _, err := tx.Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("op=loader.upsert table=%s: %w", table, err)
		}
	}
	return nil
}

func buildUpsertSQL(table, pkCol string, cols, updateCols []string, rows [][]any) (string, []any) {
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(table)
	sb.WriteString(" (")
	sb.WriteString(strings.Join(cols, ", "))
	sb.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(cols))
	n := 1
	for i, row := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j := range cols {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", n)
			n++
		}
		sb.WriteString(")")
		args = append(args, row...)
	}

	sb.WriteString(" ON CONFLICT (")
	sb.WriteString(pkCol)
	sb.WriteString(") DO UPDATE SET ")
	for i, c := range updateCols {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(c)
		sb.WriteString(" = EXCLUDED.")
		sb.WriteString(c)
	}
	return sb.String(), args
}
