package postgres_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/prinquiel/messaging-analytics-etl/internal/adapter/repo/postgres"
	"github.com/prinquiel/messaging-analytics-etl/internal/domain"
)

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func writeTransformed(t *testing.T, out domain.TransformedOutput) string {
	t.Helper()
	data, err := json.Marshal(out)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "transformed.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func sampleOutput() domain.TransformedOutput {
	return domain.TransformedOutput{
		RunID:              "run1",
		UserStatistics:     []domain.UserStatistics{{UserID: 1, Username: "u1", CreatedAt: time.Now()}},
		ChatStatistics:     []domain.ChatStatistics{{ChatID: 1, ChatType: "private", CreatedAt: time.Now()}},
		DailyMessageStats:  []domain.DailyMessageStats{{Date: "2024-01-01"}},
		HourlyMessageStats: []domain.HourlyMessageStats{{Hour: 10}},
		WeekdayMessageStats: []domain.WeekdayMessageStats{{Weekday: 0, WeekdayName: "Monday"}},
		MessageTypeSummary: []domain.MessageTypeSummary{{MessageType: "text"}},
		MarketplaceStatistics: domain.MarketplaceStatistics{TotalItems: 1},
		TopSellers:            []domain.TopSeller{{SellerID: 1, Username: "u1"}},
		CategoryStatistics:    []domain.CategoryStatistics{{CategoryID: 1, CategoryName: "c1"}},
		SellerStatistics:      []domain.SellerStatistics{{SellerID: 1, Username: "u1"}},
		ChatMarketplaceStats:  []domain.ChatMarketplaceStats{{ChatID: 1}},
		DailyMarketplaceStats: []domain.DailyMarketplaceStats{{Date: "2024-01-01"}},
		SellerCategoryStats:   []domain.SellerCategoryStats{{CategoryID: 1, CategoryName: "c1"}},
	}
}

func expectSchemaCreation(m pgxmock.PgxPoolIface) {
	m.ExpectBegin()
	for _, table := range []string{
		"user_statistics", "chat_statistics", "daily_message_stats", "hourly_message_stats",
		"weekday_message_stats", "message_type_summary", "marketplace_statistics", "top_sellers",
		"category_statistics", "seller_statistics", "chat_marketplace_stats", "daily_marketplace_stats",
		"seller_category_stats", "etl_runs",
	} {
		m.ExpectExec("CREATE TABLE IF NOT EXISTS " + table).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}
	m.ExpectCommit()
}

func TestLoader_Run_HappyPath(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()

	expectSchemaCreation(m)

	m.ExpectBegin()
	m.ExpectExec("INSERT INTO user_statistics").WithArgs(anyArgs(7)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	m.ExpectExec("INSERT INTO chat_statistics").WithArgs(anyArgs(8)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	m.ExpectExec("INSERT INTO daily_message_stats").WithArgs(anyArgs(6)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	m.ExpectExec("INSERT INTO hourly_message_stats").WithArgs(anyArgs(2)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	m.ExpectExec("INSERT INTO weekday_message_stats").WithArgs(anyArgs(5)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	m.ExpectExec("INSERT INTO message_type_summary").WithArgs(anyArgs(2)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	m.ExpectExec("INSERT INTO top_sellers").WithArgs(anyArgs(4)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	m.ExpectExec("INSERT INTO category_statistics").WithArgs(anyArgs(7)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	m.ExpectExec("INSERT INTO seller_statistics").WithArgs(anyArgs(8)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	m.ExpectExec("INSERT INTO chat_marketplace_stats").WithArgs(anyArgs(5)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	m.ExpectExec("INSERT INTO daily_marketplace_stats").WithArgs(anyArgs(4)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	m.ExpectExec("INSERT INTO seller_category_stats").WithArgs(anyArgs(3)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	m.ExpectExec("INSERT INTO marketplace_statistics").WithArgs(anyArgs(6)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	m.ExpectExec("INSERT INTO etl_runs").WithArgs(anyArgs(5)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	m.ExpectCommit()

	path := writeTransformed(t, sampleOutput())
	loader := postgres.NewLoader(m, 1000, 100)
	require.NoError(t, loader.Run(context.Background(), "run1", path))
	require.NoError(t, m.ExpectationsWereMet())
}

func TestLoader_Run_UpsertFailureRollsBackAndSkipsEtlRun(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()

	expectSchemaCreation(m)

	m.ExpectBegin()
	m.ExpectExec("INSERT INTO user_statistics").WithArgs(anyArgs(7)...).WillReturnError(errors.New("db down"))
	m.ExpectRollback()

	path := writeTransformed(t, sampleOutput())
	loader := postgres.NewLoader(m, 1000, 100)
	err = loader.Run(context.Background(), "run1", path)
	require.Error(t, err)
	require.NoError(t, m.ExpectationsWereMet())
}

func TestLoader_Run_MissingTransformedFile(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()

	loader := postgres.NewLoader(m, 1000, 100)
	err = loader.Run(context.Background(), "run1", filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestLoader_Run_EmptyTablesSkipUpsert(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()

	expectSchemaCreation(m)
	m.ExpectBegin()
	// Only marketplace_statistics (always inserted) and etl_runs fire;
	// every other table has zero rows so upsertRows is a no-op.
	m.ExpectExec("INSERT INTO marketplace_statistics").WithArgs(anyArgs(6)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	m.ExpectExec("INSERT INTO etl_runs").WithArgs(anyArgs(5)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	m.ExpectCommit()

	path := writeTransformed(t, domain.TransformedOutput{RunID: "run1"})
	loader := postgres.NewLoader(m, 1000, 100)
	require.NoError(t, loader.Run(context.Background(), "run1", path))
	require.NoError(t, m.ExpectationsWereMet())
}
