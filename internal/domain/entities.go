// Package domain defines the core records, aggregates, ports, and
// domain-specific errors of the analytics ETL pipeline.
package domain

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrRateLimited       = errors.New("rate limited")
	ErrUpstreamTimeout   = errors.New("upstream timeout")
	ErrUpstreamRateLimit = errors.New("upstream rate limit")
	ErrSchemaInvalid     = errors.New("schema invalid")
	ErrInternal          = errors.New("internal error")
	ErrHealthCheckFailed = errors.New("source api health check failed")
	ErrEmptyOutput       = errors.New("transform produced empty output")
)

// NonRetryableError marks an error that crossed the retry boundary and
// must fail its activity immediately instead of being retried by the
// workflow driver.
type NonRetryableError struct {
	Err error
}

// NewNonRetryable wraps err so IsNonRetryable reports true for it.
func NewNonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

func (e *NonRetryableError) Error() string { return e.Err.Error() }
func (e *NonRetryableError) Unwrap() error { return e.Err }

// IsNonRetryable reports whether err (or a wrapped cause) is marked
// non-retryable.
func IsNonRetryable(err error) bool {
	var nr *NonRetryableError
	return errors.As(err, &nr)
}

// ActivityName identifies one of the four workflow activities.
type ActivityName string

// Activity names, in the fixed order they execute.
const (
	ActivityExtract   ActivityName = "extract"
	ActivityTransform ActivityName = "transform"
	ActivityLoad      ActivityName = "load"
	ActivityCleanup   ActivityName = "cleanup"
)

// Context is a type alias to stdlib context.Context for convenience
// across layers without importing context in every consuming file.
type Context = context.Context

// --- Raw records (extract output, §3.1) ---

// SpillRecord is the on-disk envelope for a single raw record: a
// resource tag plus its opaque JSON payload. Extract writes these,
// one per line; transform reads them back and dispatches on Resource.
type SpillRecord struct {
	Resource string          `json:"resource"`
	Data     json.RawMessage `json:"data"`
}

// Resource kind tags used in SpillRecord.Resource.
const (
	ResourceUsers             = "users"
	ResourceChats             = "chats"
	ResourceMessages          = "messages"
	ResourceMarketplaceItems  = "marketplace_items"
	ResourceCategories        = "categories"
	ResourceSellers           = "sellers"
	ResourceChatMessages      = "chat_messages"
)

// FixedResourceOrder is the order the extractor walks the six global
// resources before the per-chat message sweep (§4.4).
var FixedResourceOrder = []string{
	ResourceUsers,
	ResourceChats,
	ResourceMessages,
	ResourceMarketplaceItems,
	ResourceCategories,
	ResourceSellers,
}

// UserRecord is the raw shape of a `users` item.
type UserRecord struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatRecord is the raw shape of a `chats` item.
type ChatRecord struct {
	ID        int64     `json:"id"`
	Name      *string   `json:"name"`
	ChatType  string    `json:"chat_type"`
	CreatedAt time.Time `json:"created_at"`
}

// MessageRecord is the raw shape of a `messages` or `chat_messages`
// item. SentAt is kept as the original string alongside the parsed
// time so the hour aggregator can use the cheap substring extraction
// the source system relies on (§4.5) while the weekday aggregator
// uses a proper parse.
type MessageRecord struct {
	SenderID    int64   `json:"sender_id"`
	ChatID      int64   `json:"chat_id"`
	SentAtRaw   string  `json:"sent_at"`
	MessageType *string `json:"message_type"`
}

// SentAt parses SentAtRaw as RFC3339/ISO-8601. Callers that only need
// the hour should prefer Hour(), which tolerates more timestamp
// shapes than a strict parse.
func (m MessageRecord) SentAt() (time.Time, error) {
	return time.Parse(time.RFC3339, m.SentAtRaw)
}

// Hour extracts the hour-of-day from positions 11:13 of an ISO-8601
// timestamp ("2024-01-02T10:15:00Z" -> 10), matching the cheap
// string-slicing the upstream aggregator uses instead of a full
// parse. Returns ok=false if the string is too short to slice.
func (m MessageRecord) Hour() (int, bool) {
	if len(m.SentAtRaw) < 13 {
		return 0, false
	}
	h := m.SentAtRaw[11:13]
	v := 0
	for _, c := range h {
		if c < '0' || c > '9' {
			return 0, false
		}
		v = v*10 + int(c-'0')
	}
	if v < 0 || v > 23 {
		return 0, false
	}
	return v, true
}

// DateKey extracts the calendar-date prefix (positions 0:10,
// "2024-01-02T10:15:00Z" -> "2024-01-02") the same cheap way Hour
// slices out the hour, so per-date aggregation never depends on a
// full timestamp parse succeeding. Returns ok=false if too short.
func (m MessageRecord) DateKey() (string, bool) {
	if len(m.SentAtRaw) < 10 {
		return "", false
	}
	return m.SentAtRaw[:10], true
}

// MessageTypeOrDefault returns MessageType, defaulting to "text" when
// absent, per §4.5.
func (m MessageRecord) MessageTypeOrDefault() string {
	if m.MessageType == nil || *m.MessageType == "" {
		return "text"
	}
	return *m.MessageType
}

// MarketplaceItemRecord is the raw shape of a `marketplace_items` item.
type MarketplaceItemRecord struct {
	SellerID   int64    `json:"seller_id"`
	ChatID     int64    `json:"chat_id"`
	CategoryID *int64   `json:"category_id"`
	Price      *float64 `json:"price"`
	Status     string   `json:"status"`
	CreatedAt  string   `json:"created_at"`
	SoldAt     *string  `json:"sold_at"`
}

// Marketplace item status values.
const (
	ItemStatusActive    = "active"
	ItemStatusSold      = "sold"
	ItemStatusCancelled = "cancelled"
	ItemStatusPending   = "pending"
)

// CategoryRecord is the raw shape of a `categories` item.
type CategoryRecord struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// SellerRecord is the raw shape of a `sellers` item.
type SellerRecord struct {
	UserID      int64   `json:"user_id"`
	CategoryIDs []int64 `json:"category_ids"`
}

// --- Aggregate entities (transform output, loader input, §3.2) ---

// UserStatistics is the per-user aggregate row.
type UserStatistics struct {
	UserID            int64      `json:"user_id"`
	Username          string     `json:"username"`
	TotalMessagesSent int        `json:"total_messages_sent"`
	ChatsParticipated int        `json:"chats_participated"`
	LastMessageDate   *time.Time `json:"last_message_date"`
	IsActive          bool       `json:"is_active"`
	CreatedAt         time.Time  `json:"created_at"`
}

// ChatStatistics is the per-chat aggregate row.
type ChatStatistics struct {
	ChatID           int64      `json:"chat_id"`
	ChatName         *string    `json:"chat_name"`
	ChatType         string     `json:"chat_type"`
	TotalMessages    int        `json:"total_messages"`
	UniqueSenders    int        `json:"unique_senders"`
	FirstMessageDate *time.Time `json:"first_message_date"`
	LastMessageDate  *time.Time `json:"last_message_date"`
	CreatedAt        time.Time  `json:"created_at"`
}

// DailyMessageStats is the per-calendar-day message aggregate row.
type DailyMessageStats struct {
	Date            string `json:"date"`
	TotalMessages   int    `json:"total_messages"`
	UniqueUsers     int    `json:"unique_users"`
	UniqueChats     int    `json:"unique_chats"`
	PrivateMessages int    `json:"private_messages"`
	GroupMessages   int    `json:"group_messages"`
}

// HourlyMessageStats is the per-hour-of-day (0-23) message aggregate row.
type HourlyMessageStats struct {
	Hour          int `json:"hour"`
	TotalMessages int `json:"total_messages"`
}

// WeekdayMessageStats is the per-weekday (0=Mon..6=Sun) message
// aggregate row.
type WeekdayMessageStats struct {
	Weekday       int    `json:"weekday"`
	WeekdayName   string `json:"weekday_name"`
	TotalMessages int    `json:"total_messages"`
	UniqueUsers   int    `json:"unique_users"`
	UniqueChats   int    `json:"unique_chats"`
}

// WeekdayNames indexes weekday name by Weekday (0=Monday).
var WeekdayNames = [7]string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// MessageTypeSummary is the per-message-type count aggregate row.
type MessageTypeSummary struct {
	MessageType string `json:"message_type"`
	TotalCount  int    `json:"total_count"`
}

// MarketplaceStatistics is the single append-only row produced per run.
type MarketplaceStatistics struct {
	TotalItems     int     `json:"total_items"`
	ActiveItems    int     `json:"active_items"`
	SoldItems      int     `json:"sold_items"`
	CancelledItems int     `json:"cancelled_items"`
	TotalRevenue   float64 `json:"total_revenue"`
	AveragePrice   float64 `json:"average_price"`
}

// TopSeller is a top-10-by-items-sold ranking row.
type TopSeller struct {
	SellerID     int64   `json:"seller_id"`
	Username     string  `json:"username"`
	ItemsSold    int     `json:"items_sold"`
	TotalRevenue float64 `json:"total_revenue"`
}

// CategoryStatistics is the per-category marketplace aggregate row.
type CategoryStatistics struct {
	CategoryID     int64   `json:"category_id"`
	CategoryName   string  `json:"category_name"`
	TotalItems     int     `json:"total_items"`
	ActiveItems    int     `json:"active_items"`
	SoldItems      int     `json:"sold_items"`
	CancelledItems int     `json:"cancelled_items"`
	AvgPrice       float64 `json:"avg_price"`
}

// SellerStatistics is the per-seller marketplace aggregate row.
type SellerStatistics struct {
	SellerID         int64   `json:"seller_id"`
	Username         string  `json:"username"`
	TotalItemsListed int     `json:"total_items_listed"`
	ActiveItems      int     `json:"active_items"`
	SoldItems        int     `json:"sold_items"`
	AvgListingPrice  float64 `json:"avg_listing_price"`
	TotalListedValue float64 `json:"total_listed_value"`
	TotalSoldValue   float64 `json:"total_sold_value"`
}

// ChatMarketplaceStats is the per-chat marketplace aggregate row.
type ChatMarketplaceStats struct {
	ChatID      int64   `json:"chat_id"`
	ChatName    *string `json:"chat_name"`
	TotalItems  int     `json:"total_items"`
	ActiveItems int     `json:"active_items"`
	SoldItems   int     `json:"sold_items"`
}

// DailyMarketplaceStats is the per-calendar-day marketplace aggregate row.
type DailyMarketplaceStats struct {
	Date            string  `json:"date"`
	ItemsListed     int     `json:"items_listed"`
	ItemsSold       int     `json:"items_sold"`
	AvgListingPrice float64 `json:"avg_listing_price"`
}

// SellerCategoryStats is the per-category seller-coverage aggregate row.
type SellerCategoryStats struct {
	CategoryID   int64  `json:"category_id"`
	CategoryName string `json:"category_name"`
	SellersCount int    `json:"sellers_count"`
}

// EtlRun is one row of the append-only run ledger, written by the
// loader only on success (§4.7, §7).
type EtlRun struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Status     string    `json:"status"`
	Notes      string    `json:"notes"`
}

// TransformedOutput is the single JSON object the transformer emits
// and the loader consumes (§4.3): one array per aggregate table.
type TransformedOutput struct {
	RunID                 string                  `json:"run_id"`
	UserStatistics        []UserStatistics        `json:"user_statistics"`
	ChatStatistics        []ChatStatistics        `json:"chat_statistics"`
	DailyMessageStats     []DailyMessageStats     `json:"daily_message_stats"`
	HourlyMessageStats    []HourlyMessageStats    `json:"hourly_message_stats"`
	WeekdayMessageStats   []WeekdayMessageStats   `json:"weekday_message_stats"`
	MessageTypeSummary    []MessageTypeSummary    `json:"message_type_summary"`
	MarketplaceStatistics MarketplaceStatistics   `json:"marketplace_statistics"`
	TopSellers            []TopSeller             `json:"top_sellers"`
	CategoryStatistics    []CategoryStatistics    `json:"category_statistics"`
	SellerStatistics      []SellerStatistics      `json:"seller_statistics"`
	ChatMarketplaceStats  []ChatMarketplaceStats  `json:"chat_marketplace_stats"`
	DailyMarketplaceStats []DailyMarketplaceStats `json:"daily_marketplace_stats"`
	SellerCategoryStats   []SellerCategoryStats   `json:"seller_category_stats"`
}

// --- Ports ---

// PageResponse is the decoded shape of every paginated source-API
// endpoint response (§6.1).
type PageResponse struct {
	Items      []json.RawMessage `json:"items"`
	Page       int               `json:"page"`
	PageSize   int               `json:"page_size"`
	HasNext    bool              `json:"has_next"`
	NextPage   *int              `json:"next_page"`
	PrevPage   *int              `json:"prev_page"`
	Total      *int              `json:"total"`
	TotalPages *int              `json:"total_pages"`
}

// SourceClient abstracts the operational REST API (§6.1). Implemented
// by the HTTP client pool; a fake/in-memory implementation backs unit
// tests.
type SourceClient interface {
	// HealthCheck calls GET /health; a non-2xx response or network
	// error is always non-retryable at the activity level (§4.4).
	HealthCheck(ctx Context) error
	// FetchPage calls GET <endpoint>?page=&page_size=&include_total=.
	FetchPage(ctx Context, endpoint string, page, pageSize int, includeTotal bool) (PageResponse, error)
}

// SpillWriter appends tagged records to a raw NDJSON spill file (§4.3).
type SpillWriter interface {
	WriteRecord(resource string, data any) error
	Flush() error
	Close() error
	Path() string
}

// SpillReader performs a lenient, forward-only scan over a raw NDJSON
// spill file, skipping malformed lines (§4.3).
type SpillReader interface {
	Each(fn func(rec SpillRecord) error) error
	Close() error
}

// ExtractResult is returned by the extract activity.
type ExtractResult struct {
	RunID    string
	RawPath  string
	RowCount int
}

// TransformResult is returned by the transform activity.
type TransformResult struct {
	TransformedPath string
	RowCount        int
}

// HeartbeatFunc reports extractor/aggregator progress to the workflow
// driver; activities call it periodically per §4.4/§4.5. The workflow
// driver's run-state store resets the per-activity deadline whenever
// it observes a beat.
type HeartbeatFunc func(ctx Context, detail string)

// Extractor runs the paginated extraction of every resource into a
// raw spill file (§4.4).
type Extractor interface {
	Run(ctx Context, runID string, heartbeat HeartbeatFunc) (ExtractResult, error)
}

// Transformer runs the single-pass aggregation of a raw spill file
// into a transformed-JSON spill file (§4.5).
type Transformer interface {
	Run(ctx Context, runID, rawPath string, heartbeat HeartbeatFunc) (TransformResult, error)
}

// Loader owns the analytics schema and performs the batched upsert
// load of a transformed spill file (§4.6, §4.7).
type Loader interface {
	Run(ctx Context, runID, transformedPath string) error
}

// SpillCleaner best-effort removes spill files regardless of workflow
// outcome (§4.8).
type SpillCleaner interface {
	Cleanup(ctx Context, paths ...string) error
}
