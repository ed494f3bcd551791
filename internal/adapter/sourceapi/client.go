// Package sourceapi implements domain.SourceClient against the
// operational messaging/marketplace REST API (§6.1).
package sourceapi

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/prinquiel/messaging-analytics-etl/internal/adapter/httpclient"
	"github.com/prinquiel/messaging-analytics-etl/internal/domain"
)

// Endpoint paths for the six global resources, keyed by the spill
// resource tag used in domain.FixedResourceOrder. Note that the wire
// path for marketplace items is "/marketplace", not
// "/marketplace_items" — the resource tag and the endpoint diverge.
var endpointByResource = map[string]string{
	domain.ResourceUsers:            "/users",
	domain.ResourceChats:            "/chats",
	domain.ResourceMessages:         "/messages",
	domain.ResourceMarketplaceItems: "/marketplace",
	domain.ResourceCategories:       "/categories",
	domain.ResourceSellers:          "/sellers",
}

// EndpointForResource returns the wire path for one of the six global
// resources walked by the extractor (§4.4).
func EndpointForResource(resource string) (string, bool) {
	p, ok := endpointByResource[resource]
	return p, ok
}

// ChatMessagesEndpoint returns the per-chat message sweep path (§4.4).
func ChatMessagesEndpoint(chatID int64) string {
	return fmt.Sprintf("/chats/%d/messages", chatID)
}

// Client implements domain.SourceClient on top of the HTTP Client Pool.
type Client struct {
	baseURL string
	pool    *httpclient.Pool
}

// NewClient builds a Client for baseURL (e.g. Config.APIURL).
func NewClient(baseURL string, pool *httpclient.Pool) *Client {
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), pool: pool}
}

// HealthCheck calls GET /health; any error (including a non-2xx
// status surfaced by the pool) is wrapped non-retryable per §4.4.
func (c *Client) HealthCheck(ctx domain.Context) error {
	_, err := c.pool.Get(ctx, c.baseURL+"/health")
	if err != nil {
		return domain.NewNonRetryable(fmt.Errorf("%w: %v", domain.ErrHealthCheckFailed, err))
	}
	return nil
}

// FetchPage calls GET <endpoint>?page=&page_size=&include_total= and
// decodes the paginated envelope (§6.1).
func (c *Client) FetchPage(ctx domain.Context, endpoint string, page, pageSize int, includeTotal bool) (domain.PageResponse, error) {
	u := c.baseURL + endpoint
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))
	if includeTotal {
		q.Set("include_total", "true")
	}

	body, err := c.pool.Get(ctx, u+"?"+q.Encode())
	if err != nil {
		return domain.PageResponse{}, fmt.Errorf("op=sourceapi.FetchPage endpoint=%s page=%d: %w", endpoint, page, err)
	}

	var resp domain.PageResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.PageResponse{}, fmt.Errorf("op=sourceapi.FetchPage endpoint=%s page=%d: decode: %w", endpoint, page, err)
	}
	return resp, nil
}
