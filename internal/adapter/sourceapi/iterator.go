package sourceapi

import (
	"encoding/json"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/prinquiel/messaging-analytics-etl/internal/domain"
)

// PageIterator drives one endpoint through its full pagination (§4.2):
// fetch page 1 with include_total=true to learn total_pages, then fan
// out pages 2..total_pages concurrently bounded by the client pool's
// own concurrency cap, and deliver every page's items through OnPage
// in page order (page order is preserved for the caller even though
// fetches themselves run out of order).
type PageIterator struct {
	client   domain.SourceClient
	pageSize int
}

// NewPageIterator builds a PageIterator bounded to pageSize items per
// page (config validation rejects a MAX_PAGE_SIZE above 250; nothing
// here clamps it).
func NewPageIterator(client domain.SourceClient, pageSize int) *PageIterator {
	return &PageIterator{client: client, pageSize: pageSize}
}

// Page is one fetched page's decoded items, tagged with its page
// number so callers can heartbeat off Page accurately.
type Page struct {
	Number int
	Items  []json.RawMessage
}

// Walk drives endpoint through all of its pages and invokes onPage
// once per page, strictly in page-number order. A failure fetching
// page 1 is always fatal. A failure fetching any later page is fatal
// unless nonFatalTail is true, in which case that page is skipped and
// logged by the caller via the returned skipped page numbers.
func (it *PageIterator) Walk(ctx domain.Context, endpoint string, nonFatalTail bool, onPage func(Page) error) (skipped []int, err error) {
	first, err := it.client.FetchPage(ctx, endpoint, 1, it.pageSize, true)
	if err != nil {
		return nil, fmt.Errorf("op=sourceapi.PageIterator.Walk endpoint=%s page=1: %w", endpoint, err)
	}
	if err := onPage(Page{Number: 1, Items: first.Items}); err != nil {
		return nil, err
	}

	totalPages := 1
	if first.TotalPages != nil {
		totalPages = *first.TotalPages
	}
	if totalPages <= 1 {
		return nil, nil
	}

	type fetched struct {
		page  int
		items []json.RawMessage
		err   error
	}
	results := make([]fetched, 0, totalPages-1)
	resCh := make(chan fetched, totalPages-1)
	g, gctx := errgroup.WithContext(ctx)
	if nonFatalTail {
		// Non-fatal tail pages never cancel their siblings on error;
		// use a plain group over the caller's ctx so one page's failure
		// doesn't abort the rest of the per-chat sweep.
		g = &errgroup.Group{}
		gctx = ctx
	}

	for p := 2; p <= totalPages; p++ {
		page := p
		g.Go(func() error {
			resp, ferr := it.client.FetchPage(gctx, endpoint, page, it.pageSize, false)
			if ferr != nil {
				if nonFatalTail {
					resCh <- fetched{page: page, err: ferr}
					return nil
				}
				return fmt.Errorf("op=sourceapi.PageIterator.Walk endpoint=%s page=%d: %w", endpoint, page, ferr)
			}
			resCh <- fetched{page: page, items: resp.Items}
			return nil
		})
	}

	waitErr := g.Wait()
	close(resCh)
	for f := range resCh {
		results = append(results, f)
	}
	if waitErr != nil {
		return nil, waitErr
	}

	sort.Slice(results, func(i, j int) bool { return results[i].page < results[j].page })
	for _, f := range results {
		if f.err != nil {
			skipped = append(skipped, f.page)
			continue
		}
		if err := onPage(Page{Number: f.page, Items: f.items}); err != nil {
			return skipped, err
		}
	}
	return skipped, nil
}
