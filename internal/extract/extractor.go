// Package extract implements the Extractor activity (§4.4): walks
// every resource into a raw NDJSON spill file, plus the bounded
// per-chat message sweep.
package extract

import (
	"fmt"
	"log/slog"

	"github.com/prinquiel/messaging-analytics-etl/internal/adapter/sourceapi"
	"github.com/prinquiel/messaging-analytics-etl/internal/domain"
	"github.com/prinquiel/messaging-analytics-etl/internal/spill"
)

// Extractor implements domain.Extractor against a domain.SourceClient.
type Extractor struct {
	client              domain.SourceClient
	pageSize            int
	maxChatMessageChats int
	heartbeatEveryPages int
	spillDir            string
	logger              *slog.Logger
}

// New builds an Extractor. pageSize is used as given; config validation
// rejects a MAX_PAGE_SIZE above the API's 250 cap.
func New(client domain.SourceClient, pageSize, maxChatMessageChats, heartbeatEveryPages int, spillDir string, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		client:              client,
		pageSize:            pageSize,
		maxChatMessageChats: maxChatMessageChats,
		heartbeatEveryPages: heartbeatEveryPages,
		spillDir:            spillDir,
		logger:              logger,
	}
}

// Run performs the health check, the fixed-order global sweep, and
// the bounded per-chat message sweep, streaming every item into the
// run's raw spill file (§4.4).
func (e *Extractor) Run(ctx domain.Context, runID string, heartbeat domain.HeartbeatFunc) (domain.ExtractResult, error) {
	if err := e.client.HealthCheck(ctx); err != nil {
		return domain.ExtractResult{}, err
	}

	path := spill.RawPath(e.spillDir, runID)
	w, err := spill.NewWriter(path)
	if err != nil {
		return domain.ExtractResult{}, fmt.Errorf("op=extract.Extractor.Run: %w", err)
	}
	defer w.Close()

	it := sourceapi.NewPageIterator(e.client, e.pageSize)

	var rowCount int
	var pagesSinceBeat int
	chatIDs := make([]int64, 0, e.maxChatMessageChats)

	for _, resource := range domain.FixedResourceOrder {
		endpoint, ok := sourceapi.EndpointForResource(resource)
		if !ok {
			return domain.ExtractResult{}, fmt.Errorf("op=extract.Extractor.Run: no endpoint for resource %s", resource)
		}

		res := resource
		_, err := it.Walk(ctx, endpoint, false, func(p sourceapi.Page) error {
			for _, raw := range p.Items {
				if err := w.WriteRecord(res, raw); err != nil {
					return fmt.Errorf("op=extract.Extractor.Run resource=%s: %w", res, err)
				}
				rowCount++
				if res == domain.ResourceChats && len(chatIDs) < e.maxChatMessageChats {
					var chat domain.ChatRecord
					if err := unmarshalInto(raw, &chat); err == nil {
						chatIDs = append(chatIDs, chat.ID)
					}
				}
			}
			pagesSinceBeat++
			if pagesSinceBeat >= e.heartbeatEveryPages {
				heartbeat(ctx, fmt.Sprintf("resource=%s page=%d total_rows=%d", res, p.Number, rowCount))
				pagesSinceBeat = 0
			}
			return nil
		})
		if err != nil {
			return domain.ExtractResult{}, fmt.Errorf("op=extract.Extractor.Run resource=%s: %w", resource, err)
		}
	}

	for _, chatID := range chatIDs {
		endpoint := sourceapi.ChatMessagesEndpoint(chatID)
		skipped, err := it.Walk(ctx, endpoint, true, func(p sourceapi.Page) error {
			for _, raw := range p.Items {
				if err := w.WriteRecord(domain.ResourceChatMessages, raw); err != nil {
					return fmt.Errorf("op=extract.Extractor.Run chat_messages chat=%d: %w", chatID, err)
				}
				rowCount++
			}
			pagesSinceBeat++
			if pagesSinceBeat >= e.heartbeatEveryPages {
				heartbeat(ctx, fmt.Sprintf("resource=chat_messages chat=%d page=%d total_rows=%d", chatID, p.Number, rowCount))
				pagesSinceBeat = 0
			}
			return nil
		})
		if err != nil {
			// The per-chat sweep is best-effort by page, but a full
			// endpoint failure (e.g. page 1 of this chat) still isn't
			// fatal to the activity: the global /messages sweep is
			// already authoritative (§4.2).
			e.logger.Warn("per-chat message sweep failed, skipping chat", slog.Int64("chat_id", chatID), slog.String("err", err.Error()))
			continue
		}
		for _, page := range skipped {
			e.logger.Warn("per-chat message sweep page skipped", slog.Int64("chat_id", chatID), slog.Int("page", page))
		}
	}

	if err := w.Flush(); err != nil {
		return domain.ExtractResult{}, fmt.Errorf("op=extract.Extractor.Run: %w", err)
	}

	return domain.ExtractResult{RunID: runID, RawPath: path, RowCount: rowCount}, nil
}

var _ domain.Extractor = (*Extractor)(nil)
