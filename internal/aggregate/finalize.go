package aggregate

import (
	"sort"
	"time"

	"github.com/prinquiel/messaging-analytics-etl/internal/domain"
)

// finalize converts every accumulator into its §3.2 aggregate rows
// (cardinalities from sets, means from sum/count pairs, top-10
// sellers by items sold descending, money rounded half-even to 2
// decimal places).
func (s *state) finalize(runID string) domain.TransformedOutput {
	out := domain.TransformedOutput{RunID: runID}

	out.UserStatistics = s.finalizeUsers()
	out.ChatStatistics = s.finalizeChats()
	out.DailyMessageStats = s.finalizeDailyMessages()
	out.HourlyMessageStats = s.finalizeHourlyMessages()
	out.WeekdayMessageStats = s.finalizeWeekdayMessages()
	out.MessageTypeSummary = s.finalizeMessageTypes()
	out.MarketplaceStatistics = s.finalizeMarketplace()
	out.TopSellers = s.finalizeTopSellers()
	out.CategoryStatistics = s.finalizeCategories()
	out.SellerStatistics = s.finalizeSellers()
	out.ChatMarketplaceStats = s.finalizeChatMarketplace()
	out.DailyMarketplaceStats = s.finalizeDailyMarketplace()
	out.SellerCategoryStats = s.finalizeSellerCategories()

	return out
}

func (s *state) finalizeUsers() []domain.UserStatistics {
	rows := make([]domain.UserStatistics, 0, len(s.perUser))
	for id, agg := range s.perUser {
		info := s.users[id]
		row := domain.UserStatistics{
			UserID:            id,
			Username:          info.username,
			TotalMessagesSent: agg.messageCount,
			ChatsParticipated: len(agg.chatSet),
			IsActive:          info.isActive,
			CreatedAt:         info.createdAt,
		}
		if t, ok := parseSentAt(agg.lastSentAt); ok {
			row.LastMessageDate = &t
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].UserID < rows[j].UserID })
	return rows
}

func (s *state) finalizeChats() []domain.ChatStatistics {
	rows := make([]domain.ChatStatistics, 0, len(s.perChat))
	for id, agg := range s.perChat {
		info := s.chats[id]
		row := domain.ChatStatistics{
			ChatID:        id,
			ChatName:      info.name,
			ChatType:      info.chatType,
			TotalMessages: agg.messageCount,
			UniqueSenders: len(agg.senderSet),
			CreatedAt:     info.createdAt,
		}
		if t, ok := parseSentAt(agg.firstSentAt); ok {
			row.FirstMessageDate = &t
		}
		if t, ok := parseSentAt(agg.lastSentAt); ok {
			row.LastMessageDate = &t
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ChatID < rows[j].ChatID })
	return rows
}

func (s *state) finalizeDailyMessages() []domain.DailyMessageStats {
	rows := make([]domain.DailyMessageStats, 0, len(s.perDate))
	for date, agg := range s.perDate {
		rows = append(rows, domain.DailyMessageStats{
			Date:            date,
			TotalMessages:   agg.messageCount,
			UniqueUsers:     len(agg.userSet),
			UniqueChats:     len(agg.chatSet),
			PrivateMessages: agg.private,
			GroupMessages:   agg.group,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Date < rows[j].Date })
	return rows
}

func (s *state) finalizeHourlyMessages() []domain.HourlyMessageStats {
	rows := make([]domain.HourlyMessageStats, 0, 24)
	for h := 0; h < 24; h++ {
		if s.perHour[h] == 0 {
			continue
		}
		rows = append(rows, domain.HourlyMessageStats{Hour: h, TotalMessages: s.perHour[h]})
	}
	return rows
}

func (s *state) finalizeWeekdayMessages() []domain.WeekdayMessageStats {
	rows := make([]domain.WeekdayMessageStats, 0, 7)
	for wd := 0; wd < 7; wd++ {
		agg := s.perWeekday[wd]
		if agg.messageCount == 0 {
			continue
		}
		rows = append(rows, domain.WeekdayMessageStats{
			Weekday:       wd,
			WeekdayName:   domain.WeekdayNames[wd],
			TotalMessages: agg.messageCount,
			UniqueUsers:   len(agg.userSet),
			UniqueChats:   len(agg.chatSet),
		})
	}
	return rows
}

func (s *state) finalizeMessageTypes() []domain.MessageTypeSummary {
	rows := make([]domain.MessageTypeSummary, 0, len(s.perMsgType))
	for msgType, count := range s.perMsgType {
		rows = append(rows, domain.MessageTypeSummary{MessageType: msgType, TotalCount: count})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].MessageType < rows[j].MessageType })
	return rows
}

func (s *state) finalizeMarketplace() domain.MarketplaceStatistics {
	return domain.MarketplaceStatistics{
		TotalItems:     s.marketplaceTotalItems,
		ActiveItems:    s.marketplaceTotalsByStatus[domain.ItemStatusActive],
		SoldItems:      s.marketplaceTotalsByStatus[domain.ItemStatusSold],
		CancelledItems: s.marketplaceTotalsByStatus[domain.ItemStatusCancelled],
		TotalRevenue:   roundMoney(s.marketplaceRevenue),
		AveragePrice:   mean(s.marketplacePriceSum, s.marketplacePriceCount),
	}
}

func (s *state) finalizeTopSellers() []domain.TopSeller {
	rows := make([]domain.TopSeller, 0, len(s.perSeller))
	for id, agg := range s.perSeller {
		rows = append(rows, domain.TopSeller{
			SellerID:     id,
			Username:     s.users[id].username,
			ItemsSold:    agg.sold,
			TotalRevenue: roundMoney(agg.soldPriceSum),
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].ItemsSold != rows[j].ItemsSold {
			return rows[i].ItemsSold > rows[j].ItemsSold
		}
		return rows[i].SellerID < rows[j].SellerID
	})
	if len(rows) > 10 {
		rows = rows[:10]
	}
	return rows
}

func (s *state) finalizeCategories() []domain.CategoryStatistics {
	rows := make([]domain.CategoryStatistics, 0, len(s.perCategoryMarketplace))
	for id, agg := range s.perCategoryMarketplace {
		rows = append(rows, domain.CategoryStatistics{
			CategoryID:     id,
			CategoryName:   s.categoryNameByID[id],
			TotalItems:     agg.total,
			ActiveItems:    agg.active,
			SoldItems:      agg.sold,
			CancelledItems: agg.cancelled,
			AvgPrice:       mean(agg.priceSum, agg.priceCount),
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].CategoryID < rows[j].CategoryID })
	return rows
}

func (s *state) finalizeSellers() []domain.SellerStatistics {
	rows := make([]domain.SellerStatistics, 0, len(s.perSeller))
	for id, agg := range s.perSeller {
		rows = append(rows, domain.SellerStatistics{
			SellerID:         id,
			Username:         s.users[id].username,
			TotalItemsListed: agg.listed,
			ActiveItems:      agg.active,
			SoldItems:        agg.sold,
			AvgListingPrice:  mean(agg.listingPriceSum, agg.listingPriceCount),
			TotalListedValue: roundMoney(agg.listingPriceSum),
			TotalSoldValue:   roundMoney(agg.soldPriceSum),
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].SellerID < rows[j].SellerID })
	return rows
}

func (s *state) finalizeChatMarketplace() []domain.ChatMarketplaceStats {
	rows := make([]domain.ChatMarketplaceStats, 0, len(s.perChatMarketplace))
	for id, agg := range s.perChatMarketplace {
		rows = append(rows, domain.ChatMarketplaceStats{
			ChatID:      id,
			ChatName:    s.chats[id].name,
			TotalItems:  agg.total,
			ActiveItems: agg.active,
			SoldItems:   agg.sold,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ChatID < rows[j].ChatID })
	return rows
}

func (s *state) finalizeDailyMarketplace() []domain.DailyMarketplaceStats {
	rows := make([]domain.DailyMarketplaceStats, 0, len(s.perDateMarketplace))
	for date, agg := range s.perDateMarketplace {
		rows = append(rows, domain.DailyMarketplaceStats{
			Date:            date,
			ItemsListed:     agg.itemsListed,
			ItemsSold:       agg.itemsSold,
			AvgListingPrice: mean(agg.listingPriceSum, agg.listingPriceCount),
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Date < rows[j].Date })
	return rows
}

func (s *state) finalizeSellerCategories() []domain.SellerCategoryStats {
	rows := make([]domain.SellerCategoryStats, 0, len(s.perCategorySellers))
	for id, count := range s.perCategorySellers {
		rows = append(rows, domain.SellerCategoryStats{
			CategoryID:   id,
			CategoryName: s.categoryNameByID[id],
			SellersCount: count,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].CategoryID < rows[j].CategoryID })
	return rows
}

// parseSentAt parses a message's raw sent_at for the *time.Time
// fields on user/chat aggregate rows; unparseable strings are simply
// omitted (nil), matching the lenient spirit of §4.5's timestamp
// handling.
func parseSentAt(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}
