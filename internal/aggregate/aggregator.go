// Package aggregate implements the Aggregator Engine activity (§4.5):
// a single-pass, order-insensitive consumer of the raw spill that
// produces every aggregate table in §3.2.
package aggregate

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/prinquiel/messaging-analytics-etl/internal/domain"
)

type userInfo struct {
	username  string
	isActive  bool
	createdAt time.Time
}

type chatInfo struct {
	name      *string
	chatType  string
	createdAt time.Time
}

type userAgg struct {
	messageCount int
	chatSet      map[int64]struct{}
	lastSentAt   string
}

type chatAgg struct {
	messageCount int
	senderSet    map[int64]struct{}
	firstSentAt  string
	lastSentAt   string
}

type dateAgg struct {
	messageCount int
	userSet      map[int64]struct{}
	chatSet      map[int64]struct{}
	private      int
	group        int
}

type weekdayAgg struct {
	messageCount int
	userSet      map[int64]struct{}
	chatSet      map[int64]struct{}
}

type sellerAgg struct {
	listed            int
	active            int
	sold              int
	listingPriceSum   float64
	listingPriceCount int
	soldPriceSum      float64
}

type chatMarketAgg struct {
	total  int
	active int
	sold   int
}

type dateMarketAgg struct {
	itemsListed       int
	itemsSold         int
	listingPriceSum   float64
	listingPriceCount int
}

type categoryAgg struct {
	total             int
	active            int
	sold              int
	cancelled         int
	priceSum          float64
	priceCount        int
}

// Aggregator implements domain.Transformer.
type Aggregator struct {
	heartbeatEveryRows int
	logger             *slog.Logger
}

// New builds an Aggregator.
func New(heartbeatEveryRows int, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{heartbeatEveryRows: heartbeatEveryRows, logger: logger}
}

// state holds all of the per-run accumulators (§4.5). It is
// single-threaded: one instance backs one Run call.
type state struct {
	users map[int64]userInfo
	chats map[int64]chatInfo

	perUser    map[int64]*userAgg
	perChat    map[int64]*chatAgg
	perDate    map[string]*dateAgg
	perHour    [24]int
	perWeekday [7]*weekdayAgg
	perMsgType map[string]int

	seenMessageKeys map[string]struct{}

	marketplaceTotalItems     int
	marketplaceTotalsByStatus map[string]int
	marketplaceRevenue        float64
	marketplacePriceSum       float64
	marketplacePriceCount     int

	perSeller              map[int64]*sellerAgg
	perChatMarketplace     map[int64]*chatMarketAgg
	perDateMarketplace     map[string]*dateMarketAgg
	categoryNameByID       map[int64]string
	perCategoryMarketplace map[int64]*categoryAgg
	perCategorySellers     map[int64]int

	rowCount int
}

func newState() *state {
	s := &state{
		users:                     make(map[int64]userInfo),
		chats:                     make(map[int64]chatInfo),
		perUser:                   make(map[int64]*userAgg),
		perChat:                   make(map[int64]*chatAgg),
		perDate:                   make(map[string]*dateAgg),
		perMsgType:                make(map[string]int),
		seenMessageKeys:           make(map[string]struct{}),
		marketplaceTotalsByStatus: make(map[string]int),
		perSeller:                 make(map[int64]*sellerAgg),
		perChatMarketplace:        make(map[int64]*chatMarketAgg),
		perDateMarketplace:        make(map[string]*dateMarketAgg),
		categoryNameByID:          make(map[int64]string),
		perCategoryMarketplace:    make(map[int64]*categoryAgg),
		perCategorySellers:        make(map[int64]int),
	}
	for i := range s.perWeekday {
		s.perWeekday[i] = &weekdayAgg{userSet: make(map[int64]struct{}), chatSet: make(map[int64]struct{})}
	}
	return s
}

func (s *state) dispatch(rec domain.SpillRecord) error {
	switch rec.Resource {
	case domain.ResourceUsers:
		return s.onUser(rec.Data)
	case domain.ResourceChats:
		return s.onChat(rec.Data)
	case domain.ResourceMessages, domain.ResourceChatMessages:
		return s.onMessage(rec.Data, rec.Resource == domain.ResourceChatMessages)
	case domain.ResourceMarketplaceItems:
		return s.onMarketplaceItem(rec.Data)
	case domain.ResourceCategories:
		return s.onCategory(rec.Data)
	case domain.ResourceSellers:
		return s.onSeller(rec.Data)
	default:
		return nil
	}
}

func (s *state) onUser(raw []byte) error {
	var u domain.UserRecord
	if err := unmarshal(raw, &u); err != nil {
		return fmt.Errorf("op=aggregate.onUser: %w", err)
	}
	s.users[u.ID] = userInfo{username: u.Username, isActive: u.IsActive, createdAt: u.CreatedAt}
	if _, ok := s.perUser[u.ID]; !ok {
		s.perUser[u.ID] = &userAgg{chatSet: make(map[int64]struct{})}
	}
	return nil
}

func (s *state) onChat(raw []byte) error {
	var c domain.ChatRecord
	if err := unmarshal(raw, &c); err != nil {
		return fmt.Errorf("op=aggregate.onChat: %w", err)
	}
	s.chats[c.ID] = chatInfo{name: c.Name, chatType: c.ChatType, createdAt: c.CreatedAt}
	if _, ok := s.perChat[c.ID]; !ok {
		s.perChat[c.ID] = &chatAgg{senderSet: make(map[int64]struct{})}
	}
	return nil
}

func (s *state) onMessage(raw []byte, fromChatSweep bool) error {
	var m domain.MessageRecord
	if err := unmarshal(raw, &m); err != nil {
		return fmt.Errorf("op=aggregate.onMessage: %w", err)
	}

	if fromChatSweep {
		key := fmt.Sprintf("%d|%d|%s", m.SenderID, m.ChatID, m.SentAtRaw)
		if _, seen := s.seenMessageKeys[key]; seen {
			return nil
		}
		s.seenMessageKeys[key] = struct{}{}
	} else {
		key := fmt.Sprintf("%d|%d|%s", m.SenderID, m.ChatID, m.SentAtRaw)
		s.seenMessageKeys[key] = struct{}{}
	}

	ua, ok := s.perUser[m.SenderID]
	if !ok {
		ua = &userAgg{chatSet: make(map[int64]struct{})}
		s.perUser[m.SenderID] = ua
	}
	ua.messageCount++
	ua.chatSet[m.ChatID] = struct{}{}
	if m.SentAtRaw > ua.lastSentAt {
		ua.lastSentAt = m.SentAtRaw
	}

	ca, ok := s.perChat[m.ChatID]
	if !ok {
		ca = &chatAgg{senderSet: make(map[int64]struct{})}
		s.perChat[m.ChatID] = ca
	}
	ca.messageCount++
	ca.senderSet[m.SenderID] = struct{}{}
	if ca.firstSentAt == "" || m.SentAtRaw < ca.firstSentAt {
		ca.firstSentAt = m.SentAtRaw
	}
	if m.SentAtRaw > ca.lastSentAt {
		ca.lastSentAt = m.SentAtRaw
	}

	if dateKey, ok := m.DateKey(); ok {
		da, ok := s.perDate[dateKey]
		if !ok {
			da = &dateAgg{userSet: make(map[int64]struct{}), chatSet: make(map[int64]struct{})}
			s.perDate[dateKey] = da
		}
		da.messageCount++
		da.userSet[m.SenderID] = struct{}{}
		da.chatSet[m.ChatID] = struct{}{}
		if chat, ok := s.chats[m.ChatID]; ok && chat.chatType == "group" {
			da.group++
		} else {
			da.private++
		}
	}

	if hour, ok := m.Hour(); ok {
		s.perHour[hour]++
	}

	if sentAt, err := m.SentAt(); err == nil {
		wd := (int(sentAt.Weekday()) + 6) % 7
		wa := s.perWeekday[wd]
		wa.messageCount++
		wa.userSet[m.SenderID] = struct{}{}
		wa.chatSet[m.ChatID] = struct{}{}
	}

	s.perMsgType[m.MessageTypeOrDefault()]++
	return nil
}

func (s *state) onMarketplaceItem(raw []byte) error {
	var item domain.MarketplaceItemRecord
	if err := unmarshal(raw, &item); err != nil {
		return fmt.Errorf("op=aggregate.onMarketplaceItem: %w", err)
	}

	s.marketplaceTotalItems++
	s.marketplaceTotalsByStatus[item.Status]++
	if item.Price != nil {
		s.marketplacePriceSum += *item.Price
		s.marketplacePriceCount++
		if item.Status == domain.ItemStatusSold {
			s.marketplaceRevenue += *item.Price
		}
	}

	seller, ok := s.perSeller[item.SellerID]
	if !ok {
		seller = &sellerAgg{}
		s.perSeller[item.SellerID] = seller
	}
	seller.listed++
	switch item.Status {
	case domain.ItemStatusActive:
		seller.active++
	case domain.ItemStatusSold:
		seller.sold++
	}
	if item.Price != nil {
		seller.listingPriceSum += *item.Price
		seller.listingPriceCount++
		if item.Status == domain.ItemStatusSold {
			seller.soldPriceSum += *item.Price
		}
	}

	chatM, ok := s.perChatMarketplace[item.ChatID]
	if !ok {
		chatM = &chatMarketAgg{}
		s.perChatMarketplace[item.ChatID] = chatM
	}
	chatM.total++
	switch item.Status {
	case domain.ItemStatusActive:
		chatM.active++
	case domain.ItemStatusSold:
		chatM.sold++
	}

	if dateKey, ok := dateKeyFromISO(item.CreatedAt); ok {
		dm, ok := s.perDateMarketplace[dateKey]
		if !ok {
			dm = &dateMarketAgg{}
			s.perDateMarketplace[dateKey] = dm
		}
		dm.itemsListed++
		if item.Price != nil {
			dm.listingPriceSum += *item.Price
			dm.listingPriceCount++
		}
	}
	if item.SoldAt != nil {
		if dateKey, ok := dateKeyFromISO(*item.SoldAt); ok {
			dm, ok := s.perDateMarketplace[dateKey]
			if !ok {
				dm = &dateMarketAgg{}
				s.perDateMarketplace[dateKey] = dm
			}
			dm.itemsSold++
		}
	}

	if item.CategoryID != nil {
		cat, ok := s.perCategoryMarketplace[*item.CategoryID]
		if !ok {
			cat = &categoryAgg{}
			s.perCategoryMarketplace[*item.CategoryID] = cat
		}
		cat.total++
		switch item.Status {
		case domain.ItemStatusActive:
			cat.active++
		case domain.ItemStatusSold:
			cat.sold++
		case domain.ItemStatusCancelled:
			cat.cancelled++
		}
		if item.Price != nil {
			cat.priceSum += *item.Price
			cat.priceCount++
		}
	}
	return nil
}

func (s *state) onCategory(raw []byte) error {
	var c domain.CategoryRecord
	if err := unmarshal(raw, &c); err != nil {
		return fmt.Errorf("op=aggregate.onCategory: %w", err)
	}
	s.categoryNameByID[c.ID] = c.Name
	return nil
}

func (s *state) onSeller(raw []byte) error {
	var sel domain.SellerRecord
	if err := unmarshal(raw, &sel); err != nil {
		return fmt.Errorf("op=aggregate.onSeller: %w", err)
	}
	for _, catID := range sel.CategoryIDs {
		s.perCategorySellers[catID]++
	}
	return nil
}

// dateKeyFromISO extracts the calendar-date prefix from a raw
// timestamp/date string, the same cheap way MessageRecord.DateKey
// does, for marketplace created_at/sold_at fields.
func dateKeyFromISO(s string) (string, bool) {
	if len(s) < 10 {
		return "", false
	}
	return s[:10], true
}
