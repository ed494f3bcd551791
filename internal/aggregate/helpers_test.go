package aggregate

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/prinquiel/messaging-analytics-etl/internal/domain"
)

func jsonMarshal(v any) ([]byte, error) { return json.Marshal(v) }

func ptrFloat(v float64) *float64 { return &v }
func ptrStr(v string) *string     { return &v }

func marketplaceItem(sellerID, chatID int64, categoryID *int64, price *float64, status, createdAt string, soldAt *string) domain.MarketplaceItemRecord {
	return domain.MarketplaceItemRecord{
		SellerID:   sellerID,
		ChatID:     chatID,
		CategoryID: categoryID,
		Price:      price,
		Status:     status,
		CreatedAt:  createdAt,
		SoldAt:     soldAt,
	}
}

func loadTransformed(t *testing.T, path string) domain.TransformedOutput {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var out domain.TransformedOutput
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	return out
}
