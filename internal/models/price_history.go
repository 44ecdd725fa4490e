package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceHistoryRecord is one observed market price for an item.
// Rows are append-only.
type PriceHistoryRecord struct {
	ID         int64           `json:"id"`
	ItemID     int64           `json:"item_id"`
	Price      decimal.Decimal `json:"price"`
	RecordedAt time.Time       `json:"timestamp"`
}
