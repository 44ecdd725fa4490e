package models

import "time"

// PriceRefreshRequest asks the price consumer to fetch and record the
// current market price of one item. It only ever lives on the topic.
type PriceRefreshRequest struct {
	ItemID         int64     `json:"item_id"`
	MarketHashName string    `json:"market_hash_name"`
	RequestID      string    `json:"request_id,omitempty"`
	RequestedAt    time.Time `json:"requested_at"`
}
