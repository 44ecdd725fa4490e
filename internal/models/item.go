package models

import "time"

// Item represents a tradable item whose market price we track
type Item struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	MarketHashName string    `json:"market_hash_name"`
	Tracked        bool      `json:"tracked"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
