package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Stock transaction kind constants
const (
	TransactionKindPurchase = "PURCHASE"
	TransactionKindSale     = "SALE"
)

// InventoryEntry is a user's on-hand stock of one item
type InventoryEntry struct {
	ID             int64     `json:"id"`
	ItemID         int64     `json:"item_id"`
	UserID         string    `json:"user_id"`
	QuantityOnHand int64     `json:"quantity_on_hand"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// StockTransaction is an immutable ledger row for a committed sale or purchase
type StockTransaction struct {
	ID               int64           `json:"id"`
	InventoryEntryID int64           `json:"inventory_entry_id"`
	Kind             string          `json:"kind"`
	Quantity         int64           `json:"quantity"`
	Price            decimal.Decimal `json:"price"`
	ExecutedAt       time.Time       `json:"timestamp"`
	CreatedAt        time.Time       `json:"created_at"`
}

// SignedQuantity returns the quantity with the sign it contributes to the
// on-hand balance: positive for purchases, negative for sales.
func (t *StockTransaction) SignedQuantity() int64 {
	if t.Kind == TransactionKindSale {
		return -t.Quantity
	}
	return t.Quantity
}
