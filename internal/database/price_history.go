package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/trogers1052/item-price-sync/internal/ledger"
	"github.com/trogers1052/item-price-sync/internal/models"
)

// RecordPrice appends a price history row. Rows are never updated.
func (db *DB) RecordPrice(ctx context.Context, p *models.PriceHistoryRecord) error {
	if p.Price.IsNegative() {
		return fmt.Errorf("failed to record price: negative price %s", p.Price)
	}

	query := `
		INSERT INTO price_history (item_id, price, recorded_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`
	err := db.conn.QueryRowContext(ctx, query, p.ItemID, p.Price, p.RecordedAt).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("failed to record price for item %d: %w", p.ItemID, err)
	}
	return nil
}

// GetPriceHistory retrieves the most recent price records for an item, newest first
func (db *DB) GetPriceHistory(ctx context.Context, itemID int64, limit int) ([]*models.PriceHistoryRecord, error) {
	query := `
		SELECT id, item_id, price, recorded_at
		FROM price_history
		WHERE item_id = $1
		ORDER BY recorded_at DESC, id DESC
		LIMIT $2
	`
	rows, err := db.conn.QueryContext(ctx, query, itemID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get price history: %w", err)
	}
	defer rows.Close()

	var records []*models.PriceHistoryRecord
	for rows.Next() {
		var p models.PriceHistoryRecord
		if err := rows.Scan(&p.ID, &p.ItemID, &p.Price, &p.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan price history: %w", err)
		}
		records = append(records, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate price history: %w", err)
	}
	return records, nil
}

// LatestPrice retrieves the most recent price record for an item
func (db *DB) LatestPrice(ctx context.Context, itemID int64) (*models.PriceHistoryRecord, error) {
	query := `
		SELECT id, item_id, price, recorded_at
		FROM price_history
		WHERE item_id = $1
		ORDER BY recorded_at DESC, id DESC
		LIMIT 1
	`
	var p models.PriceHistoryRecord
	err := db.conn.QueryRowContext(ctx, query, itemID).Scan(&p.ID, &p.ItemID, &p.Price, &p.RecordedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: item %d", ledger.ErrPriceUnavailable, itemID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest price: %w", err)
	}
	return &p, nil
}
