package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/trogers1052/item-price-sync/internal/models"
)

// ErrItemNotFound is returned when an item id or market hash name is unknown
var ErrItemNotFound = errors.New("item not found")

// CreateItem adds an item, or refreshes name and tracking flag when the
// market hash name already exists
func (db *DB) CreateItem(ctx context.Context, item *models.Item) error {
	query := `
		INSERT INTO items (name, market_hash_name, tracked, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (market_hash_name) DO UPDATE SET
			name = EXCLUDED.name,
			tracked = EXCLUDED.tracked,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`
	now := time.Now()
	err := db.conn.QueryRowContext(ctx, query,
		item.Name, item.MarketHashName, item.Tracked, now, now,
	).Scan(&item.ID, &item.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create item: %w", err)
	}
	item.UpdatedAt = now
	return nil
}

// GetItem retrieves an item by id
func (db *DB) GetItem(ctx context.Context, id int64) (*models.Item, error) {
	query := `
		SELECT id, name, market_hash_name, tracked, created_at, updated_at
		FROM items
		WHERE id = $1
	`
	var item models.Item
	err := db.conn.QueryRowContext(ctx, query, id).Scan(
		&item.ID, &item.Name, &item.MarketHashName, &item.Tracked, &item.CreatedAt, &item.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %d", ErrItemNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return &item, nil
}

// ListTrackedItems returns every item the periodic refresh should cover
func (db *DB) ListTrackedItems(ctx context.Context) ([]*models.Item, error) {
	query := `
		SELECT id, name, market_hash_name, tracked, created_at, updated_at
		FROM items
		WHERE tracked = true
		ORDER BY id ASC
	`
	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracked items: %w", err)
	}
	defer rows.Close()

	var items []*models.Item
	for rows.Next() {
		var item models.Item
		if err := rows.Scan(
			&item.ID, &item.Name, &item.MarketHashName, &item.Tracked, &item.CreatedAt, &item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tracked items: %w", err)
	}
	return items, nil
}

// SetItemTracked toggles whether an item is included in periodic refreshes
func (db *DB) SetItemTracked(ctx context.Context, id int64, tracked bool) error {
	query := `UPDATE items SET tracked = $2, updated_at = $3 WHERE id = $1`
	result, err := db.conn.ExecContext(ctx, query, id, tracked, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %d", ErrItemNotFound, id)
	}
	return nil
}
