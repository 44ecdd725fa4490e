package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/trogers1052/item-price-sync/internal/ledger"
	"github.com/trogers1052/item-price-sync/internal/models"
)

// postgres error codes we classify
const (
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
	pqCheckViolation       = "23514"
	pqUniqueViolation      = "23505"

	quantityCheckConstraint = "inventory_entries_quantity_on_hand_check"
)

// ErrInventoryEntryExists is returned when the user already holds an entry for the item
var ErrInventoryEntryExists = errors.New("inventory entry already exists")

const inventoryColumns = `id, item_id, user_id, quantity_on_hand, created_at, updated_at`

// CreateInventoryEntry adds an inventory entry. A positive opening quantity
// is booked as a PURCHASE at openingPrice in the same transaction so the
// ledger always sums to the on-hand quantity.
func (db *DB) CreateInventoryEntry(ctx context.Context, e *models.InventoryEntry, openingPrice decimal.Decimal) error {
	if e.QuantityOnHand < 0 {
		return fmt.Errorf("failed to create inventory entry: %w", ledger.ErrInvalidQuantity)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	err = tx.QueryRowContext(ctx, `
		INSERT INTO inventory_entries (item_id, user_id, quantity_on_hand, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, e.ItemID, e.UserID, e.QuantityOnHand, now, now).Scan(&e.ID)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return fmt.Errorf("%w: item %d for user %s", ErrInventoryEntryExists, e.ItemID, e.UserID)
	}
	if err != nil {
		return fmt.Errorf("failed to create inventory entry: %w", err)
	}

	if e.QuantityOnHand > 0 {
		opening := &models.StockTransaction{
			InventoryEntryID: e.ID,
			Kind:             models.TransactionKindPurchase,
			Quantity:         e.QuantityOnHand,
			Price:            openingPrice,
			ExecutedAt:       now,
		}
		if err := insertStockTransaction(ctx, tx, opening); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	e.CreatedAt = now
	e.UpdatedAt = now
	return nil
}

// GetInventoryEntry retrieves an inventory entry by id
func (db *DB) GetInventoryEntry(ctx context.Context, id int64) (*models.InventoryEntry, error) {
	query := `SELECT ` + inventoryColumns + ` FROM inventory_entries WHERE id = $1`

	var e models.InventoryEntry
	err := db.conn.QueryRowContext(ctx, query, id).Scan(
		&e.ID, &e.ItemID, &e.UserID, &e.QuantityOnHand, &e.CreatedAt, &e.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %d", ledger.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get inventory entry: %w", err)
	}
	return &e, nil
}

// ApplyStockTransaction adjusts quantity_on_hand and appends t to the ledger
// atomically. Sales use a guarded update so concurrent sales can never take
// the quantity below zero.
func (db *DB) ApplyStockTransaction(ctx context.Context, t *models.StockTransaction) (*models.InventoryEntry, error) {
	var query string
	switch t.Kind {
	case models.TransactionKindSale:
		query = `
			UPDATE inventory_entries
			SET quantity_on_hand = quantity_on_hand - $2, updated_at = $3
			WHERE id = $1 AND quantity_on_hand >= $2
			RETURNING ` + inventoryColumns
	case models.TransactionKindPurchase:
		query = `
			UPDATE inventory_entries
			SET quantity_on_hand = quantity_on_hand + $2, updated_at = $3
			WHERE id = $1
			RETURNING ` + inventoryColumns
	default:
		return nil, fmt.Errorf("unknown stock transaction kind: %s", t.Kind)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", classify(err))
	}
	defer tx.Rollback()

	var e models.InventoryEntry
	err = tx.QueryRowContext(ctx, query, t.InventoryEntryID, t.Quantity, time.Now()).Scan(
		&e.ID, &e.ItemID, &e.UserID, &e.QuantityOnHand, &e.CreatedAt, &e.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, missingOrInsufficient(ctx, tx, t.InventoryEntryID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update inventory entry %d: %w", t.InventoryEntryID, classify(err))
	}

	if err := insertStockTransaction(ctx, tx, t); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit stock transaction: %w", classify(err))
	}
	return &e, nil
}

// missingOrInsufficient explains why the guarded update touched no row
func missingOrInsufficient(ctx context.Context, tx *sql.Tx, id int64) error {
	var exists bool
	err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM inventory_entries WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check inventory entry %d: %w", id, classify(err))
	}
	if !exists {
		return fmt.Errorf("%w: %d", ledger.ErrNotFound, id)
	}
	return fmt.Errorf("%w: inventory entry %d", ledger.ErrInsufficientStock, id)
}

func insertStockTransaction(ctx context.Context, tx *sql.Tx, t *models.StockTransaction) error {
	now := time.Now()
	err := tx.QueryRowContext(ctx, `
		INSERT INTO stock_transactions (inventory_entry_id, kind, quantity, price, executed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, t.InventoryEntryID, t.Kind, t.Quantity, t.Price, t.ExecutedAt, now).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("failed to insert stock transaction: %w", classify(err))
	}
	t.CreatedAt = now
	return nil
}

// ListStockTransactions returns the ledger of an inventory entry, newest first
func (db *DB) ListStockTransactions(ctx context.Context, inventoryEntryID int64, limit int) ([]*models.StockTransaction, error) {
	query := `
		SELECT id, inventory_entry_id, kind, quantity, price, executed_at, created_at
		FROM stock_transactions
		WHERE inventory_entry_id = $1
		ORDER BY executed_at DESC, id DESC
		LIMIT $2
	`
	rows, err := db.conn.QueryContext(ctx, query, inventoryEntryID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*models.StockTransaction
	for rows.Next() {
		var t models.StockTransaction
		if err := rows.Scan(
			&t.ID, &t.InventoryEntryID, &t.Kind, &t.Quantity, &t.Price, &t.ExecutedAt, &t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan stock transaction: %w", err)
		}
		transactions = append(transactions, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stock transactions: %w", err)
	}
	return transactions, nil
}

// LedgerBalance returns the signed sum of all ledger rows for an entry.
// It always equals the entry's quantity_on_hand.
func (db *DB) LedgerBalance(ctx context.Context, inventoryEntryID int64) (int64, error) {
	query := `
		SELECT COALESCE(SUM(CASE WHEN kind = 'SALE' THEN -quantity ELSE quantity END), 0)
		FROM stock_transactions
		WHERE inventory_entry_id = $1
	`
	var balance int64
	if err := db.conn.QueryRowContext(ctx, query, inventoryEntryID).Scan(&balance); err != nil {
		return 0, fmt.Errorf("failed to sum ledger: %w", err)
	}
	return balance, nil
}

// classify maps postgres concurrency and constraint failures onto ledger errors
func classify(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case pqSerializationFailure, pqDeadlockDetected:
		return fmt.Errorf("%w: %v", ledger.ErrConflict, err)
	case pqCheckViolation:
		if pqErr.Constraint == quantityCheckConstraint {
			return fmt.Errorf("%w: %v", ledger.ErrInsufficientStock, err)
		}
	}
	return err
}
