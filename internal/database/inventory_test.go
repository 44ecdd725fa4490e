package database

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trogers1052/item-price-sync/internal/ledger"
	"github.com/trogers1052/item-price-sync/internal/models"
)

func sale(entryID, quantity int64) *models.StockTransaction {
	return &models.StockTransaction{
		InventoryEntryID: entryID,
		Kind:             models.TransactionKindSale,
		Quantity:         quantity,
		Price:            decimal.RequireFromString("12.17"),
		ExecutedAt:       time.Now(),
	}
}

func purchase(entryID, quantity int64) *models.StockTransaction {
	t := sale(entryID, quantity)
	t.Kind = models.TransactionKindPurchase
	return t
}

func TestInventoryRepository(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	testDB := SetupTestDB(t)
	defer testDB.Cleanup(t)
	ctx := context.Background()

	t.Run("CreateInventoryEntry books the opening quantity", func(t *testing.T) {
		testDB.TruncateAll(t)
		item := testDB.createTestItem(t, "Glove Case")

		entry := testDB.createTestEntry(t, item.ID, 5)
		assert.NotZero(t, entry.ID)

		balance, err := testDB.LedgerBalance(ctx, entry.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(5), balance)
	})

	t.Run("CreateInventoryEntry rejects a second entry for the same user and item", func(t *testing.T) {
		testDB.TruncateAll(t)
		item := testDB.createTestItem(t, "Glove Case")
		testDB.createTestEntry(t, item.ID, 1)

		dup := &models.InventoryEntry{ItemID: item.ID, UserID: "user-1", QuantityOnHand: 2}
		err := testDB.CreateInventoryEntry(ctx, dup, decimal.Zero)
		assert.ErrorIs(t, err, ErrInventoryEntryExists)
	})

	t.Run("sale with insufficient stock changes nothing", func(t *testing.T) {
		testDB.TruncateAll(t)
		item := testDB.createTestItem(t, "Glove Case")
		entry := testDB.createTestEntry(t, item.ID, 3)

		_, err := testDB.ApplyStockTransaction(ctx, sale(entry.ID, 5))
		assert.ErrorIs(t, err, ledger.ErrInsufficientStock)

		current, err := testDB.GetInventoryEntry(ctx, entry.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(3), current.QuantityOnHand)

		rows, err := testDB.ListStockTransactions(ctx, entry.ID, 10)
		require.NoError(t, err)
		assert.Len(t, rows, 1, "only the opening purchase should exist")
	})

	t.Run("sale decrements and appends one row", func(t *testing.T) {
		testDB.TruncateAll(t)
		item := testDB.createTestItem(t, "Glove Case")
		entry := testDB.createTestEntry(t, item.ID, 5)

		tx := sale(entry.ID, 2)
		updated, err := testDB.ApplyStockTransaction(ctx, tx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), updated.QuantityOnHand)
		assert.NotZero(t, tx.ID)

		rows, err := testDB.ListStockTransactions(ctx, entry.ID, 10)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, models.TransactionKindSale, rows[0].Kind)
		assert.Equal(t, int64(2), rows[0].Quantity)
	})

	t.Run("purchase increments", func(t *testing.T) {
		testDB.TruncateAll(t)
		item := testDB.createTestItem(t, "Glove Case")
		entry := testDB.createTestEntry(t, item.ID, 0)

		updated, err := testDB.ApplyStockTransaction(ctx, purchase(entry.ID, 4))
		require.NoError(t, err)
		assert.Equal(t, int64(4), updated.QuantityOnHand)
	})

	t.Run("unknown entry is NotFound for both kinds", func(t *testing.T) {
		testDB.TruncateAll(t)

		_, err := testDB.ApplyStockTransaction(ctx, sale(4242, 1))
		assert.ErrorIs(t, err, ledger.ErrNotFound)
		assert.False(t, errors.Is(err, ledger.ErrInsufficientStock))

		_, err = testDB.ApplyStockTransaction(ctx, purchase(4242, 1))
		assert.ErrorIs(t, err, ledger.ErrNotFound)

		_, err = testDB.GetInventoryEntry(ctx, 4242)
		assert.ErrorIs(t, err, ledger.ErrNotFound)
	})

	t.Run("failed insert rolls the quantity back", func(t *testing.T) {
		testDB.TruncateAll(t)
		item := testDB.createTestItem(t, "Glove Case")
		entry := testDB.createTestEntry(t, item.ID, 5)

		// a zero quantity passes the update but violates the ledger CHECK
		bad := sale(entry.ID, 0)
		_, err := testDB.ApplyStockTransaction(ctx, bad)
		require.Error(t, err)

		current, err := testDB.GetInventoryEntry(ctx, entry.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(5), current.QuantityOnHand)
	})

	t.Run("concurrent sales never oversell", func(t *testing.T) {
		testDB.TruncateAll(t)
		item := testDB.createTestItem(t, "Glove Case")
		entry := testDB.createTestEntry(t, item.ID, 10)

		var wg sync.WaitGroup
		var mu sync.Mutex
		succeeded := 0
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := testDB.ApplyStockTransaction(ctx, sale(entry.ID, 1))
				if err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
					return
				}
				assert.ErrorIs(t, err, ledger.ErrInsufficientStock)
			}()
		}
		wg.Wait()

		assert.Equal(t, 10, succeeded)

		current, err := testDB.GetInventoryEntry(ctx, entry.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), current.QuantityOnHand)

		balance, err := testDB.LedgerBalance(ctx, entry.ID)
		require.NoError(t, err)
		assert.Equal(t, current.QuantityOnHand, balance)
	})

	t.Run("ledger balance tracks mixed activity", func(t *testing.T) {
		testDB.TruncateAll(t)
		item := testDB.createTestItem(t, "Glove Case")
		entry := testDB.createTestEntry(t, item.ID, 2)

		steps := []*models.StockTransaction{
			purchase(entry.ID, 3),
			sale(entry.ID, 4),
			purchase(entry.ID, 10),
			sale(entry.ID, 1),
		}
		for _, step := range steps {
			_, err := testDB.ApplyStockTransaction(ctx, step)
			require.NoError(t, err)
		}

		current, err := testDB.GetInventoryEntry(ctx, entry.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(10), current.QuantityOnHand)

		balance, err := testDB.LedgerBalance(ctx, entry.ID)
		require.NoError(t, err)
		assert.Equal(t, current.QuantityOnHand, balance)
	})
}
